// Package urlnorm canonicalizes URLs and derives the stable identifiers used for output paths
// and lock keys. It never touches the network.
package urlnorm

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/JakeFAU/site-rebuilder/internal/faults"
)

var nonAlnum = regexp.MustCompile(`[^a-z0-9]`)

// homepagePaths are the paths a site's front page is commonly served from.
var homepagePaths = []string{"/", "/index", "/index.html", "/index.htm", "/index.php", "/default.aspx"}

// Parse parses raw and requires an absolute http(s) URL with a host.
func Parse(raw string) (*url.URL, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, faults.InvalidInput("empty url")
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return nil, faults.InvalidInput("parse url %q: %v", raw, err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return nil, faults.InvalidInput("url %q is not absolute http(s)", raw)
	}
	if u.Hostname() == "" {
		return nil, faults.InvalidInput("url %q has no host", raw)
	}
	return u, nil
}

// Slugify maps the hostname of raw to a filesystem-safe identifier: lowercased, with every
// non-alphanumeric character replaced by "_". Hosts differing only in punctuation collide
// (foo-bar.com and foo_bar.com both become foo_bar_com).
func Slugify(raw string) (string, error) {
	u, err := Parse(raw)
	if err != nil {
		return "", err
	}
	return nonAlnum.ReplaceAllString(strings.ToLower(u.Hostname()), "_"), nil
}

// Normalize lowercases scheme and host, drops default ports, strips fragment and query and
// defaults an empty path to "/".
func Normalize(raw string) (string, error) {
	u, err := Parse(raw)
	if err != nil {
		return "", err
	}
	return normalizeURL(u), nil
}

func normalizeURL(u *url.URL) string {
	cp := *u
	cp.Scheme = strings.ToLower(cp.Scheme)
	cp.Host = strings.ToLower(cp.Host)
	if cp.Scheme == "http" && strings.HasSuffix(cp.Host, ":80") {
		cp.Host = strings.TrimSuffix(cp.Host, ":80")
	}
	if cp.Scheme == "https" && strings.HasSuffix(cp.Host, ":443") {
		cp.Host = strings.TrimSuffix(cp.Host, ":443")
	}
	cp.Fragment = ""
	cp.RawFragment = ""
	cp.RawQuery = ""
	cp.ForceQuery = false
	cp.User = nil
	if cp.Path == "" {
		cp.Path = "/"
		cp.RawPath = ""
	}
	return cp.String()
}

// Resolve resolves href against base and normalizes the result.
func Resolve(base *url.URL, href string) (string, error) {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return "", faults.InvalidInput("parse href %q: %v", href, err)
	}
	abs := base.ResolveReference(ref)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return "", faults.InvalidInput("href %q is not http(s)", href)
	}
	if abs.Hostname() == "" {
		return "", faults.InvalidInput("href %q has no host", href)
	}
	return normalizeURL(abs), nil
}

// HomepageVariants lists candidate spellings of the homepage of raw: the exact input and its
// trailing-slash toggle, then every combination of scheme, www prefix and common index path,
// each with and without a trailing slash. The result is deduplicated in a stable order.
func HomepageVariants(raw string) ([]string, error) {
	u, err := Parse(raw)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	var out []string
	add := func(candidate string) {
		if _, ok := seen[candidate]; ok {
			return
		}
		seen[candidate] = struct{}{}
		out = append(out, candidate)
	}

	exact := strings.TrimSpace(raw)
	add(exact)
	add(toggleSlash(exact))

	scheme := strings.ToLower(u.Scheme)
	schemes := []string{scheme, alternateScheme(scheme)}
	bare := stripWWW(strings.ToLower(u.Host))
	hosts := []string{"www." + bare, bare}
	for _, s := range schemes {
		for _, h := range hosts {
			for _, p := range homepagePaths {
				candidate := s + "://" + h + p
				add(candidate)
				add(toggleSlash(candidate))
			}
		}
	}
	return out, nil
}

// SameSite compares the hostnames of a and b ignoring case and a leading "www.".
func SameSite(a, b string) bool {
	ua, err := url.Parse(a)
	if err != nil {
		return false
	}
	ub, err := url.Parse(b)
	if err != nil {
		return false
	}
	return SameHost(ua, ub)
}

// SameHost is SameSite for parsed URLs.
func SameHost(a, b *url.URL) bool {
	if a == nil || b == nil || a.Hostname() == "" {
		return false
	}
	return stripWWW(strings.ToLower(a.Hostname())) == stripWWW(strings.ToLower(b.Hostname()))
}

// PathDepth counts the non-empty path segments of raw. "/" has depth 0, "/about" depth 1.
func PathDepth(raw string) int {
	u, err := url.Parse(raw)
	if err != nil {
		return 0
	}
	depth := 0
	for _, seg := range strings.Split(u.Path, "/") {
		if seg != "" {
			depth++
		}
	}
	return depth
}

// IsHomepagePath reports whether p is one of the canonical homepage paths, ignoring a
// trailing slash.
func IsHomepagePath(p string) bool {
	if p == "" || p == "/" {
		return true
	}
	trimmed := strings.TrimSuffix(strings.ToLower(p), "/")
	for _, candidate := range homepagePaths[1:] {
		if trimmed == candidate {
			return true
		}
	}
	return false
}

// SnapshotName derives the per-page file stem from pageURL relative to rootURL: the path and
// query of same-site pages (the whole URL otherwise), with every non-alphanumeric character
// replaced by "_". The homepage maps to "home".
func SnapshotName(rootURL, pageURL string) string {
	rel := pageURL
	page, err := url.Parse(pageURL)
	root, rootErr := url.Parse(rootURL)
	if err == nil && rootErr == nil && SameHost(page, root) {
		rel = strings.TrimPrefix(page.EscapedPath(), "/")
		if page.RawQuery != "" {
			rel += "?" + page.RawQuery
		}
	}
	name := nonAlnum.ReplaceAllString(strings.ToLower(rel), "_")
	if strings.Trim(name, "_") == "" {
		return "home"
	}
	return name
}

func toggleSlash(s string) string {
	if strings.HasSuffix(s, "/") {
		return strings.TrimSuffix(s, "/")
	}
	return s + "/"
}

func alternateScheme(s string) string {
	if s == "https" {
		return "http"
	}
	return "https"
}

func stripWWW(host string) string {
	return strings.TrimPrefix(host, "www.")
}
