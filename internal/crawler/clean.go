package crawler

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/jaytaylor/html2text"
	"golang.org/x/net/html"

	"github.com/JakeFAU/site-rebuilder/internal/urlnorm"
)

var whitespace = regexp.MustCompile(`\s+`)

// strippedElements never carry content worth rebuilding from.
const strippedElements = "script, style, noscript, template, svg"

// Clean reduces raw markup to the body's structure: scripts, styles, templates, inline SVG
// and comments are removed, event handler, style and data-* attributes are dropped and
// whitespace is collapsed. A non-empty <title> is kept as a leading "<title>…</title>\n".
func Clean(raw string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		return collapse(raw)
	}
	title := collapse(doc.Find("title").First().Text())

	doc.Find(strippedElements).Remove()
	for _, n := range doc.Nodes {
		removeComments(n)
	}
	doc.Find("*").Each(func(_ int, s *goquery.Selection) {
		for _, n := range s.Nodes {
			n.Attr = keepAttrs(n.Attr)
		}
	})

	body := doc.Find("body").First()
	var inner string
	if body.Length() > 0 {
		inner, err = body.Html()
	} else {
		inner, err = doc.Html()
	}
	if err != nil {
		inner = doc.Text()
	}
	inner = collapse(inner)
	if title == "" {
		return inner
	}
	return "<title>" + html.EscapeString(title) + "</title>\n" + inner
}

// VisibleText renders markup as plain text.
func VisibleText(markup string) string {
	text, err := html2text.FromString(markup, html2text.Options{OmitLinks: true})
	if err != nil {
		doc, derr := goquery.NewDocumentFromReader(strings.NewReader(markup))
		if derr != nil {
			return ""
		}
		return collapse(doc.Text())
	}
	return strings.TrimSpace(text)
}

// ExtractLinks returns the normalized absolute URLs of every a[href] in markup, resolved
// against base, in document order and without duplicates. Fragment-only, mailto:,
// javascript:, tel: and data: links are skipped.
func ExtractLinks(markup string, base *url.URL) []string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil || base == nil {
		return nil
	}
	if href, ok := doc.Find("base[href]").First().Attr("href"); ok {
		if b, err := base.Parse(strings.TrimSpace(href)); err == nil {
			base = b
		}
	}
	seen := make(map[string]struct{})
	var out []string
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		if skipHref(href) {
			return
		}
		abs, err := urlnorm.Resolve(base, href)
		if err != nil {
			return
		}
		if _, dup := seen[abs]; dup {
			return
		}
		seen[abs] = struct{}{}
		out = append(out, abs)
	})
	return out
}

func skipHref(href string) bool {
	h := strings.ToLower(strings.TrimSpace(href))
	if h == "" || strings.HasPrefix(h, "#") {
		return true
	}
	for _, scheme := range []string{"mailto:", "javascript:", "tel:", "data:"} {
		if strings.HasPrefix(h, scheme) {
			return true
		}
	}
	return false
}

func removeComments(n *html.Node) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		if c.Type == html.CommentNode {
			n.RemoveChild(c)
		} else {
			removeComments(c)
		}
		c = next
	}
}

func keepAttrs(attrs []html.Attribute) []html.Attribute {
	kept := attrs[:0]
	for _, a := range attrs {
		key := strings.ToLower(a.Key)
		if strings.HasPrefix(key, "on") || key == "style" || strings.HasPrefix(key, "data-") {
			continue
		}
		kept = append(kept, a)
	}
	return kept
}

func collapse(s string) string {
	return strings.TrimSpace(whitespace.ReplaceAllString(s, " "))
}
