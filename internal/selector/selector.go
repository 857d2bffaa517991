// Package selector picks the homepage out of a crawl and chooses the handful of secondary
// pages worth feeding into generation.
package selector

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/site-rebuilder/internal/crawler"
	"github.com/JakeFAU/site-rebuilder/internal/faults"
	"github.com/JakeFAU/site-rebuilder/internal/urlnorm"
)

const (
	// DefaultMaxPages is used when the caller passes a non-positive count.
	DefaultMaxPages = 5
	// MaxPagesCap bounds any requested count.
	MaxPagesCap = 10
)

// navSelectors are tried in order; the first region containing links wins.
var navSelectors = []string{
	"nav",
	"header",
	`[class*="menu"], [class*="nav"]`,
}

// ResolveHomepage finds the homepage of rootURL in pages. Every homepage variant of the root is
// tried first; failing that, any same-site page served from a canonical homepage path is
// accepted. It never substitutes an arbitrary page and returns faults.ErrHomepageNotFound
// instead.
func ResolveHomepage(pages *crawler.PageMap, rootURL string) (crawler.PageRecord, error) {
	variants, err := urlnorm.HomepageVariants(rootURL)
	if err != nil {
		return crawler.PageRecord{}, err
	}
	for _, v := range variants {
		if rec, ok := pages.Get(v); ok {
			return rec, nil
		}
		if n, err := urlnorm.Normalize(v); err == nil {
			if rec, ok := pages.Get(n); ok {
				return rec, nil
			}
		}
	}

	root, err := urlnorm.Parse(rootURL)
	if err != nil {
		return crawler.PageRecord{}, err
	}
	for _, rec := range pages.Records() {
		u, err := url.Parse(rec.URL)
		if err != nil {
			continue
		}
		if urlnorm.SameHost(u, root) && urlnorm.IsHomepagePath(u.Path) {
			return rec, nil
		}
	}
	return crawler.PageRecord{}, fmt.Errorf("%w: %s (%d pages crawled)", faults.ErrHomepageNotFound, rootURL, pages.Len())
}

// SelectTopPages returns the homepage followed by up to maxCount-1 secondary pages.
//
// Links from the homepage's navigation come first, in document order. Remaining slots are
// filled from the other crawled pages ranked by ranker, then by shallower path, then by
// discovery order. Only same-site pages at path depth 0 or 1 that exist in pages are chosen.
// A nil ranker uses the default keyword vocabulary.
func SelectTopPages(pages *crawler.PageMap, rootURL string, maxCount int, ranker Ranker) ([]string, error) {
	if maxCount <= 0 {
		maxCount = DefaultMaxPages
	}
	if maxCount > MaxPagesCap {
		maxCount = MaxPagesCap
	}
	if ranker == nil {
		ranker = NewKeywordRanker()
	}

	home, err := ResolveHomepage(pages, rootURL)
	if err != nil {
		return nil, err
	}
	homeURL, err := url.Parse(home.URL)
	if err != nil {
		return nil, faults.InvalidInput("homepage url %q: %v", home.URL, err)
	}

	selected := []string{home.URL}
	seen := map[string]struct{}{home.URL: {}}
	eligible := func(raw string) bool {
		if _, dup := seen[raw]; dup {
			return false
		}
		u, err := url.Parse(raw)
		if err != nil || !urlnorm.SameHost(u, homeURL) {
			return false
		}
		if urlnorm.IsHomepagePath(u.Path) || urlnorm.PathDepth(raw) > 1 {
			return false
		}
		_, crawled := pages.Get(raw)
		return crawled
	}

	for _, link := range NavLinks(home.HTML, homeURL) {
		if len(selected) >= maxCount {
			return selected, nil
		}
		if eligible(link) {
			selected = append(selected, link)
			seen[link] = struct{}{}
		}
	}

	var candidates []scored
	for _, rec := range pages.Records() {
		if eligible(rec.URL) {
			candidates = append(candidates, scored{url: rec.URL, score: ranker.Score(rec), depth: urlnorm.PathDepth(rec.URL)})
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].depth < candidates[j].depth
	})
	for _, c := range candidates {
		if len(selected) >= maxCount {
			break
		}
		selected = append(selected, c.url)
	}
	return selected, nil
}

type scored struct {
	url   string
	score int
	depth int
}

// NavLinks returns the links of the first navigation region found in markup: a <nav> block,
// else a <header>, else any element whose class mentions a menu or nav.
func NavLinks(markup string, base *url.URL) []string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return nil
	}
	for _, sel := range navSelectors {
		region := doc.Find(sel)
		if region.Find("a[href]").Length() == 0 {
			continue
		}
		var b strings.Builder
		region.Each(func(_ int, s *goquery.Selection) {
			if h, err := goquery.OuterHtml(s); err == nil {
				b.WriteString(h)
			}
		})
		if links := crawler.ExtractLinks(b.String(), base); len(links) > 0 {
			return links
		}
	}
	return nil
}
