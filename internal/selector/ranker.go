package selector

import (
	"net/url"
	"strings"

	"github.com/JakeFAU/site-rebuilder/internal/crawler"
)

// Ranker scores how important a secondary page looks. Higher is better.
type Ranker interface {
	Score(page crawler.PageRecord) int
}

// RankerFunc adapts a function to Ranker.
type RankerFunc func(page crawler.PageRecord) int

// Score calls f.
func (f RankerFunc) Score(page crawler.PageRecord) int {
	return f(page)
}

// DefaultKeywords is a mixed English/German vocabulary of pages small business sites tend to
// have.
var DefaultKeywords = []string{
	"about", "ueber", "uber", "über", "team",
	"service", "leistung", "angebot", "product", "produkt",
	"contact", "kontakt",
	"pricing", "price", "preise",
	"portfolio", "project", "projekt", "referenz",
	"faq", "shop",
}

// KeywordRanker counts how many of its keywords appear in a page's path or title,
// case-insensitively.
type KeywordRanker struct {
	keywords []string
}

// NewKeywordRanker returns a ranker over keywords, or DefaultKeywords when none are given.
func NewKeywordRanker(keywords ...string) *KeywordRanker {
	if len(keywords) == 0 {
		keywords = DefaultKeywords
	}
	lowered := make([]string, 0, len(keywords))
	for _, k := range keywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			lowered = append(lowered, k)
		}
	}
	return &KeywordRanker{keywords: lowered}
}

// Score implements Ranker.
func (r *KeywordRanker) Score(page crawler.PageRecord) int {
	haystack := strings.ToLower(pagePath(page.URL) + " " + pageTitle(page.HTML))
	score := 0
	for _, k := range r.keywords {
		if strings.Contains(haystack, k) {
			score++
		}
	}
	return score
}

func pagePath(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return u.Path
}

// pageTitle reads the "<title>…</title>" prefix written by crawler.Clean.
func pageTitle(markup string) string {
	const open, closing = "<title>", "</title>"
	if !strings.HasPrefix(markup, open) {
		return ""
	}
	end := strings.Index(markup, closing)
	if end < 0 {
		return ""
	}
	return markup[len(open):end]
}
