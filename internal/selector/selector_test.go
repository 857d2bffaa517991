package selector

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/site-rebuilder/internal/crawler"
	"github.com/JakeFAU/site-rebuilder/internal/faults"
)

func pageMap(records ...crawler.PageRecord) *crawler.PageMap {
	m := crawler.NewPageMap()
	for _, r := range records {
		m.Put(r)
	}
	return m
}

func TestResolveHomepageIgnoresTrailingSlash(t *testing.T) {
	t.Parallel()

	pages := pageMap(
		crawler.PageRecord{URL: "https://example.com/about"},
		crawler.PageRecord{URL: "https://example.com/", HTML: "home"},
	)
	rec, err := ResolveHomepage(pages, "https://example.com")
	require.NoError(t, err)
	assert.Equal(t, "home", rec.HTML)
}

func TestResolveHomepageMatchesVariants(t *testing.T) {
	t.Parallel()

	pages := pageMap(crawler.PageRecord{URL: "http://www.example.com/index.html", HTML: "idx"})
	rec, err := ResolveHomepage(pages, "https://example.com/")
	require.NoError(t, err)
	assert.Equal(t, "idx", rec.HTML)
}

func TestResolveHomepageFallsBackToHomepagePath(t *testing.T) {
	t.Parallel()

	pages := pageMap(
		crawler.PageRecord{URL: "https://example.com/de/"},
		crawler.PageRecord{URL: "https://www.example.com/index.php/", HTML: "php"},
	)
	rec, err := ResolveHomepage(pages, "https://example.com/de/")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/de/", rec.URL)

	rec, err = ResolveHomepage(pages, "https://example.com/start")
	require.NoError(t, err)
	assert.Equal(t, "php", rec.HTML)
}

func TestResolveHomepageNotFound(t *testing.T) {
	t.Parallel()

	pages := pageMap(crawler.PageRecord{URL: "https://example.com/about"})
	_, err := ResolveHomepage(pages, "https://example.com")
	require.ErrorIs(t, err, faults.ErrHomepageNotFound)

	_, err = ResolveHomepage(crawler.NewPageMap(), "not a url")
	require.ErrorIs(t, err, faults.ErrInvalidInput)
}

const homeWithNav = `<title>Acme</title>
<header><a href="/">Logo</a></header>
<nav>
  <a href="/">Home</a>
  <a href="/leistungen">Leistungen</a>
  <a href="/team/">Team</a>
  <a href="/blog/2024/post">Deep</a>
  <a href="https://other.com/x">Other</a>
  <a href="/missing">Not crawled</a>
  <a href="/leistungen#top">Dup</a>
</nav>
<main><a href="/impressum">Impressum</a></main>`

func navSite() *crawler.PageMap {
	return pageMap(
		crawler.PageRecord{URL: "https://example.com/", HTML: homeWithNav},
		crawler.PageRecord{URL: "https://example.com/leistungen"},
		crawler.PageRecord{URL: "https://example.com/team/"},
		crawler.PageRecord{URL: "https://example.com/blog/2024/post"},
		crawler.PageRecord{URL: "https://example.com/impressum"},
		crawler.PageRecord{URL: "https://example.com/news"},
		crawler.PageRecord{URL: "https://example.com/kontakt"},
		crawler.PageRecord{URL: "https://other.com/x"},
	)
}

func TestSelectTopPagesPrefersNavigationOrder(t *testing.T) {
	t.Parallel()

	got, err := SelectTopPages(navSite(), "https://example.com", 3, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"https://example.com/",
		"https://example.com/leistungen",
		"https://example.com/team/",
	}, got)
}

func TestSelectTopPagesFillsByKeywordScore(t *testing.T) {
	t.Parallel()

	got, err := SelectTopPages(navSite(), "https://example.com", 10, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"https://example.com/",
		"https://example.com/leistungen",
		"https://example.com/team/",
		"https://example.com/kontakt",
		"https://example.com/impressum",
		"https://example.com/news",
	}, got)
}

func TestSelectTopPagesWithoutNavigation(t *testing.T) {
	t.Parallel()

	pages := pageMap(
		crawler.PageRecord{URL: "https://example.com/", HTML: "<p>no links</p>"},
		crawler.PageRecord{URL: "https://example.com/gallery"},
		crawler.PageRecord{URL: "https://example.com/about/history"},
		crawler.PageRecord{URL: "https://example.com/pricing", HTML: "<title>Preise</title>\n<p>x</p>"},
		crawler.PageRecord{URL: "https://example.com/contact"},
	)
	got, err := SelectTopPages(pages, "https://example.com/", 3, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"https://example.com/",
		"https://example.com/pricing",
		"https://example.com/contact",
	}, got)
}

func TestSelectTopPagesBoundsCount(t *testing.T) {
	t.Parallel()

	records := []crawler.PageRecord{{URL: "https://example.com/"}}
	for _, p := range []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j", "k", "l"} {
		records = append(records, crawler.PageRecord{URL: "https://example.com/" + p})
	}
	pages := pageMap(records...)

	got, err := SelectTopPages(pages, "https://example.com/", 0, nil)
	require.NoError(t, err)
	assert.Len(t, got, DefaultMaxPages)
	assert.Equal(t, "https://example.com/a", got[1])

	got, err = SelectTopPages(pages, "https://example.com/", 50, nil)
	require.NoError(t, err)
	assert.Len(t, got, MaxPagesCap)

	seen := map[string]bool{}
	for _, u := range got {
		assert.False(t, seen[u], u)
		seen[u] = true
	}
}

func TestSelectTopPagesUsesInjectedRanker(t *testing.T) {
	t.Parallel()

	pages := pageMap(
		crawler.PageRecord{URL: "https://example.com/"},
		crawler.PageRecord{URL: "https://example.com/about"},
		crawler.PageRecord{URL: "https://example.com/galerie"},
	)
	galleryFirst := RankerFunc(func(p crawler.PageRecord) int {
		if p.URL == "https://example.com/galerie" {
			return 10
		}
		return 0
	})
	got, err := SelectTopPages(pages, "https://example.com/", 2, galleryFirst)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://example.com/", "https://example.com/galerie"}, got)
}

func TestSelectTopPagesPropagatesMissingHomepage(t *testing.T) {
	t.Parallel()

	_, err := SelectTopPages(pageMap(crawler.PageRecord{URL: "https://example.com/about"}), "https://example.com/", 3, nil)
	require.ErrorIs(t, err, faults.ErrHomepageNotFound)
}

func TestNavLinksFallsBackToMenuClass(t *testing.T) {
	t.Parallel()

	base, err := url.Parse("https://example.com/")
	require.NoError(t, err)
	links := NavLinks(`<div class="main-menu"><a href="/a">A</a><a href="b">B</a></div><a href="/c">C</a>`, base)
	assert.Equal(t, []string{"https://example.com/a", "https://example.com/b"}, links)
	assert.Empty(t, NavLinks(`<p>nothing</p>`, base))
}

func TestKeywordRanker(t *testing.T) {
	t.Parallel()

	r := NewKeywordRanker()
	assert.Equal(t, 2, r.Score(crawler.PageRecord{URL: "https://example.com/ueber-uns", HTML: "<title>Unser Team</title>\n"}))
	assert.Equal(t, 0, r.Score(crawler.PageRecord{URL: "https://example.com/galerie"}))

	custom := NewKeywordRanker(" Galerie ", "")
	assert.Equal(t, 1, custom.Score(crawler.PageRecord{URL: "https://example.com/GALERIE"}))
}
