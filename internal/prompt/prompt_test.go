package prompt

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/site-rebuilder/internal/crawler"
	"github.com/JakeFAU/site-rebuilder/internal/faults"
)

func TestInitialIncludesHomepageMarkup(t *testing.T) {
	t.Parallel()

	pages := crawler.NewPageMap()
	pages.Put(crawler.PageRecord{URL: "https://site.test/", HTML: crawler.Clean(`<html><head><title>Acme</title></head><body>Hi</body></html>`)})
	pages.Put(crawler.PageRecord{URL: "https://site.test/about", HTML: "<p>About page</p>"})

	got, err := NewBuilder(0).Initial(pages, "https://site.test")
	require.NoError(t, err)
	assert.Contains(t, got, "Acme")
	assert.Contains(t, got, "--- PAGE: https://site.test/ ---\n<title>Acme</title>\nHi")
	assert.NotContains(t, got, "About page")
	assert.LessOrEqual(t, utf8.RuneCountInString(got), DefaultMaxChars)
}

func TestInitialRequiresHomepage(t *testing.T) {
	t.Parallel()

	pages := crawler.NewPageMap()
	pages.Put(crawler.PageRecord{URL: "https://site.test/about"})
	_, err := NewBuilder(0).Initial(pages, "https://site.test")
	require.ErrorIs(t, err, faults.ErrHomepageNotFound)
}

func TestAnalysisListsEveryPageInOrder(t *testing.T) {
	t.Parallel()

	got, err := NewBuilder(0).Analysis([]Page{
		{URL: "https://site.test/", HTML: "<h1>Home</h1>"},
		{URL: "https://site.test/kontakt", HTML: "<h1>Kontakt</h1>"},
	})
	require.NoError(t, err)
	home := strings.Index(got, "--- PAGE: https://site.test/ ---")
	contact := strings.Index(got, "--- PAGE: https://site.test/kontakt ---")
	require.Positive(t, home)
	require.Greater(t, contact, home)
	assert.Contains(t, got, "the homepage and its most important sub-pages")
}

func TestRefinementCarriesPreviousOutputAndPage(t *testing.T) {
	t.Parallel()

	got, err := NewBuilder(0).Refinement("  Earlier analysis.  ", "https://site.test/team", "<h2>Team</h2>")
	require.NoError(t, err)
	assert.Contains(t, got, "Earlier analysis.")
	assert.Contains(t, got, "--- PAGE: https://site.test/team ---\n<h2>Team</h2>")
	assert.Contains(t, got, "Consolidate")
}

func TestDeveloperEmbedsAnalysis(t *testing.T) {
	t.Parallel()

	got, err := NewBuilder(0).Developer("https://site.test/", "Page 1: Home")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(got, "You are an experienced senior web designer"))
	assert.True(t, strings.HasSuffix(got, "Page 1: Home"))
	assert.Contains(t, got, "(https://site.test/)")
}

func TestPromptsAreTruncated(t *testing.T) {
	t.Parallel()

	b := NewBuilder(100)
	got, err := b.Refinement(strings.Repeat("ä", 500), "https://site.test/x", "<p>x</p>")
	require.NoError(t, err)
	assert.Equal(t, 100, utf8.RuneCountInString(got))
	assert.True(t, utf8.ValidString(got))
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "héll", Truncate("héllo", 4))
	assert.Equal(t, "héllo", Truncate("héllo", 5))
	assert.Equal(t, "héllo", Truncate("héllo", 0))
	assert.Equal(t, "", Truncate("", 3))
}
