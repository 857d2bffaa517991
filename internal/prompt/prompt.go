// Package prompt builds the generation prompts from crawled pages. It only assembles strings;
// calling a model and persisting results happen elsewhere.
package prompt

import (
	"bytes"
	"embed"
	"fmt"
	"strings"
	"text/template"
	"unicode/utf8"

	"github.com/JakeFAU/site-rebuilder/internal/crawler"
	"github.com/JakeFAU/site-rebuilder/internal/selector"
)

// DefaultMaxChars is the prompt ceiling in characters (runes).
const DefaultMaxChars = 360_000

//go:embed templates/*.tmpl
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.tmpl"))

// Page is one page block in a prompt.
type Page struct {
	URL  string
	HTML string
}

// Builder renders prompts and truncates them to MaxChars.
type Builder struct {
	MaxChars int
}

// NewBuilder returns a Builder; maxChars <= 0 selects DefaultMaxChars.
func NewBuilder(maxChars int) *Builder {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	return &Builder{MaxChars: maxChars}
}

// Initial resolves the homepage of rootURL in pages and renders the analysis prompt for it.
// It fails with faults.ErrHomepageNotFound when no homepage was crawled.
func (b *Builder) Initial(pages *crawler.PageMap, rootURL string) (string, error) {
	home, err := selector.ResolveHomepage(pages, rootURL)
	if err != nil {
		return "", err
	}
	return b.Analysis([]Page{{URL: home.URL, HTML: home.HTML}})
}

// Analysis renders the analysis prompt over several pages at once.
func (b *Builder) Analysis(pages []Page) (string, error) {
	return b.render("analysis.tmpl", struct {
		Multiple bool
		Pages    []Page
	}{Multiple: len(pages) > 1, Pages: pages})
}

// Refinement folds one more page into a previous generation output.
func (b *Builder) Refinement(previous, pageURL, pageHTML string) (string, error) {
	return b.render("refine.tmpl", struct {
		Previous string
		URL      string
		HTML     string
	}{Previous: strings.TrimSpace(previous), URL: pageURL, HTML: pageHTML})
}

// Developer turns a finished site analysis into the prompt that asks for developer
// instructions.
func (b *Builder) Developer(siteURL, analysis string) (string, error) {
	return b.render("developer.tmpl", struct {
		SiteURL  string
		Analysis string
	}{SiteURL: siteURL, Analysis: strings.TrimSpace(analysis)})
}

func (b *Builder) render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return Truncate(strings.TrimSpace(buf.String()), b.limit()), nil
}

func (b *Builder) limit() int {
	if b == nil || b.MaxChars <= 0 {
		return DefaultMaxChars
	}
	return b.MaxChars
}

// Truncate cuts s to at most maxChars runes. The cut is blind to markup and words.
func Truncate(s string, maxChars int) string {
	if maxChars <= 0 || len(s) <= maxChars {
		return s
	}
	if utf8.RuneCountInString(s) <= maxChars {
		return s
	}
	n := 0
	for i := range s {
		if n == maxChars {
			return s[:i]
		}
		n++
	}
	return s
}
