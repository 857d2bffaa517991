package crawler

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanStripsNoiseAndKeepsStructure(t *testing.T) {
	t.Parallel()

	raw := `<html><head><title> Acme   GmbH </title><style>p{color:red}</style></head>
<body>
  <!-- tracking -->
  <div class="hero" onclick="go()" style="color:red" data-track="1" id="top">
    <p>Hello    world</p>
  </div>
  <script>alert(1)</script>
  <noscript>enable js</noscript>
  <template><p>hidden</p></template>
</body></html>`

	got := Clean(raw)
	require.Equal(t, `<title>Acme GmbH</title>`+"\n"+`<div class="hero" id="top"> <p>Hello world</p> </div>`, got)
}

func TestCleanRemovesInlineSVG(t *testing.T) {
	t.Parallel()

	got := Clean(`<body><h1>Logo</h1><svg viewBox="0 0 1 1"><path d="M0"/></svg></body>`)
	assert.Contains(t, got, "<h1>Logo</h1>")
	assert.NotContains(t, got, "svg")
	assert.NotContains(t, got, "<title>")
}

func TestVisibleTextFallsBackToMarkupText(t *testing.T) {
	t.Parallel()

	text := VisibleText(`<div><h1>Leistungen</h1><p>Wir bauen Websites.</p><a href="/kontakt">Kontakt</a></div>`)
	assert.Contains(t, text, "Leistungen")
	assert.Contains(t, text, "Wir bauen Websites.")
	assert.NotContains(t, text, "/kontakt")
}

func TestExtractLinksResolvesAndFilters(t *testing.T) {
	t.Parallel()

	base, err := url.Parse("https://example.com/blog/post")
	require.NoError(t, err)

	markup := `<body>
		<a href="../about#team">About</a>
		<a href="/about">About again</a>
		<a href="contact?ref=nav">Contact</a>
		<a href="#section">Jump</a>
		<a href="mailto:a@b.c">Mail</a>
		<a href="javascript:void(0)">JS</a>
		<a href="tel:+4912345">Call</a>
		<a href="">Empty</a>
		<a href="https://Other.com:443/x">Other</a>
		<a>No href</a>
	</body>`

	links := ExtractLinks(markup, base)
	require.Equal(t, []string{
		"https://example.com/about",
		"https://example.com/blog/contact",
		"https://other.com/x",
	}, links)
}

func TestExtractLinksHonoursBaseElement(t *testing.T) {
	t.Parallel()

	base, err := url.Parse("https://example.com/")
	require.NoError(t, err)

	links := ExtractLinks(`<html><head><base href="https://example.com/de/"></head><body><a href="kontakt">K</a></body></html>`, base)
	require.Equal(t, []string{"https://example.com/de/kontakt"}, links)
}
