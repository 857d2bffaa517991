package crawler

import "context"

// Rendered is what a Renderer produced for one URL.
type Rendered struct {
	URL        string
	FinalURL   string
	StatusCode int
	HTML       string
	// Text is the browser's innerText when available.
	Text       string
	Screenshot []byte
}

// Renderer loads a page and returns its markup.
type Renderer interface {
	Render(ctx context.Context, url string) (Rendered, error)
}

// PageRecord is one visited page.
type PageRecord struct {
	URL         string
	HTML        string
	VisibleText string
	Depth       int
}
