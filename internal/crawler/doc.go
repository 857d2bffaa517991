// Package crawler walks a single site breadth-first from its root URL, rendering every
// same-site page up to a depth bound, cleaning the markup and keeping the visible text.
// Failures on individual pages are logged and skipped; the crawl always returns whatever it
// collected.
package crawler
