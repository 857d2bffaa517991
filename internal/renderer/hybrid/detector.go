package hybrid

import (
	"bytes"
	"net/http"
	"strings"
)

// DefaultBodyThreshold is the size below which a script-heavy page is assumed to be a shell.
const DefaultBodyThreshold = 2048

var spaMarkers = [][]byte{
	[]byte("__next"),
	[]byte("id=\"root\""),
	[]byte("id=\"app\""),
	[]byte("data-reactroot"),
	[]byte("ng-version"),
	[]byte("data-server-rendered"),
}

// Detector decides from a static response whether the page needs a browser.
type Detector struct {
	BodyThreshold int
}

// NewDetector returns a Detector; threshold <= 0 selects DefaultBodyThreshold.
func NewDetector(threshold int) *Detector {
	if threshold <= 0 {
		threshold = DefaultBodyThreshold
	}
	return &Detector{BodyThreshold: threshold}
}

// NeedsBrowser reports whether a page served with status and body is likely rendered
// client-side. Only successful responses are considered.
func (d *Detector) NeedsBrowser(status int, body []byte) bool {
	if status != http.StatusOK {
		return false
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return true
	}
	if len(body) < d.BodyThreshold && scriptDensityHigh(body) {
		return true
	}
	for _, marker := range spaMarkers {
		if bytes.Contains(body, marker) {
			return true
		}
	}
	return false
}

// scriptDensityHigh reports whether <script> elements make up at least a quarter of body.
func scriptDensityHigh(body []byte) bool {
	lower := strings.ToLower(string(body))
	total := len(lower)
	if total == 0 {
		return false
	}

	const (
		openTag  = "<script"
		closeTag = "</script>"
	)
	covered := 0
	pos := 0
	for {
		rel := strings.Index(lower[pos:], openTag)
		if rel == -1 {
			break
		}
		start := pos + rel

		tagEnd := strings.IndexByte(lower[start:], '>')
		if tagEnd == -1 {
			// Malformed tag; the rest counts as script.
			covered += total - start
			break
		}
		contentStart := start + tagEnd + 1

		next := total
		if end := strings.Index(lower[contentStart:], closeTag); end != -1 {
			next = contentStart + end + len(closeTag)
		}
		covered += next - start
		pos = next
	}
	return covered*100/total >= 25
}
