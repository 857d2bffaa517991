package crawler

import "sync"

// PageMap holds visited pages keyed by normalized URL in discovery order. It is safe for
// concurrent use.
type PageMap struct {
	mu    sync.RWMutex
	order []string
	pages map[string]PageRecord
}

// NewPageMap returns an empty map.
func NewPageMap() *PageMap {
	return &PageMap{pages: make(map[string]PageRecord)}
}

// Put stores rec. The first record for a URL wins.
func (m *PageMap) Put(rec PageRecord) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.pages[rec.URL]; ok {
		return false
	}
	m.pages[rec.URL] = rec
	m.order = append(m.order, rec.URL)
	return true
}

// Get returns the record for url.
func (m *PageMap) Get(url string) (PageRecord, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.pages[url]
	return rec, ok
}

// URLs lists keys in insertion order.
func (m *PageMap) URLs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.order...)
}

// Records lists records in insertion order.
func (m *PageMap) Records() []PageRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]PageRecord, 0, len(m.order))
	for _, u := range m.order {
		out = append(out, m.pages[u])
	}
	return out
}

// Position returns the insertion index of url, or -1.
func (m *PageMap) Position(url string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i, u := range m.order {
		if u == url {
			return i
		}
	}
	return -1
}

// Len returns the number of pages.
func (m *PageMap) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.order)
}
