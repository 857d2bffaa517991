package crawler

import "sync"

// VisitedSet assigns every discovered URL a stable index. The check and the insert happen
// under one lock, so a URL is claimed by exactly one caller.
type VisitedSet struct {
	mu    sync.Mutex
	urls  []string
	index map[string]int
}

// NewVisitedSet returns an empty set.
func NewVisitedSet() *VisitedSet {
	return &VisitedSet{index: make(map[string]int)}
}

// MarkIfNew claims url. It returns the url's index and whether this call added it.
func (v *VisitedSet) MarkIfNew(url string) (int, bool) {
	return v.MarkIfNewWithin(url, 0)
}

// MarkIfNewWithin is MarkIfNew that refuses new URLs once limit entries exist. A limit of 0
// means unbounded.
func (v *VisitedSet) MarkIfNewWithin(url string, limit int) (int, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if idx, ok := v.index[url]; ok {
		return idx, false
	}
	if limit > 0 && len(v.urls) >= limit {
		return -1, false
	}
	idx := len(v.urls)
	v.urls = append(v.urls, url)
	v.index[url] = idx
	return idx, true
}

// Contains reports whether url was claimed.
func (v *VisitedSet) Contains(url string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	_, ok := v.index[url]
	return ok
}

// Len returns the number of claimed URLs.
func (v *VisitedSet) Len() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.urls)
}
