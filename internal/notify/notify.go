// Package notify announces finished rebuilds. Every channel is best effort: callers log
// failures and carry on.
package notify

import (
	"context"
	"errors"
	"sync"
)

// Announcement says that the site at OldURL now has a rebuilt version at NewURL.
type Announcement struct {
	Slug         string `json:"slug"`
	OldURL       string `json:"oldUrl"`
	NewURL       string `json:"newUrl"`
	DeploymentID string `json:"deploymentId,omitempty"`
}

// Notifier delivers an Announcement.
type Notifier interface {
	Notify(ctx context.Context, a Announcement) error
}

// Multi fans an Announcement out to every notifier and joins their errors.
type Multi []Notifier

// Notify implements Notifier. Every notifier is called even if an earlier one failed.
func (m Multi) Notify(ctx context.Context, a Announcement) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, a); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recorder keeps announcements in memory.
type Recorder struct {
	mu   sync.RWMutex
	sent []Announcement
	Err  error
}

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Notify records a and returns r.Err.
func (r *Recorder) Notify(_ context.Context, a Announcement) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, a)
	return r.Err
}

// Sent returns a copy of the recorded announcements.
func (r *Recorder) Sent() []Announcement {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Announcement, len(r.sent))
	copy(out, r.sent)
	return out
}
