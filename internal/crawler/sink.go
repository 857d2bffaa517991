package crawler

import (
	"context"
	"errors"
	"path"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-rebuilder/internal/storage"
	"github.com/JakeFAU/site-rebuilder/internal/urlnorm"
)

// Sink persists per-page snapshots under the site's slug:
// <slug>/page-<name>.html, <slug>/page-<name>.txt and <slug>/screenshots/page-<name>.png.
type Sink struct {
	store  storage.ObjectStore
	logger *zap.Logger
}

// NewSink returns a Sink writing to store.
func NewSink(store storage.ObjectStore, logger *zap.Logger) *Sink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sink{store: store, logger: logger}
}

// SnapshotKeys returns the html, text and screenshot keys for pageURL.
func SnapshotKeys(slug, rootURL, pageURL string) (htmlKey, textKey, pngKey string) {
	name := "page-" + urlnorm.SnapshotName(rootURL, pageURL)
	return path.Join(slug, name+".html"),
		path.Join(slug, name+".txt"),
		path.Join(slug, "screenshots", name+".png")
}

// Save writes the snapshots of rec. The screenshot is skipped when empty.
func (s *Sink) Save(ctx context.Context, slug, rootURL string, rec PageRecord, screenshot []byte) error {
	htmlKey, textKey, pngKey := SnapshotKeys(slug, rootURL, rec.URL)
	var errs []error
	if _, err := storage.PutString(ctx, s.store, htmlKey, "text/html; charset=utf-8", rec.HTML); err != nil {
		errs = append(errs, err)
	}
	if _, err := storage.PutString(ctx, s.store, textKey, "text/plain; charset=utf-8", rec.VisibleText); err != nil {
		errs = append(errs, err)
	}
	if len(screenshot) > 0 {
		if _, err := storage.PutBytes(ctx, s.store, pngKey, "image/png", screenshot); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	s.logger.Debug("saved page snapshot", zap.String("url", rec.URL), zap.String("key", htmlKey))
	return nil
}
