package notify

import (
	"context"
	"fmt"
	"net/http"

	"github.com/JakeFAU/site-rebuilder/internal/faults"
	"github.com/JakeFAU/site-rebuilder/internal/httpclient"
)

// Webhook POSTs {slug, oldUrl, newUrl} to a fixed URL, once and without credentials.
type Webhook struct {
	client *httpclient.Client
	url    string
}

// NewWebhook returns a Webhook posting to url.
func NewWebhook(client *httpclient.Client, url string) (*Webhook, error) {
	if client == nil {
		return nil, faults.InvalidInput("webhook needs an http client")
	}
	if url == "" {
		return nil, faults.InvalidInput("webhook url is empty")
	}
	return &Webhook{client: client, url: url}, nil
}

// Notify implements Notifier.
func (w *Webhook) Notify(ctx context.Context, a Announcement) error {
	body := struct {
		Slug   string `json:"slug"`
		OldURL string `json:"oldUrl"`
		NewURL string `json:"newUrl"`
	}{Slug: a.Slug, OldURL: a.OldURL, NewURL: a.NewURL}
	if _, err := w.client.Do(ctx, http.MethodPost, w.url, httpclient.Options{
		Body:   body,
		NoAuth: true,
		Retry:  httpclient.SingleAttempt(),
	}); err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	return nil
}
