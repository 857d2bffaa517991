// Package storage defines the object store that holds every artifact of a rebuild: page
// snapshots, prompts, model output and the remote resource identifiers used for resume.
// Backends live in the local, memory and gcs subpackages.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
)

// ErrNotFound is returned by GetObject when the object does not exist.
var ErrNotFound = errors.New("object not found")

// ObjectStore reads and writes whole objects addressed by slash-separated keys.
type ObjectStore interface {
	// PutObject stores data under key and returns a URI describing where it landed.
	PutObject(ctx context.Context, key string, contentType string, data io.Reader) (string, error)
	// GetObject returns the full object or an error matching ErrNotFound.
	GetObject(ctx context.Context, key string) ([]byte, error)
}

// PutString is PutObject for string payloads.
func PutString(ctx context.Context, store ObjectStore, key, contentType, body string) (string, error) {
	uri, err := store.PutObject(ctx, key, contentType, strings.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("put %s: %w", key, err)
	}
	return uri, nil
}

// PutBytes is PutObject for byte payloads.
func PutBytes(ctx context.Context, store ObjectStore, key, contentType string, body []byte) (string, error) {
	uri, err := store.PutObject(ctx, key, contentType, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("put %s: %w", key, err)
	}
	return uri, nil
}

// GetString returns the object as trimmed text. ok is false when it does not exist or is
// blank.
func GetString(ctx context.Context, store ObjectStore, key string) (value string, ok bool, err error) {
	data, err := store.GetObject(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get %s: %w", key, err)
	}
	value = strings.TrimSpace(string(data))
	return value, value != "", nil
}

// Prefixed namespaces every key of an underlying store.
type Prefixed struct {
	store  ObjectStore
	prefix string
}

// WithPrefix returns store unchanged when prefix is blank.
func WithPrefix(store ObjectStore, prefix string) ObjectStore {
	prefix = strings.Trim(prefix, "/ ")
	if prefix == "" {
		return store
	}
	return &Prefixed{store: store, prefix: prefix}
}

// PutObject implements ObjectStore.
func (p *Prefixed) PutObject(ctx context.Context, key, contentType string, data io.Reader) (string, error) {
	return p.store.PutObject(ctx, path.Join(p.prefix, key), contentType, data)
}

// GetObject implements ObjectStore.
func (p *Prefixed) GetObject(ctx context.Context, key string) ([]byte, error) {
	return p.store.GetObject(ctx, path.Join(p.prefix, key))
}
