package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"path"

	"github.com/JakeFAU/site-rebuilder/internal/storage"
)

// State file names, relative to <slug>/ and prefixed with "<slug>_".
const (
	ProjectIDFile         = "projectId.txt"
	ChatIDFile            = "chatId.txt"
	DeploymentIDFile      = "deploymentId.txt"
	DeploymentAttemptFile = "deploymentAttempt.txt"
	DeploymentFile        = "deployment.json"
	AliasFile             = "alias.txt"
)

// StateStore persists the identifiers that let a rerun resume where the last one stopped.
type StateStore struct {
	store storage.ObjectStore
}

// NewStateStore wraps an object store.
func NewStateStore(store storage.ObjectStore) *StateStore {
	return &StateStore{store: store}
}

// Key returns the object key of a state file: <slug>/<slug>_<name>.
func Key(slug, name string) string {
	return path.Join(slug, slug+"_"+name)
}

// Load returns the trimmed value of a state file. A missing or blank file is not an error.
func (s *StateStore) Load(ctx context.Context, slug, name string) (string, bool, error) {
	v, ok, err := storage.GetString(ctx, s.store, Key(slug, name))
	if err != nil {
		return "", false, fmt.Errorf("load %s state: %w", name, err)
	}
	return v, ok, nil
}

// Save writes value to a state file.
func (s *StateStore) Save(ctx context.Context, slug, name, value string) error {
	contentType := "text/plain; charset=utf-8"
	if path.Ext(name) == ".json" {
		contentType = "application/json"
	}
	if _, err := storage.PutString(ctx, s.store, Key(slug, name), contentType, value); err != nil {
		return fmt.Errorf("save %s state: %w", name, err)
	}
	return nil
}

// Clear blanks a state file so the next run treats it as absent.
func (s *StateStore) Clear(ctx context.Context, slug, name string) error {
	return s.Save(ctx, slug, name, "")
}

// LoadRaw returns the untrimmed bytes of a state file.
func (s *StateStore) LoadRaw(ctx context.Context, slug, name string) ([]byte, bool, error) {
	data, err := s.store.GetObject(ctx, Key(slug, name))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load %s state: %w", name, err)
	}
	return data, len(data) > 0, nil
}
