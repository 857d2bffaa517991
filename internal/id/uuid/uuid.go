// Package uuid generates run identifiers, request ids and short random suffixes.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator creates UUID strings.
type Generator struct{}

// New creates a new Generator.
func New() *Generator {
	return &Generator{}
}

// NewID returns a time-ordered UUIDv7 string.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return id.String(), nil
}

// Suffix returns the first n hex characters of a random UUIDv4, for disambiguating names.
func (Generator) Suffix(n int) (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generate uuid4: %w", err)
	}
	hex := fmt.Sprintf("%x", id[:])
	if n <= 0 || n > len(hex) {
		n = len(hex)
	}
	return hex[:n], nil
}
