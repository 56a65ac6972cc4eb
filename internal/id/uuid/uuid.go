// Package uuid issues monitor session identifiers.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator issues UUIDv7 strings. The time prefix makes session ids sort by
// open time, which run history listings rely on for ties.
type Generator struct {
	source func() (uuid.UUID, error)
}

// New returns a Generator backed by uuid.NewV7.
func New() *Generator {
	return &Generator{source: uuid.NewV7}
}

// NewID implements jobs.IDGenerator.
func (g *Generator) NewID() (string, error) {
	id, err := g.source()
	if err != nil {
		return "", fmt.Errorf("new session id: %w", err)
	}
	return id.String(), nil
}
