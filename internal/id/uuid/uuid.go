// Package uuid issues identifiers for drain runs.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator creates time-ordered (v7) run identifiers.
type Generator struct{}

// New creates a new Generator.
func New() *Generator {
	return &Generator{}
}

// NewRunID returns a UUIDv7 so run rows sort by start time.
func (Generator) NewRunID() (uuid.UUID, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.Nil, fmt.Errorf("generate run id: %w", err)
	}
	return id, nil
}
