package store

import (
	"context"

	"github.com/pkg/errors"
)

// MemoryType categorizes a user memory fact.
type MemoryType string

const (
	MemoryTypePreference MemoryType = "preference"
	MemoryTypeInterest   MemoryType = "interest"
	MemoryTypeVisited    MemoryType = "visited"
	MemoryTypeDislike    MemoryType = "dislike"
	MemoryTypeContext    MemoryType = "context"
)

// Validate checks that the memory type is a known one.
func (t MemoryType) Validate() error {
	switch t {
	case MemoryTypePreference, MemoryTypeInterest, MemoryTypeVisited, MemoryTypeDislike, MemoryTypeContext:
		return nil
	}
	return errors.Errorf("unknown memory type: %s", t)
}

// MemoryFact represents a single user memory fact.
// Facts are append-only: there is no update or delete path in this service.
type MemoryFact struct {
	ID         int32
	UserID     int32
	Type       MemoryType
	Content    string
	Confidence float64
	CreatedTs  int64
}

// Validate validates a fact before it is stored.
func (f *MemoryFact) Validate() error {
	if f.UserID <= 0 {
		return errors.Errorf("invalid UserID: %d", f.UserID)
	}
	if f.Content == "" {
		return errors.New("content cannot be empty")
	}
	if err := f.Type.Validate(); err != nil {
		return err
	}
	if f.Confidence < 0 || f.Confidence > 1 {
		return errors.Errorf("confidence out of range [0,1]: %f", f.Confidence)
	}
	return nil
}

// FindMemoryFact is the find condition for memory facts.
// Results are always ordered most recent first.
type FindMemoryFact struct {
	UserID *int32
	Type   *MemoryType
	Limit  *int
}

// CreateMemoryFact persists a memory fact and returns it with its assigned ID.
func (s *Store) CreateMemoryFact(ctx context.Context, create *MemoryFact) (*MemoryFact, error) {
	if err := create.Validate(); err != nil {
		return nil, err
	}
	return s.driver.CreateMemoryFact(ctx, create)
}

// ListMemoryFacts lists memory facts, most recent first.
func (s *Store) ListMemoryFacts(ctx context.Context, find *FindMemoryFact) ([]*MemoryFact, error) {
	return s.driver.ListMemoryFacts(ctx, find)
}
