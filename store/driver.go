package store

import "context"

// Driver is an interface for database access.
type Driver interface {
	GetDB() any
	Close() error

	Migrate(ctx context.Context) error

	// Entity model related methods.
	CreateEntity(ctx context.Context, create *Entity) (*Entity, error)
	ListEntities(ctx context.Context, find *FindEntity) ([]*Entity, error)

	// MemoryFact model related methods.
	CreateMemoryFact(ctx context.Context, create *MemoryFact) (*MemoryFact, error)
	ListMemoryFacts(ctx context.Context, find *FindMemoryFact) ([]*MemoryFact, error)
}
