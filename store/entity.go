package store

import (
	"context"

	"github.com/pkg/errors"
)

// EntityType is the catalog entity category.
type EntityType string

const (
	EntityTypeLocation EntityType = "location"
	EntityTypeFestival EntityType = "festival"
	EntityTypeItem     EntityType = "item"
	EntityTypeArtifact EntityType = "artifact"
)

// EntityTypes lists all known entity types in indexing order.
var EntityTypes = []EntityType{
	EntityTypeLocation,
	EntityTypeFestival,
	EntityTypeItem,
	EntityTypeArtifact,
}

// Validate checks that the entity type is a known one.
func (t EntityType) Validate() error {
	switch t {
	case EntityTypeLocation, EntityTypeFestival, EntityTypeItem, EntityTypeArtifact:
		return nil
	}
	return errors.Errorf("unknown entity type: %s", t)
}

// Entity represents a catalog record (location, festival, item, artifact).
type Entity struct {
	ID          int32
	Type        EntityType
	Title       string
	Description string
	Address     string // locations only
	Date        string // festivals only
	CreatedTs   int64
	UpdatedTs   int64
}

// FindEntity is the find condition for entities.
type FindEntity struct {
	ID    *int32
	Type  *EntityType
	Limit *int
}

// CreateEntity creates an entity record.
func (s *Store) CreateEntity(ctx context.Context, create *Entity) (*Entity, error) {
	if err := create.Type.Validate(); err != nil {
		return nil, err
	}
	return s.driver.CreateEntity(ctx, create)
}

// ListEntities lists entities matching the find condition.
func (s *Store) ListEntities(ctx context.Context, find *FindEntity) ([]*Entity, error) {
	return s.driver.ListEntities(ctx, find)
}
