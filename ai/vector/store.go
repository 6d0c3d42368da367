// Package vector provides an exact in-memory similarity index over
// fixed-dimension normalized vectors.
//
// The index performs brute-force inner-product comparison rather than
// approximate search. At the target scale (low thousands of entities)
// exactness is a requirement and brute force is fast enough; do not
// substitute an ANN structure unless the scale assumption changes.
package vector

import (
	"math"
	"sort"
	"sync"

	"github.com/pkg/errors"
)

// Sentinel errors for the index contract.
var (
	// ErrDimensionMismatch marks a malformed vector input. This is a caller
	// error and is never retried.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrNotFound marks a lookup miss. Normal, non-fatal.
	ErrNotFound = errors.New("vector not found")

	// ErrCorruptIndex marks inconsistent persisted artifacts.
	ErrCorruptIndex = errors.New("corrupt index")
)

// EntityType is the category of an indexed entity.
type EntityType string

const (
	EntityTypeLocation EntityType = "location"
	EntityTypeFestival EntityType = "festival"
	EntityTypeItem     EntityType = "item"
	EntityTypeArtifact EntityType = "artifact"
)

// Record is the identity and metadata attached to one stored vector.
type Record struct {
	EntityID   int32             `json:"entity_id"`
	EntityType EntityType        `json:"entity_type"`
	Metadata   map[string]string `json:"metadata"`
}

// Hit is a single similarity search result.
type Hit struct {
	InternalID int
	EntityID   int32
	EntityType EntityType
	Score      float32
	Metadata   map[string]string
}

// Store is an exact nearest-neighbor index. Internal ids are dense and
// assigned in insertion order starting at 0; vectors are stored
// L2-normalized so that inner product equals cosine similarity.
//
// Records are never mutated in place. An update is modeled as a re-add;
// removal requires a full rebuild of a fresh Store.
type Store struct {
	mu      sync.RWMutex
	dim     int
	vectors [][]float32
	records []Record
}

// New creates an empty index for vectors of the given dimension.
func New(dim int) *Store {
	return &Store{dim: dim}
}

// Dimensions returns the vector dimension of the index.
func (s *Store) Dimensions() int {
	return s.dim
}

// Count returns the number of stored records.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Add stores a vector with its identity and metadata and returns the
// assigned internal id. The vector is normalized before storage and the
// new record is visible to queries as soon as Add returns.
func (s *Store) Add(vec []float32, entityID int32, entityType EntityType, metadata map[string]string) (int, error) {
	if len(vec) != s.dim {
		return 0, errors.Wrapf(ErrDimensionMismatch, "got %d, want %d", len(vec), s.dim)
	}

	normalized := normalize(vec)
	if metadata == nil {
		metadata = map[string]string{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := len(s.records)
	s.vectors = append(s.vectors, normalized)
	s.records = append(s.records, Record{
		EntityID:   entityID,
		EntityType: entityType,
		Metadata:   metadata,
	})
	return id, nil
}

// Query returns up to topK records with cosine similarity >= minScore,
// optionally restricted to the given entity types. Results are ordered by
// descending score; ties break by ascending internal id so that ordering
// is a deterministic total order. An empty result is not an error.
func (s *Store) Query(vec []float32, topK int, minScore float32, entityTypes []EntityType) ([]Hit, error) {
	if len(vec) != s.dim {
		return nil, errors.Wrapf(ErrDimensionMismatch, "got %d, want %d", len(vec), s.dim)
	}
	if topK <= 0 {
		return []Hit{}, nil
	}

	var typeFilter map[EntityType]bool
	if len(entityTypes) > 0 {
		typeFilter = make(map[EntityType]bool, len(entityTypes))
		for _, t := range entityTypes {
			typeFilter[t] = true
		}
	}

	query := normalize(vec)

	s.mu.RLock()
	defer s.mu.RUnlock()

	hits := make([]Hit, 0, topK)
	for i, stored := range s.vectors {
		record := s.records[i]
		if typeFilter != nil && !typeFilter[record.EntityType] {
			continue
		}
		score := dot(query, stored)
		if score < minScore {
			continue
		}
		hits = append(hits, Hit{
			InternalID: i,
			EntityID:   record.EntityID,
			EntityType: record.EntityType,
			Score:      score,
			Metadata:   record.Metadata,
		})
	}

	sort.SliceStable(hits, func(a, b int) bool {
		if hits[a].Score != hits[b].Score {
			return hits[a].Score > hits[b].Score
		}
		return hits[a].InternalID < hits[b].InternalID
	})

	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

// Reconstruct returns a copy of the stored normalized vector for the given
// internal id. It supports "find similar to this known entity" without
// re-embedding.
func (s *Store) Reconstruct(internalID int) ([]float32, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if internalID < 0 || internalID >= len(s.vectors) {
		return nil, errors.Wrapf(ErrNotFound, "internal id %d", internalID)
	}
	out := make([]float32, s.dim)
	copy(out, s.vectors[internalID])
	return out, nil
}

// normalize returns an L2-normalized copy of the vector. A zero vector is
// returned unchanged, matching the behavior of common index libraries.
func normalize(vec []float32) []float32 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	out := make([]float32, len(vec))
	if sum == 0 {
		copy(out, vec)
		return out
	}
	norm := float32(math.Sqrt(sum))
	for i, v := range vec {
		out[i] = v / norm
	}
	return out
}

func dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}
