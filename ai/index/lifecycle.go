// Package index coordinates the lifecycle of the serving vector index:
// loading a persisted index at startup, rebuilding it from the durable
// entity store, and gating query traffic until the index is ready.
package index

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/hrygo/tripsense/ai"
	"github.com/hrygo/tripsense/ai/metrics"
	"github.com/hrygo/tripsense/ai/vector"
	"github.com/hrygo/tripsense/store"
)

// ErrIndexNotReady is returned to queries issued before the index has
// completed its initial load or rebuild. It is a distinct, caller-retriable
// condition and is never converted into an empty result.
var ErrIndexNotReady = errors.New("index not ready")

// State is the lifecycle state of the serving index.
type State int32

const (
	StateUninitialized State = iota
	StateLoading
	StateRebuilding
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateLoading:
		return "loading"
	case StateRebuilding:
		return "rebuilding"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// EntitySource is the durable entity store consumed during rebuilds.
// Implemented by *store.Store.
type EntitySource interface {
	ListEntities(ctx context.Context, find *store.FindEntity) ([]*store.Entity, error)
}

// Config configures the lifecycle manager.
type Config struct {
	// Dir is the directory holding the persisted index pair.
	Dir string

	// BatchSize is the number of texts per embedding batch (default 100).
	BatchSize int

	// Parallelism bounds concurrent embedding batches (default 4).
	Parallelism int

	// MinDescriptionChars caps the description stored as record metadata.
	// Zero means the default of 500.
	MetadataDescriptionCap int
}

// Manager owns the serving vector index and its lifecycle state machine:
//
//	Uninitialized → Loading → {Ready, Rebuilding} → Ready
//	                                  ↘ Failed
//
// A rebuild constructs an entirely new index and only swaps it into the
// serving position after full success, so concurrent queries always
// observe either the fully-old or fully-new index, never a mix.
type Manager struct {
	source   EntitySource
	embedder ai.EmbeddingService
	metrics  *metrics.Registry
	cfg      Config

	state  atomic.Int32
	active atomic.Pointer[vector.Store]

	rebuildMu   sync.Mutex // serializes rebuilds
	statsMu     sync.Mutex
	lastRebuild time.Time
}

// NewManager creates a lifecycle manager. The manager starts in the
// Uninitialized state; call Start to make it serve queries.
func NewManager(source EntitySource, embedder ai.EmbeddingService, m *metrics.Registry, cfg Config) *Manager {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 4
	}
	if cfg.MetadataDescriptionCap <= 0 {
		cfg.MetadataDescriptionCap = 500
	}
	return &Manager{
		source:   source,
		embedder: embedder,
		metrics:  m,
		cfg:      cfg,
	}
}

// Start loads the persisted index if present and structurally valid, and
// falls back to a full rebuild otherwise. A corrupt persisted pair is a
// rebuild trigger, not a crash.
func (m *Manager) Start(ctx context.Context) error {
	m.state.Store(int32(StateLoading))

	loaded, err := vector.Load(m.cfg.Dir)
	switch {
	case err == nil:
		if loaded.Dimensions() != m.embedder.Dimensions() {
			slog.Warn("persisted index dimension does not match embedding model, rebuilding",
				"index_dim", loaded.Dimensions(), "model_dim", m.embedder.Dimensions())
		} else {
			m.active.Store(loaded)
			m.state.Store(int32(StateReady))
			m.metrics.SetIndexVectors(loaded.Count())
			slog.Info("loaded persisted index", "vectors", loaded.Count(), "dir", m.cfg.Dir)
			return nil
		}
	case errors.Is(err, vector.ErrCorruptIndex):
		slog.Warn("persisted index is corrupt, rebuilding", "error", err)
	default:
		slog.Info("no persisted index found, rebuilding", "dir", m.cfg.Dir)
	}

	return m.Rebuild(ctx)
}

// Rebuild fetches all entities from the durable store, embeds them in
// batches, populates a fresh index, persists it, and atomically swaps it
// into the serving position. While a serving index exists it stays live
// for queries for the whole duration; on any failure (including caller
// cancellation) the serving index is left untouched.
func (m *Manager) Rebuild(ctx context.Context) error {
	m.rebuildMu.Lock()
	defer m.rebuildMu.Unlock()

	hadActive := m.active.Load() != nil
	if !hadActive {
		m.state.Store(int32(StateRebuilding))
	}

	fresh, err := m.buildIndex(ctx)
	if err != nil {
		if !hadActive {
			m.state.Store(int32(StateFailed))
		}
		return errors.Wrap(err, "index rebuild failed")
	}

	if err := fresh.Persist(m.cfg.Dir); err != nil {
		// The in-memory index is complete; serve it and surface the
		// persistence problem on the next startup instead.
		slog.Error("failed to persist rebuilt index", "error", err)
	}

	m.active.Store(fresh)
	m.state.Store(int32(StateReady))
	m.metrics.SetIndexVectors(fresh.Count())

	m.statsMu.Lock()
	m.lastRebuild = time.Now()
	m.statsMu.Unlock()

	slog.Info("index rebuild complete", "vectors", fresh.Count())
	return nil
}

type pendingEntity struct {
	entity *store.Entity
	text   string
}

func (m *Manager) buildIndex(ctx context.Context) (*vector.Store, error) {
	started := time.Now()

	var pending []pendingEntity
	for _, entityType := range store.EntityTypes {
		entityType := entityType
		entities, err := m.source.ListEntities(ctx, &store.FindEntity{Type: &entityType})
		if err != nil {
			return nil, errors.Wrapf(err, "failed to list %s entities", entityType)
		}
		for _, e := range entities {
			text := buildEntityText(e)
			if strings.TrimSpace(text) == "" {
				continue
			}
			pending = append(pending, pendingEntity{entity: e, text: text})
		}
		slog.Debug("fetched entities for indexing", "type", entityType, "count", len(entities))
	}

	fresh := vector.New(m.embedder.Dimensions())
	if len(pending) == 0 {
		slog.Warn("no entities found in durable store, serving empty index")
		return fresh, nil
	}

	// Embed batches concurrently, then add sequentially so internal ids
	// follow the deterministic fetch order.
	batches := make([][]pendingEntity, 0, len(pending)/m.cfg.BatchSize+1)
	for start := 0; start < len(pending); start += m.cfg.BatchSize {
		end := start + m.cfg.BatchSize
		if end > len(pending) {
			end = len(pending)
		}
		batches = append(batches, pending[start:end])
	}

	embedded := make([][][]float32, len(batches))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.Parallelism)
	for i, batch := range batches {
		i, batch := i, batch
		g.Go(func() error {
			texts := make([]string, len(batch))
			for j, p := range batch {
				texts[j] = p.text
			}
			vectors, err := m.embedder.EmbedBatch(gctx, texts)
			if err != nil {
				return errors.Wrapf(err, "failed to embed batch %d", i)
			}
			if len(vectors) != len(batch) {
				return errors.Errorf("embedding batch %d returned %d vectors for %d texts", i, len(vectors), len(batch))
			}
			embedded[i] = vectors
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i, batch := range batches {
		for j, p := range batch {
			e := p.entity
			if _, err := fresh.Add(embedded[i][j], e.ID, vector.EntityType(e.Type), map[string]string{
				"title":       e.Title,
				"description": truncate(e.Description, m.cfg.MetadataDescriptionCap),
			}); err != nil {
				return nil, errors.Wrapf(err, "failed to index entity %d", e.ID)
			}
		}
	}

	slog.Info("built fresh index", "vectors", fresh.Count(), "elapsed", time.Since(started))
	return fresh, nil
}

// buildEntityText assembles the text that represents an entity for
// embedding purposes.
func buildEntityText(e *store.Entity) string {
	parts := make([]string, 0, 4)
	if e.Title != "" {
		parts = append(parts, "Title: "+e.Title)
	}
	if e.Description != "" {
		parts = append(parts, "Description: "+truncate(e.Description, 1000))
	}
	if e.Type == store.EntityTypeLocation && e.Address != "" {
		parts = append(parts, "Address: "+e.Address)
	}
	if e.Type == store.EntityTypeFestival && e.Date != "" {
		parts = append(parts, "Date: "+e.Date)
	}
	return strings.Join(parts, "\n")
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) > max {
		return string(runes[:max])
	}
	return s
}

// Store returns the serving index, or ErrIndexNotReady while the initial
// load or rebuild has not completed (or has failed).
func (m *Manager) Store() (*vector.Store, error) {
	if m.State() != StateReady {
		return nil, errors.Wrapf(ErrIndexNotReady, "state %s", m.State())
	}
	active := m.active.Load()
	if active == nil {
		return nil, ErrIndexNotReady
	}
	return active, nil
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	return State(m.state.Load())
}

// Ready reports whether queries can be served.
func (m *Manager) Ready() bool {
	return m.State() == StateReady
}

// Stats describes the serving index for the readiness/stats surface.
type Stats struct {
	State       string    `json:"state"`
	Vectors     int       `json:"vectors"`
	LastRebuild time.Time `json:"last_rebuild,omitzero"`
}

// Stats returns current lifecycle statistics.
func (m *Manager) Stats() Stats {
	stats := Stats{State: m.State().String()}
	if active := m.active.Load(); active != nil {
		stats.Vectors = active.Count()
	}
	m.statsMu.Lock()
	stats.LastRebuild = m.lastRebuild
	m.statsMu.Unlock()
	return stats
}
