// Package index provides unit tests for the index lifecycle manager.
package index

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/tripsense/ai/vector"
	"github.com/hrygo/tripsense/store"
)

const testDim = 4

// fakeEntitySource serves a fixed entity set.
type fakeEntitySource struct {
	entities []*store.Entity
	err      error
}

func (f *fakeEntitySource) ListEntities(_ context.Context, find *store.FindEntity) ([]*store.Entity, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([]*store.Entity, 0, len(f.entities))
	for _, e := range f.entities {
		if find.Type != nil && e.Type != *find.Type {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// fakeEmbedder produces deterministic per-text vectors and counts calls.
type fakeEmbedder struct {
	err   error
	calls atomic.Int32
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := f.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (f *fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec := make([]float32, testDim)
		for j := range vec {
			vec[j] = float32((len(text)+i*7+j*13)%29) / 29.0
		}
		vec[0] += 1 // keep vectors away from zero
		out[i] = vec
	}
	return out, nil
}

func (f *fakeEmbedder) Dimensions() int {
	return testDim
}

func testEntities() []*store.Entity {
	return []*store.Entity{
		{ID: 1, Type: store.EntityTypeLocation, Title: "Kiyomizu Temple", Description: "Hillside temple", Address: "Kyoto"},
		{ID: 2, Type: store.EntityTypeFestival, Title: "Gion Festival", Description: "Summer festival", Date: "July"},
		{ID: 3, Type: store.EntityTypeItem, Title: "Lacquer Bowl", Description: "Handmade bowl"},
		{ID: 4, Type: store.EntityTypeItem, Title: "", Description: ""}, // empty text, skipped
	}
}

func newTestManager(t *testing.T, source EntitySource, embedder *fakeEmbedder) *Manager {
	t.Helper()
	return NewManager(source, embedder, nil, Config{Dir: t.TempDir()})
}

// TestManager_NotReadyBeforeStart tests the fail-fast contract: queries
// before startup are rejected, not served from an empty index.
func TestManager_NotReadyBeforeStart(t *testing.T) {
	m := newTestManager(t, &fakeEntitySource{}, &fakeEmbedder{})

	assert.Equal(t, StateUninitialized, m.State())
	assert.False(t, m.Ready())

	_, err := m.Store()
	assert.ErrorIs(t, err, ErrIndexNotReady)
}

// TestManager_StartRebuildsWhenNoPersistedIndex tests the cold-start path:
// no persisted pair, full rebuild from the durable store.
func TestManager_StartRebuildsWhenNoPersistedIndex(t *testing.T) {
	source := &fakeEntitySource{entities: testEntities()}
	m := newTestManager(t, source, &fakeEmbedder{})

	require.NoError(t, m.Start(context.Background()))
	assert.True(t, m.Ready())

	idx, err := m.Store()
	require.NoError(t, err)
	// Entity 4 has no embeddable text and is skipped.
	assert.Equal(t, 3, idx.Count())

	stats := m.Stats()
	assert.Equal(t, "ready", stats.State)
	assert.Equal(t, 3, stats.Vectors)
	assert.False(t, stats.LastRebuild.IsZero())
}

// TestManager_StartLoadsPersistedIndex tests the warm-start path: a valid
// persisted pair is loaded without touching the embedder.
func TestManager_StartLoadsPersistedIndex(t *testing.T) {
	dir := t.TempDir()

	prebuilt := vector.New(testDim)
	_, err := prebuilt.Add([]float32{1, 0, 0, 0}, 1, vector.EntityTypeLocation, nil)
	require.NoError(t, err)
	require.NoError(t, prebuilt.Persist(dir))

	embedder := &fakeEmbedder{}
	m := NewManager(&fakeEntitySource{}, embedder, nil, Config{Dir: dir})

	require.NoError(t, m.Start(context.Background()))
	assert.True(t, m.Ready())
	assert.Equal(t, int32(0), embedder.calls.Load(), "warm start must not embed")

	idx, err := m.Store()
	require.NoError(t, err)
	assert.Equal(t, 1, idx.Count())
}

// TestManager_StartRebuildsOnCorruptIndex tests that a corrupt persisted
// pair triggers a rebuild instead of a crash.
func TestManager_StartRebuildsOnCorruptIndex(t *testing.T) {
	dir := t.TempDir()
	writeCorruptPair(t, dir)

	source := &fakeEntitySource{entities: testEntities()}
	m := NewManager(source, &fakeEmbedder{}, nil, Config{Dir: dir})

	require.NoError(t, m.Start(context.Background()))
	assert.True(t, m.Ready())

	idx, err := m.Store()
	require.NoError(t, err)
	assert.Equal(t, 3, idx.Count())
}

// TestManager_StartRebuildsOnDimensionMismatch tests that a persisted index
// built for a different embedding model is discarded.
func TestManager_StartRebuildsOnDimensionMismatch(t *testing.T) {
	dir := t.TempDir()

	stale := vector.New(testDim * 2)
	_, err := stale.Add(make([]float32, testDim*2), 1, vector.EntityTypeLocation, nil)
	require.NoError(t, err)
	require.NoError(t, stale.Persist(dir))

	source := &fakeEntitySource{entities: testEntities()}
	m := NewManager(source, &fakeEmbedder{}, nil, Config{Dir: dir})

	require.NoError(t, m.Start(context.Background()))

	idx, err := m.Store()
	require.NoError(t, err)
	assert.Equal(t, testDim, idx.Dimensions())
	assert.Equal(t, 3, idx.Count())
}

// TestManager_StartFailsWithoutServingPartial tests that a failed initial
// rebuild leaves the manager in Failed, still rejecting queries.
func TestManager_StartFailsWithoutServingPartial(t *testing.T) {
	source := &fakeEntitySource{entities: testEntities()}
	m := newTestManager(t, source, &fakeEmbedder{err: errors.New("provider down")})

	err := m.Start(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateFailed, m.State())

	_, err = m.Store()
	assert.ErrorIs(t, err, ErrIndexNotReady)
}

// TestManager_RebuildKeepsServingOldIndex tests atomicity: a failed manual
// rebuild leaves the previously serving index fully live.
func TestManager_RebuildKeepsServingOldIndex(t *testing.T) {
	source := &fakeEntitySource{entities: testEntities()}
	embedder := &fakeEmbedder{}
	m := newTestManager(t, source, embedder)
	require.NoError(t, m.Start(context.Background()))

	before, err := m.Store()
	require.NoError(t, err)
	beforeCount := before.Count()

	embedder.err = errors.New("provider down")
	err = m.Rebuild(context.Background())
	require.Error(t, err)

	// Still Ready, still the old index, full cardinality.
	assert.True(t, m.Ready())
	after, err := m.Store()
	require.NoError(t, err)
	assert.Equal(t, beforeCount, after.Count())
	assert.Same(t, before, after)
}

// TestManager_RebuildSwapsAtomically tests that a successful rebuild swaps
// in a complete new index.
func TestManager_RebuildSwapsAtomically(t *testing.T) {
	source := &fakeEntitySource{entities: testEntities()[:2]}
	m := newTestManager(t, source, &fakeEmbedder{})
	require.NoError(t, m.Start(context.Background()))

	old, err := m.Store()
	require.NoError(t, err)
	assert.Equal(t, 2, old.Count())

	// The catalog grows; a rebuild must pick up the full new set.
	source.entities = testEntities()
	require.NoError(t, m.Rebuild(context.Background()))

	fresh, err := m.Store()
	require.NoError(t, err)
	assert.Equal(t, 3, fresh.Count())
	assert.NotSame(t, old, fresh)
}

// TestManager_RebuildSnapshotConsistency tests that queries racing a rebuild
// always observe a self-consistent snapshot: the full old cardinality or the
// full new one, never a partial index.
func TestManager_RebuildSnapshotConsistency(t *testing.T) {
	source := &fakeEntitySource{entities: testEntities()[:2]}
	m := newTestManager(t, source, &fakeEmbedder{})
	require.NoError(t, m.Start(context.Background()))

	source.entities = testEntities() // grows from 2 to 3 indexable entities

	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.NoError(t, m.Rebuild(context.Background()))
	}()

	for {
		idx, err := m.Store()
		require.NoError(t, err)
		assert.Contains(t, []int{2, 3}, idx.Count())

		select {
		case <-done:
			final, err := m.Store()
			require.NoError(t, err)
			assert.Equal(t, 3, final.Count())
			return
		default:
		}
	}
}

// TestManager_RebuildCancellation tests that caller cancellation aborts the
// rebuild without disturbing the serving index.
func TestManager_RebuildCancellation(t *testing.T) {
	source := &fakeEntitySource{entities: testEntities()}
	m := newTestManager(t, source, &fakeEmbedder{})
	require.NoError(t, m.Start(context.Background()))

	source.err = context.Canceled
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := m.Rebuild(ctx)
	require.Error(t, err)
	assert.True(t, m.Ready())

	idx, err := m.Store()
	require.NoError(t, err)
	assert.Equal(t, 3, idx.Count())
}

// TestManager_RebuildPersistsIndex tests that a rebuild leaves a loadable
// pair on disk.
func TestManager_RebuildPersistsIndex(t *testing.T) {
	dir := t.TempDir()
	source := &fakeEntitySource{entities: testEntities()}
	m := NewManager(source, &fakeEmbedder{}, nil, Config{Dir: dir})
	require.NoError(t, m.Start(context.Background()))

	loaded, err := vector.Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 3, loaded.Count())
}

// TestManager_EmptyStore tests that an empty durable store produces a
// ready, empty index rather than an error.
func TestManager_EmptyStore(t *testing.T) {
	m := newTestManager(t, &fakeEntitySource{}, &fakeEmbedder{})
	require.NoError(t, m.Start(context.Background()))

	idx, err := m.Store()
	require.NoError(t, err)
	assert.Equal(t, 0, idx.Count())
}

// TestBuildEntityText tests per-type embedding text assembly.
func TestBuildEntityText(t *testing.T) {
	testCases := []struct {
		name   string
		entity *store.Entity
		want   string
	}{
		{
			"location includes address",
			&store.Entity{Type: store.EntityTypeLocation, Title: "Temple", Description: "Old", Address: "Kyoto", Date: "ignored"},
			"Title: Temple\nDescription: Old\nAddress: Kyoto",
		},
		{
			"festival includes date",
			&store.Entity{Type: store.EntityTypeFestival, Title: "Gion", Description: "Big", Address: "ignored", Date: "July"},
			"Title: Gion\nDescription: Big\nDate: July",
		},
		{
			"item is title and description only",
			&store.Entity{Type: store.EntityTypeItem, Title: "Bowl", Description: "Lacquer", Address: "x", Date: "y"},
			"Title: Bowl\nDescription: Lacquer",
		},
		{
			"empty entity yields empty text",
			&store.Entity{Type: store.EntityTypeItem},
			"",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, buildEntityText(tc.entity))
		})
	}
}

// TestState_String tests the lifecycle state labels.
func TestState_String(t *testing.T) {
	assert.Equal(t, "uninitialized", StateUninitialized.String())
	assert.Equal(t, "loading", StateLoading.String())
	assert.Equal(t, "rebuilding", StateRebuilding.String())
	assert.Equal(t, "ready", StateReady.String())
	assert.Equal(t, "failed", StateFailed.String())
}

// writeCorruptPair writes a structurally broken index pair into dir.
func writeCorruptPair(t *testing.T, dir string) {
	t.Helper()
	valid := vector.New(testDim)
	_, err := valid.Add(make([]float32, testDim), 1, vector.EntityTypeLocation, nil)
	require.NoError(t, err)
	require.NoError(t, valid.Persist(dir))

	// Drop the record map out of sync with the vector blob.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "records.json"), []byte("[]"), 0660))
}
