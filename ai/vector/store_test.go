// Package vector provides unit tests for the exact similarity index.
package vector

import (
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDim = 8

// unitVec returns a test vector with a 1.0 at the given axis.
func unitVec(axis int) []float32 {
	v := make([]float32, testDim)
	v[axis] = 1.0
	return v
}

// TestStore_AddAssignsDenseIDs tests that internal ids are dense and follow
// insertion order.
func TestStore_AddAssignsDenseIDs(t *testing.T) {
	s := New(testDim)

	for i := 0; i < 5; i++ {
		id, err := s.Add(unitVec(i), int32(i+100), EntityTypeLocation, nil)
		require.NoError(t, err)
		assert.Equal(t, i, id)
	}
	assert.Equal(t, 5, s.Count())
}

// TestStore_AddDimensionMismatch tests that malformed vectors are rejected.
func TestStore_AddDimensionMismatch(t *testing.T) {
	s := New(testDim)

	_, err := s.Add(make([]float32, testDim+1), 1, EntityTypeItem, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
	assert.Equal(t, 0, s.Count())
}

// TestStore_QueryAllAddedAppearOnce tests that with no threshold every
// stored vector appears exactly once in the result.
func TestStore_QueryAllAddedAppearOnce(t *testing.T) {
	s := New(testDim)

	const n = 6
	for i := 0; i < n; i++ {
		_, err := s.Add(unitVec(i), int32(i), EntityTypeLocation, nil)
		require.NoError(t, err)
	}

	hits, err := s.Query(unitVec(0), n, -1, nil)
	require.NoError(t, err)
	require.Len(t, hits, n)

	seen := make(map[int]bool, n)
	for _, h := range hits {
		assert.False(t, seen[h.InternalID], "internal id %d returned twice", h.InternalID)
		seen[h.InternalID] = true
	}
}

// TestStore_QuerySelfSimilarity tests that a stored vector matches itself
// with score 1.0 up to float tolerance, regardless of input magnitude.
func TestStore_QuerySelfSimilarity(t *testing.T) {
	s := New(testDim)

	vec := []float32{3, 1, 4, 1, 5, 9, 2, 6}
	_, err := s.Add(vec, 42, EntityTypeFestival, nil)
	require.NoError(t, err)

	// Same direction, different magnitude.
	scaled := make([]float32, testDim)
	for i, v := range vec {
		scaled[i] = v * 7.5
	}

	hits, err := s.Query(scaled, 1, 0, nil)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.InDelta(t, 1.0, float64(hits[0].Score), 1e-5)
	assert.Equal(t, int32(42), hits[0].EntityID)
}

// TestStore_QueryOrdering tests descending-score ordering with ascending
// internal-id tie-breaks.
func TestStore_QueryOrdering(t *testing.T) {
	s := New(testDim)

	// Two identical vectors (a tie) plus one orthogonal and one in between.
	same := []float32{1, 1, 0, 0, 0, 0, 0, 0}
	for i := 0; i < 2; i++ {
		_, err := s.Add(same, int32(i), EntityTypeItem, nil)
		require.NoError(t, err)
	}
	_, err := s.Add(unitVec(0), 2, EntityTypeItem, nil)
	require.NoError(t, err)
	_, err = s.Add(unitVec(7), 3, EntityTypeItem, nil)
	require.NoError(t, err)

	hits, err := s.Query(same, 4, -1, nil)
	require.NoError(t, err)
	require.Len(t, hits, 4)

	// Tied top scores break by insertion order.
	assert.Equal(t, 0, hits[0].InternalID)
	assert.Equal(t, 1, hits[1].InternalID)
	assert.Equal(t, 2, hits[2].InternalID)
	assert.Equal(t, 3, hits[3].InternalID)

	for i := 1; i < len(hits); i++ {
		assert.LessOrEqual(t, hits[i].Score, hits[i-1].Score)
	}
}

// TestStore_QueryMinScore tests that the relevance threshold is strict.
func TestStore_QueryMinScore(t *testing.T) {
	s := New(testDim)

	_, err := s.Add(unitVec(0), 1, EntityTypeLocation, nil) // score 1.0
	require.NoError(t, err)
	_, err = s.Add(unitVec(1), 2, EntityTypeLocation, nil) // score 0.0
	require.NoError(t, err)

	testCases := []struct {
		name     string
		minScore float32
		want     int
	}{
		{"no threshold", -1, 2},
		{"mid threshold drops orthogonal", 0.5, 1},
		{"threshold above everything", 1.1, 0},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			hits, err := s.Query(unitVec(0), 10, tc.minScore, nil)
			require.NoError(t, err)
			assert.Len(t, hits, tc.want)
		})
	}
}

// TestStore_QueryTopK tests topK capping and the non-positive topK edge.
func TestStore_QueryTopK(t *testing.T) {
	s := New(testDim)
	for i := 0; i < 5; i++ {
		_, err := s.Add(unitVec(i%testDim), int32(i), EntityTypeArtifact, nil)
		require.NoError(t, err)
	}

	hits, err := s.Query(unitVec(0), 3, -1, nil)
	require.NoError(t, err)
	assert.Len(t, hits, 3)

	hits, err = s.Query(unitVec(0), 0, -1, nil)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

// TestStore_QueryTypeFilter tests restriction to entity types.
func TestStore_QueryTypeFilter(t *testing.T) {
	s := New(testDim)

	types := []EntityType{EntityTypeLocation, EntityTypeFestival, EntityTypeItem, EntityTypeArtifact}
	for i, et := range types {
		_, err := s.Add(unitVec(0), int32(i), et, nil)
		require.NoError(t, err)
	}

	hits, err := s.Query(unitVec(0), 10, 0, []EntityType{EntityTypeFestival, EntityTypeItem})
	require.NoError(t, err)
	require.Len(t, hits, 2)
	for _, h := range hits {
		assert.Contains(t, []EntityType{EntityTypeFestival, EntityTypeItem}, h.EntityType)
	}
}

// TestStore_QueryDimensionMismatch tests the malformed-query edge.
func TestStore_QueryDimensionMismatch(t *testing.T) {
	s := New(testDim)
	_, err := s.Query(make([]float32, testDim-1), 5, 0, nil)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

// TestStore_Reconstruct tests vector retrieval by internal id.
func TestStore_Reconstruct(t *testing.T) {
	s := New(testDim)

	id, err := s.Add(unitVec(3), 7, EntityTypeItem, nil)
	require.NoError(t, err)

	got, err := s.Reconstruct(id)
	require.NoError(t, err)
	assert.Equal(t, unitVec(3), got)

	// The returned slice is a copy; mutating it must not affect the store.
	got[3] = 0
	again, err := s.Reconstruct(id)
	require.NoError(t, err)
	assert.Equal(t, float32(1.0), again[3])

	_, err = s.Reconstruct(99)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Reconstruct(-1)
	assert.ErrorIs(t, err, ErrNotFound)
}

// TestStore_ZeroVector tests that an all-zero vector is accepted and scores
// zero against everything.
func TestStore_ZeroVector(t *testing.T) {
	s := New(testDim)

	_, err := s.Add(make([]float32, testDim), 1, EntityTypeLocation, nil)
	require.NoError(t, err)
	_, err = s.Add(unitVec(0), 2, EntityTypeLocation, nil)
	require.NoError(t, err)

	hits, err := s.Query(unitVec(0), 10, 0.5, nil)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, int32(2), hits[0].EntityID)
}

// TestNormalize tests the L2 normalization helper.
func TestNormalize(t *testing.T) {
	out := normalize([]float32{3, 4})
	assert.InDelta(t, 0.6, float64(out[0]), 1e-6)
	assert.InDelta(t, 0.8, float64(out[1]), 1e-6)

	var norm float64
	for _, v := range out {
		norm += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-6)

	zero := normalize(make([]float32, 4))
	assert.Equal(t, make([]float32, 4), zero)
}

// TestStore_QueryMetadataPropagated tests that record metadata travels with
// hits.
func TestStore_QueryMetadataPropagated(t *testing.T) {
	s := New(testDim)

	_, err := s.Add(unitVec(0), 5, EntityTypeLocation, map[string]string{
		"title": "Golden Pavilion",
	})
	require.NoError(t, err)

	hits, err := s.Query(unitVec(0), 1, 0, nil)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "Golden Pavilion", hits[0].Metadata["title"])
}

// TestStore_LargeInsert sanity-checks behavior at a few hundred vectors.
func TestStore_LargeInsert(t *testing.T) {
	s := New(testDim)

	for i := 0; i < 300; i++ {
		vec := make([]float32, testDim)
		for j := range vec {
			vec[j] = float32((i*31+j*17)%97) / 97.0
		}
		_, err := s.Add(vec, int32(i), EntityTypeItem, map[string]string{"n": fmt.Sprint(i)})
		require.NoError(t, err)
	}

	hits, err := s.Query(unitVec(1), 10, -1, nil)
	require.NoError(t, err)
	assert.Len(t, hits, 10)
}
