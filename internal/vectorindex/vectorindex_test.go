package vectorindex

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndexAddAndSearch(t *testing.T) {
	idx := New(Config{Dimensions: 4})
	defer idx.Close()

	ids := []string{"a", "b", "c"}
	vectors := [][]float32{
		{1, 0, 0, 0},
		{0, 1, 0, 0},
		{0.9, 0.1, 0, 0},
	}
	require.NoError(t, idx.Add(ids, vectors))

	results, err := idx.Search([]float32{1, 0, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].ID)
	assert.Equal(t, "c", results[1].ID)
	assert.Greater(t, results[0].Score, float32(0.99))
}

func TestIndexDelete(t *testing.T) {
	idx := New(Config{Dimensions: 4})
	defer idx.Close()

	require.NoError(t, idx.Add([]string{"a", "b"}, [][]float32{{1, 0, 0, 0}, {0, 1, 0, 0}}))

	idx.Delete([]string{"a"})
	assert.False(t, idx.Contains("a"))
	assert.Equal(t, 1, idx.Count())
	assert.True(t, idx.Contains("b"))
}

func TestIndexUpdateReplacesVector(t *testing.T) {
	idx := New(Config{Dimensions: 4})
	defer idx.Close()

	require.NoError(t, idx.Add([]string{"a"}, [][]float32{{1, 0, 0, 0}}))
	require.NoError(t, idx.Add([]string{"a"}, [][]float32{{0, 1, 0, 0}}))

	assert.Equal(t, 1, idx.Count())

	results, err := idx.Search([]float32{0, 1, 0, 0}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].ID)
}

func TestIndexPersistenceRoundTrip(t *testing.T) {
	tmpDir := t.TempDir()
	indexPath := filepath.Join(tmpDir, "vectors.hnsw")

	idx1 := New(Config{Dimensions: 4})
	require.NoError(t, idx1.Add([]string{"a", "b"}, [][]float32{{1, 0, 0, 0}, {0, 1, 0, 0}}))
	require.NoError(t, idx1.Save(indexPath))
	require.NoError(t, idx1.Close())

	idx2 := New(Config{Dimensions: 4})
	defer idx2.Close()
	require.NoError(t, idx2.Load(indexPath))

	assert.Equal(t, 2, idx2.Count())
	assert.True(t, idx2.Contains("a"))

	results, err := idx2.Search([]float32{1, 0, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].ID)
}

func TestIndexEmptySearch(t *testing.T) {
	idx := New(Config{Dimensions: 4})
	defer idx.Close()

	results, err := idx.Search([]float32{1, 0, 0, 0}, 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestIndexDimensionMismatchOnAdd(t *testing.T) {
	idx := New(Config{Dimensions: 768})
	defer idx.Close()

	err := idx.Add([]string{"test"}, [][]float32{make([]float32, 256)})
	require.Error(t, err)
}

func TestIndexDimensionMismatchOnSearch(t *testing.T) {
	idx := New(Config{Dimensions: 4})
	defer idx.Close()

	require.NoError(t, idx.Add([]string{"a"}, [][]float32{{1, 0, 0, 0}}))
	_, err := idx.Search([]float32{1, 0}, 10)
	require.Error(t, err)
}

func TestIndexMismatchedIDsAndVectors(t *testing.T) {
	idx := New(Config{Dimensions: 4})
	defer idx.Close()

	err := idx.Add([]string{"a", "b"}, [][]float32{{1, 0, 0, 0}})
	require.Error(t, err)
}

func TestIndexAddEmptyIsNoop(t *testing.T) {
	idx := New(Config{Dimensions: 4})
	defer idx.Close()

	require.NoError(t, idx.Add([]string{}, [][]float32{}))
	assert.Equal(t, 0, idx.Count())
}

func TestIndexOperationsAfterClose(t *testing.T) {
	idx := New(Config{Dimensions: 4})
	require.NoError(t, idx.Close())

	assert.False(t, idx.Contains("a"))
	assert.Equal(t, 0, idx.Count())
	assert.Equal(t, Stats{}, idx.Stats())
	assert.Nil(t, idx.AllIDs())

	err := idx.Add([]string{"a"}, [][]float32{{1, 0, 0, 0}})
	require.Error(t, err)

	_, err = idx.Search([]float32{1, 0, 0, 0}, 1)
	require.Error(t, err)
}

func TestIndexStatsTracksOrphans(t *testing.T) {
	idx := New(Config{Dimensions: 4})
	defer idx.Close()

	require.NoError(t, idx.Add([]string{"a", "b", "c"}, [][]float32{
		{1, 0, 0, 0}, {0, 1, 0, 0}, {0, 0, 1, 0},
	}))
	idx.Delete([]string{"a"})

	stats := idx.Stats()
	assert.Equal(t, 2, stats.ValidIDs)
	assert.Equal(t, 3, stats.GraphNodes)
	assert.Equal(t, 1, stats.Orphans)
}

func TestIndexAllIDs(t *testing.T) {
	idx := New(Config{Dimensions: 4})
	defer idx.Close()

	require.NoError(t, idx.Add([]string{"v1", "v2", "v3"}, [][]float32{
		{1, 0, 0, 0}, {0, 1, 0, 0}, {0, 0, 1, 0},
	}))

	idSet := make(map[string]bool)
	for _, id := range idx.AllIDs() {
		idSet[id] = true
	}
	assert.True(t, idSet["v1"] && idSet["v2"] && idSet["v3"])
}

func TestReadDimensionsNonexistentFile(t *testing.T) {
	dim, err := ReadDimensions("/nonexistent/path/vectors.hnsw")
	require.NoError(t, err)
	assert.Equal(t, 0, dim)
}

func TestReadDimensionsAfterSave(t *testing.T) {
	tmpDir := t.TempDir()
	vectorPath := filepath.Join(tmpDir, "vectors.hnsw")

	idx := New(Config{Dimensions: 768})
	vec := make([]float32, 768)
	for i := range vec {
		vec[i] = float32(i) / 768.0
	}
	require.NoError(t, idx.Add([]string{"test-id"}, [][]float32{vec}))
	require.NoError(t, idx.Save(vectorPath))
	require.NoError(t, idx.Close())

	dim, err := ReadDimensions(vectorPath)
	require.NoError(t, err)
	assert.Equal(t, 768, dim)
}

func TestLoadCorruptedMeta(t *testing.T) {
	tmpDir := t.TempDir()
	indexPath := filepath.Join(tmpDir, "test.hnsw")

	idx1 := New(Config{Dimensions: 64})
	require.NoError(t, idx1.Add([]string{"v1"}, [][]float32{make([]float32, 64)}))
	require.NoError(t, idx1.Save(indexPath))
	require.NoError(t, idx1.Close())

	require.NoError(t, os.WriteFile(indexPath+".meta", []byte("not a gob stream"), 0o644))

	idx2 := New(Config{Dimensions: 64})
	defer idx2.Close()
	err := idx2.Load(indexPath)
	require.Error(t, err)
}

func TestSaveCreatesNestedDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	indexPath := filepath.Join(tmpDir, "nested", "deep", "index.hnsw")

	idx := New(Config{Dimensions: 8})
	defer idx.Close()
	require.NoError(t, idx.Add([]string{"v1"}, [][]float32{make([]float32, 8)}))
	require.NoError(t, idx.Save(indexPath))

	_, err := os.Stat(indexPath)
	require.NoError(t, err)
	_, err = os.Stat(indexPath + ".meta")
	require.NoError(t, err)
}

func TestNormalizeInPlace(t *testing.T) {
	v := []float32{3, 4, 0, 0}
	normalizeInPlace(v)

	var length float64
	for _, val := range v {
		length += float64(val) * float64(val)
	}
	assert.InDelta(t, 1.0, math.Sqrt(length), 0.0001)
	assert.InDelta(t, 0.6, float64(v[0]), 0.0001)
	assert.InDelta(t, 0.8, float64(v[1]), 0.0001)
}

func TestNormalizeInPlaceZeroVector(t *testing.T) {
	v := []float32{0, 0, 0, 0}
	normalizeInPlace(v)
	for _, val := range v {
		assert.False(t, math.IsNaN(float64(val)))
		assert.Equal(t, float32(0), val)
	}
}

func TestConcurrentAddAndSearch(t *testing.T) {
	idx := New(Config{Dimensions: 4})
	defer idx.Close()

	require.NoError(t, idx.Add([]string{"a", "b"}, [][]float32{{1, 0, 0, 0}, {0, 1, 0, 0}}))

	const goroutines = 10
	done := make(chan bool, goroutines*2)

	for i := 0; i < goroutines; i++ {
		go func() {
			for j := 0; j < 50; j++ {
				_, _ = idx.Search([]float32{1, 0, 0, 0}, 2)
			}
			done <- true
		}()
	}
	for i := 0; i < goroutines; i++ {
		i := i
		go func() {
			for j := 0; j < 50; j++ {
				id := fmt.Sprintf("concurrent_%d_%d", i, j)
				vec := []float32{float32(i), float32(j), 0, 0}
				normalizeInPlace(vec)
				_ = idx.Add([]string{id}, [][]float32{vec})
			}
			done <- true
		}()
	}
	for i := 0; i < goroutines*2; i++ {
		<-done
	}

	assert.Greater(t, idx.Count(), 2)
}
