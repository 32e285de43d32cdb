// Package vectorindex wraps coder/hnsw into an approximate nearest
// neighbor index over chunk embeddings, keyed by string chunk id and
// searched by cosine similarity.
package vectorindex

import (
	"bufio"
	"encoding/gob"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/coder/hnsw"

	"github.com/shadowlog/shadowlog/internal/shaderrors"
)

// Config configures a new Index.
type Config struct {
	Dimensions int
	M          int
	EfSearch   int
}

func (c Config) withDefaults() Config {
	if c.M == 0 {
		c.M = 16
	}
	if c.EfSearch == 0 {
		c.EfSearch = 20
	}
	return c
}

// Result is one nearest-neighbor hit.
type Result struct {
	ID       string
	Distance float32
	Score    float32
}

// Index is a cosine-distance HNSW index over string-keyed vectors. It
// deletes lazily: removed ids are dropped from the lookup tables but
// their nodes remain in the underlying graph, which sidesteps a
// coder/hnsw bug where deleting the last node corrupts the graph.
type Index struct {
	mu      sync.RWMutex
	graph   *hnsw.Graph[uint64]
	config  Config
	idMap   map[string]uint64
	keyMap  map[uint64]string
	nextKey uint64
	closed  bool
}

type indexMetadata struct {
	IDMap   map[string]uint64
	NextKey uint64
	Config  Config
}

// New builds an empty Index for the given configuration.
func New(cfg Config) *Index {
	cfg = cfg.withDefaults()

	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = cfg.M
	graph.EfSearch = cfg.EfSearch
	graph.Ml = 0.25

	return &Index{
		graph:  graph,
		config: cfg,
		idMap:  make(map[string]uint64),
		keyMap: make(map[uint64]string),
	}
}

// Add inserts or replaces vectors under the given ids. Vectors are
// L2-normalized before insertion so cosine distance behaves correctly.
func (idx *Index) Add(ids []string, vectors [][]float32) error {
	if len(ids) == 0 {
		return nil
	}
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch: %d vs %d", len(ids), len(vectors))
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.closed {
		return shaderrors.New(shaderrors.ErrCodeWorkerNotRunning, "vector index closed", nil)
	}

	for _, v := range vectors {
		if len(v) != idx.config.Dimensions {
			return shaderrors.New(shaderrors.ErrCodeDimensionMismatch,
				fmt.Sprintf("expected %d dims, got %d", idx.config.Dimensions, len(v)), nil)
		}
	}

	for i, id := range ids {
		if existingKey, exists := idx.idMap[id]; exists {
			delete(idx.keyMap, existingKey)
			delete(idx.idMap, id)
		}

		key := idx.nextKey
		idx.nextKey++

		vec := make([]float32, len(vectors[i]))
		copy(vec, vectors[i])
		normalizeInPlace(vec)

		idx.graph.Add(hnsw.MakeNode(key, vec))
		idx.idMap[id] = key
		idx.keyMap[key] = id
	}
	return nil
}

// Search returns the k nearest neighbors to query by cosine similarity.
func (idx *Index) Search(query []float32, k int) ([]Result, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if idx.closed {
		return nil, shaderrors.New(shaderrors.ErrCodeWorkerNotRunning, "vector index closed", nil)
	}
	if len(query) != idx.config.Dimensions {
		return nil, shaderrors.New(shaderrors.ErrCodeDimensionMismatch,
			fmt.Sprintf("expected %d dims, got %d", idx.config.Dimensions, len(query)), nil)
	}
	if idx.graph.Len() == 0 {
		return nil, nil
	}

	normalizedQuery := make([]float32, len(query))
	copy(normalizedQuery, query)
	normalizeInPlace(normalizedQuery)

	nodes := idx.graph.Search(normalizedQuery, k)

	results := make([]Result, 0, len(nodes))
	for _, node := range nodes {
		id, exists := idx.keyMap[node.Key]
		if !exists {
			continue
		}
		distance := idx.graph.Distance(normalizedQuery, node.Value)
		results = append(results, Result{
			ID:       id,
			Distance: distance,
			Score:    1.0 - distance/2.0,
		})
	}
	return results, nil
}

// Delete removes ids from the index's lookup tables. Their vectors stay
// in the underlying graph as unreachable orphans.
func (idx *Index) Delete(ids []string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	for _, id := range ids {
		if key, exists := idx.idMap[id]; exists {
			delete(idx.keyMap, key)
			delete(idx.idMap, id)
		}
	}
}

// AllIDs returns every currently indexed id, in no particular order.
// Used to cross-check consistency against the keyword index and catalog.
func (idx *Index) AllIDs() []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if idx.closed {
		return nil
	}
	ids := make([]string, 0, len(idx.idMap))
	for id := range idx.idMap {
		ids = append(ids, id)
	}
	return ids
}

// Contains reports whether id is currently indexed.
func (idx *Index) Contains(id string) bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if idx.closed {
		return false
	}
	_, ok := idx.idMap[id]
	return ok
}

// Count returns the number of live (non-orphaned) vectors.
func (idx *Index) Count() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if idx.closed {
		return 0
	}
	return len(idx.idMap)
}

// Stats reports live vectors vs. total graph nodes, for deciding when a
// rebuild would be worthwhile.
type Stats struct {
	ValidIDs   int
	GraphNodes int
	Orphans    int
}

// Stats computes current index statistics.
func (idx *Index) Stats() Stats {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if idx.closed {
		return Stats{}
	}
	valid := len(idx.idMap)
	total := idx.graph.Len()
	return Stats{ValidIDs: valid, GraphNodes: total, Orphans: total - valid}
}

// Save persists the graph and id mappings to path (+".meta"), writing
// through a temp file and renaming into place.
func (idx *Index) Save(path string) error {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if idx.closed {
		return shaderrors.New(shaderrors.ErrCodeWorkerNotRunning, "vector index closed", nil)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return shaderrors.Wrap(shaderrors.ErrCodeIOFailure, err)
		}
	}

	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return shaderrors.Wrap(shaderrors.ErrCodeIOFailure, err)
	}
	if err := idx.graph.Export(file); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return shaderrors.Wrap(shaderrors.ErrCodeIOFailure, err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return shaderrors.Wrap(shaderrors.ErrCodeIOFailure, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return shaderrors.Wrap(shaderrors.ErrCodeIOFailure, err)
	}

	return idx.saveMetadata(path + ".meta")
}

func (idx *Index) saveMetadata(path string) error {
	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return shaderrors.Wrap(shaderrors.ErrCodeIOFailure, err)
	}

	meta := indexMetadata{IDMap: idx.idMap, NextKey: idx.nextKey, Config: idx.config}
	if err := gob.NewEncoder(file).Encode(meta); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return shaderrors.Wrap(shaderrors.ErrCodeIOFailure, err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return shaderrors.Wrap(shaderrors.ErrCodeIOFailure, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return shaderrors.Wrap(shaderrors.ErrCodeIOFailure, err)
	}
	return nil
}

// Load replaces the index's contents with what's stored at path. A
// missing path is not an error: it leaves the index empty, matching a
// fresh index that has never been saved.
func (idx *Index) Load(path string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.closed {
		return shaderrors.New(shaderrors.ErrCodeWorkerNotRunning, "vector index closed", nil)
	}

	if err := idx.loadMetadata(path + ".meta"); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return shaderrors.Wrap(shaderrors.ErrCodeIOFailure, err)
	}
	defer file.Close()

	reader := bufio.NewReader(file)
	if err := idx.graph.Import(reader); err != nil {
		return shaderrors.Wrap(shaderrors.ErrCodeIOFailure, err)
	}
	return nil
}

func (idx *Index) loadMetadata(path string) error {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return err
		}
		return shaderrors.Wrap(shaderrors.ErrCodeIOFailure, err)
	}
	defer file.Close()

	var meta indexMetadata
	if err := gob.NewDecoder(file).Decode(&meta); err != nil {
		return shaderrors.Wrap(shaderrors.ErrCodeIOFailure, err)
	}

	idx.idMap = meta.IDMap
	idx.keyMap = make(map[uint64]string, len(meta.IDMap))
	idx.nextKey = meta.NextKey
	idx.config = meta.Config
	for id, key := range idx.idMap {
		idx.keyMap[key] = id
	}
	return nil
}

// Close releases the index. A closed Index rejects further operations.
func (idx *Index) Close() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.closed = true
	idx.graph = nil
	return nil
}

// ReadDimensions reads just the metadata sidecar for path and reports the
// dimensionality it was built with, without loading the full graph. A
// missing sidecar reports 0 with no error, signaling a fresh start.
func ReadDimensions(path string) (int, error) {
	file, err := os.Open(path + ".meta")
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, shaderrors.Wrap(shaderrors.ErrCodeIOFailure, err)
	}
	defer file.Close()

	var meta indexMetadata
	if err := gob.NewDecoder(file).Decode(&meta); err != nil {
		return 0, shaderrors.Wrap(shaderrors.ErrCodeIOFailure, err)
	}
	return meta.Config.Dimensions, nil
}

func normalizeInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= inv
	}
}
