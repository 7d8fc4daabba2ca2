package store

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/coder/hnsw"

	"github.com/hephaestus-forge/mnemo/internal/embed"
	mnerr "github.com/hephaestus-forge/mnemo/internal/errors"
)

// HNSW tuning defaults.
const (
	hnswM        = 16
	hnswEfSearch = 64
)

// vectorIndex is the in-memory nearest-neighbor index over chunk
// embeddings. The durable source of truth is the chunk_embeddings table;
// the graph is rebuilt from it on open.
//
// Deletions are lazy: the node stays in the graph but loses its ID
// mapping, so it can never surface in results. This sidesteps graph
// repair on removal of the last node.
type vectorIndex struct {
	mu    sync.RWMutex
	graph *hnsw.Graph[uint64]
	dims  int

	idMap   map[string]uint64
	keyMap  map[uint64]string
	nextKey uint64
}

func newVectorIndex(dims int) *vectorIndex {
	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = hnswM
	graph.EfSearch = hnswEfSearch
	graph.Ml = 0.25

	return &vectorIndex{
		graph:  graph,
		dims:   dims,
		idMap:  make(map[string]uint64),
		keyMap: make(map[uint64]string),
	}
}

// add inserts or replaces a vector for the chunk id.
func (v *vectorIndex) add(id string, vector []float32) error {
	if len(vector) != v.dims {
		return mnerr.New(mnerr.ErrCodeDimensionMismatch,
			fmt.Sprintf("expected %d dimensions, got %d", v.dims, len(vector)), nil)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if existing, ok := v.idMap[id]; ok {
		delete(v.keyMap, existing)
		delete(v.idMap, id)
	}

	key := v.nextKey
	v.nextKey++

	vec := make([]float32, len(vector))
	copy(vec, vector)

	v.graph.Add(hnsw.MakeNode(key, vec))
	v.idMap[id] = key
	v.keyMap[key] = id
	return nil
}

// search finds the k nearest chunks by cosine distance.
// Score is mapped as 1 / (1 + distance).
func (v *vectorIndex) search(query []float32, k int) ([]VectorHit, error) {
	if len(query) != v.dims {
		return nil, mnerr.New(mnerr.ErrCodeDimensionMismatch,
			fmt.Sprintf("expected %d dimensions, got %d", v.dims, len(query)), nil)
	}

	v.mu.RLock()
	defer v.mu.RUnlock()

	if v.graph.Len() == 0 || k <= 0 {
		return []VectorHit{}, nil
	}

	// Over-ask to compensate for lazily-deleted nodes in the result set.
	orphans := int(v.nextKey) - len(v.keyMap)
	nodes := v.graph.Search(query, k+orphans)

	hits := make([]VectorHit, 0, k)
	for _, node := range nodes {
		id, ok := v.keyMap[node.Key]
		if !ok {
			continue // lazily deleted
		}
		distance := v.graph.Distance(query, node.Value)
		hits = append(hits, VectorHit{
			ChunkID:  id,
			Distance: distance,
			Score:    1.0 / (1.0 + float64(distance)),
		})
		if len(hits) == k {
			break
		}
	}
	return hits, nil
}

// remove drops the chunk's vector. Missing ids are a no-op.
func (v *vectorIndex) remove(id string) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if key, ok := v.idMap[id]; ok {
		delete(v.keyMap, key)
		delete(v.idMap, id)
	}
}

// contains reports whether the chunk has a live vector.
func (v *vectorIndex) contains(id string) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	_, ok := v.idMap[id]
	return ok
}

// count returns the number of live vectors.
func (v *vectorIndex) count() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.idMap)
}

// encodeVector serializes a float32 vector as a little-endian blob.
func encodeVector(vector []float32) []byte {
	buf := make([]byte, 4*len(vector))
	for i, f := range vector {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeVector deserializes a little-endian blob into a float32 vector.
func decodeVector(data []byte) []float32 {
	vector := make([]float32, len(data)/4)
	for i := range vector {
		vector[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return vector
}

// validateEmbedding enforces the dimension and unit-norm invariants.
func validateEmbedding(vector []float32, dims int) error {
	if len(vector) != dims {
		return mnerr.New(mnerr.ErrCodeDimensionMismatch,
			fmt.Sprintf("expected %d dimensions, got %d", dims, len(vector)), nil)
	}
	if !embed.IsUnitLength(vector) {
		return mnerr.InvalidArgument("embedding vector is not unit length")
	}
	return nil
}
