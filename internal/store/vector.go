package store

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"github.com/coder/hnsw"
)

// VectorIndex is an append-only collection of fixed-dimension vectors
// addressed by dense integer slots starting at 0. Vectors are never
// removed or updated in place; the only mutations are Append and Merge.
// An HNSW graph keyed by slot serves nearest-neighbor queries.
type VectorIndex struct {
	dim     int
	vectors [][]float32
	graph   *hnsw.Graph[uint64]
}

// SlotMatch is one nearest-neighbor hit, addressed by slot.
type SlotMatch struct {
	Slot     int
	Distance float32
}

// vectorIndexState is the gob wire form. The graph is rebuilt from the
// slab on load, so only the vectors themselves travel.
type vectorIndexState struct {
	Dim     int
	Vectors [][]float32
}

func newGraph() *hnsw.Graph[uint64] {
	g := hnsw.NewGraph[uint64]()
	g.Distance = hnsw.EuclideanDistance
	g.M = 16
	g.EfSearch = 32
	g.Ml = 0.25
	return g
}

// NewVectorIndex creates an empty index for vectors of the given dimension.
func NewVectorIndex(dim int) *VectorIndex {
	return &VectorIndex{dim: dim, graph: newGraph()}
}

// Dimension returns the configured vector dimension.
func (x *VectorIndex) Dimension() int { return x.dim }

// Count returns the number of vectors (the next free slot).
func (x *VectorIndex) Count() int { return len(x.vectors) }

// Vector returns the vector at slot. The caller must not mutate it.
func (x *VectorIndex) Vector(slot int) ([]float32, error) {
	if slot < 0 || slot >= len(x.vectors) {
		return nil, fmt.Errorf("slot %d out of range [0,%d)", slot, len(x.vectors))
	}
	return x.vectors[slot], nil
}

// Append adds a vector and returns its slot.
func (x *VectorIndex) Append(vec []float32) (int, error) {
	if len(vec) != x.dim {
		return 0, ErrDimensionMismatch{Expected: x.dim, Got: len(vec)}
	}
	own := make([]float32, len(vec))
	copy(own, vec)

	slot := len(x.vectors)
	x.vectors = append(x.vectors, own)
	x.graph.Add(hnsw.MakeNode(uint64(slot), own))
	return slot, nil
}

// Search returns up to k nearest neighbors by Euclidean distance,
// ordered nearest first.
func (x *VectorIndex) Search(query []float32, k int) ([]SlotMatch, error) {
	if len(query) != x.dim {
		return nil, ErrDimensionMismatch{Expected: x.dim, Got: len(query)}
	}
	if len(x.vectors) == 0 || k <= 0 {
		return []SlotMatch{}, nil
	}

	nodes := x.graph.Search(query, k)
	matches := make([]SlotMatch, 0, len(nodes))
	for _, node := range nodes {
		matches = append(matches, SlotMatch{
			Slot:     int(node.Key),
			Distance: x.graph.Distance(query, node.Value),
		})
	}
	return matches, nil
}

// Merge appends every vector of other to x, preserving other's slot
// order, and returns the slot offset: other's slot s now answers at
// x slot offset+s. Merging an empty index is a no-op.
func (x *VectorIndex) Merge(other *VectorIndex) (int, error) {
	offset := len(x.vectors)
	if other == nil || other.Count() == 0 {
		return offset, nil
	}
	if other.dim != x.dim {
		return 0, ErrDimensionMismatch{Expected: x.dim, Got: other.dim}
	}
	for slot := 0; slot < other.Count(); slot++ {
		if _, err := x.Append(other.vectors[slot]); err != nil {
			return 0, fmt.Errorf("merge slot %d: %w", slot, err)
		}
	}
	return offset, nil
}

// Encode serializes the index. Only the vector slab is written; the
// search graph is reconstructed on decode.
func (x *VectorIndex) Encode() ([]byte, error) {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	if err := enc.Encode(vectorIndexState{Dim: x.dim, Vectors: x.vectors}); err != nil {
		return nil, fmt.Errorf("encode vector index: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeVectorIndex deserializes an index and rebuilds its search graph.
func DecodeVectorIndex(data []byte) (*VectorIndex, error) {
	var state vectorIndexState
	dec := gob.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&state); err != nil {
		return nil, fmt.Errorf("decode vector index: %w", err)
	}
	if state.Dim <= 0 {
		return nil, fmt.Errorf("decode vector index: invalid dimension %d", state.Dim)
	}

	x := NewVectorIndex(state.Dim)
	for _, vec := range state.Vectors {
		if _, err := x.Append(vec); err != nil {
			return nil, fmt.Errorf("rebuild graph: %w", err)
		}
	}
	return x, nil
}
