// Package search answers top-k queries against the example corpus by
// combining dense vector similarity with a lexical re-ranking signal.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/docsage/exemplar/internal/embed"
	"github.com/docsage/exemplar/internal/store"
	"github.com/docsage/exemplar/internal/text"
)

// Result is one retrieval hit.
type Result struct {
	Example    *store.Example
	Similarity float64 // rescaled vector similarity in [0,1]
	Lexical    float64 // min-max normalized lexical score (hybrid only)
	Hybrid     float64 // alpha*Similarity + (1-alpha)*Lexical (hybrid only)
}

// Retriever serves queries against the reloaded base record. Reads after
// initialization are lock-free in the hot path sense: the in-memory
// record is never mutated, only swapped whole by Reload.
type Retriever struct {
	store    *store.IndexStore
	embedder embed.Embedder

	mu      sync.RWMutex
	rec     *store.IndexRecord
	lexical *store.LexicalIndex
	lexErr  bool // lexical build failed; degrade to vector-only
}

// NewRetriever creates a retriever and loads the current base record.
func NewRetriever(st *store.IndexStore, embedder embed.Embedder) *Retriever {
	r := &Retriever{store: st, embedder: embedder}
	r.rec = st.LoadBase()
	return r
}

// Reload re-reads the base record and swaps it in, invalidating the
// lexical index. Any query issued after Reload returns observes every
// merge that completed before the Reload started.
func (r *Retriever) Reload(ctx context.Context) error {
	rec := r.store.LoadBase()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lexical != nil {
		_ = r.lexical.Close()
	}
	r.rec = rec
	r.lexical = nil
	r.lexErr = false
	return nil
}

// CountExamples returns the number of examples in the corpus, soft-deleted
// ones included: deletion never removes a vector or its metadata.
func (r *Retriever) CountExamples() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rec.Metadata)
}

// similarityFromDistance converts an index distance to a similarity in
// [0,1] via a fixed linear rescale. It is not a probability; only the
// ordering and threshold comparisons matter.
func similarityFromDistance(distance float32) float64 {
	sim := 1 - float64(distance)/100
	if sim < 0 {
		return 0
	}
	return sim
}

// candidate is an intermediate vector hit keyed by example id.
type candidate struct {
	example    *store.Example
	similarity float64
}

// vectorCandidates embeds the normalized query and returns up to limit
// live candidates above threshold, de-duplicated by id (best instance
// kept), sorted by similarity descending. Soft-deleted examples are
// dropped here, at query time; the index itself never forgets them.
func (r *Retriever) vectorCandidates(ctx context.Context, query string, limit int, threshold float64) ([]candidate, error) {
	r.mu.RLock()
	rec := r.rec
	r.mu.RUnlock()

	count := rec.Index.Count()
	if count == 0 || limit <= 0 {
		return nil, nil
	}
	if limit > count {
		limit = count
	}

	queryVec, err := r.embedder.Embed(ctx, text.Normalize(query))
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	matches, err := rec.Index.Search(queryVec, limit)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	best := make(map[string]candidate, len(matches))
	for _, match := range matches {
		id, ok := rec.SlotToID[match.Slot]
		if !ok {
			continue
		}
		example, ok := rec.Metadata[id]
		if !ok || example.Deleted() {
			continue
		}
		sim := similarityFromDistance(match.Distance)
		if sim < threshold {
			continue
		}
		if prev, ok := best[id]; !ok || sim > prev.similarity {
			best[id] = candidate{example: example, similarity: sim}
		}
	}

	candidates := make([]candidate, 0, len(best))
	for _, c := range best {
		candidates = append(candidates, c)
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].similarity != candidates[j].similarity {
			return candidates[i].similarity > candidates[j].similarity
		}
		return candidates[i].example.ID < candidates[j].example.ID
	})
	return candidates, nil
}

// SearchVector returns the topK examples nearest to the query by vector
// similarity, filtered by threshold. If the first pass returns nothing,
// it retries once with topK=1 and threshold 0 so callers that need a
// best-effort example are never starved by a strict threshold.
func (r *Retriever) SearchVector(ctx context.Context, query string, topK int, threshold float64) ([]Result, error) {
	results, err := r.searchVectorOnce(ctx, query, topK, threshold)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 && topK > 0 {
		return r.searchVectorOnce(ctx, query, 1, 0)
	}
	return results, nil
}

func (r *Retriever) searchVectorOnce(ctx context.Context, query string, topK int, threshold float64) ([]Result, error) {
	candidates, err := r.vectorCandidates(ctx, query, 2*topK, threshold)
	if err != nil {
		return nil, err
	}
	if len(candidates) > topK {
		candidates = candidates[:topK]
	}
	results := make([]Result, 0, len(candidates))
	for _, c := range candidates {
		results = append(results, Result{
			Example:    c.example,
			Similarity: c.similarity,
			Hybrid:     c.similarity,
		})
	}
	return results, nil
}

// SearchHybrid ranks by a weighted combination of vector similarity and
// a lexical score computed over the vector candidates only: the lexical
// index re-ranks, it never sources new candidates. A candidate survives
// when either its hybrid score or its raw vector similarity clears the
// threshold, so a lexically-weak but vector-strong match still appears.
// Falls back to SearchVector when the lexical index is unavailable.
func (r *Retriever) SearchHybrid(ctx context.Context, query string, topK int, threshold, alpha float64) ([]Result, error) {
	lex := r.lexicalIndex(ctx)
	if lex == nil {
		return r.SearchVector(ctx, query, topK, threshold)
	}

	results, err := r.searchHybridOnce(ctx, lex, query, topK, threshold, alpha)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 && topK > 0 {
		return r.searchHybridOnce(ctx, lex, query, 1, 0, alpha)
	}
	return results, nil
}

func (r *Retriever) searchHybridOnce(ctx context.Context, lex *store.LexicalIndex, query string, topK int, threshold, alpha float64) ([]Result, error) {
	// No vector-side filtering here; the hybrid threshold decides below.
	candidates, err := r.vectorCandidates(ctx, query, 3*topK, 0)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return []Result{}, nil
	}

	ids := make([]string, len(candidates))
	for i, c := range candidates {
		ids[i] = c.example.ID
	}
	rawScores, err := lex.Scores(ctx, text.Normalize(query), ids)
	if err != nil {
		slog.Warn("lexical scoring failed, using vector order",
			slog.String("error", err.Error()))
		return r.searchVectorOnce(ctx, query, topK, threshold)
	}

	normalized := minMaxNormalize(ids, rawScores)

	results := make([]Result, 0, len(candidates))
	for i, c := range candidates {
		lexScore := normalized[ids[i]]
		hybrid := alpha*c.similarity + (1-alpha)*lexScore
		if hybrid < threshold && c.similarity < threshold {
			continue
		}
		results = append(results, Result{
			Example:    c.example,
			Similarity: c.similarity,
			Lexical:    lexScore,
			Hybrid:     hybrid,
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Hybrid != results[j].Hybrid {
			return results[i].Hybrid > results[j].Hybrid
		}
		return results[i].Example.ID < results[j].Example.ID
	})
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// minMaxNormalize rescales scores to [0,1] within the candidate set. If
// all candidates tie, the normalized score is 1 when the tie value is
// positive and 0 otherwise.
func minMaxNormalize(ids []string, scores map[string]float64) map[string]float64 {
	if len(ids) == 0 {
		return map[string]float64{}
	}
	min, max := scores[ids[0]], scores[ids[0]]
	for _, id := range ids[1:] {
		s := scores[id]
		if s < min {
			min = s
		}
		if s > max {
			max = s
		}
	}

	normalized := make(map[string]float64, len(ids))
	if max == min {
		val := 0.0
		if max > 0 {
			val = 1.0
		}
		for _, id := range ids {
			normalized[id] = val
		}
		return normalized
	}
	for _, id := range ids {
		normalized[id] = (scores[id] - min) / (max - min)
	}
	return normalized
}

// lexicalIndex returns the lazily built lexical index, or nil when the
// build failed (vector-only degradation, logged once per corpus state).
func (r *Retriever) lexicalIndex(ctx context.Context) *store.LexicalIndex {
	r.mu.RLock()
	if r.lexical != nil || r.lexErr {
		lex := r.lexical
		r.mu.RUnlock()
		return lex
	}
	rec := r.rec
	r.mu.RUnlock()

	lex, err := buildLexicalIndex(ctx, rec)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rec != rec {
		// Corpus changed underneath the build; drop it and let the next
		// query rebuild against the fresh record.
		if lex != nil {
			_ = lex.Close()
		}
		return nil
	}
	if err != nil {
		slog.Warn("lexical index build failed, degrading to vector-only",
			slog.String("error", err.Error()))
		r.lexErr = true
		return nil
	}
	r.lexical = lex
	return lex
}

func buildLexicalIndex(ctx context.Context, rec *store.IndexRecord) (*store.LexicalIndex, error) {
	lex, err := store.NewLexicalIndex()
	if err != nil {
		return nil, err
	}
	docs := make([]store.LexicalDoc, 0, len(rec.Metadata))
	for id, example := range rec.Metadata {
		docs = append(docs, store.LexicalDoc{ID: id, Text: example.SourceText})
	}
	if err := lex.Index(ctx, docs); err != nil {
		_ = lex.Close()
		return nil, err
	}
	return lex, nil
}

// GetKeyOrder returns the recorded field ordering for a category. The
// scan is deterministic (examples sorted by id) so repeated calls agree
// even though map iteration order does not: prefer the first example of
// the category with non-empty item keys, then the first of the category
// at all, then the first example anywhere with non-empty item keys.
func (r *Retriever) GetKeyOrder(category string) *store.KeyOrder {
	r.mu.RLock()
	rec := r.rec
	r.mu.RUnlock()

	ids := make([]string, 0, len(rec.Metadata))
	for id := range rec.Metadata {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var categoryFallback *store.KeyOrder
	var globalFallback *store.KeyOrder
	for _, id := range ids {
		example := rec.Metadata[id]
		ko := example.KeyOrder
		if example.Category() == category {
			if len(ko.ItemKeys) > 0 {
				return &ko
			}
			if categoryFallback == nil {
				categoryFallback = &ko
			}
		} else if globalFallback == nil && len(ko.ItemKeys) > 0 {
			globalFallback = &ko
		}
	}
	if categoryFallback != nil {
		return categoryFallback
	}
	return globalFallback
}
