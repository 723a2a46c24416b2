package store

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/registry"
)

const (
	// WordTokenizerName is the registry name of the word/CJK tokenizer.
	WordTokenizerName = "word_cjk_tokenizer"

	// WordAnalyzerName is the registry name of the analyzer built on it.
	WordAnalyzerName = "word_cjk_analyzer"
)

func init() {
	_ = registry.RegisterTokenizer(WordTokenizerName, wordTokenizerConstructor)
}

// LexicalDoc is one document fed to the lexical index.
type LexicalDoc struct {
	ID   string
	Text string
}

// lexicalFields is the indexed document shape.
type lexicalFields struct {
	Text string `json:"text"`
}

// LexicalIndex scores documents against a query using Bleve's matching
// over word/CJK tokens. It is memory-only and disposable: the retriever
// rebuilds it from the corpus whenever the corpus changes.
type LexicalIndex struct {
	mu     sync.RWMutex
	index  bleve.Index
	count  int
	closed bool
}

// NewLexicalIndex creates an empty in-memory lexical index.
func NewLexicalIndex() (*LexicalIndex, error) {
	indexMapping, err := createLexicalMapping()
	if err != nil {
		return nil, err
	}
	idx, err := bleve.NewMemOnly(indexMapping)
	if err != nil {
		return nil, fmt.Errorf("create lexical index: %w", err)
	}
	return &LexicalIndex{index: idx}, nil
}

func createLexicalMapping() (*mapping.IndexMappingImpl, error) {
	indexMapping := bleve.NewIndexMapping()
	err := indexMapping.AddCustomAnalyzer(WordAnalyzerName, map[string]interface{}{
		"type":          custom.Name,
		"tokenizer":     WordTokenizerName,
		"token_filters": []string{lowercase.Name},
	})
	if err != nil {
		return nil, fmt.Errorf("add custom analyzer: %w", err)
	}
	indexMapping.DefaultAnalyzer = WordAnalyzerName
	return indexMapping, nil
}

// Index adds documents in one batch.
func (l *LexicalIndex) Index(ctx context.Context, docs []LexicalDoc) error {
	if len(docs) == 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return fmt.Errorf("lexical index is closed")
	}

	batch := l.index.NewBatch()
	for _, doc := range docs {
		if err := batch.Index(doc.ID, lexicalFields{Text: doc.Text}); err != nil {
			return fmt.Errorf("index document %s: %w", doc.ID, err)
		}
	}
	if err := l.index.Batch(batch); err != nil {
		return fmt.Errorf("execute batch: %w", err)
	}
	l.count += len(docs)
	return nil
}

// DocCount returns the number of indexed documents.
func (l *LexicalIndex) DocCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.count
}

// Scores returns a lexical relevance score for each requested id. Ids that
// do not match the query at all score 0. Only relative ordering and the
// min/max within the requested subset are meaningful; the absolute scale
// is Bleve's and is not normalized here.
func (l *LexicalIndex) Scores(ctx context.Context, query string, ids []string) (map[string]float64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.closed {
		return nil, fmt.Errorf("lexical index is closed")
	}

	scores := make(map[string]float64, len(ids))
	for _, id := range ids {
		scores[id] = 0
	}
	if strings.TrimSpace(query) == "" || l.count == 0 {
		return scores, nil
	}

	matchQuery := bleve.NewMatchQuery(query)
	matchQuery.SetField("text")

	req := bleve.NewSearchRequest(matchQuery)
	req.Size = l.count
	req.Fields = []string{}

	result, err := l.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("lexical search: %w", err)
	}

	for _, hit := range result.Hits {
		if _, wanted := scores[hit.ID]; wanted {
			scores[hit.ID] = hit.Score
		}
	}
	return scores, nil
}

// Close releases the index.
func (l *LexicalIndex) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true
	return l.index.Close()
}

// wordTokenizerConstructor creates the word/CJK tokenizer for Bleve.
func wordTokenizerConstructor(config map[string]interface{}, cache *registry.Cache) (analysis.Tokenizer, error) {
	return &wordTokenizer{}, nil
}

// wordTokenizer implements analysis.Tokenizer over Tokenize.
type wordTokenizer struct{}

// Tokenize implements analysis.Tokenizer.
func (t *wordTokenizer) Tokenize(input []byte) analysis.TokenStream {
	text := string(input)
	locs := tokenRegex.FindAllStringIndex(text, -1)

	result := make(analysis.TokenStream, 0, len(locs))
	for i, loc := range locs {
		result = append(result, &analysis.Token{
			Term:     []byte(text[loc[0]:loc[1]]),
			Start:    loc[0],
			End:      loc[1],
			Position: i + 1,
			Type:     analysis.AlphaNumeric,
		})
	}
	return result
}
