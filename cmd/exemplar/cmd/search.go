package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"github.com/docsage/exemplar/internal/lifecycle"
	"github.com/docsage/exemplar/internal/search"
)

// searchOptions holds CLI flags for search.
type searchOptions struct {
	topK       int
	threshold  float64
	alpha      float64
	vectorOnly bool
	category   string
	format     string // "text", "json"
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search indexed examples",
		Long: `Search the example index with hybrid retrieval.

Vector similarity and lexical term matches are blended with a
configurable alpha weight. Results below the threshold on both
scores are dropped.

Examples:
  exemplar search "Rechnungsnummer 2024-0815"
  exemplar search "net total" --top-k 3 --format json
  exemplar search "rebate tier" --vector-only`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			return runSearch(cmd.Context(), cmd, query, opts)
		},
	}

	cmd.Flags().IntVarP(&opts.topK, "top-k", "n", 0, "Maximum number of results (default from config)")
	cmd.Flags().Float64Var(&opts.threshold, "threshold", -1, "Similarity threshold in [0,1] (default from config)")
	cmd.Flags().Float64Var(&opts.alpha, "alpha", -1, "Hybrid weight for vector similarity (default from config)")
	cmd.Flags().BoolVar(&opts.vectorOnly, "vector-only", false, "Skip lexical scoring, rank by vector similarity only")
	cmd.Flags().StringVar(&opts.category, "category", "", "Only return examples from this category")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")

	return cmd
}

func runSearch(ctx context.Context, cmd *cobra.Command, query string, opts searchOptions) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if opts.topK <= 0 {
		opts.topK = cfg.Search.TopK
	}
	if opts.threshold < 0 {
		opts.threshold = cfg.Search.Threshold
	}
	if opts.alpha < 0 {
		opts.alpha = cfg.Search.Alpha
	}

	session := lifecycle.NewSession(cfg)
	if err := session.Open(ctx); err != nil {
		return err
	}
	defer func() { _ = session.Close() }()

	retriever := session.Retriever()
	if retriever.CountExamples() == 0 {
		return fmt.Errorf("no examples indexed. Run 'exemplar index' first")
	}

	var results []search.Result
	if opts.vectorOnly {
		results, err = retriever.SearchVector(ctx, query, opts.topK, opts.threshold)
	} else {
		results, err = retriever.SearchHybrid(ctx, query, opts.topK, opts.threshold, opts.alpha)
	}
	if err != nil {
		return err
	}

	if opts.category != "" {
		filtered := results[:0]
		for _, r := range results {
			if r.Example.Category() == opts.category {
				filtered = append(filtered, r)
			}
		}
		results = filtered
	}

	if opts.format == "json" {
		return printResultsJSON(cmd, query, results)
	}
	printResultsText(cmd, query, results)
	return nil
}

func printResultsText(cmd *cobra.Command, query string, results []search.Result) {
	out := cmd.OutOrStdout()
	if len(results) == 0 {
		fmt.Fprintf(out, "No results for %q\n", query)
		return
	}

	fmt.Fprintf(out, "%d result(s) for %q:\n\n", len(results), query)
	for i, r := range results {
		fmt.Fprintf(out, "%d. %s  (sim=%.3f lex=%.3f hybrid=%.3f)\n",
			i+1, r.Example.ID, r.Similarity, r.Lexical, r.Hybrid)
		if cat := r.Example.Category(); cat != "" {
			fmt.Fprintf(out, "   category: %s\n", cat)
		}
		fmt.Fprintf(out, "   %s\n", snippet(r.Example.SourceText, 160))
	}
}

type searchResultJSON struct {
	ID         string          `json:"id"`
	Category   string          `json:"category,omitempty"`
	SourceText string          `json:"source_text"`
	Answer     json.RawMessage `json:"answer,omitempty"`
	Similarity float64         `json:"similarity"`
	Lexical    float64         `json:"lexical"`
	Hybrid     float64         `json:"hybrid"`
}

func printResultsJSON(cmd *cobra.Command, query string, results []search.Result) error {
	payload := struct {
		Query   string             `json:"query"`
		Results []searchResultJSON `json:"results"`
	}{Query: query, Results: make([]searchResultJSON, 0, len(results))}

	for _, r := range results {
		item := searchResultJSON{
			ID:         r.Example.ID,
			Category:   r.Example.Category(),
			SourceText: r.Example.SourceText,
			Similarity: r.Similarity,
			Lexical:    r.Lexical,
			Hybrid:     r.Hybrid,
		}
		if r.Example.Answer != nil {
			raw, err := json.Marshal(r.Example.Answer)
			if err != nil {
				return fmt.Errorf("marshal answer for %s: %w", r.Example.ID, err)
			}
			item.Answer = raw
		}
		payload.Results = append(payload.Results, item)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(payload)
}

func snippet(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= max {
		return s
	}
	// Back up to a rune boundary so the cut never splits a multi-byte
	// character in OCR text.
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
