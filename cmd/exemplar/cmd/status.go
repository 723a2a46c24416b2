package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/docsage/exemplar/internal/lifecycle"
	"github.com/docsage/exemplar/internal/store"
)

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// statusInfo is the collected index health snapshot.
type statusInfo struct {
	DataDir       string         `json:"data_dir"`
	ArtifactDir   string         `json:"artifact_dir"`
	Examples      int            `json:"examples"`
	UnitsByStatus map[string]int `json:"units_by_status"`
	PendingShards []string       `json:"pending_shards,omitempty"`
	Dimension     int            `json:"dimension"`
	Backend       string         `json:"embedding_backend"`
}

func newStatusCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show index health and manifest counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd.Context(), cmd, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runStatus(ctx context.Context, cmd *cobra.Command, jsonOutput bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if !fileExists(cfg.Paths.DataDir) {
		return fmt.Errorf("no index found in %s\nRun 'exemplar index' to create one", cfg.Paths.DataDir)
	}

	session := lifecycle.NewSession(cfg)
	if err := session.Open(ctx); err != nil {
		return err
	}
	defer func() { _ = session.Close() }()

	counts, err := session.Manifest().CountByStatus(ctx)
	if err != nil {
		return fmt.Errorf("failed to read manifest: %w", err)
	}

	shards, err := session.IndexStore().ListShards()
	if err != nil {
		return fmt.Errorf("failed to list shards: %w", err)
	}

	info := statusInfo{
		DataDir:       cfg.Paths.DataDir,
		ArtifactDir:   cfg.Paths.ArtifactDir,
		Examples:      session.Retriever().CountExamples(),
		UnitsByStatus: make(map[string]int, len(counts)),
		PendingShards: shards,
		Dimension:     session.IndexStore().Dimension(),
		Backend:       cfg.Embeddings.Backend,
	}
	for status, n := range counts {
		info.UnitsByStatus[string(status)] = n
	}

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Data dir:      %s\n", info.DataDir)
	fmt.Fprintf(out, "Artifact dir:  %s\n", info.ArtifactDir)
	fmt.Fprintf(out, "Examples:      %d (dim %d, backend %s)\n", info.Examples, info.Dimension, info.Backend)
	for _, status := range []store.Status{store.StatusStaged, store.StatusMerged, store.StatusDeleted} {
		if n, ok := counts[status]; ok {
			fmt.Fprintf(out, "Units %-8s %d\n", string(status)+":", n)
		}
	}
	if len(shards) > 0 {
		fmt.Fprintf(out, "Pending shards: %d\n", len(shards))
	}
	return nil
}
