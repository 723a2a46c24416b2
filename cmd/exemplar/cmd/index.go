package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/docsage/exemplar/internal/index"
	"github.com/docsage/exemplar/internal/lifecycle"
	"github.com/docsage/exemplar/internal/scanner"
	"github.com/docsage/exemplar/internal/watcher"
)

func newIndexCmd() *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "index",
		Short: "Scan artifacts and index new or changed page units",
		Long: `Scan the artifact directory, detect new and changed page units,
build a shard index for them, and merge it into the base index.

With --watch, keeps running and re-indexes whenever artifact files
change (debounced).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIndex(cmd.Context(), cmd, watch)
		},
	}

	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Keep watching the artifact directory for changes")

	return cmd
}

func runIndex(ctx context.Context, cmd *cobra.Command, watch bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	session := lifecycle.NewSession(cfg)
	if err := session.Open(ctx); err != nil {
		return err
	}
	defer func() { _ = session.Close() }()

	source := scanner.NewArtifactSource(cfg.Paths.ArtifactDir)
	coord := session.Coordinator(source)

	stats, err := coord.Run(ctx)
	if err != nil {
		return fmt.Errorf("index run failed: %w", err)
	}
	printRunStats(cmd, stats)

	if !watch {
		return nil
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Watching %s for changes (Ctrl-C to stop)\n", cfg.Paths.ArtifactDir)
	w := watcher.New(cfg.Paths.ArtifactDir, watcher.DefaultDebounce, func(ctx context.Context) {
		stats, err := coord.Run(ctx)
		if err != nil {
			slog.Error("watch reindex failed", slog.String("error", err.Error()))
			return
		}
		if stats.Indexed > 0 || stats.Deleted > 0 {
			printRunStats(cmd, stats)
		}
	})
	return w.Run(ctx)
}

func printRunStats(cmd *cobra.Command, stats *index.RunStats) {
	if stats.Recovered > 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "Recovered %d units from an interrupted merge\n", stats.Recovered)
	}
	fmt.Fprintf(cmd.OutOrStdout(),
		"Scanned %d units: %d indexed, %d unchanged, %d rehashed, %d staged, %d deleted\n",
		stats.Scanned, stats.Indexed, stats.Unchanged, stats.Rehashed, stats.Staged, stats.Deleted)
}
