package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/docsage/exemplar/internal/lifecycle"
)

func newSweepCmd() *cobra.Command {
	var maxAge time.Duration

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Remove orphaned shard files",
		Long: `Remove shard files older than the age cutoff that no staged
manifest entry references. Orphans are left behind when a process
dies between building a shard and merging it.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSweep(cmd.Context(), cmd, maxAge)
		},
	}

	cmd.Flags().DurationVar(&maxAge, "max-age", 24*time.Hour, "Only remove shards older than this")

	return cmd
}

func runSweep(ctx context.Context, cmd *cobra.Command, maxAge time.Duration) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	session := lifecycle.NewSession(cfg)
	if err := session.Open(ctx); err != nil {
		return err
	}
	defer func() { _ = session.Close() }()

	active, err := session.Manifest().ActiveShardRefs(ctx)
	if err != nil {
		return fmt.Errorf("failed to read active shard refs: %w", err)
	}

	removed, err := session.IndexStore().SweepOrphans(maxAge, func(name string) bool {
		_, ok := active[name]
		return ok
	})
	if err != nil {
		return err
	}

	if len(removed) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No orphaned shards found")
		return nil
	}
	for _, name := range removed {
		fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", name)
	}
	return nil
}
