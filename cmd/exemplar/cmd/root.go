// Package cmd provides the CLI commands for exemplar.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/docsage/exemplar/internal/config"
	"github.com/docsage/exemplar/internal/logging"
	"github.com/docsage/exemplar/pkg/version"
)

var (
	configPath  string
	dataDir     string
	artifactDir string
	debugMode   bool

	loggingCleanup func()
)

// NewRootCmd creates the root command for the exemplar CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "exemplar",
		Short: "Incremental retrieval-example index for document digitization",
		Long: `Exemplar maintains a hybrid (vector + lexical) index of reviewed
extraction examples and serves similarity queries over it.

It watches a directory of extraction artifacts, detects new and changed
page units with a two-stage fingerprint check, builds shard indexes, and
merges them into an append-only base index.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("exemplar version {{.Version}}\n")

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file (default: <data-dir>/exemplar.yaml)")
	cmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Override the data directory")
	cmd.PersistentFlags().StringVar(&artifactDir, "artifacts", "", "Override the artifact directory")
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging to ~/.exemplar/logs/")

	cmd.PersistentPreRunE = setupLogging
	cmd.PersistentPostRun = teardownLogging

	cmd.AddCommand(newInitCmd())
	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newSweepCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	cmd := NewRootCmd()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}
	return nil
}

func setupLogging(_ *cobra.Command, _ []string) error {
	if !debugMode {
		return nil
	}
	logger, cleanup, err := logging.Setup(logging.DebugConfig())
	if err != nil {
		return fmt.Errorf("failed to setup debug logging: %w", err)
	}
	loggingCleanup = cleanup
	slog.SetDefault(logger)
	slog.Info("debug logging enabled",
		slog.String("log_file", logging.DefaultLogPath()),
		slog.String("version", version.Version))
	return nil
}

func teardownLogging(_ *cobra.Command, _ []string) {
	if loggingCleanup != nil {
		loggingCleanup()
		loggingCleanup = nil
	}
}

// loadConfig resolves the effective configuration from the config file,
// environment overrides, and CLI flags (highest precedence).
func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		base := config.Default()
		if dataDir != "" {
			base.Paths.DataDir = dataDir
		}
		path = base.DefaultPath()
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	if dataDir != "" {
		cfg.Paths.DataDir = dataDir
	}
	if artifactDir != "" {
		cfg.Paths.ArtifactDir = artifactDir
	}
	return cfg, nil
}
