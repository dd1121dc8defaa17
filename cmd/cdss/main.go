// Command cdss is the CLI for the clinical decision support core: patient
// registration, bi-temporal measurement CRUD, history queries and the
// abstraction/analysis pipeline.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/shaharoded/CDSS-Dev-Project/internal/config"
	"github.com/shaharoded/CDSS-Dev-Project/internal/loinc"
	"github.com/shaharoded/CDSS-Dev-Project/internal/mediator"
	"github.com/shaharoded/CDSS-Dev-Project/internal/orchestrator"
	"github.com/shaharoded/CDSS-Dev-Project/internal/records"
	"github.com/shaharoded/CDSS-Dev-Project/internal/rules"
	"github.com/shaharoded/CDSS-Dev-Project/internal/storage"
	"github.com/shaharoded/CDSS-Dev-Project/internal/storage/sqlite"
)

var (
	cfgPath string
	dbPath  string
	verbose bool

	cfg     *config.Config
	logger  *slog.Logger
	store   storage.Store
	service *records.Service

	rootCtx    context.Context
	rootCancel context.CancelFunc
)

var rootCmd = &cobra.Command{
	Use:           "cdss",
	Short:         "Clinical decision support core",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		var err error
		cfg, err = config.Load(cfgPath)
		if err != nil {
			return err
		}
		if dbPath != "" {
			cfg.DBPath = dbPath
		}
		level := cfg.LogLevel
		if verbose {
			level = slog.LevelDebug
		}
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
		slog.SetDefault(logger)

		store, err = sqlite.Open(cmd.Context(), cfg.DBPath)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		resolver := loinc.NewResolver(store)
		service = records.NewService(store, resolver, logger)
		return nil
	},
	PersistentPostRun: func(_ *cobra.Command, _ []string) {
		if store != nil {
			_ = store.Close()
		}
	},
}

// buildPipeline constructs the abstraction pipeline on demand; only the
// abstract/analyze/watch commands pay for knowledge loading.
func buildPipeline() (*orchestrator.Orchestrator, *mediator.Mediator, *rules.Repository, error) {
	med, err := mediator.New(store, cfg.TAKDir, logger)
	if err != nil {
		return nil, nil, nil, err
	}
	repo, err := rules.NewRepository(cfg.RulesDir, logger)
	if err != nil {
		return nil, nil, nil, err
	}
	proc := rules.NewProcessor(store, repo, logger)
	orch := orchestrator.New(store, med, proc, cfg.Relevance, logger)
	return orch, med, repo, nil
}

func main() {
	rootCtx, rootCancel = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer rootCancel()

	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to config file")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "database path (overrides config)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	if err := rootCmd.ExecuteContext(rootCtx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
