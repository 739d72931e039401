package main

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/threadmill/flarum-crawler/internal/config"
	"github.com/threadmill/flarum-crawler/internal/crawler"
	"github.com/threadmill/flarum-crawler/internal/flarum"
	"github.com/threadmill/flarum-crawler/internal/logging"
	"github.com/threadmill/flarum-crawler/internal/metrics"
	"github.com/threadmill/flarum-crawler/internal/store/postgres"
)

// app bundles the process-scoped resources every subcommand needs. They are
// constructed once per invocation and shared by reference.
type app struct {
	cfg    config.Config
	logger *zap.Logger
	store  *postgres.Store
	client *flarum.Client
}

func (a *app) close() {
	if a.store != nil {
		a.store.Close()
	}
	if a.logger != nil {
		_ = a.logger.Sync()
	}
}

func (a *app) runner() *crawler.Runner {
	return crawler.NewRunner(
		a.cfg.Crawler.Concurrency,
		a.client,
		a.client,
		a.store,
		a.store,
		a.cfg.ListingRetryDelay(),
		a.logger,
	)
}

func newApp(ctx context.Context, cfgFile string) (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	logger = logger.With(zap.String("run_id", uuid.NewString()))

	metrics.Init()

	st, err := postgres.New(ctx, postgres.Config{
		DSN:      cfg.DB.DSN,
		MaxConns: cfg.DB.MaxConns,
	})
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}
	if err := st.EnsureSchema(ctx); err != nil {
		st.Close()
		return nil, err
	}

	client := flarum.NewClient(flarum.Config{
		BaseURL:           cfg.Upstream.BaseURL,
		Concurrency:       cfg.Crawler.Concurrency,
		Timeout:           cfg.HTTPTimeout(),
		RequestsPerSecond: cfg.Upstream.RequestsPerSecond,
	}, logger)

	return &app{cfg: cfg, logger: logger, store: st, client: client}, nil
}

func newRootCmd() *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "flarum-crawler",
		Short: "Incremental crawler for a Flarum forum's public API",
		Long: `flarum-crawler reconstructs discussion threads (metadata, tags, ordered
posts with reply linkage and Markdown content) from a Flarum instance and
persists them idempotently in Postgres. Crawls are batch, resumable, and
safe to re-run.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML)")

	cmd.AddCommand(newCrawlCmd(&cfgFile))
	cmd.AddCommand(newFullCmd(&cfgFile))
	cmd.AddCommand(newRetryCmd(&cfgFile))
	cmd.AddCommand(newServeCmd(&cfgFile))

	return cmd
}
