package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/threadmill/flarum-crawler/internal/api"
)

func newCrawlCmd(cfgFile *string) *cobra.Command {
	var pages int

	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Crawl the most recently active discussions",
		Long: `Fetches the first pages of the default discussion listing and crawls
every discussion found there. Intended to run on a schedule to pick up new
activity.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), *cfgFile)
			if err != nil {
				return err
			}
			defer a.close()
			return a.runner().Cron(cmd.Context(), pages)
		},
	}
	cmd.Flags().IntVar(&pages, "pages", 3, "listing pages to crawl")
	return cmd
}

func newFullCmd(cfgFile *string) *cobra.Command {
	var (
		page         int
		skipExisting bool
	)

	cmd := &cobra.Command{
		Use:   "full",
		Short: "Walk the whole listing oldest-first",
		Long: `Walks the discussion listing ordered by creation time ascending until it
is exhausted. Discussions already recorded as impossible are skipped;
--skip-existing also skips discussions already crawled successfully, which
makes an interrupted full crawl resumable by page number.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), *cfgFile)
			if err != nil {
				return err
			}
			defer a.close()
			return a.runner().Full(cmd.Context(), page, skipExisting)
		},
	}
	cmd.Flags().IntVar(&page, "page", 1, "listing page to start from")
	cmd.Flags().BoolVar(&skipExisting, "skip-existing", false, "skip discussions already crawled successfully")
	return cmd
}

func newRetryCmd(cfgFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "retry",
		Short: "Re-crawl failed and partial discussions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), *cfgFile)
			if err != nil {
				return err
			}
			defer a.close()
			return a.runner().Retry(cmd.Context())
		},
	}
}

func newServeCmd(cfgFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve crawled data over HTTP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), *cfgFile)
			if err != nil {
				return err
			}
			defer a.close()

			server := &http.Server{
				Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
				Handler:           api.NewServer(a.store, a.store, a.logger).Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				errCh <- server.ListenAndServe()
			}()
			a.logger.Info("query service listening", zap.Int("port", a.cfg.Server.Port))

			select {
			case <-cmd.Context().Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return server.Shutdown(shutdownCtx)
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			}
		},
	}
}
