package crawler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/threadmill/flarum-crawler/internal/entity"
	"github.com/threadmill/flarum-crawler/internal/metrics"
	"github.com/threadmill/flarum-crawler/internal/store"
)

// Runner implements the crawl modes. Each mode enumerates discussion ids its
// own way and feeds them through a fresh worker pool; the pool neither knows
// nor cares how ids were produced.
type Runner struct {
	concurrency  int
	fetcher      Fetcher
	lister       Lister
	discussions  store.DiscussionStore
	jobs         store.JobStore
	listingRetry time.Duration
	logger       *zap.Logger
}

// NewRunner wires a Runner.
func NewRunner(
	concurrency int,
	fetcher Fetcher,
	lister Lister,
	discussions store.DiscussionStore,
	jobs store.JobStore,
	listingRetry time.Duration,
	logger *zap.Logger,
) *Runner {
	if listingRetry <= 0 {
		listingRetry = time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		concurrency:  concurrency,
		fetcher:      fetcher,
		lister:       lister,
		discussions:  discussions,
		jobs:         jobs,
		listingRetry: listingRetry,
		logger:       logger,
	}
}

func (r *Runner) newCrawler() *Crawler {
	return New(r.concurrency, r.fetcher, r.discussions, r.jobs, r.logger)
}

// Cron crawls the first pages of the default (latest-activity) listing; the
// periodic scheduling itself lives outside the crawler.
func (r *Runner) Cron(ctx context.Context, pages int) error {
	var ids []int64
	for page := 1; page <= pages; page++ {
		pageIDs, err := r.lister.IndexPage(ctx, page, false)
		if err != nil {
			return fmt.Errorf("index page %d: %w", page, err)
		}
		metrics.ObserveListingPage("ok")
		ids = append(ids, pageIDs...)
	}

	pool := r.newCrawler()
	pool.Launch(ctx)
	for ix, id := range ids {
		r.logger.Info("queueing discussion",
			zap.Int("current", ix+1),
			zap.Int("total", len(ids)),
			zap.Int64("discussion_id", id),
		)
		if err := pool.Submit(ctx, id); err != nil {
			break
		}
	}
	pool.Close()
	pool.Wait()
	return ctx.Err()
}

// Retry re-crawls every discussion whose latest ledger status is Failed or
// Partial. A retried discussion re-runs the full pipeline; the stored-post
// filter keeps already-fetched posts from being fetched again.
func (r *Runner) Retry(ctx context.Context) error {
	failed, err := r.jobs.FindByEntityStatus(ctx, entity.EntityDiscussion, entity.JobFailed)
	if err != nil {
		return fmt.Errorf("find failed jobs: %w", err)
	}
	partial, err := r.jobs.FindByEntityStatus(ctx, entity.EntityDiscussion, entity.JobPartial)
	if err != nil {
		return fmt.Errorf("find partial jobs: %w", err)
	}
	ids := append(failed, partial...)
	r.logger.Info("retrying discussions", zap.Int("count", len(ids)))

	pool := r.newCrawler()
	pool.Launch(ctx)
	for _, id := range ids {
		if err := pool.Submit(ctx, id); err != nil {
			break
		}
	}
	pool.Close()
	pool.Wait()
	return ctx.Err()
}

// Full walks the entire listing ordered by creation time ascending, starting
// at startPage, until an empty page. Impossible discussions are always
// skipped; skipExisting also skips discussions already crawled successfully.
// A listing-page failure is retried indefinitely with a fixed delay: an
// unbounded crawl must not die on one transient blip.
func (r *Runner) Full(ctx context.Context, startPage int, skipExisting bool) error {
	ignore, err := r.ignoredIDs(ctx, skipExisting)
	if err != nil {
		return err
	}

	pool := r.newCrawler()
	pool.Launch(ctx)
	defer func() {
		pool.Close()
		pool.Wait()
	}()

	for page := startPage; ; page++ {
		r.logger.Info("processing index page",
			zap.Int("page", page),
			zap.Int("offset", (page-1)*listingPageSize),
		)
		ids, err := r.indexPageRetry(ctx, page)
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		for _, id := range ids {
			if _, skip := ignore[id]; skip {
				continue
			}
			if err := pool.Submit(ctx, id); err != nil {
				return err
			}
		}
	}
}

// listingPageSize mirrors the upstream listing page width; used only for the
// offset log field.
const listingPageSize = 20

func (r *Runner) ignoredIDs(ctx context.Context, skipExisting bool) (map[int64]struct{}, error) {
	ignore := make(map[int64]struct{})
	impossible, err := r.jobs.FindByEntityStatus(ctx, entity.EntityDiscussion, entity.JobImpossible)
	if err != nil {
		return nil, fmt.Errorf("find impossible jobs: %w", err)
	}
	for _, id := range impossible {
		ignore[id] = struct{}{}
	}
	if skipExisting {
		succeeded, err := r.jobs.FindByEntityStatus(ctx, entity.EntityDiscussion, entity.JobSuccess)
		if err != nil {
			return nil, fmt.Errorf("find succeeded jobs: %w", err)
		}
		for _, id := range succeeded {
			ignore[id] = struct{}{}
		}
	}
	return ignore, nil
}

func (r *Runner) indexPageRetry(ctx context.Context, page int) ([]int64, error) {
	for {
		ids, err := r.lister.IndexPage(ctx, page, true)
		if err == nil {
			metrics.ObserveListingPage("ok")
			return ids, nil
		}
		metrics.ObserveListingPage("failed")
		r.logger.Error("index page fetch failed", zap.Int("page", page), zap.Error(err))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(r.listingRetry):
		}
	}
}
