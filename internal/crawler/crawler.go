// Package crawler implements the worker pool that drives concurrent
// discussion fetches and the drivers that feed it.
package crawler

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/threadmill/flarum-crawler/internal/entity"
	"github.com/threadmill/flarum-crawler/internal/flarum"
	"github.com/threadmill/flarum-crawler/internal/metrics"
	"github.com/threadmill/flarum-crawler/internal/store"
)

// Fetcher runs the per-discussion fetch pipeline.
type Fetcher interface {
	FetchDiscussion(ctx context.Context, id int64, opts flarum.FetchOptions) (flarum.Result, error)
}

// Lister fetches discussion-id listing pages.
type Lister interface {
	IndexPage(ctx context.Context, page int, sortCreated bool) ([]int64, error)
}

// Crawler owns a bounded work queue and N concurrent workers. The queue is a
// capacity-1 handoff channel: submitters block until a worker is ready,
// which is the system's backpressure. HTTP concurrency is bounded inside the
// Fetcher's shared permit, not per worker, so one discussion's batch fan-out
// cannot multiply the number of in-flight upstream requests.
type Crawler struct {
	concurrency int
	fetcher     Fetcher
	discussions store.DiscussionStore
	jobs        store.JobStore
	logger      *zap.Logger

	ids chan int64
	wg  sync.WaitGroup
}

// New constructs a Crawler with the given worker count.
func New(
	concurrency int,
	fetcher Fetcher,
	discussions store.DiscussionStore,
	jobs store.JobStore,
	logger *zap.Logger,
) *Crawler {
	if concurrency <= 0 {
		concurrency = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Crawler{
		concurrency: concurrency,
		fetcher:     fetcher,
		discussions: discussions,
		jobs:        jobs,
		logger:      logger,
		ids:         make(chan int64, 1),
	}
}

// Launch starts the worker goroutines. Workers exit when the queue is
// closed and drained; in-flight discussions always run to completion.
func (c *Crawler) Launch(ctx context.Context) {
	for i := 1; i <= c.concurrency; i++ {
		c.wg.Add(1)
		go func(ix int) {
			defer c.wg.Done()
			for id := range c.ids {
				metrics.IncActiveWorkers()
				c.process(ctx, id)
				metrics.DecActiveWorkers()
			}
		}(i)
	}
}

// Submit hands one discussion id to the pool, blocking until a worker is
// ready or the context finishes.
func (c *Crawler) Submit(ctx context.Context, id int64) error {
	select {
	case c.ids <- id:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close signals that no more ids will be submitted.
func (c *Crawler) Close() {
	close(c.ids)
}

// Wait blocks until every worker has drained and exited.
func (c *Crawler) Wait() {
	c.wg.Wait()
}

// process runs one discussion end to end: existing-post lookup, fetch,
// classification, persistence, and the ledger write. Failures never escape
// the worker; they become ledger entries and log lines.
func (c *Crawler) process(ctx context.Context, id int64) {
	logger := c.logger.With(zap.Int64("discussion_id", id))
	logger.Info("crawling discussion")

	existing, err := c.discussions.PostIDs(ctx, id)
	if err != nil {
		// Only costs redundant batch fetches; not worth failing the crawl.
		logger.Warn("stored post lookup failed", zap.Error(err))
		existing = nil
	}

	result, err := c.fetcher.FetchDiscussion(ctx, id, flarum.FetchOptions{ExistingPostIDs: existing})
	if err != nil {
		logger.Error("discussion fetch failed", zap.Error(err))
		c.recordOutcome(ctx, id, entity.JobFailed)
		return
	}

	switch result.Outcome {
	case flarum.OutcomeImpossible:
		logger.Warn("discussion permanently unobtainable")
		c.recordOutcome(ctx, id, entity.JobImpossible)
	case flarum.OutcomeSuccess, flarum.OutcomePartial:
		if err := c.discussions.Save(ctx, result.Discussion); err != nil {
			logger.Error("persist discussion failed", zap.Error(err))
			c.recordOutcome(ctx, id, entity.JobFailed)
			return
		}
		metrics.ObservePostsStored(len(result.Discussion.Posts))
		status := entity.JobSuccess
		if result.Outcome == flarum.OutcomePartial {
			status = entity.JobPartial
		}
		c.recordOutcome(ctx, id, status)
		logger.Info("discussion saved",
			zap.String("outcome", string(result.Outcome)),
			zap.Int("new_posts", len(result.Discussion.Posts)),
		)
	default:
		logger.Error("unexpected fetch outcome", zap.String("outcome", string(result.Outcome)))
		c.recordOutcome(ctx, id, entity.JobFailed)
	}
}

func (c *Crawler) recordOutcome(ctx context.Context, id int64, status entity.JobStatus) {
	metrics.ObserveDiscussion(string(status))
	job := entity.Job{Entity: entity.EntityDiscussion, EntityID: id, Status: status}
	if err := c.jobs.Upsert(ctx, job); err != nil {
		c.logger.Error("ledger write failed",
			zap.Int64("discussion_id", id),
			zap.String("status", string(status)),
			zap.Error(err),
		)
	}
}
