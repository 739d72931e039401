// Package store defines the persistence interfaces the crawler consumes.
package store

import (
	"context"
	"errors"

	"github.com/threadmill/flarum-crawler/internal/entity"
)

// ErrNotFound is returned by read operations when the row does not exist.
var ErrNotFound = errors.New("not found")

// DiscussionStore persists reconstructed discussions idempotently.
type DiscussionStore interface {
	// Save upserts the discussion and bulk-upserts its posts in a single
	// transaction; either the whole update lands or none of it does.
	Save(ctx context.Context, discussion *entity.Discussion) error
	// Get returns a stored discussion, optionally with its posts ordered
	// ascending by post id.
	Get(ctx context.Context, id int64, withPosts bool) (*entity.Discussion, error)
	// PostIDs returns the ids of posts already stored for a discussion.
	PostIDs(ctx context.Context, discussionID int64) (map[int64]struct{}, error)
}

// JobStore is the durable crawl-outcome ledger.
type JobStore interface {
	// Upsert records the outcome for (entity, entity_id), last write wins.
	Upsert(ctx context.Context, job entity.Job) error
	// FindByEntityStatus returns the entity ids whose current status
	// matches exactly.
	FindByEntityStatus(ctx context.Context, entityType string, status entity.JobStatus) ([]int64, error)
}
