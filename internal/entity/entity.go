// Package entity defines the records the crawler reconstructs and persists.
package entity

import (
	"fmt"
	"time"
)

// Post is one comment inside a discussion. ReplyToID is zero when the post
// does not reply to another post.
type Post struct {
	ID           int64     `json:"id"`
	DiscussionID int64     `json:"discussion_id"`
	ReplyToID    int64     `json:"reply_to_id,omitempty"`
	UserID       int64     `json:"user_id"`
	Username     string    `json:"username"`
	DisplayName  string    `json:"display_name"`
	Content      string    `json:"content"`
	CreatedAt    time.Time `json:"created_at"`
}

// Discussion is a forum thread: metadata plus its posts ordered ascending by
// post id whenever materialized from a fetch.
type Discussion struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	UserID      int64     `json:"user_id"`
	Username    string    `json:"username"`
	DisplayName string    `json:"display_name"`
	Tags        []string  `json:"tags"`
	Frontpage   bool      `json:"frontpage"`
	CreatedAt   time.Time `json:"created_at"`
	Posts       []Post    `json:"posts,omitempty"`
}

// JobStatus is the persisted outcome of one crawl attempt for an entity.
type JobStatus string

// Job status values stored in the ledger.
const (
	JobSuccess    JobStatus = "success"
	JobFailed     JobStatus = "failed"
	JobImpossible JobStatus = "impossible"
	JobPartial    JobStatus = "partial"
)

// ParseJobStatus maps the persisted string form back to a JobStatus. An
// unrecognized value is a data-corruption error, not a silent default.
func ParseJobStatus(s string) (JobStatus, error) {
	switch JobStatus(s) {
	case JobSuccess, JobFailed, JobImpossible, JobPartial:
		return JobStatus(s), nil
	default:
		return "", fmt.Errorf("unknown job status %q", s)
	}
}

// EntityDiscussion is the entity label used for discussion-level jobs.
const EntityDiscussion = "discussion"

// Job is one row of the crawl-outcome ledger, keyed by (Entity, EntityID).
// Writes are last-write-wins upserts; there is no persisted in-progress state.
type Job struct {
	Entity   string    `json:"entity"`
	EntityID int64     `json:"entity_id"`
	Status   JobStatus `json:"status"`
}
