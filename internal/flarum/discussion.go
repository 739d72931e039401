package flarum

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/threadmill/flarum-crawler/internal/entity"
	"github.com/threadmill/flarum-crawler/internal/metrics"
)

// Outcome classifies a completed discussion fetch. Transient failures are
// reported as errors, not outcomes.
type Outcome string

// Fetch outcomes.
const (
	// OutcomeSuccess: metadata and every attempted post batch succeeded
	// (including the zero-batch case).
	OutcomeSuccess Outcome = "success"
	// OutcomePartial: metadata succeeded but at least one post batch failed;
	// the discussion carries whatever posts were recovered.
	OutcomePartial Outcome = "partial"
	// OutcomeImpossible: the discussion is permanently unobtainable (404/403).
	OutcomeImpossible Outcome = "impossible"
)

// Result is the classified product of FetchDiscussion. Discussion is nil
// only for OutcomeImpossible.
type Result struct {
	Outcome    Outcome
	Discussion *entity.Discussion
}

// FetchOptions carries per-discussion fetch configuration.
type FetchOptions struct {
	// ExistingPostIDs are post ids already durably stored; they are pruned
	// from the batch fan-out. Stored posts are treated as immutable.
	ExistingPostIDs map[int64]struct{}
}

// FetchDiscussion runs the full pipeline for one discussion: metadata fetch,
// post-id enumeration, chunked concurrent post fetch, and assembly. A 404 or
// 403 yields OutcomeImpossible; any other non-2xx status or transport error
// is returned as a retryable error.
func (c *Client) FetchDiscussion(ctx context.Context, id int64, opts FetchOptions) (Result, error) {
	q := url.Values{}
	q.Set("bySlug", "true")
	q.Set("page[near]", "0")
	reqURL := fmt.Sprintf("%s/api/discussions/%d?%s", c.baseURL, id, q.Encode())

	var doc discussionDocument
	status, err := c.getJSON(ctx, "discussion", reqURL, &doc)
	if err != nil {
		return Result{}, err
	}
	if status == http.StatusNotFound || status == http.StatusForbidden {
		return Result{Outcome: OutcomeImpossible}, nil
	}
	if status < 200 || status >= 300 {
		return Result{}, fmt.Errorf("discussion %d: upstream status %d", id, status)
	}

	discussion, pending, err := c.assembleMetadata(id, doc, opts)
	if err != nil {
		return Result{}, err
	}

	posts, attempted, failed := c.fetchPostBatches(ctx, id, pending)
	sort.Slice(posts, func(i, j int) bool { return posts[i].ID < posts[j].ID })
	discussion.Posts = posts

	if failed > 0 {
		c.logger.Warn("post batches failed",
			zap.Int64("discussion_id", id),
			zap.Int("attempted", attempted),
			zap.Int("failed", failed),
		)
		return Result{Outcome: OutcomePartial, Discussion: discussion}, nil
	}
	return Result{Outcome: OutcomeSuccess, Discussion: discussion}, nil
}

// assembleMetadata validates the discussion document and returns the
// discussion skeleton plus the post ids still needing a fetch.
func (c *Client) assembleMetadata(id int64, doc discussionDocument, opts FetchOptions) (*entity.Discussion, []int64, error) {
	attrs := doc.Data.Attributes
	if attrs.Title == nil {
		return nil, nil, fmt.Errorf("discussion %d: malformed response: missing title", id)
	}
	if attrs.Frontpage == nil {
		return nil, nil, fmt.Errorf("discussion %d: malformed response: missing frontpage", id)
	}
	createdAt, err := parseTimestamp(attrs.CreatedAt)
	if err != nil {
		return nil, nil, fmt.Errorf("discussion %d: malformed response: %w", id, err)
	}

	// Tag ids live in the relationships; names live in the included array.
	// Included entities of other types can reuse ids, so both the type and
	// the id set gate the match.
	tagIDs := make(map[string]struct{})
	for _, ref := range doc.Data.Relationships.Tags.Data {
		if ref.Type == "tags" {
			tagIDs[ref.ID] = struct{}{}
		}
	}
	var tags []string
	for _, res := range doc.Included {
		if res.Type != "tags" {
			continue
		}
		if _, ok := tagIDs[res.ID]; ok {
			tags = append(tags, res.Attributes.Name)
		}
	}

	discussion := &entity.Discussion{
		ID:        id,
		Title:     *attrs.Title,
		Frontpage: *attrs.Frontpage,
		Tags:      tags,
		CreatedAt: createdAt,
	}

	if ref := doc.Data.Relationships.User.Data; ref != nil {
		authorID, perr := parseID(ref.ID)
		if perr != nil {
			return nil, nil, fmt.Errorf("discussion %d: malformed response: %w", id, perr)
		}
		discussion.UserID = authorID
		if u, ok := userMap(doc.Included)[authorID]; ok {
			discussion.Username = u.Username
			discussion.DisplayName = u.DisplayName
		}
	}

	var pending []int64
	for _, ref := range doc.Data.Relationships.Posts.Data {
		if ref.Type != "posts" {
			continue
		}
		postID, perr := parseID(ref.ID)
		if perr != nil {
			return nil, nil, fmt.Errorf("discussion %d: malformed response: %w", id, perr)
		}
		if _, known := opts.ExistingPostIDs[postID]; known {
			continue
		}
		pending = append(pending, postID)
	}
	return discussion, pending, nil
}

// fetchPostBatches fans the pending ids out in fixed-size batches, each
// gated by the shared permit inside getJSON. All batches are joined; one
// batch failing never cancels its siblings.
func (c *Client) fetchPostBatches(ctx context.Context, discussionID int64, pending []int64) ([]entity.Post, int, int) {
	if len(pending) == 0 {
		return nil, 0, 0
	}

	var batches [][]int64
	for start := 0; start < len(pending); start += postBatchSize {
		end := start + postBatchSize
		if end > len(pending) {
			end = len(pending)
		}
		batches = append(batches, pending[start:end])
	}

	type batchResult struct {
		posts []entity.Post
		err   error
	}
	results := make([]batchResult, len(batches))

	var wg sync.WaitGroup
	for i, batch := range batches {
		wg.Add(1)
		go func(ix int, ids []int64) {
			defer wg.Done()
			c.logger.Debug("fetching post batch",
				zap.Int64("discussion_id", discussionID),
				zap.Int("batch", ix+1),
				zap.Int("total", len(batches)),
			)
			posts, err := c.fetchPostBatch(ctx, discussionID, ids)
			results[ix] = batchResult{posts: posts, err: err}
		}(i, batch)
	}
	wg.Wait()

	var posts []entity.Post
	failed := 0
	for i, res := range results {
		if res.err != nil {
			failed++
			metrics.ObservePostBatch("failed")
			c.logger.Warn("post batch fetch failed",
				zap.Int64("discussion_id", discussionID),
				zap.Int("batch", i+1),
				zap.Error(res.err),
			)
			continue
		}
		metrics.ObservePostBatch("ok")
		posts = append(posts, res.posts...)
	}
	return posts, len(batches), failed
}

// fetchPostBatch retrieves one id batch and builds posts, resolving authors
// against the embedded user map and sanitizing content inline. Items whose
// content type is not "comment" (renames, sticky events) are dropped.
func (c *Client) fetchPostBatch(ctx context.Context, discussionID int64, ids []int64) ([]entity.Post, error) {
	csv := make([]string, len(ids))
	for i, id := range ids {
		csv[i] = strconv.FormatInt(id, 10)
	}
	q := url.Values{}
	q.Set("filter[id]", strings.Join(csv, ","))
	reqURL := fmt.Sprintf("%s/api/posts?%s", c.baseURL, q.Encode())

	var doc postsDocument
	status, err := c.getJSON(ctx, "posts", reqURL, &doc)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, fmt.Errorf("posts batch for discussion %d: upstream status %d", discussionID, status)
	}

	users := userMap(doc.Included)
	posts := make([]entity.Post, 0, len(doc.Data))
	for _, res := range doc.Data {
		if res.Type != "posts" || res.Attributes.ContentType != "comment" {
			continue
		}
		postID, perr := parseID(res.ID)
		if perr != nil {
			return nil, fmt.Errorf("posts batch for discussion %d: malformed response: %w", discussionID, perr)
		}
		createdAt, perr := parseTimestamp(res.Attributes.CreatedAt)
		if perr != nil {
			return nil, fmt.Errorf("post %d: malformed response: %w", postID, perr)
		}

		post := entity.Post{
			ID:           postID,
			DiscussionID: discussionID,
			CreatedAt:    createdAt,
		}
		if ref := res.Relationships.User.Data; ref != nil {
			if userID, uerr := parseID(ref.ID); uerr == nil {
				post.UserID = userID
				if u, ok := users[userID]; ok {
					post.Username = u.Username
					post.DisplayName = u.DisplayName
				}
			}
		}
		post.ReplyToID, post.Content = c.sanitizer.Sanitize(res.Attributes.ContentHTML)
		posts = append(posts, post)
	}
	return posts, nil
}
