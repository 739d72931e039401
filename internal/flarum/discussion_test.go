package flarum

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client := NewClient(Config{
		BaseURL:     srv.URL,
		Concurrency: 4,
		Timeout:     5 * time.Second,
	}, zap.NewNop())
	return client, srv
}

// discussionBody builds a JSON:API discussion document with the given post
// ids, one tag ("general", id 3), and author user 9. The included array also
// carries a user whose id collides with the tag id, so type filtering is
// exercised.
func discussionBody(t *testing.T, postIDs []int64) []byte {
	t.Helper()
	refs := make([]map[string]string, len(postIDs))
	for i, id := range postIDs {
		refs[i] = map[string]string{"type": "posts", "id": strconv.FormatInt(id, 10)}
	}
	doc := map[string]any{
		"data": map[string]any{
			"type": "discussions",
			"id":   "7",
			"attributes": map[string]any{
				"title":     "Hello world",
				"frontpage": true,
				"createdAt": "2024-01-02T03:04:05Z",
			},
			"relationships": map[string]any{
				"tags":  map[string]any{"data": []map[string]string{{"type": "tags", "id": "3"}}},
				"posts": map[string]any{"data": refs},
				"user":  map[string]any{"data": map[string]string{"type": "users", "id": "9"}},
			},
		},
		"included": []map[string]any{
			{"type": "tags", "id": "3", "attributes": map[string]any{"name": "general"}},
			{"type": "users", "id": "3", "attributes": map[string]any{"username": "impostor", "displayName": "Impostor"}},
			{"type": "users", "id": "9", "attributes": map[string]any{"username": "alice", "displayName": "Alice"}},
		},
	}
	body, err := json.Marshal(doc)
	require.NoError(t, err)
	return body
}

// postsBody answers a filter-by-id request with one comment per id.
func postsBody(t *testing.T, ids []string) []byte {
	t.Helper()
	data := make([]map[string]any, len(ids))
	for i, id := range ids {
		data[i] = map[string]any{
			"type": "posts",
			"id":   id,
			"attributes": map[string]any{
				"contentType": "comment",
				"contentHtml": fmt.Sprintf("<p>post %s</p>", id),
				"createdAt":   "2024-01-02T04:00:00Z",
			},
			"relationships": map[string]any{
				"user": map[string]any{"data": map[string]string{"type": "users", "id": "9"}},
			},
		}
	}
	doc := map[string]any{
		"data": data,
		"included": []map[string]any{
			{"type": "users", "id": "9", "attributes": map[string]any{"username": "alice", "displayName": "Alice"}},
		},
	}
	body, err := json.Marshal(doc)
	require.NoError(t, err)
	return body
}

func filterIDs(r *http.Request) []string {
	raw := r.URL.Query().Get("filter[id]")
	if raw == "" {
		return nil
	}
	return strings.Split(raw, ",")
}

func TestFetchDiscussionImpossible(t *testing.T) {
	t.Parallel()

	for _, status := range []int{http.StatusNotFound, http.StatusForbidden} {
		status := status
		t.Run(strconv.Itoa(status), func(t *testing.T) {
			t.Parallel()

			client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(status)
				_, _ = w.Write([]byte("not even json"))
			}))

			result, err := client.FetchDiscussion(context.Background(), 7, FetchOptions{})
			require.NoError(t, err)
			require.Equal(t, OutcomeImpossible, result.Outcome)
			require.Nil(t, result.Discussion)
		})
	}
}

func TestFetchDiscussionTransientStatus(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))

	_, err := client.FetchDiscussion(context.Background(), 7, FetchOptions{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "502")
}

func TestFetchDiscussionMissingTitleIsMalformed(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"data":{"type":"discussions","id":"7","attributes":{"frontpage":true,"createdAt":"2024-01-02T03:04:05Z"}}}`))
	}))

	_, err := client.FetchDiscussion(context.Background(), 7, FetchOptions{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "missing title")
}

func TestFetchDiscussionSuccess(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/api/discussions/"):
			_, _ = w.Write(discussionBody(t, []int64{11, 12}))
		case r.URL.Path == "/api/posts":
			_, _ = w.Write(postsBody(t, filterIDs(r)))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))

	result, err := client.FetchDiscussion(context.Background(), 7, FetchOptions{})
	require.NoError(t, err)
	require.Equal(t, OutcomeSuccess, result.Outcome)

	d := result.Discussion
	require.NotNil(t, d)
	require.EqualValues(t, 7, d.ID)
	require.Equal(t, "Hello world", d.Title)
	require.True(t, d.Frontpage)
	require.Equal(t, []string{"general"}, d.Tags)
	require.EqualValues(t, 9, d.UserID)
	require.Equal(t, "alice", d.Username)
	require.Equal(t, "Alice", d.DisplayName)
	require.Equal(t, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), d.CreatedAt)

	require.Len(t, d.Posts, 2)
	require.EqualValues(t, 11, d.Posts[0].ID)
	require.EqualValues(t, 12, d.Posts[1].ID)
	require.Equal(t, "post 11", d.Posts[0].Content)
	require.Equal(t, "alice", d.Posts[0].Username)
	require.EqualValues(t, 7, d.Posts[0].DiscussionID)
}

func TestFetchDiscussionSkipsKnownPosts(t *testing.T) {
	t.Parallel()

	var postRequests atomic.Int64
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/api/discussions/"):
			_, _ = w.Write(discussionBody(t, []int64{11, 12}))
		case r.URL.Path == "/api/posts":
			postRequests.Add(1)
			_, _ = w.Write(postsBody(t, filterIDs(r)))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))

	existing := map[int64]struct{}{11: {}, 12: {}}
	result, err := client.FetchDiscussion(context.Background(), 7, FetchOptions{ExistingPostIDs: existing})
	require.NoError(t, err)
	require.Equal(t, OutcomeSuccess, result.Outcome)
	require.Empty(t, result.Discussion.Posts)
	require.Zero(t, postRequests.Load(), "no post batch requests expected")
}

func TestFetchDiscussionPartialOnBatchFailure(t *testing.T) {
	t.Parallel()

	ids := make([]int64, 40)
	for i := range ids {
		ids[i] = int64(i + 1)
	}

	var postRequests atomic.Int64
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/api/discussions/"):
			_, _ = w.Write(discussionBody(t, ids))
		case r.URL.Path == "/api/posts":
			postRequests.Add(1)
			batch := filterIDs(r)
			require.LessOrEqual(t, len(batch), 20)
			// The batch starting at id 21 fails; its sibling must not be
			// affected.
			if batch[0] == "21" {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			_, _ = w.Write(postsBody(t, batch))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))

	result, err := client.FetchDiscussion(context.Background(), 7, FetchOptions{})
	require.NoError(t, err)
	require.Equal(t, OutcomePartial, result.Outcome)
	require.EqualValues(t, 2, postRequests.Load())

	require.Len(t, result.Discussion.Posts, 20)
	for i, post := range result.Discussion.Posts {
		require.EqualValues(t, i+1, post.ID)
	}
}

func TestFetchDiscussionSortsAcrossBatches(t *testing.T) {
	t.Parallel()

	ids := make([]int64, 25)
	for i := range ids {
		ids[i] = int64(i + 1)
	}

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/api/discussions/"):
			_, _ = w.Write(discussionBody(t, ids))
		case r.URL.Path == "/api/posts":
			batch := filterIDs(r)
			// Answer each batch in reverse to prove assembly re-sorts.
			for i, j := 0, len(batch)-1; i < j; i, j = i+1, j-1 {
				batch[i], batch[j] = batch[j], batch[i]
			}
			_, _ = w.Write(postsBody(t, batch))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))

	result, err := client.FetchDiscussion(context.Background(), 7, FetchOptions{})
	require.NoError(t, err)
	require.Equal(t, OutcomeSuccess, result.Outcome)
	require.Len(t, result.Discussion.Posts, 25)
	for i := 1; i < len(result.Discussion.Posts); i++ {
		require.Less(t, result.Discussion.Posts[i-1].ID, result.Discussion.Posts[i].ID)
	}
}

func TestFetchDiscussionDropsNonCommentItems(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/api/discussions/"):
			_, _ = w.Write(discussionBody(t, []int64{11, 12}))
		case r.URL.Path == "/api/posts":
			_, _ = w.Write([]byte(`{
				"data": [
					{"type":"posts","id":"11","attributes":{"contentType":"comment","contentHtml":"<p>real</p>","createdAt":"2024-01-02T04:00:00Z"},"relationships":{"user":{"data":{"type":"users","id":"9"}}}},
					{"type":"posts","id":"12","attributes":{"contentType":"discussionRenamed","contentHtml":"","createdAt":"2024-01-02T04:00:00Z"}}
				],
				"included": []
			}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))

	result, err := client.FetchDiscussion(context.Background(), 7, FetchOptions{})
	require.NoError(t, err)
	require.Equal(t, OutcomeSuccess, result.Outcome)
	require.Len(t, result.Discussion.Posts, 1)
	require.EqualValues(t, 11, result.Discussion.Posts[0].ID)
	require.Equal(t, "real", result.Discussion.Posts[0].Content)
}

func TestFetchDiscussionReplyLinkage(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/api/discussions/"):
			_, _ = w.Write(discussionBody(t, []int64{11}))
		case r.URL.Path == "/api/posts":
			_, _ = w.Write([]byte(`{
				"data": [
					{"type":"posts","id":"11","attributes":{"contentType":"comment","contentHtml":"<a class=\"PostMention\" data-id=\"5\">@bob</a> agreed","createdAt":"2024-01-02T04:00:00Z"},"relationships":{"user":{"data":{"type":"users","id":"9"}}}}
				],
				"included": []
			}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))

	result, err := client.FetchDiscussion(context.Background(), 7, FetchOptions{})
	require.NoError(t, err)
	require.Len(t, result.Discussion.Posts, 1)
	require.EqualValues(t, 5, result.Discussion.Posts[0].ReplyToID)
	require.Equal(t, "agreed", result.Discussion.Posts[0].Content)
}
