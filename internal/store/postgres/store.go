// Package postgres provides the Postgres-backed persistence implementation.
package postgres

import (
	"context"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/threadmill/flarum-crawler/internal/entity"
	"github.com/threadmill/flarum-crawler/internal/store"
)

// db is the subset of pgxpool.Pool the store uses; pgxmock satisfies it.
type db interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Store implements store.DiscussionStore and store.JobStore on Postgres.
type Store struct {
	pool db
	sb   sq.StatementBuilderType
}

// Config controls the Postgres connection pool.
type Config struct {
	DSN      string
	MaxConns int32
}

// New connects a Store using the provided config.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return newWithDB(pool), nil
}

// NewWithPool constructs a Store from an existing pool (primarily for
// testing with pgxmock).
func NewWithPool(pool db) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return newWithDB(pool), nil
}

func newWithDB(pool db) *Store {
	return &Store{
		pool: pool,
		sb:   sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the row sets if they do not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS discussions (
	id BIGINT PRIMARY KEY,
	title TEXT NOT NULL,
	user_id BIGINT NOT NULL DEFAULT 0,
	username TEXT NOT NULL DEFAULT '',
	display_name TEXT NOT NULL DEFAULT '',
	tags TEXT[] NOT NULL DEFAULT '{}',
	frontpage BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS posts (
	id BIGINT PRIMARY KEY,
	discussion_id BIGINT NOT NULL,
	reply_to_id BIGINT NOT NULL DEFAULT 0,
	user_id BIGINT NOT NULL DEFAULT 0,
	username TEXT NOT NULL DEFAULT '',
	display_name TEXT NOT NULL DEFAULT '',
	content TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS posts_discussion_id_idx ON posts (discussion_id);
CREATE TABLE IF NOT EXISTS jobs (
	entity TEXT NOT NULL,
	entity_id BIGINT NOT NULL,
	status TEXT NOT NULL,
	PRIMARY KEY (entity, entity_id)
);`
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// Save upserts the discussion row and bulk-upserts its posts inside one
// transaction. Every write overwrites all mutable fields on conflict, which
// is what makes re-crawling the same discussion safe.
func (s *Store) Save(ctx context.Context, discussion *entity.Discussion) error {
	if discussion == nil {
		return fmt.Errorf("discussion is required")
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer func() {
		// No-op after commit.
		_ = tx.Rollback(ctx)
	}()

	tags := discussion.Tags
	if tags == nil {
		tags = []string{}
	}
	discussionSQL, discussionArgs, err := s.sb.
		Insert("discussions").
		Columns("id", "title", "user_id", "username", "display_name", "tags", "frontpage", "created_at").
		Values(discussion.ID, discussion.Title, discussion.UserID, discussion.Username,
			discussion.DisplayName, tags, discussion.Frontpage, discussion.CreatedAt).
		Suffix(`ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			user_id = EXCLUDED.user_id,
			username = EXCLUDED.username,
			display_name = EXCLUDED.display_name,
			tags = EXCLUDED.tags,
			frontpage = EXCLUDED.frontpage,
			created_at = EXCLUDED.created_at`).
		ToSql()
	if err != nil {
		return fmt.Errorf("build discussion upsert: %w", err)
	}
	if _, err := tx.Exec(ctx, discussionSQL, discussionArgs...); err != nil {
		return fmt.Errorf("upsert discussion %d: %w", discussion.ID, err)
	}

	if len(discussion.Posts) > 0 {
		builder := s.sb.
			Insert("posts").
			Columns("id", "discussion_id", "reply_to_id", "user_id", "username", "display_name", "content", "created_at")
		for _, post := range discussion.Posts {
			builder = builder.Values(post.ID, post.DiscussionID, post.ReplyToID, post.UserID,
				post.Username, post.DisplayName, post.Content, post.CreatedAt)
		}
		postsSQL, postsArgs, err := builder.
			Suffix(`ON CONFLICT (id) DO UPDATE SET
				discussion_id = EXCLUDED.discussion_id,
				reply_to_id = EXCLUDED.reply_to_id,
				user_id = EXCLUDED.user_id,
				username = EXCLUDED.username,
				display_name = EXCLUDED.display_name,
				content = EXCLUDED.content,
				created_at = EXCLUDED.created_at`).
			ToSql()
		if err != nil {
			return fmt.Errorf("build posts upsert: %w", err)
		}
		if _, err := tx.Exec(ctx, postsSQL, postsArgs...); err != nil {
			return fmt.Errorf("upsert posts for discussion %d: %w", discussion.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit save: %w", err)
	}
	return nil
}

// Get returns a stored discussion, optionally with its posts ordered
// ascending by id.
func (s *Store) Get(ctx context.Context, id int64, withPosts bool) (*entity.Discussion, error) {
	query, args, err := s.sb.
		Select("id", "title", "user_id", "username", "display_name", "tags", "frontpage", "created_at").
		From("discussions").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build discussion select: %w", err)
	}

	var d entity.Discussion
	row := s.pool.QueryRow(ctx, query, args...)
	if err := row.Scan(&d.ID, &d.Title, &d.UserID, &d.Username, &d.DisplayName,
		&d.Tags, &d.Frontpage, &d.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("get discussion %d: %w", id, err)
	}

	if withPosts {
		posts, err := s.listPosts(ctx, id)
		if err != nil {
			return nil, err
		}
		d.Posts = posts
	}
	return &d, nil
}

func (s *Store) listPosts(ctx context.Context, discussionID int64) ([]entity.Post, error) {
	query, args, err := s.sb.
		Select("id", "discussion_id", "reply_to_id", "user_id", "username", "display_name", "content", "created_at").
		From("posts").
		Where(sq.Eq{"discussion_id": discussionID}).
		OrderBy("id ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build posts select: %w", err)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list posts for discussion %d: %w", discussionID, err)
	}
	defer rows.Close()

	var posts []entity.Post
	for rows.Next() {
		var p entity.Post
		if err := rows.Scan(&p.ID, &p.DiscussionID, &p.ReplyToID, &p.UserID,
			&p.Username, &p.DisplayName, &p.Content, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan post: %w", err)
		}
		posts = append(posts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate posts: %w", err)
	}
	return posts, nil
}

// PostIDs returns the ids of posts already stored for a discussion.
func (s *Store) PostIDs(ctx context.Context, discussionID int64) (map[int64]struct{}, error) {
	query, args, err := s.sb.
		Select("id").
		From("posts").
		Where(sq.Eq{"discussion_id": discussionID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build post ids select: %w", err)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("post ids for discussion %d: %w", discussionID, err)
	}
	defer rows.Close()

	ids := make(map[int64]struct{})
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan post id: %w", err)
		}
		ids[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate post ids: %w", err)
	}
	return ids, nil
}

// Upsert writes a ledger row for (entity, entity_id), last write wins.
func (s *Store) Upsert(ctx context.Context, job entity.Job) error {
	query, args, err := s.sb.
		Insert("jobs").
		Columns("entity", "entity_id", "status").
		Values(job.Entity, job.EntityID, string(job.Status)).
		Suffix("ON CONFLICT (entity, entity_id) DO UPDATE SET status = EXCLUDED.status").
		ToSql()
	if err != nil {
		return fmt.Errorf("build job upsert: %w", err)
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert job %s/%d: %w", job.Entity, job.EntityID, err)
	}
	return nil
}

// FindByEntityStatus returns the entity ids whose current ledger status
// matches exactly.
func (s *Store) FindByEntityStatus(ctx context.Context, entityType string, status entity.JobStatus) ([]int64, error) {
	query, args, err := s.sb.
		Select("entity_id").
		From("jobs").
		Where(sq.Eq{"entity": entityType, "status": string(status)}).
		OrderBy("entity_id ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build job select: %w", err)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("find jobs %s/%s: %w", entityType, status, err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan job id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return ids, nil
}

// GetJob returns the ledger row for one entity. A stored status outside the
// closed set is surfaced as an error, not swallowed.
func (s *Store) GetJob(ctx context.Context, entityType string, entityID int64) (entity.Job, error) {
	query, args, err := s.sb.
		Select("status").
		From("jobs").
		Where(sq.Eq{"entity": entityType, "entity_id": entityID}).
		ToSql()
	if err != nil {
		return entity.Job{}, fmt.Errorf("build job get: %w", err)
	}

	var raw string
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return entity.Job{}, store.ErrNotFound
		}
		return entity.Job{}, fmt.Errorf("get job %s/%d: %w", entityType, entityID, err)
	}
	status, err := entity.ParseJobStatus(raw)
	if err != nil {
		return entity.Job{}, fmt.Errorf("job %s/%d: %w", entityType, entityID, err)
	}
	return entity.Job{Entity: entityType, EntityID: entityID, Status: status}, nil
}
