package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// Post is an accepted piece of content. Its text is immutable once saved;
// only the publication fields change.
type Post struct {
	ID             int64     `db:"id" json:"id"`
	ContentHash    string    `db:"content_hash" json:"content_hash"`
	Title          string    `db:"title" json:"title"`
	Body           string    `db:"body" json:"body"`
	Score          int       `db:"score" json:"score"`
	Keywords       []string  `db:"-" json:"keywords"`
	Hashtags       []string  `db:"-" json:"hashtags"`
	KeywordsJSON   string    `db:"keywords" json:"-"`
	HashtagsJSON   string    `db:"hashtags" json:"-"`
	Topic          string    `db:"topic" json:"topic"`
	Source         string    `db:"source" json:"source"`
	QualityWarning bool      `db:"quality_warning" json:"quality_warning"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`

	Status          PostStatus `db:"status" json:"status"`
	PublishAttempts int        `db:"publish_attempts" json:"publish_attempts"`
	PublishedAt     *time.Time `db:"published_at" json:"published_at,omitempty"`
}

// HashContent returns the content digest used as a post's unique key.
func HashContent(body string) string {
	sum := sha256.Sum256([]byte(body))
	return hex.EncodeToString(sum[:])
}

// SaveIfAbsent inserts p as pending, keyed by its content hash. It reports
// false, without error, when a post with the same hash exists and has not
// been abandoned; an abandoned post with the same text is revived instead.
// ContentHash and CreatedAt are filled in when empty; ID is set on insert.
func (s *SQLiteStore) SaveIfAbsent(ctx context.Context, p *Post) (bool, error) {
	if p.ContentHash == "" {
		p.ContentHash = HashContent(p.Body)
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.now()
	}
	// Timestamps are compared as text, so every row must be in one zone.
	p.CreatedAt = p.CreatedAt.UTC()
	keywordsJSON, err := marshalList(p.Keywords)
	if err != nil {
		return false, fmt.Errorf("marshal keywords: %w", err)
	}
	hashtagsJSON, err := marshalList(p.Hashtags)
	if err != nil {
		return false, fmt.Errorf("marshal hashtags: %w", err)
	}

	inserted := false
	err = s.withTx(ctx, func(tx *sqlx.Tx) error {
		var id int64
		err := tx.QueryRowxContext(ctx, `
			INSERT INTO posts (content_hash, title, body, score, keywords, hashtags, topic, source,
				quality_warning, created_at, status, publish_attempts)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)
			ON CONFLICT(content_hash) DO UPDATE SET
				title = excluded.title,
				score = excluded.score,
				keywords = excluded.keywords,
				hashtags = excluded.hashtags,
				topic = excluded.topic,
				source = excluded.source,
				quality_warning = excluded.quality_warning,
				created_at = excluded.created_at,
				status = excluded.status,
				publish_attempts = 0,
				published_at = NULL
			WHERE posts.status = ?
			RETURNING id
		`, p.ContentHash, p.Title, p.Body, p.Score, keywordsJSON, hashtagsJSON,
			p.Topic, p.Source, p.QualityWarning, p.CreatedAt, string(PostPending), string(PostAbandoned)).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		inserted = true
		p.ID = id
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("save post %s: %w", shortHash(p.ContentHash), err)
	}
	if inserted {
		p.Status, p.PublishAttempts, p.PublishedAt = PostPending, 0, nil
	}
	p.KeywordsJSON, p.HashtagsJSON = keywordsJSON, hashtagsJSON
	return inserted, nil
}

// RecentPosts returns up to limit posts that are published or still pending,
// newest first. Abandoned posts never went out and are left out.
func (s *SQLiteStore) RecentPosts(ctx context.Context, limit int) ([]Post, error) {
	if limit <= 0 {
		return nil, nil
	}

	var posts []Post
	err := s.db.SelectContext(ctx, &posts,
		"SELECT * FROM posts WHERE status != ? ORDER BY created_at DESC, id DESC LIMIT ?", string(PostAbandoned), limit)
	if err != nil {
		return nil, fmt.Errorf("list recent posts: %w", err)
	}

	for i := range posts {
		if err := decodeLists(&posts[i]); err != nil {
			return nil, err
		}
	}
	return posts, nil
}

// PendingPost returns the oldest post that was accepted but not yet published.
func (s *SQLiteStore) PendingPost(ctx context.Context) (*Post, bool, error) {
	var posts []Post
	err := s.db.SelectContext(ctx, &posts,
		"SELECT * FROM posts WHERE status = ? ORDER BY created_at, id LIMIT 1", string(PostPending))
	if err != nil {
		return nil, false, fmt.Errorf("find pending post: %w", err)
	}
	if len(posts) == 0 {
		return nil, false, nil
	}
	if err := decodeLists(&posts[0]); err != nil {
		return nil, false, err
	}
	return &posts[0], true, nil
}

// MarkPostPublished records that the publisher delivered post id.
func (s *SQLiteStore) MarkPostPublished(ctx context.Context, id int64, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE posts SET status = ?, published_at = ? WHERE id = ?", string(PostPublished), at.UTC(), id)
	if err != nil {
		return fmt.Errorf("mark post %d published: %w", id, err)
	}
	return nil
}

// RecordPublishFailure counts a failed delivery of pending post id. Once
// maxAttempts failures are recorded the post is abandoned and abandoned is true.
func (s *SQLiteStore) RecordPublishFailure(ctx context.Context, id int64, maxAttempts int) (bool, error) {
	var status PostStatus
	err := s.db.QueryRowxContext(ctx, `
		UPDATE posts SET
			publish_attempts = publish_attempts + 1,
			status = CASE WHEN publish_attempts + 1 >= ? THEN ? ELSE status END
		WHERE id = ? AND status = ?
		RETURNING status
	`, maxAttempts, string(PostAbandoned), id, string(PostPending)).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("record publish failure of post %d: %w", id, err)
	}
	return status == PostAbandoned, nil
}

func (s *SQLiteStore) CountPosts(ctx context.Context) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM posts"); err != nil {
		return 0, fmt.Errorf("count posts: %w", err)
	}
	return n, nil
}

func marshalList(list []string) (string, error) {
	if list == nil {
		list = []string{}
	}
	b, err := json.Marshal(list)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalList(raw string, dst *[]string) error {
	if raw == "" {
		*dst = []string{}
		return nil
	}
	return json.Unmarshal([]byte(raw), dst)
}

func decodeLists(p *Post) error {
	if err := unmarshalList(p.KeywordsJSON, &p.Keywords); err != nil {
		return fmt.Errorf("decode keywords of post %d: %w", p.ID, err)
	}
	if err := unmarshalList(p.HashtagsJSON, &p.Hashtags); err != nil {
		return fmt.Errorf("decode hashtags of post %d: %w", p.ID, err)
	}
	return nil
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
