package store

import (
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
)

const schema = `
CREATE TABLE IF NOT EXISTS posts (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    content_hash    TEXT NOT NULL UNIQUE,
    title           TEXT NOT NULL DEFAULT '',
    body            TEXT NOT NULL,
    score           INTEGER NOT NULL DEFAULT 0,
    keywords        TEXT NOT NULL DEFAULT '[]',
    hashtags        TEXT NOT NULL DEFAULT '[]',
    topic           TEXT NOT NULL DEFAULT '',
    source          TEXT NOT NULL DEFAULT '',
    quality_warning BOOLEAN NOT NULL DEFAULT 0,
    created_at      DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_posts_created_at ON posts(created_at);

CREATE TABLE IF NOT EXISTS queue (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    item        TEXT NOT NULL UNIQUE,
    enqueued_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS used_items (
    item    TEXT PRIMARY KEY,
    used_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS state (
    key        TEXT PRIMARY KEY,
    value      TEXT NOT NULL,
    updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS locks (
    name        TEXT PRIMARY KEY,
    owner       TEXT NOT NULL,
    acquired_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS topic_history (
    id      INTEGER PRIMARY KEY AUTOINCREMENT,
    topic   TEXT NOT NULL,
    used_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_topic_history_topic ON topic_history(topic, used_at);
`

// PostStatus is where a saved post is in its publication lifecycle.
type PostStatus string

const (
	// PostPending is accepted but not yet confirmed by the publisher.
	PostPending PostStatus = "pending"
	// PostPublished was delivered.
	PostPublished PostStatus = "published"
	// PostAbandoned ran out of publish attempts.
	PostAbandoned PostStatus = "abandoned"
)

// postColumns are added to databases created before posts tracked
// publication. Rows that predate them were already published.
var postColumns = []struct{ name, ddl string }{
	{"status", "ALTER TABLE posts ADD COLUMN status TEXT NOT NULL DEFAULT 'published'"},
	{"publish_attempts", "ALTER TABLE posts ADD COLUMN publish_attempts INTEGER NOT NULL DEFAULT 0"},
	{"published_at", "ALTER TABLE posts ADD COLUMN published_at DATETIME"},
}

const postIndexes = `
CREATE INDEX IF NOT EXISTS idx_posts_status ON posts(status, created_at);
`

func migrate(db *sqlx.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return err
	}
	for _, col := range postColumns {
		var n int
		if err := db.Get(&n, "SELECT COUNT(*) FROM pragma_table_info('posts') WHERE name = ?", col.name); err != nil {
			return fmt.Errorf("inspect posts.%s: %w", col.name, err)
		}
		if n > 0 {
			continue
		}
		// Another process may add the column between the check and here.
		if _, err := db.Exec(col.ddl); err != nil && !strings.Contains(err.Error(), "duplicate column") {
			return fmt.Errorf("add posts.%s: %w", col.name, err)
		}
	}
	if _, err := db.Exec(postIndexes); err != nil {
		return err
	}
	return nil
}
