package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// Lock is a named mutual-exclusion marker. A row existing means the lock is held.
type Lock struct {
	Name       string    `db:"name" json:"name"`
	Owner      string    `db:"owner" json:"owner"`
	AcquiredAt time.Time `db:"acquired_at" json:"acquired_at"`
}

// QueueEntry is one pending item in the FIFO queue.
type QueueEntry struct {
	ID         int64     `db:"id" json:"id"`
	Item       string    `db:"item" json:"item"`
	EnqueuedAt time.Time `db:"enqueued_at" json:"enqueued_at"`
}

// TopicUse records a topic committed to publication.
type TopicUse struct {
	Topic  string    `db:"topic" json:"topic"`
	UsedAt time.Time `db:"used_at" json:"used_at"`
}

// Store is the persistence interface.
type Store interface {
	SaveIfAbsent(ctx context.Context, p *Post) (bool, error)
	RecentPosts(ctx context.Context, limit int) ([]Post, error)
	CountPosts(ctx context.Context) (int, error)
	PendingPost(ctx context.Context) (*Post, bool, error)
	MarkPostPublished(ctx context.Context, id int64, at time.Time) error
	RecordPublishFailure(ctx context.Context, id int64, maxAttempts int) (abandoned bool, err error)

	Enqueue(ctx context.Context, item string) (bool, error)
	DequeueFront(ctx context.Context) (string, bool, error)
	ListQueue(ctx context.Context) ([]QueueEntry, error)
	IsUsed(ctx context.Context, item string) (bool, error)

	GetState(ctx context.Context, key string) (string, bool, error)
	SetState(ctx context.Context, key, value string) error

	AcquireLock(ctx context.Context, name, owner string) (bool, error)
	ReleaseLock(ctx context.Context, name, owner string) error
	ListLocks(ctx context.Context) ([]Lock, error)
	ExpireLocks(ctx context.Context, before time.Time) (int64, error)

	RecordTopicUse(ctx context.Context, topic string, at time.Time) error
	LastTopicUse(ctx context.Context, topic string) (time.Time, bool, error)
	TopicHistory(ctx context.Context, limit int) ([]TopicUse, error)

	Close() error
}

// SQLiteStore implements Store using SQLite. Several processes may open the
// same file; writes that must be atomic run inside BEGIN IMMEDIATE transactions.
type SQLiteStore struct {
	db  *sqlx.DB
	now func() time.Time
}

// New opens a SQLite database and runs migrations.
func New(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir %s: %w", dir, err)
		}
	}

	dsn := "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(10000)&_pragma=synchronous(NORMAL)&_txlock=immediate"
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return NewWithDB(db), nil
}

// NewWithDB wraps an already opened database. The schema is assumed to exist.
func NewWithDB(db *sqlx.DB) *SQLiteStore {
	return &SQLiteStore{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// withTx runs fn in a single transaction. The DSN sets _txlock=immediate, so
// the write lock is taken at BEGIN and concurrent writers wait on busy_timeout
// instead of failing halfway through.
func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) (err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				err = errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
			}
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetState(ctx context.Context, key string) (string, bool, error) {
	var values []string
	if err := s.db.SelectContext(ctx, &values, "SELECT value FROM state WHERE key = ?", key); err != nil {
		return "", false, fmt.Errorf("get state %s: %w", key, err)
	}
	if len(values) == 0 {
		return "", false, nil
	}
	return values[0], true, nil
}

func (s *SQLiteStore) SetState(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO state (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, s.now())
	if err != nil {
		return fmt.Errorf("set state %s: %w", key, err)
	}
	return nil
}
