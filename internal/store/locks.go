package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// AcquireLock inserts a row for name. The primary key on name is the
// exclusion mechanism: if the row already exists the lock is held by someone
// else (or by owner itself) and false is returned.
func (s *SQLiteStore) AcquireLock(ctx context.Context, name, owner string) (bool, error) {
	acquired := false
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx,
			"INSERT INTO locks (name, owner, acquired_at) VALUES (?, ?, ?) ON CONFLICT(name) DO NOTHING",
			name, owner, s.now())
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		acquired = n > 0
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", name, err)
	}
	return acquired, nil
}

// ReleaseLock deletes the lock only when it is held by owner.
func (s *SQLiteStore) ReleaseLock(ctx context.Context, name, owner string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM locks WHERE name = ? AND owner = ?", name, owner)
	if err != nil {
		return fmt.Errorf("release lock %s: %w", name, err)
	}
	return nil
}

func (s *SQLiteStore) ListLocks(ctx context.Context) ([]Lock, error) {
	var locks []Lock
	if err := s.db.SelectContext(ctx, &locks, "SELECT * FROM locks ORDER BY acquired_at"); err != nil {
		return nil, fmt.Errorf("list locks: %w", err)
	}
	return locks, nil
}

// ExpireLocks removes locks acquired before the given time, regardless of
// owner. It is the recovery path for processes that died holding a lock.
func (s *SQLiteStore) ExpireLocks(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM locks WHERE acquired_at < ?", before.UTC())
	if err != nil {
		return 0, fmt.Errorf("expire locks: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// WithLock runs fn while holding the named lock. held is false, and fn is not
// called, when another owner has the lock.
func WithLock(ctx context.Context, s Store, name, owner string, fn func(ctx context.Context) error) (held bool, err error) {
	ok, err := s.AcquireLock(ctx, name, owner)
	if err != nil || !ok {
		return false, err
	}
	defer func() {
		// Release must run even if ctx was cancelled during fn.
		relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if relErr := s.ReleaseLock(relCtx, name, owner); relErr != nil && err == nil {
			err = relErr
		}
	}()
	return true, fn(ctx)
}
