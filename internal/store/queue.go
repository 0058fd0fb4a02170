package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
)

// Enqueue appends item to the back of the queue. Items that are already
// pending or have been served before are ignored and false is returned.
func (s *SQLiteStore) Enqueue(ctx context.Context, item string) (bool, error) {
	item = strings.TrimSpace(item)
	if item == "" {
		return false, fmt.Errorf("enqueue: empty item")
	}

	added := false
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		var used int
		if err := tx.GetContext(ctx, &used, "SELECT COUNT(*) FROM used_items WHERE item = ?", item); err != nil {
			return err
		}
		if used > 0 {
			return nil
		}

		res, err := tx.ExecContext(ctx,
			"INSERT INTO queue (item, enqueued_at) VALUES (?, ?) ON CONFLICT(item) DO NOTHING",
			item, s.now())
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		added = n > 0
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("enqueue %s: %w", item, err)
	}
	return added, nil
}

// DequeueFront removes the oldest pending item and moves it to the used set
// in one transaction. ok is false when the queue is empty.
func (s *SQLiteStore) DequeueFront(ctx context.Context) (item string, ok bool, err error) {
	err = s.withTx(ctx, func(tx *sqlx.Tx) error {
		var entries []QueueEntry
		if err := tx.SelectContext(ctx, &entries, "SELECT * FROM queue ORDER BY id LIMIT 1"); err != nil {
			return err
		}
		if len(entries) == 0 {
			return nil
		}
		front := entries[0]

		if _, err := tx.ExecContext(ctx, "DELETE FROM queue WHERE id = ?", front.ID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO used_items (item, used_at) VALUES (?, ?) ON CONFLICT(item) DO NOTHING",
			front.Item, s.now()); err != nil {
			return err
		}
		item, ok = front.Item, true
		return nil
	})
	if err != nil {
		return "", false, fmt.Errorf("dequeue front: %w", err)
	}
	return item, ok, nil
}

// ListQueue returns pending items in FIFO order.
func (s *SQLiteStore) ListQueue(ctx context.Context) ([]QueueEntry, error) {
	var entries []QueueEntry
	if err := s.db.SelectContext(ctx, &entries, "SELECT * FROM queue ORDER BY id"); err != nil {
		return nil, fmt.Errorf("list queue: %w", err)
	}
	return entries, nil
}

func (s *SQLiteStore) IsUsed(ctx context.Context, item string) (bool, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM used_items WHERE item = ?", item); err != nil {
		return false, fmt.Errorf("check used %s: %w", item, err)
	}
	return n > 0, nil
}
