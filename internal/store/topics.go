package store

import (
	"context"
	"fmt"
	"time"
)

func (s *SQLiteStore) RecordTopicUse(ctx context.Context, topic string, at time.Time) error {
	if at.IsZero() {
		at = s.now()
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO topic_history (topic, used_at) VALUES (?, ?)", topic, at.UTC())
	if err != nil {
		return fmt.Errorf("record topic %q: %w", topic, err)
	}
	return nil
}

// LastTopicUse returns the most recent time topic was committed to publication.
func (s *SQLiteStore) LastTopicUse(ctx context.Context, topic string) (time.Time, bool, error) {
	var uses []TopicUse
	err := s.db.SelectContext(ctx, &uses,
		"SELECT topic, used_at FROM topic_history WHERE topic = ? ORDER BY used_at DESC LIMIT 1", topic)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("last use of topic %q: %w", topic, err)
	}
	if len(uses) == 0 {
		return time.Time{}, false, nil
	}
	return uses[0].UsedAt, true, nil
}

func (s *SQLiteStore) TopicHistory(ctx context.Context, limit int) ([]TopicUse, error) {
	if limit <= 0 {
		limit = 50
	}
	var uses []TopicUse
	err := s.db.SelectContext(ctx, &uses,
		"SELECT topic, used_at FROM topic_history ORDER BY used_at DESC, id DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("list topic history: %w", err)
	}
	return uses, nil
}
