package repository

import (
	"context"
	"fmt"
)

// CheckAndIncrementRateLimit bumps the counter of key in the current
// one-minute window and returns the new count.
func (q *Queries) CheckAndIncrementRateLimit(ctx context.Context, key string) (int, error) {
	var count int32
	err := q.db.QueryRow(ctx, `
		INSERT INTO rate_limits (key, window_start, count)
		VALUES ($1, date_trunc('minute', NOW()), 1)
		ON CONFLICT (key) DO UPDATE SET
			count = CASE
				WHEN rate_limits.window_start = date_trunc('minute', NOW()) THEN rate_limits.count + 1
				ELSE 1
			END,
			window_start = date_trunc('minute', NOW())
		RETURNING count`, key,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("rate limit: %w", err)
	}
	return int(count), nil
}
