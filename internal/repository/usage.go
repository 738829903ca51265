package repository

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/set-night/memochat/internal/domain"
)

func (q *Queries) CreateUsage(ctx context.Context, r domain.UsageRecord) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO resource_usage (user_id, kind, model, prompt_tokens, completion_tokens, cost)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		r.UserID, string(r.Kind), r.Model, int32(r.PromptTokens), int32(r.CompletionTokens), r.Cost,
	)
	if err != nil {
		return fmt.Errorf("create usage: %w", err)
	}
	return nil
}

// SumUsage totals a user's usage per kind, optionally since a point in time.
func (q *Queries) SumUsage(ctx context.Context, userID string, since time.Time) ([]domain.UsageTotal, error) {
	b := psql.Select(
		"kind",
		"COUNT(*)",
		"COALESCE(SUM(prompt_tokens), 0)",
		"COALESCE(SUM(completion_tokens), 0)",
		"COALESCE(SUM(cost), 0)",
	).From("resource_usage").Where(sq.Eq{"user_id": userID})
	if !since.IsZero() {
		b = b.Where(sq.GtOrEq{"created_at": since})
	}
	query, args, err := b.GroupBy("kind").OrderBy("kind").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build usage query: %w", err)
	}

	rows, err := q.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sum usage: %w", err)
	}
	defer rows.Close()

	var totals []domain.UsageTotal
	for rows.Next() {
		var t domain.UsageTotal
		var kind string
		if err := rows.Scan(&kind, &t.Requests, &t.PromptTokens, &t.CompletionTokens, &t.Cost); err != nil {
			return nil, fmt.Errorf("scan usage: %w", err)
		}
		t.Kind = domain.UsageKind(kind)
		totals = append(totals, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate usage: %w", err)
	}
	return totals, nil
}
