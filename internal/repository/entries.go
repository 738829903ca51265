package repository

import (
	"context"
	"encoding/json"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/set-night/memochat/internal/domain"
)

var entryColumns = []string{
	"id", "user_id", "etype", "atype", "status", "title", "abstract",
	"raw", "source", "addr", "meta", "created_at", "updated_at",
}

// EntryFilter selects entries. Zero fields are not filtered on.
type EntryFilter struct {
	UserID string
	EType  string
	Source string
	Addr   string
	Limit  uint64
}

func (f EntryFilter) where() sq.Eq {
	eq := sq.Eq{}
	if f.UserID != "" {
		eq["user_id"] = f.UserID
	}
	if f.EType != "" {
		eq["etype"] = f.EType
	}
	if f.Source != "" {
		eq["source"] = f.Source
	}
	if f.Addr != "" {
		eq["addr"] = f.Addr
	}
	return eq
}

func scanEntry(row pgx.Row) (*domain.ChatEntry, error) {
	var e domain.ChatEntry
	var meta []byte
	err := row.Scan(&e.ID, &e.UserID, &e.EType, &e.AType, &e.Status, &e.Title, &e.Abstract,
		&e.Raw, &e.Source, &e.Addr, &meta, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &e.Meta); err != nil {
			return nil, fmt.Errorf("decode entry meta: %w", err)
		}
	}
	return &e, nil
}

// ListEntries returns matching entries, most recently updated first.
func (q *Queries) ListEntries(ctx context.Context, f EntryFilter) ([]domain.ChatEntry, error) {
	b := psql.Select(entryColumns...).From("entries").Where(f.where()).OrderBy("updated_at DESC", "id DESC")
	if f.Limit > 0 {
		b = b.Limit(f.Limit)
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build entry query: %w", err)
	}

	rows, err := q.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	defer rows.Close()

	var entries []domain.ChatEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		entries = append(entries, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	return entries, nil
}

func (q *Queries) firstEntry(ctx context.Context, f EntryFilter) (*domain.ChatEntry, error) {
	f.Limit = 1
	entries, err := q.ListEntries(ctx, f)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, domain.ErrEntryNotFound
	}
	return &entries[0], nil
}

// GetChatEntry returns the stored chat for sid.
func (q *Queries) GetChatEntry(ctx context.Context, userID, sid string) (*domain.ChatEntry, error) {
	return q.firstEntry(ctx, EntryFilter{UserID: userID, EType: domain.EntryTypeChat, Addr: sid})
}

// LatestChatEntry returns the most recently updated chat of a user on a source.
func (q *Queries) LatestChatEntry(ctx context.Context, userID, source string) (*domain.ChatEntry, error) {
	return q.firstEntry(ctx, EntryFilter{UserID: userID, EType: domain.EntryTypeChat, Source: source})
}

// ListChatEntries returns addr/title pairs of a user's chats, newest first.
func (q *Queries) ListChatEntries(ctx context.Context, userID string, limit int) ([]domain.ChatSummary, error) {
	query, args, err := psql.Select("addr", "title", "updated_at").
		From("entries").
		Where(sq.Eq{"user_id": userID, "etype": domain.EntryTypeChat}).
		OrderBy("updated_at DESC", "id DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build chat list query: %w", err)
	}

	rows, err := q.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	defer rows.Close()

	var out []domain.ChatSummary
	for rows.Next() {
		var s domain.ChatSummary
		if err := rows.Scan(&s.Addr, &s.Title, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan chat summary: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chats: %w", err)
	}
	return out, nil
}

// CreateChatEntry inserts a chat. A chat already stored under the same user
// and addr keeps its title and takes the new meta and raw.
func (q *Queries) CreateChatEntry(ctx context.Context, e *domain.ChatEntry) error {
	meta, err := json.Marshal(e.Meta)
	if err != nil {
		return fmt.Errorf("encode entry meta: %w", err)
	}
	err = q.db.QueryRow(ctx, `
		INSERT INTO entries (user_id, etype, atype, status, title, abstract, raw, source, addr, meta)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (user_id, addr) DO UPDATE
		SET meta = EXCLUDED.meta, raw = EXCLUDED.raw, updated_at = NOW()
		RETURNING id, created_at, updated_at`,
		e.UserID, e.EType, e.AType, e.Status, e.Title, e.Abstract, e.Raw, e.Source, e.Addr, meta,
	).Scan(&e.ID, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create entry: %w", err)
	}
	return nil
}

// UpdateChatEntry rewrites meta and raw of a stored chat.
func (q *Queries) UpdateChatEntry(ctx context.Context, userID, sid string, meta domain.ChatMeta, raw string) error {
	b, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode entry meta: %w", err)
	}
	_, err = q.db.Exec(ctx, `
		UPDATE entries SET meta = $3, raw = $4, updated_at = NOW()
		WHERE user_id = $1 AND addr = $2`,
		userID, sid, b, raw,
	)
	if err != nil {
		return fmt.Errorf("update entry: %w", err)
	}
	return nil
}

// DeleteChatEntries removes every entry stored under sid.
func (q *Queries) DeleteChatEntries(ctx context.Context, userID, sid string) error {
	_, err := q.db.Exec(ctx, `DELETE FROM entries WHERE user_id = $1 AND addr = $2`, userID, sid)
	if err != nil {
		return fmt.Errorf("delete entries: %w", err)
	}
	return nil
}
