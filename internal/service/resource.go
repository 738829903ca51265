package service

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/set-night/memochat/internal/domain"
	"github.com/set-night/memochat/internal/i18n"
	"github.com/set-night/memochat/internal/llm"
)

// UsageWindowDays is the period covered by the usage summary.
const UsageWindowDays = 30

type UsageStore interface {
	CreateUsage(ctx context.Context, r domain.UsageRecord) error
	SumUsage(ctx context.Context, userID string, since time.Time) ([]domain.UsageTotal, error)
}

// ResourceService accounts model and network usage per user.
type ResourceService struct {
	store UsageStore
	now   func() time.Time
}

func NewResourceService(store UsageStore) *ResourceService {
	return &ResourceService{store: store, now: time.Now}
}

func (s *ResourceService) Record(ctx context.Context, userID string, kind domain.UsageKind, model string, usage llm.Usage) error {
	err := s.store.CreateUsage(ctx, domain.UsageRecord{
		UserID:           userID,
		Kind:             kind,
		Model:            model,
		PromptTokens:     usage.PromptTokens,
		CompletionTokens: usage.CompletionTokens,
		Cost:             decimal.NewFromFloat(usage.TotalCost),
	})
	if err != nil {
		return fmt.Errorf("record usage: %w", err)
	}
	return nil
}

// RecordLLM records a completion and only logs failures.
func (s *ResourceService) RecordLLM(ctx context.Context, userID, model string, usage llm.Usage) {
	if err := s.Record(ctx, userID, domain.UsageLLM, model, usage); err != nil {
		slog.Error("failed to record llm usage", "user_id", userID, "model", model, "error", err)
	}
}

// Summary renders the user's usage over the last UsageWindowDays days.
func (s *ResourceService) Summary(ctx context.Context, lang, userID string) (string, error) {
	since := s.now().AddDate(0, 0, -UsageWindowDays)
	totals, err := s.store.SumUsage(ctx, userID, since)
	if err != nil {
		return "", fmt.Errorf("usage summary: %w", err)
	}
	if len(totals) == 0 {
		return i18n.T(lang, "usage_none"), nil
	}

	lines := []string{i18n.T(lang, "usage_summary_header", "days", strconv.Itoa(UsageWindowDays))}
	total := decimal.Zero
	for _, t := range totals {
		lines = append(lines, i18n.T(lang, "usage_line",
			"kind", i18n.T(lang, "usage_kind_"+string(t.Kind)),
			"requests", strconv.FormatInt(t.Requests, 10),
			"prompt", strconv.FormatInt(t.PromptTokens, 10),
			"completion", strconv.FormatInt(t.CompletionTokens, 10),
			"cost", t.Cost.StringFixed(4),
		))
		total = total.Add(t.Cost)
	}
	slog.Debug("usage summary", "user_id", userID, "kinds", len(totals), "cost", total.String())
	return strings.Join(lines, "\n"), nil
}
