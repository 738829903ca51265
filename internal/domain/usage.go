package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type UsageKind string

const (
	UsageLLM UsageKind = "llm"
	UsageTTS UsageKind = "tts"
	UsageWeb UsageKind = "web"
)

type UsageRecord struct {
	ID               int64
	UserID           string
	Kind             UsageKind
	Model            string
	PromptTokens     int
	CompletionTokens int
	Cost             decimal.Decimal
	CreatedAt        time.Time
}

// UsageTotal aggregates usage of one kind.
type UsageTotal struct {
	Kind             UsageKind
	Requests         int64
	PromptTokens     int64
	CompletionTokens int64
	Cost             decimal.Decimal
}
