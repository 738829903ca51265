package service

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/set-night/memochat/internal/domain"
	"github.com/set-night/memochat/internal/llm"
)

func TestResourceService_Record(t *testing.T) {
	store := newMemUsers()
	s := NewResourceService(store)

	s.RecordLLM(context.Background(), "alice", "gpt", llm.Usage{PromptTokens: 12, CompletionTokens: 3, TotalCost: 0.0015})

	recs := store.usageRecords()
	require.Len(t, recs, 1)
	assert.Equal(t, domain.UsageLLM, recs[0].Kind)
	assert.Equal(t, "gpt", recs[0].Model)
	assert.Equal(t, 12, recs[0].PromptTokens)
	assert.True(t, recs[0].Cost.Equal(decimal.RequireFromString("0.0015")))
}

func TestResourceService_Summary(t *testing.T) {
	ctx := context.Background()
	store := newMemUsers()
	s := NewResourceService(store)

	out, err := s.Summary(ctx, "en", "alice")
	require.NoError(t, err)
	assert.Equal(t, "No usage recorded yet.", out)

	store.totals = []domain.UsageTotal{
		{Kind: domain.UsageLLM, Requests: 4, PromptTokens: 100, CompletionTokens: 40, Cost: decimal.RequireFromString("0.012")},
		{Kind: domain.UsageWeb, Requests: 1},
	}
	out, err = s.Summary(ctx, "en", "alice")
	require.NoError(t, err)
	assert.Equal(t, "Resource usage in the last 30 days:\n"+
		"Chat: 4 requests, 100 prompt tokens, 40 completion tokens, cost $0.0120\n"+
		"Web pages: 1 requests, 0 prompt tokens, 0 completion tokens, cost $0.0000", out)
}

func TestParseTTSOption(t *testing.T) {
	tests := []struct {
		in   string
		want domain.TTSOption
		ok   bool
	}{
		{"edge:en-US-GuyNeural", domain.TTSOption{Engine: "edge", Voice: "en-US-GuyNeural"}, true},
		{" OpenAI:Nova ", domain.TTSOption{Engine: "openai", Voice: "nova"}, true},
		{"openai", domain.TTSOption{Engine: "openai", Voice: "alloy"}, true},
		{"edge:unknown", domain.TTSOption{}, false},
		{"festival", domain.TTSOption{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseTTSOption(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTTSService(t *testing.T) {
	ctx := context.Background()
	store := newMemUsers()
	store.byName["alice"] = &domain.User{ID: 1, Username: "alice", IsActive: true, Level: domain.LevelRegular}
	s := NewTTSService(store)

	cur, err := s.Current(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, TTSOptions[0], cur)

	out, err := s.Apply(ctx, "en", "alice", "openai:nova")
	require.NoError(t, err)
	assert.Equal(t, "Text-to-speech set to openai:nova.", out)
	assert.Equal(t, "openai", store.byName["alice"].TTSEngine)

	out, err = s.Apply(ctx, "en", "alice", "festival")
	require.NoError(t, err)
	assert.Equal(t, "Unknown text-to-speech option: festival", out)

	menu, err := s.Menu(ctx, "en", "alice")
	require.NoError(t, err)
	assert.Contains(t, menu, "Select a text-to-speech option:")
	assert.Contains(t, menu, "\n- edge:zh-CN-XiaoxiaoNeural")
	assert.Contains(t, menu, "Current: openai:nova")

	_, err = s.Set(ctx, "nobody", "openai")
	assert.ErrorIs(t, err, domain.ErrUserNotFound)
}

func TestTTSService_GuestDenied(t *testing.T) {
	ctx := context.Background()
	store := newMemUsers()
	store.byName["guest"] = &domain.User{ID: 2, Username: "guest", IsActive: true, Level: domain.LevelGuest}
	s := NewTTSService(store)

	_, err := s.Set(ctx, "guest", "edge:en-US-GuyNeural")
	assert.ErrorIs(t, err, domain.ErrPermissionDenied)

	out, err := s.Apply(ctx, "en", "guest", "openai")
	require.NoError(t, err)
	assert.Equal(t, "Your user level does not allow this.", out)
	assert.Empty(t, store.byName["guest"].TTSEngine)

	o, err := s.Set(ctx, "guest", "none")
	require.NoError(t, err)
	assert.Equal(t, "none", o.Engine)
}
