package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/set-night/memochat/internal/domain"
	"github.com/set-night/memochat/internal/i18n"
)

// TTSOptions is the catalog of selectable engines and voices. The first
// voice of an engine is used when only the engine is named.
var TTSOptions = []domain.TTSOption{
	{Engine: "edge", Voice: "en-US-AriaNeural"},
	{Engine: "edge", Voice: "en-US-GuyNeural"},
	{Engine: "edge", Voice: "zh-CN-XiaoxiaoNeural"},
	{Engine: "edge", Voice: "zh-CN-YunxiNeural"},
	{Engine: "openai", Voice: "alloy"},
	{Engine: "openai", Voice: "nova"},
	{Engine: ttsOff, Voice: ttsOff},
}

const ttsOff = "none"

type TTSStore interface {
	GetUserByUsername(ctx context.Context, username string) (*domain.User, error)
	UpdateUserTTS(ctx context.Context, username, engine, voice string) error
}

type TTSService struct {
	store TTSStore
}

func NewTTSService(store TTSStore) *TTSService {
	return &TTSService{store: store}
}

// ParseTTSOption matches "engine:voice" or a bare engine name against the catalog.
func ParseTTSOption(s string) (domain.TTSOption, bool) {
	s = strings.TrimSpace(s)
	engine, voice, hasVoice := strings.Cut(s, ":")
	for _, o := range TTSOptions {
		if !strings.EqualFold(o.Engine, engine) {
			continue
		}
		if !hasVoice || strings.EqualFold(o.Voice, voice) {
			return o, true
		}
	}
	return domain.TTSOption{}, false
}

// Current returns the user's selection, or the first option when unset.
func (s *TTSService) Current(ctx context.Context, username string) (domain.TTSOption, error) {
	u, err := s.store.GetUserByUsername(ctx, username)
	if err != nil {
		return domain.TTSOption{}, err
	}
	if u.TTSEngine == "" {
		return TTSOptions[0], nil
	}
	return domain.TTSOption{Engine: u.TTSEngine, Voice: u.TTSVoice}, nil
}

// Set stores the user's option. Choosing a voice needs the text-to-speech
// privilege; turning speech off does not.
func (s *TTSService) Set(ctx context.Context, username, option string) (domain.TTSOption, error) {
	o, ok := ParseTTSOption(option)
	if !ok {
		return domain.TTSOption{}, fmt.Errorf("%w: %q", domain.ErrUnknownTTSOption, option)
	}
	if o.Engine != ttsOff {
		u, err := s.store.GetUserByUsername(ctx, username)
		if err != nil {
			return domain.TTSOption{}, fmt.Errorf("set tts: %w", err)
		}
		if !u.Privilege().TextToSpeech {
			return domain.TTSOption{}, fmt.Errorf("set tts: %w", domain.ErrPermissionDenied)
		}
	}
	if err := s.store.UpdateUserTTS(ctx, username, o.Engine, o.Voice); err != nil {
		return domain.TTSOption{}, fmt.Errorf("set tts: %w", err)
	}
	return o, nil
}

// Menu lists the options with the user's current choice.
func (s *TTSService) Menu(ctx context.Context, lang, username string) (string, error) {
	cur, err := s.Current(ctx, username)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	b.WriteString(i18n.T(lang, "tts_select"))
	for _, o := range TTSOptions {
		b.WriteString("\n- ")
		b.WriteString(o.String())
	}
	b.WriteString("\n")
	b.WriteString(i18n.T(lang, "tts_current", "option", cur.String()))
	return b.String(), nil
}

// Apply sets the option and returns the translated outcome.
func (s *TTSService) Apply(ctx context.Context, lang, username, option string) (string, error) {
	o, err := s.Set(ctx, username, option)
	if err != nil {
		if errors.Is(err, domain.ErrUnknownTTSOption) {
			return i18n.T(lang, "tts_unknown", "option", strings.TrimSpace(option)), nil
		}
		if errors.Is(err, domain.ErrPermissionDenied) {
			return i18n.T(lang, "permission_denied"), nil
		}
		return "", err
	}
	return i18n.T(lang, "tts_set_success", "option", o.String()), nil
}
