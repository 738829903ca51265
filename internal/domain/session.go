package domain

import (
	"time"
)

const (
	EntryTypeChat   = "chat"
	AbstractSubject = "subjective"
	StatusCollect   = "collect"

	RoleUser      = "user"
	RoleAssistant = "assistant"

	SourceWeb      = "web"
	SourceTelegram = "telegram"
)

// ChatEntry is the persisted form of a chat session.
type ChatEntry struct {
	ID        int64
	UserID    string
	EType     string
	AType     string
	Status    string
	Title     string
	Abstract  string
	Raw       string
	Source    string
	Addr      string
	Meta      ChatMeta
	CreatedAt time.Time
	UpdatedAt time.Time
}

type ChatMeta struct {
	SID      string         `json:"sid"`
	IsGroup  bool           `json:"is_group"`
	Messages []EntryMessage `json:"messages"`
}

type EntryMessage struct {
	Sender      string `json:"sender"`
	Content     string `json:"content"`
	CreatedTime string `json:"created_time"`
}

// ChatSummary is a listing row for a stored chat.
type ChatSummary struct {
	Addr      string
	Title     string
	UpdatedAt time.Time
}
