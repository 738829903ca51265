package domain

import (
	"time"
)

// UserLevel orders privilege tiers.
type UserLevel int

const (
	LevelGuest UserLevel = iota
	LevelRegular
	LevelPremium
	LevelAdmin
)

type User struct {
	ID           int64
	Username     string
	PasswordHash string
	IsActive     bool
	Level        UserLevel
	// IsGroup marks a shared identity created for a group chat. It has no
	// password and is used without a token.
	IsGroup bool

	// Settings
	TTSEngine     string
	TTSVoice      string
	ChatShowCount int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// LevelKey returns the translation key describing the user's level.
func (u *User) LevelKey() string {
	switch u.Level {
	case LevelRegular:
		return "level_regular"
	case LevelPremium:
		return "level_premium"
	case LevelAdmin:
		return "level_admin"
	default:
		return "level_guest"
	}
}

// Privilege lists what a level is allowed to do. ChatHistory caps how many
// stored messages a session loads.
type Privilege struct {
	ChatHistory  int
	UploadFiles  bool
	ReadWebPages bool
	TextToSpeech bool
}

// GuestPrivilege applies to guests and to requests without a known user.
var GuestPrivilege = Privilege{ChatHistory: 50}

func (u *User) Privilege() Privilege {
	if u == nil {
		return GuestPrivilege
	}
	p := GuestPrivilege
	if u.Level >= LevelRegular {
		p.ChatHistory = 200
		p.UploadFiles = true
		p.ReadWebPages = true
		p.TextToSpeech = true
	}
	if u.Level >= LevelPremium {
		p.ChatHistory = 1000
	}
	return p
}

// AuthToken is a stored login token. Only the digest of the token is kept.
type AuthToken struct {
	Digest    string
	TokenKey  string
	UserID    int64
	CreatedAt time.Time
	ExpiresAt time.Time
}

func (t *AuthToken) Expired(now time.Time) bool {
	return !t.ExpiresAt.After(now)
}
