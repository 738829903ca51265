package agent

import (
	"context"
	"log/slog"
	"time"

	"github.com/set-night/memochat/internal/domain"
	"github.com/set-night/memochat/internal/i18n"
)

type Users interface {
	CheckUserExist(ctx context.Context, username string) (bool, error)
	CreateUser(ctx context.Context, username, password string) (*domain.User, error)
	CheckUserPassword(ctx context.Context, username, password string) (bool, error)
	ChangeUserPassword(ctx context.Context, username, password string) error
	GetUser(ctx context.Context, username string) (*domain.User, error)
}

type Tokens interface {
	Issue(ctx context.Context, user *domain.User) (string, time.Time, error)
}

// CacheUserID is the session cache key holding the account last registered,
// logged in or changed through the agent.
const CacheUserID = "user_id"

// LoginResult is returned by the login function on success.
type LoginResult struct {
	UserID string    `json:"user_id"`
	Token  string    `json:"token"`
	Expiry time.Time `json:"expiry"`
	Info   string    `json:"info"`
}

// UserAgent handles registration, login and password changes.
type UserAgent struct {
	users  Users
	tokens Tokens
}

func NewUserAgent(users Users, tokens Tokens) *UserAgent {
	return &UserAgent{users: users, tokens: tokens}
}

// Register creates an account and returns the translated outcome.
func (a *UserAgent) Register(ctx context.Context, lang, username, password string) (bool, string) {
	if username == "" || password == "" {
		return false, i18n.T(lang, "user_or_password_are_empty_dot_")
	}
	exists, err := a.users.CheckUserExist(ctx, username)
	if err != nil {
		slog.Error("check user exists", "username", username, "error", err)
		return false, i18n.T(lang, "registration_failed")
	}
	if exists {
		return false, i18n.T(lang, "username_already_exists")
	}
	if _, err := a.users.CreateUser(ctx, username, password); err != nil {
		slog.Error("register user", "username", username, "error", err)
		return false, i18n.T(lang, "registration_failed")
	}
	return true, i18n.T(lang, "registration_successful")
}

// ChangePassword validates the request before updating the password.
func (a *UserAgent) ChangePassword(ctx context.Context, lang, username, oldPassword, newPassword string) (bool, string) {
	switch {
	case username == "":
		return false, i18n.T(lang, "empty_username")
	case oldPassword == "":
		return false, i18n.T(lang, "old_password_is_empty")
	case newPassword == "":
		return false, i18n.T(lang, "the_new_password_is_blank")
	case oldPassword == newPassword:
		return false, i18n.T(lang, "old_and_new_passwords_are_identical_dot_")
	}

	exists, err := a.users.CheckUserExist(ctx, username)
	if err != nil {
		slog.Error("check user exists", "username", username, "error", err)
		return false, i18n.T(lang, "setup_failed")
	}
	if !exists {
		return false, i18n.T(lang, "user_does_not_exist")
	}
	ok, err := a.users.CheckUserPassword(ctx, username, oldPassword)
	if err != nil {
		slog.Error("check password", "username", username, "error", err)
		return false, i18n.T(lang, "setup_failed")
	}
	if !ok {
		return false, i18n.T(lang, "original_password_error")
	}
	if err := a.users.ChangeUserPassword(ctx, username, newPassword); err != nil {
		slog.Error("change password", "username", username, "error", err)
		return false, i18n.T(lang, "setup_failed")
	}
	return true, i18n.T(lang, "change_successful")
}

// Login checks the credentials and issues a token.
func (a *UserAgent) Login(ctx context.Context, lang, username, password string) (*LoginResult, string) {
	ok, err := a.users.CheckUserPassword(ctx, username, password)
	if err != nil {
		slog.Error("login", "username", username, "error", err)
		return nil, i18n.T(lang, "backend_processing_failed")
	}
	if !ok {
		return nil, i18n.T(lang, "login_failed")
	}
	u, err := a.users.GetUser(ctx, username)
	if err != nil {
		slog.Error("login", "username", username, "error", err)
		return nil, i18n.T(lang, "backend_processing_failed")
	}
	token, expiry, err := a.tokens.Issue(ctx, u)
	if err != nil {
		slog.Error("login", "username", username, "error", err)
		return nil, i18n.T(lang, "backend_processing_failed")
	}
	info := i18n.T(lang, "login_successful")
	return &LoginResult{UserID: username, Token: token, Expiry: expiry, Info: info}, info
}

func (a *UserAgent) Agent() *Agent {
	return &Agent{
		NameKey: "user_management",
		Functions: []Function{
			{
				Name:        "register",
				TitleKey:    "user_registration",
				Description: "User registration tool: if a username or password is not entered, set it to the string ''; never fabricate or guess the password.",
				Params: []Param{
					{Name: "user_id", Description: "username"},
					{Name: "password", Description: "password"},
				},
				Run: a.runRegister,
			},
			{
				Name:        "login",
				TitleKey:    "user_login",
				Description: "User login tool: if a username or password is not entered, set it to the string ''; never fabricate or guess the password.",
				Params: []Param{
					{Name: "user_id", Description: "username"},
					{Name: "password", Description: "password"},
				},
				Run: a.runLogin,
			},
			{
				Name:        "change_password",
				TitleKey:    "change_password",
				Description: "User password change tool: set missing values to the string ''; when only one password is given, set the old password to ''.",
				Params: []Param{
					{Name: "user_id", Description: "username"},
					{Name: "password_old", Description: "current password"},
					{Name: "password_new", Description: "new password"},
				},
				Run: a.runChangePassword,
			},
			{
				Name:        "logout",
				TitleKey:    "user_logout",
				Description: "User logout tool",
				Run: func(context.Context, Request, map[string]string) (string, error) {
					return jsonText(map[string]bool{"logout": true}), nil
				},
			},
		},
	}
}

// remember records the account on the session. Passwords are never cached.
func remember(s Request, username string) {
	if s.Session == nil {
		return
	}
	s.Session.SetCache(CacheUserID, username)
}

func (a *UserAgent) runRegister(ctx context.Context, req Request, args map[string]string) (string, error) {
	ok, info := a.Register(ctx, req.Lang, args["user_id"], args["password"])
	if ok {
		remember(req, args["user_id"])
	}
	return info, nil
}

func (a *UserAgent) runLogin(ctx context.Context, req Request, args map[string]string) (string, error) {
	res, info := a.Login(ctx, req.Lang, args["user_id"], args["password"])
	if res == nil {
		return info, nil
	}
	remember(req, res.UserID)
	return jsonText(res), nil
}

func (a *UserAgent) runChangePassword(ctx context.Context, req Request, args map[string]string) (string, error) {
	ok, info := a.ChangePassword(ctx, req.Lang, args["user_id"], args["password_old"], args["password_new"])
	if ok {
		remember(req, args["user_id"])
	}
	return info, nil
}
