package handler

import (
	"errors"
	"log/slog"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/set-night/memochat/internal/domain"
	"github.com/set-night/memochat/internal/middleware"
	"github.com/set-night/memochat/internal/session"
)

// requestFields are the form fields copied into the session request args.
var requestFields = []string{"sid", "is_group", "source", "create", "content", "user_id", "rtype"}

// formArgs copies the request fields that are present, empty ones included.
func formArgs(c echo.Context) map[string]string {
	args := make(map[string]string, len(requestFields))
	params, err := c.FormParams()
	if err != nil {
		slog.Warn("parse form", "error", err)
	}
	for _, k := range requestFields {
		if vs, ok := params[k]; ok && len(vs) > 0 {
			args[k] = vs[0]
		}
	}
	if args["source"] == "" {
		args["source"] = domain.SourceWeb
	}
	return args
}

func isTrue(v string) bool {
	return strings.EqualFold(strings.TrimSpace(v), "true")
}

// requestUser is the token user, else the identity of a group channel, else
// anonymous. A group channel names the default user or a group user;
// ErrNotGroupUser is returned for any other account.
func (h *Handler) requestUser(c echo.Context, args map[string]string) (string, error) {
	if u := middleware.GetUser(c); u != nil {
		return u.Username, nil
	}
	if !isTrue(args["is_group"]) {
		return "", nil
	}

	ctx := c.Request().Context()
	name := args["user_id"]
	if name == "" || name == h.cfg.DefaultUser {
		if h.cfg.DefaultUser == "" {
			return "", nil
		}
		if _, err := h.users.EnsureDefaultUser(ctx, h.cfg.DefaultUser); err != nil {
			return "", err
		}
		return h.cfg.DefaultUser, nil
	}
	if _, err := h.users.EnsureGroupUser(ctx, name); err != nil {
		return "", err
	}
	return name, nil
}

// sessionFromRequest resolves the session a request refers to and records the
// request on it.
func (h *Handler) sessionFromRequest(c echo.Context) (*session.Session, map[string]string, error) {
	args := formArgs(c)
	userID, err := h.requestUser(c, args)
	if err != nil {
		return nil, nil, err
	}

	sess, err := h.sessions.Get(c.Request().Context(),
		args["sid"], userID, isTrue(args["is_group"]), args["source"], isTrue(args["create"]))
	if err != nil {
		return nil, nil, err
	}
	sess.SetRequest(args, args["content"])
	return sess, args, nil
}

// resolveFailed answers a request whose session could not be resolved.
func resolveFailed(c echo.Context, err error) error {
	if errors.Is(err, domain.ErrNotGroupUser) {
		slog.Warn("group request names a personal account", "error", err)
		return failed(c, "please_sign_up_or_log_in_first")
	}
	slog.Error("resolve session", "error", err)
	return failed(c, "backend_processing_failed")
}
