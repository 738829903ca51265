package handler

import (
	"log/slog"

	"github.com/labstack/echo/v4"

	"github.com/set-night/memochat/internal/i18n"
	"github.com/set-night/memochat/internal/session"
)

// SessionAPI runs the session operation named by rtype.
// POST /api/message/session/
func (h *Handler) SessionAPI(c echo.Context) error {
	sess, args, err := h.sessionFromRequest(c)
	if err != nil {
		return resolveFailed(c, err)
	}
	slog.Info("session request", "sid", sess.ID(), "rtype", args["rtype"], "is_group", sess.IsGroup())

	if handled, err := h.sessionAction(c, sess, args["rtype"]); handled {
		return err
	}
	return failed(c, "backend_processing_failed")
}

// sessionAction answers the session rtypes. It reports false for any other rtype.
func (h *Handler) sessionAction(c echo.Context, sess *session.Session, rtype string) (bool, error) {
	ctx := c.Request().Context()

	var err error
	switch rtype {
	case "get_messages":
		var msgs []session.Message
		if msgs, err = sess.Messages(ctx, false); err == nil {
			return true, success(c, msgs)
		}
	case "clear_session":
		if err = h.sessions.Clear(ctx, sess); err == nil {
			return true, success(c, i18n.Tc(ctx, "session_cleared"))
		}
	case "get_sessions":
		var list []session.Info
		if list, err = h.sessions.List(ctx, sess.UserID()); err == nil {
			return true, success(c, list)
		}
	case "save_session":
		if err = sess.SaveToDB(ctx); err == nil {
			return true, success(c, i18n.Tc(ctx, "session_saved"))
		}
	case "get_current_session":
		return true, success(c, sess.ID())
	default:
		return false, nil
	}

	slog.Warn("session request failed", "sid", sess.ID(), "rtype", rtype, "error", err)
	return true, failed(c, "backend_processing_failed")
}
