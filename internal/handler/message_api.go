package handler

import (
	"errors"
	"fmt"
	"log/slog"
	"mime/multipart"

	"github.com/labstack/echo/v4"

	"github.com/set-night/memochat/internal/domain"
	"github.com/set-night/memochat/internal/middleware"
	"github.com/set-night/memochat/internal/service"
	"github.com/set-night/memochat/internal/session"
)

var errNoFile = errors.New("no file uploaded")

// MessageAPI accepts text messages, including URLs, and file uploads.
// POST /api/message/
func (h *Handler) MessageAPI(c echo.Context) error {
	sess, args, err := h.sessionFromRequest(c)
	if err != nil {
		return resolveFailed(c, err)
	}
	user := middleware.GetUser(c)
	slog.Info("message request",
		"sid", sess.ID(),
		"rtype", args["rtype"],
		"has_token", user != nil,
		"is_group", isTrue(args["is_group"]),
	)

	rtype := args["rtype"]
	if rtype == "" {
		rtype = "text"
	}

	switch {
	case user != nil:
		switch rtype {
		case "text":
			return h.doMessage(c, sess)
		case "file":
			return h.uploadFile(c, sess)
		}
		if handled, err := h.sessionAction(c, sess, rtype); handled {
			return err
		}
		return failed(c, "backend_processing_failed")

	case isTrue(args["is_group"]):
		if rtype == "text" {
			return h.doMessage(c, sess)
		}
		return failed(c, "backend_processing_failed")

	default:
		if _, ok := args["content"]; !ok {
			return failed(c, "please_sign_up_or_log_in_first")
		}
		info, err := h.agents.DoCommand(c.Request().Context(), sess)
		if err != nil {
			slog.Warn("agent command failed", "sid", sess.ID(), "error", err)
			return failed(c, "backend_processing_failed")
		}
		return successJSON(c, service.Reply{Info: info, SID: sess.ID()})
	}
}

func (h *Handler) doMessage(c echo.Context, sess *session.Session) error {
	reply, err := h.messages.DoMessage(c.Request().Context(), sess)
	if err != nil {
		slog.Warn("message failed", "sid", sess.ID(), "error", err)
		return failed(c, "backend_processing_failed")
	}
	return successJSON(c, reply)
}

func (h *Handler) uploadFile(c echo.Context, sess *session.Session) error {
	ctx := c.Request().Context()
	if !h.messages.CanUpload(ctx, sess.UserID()) {
		return failed(c, "permission_denied")
	}

	fh, err := firstFile(c)
	if err != nil {
		slog.Warn("upload failed", "sid", sess.ID(), "error", err)
		return failed(c, "backend_processing_failed")
	}
	path, err := saveUpload(h.files, fh)
	if err != nil {
		slog.Warn("upload failed", "sid", sess.ID(), "name", fh.Filename, "error", err)
		return failed(c, "backend_processing_failed")
	}
	slog.Debug("file uploaded", "sid", sess.ID(), "name", fh.Filename, "path", path)

	reply, err := h.messages.ReceiveFile(ctx, sess, path, fh.Filename)
	if errors.Is(err, domain.ErrPermissionDenied) {
		return failed(c, "permission_denied")
	}
	if err != nil {
		slog.Warn("receive file failed", "sid", sess.ID(), "error", err)
		return failed(c, "backend_processing_failed")
	}
	return successJSON(c, reply)
}

// firstFile returns the "file" field, or any uploaded file.
func firstFile(c echo.Context) (*multipart.FileHeader, error) {
	form, err := c.MultipartForm()
	if err != nil {
		return nil, fmt.Errorf("parse upload: %w", err)
	}
	if files := form.File["file"]; len(files) > 0 {
		return files[0], nil
	}
	for _, files := range form.File {
		if len(files) > 0 {
			return files[0], nil
		}
	}
	return nil, errNoFile
}

func saveUpload(files *service.FileCache, fh *multipart.FileHeader) (string, error) {
	src, err := fh.Open()
	if err != nil {
		return "", fmt.Errorf("open upload: %w", err)
	}
	defer src.Close()
	return files.Save(fh.Filename, src)
}
