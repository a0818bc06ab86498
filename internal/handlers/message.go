package handlers

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/pedichat-go/internal/app"
	"github.com/pedichat-go/internal/i18n"
	"github.com/pedichat-go/internal/middleware"
	"github.com/pedichat-go/internal/models"
	"github.com/sirupsen/logrus"
)

// sniffLen is how much of a file http.DetectContentType looks at
const sniffLen = 512

// MessageHandler handles regular chat input
type MessageHandler struct {
	app       *app.App
	validator *middleware.InputValidator
	logger    *logrus.Logger
}

// NewMessageHandler creates a new message handler
func NewMessageHandler(a *app.App, logger *logrus.Logger) *MessageHandler {
	return &MessageHandler{
		app:       a,
		validator: a.Validator,
		logger:    logger,
	}
}

// HandleMessage validates input and sends it with the attached image, if any
func (h *MessageHandler) HandleMessage(ctx context.Context, text string) Result {
	if err := h.validator.ValidateText(text); err != nil {
		h.logger.WithError(err).Warn("Input validation failed")
		return Result{Notice: h.app.T(i18n.MsgMessageTooLong, nil), Error: true}
	}

	image := h.app.Pipeline.Composer().Image
	h.app.Pipeline.SetText(text)
	return Result{Sent: h.app.Pipeline.SendMessage(ctx, text, image)}
}

// LoadImage reads an image file, checking its size and sniffed content type
func (h *MessageHandler) LoadImage(path string) (*models.Image, error) {
	path = expandHome(strings.Trim(strings.TrimSpace(path), `"'`))

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	defer f.Close()

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	contentType := http.DetectContentType(head[:n])

	if err := h.validator.ValidateImage(info.Size(), contentType); err != nil {
		return nil, err
	}

	rest, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}

	h.logger.WithFields(logrus.Fields{
		"file":         filepath.Base(path),
		"content_type": contentType,
		"size":         info.Size(),
	}).Debug("Image attached")

	return &models.Image{
		Filename:    filepath.Base(path),
		ContentType: contentType,
		Data:        append(head[:n], rest...),
	}, nil
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
