package handlers

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/pedichat-go/internal/app"
	"github.com/pedichat-go/internal/i18n"
	"github.com/pedichat-go/internal/models"
	"github.com/sirupsen/logrus"
)

// Result is what the UI shows after handling one line of input
type Result struct {
	// Notice is a localized status line, empty when there is nothing to say
	Notice string
	// Error marks the notice as a failure
	Error bool
	// Sent reports whether a request reached the message pipeline
	Sent bool
}

// CommandHandler handles slash commands typed into the chat input
type CommandHandler struct {
	app      *app.App
	messages *MessageHandler
	logger   *logrus.Logger
}

// NewCommandHandler creates a new command handler
func NewCommandHandler(a *app.App, messages *MessageHandler, logger *logrus.Logger) *CommandHandler {
	return &CommandHandler{
		app:      a,
		messages: messages,
		logger:   logger,
	}
}

// IsCommand reports whether input is a slash command
func IsCommand(input string) bool {
	return strings.HasPrefix(strings.TrimSpace(input), "/")
}

// Handle routes a line of input to a command or to the message pipeline
func (h *CommandHandler) Handle(ctx context.Context, input string) Result {
	if IsCommand(input) {
		return h.HandleCommand(ctx, input)
	}
	return h.messages.HandleMessage(ctx, input)
}

// HandleCommand processes slash commands
func (h *CommandHandler) HandleCommand(ctx context.Context, input string) Result {
	command, args := splitCommand(input)

	h.logger.WithFields(logrus.Fields{
		"command": command,
		"args":    args != "",
	}).Debug("Handling command")

	switch command {
	case "help":
		return h.notice(i18n.MsgHelp, nil)
	case "new":
		return h.handleNew()
	case "sessions":
		return h.handleSessions(ctx)
	case "open":
		return h.handleOpen(ctx, args)
	case "delete":
		return h.handleDelete(ctx, args)
	case "image":
		return h.handleImage(args)
	case "noimage":
		h.app.Pipeline.RemoveImage()
		return Result{}
	case "rx":
		return h.handlePrescription(ctx, args)
	case "lang":
		return h.handleLanguage(ctx, args)
	case "theme":
		return h.handleTheme(ctx)
	case "settings":
		return h.handleSettings()
	case "logout":
		h.app.Logout(ctx)
		return Result{}
	default:
		return h.failure(i18n.MsgUnknownCommand, nil)
	}
}

// handleNew handles /new command
func (h *CommandHandler) handleNew() Result {
	h.app.Chat.CreateSession()
	return h.notice(i18n.MsgNewChatStarted, nil)
}

// handleSessions handles /sessions command
func (h *CommandHandler) handleSessions(ctx context.Context) Result {
	if err := h.app.Chat.ListSessions(ctx); err != nil {
		return h.failure(i18n.MsgErrorOccurred, nil)
	}
	return Result{}
}

// handleOpen handles /open <id> command
func (h *CommandHandler) handleOpen(ctx context.Context, args string) Result {
	id, ok := parseSessionID(args)
	if !ok {
		return h.usage("/open <id>")
	}

	session, found := h.findSession(id)
	if !found {
		return h.failure(i18n.MsgSessionNotFound, map[string]interface{}{"ID": id})
	}
	if err := h.app.Chat.LoadSession(ctx, id, session.SessionName); err != nil {
		return h.failure(i18n.MsgErrorOccurred, nil)
	}
	return Result{}
}

// handleDelete handles /delete <id> command
func (h *CommandHandler) handleDelete(ctx context.Context, args string) Result {
	id, ok := parseSessionID(args)
	if !ok {
		return h.usage("/delete <id>")
	}
	if _, found := h.findSession(id); !found {
		return h.failure(i18n.MsgSessionNotFound, map[string]interface{}{"ID": id})
	}
	if err := h.app.Chat.DeleteSession(ctx, id); err != nil {
		return h.failure(i18n.MsgErrorOccurred, nil)
	}
	return h.notice(i18n.MsgSessionDeleted, nil)
}

// handleImage handles /image <path> command
func (h *CommandHandler) handleImage(args string) Result {
	if args == "" {
		return h.usage("/image <path>")
	}
	img, err := h.messages.LoadImage(args)
	if err != nil {
		return h.failure(i18n.MsgImageInvalid, map[string]interface{}{"Error": err.Error()})
	}
	h.app.Pipeline.AttachImage(img)
	return h.notice(i18n.MsgImageAttached, map[string]interface{}{"Name": img.Filename})
}

// handlePrescription handles /rx [age] [| conditions] command
func (h *CommandHandler) handlePrescription(ctx context.Context, args string) Result {
	if h.app.Pipeline.Composer().Image == nil {
		return h.usage("/image <path>, /rx [age] [| conditions]")
	}
	age, conditions := ParsePatient(args)
	h.app.Pipeline.SetPatient(age, conditions)
	return Result{Sent: h.app.Pipeline.AnalyzeDraft(ctx)}
}

// handleLanguage handles /lang [code] command
func (h *CommandHandler) handleLanguage(ctx context.Context, args string) Result {
	if args == "" {
		h.app.Nav.OpenLanguageSelector(false)
		return Result{}
	}
	if err := h.app.SelectLanguage(ctx, args); err != nil {
		if errors.Is(err, app.ErrUnsupportedLanguage) {
			codes := make([]string, len(i18n.Languages))
			for i, lang := range i18n.Languages {
				codes[i] = lang.Code
			}
			return h.usage("/lang [" + strings.Join(codes, "|") + "]")
		}
		return h.failure(i18n.MsgErrorOccurred, nil)
	}
	return h.notice(i18n.MsgLanguageChanged, map[string]interface{}{"Name": h.app.Language().NativeName})
}

// handleTheme handles /theme command
func (h *CommandHandler) handleTheme(ctx context.Context) Result {
	pref := h.app.ToggleDarkMode(ctx)
	theme := h.app.T(ThemeMessageID(pref), nil)
	return h.notice(i18n.MsgThemeChanged, map[string]interface{}{"Theme": theme})
}

// handleSettings handles /settings command
func (h *CommandHandler) handleSettings() Result {
	if err := h.app.Nav.OpenSettings(); err != nil {
		h.logger.WithError(err).Debug("Settings unavailable")
		return h.failure(i18n.MsgErrorOccurred, nil)
	}
	return Result{}
}

func (h *CommandHandler) findSession(id int64) (models.ChatSession, bool) {
	for _, s := range h.app.Chat.Sessions() {
		if s.ID == id {
			return s, true
		}
	}
	return models.ChatSession{}, false
}

func (h *CommandHandler) notice(messageID string, data map[string]interface{}) Result {
	return Result{Notice: h.app.T(messageID, data)}
}

func (h *CommandHandler) failure(messageID string, data map[string]interface{}) Result {
	return Result{Notice: h.app.T(messageID, data), Error: true}
}

func (h *CommandHandler) usage(usage string) Result {
	return h.failure(i18n.MsgUsage, map[string]interface{}{"Usage": usage})
}

// ThemeMessageID names a display preference
func ThemeMessageID(pref models.DarkModePreference) string {
	switch pref {
	case models.DarkModeLight:
		return i18n.MsgThemeLight
	case models.DarkModeDark:
		return i18n.MsgThemeDark
	default:
		return i18n.MsgThemeSystem
	}
}

// ParsePatient splits "/rx" arguments: an optional age, then conditions after a "|"
func ParsePatient(args string) (age, conditions string) {
	age, conditions, _ = strings.Cut(args, "|")
	return strings.TrimSpace(age), strings.TrimSpace(conditions)
}

func splitCommand(input string) (command, args string) {
	input = strings.TrimPrefix(strings.TrimSpace(input), "/")
	command, args, _ = strings.Cut(input, " ")
	return strings.ToLower(command), strings.TrimSpace(args)
}

func parseSessionID(args string) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimSpace(args), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
