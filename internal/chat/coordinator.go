// Package chat holds the conversation state: the session list, the active
// session, the message list and the outbound message pipeline.
package chat

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/pedichat-go/internal/middleware"
	"github.com/pedichat-go/internal/models"
	"github.com/pedichat-go/internal/services/backend"
	"github.com/sirupsen/logrus"
)

// Backend is the part of the API the chat state needs
type Backend interface {
	ListSessions(ctx context.Context) ([]models.ChatSession, error)
	SessionMessages(ctx context.Context, sessionID int64) ([]models.MessageRecord, error)
	DeleteSession(ctx context.Context, sessionID int64) error
	SendChat(ctx context.Context, r backend.ChatRequest) (*models.ChatResponse, error)
	AnalyzePrescription(ctx context.Context, r backend.PrescriptionRequest) (*models.PrescriptionResponse, error)
}

// ActiveSession is None or Id(n). A session is only created by the backend on first send.
type ActiveSession struct {
	id  int64
	set bool
}

// NoSession is the empty active session
func NoSession() ActiveSession { return ActiveSession{} }

// SessionID makes an active session for id
func SessionID(id int64) ActiveSession { return ActiveSession{id: id, set: true} }

// Get returns the id and whether one is set
func (a ActiveSession) Get() (int64, bool) { return a.id, a.set }

// IsNone reports whether no session is active
func (a ActiveSession) IsNone() bool { return !a.set }

// Is reports whether id is the active session
func (a ActiveSession) Is(id int64) bool { return a.set && a.id == id }

// Coordinator owns the session list, the active session and the message list.
// Locks are never held across backend calls; every mutation that follows a
// call checks the epoch so results that land after a Reset are dropped.
type Coordinator struct {
	backend Backend
	metrics *middleware.Metrics
	logger  *logrus.Logger

	mu          sync.Mutex
	epoch       uint64
	sessions    []models.ChatSession
	active      ActiveSession
	messages    []models.Message
	onMenuClose func()
}

// NewCoordinator creates an empty coordinator
func NewCoordinator(b Backend, metrics *middleware.Metrics, logger *logrus.Logger) *Coordinator {
	return &Coordinator{
		backend: b,
		metrics: metrics,
		logger:  logger,
	}
}

// OnContextMenuClose registers the callback run after a delete completes
func (c *Coordinator) OnContextMenuClose(fn func()) {
	c.mu.Lock()
	c.onMenuClose = fn
	c.mu.Unlock()
}

// Sessions returns a copy of the session list
func (c *Coordinator) Sessions() []models.ChatSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.ChatSession(nil), c.sessions...)
}

// Active returns the active session
func (c *Coordinator) Active() ActiveSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Messages returns a copy of the message list
func (c *Coordinator) Messages() []models.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.Message(nil), c.messages...)
}

// Reset clears everything and invalidates in-flight completions
func (c *Coordinator) Reset() {
	c.mu.Lock()
	c.epoch++
	c.sessions = nil
	c.active = NoSession()
	c.messages = nil
	c.mu.Unlock()
}

// ListSessions refreshes the session list. On failure the old list stays.
func (c *Coordinator) ListSessions(ctx context.Context) error {
	epoch := c.currentEpoch()
	sessions, err := c.backend.ListSessions(ctx)
	if err != nil {
		c.logger.WithError(err).Error("Error fetching chat sessions")
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != epoch {
		return nil
	}
	c.sessions = sessions
	if c.metrics != nil {
		c.metrics.SetSessionsLoaded(len(sessions))
	}
	return nil
}

// CreateSession starts a blank conversation; the backend creates it on first send
func (c *Coordinator) CreateSession() {
	c.mu.Lock()
	c.active = NoSession()
	c.messages = nil
	c.mu.Unlock()
}

// LoadSession replaces the active session and the message list with its history
func (c *Coordinator) LoadSession(ctx context.Context, sessionID int64, name string) error {
	epoch := c.currentEpoch()
	records, err := c.backend.SessionMessages(ctx, sessionID)
	if err != nil {
		c.logger.WithError(err).WithField("session_id", sessionID).Error("Error loading session")
		return err
	}

	messages := make([]models.Message, len(records))
	for i, r := range records {
		messages[i] = c.fromRecord(r)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != epoch {
		return nil
	}
	c.active = SessionID(sessionID)
	c.messages = messages

	c.logger.WithFields(logrus.Fields{
		"session_id": sessionID,
		"name":       name,
		"messages":   len(messages),
	}).Debug("Session loaded")
	return nil
}

// DeleteSession removes a session remotely, clears it if active, refreshes the
// list and closes the context menu.
func (c *Coordinator) DeleteSession(ctx context.Context, sessionID int64) error {
	epoch := c.currentEpoch()
	if err := c.backend.DeleteSession(ctx, sessionID); err != nil {
		c.logger.WithError(err).WithField("session_id", sessionID).Error("Error deleting session")
		return err
	}

	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		return nil
	}
	if c.active.Is(sessionID) {
		c.active = NoSession()
		c.messages = nil
	}
	onMenuClose := c.onMenuClose
	c.mu.Unlock()

	// The delete itself succeeded; a failed refresh is logged by ListSessions
	_ = c.ListSessions(ctx)

	if onMenuClose != nil {
		onMenuClose()
	}
	return nil
}

func (c *Coordinator) currentEpoch() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch
}

func (c *Coordinator) current(epoch uint64) bool {
	return c.currentEpoch() == epoch
}

// appendMessages appends when epoch is still current
func (c *Coordinator) appendMessages(epoch uint64, msgs ...models.Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != epoch {
		return false
	}
	c.messages = append(c.messages, msgs...)
	return true
}

// adopt makes id active if no session was active; it reports whether it did
func (c *Coordinator) adopt(epoch uint64, id int64) bool {
	if id == 0 {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != epoch || !c.active.IsNone() {
		return false
	}
	c.active = SessionID(id)
	return true
}

func (c *Coordinator) fromRecord(r models.MessageRecord) models.Message {
	ts, err := parseTimestamp(r.CreatedAt)
	if err != nil {
		c.logger.WithError(err).WithField("message_id", r.ID).Debug("Unparseable message timestamp")
	}
	return models.Message{
		ID:             strconv.FormatInt(r.ID, 10),
		Text:           r.Content,
		IsUser:         r.IsUser,
		Timestamp:      ts,
		IsPrescription: r.IsPrescription,
	}
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// parseTimestamp accepts RFC 3339 and naive ISO timestamps; naive ones are local time
func parseTimestamp(value string) (time.Time, error) {
	var lastErr error
	for _, layout := range timestampLayouts {
		t, err := time.ParseInLocation(layout, value, time.Local)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}
