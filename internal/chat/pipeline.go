package chat

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pedichat-go/internal/middleware"
	"github.com/pedichat-go/internal/models"
	"github.com/pedichat-go/internal/services/backend"
	"github.com/sirupsen/logrus"
)

const (
	SendErrorText         = "Sorry, there was an error processing your request. Please try again."
	PrescriptionErrorText = "Sorry, there was an error analyzing the prescription. Please try again or consult with a pharmacist."
)

// LanguageSource provides the language code sent with each request
type LanguageSource interface {
	LanguageCode() string
}

// Composer is the unsent input: the text line, the selected image and the
// prescription form.
type Composer struct {
	Text              string
	Image             *models.Image
	PatientAge        string
	PatientConditions string
	FormVisible       bool
}

// Pipeline sends messages and prescription requests and reconciles the
// responses into the coordinator's message list.
type Pipeline struct {
	chat    *Coordinator
	backend Backend
	lang    LanguageSource
	metrics *middleware.Metrics
	logger  *logrus.Logger
	now     func() time.Time

	mu        sync.Mutex
	composer  Composer
	sending   int
	analyzing int
	// gen changes on Reset; in-flight requests from an older gen leave the counters alone
	gen uint64
}

// NewPipeline creates a pipeline appending to chat
func NewPipeline(chat *Coordinator, lang LanguageSource, metrics *middleware.Metrics, logger *logrus.Logger) *Pipeline {
	return &Pipeline{
		chat:    chat,
		backend: chat.backend,
		lang:    lang,
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
	}
}

// Loading reports the two independent loading flags
func (p *Pipeline) Loading() (sending, analyzing bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sending > 0, p.analyzing > 0
}

// Composer returns a snapshot of the unsent input
func (p *Pipeline) Composer() Composer {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.composer
}

func (p *Pipeline) SetText(text string) {
	p.mu.Lock()
	p.composer.Text = text
	p.mu.Unlock()
}

func (p *Pipeline) AttachImage(img *models.Image) {
	p.mu.Lock()
	p.composer.Image = img
	p.mu.Unlock()
}

func (p *Pipeline) RemoveImage() {
	p.AttachImage(nil)
}

// ToggleForm shows or hides the prescription form
func (p *Pipeline) ToggleForm() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.composer.FormVisible = !p.composer.FormVisible
	return p.composer.FormVisible
}

func (p *Pipeline) SetPatient(age, conditions string) {
	p.mu.Lock()
	p.composer.PatientAge = age
	p.composer.PatientConditions = conditions
	p.mu.Unlock()
}

// Reset clears the composer and the loading flags
func (p *Pipeline) Reset() {
	p.mu.Lock()
	p.composer = Composer{}
	p.sending = 0
	p.analyzing = 0
	p.gen++
	p.mu.Unlock()
}

// SendDraft sends the composer's text and image
func (p *Pipeline) SendDraft(ctx context.Context) bool {
	draft := p.Composer()
	return p.SendMessage(ctx, draft.Text, draft.Image)
}

// SendMessage sends text with an optional image. It is a no-op when there is
// neither text nor image. Failures become an assistant message; it reports
// whether a request was issued.
func (p *Pipeline) SendMessage(ctx context.Context, text string, image *models.Image) bool {
	if strings.TrimSpace(text) == "" && image == nil {
		return false
	}

	epoch := p.chat.currentEpoch()
	p.chat.appendMessages(epoch, models.Message{
		ID:        uuid.NewString(),
		Text:      text,
		IsUser:    true,
		Timestamp: p.now(),
		Image:     image.Preview(),
	})
	sessionID, _ := p.chat.Active().Get()

	p.mu.Lock()
	p.sending++
	gen := p.gen
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		if p.gen == gen {
			p.sending--
		}
		if p.chat.current(epoch) {
			p.composer.Text = ""
			p.composer.Image = nil
		}
		p.mu.Unlock()
	}()

	resp, err := p.backend.SendChat(ctx, backend.ChatRequest{
		Message:   text,
		Language:  p.lang.LanguageCode(),
		Image:     image,
		SessionID: sessionID,
	})
	if err != nil {
		p.logger.WithError(err).Error("Error sending message")
		p.record("chat", "error")
		p.chat.appendMessages(epoch, models.Message{
			ID:        uuid.NewString(),
			Text:      SendErrorText,
			Timestamp: p.now(),
		})
		return true
	}

	p.record("chat", "success")
	p.chat.appendMessages(epoch, models.Message{
		ID:             uuid.NewString(),
		Text:           resp.Response,
		Timestamp:      p.now(),
		IsPrescription: resp.IsPrescriptionQuery,
	})
	p.adopt(ctx, epoch, resp.SessionID)
	return true
}

// AnalyzeDraft runs prescription analysis on the composer's image and form
func (p *Pipeline) AnalyzeDraft(ctx context.Context) bool {
	draft := p.Composer()
	return p.AnalyzePrescription(ctx, draft.Image, draft.PatientAge, draft.PatientConditions)
}

// AnalyzePrescription requires an image. On success the synthetic request and
// the analysis are appended together; on failure one error message is.
func (p *Pipeline) AnalyzePrescription(ctx context.Context, image *models.Image, age, conditions string) bool {
	if image == nil {
		return false
	}

	epoch := p.chat.currentEpoch()
	sessionID, _ := p.chat.Active().Get()

	p.mu.Lock()
	p.analyzing++
	gen := p.gen
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		if p.gen == gen {
			p.analyzing--
		}
		p.mu.Unlock()
	}()

	resp, err := p.backend.AnalyzePrescription(ctx, backend.PrescriptionRequest{
		Image:             image,
		Language:          p.lang.LanguageCode(),
		PatientAge:        age,
		PatientConditions: conditions,
		SessionID:         sessionID,
	})
	if err != nil {
		p.logger.WithError(err).Error("Error analyzing prescription")
		p.record("prescription", "error")
		p.chat.appendMessages(epoch, models.Message{
			ID:             uuid.NewString(),
			Text:           PrescriptionErrorText,
			Timestamp:      p.now(),
			IsPrescription: true,
		})
		return true
	}

	p.record("prescription", "success")
	now := p.now()
	appended := p.chat.appendMessages(epoch,
		models.Message{
			ID:             uuid.NewString(),
			Text:           PrescriptionRequestText(age, conditions),
			IsUser:         true,
			Timestamp:      now,
			Image:          image.Preview(),
			IsPrescription: true,
		},
		models.Message{
			ID:             uuid.NewString(),
			Text:           resp.Response,
			Timestamp:      now,
			IsPrescription: true,
		},
	)
	if appended {
		p.mu.Lock()
		p.composer.FormVisible = false
		p.composer.Image = nil
		p.composer.PatientAge = ""
		p.composer.PatientConditions = ""
		p.mu.Unlock()
	}
	p.adopt(ctx, epoch, resp.SessionID)
	return true
}

// PrescriptionRequestText describes an analysis request in the conversation
func PrescriptionRequestText(age, conditions string) string {
	var b strings.Builder
	b.WriteString("Prescription Analysis Request")
	if age != "" {
		fmt.Fprintf(&b, " (Age: %s)", age)
	}
	if conditions != "" {
		fmt.Fprintf(&b, " (Conditions: %s)", conditions)
	}
	return b.String()
}

func (p *Pipeline) adopt(ctx context.Context, epoch uint64, sessionID int64) {
	if !p.chat.adopt(epoch, sessionID) {
		return
	}
	p.logger.WithField("session_id", sessionID).Debug("Adopted new session")
	_ = p.chat.ListSessions(ctx)
}

func (p *Pipeline) record(kind, status string) {
	if p.metrics != nil {
		p.metrics.RecordMessageSent(kind, status)
	}
}
