package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"time"

	"github.com/pedichat-go/internal/config"
	"github.com/pedichat-go/internal/middleware"
	"github.com/pedichat-go/internal/models"
	"github.com/sirupsen/logrus"
)

// ChatRequest is the body of POST /chat/. SessionID 0 lets the backend create a session.
type ChatRequest struct {
	Message   string
	Language  string
	Image     *models.Image
	SessionID int64
}

// PrescriptionRequest is the body of POST /prescription-analysis/
type PrescriptionRequest struct {
	Image             *models.Image
	Language          string
	PatientAge        string
	PatientConditions string
	SessionID         int64
}

// Client talks to the assistant backend. Authentication and unauthorized
// handling live in the transport chain, not here.
type Client struct {
	baseURL      string
	httpClient   *http.Client
	maxRetries   int
	retryBackoff time.Duration
	logger       *logrus.Logger
}

// NewClient creates a backend client using transport for every request
func NewClient(cfg *config.APIConfig, transport http.RoundTripper, logger *logrus.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Client{
		baseURL: cfg.BaseURL,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
		maxRetries:   cfg.MaxRetries,
		retryBackoff: cfg.RetryBackoff,
		logger:       logger,
	}
}

type form struct {
	fields    []field
	fileField string
	file      *models.Image
}

type field struct {
	name, value string
}

func (f *form) add(name, value string) *form {
	f.fields = append(f.fields, field{name, value})
	return f
}

func (f *form) encode() (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, fl := range f.fields {
		if err := w.WriteField(fl.name, fl.value); err != nil {
			return nil, "", err
		}
	}
	if f.file != nil {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, f.fileField, f.file.Filename))
		contentType := f.file.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		header.Set("Content-Type", contentType)
		part, err := w.CreatePart(header)
		if err != nil {
			return nil, "", err
		}
		if _, err := part.Write(f.file.Data); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

// do performs a single request and decodes a JSON response into out
func (c *Client) do(ctx context.Context, method, path string, body *form, out interface{}) error {
	var (
		reader      io.Reader
		contentType string
	)
	if body != nil {
		var err error
		reader, contentType, err = body.encode()
		if err != nil {
			return fmt.Errorf("failed to encode form: %w", err)
		}
	}

	url := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	c.logger.WithFields(logrus.Fields{
		"method": method,
		"route":  middleware.Route(path),
	}).Debug("Sending backend request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := newAPIError(resp.StatusCode, data)
		c.logger.WithFields(logrus.Fields{
			"status": resp.StatusCode,
			"route":  middleware.Route(path),
			"detail": apiErr.Detail,
		}).Debug("Backend request failed")
		return apiErr
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// get performs an idempotent read with retry on network and server errors
func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		err := c.do(ctx, http.MethodGet, path, nil, out)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retryable(err) || errors.Is(err, context.Canceled) || attempt == c.maxRetries {
			break
		}

		c.logger.WithFields(logrus.Fields{
			"attempt": attempt + 1,
			"route":   middleware.Route(path),
			"error":   err.Error(),
		}).Warn("Backend read failed, retrying...")

		// Exponential backoff: b, 2b, 4b
		wait := c.retryBackoff << uint(attempt)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return lastErr
}

// Login exchanges credentials for a token
func (c *Client) Login(ctx context.Context, email, password string) (*models.AuthResponse, error) {
	body := (&form{}).add("email", email).add("password", password)
	var out models.AuthResponse
	if err := c.do(middleware.WithPublic(ctx), http.MethodPost, "/auth/login", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Register creates an account and returns its token
func (c *Client) Register(ctx context.Context, email, password, fullName string) (*models.AuthResponse, error) {
	body := (&form{}).add("email", email).add("password", password).add("full_name", fullName)
	var out models.AuthResponse
	if err := c.do(middleware.WithPublic(ctx), http.MethodPost, "/auth/register", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetLanguage returns the stored language code, possibly empty
func (c *Client) GetLanguage(ctx context.Context) (string, error) {
	var out struct {
		Language string `json:"language"`
	}
	if err := c.get(ctx, "/user/language", &out); err != nil {
		return "", err
	}
	return out.Language, nil
}

// SetLanguage stores the language code
func (c *Client) SetLanguage(ctx context.Context, code string) error {
	return c.do(ctx, http.MethodPut, "/user/language", (&form{}).add("language", code), nil)
}

// GetDarkMode returns the stored display preference
func (c *Client) GetDarkMode(ctx context.Context) (models.DarkModePreference, error) {
	var out struct {
		DarkMode string `json:"dark_mode"`
	}
	if err := c.get(ctx, "/user/dark-mode", &out); err != nil {
		return "", err
	}
	return models.DarkModePreference(out.DarkMode), nil
}

// SetDarkMode stores the display preference
func (c *Client) SetDarkMode(ctx context.Context, pref models.DarkModePreference) error {
	return c.do(ctx, http.MethodPut, "/user/dark-mode", (&form{}).add("dark_mode", string(pref)), nil)
}

// ListSessions returns the user's sessions in backend order
func (c *Client) ListSessions(ctx context.Context) ([]models.ChatSession, error) {
	var out []models.ChatSession
	if err := c.get(ctx, "/chat/sessions", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SessionMessages returns the full history of a session
func (c *Client) SessionMessages(ctx context.Context, sessionID int64) ([]models.MessageRecord, error) {
	var out []models.MessageRecord
	if err := c.get(ctx, fmt.Sprintf("/chat/sessions/%d/messages", sessionID), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteSession removes a session
func (c *Client) DeleteSession(ctx context.Context, sessionID int64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/chat/sessions/%d", sessionID), nil, nil)
}

// SendChat posts a message; it is never retried
func (c *Client) SendChat(ctx context.Context, r ChatRequest) (*models.ChatResponse, error) {
	body := (&form{}).add("message", r.Message).add("language", r.Language)
	if r.Image != nil {
		body.fileField, body.file = "image", r.Image
	}
	if r.SessionID != 0 {
		body.add("session_id", strconv.FormatInt(r.SessionID, 10))
	}

	var out models.ChatResponse
	if err := c.do(ctx, http.MethodPost, "/chat/", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AnalyzePrescription posts a prescription image for analysis
func (c *Client) AnalyzePrescription(ctx context.Context, r PrescriptionRequest) (*models.PrescriptionResponse, error) {
	if r.Image == nil {
		return nil, errors.New("prescription image is required")
	}
	body := &form{fileField: "image", file: r.Image}
	body.add("language", r.Language)
	if r.PatientAge != "" {
		body.add("patient_age", r.PatientAge)
	}
	if r.PatientConditions != "" {
		body.add("patient_conditions", r.PatientConditions)
	}
	if r.SessionID != 0 {
		body.add("session_id", strconv.FormatInt(r.SessionID, 10))
	}

	var out models.PrescriptionResponse
	if err := c.do(ctx, http.MethodPost, "/prescription-analysis/", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
