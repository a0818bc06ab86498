package session

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"sync"

	"github.com/pedichat-go/internal/models"
	"github.com/pedichat-go/internal/services/backend"
	"github.com/pedichat-go/internal/services/storage"
	"github.com/sirupsen/logrus"
)

const (
	defaultLoginDetail    = "Login failed. Please try again."
	defaultRegisterDetail = "Registration failed. Please try again."
)

var (
	ErrNotAuthenticated = errors.New("not signed in")
	ErrInvalidEmail     = errors.New("invalid email address")
	ErrPasswordMismatch = errors.New("passwords do not match")
	// ErrPasswordChangeUnavailable is returned because the backend has no password endpoint
	ErrPasswordChangeUnavailable = errors.New("password change is not supported by the server")
)

// AuthError is a failed sign-in or registration, shown inline on the form
type AuthError struct {
	Detail string
	Err    error
}

func (e *AuthError) Error() string { return e.Detail }

func (e *AuthError) Unwrap() error { return e.Err }

// Authenticator is the part of the backend the store needs
type Authenticator interface {
	Login(ctx context.Context, email, password string) (*models.AuthResponse, error)
	Register(ctx context.Context, email, password, fullName string) (*models.AuthResponse, error)
}

// EmailChange reports what a local email edit did
type EmailChange struct {
	Email string
	// Persisted is false: the backend has no endpoint for it
	Persisted bool
}

// Store owns the token and the cached user
type Store struct {
	storage *storage.Manager
	auth    Authenticator
	logger  *logrus.Logger

	mu        sync.RWMutex
	token     string
	user      *models.User
	firstTime bool
}

// NewStore creates a session store
func NewStore(st *storage.Manager, auth Authenticator, logger *logrus.Logger) *Store {
	return &Store{
		storage: st,
		auth:    auth,
		logger:  logger,
	}
}

// Token returns the current bearer token, empty when signed out
func (s *Store) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// IsAuthenticated reports whether a token is held
func (s *Store) IsAuthenticated() bool {
	return s.Token() != ""
}

// User returns a copy of the signed-in user, or nil
func (s *Store) User() *models.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return nil
	}
	u := *s.user
	return &u
}

// IsFirstTime reports whether the session began with a registration
func (s *Store) IsFirstTime() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.firstTime
}

// ClearFirstTime drops the first-time flag once a language was chosen
func (s *Store) ClearFirstTime() {
	s.mu.Lock()
	s.firstTime = false
	s.mu.Unlock()
}

// Restore loads a previously persisted token and user
func (s *Store) Restore(ctx context.Context) (bool, error) {
	token, err := s.storage.Get(ctx, storage.KeyAccessToken)
	if err != nil {
		return false, fmt.Errorf("read token: %w", err)
	}
	if token == "" {
		return false, nil
	}

	var user models.User
	found, err := s.storage.GetJSON(ctx, storage.KeyUserInfo, &user)
	if err != nil {
		s.logger.WithError(err).Warn("Stored user info unreadable")
	}

	s.mu.Lock()
	s.token = token
	s.user = nil
	if found {
		s.user = &user
	}
	s.firstTime = false
	s.mu.Unlock()
	return true, nil
}

// Login signs in and persists the session
func (s *Store) Login(ctx context.Context, email, password string) (*models.User, error) {
	resp, err := s.auth.Login(ctx, email, password)
	if err != nil {
		s.logger.WithError(err).WithField("email", email).Warn("Login failed")
		return nil, newAuthError(err, defaultLoginDetail)
	}
	if err := s.establish(ctx, resp, false); err != nil {
		return nil, newAuthError(err, defaultLoginDetail)
	}
	return s.User(), nil
}

// Register creates an account, persists the session and marks it first-time
func (s *Store) Register(ctx context.Context, email, password, fullName string) (*models.User, error) {
	resp, err := s.auth.Register(ctx, email, password, fullName)
	if err != nil {
		s.logger.WithError(err).WithField("email", email).Warn("Registration failed")
		return nil, newAuthError(err, defaultRegisterDetail)
	}
	if err := s.establish(ctx, resp, true); err != nil {
		return nil, newAuthError(err, defaultRegisterDetail)
	}
	return s.User(), nil
}

func (s *Store) establish(ctx context.Context, resp *models.AuthResponse, firstTime bool) error {
	if resp.AccessToken == "" {
		return errors.New("response carried no access token")
	}
	if err := s.storage.Set(ctx, storage.KeyAccessToken, resp.AccessToken); err != nil {
		return fmt.Errorf("persist token: %w", err)
	}
	if err := s.storage.SetJSON(ctx, storage.KeyUserInfo, resp.User); err != nil {
		return fmt.Errorf("persist user: %w", err)
	}

	user := resp.User
	s.mu.Lock()
	s.token = resp.AccessToken
	s.user = &user
	s.firstTime = firstTime
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"user_id":    user.ID,
		"first_time": firstTime,
	}).Info("Signed in")
	return nil
}

// Logout forgets the token and user. The language cache is kept.
func (s *Store) Logout(ctx context.Context) {
	s.mu.Lock()
	s.token = ""
	s.user = nil
	s.firstTime = false
	s.mu.Unlock()

	if err := s.storage.Delete(ctx, storage.KeyAccessToken, storage.KeyUserInfo); err != nil {
		s.logger.WithError(err).Error("Failed to clear stored session")
	}
}

// ChangeEmail updates the email locally. Nothing is sent to the server.
func (s *Store) ChangeEmail(ctx context.Context, email string) (*EmailChange, error) {
	email = strings.TrimSpace(email)
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return nil, ErrInvalidEmail
	}

	s.mu.Lock()
	if s.user == nil {
		s.mu.Unlock()
		return nil, ErrNotAuthenticated
	}
	updated := *s.user
	updated.Email = email
	s.user = &updated
	s.mu.Unlock()

	if err := s.storage.SetJSON(ctx, storage.KeyUserInfo, updated); err != nil {
		return nil, fmt.Errorf("persist user: %w", err)
	}
	s.logger.WithField("user_id", updated.ID).Warn("Email changed locally only")
	return &EmailChange{Email: email, Persisted: false}, nil
}

// ChangePassword validates the request and reports that the server cannot apply it
func (s *Store) ChangePassword(current, next, confirm string) error {
	if !s.IsAuthenticated() {
		return ErrNotAuthenticated
	}
	if next != confirm {
		return ErrPasswordMismatch
	}
	s.logger.Info("Password change requested but not supported by the server")
	return ErrPasswordChangeUnavailable
}

func newAuthError(err error, fallback string) *AuthError {
	detail := backend.Detail(err)
	if detail == "" {
		detail = fallback
	}
	return &AuthError{Detail: detail, Err: err}
}
