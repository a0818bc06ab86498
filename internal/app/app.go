// Package app wires the client's state machines together and owns the rules
// that span them: sign-in, sign-out, language and display preferences.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/pedichat-go/internal/chat"
	"github.com/pedichat-go/internal/config"
	"github.com/pedichat-go/internal/i18n"
	"github.com/pedichat-go/internal/middleware"
	"github.com/pedichat-go/internal/models"
	"github.com/pedichat-go/internal/navigation"
	"github.com/pedichat-go/internal/preference"
	"github.com/pedichat-go/internal/services/backend"
	"github.com/pedichat-go/internal/services/cache"
	"github.com/pedichat-go/internal/services/storage"
	"github.com/pedichat-go/internal/session"
	"github.com/pedichat-go/pkg/logger"
	"github.com/sirupsen/logrus"
)

// ErrUnsupportedLanguage is returned for codes outside the enumerated set
var ErrUnsupportedLanguage = errors.New("unsupported language")

// Option customizes how an App is built
type Option func(*options)

type options struct {
	transport http.RoundTripper
	storage   storage.Storage
	ambient   *preference.Ambient
	detect    func() bool
}

// WithTransport sets the innermost transport, http.DefaultTransport otherwise
func WithTransport(rt http.RoundTripper) Option {
	return func(o *options) { o.transport = rt }
}

// WithStorage replaces the configured durable storage
func WithStorage(st storage.Storage) Option {
	return func(o *options) { o.storage = st }
}

// WithAmbient supplies the ambient light/dark signal
func WithAmbient(a *preference.Ambient) Option {
	return func(o *options) { o.ambient = a }
}

// WithDetector sets the function polled for ambient changes; nil disables polling
func WithDetector(detect func() bool) Option {
	return func(o *options) { o.detect = detect }
}

// App is the root state container
type App struct {
	cfg     *config.Config
	logger  *logrus.Logger
	metrics *middleware.Metrics
	storage *storage.Manager
	cache   cache.Service
	client  *backend.Client

	Interceptor *middleware.AuthInterceptor
	Session     *session.Store
	Nav         *navigation.Controller
	Chat        *chat.Coordinator
	Pipeline    *chat.Pipeline
	Localizer   *i18n.Localizer
	Ambient     *preference.Ambient
	Theme       *preference.Resolver
	Validator   *middleware.InputValidator

	detect func() bool
	wg     sync.WaitGroup

	mu            sync.RWMutex
	epoch         uint64
	language      models.Language
	loginError    string
	registerError string
	started       bool
	removeHandler func()
	stopWatch     context.CancelFunc
}

// New builds every component from cfg
func New(cfg *config.Config, log *logrus.Logger, opts ...Option) (*App, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	metrics := middleware.NewMetrics()

	var st *storage.Manager
	if o.storage != nil {
		st = storage.NewManagerWith(o.storage, metrics, log)
	} else {
		var err error
		st, err = storage.NewManager(cfg, metrics, log)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize storage: %w", err)
		}
	}

	localizer, err := i18n.NewLocalizer(&cfg.I18n)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to initialize i18n: %w", err)
	}

	limiter := middleware.NewRateLimiter(&cfg.RateLimit, metrics, log)
	interceptor := middleware.NewAuthInterceptor(nil, metrics, log)
	transport := middleware.Chain(o.transport, metrics.Transport, limiter.Transport, interceptor.Transport)
	client := backend.NewClient(&cfg.API, transport, log)

	store := session.NewStore(st, client, log)
	interceptor.SetTokenSource(store)

	ambient := o.ambient
	if ambient == nil {
		dark := false
		if o.detect != nil {
			dark = o.detect()
		}
		ambient = preference.NewAmbient(dark)
	}

	nav := navigation.NewController()
	coordinator := chat.NewCoordinator(client, metrics, log)
	coordinator.OnContextMenuClose(nav.CloseContextMenu)

	a := &App{
		cfg:         cfg,
		logger:      log,
		metrics:     metrics,
		storage:     st,
		cache:       cache.NewCache(&cfg.Cache, metrics, log),
		client:      client,
		Interceptor: interceptor,
		Session:     store,
		Nav:         nav,
		Chat:        coordinator,
		Localizer:   localizer,
		Ambient:     ambient,
		Theme:       preference.NewResolver(ambient),
		Validator:   middleware.NewInputValidator(&cfg.Chat),
		detect:      o.detect,
		language:    i18n.Default(),
	}
	a.Pipeline = chat.NewPipeline(coordinator, a, metrics, log)
	return a, nil
}

// Start installs the unauthorized handler, starts the ambient watcher and
// restores a stored session. It is a no-op after the first call.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.started {
		a.mu.Unlock()
		return nil
	}
	a.started = true
	a.removeHandler = a.Interceptor.OnUnauthorized(a.handleUnauthorized)
	watchCtx, stop := context.WithCancel(context.Background())
	a.stopWatch = stop
	a.mu.Unlock()

	if a.detect != nil && a.cfg.UI.AmbientPollInterval > 0 {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.Ambient.Watch(watchCtx, a.detect, a.cfg.UI.AmbientPollInterval)
		}()
	}

	restored, err := a.Session.Restore(ctx)
	if err != nil {
		a.logger.WithError(err).Warn("Failed to restore session")
		return nil
	}
	if !restored {
		return nil
	}
	if err := a.Nav.Restore(); err != nil {
		return err
	}

	entry := a.logger.WithField("restored", true)
	if user := a.Session.User(); user != nil {
		entry = logger.WithUser(a.logger, user.ID, user.Email)
	}
	entry.Info("Session restored")

	a.afterSignIn(ctx)
	return nil
}

// Close stops the watcher and removes every registration made by Start
func (a *App) Close() error {
	a.mu.Lock()
	remove, stop := a.removeHandler, a.stopWatch
	a.removeHandler, a.stopWatch = nil, nil
	a.started = false
	a.mu.Unlock()

	if remove != nil {
		remove()
	}
	if stop != nil {
		stop()
	}
	a.wg.Wait()
	a.Theme.Close()
	return a.storage.Close()
}

// Login signs in. A failure is kept as the login form's inline error.
func (a *App) Login(ctx context.Context, email, password string) error {
	a.setFormErrors("", "")

	user, err := a.Session.Login(ctx, email, password)
	if err != nil {
		a.setFormErrors(authDetail(err), "")
		return err
	}
	if err := a.Nav.Authenticate(); err != nil {
		a.logger.WithError(err).Warn("Signed in outside the login form")
		_ = a.Nav.Restore()
	}

	logger.WithUser(a.logger, user.ID, user.Email).Info("User logged in")
	a.afterSignIn(ctx)
	return nil
}

// Register creates an account. A failure is kept as the register form's inline error.
func (a *App) Register(ctx context.Context, email, password, confirm, fullName string) error {
	a.setFormErrors("", "")

	if password != confirm {
		a.setFormErrors("", a.T(i18n.MsgPasswordsMismatch, nil))
		return session.ErrPasswordMismatch
	}

	user, err := a.Session.Register(ctx, email, password, fullName)
	if err != nil {
		a.setFormErrors("", authDetail(err))
		return err
	}
	if err := a.Nav.Authenticate(); err != nil {
		a.logger.WithError(err).Warn("Registered outside the register form")
		_ = a.Nav.Restore()
	}

	logger.WithUser(a.logger, user.ID, user.Email).Info("User registered")
	a.afterSignIn(ctx)
	return nil
}

// Logout signs out and returns to the landing page
func (a *App) Logout(ctx context.Context) {
	if user := a.Session.User(); user != nil {
		logger.WithUser(a.logger, user.ID, user.Email).Info("User logged out")
	}
	a.reset(ctx)
}

// handleUnauthorized signs out only when the rejected token is the current
// one; a late 401 for a session that already ended is ignored
func (a *App) handleUnauthorized(token string) {
	if token == "" || token != a.Session.Token() {
		return
	}
	a.logger.Warn("Session expired, signing out")
	a.reset(context.Background())
}

// reset is the shared post-condition of Logout and an unauthorized response
func (a *App) reset(ctx context.Context) {
	a.mu.Lock()
	a.epoch++
	a.language = i18n.Default()
	a.loginError = ""
	a.registerError = ""
	a.mu.Unlock()

	a.Session.Logout(ctx)
	a.Chat.Reset()
	a.Pipeline.Reset()
	a.cache.Clear(ctx)
	a.Theme.SetPreference(models.DarkModeSystem)
	a.Nav.Logout()
}

// afterSignIn loads the user's preferences and sessions
func (a *App) afterSignIn(ctx context.Context) {
	epoch := a.currentEpoch()
	a.loadLanguage(ctx, epoch)
	a.loadDarkMode(ctx, epoch)
	if a.currentEpoch() != epoch {
		return
	}
	_ = a.Chat.ListSessions(ctx)
}

func (a *App) loadLanguage(ctx context.Context, epoch uint64) {
	code, err := a.client.GetLanguage(ctx)
	if err != nil {
		if backend.IsUnauthorized(err) {
			return
		}
		a.logger.WithError(err).Warn("Failed to fetch language preference, using cache")
		if lang, ok := a.cachedLanguage(ctx); ok {
			a.applyLanguage(epoch, lang)
			return
		}
		a.promptLanguage(epoch)
		return
	}

	lang, ok := i18n.Find(code)
	if !ok {
		a.logger.WithField("language", code).Debug("No language preference on server")
		a.promptLanguage(epoch)
		return
	}
	if a.applyLanguage(epoch, lang) {
		a.cacheLanguage(ctx, lang)
	}
}

func (a *App) loadDarkMode(ctx context.Context, epoch uint64) {
	pref, err := a.client.GetDarkMode(ctx)
	if err != nil {
		if backend.IsUnauthorized(err) {
			return
		}
		a.logger.WithError(err).Warn("Failed to fetch dark mode preference, using cache")
		cached, found := a.cache.DarkMode(ctx)
		if !found {
			cached = models.DarkModeSystem
		}
		pref = cached
	} else {
		pref = preference.Parse(string(pref))
		a.cache.SetDarkMode(ctx, pref)
	}

	if a.currentEpoch() != epoch {
		return
	}
	a.Theme.SetPreference(pref)
}

func (a *App) cachedLanguage(ctx context.Context) (models.Language, bool) {
	if code, found := a.cache.Language(ctx); found {
		if lang, ok := i18n.Find(code); ok {
			return lang, true
		}
	}
	code, err := a.storage.Get(ctx, storage.KeyUserLanguage)
	if err != nil {
		a.logger.WithError(err).Warn("Failed to read cached language")
		return models.Language{}, false
	}
	return i18n.Find(code)
}

func (a *App) cacheLanguage(ctx context.Context, lang models.Language) {
	a.cache.SetLanguage(ctx, lang.Code)
	if err := a.storage.Set(ctx, storage.KeyUserLanguage, lang.Code); err != nil {
		a.logger.WithError(err).Warn("Failed to cache language")
	}
}

// promptLanguage forces the selector open for first-time users
func (a *App) promptLanguage(epoch uint64) {
	if a.currentEpoch() != epoch || !a.Session.IsFirstTime() {
		return
	}
	a.Nav.OpenLanguageSelector(true)
}

func (a *App) applyLanguage(epoch uint64, lang models.Language) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.epoch != epoch {
		return false
	}
	a.language = lang
	return true
}

// SelectLanguage switches the UI language and persists it for signed-in
// users. Signed-out users get the switch until they sign in; nothing is
// written to the cache, storage or backend.
func (a *App) SelectLanguage(ctx context.Context, code string) error {
	lang, ok := i18n.Find(code)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnsupportedLanguage, code)
	}
	if !a.Session.IsAuthenticated() {
		a.mu.Lock()
		a.language = lang
		a.mu.Unlock()
		a.Nav.CloseLanguageSelector()
		return nil
	}

	if !a.applyLanguage(a.currentEpoch(), lang) {
		return nil
	}
	a.Session.ClearFirstTime()
	a.Nav.CloseLanguageSelector()
	a.cacheLanguage(ctx, lang)

	if err := a.client.SetLanguage(ctx, lang.Code); err != nil {
		a.logger.WithError(err).WithField("language", lang.Code).Error("Failed to save language preference")
	}
	return nil
}

// ToggleDarkMode advances system, light, dark for signed-in users and returns
// the new preference. Signed-out users stay on system.
func (a *App) ToggleDarkMode(ctx context.Context) models.DarkModePreference {
	if !a.Session.IsAuthenticated() {
		return a.Theme.Preference()
	}
	next := preference.Next(a.Theme.Preference())
	a.SetDarkMode(ctx, next)
	return next
}

// SetDarkMode applies and persists a display preference for signed-in users
func (a *App) SetDarkMode(ctx context.Context, pref models.DarkModePreference) {
	if !a.Session.IsAuthenticated() {
		return
	}
	a.Theme.SetPreference(pref)
	a.cache.SetDarkMode(ctx, pref)

	if err := a.client.SetDarkMode(ctx, pref); err != nil {
		a.logger.WithError(err).WithField("dark_mode", pref).Error("Failed to save dark mode preference")
	}
}

// ChangeEmail updates the email on this device only
func (a *App) ChangeEmail(ctx context.Context, email string) (*session.EmailChange, error) {
	return a.Session.ChangeEmail(ctx, email)
}

// ChangePassword validates a password change
func (a *App) ChangePassword(current, next, confirm string) error {
	return a.Session.ChangePassword(current, next, confirm)
}

// Language returns the active UI language
func (a *App) Language() models.Language {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.language
}

// LanguageCode is sent with every chat request
func (a *App) LanguageCode() string {
	return a.Language().Code
}

// FormErrors returns the inline login and register errors
func (a *App) FormErrors() (login, register string) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.loginError, a.registerError
}

// ClearFormErrors drops both inline errors, e.g. when switching forms
func (a *App) ClearFormErrors() {
	a.setFormErrors("", "")
}

// T translates a message in the active language
func (a *App) T(messageID string, data map[string]interface{}) string {
	return a.Localizer.Get(a.LanguageCode(), messageID, data)
}

// Plural translates a counted message in the active language
func (a *App) Plural(messageID string, count int) string {
	return a.Localizer.Plural(a.LanguageCode(), messageID, count)
}

// Config returns the loaded configuration
func (a *App) Config() *config.Config {
	return a.cfg
}

// Logger returns the application logger
func (a *App) Logger() *logrus.Logger {
	return a.logger
}

func (a *App) setFormErrors(login, register string) {
	a.mu.Lock()
	a.loginError = login
	a.registerError = register
	a.mu.Unlock()
}

func (a *App) currentEpoch() uint64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.epoch
}

func authDetail(err error) string {
	var authErr *session.AuthError
	if errors.As(err, &authErr) {
		return authErr.Detail
	}
	return err.Error()
}
