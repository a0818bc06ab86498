package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pedichat-go/internal/config"
	"github.com/pedichat-go/internal/i18n"
	"github.com/pedichat-go/internal/models"
	"github.com/pedichat-go/internal/navigation"
	"github.com/pedichat-go/internal/preference"
	"github.com/pedichat-go/internal/services/storage"
	"github.com/pedichat-go/internal/session"
	"github.com/pedichat-go/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

// fakeServer is an in-memory assistant backend
type fakeServer struct {
	mu         sync.Mutex
	language   string
	darkMode   string
	prefsFail  bool
	expired    bool
	loginFail  bool
	sessions   []models.ChatSession
	langPuts   []string
	darkPuts   []string
	sessionsOK int
}

func (f *fakeServer) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		public := strings.HasPrefix(r.URL.Path, "/auth/")
		if !public && (f.expired || r.Header.Get("Authorization") != "Bearer tok") {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Could not validate credentials"})
			return
		}

		switch {
		case r.URL.Path == "/auth/login":
			if f.loginFail {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Incorrect email or password"})
				return
			}
			writeJSON(w, http.StatusOK, authBody())
		case r.URL.Path == "/auth/register":
			writeJSON(w, http.StatusOK, authBody())
		case r.URL.Path == "/user/language" && r.Method == http.MethodGet:
			if f.prefsFail {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{"language": f.language})
		case r.URL.Path == "/user/language" && r.Method == http.MethodPut:
			r.ParseMultipartForm(1 << 20)
			f.language = r.FormValue("language")
			f.langPuts = append(f.langPuts, f.language)
			writeJSON(w, http.StatusOK, map[string]string{"message": "ok"})
		case r.URL.Path == "/user/dark-mode" && r.Method == http.MethodGet:
			if f.prefsFail {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{"dark_mode": f.darkMode})
		case r.URL.Path == "/user/dark-mode" && r.Method == http.MethodPut:
			r.ParseMultipartForm(1 << 20)
			f.darkMode = r.FormValue("dark_mode")
			f.darkPuts = append(f.darkPuts, f.darkMode)
			writeJSON(w, http.StatusOK, map[string]string{"message": "ok"})
		case r.URL.Path == "/chat/sessions":
			f.sessionsOK++
			writeJSON(w, http.StatusOK, f.sessions)
		case r.URL.Path == "/chat/":
			writeJSON(w, http.StatusOK, map[string]interface{}{"response": "Hi", "session_id": 42})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
}

// snapshot returns the recorded writes under the server lock
func (f *fakeServer) snapshot() (langPuts, darkPuts []string, sessionLists int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.langPuts...), append([]string(nil), f.darkPuts...), f.sessionsOK
}

func (f *fakeServer) langWrites() []string {
	puts, _, _ := f.snapshot()
	return puts
}

func (f *fakeServer) darkWrites() []string {
	_, puts, _ := f.snapshot()
	return puts
}

func authBody() map[string]interface{} {
	return map[string]interface{}{
		"access_token": "tok",
		"token_type":   "bearer",
		"user":         map[string]interface{}{"id": 1, "email": "ana@example.com", "full_name": "Ana"},
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func testConfig(baseURL string) *config.Config {
	return &config.Config{
		API:   config.APIConfig{BaseURL: baseURL, Timeout: 5 * time.Second},
		Cache: config.CacheConfig{Enabled: true, TTL: time.Minute},
		Chat:  config.ChatConfig{MaxMessageLength: 100, MaxImageBytes: 1 << 20},
		I18n:  config.I18nConfig{DefaultLanguage: "en"},
	}
}

type harness struct {
	app     *App
	server  *fakeServer
	storage storage.Storage
	ambient *preference.Ambient
}

func newHarness(t *testing.T, server *fakeServer, st storage.Storage) *harness {
	t.Helper()
	srv := httptest.NewServer(server.handler(t))
	t.Cleanup(srv.Close)

	if st == nil {
		st = storage.NewMemoryStorage()
	}
	ambient := preference.NewAmbient(false)
	a, err := New(testConfig(srv.URL), logger.Discard(), WithStorage(st), WithAmbient(ambient))
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })

	require.NoError(t, a.Start(context.Background()))
	return &harness{app: a, server: server, storage: st, ambient: ambient}
}

func TestRegisterWithoutLanguageForcesSelector(t *testing.T) {
	h := newHarness(t, &fakeServer{}, nil)
	ctx := context.Background()

	require.NoError(t, h.app.Nav.ShowRegister())
	require.NoError(t, h.app.Register(ctx, "ana@example.com", "pw", "pw", "Ana"))

	s := h.app.Nav.State()
	assert.Equal(t, navigation.Authenticated, s.View)
	assert.True(t, s.LanguageSelector)
	assert.True(t, s.LanguageForced)
	assert.True(t, h.app.Session.IsFirstTime())
	assert.Equal(t, "en", h.app.LanguageCode())

	require.NoError(t, h.app.SelectLanguage(ctx, "fr"))
	s = h.app.Nav.State()
	assert.False(t, s.LanguageSelector)
	assert.False(t, h.app.Session.IsFirstTime())
	assert.Equal(t, "fr", h.app.LanguageCode())
	assert.Equal(t, []string{"fr"}, h.server.langWrites())

	cached, _ := h.storage.Get(ctx, storage.KeyUserLanguage)
	assert.Equal(t, "fr", cached)
}

func TestLoginWithLanguageDoesNotForceSelector(t *testing.T) {
	h := newHarness(t, &fakeServer{language: "es", darkMode: "dark"}, nil)
	ctx := context.Background()

	require.NoError(t, h.app.Nav.ShowLogin())
	require.NoError(t, h.app.Login(ctx, "ana@example.com", "pw"))

	s := h.app.Nav.State()
	assert.Equal(t, navigation.Authenticated, s.View)
	assert.False(t, s.LanguageSelector)
	assert.Equal(t, "es", h.app.LanguageCode())
	assert.Equal(t, models.DarkModeDark, h.app.Theme.Preference())
	assert.True(t, h.app.Theme.Dark())
	_, _, lists := h.server.snapshot()
	assert.Equal(t, 1, lists)
	assert.Equal(t, "Cerrar sesión", h.app.T(i18n.MsgLogout, nil))
}

func TestLoginWithoutLanguageIsNotForced(t *testing.T) {
	h := newHarness(t, &fakeServer{}, nil)

	require.NoError(t, h.app.Nav.ShowLogin())
	require.NoError(t, h.app.Login(context.Background(), "ana@example.com", "pw"))

	assert.False(t, h.app.Nav.State().LanguageSelector, "only first-time users get the forced selector")
	assert.Equal(t, "en", h.app.LanguageCode())
}

func TestLoginFailureIsInline(t *testing.T) {
	h := newHarness(t, &fakeServer{loginFail: true}, nil)
	ctx := context.Background()

	require.NoError(t, h.app.Nav.ShowLogin())
	err := h.app.Login(ctx, "ana@example.com", "bad")
	require.Error(t, err)

	loginErr, registerErr := h.app.FormErrors()
	assert.Equal(t, "Incorrect email or password", loginErr)
	assert.Equal(t, "", registerErr)
	assert.Equal(t, navigation.LoginForm, h.app.Nav.View(), "a failed login never triggers the sign-out path")
	assert.False(t, h.app.Session.IsAuthenticated())

	h.app.ClearFormErrors()
	loginErr, _ = h.app.FormErrors()
	assert.Equal(t, "", loginErr)
}

func TestRegisterPasswordMismatch(t *testing.T) {
	h := newHarness(t, &fakeServer{}, nil)

	require.NoError(t, h.app.Nav.ShowRegister())
	err := h.app.Register(context.Background(), "ana@example.com", "a", "b", "Ana")
	assert.ErrorIs(t, err, session.ErrPasswordMismatch)

	_, registerErr := h.app.FormErrors()
	assert.Equal(t, "Passwords do not match", registerErr)
	assert.False(t, h.app.Session.IsAuthenticated())
}

func TestUnauthorizedResponseSignsOut(t *testing.T) {
	server := &fakeServer{language: "zh", darkMode: "light"}
	h := newHarness(t, server, nil)
	ctx := context.Background()

	require.NoError(t, h.app.Nav.ShowLogin())
	require.NoError(t, h.app.Login(ctx, "ana@example.com", "pw"))
	require.NoError(t, h.app.Nav.OpenSettings())
	h.app.Pipeline.SetText("draft")

	server.mu.Lock()
	server.expired = true
	server.mu.Unlock()

	require.Error(t, h.app.Chat.ListSessions(ctx))

	assert.False(t, h.app.Session.IsAuthenticated())
	assert.Equal(t, navigation.State{View: navigation.Landing}, h.app.Nav.State())
	assert.Equal(t, "en", h.app.LanguageCode())
	assert.Equal(t, models.DarkModeSystem, h.app.Theme.Preference())
	assert.Empty(t, h.app.Chat.Sessions())
	assert.Equal(t, "", h.app.Pipeline.Composer().Text)

	token, _ := h.storage.Get(ctx, storage.KeyAccessToken)
	assert.Equal(t, "", token)
	lang, _ := h.storage.Get(ctx, storage.KeyUserLanguage)
	assert.Equal(t, "zh", lang, "the language cache survives sign-out")
}

func TestRestoreAtStartup(t *testing.T) {
	st := storage.NewMemoryStorage()
	ctx := context.Background()
	require.NoError(t, st.Set(ctx, storage.KeyAccessToken, "tok"))
	require.NoError(t, st.Set(ctx, storage.KeyUserInfo, `{"id":1,"email":"ana@example.com","full_name":"Ana"}`))

	h := newHarness(t, &fakeServer{language: "ar"}, st)

	assert.Equal(t, navigation.Authenticated, h.app.Nav.View())
	assert.Equal(t, "Ana", h.app.Session.User().FullName)
	assert.Equal(t, "ar", h.app.LanguageCode())
	assert.False(t, h.app.Nav.State().LanguageSelector)
}

func TestRestoreWithExpiredToken(t *testing.T) {
	st := storage.NewMemoryStorage()
	require.NoError(t, st.Set(context.Background(), storage.KeyAccessToken, "stale"))

	h := newHarness(t, &fakeServer{language: "es"}, st)

	assert.Equal(t, navigation.Landing, h.app.Nav.View())
	assert.False(t, h.app.Session.IsAuthenticated())
	assert.Equal(t, "en", h.app.LanguageCode())
}

func TestPreferenceFetchFailureUsesCache(t *testing.T) {
	st := storage.NewMemoryStorage()
	ctx := context.Background()
	require.NoError(t, st.Set(ctx, storage.KeyUserLanguage, "fr"))

	h := newHarness(t, &fakeServer{prefsFail: true}, st)
	h.ambient.Set(true)

	require.NoError(t, h.app.Nav.ShowRegister())
	require.NoError(t, h.app.Register(ctx, "ana@example.com", "pw", "pw", "Ana"))

	assert.Equal(t, "fr", h.app.LanguageCode())
	assert.False(t, h.app.Nav.State().LanguageSelector)
	assert.Equal(t, models.DarkModeSystem, h.app.Theme.Preference())
	assert.True(t, h.app.Theme.Dark())
}

func TestSelectLanguage(t *testing.T) {
	h := newHarness(t, &fakeServer{language: "en"}, nil)
	ctx := context.Background()

	assert.ErrorIs(t, h.app.SelectLanguage(ctx, "de"), ErrUnsupportedLanguage)

	require.NoError(t, h.app.Nav.ShowLogin())
	require.NoError(t, h.app.Login(ctx, "ana@example.com", "pw"))
	require.NoError(t, h.app.SelectLanguage(ctx, "es-MX"))
	assert.Equal(t, "es", h.app.LanguageCode())
	assert.Equal(t, []string{"es"}, h.server.langWrites())
}

func TestSelectLanguageSignedOut(t *testing.T) {
	h := newHarness(t, &fakeServer{language: "fr"}, nil)
	ctx := context.Background()

	h.app.Nav.OpenLanguageSelector(false)
	require.NoError(t, h.app.SelectLanguage(ctx, "es"))
	assert.False(t, h.app.Nav.State().LanguageSelector)
	assert.Equal(t, "es", h.app.LanguageCode())
	assert.Equal(t, "Cerrar sesión", h.app.T(i18n.MsgLogout, nil))

	assert.Empty(t, h.server.langWrites(), "signed-out changes are not sent")
	stored, err := h.storage.Get(ctx, storage.KeyUserLanguage)
	require.NoError(t, err)
	assert.Equal(t, "", stored, "signed-out changes are not stored")

	require.NoError(t, h.app.Nav.ShowLogin())
	require.NoError(t, h.app.Login(ctx, "ana@example.com", "pw"))
	assert.Equal(t, "fr", h.app.LanguageCode(), "the account's language wins after sign-in")
}

func TestStaleUnauthorizedKeepsNewSession(t *testing.T) {
	h := newHarness(t, &fakeServer{language: "en"}, nil)
	ctx := context.Background()

	require.NoError(t, h.app.Nav.ShowLogin())
	require.NoError(t, h.app.Login(ctx, "ana@example.com", "pw"))

	h.app.handleUnauthorized("token-from-an-earlier-session")
	assert.True(t, h.app.Session.IsAuthenticated())
	assert.Equal(t, navigation.Authenticated, h.app.Nav.View())

	h.app.handleUnauthorized("")
	assert.True(t, h.app.Session.IsAuthenticated())

	h.app.handleUnauthorized("tok")
	assert.False(t, h.app.Session.IsAuthenticated())
	assert.Equal(t, navigation.Landing, h.app.Nav.View())
}

func TestToggleDarkMode(t *testing.T) {
	h := newHarness(t, &fakeServer{darkMode: "system"}, nil)
	ctx := context.Background()

	assert.Equal(t, models.DarkModeSystem, h.app.ToggleDarkMode(ctx), "signed-out users stay on system")
	assert.Empty(t, h.server.darkWrites())

	require.NoError(t, h.app.Nav.ShowLogin())
	require.NoError(t, h.app.Login(ctx, "ana@example.com", "pw"))

	assert.Equal(t, models.DarkModeLight, h.app.ToggleDarkMode(ctx))
	assert.False(t, h.app.Theme.Dark())
	assert.Equal(t, models.DarkModeDark, h.app.ToggleDarkMode(ctx))
	assert.True(t, h.app.Theme.Dark())
	assert.Equal(t, models.DarkModeSystem, h.app.ToggleDarkMode(ctx))
	assert.False(t, h.app.Theme.Dark())

	h.ambient.Set(true)
	assert.True(t, h.app.Theme.Dark())

	assert.Equal(t, []string{"light", "dark", "system"}, h.server.darkWrites())
}

func TestLogoutResetsEverything(t *testing.T) {
	server := &fakeServer{language: "fr", darkMode: "dark", sessions: []models.ChatSession{{ID: 1}}}
	h := newHarness(t, server, nil)
	ctx := context.Background()

	require.NoError(t, h.app.Nav.ShowLogin())
	require.NoError(t, h.app.Login(ctx, "ana@example.com", "pw"))
	require.Len(t, h.app.Chat.Sessions(), 1)

	h.app.Pipeline.SendMessage(ctx, "Hello", nil)
	require.Len(t, h.app.Chat.Messages(), 2)

	h.app.Logout(ctx)

	assert.Equal(t, navigation.Landing, h.app.Nav.View())
	assert.False(t, h.app.Session.IsAuthenticated())
	assert.Empty(t, h.app.Chat.Sessions())
	assert.Empty(t, h.app.Chat.Messages())
	assert.True(t, h.app.Chat.Active().IsNone())
	assert.Equal(t, "en", h.app.LanguageCode())
	assert.Equal(t, models.DarkModeSystem, h.app.Theme.Preference())
}

func TestChangeCredentials(t *testing.T) {
	h := newHarness(t, &fakeServer{language: "en"}, nil)
	ctx := context.Background()

	require.NoError(t, h.app.Nav.ShowLogin())
	require.NoError(t, h.app.Login(ctx, "ana@example.com", "pw"))

	change, err := h.app.ChangeEmail(ctx, "new@example.com")
	require.NoError(t, err)
	assert.False(t, change.Persisted)

	assert.ErrorIs(t, h.app.ChangePassword("pw", "x", "y"), session.ErrPasswordMismatch)
	assert.ErrorIs(t, h.app.ChangePassword("pw", "x", "x"), session.ErrPasswordChangeUnavailable)
}

func TestTranslations(t *testing.T) {
	h := newHarness(t, &fakeServer{language: "es"}, nil)

	assert.Equal(t, "1 message", h.app.Plural(i18n.MsgMessageCount, 1))
	assert.Equal(t, "3 messages", h.app.Plural(i18n.MsgMessageCount, 3))

	require.NoError(t, h.app.Nav.ShowLogin())
	require.NoError(t, h.app.Login(context.Background(), "ana@example.com", "pw"))
	assert.Equal(t, "1 mensaje", h.app.Plural(i18n.MsgMessageCount, 1))
}

func TestAmbientWatcherStopsOnClose(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	srv := httptest.NewServer((&fakeServer{}).handler(t))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.UI.AmbientPollInterval = 5 * time.Millisecond

	var mu sync.Mutex
	dark := false
	detect := func() bool {
		mu.Lock()
		defer mu.Unlock()
		return dark
	}

	a, err := New(cfg, logger.Discard(), WithStorage(storage.NewMemoryStorage()), WithDetector(detect))
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))
	assert.False(t, a.Theme.Dark())

	mu.Lock()
	dark = true
	mu.Unlock()

	assert.Eventually(t, a.Theme.Dark, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, a.Close())
}
