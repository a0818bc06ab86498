package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pedichat-go/internal/config"
	"github.com/pedichat-go/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticToken string

func (s staticToken) Token() string { return string(s) }

func newServer(t *testing.T, status int, seen *atomic.Value) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if seen != nil {
			seen.Store(r.Header.Get("Authorization"))
		}
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, rt http.RoundTripper, ctx context.Context, url string) *http.Response {
	t.Helper()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	require.NoError(t, err)
	resp, err := rt.RoundTrip(req)
	require.NoError(t, err)
	resp.Body.Close()
	return resp
}

func TestAuthInterceptorAttachesBearer(t *testing.T) {
	var seen atomic.Value
	srv := newServer(t, http.StatusOK, &seen)

	interceptor := NewAuthInterceptor(staticToken("abc"), nil, logger.Discard())
	rt := interceptor.Transport(http.DefaultTransport)

	do(t, rt, context.Background(), srv.URL+"/chat/sessions")
	assert.Equal(t, "Bearer abc", seen.Load())

	do(t, rt, WithPublic(context.Background()), srv.URL+"/auth/login")
	assert.Equal(t, "", seen.Load(), "public requests carry no token")
}

func TestAuthInterceptorWithoutToken(t *testing.T) {
	var seen atomic.Value
	srv := newServer(t, http.StatusOK, &seen)

	interceptor := NewAuthInterceptor(staticToken(""), nil, logger.Discard())
	do(t, interceptor.Transport(http.DefaultTransport), context.Background(), srv.URL)
	assert.Equal(t, "", seen.Load())

	interceptor.SetTokenSource(staticToken("later"))
	do(t, interceptor.Transport(http.DefaultTransport), context.Background(), srv.URL)
	assert.Equal(t, "Bearer later", seen.Load())
}

func TestUnauthorizedHandler(t *testing.T) {
	srv := newServer(t, http.StatusUnauthorized, nil)

	interceptor := NewAuthInterceptor(staticToken("abc"), NewMetrics(), logger.Discard())
	rt := interceptor.Transport(http.DefaultTransport)

	var (
		calls    int
		rejected string
	)
	remove := interceptor.OnUnauthorized(func(token string) {
		calls++
		rejected = token
	})

	resp := do(t, rt, context.Background(), srv.URL+"/chat/sessions")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, "the response is still returned to the caller")
	assert.Equal(t, 1, calls)
	assert.Equal(t, "abc", rejected, "the handler sees the token the request carried")

	do(t, rt, WithPublic(context.Background()), srv.URL+"/auth/login")
	assert.Equal(t, 1, calls, "public calls never trigger the handler")

	remove()
	remove()
	do(t, rt, context.Background(), srv.URL)
	assert.Equal(t, 1, calls)
}

func TestStaleRemoveKeepsNewerHandler(t *testing.T) {
	srv := newServer(t, http.StatusUnauthorized, nil)
	interceptor := NewAuthInterceptor(staticToken("abc"), nil, logger.Discard())
	rt := interceptor.Transport(http.DefaultTransport)

	var first, second int
	removeFirst := interceptor.OnUnauthorized(func(string) { first++ })
	interceptor.OnUnauthorized(func(string) { second++ })

	removeFirst()
	do(t, rt, context.Background(), srv.URL)

	assert.Equal(t, 0, first)
	assert.Equal(t, 1, second)
}

func TestOtherStatusesIgnored(t *testing.T) {
	srv := newServer(t, http.StatusForbidden, nil)
	interceptor := NewAuthInterceptor(staticToken("abc"), nil, logger.Discard())

	var calls int
	interceptor.OnUnauthorized(func(string) { calls++ })
	do(t, interceptor.Transport(http.DefaultTransport), context.Background(), srv.URL)
	assert.Equal(t, 0, calls)
}

func TestChainOrder(t *testing.T) {
	var order []string
	tag := func(name string) func(http.RoundTripper) http.RoundTripper {
		return func(next http.RoundTripper) http.RoundTripper {
			return roundTripperFunc(func(req *http.Request) (*http.Response, error) {
				order = append(order, name)
				return next.RoundTrip(req)
			})
		}
	}
	base := roundTripperFunc(func(req *http.Request) (*http.Response, error) {
		order = append(order, "base")
		return &http.Response{StatusCode: http.StatusOK, Body: http.NoBody, Request: req}, nil
	})

	rt := Chain(base, tag("outer"), tag("inner"))
	req, err := http.NewRequest(http.MethodGet, "http://example.invalid/", nil)
	require.NoError(t, err)
	_, err = rt.RoundTrip(req)
	require.NoError(t, err)

	assert.Equal(t, []string{"outer", "inner", "base"}, order)
}

func TestChainDefaultsBase(t *testing.T) {
	assert.Equal(t, http.DefaultTransport, Chain(nil))
}

func TestPublicContext(t *testing.T) {
	assert.False(t, IsPublic(context.Background()))
	assert.True(t, IsPublic(WithPublic(context.Background())))
}

func TestRoute(t *testing.T) {
	assert.Equal(t, "/chat/sessions", Route("/chat/sessions"))
	assert.Equal(t, "/chat/sessions/{id}", Route("/chat/sessions/42"))
	assert.Equal(t, "/chat/sessions/{id}/messages", Route("/chat/sessions/7/messages"))
	assert.Equal(t, "/a/{id}/{id}", Route("/a/1/2"))
	assert.Equal(t, "/users/me", Route("/users/me"))
}

func TestGroup(t *testing.T) {
	assert.Equal(t, "chat", Group("/chat/sessions/1"))
	assert.Equal(t, "auth", Group("/auth/login"))
	assert.Equal(t, "health", Group("health"))
	assert.Equal(t, "", Group("/"))
}

func TestRateLimiterDisabled(t *testing.T) {
	limiter := NewRateLimiter(&config.RateLimitConfig{Enabled: false}, nil, nil)
	for i := 0; i < 100; i++ {
		assert.True(t, limiter.Allow("chat"))
	}

	srv := newServer(t, http.StatusOK, nil)
	rt := limiter.Transport(http.DefaultTransport)
	for i := 0; i < 5; i++ {
		resp := do(t, rt, context.Background(), srv.URL+"/chat/sessions")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	}
}

func TestRateLimiterPerGroup(t *testing.T) {
	limiter := NewRateLimiter(&config.RateLimitConfig{
		Enabled:           true,
		RequestsPerMinute: 1,
		Burst:             2,
	}, NewMetrics(), logger.Discard())

	assert.True(t, limiter.Allow("chat"))
	assert.True(t, limiter.Allow("chat"))
	assert.False(t, limiter.Allow("chat"))

	assert.True(t, limiter.Allow("users"), "groups have separate buckets")
}

func TestRateLimiterTransportHonorsContext(t *testing.T) {
	limiter := NewRateLimiter(&config.RateLimitConfig{
		Enabled:           true,
		RequestsPerMinute: 1,
		Burst:             1,
	}, NewMetrics(), logger.Discard())

	srv := newServer(t, http.StatusOK, nil)
	rt := limiter.Transport(http.DefaultTransport)
	do(t, rt, context.Background(), srv.URL+"/chat/sessions")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/chat/sessions", nil)
	require.NoError(t, err)
	_, err = rt.RoundTrip(req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limit wait")
}

func TestInputValidator(t *testing.T) {
	v := NewInputValidator(&config.ChatConfig{MaxMessageLength: 5, MaxImageBytes: 10})

	assert.NoError(t, v.ValidateText("héllo"))
	assert.Error(t, v.ValidateText("héllo!"))

	assert.NoError(t, v.ValidateImage(10, "image/png"))
	assert.Error(t, v.ValidateImage(11, "image/png"))
	assert.Error(t, v.ValidateImage(1, "application/pdf"))

	unlimited := NewInputValidator(&config.ChatConfig{})
	assert.NoError(t, unlimited.ValidateText(strings.Repeat("x", 10000)))
}

func TestMetricsTransportPassesThrough(t *testing.T) {
	srv := newServer(t, http.StatusTeapot, nil)
	rt := NewMetrics().Transport(http.DefaultTransport)
	resp := do(t, rt, context.Background(), srv.URL+"/chat/sessions/3")
	assert.Equal(t, http.StatusTeapot, resp.StatusCode)
}

func TestMetricsRouterHealth(t *testing.T) {
	router := NewMetricsRouter("/metrics")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "pedichat_unauthorized_responses_total")
}

func TestMetricsServerStopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- StartMetricsServer(ctx, 0, "/metrics") }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("metrics server did not stop")
	}
}
