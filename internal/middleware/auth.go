package middleware

import (
	"context"
	"net/http"
	"sync"

	"github.com/sirupsen/logrus"
)

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

// Chain wraps base with the given middlewares; the first one is outermost
func Chain(base http.RoundTripper, middlewares ...func(http.RoundTripper) http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	for i := len(middlewares) - 1; i >= 0; i-- {
		base = middlewares[i](base)
	}
	return base
}

type publicKey struct{}

// WithPublic marks a request context as not requiring authentication
func WithPublic(ctx context.Context) context.Context {
	return context.WithValue(ctx, publicKey{}, true)
}

// IsPublic reports whether the context was marked with WithPublic
func IsPublic(ctx context.Context) bool {
	public, _ := ctx.Value(publicKey{}).(bool)
	return public
}

// TokenSource provides the current bearer token, empty when signed out
type TokenSource interface {
	Token() string
}

// AuthInterceptor attaches the bearer token to every non-public request and
// reports unauthorized responses to the registered handler.
type AuthInterceptor struct {
	tokens  TokenSource
	metrics *Metrics
	logger  *logrus.Logger

	mu      sync.RWMutex
	handler func(token string)
	gen     uint64
}

// NewAuthInterceptor creates an interceptor reading tokens from source
func NewAuthInterceptor(source TokenSource, metrics *Metrics, logger *logrus.Logger) *AuthInterceptor {
	return &AuthInterceptor{
		tokens:  source,
		metrics: metrics,
		logger:  logger,
	}
}

// SetTokenSource replaces the token source; used when the store is built after the transport
func (a *AuthInterceptor) SetTokenSource(source TokenSource) {
	a.mu.Lock()
	a.tokens = source
	a.mu.Unlock()
}

// OnUnauthorized installs fn as the unauthorized handler. fn receives the
// token the rejected request carried, empty if it had none. The returned
// function removes it and may be called any number of times.
func (a *AuthInterceptor) OnUnauthorized(fn func(token string)) (remove func()) {
	a.mu.Lock()
	a.gen++
	gen := a.gen
	a.handler = fn
	a.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			a.mu.Lock()
			defer a.mu.Unlock()
			if a.gen == gen {
				a.handler = nil
			}
		})
	}
}

// Transport wraps next with bearer injection and unauthorized detection
func (a *AuthInterceptor) Transport(next http.RoundTripper) http.RoundTripper {
	return roundTripperFunc(func(req *http.Request) (*http.Response, error) {
		if IsPublic(req.Context()) {
			return next.RoundTrip(req)
		}

		a.mu.RLock()
		source := a.tokens
		a.mu.RUnlock()

		token := ""
		if source != nil {
			token = source.Token()
		}
		if token != "" {
			req = req.Clone(req.Context())
			req.Header.Set("Authorization", "Bearer "+token)
		}

		resp, err := next.RoundTrip(req)
		if err == nil && resp.StatusCode == http.StatusUnauthorized {
			a.unauthorized(req, token)
		}
		return resp, err
	})
}

func (a *AuthInterceptor) unauthorized(req *http.Request, token string) {
	if a.metrics != nil {
		a.metrics.RecordUnauthorized()
	}
	a.mu.RLock()
	handler := a.handler
	a.mu.RUnlock()

	if a.logger != nil {
		a.logger.WithFields(logrus.Fields{
			"method": req.Method,
			"route":  Route(req.URL.Path),
		}).Warn("Unauthorized response")
	}
	if handler != nil {
		handler(token)
	}
}
