package middleware

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/pedichat-go/internal/config"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// RateLimiter throttles outbound requests per backend route group
type RateLimiter interface {
	Allow(group string) bool
	Transport(next http.RoundTripper) http.RoundTripper
}

// GroupRateLimiter implements per-group rate limiting
type GroupRateLimiter struct {
	enabled  bool
	limiters map[string]*rate.Limiter
	mu       sync.RWMutex
	rpm      int
	burst    int
	metrics  *Metrics
	logger   *logrus.Logger
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(cfg *config.RateLimitConfig, metrics *Metrics, logger *logrus.Logger) RateLimiter {
	if !cfg.Enabled || cfg.RequestsPerMinute <= 0 {
		return &GroupRateLimiter{enabled: false}
	}

	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	return &GroupRateLimiter{
		enabled:  true,
		limiters: make(map[string]*rate.Limiter),
		rpm:      cfg.RequestsPerMinute,
		burst:    burst,
		metrics:  metrics,
		logger:   logger,
	}
}

// Group returns the first path segment, e.g. "chat" for /chat/sessions
func Group(path string) string {
	path = strings.TrimPrefix(path, "/")
	if i := strings.IndexByte(path, '/'); i >= 0 {
		path = path[:i]
	}
	return path
}

// Allow checks if a request for group may proceed right now
func (r *GroupRateLimiter) Allow(group string) bool {
	if !r.enabled {
		return true
	}
	return r.getLimiter(group).Allow()
}

// Transport blocks each request until its group has capacity
func (r *GroupRateLimiter) Transport(next http.RoundTripper) http.RoundTripper {
	if !r.enabled {
		return next
	}
	return roundTripperFunc(func(req *http.Request) (*http.Response, error) {
		group := Group(req.URL.Path)
		limiter := r.getLimiter(group)
		if !limiter.Allow() {
			if r.metrics != nil {
				r.metrics.RecordRateLimitWait(group)
			}
			r.logger.WithField("group", group).Debug("Rate limit reached, waiting")
			if err := limiter.Wait(req.Context()); err != nil {
				return nil, fmt.Errorf("rate limit wait: %w", err)
			}
		}
		return next.RoundTrip(req)
	})
}

// getLimiter gets or creates a rate limiter for a group
func (r *GroupRateLimiter) getLimiter(group string) *rate.Limiter {
	r.mu.RLock()
	limiter, exists := r.limiters[group]
	r.mu.RUnlock()

	if exists {
		return limiter
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Double-check after acquiring write lock
	if limiter, exists := r.limiters[group]; exists {
		return limiter
	}

	// Rate per second = RPM / 60
	rps := float64(r.rpm) / 60.0
	limiter = rate.NewLimiter(rate.Limit(rps), r.burst)
	r.limiters[group] = limiter

	return limiter
}

// InputValidator checks user input before it reaches the backend
type InputValidator struct {
	maxLength     int
	maxImageBytes int64
}

// NewInputValidator creates an input validator
func NewInputValidator(cfg *config.ChatConfig) *InputValidator {
	return &InputValidator{
		maxLength:     cfg.MaxMessageLength,
		maxImageBytes: cfg.MaxImageBytes,
	}
}

// ValidateText checks message length in characters
func (v *InputValidator) ValidateText(text string) error {
	if v.maxLength > 0 && utf8.RuneCountInString(text) > v.maxLength {
		return fmt.Errorf("message too long: %d characters (max %d)", utf8.RuneCountInString(text), v.maxLength)
	}
	return nil
}

// ValidateImage checks image size and type
func (v *InputValidator) ValidateImage(size int64, contentType string) error {
	if v.maxImageBytes > 0 && size > v.maxImageBytes {
		return fmt.Errorf("image too large: %d bytes (max %d)", size, v.maxImageBytes)
	}
	if !strings.HasPrefix(contentType, "image/") {
		return fmt.Errorf("unsupported file type: %s", contentType)
	}
	return nil
}
