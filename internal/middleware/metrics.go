package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Backend request metrics
	apiRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pedichat_api_requests_total",
		Help: "Total number of backend API requests",
	}, []string{"method", "route", "status"})

	apiRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pedichat_api_request_duration_seconds",
		Help:    "Duration of backend API requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	// Forced logouts caused by unauthorized responses
	unauthorizedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pedichat_unauthorized_responses_total",
		Help: "Total number of unauthorized responses on authenticated calls",
	})

	// Message exchange metrics
	messagesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pedichat_messages_sent_total",
		Help: "Total number of chat and prescription requests",
	}, []string{"kind", "status"})

	// Cache metrics
	cacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pedichat_cache_hits_total",
		Help: "Total number of preference cache hits",
	})

	cacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pedichat_cache_misses_total",
		Help: "Total number of preference cache misses",
	})

	// Rate limit metrics
	rateLimitWaits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pedichat_rate_limit_waits_total",
		Help: "Total number of requests delayed by the client rate limiter",
	}, []string{"route"})

	// Storage metrics
	storageOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pedichat_storage_operations_total",
		Help: "Total number of local storage operations",
	}, []string{"operation", "status"})

	storageOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pedichat_storage_operation_duration_seconds",
		Help:    "Duration of local storage operations",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	// Loaded sessions gauge
	sessionsLoaded = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pedichat_sessions_loaded",
		Help: "Number of chat sessions in the sidebar",
	})
)

var numericSegment = regexp.MustCompile(`/\d+(/|$)`)

// Route collapses numeric path segments so labels stay bounded
func Route(path string) string {
	for numericSegment.MatchString(path) {
		path = numericSegment.ReplaceAllString(path, "/{id}$1")
	}
	return path
}

// Metrics provides methods to record metrics
type Metrics struct{}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	return &Metrics{}
}

// RecordAPIRequest records a finished backend request
func (m *Metrics) RecordAPIRequest(method, route string, status int, duration time.Duration) {
	label := strconv.Itoa(status)
	if status == 0 {
		label = "error"
	}
	apiRequestsTotal.WithLabelValues(method, route, label).Inc()
	apiRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordUnauthorized records an unauthorized response
func (m *Metrics) RecordUnauthorized() {
	unauthorizedTotal.Inc()
}

// RecordMessageSent records a chat or prescription exchange
func (m *Metrics) RecordMessageSent(kind, status string) {
	messagesSent.WithLabelValues(kind, status).Inc()
}

// RecordCacheHit records a cache hit
func (m *Metrics) RecordCacheHit() {
	cacheHits.Inc()
}

// RecordCacheMiss records a cache miss
func (m *Metrics) RecordCacheMiss() {
	cacheMisses.Inc()
}

// RecordRateLimitWait records a request delayed by the limiter
func (m *Metrics) RecordRateLimitWait(route string) {
	rateLimitWaits.WithLabelValues(route).Inc()
}

// RecordStorageOperation records a storage operation
func (m *Metrics) RecordStorageOperation(operation, status string, duration time.Duration) {
	storageOperations.WithLabelValues(operation, status).Inc()
	storageOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// SetSessionsLoaded sets the number of sessions in the sidebar
func (m *Metrics) SetSessionsLoaded(count int) {
	sessionsLoaded.Set(float64(count))
}

// Transport wraps next and records every outbound request
func (m *Metrics) Transport(next http.RoundTripper) http.RoundTripper {
	return roundTripperFunc(func(req *http.Request) (*http.Response, error) {
		start := time.Now()
		resp, err := next.RoundTrip(req)
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		m.RecordAPIRequest(req.Method, Route(req.URL.Path), status, time.Since(start))
		return resp, err
	})
}

// NewMetricsRouter builds the metrics and health router
func NewMetricsRouter(path string) *mux.Router {
	router := mux.NewRouter()
	router.Handle(path, promhttp.Handler())

	// Health check endpoint
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	return router
}

// StartMetricsServer serves the metrics router until ctx is done
func StartMetricsServer(ctx context.Context, port int, path string) error {
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      NewMetricsRouter(path),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
