// Package http exposes the budget service as a JSON API.
package http

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"tokenjar/internal/cache"
	"tokenjar/internal/core"
)

// BudgetAPI is what the handlers need from the service layer.
// Implemented by services.BudgetService.
type BudgetAPI interface {
	GetState(ctx context.Context, userID string) (core.BudgetState, error)
	SpendToken(ctx context.Context, userID, categoryID, tokenID string) (core.Transaction, error)
	SpendCustom(ctx context.Context, userID string, amountCents int64, categoryID, description string) (core.Transaction, error)
	Rollover(ctx context.Context, userID string) (core.RolloverResult, error)
	SaveAllocation(ctx context.Context, userID string, modules []core.Module) (core.AllocationResult, error)
	DeleteTransaction(ctx context.Context, userID, id string) error
	ListTransactions(ctx context.Context, userID string, limit int) ([]core.Transaction, error)
	SpentToday(ctx context.Context, userID, timezone string, rolloverHour int) (int64, error)
	ResetAll(ctx context.Context, userID string) (core.BudgetState, error)
	RestoreInitial(ctx context.Context, userID string) (core.BudgetState, error)
	SetFund(ctx context.Context, userID string, cents int64) (core.BudgetState, error)
}

type Server struct {
	http.Server
	api         BudgetAPI
	rateLimiter *rateLimiter

	// Spent-today is polled by dashboards; brief staleness is fine.
	spentCache *cache.TTLCache[int64]

	// Defaults for spent-today queries that omit tz/rollover_hour.
	defaultTimezone string
	defaultHour     int

	stopCacheSweep chan struct{}
	shutdownOnce   sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run
// http.Server. defaultTimezone and defaultHour fill in spent-today
// queries that do not override them.
func NewServer(addr string, api BudgetAPI, defaultTimezone string, defaultHour int) *Server {
	mux := http.NewServeMux()

	s := &Server{
		Server: http.Server{
			Addr:    addr,
			Handler: mux,
		},
		api:             api,
		rateLimiter:     newRateLimiter(),
		spentCache:      cache.New[int64](256, 30*time.Second),
		defaultTimezone: defaultTimezone,
		defaultHour:     defaultHour,
		stopCacheSweep:  make(chan struct{}),
	}
	go s.sweepCache()

	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", handleReady)

	mux.HandleFunc("GET /state", s.withMiddleware(s.handleGetState))
	mux.HandleFunc("POST /spend", s.withMiddleware(s.handleSpendToken))
	mux.HandleFunc("POST /spend/custom", s.withMiddleware(s.handleSpendCustom))
	mux.HandleFunc("POST /rollover", s.withMiddleware(s.handleRollover))
	mux.HandleFunc("POST /allocation", s.withMiddleware(s.handleSaveAllocation))
	mux.HandleFunc("GET /spent-today", s.withMiddleware(s.handleSpentToday))
	mux.HandleFunc("GET /transactions", s.withMiddleware(s.handleListTransactions))
	mux.HandleFunc("DELETE /transactions/{id}", s.withMiddleware(s.handleDeleteTransaction))

	mux.HandleFunc("POST /debug/reset", s.withMiddleware(s.handleReset))
	mux.HandleFunc("POST /debug/restore", s.withMiddleware(s.handleRestore))
	mux.HandleFunc("POST /debug/fund", s.withMiddleware(s.handleSetFund))

	return s
}

// sweepCache periodically drops expired spent-today entries.
func (s *Server) sweepCache() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := s.spentCache.Sweep(); n > 0 {
				slog.Debug("Cache sweep completed", "entries_removed", n)
			}
		case <-s.stopCacheSweep:
			return
		}
	}
}

// Shutdown gracefully shuts down the server and its cleanup routines.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		close(s.stopCacheSweep)
		if s.rateLimiter != nil {
			s.rateLimiter.stop()
		}
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

// withMiddleware adds request IDs, logging, security headers, and rate
// limiting on mutating requests.
func (s *Server) withMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		clientIP := r.Header.Get("X-Forwarded-For")
		if clientIP == "" {
			clientIP = r.Header.Get("X-Real-IP")
		}
		if clientIP == "" {
			clientIP = r.RemoteAddr
		}

		requestID := generateRequestID()
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		slog.InfoContext(ctx, "Request started",
			"request_id", requestID,
			"method", r.Method,
			"url", r.URL.Path,
			"client_ip", clientIP)

		if mutating(r.Method) && !s.rateLimiter.allow(clientIP) {
			slog.WarnContext(ctx, "Rate limit exceeded", "client_ip", clientIP, "method", r.Method, "url", r.URL.Path)
			w.Header().Set("Retry-After", "60")
			http.Error(w, "Rate limit exceeded. Please try again later.", http.StatusTooManyRequests)
			return
		}

		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cache-Control", "no-store")

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next(rw, r)

		slog.InfoContext(ctx, "Request completed",
			"request_id", requestID,
			"method", r.Method,
			"url", r.URL.Path,
			"status", rw.statusCode,
			"duration_ms", time.Since(start).Milliseconds(),
			"client_ip", clientIP)
	}
}

func mutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

type requestIDKey struct{}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// generateRequestID creates a unique request ID for tracing.
func generateRequestID() string {
	bytes := make([]byte, 8)
	if _, err := rand.Read(bytes); err != nil {
		return fmt.Sprintf("req_%d", time.Now().UnixNano())
	}
	return "req_" + hex.EncodeToString(bytes)
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func handleReady(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
