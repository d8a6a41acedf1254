// Package api exposes the SalonBot admin HTTP API.
//
// Operators use it to check health, list registered clients, inspect or reset a
// contact's conversation and clear a contact's activation cooldown. When the Twilio
// transport is active the inbound webhook is mounted on the same router.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/SalonBot/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Server timeouts.
const (
	DefaultReadHeaderTimeout = 5 * time.Second
	DefaultShutdownTimeout   = 10 * time.Second
)

// Server serves the admin API.
type Server struct {
	st        store.Store
	webhook   http.HandlerFunc
	pending   func() int
	startedAt time.Time
}

// Option configures a Server.
type Option func(*Server)

// WithTwilioWebhook mounts h at POST /twilio/webhook.
func WithTwilioWebhook(h http.HandlerFunc) Option {
	return func(s *Server) { s.webhook = h }
}

// WithPendingFunc reports queued inbound messages on /healthz.
func WithPendingFunc(f func() int) Option {
	return func(s *Server) { s.pending = f }
}

// NewServer creates a Server backed by st.
func NewServer(st store.Store, opts ...Option) *Server {
	s := &Server{st: st, startedAt: time.Now()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router builds the chi router with every route mounted.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/healthz", s.healthHandler)
	r.Get("/clients", s.listClientsHandler)
	r.Get("/clients/{contactID}", s.getClientHandler)
	r.Route("/conversations", func(r chi.Router) {
		r.Get("/", s.listConversationsHandler)
		r.Get("/{contactID}", s.getConversationHandler)
		r.Delete("/{contactID}", s.deleteConversationHandler)
	})
	r.Delete("/activations/{contactID}", s.deleteActivationHandler)

	if s.webhook != nil {
		r.Post("/twilio/webhook", s.webhook)
	}
	return r
}

// Run serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server.Run: admin API listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()
	slog.Info("Server.Run: shutting down admin API")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server.Run: shutdown failed", "error", err)
		return err
	}
	return nil
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		slog.Debug("Server: request served",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}
