// Package server exposes the webhook ingress, the OAuth authorization
// flow, and the message operations over HTTP.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/corechat/ig-relay/internal/event"
	"github.com/corechat/ig-relay/internal/graph"
)

// GraphAPI is the provider client surface the server depends on.
type GraphAPI interface {
	LoginURL() (string, error)
	ExchangeCode(ctx context.Context, code string) (*graph.Credentials, error)
	SendMessage(ctx context.Context, pageToken, recipientID, text string) (graph.SendResult, error)
	ListConversations(ctx context.Context, creds *graph.Credentials) ([]graph.Conversation, error)
	Probe(ctx context.Context, userToken string) ([]graph.ProbePage, error)
}

// CredentialStore is the persistence surface for resolved bundles.
type CredentialStore interface {
	Save(ctx context.Context, creds *graph.Credentials) error
	Load(ctx context.Context) (*graph.Credentials, error)
}

// EventForwarder pushes canonical events to the aggregator.
type EventForwarder interface {
	Forward(ctx context.Context, ev event.CanonicalEvent) error
}

// Config holds HTTP server configuration.
type Config struct {
	Listen string

	// Production disables the signature-failure bypass used during
	// integration testing. Must be true in production deployments.
	Production bool

	// AppSecret signs inbound webhook deliveries. Empty skips the gate.
	AppSecret string

	// VerifyToken answers the subscription handshake.
	VerifyToken string

	CORSOrigins []string
	MaxBodySize int64

	// EchoReply sends a confirmation DM back to each message sender.
	EchoReply bool
}

// Server is the HTTP front of the relay.
type Server struct {
	config    Config
	graphAPI  GraphAPI
	store     CredentialStore
	forwarder EventForwarder
	logger    *slog.Logger
	server    *http.Server
}

// New creates a server instance.
func New(config Config, graphAPI GraphAPI, store CredentialStore, forwarder EventForwarder, logger *slog.Logger) *Server {
	if config.MaxBodySize <= 0 {
		config.MaxBodySize = 1 << 20
	}
	if len(config.CORSOrigins) == 0 {
		config.CORSOrigins = []string{"*"}
	}
	return &Server{
		config:    config,
		graphAPI:  graphAPI,
		store:     store,
		forwarder: forwarder,
		logger:    logger,
	}
}

// Start starts the HTTP server (blocking).
func (s *Server) Start(ctx context.Context) error {
	router := s.setupRoutes()

	s.server = &http.Server{
		Addr:         s.config.Listen,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("server starting", "listen", s.config.Listen, "production", s.config.Production)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// setupRoutes configures the HTTP router.
func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.config.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", s.handleHealthz)

	// The provider has addressed deliveries to both spellings.
	for _, path := range []string{"/webhook/instagram", "/webhooks/instagram"} {
		r.Get(path, s.handleChallenge)
		r.Post(path, s.handleEvents)
	}

	r.Route("/auth", func(r chi.Router) {
		r.Get("/login", s.handleLogin)
		r.Get("/instagram/callback", s.handleCallback)
		r.Get("/me", s.handleMe)
		r.Get("/probe", s.handleProbe)
	})

	r.Route("/messages", func(r chi.Router) {
		r.Get("/conversations", s.handleConversations)
		r.Post("/send", s.handleSend)
	})

	return r
}

// loggingMiddleware logs HTTP requests (no body content).
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// respondJSON sends a JSON response.
func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondDetail sends the error-detail shape the API has always used.
func (s *Server) respondDetail(w http.ResponseWriter, status int, detail string) {
	s.respondJSON(w, status, detailResponse{Detail: detail})
}
