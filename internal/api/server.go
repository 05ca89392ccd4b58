package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sendrotor/sendrotor/internal/account"
	"github.com/sendrotor/sendrotor/internal/queue"
	"github.com/sendrotor/sendrotor/internal/secrets"
	"github.com/sendrotor/sendrotor/internal/validator"
)

// Config represents API server configuration.
type Config struct {
	Enabled    bool   `toml:"enabled" json:"enabled"`
	ListenAddr string `toml:"listen_addr" json:"listen_addr"`
}

// AccountVerifier proves an account's credentials before registration.
type AccountVerifier interface {
	Verify(ctx context.Context, acct account.Account) error
}

// Checker produces deliverability verdicts and domain reports.
type Checker interface {
	CheckEmail(ctx context.Context, address string) (validator.Verdict, error)
	CheckDomain(ctx context.Context, domain string, dkimSelectors []string) (validator.DomainReport, error)
}

// Server is the operator-facing HTTP API: enqueue work, inspect queues and
// accounts, manage the dead letter queue, pause tenants.
type Server struct {
	config     Config
	engine     *queue.Engine
	accounts   *account.Store
	checker    Checker
	box        *secrets.Box
	verifier   AccountVerifier
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates an API server. The verifier may be nil; registration then
// skips the credential check.
func NewServer(config Config, engine *queue.Engine, accounts *account.Store, checker Checker, box *secrets.Box, verifier AccountVerifier) (*Server, error) {
	if !config.Enabled {
		return nil, fmt.Errorf("API server disabled in configuration")
	}

	if config.ListenAddr == "" {
		config.ListenAddr = "127.0.0.1:8025"
	}

	return &Server{
		config:   config,
		engine:   engine,
		accounts: accounts,
		checker:  checker,
		box:      box,
		verifier: verifier,
		logger:   slog.Default().With("component", "api"),
	}, nil
}

// Router builds the route table. Exposed so tests can drive handlers without
// binding a port.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	api := r.PathPrefix("/api").Subrouter()

	api.HandleFunc("/health", s.handleHealth).Methods("GET")

	api.HandleFunc("/queue/items", s.handleEnqueue).Methods("POST")
	api.HandleFunc("/queue/items/{id}", s.handleGetItem).Methods("GET")
	api.HandleFunc("/queue/stats", s.handleQueueStats).Methods("GET")

	api.HandleFunc("/accounts", s.handleRegisterAccount).Methods("POST")
	api.HandleFunc("/accounts", s.handleListAccounts).Methods("GET")
	api.HandleFunc("/accounts/{id}", s.handleGetAccount).Methods("GET")
	api.HandleFunc("/accounts/{id}/reset", s.handleResetAccount).Methods("POST")

	api.HandleFunc("/dlq", s.handleListDeadLetters).Methods("GET")
	api.HandleFunc("/dlq/{id}", s.handleGetDeadLetter).Methods("GET")
	api.HandleFunc("/dlq/{id}/requeue", s.handleRequeue).Methods("POST")

	api.HandleFunc("/tenants/{id}/pause", s.handlePauseTenant).Methods("POST")
	api.HandleFunc("/tenants/{id}/resume", s.handleResumeTenant).Methods("POST")

	api.HandleFunc("/checks/email", s.handleCheckEmail).Methods("POST")
	api.HandleFunc("/checks/domain", s.handleCheckDomain).Methods("POST")

	return r
}

// Start begins serving. It returns once the listener is running; serve errors
// are logged.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         s.config.ListenAddr,
		Handler:      s.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("API server starting",
		"event_type", "api_started",
		"listen_addr", s.config.ListenAddr)

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("API server failed", "error", err)
		}
	}()

	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return s.httpServer.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Default().Error("Failed to encode API response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, format string, args ...interface{}) {
	writeJSON(w, status, map[string]string{"error": fmt.Sprintf(format, args...)})
}
