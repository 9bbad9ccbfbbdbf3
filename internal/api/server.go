package api

import (
	"context"
	"net/http"

	"github.com/darmiel/trustbroker/internal/api/middleware"
	"github.com/darmiel/trustbroker/internal/core"
	"github.com/darmiel/trustbroker/internal/service"
	"github.com/darmiel/trustbroker/internal/tasks"
)

// AuthenticatorFunc returns the currently configured authentication backend.
type AuthenticatorFunc func(ctx context.Context) (core.Authenticator, error)

type Options struct {
	Broker        *service.Broker
	Authenticator AuthenticatorFunc
	Tasks         *tasks.Manager

	// Metrics serves the Prometheus scrape endpoint. Nil disables it.
	Metrics http.Handler

	// AdminKey returns the admin JWT signing key. Nil or empty disables the admin API.
	AdminKey func() []byte
}

type Server struct {
	broker        *service.Broker
	authenticator AuthenticatorFunc
	taskManager   *tasks.Manager
	metrics       http.Handler
	adminKey      func() []byte
}

func NewServer(opts Options) *Server {
	if opts.AdminKey == nil {
		opts.AdminKey = func() []byte { return nil }
	}
	if opts.Tasks == nil {
		opts.Tasks = tasks.NewManager(0)
	}
	return &Server{
		broker:        opts.Broker,
		authenticator: opts.Authenticator,
		taskManager:   opts.Tasks,
		metrics:       opts.Metrics,
		adminKey:      opts.AdminKey,
	}
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	// public routes
	mux.HandleFunc("GET "+HealthCheckRoute, s.handleHealth)
	mux.HandleFunc("GET "+AboutRoute, s.handleAbout)
	if s.metrics != nil {
		mux.Handle("GET "+MetricsRoute, s.metrics)
	}

	// broker routes
	mux.HandleFunc("POST "+AccessTokenRoute, s.handleGetAccessToken)
	mux.HandleFunc("POST "+SessionTokenRoute, s.handleGetSessionToken)
	mux.HandleFunc("POST "+RenewSessionTokenRoute, s.handleRenewSessionToken)
	mux.HandleFunc("POST "+CancelSessionTokenRoute, s.handleCancelSessionToken)

	// admin routes
	adminMux := http.NewServeMux()
	adminMux.HandleFunc("GET "+ListAuditsRoute, s.handleAdminAudit)
	adminMux.HandleFunc("POST "+ExplainRoute, s.handleExplain)
	adminMux.HandleFunc("GET "+ListTasksRoute, s.handleListTasks)
	adminMux.HandleFunc("POST "+TriggerTaskRoute, s.handleTriggerTask)
	adminMux.HandleFunc("GET "+LogsForTaskRoute, s.handleLogsForTask)
	mux.Handle(AdminParent, middleware.AdminAuth(s.adminKey)(adminMux))

	return middleware.RecoverMiddleware(
		middleware.CorrelationIDMiddleware(
			middleware.LoggingMiddleware(
				mux)))
}
