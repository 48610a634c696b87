// Package api assembles the HTTP server: router, middleware chain, and
// every handler set.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/bcgov/tenant-management-system-sub000/pkg/audit"
	"github.com/bcgov/tenant-management-system-sub000/pkg/auth"
	"github.com/bcgov/tenant-management-system-sub000/pkg/groups"
	"github.com/bcgov/tenant-management-system-sub000/pkg/httputil"
	"github.com/bcgov/tenant-management-system-sub000/pkg/middleware"
	"github.com/bcgov/tenant-management-system-sub000/pkg/observability"
	"github.com/bcgov/tenant-management-system-sub000/pkg/requests"
	"github.com/bcgov/tenant-management-system-sub000/pkg/sharedsvc"
	"github.com/bcgov/tenant-management-system-sub000/pkg/swagger"
	"github.com/bcgov/tenant-management-system-sub000/pkg/tenants"
)

// Deps holds everything the server needs wired in
type Deps struct {
	Logger       *observability.Logger
	Metrics      *observability.Metrics
	Health       *observability.HealthChecker
	Verifier     auth.TokenVerifier
	System       auth.SystemIdentity
	Auditor      audit.Logger
	RateLimiter  *middleware.RateLimiter
	TenantStore  *tenants.Store
	GroupStore   *groups.Store
	ServiceStore *sharedsvc.Store
	RequestStore *requests.Store
	TraceRoutes  bool
}

// Server is the public API HTTP server
type Server struct {
	httpServer *http.Server
	logger     *observability.Logger
}

// accessStore adapts the tenant and shared service stores to the
// access resolver's view of the world.
type accessStore struct {
	tenants  *tenants.Store
	services *sharedsvc.Store
}

func (a accessStore) CheckUserTenantAccess(ctx context.Context, tenantID, ssoSubject string, roleNames []string) (bool, error) {
	return a.tenants.CheckUserTenantAccess(ctx, tenantID, ssoSubject, roleNames)
}

func (a accessStore) HasActiveGlobalRole(ctx context.Context, ssoSubject, roleName string) (bool, error) {
	return a.tenants.HasActiveGlobalRole(ctx, ssoSubject, roleName)
}

func (a accessStore) SharedServiceActiveForTenant(ctx context.Context, clientIdentifier, tenantID string) (bool, error) {
	return a.services.SharedServiceActiveForTenant(ctx, clientIdentifier, tenantID)
}

// NewServer builds the router and wraps it in an http.Server
func NewServer(port int, deps Deps) *Server {
	router := NewRouter(deps)

	var handler http.Handler = router
	if deps.TraceRoutes {
		handler = otelhttp.NewHandler(router, "tenant-management-system")
	}

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", port),
			Handler:      handler,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: deps.Logger,
	}
}

// NewRouter assembles the middleware chain and registers every handler
// set. Exposed separately so tests can drive the full router with
// httptest.
func NewRouter(deps Deps) *mux.Router {
	authMW := middleware.NewAuthMiddleware(deps.Verifier, deps.System, deps.Metrics)
	access := middleware.NewAccessResolver(
		accessStore{tenants: deps.TenantStore, services: deps.ServiceStore},
		deps.System, deps.Metrics, deps.Auditor,
	)
	chain := middleware.NewChain(authMW, access)

	router := mux.NewRouter()
	router.Use(httputil.RequestIDMiddleware)
	router.Use(httputil.LoggingMiddleware(deps.Logger))
	router.Use(httputil.RecoveryMiddleware(deps.Logger))
	if deps.Metrics != nil {
		router.Use(deps.Metrics.HTTPMiddleware)
	}
	if deps.RateLimiter != nil {
		router.Use(deps.RateLimiter.Handler)
	}

	if deps.Health != nil {
		router.HandleFunc("/health", deps.Health.Health).Methods("GET")
	}
	swagger.NewHandlers().RegisterRoutes(router)

	v1 := router.PathPrefix("/v1").Subrouter()
	tenants.NewHandlers(deps.TenantStore, deps.Auditor).RegisterRoutes(v1, chain)
	groups.NewHandlers(deps.GroupStore, deps.System, deps.Auditor).RegisterRoutes(v1, chain)
	sharedsvc.NewHandlers(deps.ServiceStore, deps.Auditor).RegisterRoutes(v1, chain)
	requests.NewHandlers(deps.RequestStore, deps.Auditor).RegisterRoutes(v1, chain)

	return router
}

// Start begins serving. Blocks until the server stops.
func (s *Server) Start() error {
	s.logger.WithField("addr", s.httpServer.Addr).Info("api server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server failed: %w", err)
	}
	return nil
}

// HTTPServer exposes the underlying server for graceful shutdown
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}
