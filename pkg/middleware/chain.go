package middleware

import "net/http"

// Chain bundles the authentication and authorization middleware so
// handler packages can declare route protection at registration time.
type Chain struct {
	auth   *AuthMiddleware
	access *AccessResolver
}

// NewChain creates a Chain from the auth and access middleware
func NewChain(auth *AuthMiddleware, access *AccessResolver) *Chain {
	return &Chain{auth: auth, access: access}
}

// Standard requires a government user token for this service.
func (c *Chain) Standard(h http.Handler) http.Handler {
	return c.auth.Standard(h)
}

// TenantScoped requires a government user token plus tenant membership,
// and when roles are given, at least one of them held actively.
func (c *Chain) TenantScoped(roles ...string) func(http.Handler) http.Handler {
	return func(h http.Handler) http.Handler {
		return c.auth.Standard(c.access.RequireTenantAccess(roles...)(h))
	}
}

// TenantScopedSharedService is TenantScoped but also admits shared
// service clients that are associated and active for the tenant.
func (c *Chain) TenantScopedSharedService(roles ...string) func(http.Handler) http.Handler {
	return func(h http.Handler) http.Handler {
		return c.auth.SharedServiceCallable(c.access.RequireTenantAccess(roles...)(h))
	}
}

// OperationsAdmin requires a government user holding the operations
// admin role actively in any tenant.
func (c *Chain) OperationsAdmin(h http.Handler) http.Handler {
	return c.auth.Standard(c.access.RequireOperationsAdmin(h))
}
