package middleware

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/bcgov/tenant-management-system-sub000/pkg/apierrors"
	"github.com/bcgov/tenant-management-system-sub000/pkg/audit"
	"github.com/bcgov/tenant-management-system-sub000/pkg/auth"
	"github.com/bcgov/tenant-management-system-sub000/pkg/contextkeys"
	"github.com/bcgov/tenant-management-system-sub000/pkg/httputil"
	"github.com/bcgov/tenant-management-system-sub000/pkg/observability"
)

// AccessStore is the subset of repository methods access checks need.
type AccessStore interface {
	// CheckUserTenantAccess reports whether the subject is a member of
	// the tenant and, when roleNames is non-empty, holds at least one of
	// those roles actively.
	CheckUserTenantAccess(ctx context.Context, tenantID, ssoSubject string, roleNames []string) (bool, error)
	// HasActiveGlobalRole reports whether the subject holds the named
	// role actively in any tenant.
	HasActiveGlobalRole(ctx context.Context, ssoSubject, roleName string) (bool, error)
	// SharedServiceActiveForTenant reports whether the shared service
	// identified by the token audience is associated and active for the
	// tenant.
	SharedServiceActiveForTenant(ctx context.Context, clientIdentifier, tenantID string) (bool, error)
}

// AccessResolver enforces tenant-scoped authorization. All checks fail
// closed: a store error denies access rather than allowing it.
type AccessResolver struct {
	store   AccessStore
	system  auth.SystemIdentity
	metrics *observability.Metrics
	auditor audit.Logger
}

// NewAccessResolver creates the authorization middleware
func NewAccessResolver(store AccessStore, system auth.SystemIdentity, metrics *observability.Metrics, auditor audit.Logger) *AccessResolver {
	return &AccessResolver{
		store:   store,
		system:  system,
		metrics: metrics,
		auditor: auditor,
	}
}

// RequireTenantAccess gates a route on tenant membership. When
// requiredRoles is non-empty the caller must also hold one of those
// roles actively in the tenant. Shared service callers must first pass
// the audience gate: their service must be associated and active for
// the tenant.
func (a *AccessResolver) RequireTenantAccess(requiredRoles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := auth.ClaimsFromContext(r.Context())
			if claims == nil {
				httputil.WriteDomainError(w, apierrors.Unauthorized("authentication required"))
				return
			}

			tenantID := mux.Vars(r)["tenantId"]
			if tenantID == "" {
				httputil.WriteDomainError(w, apierrors.BadRequest("tenant id is required"))
				return
			}

			if !a.system.IsSystemAudience(claims) {
				active, err := a.store.SharedServiceActiveForTenant(r.Context(), claims.Audience, tenantID)
				if err != nil {
					httputil.WriteDomainError(w, err)
					return
				}
				if !active {
					a.deny(w, r, claims, tenantID, "service_not_associated")
					return
				}
			}

			ok, err := a.store.CheckUserTenantAccess(r.Context(), tenantID, claims.Subject, requiredRoles)
			if err != nil {
				httputil.WriteDomainError(w, err)
				return
			}
			if !ok {
				kind := "not_a_member"
				if len(requiredRoles) > 0 {
					kind = "missing_role"
				}
				a.deny(w, r, claims, tenantID, kind)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RequireOperationsAdmin gates a route on the caller holding the
// operations admin role actively in any tenant.
func (a *AccessResolver) RequireOperationsAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := auth.ClaimsFromContext(r.Context())
		if claims == nil {
			httputil.WriteDomainError(w, apierrors.Unauthorized("authentication required"))
			return
		}

		ok, err := a.store.HasActiveGlobalRole(r.Context(), claims.Subject, auth.RoleOperationsAdmin)
		if err != nil {
			httputil.WriteDomainError(w, err)
			return
		}
		if !ok {
			a.deny(w, r, claims, "", "not_operations_admin")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (a *AccessResolver) deny(w http.ResponseWriter, r *http.Request, claims *auth.Claims, tenantID, kind string) {
	if a.metrics != nil {
		a.metrics.AccessDeniedTotal.WithLabelValues(kind).Inc()
	}
	if a.auditor != nil {
		a.auditor.Record(audit.Event{
			Type:      audit.EventAccessDenied,
			Actor:     claims.Subject,
			TenantID:  tenantID,
			RequestID: contextkeys.GetRequestID(r.Context()),
			Message:   kind,
			Metadata:  map[string]interface{}{"path": r.URL.Path, "method": r.Method},
		})
	}
	observability.FromContext(r.Context()).WithFields(map[string]interface{}{
		"tenant_id": tenantID,
		"subject":   claims.Subject,
		"kind":      kind,
	}).Warn("access denied")
	httputil.WriteDomainError(w, apierrors.Forbidden("you do not have access to this tenant"))
}
