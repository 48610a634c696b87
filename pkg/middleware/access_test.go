package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"

	"github.com/bcgov/tenant-management-system-sub000/pkg/auth"
)

// stubAccessStore satisfies AccessStore with canned answers
type stubAccessStore struct {
	memberOK  bool
	memberErr error

	globalOK  bool
	globalErr error

	serviceActive bool
	serviceErr    error

	checkedTenantID string
	checkedRoles    []string
	checkedAudience string
}

func (s *stubAccessStore) CheckUserTenantAccess(ctx context.Context, tenantID, ssoSubject string, roleNames []string) (bool, error) {
	s.checkedTenantID = tenantID
	s.checkedRoles = roleNames
	return s.memberOK, s.memberErr
}

func (s *stubAccessStore) HasActiveGlobalRole(ctx context.Context, ssoSubject, roleName string) (bool, error) {
	return s.globalOK, s.globalErr
}

func (s *stubAccessStore) SharedServiceActiveForTenant(ctx context.Context, clientIdentifier, tenantID string) (bool, error) {
	s.checkedAudience = clientIdentifier
	return s.serviceActive, s.serviceErr
}

func accessRequest(claims *auth.Claims, tenantID string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/v1/tenants/"+tenantID+"/users", nil)
	if claims != nil {
		req = req.WithContext(auth.WithClaims(req.Context(), claims))
	}
	if tenantID != "" {
		req = mux.SetURLVars(req, map[string]string{"tenantId": tenantID})
	}
	return req
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRequireTenantAccess(t *testing.T) {
	system := auth.SystemIdentity{Audience: systemAudience}

	t.Run("member without role requirement passes", func(t *testing.T) {
		store := &stubAccessStore{memberOK: true}
		resolver := NewAccessResolver(store, system, nil, nil)

		rec := httptest.NewRecorder()
		resolver.RequireTenantAccess()(okHandler()).ServeHTTP(rec, accessRequest(govClaims(), "tenant-1"))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "tenant-1", store.checkedTenantID)
		assert.Empty(t, store.checkedRoles)
	})

	t.Run("role requirement reaches the store", func(t *testing.T) {
		store := &stubAccessStore{memberOK: true}
		resolver := NewAccessResolver(store, system, nil, nil)

		rec := httptest.NewRecorder()
		resolver.RequireTenantAccess(auth.RoleUserAdmin, auth.RoleTenantOwner)(okHandler()).
			ServeHTTP(rec, accessRequest(govClaims(), "tenant-1"))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, []string{auth.RoleUserAdmin, auth.RoleTenantOwner}, store.checkedRoles)
	})

	t.Run("non member is forbidden", func(t *testing.T) {
		store := &stubAccessStore{memberOK: false}
		resolver := NewAccessResolver(store, system, nil, nil)

		rec := httptest.NewRecorder()
		resolver.RequireTenantAccess()(okHandler()).ServeHTTP(rec, accessRequest(govClaims(), "tenant-1"))

		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Contains(t, rec.Body.String(), "you do not have access to this tenant")
	})

	t.Run("store errors fail closed", func(t *testing.T) {
		store := &stubAccessStore{memberErr: errors.New("connection refused")}
		resolver := NewAccessResolver(store, system, nil, nil)

		rec := httptest.NewRecorder()
		resolver.RequireTenantAccess()(okHandler()).ServeHTTP(rec, accessRequest(govClaims(), "tenant-1"))

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.NotContains(t, rec.Body.String(), "connection refused")
	})

	t.Run("unauthenticated request is rejected", func(t *testing.T) {
		resolver := NewAccessResolver(&stubAccessStore{memberOK: true}, system, nil, nil)

		rec := httptest.NewRecorder()
		resolver.RequireTenantAccess()(okHandler()).ServeHTTP(rec, accessRequest(nil, "tenant-1"))

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("missing tenant id is a bad request", func(t *testing.T) {
		resolver := NewAccessResolver(&stubAccessStore{memberOK: true}, system, nil, nil)

		rec := httptest.NewRecorder()
		resolver.RequireTenantAccess()(okHandler()).ServeHTTP(rec, accessRequest(govClaims(), ""))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("shared service caller needs an active association", func(t *testing.T) {
		claims := govClaims()
		claims.Audience = "forms-service"

		store := &stubAccessStore{serviceActive: false, memberOK: true}
		resolver := NewAccessResolver(store, system, nil, nil)

		rec := httptest.NewRecorder()
		resolver.RequireTenantAccess()(okHandler()).ServeHTTP(rec, accessRequest(claims, "tenant-1"))

		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Equal(t, "forms-service", store.checkedAudience)
	})

	t.Run("associated shared service caller still needs membership", func(t *testing.T) {
		claims := govClaims()
		claims.Audience = "forms-service"

		store := &stubAccessStore{serviceActive: true, memberOK: true}
		resolver := NewAccessResolver(store, system, nil, nil)

		rec := httptest.NewRecorder()
		resolver.RequireTenantAccess()(okHandler()).ServeHTTP(rec, accessRequest(claims, "tenant-1"))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "tenant-1", store.checkedTenantID)
	})

	t.Run("system audience skips the association gate", func(t *testing.T) {
		store := &stubAccessStore{memberOK: true}
		resolver := NewAccessResolver(store, system, nil, nil)

		rec := httptest.NewRecorder()
		resolver.RequireTenantAccess()(okHandler()).ServeHTTP(rec, accessRequest(govClaims(), "tenant-1"))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, store.checkedAudience)
	})
}

func TestRequireOperationsAdmin(t *testing.T) {
	system := auth.SystemIdentity{Audience: systemAudience}

	t.Run("operations admin passes", func(t *testing.T) {
		resolver := NewAccessResolver(&stubAccessStore{globalOK: true}, system, nil, nil)

		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/v1/tenant-requests", nil)
		req = req.WithContext(auth.WithClaims(req.Context(), govClaims()))
		resolver.RequireOperationsAdmin(okHandler()).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("everyone else is forbidden", func(t *testing.T) {
		resolver := NewAccessResolver(&stubAccessStore{globalOK: false}, system, nil, nil)

		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/v1/tenant-requests", nil)
		req = req.WithContext(auth.WithClaims(req.Context(), govClaims()))
		resolver.RequireOperationsAdmin(okHandler()).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("store errors fail closed", func(t *testing.T) {
		resolver := NewAccessResolver(&stubAccessStore{globalErr: errors.New("timeout")}, system, nil, nil)

		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/v1/tenant-requests", nil)
		req = req.WithContext(auth.WithClaims(req.Context(), govClaims()))
		resolver.RequireOperationsAdmin(okHandler()).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})

	t.Run("unauthenticated request is rejected", func(t *testing.T) {
		resolver := NewAccessResolver(&stubAccessStore{globalOK: true}, system, nil, nil)

		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/v1/tenant-requests", nil)
		resolver.RequireOperationsAdmin(okHandler()).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}
