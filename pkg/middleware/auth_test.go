package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bcgov/tenant-management-system-sub000/pkg/apierrors"
	"github.com/bcgov/tenant-management-system-sub000/pkg/auth"
)

const systemAudience = "tenant-management-system"

func govClaims() *auth.Claims {
	return &auth.Claims{
		Subject:          "subject-1",
		Audience:         systemAudience,
		IdentityProvider: auth.ProviderIDIR,
		Email:            "user@gov.bc.ca",
	}
}

func claimsCapturingHandler(captured **auth.Claims) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*captured = auth.ClaimsFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthMiddlewareStandard(t *testing.T) {
	system := auth.SystemIdentity{Audience: systemAudience}

	t.Run("valid government token passes claims through", func(t *testing.T) {
		m := NewAuthMiddleware(&auth.StaticVerifier{Claims: govClaims()}, system, nil)

		var captured *auth.Claims
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/v1/tenants", nil)
		req.Header.Set("Authorization", "Bearer some-token")

		m.Standard(claimsCapturingHandler(&captured)).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		require.NotNil(t, captured)
		assert.Equal(t, "subject-1", captured.Subject)
	})

	t.Run("missing authorization header", func(t *testing.T) {
		m := NewAuthMiddleware(&auth.StaticVerifier{Claims: govClaims()}, system, nil)

		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/v1/tenants", nil)

		m.Standard(claimsCapturingHandler(new(*auth.Claims))).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Contains(t, rec.Body.String(), "missing authorization header")
	})

	t.Run("malformed authorization header", func(t *testing.T) {
		m := NewAuthMiddleware(&auth.StaticVerifier{Claims: govClaims()}, system, nil)

		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/v1/tenants", nil)
		req.Header.Set("Authorization", "some-token")

		m.Standard(claimsCapturingHandler(new(*auth.Claims))).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Contains(t, rec.Body.String(), "invalid authorization header format")
	})

	t.Run("verifier rejection surfaces as 401", func(t *testing.T) {
		m := NewAuthMiddleware(&auth.StaticVerifier{Err: apierrors.Unauthorized("invalid or expired token")}, system, nil)

		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/v1/tenants", nil)
		req.Header.Set("Authorization", "Bearer expired")

		m.Standard(claimsCapturingHandler(new(*auth.Claims))).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Contains(t, rec.Body.String(), "invalid or expired token")
	})

	t.Run("shared service audience rejected on standard routes", func(t *testing.T) {
		claims := govClaims()
		claims.Audience = "forms-service"
		m := NewAuthMiddleware(&auth.StaticVerifier{Claims: claims}, system, nil)

		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/v1/tenants", nil)
		req.Header.Set("Authorization", "Bearer some-token")

		m.Standard(claimsCapturingHandler(new(*auth.Claims))).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Contains(t, rec.Body.String(), "token was not issued for this service")
	})

	t.Run("unrecognized identity provider rejected", func(t *testing.T) {
		claims := govClaims()
		claims.IdentityProvider = "bceid"
		m := NewAuthMiddleware(&auth.StaticVerifier{Claims: claims}, system, nil)

		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/v1/tenants", nil)
		req.Header.Set("Authorization", "Bearer some-token")

		m.Standard(claimsCapturingHandler(new(*auth.Claims))).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Contains(t, rec.Body.String(), "unrecognized identity provider")
	})
}

func TestAuthMiddlewareSharedServiceCallable(t *testing.T) {
	system := auth.SystemIdentity{Audience: systemAudience}

	t.Run("shared service audience passes without provider check", func(t *testing.T) {
		claims := &auth.Claims{Subject: "service-account", Audience: "forms-service"}
		m := NewAuthMiddleware(&auth.StaticVerifier{Claims: claims}, system, nil)

		var captured *auth.Claims
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/v1/tenants/t1/users", nil)
		req.Header.Set("Authorization", "Bearer service-token")

		m.SharedServiceCallable(claimsCapturingHandler(&captured)).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		require.NotNil(t, captured)
		assert.Equal(t, "forms-service", captured.Audience)
	})

	t.Run("system audience still requires a government provider", func(t *testing.T) {
		claims := govClaims()
		claims.IdentityProvider = "github"
		m := NewAuthMiddleware(&auth.StaticVerifier{Claims: claims}, system, nil)

		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/v1/tenants/t1/users", nil)
		req.Header.Set("Authorization", "Bearer some-token")

		m.SharedServiceCallable(claimsCapturingHandler(new(*auth.Claims))).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Contains(t, rec.Body.String(), "unrecognized identity provider")
	})

	t.Run("government user on system audience passes", func(t *testing.T) {
		m := NewAuthMiddleware(&auth.StaticVerifier{Claims: govClaims()}, system, nil)

		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/v1/tenants/t1/users", nil)
		req.Header.Set("Authorization", "Bearer some-token")

		m.SharedServiceCallable(claimsCapturingHandler(new(*auth.Claims))).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
	})
}
