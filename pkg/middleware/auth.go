// Package middleware provides the HTTP middleware chain: bearer token
// authentication, tenant access enforcement, and rate limiting.
package middleware

import (
	"net/http"
	"strings"

	"github.com/bcgov/tenant-management-system-sub000/pkg/apierrors"
	"github.com/bcgov/tenant-management-system-sub000/pkg/auth"
	"github.com/bcgov/tenant-management-system-sub000/pkg/httputil"
	"github.com/bcgov/tenant-management-system-sub000/pkg/observability"
)

// AuthMiddleware authenticates requests with bearer JWTs
type AuthMiddleware struct {
	verifier auth.TokenVerifier
	system   auth.SystemIdentity
	metrics  *observability.Metrics
}

// NewAuthMiddleware creates the authentication middleware
func NewAuthMiddleware(verifier auth.TokenVerifier, system auth.SystemIdentity, metrics *observability.Metrics) *AuthMiddleware {
	return &AuthMiddleware{
		verifier: verifier,
		system:   system,
		metrics:  metrics,
	}
}

// Standard authenticates government users of this service: the token
// must carry the service's own audience and come from a recognized
// identity provider.
func (m *AuthMiddleware) Standard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := m.authenticate(w, r)
		if !ok {
			return
		}

		if !m.system.IsSystemAudience(claims) {
			m.reject(w, r, apierrors.Unauthorized("token was not issued for this service"))
			return
		}
		if !claims.IsGovernmentUser() {
			m.reject(w, r, apierrors.Unauthorized("unrecognized identity provider"))
			return
		}

		next.ServeHTTP(w, r.WithContext(auth.WithClaims(r.Context(), claims)))
	})
}

// SharedServiceCallable authenticates routes that both government users
// and shared service clients may call. Shared service tokens carry their
// own audience; government users are still provider-gated.
func (m *AuthMiddleware) SharedServiceCallable(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := m.authenticate(w, r)
		if !ok {
			return
		}

		if m.system.IsSystemAudience(claims) && !claims.IsGovernmentUser() {
			m.reject(w, r, apierrors.Unauthorized("unrecognized identity provider"))
			return
		}

		next.ServeHTTP(w, r.WithContext(auth.WithClaims(r.Context(), claims)))
	})
}

func (m *AuthMiddleware) authenticate(w http.ResponseWriter, r *http.Request) (*auth.Claims, bool) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		m.reject(w, r, apierrors.Unauthorized("missing authorization header"))
		return nil, false
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		m.reject(w, r, apierrors.Unauthorized("invalid authorization header format"))
		return nil, false
	}

	claims, err := m.verifier.Verify(r.Context(), parts[1])
	if err != nil {
		m.reject(w, r, err)
		return nil, false
	}
	return claims, true
}

func (m *AuthMiddleware) reject(w http.ResponseWriter, r *http.Request, err error) {
	if m.metrics != nil {
		m.metrics.AuthFailuresTotal.WithLabelValues(rejectReason(err)).Inc()
	}
	observability.FromContext(r.Context()).WithError(err).WithField("path", r.URL.Path).Warn("authentication failed")
	httputil.WriteDomainError(w, err)
}

func rejectReason(err error) string {
	apiErr := apierrors.From(err)
	switch apiErr.Message {
	case "missing authorization header":
		return "missing_header"
	case "invalid authorization header format":
		return "bad_header"
	case "token was not issued for this service":
		return "wrong_audience"
	case "unrecognized identity provider":
		return "bad_provider"
	default:
		return "invalid_token"
	}
}
