package auth

import (
	"context"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"

	"github.com/bcgov/tenant-management-system-sub000/pkg/apierrors"
)

// TokenVerifier validates bearer tokens and produces Claims.
type TokenVerifier interface {
	Verify(ctx context.Context, rawToken string) (*Claims, error)
}

// OIDCVerifier verifies JWTs against the identity provider's JWKS,
// discovered from the issuer URL.
type OIDCVerifier struct {
	verifier *oidc.IDTokenVerifier
	system   SystemIdentity
}

// VerifierConfig holds OIDC discovery settings
type VerifierConfig struct {
	IssuerURL string
	// Audience of this service's own client. Tokens for other audiences
	// are accepted but treated as shared service callers.
	Audience string
}

// NewOIDCVerifier discovers the issuer and builds a JWKS-backed verifier.
// Audience is checked per route tier rather than at signature time, so
// the oidc client-id check is skipped here.
func NewOIDCVerifier(ctx context.Context, cfg VerifierConfig) (*OIDCVerifier, error) {
	if cfg.IssuerURL == "" {
		return nil, fmt.Errorf("issuer URL is required")
	}

	provider, err := oidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to discover OIDC provider: %w", err)
	}

	verifier := provider.Verifier(&oidc.Config{
		SkipClientIDCheck: true,
	})

	return &OIDCVerifier{
		verifier: verifier,
		system:   SystemIdentity{Audience: cfg.Audience},
	}, nil
}

// SystemIdentity returns the service's own identity for audience checks.
func (v *OIDCVerifier) SystemIdentity() SystemIdentity {
	return v.system
}

// Verify checks the token signature and expiry and extracts claims.
// Failures surface as Unauthorized with a stable message; the verifier
// detail goes to the caller for logging only.
func (v *OIDCVerifier) Verify(ctx context.Context, rawToken string) (*Claims, error) {
	idToken, err := v.verifier.Verify(ctx, rawToken)
	if err != nil {
		return nil, apierrors.Unauthorized("invalid or expired token")
	}

	var claims Claims
	if err := idToken.Claims(&claims); err != nil {
		return nil, apierrors.Unauthorized("malformed token claims")
	}

	if claims.Audience == "" && len(idToken.Audience) > 0 {
		claims.Audience = idToken.Audience[0]
	}
	if claims.Subject == "" {
		claims.Subject = idToken.Subject
	}
	if claims.Subject == "" {
		return nil, apierrors.Unauthorized("token is missing a subject")
	}

	return &claims, nil
}

// StaticVerifier returns fixed claims for every token. Tests use it to
// exercise the middleware chain without an identity provider.
type StaticVerifier struct {
	Claims *Claims
	Err    error
}

func (s *StaticVerifier) Verify(ctx context.Context, rawToken string) (*Claims, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	return s.Claims, nil
}
