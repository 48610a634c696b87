// Package auth holds the identity model: verified token claims, the
// recognized identity providers, and the built-in role names.
package auth

import (
	"context"

	"github.com/bcgov/tenant-management-system-sub000/pkg/contextkeys"
)

// Recognized identity providers. Tokens from any other provider are
// rejected before reaching a handler.
const (
	ProviderIDIR      = "idir"
	ProviderAzureIDIR = "azureidir"
)

// Built-in role names. The first three are seeded per deployment and
// assigned within tenants; the operations admin role is global.
const (
	RoleServiceUser     = "TMS.SERVICE_USER"
	RoleTenantOwner     = "TMS.TENANT_OWNER"
	RoleUserAdmin       = "TMS.USER_ADMIN"
	RoleOperationsAdmin = "TMS.OPERATIONS_ADMIN"
)

// Display names for the built-in roles
const (
	RoleServiceUserDisplay     = "Service User"
	RoleTenantOwnerDisplay     = "Tenant Owner"
	RoleUserAdminDisplay       = "User Admin"
	RoleOperationsAdminDisplay = "Operations Admin"
)

// Claims is the verified identity of the caller, extracted from the
// bearer token after signature and audience checks.
type Claims struct {
	Subject          string `json:"sub"`
	Audience         string `json:"aud"`
	IdentityProvider string `json:"identity_provider"`
	Email            string `json:"email"`
	FirstName        string `json:"given_name"`
	LastName         string `json:"family_name"`
	DisplayName      string `json:"display_name"`
	UserName         string `json:"preferred_username"`
}

// IsGovernmentUser reports whether the caller authenticated through one
// of the recognized government employee providers.
func (c *Claims) IsGovernmentUser() bool {
	return c.IdentityProvider == ProviderIDIR || c.IdentityProvider == ProviderAzureIDIR
}

// SystemIdentity describes this service's own OIDC client. Tokens whose
// audience differs are treated as shared service callers.
type SystemIdentity struct {
	Audience string
}

// IsSystemAudience reports whether the claims were issued for this
// service rather than for a shared service client.
func (s SystemIdentity) IsSystemAudience(c *Claims) bool {
	return c.Audience == s.Audience
}

// ClaimsFromContext returns the verified claims the auth middleware
// stored on the request context, or nil when the request was not
// authenticated.
func ClaimsFromContext(ctx context.Context) *Claims {
	v := ctx.Value(contextkeys.ClaimsKey)
	if v == nil {
		return nil
	}
	claims, ok := v.(*Claims)
	if !ok {
		return nil
	}
	return claims
}

// WithClaims stores verified claims on the context.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return contextkeys.WithClaims(ctx, claims)
}
