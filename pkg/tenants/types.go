// Package tenants implements the tenant aggregate: tenants, SSO-backed
// user identities, memberships, and role assignments.
package tenants

import "time"

// SsoUser is an external identity record, created lazily the first time
// a subject is referenced and never deleted.
type SsoUser struct {
	ID          string    `json:"id"`
	SsoUserID   string    `json:"ssoUserId"`
	Email       string    `json:"email"`
	FirstName   string    `json:"firstName,omitempty"`
	LastName    string    `json:"lastName,omitempty"`
	DisplayName string    `json:"displayName,omitempty"`
	UserName    string    `json:"userName,omitempty"`
	CreatedAt   time.Time `json:"createdDateTime"`
	UpdatedAt   time.Time `json:"updatedDateTime"`
}

// Role is a named permission grant, global when TenantID is nil or
// scoped to one tenant otherwise.
type Role struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	DisplayName string    `json:"displayName"`
	Description string    `json:"description,omitempty"`
	TenantID    *string   `json:"tenantId,omitempty"`
	CreatedAt   time.Time `json:"createdDateTime"`
	UpdatedAt   time.Time `json:"updatedDateTime"`
}

// TenantUser is one membership binding an SsoUser to a tenant. Roles
// holds the active role assignments when the read model includes them.
type TenantUser struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenantId"`
	SsoUser   SsoUser   `json:"ssoUser"`
	Roles     []Role    `json:"roles,omitempty"`
	CreatedAt time.Time `json:"createdDateTime"`
	UpdatedAt time.Time `json:"updatedDateTime"`
}

// TenantUserRole is one role assignment row, returned from assignment
// operations with its resolved role.
type TenantUserRole struct {
	ID           string    `json:"id"`
	TenantUserID string    `json:"tenantUserId"`
	Role         Role      `json:"role"`
	IsDeleted    bool      `json:"isDeleted"`
	CreatedAt    time.Time `json:"createdDateTime"`
	UpdatedAt    time.Time `json:"updatedDateTime"`
}

// Tenant is the aggregate root. Users is populated only by the
// with-users read model. CreatedBy carries the creator's display name
// when resolvable, the raw identity string otherwise.
type Tenant struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	MinistryName string       `json:"ministryName"`
	Description  string       `json:"description,omitempty"`
	Users        []TenantUser `json:"users,omitempty"`
	CreatedBy    string       `json:"createdBy,omitempty"`
	CreatedAt    time.Time    `json:"createdDateTime"`
	UpdatedAt    time.Time    `json:"updatedDateTime"`
}

// UserInput identifies an external user in mutation payloads
type UserInput struct {
	SsoUserID   string `json:"ssoUserId"`
	Email       string `json:"email"`
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
	DisplayName string `json:"displayName"`
	UserName    string `json:"userName"`
}

// CreateTenantInput is the payload for creating a tenant. Actor is the
// caller's subject, set from verified claims, never from the body.
type CreateTenantInput struct {
	Name         string    `json:"name"`
	MinistryName string    `json:"ministryName"`
	Description  string    `json:"description"`
	User         UserInput `json:"user"`
	Actor        string    `json:"-"`
}

// AddTenantUserInput is the payload for adding a member to a tenant
type AddTenantUserInput struct {
	User    UserInput `json:"user"`
	RoleIDs []string  `json:"roles"`
	Actor   string    `json:"-"`
}

// UpdateTenantInput is a partial update; nil fields are left unchanged
type UpdateTenantInput struct {
	Name         *string `json:"name"`
	MinistryName *string `json:"ministryName"`
	Description  *string `json:"description"`
	Actor        string  `json:"-"`
}
