// Package groups implements tenant-scoped groups and their soft-deleted
// memberships, including restore-on-re-add and onboarding through group
// addition.
package groups

import (
	"time"

	"github.com/bcgov/tenant-management-system-sub000/pkg/tenants"
)

// Group is a named collection of tenant members
type Group struct {
	ID          string      `json:"id"`
	TenantID    string      `json:"tenantId"`
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Users       []GroupUser `json:"users,omitempty"`
	CreatedBy   string      `json:"createdBy,omitempty"`
	CreatedAt   time.Time   `json:"createdDateTime"`
	UpdatedAt   time.Time   `json:"updatedDateTime"`
}

// GroupUser is one group membership row. The tenant membership join is
// flattened away; only the SSO identity is exposed.
type GroupUser struct {
	ID        string          `json:"id"`
	IsDeleted bool            `json:"isDeleted"`
	SsoUser   tenants.SsoUser `json:"ssoUser"`
	CreatedAt time.Time       `json:"createdDateTime"`
	UpdatedAt time.Time       `json:"updatedDateTime"`
}

// CreateGroupInput is the payload for creating a group. TenantUserID
// optionally names an initial member.
type CreateGroupInput struct {
	Name         string  `json:"name"`
	Description  string  `json:"description"`
	TenantUserID *string `json:"tenantUserId"`
	Actor        string  `json:"-"`
}

// UpdateGroupInput is a partial update; nil fields are left unchanged
type UpdateGroupInput struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	Actor       string  `json:"-"`
}

// AddGroupUserInput is the payload for adding a user to a group
type AddGroupUserInput struct {
	User  tenants.UserInput `json:"user"`
	Actor string            `json:"-"`
}
