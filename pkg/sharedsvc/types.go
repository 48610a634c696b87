// Package sharedsvc implements the shared service registry and the
// group-mediated, audience-scoped role grant model.
package sharedsvc

import "time"

// SharedService is a registered downstream system that tenants can be
// granted access to. ClientIdentifier is the OIDC client id the service
// authenticates with; grants are only visible to that audience.
type SharedService struct {
	ID               string              `json:"id"`
	Name             string              `json:"name"`
	ClientIdentifier string              `json:"clientIdentifier"`
	Description      string              `json:"description,omitempty"`
	IsActive         bool                `json:"isActive"`
	Roles            []SharedServiceRole `json:"sharedServiceRoles,omitempty"`
	CreatedAt        time.Time           `json:"createdDateTime"`
	UpdatedAt        time.Time           `json:"updatedDateTime"`
}

// SharedServiceRole is one role exposed by a shared service
type SharedServiceRole struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	IsDeleted   bool      `json:"isDeleted"`
	CreatedAt   time.Time `json:"createdDateTime"`
	UpdatedAt   time.Time `json:"updatedDateTime"`
}

// RoleGrantView is one role annotated with whether an active grant
// exists for the group under view.
type RoleGrantView struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Enabled     bool   `json:"enabled"`
}

// ServiceGrantView is the per-service slice of a group's grant view
type ServiceGrantView struct {
	ID                 string          `json:"id"`
	Name               string          `json:"name"`
	SharedServiceRoles []RoleGrantView `json:"sharedServiceRoles"`
}

// GroupRoles names the roles a user holds through one group for one
// audience.
type GroupRoles struct {
	GroupID   string   `json:"groupId"`
	GroupName string   `json:"groupName"`
	Roles     []string `json:"roles"`
}

// GroupRef identifies a group in effective-role provenance
type GroupRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// EffectiveRole is one deduplicated role with every group granting it
type EffectiveRole struct {
	ID     string     `json:"id"`
	Name   string     `json:"name"`
	Groups []GroupRef `json:"groups"`
}

// CreateSharedServiceInput registers a new shared service
type CreateSharedServiceInput struct {
	Name             string      `json:"name"`
	ClientIdentifier string      `json:"clientIdentifier"`
	Description      string      `json:"description"`
	Roles            []RoleInput `json:"sharedServiceRoles"`
	Actor            string      `json:"-"`
}

// RoleInput describes one role to expose on a shared service
type RoleInput struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// UpdateGrantsInput is the payload for toggling a group's grants
type UpdateGrantsInput struct {
	SharedServices []ServiceGrantUpdate `json:"sharedServices"`
	Actor          string               `json:"-"`
}

// ServiceGrantUpdate toggles roles for one shared service
type ServiceGrantUpdate struct {
	ID                 string            `json:"id"`
	SharedServiceRoles []RoleGrantToggle `json:"sharedServiceRoles"`
}

// RoleGrantToggle sets one role's enabled state
type RoleGrantToggle struct {
	ID      string `json:"id"`
	Enabled bool   `json:"enabled"`
}
