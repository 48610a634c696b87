// Package audit records security-relevant domain events. Events are
// written best-effort; audit failures never fail the request.
package audit

import "time"

// EventType identifies the kind of domain event
type EventType string

const (
	EventTenantCreated  EventType = "tenant.created"
	EventTenantUpdated  EventType = "tenant.updated"
	EventUserAdded      EventType = "tenant.user_added"
	EventRolesAssigned  EventType = "tenant.roles_assigned"
	EventRoleUnassigned EventType = "tenant.role_unassigned"

	EventGroupCreated     EventType = "group.created"
	EventGroupUpdated     EventType = "group.updated"
	EventGroupUserAdded   EventType = "group.user_added"
	EventGroupUserRemoved EventType = "group.user_removed"

	EventSharedServiceCreated    EventType = "shared_service.created"
	EventSharedServiceRoleAdded  EventType = "shared_service.role_added"
	EventSharedServiceAssociated EventType = "shared_service.associated"
	EventGroupServiceRolesSet    EventType = "group.shared_service_roles_set"

	EventTenantRequestCreated EventType = "tenant_request.created"
	EventTenantRequestDecided EventType = "tenant_request.decided"

	EventAccessDenied EventType = "access.denied"
)

// Event is one audit record
type Event struct {
	Timestamp    time.Time              `json:"timestamp"`
	Type         EventType              `json:"event_type"`
	Actor        string                 `json:"actor,omitempty"`
	TenantID     string                 `json:"tenant_id,omitempty"`
	ResourceType string                 `json:"resource_type,omitempty"`
	ResourceID   string                 `json:"resource_id,omitempty"`
	RequestID    string                 `json:"request_id,omitempty"`
	Message      string                 `json:"message,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// Logger records audit events
type Logger interface {
	Record(event Event)
}
