package groups

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/bcgov/tenant-management-system-sub000/pkg/audit"
	"github.com/bcgov/tenant-management-system-sub000/pkg/auth"
	"github.com/bcgov/tenant-management-system-sub000/pkg/contextkeys"
	"github.com/bcgov/tenant-management-system-sub000/pkg/httputil"
	"github.com/bcgov/tenant-management-system-sub000/pkg/middleware"
)

// Handlers exposes groups over HTTP
type Handlers struct {
	store   *Store
	system  auth.SystemIdentity
	auditor audit.Logger
}

// NewHandlers creates group HTTP handlers
func NewHandlers(store *Store, system auth.SystemIdentity, auditor audit.Logger) *Handlers {
	return &Handlers{store: store, system: system, auditor: auditor}
}

// RegisterRoutes registers the group routes on the router
func (h *Handlers) RegisterRoutes(r *mux.Router, chain *middleware.Chain) {
	r.Handle("/tenants/{tenantId}/groups",
		chain.TenantScoped(auth.RoleTenantOwner, auth.RoleUserAdmin)(http.HandlerFunc(h.CreateGroup))).Methods("POST")
	r.Handle("/tenants/{tenantId}/groups",
		chain.TenantScopedSharedService()(http.HandlerFunc(h.ListGroups))).Methods("GET")
	r.Handle("/tenants/{tenantId}/groups/{groupId}",
		chain.TenantScoped()(http.HandlerFunc(h.GetGroup))).Methods("GET")
	r.Handle("/tenants/{tenantId}/groups/{groupId}",
		chain.TenantScoped(auth.RoleTenantOwner, auth.RoleUserAdmin)(http.HandlerFunc(h.UpdateGroup))).Methods("PUT")
	r.Handle("/tenants/{tenantId}/groups/{groupId}/users",
		chain.TenantScoped(auth.RoleTenantOwner, auth.RoleUserAdmin)(http.HandlerFunc(h.AddUser))).Methods("POST")
	r.Handle("/tenants/{tenantId}/groups/{groupId}/users/{groupUserId}",
		chain.TenantScoped(auth.RoleTenantOwner, auth.RoleUserAdmin)(http.HandlerFunc(h.RemoveUser))).Methods("DELETE")
}

// CreateGroup handles POST /tenants/{tenantId}/groups
func (h *Handlers) CreateGroup(w http.ResponseWriter, r *http.Request) {
	tenantID := mux.Vars(r)["tenantId"]

	var input CreateGroupInput
	if !httputil.ParseJSONOrError(w, r, &input) {
		return
	}
	if input.Name == "" {
		httputil.WriteValidationError(w, "invalid group payload", httputil.ValidationDetails{
			Body: []string{"name is required"},
		})
		return
	}

	claims := auth.ClaimsFromContext(r.Context())
	input.Actor = claims.Subject

	group, err := h.store.CreateGroup(r.Context(), tenantID, input)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}

	h.auditor.Record(audit.Event{
		Type:         audit.EventGroupCreated,
		Actor:        claims.Subject,
		TenantID:     tenantID,
		ResourceType: "group",
		ResourceID:   group.ID,
		RequestID:    contextkeys.GetRequestID(r.Context()),
		Message:      group.Name,
	})
	httputil.WriteData(w, http.StatusCreated, "group", group)
}

// ListGroups handles GET /tenants/{tenantId}/groups. First-party
// callers see the groups they belong to; shared service callers see
// every group in the tenant.
func (h *Handlers) ListGroups(w http.ResponseWriter, r *http.Request) {
	tenantID := mux.Vars(r)["tenantId"]
	claims := auth.ClaimsFromContext(r.Context())

	var groups []Group
	var err error
	if h.system.IsSystemAudience(claims) {
		groups, err = h.store.GetGroupsForMember(r.Context(), tenantID, claims.Subject)
	} else {
		groups, err = h.store.ListGroups(r.Context(), tenantID)
	}
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteData(w, http.StatusOK, "groups", groups)
}

// GetGroup handles GET /tenants/{tenantId}/groups/{groupId}
func (h *Handlers) GetGroup(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	var group *Group
	var err error
	if r.URL.Query().Get("expand") == "groupUsers" {
		group, err = h.store.GetGroupWithMembers(r.Context(), vars["tenantId"], vars["groupId"])
	} else {
		group, err = h.store.GetGroup(r.Context(), vars["tenantId"], vars["groupId"])
	}
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteData(w, http.StatusOK, "group", group)
}

// UpdateGroup handles PUT /tenants/{tenantId}/groups/{groupId}
func (h *Handlers) UpdateGroup(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	var input UpdateGroupInput
	if !httputil.ParseJSONOrError(w, r, &input) {
		return
	}
	if input.Name != nil && *input.Name == "" {
		httputil.WriteValidationError(w, "invalid group payload", httputil.ValidationDetails{
			Body: []string{"name must not be empty"},
		})
		return
	}

	claims := auth.ClaimsFromContext(r.Context())
	input.Actor = claims.Subject

	group, err := h.store.UpdateGroup(r.Context(), vars["tenantId"], vars["groupId"], input)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}

	h.auditor.Record(audit.Event{
		Type:         audit.EventGroupUpdated,
		Actor:        claims.Subject,
		TenantID:     vars["tenantId"],
		ResourceType: "group",
		ResourceID:   group.ID,
		RequestID:    contextkeys.GetRequestID(r.Context()),
	})
	httputil.WriteData(w, http.StatusOK, "group", group)
}

// AddUser handles POST /tenants/{tenantId}/groups/{groupId}/users
func (h *Handlers) AddUser(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	var input AddGroupUserInput
	if !httputil.ParseJSONOrError(w, r, &input) {
		return
	}

	var problems []string
	if input.User.SsoUserID == "" {
		problems = append(problems, "user.ssoUserId is required")
	}
	if input.User.Email == "" {
		problems = append(problems, "user.email is required")
	}
	if len(problems) > 0 {
		httputil.WriteValidationError(w, "invalid group user payload", httputil.ValidationDetails{Body: problems})
		return
	}

	claims := auth.ClaimsFromContext(r.Context())
	input.Actor = claims.Subject

	member, err := h.store.AddGroupUser(r.Context(), vars["tenantId"], vars["groupId"], input)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}

	h.auditor.Record(audit.Event{
		Type:         audit.EventGroupUserAdded,
		Actor:        claims.Subject,
		TenantID:     vars["tenantId"],
		ResourceType: "groupUser",
		ResourceID:   member.ID,
		RequestID:    contextkeys.GetRequestID(r.Context()),
		Message:      input.User.SsoUserID,
	})
	httputil.WriteData(w, http.StatusCreated, "groupUser", member)
}

// RemoveUser handles DELETE /tenants/{tenantId}/groups/{groupId}/users/{groupUserId}
func (h *Handlers) RemoveUser(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	claims := auth.ClaimsFromContext(r.Context())

	err := h.store.RemoveGroupUser(r.Context(), vars["tenantId"], vars["groupId"], vars["groupUserId"], claims.Subject)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}

	h.auditor.Record(audit.Event{
		Type:         audit.EventGroupUserRemoved,
		Actor:        claims.Subject,
		TenantID:     vars["tenantId"],
		ResourceType: "groupUser",
		ResourceID:   vars["groupUserId"],
		RequestID:    contextkeys.GetRequestID(r.Context()),
	})
	httputil.WriteNoContent(w)
}
