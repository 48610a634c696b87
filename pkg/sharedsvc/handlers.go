package sharedsvc

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/bcgov/tenant-management-system-sub000/pkg/audit"
	"github.com/bcgov/tenant-management-system-sub000/pkg/auth"
	"github.com/bcgov/tenant-management-system-sub000/pkg/contextkeys"
	"github.com/bcgov/tenant-management-system-sub000/pkg/httputil"
	"github.com/bcgov/tenant-management-system-sub000/pkg/middleware"
)

// Handlers exposes the shared service registry and grant model over HTTP
type Handlers struct {
	store   *Store
	auditor audit.Logger
}

// NewHandlers creates shared service HTTP handlers
func NewHandlers(store *Store, auditor audit.Logger) *Handlers {
	return &Handlers{store: store, auditor: auditor}
}

// RegisterRoutes registers the shared service routes on the router
func (h *Handlers) RegisterRoutes(r *mux.Router, chain *middleware.Chain) {
	r.Handle("/shared-services", chain.OperationsAdmin(http.HandlerFunc(h.CreateSharedService))).Methods("POST")
	r.Handle("/shared-services/{serviceId}/roles", chain.OperationsAdmin(http.HandlerFunc(h.AddRole))).Methods("POST")

	r.Handle("/tenants/{tenantId}/shared-services",
		chain.OperationsAdmin(http.HandlerFunc(h.AssociateTenant))).Methods("POST")
	r.Handle("/tenants/{tenantId}/shared-services",
		chain.TenantScoped()(http.HandlerFunc(h.ListTenantSharedServices))).Methods("GET")

	r.Handle("/tenants/{tenantId}/groups/{groupId}/shared-services/shared-service-roles",
		chain.TenantScoped()(http.HandlerFunc(h.GetGroupGrants))).Methods("GET")
	r.Handle("/tenants/{tenantId}/groups/{groupId}/shared-services/shared-service-roles",
		chain.TenantScoped(auth.RoleTenantOwner, auth.RoleUserAdmin)(http.HandlerFunc(h.UpdateGroupGrants))).Methods("PUT")

	r.Handle("/tenants/{tenantId}/users/{ssoUserId}/groups/shared-service-roles",
		chain.TenantScopedSharedService()(http.HandlerFunc(h.GetUserGroupRoles))).Methods("GET")
	r.Handle("/tenants/{tenantId}/ssousers/{ssoUserId}/shared-service-roles",
		chain.TenantScopedSharedService()(http.HandlerFunc(h.GetEffectiveRoles))).Methods("GET")
}

// CreateSharedService handles POST /shared-services
func (h *Handlers) CreateSharedService(w http.ResponseWriter, r *http.Request) {
	var input CreateSharedServiceInput
	if !httputil.ParseJSONOrError(w, r, &input) {
		return
	}

	var problems []string
	if input.Name == "" {
		problems = append(problems, "name is required")
	}
	if input.ClientIdentifier == "" {
		problems = append(problems, "clientIdentifier is required")
	}
	for _, role := range input.Roles {
		if role.Name == "" {
			problems = append(problems, "sharedServiceRoles[].name is required")
			break
		}
	}
	if len(problems) > 0 {
		httputil.WriteValidationError(w, "invalid shared service payload", httputil.ValidationDetails{Body: problems})
		return
	}

	claims := auth.ClaimsFromContext(r.Context())
	input.Actor = claims.Subject

	service, err := h.store.CreateSharedService(r.Context(), input)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}

	h.auditor.Record(audit.Event{
		Type:         audit.EventSharedServiceCreated,
		Actor:        claims.Subject,
		ResourceType: "sharedService",
		ResourceID:   service.ID,
		RequestID:    contextkeys.GetRequestID(r.Context()),
		Message:      service.Name,
	})
	httputil.WriteData(w, http.StatusCreated, "sharedService", service)
}

// AddRole handles POST /shared-services/{serviceId}/roles
func (h *Handlers) AddRole(w http.ResponseWriter, r *http.Request) {
	serviceID := mux.Vars(r)["serviceId"]

	var input RoleInput
	if !httputil.ParseJSONOrError(w, r, &input) {
		return
	}
	if input.Name == "" {
		httputil.WriteValidationError(w, "invalid role payload", httputil.ValidationDetails{
			Body: []string{"name is required"},
		})
		return
	}

	claims := auth.ClaimsFromContext(r.Context())
	role, err := h.store.AddSharedServiceRole(r.Context(), serviceID, input, claims.Subject)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}

	h.auditor.Record(audit.Event{
		Type:         audit.EventSharedServiceRoleAdded,
		Actor:        claims.Subject,
		ResourceType: "sharedServiceRole",
		ResourceID:   role.ID,
		RequestID:    contextkeys.GetRequestID(r.Context()),
		Message:      role.Name,
	})
	httputil.WriteData(w, http.StatusCreated, "sharedServiceRole", role)
}

type associateInput struct {
	SharedServiceID string `json:"sharedServiceId"`
}

// AssociateTenant handles POST /tenants/{tenantId}/shared-services
func (h *Handlers) AssociateTenant(w http.ResponseWriter, r *http.Request) {
	tenantID := mux.Vars(r)["tenantId"]

	var input associateInput
	if !httputil.ParseJSONOrError(w, r, &input) {
		return
	}
	if input.SharedServiceID == "" {
		httputil.WriteValidationError(w, "invalid association payload", httputil.ValidationDetails{
			Body: []string{"sharedServiceId is required"},
		})
		return
	}

	claims := auth.ClaimsFromContext(r.Context())
	if err := h.store.AssociateTenant(r.Context(), tenantID, input.SharedServiceID, claims.Subject); err != nil {
		httputil.WriteDomainError(w, err)
		return
	}

	h.auditor.Record(audit.Event{
		Type:         audit.EventSharedServiceAssociated,
		Actor:        claims.Subject,
		TenantID:     tenantID,
		ResourceType: "sharedService",
		ResourceID:   input.SharedServiceID,
		RequestID:    contextkeys.GetRequestID(r.Context()),
	})
	httputil.WriteNoContent(w)
}

// ListTenantSharedServices handles GET /tenants/{tenantId}/shared-services
func (h *Handlers) ListTenantSharedServices(w http.ResponseWriter, r *http.Request) {
	services, err := h.store.GetTenantSharedServices(r.Context(), mux.Vars(r)["tenantId"])
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteData(w, http.StatusOK, "sharedServices", services)
}

// GetGroupGrants handles GET .../groups/{groupId}/shared-services/shared-service-roles
func (h *Handlers) GetGroupGrants(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	view, err := h.store.GetSharedServiceRolesForGroup(r.Context(), vars["tenantId"], vars["groupId"])
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteData(w, http.StatusOK, "sharedServices", view)
}

// UpdateGroupGrants handles PUT .../groups/{groupId}/shared-services/shared-service-roles
func (h *Handlers) UpdateGroupGrants(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	var input UpdateGrantsInput
	if !httputil.ParseJSONOrError(w, r, &input) {
		return
	}
	if len(input.SharedServices) == 0 {
		httputil.WriteValidationError(w, "invalid grant payload", httputil.ValidationDetails{
			Body: []string{"sharedServices must contain at least one entry"},
		})
		return
	}

	claims := auth.ClaimsFromContext(r.Context())
	input.Actor = claims.Subject

	view, err := h.store.UpdateSharedServiceRolesForGroup(r.Context(), vars["tenantId"], vars["groupId"], input)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}

	h.auditor.Record(audit.Event{
		Type:         audit.EventGroupServiceRolesSet,
		Actor:        claims.Subject,
		TenantID:     vars["tenantId"],
		ResourceType: "group",
		ResourceID:   vars["groupId"],
		RequestID:    contextkeys.GetRequestID(r.Context()),
	})
	httputil.WriteData(w, http.StatusOK, "sharedServices", view)
}

// GetUserGroupRoles handles GET .../users/{ssoUserId}/groups/shared-service-roles
func (h *Handlers) GetUserGroupRoles(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	claims := auth.ClaimsFromContext(r.Context())

	groups, err := h.store.GetUserGroupsWithSharedServiceRoles(r.Context(), vars["tenantId"], vars["ssoUserId"], claims.Audience)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteData(w, http.StatusOK, "groups", groups)
}

// GetEffectiveRoles handles GET .../ssousers/{ssoUserId}/shared-service-roles
func (h *Handlers) GetEffectiveRoles(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	claims := auth.ClaimsFromContext(r.Context())

	roles, err := h.store.GetEffectiveSharedServiceRoles(r.Context(), vars["tenantId"], vars["ssoUserId"], claims.Audience)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteData(w, http.StatusOK, "sharedServiceRoles", roles)
}
