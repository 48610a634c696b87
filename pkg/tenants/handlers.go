package tenants

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/bcgov/tenant-management-system-sub000/pkg/apierrors"
	"github.com/bcgov/tenant-management-system-sub000/pkg/audit"
	"github.com/bcgov/tenant-management-system-sub000/pkg/auth"
	"github.com/bcgov/tenant-management-system-sub000/pkg/contextkeys"
	"github.com/bcgov/tenant-management-system-sub000/pkg/httputil"
	"github.com/bcgov/tenant-management-system-sub000/pkg/middleware"
)

// Handlers exposes the tenant aggregate over HTTP
type Handlers struct {
	store   *Store
	auditor audit.Logger
}

// NewHandlers creates tenant HTTP handlers
func NewHandlers(store *Store, auditor audit.Logger) *Handlers {
	return &Handlers{store: store, auditor: auditor}
}

// RegisterRoutes registers the tenant routes on the router
func (h *Handlers) RegisterRoutes(r *mux.Router, chain *middleware.Chain) {
	r.Handle("/tenants", chain.Standard(http.HandlerFunc(h.CreateTenant))).Methods("POST")
	r.Handle("/tenants/{tenantId}", chain.TenantScoped()(http.HandlerFunc(h.GetTenant))).Methods("GET")
	r.Handle("/tenants/{tenantId}", chain.TenantScoped(auth.RoleTenantOwner)(http.HandlerFunc(h.UpdateTenant))).Methods("PUT")

	r.Handle("/tenants/{tenantId}/users", chain.TenantScoped()(http.HandlerFunc(h.ListUsers))).Methods("GET")
	r.Handle("/tenants/{tenantId}/users",
		chain.TenantScoped(auth.RoleTenantOwner, auth.RoleUserAdmin)(http.HandlerFunc(h.AddUser))).Methods("POST")
	r.Handle("/tenants/{tenantId}/users/{tenantUserId}/roles",
		chain.TenantScoped(auth.RoleTenantOwner, auth.RoleUserAdmin)(http.HandlerFunc(h.AssignRoles))).Methods("POST")
	r.Handle("/tenants/{tenantId}/users/{tenantUserId}/roles/{roleId}",
		chain.TenantScoped(auth.RoleTenantOwner, auth.RoleUserAdmin)(http.HandlerFunc(h.UnassignRole))).Methods("DELETE")

	r.Handle("/users/{ssoUserId}/tenants", chain.Standard(http.HandlerFunc(h.ListUserTenants))).Methods("GET")
	r.Handle("/roles", chain.Standard(http.HandlerFunc(h.ListRoles))).Methods("GET")
	r.Handle("/tenants/{tenantId}/roles", chain.TenantScoped()(http.HandlerFunc(h.ListTenantRoles))).Methods("GET")
	r.Handle("/tenants/{tenantId}/ssousers/{ssoUserId}/roles",
		chain.TenantScoped()(http.HandlerFunc(h.GetUserRoles))).Methods("GET")
}

// CreateTenant handles POST /tenants
func (h *Handlers) CreateTenant(w http.ResponseWriter, r *http.Request) {
	var input CreateTenantInput
	if !httputil.ParseJSONOrError(w, r, &input) {
		return
	}

	var problems []string
	if input.Name == "" {
		problems = append(problems, "name is required")
	}
	if input.MinistryName == "" {
		problems = append(problems, "ministryName is required")
	}
	if input.User.SsoUserID == "" {
		problems = append(problems, "user.ssoUserId is required")
	}
	if input.User.Email == "" {
		problems = append(problems, "user.email is required")
	}
	if len(problems) > 0 {
		httputil.WriteValidationError(w, "invalid tenant payload", httputil.ValidationDetails{Body: problems})
		return
	}

	claims := auth.ClaimsFromContext(r.Context())
	input.Actor = claims.Subject

	tenant, err := h.store.CreateTenant(r.Context(), input)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}

	h.auditor.Record(audit.Event{
		Type:         audit.EventTenantCreated,
		Actor:        claims.Subject,
		TenantID:     tenant.ID,
		ResourceType: "tenant",
		ResourceID:   tenant.ID,
		RequestID:    contextkeys.GetRequestID(r.Context()),
		Message:      tenant.Name,
	})
	httputil.WriteData(w, http.StatusCreated, "tenant", tenant)
}

// GetTenant handles GET /tenants/{tenantId}. The expand=tenantUserRoles
// query flag selects the with-users read model.
func (h *Handlers) GetTenant(w http.ResponseWriter, r *http.Request) {
	tenantID := mux.Vars(r)["tenantId"]

	var tenant *Tenant
	var err error
	if expandsUserRoles(r) {
		tenant, err = h.store.GetTenantWithUsers(r.Context(), tenantID)
	} else {
		tenant, err = h.store.GetTenant(r.Context(), tenantID)
	}
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteData(w, http.StatusOK, "tenant", tenant)
}

// UpdateTenant handles PUT /tenants/{tenantId}
func (h *Handlers) UpdateTenant(w http.ResponseWriter, r *http.Request) {
	tenantID := mux.Vars(r)["tenantId"]

	var input UpdateTenantInput
	if !httputil.ParseJSONOrError(w, r, &input) {
		return
	}
	if input.Name != nil && *input.Name == "" {
		httputil.WriteValidationError(w, "invalid tenant payload", httputil.ValidationDetails{
			Body: []string{"name must not be empty"},
		})
		return
	}
	if input.MinistryName != nil && *input.MinistryName == "" {
		httputil.WriteValidationError(w, "invalid tenant payload", httputil.ValidationDetails{
			Body: []string{"ministryName must not be empty"},
		})
		return
	}

	claims := auth.ClaimsFromContext(r.Context())
	input.Actor = claims.Subject

	tenant, err := h.store.UpdateTenant(r.Context(), tenantID, input)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}

	h.auditor.Record(audit.Event{
		Type:         audit.EventTenantUpdated,
		Actor:        claims.Subject,
		TenantID:     tenantID,
		ResourceType: "tenant",
		ResourceID:   tenantID,
		RequestID:    contextkeys.GetRequestID(r.Context()),
	})
	httputil.WriteData(w, http.StatusOK, "tenant", tenant)
}

// ListUsers handles GET /tenants/{tenantId}/users
func (h *Handlers) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.store.GetUsersForTenant(r.Context(), mux.Vars(r)["tenantId"])
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteData(w, http.StatusOK, "users", users)
}

// AddUser handles POST /tenants/{tenantId}/users
func (h *Handlers) AddUser(w http.ResponseWriter, r *http.Request) {
	tenantID := mux.Vars(r)["tenantId"]

	var input AddTenantUserInput
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
		httputil.WriteValidationError(w, "invalid user payload", httputil.ValidationDetails{Body: problems})
		return
	}

	claims := auth.ClaimsFromContext(r.Context())
	input.Actor = claims.Subject

	member, err := h.store.AddTenantUser(r.Context(), tenantID, input)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}

	h.auditor.Record(audit.Event{
		Type:         audit.EventUserAdded,
		Actor:        claims.Subject,
		TenantID:     tenantID,
		ResourceType: "tenantUser",
		ResourceID:   member.ID,
		RequestID:    contextkeys.GetRequestID(r.Context()),
		Message:      input.User.SsoUserID,
	})
	httputil.WriteData(w, http.StatusCreated, "user", member)
}

type assignRolesInput struct {
	RoleIDs []string `json:"roles"`
}

// AssignRoles handles POST /tenants/{tenantId}/users/{tenantUserId}/roles
func (h *Handlers) AssignRoles(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	tenantID := vars["tenantId"]
	tenantUserID := vars["tenantUserId"]

	var input assignRolesInput
	if !httputil.ParseJSONOrError(w, r, &input) {
		return
	}
	if len(input.RoleIDs) == 0 {
		httputil.WriteValidationError(w, "invalid role payload", httputil.ValidationDetails{
			Body: []string{"roles must contain at least one role id"},
		})
		return
	}

	claims := auth.ClaimsFromContext(r.Context())
	assignments, err := h.store.AssignUserRoles(r.Context(), tenantID, tenantUserID, input.RoleIDs, claims.Subject)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}

	h.auditor.Record(audit.Event{
		Type:         audit.EventRolesAssigned,
		Actor:        claims.Subject,
		TenantID:     tenantID,
		ResourceType: "tenantUser",
		ResourceID:   tenantUserID,
		RequestID:    contextkeys.GetRequestID(r.Context()),
		Metadata:     map[string]interface{}{"roles": input.RoleIDs},
	})
	httputil.WriteData(w, http.StatusCreated, "tenantUserRoles", assignments)
}

// UnassignRole handles DELETE /tenants/{tenantId}/users/{tenantUserId}/roles/{roleId}
func (h *Handlers) UnassignRole(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	tenantID := vars["tenantId"]
	tenantUserID := vars["tenantUserId"]
	roleID := vars["roleId"]

	claims := auth.ClaimsFromContext(r.Context())
	if err := h.store.UnassignUserRole(r.Context(), tenantID, tenantUserID, roleID, claims.Subject); err != nil {
		httputil.WriteDomainError(w, err)
		return
	}

	h.auditor.Record(audit.Event{
		Type:         audit.EventRoleUnassigned,
		Actor:        claims.Subject,
		TenantID:     tenantID,
		ResourceType: "tenantUser",
		ResourceID:   tenantUserID,
		RequestID:    contextkeys.GetRequestID(r.Context()),
		Metadata:     map[string]interface{}{"role": roleID},
	})
	httputil.WriteNoContent(w)
}

// ListUserTenants handles GET /users/{ssoUserId}/tenants. Callers may
// only list their own tenants.
func (h *Handlers) ListUserTenants(w http.ResponseWriter, r *http.Request) {
	ssoUserID := mux.Vars(r)["ssoUserId"]

	claims := auth.ClaimsFromContext(r.Context())
	if claims.Subject != ssoUserID {
		httputil.WriteDomainError(w, apierrors.Forbidden("you may only list your own tenants"))
		return
	}

	var tenants []Tenant
	var err error
	if expandsUserRoles(r) {
		tenants, err = h.store.GetTenantsForUserWithRoles(r.Context(), ssoUserID)
	} else {
		tenants, err = h.store.GetTenantsForUser(r.Context(), ssoUserID)
	}
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteData(w, http.StatusOK, "tenants", tenants)
}

// ListRoles handles GET /roles
func (h *Handlers) ListRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.store.ListRoles(r.Context())
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteData(w, http.StatusOK, "roles", roles)
}

// ListTenantRoles handles GET /tenants/{tenantId}/roles
func (h *Handlers) ListTenantRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.store.ListTenantRoles(r.Context(), mux.Vars(r)["tenantId"])
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteData(w, http.StatusOK, "roles", roles)
}

// GetUserRoles handles GET /tenants/{tenantId}/ssousers/{ssoUserId}/roles
func (h *Handlers) GetUserRoles(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	roles, err := h.store.GetRolesForUser(r.Context(), vars["tenantId"], vars["ssoUserId"])
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteData(w, http.StatusOK, "roles", roles)
}

func expandsUserRoles(r *http.Request) bool {
	return r.URL.Query().Get("expand") == "tenantUserRoles"
}
