package requests

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/bcgov/tenant-management-system-sub000/pkg/audit"
	"github.com/bcgov/tenant-management-system-sub000/pkg/auth"
	"github.com/bcgov/tenant-management-system-sub000/pkg/contextkeys"
	"github.com/bcgov/tenant-management-system-sub000/pkg/httputil"
	"github.com/bcgov/tenant-management-system-sub000/pkg/middleware"
	"github.com/bcgov/tenant-management-system-sub000/pkg/tenants"
)

// Handlers exposes the tenant request workflow over HTTP
type Handlers struct {
	store   *Store
	auditor audit.Logger
}

// NewHandlers creates tenant request HTTP handlers
func NewHandlers(store *Store, auditor audit.Logger) *Handlers {
	return &Handlers{store: store, auditor: auditor}
}

// RegisterRoutes registers the tenant request routes on the router
func (h *Handlers) RegisterRoutes(r *mux.Router, chain *middleware.Chain) {
	r.Handle("/tenant-requests", chain.Standard(http.HandlerFunc(h.Create))).Methods("POST")
	r.Handle("/tenant-requests", chain.OperationsAdmin(http.HandlerFunc(h.List))).Methods("GET")
	r.Handle("/tenant-requests/{requestId}/status",
		chain.OperationsAdmin(http.HandlerFunc(h.Decide))).Methods("PATCH")
}

// Create handles POST /tenant-requests
func (h *Handlers) Create(w http.ResponseWriter, r *http.Request) {
	var input CreateTenantRequestInput
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
		httputil.WriteValidationError(w, "invalid tenant request payload", httputil.ValidationDetails{Body: problems})
		return
	}

	claims := auth.ClaimsFromContext(r.Context())
	input.Actor = claims.Subject

	request, err := h.store.CreateTenantRequest(r.Context(), input)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}

	h.auditor.Record(audit.Event{
		Type:         audit.EventTenantRequestCreated,
		Actor:        claims.Subject,
		ResourceType: "tenantRequest",
		ResourceID:   request.ID,
		RequestID:    contextkeys.GetRequestID(r.Context()),
		Message:      request.Name,
	})
	httputil.WriteData(w, http.StatusCreated, "tenantRequest", request)
}

// Decide handles PATCH /tenant-requests/{requestId}/status
func (h *Handlers) Decide(w http.ResponseWriter, r *http.Request) {
	requestID := mux.Vars(r)["requestId"]

	var input DecideInput
	if !httputil.ParseJSONOrError(w, r, &input) {
		return
	}

	var problems []string
	switch input.Status {
	case StatusApproved:
	case StatusRejected:
		if input.RejectionReason == "" {
			problems = append(problems, "rejectionReason is required when rejecting")
		}
	default:
		problems = append(problems, "status must be APPROVED or REJECTED")
	}
	if len(problems) > 0 {
		httputil.WriteValidationError(w, "invalid decision payload", httputil.ValidationDetails{Body: problems})
		return
	}

	claims := auth.ClaimsFromContext(r.Context())
	input.Approver = tenants.UserInput{
		SsoUserID:   claims.Subject,
		Email:       claims.Email,
		FirstName:   claims.FirstName,
		LastName:    claims.LastName,
		DisplayName: claims.DisplayName,
		UserName:    claims.UserName,
	}

	request, err := h.store.DecideTenantRequest(r.Context(), requestID, input)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}

	h.auditor.Record(audit.Event{
		Type:         audit.EventTenantRequestDecided,
		Actor:        claims.Subject,
		ResourceType: "tenantRequest",
		ResourceID:   request.ID,
		RequestID:    contextkeys.GetRequestID(r.Context()),
		Message:      string(request.Status),
	})
	httputil.WriteData(w, http.StatusOK, "tenantRequest", request)
}

// List handles GET /tenant-requests
func (h *Handlers) List(w http.ResponseWriter, r *http.Request) {
	var status *Status
	if raw := r.URL.Query().Get("status"); raw != "" {
		s := Status(raw)
		switch s {
		case StatusNew, StatusApproved, StatusRejected:
			status = &s
		default:
			httputil.WriteValidationError(w, "invalid status filter", httputil.ValidationDetails{
				Query: []string{"status must be one of NEW, APPROVED, REJECTED"},
			})
			return
		}
	}

	requests, err := h.store.ListTenantRequests(r.Context(), status)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteData(w, http.StatusOK, "tenantRequests", requests)
}
