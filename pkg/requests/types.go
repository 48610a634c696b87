// Package requests implements the tenant request approval workflow:
// NEW requests are approved, materializing a tenant transactionally, or
// rejected with a reason.
package requests

import (
	"time"

	"github.com/bcgov/tenant-management-system-sub000/pkg/tenants"
)

// Status is the request lifecycle state
type Status string

const (
	StatusNew      Status = "NEW"
	StatusApproved Status = "APPROVED"
	StatusRejected Status = "REJECTED"
)

// TenantRequest is one pending or decided ask for a new tenant. Tenant
// is populated on the approval response only.
type TenantRequest struct {
	ID              string           `json:"id"`
	Name            string           `json:"name"`
	MinistryName    string           `json:"ministryName"`
	Description     string           `json:"description,omitempty"`
	Status          Status           `json:"status"`
	Requester       tenants.SsoUser  `json:"requestedBy"`
	RejectionReason string           `json:"rejectionReason,omitempty"`
	DecisionedBy    *tenants.SsoUser `json:"decisionedBy,omitempty"`
	DecisionedAt    *time.Time       `json:"decisionedDateTime,omitempty"`
	Tenant          *tenants.Tenant  `json:"tenant,omitempty"`
	CreatedAt       time.Time        `json:"createdDateTime"`
	UpdatedAt       time.Time        `json:"updatedDateTime"`
}

// CreateTenantRequestInput is the payload for submitting a request
type CreateTenantRequestInput struct {
	Name         string            `json:"name"`
	MinistryName string            `json:"ministryName"`
	Description  string            `json:"description"`
	User         tenants.UserInput `json:"user"`
	Actor        string            `json:"-"`
}

// DecideInput carries the approve/reject decision. Approver identifies
// the decision maker and is resolved from verified claims.
type DecideInput struct {
	Status          Status            `json:"status"`
	RejectionReason string            `json:"rejectionReason"`
	Approver        tenants.UserInput `json:"-"`
}
