package requests

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/bcgov/tenant-management-system-sub000/pkg/apierrors"
	"github.com/bcgov/tenant-management-system-sub000/pkg/database"
	"github.com/bcgov/tenant-management-system-sub000/pkg/observability"
	"github.com/bcgov/tenant-management-system-sub000/pkg/tenants"
)

// Store is the repository for tenant requests. Approval delegates to
// the tenant store inside the request's transaction so a request can
// never be APPROVED without its tenant.
type Store struct {
	db      *sql.DB
	tenants *tenants.Store
	metrics *observability.Metrics
}

// NewStore creates a tenant request store. metrics may be nil.
func NewStore(db *sql.DB, tenantStore *tenants.Store, metrics *observability.Metrics) *Store {
	return &Store{db: db, tenants: tenantStore, metrics: metrics}
}

func (s *Store) observe(operation string, start time.Time, err error) {
	if s.metrics == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	s.metrics.RepositoryOperationsTotal.WithLabelValues(operation, outcome).Inc()
	s.metrics.RepositoryOperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// CreateTenantRequest submits a new request, resolving the requester's
// identity lazily.
func (s *Store) CreateTenantRequest(ctx context.Context, input CreateTenantRequestInput) (request *TenantRequest, err error) {
	defer func(start time.Time) { s.observe("create_tenant_request", start, err) }(time.Now())

	err = database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		requester, err := s.tenants.GetOrCreateSsoUserTx(ctx, tx, input.User, input.Actor)
		if err != nil {
			return err
		}

		request = &TenantRequest{
			ID:           uuid.New().String(),
			Name:         input.Name,
			MinistryName: input.MinistryName,
			Description:  input.Description,
			Status:       StatusNew,
			Requester:    *requester,
		}
		err = tx.QueryRowContext(ctx, `
			INSERT INTO tenant_requests (id, name, ministry_name, description, status, requester_id, created_by, updated_by)
			VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, $7)
			RETURNING created_at, updated_at`,
			request.ID, request.Name, request.MinistryName, request.Description,
			string(StatusNew), requester.ID, input.Actor,
		).Scan(&request.CreatedAt, &request.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert tenant request: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return request, nil
}

// DecideTenantRequest transitions a NEW request to APPROVED or
// REJECTED. Approval materializes the tenant in the same transaction;
// a duplicate tenant fails the whole operation and leaves the request
// NEW.
func (s *Store) DecideTenantRequest(ctx context.Context, requestID string, input DecideInput) (request *TenantRequest, err error) {
	defer func(start time.Time) { s.observe("decide_tenant_request", start, err) }(time.Now())

	err = database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		request = &TenantRequest{}
		var status string
		var requesterID string
		err := tx.QueryRowContext(ctx, `
			SELECT id, name, ministry_name, COALESCE(description, ''), status, requester_id, created_at, updated_at
			FROM tenant_requests
			WHERE id = $1
			FOR UPDATE`,
			requestID,
		).Scan(&request.ID, &request.Name, &request.MinistryName, &request.Description,
			&status, &requesterID, &request.CreatedAt, &request.UpdatedAt)
		if err == sql.ErrNoRows {
			return apierrors.NotFound("tenant request %s not found", requestID)
		}
		if err != nil {
			return fmt.Errorf("failed to load tenant request: %w", err)
		}
		if Status(status) != StatusNew {
			return apierrors.Conflict("tenant request %s has already been decided", requestID)
		}

		requester, err := s.getSsoUserByIDTx(ctx, tx, requesterID)
		if err != nil {
			return err
		}
		request.Requester = *requester

		approver, err := s.tenants.GetOrCreateSsoUserTx(ctx, tx, input.Approver, input.Approver.SsoUserID)
		if err != nil {
			return err
		}

		if input.Status == StatusApproved {
			tenant, err := s.tenants.CreateTenantTx(ctx, tx, tenants.CreateTenantInput{
				Name:         request.Name,
				MinistryName: request.MinistryName,
				Description:  request.Description,
				User: tenants.UserInput{
					SsoUserID:   requester.SsoUserID,
					Email:       requester.Email,
					FirstName:   requester.FirstName,
					LastName:    requester.LastName,
					DisplayName: requester.DisplayName,
					UserName:    requester.UserName,
				},
				Actor: approver.SsoUserID,
			})
			if err != nil {
				return err
			}
			request.Tenant = tenant
		}

		var reason interface{}
		if input.Status == StatusRejected {
			reason = input.RejectionReason
			request.RejectionReason = input.RejectionReason
		}

		var decisionedAt time.Time
		err = tx.QueryRowContext(ctx, `
			UPDATE tenant_requests
			SET status = $2, rejection_reason = $3, decisioned_by = $4, decisioned_at = NOW(),
			    updated_at = NOW(), updated_by = $5
			WHERE id = $1
			RETURNING decisioned_at, updated_at`,
			requestID, string(input.Status), reason, approver.ID, approver.SsoUserID,
		).Scan(&decisionedAt, &request.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to update tenant request: %w", err)
		}

		request.Status = input.Status
		request.DecisionedBy = approver
		request.DecisionedAt = &decisionedAt
		return nil
	})
	if err != nil {
		return nil, err
	}
	return request, nil
}

// ListTenantRequests lists requests, optionally filtered by status,
// newest first.
func (s *Store) ListTenantRequests(ctx context.Context, status *Status) (requests []TenantRequest, err error) {
	defer func(start time.Time) { s.observe("list_tenant_requests", start, err) }(time.Now())

	query := `
		SELECT tr.id, tr.name, tr.ministry_name, COALESCE(tr.description, ''), tr.status,
		       COALESCE(tr.rejection_reason, ''), tr.decisioned_at, tr.created_at, tr.updated_at,
		       req.id, req.sso_user_id, req.email, COALESCE(req.first_name, ''), COALESCE(req.last_name, ''),
		       COALESCE(req.display_name, ''), COALESCE(req.user_name, ''), req.created_at, req.updated_at,
		       dec.id, dec.sso_user_id, dec.email, dec.first_name, dec.last_name, dec.display_name, dec.user_name
		FROM tenant_requests tr
		JOIN sso_users req ON req.id = tr.requester_id
		LEFT JOIN sso_users dec ON dec.id = tr.decisioned_by`
	args := []interface{}{}
	if status != nil {
		query += " WHERE tr.status = $1"
		args = append(args, string(*status))
	}
	query += " ORDER BY tr.created_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tenant requests: %w", err)
	}
	defer rows.Close()

	requests = []TenantRequest{}
	for rows.Next() {
		var r TenantRequest
		var decID, decSubject, decEmail, decFirst, decLast, decDisplay, decUserName sql.NullString
		if err := rows.Scan(&r.ID, &r.Name, &r.MinistryName, &r.Description, &r.Status,
			&r.RejectionReason, &r.DecisionedAt, &r.CreatedAt, &r.UpdatedAt,
			&r.Requester.ID, &r.Requester.SsoUserID, &r.Requester.Email, &r.Requester.FirstName,
			&r.Requester.LastName, &r.Requester.DisplayName, &r.Requester.UserName,
			&r.Requester.CreatedAt, &r.Requester.UpdatedAt,
			&decID, &decSubject, &decEmail, &decFirst, &decLast, &decDisplay, &decUserName); err != nil {
			return nil, fmt.Errorf("failed to scan tenant request: %w", err)
		}
		if decID.Valid {
			r.DecisionedBy = &tenants.SsoUser{
				ID:          decID.String,
				SsoUserID:   decSubject.String,
				Email:       decEmail.String,
				FirstName:   decFirst.String,
				LastName:    decLast.String,
				DisplayName: decDisplay.String,
				UserName:    decUserName.String,
			}
		}
		requests = append(requests, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tenant requests: %w", err)
	}
	return requests, nil
}

func (s *Store) getSsoUserByIDTx(ctx context.Context, q database.Querier, id string) (*tenants.SsoUser, error) {
	user := &tenants.SsoUser{}
	err := q.QueryRowContext(ctx, `
		SELECT id, sso_user_id, email, COALESCE(first_name, ''), COALESCE(last_name, ''),
		       COALESCE(display_name, ''), COALESCE(user_name, ''), created_at, updated_at
		FROM sso_users
		WHERE id = $1`,
		id,
	).Scan(&user.ID, &user.SsoUserID, &user.Email, &user.FirstName, &user.LastName,
		&user.DisplayName, &user.UserName, &user.CreatedAt, &user.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, apierrors.NotFound("user %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sso user: %w", err)
	}
	return user, nil
}
