package tenants

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bcgov/tenant-management-system-sub000/pkg/apierrors"
	"github.com/bcgov/tenant-management-system-sub000/pkg/auth"
	"github.com/bcgov/tenant-management-system-sub000/pkg/database"
	"github.com/bcgov/tenant-management-system-sub000/pkg/observability"
)

// Store is the repository for the tenant aggregate
type Store struct {
	db      *sql.DB
	metrics *observability.Metrics
}

// NewStore creates a tenant store. metrics may be nil.
func NewStore(db *sql.DB, metrics *observability.Metrics) *Store {
	return &Store{db: db, metrics: metrics}
}

// observe records one repository operation in the metrics registry
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

// CreateTenant creates a tenant with its founding member in one
// transaction. The three bootstrap roles are seeded on first use and
// all assigned to the founder.
func (s *Store) CreateTenant(ctx context.Context, input CreateTenantInput) (tenant *Tenant, err error) {
	defer func(start time.Time) { s.observe("create_tenant", start, err) }(time.Now())

	err = database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		tenant, err = s.CreateTenantTx(ctx, tx, input)
		return err
	})
	if err != nil {
		return nil, err
	}
	return tenant, nil
}

// CreateTenantTx is CreateTenant running inside an ambient transaction.
// The tenant request workflow uses it to materialize a tenant within
// the approval's transaction.
func (s *Store) CreateTenantTx(ctx context.Context, q database.Querier, input CreateTenantInput) (*Tenant, error) {
	var existingID string
	err := q.QueryRowContext(ctx,
		"SELECT id FROM tenants WHERE name = $1 AND ministry_name = $2",
		input.Name, input.MinistryName,
	).Scan(&existingID)
	if err == nil {
		return nil, apierrors.Conflict("a tenant named %q already exists for ministry %q", input.Name, input.MinistryName)
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to check tenant uniqueness: %w", err)
	}

	tenant := &Tenant{
		ID:           uuid.New().String(),
		Name:         input.Name,
		MinistryName: input.MinistryName,
		Description:  input.Description,
	}
	err = q.QueryRowContext(ctx, `
		INSERT INTO tenants (id, name, ministry_name, description, created_by, updated_by)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $5)
		RETURNING created_at, updated_at`,
		tenant.ID, tenant.Name, tenant.MinistryName, tenant.Description, input.Actor,
	).Scan(&tenant.CreatedAt, &tenant.UpdatedAt)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return nil, apierrors.Conflict("a tenant named %q already exists for ministry %q", input.Name, input.MinistryName)
		}
		return nil, fmt.Errorf("failed to insert tenant: %w", err)
	}

	roles, err := s.ensureBootstrapRolesTx(ctx, q, input.Actor)
	if err != nil {
		return nil, err
	}

	ssoUser, err := s.GetOrCreateSsoUserTx(ctx, q, input.User, input.Actor)
	if err != nil {
		return nil, err
	}

	member := TenantUser{
		ID:       uuid.New().String(),
		TenantID: tenant.ID,
		SsoUser:  *ssoUser,
	}
	err = q.QueryRowContext(ctx, `
		INSERT INTO tenant_users (id, tenant_id, sso_user_id, created_by, updated_by)
		VALUES ($1, $2, $3, $4, $4)
		RETURNING created_at, updated_at`,
		member.ID, tenant.ID, ssoUser.ID, input.Actor,
	).Scan(&member.CreatedAt, &member.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert founding membership: %w", err)
	}

	for _, name := range []string{auth.RoleServiceUser, auth.RoleTenantOwner, auth.RoleUserAdmin} {
		role := roles[name]
		_, err = q.ExecContext(ctx, `
			INSERT INTO tenant_user_roles (id, tenant_user_id, role_id, created_by, updated_by)
			VALUES ($1, $2, $3, $4, $4)`,
			uuid.New().String(), member.ID, role.ID, input.Actor,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to assign bootstrap role %s: %w", name, err)
		}
		member.Roles = append(member.Roles, role)
	}

	tenant.Users = []TenantUser{member}
	tenant.CreatedBy = ssoUser.DisplayName
	if tenant.CreatedBy == "" {
		tenant.CreatedBy = input.Actor
	}
	return tenant, nil
}

// ensureBootstrapRolesTx seeds the three global bootstrap roles if they
// do not exist yet and returns them keyed by name.
func (s *Store) ensureBootstrapRolesTx(ctx context.Context, q database.Querier, actor string) (map[string]Role, error) {
	seed := []struct {
		name        string
		displayName string
	}{
		{auth.RoleServiceUser, auth.RoleServiceUserDisplay},
		{auth.RoleTenantOwner, auth.RoleTenantOwnerDisplay},
		{auth.RoleUserAdmin, auth.RoleUserAdminDisplay},
	}

	for _, r := range seed {
		_, err := q.ExecContext(ctx, `
			INSERT INTO roles (id, name, display_name, tenant_id, created_by, updated_by)
			VALUES ($1, $2, $3, NULL, $4, $4)
			ON CONFLICT (name) WHERE tenant_id IS NULL DO NOTHING`,
			uuid.New().String(), r.name, r.displayName, actor,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to seed role %s: %w", r.name, err)
		}
	}

	found, err := s.findRolesByNameTx(ctx, q, []string{auth.RoleServiceUser, auth.RoleTenantOwner, auth.RoleUserAdmin}, nil)
	if err != nil {
		return nil, err
	}
	roles := make(map[string]Role, len(found))
	for _, role := range found {
		roles[role.Name] = role
	}
	for _, r := range seed {
		if _, ok := roles[r.name]; !ok {
			return nil, fmt.Errorf("bootstrap role %s missing after seed", r.name)
		}
	}
	return roles, nil
}

// UpdateTenant applies a partial update. Name and ministry collisions
// with another tenant fail with Conflict.
func (s *Store) UpdateTenant(ctx context.Context, tenantID string, input UpdateTenantInput) (tenant *Tenant, err error) {
	defer func(start time.Time) { s.observe("update_tenant", start, err) }(time.Now())

	setClauses := []string{}
	args := []interface{}{}
	argPos := 1

	if input.Name != nil {
		setClauses = append(setClauses, fmt.Sprintf("name = $%d", argPos))
		args = append(args, *input.Name)
		argPos++
	}
	if input.MinistryName != nil {
		setClauses = append(setClauses, fmt.Sprintf("ministry_name = $%d", argPos))
		args = append(args, *input.MinistryName)
		argPos++
	}
	if input.Description != nil {
		setClauses = append(setClauses, fmt.Sprintf("description = NULLIF($%d, '')", argPos))
		args = append(args, *input.Description)
		argPos++
	}
	if len(setClauses) == 0 {
		return s.GetTenant(ctx, tenantID)
	}

	setClauses = append(setClauses, "updated_at = NOW()", fmt.Sprintf("updated_by = $%d", argPos))
	args = append(args, input.Actor)
	argPos++
	args = append(args, tenantID)

	query := fmt.Sprintf("UPDATE tenants SET %s WHERE id = $%d", strings.Join(setClauses, ", "), argPos)
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return nil, apierrors.Conflict("a tenant with that name already exists for that ministry")
		}
		return nil, fmt.Errorf("failed to update tenant: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return nil, apierrors.NotFound("tenant %s not found", tenantID)
	}

	return s.GetTenant(ctx, tenantID)
}

// GetTenant fetches a tenant without its memberships
func (s *Store) GetTenant(ctx context.Context, tenantID string) (tenant *Tenant, err error) {
	defer func(start time.Time) { s.observe("get_tenant", start, err) }(time.Now())
	return s.getTenantQ(ctx, s.db, tenantID)
}

func (s *Store) getTenantQ(ctx context.Context, q database.Querier, tenantID string) (*Tenant, error) {
	tenant := &Tenant{}
	err := q.QueryRowContext(ctx, `
		SELECT t.id, t.name, t.ministry_name, COALESCE(t.description, ''),
		       COALESCE(su.display_name, t.created_by, ''), t.created_at, t.updated_at
		FROM tenants t
		LEFT JOIN sso_users su ON su.sso_user_id = t.created_by
		WHERE t.id = $1`,
		tenantID,
	).Scan(&tenant.ID, &tenant.Name, &tenant.MinistryName, &tenant.Description,
		&tenant.CreatedBy, &tenant.CreatedAt, &tenant.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, apierrors.NotFound("tenant %s not found", tenantID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}
	return tenant, nil
}

// GetTenantWithUsers fetches a tenant with its memberships, their SSO
// identities, and their active role assignments.
func (s *Store) GetTenantWithUsers(ctx context.Context, tenantID string) (tenant *Tenant, err error) {
	defer func(start time.Time) { s.observe("get_tenant_with_users", start, err) }(time.Now())

	tenant, err = s.getTenantQ(ctx, s.db, tenantID)
	if err != nil {
		return nil, err
	}

	users, err := s.getUsersForTenantQ(ctx, s.db, tenantID)
	if err != nil {
		return nil, err
	}
	tenant.Users = users
	return tenant, nil
}

// GetTenantsForUser lists the tenants where the subject holds a
// membership.
func (s *Store) GetTenantsForUser(ctx context.Context, ssoUserID string) (tenants []Tenant, err error) {
	defer func(start time.Time) { s.observe("get_tenants_for_user", start, err) }(time.Now())

	rows, err := s.db.QueryContext(ctx, `
		SELECT t.id, t.name, t.ministry_name, COALESCE(t.description, ''),
		       COALESCE(cb.display_name, t.created_by, ''), t.created_at, t.updated_at
		FROM tenants t
		JOIN tenant_users tu ON tu.tenant_id = t.id
		JOIN sso_users su ON su.id = tu.sso_user_id
		LEFT JOIN sso_users cb ON cb.sso_user_id = t.created_by
		WHERE su.sso_user_id = $1
		ORDER BY t.name`,
		ssoUserID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list tenants for user: %w", err)
	}
	defer rows.Close()

	tenants = []Tenant{}
	for rows.Next() {
		var t Tenant
		if err := rows.Scan(&t.ID, &t.Name, &t.MinistryName, &t.Description,
			&t.CreatedBy, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan tenant: %w", err)
		}
		tenants = append(tenants, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tenants: %w", err)
	}
	return tenants, nil
}

// GetTenantsForUserWithRoles is GetTenantsForUser with the caller's own
// membership and active roles attached to each tenant.
func (s *Store) GetTenantsForUserWithRoles(ctx context.Context, ssoUserID string) (tenants []Tenant, err error) {
	defer func(start time.Time) { s.observe("get_tenants_for_user_with_roles", start, err) }(time.Now())

	tenants, err = s.GetTenantsForUser(ctx, ssoUserID)
	if err != nil {
		return nil, err
	}

	for i := range tenants {
		member, err := s.getMembershipQ(ctx, s.db, tenants[i].ID, ssoUserID)
		if err != nil {
			return nil, err
		}
		roles, err := s.getActiveRolesForMembershipQ(ctx, s.db, member.ID)
		if err != nil {
			return nil, err
		}
		member.Roles = roles
		tenants[i].Users = []TenantUser{*member}
	}
	return tenants, nil
}
