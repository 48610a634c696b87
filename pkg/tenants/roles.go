package tenants

import (
	"context"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/bcgov/tenant-management-system-sub000/pkg/database"
)

const roleColumns = "id, name, display_name, COALESCE(description, ''), tenant_id, created_at, updated_at"

// FindRolesByName looks up roles by name. A nil tenantID restricts the
// search to global roles.
func (s *Store) FindRolesByName(ctx context.Context, names []string, tenantID *string) (roles []Role, err error) {
	defer func(start time.Time) { s.observe("find_roles_by_name", start, err) }(time.Now())
	return s.findRolesByNameTx(ctx, s.db, names, tenantID)
}

func (s *Store) findRolesByNameTx(ctx context.Context, q database.Querier, names []string, tenantID *string) ([]Role, error) {
	query := "SELECT " + roleColumns + " FROM roles WHERE name = ANY($1) AND tenant_id IS NULL ORDER BY name"
	args := []interface{}{pq.Array(names)}
	if tenantID != nil {
		query = "SELECT " + roleColumns + " FROM roles WHERE name = ANY($1) AND tenant_id = $2 ORDER BY name"
		args = append(args, *tenantID)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query roles: %w", err)
	}
	defer rows.Close()

	return scanRoles(rows)
}

// ListRoles lists the global roles
func (s *Store) ListRoles(ctx context.Context) (roles []Role, err error) {
	defer func(start time.Time) { s.observe("list_roles", start, err) }(time.Now())

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+roleColumns+" FROM roles WHERE tenant_id IS NULL ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("failed to query roles: %w", err)
	}
	defer rows.Close()

	return scanRoles(rows)
}

// ListTenantRoles lists the roles assignable within a tenant: the
// global roles plus the tenant's own.
func (s *Store) ListTenantRoles(ctx context.Context, tenantID string) (roles []Role, err error) {
	defer func(start time.Time) { s.observe("list_tenant_roles", start, err) }(time.Now())

	if _, err = s.getTenantQ(ctx, s.db, tenantID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+roleColumns+" FROM roles WHERE tenant_id IS NULL OR tenant_id = $1 ORDER BY name",
		tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to query tenant roles: %w", err)
	}
	defer rows.Close()

	return scanRoles(rows)
}

// GetRolesForUser lists the roles the subject actively holds in the
// tenant. A missing membership is NotFound.
func (s *Store) GetRolesForUser(ctx context.Context, tenantID, ssoUserID string) (roles []Role, err error) {
	defer func(start time.Time) { s.observe("get_roles_for_user", start, err) }(time.Now())

	member, err := s.getMembershipQ(ctx, s.db, tenantID, ssoUserID)
	if err != nil {
		return nil, err
	}
	return s.getActiveRolesForMembershipQ(ctx, s.db, member.ID)
}

type rowScanner interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

func scanRoles(rows rowScanner) ([]Role, error) {
	roles := []Role{}
	for rows.Next() {
		var role Role
		if err := rows.Scan(&role.ID, &role.Name, &role.DisplayName, &role.Description,
			&role.TenantID, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating roles: %w", err)
	}
	return roles, nil
}
