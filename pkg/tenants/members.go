package tenants

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/bcgov/tenant-management-system-sub000/pkg/apierrors"
	"github.com/bcgov/tenant-management-system-sub000/pkg/auth"
	"github.com/bcgov/tenant-management-system-sub000/pkg/database"
)

// GetOrCreateSsoUserTx resolves an external identity by its subject id,
// creating the record on first reference. Concurrent first references
// are resolved by re-reading after a unique violation.
func (s *Store) GetOrCreateSsoUserTx(ctx context.Context, q database.Querier, input UserInput, actor string) (*SsoUser, error) {
	if input.SsoUserID == "" {
		return nil, apierrors.BadRequest("ssoUserId is required")
	}

	user, err := s.getSsoUserBySubjectQ(ctx, q, input.SsoUserID)
	if err == nil {
		return user, nil
	}
	if !apierrors.IsNotFound(err) {
		return nil, err
	}

	user = &SsoUser{
		ID:          uuid.New().String(),
		SsoUserID:   input.SsoUserID,
		Email:       input.Email,
		FirstName:   input.FirstName,
		LastName:    input.LastName,
		DisplayName: input.DisplayName,
		UserName:    input.UserName,
	}
	err = q.QueryRowContext(ctx, `
		INSERT INTO sso_users (id, sso_user_id, email, first_name, last_name, display_name, user_name, created_by, updated_by)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''), NULLIF($7, ''), $8, $8)
		RETURNING created_at, updated_at`,
		user.ID, user.SsoUserID, user.Email, user.FirstName, user.LastName,
		user.DisplayName, user.UserName, actor,
	).Scan(&user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return s.getSsoUserBySubjectQ(ctx, q, input.SsoUserID)
		}
		return nil, fmt.Errorf("failed to insert sso user: %w", err)
	}
	return user, nil
}

func (s *Store) getSsoUserBySubjectQ(ctx context.Context, q database.Querier, ssoUserID string) (*SsoUser, error) {
	user := &SsoUser{}
	err := q.QueryRowContext(ctx, `
		SELECT id, sso_user_id, email, COALESCE(first_name, ''), COALESCE(last_name, ''),
		       COALESCE(display_name, ''), COALESCE(user_name, ''), created_at, updated_at
		FROM sso_users
		WHERE sso_user_id = $1`,
		ssoUserID,
	).Scan(&user.ID, &user.SsoUserID, &user.Email, &user.FirstName, &user.LastName,
		&user.DisplayName, &user.UserName, &user.CreatedAt, &user.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, apierrors.NotFound("user %s not found", ssoUserID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sso user: %w", err)
	}
	return user, nil
}

// AddTenantUser adds a member to a tenant and assigns the given roles
// in one transaction.
func (s *Store) AddTenantUser(ctx context.Context, tenantID string, input AddTenantUserInput) (member *TenantUser, err error) {
	defer func(start time.Time) { s.observe("add_tenant_user", start, err) }(time.Now())

	err = database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		member, err = s.addTenantUserTx(ctx, tx, tenantID, input)
		return err
	})
	if err != nil {
		return nil, err
	}
	return member, nil
}

func (s *Store) addTenantUserTx(ctx context.Context, tx *sql.Tx, tenantID string, input AddTenantUserInput) (*TenantUser, error) {
	if _, err := s.getTenantQ(ctx, tx, tenantID); err != nil {
		return nil, err
	}

	ssoUser, err := s.GetOrCreateSsoUserTx(ctx, tx, input.User, input.Actor)
	if err != nil {
		return nil, err
	}

	var existingID string
	err = tx.QueryRowContext(ctx,
		"SELECT id FROM tenant_users WHERE tenant_id = $1 AND sso_user_id = $2",
		tenantID, ssoUser.ID,
	).Scan(&existingID)
	if err == nil {
		return nil, apierrors.Conflict("user %s is already a member of this tenant", input.User.SsoUserID)
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to check membership: %w", err)
	}

	member := &TenantUser{
		ID:       uuid.New().String(),
		TenantID: tenantID,
		SsoUser:  *ssoUser,
	}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO tenant_users (id, tenant_id, sso_user_id, created_by, updated_by)
		VALUES ($1, $2, $3, $4, $4)
		RETURNING created_at, updated_at`,
		member.ID, tenantID, ssoUser.ID, input.Actor,
	).Scan(&member.CreatedAt, &member.UpdatedAt)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return nil, apierrors.Conflict("user %s is already a member of this tenant", input.User.SsoUserID)
		}
		return nil, fmt.Errorf("failed to insert membership: %w", err)
	}

	if len(input.RoleIDs) > 0 {
		assignments, err := s.assignRolesTx(ctx, tx, tenantID, member.ID, input.RoleIDs, input.Actor)
		if err != nil {
			return nil, err
		}
		for _, a := range assignments {
			member.Roles = append(member.Roles, a.Role)
		}
	}
	return member, nil
}

// EnsureMembershipTx resolves the subject's membership in the tenant,
// provisioning one with only the Service User role when the subject is
// not yet a member. The group repository uses it for onboarding through
// group addition. Returns whether a membership was created.
func (s *Store) EnsureMembershipTx(ctx context.Context, tx *sql.Tx, tenantID string, user UserInput, actor string) (*TenantUser, bool, error) {
	ssoUser, err := s.GetOrCreateSsoUserTx(ctx, tx, user, actor)
	if err != nil {
		return nil, false, err
	}

	member, err := s.getMembershipQ(ctx, tx, tenantID, ssoUser.SsoUserID)
	if err == nil {
		return member, false, nil
	}
	if !apierrors.IsNotFound(err) {
		return nil, false, err
	}

	member = &TenantUser{
		ID:       uuid.New().String(),
		TenantID: tenantID,
		SsoUser:  *ssoUser,
	}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO tenant_users (id, tenant_id, sso_user_id, created_by, updated_by)
		VALUES ($1, $2, $3, $4, $4)
		RETURNING created_at, updated_at`,
		member.ID, tenantID, ssoUser.ID, actor,
	).Scan(&member.CreatedAt, &member.UpdatedAt)
	if err != nil {
		return nil, false, fmt.Errorf("failed to provision membership: %w", err)
	}

	serviceUser, err := s.findRolesByNameTx(ctx, tx, []string{auth.RoleServiceUser}, nil)
	if err != nil {
		return nil, false, err
	}
	if len(serviceUser) == 0 {
		return nil, false, fmt.Errorf("bootstrap role %s is not seeded", auth.RoleServiceUser)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO tenant_user_roles (id, tenant_user_id, role_id, created_by, updated_by)
		VALUES ($1, $2, $3, $4, $4)`,
		uuid.New().String(), member.ID, serviceUser[0].ID, actor,
	)
	if err != nil {
		return nil, false, fmt.Errorf("failed to assign service user role: %w", err)
	}
	member.Roles = []Role{serviceUser[0]}
	return member, true, nil
}

// AssignUserRoles assigns the given roles to a membership. Requests
// where every role is already actively held fail with Conflict; an
// unknown role id fails the whole batch with NotFound.
func (s *Store) AssignUserRoles(ctx context.Context, tenantID, tenantUserID string, roleIDs []string, actor string) (assignments []TenantUserRole, err error) {
	defer func(start time.Time) { s.observe("assign_user_roles", start, err) }(time.Now())

	err = database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		assignments, err = s.assignRolesTx(ctx, tx, tenantID, tenantUserID, roleIDs, actor)
		return err
	})
	if err != nil {
		return nil, err
	}
	return assignments, nil
}

func (s *Store) assignRolesTx(ctx context.Context, tx *sql.Tx, tenantID, tenantUserID string, roleIDs []string, actor string) ([]TenantUserRole, error) {
	var memberTenantID string
	err := tx.QueryRowContext(ctx,
		"SELECT tenant_id FROM tenant_users WHERE id = $1",
		tenantUserID,
	).Scan(&memberTenantID)
	if err == sql.ErrNoRows || (err == nil && memberTenantID != tenantID) {
		return nil, apierrors.NotFound("tenant user %s not found in tenant %s", tenantUserID, tenantID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to check membership: %w", err)
	}

	activeRows, err := tx.QueryContext(ctx,
		"SELECT role_id FROM tenant_user_roles WHERE tenant_user_id = $1 AND NOT is_deleted",
		tenantUserID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query active roles: %w", err)
	}
	active := make(map[string]bool)
	for activeRows.Next() {
		var roleID string
		if err := activeRows.Scan(&roleID); err != nil {
			activeRows.Close()
			return nil, fmt.Errorf("failed to scan role id: %w", err)
		}
		active[roleID] = true
	}
	activeRows.Close()
	if err := activeRows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating active roles: %w", err)
	}

	newIDs := []string{}
	seen := make(map[string]bool)
	for _, id := range roleIDs {
		if !active[id] && !seen[id] {
			newIDs = append(newIDs, id)
			seen[id] = true
		}
	}
	if len(newIDs) == 0 {
		return nil, apierrors.Conflict("all roles already assigned")
	}

	roles, err := s.getRolesByIDTx(ctx, tx, newIDs, tenantID)
	if err != nil {
		return nil, err
	}

	assignments := []TenantUserRole{}
	for _, id := range newIDs {
		role, ok := roles[id]
		if !ok {
			return nil, apierrors.NotFound("role %s not found", id)
		}

		assignment := TenantUserRole{
			ID:           uuid.New().String(),
			TenantUserID: tenantUserID,
			Role:         role,
		}
		err = tx.QueryRowContext(ctx, `
			INSERT INTO tenant_user_roles (id, tenant_user_id, role_id, created_by, updated_by)
			VALUES ($1, $2, $3, $4, $4)
			RETURNING created_at, updated_at`,
			assignment.ID, tenantUserID, id, actor,
		).Scan(&assignment.CreatedAt, &assignment.UpdatedAt)
		if err != nil {
			if database.IsUniqueViolation(err) {
				return nil, apierrors.Conflict("role %s is already assigned", role.Name)
			}
			return nil, fmt.Errorf("failed to insert role assignment: %w", err)
		}
		assignments = append(assignments, assignment)
	}
	return assignments, nil
}

// getRolesByIDTx fetches roles by id, restricted to global roles and
// roles scoped to the given tenant.
func (s *Store) getRolesByIDTx(ctx context.Context, q database.Querier, roleIDs []string, tenantID string) (map[string]Role, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, name, display_name, COALESCE(description, ''), tenant_id, created_at, updated_at
		FROM roles
		WHERE id = ANY($1) AND (tenant_id IS NULL OR tenant_id = $2)`,
		pq.Array(roleIDs), tenantID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query roles: %w", err)
	}
	defer rows.Close()

	roles := make(map[string]Role)
	for rows.Next() {
		var role Role
		if err := rows.Scan(&role.ID, &role.Name, &role.DisplayName, &role.Description,
			&role.TenantID, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		roles[role.ID] = role
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating roles: %w", err)
	}
	return roles, nil
}

// UnassignUserRole soft-deletes one role assignment. Removing the last
// active tenant owner assignment in the tenant is rejected.
func (s *Store) UnassignUserRole(ctx context.Context, tenantID, tenantUserID, roleID, actor string) (err error) {
	defer func(start time.Time) { s.observe("unassign_user_role", start, err) }(time.Now())

	return database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		var assignmentID, roleName string
		err := tx.QueryRowContext(ctx, `
			SELECT tur.id, r.name
			FROM tenant_user_roles tur
			JOIN tenant_users tu ON tu.id = tur.tenant_user_id
			JOIN roles r ON r.id = tur.role_id
			WHERE tu.tenant_id = $1 AND tur.tenant_user_id = $2 AND tur.role_id = $3 AND NOT tur.is_deleted`,
			tenantID, tenantUserID, roleID,
		).Scan(&assignmentID, &roleName)
		if err == sql.ErrNoRows {
			return apierrors.NotFound("role assignment not found")
		}
		if err != nil {
			return fmt.Errorf("failed to find role assignment: %w", err)
		}

		if roleName == auth.RoleTenantOwner {
			var otherOwners int
			err := tx.QueryRowContext(ctx, `
				SELECT COUNT(*)
				FROM tenant_user_roles tur
				JOIN tenant_users tu ON tu.id = tur.tenant_user_id
				JOIN roles r ON r.id = tur.role_id
				WHERE tu.tenant_id = $1 AND r.name = $2 AND NOT tur.is_deleted AND tur.tenant_user_id <> $3`,
				tenantID, auth.RoleTenantOwner, tenantUserID,
			).Scan(&otherOwners)
			if err != nil {
				return fmt.Errorf("failed to count tenant owners: %w", err)
			}
			if otherOwners == 0 {
				return apierrors.Conflict("at least one tenant owner must remain")
			}
		}

		_, err = tx.ExecContext(ctx,
			"UPDATE tenant_user_roles SET is_deleted = TRUE, updated_at = NOW(), updated_by = $2 WHERE id = $1",
			assignmentID, actor,
		)
		if err != nil {
			return fmt.Errorf("failed to unassign role: %w", err)
		}
		return nil
	})
}

// GetUsersForTenant lists the tenant's memberships with their active
// roles.
func (s *Store) GetUsersForTenant(ctx context.Context, tenantID string) (users []TenantUser, err error) {
	defer func(start time.Time) { s.observe("get_users_for_tenant", start, err) }(time.Now())

	if _, err = s.getTenantQ(ctx, s.db, tenantID); err != nil {
		return nil, err
	}
	return s.getUsersForTenantQ(ctx, s.db, tenantID)
}

func (s *Store) getUsersForTenantQ(ctx context.Context, q database.Querier, tenantID string) ([]TenantUser, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT tu.id, tu.created_at, tu.updated_at,
		       su.id, su.sso_user_id, su.email, COALESCE(su.first_name, ''), COALESCE(su.last_name, ''),
		       COALESCE(su.display_name, ''), COALESCE(su.user_name, ''), su.created_at, su.updated_at
		FROM tenant_users tu
		JOIN sso_users su ON su.id = tu.sso_user_id
		WHERE tu.tenant_id = $1
		ORDER BY su.display_name, su.email`,
		tenantID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query tenant users: %w", err)
	}
	defer rows.Close()

	users := []TenantUser{}
	byID := make(map[string]int)
	for rows.Next() {
		u := TenantUser{TenantID: tenantID}
		if err := rows.Scan(&u.ID, &u.CreatedAt, &u.UpdatedAt,
			&u.SsoUser.ID, &u.SsoUser.SsoUserID, &u.SsoUser.Email, &u.SsoUser.FirstName,
			&u.SsoUser.LastName, &u.SsoUser.DisplayName, &u.SsoUser.UserName,
			&u.SsoUser.CreatedAt, &u.SsoUser.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan tenant user: %w", err)
		}
		byID[u.ID] = len(users)
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tenant users: %w", err)
	}
	if len(users) == 0 {
		return users, nil
	}

	roleRows, err := q.QueryContext(ctx, `
		SELECT tur.tenant_user_id, r.id, r.name, r.display_name, COALESCE(r.description, ''),
		       r.tenant_id, r.created_at, r.updated_at
		FROM tenant_user_roles tur
		JOIN tenant_users tu ON tu.id = tur.tenant_user_id
		JOIN roles r ON r.id = tur.role_id
		WHERE tu.tenant_id = $1 AND NOT tur.is_deleted
		ORDER BY r.name`,
		tenantID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query tenant user roles: %w", err)
	}
	defer roleRows.Close()

	for roleRows.Next() {
		var memberID string
		var role Role
		if err := roleRows.Scan(&memberID, &role.ID, &role.Name, &role.DisplayName,
			&role.Description, &role.TenantID, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		if idx, ok := byID[memberID]; ok {
			users[idx].Roles = append(users[idx].Roles, role)
		}
	}
	if err := roleRows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating roles: %w", err)
	}
	return users, nil
}

func (s *Store) getMembershipQ(ctx context.Context, q database.Querier, tenantID, ssoUserID string) (*TenantUser, error) {
	u := &TenantUser{TenantID: tenantID}
	err := q.QueryRowContext(ctx, `
		SELECT tu.id, tu.created_at, tu.updated_at,
		       su.id, su.sso_user_id, su.email, COALESCE(su.first_name, ''), COALESCE(su.last_name, ''),
		       COALESCE(su.display_name, ''), COALESCE(su.user_name, ''), su.created_at, su.updated_at
		FROM tenant_users tu
		JOIN sso_users su ON su.id = tu.sso_user_id
		WHERE tu.tenant_id = $1 AND su.sso_user_id = $2`,
		tenantID, ssoUserID,
	).Scan(&u.ID, &u.CreatedAt, &u.UpdatedAt,
		&u.SsoUser.ID, &u.SsoUser.SsoUserID, &u.SsoUser.Email, &u.SsoUser.FirstName,
		&u.SsoUser.LastName, &u.SsoUser.DisplayName, &u.SsoUser.UserName,
		&u.SsoUser.CreatedAt, &u.SsoUser.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, apierrors.NotFound("user %s is not a member of tenant %s", ssoUserID, tenantID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get membership: %w", err)
	}
	return u, nil
}

func (s *Store) getActiveRolesForMembershipQ(ctx context.Context, q database.Querier, tenantUserID string) ([]Role, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT r.id, r.name, r.display_name, COALESCE(r.description, ''), r.tenant_id, r.created_at, r.updated_at
		FROM tenant_user_roles tur
		JOIN roles r ON r.id = tur.role_id
		WHERE tur.tenant_user_id = $1 AND NOT tur.is_deleted
		ORDER BY r.name`,
		tenantUserID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query roles: %w", err)
	}
	defer rows.Close()

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

// CheckUserTenantAccess reports whether the subject is an active member
// of the tenant and, when roleNames is non-empty, actively holds at
// least one of those roles.
func (s *Store) CheckUserTenantAccess(ctx context.Context, tenantID, ssoUserID string, roleNames []string) (ok bool, err error) {
	defer func(start time.Time) { s.observe("check_user_tenant_access", start, err) }(time.Now())

	if len(roleNames) == 0 {
		err = s.db.QueryRowContext(ctx, `
			SELECT EXISTS (
				SELECT 1
				FROM tenant_users tu
				JOIN sso_users su ON su.id = tu.sso_user_id
				WHERE tu.tenant_id = $1 AND su.sso_user_id = $2
			)`,
			tenantID, ssoUserID,
		).Scan(&ok)
	} else {
		err = s.db.QueryRowContext(ctx, `
			SELECT EXISTS (
				SELECT 1
				FROM tenant_users tu
				JOIN sso_users su ON su.id = tu.sso_user_id
				JOIN tenant_user_roles tur ON tur.tenant_user_id = tu.id AND NOT tur.is_deleted
				JOIN roles r ON r.id = tur.role_id
				WHERE tu.tenant_id = $1 AND su.sso_user_id = $2 AND r.name = ANY($3)
			)`,
			tenantID, ssoUserID, pq.Array(roleNames),
		).Scan(&ok)
	}
	if err != nil {
		return false, fmt.Errorf("failed to check tenant access: %w", err)
	}
	return ok, nil
}

// HasActiveGlobalRole reports whether the subject actively holds the
// named role in any tenant.
func (s *Store) HasActiveGlobalRole(ctx context.Context, ssoUserID, roleName string) (ok bool, err error) {
	defer func(start time.Time) { s.observe("has_active_global_role", start, err) }(time.Now())

	err = s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM tenant_user_roles tur
			JOIN tenant_users tu ON tu.id = tur.tenant_user_id
			JOIN sso_users su ON su.id = tu.sso_user_id
			JOIN roles r ON r.id = tur.role_id
			WHERE su.sso_user_id = $1 AND r.name = $2 AND NOT tur.is_deleted
		)`,
		ssoUserID, roleName,
	).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("failed to check global role: %w", err)
	}
	return ok, nil
}
