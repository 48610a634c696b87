package groups

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bcgov/tenant-management-system-sub000/pkg/apierrors"
	"github.com/bcgov/tenant-management-system-sub000/pkg/database"
	"github.com/bcgov/tenant-management-system-sub000/pkg/observability"
	"github.com/bcgov/tenant-management-system-sub000/pkg/tenants"
)

// Store is the repository for groups and group memberships. It leans on
// the tenant store for identity resolution and membership provisioning.
type Store struct {
	db      *sql.DB
	users   *tenants.Store
	metrics *observability.Metrics
}

// NewStore creates a group store. metrics may be nil.
func NewStore(db *sql.DB, users *tenants.Store, metrics *observability.Metrics) *Store {
	return &Store{db: db, users: users, metrics: metrics}
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

// CreateGroup creates a group, optionally with one initial member, in
// one transaction.
func (s *Store) CreateGroup(ctx context.Context, tenantID string, input CreateGroupInput) (group *Group, err error) {
	defer func(start time.Time) { s.observe("create_group", start, err) }(time.Now())

	err = database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		var tenantExists bool
		if err := tx.QueryRowContext(ctx,
			"SELECT EXISTS (SELECT 1 FROM tenants WHERE id = $1)", tenantID,
		).Scan(&tenantExists); err != nil {
			return fmt.Errorf("failed to check tenant: %w", err)
		}
		if !tenantExists {
			return apierrors.NotFound("tenant %s not found", tenantID)
		}

		var existingID string
		err := tx.QueryRowContext(ctx,
			"SELECT id FROM groups WHERE tenant_id = $1 AND name = $2",
			tenantID, input.Name,
		).Scan(&existingID)
		if err == nil {
			return apierrors.Conflict("a group named %q already exists in this tenant", input.Name)
		}
		if err != sql.ErrNoRows {
			return fmt.Errorf("failed to check group uniqueness: %w", err)
		}

		group = &Group{
			ID:          uuid.New().String(),
			TenantID:    tenantID,
			Name:        input.Name,
			Description: input.Description,
			CreatedBy:   input.Actor,
		}
		err = tx.QueryRowContext(ctx, `
			INSERT INTO groups (id, tenant_id, name, description, created_by, updated_by)
			VALUES ($1, $2, $3, NULLIF($4, ''), $5, $5)
			RETURNING created_at, updated_at`,
			group.ID, tenantID, group.Name, group.Description, input.Actor,
		).Scan(&group.CreatedAt, &group.UpdatedAt)
		if err != nil {
			if database.IsUniqueViolation(err) {
				return apierrors.Conflict("a group named %q already exists in this tenant", input.Name)
			}
			return fmt.Errorf("failed to insert group: %w", err)
		}

		if input.TenantUserID == nil {
			return nil
		}

		var memberTenantID string
		err = tx.QueryRowContext(ctx,
			"SELECT tenant_id FROM tenant_users WHERE id = $1", *input.TenantUserID,
		).Scan(&memberTenantID)
		if err == sql.ErrNoRows || (err == nil && memberTenantID != tenantID) {
			return apierrors.NotFound("tenant user %s not found in tenant %s", *input.TenantUserID, tenantID)
		}
		if err != nil {
			return fmt.Errorf("failed to check initial member: %w", err)
		}

		member := GroupUser{ID: uuid.New().String()}
		err = tx.QueryRowContext(ctx, `
			INSERT INTO group_users (id, group_id, tenant_user_id, created_by, updated_by)
			VALUES ($1, $2, $3, $4, $4)
			RETURNING created_at, updated_at`,
			member.ID, group.ID, *input.TenantUserID, input.Actor,
		).Scan(&member.CreatedAt, &member.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert initial group member: %w", err)
		}
		group.Users = []GroupUser{member}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return group, nil
}

// UpdateGroup applies a partial update. Renaming onto another group in
// the tenant fails with Conflict.
func (s *Store) UpdateGroup(ctx context.Context, tenantID, groupID string, input UpdateGroupInput) (group *Group, err error) {
	defer func(start time.Time) { s.observe("update_group", start, err) }(time.Now())

	setClauses := []string{}
	args := []interface{}{}
	argPos := 1

	if input.Name != nil {
		setClauses = append(setClauses, fmt.Sprintf("name = $%d", argPos))
		args = append(args, *input.Name)
		argPos++
	}
	if input.Description != nil {
		setClauses = append(setClauses, fmt.Sprintf("description = NULLIF($%d, '')", argPos))
		args = append(args, *input.Description)
		argPos++
	}
	if len(setClauses) == 0 {
		return s.GetGroup(ctx, tenantID, groupID)
	}

	setClauses = append(setClauses, "updated_at = NOW()", fmt.Sprintf("updated_by = $%d", argPos))
	args = append(args, input.Actor)
	argPos++
	args = append(args, groupID, tenantID)

	query := fmt.Sprintf("UPDATE groups SET %s WHERE id = $%d AND tenant_id = $%d",
		strings.Join(setClauses, ", "), argPos, argPos+1)
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return nil, apierrors.Conflict("a group with that name already exists in this tenant")
		}
		return nil, fmt.Errorf("failed to update group: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return nil, apierrors.NotFound("group %s not found in tenant %s", groupID, tenantID)
	}

	return s.GetGroup(ctx, tenantID, groupID)
}

// AddGroupUser adds a user to a group. A subject not yet belonging to
// the tenant is onboarded with only the Service User role. Re-adding a
// previously removed member restores the original row.
func (s *Store) AddGroupUser(ctx context.Context, tenantID, groupID string, input AddGroupUserInput) (member *GroupUser, err error) {
	defer func(start time.Time) { s.observe("add_group_user", start, err) }(time.Now())

	err = database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if err := s.groupInTenantTx(ctx, tx, tenantID, groupID); err != nil {
			return err
		}

		tenantUser, _, err := s.users.EnsureMembershipTx(ctx, tx, tenantID, input.User, input.Actor)
		if err != nil {
			return err
		}

		var rowID string
		var isDeleted bool
		err = tx.QueryRowContext(ctx,
			"SELECT id, is_deleted FROM group_users WHERE group_id = $1 AND tenant_user_id = $2",
			groupID, tenantUser.ID,
		).Scan(&rowID, &isDeleted)
		switch {
		case err == sql.ErrNoRows:
			member = &GroupUser{ID: uuid.New().String(), SsoUser: tenantUser.SsoUser}
			err = tx.QueryRowContext(ctx, `
				INSERT INTO group_users (id, group_id, tenant_user_id, created_by, updated_by)
				VALUES ($1, $2, $3, $4, $4)
				RETURNING created_at, updated_at`,
				member.ID, groupID, tenantUser.ID, input.Actor,
			).Scan(&member.CreatedAt, &member.UpdatedAt)
			if err != nil {
				return fmt.Errorf("failed to insert group member: %w", err)
			}
			return nil
		case err != nil:
			return fmt.Errorf("failed to check group membership: %w", err)
		case !isDeleted:
			return apierrors.Conflict("user %s is already a member of this group", input.User.SsoUserID)
		default:
			// soft-deleted row: restore instead of duplicating
			member = &GroupUser{ID: rowID, SsoUser: tenantUser.SsoUser}
			err = tx.QueryRowContext(ctx, `
				UPDATE group_users
				SET is_deleted = FALSE, updated_at = NOW(), updated_by = $2
				WHERE id = $1
				RETURNING created_at, updated_at`,
				rowID, input.Actor,
			).Scan(&member.CreatedAt, &member.UpdatedAt)
			if err != nil {
				return fmt.Errorf("failed to restore group member: %w", err)
			}
			return nil
		}
	})
	if err != nil {
		return nil, err
	}
	return member, nil
}

// RemoveGroupUser soft-deletes a group membership
func (s *Store) RemoveGroupUser(ctx context.Context, tenantID, groupID, groupUserID, actor string) (err error) {
	defer func(start time.Time) { s.observe("remove_group_user", start, err) }(time.Now())

	result, err := s.db.ExecContext(ctx, `
		UPDATE group_users gu
		SET is_deleted = TRUE, updated_at = NOW(), updated_by = $4
		FROM groups g
		WHERE gu.id = $1 AND gu.group_id = $2 AND g.id = gu.group_id AND g.tenant_id = $3 AND NOT gu.is_deleted`,
		groupUserID, groupID, tenantID, actor,
	)
	if err != nil {
		return fmt.Errorf("failed to remove group member: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return apierrors.NotFound("group member %s not found", groupUserID)
	}
	return nil
}

// GetGroup fetches a group without its members
func (s *Store) GetGroup(ctx context.Context, tenantID, groupID string) (group *Group, err error) {
	defer func(start time.Time) { s.observe("get_group", start, err) }(time.Now())
	return s.getGroupQ(ctx, s.db, tenantID, groupID)
}

func (s *Store) getGroupQ(ctx context.Context, q database.Querier, tenantID, groupID string) (*Group, error) {
	group := &Group{}
	err := q.QueryRowContext(ctx, `
		SELECT id, tenant_id, name, COALESCE(description, ''), COALESCE(created_by, ''), created_at, updated_at
		FROM groups
		WHERE id = $1 AND tenant_id = $2`,
		groupID, tenantID,
	).Scan(&group.ID, &group.TenantID, &group.Name, &group.Description,
		&group.CreatedBy, &group.CreatedAt, &group.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, apierrors.NotFound("group %s not found in tenant %s", groupID, tenantID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get group: %w", err)
	}
	return group, nil
}

// GetGroupWithMembers fetches a group with its active members
func (s *Store) GetGroupWithMembers(ctx context.Context, tenantID, groupID string) (group *Group, err error) {
	defer func(start time.Time) { s.observe("get_group_with_members", start, err) }(time.Now())

	group, err = s.getGroupQ(ctx, s.db, tenantID, groupID)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT gu.id, gu.is_deleted, gu.created_at, gu.updated_at,
		       su.id, su.sso_user_id, su.email, COALESCE(su.first_name, ''), COALESCE(su.last_name, ''),
		       COALESCE(su.display_name, ''), COALESCE(su.user_name, ''), su.created_at, su.updated_at
		FROM group_users gu
		JOIN tenant_users tu ON tu.id = gu.tenant_user_id
		JOIN sso_users su ON su.id = tu.sso_user_id
		WHERE gu.group_id = $1 AND NOT gu.is_deleted
		ORDER BY su.display_name, su.email`,
		groupID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query group members: %w", err)
	}
	defer rows.Close()

	group.Users = []GroupUser{}
	for rows.Next() {
		var m GroupUser
		if err := rows.Scan(&m.ID, &m.IsDeleted, &m.CreatedAt, &m.UpdatedAt,
			&m.SsoUser.ID, &m.SsoUser.SsoUserID, &m.SsoUser.Email, &m.SsoUser.FirstName,
			&m.SsoUser.LastName, &m.SsoUser.DisplayName, &m.SsoUser.UserName,
			&m.SsoUser.CreatedAt, &m.SsoUser.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan group member: %w", err)
		}
		group.Users = append(group.Users, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating group members: %w", err)
	}
	return group, nil
}

// GetGroupsForMember lists the tenant's groups the subject actively
// belongs to. This is the first-party listing.
func (s *Store) GetGroupsForMember(ctx context.Context, tenantID, ssoUserID string) (groups []Group, err error) {
	defer func(start time.Time) { s.observe("get_groups_for_member", start, err) }(time.Now())

	if err = s.tenantExists(ctx, tenantID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT g.id, g.tenant_id, g.name, COALESCE(g.description, ''), COALESCE(g.created_by, ''), g.created_at, g.updated_at
		FROM groups g
		JOIN group_users gu ON gu.group_id = g.id AND NOT gu.is_deleted
		JOIN tenant_users tu ON tu.id = gu.tenant_user_id
		JOIN sso_users su ON su.id = tu.sso_user_id
		WHERE g.tenant_id = $1 AND su.sso_user_id = $2
		ORDER BY g.name`,
		tenantID, ssoUserID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query member groups: %w", err)
	}
	defer rows.Close()

	return scanGroups(rows)
}

// ListGroups lists every group in the tenant. This is the
// shared-service introspection path; the audience gate runs upstream.
func (s *Store) ListGroups(ctx context.Context, tenantID string) (groups []Group, err error) {
	defer func(start time.Time) { s.observe("list_groups", start, err) }(time.Now())

	if err = s.tenantExists(ctx, tenantID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, name, COALESCE(description, ''), COALESCE(created_by, ''), created_at, updated_at
		FROM groups
		WHERE tenant_id = $1
		ORDER BY name`,
		tenantID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query groups: %w", err)
	}
	defer rows.Close()

	return scanGroups(rows)
}

func (s *Store) tenantExists(ctx context.Context, tenantID string) error {
	var exists bool
	if err := s.db.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM tenants WHERE id = $1)", tenantID,
	).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check tenant: %w", err)
	}
	if !exists {
		return apierrors.NotFound("tenant %s not found", tenantID)
	}
	return nil
}

func (s *Store) groupInTenantTx(ctx context.Context, q database.Querier, tenantID, groupID string) error {
	var exists bool
	if err := q.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM groups WHERE id = $1 AND tenant_id = $2)",
		groupID, tenantID,
	).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check group: %w", err)
	}
	if !exists {
		return apierrors.NotFound("group %s not found in tenant %s", groupID, tenantID)
	}
	return nil
}

func scanGroups(rows *sql.Rows) ([]Group, error) {
	groups := []Group{}
	for rows.Next() {
		var g Group
		if err := rows.Scan(&g.ID, &g.TenantID, &g.Name, &g.Description,
			&g.CreatedBy, &g.CreatedAt, &g.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan group: %w", err)
		}
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating groups: %w", err)
	}
	return groups, nil
}
