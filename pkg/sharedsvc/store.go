package sharedsvc

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/bcgov/tenant-management-system-sub000/pkg/apierrors"
	"github.com/bcgov/tenant-management-system-sub000/pkg/database"
	"github.com/bcgov/tenant-management-system-sub000/pkg/observability"
)

// Store is the repository for shared services and role grants
type Store struct {
	db      *sql.DB
	metrics *observability.Metrics
}

// NewStore creates a shared service store. metrics may be nil.
func NewStore(db *sql.DB, metrics *observability.Metrics) *Store {
	return &Store{db: db, metrics: metrics}
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

// CreateSharedService registers a shared service with its roles in one
// transaction.
func (s *Store) CreateSharedService(ctx context.Context, input CreateSharedServiceInput) (service *SharedService, err error) {
	defer func(start time.Time) { s.observe("create_shared_service", start, err) }(time.Now())

	err = database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		service = &SharedService{
			ID:               uuid.New().String(),
			Name:             input.Name,
			ClientIdentifier: input.ClientIdentifier,
			Description:      input.Description,
			IsActive:         true,
		}
		err := tx.QueryRowContext(ctx, `
			INSERT INTO shared_services (id, name, client_identifier, description, created_by, updated_by)
			VALUES ($1, $2, $3, NULLIF($4, ''), $5, $5)
			RETURNING created_at, updated_at`,
			service.ID, service.Name, service.ClientIdentifier, service.Description, input.Actor,
		).Scan(&service.CreatedAt, &service.UpdatedAt)
		if err != nil {
			if database.IsUniqueViolation(err) {
				return apierrors.Conflict("a shared service named %q already exists", input.Name)
			}
			return fmt.Errorf("failed to insert shared service: %w", err)
		}

		for _, roleInput := range input.Roles {
			role, err := s.addRoleTx(ctx, tx, service.ID, roleInput, input.Actor)
			if err != nil {
				return err
			}
			service.Roles = append(service.Roles, *role)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return service, nil
}

// AddSharedServiceRole exposes a new role on a shared service
func (s *Store) AddSharedServiceRole(ctx context.Context, serviceID string, input RoleInput, actor string) (role *SharedServiceRole, err error) {
	defer func(start time.Time) { s.observe("add_shared_service_role", start, err) }(time.Now())

	err = database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		var exists bool
		if err := tx.QueryRowContext(ctx,
			"SELECT EXISTS (SELECT 1 FROM shared_services WHERE id = $1)", serviceID,
		).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check shared service: %w", err)
		}
		if !exists {
			return apierrors.NotFound("shared service %s not found", serviceID)
		}
		role, err = s.addRoleTx(ctx, tx, serviceID, input, actor)
		return err
	})
	if err != nil {
		return nil, err
	}
	return role, nil
}

func (s *Store) addRoleTx(ctx context.Context, tx *sql.Tx, serviceID string, input RoleInput, actor string) (*SharedServiceRole, error) {
	role := &SharedServiceRole{
		ID:          uuid.New().String(),
		Name:        input.Name,
		Description: input.Description,
	}
	err := tx.QueryRowContext(ctx, `
		INSERT INTO shared_service_roles (id, shared_service_id, name, description, created_by, updated_by)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $5)
		RETURNING created_at, updated_at`,
		role.ID, serviceID, role.Name, role.Description, actor,
	).Scan(&role.CreatedAt, &role.UpdatedAt)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return nil, apierrors.Conflict("role %q already exists on this shared service", input.Name)
		}
		return nil, fmt.Errorf("failed to insert shared service role: %w", err)
	}
	return role, nil
}

// AssociateTenant authorizes a tenant to use a shared service. A
// soft-deleted association is reactivated; an active one is a conflict.
func (s *Store) AssociateTenant(ctx context.Context, tenantID, sharedServiceID, actor string) (err error) {
	defer func(start time.Time) { s.observe("associate_tenant", start, err) }(time.Now())

	return database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		var tenantOK bool
		if err := tx.QueryRowContext(ctx,
			"SELECT EXISTS (SELECT 1 FROM tenants WHERE id = $1)", tenantID,
		).Scan(&tenantOK); err != nil {
			return fmt.Errorf("failed to check tenant: %w", err)
		}
		if !tenantOK {
			return apierrors.NotFound("tenant %s not found", tenantID)
		}

		var serviceOK bool
		if err := tx.QueryRowContext(ctx,
			"SELECT EXISTS (SELECT 1 FROM shared_services WHERE id = $1 AND is_active)", sharedServiceID,
		).Scan(&serviceOK); err != nil {
			return fmt.Errorf("failed to check shared service: %w", err)
		}
		if !serviceOK {
			return apierrors.NotFound("shared service %s not found", sharedServiceID)
		}

		var rowID string
		var isDeleted bool
		err := tx.QueryRowContext(ctx,
			"SELECT id, is_deleted FROM tenant_shared_services WHERE tenant_id = $1 AND shared_service_id = $2",
			tenantID, sharedServiceID,
		).Scan(&rowID, &isDeleted)
		switch {
		case err == sql.ErrNoRows:
			_, err = tx.ExecContext(ctx, `
				INSERT INTO tenant_shared_services (id, tenant_id, shared_service_id, created_by, updated_by)
				VALUES ($1, $2, $3, $4, $4)`,
				uuid.New().String(), tenantID, sharedServiceID, actor,
			)
			if err != nil {
				return fmt.Errorf("failed to associate shared service: %w", err)
			}
			return nil
		case err != nil:
			return fmt.Errorf("failed to check association: %w", err)
		case !isDeleted:
			return apierrors.Conflict("shared service is already associated with this tenant")
		default:
			_, err = tx.ExecContext(ctx,
				"UPDATE tenant_shared_services SET is_deleted = FALSE, updated_at = NOW(), updated_by = $2 WHERE id = $1",
				rowID, actor,
			)
			if err != nil {
				return fmt.Errorf("failed to reactivate association: %w", err)
			}
			return nil
		}
	})
}

// GetTenantSharedServices lists the active shared services associated
// with the tenant, with their non-deleted roles.
func (s *Store) GetTenantSharedServices(ctx context.Context, tenantID string) (services []SharedService, err error) {
	defer func(start time.Time) { s.observe("get_tenant_shared_services", start, err) }(time.Now())

	var tenantOK bool
	if err = s.db.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM tenants WHERE id = $1)", tenantID,
	).Scan(&tenantOK); err != nil {
		return nil, fmt.Errorf("failed to check tenant: %w", err)
	}
	if !tenantOK {
		return nil, apierrors.NotFound("tenant %s not found", tenantID)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT ss.id, ss.name, ss.client_identifier, COALESCE(ss.description, ''), ss.is_active,
		       ss.created_at, ss.updated_at
		FROM shared_services ss
		JOIN tenant_shared_services tss ON tss.shared_service_id = ss.id AND NOT tss.is_deleted
		WHERE tss.tenant_id = $1 AND ss.is_active
		ORDER BY ss.name`,
		tenantID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query tenant shared services: %w", err)
	}
	defer rows.Close()

	services = []SharedService{}
	index := make(map[string]int)
	for rows.Next() {
		var svc SharedService
		if err := rows.Scan(&svc.ID, &svc.Name, &svc.ClientIdentifier, &svc.Description,
			&svc.IsActive, &svc.CreatedAt, &svc.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan shared service: %w", err)
		}
		index[svc.ID] = len(services)
		services = append(services, svc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating shared services: %w", err)
	}
	if len(services) == 0 {
		return services, nil
	}

	roleRows, err := s.db.QueryContext(ctx, `
		SELECT ssr.shared_service_id, ssr.id, ssr.name, COALESCE(ssr.description, ''),
		       ssr.created_at, ssr.updated_at
		FROM shared_service_roles ssr
		JOIN tenant_shared_services tss ON tss.shared_service_id = ssr.shared_service_id AND NOT tss.is_deleted
		WHERE tss.tenant_id = $1 AND NOT ssr.is_deleted
		ORDER BY ssr.name`,
		tenantID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query shared service roles: %w", err)
	}
	defer roleRows.Close()

	for roleRows.Next() {
		var serviceID string
		var role SharedServiceRole
		if err := roleRows.Scan(&serviceID, &role.ID, &role.Name, &role.Description,
			&role.CreatedAt, &role.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan shared service role: %w", err)
		}
		if idx, ok := index[serviceID]; ok {
			services[idx].Roles = append(services[idx].Roles, role)
		}
	}
	if err := roleRows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating shared service roles: %w", err)
	}
	return services, nil
}

// SharedServiceActiveForTenant reports whether the shared service
// identified by its client id is active and actively associated with
// the tenant. The access resolver uses it as the audience gate.
func (s *Store) SharedServiceActiveForTenant(ctx context.Context, clientIdentifier, tenantID string) (ok bool, err error) {
	defer func(start time.Time) { s.observe("shared_service_active_for_tenant", start, err) }(time.Now())

	err = s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM shared_services ss
			JOIN tenant_shared_services tss ON tss.shared_service_id = ss.id AND NOT tss.is_deleted
			WHERE ss.client_identifier = $1 AND ss.is_active AND tss.tenant_id = $2
		)`,
		clientIdentifier, tenantID,
	).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("failed to check shared service association: %w", err)
	}
	return ok, nil
}

// GetSharedServiceRolesForGroup returns every role of every shared
// service actively associated with the tenant, annotated with whether
// the group holds an active grant. Services and roles sort by name.
func (s *Store) GetSharedServiceRolesForGroup(ctx context.Context, tenantID, groupID string) (view []ServiceGrantView, err error) {
	defer func(start time.Time) { s.observe("get_shared_service_roles_for_group", start, err) }(time.Now())
	return s.grantViewQ(ctx, s.db, tenantID, groupID)
}

func (s *Store) grantViewQ(ctx context.Context, q database.Querier, tenantID, groupID string) ([]ServiceGrantView, error) {
	if err := s.groupInTenantQ(ctx, q, tenantID, groupID); err != nil {
		return nil, err
	}

	rows, err := q.QueryContext(ctx, `
		SELECT ss.id, ss.name, ssr.id, ssr.name, COALESCE(ssr.description, ''),
		       EXISTS (
		           SELECT 1 FROM group_shared_service_roles gssr
		           WHERE gssr.group_id = $2 AND gssr.shared_service_role_id = ssr.id AND NOT gssr.is_deleted
		       )
		FROM shared_services ss
		JOIN tenant_shared_services tss ON tss.shared_service_id = ss.id AND NOT tss.is_deleted
		JOIN shared_service_roles ssr ON ssr.shared_service_id = ss.id AND NOT ssr.is_deleted
		WHERE tss.tenant_id = $1 AND ss.is_active
		ORDER BY ss.name, ssr.name`,
		tenantID, groupID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query grant view: %w", err)
	}
	defer rows.Close()

	view := []ServiceGrantView{}
	index := make(map[string]int)
	for rows.Next() {
		var serviceID, serviceName string
		var role RoleGrantView
		if err := rows.Scan(&serviceID, &serviceName, &role.ID, &role.Name, &role.Description, &role.Enabled); err != nil {
			return nil, fmt.Errorf("failed to scan grant view row: %w", err)
		}
		idx, ok := index[serviceID]
		if !ok {
			idx = len(view)
			index[serviceID] = idx
			view = append(view, ServiceGrantView{ID: serviceID, Name: serviceName, SharedServiceRoles: []RoleGrantView{}})
		}
		view[idx].SharedServiceRoles = append(view[idx].SharedServiceRoles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating grant view: %w", err)
	}
	return view, nil
}

// UpdateSharedServiceRolesForGroup applies the requested grant toggles
// in one transaction and returns the refreshed view.
func (s *Store) UpdateSharedServiceRolesForGroup(ctx context.Context, tenantID, groupID string, input UpdateGrantsInput) (view []ServiceGrantView, err error) {
	defer func(start time.Time) { s.observe("update_shared_service_roles_for_group", start, err) }(time.Now())

	err = database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if err := s.groupInTenantQ(ctx, tx, tenantID, groupID); err != nil {
			return err
		}

		for _, svcUpdate := range input.SharedServices {
			var associated bool
			err := tx.QueryRowContext(ctx, `
				SELECT EXISTS (
					SELECT 1
					FROM shared_services ss
					JOIN tenant_shared_services tss ON tss.shared_service_id = ss.id AND NOT tss.is_deleted
					WHERE ss.id = $1 AND ss.is_active AND tss.tenant_id = $2
				)`,
				svcUpdate.ID, tenantID,
			).Scan(&associated)
			if err != nil {
				return fmt.Errorf("failed to check shared service association: %w", err)
			}
			if !associated {
				return apierrors.NotFound("shared service %s is not associated with this tenant", svcUpdate.ID)
			}

			for _, toggle := range svcUpdate.SharedServiceRoles {
				var roleOK bool
				err := tx.QueryRowContext(ctx,
					"SELECT EXISTS (SELECT 1 FROM shared_service_roles WHERE id = $1 AND shared_service_id = $2 AND NOT is_deleted)",
					toggle.ID, svcUpdate.ID,
				).Scan(&roleOK)
				if err != nil {
					return fmt.Errorf("failed to check shared service role: %w", err)
				}
				if !roleOK {
					return apierrors.NotFound("shared service role %s not found on shared service %s", toggle.ID, svcUpdate.ID)
				}

				if err := s.applyToggleTx(ctx, tx, groupID, toggle, input.Actor); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return s.grantViewQ(ctx, s.db, tenantID, groupID)
}

// applyToggleTx transitions one grant row. Enabling with no prior row
// inserts, enabling a soft-deleted row reactivates, disabling an active
// row soft-deletes; everything else is a no-op.
func (s *Store) applyToggleTx(ctx context.Context, tx *sql.Tx, groupID string, toggle RoleGrantToggle, actor string) error {
	var rowID string
	var isDeleted bool
	err := tx.QueryRowContext(ctx,
		"SELECT id, is_deleted FROM group_shared_service_roles WHERE group_id = $1 AND shared_service_role_id = $2",
		groupID, toggle.ID,
	).Scan(&rowID, &isDeleted)

	switch {
	case err == sql.ErrNoRows && toggle.Enabled:
		_, err = tx.ExecContext(ctx, `
			INSERT INTO group_shared_service_roles (id, group_id, shared_service_role_id, created_by, updated_by)
			VALUES ($1, $2, $3, $4, $4)`,
			uuid.New().String(), groupID, toggle.ID, actor,
		)
		if err != nil {
			return fmt.Errorf("failed to insert grant: %w", err)
		}
	case err == sql.ErrNoRows:
		// disable with no prior grant: no-op
	case err != nil:
		return fmt.Errorf("failed to check grant: %w", err)
	case toggle.Enabled && isDeleted:
		_, err = tx.ExecContext(ctx,
			"UPDATE group_shared_service_roles SET is_deleted = FALSE, updated_at = NOW(), updated_by = $2 WHERE id = $1",
			rowID, actor,
		)
		if err != nil {
			return fmt.Errorf("failed to reactivate grant: %w", err)
		}
	case !toggle.Enabled && !isDeleted:
		_, err = tx.ExecContext(ctx,
			"UPDATE group_shared_service_roles SET is_deleted = TRUE, updated_at = NOW(), updated_by = $2 WHERE id = $1",
			rowID, actor,
		)
		if err != nil {
			return fmt.Errorf("failed to disable grant: %w", err)
		}
	}
	return nil
}

// GetUserGroupsWithSharedServiceRoles lists the user's active groups in
// the tenant with the currently enabled role names for the caller's
// audience, deduplicated per group and sorted by group name.
func (s *Store) GetUserGroupsWithSharedServiceRoles(ctx context.Context, tenantID, ssoUserID, callerAudience string) (result []GroupRoles, err error) {
	defer func(start time.Time) { s.observe("get_user_groups_with_shared_service_roles", start, err) }(time.Now())

	var memberOK bool
	err = s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM tenant_users tu
			JOIN sso_users su ON su.id = tu.sso_user_id
			WHERE tu.tenant_id = $1 AND su.sso_user_id = $2
		)`,
		tenantID, ssoUserID,
	).Scan(&memberOK)
	if err != nil {
		return nil, fmt.Errorf("failed to check membership: %w", err)
	}
	if !memberOK {
		return nil, apierrors.NotFound("user %s is not a member of tenant %s", ssoUserID, tenantID)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT g.id, g.name, ssr.name
		FROM groups g
		JOIN group_users gu ON gu.group_id = g.id AND NOT gu.is_deleted
		JOIN tenant_users tu ON tu.id = gu.tenant_user_id
		JOIN sso_users su ON su.id = tu.sso_user_id
		JOIN group_shared_service_roles gssr ON gssr.group_id = g.id AND NOT gssr.is_deleted
		JOIN shared_service_roles ssr ON ssr.id = gssr.shared_service_role_id AND NOT ssr.is_deleted
		JOIN shared_services ss ON ss.id = ssr.shared_service_id AND ss.is_active
		JOIN tenant_shared_services tss ON tss.shared_service_id = ss.id
			AND tss.tenant_id = g.tenant_id AND NOT tss.is_deleted
		WHERE g.tenant_id = $1 AND su.sso_user_id = $2 AND ss.client_identifier = $3
		ORDER BY g.name, ssr.name`,
		tenantID, ssoUserID, callerAudience,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query user group roles: %w", err)
	}
	defer rows.Close()

	result = []GroupRoles{}
	index := make(map[string]int)
	for rows.Next() {
		var groupID, groupName, roleName string
		if err := rows.Scan(&groupID, &groupName, &roleName); err != nil {
			return nil, fmt.Errorf("failed to scan user group role: %w", err)
		}
		idx, ok := index[groupID]
		if !ok {
			idx = len(result)
			index[groupID] = idx
			result = append(result, GroupRoles{GroupID: groupID, GroupName: groupName, Roles: []string{}})
		}
		result[idx].Roles = append(result[idx].Roles, roleName)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating user group roles: %w", err)
	}
	return result, nil
}

// GetEffectiveSharedServiceRoles unions the user's enabled roles across
// all groups for the caller's audience, with per-role group provenance.
func (s *Store) GetEffectiveSharedServiceRoles(ctx context.Context, tenantID, ssoUserID, callerAudience string) (result []EffectiveRole, err error) {
	defer func(start time.Time) { s.observe("get_effective_shared_service_roles", start, err) }(time.Now())

	groups, err := s.getUserGroupsDetailed(ctx, tenantID, ssoUserID, callerAudience)
	if err != nil {
		return nil, err
	}

	index := make(map[string]int)
	result = []EffectiveRole{}
	for _, g := range groups {
		for _, role := range g.roles {
			idx, ok := index[role.id]
			if !ok {
				idx = len(result)
				index[role.id] = idx
				result = append(result, EffectiveRole{ID: role.id, Name: role.name, Groups: []GroupRef{}})
			}
			result[idx].Groups = append(result[idx].Groups, GroupRef{ID: g.id, Name: g.name})
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

type groupWithRoleIDs struct {
	id    string
	name  string
	roles []struct{ id, name string }
}

// getUserGroupsDetailed is the id-carrying variant backing the
// effective-role aggregation.
func (s *Store) getUserGroupsDetailed(ctx context.Context, tenantID, ssoUserID, callerAudience string) ([]groupWithRoleIDs, error) {
	var memberOK bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM tenant_users tu
			JOIN sso_users su ON su.id = tu.sso_user_id
			WHERE tu.tenant_id = $1 AND su.sso_user_id = $2
		)`,
		tenantID, ssoUserID,
	).Scan(&memberOK)
	if err != nil {
		return nil, fmt.Errorf("failed to check membership: %w", err)
	}
	if !memberOK {
		return nil, apierrors.NotFound("user %s is not a member of tenant %s", ssoUserID, tenantID)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT g.id, g.name, ssr.id, ssr.name
		FROM groups g
		JOIN group_users gu ON gu.group_id = g.id AND NOT gu.is_deleted
		JOIN tenant_users tu ON tu.id = gu.tenant_user_id
		JOIN sso_users su ON su.id = tu.sso_user_id
		JOIN group_shared_service_roles gssr ON gssr.group_id = g.id AND NOT gssr.is_deleted
		JOIN shared_service_roles ssr ON ssr.id = gssr.shared_service_role_id AND NOT ssr.is_deleted
		JOIN shared_services ss ON ss.id = ssr.shared_service_id AND ss.is_active
		JOIN tenant_shared_services tss ON tss.shared_service_id = ss.id
			AND tss.tenant_id = g.tenant_id AND NOT tss.is_deleted
		WHERE g.tenant_id = $1 AND su.sso_user_id = $2 AND ss.client_identifier = $3
		ORDER BY g.name, ssr.name`,
		tenantID, ssoUserID, callerAudience,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query effective roles: %w", err)
	}
	defer rows.Close()

	result := []groupWithRoleIDs{}
	index := make(map[string]int)
	for rows.Next() {
		var groupID, groupName, roleID, roleName string
		if err := rows.Scan(&groupID, &groupName, &roleID, &roleName); err != nil {
			return nil, fmt.Errorf("failed to scan effective role: %w", err)
		}
		idx, ok := index[groupID]
		if !ok {
			idx = len(result)
			index[groupID] = idx
			result = append(result, groupWithRoleIDs{id: groupID, name: groupName})
		}
		result[idx].roles = append(result[idx].roles, struct{ id, name string }{roleID, roleName})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating effective roles: %w", err)
	}
	return result, nil
}

func (s *Store) groupInTenantQ(ctx context.Context, q database.Querier, tenantID, groupID string) error {
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
