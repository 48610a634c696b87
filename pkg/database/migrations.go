package database

import (
	"context"
	"database/sql"
	"fmt"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// GetMigrations returns all schema migrations in order
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create sso_users table",
			SQL: `
				CREATE TABLE IF NOT EXISTS sso_users (
					id UUID PRIMARY KEY,
					sso_user_id VARCHAR(255) NOT NULL,
					email VARCHAR(255) NOT NULL,
					first_name VARCHAR(255),
					last_name VARCHAR(255),
					display_name VARCHAR(255),
					user_name VARCHAR(255),
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					created_by VARCHAR(255),
					updated_by VARCHAR(255),
					UNIQUE(sso_user_id),
					UNIQUE(email)
				);
			`,
		},
		{
			Version:     2,
			Description: "Create tenants and roles tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS tenants (
					id UUID PRIMARY KEY,
					name VARCHAR(255) NOT NULL,
					ministry_name VARCHAR(255) NOT NULL,
					description TEXT,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					created_by VARCHAR(255),
					updated_by VARCHAR(255),
					UNIQUE(name, ministry_name)
				);

				CREATE TABLE IF NOT EXISTS roles (
					id UUID PRIMARY KEY,
					name VARCHAR(255) NOT NULL,
					display_name VARCHAR(255) NOT NULL,
					description TEXT,
					tenant_id UUID REFERENCES tenants(id) ON DELETE CASCADE,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					created_by VARCHAR(255),
					updated_by VARCHAR(255)
				);

				CREATE UNIQUE INDEX idx_roles_global_name ON roles(name) WHERE tenant_id IS NULL;
				CREATE UNIQUE INDEX idx_roles_tenant_name ON roles(tenant_id, name) WHERE tenant_id IS NOT NULL;
			`,
		},
		{
			Version:     3,
			Description: "Create tenant_users and tenant_user_roles tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS tenant_users (
					id UUID PRIMARY KEY,
					tenant_id UUID NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
					sso_user_id UUID NOT NULL REFERENCES sso_users(id),
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					created_by VARCHAR(255),
					updated_by VARCHAR(255),
					UNIQUE(tenant_id, sso_user_id)
				);

				CREATE TABLE IF NOT EXISTS tenant_user_roles (
					id UUID PRIMARY KEY,
					tenant_user_id UUID NOT NULL REFERENCES tenant_users(id) ON DELETE CASCADE,
					role_id UUID NOT NULL REFERENCES roles(id),
					is_deleted BOOLEAN NOT NULL DEFAULT FALSE,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					created_by VARCHAR(255),
					updated_by VARCHAR(255)
				);

				-- one active assignment per (membership, role); closes the
				-- check-then-insert race under concurrent writers
				CREATE UNIQUE INDEX idx_tenant_user_roles_active
					ON tenant_user_roles(tenant_user_id, role_id) WHERE NOT is_deleted;
				CREATE INDEX idx_tenant_user_roles_role_id ON tenant_user_roles(role_id);
			`,
		},
		{
			Version:     4,
			Description: "Create groups and group_users tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS groups (
					id UUID PRIMARY KEY,
					tenant_id UUID NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
					name VARCHAR(255) NOT NULL,
					description TEXT,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					created_by VARCHAR(255),
					updated_by VARCHAR(255),
					UNIQUE(tenant_id, name)
				);

				CREATE TABLE IF NOT EXISTS group_users (
					id UUID PRIMARY KEY,
					group_id UUID NOT NULL REFERENCES groups(id) ON DELETE CASCADE,
					tenant_user_id UUID NOT NULL REFERENCES tenant_users(id) ON DELETE CASCADE,
					is_deleted BOOLEAN NOT NULL DEFAULT FALSE,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					created_by VARCHAR(255),
					updated_by VARCHAR(255),
					UNIQUE(group_id, tenant_user_id)
				);

				CREATE INDEX idx_group_users_tenant_user_id ON group_users(tenant_user_id);
			`,
		},
		{
			Version:     5,
			Description: "Create shared service tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS shared_services (
					id UUID PRIMARY KEY,
					name VARCHAR(255) NOT NULL,
					client_identifier VARCHAR(255) NOT NULL,
					description TEXT,
					is_active BOOLEAN NOT NULL DEFAULT TRUE,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					created_by VARCHAR(255),
					updated_by VARCHAR(255),
					UNIQUE(name)
				);

				CREATE TABLE IF NOT EXISTS shared_service_roles (
					id UUID PRIMARY KEY,
					shared_service_id UUID NOT NULL REFERENCES shared_services(id) ON DELETE CASCADE,
					name VARCHAR(255) NOT NULL,
					description TEXT,
					is_deleted BOOLEAN NOT NULL DEFAULT FALSE,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					created_by VARCHAR(255),
					updated_by VARCHAR(255),
					UNIQUE(shared_service_id, name)
				);

				CREATE TABLE IF NOT EXISTS tenant_shared_services (
					id UUID PRIMARY KEY,
					tenant_id UUID NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
					shared_service_id UUID NOT NULL REFERENCES shared_services(id),
					is_deleted BOOLEAN NOT NULL DEFAULT FALSE,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					created_by VARCHAR(255),
					updated_by VARCHAR(255),
					UNIQUE(tenant_id, shared_service_id)
				);

				CREATE TABLE IF NOT EXISTS group_shared_service_roles (
					id UUID PRIMARY KEY,
					group_id UUID NOT NULL REFERENCES groups(id) ON DELETE CASCADE,
					shared_service_role_id UUID NOT NULL REFERENCES shared_service_roles(id),
					is_deleted BOOLEAN NOT NULL DEFAULT FALSE,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					created_by VARCHAR(255),
					updated_by VARCHAR(255),
					UNIQUE(group_id, shared_service_role_id)
				);

				-- hot lookup path: "is this role currently enabled for this group"
				CREATE INDEX idx_group_ssr_lookup
					ON group_shared_service_roles(group_id, shared_service_role_id, is_deleted);
			`,
		},
		{
			Version:     6,
			Description: "Create tenant_requests table",
			SQL: `
				CREATE TABLE IF NOT EXISTS tenant_requests (
					id UUID PRIMARY KEY,
					name VARCHAR(255) NOT NULL,
					ministry_name VARCHAR(255) NOT NULL,
					description TEXT,
					status VARCHAR(20) NOT NULL DEFAULT 'NEW',
					requester_id UUID NOT NULL REFERENCES sso_users(id),
					rejection_reason TEXT,
					decisioned_by UUID REFERENCES sso_users(id),
					decisioned_at TIMESTAMPTZ,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					created_by VARCHAR(255),
					updated_by VARCHAR(255),
					CHECK (status IN ('NEW', 'APPROVED', 'REJECTED'))
				);

				CREATE INDEX idx_tenant_requests_status ON tenant_requests(status);
			`,
		},
		{
			Version:     7,
			Description: "Create audit_events table",
			SQL: `
				CREATE TABLE IF NOT EXISTS audit_events (
					id BIGSERIAL PRIMARY KEY,
					timestamp TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					event_type VARCHAR(100) NOT NULL,
					actor VARCHAR(255),
					tenant_id UUID,
					resource_type VARCHAR(50),
					resource_id VARCHAR(255),
					request_id VARCHAR(100),
					message TEXT,
					metadata JSONB
				);

				CREATE INDEX idx_audit_events_tenant_id ON audit_events(tenant_id);
				CREATE INDEX idx_audit_events_event_type ON audit_events(event_type);
			`,
		},
		{
			Version:     8,
			Description: "Seed operations admin role",
			SQL: `
				INSERT INTO roles (id, name, display_name, description, tenant_id)
				VALUES (
					'c0a80000-0000-4000-8000-000000000001',
					'TMS.OPERATIONS_ADMIN',
					'Operations Admin',
					'Reviews and decides tenant requests',
					NULL
				)
				ON CONFLICT DO NOTHING;
			`,
		},
	}
}

// RunMigrations executes all pending migrations, each in its own transaction
func RunMigrations(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS tms_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM tms_migrations ORDER BY version")
	if err != nil {
		return fmt.Errorf("failed to query migrations: %w", err)
	}

	appliedVersions := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan migration version: %w", err)
		}
		appliedVersions[version] = true
	}
	rows.Close()

	for _, migration := range GetMigrations() {
		if appliedVersions[migration.Version] {
			continue
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to start transaction: %w", err)
		}

		if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
		}

		if _, err := tx.ExecContext(ctx,
			"INSERT INTO tms_migrations (version, description) VALUES ($1, $2)",
			migration.Version, migration.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}
	}

	return nil
}
