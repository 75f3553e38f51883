package rbac

import (
	"context"
	"database/sql"
	"fmt"
)

// Migration is one versioned schema step.
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// GetMigrations returns the authorization schema migrations in order.
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create organizations table",
			SQL: `
				CREATE TABLE IF NOT EXISTS organizations (
					id VARCHAR(36) PRIMARY KEY,
					name VARCHAR(255) NOT NULL,
					created_at TIMESTAMP NOT NULL,
					updated_at TIMESTAMP NOT NULL
				);
			`,
		},
		{
			Version:     2,
			Description: "Create memberships table",
			SQL: `
				CREATE TABLE IF NOT EXISTS memberships (
					user_id VARCHAR(36) NOT NULL,
					organization_id VARCHAR(36) NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
					is_active BOOLEAN NOT NULL DEFAULT FALSE,
					membership_role VARCHAR(16) NOT NULL DEFAULT 'MEMBER',
					role_id VARCHAR(36),
					joined_at TIMESTAMP NOT NULL,
					PRIMARY KEY (user_id, organization_id)
				);

				CREATE INDEX idx_memberships_organization_id ON memberships(organization_id);
				CREATE INDEX idx_memberships_role_id ON memberships(role_id);
				CREATE INDEX idx_memberships_user_active ON memberships(user_id, is_active);
			`,
		},
		{
			Version:     3,
			Description: "Create roles and role_grants tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS roles (
					id VARCHAR(36) PRIMARY KEY,
					organization_id VARCHAR(36) NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
					name VARCHAR(255) NOT NULL,
					description TEXT NOT NULL DEFAULT '',
					created_at TIMESTAMP NOT NULL,
					updated_at TIMESTAMP NOT NULL,
					UNIQUE(organization_id, name)
				);

				CREATE INDEX idx_roles_organization_id ON roles(organization_id);

				CREATE TABLE IF NOT EXISTS role_grants (
					role_id VARCHAR(36) NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
					permission_key VARCHAR(64) NOT NULL,
					value BOOLEAN NOT NULL,
					PRIMARY KEY (role_id, permission_key)
				);
			`,
		},
		{
			Version:     4,
			Description: "Create permission_overrides table",
			SQL: `
				CREATE TABLE IF NOT EXISTS permission_overrides (
					user_id VARCHAR(36) NOT NULL,
					organization_id VARCHAR(36) NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
					permission_key VARCHAR(64) NOT NULL,
					value BOOLEAN NOT NULL,
					created_at TIMESTAMP NOT NULL,
					updated_at TIMESTAMP NOT NULL,
					PRIMARY KEY (user_id, organization_id, permission_key)
				);

				CREATE INDEX idx_permission_overrides_member ON permission_overrides(user_id, organization_id);
			`,
		},
	}
}

// RunMigrations applies all pending migrations, each in its own transaction.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS authz_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM authz_migrations ORDER BY version")
	if err != nil {
		return fmt.Errorf("failed to query migrations: %w", err)
	}
	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = true
	}
	rows.Close()

	for _, migration := range GetMigrations() {
		if applied[migration.Version] {
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
			"INSERT INTO authz_migrations (version, description) VALUES ($1, $2)",
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
