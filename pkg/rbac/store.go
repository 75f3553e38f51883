package rbac

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/alanvitalp/road-to-next/pkg/permissions"
)

// querier is satisfied by both *sql.DB and *sql.Tx so the same queries serve
// plain reads and transactional guard mutations.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Store handles authorization data persistence. Lookups that find nothing
// return (nil, nil), not an error; classifying a miss is the caller's job.
type Store struct {
	db *sql.DB
}

// NewStore creates a new store over db.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// WithTx runs fn inside a transaction, committing on nil and rolling back on
// error or panic.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Roles

// CreateRole inserts a role and its grants. A zero ID is filled with a new
// UUID.
func (s *Store) CreateRole(ctx context.Context, role *Role) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		return createRole(ctx, tx, role)
	})
}

func createRole(ctx context.Context, q querier, role *Role) error {
	if role.ID == "" {
		role.ID = uuid.NewString()
	}
	now := time.Now().UTC()

	query := `
		INSERT INTO roles (id, organization_id, name, description, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := q.ExecContext(ctx, query,
		role.ID,
		role.OrganizationID,
		role.Name,
		role.Description,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to create role: %w", err)
	}

	for _, g := range role.Grants {
		if err := insertGrant(ctx, q, role.ID, g); err != nil {
			return err
		}
	}

	role.CreatedAt = now
	role.UpdatedAt = now
	return nil
}

func insertGrant(ctx context.Context, q querier, roleID string, g Grant) error {
	query := `
		INSERT INTO role_grants (role_id, permission_key, value)
		VALUES ($1, $2, $3)
	`
	if _, err := q.ExecContext(ctx, query, roleID, string(g.Key), g.Value); err != nil {
		return fmt.Errorf("failed to insert role grant: %w", err)
	}
	return nil
}

// GetRole retrieves a role with its grants.
func (s *Store) GetRole(ctx context.Context, roleID string) (*Role, error) {
	return getRole(ctx, s.db, roleID)
}

func getRole(ctx context.Context, q querier, roleID string) (*Role, error) {
	query := `
		SELECT id, organization_id, name, description, created_at, updated_at
		FROM roles
		WHERE id = $1
	`

	var role Role
	err := q.QueryRowContext(ctx, query, roleID).Scan(
		&role.ID,
		&role.OrganizationID,
		&role.Name,
		&role.Description,
		&role.CreatedAt,
		&role.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}

	if role.Grants, err = listGrants(ctx, q, role.ID); err != nil {
		return nil, err
	}
	return &role, nil
}

// GetRoleByName retrieves a role by its per-organization unique name.
func (s *Store) GetRoleByName(ctx context.Context, orgID, name string) (*Role, error) {
	return getRoleByName(ctx, s.db, orgID, name)
}

func getRoleByName(ctx context.Context, q querier, orgID, name string) (*Role, error) {
	query := `
		SELECT id, organization_id, name, description, created_at, updated_at
		FROM roles
		WHERE organization_id = $1 AND name = $2
	`

	var role Role
	err := q.QueryRowContext(ctx, query, orgID, name).Scan(
		&role.ID,
		&role.OrganizationID,
		&role.Name,
		&role.Description,
		&role.CreatedAt,
		&role.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role by name: %w", err)
	}

	if role.Grants, err = listGrants(ctx, q, role.ID); err != nil {
		return nil, err
	}
	return &role, nil
}

func listGrants(ctx context.Context, q querier, roleID string) ([]Grant, error) {
	query := `
		SELECT permission_key, value
		FROM role_grants
		WHERE role_id = $1
		ORDER BY permission_key ASC
	`

	rows, err := q.QueryContext(ctx, query, roleID)
	if err != nil {
		return nil, fmt.Errorf("failed to list role grants: %w", err)
	}
	defer rows.Close()

	var grants []Grant
	for rows.Next() {
		var g Grant
		var key string
		if err := rows.Scan(&key, &g.Value); err != nil {
			return nil, fmt.Errorf("failed to scan role grant: %w", err)
		}
		g.Key = permissions.Key(key)
		grants = append(grants, g)
	}
	return grants, rows.Err()
}

// ListRoles lists an organization's roles with member counts, ordered by name.
func (s *Store) ListRoles(ctx context.Context, orgID string) ([]RoleWithMemberCount, error) {
	query := `
		SELECT r.id, r.organization_id, r.name, r.description, r.created_at, r.updated_at,
		       COUNT(m.user_id)
		FROM roles r
		LEFT JOIN memberships m ON m.role_id = r.id
		WHERE r.organization_id = $1
		GROUP BY r.id, r.organization_id, r.name, r.description, r.created_at, r.updated_at
		ORDER BY r.name ASC
	`

	rows, err := s.db.QueryContext(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	defer rows.Close()

	var roles []RoleWithMemberCount
	for rows.Next() {
		var r RoleWithMemberCount
		err := rows.Scan(
			&r.ID,
			&r.OrganizationID,
			&r.Name,
			&r.Description,
			&r.CreatedAt,
			&r.UpdatedAt,
			&r.MemberCount,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		roles = append(roles, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range roles {
		if roles[i].Grants, err = listGrants(ctx, s.db, roles[i].ID); err != nil {
			return nil, err
		}
	}
	return roles, nil
}

// ListRoleMembers lists memberships currently assigned to a role.
func (s *Store) ListRoleMembers(ctx context.Context, roleID string) ([]Membership, error) {
	query := membershipColumns + `
		WHERE role_id = $1
		ORDER BY joined_at ASC
	`
	return queryMemberships(ctx, s.db, query, roleID)
}

// ReplaceRoleGrants atomically swaps a role's grant set: delete everything,
// insert the new set, bump updated_at.
func (s *Store) ReplaceRoleGrants(ctx context.Context, roleID string, grants []Grant) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		return replaceRoleGrants(ctx, tx, roleID, grants)
	})
}

func replaceRoleGrants(ctx context.Context, q querier, roleID string, grants []Grant) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM role_grants WHERE role_id = $1`, roleID); err != nil {
		return fmt.Errorf("failed to clear role grants: %w", err)
	}
	for _, g := range grants {
		if err := insertGrant(ctx, q, roleID, g); err != nil {
			return err
		}
	}
	query := `UPDATE roles SET updated_at = $1 WHERE id = $2`
	if _, err := q.ExecContext(ctx, query, time.Now().UTC(), roleID); err != nil {
		return fmt.Errorf("failed to touch role: %w", err)
	}
	return nil
}

func deleteRole(ctx context.Context, q querier, roleID string) error {
	if _, err := q.ExecContext(ctx, `UPDATE memberships SET role_id = NULL WHERE role_id = $1`, roleID); err != nil {
		return fmt.Errorf("failed to unassign role: %w", err)
	}
	if _, err := q.ExecContext(ctx, `DELETE FROM role_grants WHERE role_id = $1`, roleID); err != nil {
		return fmt.Errorf("failed to delete role grants: %w", err)
	}
	if _, err := q.ExecContext(ctx, `DELETE FROM roles WHERE id = $1`, roleID); err != nil {
		return fmt.Errorf("failed to delete role: %w", err)
	}
	return nil
}

// Memberships

const membershipColumns = `
	SELECT user_id, organization_id, is_active, membership_role, role_id, joined_at
	FROM memberships`

func scanMembership(rows *sql.Rows) (Membership, error) {
	var m Membership
	var tier string
	var roleID sql.NullString
	err := rows.Scan(&m.UserID, &m.OrganizationID, &m.IsActive, &tier, &roleID, &m.JoinedAt)
	if err != nil {
		return m, fmt.Errorf("failed to scan membership: %w", err)
	}
	m.Tier = Tier(tier)
	if roleID.Valid {
		id := roleID.String
		m.RoleID = &id
	}
	return m, nil
}

func queryMemberships(ctx context.Context, q querier, query string, args ...interface{}) ([]Membership, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query memberships: %w", err)
	}
	defer rows.Close()

	var members []Membership
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// GetMembership retrieves one (user, organization) membership.
func (s *Store) GetMembership(ctx context.Context, userID, orgID string) (*Membership, error) {
	return getMembership(ctx, s.db, userID, orgID)
}

func getMembership(ctx context.Context, q querier, userID, orgID string) (*Membership, error) {
	query := membershipColumns + `
		WHERE user_id = $1 AND organization_id = $2
	`

	var m Membership
	var tier string
	var roleID sql.NullString
	err := q.QueryRowContext(ctx, query, userID, orgID).Scan(
		&m.UserID,
		&m.OrganizationID,
		&m.IsActive,
		&tier,
		&roleID,
		&m.JoinedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get membership: %w", err)
	}

	m.Tier = Tier(tier)
	if roleID.Valid {
		id := roleID.String
		m.RoleID = &id
	}
	return &m, nil
}

// ListMemberships lists an organization's memberships ordered by join time.
func (s *Store) ListMemberships(ctx context.Context, orgID string) ([]Membership, error) {
	return listMemberships(ctx, s.db, orgID)
}

func listMemberships(ctx context.Context, q querier, orgID string) ([]Membership, error) {
	query := membershipColumns + `
		WHERE organization_id = $1
		ORDER BY joined_at ASC
	`
	return queryMemberships(ctx, q, query, orgID)
}

// countMemberships returns the organization's membership count.
func countMemberships(ctx context.Context, q querier, orgID string) (int, error) {
	var n int
	err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM memberships WHERE organization_id = $1`, orgID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count memberships: %w", err)
	}
	return n, nil
}

// listAdminMemberships returns the memberships that count as admin-tier:
// assigned the organization's Admin role, or role-less with the legacy
// ADMIN tier.
func listAdminMemberships(ctx context.Context, q querier, orgID string) ([]Membership, error) {
	query := `
		SELECT m.user_id, m.organization_id, m.is_active, m.membership_role, m.role_id, m.joined_at
		FROM memberships m
		LEFT JOIN roles r ON r.id = m.role_id
		WHERE m.organization_id = $1
		  AND ((m.role_id IS NOT NULL AND r.name = $2)
		       OR (m.role_id IS NULL AND m.membership_role = $3))
		ORDER BY m.joined_at ASC
	`
	return queryMemberships(ctx, q, query, orgID, permissions.RoleNameAdmin, string(TierAdmin))
}

func updateMembershipTier(ctx context.Context, q querier, userID, orgID string, tier Tier) error {
	query := `
		UPDATE memberships
		SET membership_role = $1
		WHERE user_id = $2 AND organization_id = $3
	`
	if _, err := q.ExecContext(ctx, query, string(tier), userID, orgID); err != nil {
		return fmt.Errorf("failed to update membership tier: %w", err)
	}
	return nil
}

func assignMembershipRole(ctx context.Context, q querier, userID, orgID string, roleID *string) error {
	query := `
		UPDATE memberships
		SET role_id = $1
		WHERE user_id = $2 AND organization_id = $3
	`
	if _, err := q.ExecContext(ctx, query, roleID, userID, orgID); err != nil {
		return fmt.Errorf("failed to assign membership role: %w", err)
	}
	return nil
}

func deleteMembership(ctx context.Context, q querier, userID, orgID string) error {
	del := `DELETE FROM permission_overrides WHERE user_id = $1 AND organization_id = $2`
	if _, err := q.ExecContext(ctx, del, userID, orgID); err != nil {
		return fmt.Errorf("failed to delete permission overrides: %w", err)
	}
	if _, err := q.ExecContext(ctx, `DELETE FROM memberships WHERE user_id = $1 AND organization_id = $2`, userID, orgID); err != nil {
		return fmt.Errorf("failed to delete membership: %w", err)
	}
	return nil
}

// Overrides

// UpsertOverride creates or updates one (user, org, key) override.
func (s *Store) UpsertOverride(ctx context.Context, o *Override) error {
	return upsertOverride(ctx, s.db, o)
}

func upsertOverride(ctx context.Context, q querier, o *Override) error {
	now := time.Now().UTC()
	query := `
		INSERT INTO permission_overrides (user_id, organization_id, permission_key, value, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id, organization_id, permission_key)
		DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
	`
	_, err := q.ExecContext(ctx, query,
		o.UserID,
		o.OrganizationID,
		string(o.Key),
		o.Value,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert permission override: %w", err)
	}
	o.UpdatedAt = now
	return nil
}

// DeleteOverride removes one override. Deleting a missing entry is a no-op.
func (s *Store) DeleteOverride(ctx context.Context, userID, orgID string, key permissions.Key) error {
	return deleteOverride(ctx, s.db, userID, orgID, key)
}

func deleteOverride(ctx context.Context, q querier, userID, orgID string, key permissions.Key) error {
	query := `
		DELETE FROM permission_overrides
		WHERE user_id = $1 AND organization_id = $2 AND permission_key = $3
	`
	if _, err := q.ExecContext(ctx, query, userID, orgID, string(key)); err != nil {
		return fmt.Errorf("failed to delete permission override: %w", err)
	}
	return nil
}

// GetOverride retrieves one override.
func (s *Store) GetOverride(ctx context.Context, userID, orgID string, key permissions.Key) (*Override, error) {
	return getOverride(ctx, s.db, userID, orgID, key)
}

func getOverride(ctx context.Context, q querier, userID, orgID string, key permissions.Key) (*Override, error) {
	query := `
		SELECT user_id, organization_id, permission_key, value, created_at, updated_at
		FROM permission_overrides
		WHERE user_id = $1 AND organization_id = $2 AND permission_key = $3
	`

	var o Override
	var k string
	err := q.QueryRowContext(ctx, query, userID, orgID, string(key)).Scan(
		&o.UserID,
		&o.OrganizationID,
		&k,
		&o.Value,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get permission override: %w", err)
	}
	o.Key = permissions.Key(k)
	return &o, nil
}

// ListOverrides lists a member's overrides ordered by key.
func (s *Store) ListOverrides(ctx context.Context, userID, orgID string) ([]Override, error) {
	return listOverridesOrdered(ctx, s.db, userID, orgID)
}

func listOverridesOrdered(ctx context.Context, q querier, userID, orgID string) ([]Override, error) {
	query := `
		SELECT user_id, organization_id, permission_key, value, created_at, updated_at
		FROM permission_overrides
		WHERE user_id = $1 AND organization_id = $2
		ORDER BY permission_key ASC
	`

	rows, err := q.QueryContext(ctx, query, userID, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list permission overrides: %w", err)
	}
	defer rows.Close()

	var overrides []Override
	for rows.Next() {
		var o Override
		var k string
		err := rows.Scan(&o.UserID, &o.OrganizationID, &k, &o.Value, &o.CreatedAt, &o.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan permission override: %w", err)
		}
		o.Key = permissions.Key(k)
		overrides = append(overrides, o)
	}
	return overrides, rows.Err()
}

// Snapshot

// getMemberSnapshot loads everything resolution needs about one (user, org)
// pair. A missing membership yields (nil, nil).
func getMemberSnapshot(ctx context.Context, q querier, userID, orgID string) (*memberSnapshot, error) {
	membership, err := getMembership(ctx, q, userID, orgID)
	if err != nil {
		return nil, err
	}
	if membership == nil {
		return nil, nil
	}

	snap := &memberSnapshot{
		Membership: membership,
		Overrides:  make(map[permissions.Key]bool),
	}

	if membership.RoleID != nil {
		if snap.Role, err = getRole(ctx, q, *membership.RoleID); err != nil {
			return nil, err
		}
	}

	overrides, err := listOverridesOrdered(ctx, q, userID, orgID)
	if err != nil {
		return nil, err
	}
	for _, o := range overrides {
		snap.Overrides[o.Key] = o.Value
	}
	return snap, nil
}
