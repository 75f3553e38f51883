package tenants

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/alanvitalp/road-to-next/pkg/observability"
	"github.com/alanvitalp/road-to-next/pkg/permissions"
	"github.com/alanvitalp/road-to-next/pkg/rbac"
)

// PostgresService is the tenant directory: organizations and the membership
// rows that tie users to them. Onboarding, active-organization switching and
// cascade deletion live here; per-member authorization state is the rbac
// package's territory.
type PostgresService struct {
	db       *sql.DB
	resolver *rbac.Resolver
	logger   *observability.Logger
}

// NewPostgresService creates a tenant directory service.
func NewPostgresService(db *sql.DB, resolver *rbac.Resolver, logger *observability.Logger) *PostgresService {
	return &PostgresService{
		db:       db,
		resolver: resolver,
		logger:   logger,
	}
}

// CreateOrganization onboards a new tenant in one transaction: the
// creator's other memberships are deactivated, the organization and the
// creator's active admin membership are created, the Admin and Member roles
// are seeded, and the creator is assigned Admin.
func (s *PostgresService) CreateOrganization(ctx context.Context, creatorUserID, name string) (*Organization, error) {
	if name == "" {
		return nil, rbac.ErrConflict("organization name must not be empty")
	}

	org := &Organization{
		ID:   uuid.NewString(),
		Name: name,
	}
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	deactivate := `UPDATE memberships SET is_active = FALSE WHERE user_id = $1`
	if _, err := tx.ExecContext(ctx, deactivate, creatorUserID); err != nil {
		return nil, fmt.Errorf("failed to deactivate memberships: %w", err)
	}

	insertOrg := `INSERT INTO organizations (id, name, created_at, updated_at) VALUES ($1, $2, $3, $4)`
	if _, err := tx.ExecContext(ctx, insertOrg, org.ID, org.Name, now, now); err != nil {
		return nil, fmt.Errorf("failed to create organization: %w", err)
	}

	insertMembership := `
		INSERT INTO memberships (user_id, organization_id, is_active, membership_role, joined_at)
		VALUES ($1, $2, TRUE, $3, $4)
	`
	if _, err := tx.ExecContext(ctx, insertMembership, creatorUserID, org.ID, string(rbac.TierAdmin), now); err != nil {
		return nil, fmt.Errorf("failed to create membership: %w", err)
	}

	if err := rbac.SeedNewOrganization(ctx, tx, org.ID, creatorUserID); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	org.CreatedAt = now
	org.UpdatedAt = now
	s.resolver.Invalidate(creatorUserID, org.ID)
	s.logger.WithFields(map[string]interface{}{
		"organization_id": org.ID,
		"creator_id":      creatorUserID,
	}).Info("organization created")
	return org, nil
}

// GetOrganization retrieves one organization. A miss is (nil, nil).
func (s *PostgresService) GetOrganization(ctx context.Context, orgID string) (*Organization, error) {
	query := `SELECT id, name, created_at, updated_at FROM organizations WHERE id = $1`

	var org Organization
	err := s.db.QueryRowContext(ctx, query, orgID).Scan(&org.ID, &org.Name, &org.CreatedAt, &org.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get organization: %w", err)
	}
	return &org, nil
}

// SwitchActiveOrganization makes orgID the user's current working
// organization, deactivating every other membership the user holds.
func (s *PostgresService) SwitchActiveOrganization(ctx context.Context, userID, orgID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var exists int
	check := `SELECT COUNT(*) FROM memberships WHERE user_id = $1 AND organization_id = $2`
	if err := tx.QueryRowContext(ctx, check, userID, orgID).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check membership: %w", err)
	}
	if exists == 0 {
		return rbac.ErrNotAMember(userID, orgID)
	}

	deactivate := `UPDATE memberships SET is_active = FALSE WHERE user_id = $1`
	if _, err := tx.ExecContext(ctx, deactivate, userID); err != nil {
		return fmt.Errorf("failed to deactivate memberships: %w", err)
	}
	activate := `UPDATE memberships SET is_active = TRUE WHERE user_id = $1 AND organization_id = $2`
	if _, err := tx.ExecContext(ctx, activate, userID, orgID); err != nil {
		return fmt.Errorf("failed to activate membership: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// DeleteOrganization removes a tenant and everything it owns: memberships,
// roles, grants and overrides. The actor needs organization:delete.
func (s *PostgresService) DeleteOrganization(ctx context.Context, actorID, orgID string) error {
	allowed, err := s.resolver.HasPermission(ctx, actorID, orgID, permissions.OrganizationDelete)
	if err != nil {
		return err
	}
	if !allowed {
		return rbac.ErrUnauthorized("actor %s lacks %s in organization %s", actorID, permissions.OrganizationDelete, orgID)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var exists int
	check := `SELECT COUNT(*) FROM organizations WHERE id = $1`
	if err := tx.QueryRowContext(ctx, check, orgID).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check organization: %w", err)
	}
	if exists == 0 {
		return rbac.ErrNotFound("organization %s not found", orgID)
	}

	// Explicit ownership cascade, child tables first.
	statements := []string{
		`DELETE FROM permission_overrides WHERE organization_id = $1`,
		`DELETE FROM role_grants WHERE role_id IN (SELECT id FROM roles WHERE organization_id = $1)`,
		`DELETE FROM roles WHERE organization_id = $1`,
		`DELETE FROM memberships WHERE organization_id = $1`,
		`DELETE FROM organizations WHERE id = $1`,
	}
	for _, stmt := range statements {
		if _, err := tx.ExecContext(ctx, stmt, orgID); err != nil {
			return fmt.Errorf("failed to delete organization data: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.resolver.InvalidateOrganization(orgID)
	s.logger.WithFields(map[string]interface{}{
		"organization_id": orgID,
		"actor_id":        actorID,
	}).Info("organization deleted")
	return nil
}

const membershipSelect = `
	SELECT m.user_id, m.organization_id, o.name, m.is_active, m.membership_role, m.role_id, m.joined_at
	FROM memberships m
	JOIN organizations o ON o.id = m.organization_id`

func scanMemberships(rows *sql.Rows) ([]Membership, error) {
	var members []Membership
	for rows.Next() {
		var m Membership
		var tier string
		var roleID sql.NullString
		err := rows.Scan(&m.UserID, &m.OrganizationID, &m.OrganizationName, &m.IsActive, &tier, &roleID, &m.JoinedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan membership: %w", err)
		}
		m.Tier = rbac.Tier(tier)
		if roleID.Valid {
			id := roleID.String
			m.RoleID = &id
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// ListUserMemberships lists every membership a user holds, active first.
func (s *PostgresService) ListUserMemberships(ctx context.Context, userID string) ([]Membership, error) {
	query := membershipSelect + `
		WHERE m.user_id = $1
		ORDER BY m.is_active DESC, m.joined_at ASC
	`
	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list memberships: %w", err)
	}
	defer rows.Close()
	return scanMemberships(rows)
}

// ListOrganizationMembers lists an organization's memberships by join time.
func (s *PostgresService) ListOrganizationMembers(ctx context.Context, orgID string) ([]Membership, error) {
	query := membershipSelect + `
		WHERE m.organization_id = $1
		ORDER BY m.joined_at ASC
	`
	rows, err := s.db.QueryContext(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	defer rows.Close()
	return scanMemberships(rows)
}

// AddMember inserts a membership for an existing organization. The actor
// needs member:invite. New members join inactive at the MEMBER tier with no
// role; the reconciliation pass or an explicit assignment gives them one.
func (s *PostgresService) AddMember(ctx context.Context, actorID, userID, orgID string) error {
	allowed, err := s.resolver.HasPermission(ctx, actorID, orgID, permissions.MemberInvite)
	if err != nil {
		return err
	}
	if !allowed {
		return rbac.ErrUnauthorized("actor %s lacks %s in organization %s", actorID, permissions.MemberInvite, orgID)
	}

	query := `
		INSERT INTO memberships (user_id, organization_id, is_active, membership_role, joined_at)
		VALUES ($1, $2, FALSE, $3, $4)
		ON CONFLICT (user_id, organization_id) DO NOTHING
	`
	result, err := s.db.ExecContext(ctx, query, userID, orgID, string(rbac.TierMember), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to add member: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return rbac.ErrConflict("user %s is already a member of organization %s", userID, orgID)
	}
	return nil
}
