package rbac

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/alanvitalp/road-to-next/pkg/observability"
	"github.com/alanvitalp/road-to-next/pkg/permissions"
)

// Seeder provisions the default role templates. Onboarding uses
// SeedNewOrganization inside the organization-creation transaction; the
// maintenance path (Reconcile) is a safe-to-rerun upsert-by-name across all
// organizations.
type Seeder struct {
	store  *Store
	logger *observability.Logger
}

// NewSeeder creates a seeder.
func NewSeeder(store *Store, logger *observability.Logger) *Seeder {
	return &Seeder{store: store, logger: logger}
}

func templateRole(orgID string, t permissions.RoleTemplate) *Role {
	grants := make([]Grant, len(t.Grants))
	for i, key := range t.Grants {
		grants[i] = Grant{Key: key, Value: true}
	}
	return &Role{
		OrganizationID: orgID,
		Name:           t.Name,
		Description:    t.Description,
		Grants:         grants,
	}
}

// SeedNewOrganization creates the Admin and Member roles for a freshly
// created organization and assigns Admin to the creator's membership. It
// runs on the caller's transaction so onboarding is all-or-nothing.
func SeedNewOrganization(ctx context.Context, tx *sql.Tx, orgID, creatorUserID string) error {
	var adminRoleID string
	for _, t := range permissions.DefaultRoleTemplates() {
		if t.Name != permissions.RoleNameAdmin && t.Name != permissions.RoleNameMember {
			continue
		}
		role := templateRole(orgID, t)
		if err := createRole(ctx, tx, role); err != nil {
			return fmt.Errorf("failed to seed role %s: %w", t.Name, err)
		}
		if t.Name == permissions.RoleNameAdmin {
			adminRoleID = role.ID
		}
	}
	if err := assignMembershipRole(ctx, tx, creatorUserID, orgID, &adminRoleID); err != nil {
		return fmt.Errorf("failed to assign admin role to creator: %w", err)
	}
	return nil
}

// Reconcile ensures every organization has the four default role templates
// and that no membership is left without a role. Existing roles are matched
// by name and skipped; role-less memberships get the role matching their
// legacy tier (ADMIN keeps admin standing, everyone else gets Member).
// Idempotent: re-running changes nothing.
func (s *Seeder) Reconcile(ctx context.Context) error {
	orgIDs, err := s.listOrganizationIDs(ctx)
	if err != nil {
		return err
	}

	for _, orgID := range orgIDs {
		if err := s.reconcileOrganization(ctx, orgID); err != nil {
			return fmt.Errorf("failed to reconcile organization %s: %w", orgID, err)
		}
	}
	s.logger.WithField("organizations", len(orgIDs)).Info("default role reconciliation completed")
	return nil
}

func (s *Seeder) listOrganizationIDs(ctx context.Context) ([]string, error) {
	rows, err := s.store.db.QueryContext(ctx, `SELECT id FROM organizations ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list organizations: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan organization id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Seeder) reconcileOrganization(ctx context.Context, orgID string) error {
	return s.store.WithTx(ctx, func(tx *sql.Tx) error {
		byName := make(map[string]string)
		created := 0
		for _, t := range permissions.DefaultRoleTemplates() {
			existing, err := getRoleByName(ctx, tx, orgID, t.Name)
			if err != nil {
				return err
			}
			if existing != nil {
				byName[t.Name] = existing.ID
				continue
			}
			role := templateRole(orgID, t)
			if err := createRole(ctx, tx, role); err != nil {
				return err
			}
			byName[t.Name] = role.ID
			created++
		}

		members, err := listMemberships(ctx, tx, orgID)
		if err != nil {
			return err
		}
		assigned := 0
		for _, m := range members {
			if m.RoleID != nil {
				continue
			}
			roleID := byName[permissions.RoleNameMember]
			if m.Tier == TierAdmin {
				roleID = byName[permissions.RoleNameAdmin]
			}
			if err := assignMembershipRole(ctx, tx, m.UserID, orgID, &roleID); err != nil {
				return err
			}
			assigned++
		}

		if created > 0 || assigned > 0 {
			s.logger.WithFields(map[string]interface{}{
				"organization_id":    orgID,
				"roles_created":      created,
				"members_backfilled": assigned,
			}).Info("organization roles reconciled")
		}
		return nil
	})
}
