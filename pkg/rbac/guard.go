package rbac

import (
	"context"
	"database/sql"

	"github.com/alanvitalp/road-to-next/pkg/observability"
	"github.com/alanvitalp/road-to-next/pkg/permissions"
)

// Guard performs every write against roles, role assignments, memberships
// and overrides. Each operation runs in one transaction and re-reads the
// state its checks depend on inside that transaction, so the invariants
// (at least one membership, at least one admin) hold under concurrent
// mutation.
type Guard struct {
	store    *Store
	resolver *Resolver
	logger   *observability.Logger
	metrics  *observability.Metrics
}

// NewGuard creates a guard. resolver is used for cache invalidation after
// successful writes; metrics may be nil.
func NewGuard(store *Store, resolver *Resolver, logger *observability.Logger, metrics *observability.Metrics) *Guard {
	return &Guard{
		store:    store,
		resolver: resolver,
		logger:   logger,
		metrics:  metrics,
	}
}

func (g *Guard) record(operation string, err error) {
	if g.metrics == nil {
		return
	}
	outcome := "allowed"
	switch {
	case err == nil:
	case IsFailure(err):
		outcome = string(err.(*Failure).Kind)
	default:
		outcome = "error"
	}
	g.metrics.GuardDecisionsTotal.WithLabelValues(operation, outcome).Inc()
}

// requireActor loads the actor's snapshot inside the transaction and checks
// the permission the operation demands.
func (g *Guard) requireActor(ctx context.Context, q querier, actorID, orgID string, key permissions.Key) (*memberSnapshot, error) {
	snap, err := getMemberSnapshot(ctx, q, actorID, orgID)
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return nil, ErrNotAMember(actorID, orgID)
	}
	if !resolve(snap, key) {
		return nil, ErrUnauthorized("actor %s lacks %s in organization %s", actorID, key, orgID)
	}
	return snap, nil
}

func validateGrants(grants []Grant) error {
	seen := make(map[permissions.Key]bool, len(grants))
	for _, gr := range grants {
		if !permissions.Valid(gr.Key) {
			return ErrNotFound("unknown permission key %q", gr.Key)
		}
		if seen[gr.Key] {
			return ErrConflict("duplicate grant for key %q", gr.Key)
		}
		seen[gr.Key] = true
	}
	return nil
}

// CreateRole creates a named role with an initial grant set. The actor needs
// organization:manage_members.
func (g *Guard) CreateRole(ctx context.Context, actorID, orgID, name, description string, grants []Grant) (*Role, error) {
	role := &Role{
		OrganizationID: orgID,
		Name:           name,
		Description:    description,
		Grants:         grants,
	}
	err := g.store.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := g.requireActor(ctx, tx, actorID, orgID, permissions.OrganizationManageMembers); err != nil {
			return err
		}
		if name == "" {
			return ErrConflict("role name must not be empty")
		}
		if err := validateGrants(grants); err != nil {
			return err
		}
		existing, err := getRoleByName(ctx, tx, orgID, name)
		if err != nil {
			return err
		}
		if existing != nil {
			return ErrConflict("role %q already exists in organization %s", name, orgID)
		}
		return createRole(ctx, tx, role)
	})
	g.record("create_role", err)
	if err != nil {
		return nil, err
	}
	g.logger.WithFields(map[string]interface{}{
		"actor_id":        actorID,
		"organization_id": orgID,
		"role_id":         role.ID,
		"role_name":       name,
	}).Info("role created")
	return role, nil
}

// UpdateRolePermissions replaces a role's entire grant set atomically:
// every old grant is deleted and the new set inserted in one transaction.
func (g *Guard) UpdateRolePermissions(ctx context.Context, actorID, roleID string, grants []Grant) (*Role, error) {
	var role *Role
	err := g.store.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		role, err = getRole(ctx, tx, roleID)
		if err != nil {
			return err
		}
		if role == nil {
			return ErrNotFound("role %s not found", roleID)
		}
		if _, err := g.requireActor(ctx, tx, actorID, role.OrganizationID, permissions.OrganizationManageMembers); err != nil {
			return err
		}
		if err := validateGrants(grants); err != nil {
			return err
		}
		if err := replaceRoleGrants(ctx, tx, roleID, grants); err != nil {
			return err
		}
		role.Grants = grants
		return nil
	})
	g.record("update_role_permissions", err)
	if err != nil {
		return nil, err
	}
	g.resolver.InvalidateOrganization(role.OrganizationID)
	g.logger.WithFields(map[string]interface{}{
		"actor_id": actorID,
		"role_id":  roleID,
		"grants":   len(grants),
	}).Info("role grants replaced")
	return role, nil
}

// DeleteRole removes a role, unassigning any memberships that hold it. They
// fall back to their legacy tier, so deleting the Admin role is refused when
// it would leave the organization without an admin.
func (g *Guard) DeleteRole(ctx context.Context, actorID, roleID string) error {
	var orgID string
	err := g.store.WithTx(ctx, func(tx *sql.Tx) error {
		role, err := getRole(ctx, tx, roleID)
		if err != nil {
			return err
		}
		if role == nil {
			return ErrNotFound("role %s not found", roleID)
		}
		orgID = role.OrganizationID
		if _, err := g.requireActor(ctx, tx, actorID, orgID, permissions.OrganizationManageMembers); err != nil {
			return err
		}

		if role.IsAdmin() {
			admins, err := listAdminMemberships(ctx, tx, orgID)
			if err != nil {
				return err
			}
			// Holders of the deleted role fall back to their tier.
			remaining := 0
			for _, m := range admins {
				if m.RoleID != nil && *m.RoleID == roleID {
					if m.Tier == TierAdmin {
						remaining++
					}
				} else {
					remaining++
				}
			}
			if remaining == 0 {
				return ErrInvariantViolation("deleting role %q would leave organization %s without an admin", role.Name, orgID)
			}
		}
		return deleteRole(ctx, tx, roleID)
	})
	g.record("delete_role", err)
	if err != nil {
		return err
	}
	g.resolver.InvalidateOrganization(orgID)
	g.logger.WithFields(map[string]interface{}{
		"actor_id": actorID,
		"role_id":  roleID,
	}).Info("role deleted")
	return nil
}

// AssignRole sets or clears (roleID nil) a member's catalog role. The role
// must belong to the membership's organization; the actor needs
// member:update_role. Refused when it would demote the last admin.
func (g *Guard) AssignRole(ctx context.Context, actorID, userID, orgID string, roleID *string) error {
	err := g.store.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := g.requireActor(ctx, tx, actorID, orgID, permissions.MemberUpdateRole); err != nil {
			return err
		}
		target, err := getMembership(ctx, tx, userID, orgID)
		if err != nil {
			return err
		}
		if target == nil {
			return ErrNotAMember(userID, orgID)
		}

		var newRole *Role
		if roleID != nil {
			if newRole, err = getRole(ctx, tx, *roleID); err != nil {
				return err
			}
			if newRole == nil {
				return ErrNotFound("role %s not found", *roleID)
			}
			if newRole.OrganizationID != orgID {
				return ErrCrossTenant("role %s belongs to organization %s, not %s", *roleID, newRole.OrganizationID, orgID)
			}
		}

		adminAfter := target.Tier == TierAdmin
		if newRole != nil {
			adminAfter = newRole.IsAdmin()
		}
		if !adminAfter {
			if err := g.requireOtherAdmin(ctx, tx, orgID, userID); err != nil {
				return err
			}
		}
		return assignMembershipRole(ctx, tx, userID, orgID, roleID)
	})
	g.record("assign_role", err)
	if err != nil {
		return err
	}
	g.resolver.Invalidate(userID, orgID)
	g.logger.WithFields(map[string]interface{}{
		"actor_id":        actorID,
		"user_id":         userID,
		"organization_id": orgID,
	}).Info("membership role assigned")
	return nil
}

// requireOtherAdmin fails unless some admin other than excludeUserID exists.
func (g *Guard) requireOtherAdmin(ctx context.Context, q querier, orgID, excludeUserID string) error {
	admins, err := listAdminMemberships(ctx, q, orgID)
	if err != nil {
		return err
	}
	for _, m := range admins {
		if m.UserID != excludeUserID {
			return nil
		}
	}
	if len(admins) == 0 {
		// Already no admins; the change cannot make it worse.
		return nil
	}
	return ErrInvariantViolation("organization %s would be left without an admin", orgID)
}

// DeleteMembership removes a user from an organization. Allowed for the user
// themselves or an actor holding organization:manage_members. Refused when
// it would remove the organization's last membership or last admin.
func (g *Guard) DeleteMembership(ctx context.Context, actorID, userID, orgID string) error {
	err := g.store.WithTx(ctx, func(tx *sql.Tx) error {
		if actorID != userID {
			if _, err := g.requireActor(ctx, tx, actorID, orgID, permissions.OrganizationManageMembers); err != nil {
				return err
			}
		}
		target, err := getMembership(ctx, tx, userID, orgID)
		if err != nil {
			return err
		}
		if target == nil {
			return ErrNotFound("user %s has no membership in organization %s", userID, orgID)
		}

		total, err := countMemberships(ctx, tx, orgID)
		if err != nil {
			return err
		}
		if total <= 1 {
			return ErrInvariantViolation("cannot remove the last membership of organization %s", orgID)
		}
		if err := g.requireOtherAdmin(ctx, tx, orgID, userID); err != nil {
			return err
		}
		return deleteMembership(ctx, tx, userID, orgID)
	})
	g.record("delete_membership", err)
	if err != nil {
		return err
	}
	g.resolver.Invalidate(userID, orgID)
	g.logger.WithFields(map[string]interface{}{
		"actor_id":        actorID,
		"user_id":         userID,
		"organization_id": orgID,
	}).Info("membership deleted")
	return nil
}

// UpdateMembershipTier changes a member's legacy tier. Only an admin-tier
// actor may do it; repeating the current tier is rejected; demotions are
// refused when they would remove the last admin.
func (g *Guard) UpdateMembershipTier(ctx context.Context, actorID, userID, orgID string, tier Tier) error {
	err := g.store.WithTx(ctx, func(tx *sql.Tx) error {
		if !tier.Valid() {
			return ErrConflict("invalid membership tier %q", tier)
		}
		actor, err := getMemberSnapshot(ctx, tx, actorID, orgID)
		if err != nil {
			return err
		}
		if actor == nil {
			return ErrNotAMember(actorID, orgID)
		}
		if !actor.isAdmin() {
			return ErrUnauthorized("actor %s is not an admin of organization %s", actorID, orgID)
		}

		target, err := getMembership(ctx, tx, userID, orgID)
		if err != nil {
			return err
		}
		if target == nil {
			return ErrNotAMember(userID, orgID)
		}
		if target.Tier == tier {
			return ErrConflict("user %s already has tier %s", userID, tier)
		}

		adminAfter := tier == TierAdmin
		if target.RoleID != nil {
			// Catalog role stays authoritative; the tier change only
			// matters if the role is ever unassigned.
			role, err := getRole(ctx, tx, *target.RoleID)
			if err != nil {
				return err
			}
			adminAfter = role != nil && role.IsAdmin()
		}
		if !adminAfter {
			if err := g.requireOtherAdmin(ctx, tx, orgID, userID); err != nil {
				return err
			}
		}
		return updateMembershipTier(ctx, tx, userID, orgID, tier)
	})
	g.record("update_membership_tier", err)
	if err != nil {
		return err
	}
	g.resolver.Invalidate(userID, orgID)
	g.logger.WithFields(map[string]interface{}{
		"actor_id":        actorID,
		"user_id":         userID,
		"organization_id": orgID,
		"tier":            string(tier),
	}).Info("membership tier updated")
	return nil
}

// SetUserPermission upserts one direct override. Idempotent: repeating the
// same value succeeds without effect. The actor needs
// member:update_permissions.
func (g *Guard) SetUserPermission(ctx context.Context, actorID, userID, orgID string, key permissions.Key, value bool) error {
	err := g.store.WithTx(ctx, func(tx *sql.Tx) error {
		if err := g.requireOverrideTarget(ctx, tx, actorID, userID, orgID, key); err != nil {
			return err
		}
		return upsertOverride(ctx, tx, &Override{
			UserID:         userID,
			OrganizationID: orgID,
			Key:            key,
			Value:          value,
		})
	})
	g.record("set_user_permission", err)
	if err != nil {
		return err
	}
	g.resolver.Invalidate(userID, orgID)
	return nil
}

// requireOverrideTarget shares the checks of the override operations: actor
// holds member:update_permissions, the key is registered, the target is a
// member.
func (g *Guard) requireOverrideTarget(ctx context.Context, q querier, actorID, userID, orgID string, key permissions.Key) error {
	if _, err := g.requireActor(ctx, q, actorID, orgID, permissions.MemberUpdatePermissions); err != nil {
		return err
	}
	if !permissions.Valid(key) {
		return ErrNotFound("unknown permission key %q", key)
	}
	target, err := getMembership(ctx, q, userID, orgID)
	if err != nil {
		return err
	}
	if target == nil {
		return ErrNotAMember(userID, orgID)
	}
	return nil
}

// RemoveUserPermission deletes one direct override. Idempotent: removing an
// absent override succeeds.
func (g *Guard) RemoveUserPermission(ctx context.Context, actorID, userID, orgID string, key permissions.Key) error {
	err := g.store.WithTx(ctx, func(tx *sql.Tx) error {
		if err := g.requireOverrideTarget(ctx, tx, actorID, userID, orgID, key); err != nil {
			return err
		}
		return deleteOverride(ctx, tx, userID, orgID, key)
	})
	g.record("remove_user_permission", err)
	if err != nil {
		return err
	}
	g.resolver.Invalidate(userID, orgID)
	return nil
}

// SetUserPermissions upserts a batch of overrides in one transaction.
func (g *Guard) SetUserPermissions(ctx context.Context, actorID, userID, orgID string, entries map[permissions.Key]bool) error {
	err := g.store.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := g.requireActor(ctx, tx, actorID, orgID, permissions.MemberUpdatePermissions); err != nil {
			return err
		}
		for key := range entries {
			if !permissions.Valid(key) {
				return ErrNotFound("unknown permission key %q", key)
			}
		}
		target, err := getMembership(ctx, tx, userID, orgID)
		if err != nil {
			return err
		}
		if target == nil {
			return ErrNotAMember(userID, orgID)
		}
		for key, value := range entries {
			err := upsertOverride(ctx, tx, &Override{
				UserID:         userID,
				OrganizationID: orgID,
				Key:            key,
				Value:          value,
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	g.record("set_user_permissions", err)
	if err != nil {
		return err
	}
	g.resolver.Invalidate(userID, orgID)
	return nil
}

// ToggleUserPermission flips one override and returns the new value. An
// absent override toggles to true.
func (g *Guard) ToggleUserPermission(ctx context.Context, actorID, userID, orgID string, key permissions.Key) (bool, error) {
	var value bool
	err := g.store.WithTx(ctx, func(tx *sql.Tx) error {
		if err := g.requireOverrideTarget(ctx, tx, actorID, userID, orgID, key); err != nil {
			return err
		}
		existing, err := getOverride(ctx, tx, userID, orgID, key)
		if err != nil {
			return err
		}
		value = true
		if existing != nil {
			value = !existing.Value
		}
		return upsertOverride(ctx, tx, &Override{
			UserID:         userID,
			OrganizationID: orgID,
			Key:            key,
			Value:          value,
		})
	})
	g.record("toggle_user_permission", err)
	if err != nil {
		return false, err
	}
	g.resolver.Invalidate(userID, orgID)
	g.logger.WithFields(map[string]interface{}{
		"actor_id":        actorID,
		"user_id":         userID,
		"organization_id": orgID,
		"permission_key":  string(key),
		"value":           value,
	}).Info("permission override toggled")
	return value, nil
}
