package rbac

import (
	"context"
	"database/sql"
	"io"
	"testing"
	"time"

	"github.com/alanvitalp/road-to-next/pkg/observability"
	"github.com/alanvitalp/road-to-next/pkg/permissions"
)

func testLogger() *observability.Logger {
	return observability.NewLogger(observability.ErrorLevel, io.Discard)
}

func newTestResolver(db *sql.DB) *Resolver {
	return NewResolver(NewStore(db), testLogger(), nil, 128, time.Minute)
}

func newTestGuard(db *sql.DB) (*Guard, *Resolver) {
	store := NewStore(db)
	resolver := NewResolver(store, testLogger(), nil, 128, time.Minute)
	return NewGuard(store, resolver, testLogger(), nil), resolver
}

func seedOrg(t testing.TB, db *sql.DB, orgID, name string) {
	t.Helper()
	now := time.Now().UTC()
	_, err := db.Exec(`INSERT INTO organizations (id, name, created_at, updated_at) VALUES ($1, $2, $3, $4)`,
		orgID, name, now, now)
	if err != nil {
		t.Fatalf("failed to seed organization: %v", err)
	}
}

func seedMembership(t testing.TB, db *sql.DB, userID, orgID string, tier Tier, roleID *string, active bool) {
	t.Helper()
	_, err := db.Exec(`
		INSERT INTO memberships (user_id, organization_id, is_active, membership_role, role_id, joined_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		userID, orgID, active, string(tier), roleID, time.Now().UTC())
	if err != nil {
		t.Fatalf("failed to seed membership: %v", err)
	}
}

func seedRole(t testing.TB, db *sql.DB, orgID, name string, keys ...permissions.Key) *Role {
	t.Helper()
	grants := make([]Grant, len(keys))
	for i, k := range keys {
		grants[i] = Grant{Key: k, Value: true}
	}
	role := &Role{
		OrganizationID: orgID,
		Name:           name,
		Grants:         grants,
	}
	if err := NewStore(db).CreateRole(context.Background(), role); err != nil {
		t.Fatalf("failed to seed role: %v", err)
	}
	return role
}

// seedAdminOrg creates an organization with an Admin role assigned to
// adminUserID. Returns the admin role.
func seedAdminOrg(t testing.TB, db *sql.DB, orgID, adminUserID string) *Role {
	t.Helper()
	seedOrg(t, db, orgID, "org-"+orgID)
	adminRole := seedRole(t, db, orgID, permissions.RoleNameAdmin, permissions.All()...)
	seedMembership(t, db, adminUserID, orgID, TierAdmin, &adminRole.ID, true)
	return adminRole
}
