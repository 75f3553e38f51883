package rbac

import (
	"context"
	"testing"

	"github.com/alanvitalp/road-to-next/pkg/permissions"
)

func TestCreateAndGetRole(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.Background()
	store := NewStore(db)
	seedOrg(t, db, "org-1", "acme")

	role := &Role{
		OrganizationID: "org-1",
		Name:           "Editor",
		Description:    "Can edit content",
		Grants: []Grant{
			{Key: permissions.TicketRead, Value: true},
			{Key: permissions.TicketUpdate, Value: true},
			{Key: permissions.TicketDelete, Value: false},
		},
	}
	if err := store.CreateRole(ctx, role); err != nil {
		t.Fatalf("CreateRole: %v", err)
	}
	if role.ID == "" {
		t.Fatal("expected generated role ID")
	}

	got, err := store.GetRole(ctx, role.ID)
	if err != nil {
		t.Fatalf("GetRole: %v", err)
	}
	if got == nil {
		t.Fatal("expected role, got nil")
	}
	if got.Name != "Editor" || got.OrganizationID != "org-1" {
		t.Errorf("unexpected role: %+v", got)
	}
	if len(got.Grants) != 3 {
		t.Fatalf("expected 3 grants, got %d", len(got.Grants))
	}
	if v, ok := got.grantValue(permissions.TicketDelete); !ok || v {
		t.Errorf("expected ticket:delete granted false, got %v %v", v, ok)
	}
}

func TestGetRoleMissing(t *testing.T) {
	db := NewTestDB(t)
	store := NewStore(db)

	got, err := store.GetRole(context.Background(), "nope")
	if err != nil {
		t.Fatalf("GetRole: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil for missing role, got %+v", got)
	}
}

func TestGetRoleByName(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.Background()
	store := NewStore(db)
	seedOrg(t, db, "org-1", "acme")
	seedOrg(t, db, "org-2", "globex")
	seedRole(t, db, "org-1", "Viewer", permissions.TicketRead)

	got, err := store.GetRoleByName(ctx, "org-1", "Viewer")
	if err != nil {
		t.Fatalf("GetRoleByName: %v", err)
	}
	if got == nil {
		t.Fatal("expected role")
	}

	// Same name in a different organization is a different namespace.
	other, err := store.GetRoleByName(ctx, "org-2", "Viewer")
	if err != nil {
		t.Fatalf("GetRoleByName: %v", err)
	}
	if other != nil {
		t.Fatalf("expected no role in org-2, got %+v", other)
	}
}

func TestReplaceRoleGrants(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.Background()
	store := NewStore(db)
	seedOrg(t, db, "org-1", "acme")
	role := seedRole(t, db, "org-1", "Editor",
		permissions.TicketRead, permissions.TicketUpdate, permissions.CommentRead)

	err := store.ReplaceRoleGrants(ctx, role.ID, []Grant{
		{Key: permissions.CommentCreate, Value: true},
	})
	if err != nil {
		t.Fatalf("ReplaceRoleGrants: %v", err)
	}

	got, err := store.GetRole(ctx, role.ID)
	if err != nil {
		t.Fatalf("GetRole: %v", err)
	}
	if len(got.Grants) != 1 {
		t.Fatalf("expected grants fully replaced, got %d entries", len(got.Grants))
	}
	if got.Grants[0].Key != permissions.CommentCreate {
		t.Errorf("unexpected surviving grant %q", got.Grants[0].Key)
	}
}

func TestListRolesWithMemberCounts(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.Background()
	store := NewStore(db)
	seedOrg(t, db, "org-1", "acme")
	admin := seedRole(t, db, "org-1", permissions.RoleNameAdmin, permissions.All()...)
	seedRole(t, db, "org-1", permissions.RoleNameViewer, permissions.TicketRead)
	seedMembership(t, db, "u1", "org-1", TierAdmin, &admin.ID, true)
	seedMembership(t, db, "u2", "org-1", TierMember, &admin.ID, false)

	roles, err := store.ListRoles(ctx, "org-1")
	if err != nil {
		t.Fatalf("ListRoles: %v", err)
	}
	if len(roles) != 2 {
		t.Fatalf("expected 2 roles, got %d", len(roles))
	}
	// Ordered by name: Admin before Viewer.
	if roles[0].Name != permissions.RoleNameAdmin || roles[0].MemberCount != 2 {
		t.Errorf("unexpected first role: %s count=%d", roles[0].Name, roles[0].MemberCount)
	}
	if roles[1].Name != permissions.RoleNameViewer || roles[1].MemberCount != 0 {
		t.Errorf("unexpected second role: %s count=%d", roles[1].Name, roles[1].MemberCount)
	}
	if len(roles[0].Grants) == 0 {
		t.Error("expected grants loaded for listed roles")
	}
}

func TestOverrideUpsertIsIdempotent(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.Background()
	store := NewStore(db)
	seedOrg(t, db, "org-1", "acme")

	o := &Override{
		UserID:         "u1",
		OrganizationID: "org-1",
		Key:            permissions.TicketDelete,
		Value:          true,
	}
	if err := store.UpsertOverride(ctx, o); err != nil {
		t.Fatalf("UpsertOverride: %v", err)
	}
	// Same value again, then a flip; both must succeed.
	if err := store.UpsertOverride(ctx, o); err != nil {
		t.Fatalf("UpsertOverride repeat: %v", err)
	}
	o.Value = false
	if err := store.UpsertOverride(ctx, o); err != nil {
		t.Fatalf("UpsertOverride update: %v", err)
	}

	got, err := store.GetOverride(ctx, "u1", "org-1", permissions.TicketDelete)
	if err != nil {
		t.Fatalf("GetOverride: %v", err)
	}
	if got == nil || got.Value {
		t.Fatalf("expected override false, got %+v", got)
	}

	overrides, err := store.ListOverrides(ctx, "u1", "org-1")
	if err != nil {
		t.Fatalf("ListOverrides: %v", err)
	}
	if len(overrides) != 1 {
		t.Fatalf("expected single row after upserts, got %d", len(overrides))
	}
}

func TestDeleteOverrideMissingIsNoop(t *testing.T) {
	db := NewTestDB(t)
	store := NewStore(db)
	seedOrg(t, db, "org-1", "acme")

	if err := store.DeleteOverride(context.Background(), "u1", "org-1", permissions.TicketRead); err != nil {
		t.Fatalf("expected no-op delete to succeed: %v", err)
	}
}

func TestListOverridesOrderedByKey(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.Background()
	store := NewStore(db)
	seedOrg(t, db, "org-1", "acme")

	for _, k := range []permissions.Key{permissions.TicketRead, permissions.CommentRead, permissions.MemberInvite} {
		o := &Override{UserID: "u1", OrganizationID: "org-1", Key: k, Value: true}
		if err := store.UpsertOverride(ctx, o); err != nil {
			t.Fatalf("UpsertOverride: %v", err)
		}
	}

	overrides, err := store.ListOverrides(ctx, "u1", "org-1")
	if err != nil {
		t.Fatalf("ListOverrides: %v", err)
	}
	want := []permissions.Key{permissions.CommentRead, permissions.MemberInvite, permissions.TicketRead}
	if len(overrides) != len(want) {
		t.Fatalf("expected %d overrides, got %d", len(want), len(overrides))
	}
	for i, k := range want {
		if overrides[i].Key != k {
			t.Errorf("position %d: expected %q, got %q", i, k, overrides[i].Key)
		}
	}
}

func TestMemberSnapshot(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.Background()
	seedOrg(t, db, "org-1", "acme")
	role := seedRole(t, db, "org-1", permissions.RoleNameViewer, permissions.TicketRead)
	seedMembership(t, db, "u1", "org-1", TierMember, &role.ID, true)

	o := &Override{UserID: "u1", OrganizationID: "org-1", Key: permissions.CommentCreate, Value: true}
	if err := NewStore(db).UpsertOverride(ctx, o); err != nil {
		t.Fatalf("UpsertOverride: %v", err)
	}

	snap, err := getMemberSnapshot(ctx, db, "u1", "org-1")
	if err != nil {
		t.Fatalf("getMemberSnapshot: %v", err)
	}
	if snap == nil {
		t.Fatal("expected snapshot")
	}
	if snap.Role == nil || snap.Role.Name != permissions.RoleNameViewer {
		t.Errorf("expected Viewer role in snapshot, got %+v", snap.Role)
	}
	if v, ok := snap.Overrides[permissions.CommentCreate]; !ok || !v {
		t.Errorf("expected comment:create override true, got %v %v", v, ok)
	}

	missing, err := getMemberSnapshot(ctx, db, "nobody", "org-1")
	if err != nil {
		t.Fatalf("getMemberSnapshot: %v", err)
	}
	if missing != nil {
		t.Fatalf("expected nil snapshot for non-member, got %+v", missing)
	}
}

func TestListAdminMemberships(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.Background()
	seedOrg(t, db, "org-1", "acme")
	admin := seedRole(t, db, "org-1", permissions.RoleNameAdmin, permissions.All()...)
	viewer := seedRole(t, db, "org-1", permissions.RoleNameViewer, permissions.TicketRead)

	seedMembership(t, db, "role-admin", "org-1", TierMember, &admin.ID, true)
	seedMembership(t, db, "legacy-admin", "org-1", TierAdmin, nil, false)
	// ADMIN tier shadowed by an assigned non-admin role does not count.
	seedMembership(t, db, "shadowed", "org-1", TierAdmin, &viewer.ID, false)
	seedMembership(t, db, "plain", "org-1", TierMember, nil, false)

	admins, err := listAdminMemberships(ctx, db, "org-1")
	if err != nil {
		t.Fatalf("listAdminMemberships: %v", err)
	}
	got := make(map[string]bool)
	for _, m := range admins {
		got[m.UserID] = true
	}
	if len(got) != 2 || !got["role-admin"] || !got["legacy-admin"] {
		t.Errorf("unexpected admin set: %v", got)
	}
}
