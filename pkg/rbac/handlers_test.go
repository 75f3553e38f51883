package rbac

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanvitalp/road-to-next/pkg/auth"
	"github.com/alanvitalp/road-to-next/pkg/contextkeys"
	"github.com/alanvitalp/road-to-next/pkg/permissions"
)

func newTestRouter(t *testing.T, db *sql.DB) *mux.Router {
	t.Helper()
	store := NewStore(db)
	guard, resolver := newTestGuard(db)
	handlers := NewHandlers(store, resolver, guard, testLogger(), nil)
	router := mux.NewRouter()
	handlers.RegisterRoutes(router)
	return router
}

func doRequest(router *mux.Router, method, path, userID string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	if userID != "" {
		ctx := contextkeys.WithPrincipal(req.Context(), &auth.Principal{UserID: userID})
		req = req.WithContext(ctx)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestCheckPermissionEndpoint(t *testing.T) {
	db := NewTestDB(t)
	router := newTestRouter(t, db)
	seedOrg(t, db, "org-1", "acme")
	role := seedRole(t, db, "org-1", permissions.RoleNameViewer, permissions.TicketRead)
	seedMembership(t, db, "u1", "org-1", TierMember, &role.ID, true)

	rec := doRequest(router, "GET",
		"/permissions/check?userId=u1&organizationId=org-1&permissionKey=ticket:read", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var result CheckResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, result.HasPermission)

	rec = doRequest(router, "GET",
		"/permissions/check?userId=u1&organizationId=org-1&permissionKey=ticket:delete", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.False(t, result.HasPermission)
}

func TestCheckPermissionEndpointSelfOnly(t *testing.T) {
	db := NewTestDB(t)
	router := newTestRouter(t, db)
	seedAdminOrg(t, db, "org-1", "admin")

	// Even an admin may only ask about themselves.
	rec := doRequest(router, "GET",
		"/permissions/check?userId=someone-else&organizationId=org-1&permissionKey=ticket:read", "admin", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestCheckPermissionEndpointValidation(t *testing.T) {
	db := NewTestDB(t)
	router := newTestRouter(t, db)
	seedAdminOrg(t, db, "org-1", "admin")

	rec := doRequest(router, "GET", "/permissions/check?userId=admin", "admin", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(router, "GET",
		"/permissions/check?userId=admin&organizationId=org-1&permissionKey=no:such", "admin", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(router, "GET",
		"/permissions/check?userId=admin&organizationId=org-1&permissionKey=ticket:read", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCheckPermissionEndpointNonMember(t *testing.T) {
	db := NewTestDB(t)
	router := newTestRouter(t, db)
	seedOrg(t, db, "org-1", "acme")

	// Non-membership is an answer, not an error.
	rec := doRequest(router, "GET",
		"/permissions/check?userId=u1&organizationId=org-1&permissionKey=ticket:read", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var result CheckResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.False(t, result.HasPermission)
}

func TestListPermissionRegistryEndpoint(t *testing.T) {
	db := NewTestDB(t)
	router := newTestRouter(t, db)

	rec := doRequest(router, "GET", "/permissions", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var payload struct {
		Permissions     []permissions.Metadata `json:"permissions"`
		MinimumRequired []permissions.Key      `json:"minimum_required"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Len(t, payload.Permissions, len(permissions.All()))
	assert.Equal(t, permissions.MinimumRequired(), payload.MinimumRequired)
}

func TestCreateRoleEndpoint(t *testing.T) {
	db := NewTestDB(t)
	router := newTestRouter(t, db)
	seedAdminOrg(t, db, "org-1", "admin")

	rec := doRequest(router, "POST", "/organizations/org-1/roles", "admin", createRoleRequest{
		Name:        "Editor",
		Description: "content editors",
		Grants: []Grant{
			{Key: permissions.TicketRead, Value: true},
			{Key: permissions.TicketUpdate, Value: true},
		},
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var role Role
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &role))
	assert.NotEmpty(t, role.ID)
	assert.Equal(t, "Editor", role.Name)
	assert.Len(t, role.Grants, 2)

	// Same name again conflicts.
	rec = doRequest(router, "POST", "/organizations/org-1/roles", "admin", createRoleRequest{
		Name: "Editor",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCreateRoleEndpointForbidden(t *testing.T) {
	db := NewTestDB(t)
	router := newTestRouter(t, db)
	seedAdminOrg(t, db, "org-1", "admin")
	seedMembership(t, db, "plain", "org-1", TierMember, nil, true)

	rec := doRequest(router, "POST", "/organizations/org-1/roles", "plain", createRoleRequest{
		Name: "Editor",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestListRolesEndpoint(t *testing.T) {
	db := NewTestDB(t)
	router := newTestRouter(t, db)
	seedAdminOrg(t, db, "org-1", "admin")
	seedRole(t, db, "org-1", permissions.RoleNameViewer, permissions.TicketRead)

	rec := doRequest(router, "GET", "/organizations/org-1/roles", "admin", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var payload struct {
		Roles []RoleWithMemberCount `json:"roles"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Len(t, payload.Roles, 2)

	// Outsiders get 403, not an empty list.
	rec = doRequest(router, "GET", "/organizations/org-1/roles", "stranger", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestGetRoleEndpoint(t *testing.T) {
	db := NewTestDB(t)
	router := newTestRouter(t, db)
	adminRole := seedAdminOrg(t, db, "org-1", "admin")

	rec := doRequest(router, "GET", "/roles/"+adminRole.ID, "admin", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var detail RoleDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &detail))
	assert.Equal(t, permissions.RoleNameAdmin, detail.Name)
	assert.Len(t, detail.Members, 1)

	rec = doRequest(router, "GET", "/roles/missing", "admin", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUpdateRolePermissionsEndpoint(t *testing.T) {
	db := NewTestDB(t)
	router := newTestRouter(t, db)
	seedAdminOrg(t, db, "org-1", "admin")
	role := seedRole(t, db, "org-1", "Editor", permissions.TicketRead)

	rec := doRequest(router, "PUT", "/roles/"+role.ID+"/permissions", "admin", updateGrantsRequest{
		Grants: []Grant{{Key: permissions.CommentRead, Value: true}},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var updated Role
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updated))
	require.Len(t, updated.Grants, 1)
	assert.Equal(t, permissions.CommentRead, updated.Grants[0].Key)
}

func TestDeleteRoleEndpoint(t *testing.T) {
	db := NewTestDB(t)
	router := newTestRouter(t, db)
	seedAdminOrg(t, db, "org-1", "admin")
	role := seedRole(t, db, "org-1", "Editor", permissions.TicketRead)

	rec := doRequest(router, "DELETE", "/roles/"+role.ID, "admin", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doRequest(router, "DELETE", "/roles/"+role.ID, "admin", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteMembershipEndpointInvariants(t *testing.T) {
	db := NewTestDB(t)
	router := newTestRouter(t, db)
	seedAdminOrg(t, db, "org-1", "admin")

	// Removing the only membership is a conflict, not a success.
	rec := doRequest(router, "DELETE", "/organizations/org-1/members/admin", "admin", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	seedMembership(t, db, "u1", "org-1", TierMember, nil, true)
	rec = doRequest(router, "DELETE", "/organizations/org-1/members/u1", "admin", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestAssignRoleEndpoint(t *testing.T) {
	db := NewTestDB(t)
	router := newTestRouter(t, db)
	seedAdminOrg(t, db, "org-1", "admin")
	editor := seedRole(t, db, "org-1", "Editor", permissions.TicketRead)
	seedMembership(t, db, "u1", "org-1", TierMember, nil, true)

	rec := doRequest(router, "PUT", "/organizations/org-1/members/u1/role", "admin",
		assignRoleRequest{RoleID: &editor.ID})
	assert.Equal(t, http.StatusNoContent, rec.Code)

	// A role from another tenant is a validation error.
	seedOrg(t, db, "org-2", "globex")
	foreign := seedRole(t, db, "org-2", "Editor", permissions.TicketRead)
	rec = doRequest(router, "PUT", "/organizations/org-1/members/u1/role", "admin",
		assignRoleRequest{RoleID: &foreign.ID})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateMembershipTierEndpoint(t *testing.T) {
	db := NewTestDB(t)
	router := newTestRouter(t, db)
	seedAdminOrg(t, db, "org-1", "admin")
	seedMembership(t, db, "u1", "org-1", TierMember, nil, true)

	rec := doRequest(router, "PUT", "/organizations/org-1/members/u1/tier", "admin",
		updateTierRequest{Tier: TierAdmin})
	assert.Equal(t, http.StatusNoContent, rec.Code)

	// Repeating the current tier is rejected.
	rec = doRequest(router, "PUT", "/organizations/org-1/members/u1/tier", "admin",
		updateTierRequest{Tier: TierAdmin})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestOverrideEndpoints(t *testing.T) {
	db := NewTestDB(t)
	router := newTestRouter(t, db)
	seedAdminOrg(t, db, "org-1", "admin")
	seedMembership(t, db, "u1", "org-1", TierMember, nil, true)

	rec := doRequest(router, "PUT", "/organizations/org-1/members/u1/overrides/ticket:delete", "admin",
		setOverrideRequest{Value: true})
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = doRequest(router, "GET", "/organizations/org-1/members/u1/overrides", "admin", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var payload struct {
		Overrides []Override `json:"overrides"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	require.Len(t, payload.Overrides, 1)
	assert.Equal(t, permissions.TicketDelete, payload.Overrides[0].Key)
	assert.True(t, payload.Overrides[0].Value)

	rec = doRequest(router, "POST", "/organizations/org-1/members/u1/overrides/ticket:delete/toggle", "admin", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var toggle map[string]bool
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &toggle))
	assert.False(t, toggle["value"])

	rec = doRequest(router, "DELETE", "/organizations/org-1/members/u1/overrides/ticket:delete", "admin", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	// Unknown key maps to 404.
	rec = doRequest(router, "PUT", "/organizations/org-1/members/u1/overrides/no:such", "admin",
		setOverrideRequest{Value: true})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSetOverridesBatchEndpoint(t *testing.T) {
	db := NewTestDB(t)
	router := newTestRouter(t, db)
	seedAdminOrg(t, db, "org-1", "admin")
	seedMembership(t, db, "u1", "org-1", TierMember, nil, true)

	rec := doRequest(router, "PUT", "/organizations/org-1/members/u1/overrides", "admin",
		setOverridesRequest{Overrides: map[permissions.Key]bool{
			permissions.TicketRead:  true,
			permissions.CommentRead: true,
		}})
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = doRequest(router, "GET", "/organizations/org-1/members/u1/overrides", "admin", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var payload struct {
		Overrides []Override `json:"overrides"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Len(t, payload.Overrides, 2)
}

func TestGetMemberPermissionsEndpoint(t *testing.T) {
	db := NewTestDB(t)
	router := newTestRouter(t, db)
	seedAdminOrg(t, db, "org-1", "admin")
	viewer := seedRole(t, db, "org-1", permissions.RoleNameViewer,
		permissions.TicketRead, permissions.CommentRead)
	seedMembership(t, db, "u1", "org-1", TierMember, &viewer.ID, true)

	// Self view.
	rec := doRequest(router, "GET", "/organizations/org-1/members/u1/permissions", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var payload struct {
		Permissions map[permissions.Key]bool `json:"permissions"`
		Granted     []permissions.Key        `json:"granted"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.True(t, payload.Permissions[permissions.TicketRead])
	assert.False(t, payload.Permissions[permissions.TicketDelete])
	assert.Contains(t, payload.Granted, permissions.TicketRead)

	// An admin can view others; an ordinary member cannot.
	rec = doRequest(router, "GET", "/organizations/org-1/members/u1/permissions", "admin", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = doRequest(router, "GET", "/organizations/org-1/members/admin/permissions", "u1", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestInvalidJSONBody(t *testing.T) {
	db := NewTestDB(t)
	router := newTestRouter(t, db)
	seedAdminOrg(t, db, "org-1", "admin")

	req := httptest.NewRequest("POST", "/organizations/org-1/roles", bytes.NewBufferString("{not json"))
	ctx := contextkeys.WithPrincipal(req.Context(), &auth.Principal{UserID: "admin"})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req.WithContext(ctx))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
