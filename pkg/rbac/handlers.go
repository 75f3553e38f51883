package rbac

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/alanvitalp/road-to-next/pkg/audit"
	"github.com/alanvitalp/road-to-next/pkg/auth"
	"github.com/alanvitalp/road-to-next/pkg/contextkeys"
	"github.com/alanvitalp/road-to-next/pkg/httputil"
	"github.com/alanvitalp/road-to-next/pkg/middleware"
	"github.com/alanvitalp/road-to-next/pkg/observability"
	"github.com/alanvitalp/road-to-next/pkg/permissions"
)

// Handlers exposes the authorization engine over HTTP.
type Handlers struct {
	store       *Store
	resolver    *Resolver
	guard       *Guard
	logger      *observability.Logger
	auditLogger audit.Logger
}

// NewHandlers creates the HTTP handler set.
func NewHandlers(store *Store, resolver *Resolver, guard *Guard, logger *observability.Logger, auditLogger audit.Logger) *Handlers {
	if auditLogger == nil {
		auditLogger = audit.NopLogger{}
	}
	return &Handlers{
		store:       store,
		resolver:    resolver,
		guard:       guard,
		logger:      logger,
		auditLogger: auditLogger,
	}
}

// RegisterRoutes mounts all authorization routes on the router.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/permissions", h.ListPermissionRegistry).Methods("GET")
	router.HandleFunc("/permissions/check", h.CheckPermission).Methods("GET")

	router.HandleFunc("/organizations/{orgID}/roles", h.ListRoles).Methods("GET")
	router.HandleFunc("/organizations/{orgID}/roles", h.CreateRole).Methods("POST")
	router.HandleFunc("/roles/{roleID}", h.GetRole).Methods("GET")
	router.HandleFunc("/roles/{roleID}/permissions", h.UpdateRolePermissions).Methods("PUT")
	router.HandleFunc("/roles/{roleID}", h.DeleteRole).Methods("DELETE")

	router.HandleFunc("/organizations/{orgID}/members/{userID}", h.DeleteMembership).Methods("DELETE")
	router.HandleFunc("/organizations/{orgID}/members/{userID}/role", h.AssignRole).Methods("PUT")
	router.HandleFunc("/organizations/{orgID}/members/{userID}/tier", h.UpdateMembershipTier).Methods("PUT")

	router.HandleFunc("/organizations/{orgID}/members/{userID}/permissions", h.GetMemberPermissions).Methods("GET")
	router.HandleFunc("/organizations/{orgID}/members/{userID}/overrides", h.ListOverrides).Methods("GET")
	router.HandleFunc("/organizations/{orgID}/members/{userID}/overrides", h.SetOverrides).Methods("PUT")
	router.HandleFunc("/organizations/{orgID}/members/{userID}/overrides/{key}", h.SetOverride).Methods("PUT")
	router.HandleFunc("/organizations/{orgID}/members/{userID}/overrides/{key}", h.RemoveOverride).Methods("DELETE")
	router.HandleFunc("/organizations/{orgID}/members/{userID}/overrides/{key}/toggle", h.ToggleOverride).Methods("POST")
}

// writeFailure maps a domain failure to its HTTP status. Infrastructure
// errors are logged and surfaced as 500s without detail.
func (h *Handlers) writeFailure(w http.ResponseWriter, err error) {
	f, ok := err.(*Failure)
	if !ok {
		h.logger.WithError(err).Error("storage failure")
		httputil.WriteErrorMessage(w, http.StatusInternalServerError, "internal error")
		return
	}
	switch f.Kind {
	case KindNotAMember, KindUnauthorized:
		httputil.WriteForbidden(w, f.Message)
	case KindNotFound:
		httputil.WriteNotFoundError(w, f.Message)
	case KindConflict, KindInvariantViolation:
		httputil.WriteConflict(w, f.Message)
	case KindCrossTenant:
		httputil.WriteValidationError(w, f.Message)
	default:
		httputil.WriteErrorMessage(w, http.StatusInternalServerError, f.Message)
	}
}

func (h *Handlers) principal(w http.ResponseWriter, r *http.Request) *auth.Principal {
	p := middleware.GetPrincipal(r)
	if !p.Authenticated() {
		httputil.WriteUnauthorized(w, "authentication required")
		return nil
	}
	return p
}

// requireMember rejects callers that are not members of the organization.
func (h *Handlers) requireMember(ctx context.Context, w http.ResponseWriter, userID, orgID string) bool {
	m, err := h.store.GetMembership(ctx, userID, orgID)
	if err != nil {
		h.writeFailure(w, err)
		return false
	}
	if m == nil {
		h.writeFailure(w, ErrNotAMember(userID, orgID))
		return false
	}
	return true
}

func (h *Handlers) emit(ctx context.Context, event *audit.Event) {
	event.RequestID = contextkeys.GetRequestID(ctx)
	if err := h.auditLogger.Log(ctx, event); err != nil {
		h.logger.FromContext(ctx).WithError(err).Warn("failed to write audit event")
	}
}

func auditStatus(err error) audit.EventStatus {
	switch {
	case err == nil:
		return audit.EventStatusSuccess
	case IsUnauthorized(err), IsNotAMember(err):
		return audit.EventStatusDenied
	default:
		return audit.EventStatusFailure
	}
}

// ListPermissionRegistry serves the full permission catalogue with metadata.
func (h *Handlers) ListPermissionRegistry(w http.ResponseWriter, r *http.Request) {
	if p := h.principal(w, r); p == nil {
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{
		"permissions":      permissions.Registry(),
		"minimum_required": permissions.MinimumRequired(),
	})
}

// CheckPermission answers a single permission check. Callers may only ask
// about themselves; asking about another user is forbidden, not hidden.
func (h *Handlers) CheckPermission(w http.ResponseWriter, r *http.Request) {
	p := h.principal(w, r)
	if p == nil {
		return
	}

	q := r.URL.Query()
	userID := q.Get("userId")
	orgID := q.Get("organizationId")
	key := q.Get("permissionKey")
	if userID == "" || orgID == "" || key == "" {
		httputil.WriteValidationError(w, "userId, organizationId and permissionKey are required")
		return
	}
	if !permissions.Valid(permissions.Key(key)) {
		httputil.WriteValidationError(w, "unknown permission key")
		return
	}
	if userID != p.UserID {
		httputil.WriteForbidden(w, "cannot check permissions for another user")
		return
	}

	allowed, err := h.resolver.HasPermission(r.Context(), userID, orgID, permissions.Key(key))
	if err != nil {
		h.writeFailure(w, err)
		return
	}
	httputil.WriteSuccess(w, CheckResult{HasPermission: allowed})
}

// ListRoles lists the organization's roles with member counts. Members only.
func (h *Handlers) ListRoles(w http.ResponseWriter, r *http.Request) {
	p := h.principal(w, r)
	if p == nil {
		return
	}
	orgID := mux.Vars(r)["orgID"]
	if !h.requireMember(r.Context(), w, p.UserID, orgID) {
		return
	}

	roles, err := h.store.ListRoles(r.Context(), orgID)
	if err != nil {
		h.writeFailure(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"roles": roles})
}

type createRoleRequest struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Grants      []Grant `json:"grants"`
}

// CreateRole creates a role in the organization.
func (h *Handlers) CreateRole(w http.ResponseWriter, r *http.Request) {
	p := h.principal(w, r)
	if p == nil {
		return
	}
	orgID := mux.Vars(r)["orgID"]

	var req createRoleRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteValidationError(w, err.Error())
		return
	}

	role, err := h.guard.CreateRole(r.Context(), p.UserID, orgID, req.Name, req.Description, req.Grants)
	event := audit.NewEvent(audit.EventTypeRoleCreate, auditStatus(err))
	event.ActorID = p.UserID
	event.OrganizationID = orgID
	if role != nil {
		event.RoleID = role.ID
	}
	if err != nil {
		event.ErrorMessage = err.Error()
		h.emit(r.Context(), event)
		h.writeFailure(w, err)
		return
	}
	h.emit(r.Context(), event)
	httputil.WriteCreated(w, role)
}

// GetRole serves a role with its grants and assigned members.
func (h *Handlers) GetRole(w http.ResponseWriter, r *http.Request) {
	p := h.principal(w, r)
	if p == nil {
		return
	}
	roleID := mux.Vars(r)["roleID"]

	role, err := h.store.GetRole(r.Context(), roleID)
	if err != nil {
		h.writeFailure(w, err)
		return
	}
	if role == nil {
		h.writeFailure(w, ErrNotFound("role %s not found", roleID))
		return
	}
	if !h.requireMember(r.Context(), w, p.UserID, role.OrganizationID) {
		return
	}

	members, err := h.store.ListRoleMembers(r.Context(), roleID)
	if err != nil {
		h.writeFailure(w, err)
		return
	}
	httputil.WriteSuccess(w, RoleDetail{Role: *role, Members: members})
}

type updateGrantsRequest struct {
	Grants []Grant `json:"grants"`
}

// UpdateRolePermissions replaces the role's grant set.
func (h *Handlers) UpdateRolePermissions(w http.ResponseWriter, r *http.Request) {
	p := h.principal(w, r)
	if p == nil {
		return
	}
	roleID := mux.Vars(r)["roleID"]

	var req updateGrantsRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteValidationError(w, err.Error())
		return
	}

	role, err := h.guard.UpdateRolePermissions(r.Context(), p.UserID, roleID, req.Grants)
	event := audit.NewEvent(audit.EventTypeRoleGrantsUpdate, auditStatus(err))
	event.ActorID = p.UserID
	event.RoleID = roleID
	if err != nil {
		event.ErrorMessage = err.Error()
		h.emit(r.Context(), event)
		h.writeFailure(w, err)
		return
	}
	event.OrganizationID = role.OrganizationID
	h.emit(r.Context(), event)
	httputil.WriteSuccess(w, role)
}

// DeleteRole removes a role, unassigning its members.
func (h *Handlers) DeleteRole(w http.ResponseWriter, r *http.Request) {
	p := h.principal(w, r)
	if p == nil {
		return
	}
	roleID := mux.Vars(r)["roleID"]

	err := h.guard.DeleteRole(r.Context(), p.UserID, roleID)
	event := audit.NewEvent(audit.EventTypeRoleDelete, auditStatus(err))
	event.ActorID = p.UserID
	event.RoleID = roleID
	if err != nil {
		event.ErrorMessage = err.Error()
		h.emit(r.Context(), event)
		h.writeFailure(w, err)
		return
	}
	h.emit(r.Context(), event)
	httputil.WriteNoContent(w)
}

type assignRoleRequest struct {
	RoleID *string `json:"role_id"`
}

// AssignRole sets or clears a member's catalog role.
func (h *Handlers) AssignRole(w http.ResponseWriter, r *http.Request) {
	p := h.principal(w, r)
	if p == nil {
		return
	}
	vars := mux.Vars(r)
	orgID, userID := vars["orgID"], vars["userID"]

	var req assignRoleRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteValidationError(w, err.Error())
		return
	}

	err := h.guard.AssignRole(r.Context(), p.UserID, userID, orgID, req.RoleID)
	event := audit.NewEvent(audit.EventTypeMembershipRoleAssign, auditStatus(err))
	event.ActorID = p.UserID
	event.TargetUserID = userID
	event.OrganizationID = orgID
	if req.RoleID != nil {
		event.RoleID = *req.RoleID
	}
	if err != nil {
		event.ErrorMessage = err.Error()
		h.emit(r.Context(), event)
		h.writeFailure(w, err)
		return
	}
	h.emit(r.Context(), event)
	httputil.WriteNoContent(w)
}

type updateTierRequest struct {
	Tier Tier `json:"tier"`
}

// UpdateMembershipTier changes a member's legacy tier.
func (h *Handlers) UpdateMembershipTier(w http.ResponseWriter, r *http.Request) {
	p := h.principal(w, r)
	if p == nil {
		return
	}
	vars := mux.Vars(r)
	orgID, userID := vars["orgID"], vars["userID"]

	var req updateTierRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteValidationError(w, err.Error())
		return
	}

	err := h.guard.UpdateMembershipTier(r.Context(), p.UserID, userID, orgID, req.Tier)
	event := audit.NewEvent(audit.EventTypeMembershipTierUpdate, auditStatus(err))
	event.ActorID = p.UserID
	event.TargetUserID = userID
	event.OrganizationID = orgID
	if err != nil {
		event.ErrorMessage = err.Error()
		h.emit(r.Context(), event)
		h.writeFailure(w, err)
		return
	}
	h.emit(r.Context(), event)
	httputil.WriteNoContent(w)
}

// DeleteMembership removes a member from the organization.
func (h *Handlers) DeleteMembership(w http.ResponseWriter, r *http.Request) {
	p := h.principal(w, r)
	if p == nil {
		return
	}
	vars := mux.Vars(r)
	orgID, userID := vars["orgID"], vars["userID"]

	err := h.guard.DeleteMembership(r.Context(), p.UserID, userID, orgID)
	event := audit.NewEvent(audit.EventTypeMembershipDelete, auditStatus(err))
	event.ActorID = p.UserID
	event.TargetUserID = userID
	event.OrganizationID = orgID
	if err != nil {
		event.ErrorMessage = err.Error()
		h.emit(r.Context(), event)
		h.writeFailure(w, err)
		return
	}
	h.emit(r.Context(), event)
	httputil.WriteNoContent(w)
}

// GetMemberPermissions serves a member's effective permission map. Members
// may view their own; viewing others needs member:update_permissions.
func (h *Handlers) GetMemberPermissions(w http.ResponseWriter, r *http.Request) {
	p := h.principal(w, r)
	if p == nil {
		return
	}
	vars := mux.Vars(r)
	orgID, userID := vars["orgID"], vars["userID"]

	if userID != p.UserID {
		allowed, err := h.resolver.HasPermission(r.Context(), p.UserID, orgID, permissions.MemberUpdatePermissions)
		if err != nil {
			h.writeFailure(w, err)
			return
		}
		if !allowed {
			httputil.WriteForbidden(w, "cannot view permissions for another user")
			return
		}
	}

	effective, err := h.resolver.EffectivePermissions(r.Context(), userID, orgID)
	if err != nil {
		h.writeFailure(w, err)
		return
	}
	granted, err := h.resolver.GetUserPermissions(r.Context(), userID, orgID)
	if err != nil {
		h.writeFailure(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{
		"permissions": effective,
		"granted":     granted,
	})
}

// ListOverrides serves a member's direct overrides, ordered by key.
func (h *Handlers) ListOverrides(w http.ResponseWriter, r *http.Request) {
	p := h.principal(w, r)
	if p == nil {
		return
	}
	vars := mux.Vars(r)
	orgID, userID := vars["orgID"], vars["userID"]
	if !h.requireMember(r.Context(), w, p.UserID, orgID) {
		return
	}

	overrides, err := h.store.ListOverrides(r.Context(), userID, orgID)
	if err != nil {
		h.writeFailure(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"overrides": overrides})
}

type setOverrideRequest struct {
	Value bool `json:"value"`
}

// SetOverride upserts one direct override.
func (h *Handlers) SetOverride(w http.ResponseWriter, r *http.Request) {
	p := h.principal(w, r)
	if p == nil {
		return
	}
	vars := mux.Vars(r)
	orgID, userID, key := vars["orgID"], vars["userID"], vars["key"]

	var req setOverrideRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteValidationError(w, err.Error())
		return
	}

	err := h.guard.SetUserPermission(r.Context(), p.UserID, userID, orgID, permissions.Key(key), req.Value)
	event := audit.NewEvent(audit.EventTypeOverrideSet, auditStatus(err))
	event.ActorID = p.UserID
	event.TargetUserID = userID
	event.OrganizationID = orgID
	event.PermissionKey = key
	if err != nil {
		event.ErrorMessage = err.Error()
		h.emit(r.Context(), event)
		h.writeFailure(w, err)
		return
	}
	h.emit(r.Context(), event)
	httputil.WriteNoContent(w)
}

type setOverridesRequest struct {
	Overrides map[permissions.Key]bool `json:"overrides"`
}

// SetOverrides upserts a batch of direct overrides atomically.
func (h *Handlers) SetOverrides(w http.ResponseWriter, r *http.Request) {
	p := h.principal(w, r)
	if p == nil {
		return
	}
	vars := mux.Vars(r)
	orgID, userID := vars["orgID"], vars["userID"]

	var req setOverridesRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteValidationError(w, err.Error())
		return
	}

	err := h.guard.SetUserPermissions(r.Context(), p.UserID, userID, orgID, req.Overrides)
	event := audit.NewEvent(audit.EventTypeOverrideSet, auditStatus(err))
	event.ActorID = p.UserID
	event.TargetUserID = userID
	event.OrganizationID = orgID
	if err != nil {
		event.ErrorMessage = err.Error()
		h.emit(r.Context(), event)
		h.writeFailure(w, err)
		return
	}
	h.emit(r.Context(), event)
	httputil.WriteNoContent(w)
}

// RemoveOverride deletes one direct override.
func (h *Handlers) RemoveOverride(w http.ResponseWriter, r *http.Request) {
	p := h.principal(w, r)
	if p == nil {
		return
	}
	vars := mux.Vars(r)
	orgID, userID, key := vars["orgID"], vars["userID"], vars["key"]

	err := h.guard.RemoveUserPermission(r.Context(), p.UserID, userID, orgID, permissions.Key(key))
	event := audit.NewEvent(audit.EventTypeOverrideRemove, auditStatus(err))
	event.ActorID = p.UserID
	event.TargetUserID = userID
	event.OrganizationID = orgID
	event.PermissionKey = key
	if err != nil {
		event.ErrorMessage = err.Error()
		h.emit(r.Context(), event)
		h.writeFailure(w, err)
		return
	}
	h.emit(r.Context(), event)
	httputil.WriteNoContent(w)
}

// ToggleOverride flips one direct override, treating absence as false.
func (h *Handlers) ToggleOverride(w http.ResponseWriter, r *http.Request) {
	p := h.principal(w, r)
	if p == nil {
		return
	}
	vars := mux.Vars(r)
	orgID, userID, key := vars["orgID"], vars["userID"], vars["key"]

	value, err := h.guard.ToggleUserPermission(r.Context(), p.UserID, userID, orgID, permissions.Key(key))
	event := audit.NewEvent(audit.EventTypeOverrideToggle, auditStatus(err))
	event.ActorID = p.UserID
	event.TargetUserID = userID
	event.OrganizationID = orgID
	event.PermissionKey = key
	if err != nil {
		event.ErrorMessage = err.Error()
		h.emit(r.Context(), event)
		h.writeFailure(w, err)
		return
	}
	h.emit(r.Context(), event)
	httputil.WriteSuccess(w, map[string]bool{"value": value})
}
