package tenants

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
	"github.com/alanvitalp/road-to-next/pkg/rbac"
)

// Handlers exposes the tenant directory over HTTP.
type Handlers struct {
	service     *PostgresService
	logger      *observability.Logger
	auditLogger audit.Logger
}

// NewHandlers creates the tenant HTTP handler set.
func NewHandlers(service *PostgresService, logger *observability.Logger, auditLogger audit.Logger) *Handlers {
	if auditLogger == nil {
		auditLogger = audit.NopLogger{}
	}
	return &Handlers{
		service:     service,
		logger:      logger,
		auditLogger: auditLogger,
	}
}

// RegisterRoutes mounts the tenant routes on the router.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/organizations", h.CreateOrganization).Methods("POST")
	router.HandleFunc("/organizations/{orgID}", h.GetOrganization).Methods("GET")
	router.HandleFunc("/organizations/{orgID}", h.DeleteOrganization).Methods("DELETE")
	router.HandleFunc("/organizations/{orgID}/members", h.ListMembers).Methods("GET")
	router.HandleFunc("/organizations/{orgID}/members/{userID}", h.AddMember).Methods("POST")
	router.HandleFunc("/me/memberships", h.ListMyMemberships).Methods("GET")
	router.HandleFunc("/me/organizations/{orgID}/switch", h.SwitchOrganization).Methods("POST")
}

func (h *Handlers) principal(w http.ResponseWriter, r *http.Request) *auth.Principal {
	p := middleware.GetPrincipal(r)
	if !p.Authenticated() {
		httputil.WriteUnauthorized(w, "authentication required")
		return nil
	}
	return p
}

func (h *Handlers) writeFailure(w http.ResponseWriter, err error) {
	f, ok := err.(*rbac.Failure)
	if !ok {
		h.logger.WithError(err).Error("storage failure")
		httputil.WriteErrorMessage(w, http.StatusInternalServerError, "internal error")
		return
	}
	switch f.Kind {
	case rbac.KindNotAMember, rbac.KindUnauthorized:
		httputil.WriteForbidden(w, f.Message)
	case rbac.KindNotFound:
		httputil.WriteNotFoundError(w, f.Message)
	case rbac.KindConflict, rbac.KindInvariantViolation:
		httputil.WriteConflict(w, f.Message)
	case rbac.KindCrossTenant:
		httputil.WriteValidationError(w, f.Message)
	default:
		httputil.WriteErrorMessage(w, http.StatusInternalServerError, f.Message)
	}
}

func (h *Handlers) emit(ctx context.Context, event *audit.Event) {
	event.RequestID = contextkeys.GetRequestID(ctx)
	if err := h.auditLogger.Log(ctx, event); err != nil {
		h.logger.FromContext(ctx).WithError(err).Warn("failed to write audit event")
	}
}

type createOrganizationRequest struct {
	Name string `json:"name"`
}

// CreateOrganization onboards a new tenant with the caller as its admin.
func (h *Handlers) CreateOrganization(w http.ResponseWriter, r *http.Request) {
	p := h.principal(w, r)
	if p == nil {
		return
	}

	var req createOrganizationRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteValidationError(w, err.Error())
		return
	}

	org, err := h.service.CreateOrganization(r.Context(), p.UserID, req.Name)
	event := audit.NewEvent(audit.EventTypeOrganizationCreate, audit.EventStatusSuccess)
	event.ActorID = p.UserID
	if err != nil {
		event.Status = audit.EventStatusFailure
		event.ErrorMessage = err.Error()
		h.emit(r.Context(), event)
		h.writeFailure(w, err)
		return
	}
	event.OrganizationID = org.ID
	h.emit(r.Context(), event)
	httputil.WriteCreated(w, org)
}

// GetOrganization serves one organization. Members only.
func (h *Handlers) GetOrganization(w http.ResponseWriter, r *http.Request) {
	p := h.principal(w, r)
	if p == nil {
		return
	}
	orgID := mux.Vars(r)["orgID"]

	memberships, err := h.service.ListUserMemberships(r.Context(), p.UserID)
	if err != nil {
		h.writeFailure(w, err)
		return
	}
	isMember := false
	for _, m := range memberships {
		if m.OrganizationID == orgID {
			isMember = true
			break
		}
	}
	if !isMember {
		h.writeFailure(w, rbac.ErrNotAMember(p.UserID, orgID))
		return
	}

	org, err := h.service.GetOrganization(r.Context(), orgID)
	if err != nil {
		h.writeFailure(w, err)
		return
	}
	if org == nil {
		h.writeFailure(w, rbac.ErrNotFound("organization %s not found", orgID))
		return
	}
	httputil.WriteSuccess(w, org)
}

// DeleteOrganization removes a tenant and everything it owns.
func (h *Handlers) DeleteOrganization(w http.ResponseWriter, r *http.Request) {
	p := h.principal(w, r)
	if p == nil {
		return
	}
	orgID := mux.Vars(r)["orgID"]

	err := h.service.DeleteOrganization(r.Context(), p.UserID, orgID)
	event := audit.NewEvent(audit.EventTypeOrganizationDelete, audit.EventStatusSuccess)
	event.ActorID = p.UserID
	event.OrganizationID = orgID
	if err != nil {
		event.Status = audit.EventStatusFailure
		if rbac.IsUnauthorized(err) || rbac.IsNotAMember(err) {
			event.Status = audit.EventStatusDenied
		}
		event.ErrorMessage = err.Error()
		h.emit(r.Context(), event)
		h.writeFailure(w, err)
		return
	}
	h.emit(r.Context(), event)
	httputil.WriteNoContent(w)
}

// ListMembers lists the organization's memberships. Members only.
func (h *Handlers) ListMembers(w http.ResponseWriter, r *http.Request) {
	p := h.principal(w, r)
	if p == nil {
		return
	}
	orgID := mux.Vars(r)["orgID"]

	members, err := h.service.ListOrganizationMembers(r.Context(), orgID)
	if err != nil {
		h.writeFailure(w, err)
		return
	}
	isMember := false
	for _, m := range members {
		if m.UserID == p.UserID {
			isMember = true
			break
		}
	}
	if !isMember {
		h.writeFailure(w, rbac.ErrNotAMember(p.UserID, orgID))
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"members": members})
}

// AddMember adds a user to the organization.
func (h *Handlers) AddMember(w http.ResponseWriter, r *http.Request) {
	p := h.principal(w, r)
	if p == nil {
		return
	}
	vars := mux.Vars(r)
	orgID, userID := vars["orgID"], vars["userID"]

	err := h.service.AddMember(r.Context(), p.UserID, userID, orgID)
	if err != nil {
		h.writeFailure(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

// ListMyMemberships lists the caller's memberships across organizations.
func (h *Handlers) ListMyMemberships(w http.ResponseWriter, r *http.Request) {
	p := h.principal(w, r)
	if p == nil {
		return
	}
	memberships, err := h.service.ListUserMemberships(r.Context(), p.UserID)
	if err != nil {
		h.writeFailure(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"memberships": memberships})
}

// SwitchOrganization makes orgID the caller's active organization.
func (h *Handlers) SwitchOrganization(w http.ResponseWriter, r *http.Request) {
	p := h.principal(w, r)
	if p == nil {
		return
	}
	orgID := mux.Vars(r)["orgID"]

	err := h.service.SwitchActiveOrganization(r.Context(), p.UserID, orgID)
	event := audit.NewEvent(audit.EventTypeOrganizationSwitch, audit.EventStatusSuccess)
	event.ActorID = p.UserID
	event.OrganizationID = orgID
	if err != nil {
		event.Status = audit.EventStatusFailure
		if rbac.IsNotAMember(err) {
			event.Status = audit.EventStatusDenied
		}
		event.ErrorMessage = err.Error()
		h.emit(r.Context(), event)
		h.writeFailure(w, err)
		return
	}
	h.emit(r.Context(), event)
	httputil.WriteNoContent(w)
}
