package audit

import "time"

// EventType represents the category of audit event
type EventType string

const (
	// Role catalog events
	EventTypeRoleCreate       EventType = "role.create"
	EventTypeRoleGrantsUpdate EventType = "role.grants_update"
	EventTypeRoleDelete       EventType = "role.delete"

	// Membership events
	EventTypeMembershipRoleAssign EventType = "membership.role_assign"
	EventTypeMembershipTierUpdate EventType = "membership.tier_update"
	EventTypeMembershipDelete     EventType = "membership.delete"

	// Direct override events
	EventTypeOverrideSet    EventType = "override.set"
	EventTypeOverrideRemove EventType = "override.remove"
	EventTypeOverrideToggle EventType = "override.toggle"

	// Tenant events
	EventTypeOrganizationCreate EventType = "organization.create"
	EventTypeOrganizationDelete EventType = "organization.delete"
	EventTypeOrganizationSwitch EventType = "organization.switch"

	// Read events
	EventTypePermissionCheck EventType = "permission.check"
)

// EventStatus represents the outcome of an event
type EventStatus string

const (
	EventStatusSuccess EventStatus = "success"
	EventStatusFailure EventStatus = "failure"
	EventStatusDenied  EventStatus = "denied"
)

// Event is a single audit log entry.
type Event struct {
	Timestamp time.Time   `json:"timestamp"`
	EventType EventType   `json:"event_type"`
	Status    EventStatus `json:"status"`

	// Actor and target
	ActorID        string `json:"actor_id,omitempty"`
	TargetUserID   string `json:"target_user_id,omitempty"`
	OrganizationID string `json:"organization_id,omitempty"`

	// Affected entity
	RoleID        string `json:"role_id,omitempty"`
	PermissionKey string `json:"permission_key,omitempty"`

	// Request context
	RequestID string `json:"request_id,omitempty"`

	Message      string                 `json:"message,omitempty"`
	ErrorMessage string                 `json:"error_message,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}
