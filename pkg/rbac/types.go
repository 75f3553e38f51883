package rbac

import (
	"time"

	"github.com/alanvitalp/road-to-next/pkg/permissions"
)

// Tier is the legacy fixed role on a membership. It predates the role
// catalog and survives alongside it; the guard still enforces the last-admin
// invariant against it for memberships that carry no catalog role.
type Tier string

const (
	TierAdmin  Tier = "ADMIN"
	TierMember Tier = "MEMBER"
)

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	return t == TierAdmin || t == TierMember
}

// Role is a named, per-organization set of permission grants.
// (OrganizationID, Name) is unique.
type Role struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id"`
	Name           string    `json:"name"`
	Description    string    `json:"description,omitempty"`
	Grants         []Grant   `json:"grants"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Grant is a single keyed boolean belonging to exactly one role.
type Grant struct {
	Key   permissions.Key `json:"key"`
	Value bool            `json:"value"`
}

// grantValue returns the grant for key, if the role carries one.
func (r *Role) grantValue(key permissions.Key) (bool, bool) {
	for _, g := range r.Grants {
		if g.Key == key {
			return g.Value, true
		}
	}
	return false, false
}

// IsAdmin reports whether a membership with this role counts toward the
// last-admin invariant: the role named Admin is authoritative.
func (r *Role) IsAdmin() bool {
	return r.Name == permissions.RoleNameAdmin
}

// Membership links a user to an organization. RoleID is nil for memberships
// never assigned a catalog role; those fall back to overrides and the legacy
// tier during resolution.
type Membership struct {
	UserID         string    `json:"user_id"`
	OrganizationID string    `json:"organization_id"`
	IsActive       bool      `json:"is_active"`
	Tier           Tier      `json:"membership_role"`
	RoleID         *string   `json:"role_id,omitempty"`
	JoinedAt       time.Time `json:"joined_at"`
}

// Override is a per-user, per-organization permission entry. It wins over
// any role grant in both directions: value true grants a key the role
// denies, value false revokes a key the role grants.
type Override struct {
	UserID         string          `json:"user_id"`
	OrganizationID string          `json:"organization_id"`
	Key            permissions.Key `json:"key"`
	Value          bool            `json:"value"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// memberSnapshot is everything resolution needs about one (user, org) pair,
// loaded in a single store round trip.
type memberSnapshot struct {
	Membership *Membership              `json:"membership"`
	Role       *Role                    `json:"role,omitempty"`
	Overrides  map[permissions.Key]bool `json:"overrides,omitempty"`
}

// isAdmin applies the admin-tier rule: catalog role wins when assigned,
// legacy tier decides otherwise.
func (s *memberSnapshot) isAdmin() bool {
	if s.Role != nil {
		return s.Role.IsAdmin()
	}
	return s.Membership.Tier == TierAdmin
}

// RoleWithMemberCount is a catalog listing entry.
type RoleWithMemberCount struct {
	Role
	MemberCount int `json:"member_count"`
}

// RoleDetail is a role plus the memberships currently assigned to it.
type RoleDetail struct {
	Role
	Members []Membership `json:"members"`
}

// CheckResult is the payload of the permission check endpoint.
type CheckResult struct {
	HasPermission bool `json:"hasPermission"`
}
