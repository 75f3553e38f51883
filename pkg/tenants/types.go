package tenants

import (
	"time"

	"github.com/alanvitalp/road-to-next/pkg/rbac"
)

// Organization is a tenant. Deleting an organization removes its
// memberships, roles and overrides with it.
type Organization struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Membership is the tenant-directory view of one user's membership,
// including the organization it belongs to.
type Membership struct {
	UserID           string    `json:"user_id"`
	OrganizationID   string    `json:"organization_id"`
	OrganizationName string    `json:"organization_name"`
	IsActive         bool      `json:"is_active"`
	Tier             rbac.Tier `json:"membership_role"`
	RoleID           *string   `json:"role_id,omitempty"`
	JoinedAt         time.Time `json:"joined_at"`
}
