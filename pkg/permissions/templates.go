package permissions

// Default role names seeded into every organization.
const (
	RoleNameAdmin  = "Admin"
	RoleNameMember = "Member"
	RoleNameEditor = "Editor"
	RoleNameViewer = "Viewer"
)

// RoleTemplate describes a default role: a name, a description and the keys
// granted true. Keys absent from Grants are ungranted, not granted-false.
type RoleTemplate struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Grants      []Key  `json:"grants"`
}

// DefaultRoleTemplates returns the four role templates provisioned for new
// organizations. Admin carries every registered key; the others carry fixed
// subsets. Order matters to the seeder: Admin and Member first, since
// onboarding only creates those two.
func DefaultRoleTemplates() []RoleTemplate {
	return []RoleTemplate{
		{
			Name:        RoleNameAdmin,
			Description: "Full access to all features",
			Grants:      All(),
		},
		{
			Name:        RoleNameMember,
			Description: "Basic member with read and create access",
			Grants: []Key{
				TicketRead,
				TicketCreate,
				CommentRead,
				CommentCreate,
			},
		},
		{
			Name:        RoleNameEditor,
			Description: "Can create and edit content",
			Grants: []Key{
				TicketCreate,
				TicketRead,
				TicketUpdate,
				TicketUpdateStatus,
				CommentCreate,
				CommentRead,
				CommentUpdate,
			},
		},
		{
			Name:        RoleNameViewer,
			Description: "Read-only access",
			Grants: []Key{
				TicketRead,
				CommentRead,
			},
		},
	}
}
