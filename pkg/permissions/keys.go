package permissions

// Key identifies a single capability, e.g. "ticket:delete".
type Key string

// Category groups keys for display and registry listing.
type Category string

const (
	CategoryTicket       Category = "ticket"
	CategoryComment      Category = "comment"
	CategoryOrganization Category = "organization"
	CategoryMember       Category = "member"
)

// Ticket permissions
const (
	TicketCreate       Key = "ticket:create"
	TicketRead         Key = "ticket:read"
	TicketUpdate       Key = "ticket:update"
	TicketDelete       Key = "ticket:delete"
	TicketUpdateStatus Key = "ticket:update_status"
)

// Comment permissions
const (
	CommentCreate Key = "comment:create"
	CommentRead   Key = "comment:read"
	CommentUpdate Key = "comment:update"
	CommentDelete Key = "comment:delete"
)

// Organization permissions
const (
	OrganizationUpdate        Key = "organization:update"
	OrganizationDelete        Key = "organization:delete"
	OrganizationManageMembers Key = "organization:manage_members"
)

// Member permissions
const (
	MemberInvite            Key = "member:invite"
	MemberRemove            Key = "member:remove"
	MemberUpdateRole        Key = "member:update_role"
	MemberUpdatePermissions Key = "member:update_permissions"
)

// Metadata describes a key for UI display.
type Metadata struct {
	Key         Key      `json:"key"`
	Label       string   `json:"label"`
	Description string   `json:"description"`
	Category    Category `json:"category"`
}

var registry = []Metadata{
	{TicketCreate, "Create Tickets", "Allows creating new tickets", CategoryTicket},
	{TicketRead, "View Tickets", "Allows viewing tickets", CategoryTicket},
	{TicketUpdate, "Edit Tickets", "Allows editing ticket content", CategoryTicket},
	{TicketDelete, "Delete Tickets", "Allows deleting tickets", CategoryTicket},
	{TicketUpdateStatus, "Update Ticket Status", "Allows changing ticket status", CategoryTicket},
	{CommentCreate, "Create Comments", "Allows adding comments", CategoryComment},
	{CommentRead, "View Comments", "Allows viewing comments", CategoryComment},
	{CommentUpdate, "Edit Comments", "Allows editing comments", CategoryComment},
	{CommentDelete, "Delete Comments", "Allows deleting comments", CategoryComment},
	{OrganizationUpdate, "Edit Organization", "Allows editing organization settings", CategoryOrganization},
	{OrganizationDelete, "Delete Organization", "Allows deleting the organization", CategoryOrganization},
	{OrganizationManageMembers, "Manage Members", "Allows managing organization members and roles", CategoryOrganization},
	{MemberInvite, "Invite Members", "Allows inviting new members", CategoryMember},
	{MemberRemove, "Remove Members", "Allows removing members", CategoryMember},
	{MemberUpdateRole, "Change Member Roles", "Allows changing member role assignments", CategoryMember},
	{MemberUpdatePermissions, "Manage Member Permissions", "Allows toggling per-member permission overrides", CategoryMember},
}

var keyIndex = func() map[Key]Metadata {
	idx := make(map[Key]Metadata, len(registry))
	for _, m := range registry {
		idx[m.Key] = m
	}
	return idx
}()

// All returns every registered key in registry order.
func All() []Key {
	keys := make([]Key, len(registry))
	for i, m := range registry {
		keys[i] = m.Key
	}
	return keys
}

// Registry returns the full registry with metadata, in registry order.
func Registry() []Metadata {
	out := make([]Metadata, len(registry))
	copy(out, registry)
	return out
}

// Valid reports whether k is a registered permission key.
func Valid(k Key) bool {
	_, ok := keyIndex[k]
	return ok
}

// Lookup returns the metadata for k.
func Lookup(k Key) (Metadata, bool) {
	m, ok := keyIndex[k]
	return m, ok
}

// ByCategory returns the registered keys belonging to c, in registry order.
func ByCategory(c Category) []Key {
	var keys []Key
	for _, m := range registry {
		if m.Category == c {
			keys = append(keys, m.Key)
		}
	}
	return keys
}

// MinimumRequired is the set of keys every member needs to use the app at all.
func MinimumRequired() []Key {
	return []Key{TicketRead, CommentRead}
}
