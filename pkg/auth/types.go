package auth

// Principal is what the authentication collaborator yields for an inbound
// request: who is calling and which organization they are working in. The
// engine never authenticates credentials itself.
type Principal struct {
	UserID               string `json:"user_id"`
	ActiveOrganizationID string `json:"active_organization_id,omitempty"`
}

// Authenticated reports whether the principal carries an identity.
func (p *Principal) Authenticated() bool {
	return p != nil && p.UserID != ""
}
