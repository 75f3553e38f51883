// Package permissions is the closed permission registry: every permission key
// the application understands, grouped by category, plus the default role
// templates seeded into new organizations.
//
// The registry is static. Adding a key is a code change, never data: callers
// validate inbound keys with Valid before letting them anywhere near storage,
// so an unknown key is rejected at the boundary instead of silently resolving
// to default-deny.
package permissions
