// Package rbac is the authorization engine: role catalog, membership
// directory access, direct permission overrides, the read-side resolver and
// the write-side mutation guard.
//
// Resolution precedence is fixed. A direct override for (user, org, key)
// always wins over a role grant, in both directions; with no override the
// assigned role's grant decides; absence of both is a deny. A user without a
// membership in the organization resolves to false for every key, which is
// an answer, not an error.
//
// All writes go through the Guard. Each guarded operation runs in one
// transaction and re-reads the membership and role state it validates
// against inside that transaction, so the structural invariants survive
// concurrent mutation: an organization never loses its last membership and
// never loses its last admin-standing member. Domain refusals are *Failure
// values classified by kind; anything else is an infrastructure error.
package rbac
