package rbac

import "fmt"

// FailureKind classifies a domain refusal. Failures are expected outcomes of
// the engine and map to 4xx statuses; anything that is not a *Failure is an
// infrastructure error and propagates as a 500.
type FailureKind string

const (
	// KindNotAMember: the subject has no membership in the organization.
	KindNotAMember FailureKind = "not_a_member"
	// KindUnauthorized: the actor is a member but lacks the permission the
	// operation requires.
	KindUnauthorized FailureKind = "unauthorized"
	// KindInvariantViolation: the mutation would break a structural rule
	// (last admin, last membership).
	KindInvariantViolation FailureKind = "invariant_violation"
	// KindNotFound: the referenced entity does not exist.
	KindNotFound FailureKind = "not_found"
	// KindConflict: uniqueness collision or rejected no-op.
	KindConflict FailureKind = "conflict"
	// KindCrossTenant: the operation references entities from different
	// organizations.
	KindCrossTenant FailureKind = "cross_tenant"
)

// Failure is a typed domain refusal carrying its class and a human message.
type Failure struct {
	Kind    FailureKind
	Message string
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

func newFailure(kind FailureKind, format string, args ...interface{}) *Failure {
	return &Failure{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// ErrNotAMember builds a not-a-member failure.
func ErrNotAMember(userID, orgID string) *Failure {
	return newFailure(KindNotAMember, "user %s is not a member of organization %s", userID, orgID)
}

// ErrUnauthorized builds an unauthorized failure.
func ErrUnauthorized(format string, args ...interface{}) *Failure {
	return newFailure(KindUnauthorized, format, args...)
}

// ErrInvariantViolation builds an invariant-violation failure.
func ErrInvariantViolation(format string, args ...interface{}) *Failure {
	return newFailure(KindInvariantViolation, format, args...)
}

// ErrNotFound builds a not-found failure.
func ErrNotFound(format string, args ...interface{}) *Failure {
	return newFailure(KindNotFound, format, args...)
}

// ErrConflict builds a conflict failure.
func ErrConflict(format string, args ...interface{}) *Failure {
	return newFailure(KindConflict, format, args...)
}

// ErrCrossTenant builds a cross-tenant failure.
func ErrCrossTenant(format string, args ...interface{}) *Failure {
	return newFailure(KindCrossTenant, format, args...)
}

func isKind(err error, kind FailureKind) bool {
	f, ok := err.(*Failure)
	return ok && f.Kind == kind
}

// IsNotAMember reports whether err is a not-a-member failure.
func IsNotAMember(err error) bool { return isKind(err, KindNotAMember) }

// IsUnauthorized reports whether err is an unauthorized failure.
func IsUnauthorized(err error) bool { return isKind(err, KindUnauthorized) }

// IsInvariantViolation reports whether err is an invariant-violation failure.
func IsInvariantViolation(err error) bool { return isKind(err, KindInvariantViolation) }

// IsNotFound reports whether err is a not-found failure.
func IsNotFound(err error) bool { return isKind(err, KindNotFound) }

// IsConflict reports whether err is a conflict failure.
func IsConflict(err error) bool { return isKind(err, KindConflict) }

// IsCrossTenant reports whether err is a cross-tenant failure.
func IsCrossTenant(err error) bool { return isKind(err, KindCrossTenant) }

// IsFailure reports whether err is any domain failure, as opposed to an
// infrastructure error.
func IsFailure(err error) bool {
	_, ok := err.(*Failure)
	return ok
}
