package voting

import "fmt"

// Error kinds surfaced by the voting engine. Callers distinguish them with
// errors.As; each is terminal for the single request and leaves cycle state
// untouched.

// ValidationError reports request input the caller can fix: quota exceeded,
// ballot cap reached, duplicate name, malformed rank sequence.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

// StateError reports an operation that is illegal in the cycle's current
// state, including duplicate or late scheduled triggers. The attempted
// transition is a no-op.
type StateError struct {
	Op    string
	State CycleState
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s is not allowed while the cycle is %s", e.Op, e.State)
}

// AuthorizationError reports a caller not entitled to the operation: a
// non-admin issuing an admin command, or an unauthorized user nominating or
// voting.
type AuthorizationError struct {
	UserID int64
	Op     string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("user %d is not authorized for %s", e.UserID, e.Op)
}

// NotFoundError reports a referenced game, voter, or cycle that does not
// exist.
type NotFoundError struct {
	Kind string
	Ref  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.Ref)
}

// ConcurrencyError reports a transition that could not acquire the cycle
// lock within the configured timeout.
type ConcurrencyError struct {
	Op string
}

func (e *ConcurrencyError) Error() string {
	return fmt.Sprintf("timed out waiting for the cycle lock during %s", e.Op)
}
