package rolepolicy

import (
	"errors"
	"fmt"
)

// ErrConcurrencyConflict is returned (wrapped) when an optimistic write or an
// atomic office-roster update lost a race. The whole operation may be retried.
var ErrConcurrencyConflict = errors.New("concurrency conflict")

// ValidationError reports malformed input to an operation.
type ValidationError struct {
	Op     Operation
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: invalid input: %s", e.Op, e.Reason)
	}
	return fmt.Sprintf("%s: invalid %s: %s", e.Op, e.Field, e.Reason)
}

// PolicyViolation reports a well-formed request that would break a role invariant.
type PolicyViolation struct {
	Op     Operation
	Role   RoleKind
	Reason string
}

func (e *PolicyViolation) Error() string {
	return fmt.Sprintf("%s: policy violation for %s principal: %s", e.Op, e.Role, e.Reason)
}

// NotFoundError reports a missing principal or office.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

// IntegrityError reports stored data that breaks an invariant, such as an
// unknown capability id on a limited admin. It is surfaced, never repaired.
type IntegrityError struct {
	PrincipalID string
	Reason      string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("principal %s: data integrity: %s", e.PrincipalID, e.Reason)
}

// IsNotFound reports whether err is, or wraps, a *NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsConflict reports whether err wraps ErrConcurrencyConflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConcurrencyConflict)
}

func principalNotFound(id string) error { return &NotFoundError{Kind: "principal", ID: id} }
func officeNotFound(id string) error    { return &NotFoundError{Kind: "office", ID: id} }

// PrincipalNotFound builds the error stores return for a missing principal.
func PrincipalNotFound(id string) error { return principalNotFound(id) }

// OfficeNotFound builds the error stores return for a missing office.
func OfficeNotFound(id string) error { return officeNotFound(id) }
