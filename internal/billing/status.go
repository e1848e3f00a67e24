package billing

import (
	"errors"
	"fmt"
)

// Status is the lifecycle state of an invoice or a subcontractor bill.
type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusValidated Status = "VALIDATED"
	StatusAccounted Status = "ACCOUNTED"
	StatusPaid      Status = "PAID"
)

// ErrInvalidStatus is matched by every StateError.
var ErrInvalidStatus = errors.New("invalid status transition")

// StateError reports an operation attempted on a document in the wrong state.
type StateError struct {
	Entity   string
	ID       int64
	Op       string
	Current  Status
	Required Status
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s %d: cannot %s in status %s (requires %s)", e.Entity, e.ID, e.Op, e.Current, e.Required)
}

// Is makes errors.Is(err, ErrInvalidStatus) hold for state errors.
func (e *StateError) Is(target error) bool {
	return target == ErrInvalidStatus
}

// Lifecycle is an ordered, forward-only list of states.
type Lifecycle []Status

var (
	// InvoiceLifecycle is DRAFT -> VALIDATED -> ACCOUNTED.
	InvoiceLifecycle = Lifecycle{StatusDraft, StatusValidated, StatusAccounted}
	// BillLifecycle is DRAFT -> VALIDATED -> PAID.
	BillLifecycle = Lifecycle{StatusDraft, StatusValidated, StatusPaid}
)

// Previous returns the state that must precede target.
func (l Lifecycle) Previous(target Status) (Status, bool) {
	for i, st := range l {
		if st == target && i > 0 {
			return l[i-1], true
		}
	}
	return "", false
}

// Contains reports whether status belongs to the lifecycle.
func (l Lifecycle) Contains(status Status) bool {
	for _, st := range l {
		if st == status {
			return true
		}
	}
	return false
}

// Transition checks that moving from current to target advances exactly one step.
func (l Lifecycle) Transition(entity string, id int64, current, target Status) error {
	required, ok := l.Previous(target)
	if !ok {
		return &StateError{Entity: entity, ID: id, Op: "move to " + string(target), Current: current, Required: "none"}
	}
	if current != required {
		return &StateError{Entity: entity, ID: id, Op: "move to " + string(target), Current: current, Required: required}
	}
	return nil
}

// RequireDraft fails unless current is DRAFT.
func RequireDraft(entity string, id int64, current Status, op string) error {
	if current != StatusDraft {
		return &StateError{Entity: entity, ID: id, Op: op, Current: current, Required: StatusDraft}
	}
	return nil
}
