package engine

import (
	"errors"
	"fmt"

	"rootra/internal/domain"
)

// Sentinel errors for conditions callers branch on with errors.Is.
var (
	ErrDuplicateBatchID    = errors.New("batch id already exists")
	ErrInvalidQuantity     = errors.New("quantity must be greater than zero")
	ErrCertificateRequired = errors.New("quality certificate required")
	ErrInvalidCertificate  = errors.New("certificate expiry must be after issue")
	ErrBatchFlagged        = errors.New("batch is flagged")
	ErrAlertClosed         = errors.New("alert already closed")
)

// RoleError is returned when the acting role is not allowed to perform a
// transition. It names what would have been required.
type RoleError struct {
	ActorID    string
	Role       domain.Role
	Transition domain.Transition
	Required   domain.Role
}

func (e *RoleError) Error() string {
	return fmt.Sprintf("actor %s (%s) may not perform %s: requires %s", e.ActorID, e.Role, e.Transition, e.Required)
}

// TransitionError is returned when a transition does not apply to the batch's
// current stage, including when a concurrent transition won the race.
type TransitionError struct {
	BatchID    string
	Stage      domain.Stage
	Transition domain.Transition
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("batch %s at %s: transition %s not allowed", e.BatchID, e.Stage, e.Transition)
}
