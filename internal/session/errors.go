package session

import (
	"errors"
	"fmt"

	"github.com/farid/autostrike/internal/models"
)

// ErrSessionNotFound is returned when a session id has no live or stored entry.
var ErrSessionNotFound = errors.New("session not found")

// ErrOverrideRequired is returned when a reject decision arrives without a
// replacement command.
var ErrOverrideRequired = errors.New("override command is required when rejecting a proposal")

// InvalidTargetError reports a target string that failed format or scope
// validation. It is raised before any session state changes.
type InvalidTargetError struct {
	Target string
	Reason string
}

func (e *InvalidTargetError) Error() string {
	return fmt.Sprintf("invalid target %q: %s", e.Target, e.Reason)
}

// InvalidStateError reports an operation attempted in a state that forbids
// it. The session is left unchanged.
type InvalidStateError struct {
	Op     string
	Status models.SessionStatus
	Phase  models.RoundPhase
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("operation %q not allowed in status %q (phase %q)", e.Op, e.Status, e.Phase)
}
