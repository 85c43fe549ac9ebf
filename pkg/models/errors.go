package models

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound         = errors.New("not_found: no such request or session")
	ErrCapacityExceeded = errors.New("capacity_exceeded: configured limit reached")
	ErrEngineShutdown   = errors.New("engine_shutdown: engine is not accepting work")
)

// SessionClosedError rejects a contribution to a terminal session.
type SessionClosedError struct {
	SessionID string
	ClosedAt  time.Time
}

func (e *SessionClosedError) Error() string {
	return fmt.Sprintf("session_closed: session %s closed at %s", e.SessionID, e.ClosedAt.Format(time.RFC3339))
}

// RoleNotAssignedError rejects a contribution from a role the session
// was not opened with.
type RoleNotAssignedError struct {
	SessionID string
	Role      ReviewerRole
}

func (e *RoleNotAssignedError) Error() string {
	return fmt.Sprintf("role_not_assigned: role %s is not assigned to session %s", e.Role, e.SessionID)
}

// ErrorCode maps a domain error to its stable boundary code. Unknown
// errors map to "internal" so no internal detail leaks to callers.
func ErrorCode(err error) string {
	var closed *SessionClosedError
	var notAssigned *RoleNotAssignedError
	switch {
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrCapacityExceeded):
		return "capacity_exceeded"
	case errors.As(err, &notAssigned):
		return "role_not_assigned"
	case errors.As(err, &closed):
		return "session_closed"
	case errors.Is(err, ErrEngineShutdown):
		return "engine_shutdown"
	default:
		return "internal"
	}
}
