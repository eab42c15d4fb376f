package service

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound = errors.New("not found")
	ErrStopped  = errors.New("controller stopped")
)

// PermissionError is returned when the actor may not perform a mutation.
// The backend is never contacted in that case.
type PermissionError struct {
	ActorID   string
	Action    string
	CommentID string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("user %q may not %s comment %s", e.ActorID, e.Action, e.CommentID)
}
