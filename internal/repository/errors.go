package repository

import "errors"

// ErrNotFound indicates an entity was not located.
var ErrNotFound = errors.New("repository: not found")

// ErrInvalidTransition indicates an illegal status state machine edge.
var ErrInvalidTransition = errors.New("repository: invalid status transition")
