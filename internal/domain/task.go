package domain

import "errors"

// Task store errors
var (
	ErrStoreUnavailable = errors.New("store: unavailable")
	ErrTaskNotFound     = errors.New("task: not found")
	ErrInvalidPriority  = errors.New("task: invalid priority")
	ErrEmptyDescription = errors.New("task: description is required")
)

// Task log actions
const (
	TaskActionCreated   = "created"
	TaskActionClaimed   = "claimed"
	TaskActionCompleted = "completed"
	TaskActionCancelled = "cancelled"
	TaskActionReaped    = "reaped"
)
