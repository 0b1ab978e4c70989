package services

import "errors"

// Scheduler errors
var (
	ErrJobExists         = errors.New("scheduler: job already registered")
	ErrJobNotFound       = errors.New("scheduler: job not found")
	ErrJobInvalid        = errors.New("scheduler: job needs a name, a cadence and a run function")
	ErrSchedulerStarted  = errors.New("scheduler: already started")
	ErrJobPanicked       = errors.New("scheduler: job panicked")
	ErrReadinessCanceled = errors.New("scheduler: cancelled before ready")
)

// Approval errors
var (
	ErrProposalEmpty        = errors.New("approval: no actions proposed")
	ErrProposalNotDelivered = errors.New("approval: proposal could not be delivered")
	ErrApprovalsClosed      = errors.New("approval: workflow closed")
)

// Notification errors
var (
	ErrChannelUnresolved = errors.New("notify: category has no resolved channel")
)
