package store

import "errors"

// Sentinel errors returned by Store methods. Callers should use errors.Is.
var (
	// ErrNotFound is returned when a job id is unknown.
	ErrNotFound = errors.New("store: job not found")

	// ErrInvalidTransition names an invalid status transition. No Store
	// method returns it: a transition that does not apply to the job's
	// current status (e.g. re-approving an already-queued job, or completing
	// a terminal job) returns the job unchanged with a nil error.
	ErrInvalidTransition = errors.New("store: invalid status transition")

	// ErrValidation is returned when a NewJobRequest violates a size or
	// required-field invariant.
	ErrValidation = errors.New("store: validation failed")

	// ErrPersist wraps failures writing the atomic snapshot to disk.
	ErrPersist = errors.New("store: persist failed")
)
