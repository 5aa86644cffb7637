package domain

import "errors"

var (
	// ErrAlreadyTracking indicates an open period already exists for the
	// activity/executor pair.
	ErrAlreadyTracking = errors.New("activity is already tracking for this executor")
	// ErrNoOpenPeriod indicates a stop was requested with nothing to stop.
	ErrNoOpenPeriod = errors.New("no open period for this activity and executor")
	// ErrNotOwner indicates the caller does not own the period being edited.
	ErrNotOwner = errors.New("period belongs to a different executor")
	// ErrInvalidArgument indicates a request missing required fields.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrInvalidInterval indicates bounds where stop would not exceed start.
	ErrInvalidInterval = errors.New("stop time must be after start time")
	// ErrPeriodNotFound is returned when a period cannot be located.
	ErrPeriodNotFound = errors.New("period not found")
	// ErrActivityNotFound is returned when an activity cannot be located.
	ErrActivityNotFound = errors.New("activity not found")
	// ErrActivityArchived indicates tracking was requested on an archived activity.
	ErrActivityArchived = errors.New("activity is archived")
	// ErrConcurrentModification indicates the record changed under a
	// compare-and-swap; callers may retry.
	ErrConcurrentModification = errors.New("period was modified concurrently")
)
