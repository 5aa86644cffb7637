package domain

import "time"

// ActivityStatus enumerates the lifecycle states of an activity.
type ActivityStatus int

const (
	// StatusActive marks an activity that can be tracked.
	StatusActive ActivityStatus = 1
	// StatusTracking marks an activity with an open period in flight.
	StatusTracking ActivityStatus = 2
	// StatusArchived marks an activity excluded from tracking.
	StatusArchived ActivityStatus = 3
)

// Activity is the task time gets tracked against. The tracker only flips its
// status between Active and Tracking; everything else about it is owned by the
// activity CRUD surface.
type Activity struct {
	ID        int64
	TenantID  string
	OwnerID   int64
	Name      string
	Status    ActivityStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Period is one contiguous tracked interval against an activity by an
// executor. StopTime is nil while tracking is open. All stored timestamps are
// UTC instants; civil-time rendering happens at the API boundary.
type Period struct {
	ID           int64
	TenantID     string
	ActivityID   int64
	ExecutorID   int64
	StartTime    time.Time
	StopTime     *time.Time
	TotalSeconds *int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Open reports whether the period is still being tracked.
func (p Period) Open() bool {
	return p.StopTime == nil
}

// TotalTime returns the closed duration, or zero while the period is open.
func (p Period) TotalTime() time.Duration {
	if p.TotalSeconds == nil {
		return 0
	}
	return time.Duration(*p.TotalSeconds) * time.Second
}

// Span is one single-day segment of a tracked interval as produced by the
// day-boundary splitter. Both bounds are UTC instants on the same civil day.
type Span struct {
	Start time.Time
	Stop  time.Time
}

// Seconds returns the whole-second length of the span.
func (s Span) Seconds() int64 {
	return int64(s.Stop.Sub(s.Start) / time.Second)
}

// StatisticFilter narrows a statistics query. Zero-valued fields mean "any".
// From and To carry civil timestamps whose date part selects whole local days.
type StatisticFilter struct {
	ActivityID int64
	ExecutorID int64
	From       *time.Time
	To         *time.Time
}

// PeriodQuery is the storage-level filter derived from a StatisticFilter:
// date bounds already resolved to a UTC half-open window on stop_time.
type PeriodQuery struct {
	ActivityID int64
	ExecutorID int64
	StopAfter  *time.Time
	StopBefore *time.Time
}

// Cursor models the pagination token for period listings.
type Cursor struct {
	StoppedAt time.Time
	ID        int64
}
