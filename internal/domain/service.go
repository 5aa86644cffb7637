// Package domain implements the tracking state machine, day-boundary period
// splitting and elapsed-time statistics for the time tracker.
package domain

import (
	"context"
	"time"

	"example.com/timetracker/internal/localtime"
)

// TrackingRepository captures persistence operations over activity periods.
// Implementations guarantee that every method runs in a single transaction and
// that period writes and activity status flips are applied together or not at
// all.
type TrackingRepository interface {
	// CreateOpenPeriod inserts an open period and flips the activity status
	// to Tracking. An existing open period for the same activity/executor
	// pair surfaces as ErrAlreadyTracking; a missing or archived activity
	// surfaces as ErrActivityNotFound / ErrActivityArchived.
	CreateOpenPeriod(ctx context.Context, period Period) (*Period, error)
	// FindOpenPeriod returns the open period for the pair, or nil.
	FindOpenPeriod(ctx context.Context, tenantID string, activityID, executorID int64) (*Period, error)
	// CloseOpenPeriod closes the identified period with spans[0], inserts
	// one closed period per additional span, and flips the activity status
	// back to Active. The close is a compare-and-swap on (id, open,
	// expectedStart); a miss surfaces as ErrConcurrentModification.
	CloseOpenPeriod(ctx context.Context, tenantID string, periodID int64, expectedStart time.Time, spans []Span) ([]Period, error)
	// GetPeriod returns the period, or nil when absent.
	GetPeriod(ctx context.Context, tenantID string, periodID int64) (*Period, error)
	// UpdatePeriodStart rewrites the start bound and total in place.
	UpdatePeriodStart(ctx context.Context, tenantID string, periodID int64, start time.Time, totalSeconds *int64) (*Period, error)
	// ReplacePeriod redefines the period as spans[0] and inserts one closed
	// period per additional span.
	ReplacePeriod(ctx context.Context, tenantID string, periodID int64, spans []Span) ([]Period, error)
	// DeletePeriod removes the period; ErrPeriodNotFound when absent.
	DeletePeriod(ctx context.Context, tenantID string, periodID int64) error
	// ListPeriods returns closed periods matching the query, newest first.
	ListPeriods(ctx context.Context, tenantID string, query PeriodQuery, cursor *Cursor, limit int) ([]Period, *Cursor, error)
}

// ActivityRepository captures the minimal activity surface the tracker needs.
type ActivityRepository interface {
	CreateActivity(ctx context.Context, activity Activity) (*Activity, error)
	GetActivity(ctx context.Context, tenantID string, activityID int64) (*Activity, error)
	ListActivities(ctx context.Context, tenantID string, ownerID int64) ([]Activity, error)
}

// Service orchestrates tracking workflows.
type Service struct {
	periods    TrackingRepository
	activities ActivityRepository
	zone       localtime.Zone
	now        func() time.Time
}

// Option customises Service construction.
type Option func(*Service)

// WithClock overrides the wall clock, pinning now() in tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService constructs a Service around the repositories and the process
// timezone.
func NewService(periods TrackingRepository, activities ActivityRepository, zone localtime.Zone, opts ...Option) *Service {
	s := &Service{
		periods:    periods,
		activities: activities,
		zone:       zone,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StartTracking opens a new period for the activity/executor pair and marks
// the activity as Tracking. The store's one-open-period guarantee makes a
// duplicate start fail with ErrAlreadyTracking regardless of what the status
// column says; a stale Tracking status with no open period is repaired.
func (s *Service) StartTracking(ctx context.Context, tenantID string, activityID, executorID int64) (*Period, error) {
	if activityID <= 0 || executorID <= 0 {
		return nil, ErrInvalidArgument
	}

	period := Period{
		TenantID:   tenantID,
		ActivityID: activityID,
		ExecutorID: executorID,
		StartTime:  s.now().UTC().Truncate(time.Second),
	}
	return s.periods.CreateOpenPeriod(ctx, period)
}

// StopTracking closes the open period for the pair at now(), splitting it into
// one record per civil day it touched, and marks the activity Active again.
func (s *Service) StopTracking(ctx context.Context, tenantID string, activityID, executorID int64) ([]Period, error) {
	open, err := s.periods.FindOpenPeriod(ctx, tenantID, activityID, executorID)
	if err != nil {
		return nil, err
	}
	if open == nil {
		return nil, ErrNoOpenPeriod
	}

	stop := s.now().UTC().Truncate(time.Second)
	if !stop.After(open.StartTime) {
		return nil, ErrInvalidInterval
	}

	spans := SplitDays(open.StartTime, stop, s.zone)
	return s.periods.CloseOpenPeriod(ctx, tenantID, open.ID, open.StartTime, spans)
}

// UpdatePeriod rewrites one or both bounds of an existing period. The caller
// must be the period's executor. A new stop bound re-runs the day-boundary
// splitter and may turn the record into several; a start-only edit updates in
// place and recomputes the total against the existing stop.
func (s *Service) UpdatePeriod(ctx context.Context, tenantID string, periodID, executorID int64, newStart, newStop *time.Time) ([]Period, error) {
	if newStart == nil && newStop == nil {
		return nil, ErrInvalidArgument
	}

	period, err := s.periods.GetPeriod(ctx, tenantID, periodID)
	if err != nil {
		return nil, err
	}
	if period == nil {
		return nil, ErrPeriodNotFound
	}
	if period.ExecutorID != executorID {
		return nil, ErrNotOwner
	}

	start := period.StartTime
	if newStart != nil {
		start = newStart.UTC().Truncate(time.Second)
	}

	if newStop != nil {
		stop := newStop.UTC().Truncate(time.Second)
		if !stop.After(start) {
			return nil, ErrInvalidInterval
		}
		return s.periods.ReplacePeriod(ctx, tenantID, periodID, SplitDays(start, stop, s.zone))
	}

	var total *int64
	if period.StopTime != nil {
		if !period.StopTime.After(start) {
			return nil, ErrInvalidInterval
		}
		seconds := Span{Start: start, Stop: *period.StopTime}.Seconds()
		total = &seconds
	}

	updated, err := s.periods.UpdatePeriodStart(ctx, tenantID, periodID, start, total)
	if err != nil {
		return nil, err
	}
	return []Period{*updated}, nil
}

// DeletePeriod removes a tracked period outright.
func (s *Service) DeletePeriod(ctx context.Context, tenantID string, periodID int64) error {
	return s.periods.DeletePeriod(ctx, tenantID, periodID)
}

// GetStatistic lists closed periods matching the filter. Date bounds select
// whole civil days evaluated against stop_time: with both bounds the window is
// [from's day, to's day + 1); a single bound selects just that bound's day.
// Open periods never match. An empty result is not an error.
func (s *Service) GetStatistic(ctx context.Context, tenantID string, filter StatisticFilter, cursor *Cursor, limit int) ([]Period, *Cursor, error) {
	query := PeriodQuery{
		ActivityID: filter.ActivityID,
		ExecutorID: filter.ExecutorID,
	}

	switch {
	case filter.From != nil && filter.To != nil:
		lo := s.zone.DayStart(*filter.From)
		hi := s.zone.NextDayStart(*filter.To)
		query.StopAfter, query.StopBefore = &lo, &hi
	case filter.From != nil:
		lo := s.zone.DayStart(*filter.From)
		hi := s.zone.NextDayStart(*filter.From)
		query.StopAfter, query.StopBefore = &lo, &hi
	case filter.To != nil:
		lo := s.zone.DayStart(*filter.To)
		hi := s.zone.NextDayStart(*filter.To)
		query.StopAfter, query.StopBefore = &lo, &hi
	}

	return s.periods.ListPeriods(ctx, tenantID, query, cursor, limit)
}

// SumSeconds totals the closed durations of the given periods.
func SumSeconds(periods []Period) int64 {
	var sum int64
	for _, p := range periods {
		if p.TotalSeconds != nil {
			sum += *p.TotalSeconds
		}
	}
	return sum
}

// CreateActivity registers a new activity in Active status.
func (s *Service) CreateActivity(ctx context.Context, tenantID string, ownerID int64, name string) (*Activity, error) {
	if name == "" || ownerID <= 0 {
		return nil, ErrInvalidArgument
	}
	return s.activities.CreateActivity(ctx, Activity{
		TenantID: tenantID,
		OwnerID:  ownerID,
		Name:     name,
		Status:   StatusActive,
	})
}

// GetActivity fetches an activity by ID.
func (s *Service) GetActivity(ctx context.Context, tenantID string, activityID int64) (*Activity, error) {
	activity, err := s.activities.GetActivity(ctx, tenantID, activityID)
	if err != nil {
		return nil, err
	}
	if activity == nil {
		return nil, ErrActivityNotFound
	}
	return activity, nil
}

// ListActivities fetches the owner's activities.
func (s *Service) ListActivities(ctx context.Context, tenantID string, ownerID int64) ([]Activity, error) {
	return s.activities.ListActivities(ctx, tenantID, ownerID)
}
