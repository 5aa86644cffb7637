// Package events defines the payloads published through the outbox.
package events

import "time"

// PeriodClosed is emitted for every period record finalised by a stop or an
// explicit bound edit. A tracked interval that crossed day boundaries emits
// one message per resulting record.
type PeriodClosed struct {
	PeriodID     int64     `json:"period_id"`
	TenantID     string    `json:"tenant_id"`
	ActivityID   int64     `json:"activity_id"`
	ExecutorID   int64     `json:"executor_id"`
	StartTime    time.Time `json:"start_time"`
	StopTime     time.Time `json:"stop_time"`
	TotalSeconds int64     `json:"total_seconds"`
}

// TrackingStateChanged tracks Active/Tracking flips on an activity for
// dashboards that mirror tracking state.
type TrackingStateChanged struct {
	ActivityID int64     `json:"activity_id"`
	TenantID   string    `json:"tenant_id"`
	ExecutorID int64     `json:"executor_id"`
	Tracking   bool      `json:"tracking"`
	OccurredAt time.Time `json:"occurred_at"`
}
