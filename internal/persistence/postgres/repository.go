package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/timetracker/internal/domain"
	"example.com/timetracker/internal/events"
	"example.com/timetracker/internal/observability"
)

// openPeriodConstraint is the partial unique index enforcing at most one open
// period per tenant/activity/executor.
const openPeriodConstraint = "activity_periods_one_open"

const periodColumns = `period_id, tenant_id, activity_id, executor_id, start_time, stop_time, total_seconds, created_at, updated_at`

// Repository provides Postgres-backed persistence for periods, activities and
// outbox events. Every method runs inside a single transaction with the
// tenant pinned via set_config for row-level security.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// CreateOpenPeriod inserts an open period and flips the activity to Tracking
// in one transaction. The partial unique index on open periods turns a
// concurrent duplicate start into domain.ErrAlreadyTracking.
func (r *Repository) CreateOpenPeriod(ctx context.Context, period domain.Period) (*domain.Period, error) {
	var created domain.Period
	err := r.withTenantTx(ctx, period.TenantID, func(tx pgx.Tx) error {
		var status int
		err := tx.QueryRow(ctx,
			`SELECT status_id FROM activities WHERE activity_id=$1 FOR UPDATE`,
			period.ActivityID,
		).Scan(&status)
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrActivityNotFound
		}
		if err != nil {
			return err
		}
		if domain.ActivityStatus(status) == domain.StatusArchived {
			return domain.ErrActivityArchived
		}

		const insert = `INSERT INTO activity_periods (tenant_id, activity_id, executor_id, start_time)
	        VALUES ($1,$2,$3,$4)
	        RETURNING ` + periodColumns

		row := tx.QueryRow(ctx, insert, period.TenantID, period.ActivityID, period.ExecutorID, period.StartTime)
		if err := scanPeriod(row, &created); err != nil {
			if isUniqueViolation(err, openPeriodConstraint) {
				return domain.ErrAlreadyTracking
			}
			return err
		}

		if _, err := tx.Exec(ctx,
			`UPDATE activities SET status_id=$1, updated_at=NOW() WHERE activity_id=$2`,
			int(domain.StatusTracking), period.ActivityID,
		); err != nil {
			return err
		}

		return insertOutbox(ctx, tx, created.TenantID, "tracking.state_changed", fmt.Sprintf("%d", created.ActivityID), events.TrackingStateChanged{
			ActivityID: created.ActivityID,
			TenantID:   created.TenantID,
			ExecutorID: created.ExecutorID,
			Tracking:   true,
			OccurredAt: created.StartTime,
		})
	})
	if err != nil {
		return nil, err
	}
	observability.RecordTrackingStarted()
	return &created, nil
}

// FindOpenPeriod returns the open period for the pair, or nil.
func (r *Repository) FindOpenPeriod(ctx context.Context, tenantID string, activityID, executorID int64) (*domain.Period, error) {
	const query = `SELECT ` + periodColumns + ` FROM activity_periods
	    WHERE activity_id=$1 AND executor_id=$2 AND stop_time IS NULL`

	var period domain.Period
	found := true
	err := r.withTenantTx(ctx, tenantID, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, query, activityID, executorID)
		if err := scanPeriod(row, &period); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				found = false
				return nil
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return &period, nil
}

// CloseOpenPeriod closes the period with spans[0], inserts one closed record
// per additional span and flips the activity back to Active, all in one
// transaction. The close compares against the expected start so a racing
// writer surfaces as domain.ErrConcurrentModification.
func (r *Repository) CloseOpenPeriod(ctx context.Context, tenantID string, periodID int64, expectedStart time.Time, spans []domain.Span) ([]domain.Period, error) {
	closed := make([]domain.Period, 0, len(spans))
	err := r.withTenantTx(ctx, tenantID, func(tx pgx.Tx) error {
		first := spans[0]
		const update = `UPDATE activity_periods
	        SET start_time=$2, stop_time=$3, total_seconds=$4, updated_at=NOW()
	        WHERE period_id=$1 AND stop_time IS NULL AND start_time=$5
	        RETURNING ` + periodColumns

		var head domain.Period
		row := tx.QueryRow(ctx, update, periodID, first.Start, first.Stop, first.Seconds(), expectedStart)
		if err := scanPeriod(row, &head); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return domain.ErrConcurrentModification
			}
			return err
		}
		closed = append(closed, head)

		rest, err := insertClosedSpans(ctx, tx, head, spans[1:])
		if err != nil {
			return err
		}
		closed = append(closed, rest...)

		if _, err := tx.Exec(ctx,
			`UPDATE activities SET status_id=$1, updated_at=NOW() WHERE activity_id=$2`,
			int(domain.StatusActive), head.ActivityID,
		); err != nil {
			return err
		}

		for _, p := range closed {
			if err := insertPeriodClosed(ctx, tx, p); err != nil {
				return err
			}
		}
		return insertOutbox(ctx, tx, head.TenantID, "tracking.state_changed", fmt.Sprintf("%d", head.ActivityID), events.TrackingStateChanged{
			ActivityID: head.ActivityID,
			TenantID:   head.TenantID,
			ExecutorID: head.ExecutorID,
			Tracking:   false,
			OccurredAt: first.Stop,
		})
	})
	if err != nil {
		return nil, err
	}
	observability.RecordTrackingStopped(len(closed))
	return closed, nil
}

// GetPeriod retrieves a period by ID, or nil when absent.
func (r *Repository) GetPeriod(ctx context.Context, tenantID string, periodID int64) (*domain.Period, error) {
	const query = `SELECT ` + periodColumns + ` FROM activity_periods WHERE period_id=$1`

	var period domain.Period
	found := true
	err := r.withTenantTx(ctx, tenantID, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, query, periodID)
		if err := scanPeriod(row, &period); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				found = false
				return nil
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return &period, nil
}

// UpdatePeriodStart rewrites the start bound and recomputed total in place.
func (r *Repository) UpdatePeriodStart(ctx context.Context, tenantID string, periodID int64, start time.Time, totalSeconds *int64) (*domain.Period, error) {
	const update = `UPDATE activity_periods
	    SET start_time=$2, total_seconds=$3, updated_at=NOW()
	    WHERE period_id=$1
	    RETURNING ` + periodColumns

	var period domain.Period
	err := r.withTenantTx(ctx, tenantID, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, update, periodID, start, totalSeconds)
		if err := scanPeriod(row, &period); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return domain.ErrPeriodNotFound
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &period, nil
}

// ReplacePeriod redefines the period as spans[0] and inserts one closed record
// per additional span. Closing a previously open period releases the
// activity's Tracking status.
func (r *Repository) ReplacePeriod(ctx context.Context, tenantID string, periodID int64, spans []domain.Span) ([]domain.Period, error) {
	replaced := make([]domain.Period, 0, len(spans))
	err := r.withTenantTx(ctx, tenantID, func(tx pgx.Tx) error {
		var wasOpen bool
		err := tx.QueryRow(ctx,
			`SELECT stop_time IS NULL FROM activity_periods WHERE period_id=$1 FOR UPDATE`,
			periodID,
		).Scan(&wasOpen)
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrPeriodNotFound
		}
		if err != nil {
			return err
		}

		first := spans[0]
		const update = `UPDATE activity_periods
	        SET start_time=$2, stop_time=$3, total_seconds=$4, updated_at=NOW()
	        WHERE period_id=$1
	        RETURNING ` + periodColumns

		var head domain.Period
		row := tx.QueryRow(ctx, update, periodID, first.Start, first.Stop, first.Seconds())
		if err := scanPeriod(row, &head); err != nil {
			return err
		}
		replaced = append(replaced, head)

		rest, err := insertClosedSpans(ctx, tx, head, spans[1:])
		if err != nil {
			return err
		}
		replaced = append(replaced, rest...)

		if wasOpen {
			if _, err := tx.Exec(ctx,
				`UPDATE activities SET status_id=$1, updated_at=NOW() WHERE activity_id=$2`,
				int(domain.StatusActive), head.ActivityID,
			); err != nil {
				return err
			}
		}

		for _, p := range replaced {
			if err := insertPeriodClosed(ctx, tx, p); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return replaced, nil
}

// DeletePeriod removes the period outright.
func (r *Repository) DeletePeriod(ctx context.Context, tenantID string, periodID int64) error {
	return r.withTenantTx(ctx, tenantID, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM activity_periods WHERE period_id=$1`, periodID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return domain.ErrPeriodNotFound
		}
		return nil
	})
}

// ListPeriods returns closed periods matching the query, newest stop first.
func (r *Repository) ListPeriods(ctx context.Context, tenantID string, query domain.PeriodQuery, cursor *domain.Cursor, limit int) ([]domain.Period, *domain.Cursor, error) {
	sql := `SELECT ` + periodColumns + ` FROM activity_periods WHERE stop_time IS NOT NULL`
	args := make([]interface{}, 0, 7)

	next := func(arg interface{}) string {
		args = append(args, arg)
		return fmt.Sprintf("$%d", len(args))
	}

	if query.ActivityID != 0 {
		sql += ` AND activity_id=` + next(query.ActivityID)
	}
	if query.ExecutorID != 0 {
		sql += ` AND executor_id=` + next(query.ExecutorID)
	}
	if query.StopAfter != nil {
		sql += ` AND stop_time >= ` + next(*query.StopAfter)
	}
	if query.StopBefore != nil {
		sql += ` AND stop_time < ` + next(*query.StopBefore)
	}
	if cursor != nil {
		sql += fmt.Sprintf(` AND (stop_time, period_id) < (%s, %s)`, next(cursor.StoppedAt), next(cursor.ID))
	}
	sql += ` ORDER BY stop_time DESC, period_id DESC LIMIT ` + next(limit)

	results := make([]domain.Period, 0, limit)
	err := r.withTenantTx(ctx, tenantID, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, sql, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var period domain.Period
			if err := scanPeriod(rows, &period); err != nil {
				return err
			}
			results = append(results, period)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, nil, err
	}

	var nextCursor *domain.Cursor
	if limit > 0 && len(results) == limit {
		last := results[len(results)-1]
		nextCursor = &domain.Cursor{StoppedAt: *last.StopTime, ID: last.ID}
	}
	return results, nextCursor, nil
}

// CreateActivity persists a new activity.
func (r *Repository) CreateActivity(ctx context.Context, activity domain.Activity) (*domain.Activity, error) {
	const insert = `INSERT INTO activities (tenant_id, owner_id, name, status_id)
	    VALUES ($1,$2,$3,$4)
	    RETURNING activity_id, tenant_id, owner_id, name, status_id, created_at, updated_at`

	var created domain.Activity
	err := r.withTenantTx(ctx, activity.TenantID, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, insert, activity.TenantID, activity.OwnerID, activity.Name, int(activity.Status))
		return scanActivity(row, &created)
	})
	if err != nil {
		return nil, err
	}
	return &created, nil
}

// GetActivity retrieves an activity by ID, or nil when absent.
func (r *Repository) GetActivity(ctx context.Context, tenantID string, activityID int64) (*domain.Activity, error) {
	const query = `SELECT activity_id, tenant_id, owner_id, name, status_id, created_at, updated_at
	    FROM activities WHERE activity_id=$1`

	var activity domain.Activity
	found := true
	err := r.withTenantTx(ctx, tenantID, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, query, activityID)
		if err := scanActivity(row, &activity); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				found = false
				return nil
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return &activity, nil
}

// ListActivities returns the owner's activities ordered by creation.
func (r *Repository) ListActivities(ctx context.Context, tenantID string, ownerID int64) ([]domain.Activity, error) {
	const query = `SELECT activity_id, tenant_id, owner_id, name, status_id, created_at, updated_at
	    FROM activities WHERE owner_id=$1 ORDER BY activity_id`

	results := make([]domain.Activity, 0)
	err := r.withTenantTx(ctx, tenantID, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, query, ownerID)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var activity domain.Activity
			if err := scanActivity(rows, &activity); err != nil {
				return err
			}
			results = append(results, activity)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// withTenantTx runs fn inside a transaction with the tenant pinned for RLS.
func (r *Repository) withTenantTx(ctx context.Context, tenantID string, fn func(tx pgx.Tx) error) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	tx, err := conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "SELECT set_config('app.tenant_id', $1, true)", tenantID); err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// insertClosedSpans persists additional day segments carried over from a split.
func insertClosedSpans(ctx context.Context, tx pgx.Tx, head domain.Period, spans []domain.Span) ([]domain.Period, error) {
	const insert = `INSERT INTO activity_periods (tenant_id, activity_id, executor_id, start_time, stop_time, total_seconds)
	    VALUES ($1,$2,$3,$4,$5,$6)
	    RETURNING ` + periodColumns

	out := make([]domain.Period, 0, len(spans))
	for _, span := range spans {
		var period domain.Period
		row := tx.QueryRow(ctx, insert, head.TenantID, head.ActivityID, head.ExecutorID, span.Start, span.Stop, span.Seconds())
		if err := scanPeriod(row, &period); err != nil {
			return nil, err
		}
		out = append(out, period)
	}
	return out, nil
}

func insertPeriodClosed(ctx context.Context, tx pgx.Tx, period domain.Period) error {
	return insertOutbox(ctx, tx, period.TenantID, "period.closed", fmt.Sprintf("%d:%d", period.ActivityID, period.ExecutorID), events.PeriodClosed{
		PeriodID:     period.ID,
		TenantID:     period.TenantID,
		ActivityID:   period.ActivityID,
		ExecutorID:   period.ExecutorID,
		StartTime:    period.StartTime,
		StopTime:     *period.StopTime,
		TotalSeconds: *period.TotalSeconds,
	})
}

func insertOutbox(ctx context.Context, tx pgx.Tx, tenantID, eventType, partitionKey string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	meta := eventCatalog[eventType]
	if meta.Topic == "" {
		return fmt.Errorf("unknown event type: %s", eventType)
	}

	const stmt = `INSERT INTO outbox (tenant_id, aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload, dedupe_key)
	    VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`

	_, err = tx.Exec(ctx, stmt,
		tenantID,
		"period",
		partitionKey,
		eventType,
		meta.Topic,
		meta.SchemaSubject,
		partitionKey,
		body,
		fmt.Sprintf("%s:%s", uuid.NewString(), eventType),
	)
	return err
}

func scanPeriod(row pgx.Row, period *domain.Period) error {
	return row.Scan(&period.ID, &period.TenantID, &period.ActivityID, &period.ExecutorID,
		&period.StartTime, &period.StopTime, &period.TotalSeconds, &period.CreatedAt, &period.UpdatedAt)
}

func scanActivity(row pgx.Row, activity *domain.Activity) error {
	var status int
	if err := row.Scan(&activity.ID, &activity.TenantID, &activity.OwnerID, &activity.Name,
		&status, &activity.CreatedAt, &activity.UpdatedAt); err != nil {
		return err
	}
	activity.Status = domain.ActivityStatus(status)
	return nil
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23505" && (constraint == "" || pgErr.ConstraintName == constraint)
}

// EventMetadata describes how to route an outbox event.
type EventMetadata struct {
	Topic         string
	SchemaSubject string
}

var eventCatalog = map[string]EventMetadata{
	"period.closed": {
		Topic:         "period_events",
		SchemaSubject: "period_events-value",
	},
	"tracking.state_changed": {
		Topic:         "tracking_state_changed",
		SchemaSubject: "tracking_state_changed-value",
	},
}
