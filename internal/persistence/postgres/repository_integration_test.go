//go:build integration

package postgres

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	postgrescontainer "github.com/testcontainers/testcontainers-go/modules/postgres"

	"example.com/timetracker/internal/domain"
	"example.com/timetracker/internal/localtime"
)

func setupRepository(t *testing.T) *Repository {
	t.Helper()
	ctx := context.Background()

	pg, err := postgrescontainer.RunContainer(ctx,
		postgrescontainer.WithDatabase("timetracker"),
		postgrescontainer.WithUsername("tracker"),
		postgrescontainer.WithPassword("tracker"),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pg.Terminate(ctx) })

	connStr, err := pg.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	require.NoError(t, waitForDatabase(ctx, connStr))
	runMigrations(t, ctx, connStr)

	// Row-level security does not bind superusers, so connect the way the
	// service does: through a plain application role.
	appConnStr := strings.Replace(connStr, "tracker:tracker@", "tracker_app:tracker_app@", 1)

	pool, err := pgxpool.New(ctx, appConnStr)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	return NewRepository(pool)
}

func seedActivity(t *testing.T, repo *Repository, tenantID string) *domain.Activity {
	t.Helper()
	activity, err := repo.CreateActivity(context.Background(), domain.Activity{
		TenantID: tenantID,
		OwnerID:  7,
		Name:     "integration",
		Status:   domain.StatusActive,
	})
	require.NoError(t, err)
	return activity
}

func TestRepositoryTenantIsolation(t *testing.T) {
	ctx := context.Background()
	repo := setupRepository(t)

	tenantA := uuid.NewString()
	activity := seedActivity(t, repo, tenantA)

	period, err := repo.CreateOpenPeriod(ctx, domain.Period{
		TenantID:   tenantA,
		ActivityID: activity.ID,
		ExecutorID: 7,
		StartTime:  time.Now().UTC().Truncate(time.Second),
	})
	require.NoError(t, err)

	stored, err := repo.GetPeriod(ctx, tenantA, period.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)

	other, err := repo.GetPeriod(ctx, uuid.NewString(), period.ID)
	require.NoError(t, err)
	require.Nil(t, other, "RLS should prevent cross-tenant access")
}

func TestRepositoryOneOpenPeriodUnderConcurrency(t *testing.T) {
	ctx := context.Background()
	repo := setupRepository(t)

	tenantID := uuid.NewString()
	activity := seedActivity(t, repo, tenantID)
	start := time.Now().UTC().Truncate(time.Second)

	const racers = 8
	errs := make([]error, racers)
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			_, errs[slot] = repo.CreateOpenPeriod(ctx, domain.Period{
				TenantID:   tenantID,
				ActivityID: activity.ID,
				ExecutorID: 7,
				StartTime:  start,
			})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		require.ErrorIs(t, err, domain.ErrAlreadyTracking)
	}
	require.Equal(t, 1, succeeded, "exactly one concurrent start may win")

	updated, err := repo.GetActivity(ctx, tenantID, activity.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusTracking, updated.Status)
}

func TestRepositoryCloseSplitsAndGuardsAgainstRaces(t *testing.T) {
	ctx := context.Background()
	repo := setupRepository(t)
	zone := localtime.MustLoadZone("Asia/Yekaterinburg")

	tenantID := uuid.NewString()
	activity := seedActivity(t, repo, tenantID)

	start, err := zone.ParseWire("2024-06-01 23:58:00")
	require.NoError(t, err)
	stop, err := zone.ParseWire("2024-06-02 00:05:00")
	require.NoError(t, err)

	period, err := repo.CreateOpenPeriod(ctx, domain.Period{
		TenantID:   tenantID,
		ActivityID: activity.ID,
		ExecutorID: 7,
		StartTime:  start,
	})
	require.NoError(t, err)

	spans := domain.SplitDays(start, stop, zone)
	records, err := repo.CloseOpenPeriod(ctx, tenantID, period.ID, start, spans)
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, int64(119), *records[0].TotalSeconds)
	require.Equal(t, int64(300), *records[1].TotalSeconds)

	updated, err := repo.GetActivity(ctx, tenantID, activity.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusActive, updated.Status)

	// Second close of the same period misses the compare-and-swap.
	_, err = repo.CloseOpenPeriod(ctx, tenantID, period.ID, start, spans)
	require.True(t, errors.Is(err, domain.ErrConcurrentModification))
}

func TestRepositoryListPeriodsPagination(t *testing.T) {
	ctx := context.Background()
	repo := setupRepository(t)
	zone := localtime.MustLoadZone("Asia/Yekaterinburg")

	tenantID := uuid.NewString()
	activity := seedActivity(t, repo, tenantID)

	days := []string{"2024-06-01", "2024-06-02", "2024-06-03"}
	for _, day := range days {
		start, err := zone.ParseWire(day + " 09:00:00")
		require.NoError(t, err)
		stop, err := zone.ParseWire(day + " 10:00:00")
		require.NoError(t, err)

		period, err := repo.CreateOpenPeriod(ctx, domain.Period{
			TenantID:   tenantID,
			ActivityID: activity.ID,
			ExecutorID: 7,
			StartTime:  start,
		})
		require.NoError(t, err)

		_, err = repo.CloseOpenPeriod(ctx, tenantID, period.ID, start, domain.SplitDays(start, stop, zone))
		require.NoError(t, err)
	}

	query := domain.PeriodQuery{ActivityID: activity.ID, ExecutorID: 7}

	first, cursor, err := repo.ListPeriods(ctx, tenantID, query, nil, 2)
	require.NoError(t, err)
	require.Len(t, first, 2)
	require.NotNil(t, cursor)
	// Newest first.
	require.True(t, first[0].StopTime.After(*first[1].StopTime))

	rest, _, err := repo.ListPeriods(ctx, tenantID, query, cursor, 2)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	require.True(t, first[1].StopTime.After(*rest[0].StopTime))
}

func runMigrations(t *testing.T, ctx context.Context, connStr string) {
	files := []string{
		"../../../db/postgres/migrations/0001_init.up.sql",
	}

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	defer pool.Close()

	for _, rel := range files {
		path := resolvePath(t, rel)
		contents, readErr := os.ReadFile(path)
		require.NoError(t, readErr)

		_, execErr := pool.Exec(ctx, string(contents))
		require.NoError(t, execErr)
	}

	grants := []string{
		`CREATE ROLE tracker_app LOGIN PASSWORD 'tracker_app'`,
		`GRANT USAGE ON SCHEMA public TO tracker_app`,
		`GRANT SELECT, INSERT, UPDATE, DELETE ON ALL TABLES IN SCHEMA public TO tracker_app`,
		`GRANT USAGE ON ALL SEQUENCES IN SCHEMA public TO tracker_app`,
	}
	for _, stmt := range grants {
		_, execErr := pool.Exec(ctx, stmt)
		require.NoError(t, execErr)
	}
}

func resolvePath(t *testing.T, rel string) string {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	require.True(t, ok)
	return filepath.Join(filepath.Dir(file), rel)
}

func waitForDatabase(ctx context.Context, connStr string) error {
	deadline := time.Now().Add(30 * time.Second)
	for {
		pool, err := pgxpool.New(ctx, connStr)
		if err == nil {
			err = pool.Ping(ctx)
			pool.Close()
			if err == nil {
				return nil
			}
		}
		if time.Now().After(deadline) {
			return err
		}
		time.Sleep(time.Second)
	}
}
