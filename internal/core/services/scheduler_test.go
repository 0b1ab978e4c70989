package services

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sentinel/console/internal/infrastructure/db"
	"github.com/sentinel/console/internal/infrastructure/logger"
	"github.com/sentinel/console/internal/infrastructure/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestScheduler(t *testing.T, store *db.Store) (*Scheduler, *Readiness) {
	t.Helper()
	ready := NewReadiness()
	s := NewScheduler(
		SchedulerConfig{JobTimeout: time.Second, DailyGrace: time.Hour},
		ready,
		db.NewJobStateRepository(store, logger.NewNop()),
		logger.NewNop(),
		metrics.NewCollector(),
	)
	t.Cleanup(s.Stop)
	return s, ready
}

func counting(n *atomic.Int32) func(context.Context) error {
	return func(context.Context) error {
		n.Add(1)
		return nil
	}
}

func TestJobsWaitForReadiness(t *testing.T) {
	s, ready := newTestScheduler(t, newTestStore(t))
	var runs atomic.Int32
	require.NoError(t, s.Register(Job{Name: "tick", Cadence: Every(5 * time.Millisecond), Run: counting(&runs)}))
	require.NoError(t, s.Start(context.Background()))

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, runs.Load())
	assert.False(t, ready.IsReady())

	ready.MarkReady()
	ready.MarkReady()
	assert.Eventually(t, func() bool { return runs.Load() >= 2 }, time.Second, 5*time.Millisecond)
}

func TestFailingJobsDoNotAffectSiblings(t *testing.T) {
	s, ready := newTestScheduler(t, newTestStore(t))
	var panics, healthy atomic.Int32

	require.NoError(t, s.Register(Job{
		Name:    "panics",
		Cadence: Every(5 * time.Millisecond),
		Run: func(context.Context) error {
			panics.Add(1)
			panic("boom")
		},
	}))
	require.NoError(t, s.Register(Job{
		Name:    "errors",
		Cadence: Every(5 * time.Millisecond),
		Run:     func(context.Context) error { return errors.New("queue unreachable") },
	}))
	require.NoError(t, s.Register(Job{Name: "healthy", Cadence: Every(5 * time.Millisecond), Run: counting(&healthy)}))

	ready.MarkReady()
	require.NoError(t, s.Start(context.Background()))

	assert.Eventually(t, func() bool {
		return healthy.Load() >= 3 && panics.Load() >= 3
	}, 2*time.Second, 5*time.Millisecond)

	s.Stop()
	after := healthy.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, healthy.Load(), "no runs after Stop")
}

func TestRunNowReportsPanicAndTimeout(t *testing.T) {
	s, _ := newTestScheduler(t, newTestStore(t))
	require.NoError(t, s.Register(Job{
		Name:    "panics",
		Cadence: Every(time.Hour),
		Run:     func(context.Context) error { panic("boom") },
	}))
	require.NoError(t, s.Register(Job{
		Name:    "hangs",
		Cadence: Every(time.Hour),
		Timeout: 20 * time.Millisecond,
		Run: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
	}))

	ctx := context.Background()
	assert.ErrorIs(t, s.RunNow(ctx, "panics"), ErrJobPanicked)
	assert.ErrorIs(t, s.RunNow(ctx, "hangs"), context.DeadlineExceeded)
	assert.ErrorIs(t, s.RunNow(ctx, "missing"), ErrJobNotFound)
}

func TestRegisterValidation(t *testing.T) {
	s, _ := newTestScheduler(t, newTestStore(t))
	noop := func(context.Context) error { return nil }

	assert.ErrorIs(t, s.Register(Job{Name: "", Cadence: Every(time.Second), Run: noop}), ErrJobInvalid)
	assert.ErrorIs(t, s.Register(Job{Name: "x", Cadence: Every(0), Run: noop}), ErrJobInvalid)
	assert.ErrorIs(t, s.Register(Job{Name: "x", Cadence: DailyAt(25, 0, time.UTC), Run: noop}), ErrJobInvalid)
	assert.ErrorIs(t, s.Register(Job{Name: "x", Cadence: Every(time.Second)}), ErrJobInvalid)

	require.NoError(t, s.Register(Job{Name: "x", Cadence: Every(time.Second), Run: noop}))
	assert.ErrorIs(t, s.Register(Job{Name: "x", Cadence: Every(time.Second), Run: noop}), ErrJobExists)

	require.NoError(t, s.Start(context.Background()))
	assert.ErrorIs(t, s.Start(context.Background()), ErrSchedulerStarted)
	assert.ErrorIs(t, s.Register(Job{Name: "y", Cadence: Every(time.Second), Run: noop}), ErrSchedulerStarted)
	assert.Equal(t, []string{"x"}, s.Jobs())
}

func TestReadinessWaitHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, NewReadiness().Wait(ctx), ErrReadinessCanceled)
}

func TestDailyCadence(t *testing.T) {
	c := DailyAt(19, 0, time.UTC)

	at := func(h, m int) time.Time { return time.Date(2026, 3, 14, h, m, 0, 0, time.UTC) }
	assert.Equal(t, at(19, 0), c.nextDaily(at(18, 0)))
	assert.Equal(t, at(19, 0).AddDate(0, 0, 1), c.nextDaily(at(19, 0)))
	assert.Equal(t, at(19, 0).AddDate(0, 0, 1), c.nextDaily(at(23, 30)))
	assert.Equal(t, "daily at 19:00 UTC", c.String())
	assert.Equal(t, "every 1m0s", Every(time.Minute).String())
}

func TestDailyFiringWindow(t *testing.T) {
	s, _ := newTestScheduler(t, newTestStore(t))
	job := &Job{Name: "report", Cadence: DailyAt(19, 0, time.UTC)}
	at := func(h, m int) time.Time { return time.Date(2026, 3, 14, h, m, 0, 0, time.UTC) }

	assert.False(t, s.dueToday(job, at(18, 59)))
	assert.True(t, s.dueToday(job, at(19, 0)))
	assert.True(t, s.dueToday(job, at(19, 45)))
	assert.False(t, s.dueToday(job, at(20, 0)))
}

func TestDailyJobFiresOncePerDayAcrossRestarts(t *testing.T) {
	store := newTestStore(t)
	var runs atomic.Int32
	day := time.Date(2026, 3, 14, 19, 0, 5, 0, time.UTC)
	ctx := context.Background()

	first, _ := newTestScheduler(t, store)
	job := &Job{Name: "report", Cadence: DailyAt(19, 0, time.UTC), Run: counting(&runs)}
	assert.True(t, first.fireDaily(ctx, job, day))
	assert.False(t, first.fireDaily(ctx, job, day.Add(time.Minute)))

	// A fresh process sees the persisted date.
	restarted, _ := newTestScheduler(t, store)
	assert.False(t, restarted.fireDaily(ctx, job, day.Add(2*time.Minute)))
	assert.Equal(t, int32(1), runs.Load())

	assert.True(t, restarted.fireDaily(ctx, job, day.AddDate(0, 0, 1)))
	assert.Equal(t, int32(2), runs.Load())
}

func TestDailyGuardFallsBackToMemory(t *testing.T) {
	store := newTestStore(t)
	s, _ := newTestScheduler(t, store)
	require.NoError(t, store.Close())

	var runs atomic.Int32
	job := &Job{Name: "digest", Cadence: DailyAt(9, 0, time.UTC), Run: counting(&runs)}
	day := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	assert.True(t, s.fireDaily(context.Background(), job, day))
	assert.False(t, s.fireDaily(context.Background(), job, day.Add(time.Second)))
	assert.Equal(t, int32(1), runs.Load())
}
