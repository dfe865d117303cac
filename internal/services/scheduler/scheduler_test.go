package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xingyu42/farm-game-sub001/config"
	"github.com/xingyu42/farm-game-sub001/internal/store"
)

func testStore(t *testing.T) *store.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return store.NewFromClient(rdb)
}

func testSchedulerConfig(tasks ...config.TaskConfig) config.SchedulerConfig {
	return config.SchedulerConfig{
		TaskTimeout:        time.Second,
		RetryAttempts:      2,
		RetryDelay:         time.Millisecond,
		MaxConcurrentTasks: 3,
		Tasks:              tasks,
	}
}

func TestDailyTask_FiresOncePerDay(t *testing.T) {
	st := testStore(t)
	cfg := testSchedulerConfig(config.TaskConfig{
		Name: "reset", Type: "daily", Hour: 0, Minute: 0, Enabled: true,
	})

	s := NewScheduler(cfg, st, zap.NewNop())
	require.Empty(t, s.Warnings())

	var runs int64
	s.Register("reset", func(ctx context.Context) error {
		atomic.AddInt64(&runs, 1)
		return nil
	})

	// Simulate every minute of one day.
	day := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 1440; i++ {
		s.Tick(context.Background(), day.Add(time.Duration(i)*time.Minute))
	}

	assert.EqualValues(t, 1, atomic.LoadInt64(&runs))
}

func TestDailyTask_GuardSurvivesRestart(t *testing.T) {
	st := testStore(t)
	cfg := testSchedulerConfig(config.TaskConfig{
		Name: "reset", Type: "daily", Hour: 6, Minute: 30, Enabled: true,
	})

	var runs int64
	fn := func(ctx context.Context) error {
		atomic.AddInt64(&runs, 1)
		return nil
	}

	at := time.Date(2024, 3, 10, 6, 30, 0, 0, time.UTC)

	first := NewScheduler(cfg, st, zap.NewNop())
	first.Register("reset", fn)
	first.Tick(context.Background(), at)

	// A fresh process within the same minute sees the store-backed guard.
	second := NewScheduler(cfg, st, zap.NewNop())
	second.Register("reset", fn)
	second.Tick(context.Background(), at.Add(10*time.Second))

	assert.EqualValues(t, 1, atomic.LoadInt64(&runs))
}

func TestDailyTask_FiresNextDay(t *testing.T) {
	st := testStore(t)
	cfg := testSchedulerConfig(config.TaskConfig{
		Name: "reset", Type: "daily", Hour: 0, Minute: 0, Enabled: true,
	})

	s := NewScheduler(cfg, st, zap.NewNop())
	var runs int64
	s.Register("reset", func(ctx context.Context) error {
		atomic.AddInt64(&runs, 1)
		return nil
	})

	day1 := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	s.Tick(context.Background(), day1)
	s.Tick(context.Background(), day1.AddDate(0, 0, 1))

	assert.EqualValues(t, 2, atomic.LoadInt64(&runs))
}

func TestDailyTask_LockedTriggerStaysDue(t *testing.T) {
	st := testStore(t)
	cfg := testSchedulerConfig(config.TaskConfig{
		Name: "reset", Type: "daily", Hour: 6, Minute: 30, Enabled: true,
	})

	s := NewScheduler(cfg, st, zap.NewNop())
	var runs int64
	s.Register("reset", func(ctx context.Context) error {
		atomic.AddInt64(&runs, 1)
		return nil
	})

	at := time.Date(2024, 3, 10, 6, 30, 0, 0, time.UTC)

	// Another instance holds the task lock during the first trigger.
	lock, err := st.AcquireLock(context.Background(), lockNamePrefix+"reset", time.Minute)
	require.NoError(t, err)
	s.Tick(context.Background(), at)
	assert.Zero(t, atomic.LoadInt64(&runs))

	// The day is not burned: once the lock clears, the same minute fires.
	require.NoError(t, lock.Release(context.Background()))
	s.Tick(context.Background(), at.Add(20*time.Second))
	assert.EqualValues(t, 1, atomic.LoadInt64(&runs))
}

func TestDailyTask_ConcurrencyLimitKeepsTriggerPending(t *testing.T) {
	st := testStore(t)
	cfg := testSchedulerConfig(config.TaskConfig{
		Name: "reset", Type: "daily", Hour: 6, Minute: 30, Enabled: true,
	})

	s := NewScheduler(cfg, st, zap.NewNop())
	var runs int64
	s.Register("reset", func(ctx context.Context) error {
		atomic.AddInt64(&runs, 1)
		return nil
	})

	// Saturate the concurrency limit so the trigger is dropped.
	for i := 0; i < cfg.MaxConcurrentTasks; i++ {
		s.sem <- struct{}{}
	}

	at := time.Date(2024, 3, 10, 6, 30, 0, 0, time.UTC)
	s.Tick(context.Background(), at)
	assert.Zero(t, atomic.LoadInt64(&runs))

	for i := 0; i < cfg.MaxConcurrentTasks; i++ {
		<-s.sem
	}

	s.Tick(context.Background(), at.Add(20*time.Second))
	assert.EqualValues(t, 1, atomic.LoadInt64(&runs))
}

func TestExecute_RetriesTransientErrors(t *testing.T) {
	st := testStore(t)
	cfg := testSchedulerConfig(config.TaskConfig{
		Name: "flaky", Type: "interval", Interval: time.Hour, Enabled: true,
	})

	s := NewScheduler(cfg, st, zap.NewNop())
	var attempts int64
	s.Register("flaky", func(ctx context.Context) error {
		atomic.AddInt64(&attempts, 1)
		return errors.New("network unreachable")
	})

	s.execute(context.Background(), s.tasks["flaky"])

	// 1 initial + 2 retries from the scheduler-wide policy.
	assert.EqualValues(t, 3, atomic.LoadInt64(&attempts))
}

func TestExecute_FatalErrorsDoNotRetry(t *testing.T) {
	st := testStore(t)
	cfg := testSchedulerConfig(config.TaskConfig{
		Name: "broken", Type: "interval", Interval: time.Hour, Enabled: true,
	})

	s := NewScheduler(cfg, st, zap.NewNop())
	var attempts int64
	s.Register("broken", func(ctx context.Context) error {
		atomic.AddInt64(&attempts, 1)
		return errors.New("invalid catalog entry")
	})

	s.execute(context.Background(), s.tasks["broken"])

	assert.EqualValues(t, 1, atomic.LoadInt64(&attempts))
}

func TestExecute_TimeoutIsRetryable(t *testing.T) {
	st := testStore(t)
	cfg := testSchedulerConfig(config.TaskConfig{
		Name: "slow", Type: "interval", Interval: time.Hour,
		Timeout: 10 * time.Millisecond, RetryAttempts: 1, Enabled: true,
	})

	s := NewScheduler(cfg, st, zap.NewNop())
	var attempts int64
	s.Register("slow", func(ctx context.Context) error {
		atomic.AddInt64(&attempts, 1)
		select {
		case <-time.After(time.Second):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	s.execute(context.Background(), s.tasks["slow"])

	assert.EqualValues(t, 2, atomic.LoadInt64(&attempts))
	assert.Equal(t, StateScheduled, s.tasks["slow"].getState())
}

func TestExecute_SkipsWhenLockHeldElsewhere(t *testing.T) {
	st := testStore(t)
	cfg := testSchedulerConfig(config.TaskConfig{
		Name: "guarded", Type: "interval", Interval: time.Hour, Enabled: true,
	})

	s := NewScheduler(cfg, st, zap.NewNop())
	var runs int64
	s.Register("guarded", func(ctx context.Context) error {
		atomic.AddInt64(&runs, 1)
		return nil
	})

	// Another instance holds the task lock.
	lock, err := st.AcquireLock(context.Background(), lockNamePrefix+"guarded", time.Minute)
	require.NoError(t, err)
	defer lock.Release(context.Background())

	s.execute(context.Background(), s.tasks["guarded"])

	assert.Zero(t, atomic.LoadInt64(&runs))
}

func TestNewScheduler_FiltersInvalidTasks(t *testing.T) {
	st := testStore(t)
	cfg := testSchedulerConfig(
		config.TaskConfig{Name: "ok", Type: "interval", Interval: time.Minute, Enabled: true},
		config.TaskConfig{Name: "", Type: "interval", Interval: time.Minute, Enabled: true},
		config.TaskConfig{Name: "bad-time", Type: "daily", Hour: 25, Enabled: true},
		config.TaskConfig{Name: "bad-interval", Type: "interval", Enabled: true},
		config.TaskConfig{Name: "bad-type", Type: "weekly", Enabled: true},
		config.TaskConfig{Name: "disabled", Type: "interval", Interval: time.Minute},
	)

	s := NewScheduler(cfg, st, zap.NewNop())

	assert.Len(t, s.Warnings(), 4)
	assert.Contains(t, s.tasks, "ok")
	assert.NotContains(t, s.tasks, "bad-time")
	assert.NotContains(t, s.tasks, "bad-interval")
	assert.NotContains(t, s.tasks, "bad-type")
	assert.NotContains(t, s.tasks, "disabled")
}

func TestStop_SafeWhenNeverStarted(t *testing.T) {
	st := testStore(t)
	s := NewScheduler(testSchedulerConfig(), st, zap.NewNop())

	s.Stop()
	s.Stop()
}

func TestStartStop(t *testing.T) {
	st := testStore(t)
	cfg := testSchedulerConfig(config.TaskConfig{
		Name: "tick", Type: "interval", Interval: 5 * time.Millisecond, Enabled: true,
	})

	s := NewScheduler(cfg, st, zap.NewNop())
	var runs int64
	s.Register("tick", func(ctx context.Context) error {
		atomic.AddInt64(&runs, 1)
		return nil
	})

	ctx := context.Background()
	s.Start(ctx)

	assert.Eventually(t, func() bool {
		return atomic.LoadInt64(&runs) >= 1
	}, time.Second, 5*time.Millisecond)

	s.Stop()
	after := atomic.LoadInt64(&runs)
	time.Sleep(20 * time.Millisecond)
	assert.EqualValues(t, after, atomic.LoadInt64(&runs), "no runs after stop")
}
