// Package scheduler drives the market engine's periodic operations: the
// price recompute pass, the daily stats reset and the health sweep. A
// store-backed lock per task guarantees at most one active execution across
// process instances; failures retry with bounded linear delay when they look
// transient.
package scheduler

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/xingyu42/farm-game-sub001/config"
	"github.com/xingyu42/farm-game-sub001/internal/store"
)

// ErrTaskTimeout is returned when a task function does not settle within
// its configured timeout. It is classified as retryable.
var ErrTaskTimeout = errors.New("task execution timed out")

// retryablePattern matches error messages worth retrying.
var retryablePattern = regexp.MustCompile(`(?i)timeout|network|econnreset|etimedout`)

// TaskFunc is one schedulable operation.
type TaskFunc func(ctx context.Context) error

// TaskState describes where a task currently is in its lifecycle.
type TaskState string

const (
	StateIdle      TaskState = "idle"
	StateScheduled TaskState = "scheduled"
	StateRunning   TaskState = "running"
	StateCompleted TaskState = "completed"
	StateFailed    TaskState = "failed"
)

const (
	dailyTickInterval = time.Minute
	lastRunKeyPrefix  = "scheduler:lastrun:"
	lockNamePrefix    = "scheduler:"
	dateLayout        = "2006-01-02"
)

type task struct {
	cfg config.TaskConfig
	fn  TaskFunc

	mu    sync.Mutex
	state TaskState
}

func (t *task) setState(s TaskState) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}

func (t *task) getState() TaskState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Scheduler arms timers for registered tasks. Construction validates the
// configured task definitions; malformed ones are logged, collected as
// warnings and excluded from the active set rather than failing startup.
type Scheduler struct {
	cfg      config.SchedulerConfig
	store    *store.Client
	logger   *zap.Logger
	now      func() time.Time
	tasks    map[string]*task
	warnings []string
	sem      chan struct{}

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	wg      sync.WaitGroup
}

func NewScheduler(cfg config.SchedulerConfig, st *store.Client, logger *zap.Logger) *Scheduler {
	s := &Scheduler{
		cfg:    cfg,
		store:  st,
		logger: logger,
		now:    time.Now,
		tasks:  make(map[string]*task),
	}

	maxConcurrent := cfg.MaxConcurrentTasks
	if maxConcurrent <= 0 {
		maxConcurrent = 1
		s.warnings = append(s.warnings, fmt.Sprintf("max_concurrent_tasks %d invalid, using 1", cfg.MaxConcurrentTasks))
	}
	s.sem = make(chan struct{}, maxConcurrent)

	for _, tc := range cfg.Tasks {
		if msg := validateTask(tc); msg != "" {
			s.warnings = append(s.warnings, msg)
			logger.Warn("invalid task definition ignored", zap.String("task", tc.Name), zap.String("reason", msg))
			continue
		}
		if !tc.Enabled {
			continue
		}
		s.tasks[tc.Name] = &task{cfg: tc, state: StateIdle}
	}

	return s
}

func validateTask(tc config.TaskConfig) string {
	if tc.Name == "" {
		return "task with empty name"
	}
	switch tc.Type {
	case "daily":
		if tc.Hour < 0 || tc.Hour > 23 || tc.Minute < 0 || tc.Minute > 59 {
			return fmt.Sprintf("task %s: invalid daily time %02d:%02d", tc.Name, tc.Hour, tc.Minute)
		}
	case "interval":
		if tc.Interval <= 0 {
			return fmt.Sprintf("task %s: non-positive interval %v", tc.Name, tc.Interval)
		}
	default:
		return fmt.Sprintf("task %s: unknown type %q", tc.Name, tc.Type)
	}
	if tc.Timeout < 0 {
		return fmt.Sprintf("task %s: negative timeout", tc.Name)
	}
	if tc.RetryAttempts < 0 {
		return fmt.Sprintf("task %s: negative retry attempts", tc.Name)
	}
	return ""
}

// Warnings returns the configuration problems collected at construction.
func (s *Scheduler) Warnings() []string {
	return s.warnings
}

// Register binds a function to a configured task name. Registration for an
// unconfigured or filtered task is ignored with a warning.
func (s *Scheduler) Register(name string, fn TaskFunc) {
	t, ok := s.tasks[name]
	if !ok {
		s.logger.Warn("no enabled task definition for registration", zap.String("task", name))
		return
	}
	t.fn = fn
}

// Start arms every registered task's trigger. Interval tasks get their own
// ticker; daily tasks share a once-a-minute tick.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stop = make(chan struct{})
	stop := s.stop
	s.mu.Unlock()

	hasDaily := false
	for _, t := range s.tasks {
		if t.fn == nil {
			s.logger.Warn("task has no registered function, not scheduling", zap.String("task", t.cfg.Name))
			continue
		}
		t.setState(StateScheduled)

		if t.cfg.Type == "interval" {
			s.wg.Add(1)
			go s.runIntervalLoop(ctx, t, stop)
			continue
		}
		hasDaily = true
	}

	if hasDaily {
		s.wg.Add(1)
		go s.runDailyLoop(ctx, stop)
	}

	s.logger.Info("scheduler started", zap.Int("tasks", len(s.tasks)))
}

func (s *Scheduler) runIntervalLoop(ctx context.Context, t *task, stop chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(t.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.execute(ctx, t)
		}
	}
}

func (s *Scheduler) runDailyLoop(ctx context.Context, stop chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(dailyTickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx, s.now())
		}
	}
}

// Tick checks every daily task against the given wall-clock minute and
// fires the ones that are due. The last-executed-date guard lives in the
// store, so a restart inside the same minute cannot double-fire a task.
// Exported so tests can drive simulated clocks through it.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) {
	for _, t := range s.tasks {
		if t.cfg.Type != "daily" || t.fn == nil {
			continue
		}
		if now.Hour() != t.cfg.Hour || now.Minute() != t.cfg.Minute {
			continue
		}

		today := now.Format(dateLayout)
		guardKey := lastRunKeyPrefix + t.cfg.Name

		last, err := s.store.Redis().Get(ctx, guardKey).Result()
		if err == nil && last == today {
			continue
		}

		// Stamp only after the run was actually admitted: a trigger dropped
		// at the concurrency limit or the task lock must stay due, or the
		// task silently misses the whole day.
		if !s.execute(ctx, t) {
			continue
		}
		if err := s.store.Redis().Set(ctx, guardKey, today, 48*time.Hour).Err(); err != nil {
			s.logger.Warn("failed to persist daily-run guard",
				zap.String("task", t.cfg.Name), zap.Error(err))
		}
	}
}

// execute runs one trigger: task lock, hard timeout, bounded retry for
// transient failures. Fatal errors fail the run immediately. Returns false
// when the trigger was dropped before the task function ran, so callers can
// keep the trigger pending.
func (s *Scheduler) execute(ctx context.Context, t *task) bool {
	select {
	case s.sem <- struct{}{}:
	default:
		s.logger.Warn("concurrent task limit reached, skipping trigger",
			zap.String("task", t.cfg.Name))
		return false
	}
	defer func() { <-s.sem }()

	timeout := t.cfg.Timeout
	if timeout <= 0 {
		timeout = s.cfg.TaskTimeout
	}

	lock, err := s.store.AcquireLock(ctx, lockNamePrefix+t.cfg.Name, timeout)
	if err != nil {
		if errors.Is(err, store.ErrLockNotAcquired) {
			s.logger.Debug("task already running elsewhere, skipping",
				zap.String("task", t.cfg.Name))
		} else {
			s.logger.Error("failed to acquire task lock",
				zap.String("task", t.cfg.Name), zap.Error(err))
		}
		return false
	}
	defer func() {
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn("failed to release task lock",
				zap.String("task", t.cfg.Name), zap.Error(err))
		}
	}()

	t.setState(StateRunning)
	start := s.now()

	// Zero means "not set per task"; fall back to the scheduler-wide policy.
	retries := t.cfg.RetryAttempts
	if retries <= 0 {
		retries = s.cfg.RetryAttempts
	}

	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			s.logger.Info("retrying task",
				zap.String("task", t.cfg.Name),
				zap.Int("attempt", attempt),
				zap.Error(lastErr))
			select {
			case <-ctx.Done():
				t.setState(StateFailed)
				return true
			case <-time.After(s.cfg.RetryDelay):
			}
		}

		lastErr = s.runWithTimeout(ctx, t.fn, timeout)
		if lastErr == nil {
			t.setState(StateCompleted)
			s.logger.Info("task completed",
				zap.String("task", t.cfg.Name),
				zap.Duration("duration", s.now().Sub(start)))
			t.setState(StateScheduled)
			return true
		}
		if !isRetryable(lastErr) {
			break
		}
	}

	t.setState(StateFailed)
	s.logger.Error("task failed",
		zap.String("task", t.cfg.Name),
		zap.Error(lastErr))
	t.setState(StateScheduled)
	return true
}

// runWithTimeout enforces a hard deadline even when the task function
// ignores its context.
func (s *Scheduler) runWithTimeout(ctx context.Context, fn TaskFunc, timeout time.Duration) error {
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- fn(tctx)
	}()

	select {
	case err := <-done:
		return err
	case <-tctx.Done():
		return errors.Wrapf(ErrTaskTimeout, "after %v", timeout)
	}
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTaskTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return retryablePattern.MatchString(err.Error())
}

// TaskStates snapshots per-task lifecycle states for introspection.
func (s *Scheduler) TaskStates() map[string]TaskState {
	out := make(map[string]TaskState, len(s.tasks))
	for name, t := range s.tasks {
		out[name] = t.getState()
	}
	return out
}

// Stop disarms every timer and waits for in-flight runs. Safe to call when
// the scheduler was never started, and idempotent.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stop)
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}
