// Package transaction provides lock-guarded, best-effort-atomic execution of
// typed write batches against the shared store. It is the only mutual
// exclusion mechanism between concurrent recompute passes.
package transaction

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/xingyu42/farm-game-sub001/config"
	"github.com/xingyu42/farm-game-sub001/internal/domain"
	"github.com/xingyu42/farm-game-sub001/internal/store"
	"github.com/xingyu42/farm-game-sub001/pkg/retrier"
)

var (
	// ErrLockAcquisitionFailed aborts a batch before any write happens.
	ErrLockAcquisitionFailed = errors.New("failed to acquire transaction lock")
	// ErrExcessiveFailures is raised when more than 10% of a batch failed.
	ErrExcessiveFailures = errors.New("excessive failure rate in batch")
	// ErrTotalFailure is raised when every operation in a batch failed.
	ErrTotalFailure = errors.New("all operations in batch failed")
)

// maxFailureRate is the tolerated share of failed operations per batch.
const maxFailureRate = 0.1

// Options tunes one batch execution.
type Options struct {
	// LockKey overrides the transaction-scoped default lock.
	LockKey string
	// Compensation holds caller-supplied compensating writes executed
	// best-effort when the batch hard-fails. The store has no native
	// rollback; without compensation the batch is at-least-once and a hard
	// failure leaves whatever succeeded in place.
	Compensation []store.Operation
}

// Manager executes batches. Safe for concurrent use.
type Manager struct {
	store  *store.Client
	cfg    config.TransactionConfig
	logger *zap.Logger

	mu      sync.Mutex
	records map[string]*domain.TransactionRecord
}

func NewManager(st *store.Client, cfg config.TransactionConfig, logger *zap.Logger) *Manager {
	return &Manager{
		store:   st,
		cfg:     cfg,
		logger:  logger,
		records: make(map[string]*domain.TransactionRecord),
	}
}

// ExecuteBatchUpdate runs one validated, lock-guarded batch. The lock is
// acquired with bounded linear retry before any validation or write; a
// malformed operation fails the whole batch before execution; partial
// failures above the tolerated rate raise an error after a best-effort
// rollback. The lock is always released.
func (m *Manager) ExecuteBatchUpdate(ctx context.Context, ops []store.Operation, opts Options) (*domain.BatchResult, error) {
	txID := uuid.NewString()
	start := time.Now()

	lockKey := opts.LockKey
	if lockKey == "" {
		lockKey = "market:batch:" + txID
	}

	record := &domain.TransactionRecord{
		ID:         txID,
		LockKey:    lockKey,
		Operations: len(ops),
		StartedAt:  start,
		Status:     domain.StatusStarting,
	}
	m.register(record)
	defer m.deregister(txID)

	result := &domain.BatchResult{
		TransactionID:   txID,
		OperationsCount: len(ops),
	}

	lock, err := m.acquireWithRetry(ctx, lockKey)
	if err != nil {
		record.Status = domain.StatusFailed
		result.Duration = time.Since(start)
		result.Errors = append(result.Errors, err.Error())
		return result, errors.Wrapf(ErrLockAcquisitionFailed, "lock %s: %v", lockKey, err)
	}
	record.Status = domain.StatusLocked
	defer func() {
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
			m.logger.Warn("failed to release batch lock",
				zap.String("lock", lockKey), zap.Error(err))
		}
	}()

	// Fail fast on structure: a malformed operation means a programming
	// error upstream, and no write may happen for such a batch.
	for i, op := range ops {
		if err := op.Validate(); err != nil {
			record.Status = domain.StatusFailed
			m.rollback(ctx, txID, opts.Compensation)
			result.Duration = time.Since(start)
			result.Errors = append(result.Errors, err.Error())
			return result, errors.Wrapf(err, "operation %d invalid, batch aborted", i)
		}
	}
	record.Status = domain.StatusValidated

	perOp, execErr := m.store.ExecBatch(ctx, ops)
	if execErr != nil {
		record.Status = domain.StatusFailed
		m.rollback(ctx, txID, opts.Compensation)
		result.Duration = time.Since(start)
		result.Errors = append(result.Errors, execErr.Error())
		return result, errors.Wrapf(ErrTotalFailure, "tx %s: %v", txID, execErr)
	}

	for i, opErr := range perOp {
		if opErr != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("op %d (%s): %v", i, ops[i].Key(), opErr))
			continue
		}
		result.SuccessCount++
	}
	result.Duration = time.Since(start)

	if len(ops) > 0 && result.SuccessCount == 0 {
		record.Status = domain.StatusFailed
		m.rollback(ctx, txID, opts.Compensation)
		return result, errors.Wrapf(ErrTotalFailure, "tx %s", txID)
	}

	failureRate := float64(len(ops)-result.SuccessCount) / float64(max(len(ops), 1))
	if failureRate > maxFailureRate {
		record.Status = domain.StatusFailed
		m.rollback(ctx, txID, opts.Compensation)
		return result, errors.Wrapf(ErrExcessiveFailures, "tx %s: %d/%d failed",
			txID, len(ops)-result.SuccessCount, len(ops))
	}

	record.Status = domain.StatusCompleted
	result.Success = true

	m.logger.Debug("batch update completed",
		zap.String("tx", txID),
		zap.Int("operations", len(ops)),
		zap.Int("succeeded", result.SuccessCount),
		zap.Duration("duration", result.Duration))

	return result, nil
}

// ExecuteAtomic acquires the named lock, runs fn under the given timeout and
// releases the lock. The thin primitive for read-modify-write callers that
// do not need batch machinery.
func (m *Manager) ExecuteAtomic(ctx context.Context, lockKey string, fn func(ctx context.Context) error, timeout time.Duration) error {
	lock, err := m.acquireWithRetry(ctx, lockKey)
	if err != nil {
		return errors.Wrapf(ErrLockAcquisitionFailed, "lock %s: %v", lockKey, err)
	}
	defer func() {
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
			m.logger.Warn("failed to release atomic lock",
				zap.String("lock", lockKey), zap.Error(err))
		}
	}()

	opCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	return fn(opCtx)
}

// AcquireBatchLocks takes multiple named locks in sorted key order, the
// global order that prevents two callers with overlapping key sets from
// deadlocking each other. On any failure every already-held lock is
// released before the error returns.
func (m *Manager) AcquireBatchLocks(ctx context.Context, keys []string, ttl time.Duration) ([]*store.Lock, error) {
	sorted := make([]string, len(keys))
	copy(sorted, keys)
	sort.Strings(sorted)

	locks := make([]*store.Lock, 0, len(sorted))
	for _, key := range sorted {
		lock, err := m.store.AcquireLock(ctx, key, ttl)
		if err != nil {
			for _, held := range locks {
				if relErr := held.Release(context.WithoutCancel(ctx)); relErr != nil {
					m.logger.Warn("failed to release lock during unwind",
						zap.String("lock", held.Key()), zap.Error(relErr))
				}
			}
			return nil, errors.Wrapf(ErrLockAcquisitionFailed, "lock %s: %v", key, err)
		}
		locks = append(locks, lock)
	}
	return locks, nil
}

// DetectDeadlocks sweeps the lock namespace and flags keys whose remaining
// TTL exceeds the configured lock timeout: no legitimate operation lives
// that long. Diagnostic only; nothing is mutated.
func (m *Manager) DetectDeadlocks(ctx context.Context) ([]domain.DeadlockFinding, error) {
	keys, err := m.store.ScanKeys(ctx, store.LockPrefix+"*")
	if err != nil {
		return nil, errors.Wrap(err, "failed to scan locks")
	}

	var findings []domain.DeadlockFinding
	for _, key := range keys {
		ttl, err := m.store.TTL(ctx, key)
		if err != nil {
			m.logger.Warn("failed to read lock ttl", zap.String("lock", key), zap.Error(err))
			continue
		}
		if ttl > m.cfg.LockTimeout {
			findings = append(findings, domain.DeadlockFinding{
				LockKey:   key,
				TTL:       ttl,
				Threshold: m.cfg.LockTimeout,
			})
		}
	}
	return findings, nil
}

// ActiveTransactions snapshots the in-flight transaction records for
// introspection.
func (m *Manager) ActiveTransactions() []domain.TransactionRecord {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]domain.TransactionRecord, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, *r)
	}
	return out
}

func (m *Manager) acquireWithRetry(ctx context.Context, lockKey string) (*store.Lock, error) {
	r := retrier.NewLinear(m.cfg.MaxRetries, m.cfg.RetryDelay)
	return retrier.DoWithData(r, ctx, func(ctx context.Context) (*store.Lock, error) {
		return m.store.AcquireLock(ctx, lockKey, m.cfg.LockTimeout)
	})
}

// rollback applies caller-supplied compensating writes, best effort. Without
// compensation there is nothing to undo: the store has no native rollback
// and that limitation is part of this manager's contract.
func (m *Manager) rollback(ctx context.Context, txID string, compensation []store.Operation) {
	if len(compensation) == 0 {
		m.logger.Warn("batch failed with no compensation; partial writes may remain",
			zap.String("tx", txID))
		return
	}

	if _, err := m.store.ExecBatch(context.WithoutCancel(ctx), compensation); err != nil {
		m.logger.Error("compensating rollback failed",
			zap.String("tx", txID), zap.Error(err))
		return
	}
	m.logger.Info("compensating rollback applied",
		zap.String("tx", txID), zap.Int("operations", len(compensation)))
}

func (m *Manager) register(r *domain.TransactionRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[r.ID] = r
}

func (m *Manager) deregister(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, id)
}
