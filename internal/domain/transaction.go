package domain

import "time"

// TransactionStatus tracks an in-flight batch update through its lifecycle.
type TransactionStatus string

const (
	StatusStarting  TransactionStatus = "starting"
	StatusLocked    TransactionStatus = "locked"
	StatusValidated TransactionStatus = "validated"
	StatusCompleted TransactionStatus = "completed"
	StatusFailed    TransactionStatus = "failed"
)

// TransactionRecord is process-local bookkeeping for one batch update. It is
// registered at batch start and removed at batch end regardless of outcome,
// and exists only for introspection; it is never persisted.
type TransactionRecord struct {
	ID         string
	LockKey    string
	Operations int
	StartedAt  time.Time
	Status     TransactionStatus
}

// BatchResult reports the outcome of one batch update.
type BatchResult struct {
	Success         bool
	TransactionID   string
	OperationsCount int
	SuccessCount    int
	Duration        time.Duration
	Errors          []string
}

// DeadlockFinding flags a lock whose remaining lifetime exceeds the
// configured lock timeout, which no legitimate operation should reach.
type DeadlockFinding struct {
	LockKey   string
	TTL       time.Duration
	Threshold time.Duration
}
