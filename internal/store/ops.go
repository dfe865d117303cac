package store

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// Operation is one typed write in a batch update. The closed set of
// implementations makes invalid op shapes unrepresentable; Validate catches
// what the type system cannot (empty keys, nil payloads).
type Operation interface {
	// Validate checks the operation's structure before any write happens.
	Validate() error
	// enqueue adds the operation to a pipeline.
	enqueue(ctx context.Context, pipe redis.Pipeliner)
	// Key returns the target key, used for lock scoping and reporting.
	Key() string
}

// HSetOp writes a set of hash fields.
type HSetOp struct {
	HashKey string
	Fields  map[string]interface{}
}

func (o HSetOp) Key() string { return o.HashKey }

func (o HSetOp) Validate() error {
	if o.HashKey == "" {
		return errors.New("hset operation requires a key")
	}
	if len(o.Fields) == 0 {
		return errors.Errorf("hset operation on %s requires fields", o.HashKey)
	}
	return nil
}

func (o HSetOp) enqueue(ctx context.Context, pipe redis.Pipeliner) {
	pipe.HSet(ctx, o.HashKey, o.Fields)
}

// HIncrByOp increments a numeric hash field.
type HIncrByOp struct {
	HashKey string
	Field   string
	Value   float64
}

func (o HIncrByOp) Key() string { return o.HashKey }

func (o HIncrByOp) Validate() error {
	if o.HashKey == "" {
		return errors.New("hincrby operation requires a key")
	}
	if o.Field == "" {
		return errors.Errorf("hincrby operation on %s requires a field", o.HashKey)
	}
	return nil
}

func (o HIncrByOp) enqueue(ctx context.Context, pipe redis.Pipeliner) {
	pipe.HIncrByFloat(ctx, o.HashKey, o.Field, o.Value)
}

// SetOp writes a plain string key, optionally with a TTL.
type SetOp struct {
	SetKey string
	Value  string
	TTL    time.Duration
}

func (o SetOp) Key() string { return o.SetKey }

func (o SetOp) Validate() error {
	if o.SetKey == "" {
		return errors.New("set operation requires a key")
	}
	return nil
}

func (o SetOp) enqueue(ctx context.Context, pipe redis.Pipeliner) {
	pipe.Set(ctx, o.SetKey, o.Value, o.TTL)
}

// DelOp removes a key.
type DelOp struct {
	DelKey string
}

func (o DelOp) Key() string { return o.DelKey }

func (o DelOp) Validate() error {
	if o.DelKey == "" {
		return errors.New("del operation requires a key")
	}
	return nil
}

func (o DelOp) enqueue(ctx context.Context, pipe redis.Pipeliner) {
	pipe.Del(ctx, o.DelKey)
}

// ExecBatch runs all operations in one MULTI/EXEC transaction so their
// effects become visible together. It returns per-operation errors
// index-aligned with ops; a nil top-level error with some non-nil entries
// means a partial failure the caller must account for.
func (c *Client) ExecBatch(ctx context.Context, ops []Operation) ([]error, error) {
	pipe := c.rdb.TxPipeline()
	for _, op := range ops {
		op.enqueue(ctx, pipe)
	}

	cmds, err := pipe.Exec(ctx)
	if err != nil && len(cmds) == 0 {
		return nil, errors.Wrap(err, "batch exec")
	}

	perOp := make([]error, len(ops))
	for i, cmd := range cmds {
		if i < len(perOp) {
			perOp[i] = cmd.Err()
		}
	}
	return perOp, nil
}
