package caseflow

import (
	"context"
	"database/sql"
	"time"

	dErrors "kycflow/pkg/domain-errors"
	"kycflow/pkg/platform/tx"
)

// TxRunner runs a unit of work atomically. The terminal transition
// uses it to commit the case write and the stats charge together.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

const defaultTxTimeout = 5 * time.Second

// PostgresTx wraps fn in a database transaction exposed to the stores
// through the context.
type PostgresTx struct {
	db      *sql.DB
	timeout time.Duration
}

// NewPostgresTx builds a TxRunner over the pool.
func NewPostgresTx(db *sql.DB) *PostgresTx {
	return &PostgresTx{db: db}
}

func (t *PostgresTx) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	timeout := t.timeout
	if timeout == 0 {
		timeout = defaultTxTimeout
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	dbTx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = dbTx.Rollback()
	}()

	if err := fn(tx.WithTx(ctx, dbTx)); err != nil {
		return err
	}
	return dbTx.Commit()
}

// NoopTx runs fn directly. The in-memory stores are internally locked,
// so single-statement atomicity is all a single-node run needs.
type NoopTx struct{}

func (NoopTx) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
