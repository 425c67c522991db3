package firestore

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"
)

const (
	defaultTxAttempts = 5
	defaultTxBudget   = 15 * time.Second
	defaultTxOp       = "transaction"
)

// TxFunc is executed within a Firestore transaction. It may be called more than once when
// Firestore retries on contention, so it must not have side effects outside tx.
type TxFunc func(ctx context.Context, tx *firestore.Transaction) error

// TxOption customises transaction behaviour.
type TxOption func(*txSettings)

type txSettings struct {
	op       string
	attempts int
	budget   time.Duration
	readOnly bool
}

// WithTxOp labels errors returned by the transaction, e.g. "orders.confirm_payment".
func WithTxOp(op string) TxOption {
	return func(s *txSettings) {
		if op != "" {
			s.op = op
		}
	}
}

// WithTxAttempts overrides the retry attempts for a transaction.
func WithTxAttempts(attempts int) TxOption {
	return func(s *txSettings) {
		if attempts > 0 {
			s.attempts = attempts
		}
	}
}

// WithTxTimeout caps the whole transaction including retries. A shorter caller deadline wins.
func WithTxTimeout(timeout time.Duration) TxOption {
	return func(s *txSettings) {
		if timeout > 0 {
			s.budget = timeout
		}
	}
}

// WithTxReadOnly runs fn in a read-only transaction for consistent multi-document reads.
func WithTxReadOnly() TxOption {
	return func(s *txSettings) {
		s.readOnly = true
	}
}

// RunTransaction executes fn within a transaction on client. Errors are wrapped with WrapError so
// callers see repository semantics (not found, conflict, unavailable).
func RunTransaction(ctx context.Context, client *firestore.Client, fn TxFunc, opts ...TxOption) error {
	settings := txSettings{op: defaultTxOp, attempts: defaultTxAttempts, budget: defaultTxBudget}
	for _, opt := range opts {
		if opt != nil {
			opt(&settings)
		}
	}
	if client == nil {
		return WrapError(settings.op, errors.New("firestore: client is nil"))
	}
	if fn == nil {
		return WrapError(settings.op, errors.New("firestore: transaction function is nil"))
	}

	txCtx, cancel := withBudget(ctx, settings.budget)
	defer cancel()

	txOpts := []firestore.TransactionOption{firestore.MaxAttempts(settings.attempts)}
	if settings.readOnly {
		txOpts = append(txOpts, firestore.ReadOnly)
	}
	return WrapError(settings.op, client.RunTransaction(txCtx, fn, txOpts...))
}

func withBudget(ctx context.Context, budget time.Duration) (context.Context, context.CancelFunc) {
	if budget <= 0 {
		return ctx, func() {}
	}
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) <= budget {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, budget)
}
