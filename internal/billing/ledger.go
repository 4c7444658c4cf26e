// Package billing owns the spendable credit balance of users.
package billing

import (
	"context"
	"errors"
	"fmt"

	"vidgen/internal/domain"
	"vidgen/internal/infra"
)

// Adjuster applies one adjustment on an executor that is already inside a transaction.
type Adjuster interface {
	Adjust(ctx context.Context, q infra.SQLExecutor, adj domain.CreditAdjustment) (*domain.CreditTransaction, error)
}

// EntryLister reads the audit records tied to one job.
type EntryLister interface {
	ListByJob(ctx context.Context, q infra.SQLExecutor, jobID string) ([]domain.CreditTransaction, error)
}

// Ledger runs standalone balance adjustments, each in its own transaction.
type Ledger struct {
	tx       infra.Transactor
	adjuster Adjuster
	logger   infra.Logger
}

func NewLedger(tx infra.Transactor, adjuster Adjuster, logger infra.Logger) *Ledger {
	return &Ledger{tx: tx, adjuster: adjuster, logger: infra.Component(logger, "ledger")}
}

// Adjust applies delta to the user's balance and returns the new balance.
// Debits that would leave the balance negative fail with domain.ErrInsufficientCredits.
func (l *Ledger) Adjust(ctx context.Context, userID string, delta int64, reason domain.CreditReason) (int64, error) {
	if userID == "" {
		return 0, errors.New("user id is required")
	}
	var rec *domain.CreditTransaction
	err := l.tx.InTx(ctx, func(q infra.SQLExecutor) error {
		var err error
		rec, err = l.adjuster.Adjust(ctx, q, domain.CreditAdjustment{UserID: userID, Delta: delta, Reason: reason})
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("adjust credits for %s: %w", userID, err)
	}
	l.logger.Info().
		Str("user_id", userID).
		Int64("delta", delta).
		Int64("balance", rec.BalanceAfter).
		Str("reason", string(reason)).
		Msg("ledger: balance adjusted")
	return rec.BalanceAfter, nil
}
