package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"vidgen/internal/domain"
	"vidgen/internal/infra"
	"vidgen/internal/sqlinline"
)

// CreditLedgerPG applies balance adjustments. The caller must run Adjust inside
// a transaction; the row lock taken on the user serialises concurrent adjustments.
type CreditLedgerPG struct{}

// NewCreditLedger creates a ledger backed by PostgreSQL.
func NewCreditLedger() *CreditLedgerPG {
	return &CreditLedgerPG{}
}

// Adjust locks the user's balance, applies the delta and appends the audit record.
func (l *CreditLedgerPG) Adjust(ctx context.Context, q infra.SQLExecutor, adj domain.CreditAdjustment) (*domain.CreditTransaction, error) {
	var before int64
	if err := q.QueryRow(ctx, sqlinline.QLockUserBalance, adj.UserID).Scan(&before); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("user %s: %w", adj.UserID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("lock balance: %w", err)
	}

	after := before + adj.Delta
	if adj.Delta < 0 && after < 0 {
		return nil, fmt.Errorf("balance %d, need %d: %w", before, -adj.Delta, domain.ErrInsufficientCredits)
	}

	if _, err := q.Exec(ctx, sqlinline.QUpdateUserBalance, adj.UserID, after); err != nil {
		return nil, fmt.Errorf("update balance: %w", err)
	}

	tx := &domain.CreditTransaction{
		ID:            uuid.NewString(),
		UserID:        adj.UserID,
		JobID:         adj.JobID,
		Delta:         adj.Delta,
		BalanceBefore: before,
		BalanceAfter:  after,
		Reason:        adj.Reason,
	}
	row := q.QueryRow(ctx, sqlinline.QInsertCreditTransaction,
		tx.ID, tx.UserID, tx.JobID, tx.Delta, tx.BalanceBefore, tx.BalanceAfter, string(tx.Reason))
	if err := row.Scan(&tx.CreatedAt); err != nil {
		return nil, fmt.Errorf("insert credit transaction: %w", err)
	}
	return tx, nil
}

// ListByJob returns the ledger entries recorded against a job, oldest first.
func (l *CreditLedgerPG) ListByJob(ctx context.Context, q infra.SQLExecutor, jobID string) ([]domain.CreditTransaction, error) {
	rows, err := q.Query(ctx, sqlinline.QListCreditTransactionsByJob, jobID)
	if err != nil {
		return nil, fmt.Errorf("list credit transactions: %w", err)
	}
	defer rows.Close()

	var out []domain.CreditTransaction
	for rows.Next() {
		var (
			tx     domain.CreditTransaction
			reason string
		)
		if err := rows.Scan(&tx.ID, &tx.UserID, &tx.JobID, &tx.Delta, &tx.BalanceBefore, &tx.BalanceAfter, &reason, &tx.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan credit transaction: %w", err)
		}
		tx.Reason = domain.CreditReason(reason)
		out = append(out, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list credit transactions: %w", err)
	}
	return out, nil
}
