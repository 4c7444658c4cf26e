package domain

import "time"

// CreditReason labels why a balance moved.
type CreditReason string

const (
	CreditReasonJobCharge CreditReason = "job_charge"
	CreditReasonJobRefund CreditReason = "job_refund"
	CreditReasonGrant     CreditReason = "grant"
)

// CreditAdjustment is a signed balance mutation request.
type CreditAdjustment struct {
	UserID string
	JobID  *string
	Delta  int64
	Reason CreditReason
}

// CreditTransaction is the append-only audit record written with every adjustment.
type CreditTransaction struct {
	ID            string
	UserID        string
	JobID         *string
	Delta         int64
	BalanceBefore int64
	BalanceAfter  int64
	Reason        CreditReason
	CreatedAt     time.Time
}
