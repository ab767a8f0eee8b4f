package models

import (
	"time"

	"github.com/google/uuid"
)

// Point transaction types.
const (
	PointTxCharge     = "charge"
	PointTxPayment    = "payment"
	PointTxWithdrawal = "withdrawal"
	PointTxRefund     = "refund"
)

// Point transaction statuses.
const (
	PointTxStatusPending   = "pending"
	PointTxStatusCompleted = "completed"
	PointTxStatusFailed    = "failed"
	PointTxStatusCancelled = "cancelled"
)

type PointBalance struct {
	AccountID      uuid.UUID `json:"account_id"`
	AccountRole    string    `json:"account_role"`
	Balance        int64     `json:"balance"`
	TotalCharged   int64     `json:"total_charged"`
	TotalWithdrawn int64     `json:"total_withdrawn"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type PointTransaction struct {
	ID           uuid.UUID `json:"id"`
	AccountID    uuid.UUID `json:"account_id"`
	AccountRole  string    `json:"account_role"`
	Type         string    `json:"type"`
	Amount       int64     `json:"amount"`
	BalanceAfter int64     `json:"balance_after"`
	RelatedJobID *string   `json:"related_job_id,omitempty"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
}

// SignedAmount is the effect of the transaction on the account balance.
func (t *PointTransaction) SignedAmount() int64 {
	switch t.Type {
	case PointTxPayment, PointTxWithdrawal:
		return -t.Amount
	}
	return t.Amount
}

// BalanceCheck is the result of validating a balance against a required amount.
type BalanceCheck struct {
	IsValid        bool  `json:"is_valid"`
	CurrentBalance int64 `json:"current_balance"`
	RequiredAmount int64 `json:"required_amount"`
	Shortage       int64 `json:"shortage"`
}
