package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type WithdrawalStatus string

const (
	WithdrawalPending   WithdrawalStatus = "pending"
	WithdrawalApproved  WithdrawalStatus = "approved"
	WithdrawalRejected  WithdrawalStatus = "rejected"
	WithdrawalCompleted WithdrawalStatus = "completed"
	WithdrawalCancelled WithdrawalStatus = "cancelled"
)

// Allowed state machine edges. Completed covers the fast-track payout from
// pending without a prior approval.
var withdrawalTransitions = map[WithdrawalStatus][]WithdrawalStatus{
	WithdrawalPending:  {WithdrawalApproved, WithdrawalRejected, WithdrawalCompleted, WithdrawalCancelled},
	WithdrawalApproved: {WithdrawalRejected, WithdrawalCompleted},
}

// Terminal reports whether no further transition is allowed from s.
func (s WithdrawalStatus) Terminal() bool {
	return len(withdrawalTransitions[s]) == 0
}

// CanTransition reports whether the edge s -> to is allowed.
func (s WithdrawalStatus) CanTransition(to WithdrawalStatus) bool {
	for _, next := range withdrawalTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// WithdrawalRequest is one payout attempt. Mutated only by the withdrawal state
// machine; FreezeEntryID references the ledger entry that froze the funds.
type WithdrawalRequest struct {
	ID             string           `json:"id" db:"id"`
	UserID         string           `json:"user_id" db:"user_id"`
	Amount         decimal.Decimal  `json:"amount" db:"amount"`
	Currency       string           `json:"currency" db:"currency"`
	Method         string           `json:"method" db:"method"`
	BankName       string           `json:"bank_name" db:"bank_name"`
	CardNumber     string           `json:"card_number" db:"card_number"`
	RecipientName  string           `json:"recipient_name" db:"recipient_name"`
	AdditionalInfo *string          `json:"additional_info,omitempty" db:"additional_info"`
	Status         WithdrawalStatus `json:"status" db:"status"`
	AdminComment   *string          `json:"admin_comment,omitempty" db:"admin_comment"`
	FreezeEntryID  *string          `json:"freeze_entry_id,omitempty" db:"freeze_entry_id"`
	CreatedAt      time.Time        `json:"created_at" db:"created_at"`
	ProcessedAt    *time.Time       `json:"processed_at,omitempty" db:"processed_at"`
}

// MaskedCard returns the card number reduced to its last four digits for
// receipts and payment method labels.
func (w *WithdrawalRequest) MaskedCard() string {
	if len(w.CardNumber) < 4 {
		return "****"
	}
	return "****" + w.CardNumber[len(w.CardNumber)-4:]
}
