package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account is the authoritative per-user balance aggregate. Balance is spendable
// funds net of anything already frozen; frozen funds are earmarked for in-flight
// withdrawals. Created lazily on the first balance-affecting event, never
// deleted.
type Account struct {
	UserID         string          `json:"user_id" db:"user_id"`
	Balance        decimal.Decimal `json:"balance" db:"balance"`
	FrozenBalance  decimal.Decimal `json:"frozen_balance" db:"frozen_balance"`
	TotalDeposited decimal.Decimal `json:"total_deposited" db:"total_deposited"`
	TotalWithdrawn decimal.Decimal `json:"total_withdrawn" db:"total_withdrawn"`
	TotalSpent     decimal.Decimal `json:"total_spent" db:"total_spent"`
	Currency       string          `json:"currency" db:"currency"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at" db:"updated_at"`
}

// BalanceSummary is the read model returned to callers. Available always equals
// Balance: frozen funds are excluded from Balance at freeze time, so subtracting
// them again on read would double-count.
type BalanceSummary struct {
	Balance        decimal.Decimal `json:"balance"`
	FrozenBalance  decimal.Decimal `json:"frozen_balance"`
	Available      decimal.Decimal `json:"available"`
	TotalDeposited decimal.Decimal `json:"total_deposited"`
	TotalWithdrawn decimal.Decimal `json:"total_withdrawn"`
	TotalSpent     decimal.Decimal `json:"total_spent"`
	Currency       string          `json:"currency"`
}
