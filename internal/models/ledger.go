package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// EntryType identifies the kind of balance-affecting event. The set is
// closed: every type has a declared effect in EntryEffects, so adding a
// transaction kind is a single declaration here.
type EntryType string

const (
	EntryDeposit    EntryType = "deposit"
	EntryWithdrawal EntryType = "withdrawal"
	EntryPayout     EntryType = "payout"
	EntryPurchase   EntryType = "purchase"
	EntryRefund     EntryType = "refund"
	EntryCorrection EntryType = "correction"
	EntryAdjustment EntryType = "adjustment"
	EntryBonus      EntryType = "bonus"
	EntryFee        EntryType = "fee"
	EntryFreeze     EntryType = "freeze"
	EntryUnfreeze   EntryType = "unfreeze"
)

// Lifetime counter fed by an entry type.
const (
	LifetimeNone      = ""
	LifetimeDeposited = "total_deposited"
	LifetimeWithdrawn = "total_withdrawn"
	LifetimeSpent     = "total_spent"
)

// EntryEffect declares how a completed entry moves the account aggregates.
// Balance/Frozen are +1 (credit), -1 (debit) or 0. A type with both at 0 is
// signed: its direction is recoverable only from the balance snapshots
// (correction and adjustment, the administrative overrides).
type EntryEffect struct {
	Balance   int
	Frozen    int
	Lifetime  string
	AdminOnly bool
}

// Signed reports whether the entry direction comes from its snapshots.
func (e EntryEffect) Signed() bool {
	return e.Balance == 0 && e.Frozen == 0
}

var EntryEffects = map[EntryType]EntryEffect{
	EntryDeposit:    {Balance: +1, Lifetime: LifetimeDeposited},
	EntryWithdrawal: {Frozen: -1, Lifetime: LifetimeWithdrawn},
	EntryPayout:     {Balance: +1, AdminOnly: true},
	EntryPurchase:   {Balance: -1, Lifetime: LifetimeSpent},
	EntryRefund:     {Balance: +1},
	EntryCorrection: {AdminOnly: true},
	EntryAdjustment: {AdminOnly: true},
	EntryBonus:      {Balance: +1, AdminOnly: true},
	EntryFee:        {Balance: -1},
	EntryFreeze:     {Balance: -1, Frozen: +1},
	EntryUnfreeze:   {Balance: +1, Frozen: -1},
}

func (t EntryType) Valid() bool {
	_, ok := EntryEffects[t]
	return ok
}

func (t EntryType) Effect() EntryEffect {
	return EntryEffects[t]
}

// AllowsNegativeBalance reports whether a debit of this type may drive the
// balance below zero. Only the administrative overrides qualify.
func (t EntryType) AllowsNegativeBalance() bool {
	return t == EntryCorrection || t == EntryAdjustment
}

type EntryStatus string

const (
	EntryStatusCompleted EntryStatus = "completed" // the only status counted toward balances
	EntryStatusPending   EntryStatus = "pending"
	EntryStatusFailed    EntryStatus = "failed"
)

// Metadata is the open key/value audit bag stored as jsonb.
type Metadata map[string]any

func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

func (m *Metadata) Scan(src any) error {
	if src == nil {
		*m = nil
		return nil
	}
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, m)
	case string:
		return json.Unmarshal([]byte(v), m)
	}
	return fmt.Errorf("unsupported metadata type %T", src)
}

// LedgerEntry is one immutable record of a balance-affecting event. Amount is
// always stored non-negative; direction is implied by Type. Entries are never
// updated or deleted once written, a correction is a new entry.
type LedgerEntry struct {
	ID             string          `json:"id" db:"id"`
	UserID         string          `json:"user_id" db:"user_id"`
	Type           EntryType       `json:"type" db:"type"`
	Amount         decimal.Decimal `json:"amount" db:"amount"`
	Currency       string          `json:"currency" db:"currency"`
	BalanceBefore  decimal.Decimal `json:"balance_before" db:"balance_before"`
	BalanceAfter   decimal.Decimal `json:"balance_after" db:"balance_after"`
	Status         EntryStatus     `json:"status" db:"status"`
	Description    string          `json:"description" db:"description"`
	ReferenceID    *string         `json:"reference_id,omitempty" db:"reference_id"`
	ReferenceTable *string         `json:"reference_table,omitempty" db:"reference_table"`
	AdminID        *string         `json:"admin_id,omitempty" db:"admin_id"`
	PaymentMethod  *string         `json:"payment_method,omitempty" db:"payment_method"`
	Metadata       Metadata        `json:"metadata,omitempty" db:"metadata"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
}
