package services

import (
	"context"
	"database/sql"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"github.com/thqlabel/backend/internal/audit"
	"github.com/thqlabel/backend/internal/models"
)

// LedgerService owns the accounts aggregate. Every mutating operation runs as
// one serializable database transaction: lock the account row FOR UPDATE,
// validate, write the new account state and append exactly one ledger entry,
// commit all or nothing. Two concurrent requests for the same user serialize
// through the row lock; different users proceed in parallel.
type LedgerService struct {
	db       *sql.DB
	audit    *audit.Logger
	currency string
}

func NewLedgerService(db *sql.DB) *LedgerService {
	viper.SetDefault("ledger.currency", "RUB")
	return &LedgerService{
		db:       db,
		audit:    audit.NewLogger(),
		currency: viper.GetString("ledger.currency"),
	}
}

// EntryRef carries the audit context attached to a ledger entry: the optional
// back-reference to the object that caused it, the acting admin, and free-form
// metadata.
type EntryRef struct {
	Description    string
	ReferenceID    string
	ReferenceTable string
	AdminID        string
	PaymentMethod  string
	Metadata       models.Metadata
}

// Credit increases the balance by amount and bumps the lifetime deposit
// counter for deposits. Fails with ErrInvalidAmount for non-positive amounts.
func (s *LedgerService) Credit(ctx context.Context, userID string, amount decimal.Decimal, entryType models.EntryType, ref EntryRef) (*models.LedgerEntry, error) {
	var entry *models.LedgerEntry
	err := s.RunInTransaction(ctx, func(tx *sql.Tx) error {
		var err error
		entry, err = s.CreditTx(tx, userID, amount, entryType, ref)
		return err
	})
	if err != nil {
		s.audit.LogError("CREDIT", userID, err)
		return nil, err
	}
	s.audit.LogMutation("CREDIT", entry.ID, userID, amount.String(), map[string]string{"type": string(entryType)})
	return entry, nil
}

// Debit decreases the balance by amount. Fails with InsufficientFundsError if
// amount exceeds the balance, except for correction and adjustment entries,
// which are the deliberate administrative override allowed to drive the
// balance negative.
func (s *LedgerService) Debit(ctx context.Context, userID string, amount decimal.Decimal, entryType models.EntryType, ref EntryRef) (*models.LedgerEntry, error) {
	var entry *models.LedgerEntry
	err := s.RunInTransaction(ctx, func(tx *sql.Tx) error {
		var err error
		entry, err = s.DebitTx(tx, userID, amount, entryType, ref)
		return err
	})
	if err != nil {
		s.audit.LogError("DEBIT", userID, err)
		return nil, err
	}
	s.audit.LogMutation("DEBIT", entry.ID, userID, amount.String(), map[string]string{"type": string(entryType)})
	return entry, nil
}

// Freeze moves amount from balance to frozen_balance in a single compound
// update, earmarking it for a pending withdrawal.
func (s *LedgerService) Freeze(ctx context.Context, userID string, amount decimal.Decimal, ref EntryRef) (*models.LedgerEntry, error) {
	var entry *models.LedgerEntry
	err := s.RunInTransaction(ctx, func(tx *sql.Tx) error {
		var err error
		entry, err = s.FreezeTx(tx, userID, amount, ref)
		return err
	})
	if err != nil {
		s.audit.LogError("FREEZE", userID, err)
		return nil, err
	}
	s.audit.LogMutation("FREEZE", entry.ID, userID, amount.String(), nil)
	return entry, nil
}

// Release is the inverse of Freeze: frozen funds return to the balance.
func (s *LedgerService) Release(ctx context.Context, userID string, amount decimal.Decimal, ref EntryRef) (*models.LedgerEntry, error) {
	var entry *models.LedgerEntry
	err := s.RunInTransaction(ctx, func(tx *sql.Tx) error {
		var err error
		entry, err = s.ReleaseTx(tx, userID, amount, ref)
		return err
	})
	if err != nil {
		s.audit.LogError("RELEASE", userID, err)
		return nil, err
	}
	s.audit.LogMutation("RELEASE", entry.ID, userID, amount.String(), nil)
	return entry, nil
}

// ConsumeFrozen settles a payout: frozen funds leave the system, the spendable
// balance is untouched and total_withdrawn grows by amount.
func (s *LedgerService) ConsumeFrozen(ctx context.Context, userID string, amount decimal.Decimal, ref EntryRef) (*models.LedgerEntry, error) {
	var entry *models.LedgerEntry
	err := s.RunInTransaction(ctx, func(tx *sql.Tx) error {
		var err error
		entry, err = s.ConsumeFrozenTx(tx, userID, amount, ref)
		return err
	})
	if err != nil {
		s.audit.LogError("CONSUME_FROZEN", userID, err)
		return nil, err
	}
	s.audit.LogMutation("CONSUME_FROZEN", entry.ID, userID, amount.String(), nil)
	return entry, nil
}

// GetBalance returns the account read model. Available equals Balance by
// construction: freezing already moved the funds out of Balance.
func (s *LedgerService) GetBalance(ctx context.Context, userID string) (*models.BalanceSummary, error) {
	var acct models.Account
	err := s.db.QueryRowContext(ctx, `
		SELECT balance, frozen_balance, total_deposited, total_withdrawn, total_spent, currency
		FROM accounts
		WHERE user_id = $1`, userID).
		Scan(&acct.Balance, &acct.FrozenBalance, &acct.TotalDeposited, &acct.TotalWithdrawn, &acct.TotalSpent, &acct.Currency)
	if err == sql.ErrNoRows {
		// Account is created lazily; a missing row is an all-zero balance.
		zero := decimal.Zero
		return &models.BalanceSummary{
			Balance: zero, FrozenBalance: zero, Available: zero,
			TotalDeposited: zero, TotalWithdrawn: zero, TotalSpent: zero,
			Currency: s.currency,
		}, nil
	}
	if err != nil {
		return nil, err
	}
	return &models.BalanceSummary{
		Balance:        acct.Balance,
		FrozenBalance:  acct.FrozenBalance,
		Available:      acct.Balance,
		TotalDeposited: acct.TotalDeposited,
		TotalWithdrawn: acct.TotalWithdrawn,
		TotalSpent:     acct.TotalSpent,
		Currency:       acct.Currency,
	}, nil
}

// RunInTransaction executes fn inside a serializable transaction, retrying the
// whole unit once on a serialization conflict. A second conflict surfaces as
// ErrConcurrentModification; blind retries beyond that are never safe for
// non-idempotent mutations.
func (s *LedgerService) RunInTransaction(ctx context.Context, fn func(tx *sql.Tx) error) error {
	for attempt := 0; ; attempt++ {
		err := s.runOnce(ctx, fn)
		if err == nil {
			return nil
		}
		if isSerializationFailure(err) {
			if attempt == 0 {
				log.Printf("[LEDGER] Serialization conflict, retrying once: %v", err)
				continue
			}
			return ErrConcurrentModification
		}
		return err
	}
}

func (s *LedgerService) runOnce(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// CreditTx is Credit composed into a caller-owned transaction.
func (s *LedgerService) CreditTx(tx *sql.Tx, userID string, amount decimal.Decimal, entryType models.EntryType, ref EntryRef) (*models.LedgerEntry, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, ErrInvalidAmount
	}
	if !entryType.Valid() {
		return nil, ErrInvalidEntryType
	}

	acct, err := s.lockAccount(tx, userID)
	if err != nil {
		return nil, err
	}

	newBalance := acct.Balance.Add(amount)
	deposited := decimal.Zero
	if entryType == models.EntryDeposit {
		deposited = amount
	}

	if err := s.updateAccount(tx, userID, newBalance, acct.FrozenBalance, deposited, decimal.Zero, decimal.Zero); err != nil {
		return nil, err
	}

	entry := s.buildEntry(userID, entryType, amount, acct.Balance, newBalance, ref)
	if err := appendEntryTx(tx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// DebitTx is Debit composed into a caller-owned transaction.
func (s *LedgerService) DebitTx(tx *sql.Tx, userID string, amount decimal.Decimal, entryType models.EntryType, ref EntryRef) (*models.LedgerEntry, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, ErrInvalidAmount
	}
	if !entryType.Valid() {
		return nil, ErrInvalidEntryType
	}

	acct, err := s.lockAccount(tx, userID)
	if err != nil {
		return nil, err
	}

	if amount.GreaterThan(acct.Balance) {
		if !entryType.AllowsNegativeBalance() {
			return nil, &InsufficientFundsError{Available: acct.Balance, Requested: amount}
		}
		log.Printf("[LEDGER] Administrative override: %s debit of %s drives user %s balance negative (balance %s)",
			entryType, amount, userID, acct.Balance)
	}

	newBalance := acct.Balance.Sub(amount)
	spent := decimal.Zero
	if entryType == models.EntryPurchase {
		spent = amount
	}

	if err := s.updateAccount(tx, userID, newBalance, acct.FrozenBalance, decimal.Zero, decimal.Zero, spent); err != nil {
		return nil, err
	}

	entry := s.buildEntry(userID, entryType, amount, acct.Balance, newBalance, ref)
	if err := appendEntryTx(tx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// FreezeTx is Freeze composed into a caller-owned transaction.
func (s *LedgerService) FreezeTx(tx *sql.Tx, userID string, amount decimal.Decimal, ref EntryRef) (*models.LedgerEntry, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, ErrInvalidAmount
	}

	acct, err := s.lockAccount(tx, userID)
	if err != nil {
		return nil, err
	}

	if amount.GreaterThan(acct.Balance) {
		return nil, &InsufficientFundsError{Available: acct.Balance, Requested: amount}
	}

	newBalance := acct.Balance.Sub(amount)
	newFrozen := acct.FrozenBalance.Add(amount)

	if err := s.updateAccount(tx, userID, newBalance, newFrozen, decimal.Zero, decimal.Zero, decimal.Zero); err != nil {
		return nil, err
	}

	entry := s.buildEntry(userID, models.EntryFreeze, amount, acct.Balance, newBalance, ref)
	if err := appendEntryTx(tx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// ReleaseTx is Release composed into a caller-owned transaction.
func (s *LedgerService) ReleaseTx(tx *sql.Tx, userID string, amount decimal.Decimal, ref EntryRef) (*models.LedgerEntry, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, ErrInvalidAmount
	}

	acct, err := s.lockAccount(tx, userID)
	if err != nil {
		return nil, err
	}

	if amount.GreaterThan(acct.FrozenBalance) {
		return nil, ErrInvalidState
	}

	newBalance := acct.Balance.Add(amount)
	newFrozen := acct.FrozenBalance.Sub(amount)

	if err := s.updateAccount(tx, userID, newBalance, newFrozen, decimal.Zero, decimal.Zero, decimal.Zero); err != nil {
		return nil, err
	}

	entry := s.buildEntry(userID, models.EntryUnfreeze, amount, acct.Balance, newBalance, ref)
	if err := appendEntryTx(tx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// ConsumeFrozenTx is ConsumeFrozen composed into a caller-owned transaction.
// The entry records equal before/after balances: the spendable balance was
// already reduced at freeze time.
func (s *LedgerService) ConsumeFrozenTx(tx *sql.Tx, userID string, amount decimal.Decimal, ref EntryRef) (*models.LedgerEntry, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, ErrInvalidAmount
	}

	acct, err := s.lockAccount(tx, userID)
	if err != nil {
		return nil, err
	}

	if amount.GreaterThan(acct.FrozenBalance) {
		return nil, ErrInvalidState
	}

	newFrozen := acct.FrozenBalance.Sub(amount)

	if err := s.updateAccount(tx, userID, acct.Balance, newFrozen, decimal.Zero, amount, decimal.Zero); err != nil {
		return nil, err
	}

	entry := s.buildEntry(userID, models.EntryWithdrawal, amount, acct.Balance, acct.Balance, ref)
	if err := appendEntryTx(tx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// lockAccount creates the account row if missing and takes a row lock on it.
// Concurrent operations against the same user queue up here.
func (s *LedgerService) lockAccount(tx *sql.Tx, userID string) (*models.Account, error) {
	_, err := tx.Exec(`
		INSERT INTO accounts (user_id, currency)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO NOTHING`, userID, s.currency)
	if err != nil {
		return nil, err
	}

	var account models.Account
	err = tx.QueryRow(`
		SELECT user_id, balance, frozen_balance, total_deposited, total_withdrawn, total_spent, currency
		FROM accounts
		WHERE user_id = $1
		FOR UPDATE`, userID).
		Scan(&account.UserID, &account.Balance, &account.FrozenBalance,
			&account.TotalDeposited, &account.TotalWithdrawn, &account.TotalSpent, &account.Currency)
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func (s *LedgerService) updateAccount(tx *sql.Tx, userID string, balance, frozen, deposited, withdrawn, spent decimal.Decimal) error {
	_, err := tx.Exec(`
		UPDATE accounts
		SET balance = $1,
		    frozen_balance = $2,
		    total_deposited = total_deposited + $3,
		    total_withdrawn = total_withdrawn + $4,
		    total_spent = total_spent + $5,
		    updated_at = $6
		WHERE user_id = $7`,
		balance, frozen, deposited, withdrawn, spent, time.Now().UTC(), userID)
	return err
}

func (s *LedgerService) buildEntry(userID string, entryType models.EntryType, amount, before, after decimal.Decimal, ref EntryRef) *models.LedgerEntry {
	entry := &models.LedgerEntry{
		ID:            uuid.NewString(),
		UserID:        userID,
		Type:          entryType,
		Amount:        amount,
		Currency:      s.currency,
		BalanceBefore: before,
		BalanceAfter:  after,
		Status:        models.EntryStatusCompleted,
		Description:   ref.Description,
		Metadata:      ref.Metadata,
		CreatedAt:     time.Now().UTC(),
	}
	if ref.ReferenceID != "" {
		entry.ReferenceID = &ref.ReferenceID
	}
	if ref.ReferenceTable != "" {
		entry.ReferenceTable = &ref.ReferenceTable
	}
	if ref.AdminID != "" {
		entry.AdminID = &ref.AdminID
	}
	if ref.PaymentMethod != "" {
		entry.PaymentMethod = &ref.PaymentMethod
	}
	return entry
}
