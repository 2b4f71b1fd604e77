package services

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/thqlabel/backend/internal/models"
)

func withdrawalRows(id, userID, amount, status string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "user_id", "amount", "currency", "method", "bank_name", "card_number",
		"recipient_name", "additional_info", "status", "admin_comment", "freeze_entry_id", "created_at", "processed_at"}).
		AddRow(id, userID, amount, "RUB", "card", "Sberbank", "2200123412341234", "Ivan Petrov",
			nil, status, nil, "freeze-entry-1", time.Now(), nil)
}

func expectLockWithdrawal(mock sqlmock.Sqlmock, requestID string, rows *sqlmock.Rows) {
	mock.ExpectQuery("SELECT id, user_id, amount, currency, method, bank_name, card_number, recipient_name,(.+)FROM withdrawal_requests(.+)FOR UPDATE").
		WithArgs(requestID).
		WillReturnRows(rows)
}

func TestWithdrawalService_Request(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	assert.NoError(t, err)
	defer db.Close()

	service := NewWithdrawalService(db, NewLedgerService(db))

	t.Run("freezes funds and creates pending request", func(t *testing.T) {
		mock.ExpectBegin()
		expectLockAccount(mock, "user1", accountRows("5000.00", "0"))
		expectWrite(mock) // freeze: account update + ledger entry
		mock.ExpectExec("INSERT INTO withdrawal_requests").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		withdrawal, err := service.Request(context.Background(), "user1", WithdrawalCreateRequest{
			Amount:        decimal.NewFromInt(1500),
			BankName:      "Sberbank",
			CardNumber:    "2200123412341234",
			RecipientName: "Ivan Petrov",
		})

		assert.NoError(t, err)
		assert.Equal(t, models.WithdrawalPending, withdrawal.Status)
		assert.Equal(t, "card", withdrawal.Method)
		assert.NotNil(t, withdrawal.FreezeEntryID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects amount below minimum", func(t *testing.T) {
		_, err := service.Request(context.Background(), "user1", WithdrawalCreateRequest{
			Amount:        decimal.NewFromInt(500),
			BankName:      "Sberbank",
			CardNumber:    "2200123412341234",
			RecipientName: "Ivan Petrov",
		})
		assert.ErrorIs(t, err, ErrBelowMinimum)
	})

	t.Run("rejects request exceeding balance", func(t *testing.T) {
		mock.ExpectBegin()
		expectLockAccount(mock, "user1", accountRows("1000.00", "0"))
		mock.ExpectRollback()

		_, err := service.Request(context.Background(), "user1", WithdrawalCreateRequest{
			Amount:        decimal.NewFromInt(1500),
			BankName:      "Sberbank",
			CardNumber:    "2200123412341234",
			RecipientName: "Ivan Petrov",
		})
		assert.ErrorIs(t, err, ErrInsufficientFunds)
	})
}

func TestWithdrawalService_Transitions(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	assert.NoError(t, err)
	defer db.Close()

	service := NewWithdrawalService(db, NewLedgerService(db))

	t.Run("approve moves no funds", func(t *testing.T) {
		mock.ExpectBegin()
		expectLockWithdrawal(mock, "req1", withdrawalRows("req1", "user1", "1500.00", "pending"))
		mock.ExpectExec("UPDATE withdrawal_requests").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		withdrawal, err := service.Approve(context.Background(), "req1", "admin1", "looks good")
		assert.NoError(t, err)
		assert.Equal(t, models.WithdrawalApproved, withdrawal.Status)
		assert.NotNil(t, withdrawal.ProcessedAt)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("reject releases the frozen funds", func(t *testing.T) {
		mock.ExpectBegin()
		expectLockWithdrawal(mock, "req1", withdrawalRows("req1", "user1", "1500.00", "pending"))
		expectLockAccount(mock, "user1", accountRows("3500.00", "1500.00"))
		expectWrite(mock) // release: account update + unfreeze entry
		mock.ExpectExec("UPDATE withdrawal_requests").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		withdrawal, err := service.Reject(context.Background(), "req1", "admin1", "card number invalid")
		assert.NoError(t, err)
		assert.Equal(t, models.WithdrawalRejected, withdrawal.Status)
		assert.Equal(t, "card number invalid", *withdrawal.AdminComment)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("complete consumes the frozen funds", func(t *testing.T) {
		mock.ExpectBegin()
		expectLockWithdrawal(mock, "req1", withdrawalRows("req1", "user1", "1500.00", "approved"))
		expectLockAccount(mock, "user1", accountRows("3500.00", "1500.00"))
		expectWrite(mock) // settle: account update + withdrawal entry
		mock.ExpectExec("UPDATE withdrawal_requests").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		withdrawal, err := service.Complete(context.Background(), "req1", "admin1", "")
		assert.NoError(t, err)
		assert.Equal(t, models.WithdrawalCompleted, withdrawal.Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("terminal request rejects further transitions", func(t *testing.T) {
		mock.ExpectBegin()
		expectLockWithdrawal(mock, "req1", withdrawalRows("req1", "user1", "1500.00", "completed"))
		mock.ExpectRollback()

		_, err := service.Reject(context.Background(), "req1", "admin1", "")
		assert.ErrorIs(t, err, ErrAlreadyTerminal)
	})

	t.Run("approved request cannot be cancelled by user", func(t *testing.T) {
		mock.ExpectBegin()
		expectLockWithdrawal(mock, "req1", withdrawalRows("req1", "user1", "1500.00", "approved"))
		mock.ExpectRollback()

		_, err := service.Cancel(context.Background(), "req1", "user1")
		assert.ErrorIs(t, err, ErrInvalidState)
	})

	t.Run("cancel by another user reads as not found", func(t *testing.T) {
		mock.ExpectBegin()
		expectLockWithdrawal(mock, "req1", withdrawalRows("req1", "user1", "1500.00", "pending"))
		mock.ExpectRollback()

		_, err := service.Cancel(context.Background(), "req1", "intruder")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("cancel returns funds to the owner", func(t *testing.T) {
		mock.ExpectBegin()
		expectLockWithdrawal(mock, "req1", withdrawalRows("req1", "user1", "1500.00", "pending"))
		expectLockAccount(mock, "user1", accountRows("3500.00", "1500.00"))
		expectWrite(mock)
		mock.ExpectExec("UPDATE withdrawal_requests").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		withdrawal, err := service.Cancel(context.Background(), "req1", "user1")
		assert.NoError(t, err)
		assert.Equal(t, models.WithdrawalCancelled, withdrawal.Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
