package services

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/thqlabel/backend/internal/models"
)

func TestAdjustmentService_ApplyAdjustment(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	assert.NoError(t, err)
	defer db.Close()

	service := NewAdjustmentService(db, NewLedgerService(db))

	t.Run("positive amount credits", func(t *testing.T) {
		mock.ExpectBegin()
		expectLockAccount(mock, "user1", accountRows("100.00", "0"))
		expectWrite(mock)
		mock.ExpectCommit()

		entry, err := service.ApplyAdjustment(context.Background(), "admin1", "user1",
			models.EntryBonus, decimal.NewFromInt(500), "Contest prize")

		assert.NoError(t, err)
		assert.Equal(t, models.EntryBonus, entry.Type)
		assert.Equal(t, "admin1", *entry.AdminID)
		assert.True(t, entry.BalanceAfter.Equal(decimal.NewFromInt(600)))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("negative correction debits past zero", func(t *testing.T) {
		mock.ExpectBegin()
		expectLockAccount(mock, "user1", accountRows("100.00", "0"))
		expectWrite(mock)
		mock.ExpectCommit()

		entry, err := service.ApplyAdjustment(context.Background(), "admin1", "user1",
			models.EntryCorrection, decimal.NewFromInt(-250), "Chargeback")

		assert.NoError(t, err)
		// Stored amount is the magnitude; direction lives in the snapshots.
		assert.True(t, entry.Amount.Equal(decimal.NewFromInt(250)))
		assert.True(t, entry.BalanceAfter.Equal(decimal.NewFromInt(-150)))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("negative amounts only for snapshot-signed types", func(t *testing.T) {
		// A negative bonus would write an entry that replays as a credit;
		// recomputing the history would then drift from the stored balance
		// and repair mode would "fix" a consistent account.
		for _, entryType := range []models.EntryType{models.EntryBonus, models.EntryRefund, models.EntryPayout} {
			_, err := service.ApplyAdjustment(context.Background(), "admin1", "user1",
				entryType, decimal.NewFromInt(-250), "")
			assert.ErrorIs(t, err, ErrInvalidAmount)
		}
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects automated entry types", func(t *testing.T) {
		_, err := service.ApplyAdjustment(context.Background(), "admin1", "user1",
			models.EntryDeposit, decimal.NewFromInt(100), "")
		assert.ErrorIs(t, err, ErrInvalidEntryType)
	})

	t.Run("rejects zero amount", func(t *testing.T) {
		_, err := service.ApplyAdjustment(context.Background(), "admin1", "user1",
			models.EntryBonus, decimal.Zero, "")
		assert.ErrorIs(t, err, ErrInvalidAmount)
	})
}

func TestAdjustmentService_CreateAdjustment(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	assert.NoError(t, err)
	defer db.Close()

	service := NewAdjustmentService(db, NewLedgerService(db))

	t.Run("creates entry from valid payload", func(t *testing.T) {
		mock.ExpectBegin()
		expectLockAccount(mock, "6f1c8e0a-0b4a-4a7e-9a51-3f2b8c1d9e77", sqlmock.NewRows(
			[]string{"user_id", "balance", "frozen_balance", "total_deposited", "total_withdrawn", "total_spent", "currency"}).
			AddRow("6f1c8e0a-0b4a-4a7e-9a51-3f2b8c1d9e77", "0", "0", "0", "0", "0", "RUB"))
		expectWrite(mock)
		mock.ExpectCommit()

		body, _ := json.Marshal(map[string]any{
			"userId":      "6f1c8e0a-0b4a-4a7e-9a51-3f2b8c1d9e77",
			"type":        "bonus",
			"amount":      "500",
			"description": "Contest prize",
		})
		r := httptest.NewRequest("POST", "/admin/transactions", bytes.NewBuffer(body))
		r = r.WithContext(context.WithValue(r.Context(), "userID", "admin1"))
		w := httptest.NewRecorder()

		service.CreateAdjustment(w, r)

		assert.Equal(t, http.StatusCreated, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects unsupported type in payload", func(t *testing.T) {
		body, _ := json.Marshal(map[string]any{
			"userId": "6f1c8e0a-0b4a-4a7e-9a51-3f2b8c1d9e77",
			"type":   "deposit",
			"amount": "500",
		})
		r := httptest.NewRequest("POST", "/admin/transactions", bytes.NewBuffer(body))
		r = r.WithContext(context.WithValue(r.Context(), "userID", "admin1"))
		w := httptest.NewRecorder()

		service.CreateAdjustment(w, r)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}
