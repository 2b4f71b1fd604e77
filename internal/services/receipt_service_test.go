package services

import (
	"bytes"
	"context"
	"image/png"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-redis/redismock/v8"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/thqlabel/backend/internal/models"
)

func expectEntryLookup(mock sqlmock.Sqlmock, entryID string, rows *sqlmock.Rows) {
	mock.ExpectQuery("SELECT id, user_id, type,(.+)FROM ledger_entries WHERE id = ").
		WithArgs(entryID).
		WillReturnRows(rows)
}

func TestReceiptService_GetReceipt(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	assert.NoError(t, err)
	defer db.Close()

	viper.Set("app.base_url", "https://thqlabel.ru")
	service := NewReceiptService(NewTransactionLogService(db), nil)

	t.Run("owner reads own receipt", func(t *testing.T) {
		rows := sqlmock.NewRows(entryColumns())
		rows = addEntry(rows, "e1", "deposit", "1000.00", "0", "1000.00", time.Now())
		expectEntryLookup(mock, "e1", rows)

		receipt, err := service.GetReceipt(context.Background(), "e1", "user1", models.RoleUser)
		assert.NoError(t, err)
		assert.Equal(t, "e1", receipt.EntryID)
		// The verify URL must point at the mounted route, API prefix included.
		assert.Equal(t, "https://thqlabel.ru/api/v1/receipt/e1", receipt.VerifyURL)
	})

	t.Run("admin reads any receipt", func(t *testing.T) {
		rows := sqlmock.NewRows(entryColumns())
		rows = addEntry(rows, "e1", "deposit", "1000.00", "0", "1000.00", time.Now())
		expectEntryLookup(mock, "e1", rows)

		receipt, err := service.GetReceipt(context.Background(), "e1", "someone-else", models.RoleAdmin)
		assert.NoError(t, err)
		assert.Equal(t, "user1", receipt.UserID)
	})

	t.Run("other users read not found", func(t *testing.T) {
		rows := sqlmock.NewRows(entryColumns())
		rows = addEntry(rows, "e1", "deposit", "1000.00", "0", "1000.00", time.Now())
		expectEntryLookup(mock, "e1", rows)

		_, err := service.GetReceipt(context.Background(), "e1", "intruder", models.RoleUser)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestReceiptService_GetReceiptQR(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	assert.NoError(t, err)
	defer db.Close()

	viper.Set("app.base_url", "https://thqlabel.ru")
	redisClient, redisMock := redismock.NewClientMock()
	service := NewReceiptService(NewTransactionLogService(db), redisClient)

	t.Run("renders a decodable PNG and caches it", func(t *testing.T) {
		rows := sqlmock.NewRows(entryColumns())
		rows = addEntry(rows, "e1", "deposit", "1000.00", "0", "1000.00", time.Now())
		expectEntryLookup(mock, "e1", rows)

		redisMock.ExpectGet("receipt_qr:e1").RedisNil()
		redisMock.Regexp().ExpectSet("receipt_qr:e1", `.*`, 24*time.Hour).SetVal("OK")

		data, err := service.GetReceiptQR(context.Background(), "e1", "user1", models.RoleUser)
		assert.NoError(t, err)

		img, err := png.Decode(bytes.NewReader(data))
		assert.NoError(t, err)
		assert.Equal(t, 256, img.Bounds().Dx())
	})

	t.Run("serves the cached image", func(t *testing.T) {
		rows := sqlmock.NewRows(entryColumns())
		rows = addEntry(rows, "e1", "deposit", "1000.00", "0", "1000.00", time.Now())
		expectEntryLookup(mock, "e1", rows)

		redisMock.ExpectGet("receipt_qr:e1").SetVal("cached-png-bytes")

		data, err := service.GetReceiptQR(context.Background(), "e1", "user1", models.RoleUser)
		assert.NoError(t, err)
		assert.Equal(t, []byte("cached-png-bytes"), data)
	})
}
