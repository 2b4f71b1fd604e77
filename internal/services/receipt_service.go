package services

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"github.com/skip2/go-qrcode"
	"github.com/spf13/viper"
	"github.com/thqlabel/backend/internal/models"
)

// Receipt is the printable view of one completed ledger entry.
type Receipt struct {
	EntryID       string             `json:"entry_id"`
	UserID        string             `json:"user_id"`
	Type          models.EntryType   `json:"type"`
	Amount        decimal.Decimal    `json:"amount"`
	Currency      string             `json:"currency"`
	Status        models.EntryStatus `json:"status"`
	Description   string             `json:"description"`
	PaymentMethod *string            `json:"payment_method,omitempty"`
	ReferenceID   *string            `json:"reference_id,omitempty"`
	IssuedAt      time.Time          `json:"issued_at"`
	VerifyURL     string             `json:"verify_url"`
}

type ReceiptService struct {
	txlog *TransactionLogService
	redis *redis.Client
}

func NewReceiptService(txlog *TransactionLogService, redisClient *redis.Client) *ReceiptService {
	return &ReceiptService{
		txlog: txlog,
		redis: redisClient,
	}
}

// GetReceipt builds a receipt for the entry, enforcing owner-or-admin access.
func (s *ReceiptService) GetReceipt(ctx context.Context, entryID, requesterID, requesterRole string) (*Receipt, error) {
	entry, err := s.txlog.GetEntry(ctx, entryID)
	if err != nil {
		return nil, err
	}
	if entry.UserID != requesterID && !models.IsAdminRole(requesterRole) {
		// Hide existence of other users' entries.
		return nil, ErrNotFound
	}

	return &Receipt{
		EntryID:       entry.ID,
		UserID:        entry.UserID,
		Type:          entry.Type,
		Amount:        entry.Amount,
		Currency:      entry.Currency,
		Status:        entry.Status,
		Description:   entry.Description,
		PaymentMethod: entry.PaymentMethod,
		ReferenceID:   entry.ReferenceID,
		IssuedAt:      entry.CreatedAt,
		VerifyURL:     s.receiptURL(entry.ID),
	}, nil
}

// GetReceiptQR renders a PNG QR code pointing at the receipt's verify URL.
// Rendered images are cached in Redis since entries are immutable.
func (s *ReceiptService) GetReceiptQR(ctx context.Context, entryID, requesterID, requesterRole string) ([]byte, error) {
	// Access check rides on the receipt lookup.
	receipt, err := s.GetReceipt(ctx, entryID, requesterID, requesterRole)
	if err != nil {
		return nil, err
	}

	key := fmt.Sprintf("receipt_qr:%s", receipt.EntryID)
	if s.redis != nil {
		if cached, err := s.redis.Get(ctx, key).Bytes(); err == nil {
			return cached, nil
		}
	}

	png, err := qrcode.Encode(receipt.VerifyURL, qrcode.Medium, 256)
	if err != nil {
		return nil, err
	}

	if s.redis != nil {
		s.redis.Set(ctx, key, png, 24*time.Hour)
	}
	return png, nil
}

func (s *ReceiptService) receiptURL(entryID string) string {
	base := viper.GetString("app.base_url")
	if base == "" {
		base = "http://localhost:8080"
	}
	// The receipt routes are mounted under the API prefix.
	return fmt.Sprintf("%s/api/v1/receipt/%s", base, entryID)
}
