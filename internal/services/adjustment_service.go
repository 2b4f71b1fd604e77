package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"

	"github.com/shopspring/decimal"
	"github.com/thqlabel/backend/internal/models"
)

// Entry types an administrator may create by hand. This is the only path by
// which an account balance may legitimately go negative, and only through
// correction and adjustment.
var manualEntryTypes = map[models.EntryType]bool{
	models.EntryCorrection: true,
	models.EntryAdjustment: true,
	models.EntryBonus:      true,
	models.EntryRefund:     true,
	models.EntryPayout:     true,
}

// AdjustmentService applies administrative corrections, bonuses, refunds and
// payouts outside of any automated flow. The acting admin is recorded on the
// resulting ledger entry.
type AdjustmentService struct {
	db        *sql.DB
	ledger    *LedgerService
	validator *ValidationHelper
}

func NewAdjustmentService(db *sql.DB, ledger *LedgerService) *AdjustmentService {
	return &AdjustmentService{
		db:        db,
		ledger:    ledger,
		validator: NewValidationHelper(),
	}
}

// ApplyAdjustment credits for a positive amount and debits for a negative one.
// Negative amounts are accepted only for correction and adjustment, the types
// whose replay direction is recovered from the balance snapshots; bonus,
// refund and payout always replay as credits, so a negative one would write an
// entry the reconciliation replay cannot reproduce.
func (s *AdjustmentService) ApplyAdjustment(ctx context.Context, adminID, userID string, entryType models.EntryType, amount decimal.Decimal, description string) (*models.LedgerEntry, error) {
	if !manualEntryTypes[entryType] {
		return nil, fmt.Errorf("%w: %q cannot be created manually", ErrInvalidEntryType, entryType)
	}
	if amount.IsZero() {
		return nil, ErrInvalidAmount
	}
	if amount.IsNegative() && !entryType.AllowsNegativeBalance() {
		return nil, fmt.Errorf("%w: %s amount must be positive", ErrInvalidAmount, entryType)
	}

	if description == "" {
		description = fmt.Sprintf("Manual %s by administrator", entryType)
	}

	ref := EntryRef{
		Description: description,
		AdminID:     adminID,
		Metadata: models.Metadata{
			"manual":      true,
			"created_via": "admin_panel",
		},
	}

	if amount.IsNegative() {
		return s.ledger.Debit(ctx, userID, amount.Neg(), entryType, ref)
	}
	return s.ledger.Credit(ctx, userID, amount, entryType, ref)
}

// AdjustmentRequest is the manual transaction payload
// @Description Manual transaction creation payload
type AdjustmentRequest struct {
	UserID      string          `json:"userId" validate:"required,uuid"`
	Type        string          `json:"type" validate:"required,oneof=correction adjustment bonus refund payout"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description" validate:"max=500"`
}

// CreateAdjustment is the admin entry point for manual transactions
// @Summary Create a manual transaction (admin)
// @Description Apply a correction, adjustment, bonus, refund or payout to a user's account
// @Tags admin
// @Accept json
// @Produce json
// @Param request body AdjustmentRequest true "Manual transaction"
// @Success 201 {object} models.LedgerEntry
// @Failure 400 {object} ErrorResponse
// @Router /admin/transactions [post]
func (s *AdjustmentService) CreateAdjustment(w http.ResponseWriter, r *http.Request) {
	adminID, _ := r.Context().Value("userID").(string)

	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req AdjustmentRequest
	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	entry, err := s.ApplyAdjustment(r.Context(), adminID, req.UserID, models.EntryType(req.Type), req.Amount, req.Description)
	if err != nil {
		WriteLedgerError(w, err, "Failed to create manual transaction")
		return
	}

	log.Printf("[ADJUSTMENT] Admin %s applied %s of %s to user %s", adminID, req.Type, req.Amount, req.UserID)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(entry)
}
