package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"github.com/thqlabel/backend/internal/models"
)

// BalanceService exposes the ledger to its collaborators: the payment-webhook
// collaborator deposits confirmed payments, the release-payment collaborator
// debits purchases, and authenticated users read their balance.
type BalanceService struct {
	db        *sql.DB
	redis     *redis.Client
	ledger    *LedgerService
	validator *ValidationHelper
}

func NewBalanceService(db *sql.DB, redisClient *redis.Client, ledger *LedgerService) *BalanceService {
	return &BalanceService{
		db:        db,
		redis:     redisClient,
		ledger:    ledger,
		validator: NewValidationHelper(),
	}
}

// DepositRequest is the payment-webhook payload
// @Description Confirmed payment notification
type DepositRequest struct {
	UserID            string          `json:"userId" validate:"required,uuid"`
	Amount            decimal.Decimal `json:"amount"`
	Provider          string          `json:"provider" validate:"required,min=2,max=50"`
	ProviderPaymentID string          `json:"providerPaymentId" validate:"required,min=4,max=128"`
	Method            string          `json:"method" validate:"max=50"`
}

// Deposit credits a confirmed payment exactly once. The Redis key is a
// fast-path duplicate check before the transaction begins; the unique index on
// deposit reference ids is the authoritative guard, so a 24-hour-old duplicate
// webhook delivery is rejected even after a Redis restart.
func (s *BalanceService) Deposit(ctx context.Context, req DepositRequest) (*models.LedgerEntry, bool, error) {
	if req.Amount.LessThanOrEqual(decimal.Zero) {
		return nil, false, ErrInvalidAmount
	}

	// Payment ids are only unique within a provider, so the stored reference
	// carries both; the unique index on deposit references then guards the
	// same identity as the Redis key.
	paymentRef := fmt.Sprintf("%s:%s", req.Provider, req.ProviderPaymentID)
	key := "deposit:" + paymentRef
	if s.redis != nil {
		seen, err := s.redis.Exists(ctx, key).Result()
		if err != nil {
			log.Printf("[WEBHOOK] Redis idempotency check failed, relying on database guard: %v", err)
		} else if seen > 0 {
			log.Printf("[WEBHOOK] Duplicate deposit %s ignored (fast path)", req.ProviderPaymentID)
			return nil, true, nil
		}
	}

	method := req.Method
	if method == "" {
		method = req.Provider
	}

	entry, err := s.ledger.Credit(ctx, req.UserID, req.Amount, models.EntryDeposit, EntryRef{
		Description:   fmt.Sprintf("Deposit via %s", req.Provider),
		ReferenceID:   paymentRef,
		PaymentMethod: method,
		Metadata: models.Metadata{
			"provider":            req.Provider,
			"provider_payment_id": req.ProviderPaymentID,
		},
	})
	if err != nil {
		if isUniqueViolation(err) {
			log.Printf("[WEBHOOK] Duplicate deposit %s ignored (database guard)", req.ProviderPaymentID)
			return nil, true, nil
		}
		return nil, false, err
	}

	if s.redis != nil {
		if err := s.redis.Set(ctx, key, entry.ID, 48*time.Hour).Err(); err != nil {
			log.Printf("[WEBHOOK] Failed to record idempotency key: %v", err)
		}
	}
	return entry, false, nil
}

// PurchaseRequest is the release-payment debit payload
// @Description Balance purchase payload
type PurchaseRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	ItemRef     string          `json:"itemRef" validate:"required,min=1,max=128"`
	ItemTable   string          `json:"itemTable" validate:"omitempty,max=64"`
	Description string          `json:"description" validate:"max=500"`
}

// Purchase debits the balance for an item. The caller must block the purchase
// on an insufficient-funds failure.
func (s *BalanceService) Purchase(ctx context.Context, userID string, req PurchaseRequest) (*models.LedgerEntry, error) {
	description := req.Description
	if description == "" {
		description = fmt.Sprintf("Purchase %s", req.ItemRef)
	}
	table := req.ItemTable
	if table == "" {
		table = "releases"
	}
	return s.ledger.Debit(ctx, userID, req.Amount, models.EntryPurchase, EntryRef{
		Description:    description,
		ReferenceID:    req.ItemRef,
		ReferenceTable: table,
		PaymentMethod:  "balance",
	})
}

// GetBalance returns the caller's balance summary
// @Summary Get balance
// @Description Balance, frozen funds and lifetime totals for the authenticated user
// @Tags balance
// @Produce json
// @Success 200 {object} models.BalanceSummary
// @Failure 401 {object} ErrorResponse
// @Router /balance [get]
func (s *BalanceService) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	summary, err := s.ledger.GetBalance(r.Context(), userID)
	if err != nil {
		log.Printf("[LEDGER] Balance fetch failed for user %s: %v", userID, err)
		SendErrorResponse(w, "Failed to fetch balance", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(summary)
}

// HandleDepositWebhook receives confirmed-payment notifications
// @Summary Payment webhook (deposit)
// @Description Credit a user's balance for a provider-confirmed payment; idempotent on providerPaymentId
// @Tags payments
// @Accept json
// @Produce json
// @Param request body DepositRequest true "Confirmed payment"
// @Success 200 {object} object{success=bool,duplicate=bool}
// @Failure 401 {object} ErrorResponse
// @Router /webhooks/deposit [post]
func (s *BalanceService) HandleDepositWebhook(w http.ResponseWriter, r *http.Request) {
	// Provider-specific signature schemes live with the payment collaborator;
	// this internal endpoint trusts a shared token from config.
	token := r.Header.Get("X-Webhook-Token")
	if token == "" || token != viper.GetString("webhook.token") {
		log.Printf("[WEBHOOK] Rejected webhook with bad token from %s", r.RemoteAddr)
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req DepositRequest
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

	entry, duplicate, err := s.Deposit(r.Context(), req)
	if err != nil {
		WriteLedgerError(w, err, "Failed to process deposit")
		return
	}

	resp := map[string]any{"success": true, "duplicate": duplicate}
	if entry != nil {
		resp["transaction_id"] = entry.ID
		resp["balance_after"] = entry.BalanceAfter
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// HandlePurchase debits the balance for a release purchase
// @Summary Pay for an item from balance
// @Description Debit the authenticated user's balance; fails with the available balance echoed when funds are short
// @Tags balance
// @Accept json
// @Produce json
// @Param request body PurchaseRequest true "Purchase"
// @Success 200 {object} object{success=bool,transaction_id=string,balance_after=string}
// @Failure 400 {object} ErrorResponse
// @Router /purchases [post]
func (s *BalanceService) HandlePurchase(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req PurchaseRequest
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

	entry, err := s.Purchase(r.Context(), userID, req)
	if err != nil {
		WriteLedgerError(w, err, "Failed to process purchase")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"success":        true,
		"transaction_id": entry.ID,
		"balance_after":  entry.BalanceAfter,
	})
}
