package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"github.com/thqlabel/backend/internal/audit"
	"github.com/thqlabel/backend/internal/models"
)

// WithdrawalService drives the payout request lifecycle:
// pending -> approved -> completed, pending -> rejected, pending -> cancelled
// (user-initiated). Every transition commits its request update and the
// matching ledger movement in one transaction.
type WithdrawalService struct {
	db        *sql.DB
	ledger    *LedgerService
	audit     *audit.Logger
	validator *ValidationHelper
	minAmount decimal.Decimal
}

func NewWithdrawalService(db *sql.DB, ledger *LedgerService) *WithdrawalService {
	viper.SetDefault("withdrawal.min_amount", "1000")
	minAmount, err := decimal.NewFromString(viper.GetString("withdrawal.min_amount"))
	if err != nil {
		log.Printf("[WITHDRAWAL] Invalid withdrawal.min_amount, falling back to 1000: %v", err)
		minAmount = decimal.NewFromInt(1000)
	}
	return &WithdrawalService{
		db:        db,
		ledger:    ledger,
		audit:     audit.NewLogger(),
		validator: NewValidationHelper(),
		minAmount: minAmount,
	}
}

// WithdrawalCreateRequest is the payout request payload
// @Description Withdrawal request creation payload
type WithdrawalCreateRequest struct {
	Amount         decimal.Decimal `json:"amount"`
	Method         string          `json:"method" validate:"omitempty,oneof=card sbp bank"`
	BankName       string          `json:"bankName" validate:"required,min=2,max=100"`
	CardNumber     string          `json:"cardNumber" validate:"required,min=4,max=34"`
	RecipientName  string          `json:"recipientName" validate:"required,min=2,max=150"`
	AdditionalInfo string          `json:"additionalInfo" validate:"max=500"`
}

// Request freezes the funds and creates the pending payout request in one
// transaction; the request references the freeze entry it caused.
func (s *WithdrawalService) Request(ctx context.Context, userID string, req WithdrawalCreateRequest) (*models.WithdrawalRequest, error) {
	if req.Amount.LessThanOrEqual(decimal.Zero) {
		return nil, ErrInvalidAmount
	}
	if req.Amount.LessThan(s.minAmount) {
		return nil, fmt.Errorf("%w: minimum is %s", ErrBelowMinimum, s.minAmount)
	}

	method := req.Method
	if method == "" {
		method = "card"
	}

	withdrawal := &models.WithdrawalRequest{
		ID:            uuid.NewString(),
		UserID:        userID,
		Amount:        req.Amount,
		Method:        method,
		BankName:      strings.TrimSpace(req.BankName),
		CardNumber:    strings.TrimSpace(req.CardNumber),
		RecipientName: strings.TrimSpace(req.RecipientName),
		Status:        models.WithdrawalPending,
		CreatedAt:     time.Now().UTC(),
	}
	if info := strings.TrimSpace(req.AdditionalInfo); info != "" {
		withdrawal.AdditionalInfo = &info
	}

	err := s.ledger.RunInTransaction(ctx, func(tx *sql.Tx) error {
		entry, err := s.ledger.FreezeTx(tx, userID, req.Amount, EntryRef{
			Description:    fmt.Sprintf("Funds frozen for withdrawal #%s", shortID(withdrawal.ID)),
			ReferenceID:    withdrawal.ID,
			ReferenceTable: "withdrawal_requests",
			PaymentMethod:  fmt.Sprintf("%s (%s)", withdrawal.BankName, withdrawal.MaskedCard()),
			Metadata: models.Metadata{
				"withdrawal_id": withdrawal.ID,
				"bank_name":     withdrawal.BankName,
				"card_masked":   withdrawal.MaskedCard(),
			},
		})
		if err != nil {
			return err
		}
		withdrawal.FreezeEntryID = &entry.ID
		withdrawal.Currency = entry.Currency

		_, err = tx.Exec(`
			INSERT INTO withdrawal_requests
				(id, user_id, amount, currency, method, bank_name, card_number, recipient_name,
				 additional_info, status, freeze_entry_id, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
			withdrawal.ID, withdrawal.UserID, withdrawal.Amount, withdrawal.Currency,
			withdrawal.Method, withdrawal.BankName, withdrawal.CardNumber, withdrawal.RecipientName,
			withdrawal.AdditionalInfo, withdrawal.Status, withdrawal.FreezeEntryID, withdrawal.CreatedAt)
		return err
	})
	if err != nil {
		s.audit.LogError("WITHDRAWAL_REQUEST", userID, err)
		return nil, err
	}

	s.audit.LogTransition(withdrawal.ID, userID, "", "", string(models.WithdrawalPending))
	log.Printf("[WITHDRAWAL] Request %s created for user %s, amount %s", withdrawal.ID, userID, req.Amount)
	return withdrawal, nil
}

// Approve marks a pending request as approved. A human checkpoint only; no
// funds move.
func (s *WithdrawalService) Approve(ctx context.Context, requestID, adminID, comment string) (*models.WithdrawalRequest, error) {
	return s.transition(ctx, requestID, models.WithdrawalApproved, adminID, comment, "")
}

// Reject returns the frozen funds to the balance. Allowed from pending and
// approved.
func (s *WithdrawalService) Reject(ctx context.Context, requestID, adminID, comment string) (*models.WithdrawalRequest, error) {
	return s.transition(ctx, requestID, models.WithdrawalRejected, adminID, comment, "")
}

// Complete settles the payout: the frozen funds leave the system. Allowed from
// approved, and from pending for fast-track payouts.
func (s *WithdrawalService) Complete(ctx context.Context, requestID, adminID, comment string) (*models.WithdrawalRequest, error) {
	return s.transition(ctx, requestID, models.WithdrawalCompleted, adminID, comment, "")
}

// Cancel is the user-initiated abort, allowed only while pending and only by
// the requesting user.
func (s *WithdrawalService) Cancel(ctx context.Context, requestID, userID string) (*models.WithdrawalRequest, error) {
	return s.transition(ctx, requestID, models.WithdrawalCancelled, "", "", userID)
}

// transition performs one state machine edge. requireUserID restricts the
// transition to the request owner (cancel); admin transitions pass adminID.
func (s *WithdrawalService) transition(ctx context.Context, requestID string, target models.WithdrawalStatus, adminID, comment, requireUserID string) (*models.WithdrawalRequest, error) {
	var withdrawal *models.WithdrawalRequest

	err := s.ledger.RunInTransaction(ctx, func(tx *sql.Tx) error {
		w, err := lockWithdrawal(tx, requestID)
		if err != nil {
			return err
		}

		if requireUserID != "" && w.UserID != requireUserID {
			return ErrNotFound // do not reveal other users' requests
		}

		if !w.Status.CanTransition(target) {
			if w.Status.Terminal() {
				return ErrAlreadyTerminal
			}
			return ErrInvalidState
		}

		ref := EntryRef{
			ReferenceID:    w.ID,
			ReferenceTable: "withdrawal_requests",
			AdminID:        adminID,
			Metadata: models.Metadata{
				"withdrawal_id": w.ID,
				"status":        string(target),
			},
		}

		switch target {
		case models.WithdrawalRejected:
			ref.Description = fmt.Sprintf("Funds returned, withdrawal #%s rejected", shortID(w.ID))
			if comment != "" {
				ref.Description += ": " + comment
			}
			if _, err := s.ledger.ReleaseTx(tx, w.UserID, w.Amount, ref); err != nil {
				return err
			}
		case models.WithdrawalCancelled:
			ref.Description = fmt.Sprintf("Funds returned, withdrawal #%s cancelled by user", shortID(w.ID))
			ref.Metadata["cancelled_by_user"] = true
			if _, err := s.ledger.ReleaseTx(tx, w.UserID, w.Amount, ref); err != nil {
				return err
			}
		case models.WithdrawalCompleted:
			ref.Description = fmt.Sprintf("Withdrawal #%s paid out: %s %s", shortID(w.ID), w.Amount, w.Currency)
			if _, err := s.ledger.ConsumeFrozenTx(tx, w.UserID, w.Amount, ref); err != nil {
				return err
			}
		case models.WithdrawalApproved:
			// Human checkpoint only, no balance change.
		}

		now := time.Now().UTC()
		var commentPtr *string
		if comment != "" {
			commentPtr = &comment
		}
		_, err = tx.Exec(`
			UPDATE withdrawal_requests
			SET status = $1, admin_comment = COALESCE($2, admin_comment), processed_at = $3
			WHERE id = $4`,
			target, commentPtr, now, w.ID)
		if err != nil {
			return err
		}

		w.Status = target
		if commentPtr != nil {
			w.AdminComment = commentPtr
		}
		w.ProcessedAt = &now
		withdrawal = w
		return nil
	})
	if err != nil {
		s.audit.LogError("WITHDRAWAL_"+strings.ToUpper(string(target)), requestID, err)
		return nil, err
	}

	s.audit.LogTransition(withdrawal.ID, withdrawal.UserID, adminID, "", string(target))
	log.Printf("[WITHDRAWAL] Request %s -> %s", withdrawal.ID, target)
	return withdrawal, nil
}

// Get fetches a request; non-admins only see their own.
func (s *WithdrawalService) Get(ctx context.Context, requestID, callerID string, isAdmin bool) (*models.WithdrawalRequest, error) {
	row := s.db.QueryRowContext(ctx, withdrawalSelect+` WHERE id = $1`, requestID)
	w, err := scanWithdrawal(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if !isAdmin && w.UserID != callerID {
		return nil, ErrNotFound
	}
	return w, nil
}

// List returns requests, optionally narrowed to one user and/or status.
func (s *WithdrawalService) List(ctx context.Context, userID string, status models.WithdrawalStatus, limit, offset int) ([]models.WithdrawalRequest, error) {
	conds := []string{}
	args := []any{}
	if userID != "" {
		args = append(args, userID)
		conds = append(conds, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if status != "" {
		args = append(args, status)
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	query := withdrawalSelect
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	requests := []models.WithdrawalRequest{}
	for rows.Next() {
		w, err := scanWithdrawal(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, *w)
	}
	return requests, rows.Err()
}

const withdrawalSelect = `
	SELECT id, user_id, amount, currency, method, bank_name, card_number, recipient_name,
	       additional_info, status, admin_comment, freeze_entry_id, created_at, processed_at
	FROM withdrawal_requests`

func lockWithdrawal(tx *sql.Tx, requestID string) (*models.WithdrawalRequest, error) {
	row := tx.QueryRow(withdrawalSelect+` WHERE id = $1 FOR UPDATE`, requestID)
	w, err := scanWithdrawal(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return w, err
}

func scanWithdrawal(row entryScanner) (*models.WithdrawalRequest, error) {
	var w models.WithdrawalRequest
	err := row.Scan(&w.ID, &w.UserID, &w.Amount, &w.Currency, &w.Method, &w.BankName, &w.CardNumber,
		&w.RecipientName, &w.AdditionalInfo, &w.Status, &w.AdminComment, &w.FreezeEntryID,
		&w.CreatedAt, &w.ProcessedAt)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// CreateWithdrawal handles a user's payout request
// @Summary Request a withdrawal
// @Description Freeze funds and create a pending withdrawal request
// @Tags withdrawals
// @Accept json
// @Produce json
// @Param request body WithdrawalCreateRequest true "Withdrawal request"
// @Success 201 {object} models.WithdrawalRequest
// @Failure 400 {object} ErrorResponse
// @Router /withdrawals [post]
func (s *WithdrawalService) CreateWithdrawal(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req WithdrawalCreateRequest
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

	withdrawal, err := s.Request(r.Context(), userID, req)
	if err != nil {
		WriteLedgerError(w, err, "Failed to create withdrawal request")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(withdrawal)
}

// ListWithdrawals returns the caller's own requests (admins see all)
// @Summary List withdrawal requests
// @Tags withdrawals
// @Produce json
// @Param status query string false "Filter by status"
// @Param limit query int false "Page size"
// @Param offset query int false "Page offset"
// @Success 200 {object} object{withdrawals=[]models.WithdrawalRequest}
// @Router /withdrawals [get]
func (s *WithdrawalService) ListWithdrawals(w http.ResponseWriter, r *http.Request) {
	userID, _ := r.Context().Value("userID").(string)
	role, _ := r.Context().Value("userRole").(string)

	filterUser := userID
	if models.IsAdminRole(role) {
		filterUser = r.URL.Query().Get("userId")
	}

	limit, offset := 50, 0
	if l := r.URL.Query().Get("limit"); l != "" {
		fmt.Sscanf(l, "%d", &limit)
	}
	if o := r.URL.Query().Get("offset"); o != "" {
		fmt.Sscanf(o, "%d", &offset)
	}

	requests, err := s.List(r.Context(), filterUser, models.WithdrawalStatus(r.URL.Query().Get("status")), limit, offset)
	if err != nil {
		log.Printf("[WITHDRAWAL] Listing failed: %v", err)
		SendErrorResponse(w, "Failed to fetch withdrawal requests", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"withdrawals": requests})
}

// GetWithdrawal returns one request with its related ledger entries
// @Summary Get withdrawal request
// @Tags withdrawals
// @Produce json
// @Param id path string true "Request ID"
// @Success 200 {object} object{withdrawal=models.WithdrawalRequest,transactions=[]models.LedgerEntry}
// @Failure 404 {object} ErrorResponse
// @Router /withdrawals/{id} [get]
func (s *WithdrawalService) GetWithdrawal(w http.ResponseWriter, r *http.Request) {
	userID, _ := r.Context().Value("userID").(string)
	role, _ := r.Context().Value("userRole").(string)
	requestID := chi.URLParam(r, "id")

	withdrawal, err := s.Get(r.Context(), requestID, userID, models.IsAdminRole(role))
	if err != nil {
		WriteLedgerError(w, err, "Failed to fetch withdrawal request")
		return
	}

	entries, err := s.relatedEntries(r.Context(), withdrawal.ID)
	if err != nil {
		log.Printf("[WITHDRAWAL] Related entries fetch failed for %s: %v", withdrawal.ID, err)
		entries = []models.LedgerEntry{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"withdrawal":   withdrawal,
		"transactions": entries,
	})
}

// UpdateWithdrawal is the admin transition endpoint
// @Summary Approve, reject or complete a withdrawal (admin)
// @Tags admin
// @Accept json
// @Produce json
// @Param id path string true "Request ID"
// @Param request body object{status=string,adminComment=string} true "Target status"
// @Success 200 {object} models.WithdrawalRequest
// @Failure 409 {object} ErrorResponse
// @Router /withdrawals/{id} [patch]
func (s *WithdrawalService) UpdateWithdrawal(w http.ResponseWriter, r *http.Request) {
	adminID, _ := r.Context().Value("userID").(string)
	requestID := chi.URLParam(r, "id")

	var req struct {
		Status       string `json:"status" validate:"required,oneof=approved rejected completed"`
		AdminComment string `json:"adminComment" validate:"max=500"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	var withdrawal *models.WithdrawalRequest
	var err error
	switch models.WithdrawalStatus(req.Status) {
	case models.WithdrawalApproved:
		withdrawal, err = s.Approve(r.Context(), requestID, adminID, req.AdminComment)
	case models.WithdrawalRejected:
		withdrawal, err = s.Reject(r.Context(), requestID, adminID, req.AdminComment)
	case models.WithdrawalCompleted:
		withdrawal, err = s.Complete(r.Context(), requestID, adminID, req.AdminComment)
	}
	if err != nil {
		WriteLedgerError(w, err, "Failed to update withdrawal request")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(withdrawal)
}

// CancelWithdrawal is the user-facing abort of a pending request
// @Summary Cancel a pending withdrawal
// @Tags withdrawals
// @Produce json
// @Param id path string true "Request ID"
// @Success 200 {object} models.WithdrawalRequest
// @Failure 409 {object} ErrorResponse
// @Router /withdrawals/{id} [delete]
func (s *WithdrawalService) CancelWithdrawal(w http.ResponseWriter, r *http.Request) {
	userID, _ := r.Context().Value("userID").(string)
	requestID := chi.URLParam(r, "id")

	withdrawal, err := s.Cancel(r.Context(), requestID, userID)
	if err != nil {
		WriteLedgerError(w, err, "Failed to cancel withdrawal request")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(withdrawal)
}

func (s *WithdrawalService) relatedEntries(ctx context.Context, withdrawalID string) ([]models.LedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, type, amount, currency, balance_before, balance_after,
		       status, description, reference_id, reference_table, admin_id, payment_method, metadata, created_at
		FROM ledger_entries
		WHERE reference_id = $1 AND reference_table = 'withdrawal_requests'
		ORDER BY created_at ASC`, withdrawalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []models.LedgerEntry{}
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
	return entries, rows.Err()
}
