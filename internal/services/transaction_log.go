package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/thqlabel/backend/internal/models"
)

// appendEntryTx writes one immutable ledger entry inside the caller's
// transaction. There is no update or delete counterpart for completed entries.
func appendEntryTx(tx *sql.Tx, e *models.LedgerEntry) error {
	_, err := tx.Exec(`
		INSERT INTO ledger_entries
			(id, user_id, type, amount, currency, balance_before, balance_after,
			 status, description, reference_id, reference_table, admin_id, payment_method, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		e.ID, e.UserID, e.Type, e.Amount, e.Currency, e.BalanceBefore, e.BalanceAfter,
		e.Status, e.Description, e.ReferenceID, e.ReferenceTable, e.AdminID, e.PaymentMethod, e.Metadata, e.CreatedAt)
	return err
}

// EntryFilter narrows a transaction log query. Zero values mean "no filter".
type EntryFilter struct {
	UserID   string
	Type     models.EntryType
	Status   models.EntryStatus
	DateFrom time.Time
	DateTo   time.Time
	Search   string // matched against description and reference_id
	SortBy   string
	SortDesc bool
	Limit    int
	Offset   int
}

var entrySortFields = map[string]bool{
	"created_at": true,
	"amount":     true,
	"type":       true,
	"status":     true,
}

// TransactionLogService is the audit/reporting read side of the ledger.
type TransactionLogService struct {
	db *sql.DB
}

func NewTransactionLogService(db *sql.DB) *TransactionLogService {
	return &TransactionLogService{db: db}
}

// GetEntry fetches a single entry by id.
func (s *TransactionLogService) GetEntry(ctx context.Context, entryID string) (*models.LedgerEntry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, type, amount, currency, balance_before, balance_after,
		       status, description, reference_id, reference_table, admin_id, payment_method, metadata, created_at
		FROM ledger_entries
		WHERE id = $1`, entryID)
	entry, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return entry, err
}

// ListEntries returns a page of entries plus the total match count.
func (s *TransactionLogService) ListEntries(ctx context.Context, f EntryFilter) ([]models.LedgerEntry, int, error) {
	where, args := buildEntryWhere(f)

	var total int
	countQuery := "SELECT COUNT(*) FROM ledger_entries" + where
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	sortField := "created_at"
	if entrySortFields[f.SortBy] {
		sortField = f.SortBy
	}
	direction := "ASC"
	if f.SortDesc {
		direction = "DESC"
	}

	limit := f.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	query := fmt.Sprintf(`
		SELECT id, user_id, type, amount, currency, balance_before, balance_after,
		       status, description, reference_id, reference_table, admin_id, payment_method, metadata, created_at
		FROM ledger_entries%s
		ORDER BY %s %s, id %s
		LIMIT $%d OFFSET $%d`, where, sortField, direction, direction, len(args)+1, len(args)+2)
	args = append(args, limit, f.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	entries := []models.LedgerEntry{}
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, 0, err
		}
		entries = append(entries, *entry)
	}
	return entries, total, rows.Err()
}

// ReplayEntries streams an account's completed entries in insertion order for
// reconciliation.
func (s *TransactionLogService) ReplayEntries(ctx context.Context, userID string) ([]models.LedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, type, amount, currency, balance_before, balance_after,
		       status, description, reference_id, reference_table, admin_id, payment_method, metadata, created_at
		FROM ledger_entries
		WHERE user_id = $1 AND status = $2
		ORDER BY created_at ASC, id ASC`, userID, models.EntryStatusCompleted)
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

func buildEntryWhere(f EntryFilter) (string, []any) {
	conds := []string{}
	args := []any{}

	add := func(cond string, val any) {
		args = append(args, val)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if f.UserID != "" {
		add("user_id = $%d", f.UserID)
	}
	if f.Type != "" {
		add("type = $%d", f.Type)
	}
	if f.Status != "" {
		add("status = $%d", f.Status)
	}
	if !f.DateFrom.IsZero() {
		add("created_at >= $%d", f.DateFrom)
	}
	if !f.DateTo.IsZero() {
		add("created_at <= $%d", f.DateTo)
	}
	if f.Search != "" {
		pattern := "%" + strings.TrimSpace(f.Search) + "%"
		args = append(args, pattern)
		n := len(args)
		conds = append(conds, fmt.Sprintf("(description ILIKE $%d OR reference_id ILIKE $%d OR id::text ILIKE $%d)", n, n, n))
	}

	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

type entryScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row entryScanner) (*models.LedgerEntry, error) {
	var e models.LedgerEntry
	err := row.Scan(&e.ID, &e.UserID, &e.Type, &e.Amount, &e.Currency, &e.BalanceBefore, &e.BalanceAfter,
		&e.Status, &e.Description, &e.ReferenceID, &e.ReferenceTable, &e.AdminID, &e.PaymentMethod, &e.Metadata, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// ListTransactions returns the caller's own transaction history
// @Summary List own transactions
// @Description Get the authenticated user's transaction history with optional type filter
// @Tags transactions
// @Produce json
// @Param type query string false "Filter by entry type"
// @Param limit query int false "Page size (default 50, max 200)"
// @Param offset query int false "Page offset"
// @Success 200 {object} object{transactions=[]models.LedgerEntry,total=int}
// @Failure 401 {object} map[string]string
// @Router /transactions [get]
func (s *TransactionLogService) ListTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	f := parseEntryFilter(r)
	f.UserID = userID
	f.Search = "" // free-text search is an admin reporting feature

	entries, total, err := s.ListEntries(r.Context(), f)
	if err != nil {
		log.Printf("[LEDGER] Failed to list transactions for user %s: %v", userID, err)
		SendErrorResponse(w, "Failed to fetch transactions", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"transactions": entries,
		"total":        total,
	})
}

// GetTransaction retrieves one of the caller's transactions
// @Summary Get transaction by ID
// @Description Retrieve a transaction by its ID; admins may read any user's entries
// @Tags transactions
// @Produce json
// @Param txId path string true "Transaction ID"
// @Success 200 {object} models.LedgerEntry
// @Failure 404 {object} map[string]string
// @Router /transactions/{txId} [get]
func (s *TransactionLogService) GetTransaction(w http.ResponseWriter, r *http.Request) {
	userID, _ := r.Context().Value("userID").(string)
	role, _ := r.Context().Value("userRole").(string)
	entryID := chi.URLParam(r, "txId")

	entry, err := s.GetEntry(r.Context(), entryID)
	if err != nil {
		WriteLedgerError(w, err, "Failed to fetch transaction")
		return
	}

	if entry.UserID != userID && !models.IsAdminRole(role) {
		SendErrorResponse(w, "Access denied", http.StatusForbidden, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(entry)
}

// AdminListTransactions is the paginated, filterable admin reporting read
// @Summary List all transactions (admin)
// @Description Full transaction log with filters, free-text search, sorting and pagination
// @Tags admin
// @Produce json
// @Param type query string false "Filter by entry type"
// @Param status query string false "Filter by status"
// @Param userId query string false "Filter by user ID"
// @Param search query string false "Search in description and reference"
// @Param dateFrom query string false "RFC3339 lower bound"
// @Param dateTo query string false "RFC3339 upper bound"
// @Param sortBy query string false "created_at, amount, type or status"
// @Param sortOrder query string false "asc or desc (default desc)"
// @Param page query int false "Page number (default 1)"
// @Param limit query int false "Page size (default 50)"
// @Success 200 {object} object{transactions=[]models.LedgerEntry,pagination=object}
// @Failure 403 {object} map[string]string
// @Router /admin/transactions [get]
func (s *TransactionLogService) AdminListTransactions(w http.ResponseWriter, r *http.Request) {
	f := parseEntryFilter(r)
	f.UserID = r.URL.Query().Get("userId")
	f.Search = r.URL.Query().Get("search")

	page := 1
	if p, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil && p > 0 {
		page = p
	}
	// Clamp before computing the offset and page count so the pagination
	// metadata describes the page actually returned.
	if f.Limit <= 0 || f.Limit > 200 {
		f.Limit = 50
	}
	f.Offset = (page - 1) * f.Limit

	entries, total, err := s.ListEntries(r.Context(), f)
	if err != nil {
		log.Printf("[LEDGER] Admin transaction listing failed: %v", err)
		SendErrorResponse(w, "Failed to fetch transactions", http.StatusInternalServerError, nil)
		return
	}

	totalPages := total / f.Limit
	if total%f.Limit != 0 {
		totalPages++
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"transactions": entries,
		"pagination": map[string]int{
			"page":       page,
			"limit":      f.Limit,
			"total":      total,
			"totalPages": totalPages,
		},
	})
}

func parseEntryFilter(r *http.Request) EntryFilter {
	q := r.URL.Query()
	f := EntryFilter{
		SortBy:   q.Get("sortBy"),
		SortDesc: q.Get("sortOrder") != "asc",
	}
	if t := models.EntryType(q.Get("type")); t != "" && t.Valid() {
		f.Type = t
	}
	if st := q.Get("status"); st != "" {
		f.Status = models.EntryStatus(st)
	}
	if from, err := time.Parse(time.RFC3339, q.Get("dateFrom")); err == nil {
		f.DateFrom = from
	}
	if to, err := time.Parse(time.RFC3339, q.Get("dateTo")); err == nil {
		f.DateTo = to
	}
	if limit, err := strconv.Atoi(q.Get("limit")); err == nil {
		f.Limit = limit
	}
	if offset, err := strconv.Atoi(q.Get("offset")); err == nil {
		f.Offset = offset
	}
	return f
}
