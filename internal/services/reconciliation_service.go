package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"github.com/thqlabel/backend/internal/models"
)

// DriftFinding reports one account whose stored balance disagrees with the
// balance recomputed from its ledger history.
type DriftFinding struct {
	UserID          string          `json:"user_id"`
	ExpectedBalance decimal.Decimal `json:"expected_balance"`
	StoredBalance   decimal.Decimal `json:"stored_balance"`
	ExpectedFrozen  decimal.Decimal `json:"expected_frozen"`
	StoredFrozen    decimal.Decimal `json:"stored_frozen"`
	EntriesExamined int             `json:"entries_examined"`
	FirstEntryAt    *time.Time      `json:"first_entry_at,omitempty"`
	LastEntryAt     *time.Time      `json:"last_entry_at,omitempty"`
	Repaired        bool            `json:"repaired"`
}

// ReconciliationService is the offline auditor: it replays each account's
// completed entries from zero and compares the result to the stored aggregate.
// It is a consumer of the ledger, never a primary writer; in repair mode the
// single correction it emits goes through the Manual Adjustment Service like
// any other administrative entry.
type ReconciliationService struct {
	db          *sql.DB
	txlog       *TransactionLogService
	adjustments *AdjustmentService
	epsilon     decimal.Decimal
}

func NewReconciliationService(db *sql.DB, txlog *TransactionLogService, adjustments *AdjustmentService) *ReconciliationService {
	viper.SetDefault("reconcile.epsilon", "0.01")
	epsilon, err := decimal.NewFromString(viper.GetString("reconcile.epsilon"))
	if err != nil {
		epsilon = decimal.NewFromFloat(0.01)
	}
	return &ReconciliationService{
		db:          db,
		txlog:       txlog,
		adjustments: adjustments,
		epsilon:     epsilon,
	}
}

// ReconcileAccount replays one account. Returns nil when the account is clean.
func (s *ReconciliationService) ReconcileAccount(ctx context.Context, userID string) (*DriftFinding, error) {
	entries, err := s.txlog.ReplayEntries(ctx, userID)
	if err != nil {
		return nil, err
	}

	expectedBalance := decimal.Zero
	expectedFrozen := decimal.Zero
	for _, e := range entries {
		effect := e.Type.Effect()
		if effect.Signed() {
			// Administrative overrides carry their direction only in the
			// snapshots taken at write time.
			expectedBalance = expectedBalance.Add(e.BalanceAfter.Sub(e.BalanceBefore))
			continue
		}
		if effect.Balance != 0 {
			expectedBalance = expectedBalance.Add(e.Amount.Mul(decimal.NewFromInt(int64(effect.Balance))))
		}
		if effect.Frozen != 0 {
			expectedFrozen = expectedFrozen.Add(e.Amount.Mul(decimal.NewFromInt(int64(effect.Frozen))))
		}
	}

	var storedBalance, storedFrozen decimal.Decimal
	err = s.db.QueryRowContext(ctx,
		`SELECT balance, frozen_balance FROM accounts WHERE user_id = $1`, userID).
		Scan(&storedBalance, &storedFrozen)
	if err == sql.ErrNoRows {
		storedBalance, storedFrozen = decimal.Zero, decimal.Zero
	} else if err != nil {
		return nil, err
	}

	balanceDrift := storedBalance.Sub(expectedBalance).Abs()
	frozenDrift := storedFrozen.Sub(expectedFrozen).Abs()
	if balanceDrift.LessThanOrEqual(s.epsilon) && frozenDrift.LessThanOrEqual(s.epsilon) {
		return nil, nil
	}

	finding := &DriftFinding{
		UserID:          userID,
		ExpectedBalance: expectedBalance,
		StoredBalance:   storedBalance,
		ExpectedFrozen:  expectedFrozen,
		StoredFrozen:    storedFrozen,
		EntriesExamined: len(entries),
	}
	if len(entries) > 0 {
		first := entries[0].CreatedAt
		last := entries[len(entries)-1].CreatedAt
		finding.FirstEntryAt = &first
		finding.LastEntryAt = &last
	}
	return finding, nil
}

// ReconcileAll audits every account. In repair mode each drifted account gets
// one correction entry bringing the stored balance in line; history is never
// edited.
func (s *ReconciliationService) ReconcileAll(ctx context.Context, repair bool, adminID string) ([]DriftFinding, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id FROM accounts ORDER BY user_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	userIDs := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		userIDs = append(userIDs, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	findings := []DriftFinding{}
	for _, userID := range userIDs {
		finding, err := s.ReconcileAccount(ctx, userID)
		if err != nil {
			log.Printf("[RECONCILE] Account %s failed: %v", userID, err)
			continue
		}
		if finding == nil {
			continue
		}

		log.Printf("[RECONCILE] Drift on account %s: stored balance %s, expected %s (%d entries)",
			finding.UserID, finding.StoredBalance, finding.ExpectedBalance, finding.EntriesExamined)

		if repair {
			if finding.ExpectedBalance.Equal(finding.StoredBalance) {
				// A correction entry only moves the spendable balance, so
				// frozen-only drift stays report-only.
				log.Printf("[RECONCILE] Frozen-only drift on account %s, reported without repair", finding.UserID)
			} else if err := s.repair(ctx, finding, adminID); err != nil {
				log.Printf("[RECONCILE] Repair failed for account %s: %v", finding.UserID, err)
			} else {
				finding.Repaired = true
			}
		}
		findings = append(findings, *finding)
	}
	return findings, nil
}

func (s *ReconciliationService) repair(ctx context.Context, finding *DriftFinding, adminID string) error {
	delta := finding.ExpectedBalance.Sub(finding.StoredBalance)
	_, err := s.adjustments.ApplyAdjustment(ctx, adminID, finding.UserID, models.EntryCorrection, delta,
		"Balance correction from ledger reconciliation")
	return err
}

// Run executes the reconciliation loop until ctx is cancelled. Report-only
// unless reconcile.auto_repair is set.
func (s *ReconciliationService) Run(ctx context.Context) {
	viper.SetDefault("reconcile.interval", 6*time.Hour)
	interval := viper.GetDuration("reconcile.interval")
	if interval <= 0 {
		log.Println("[RECONCILE] Background reconciliation disabled")
		return
	}

	autoRepair := viper.GetBool("reconcile.auto_repair")
	adminID := viper.GetString("reconcile.admin_id")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Printf("[RECONCILE] Background reconciliation every %s (auto_repair=%v)", interval, autoRepair)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			findings, err := s.ReconcileAll(ctx, autoRepair, adminID)
			if err != nil {
				log.Printf("[RECONCILE] Run failed: %v", err)
				continue
			}
			if len(findings) == 0 {
				log.Println("[RECONCILE] All accounts clean")
			} else {
				log.Printf("[RECONCILE] %d account(s) drifted", len(findings))
			}
		}
	}
}

// RunReconciliation triggers a reconciliation pass over all accounts
// @Summary Run ledger reconciliation (admin)
// @Description Replay every account's history and report drift; repair=true emits one correction per drifted account
// @Tags admin
// @Produce json
// @Param repair query bool false "Emit corrections for drifted accounts"
// @Success 200 {object} object{findings=[]DriftFinding,clean=bool}
// @Router /admin/reconciliation [post]
func (s *ReconciliationService) RunReconciliation(w http.ResponseWriter, r *http.Request) {
	adminID, _ := r.Context().Value("userID").(string)
	repair := r.URL.Query().Get("repair") == "true"

	findings, err := s.ReconcileAll(r.Context(), repair, adminID)
	if err != nil {
		log.Printf("[RECONCILE] Manual run failed: %v", err)
		SendErrorResponse(w, "Reconciliation failed", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"findings": findings,
		"clean":    len(findings) == 0,
	})
}
