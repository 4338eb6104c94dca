// Package approval routes signals that have cleared risk checks through
// auto-approve rules, falling back to manual review. Grounded on
// engine/approval.py's ApprovalWorkflow.
package approval

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/moneymoves/engine/internal/audit"
	"github.com/moneymoves/engine/internal/domain"
	"github.com/moneymoves/engine/internal/store"
)

// Default auto-approve thresholds, overridable via the settings table.
const (
	DefaultMaxAutoValue      = 500.0
	DefaultMinAutoConfidence = 0.9
)

// Decision is the outcome of routing a signal through ProcessSignal.
type Decision struct {
	Status   string // "auto_approved" or "pending"
	SignalID int64
	Rule     string // which auto-approve rule fired, empty if pending
}

// Workflow evaluates signals against auto-approve rules and supports
// modifying a still-pending signal before a human decides on it.
type Workflow struct {
	store *store.Store
	audit *audit.Log
	log   zerolog.Logger
}

func New(s *store.Store, auditLog *audit.Log, log zerolog.Logger) *Workflow {
	return &Workflow{store: s, audit: auditLog, log: log.With().Str("component", "approval").Logger()}
}

func (w *Workflow) getSetting(ctx context.Context, key string, fallback float64) float64 {
	var value string
	err := w.store.QueryRow(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err != nil {
		return fallback
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return f
}

// ShouldAutoApprove evaluates a signal against the three auto-approve
// rules: low notional value, high confidence with a confirmed thesis, or a
// REBALANCE source. Any one rule is sufficient.
func (w *Workflow) ShouldAutoApprove(ctx context.Context, sig domain.Signal) (bool, string) {
	maxValue := w.getSetting(ctx, "auto_approve_max_value", DefaultMaxAutoValue)

	var totalValue float64
	err := w.store.QueryRow(ctx, `SELECT total_value FROM portfolio_value ORDER BY date DESC LIMIT 1`).Scan(&totalValue)
	if err == nil {
		tradeValue := totalValue * sig.SizePct
		if tradeValue < maxValue {
			return true, fmt.Sprintf("trade value $%.2f below $%.2f auto-approve threshold", tradeValue, maxValue)
		}
	}

	minConfidence := w.getSetting(ctx, "auto_approve_min_confidence", DefaultMinAutoConfidence)
	if sig.Confidence >= minConfidence && sig.ThesisID != nil {
		var status domain.ThesisStatus
		if err := w.store.QueryRow(ctx, `SELECT status FROM theses WHERE id = ?`, *sig.ThesisID).Scan(&status); err == nil {
			if status == domain.ThesisConfirmed {
				return true, fmt.Sprintf("confidence %.2f with confirmed thesis", sig.Confidence)
			}
		}
	}

	if sig.Source == domain.SourceRebalance {
		return true, "rebalance signal"
	}

	return false, ""
}

// ProcessSignal routes a PENDING signal through auto-approve evaluation,
// transitioning it to APPROVED on a match or leaving it PENDING for manual
// review.
func (w *Workflow) ProcessSignal(ctx context.Context, sig domain.Signal) (Decision, error) {
	if auto, rule := w.ShouldAutoApprove(ctx, sig); auto {
		err := w.store.WithTx(ctx, func(tx *sql.Tx) error {
			now := time.Now().UTC()
			res, err := tx.Exec(`UPDATE signals SET status = ?, decided_at = ? WHERE id = ? AND status = ?`,
				domain.SignalApproved, now.Format(time.RFC3339), sig.ID, domain.SignalPending)
			if err != nil {
				return err
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return domain.NewStateConflictError(fmt.Sprintf("signal %d already processed", sig.ID))
			}
			return w.audit.WriteTx(tx, domain.ActorEngine, "approval", "signal_auto_approved", "signal", sig.ID,
				fmt.Sprintf("%s %s: %s", sig.Action, sig.Symbol, rule))
		})
		if err != nil {
			return Decision{}, err
		}
		return Decision{Status: "auto_approved", SignalID: sig.ID, Rule: rule}, nil
	}

	if err := w.audit.Write(ctx, domain.ActorEngine, "approval", "signal_pending_approval", "signal", &sig.ID,
		fmt.Sprintf("%s %s awaiting manual review", sig.Action, sig.Symbol)); err != nil {
		return Decision{}, err
	}
	return Decision{Status: "pending", SignalID: sig.ID}, nil
}

// ModifySignal changes a PENDING signal's size and/or limit price override
// before it is decided. At least one override must be supplied.
func (w *Workflow) ModifySignal(ctx context.Context, signalID int64, sizeOverride, priceOverride *float64) error {
	var status domain.SignalStatus
	var symbol string
	err := w.store.QueryRow(ctx, `SELECT status, symbol FROM signals WHERE id = ?`, signalID).Scan(&status, &symbol)
	if err == sql.ErrNoRows {
		return domain.NewNotFoundError(fmt.Sprintf("signal %d not found", signalID))
	}
	if err != nil {
		return domain.NewStoreError(err.Error())
	}
	if status != domain.SignalPending {
		return domain.NewStateConflictError(fmt.Sprintf("signal %d is %s, cannot modify", signalID, status))
	}
	if sizeOverride == nil && priceOverride == nil {
		return domain.NewValidationError("no modifications specified")
	}

	detail := fmt.Sprintf("signal %d modified:", signalID)
	return w.store.WithTx(ctx, func(tx *sql.Tx) error {
		if sizeOverride != nil {
			if *sizeOverride < 0 || *sizeOverride > 1 {
				return domain.NewValidationError("size_pct must be within [0,1]")
			}
			if _, err := tx.Exec(`UPDATE signals SET size_pct = ? WHERE id = ?`, *sizeOverride, signalID); err != nil {
				return err
			}
			detail += fmt.Sprintf(" size_pct=%.4f", *sizeOverride)
		}
		if priceOverride != nil {
			plan := fmt.Sprintf(`{"limit_price": %.4f}`, *priceOverride)
			if _, err := tx.Exec(`UPDATE signals SET funding_plan = ? WHERE id = ?`, plan, signalID); err != nil {
				return err
			}
			detail += fmt.Sprintf(" limit_price=%.4f", *priceOverride)
		}
		return w.audit.WriteTx(tx, domain.ActorUser, "approval", "signal_modified", "signal", signalID, detail)
	})
}
