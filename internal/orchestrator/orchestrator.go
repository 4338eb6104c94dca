// Package orchestrator wires a signal's risk check, approval routing, and
// broker execution into a single pipeline, and runs the engine's startup
// diagnostics. Grounded on the core engine loop implied by
// original_source's test suite (risk -> approval -> execution) and on
// the teacher's SystemHandlers health snippet for the gopsutil reading.
package orchestrator

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/moneymoves/engine/internal/approval"
	"github.com/moneymoves/engine/internal/audit"
	"github.com/moneymoves/engine/internal/broker"
	"github.com/moneymoves/engine/internal/domain"
	"github.com/moneymoves/engine/internal/pricing"
	"github.com/moneymoves/engine/internal/risk"
	"github.com/moneymoves/engine/internal/signal"
	"github.com/moneymoves/engine/internal/store"
)

// Outcome describes what ProcessSignal did with a signal.
type Outcome struct {
	SignalID int64
	Status   domain.SignalStatus
	Reason   string
}

// Engine drives a signal from PENDING through risk check, approval, and
// (when auto-approved) broker execution.
type Engine struct {
	store    *store.Store
	broker   broker.Broker
	pricing  *pricing.Service
	risk     *risk.Manager
	approval *approval.Workflow
	signal   *signal.Engine
	audit    *audit.Log
	log      zerolog.Logger
}

func New(s *store.Store, b broker.Broker, p *pricing.Service, r *risk.Manager, a *approval.Workflow, sig *signal.Engine, auditLog *audit.Log, log zerolog.Logger) *Engine {
	return &Engine{store: s, broker: b, pricing: p, risk: r, approval: a, signal: sig, audit: auditLog, log: log.With().Str("component", "orchestrator").Logger()}
}

// ProcessSignal runs the full pipeline for one PENDING signal: risk check
// (cancel + risk_blocked reason on failure), approval routing, and
// immediate broker execution when auto-approved.
func (e *Engine) ProcessSignal(ctx context.Context, signalID int64) (Outcome, error) {
	sig, err := e.signal.Get(ctx, signalID)
	if err != nil {
		return Outcome{}, err
	}
	if sig.Status != domain.SignalPending {
		return Outcome{}, domain.NewStateConflictError(fmt.Sprintf("signal %d is %s, not PENDING", signalID, sig.Status))
	}

	nav, price, err := e.navAndPrice(ctx, sig.Symbol)
	if err != nil {
		return Outcome{}, err
	}

	check, err := e.risk.PreTradeCheck(ctx, risk.PreTradeCheckInput{
		Symbol: sig.Symbol, Action: sig.Action, SizePct: sig.SizePct, NAV: nav, Price: price,
	})
	if err != nil {
		return Outcome{}, err
	}
	if !check.Passed {
		if err := e.signal.Transition(ctx, signalID, domain.SignalPending, domain.SignalCancelled, "risk_blocked: "+check.Reason); err != nil {
			return Outcome{}, err
		}
		return Outcome{SignalID: signalID, Status: domain.SignalCancelled, Reason: "risk_blocked: " + check.Reason}, nil
	}

	decision, err := e.approval.ProcessSignal(ctx, sig)
	if err != nil {
		return Outcome{}, err
	}
	if decision.Status != "auto_approved" {
		return Outcome{SignalID: signalID, Status: domain.SignalPending, Reason: "awaiting manual review"}, nil
	}

	if err := e.execute(ctx, signalID, sig, price); err != nil {
		return Outcome{}, err
	}
	return Outcome{SignalID: signalID, Status: domain.SignalExecuted, Reason: decision.Rule}, nil
}

// navAndPrice fetches the latest portfolio NAV and the symbol's current
// price, both needed by the risk gates.
func (e *Engine) navAndPrice(ctx context.Context, symbol string) (float64, float64, error) {
	var nav float64
	err := e.store.QueryRow(ctx, `SELECT total_value FROM portfolio_value ORDER BY date DESC LIMIT 1`).Scan(&nav)
	if err != nil && err != sql.ErrNoRows {
		return 0, 0, domain.NewStoreError(err.Error())
	}

	result, err := e.pricing.GetPrice(ctx, symbol)
	if err != nil || result.Err != nil {
		return nav, 0, domain.NewUpstreamError(fmt.Sprintf("price unavailable for %s", symbol))
	}
	return nav, result.Price, nil
}

// execute places the order through the broker and marks the signal EXECUTED.
func (e *Engine) execute(ctx context.Context, signalID int64, sig domain.Signal, price float64) error {
	nav, _, err := e.navAndPrice(ctx, sig.Symbol)
	if err != nil {
		return err
	}
	if nav == 0 || price == 0 {
		return domain.NewValidationError("cannot size order: NAV or price is zero")
	}
	shares := (nav * sig.SizePct) / price

	orderType := domain.OrderMarket
	var limitPrice *float64
	if sig.FundingPlan != "" {
		var plan struct {
			LimitPrice float64 `json:"limit_price"`
		}
		if err := json.Unmarshal([]byte(sig.FundingPlan), &plan); err == nil && plan.LimitPrice > 0 {
			orderType = domain.OrderLimit
			limitPrice = &plan.LimitPrice
		}
	}

	order := domain.Order{
		SignalID:   &signalID,
		Symbol:     sig.Symbol,
		Action:     sig.Action,
		Shares:     shares,
		Type:       orderType,
		LimitPrice: limitPrice,
		Status:     domain.OrderPending,
		CreatedAt:  time.Now().UTC(),
	}

	result, err := e.broker.PlaceOrder(ctx, order)
	if err != nil {
		return domain.NewBrokerError(err.Error())
	}

	return e.store.WithTx(ctx, func(tx *sql.Tx) error {
		now := time.Now().UTC()
		_, err := tx.Exec(
			`INSERT INTO orders (signal_id, symbol, action, shares, type, limit_price, status, filled_price, filled_shares, message, created_at)
			 VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
			signalID, sig.Symbol, sig.Action, shares, orderType, limitPrice, result.Status,
			result.FilledPrice, result.FilledShares, result.Message, now.Format(time.RFC3339))
		if err != nil {
			return err
		}

		res, err := tx.Exec(`UPDATE signals SET status = ?, decided_at = ? WHERE id = ? AND status = ?`,
			domain.SignalExecuted, now.Format(time.RFC3339), signalID, domain.SignalApproved)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return domain.NewStateConflictError(fmt.Sprintf("signal %d changed status during execution", signalID))
		}

		return e.audit.WriteTx(tx, domain.ActorEngine, "orchestrator", "signal_executed", "signal", signalID,
			fmt.Sprintf("%s %.4f %s @ %s order, broker status %s", sig.Action, shares, sig.Symbol, orderType, result.Status))
	})
}

// StartupReport summarizes the engine's readiness to operate.
type StartupReport struct {
	StoreOK          bool
	BrokerOK         bool
	BrokerWarning    string
	RiskLimitsPresent bool
	KillSwitchActive bool
	PendingSignals   int
	Health           SystemHealth
}

// SystemHealth is a point-in-time CPU/memory reading, purely informational.
type SystemHealth struct {
	CPUPercent    float64
	MemoryPercent float64
}

// Startup runs readiness checks: store connectivity is fatal, broker
// reachability is a warning only, and a CPU/memory snapshot is attached
// for observability. It never blocks startup on its own account.
func (e *Engine) Startup(ctx context.Context) (StartupReport, error) {
	var report StartupReport

	if err := e.store.Conn().PingContext(ctx); err != nil {
		return report, fmt.Errorf("store connectivity check failed: %w", err)
	}
	report.StoreOK = true

	if _, err := e.broker.GetAccountBalance(ctx); err != nil {
		report.BrokerWarning = err.Error()
	} else {
		report.BrokerOK = true
	}

	if _, err := e.risk.Limits(ctx); err == nil {
		report.RiskLimitsPresent = true
	}

	ks, err := e.risk.KillSwitchState(ctx)
	if err == nil {
		report.KillSwitchActive = ks.Active
	}

	var pending int
	_ = e.store.QueryRow(ctx, `SELECT COUNT(*) FROM signals WHERE status = ?`, domain.SignalPending).Scan(&pending)
	report.PendingSignals = pending

	report.Health = readSystemHealth(e.log)
	return report, nil
}

func readSystemHealth(log zerolog.Logger) SystemHealth {
	var health SystemHealth
	if percents, err := cpu.Percent(100*time.Millisecond, false); err == nil && len(percents) > 0 {
		health.CPUPercent = percents[0]
	} else if err != nil {
		log.Warn().Err(err).Msg("cpu reading unavailable")
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		health.MemoryPercent = vm.UsedPercent
	} else {
		log.Warn().Err(err).Msg("memory reading unavailable")
	}
	return health
}
