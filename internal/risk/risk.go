// Package risk implements the pre-trade 8-gate check, exposure and
// drawdown computation, and the kill switch. Gate order and short-circuit
// semantics are grounded directly on original_source's test_risk.py
// assertions (kill switch first, exact exposure/drawdown arithmetic).
package risk

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/moneymoves/engine/internal/audit"
	"github.com/moneymoves/engine/internal/domain"
	"github.com/moneymoves/engine/internal/earnings"
	"github.com/moneymoves/engine/internal/store"
	"github.com/moneymoves/engine/internal/tradingwindow"
	"github.com/moneymoves/engine/pkg/formulas"
)

// GateResult is the outcome of one gate check.
type GateResult struct {
	Gate   string
	Passed bool
	Reason string
}

// CheckResult is the outcome of a full PreTradeCheck.
type CheckResult struct {
	Passed bool
	Gates  []GateResult
	Reason string // the first failing gate's reason, empty if passed
}

// Exposure holds a point-in-time exposure computation.
type Exposure struct {
	LongValue  float64
	ShortValue float64
	GrossValue float64
	NetValue   float64
}

// Manager is the pre-trade risk gate + exposure/drawdown/kill-switch engine.
type Manager struct {
	store   *store.Store
	audit   *audit.Log
	windows *tradingwindow.Manager
	earn    *earnings.Calendar
	sectors SectorLookup
	earningsWindowDays int
	log     zerolog.Logger
}

// SectorLookup resolves a symbol to its sector, used for the
// sector-concentration gate.
type SectorLookup interface {
	SectorOf(symbol string) string
}

func New(s *store.Store, auditLog *audit.Log, windows *tradingwindow.Manager, earn *earnings.Calendar, sectors SectorLookup, earningsWindowDays int, log zerolog.Logger) *Manager {
	return &Manager{store: s, audit: auditLog, windows: windows, earn: earn, sectors: sectors, earningsWindowDays: earningsWindowDays, log: log.With().Str("component", "risk").Logger()}
}

// Limits returns the single configured risk_limits row.
func (m *Manager) Limits(ctx context.Context) (domain.RiskLimit, error) {
	var r domain.RiskLimit
	err := m.store.QueryRow(ctx, `SELECT id, max_position_pct, max_sector_pct, max_gross_exposure, net_exposure_min, net_exposure_max, max_drawdown, daily_loss_limit FROM risk_limits ORDER BY id DESC LIMIT 1`).
		Scan(&r.ID, &r.MaxPositionPct, &r.MaxSectorPct, &r.MaxGrossExposure, &r.NetExposureMin, &r.NetExposureMax, &r.MaxDrawdown, &r.DailyLossLimit)
	if err == sql.ErrNoRows {
		return domain.RiskLimit{}, domain.NewNotFoundError("risk limits not configured")
	}
	if err != nil {
		return domain.RiskLimit{}, domain.NewStoreError(err.Error())
	}
	return r, nil
}

// KillSwitchState returns the current kill switch row.
func (m *Manager) KillSwitchState(ctx context.Context) (domain.KillSwitch, error) {
	var k domain.KillSwitch
	var active int
	var activatedAt sql.NullString
	err := m.store.QueryRow(ctx, `SELECT id, active, reason, activated_by, activated_at FROM kill_switch WHERE id = 1`).
		Scan(&k.ID, &active, &k.Reason, &k.ActivatedBy, &activatedAt)
	if err == sql.ErrNoRows {
		return domain.KillSwitch{ID: 1, Active: false}, nil
	}
	if err != nil {
		return domain.KillSwitch{}, domain.NewStoreError(err.Error())
	}
	k.Active = active == 1
	if activatedAt.Valid {
		t, _ := time.Parse(time.RFC3339, activatedAt.String)
		k.ActivatedAt = &t
	}
	return k, nil
}

// ActivateKillSwitch halts all trading.
func (m *Manager) ActivateKillSwitch(ctx context.Context, reason, actor string) error {
	now := time.Now().UTC()
	_, err := m.store.Exec(ctx,
		`INSERT INTO kill_switch (id, active, reason, activated_by, activated_at) VALUES (1,1,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET active=1, reason=excluded.reason, activated_by=excluded.activated_by, activated_at=excluded.activated_at`,
		reason, actor, now.Format(time.RFC3339))
	if err != nil {
		return domain.NewStoreError(err.Error())
	}
	return m.audit.Write(ctx, domain.ActorUser, actor, "kill_switch_activated", "kill_switch", nil, reason)
}

// DeactivateKillSwitch resumes trading.
func (m *Manager) DeactivateKillSwitch(ctx context.Context, actor string) error {
	_, err := m.store.Exec(ctx,
		`INSERT INTO kill_switch (id, active, reason, activated_by, activated_at) VALUES (1,0,'','', NULL)
		 ON CONFLICT(id) DO UPDATE SET active=0, reason='', activated_by='', activated_at=NULL`)
	if err != nil {
		return domain.NewStoreError(err.Error())
	}
	return m.audit.Write(ctx, domain.ActorUser, actor, "kill_switch_deactivated", "kill_switch", nil, "")
}

// CalculateExposure computes long/short/gross/net dollar exposure across
// all positions, valued at avg_cost (positions lack a live quote in the
// risk manager's own scope, so exposure is never marked to market).
func (m *Manager) CalculateExposure(ctx context.Context) (Exposure, error) {
	rows, err := m.store.Query(ctx, `SELECT side, shares, avg_cost FROM positions WHERE shares != 0`)
	if err != nil {
		return Exposure{}, domain.NewStoreError(err.Error())
	}
	defer rows.Close()

	var exp Exposure
	for rows.Next() {
		var side domain.PositionSide
		var shares, avgCost float64
		if err := rows.Scan(&side, &shares, &avgCost); err != nil {
			return Exposure{}, domain.NewStoreError(err.Error())
		}
		value := shares * avgCost
		if side == domain.PositionShort {
			exp.ShortValue += value
		} else {
			exp.LongValue += value
		}
	}
	exp.GrossValue = exp.LongValue + exp.ShortValue
	exp.NetValue = exp.LongValue - exp.ShortValue
	return exp, nil
}

// PersistExposureSnapshot computes current exposure and appends it as a
// new dated row; earlier snapshots from the same day are kept.
func (m *Manager) PersistExposureSnapshot(ctx context.Context) error {
	exp, err := m.CalculateExposure(ctx)
	if err != nil {
		return err
	}
	today := time.Now().UTC().Format("2006-01-02")
	_, err = m.store.Exec(ctx,
		`INSERT INTO exposure_snapshots (date, long_value, short_value, gross_value, net_value) VALUES (?,?,?,?,?)`,
		today, exp.LongValue, exp.ShortValue, exp.GrossValue, exp.NetValue)
	if err != nil {
		return domain.NewStoreError(err.Error())
	}
	return nil
}

// CurrentDrawdown computes the drawdown from the portfolio_value series'
// peak to its latest value.
func (m *Manager) CurrentDrawdown(ctx context.Context) (float64, error) {
	rows, err := m.store.Query(ctx, `SELECT total_value FROM portfolio_value ORDER BY date ASC`)
	if err != nil {
		return 0, domain.NewStoreError(err.Error())
	}
	defer rows.Close()

	var values []float64
	for rows.Next() {
		var v float64
		if err := rows.Scan(&v); err != nil {
			return 0, domain.NewStoreError(err.Error())
		}
		values = append(values, v)
	}
	metrics := formulas.CalculateDrawdownMetrics(values)
	if metrics == nil {
		return 0, nil
	}
	return metrics.CurrentDrawdown, nil
}

// PreTradeCheckInput is everything PreTradeCheck needs about a candidate signal.
type PreTradeCheckInput struct {
	Symbol     string
	Action     domain.SignalAction
	SizePct    float64
	NAV        float64
	Price      float64
}

// PreTradeCheck runs the 8 gates in order, short-circuiting on the first
// failure: kill switch, position size, sector concentration, gross
// exposure, net exposure, drawdown, trading window, earnings proximity.
func (m *Manager) PreTradeCheck(ctx context.Context, in PreTradeCheckInput) (CheckResult, error) {
	var gates []GateResult

	ks, err := m.KillSwitchState(ctx)
	if err != nil {
		return CheckResult{}, err
	}
	if ks.Active {
		reason := "Kill switch active: " + ks.Reason
		gates = append(gates, GateResult{Gate: "kill_switch", Passed: false, Reason: reason})
		return CheckResult{Passed: false, Gates: gates, Reason: reason}, nil
	}
	gates = append(gates, GateResult{Gate: "kill_switch", Passed: true})

	limits, err := m.Limits(ctx)
	if err != nil {
		return CheckResult{}, err
	}

	if in.SizePct > limits.MaxPositionPct {
		reason := fmt.Sprintf("position size %.4f exceeds max %.4f", in.SizePct, limits.MaxPositionPct)
		gates = append(gates, GateResult{Gate: "position_size", Passed: false, Reason: reason})
		return CheckResult{Passed: false, Gates: gates, Reason: reason}, nil
	}
	gates = append(gates, GateResult{Gate: "position_size", Passed: true})

	sector := "Unknown"
	if m.sectors != nil {
		sector = m.sectors.SectorOf(in.Symbol)
	}
	if sector != "Unknown" {
		sectorExposure, err := m.sectorExposure(ctx, sector)
		if err != nil {
			return CheckResult{}, err
		}
		tradeValue := in.SizePct * in.NAV
		projected := (sectorExposure + tradeValue) / in.NAV
		if in.NAV > 0 && projected > limits.MaxSectorPct {
			reason := fmt.Sprintf("sector %s exposure %.4f would exceed max %.4f", sector, projected, limits.MaxSectorPct)
			gates = append(gates, GateResult{Gate: "sector_concentration", Passed: false, Reason: reason})
			return CheckResult{Passed: false, Gates: gates, Reason: reason}, nil
		}
	}
	gates = append(gates, GateResult{Gate: "sector_concentration", Passed: true})

	exp, err := m.CalculateExposure(ctx)
	if err != nil {
		return CheckResult{}, err
	}
	tradeValue := in.SizePct * in.NAV
	projectedGross := exp.GrossValue + tradeValue
	if in.NAV > 0 && projectedGross/in.NAV > limits.MaxGrossExposure {
		reason := fmt.Sprintf("gross exposure %.4f would exceed max %.4f", projectedGross/in.NAV, limits.MaxGrossExposure)
		gates = append(gates, GateResult{Gate: "gross_exposure", Passed: false, Reason: reason})
		return CheckResult{Passed: false, Gates: gates, Reason: reason}, nil
	}
	gates = append(gates, GateResult{Gate: "gross_exposure", Passed: true})

	projectedNet := exp.NetValue
	switch in.Action {
	case domain.ActionBuy, domain.ActionCover:
		projectedNet += tradeValue
	case domain.ActionSell, domain.ActionShort:
		projectedNet -= tradeValue
	}
	if in.NAV > 0 {
		netPct := projectedNet / in.NAV
		if netPct > limits.NetExposureMax || netPct < limits.NetExposureMin {
			reason := fmt.Sprintf("net exposure %.4f outside [%.4f, %.4f]", netPct, limits.NetExposureMin, limits.NetExposureMax)
			gates = append(gates, GateResult{Gate: "net_exposure", Passed: false, Reason: reason})
			return CheckResult{Passed: false, Gates: gates, Reason: reason}, nil
		}
	}
	gates = append(gates, GateResult{Gate: "net_exposure", Passed: true})

	drawdown, err := m.CurrentDrawdown(ctx)
	if err != nil {
		return CheckResult{}, err
	}
	if drawdown > limits.MaxDrawdown {
		reason := fmt.Sprintf("current drawdown %.4f exceeds max %.4f", drawdown, limits.MaxDrawdown)
		gates = append(gates, GateResult{Gate: "drawdown", Passed: false, Reason: reason})
		return CheckResult{Passed: false, Gates: gates, Reason: reason}, nil
	}
	gates = append(gates, GateResult{Gate: "drawdown", Passed: true})

	if m.windows != nil {
		allowed, err := m.windows.IsAllowed(ctx, in.Symbol)
		if err != nil {
			return CheckResult{}, err
		}
		if !allowed {
			reason := fmt.Sprintf("%s is outside its configured trading window", in.Symbol)
			gates = append(gates, GateResult{Gate: "trading_window", Passed: false, Reason: reason})
			return CheckResult{Passed: false, Gates: gates, Reason: reason}, nil
		}
	}
	gates = append(gates, GateResult{Gate: "trading_window", Passed: true})

	if m.earn != nil && m.earn.IsEarningsImminent(in.Symbol, m.earningsWindowDays, time.Now().UTC()) {
		reason := fmt.Sprintf("%s has an earnings date within the next %d days", in.Symbol, m.earningsWindowDays)
		gates = append(gates, GateResult{Gate: "earnings_proximity", Passed: false, Reason: reason})
		return CheckResult{Passed: false, Gates: gates, Reason: reason}, nil
	}
	gates = append(gates, GateResult{Gate: "earnings_proximity", Passed: true})

	return CheckResult{Passed: true, Gates: gates}, nil
}

func (m *Manager) sectorExposure(ctx context.Context, sector string) (float64, error) {
	rows, err := m.store.Query(ctx, `SELECT shares, avg_cost FROM positions WHERE sector = ? AND shares > 0`, sector)
	if err != nil {
		return 0, domain.NewStoreError(err.Error())
	}
	defer rows.Close()

	var total float64
	for rows.Next() {
		var shares, avgCost float64
		if err := rows.Scan(&shares, &avgCost); err != nil {
			return 0, domain.NewStoreError(err.Error())
		}
		total += shares * avgCost
	}
	return total, nil
}
