package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/moneymoves/engine/internal/backup"
	"github.com/moneymoves/engine/internal/broker"
	"github.com/moneymoves/engine/internal/congress"
	"github.com/moneymoves/engine/internal/discovery"
	"github.com/moneymoves/engine/internal/domain"
	"github.com/moneymoves/engine/internal/outcome"
	"github.com/moneymoves/engine/internal/pricing"
	"github.com/moneymoves/engine/internal/principles"
	"github.com/moneymoves/engine/internal/reconcile"
	"github.com/moneymoves/engine/internal/risk"
	"github.com/moneymoves/engine/internal/signal"
	"github.com/moneymoves/engine/internal/store"
	"github.com/moneymoves/engine/internal/thesis"
	"github.com/moneymoves/engine/internal/whatif"
)

// Jobs holds every collaborator the default job set needs. Main wires
// this once at startup and passes it to RegisterDefaultJobs.
type Jobs struct {
	Store      *store.Store
	Broker     broker.Broker
	Pricing    *pricing.Service
	Discovery  *discovery.Engine
	Congress   *congress.Engine
	Thesis     *thesis.Engine
	Signal     *signal.Engine
	Risk       *risk.Manager
	WhatIf     *whatif.Engine
	Outcome    *outcome.Tracker
	Principles *principles.Engine
	Reconciler *reconcile.Reconciler
	Backup     *backup.Manager
	Log        zerolog.Logger
}

// namedFunc adapts a closure to the Job interface.
type namedFunc struct {
	name string
	fn   func(ctx context.Context) error
}

func (n namedFunc) Name() string                      { return n.name }
func (n namedFunc) Run(ctx context.Context) error     { return n.fn(ctx) }
func job(name string, fn func(ctx context.Context) error) Job { return namedFunc{name: name, fn: fn} }

// RegisterDefaultJobs registers the twelve standing jobs the engine runs
// unattended: price refresh, the news-scan slot, RSI/universe discovery
// scans, congress-trade screening, position reconciliation, daily
// housekeeping (nav/exposure snapshots, stale-thesis and what-if checks,
// signal expiry, principle validation), and a nightly backup. All
// schedules are expressed in the scheduler's location, America/New_York.
func RegisterDefaultJobs(ctx context.Context, s *Scheduler, j Jobs) error {
	jobs := []struct {
		schedule string
		job      Job
	}{
		{"0 */15 9-15 * * MON-FRI", job("price_update", j.priceUpdate)},
		{"0 0 8,14,20 * * *", job("news_scan", j.newsScan)},
		{"0 0 9 * * MON-FRI", job("pre_market_review", j.preMarketReview)},
		{"0 15 16 * * MON-FRI", job("nav_snapshot", j.navSnapshot)},
		{"0 0 19 * * *", job("congress_trades", j.congressTrades)},
		{"0 45 16 * * MON-FRI", job("reconciliation", j.reconciliation)},
		{"0 0 8 * * MON", job("stale_thesis_check", j.staleThesisCheck)},
		{"0 0 9-16 * * MON-FRI", job("exposure_snapshot", j.exposureSnapshot)},
		{"0 30 16 * * MON-FRI", job("whatif_update", j.whatifUpdate)},
		{"0 0 * * * *", job("signal_expiry", j.signalExpiry)},
		{"0 0 20 * * SUN", job("principle_validation", j.principleValidation)},
		{"0 0 2 * * *", job("daily_backup", j.dailyBackup)},
	}
	for _, entry := range jobs {
		if err := s.AddJob(ctx, entry.schedule, entry.job); err != nil {
			return err
		}
	}
	return nil
}

// priceUpdate refreshes cached quotes for every currently held symbol.
func (j Jobs) priceUpdate(ctx context.Context) error {
	rows, err := j.Store.Query(ctx, `SELECT DISTINCT symbol FROM positions WHERE shares != 0`)
	if err != nil {
		return err
	}
	var symbols []string
	for rows.Next() {
		var sym string
		if err := rows.Scan(&sym); err != nil {
			rows.Close()
			return err
		}
		symbols = append(symbols, sym)
	}
	rows.Close()
	if len(symbols) == 0 {
		return nil
	}
	results := j.Pricing.GetPrices(ctx, symbols)
	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	j.Log.Info().Int("symbols", len(symbols)).Int("failed", failed).Msg("price update complete")
	return nil
}

// newsScan is a stub: news-article ingestion and scoring is out of scope
// (treated as an abstract upstream per the engine's non-goals), so this
// job only logs that the slot fired, giving the scheduler's overlap and
// retry machinery a real job to exercise for this cadence.
func (j Jobs) newsScan(ctx context.Context) error {
	j.Log.Debug().Msg("news scan slot fired (ingestion out of scope)")
	return nil
}

// preMarketReview scans the discovery universe and RSI triggers and logs
// candidate counts for a human to act on; it is not wired to auto-create
// signals.
func (j Jobs) preMarketReview(ctx context.Context) error {
	candidates, err := j.Discovery.ScanUniverse(ctx)
	if err != nil {
		return err
	}
	triggers, err := j.Discovery.ScanRSITriggers(ctx)
	if err != nil {
		return err
	}
	j.Log.Info().Int("universe_candidates", len(candidates)).Int("rsi_triggers", len(triggers)).Msg("pre-market review complete")
	return nil
}

// navSnapshot records the day's cash/total-value reading from the broker.
func (j Jobs) navSnapshot(ctx context.Context) error {
	bal, err := j.Broker.GetAccountBalance(ctx)
	if err != nil {
		return err
	}
	today := time.Now().UTC().Format("2006-01-02")
	_, err = j.Store.Exec(ctx,
		`INSERT INTO portfolio_value (date, cash, total_value) VALUES (?,?,?)
		 ON CONFLICT(date) DO UPDATE SET cash = excluded.cash, total_value = excluded.total_value`,
		today, bal.Cash, bal.TotalValue)
	return err
}

// congressTrades screens unprocessed overlapping trade disclosures into
// low-confidence signal candidates.
func (j Jobs) congressTrades(ctx context.Context) error {
	signals, err := j.Congress.GenerateSignals(ctx)
	if err != nil {
		return err
	}
	j.Log.Info().Int("signals_generated", len(signals)).Msg("congress trade screen complete")
	return nil
}

// reconciliation compares local to broker-reported positions and
// auto-syncs any minor discrepancy.
func (j Jobs) reconciliation(ctx context.Context) error {
	result, err := j.Reconciler.DailyCheck(ctx)
	if err != nil {
		return err
	}
	j.Log.Info().
		Int("matched", len(result.Matched)).
		Int("discrepancies", len(result.Discrepancies)).
		Int("auto_synced", result.AutoSynced).
		Msg("reconciliation complete")
	return nil
}

// staleThesisCheck moves every ACTIVE thesis not updated in 30 days to
// WEAKENING with reason "stale".
func (j Jobs) staleThesisCheck(ctx context.Context) error {
	cutoff := time.Now().UTC().AddDate(0, 0, -30)
	stale, err := j.Thesis.StaleSince(ctx, cutoff)
	if err != nil {
		return err
	}
	for _, t := range stale {
		if err := j.Thesis.Transition(ctx, t.ID, domain.ThesisWeakening, "stale", ""); err != nil {
			j.Log.Warn().Err(err).Int64("thesis_id", t.ID).Msg("failed to mark stale thesis weakening")
		}
	}
	j.Log.Info().Int("stale_theses", len(stale)).Msg("stale thesis check complete")
	return nil
}

// exposureSnapshot records an hourly gross/net exposure reading.
func (j Jobs) exposureSnapshot(ctx context.Context) error {
	return j.Risk.PersistExposureSnapshot(ctx)
}

// whatifUpdate refreshes hypothetical P/L for every tracked pass.
func (j Jobs) whatifUpdate(ctx context.Context) error {
	updated, err := j.WhatIf.UpdateAll(ctx)
	if err != nil {
		return err
	}
	j.Log.Info().Int("updated", updated).Msg("what-if update complete")
	return nil
}

// signalExpiry transitions PENDING signals past their expiry time to
// IGNORED and records a what-if row at the price observed at the moment
// of expiry, so the system can later judge whether letting it lapse was
// the right call.
func (j Jobs) signalExpiry(ctx context.Context) error {
	expired, err := j.Signal.ExpirePending(ctx, time.Now().UTC())
	if err != nil {
		return err
	}
	for _, sig := range expired {
		if err := j.Signal.Transition(ctx, sig.ID, domain.SignalPending, domain.SignalIgnored, "expired after 24h pending"); err != nil {
			j.Log.Warn().Err(err).Int64("signal_id", sig.ID).Msg("failed to expire signal")
			continue
		}
		price := 0.0
		if result, err := j.Pricing.GetPrice(ctx, sig.Symbol); err == nil && result.Err == nil {
			price = result.Price
		}
		if err := j.WhatIf.RecordPass(ctx, sig.ID, "ignored", price); err != nil {
			j.Log.Warn().Err(err).Int64("signal_id", sig.ID).Msg("failed to record what-if for expired signal")
		}
	}
	if len(expired) > 0 {
		j.Log.Info().Int("expired", len(expired)).Msg("signal expiry complete")
	}
	return nil
}

// principleValidation deactivates principles whose outcome history has
// turned poor.
func (j Jobs) principleValidation(ctx context.Context) error {
	rows, err := j.Store.Query(ctx, `SELECT id FROM principles WHERE active = 1`)
	if err != nil {
		return err
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		ids = append(ids, id)
	}
	rows.Close()

	for _, id := range ids {
		if err := j.Principles.DeactivateIfPoor(ctx, id); err != nil {
			j.Log.Warn().Err(err).Int64("principle_id", id).Msg("principle validation failed")
		}
	}
	return nil
}

// dailyBackup runs the backup manager's scheduled backup-and-cleanup cycle.
func (j Jobs) dailyBackup(ctx context.Context) error {
	return j.Backup.DailyBackup(ctx)
}
