// Package reconcile compares DB-tracked positions against the broker's
// reported positions, detects discrepancies, and can auto-sync small
// rounding differences. Grounded on engine/reconciliation.py.
package reconcile

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/rs/zerolog"

	"github.com/moneymoves/engine/internal/audit"
	"github.com/moneymoves/engine/internal/broker"
	"github.com/moneymoves/engine/internal/domain"
	"github.com/moneymoves/engine/internal/store"
)

// MinorShareThreshold is the maximum share-count difference (in either
// direction) still counted as "matched" rather than a discrepancy.
const MinorShareThreshold = 0.01

// AutoSyncThreshold is the maximum discrepancy magnitude that AutoSync will
// fix by overwriting the DB with the broker's reported shares.
const AutoSyncThreshold = 1.0

// Discrepancy is a symbol/side whose DB and broker share counts disagree by
// more than MinorShareThreshold.
type Discrepancy struct {
	Symbol       string
	Side         domain.PositionSide
	DBShares     float64
	BrokerShares float64
	Diff         float64
}

// SideOnly is a symbol/side present on only one side of the comparison.
type SideOnly struct {
	Symbol string
	Side   domain.PositionSide
	Shares float64
}

// Result is the outcome of a Reconcile pass.
type Result struct {
	Matched       []string
	Discrepancies []Discrepancy
	DBOnly        []SideOnly
	BrokerOnly    []SideOnly
	AutoSynced    int
}

// Reconciler compares local position state against the broker's.
type Reconciler struct {
	store  *store.Store
	broker broker.Broker
	audit  *audit.Log
	log    zerolog.Logger
}

func New(s *store.Store, b broker.Broker, auditLog *audit.Log, log zerolog.Logger) *Reconciler {
	return &Reconciler{store: s, broker: b, audit: auditLog, log: log.With().Str("component", "reconcile").Logger()}
}

// Reconcile fetches broker positions and compares them against the local
// ledger, classifying every symbol seen on either side.
func (r *Reconciler) Reconcile(ctx context.Context) (Result, error) {
	brokerPositions, err := r.broker.GetPositions(ctx)
	if err != nil {
		return Result{}, err
	}
	type key struct {
		symbol string
		side   domain.PositionSide
	}
	brokerMap := make(map[key]domain.Position, len(brokerPositions))
	for _, p := range brokerPositions {
		brokerMap[key{p.Symbol, p.Side}] = p
	}

	rows, err := r.store.Query(ctx, `SELECT symbol, side, shares FROM positions WHERE shares > 0`)
	if err != nil {
		return Result{}, domain.NewStoreError(err.Error())
	}
	dbMap := map[key]float64{}
	for rows.Next() {
		var symbol string
		var side domain.PositionSide
		var shares float64
		if err := rows.Scan(&symbol, &side, &shares); err != nil {
			rows.Close()
			return Result{}, domain.NewStoreError(err.Error())
		}
		dbMap[key{symbol, side}] = shares
	}
	rows.Close()

	keySet := map[key]bool{}
	for k := range brokerMap {
		keySet[k] = true
	}
	for k := range dbMap {
		keySet[k] = true
	}
	keys := make([]key, 0, len(keySet))
	for k := range keySet {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].symbol != keys[j].symbol {
			return keys[i].symbol < keys[j].symbol
		}
		return keys[i].side < keys[j].side
	})

	var res Result
	for _, k := range keys {
		dbShares, inDB := dbMap[k]
		brokerPos, inBroker := brokerMap[k]

		switch {
		case inDB && inBroker:
			diff := brokerPos.Shares - dbShares
			if math.Abs(diff) <= MinorShareThreshold {
				res.Matched = append(res.Matched, k.symbol)
			} else {
				res.Discrepancies = append(res.Discrepancies, Discrepancy{
					Symbol: k.symbol, Side: k.side, DBShares: dbShares, BrokerShares: brokerPos.Shares, Diff: diff,
				})
			}
		case inDB:
			res.DBOnly = append(res.DBOnly, SideOnly{Symbol: k.symbol, Side: k.side, Shares: dbShares})
		default:
			res.BrokerOnly = append(res.BrokerOnly, SideOnly{Symbol: k.symbol, Side: k.side, Shares: brokerPos.Shares})
		}
	}

	detail := fmt.Sprintf("matched=%d discrepancies=%d db_only=%d broker_only=%d",
		len(res.Matched), len(res.Discrepancies), len(res.DBOnly), len(res.BrokerOnly))
	if err := r.audit.Write(ctx, domain.ActorEngine, "reconcile", "reconciliation", "", nil, detail); err != nil {
		return Result{}, err
	}
	return res, nil
}

// AutoSync overwrites the DB share count with the broker's for every
// discrepancy small enough to be a rounding difference (< 1 share),
// leaving larger discrepancies for manual investigation.
func (r *Reconciler) AutoSync(ctx context.Context, discrepancies []Discrepancy) (int, error) {
	synced := 0
	for _, d := range discrepancies {
		if math.Abs(d.Diff) >= AutoSyncThreshold {
			continue
		}
		_, err := r.store.Exec(ctx, `UPDATE positions SET shares = ? WHERE symbol = ? AND side = ?`, d.BrokerShares, d.Symbol, d.Side)
		if err != nil {
			return synced, domain.NewStoreError(err.Error())
		}
		if err := r.audit.Write(ctx, domain.ActorEngine, "reconcile", "auto_sync", "position", nil,
			fmt.Sprintf("%s %s: %.4f -> %.4f", d.Symbol, d.Side, d.DBShares, d.BrokerShares)); err != nil {
			return synced, err
		}
		synced++
	}
	return synced, nil
}

// DailyCheck runs Reconcile and immediately auto-syncs any minor
// discrepancies it finds.
func (r *Reconciler) DailyCheck(ctx context.Context) (Result, error) {
	result, err := r.Reconcile(ctx)
	if err != nil {
		return Result{}, err
	}
	if len(result.Discrepancies) > 0 {
		synced, err := r.AutoSync(ctx, result.Discrepancies)
		if err != nil {
			return result, err
		}
		result.AutoSynced = synced
	}
	return result, nil
}
