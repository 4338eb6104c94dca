// Package signal implements Signal creation, confidence scoring, and the
// status transition graph: PENDING -> APPROVED/REJECTED/IGNORED/CANCELLED,
// APPROVED -> EXECUTED/CANCELLED. Scoring combines a thesis-status
// multiplier, a domain-expertise multiplier, a principle adjustment, and
// a per-source win-rate multiplier, matching the factors described by the
// distilled confidence-scoring design and engine/approval.py's thesis
// gating.
package signal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/moneymoves/engine/internal/audit"
	"github.com/moneymoves/engine/internal/domain"
	"github.com/moneymoves/engine/internal/principles"
	"github.com/moneymoves/engine/internal/store"
)

// SignalExpiry is how long a PENDING signal is allowed to sit before the
// scheduler's expiry job moves it to IGNORED.
const SignalExpiry = 24 * time.Hour

var terminalOrApproved = map[domain.SignalStatus][]domain.SignalStatus{
	domain.SignalPending:  {domain.SignalApproved, domain.SignalRejected, domain.SignalIgnored, domain.SignalCancelled},
	domain.SignalApproved: {domain.SignalExecuted, domain.SignalCancelled},
}

// ThesisLookup is the subset of thesis.Engine the scorer needs.
type ThesisLookup interface {
	Get(ctx context.Context, id int64) (domain.Thesis, error)
}

// Engine is the signal CRUD + scoring + transition engine.
type Engine struct {
	store      *store.Store
	audit      *audit.Log
	principles *principles.Engine
	thesis     ThesisLookup
	log        zerolog.Logger

	expertiseDomains map[string]bool
	domainBoost      float64
	outOfDomainPenalty float64
}

func New(s *store.Store, auditLog *audit.Log, p *principles.Engine, t ThesisLookup, expertiseDomains []string, domainBoost, outOfDomainPenalty float64, log zerolog.Logger) *Engine {
	domains := map[string]bool{}
	for _, d := range expertiseDomains {
		domains[d] = true
	}
	return &Engine{
		store: s, audit: auditLog, principles: p, thesis: t,
		expertiseDomains: domains, domainBoost: domainBoost, outOfDomainPenalty: outOfDomainPenalty,
		log: log.With().Str("component", "signal").Logger(),
	}
}

// thesisMultiplier reflects how much a signal should be trusted given its
// parent thesis's current conviction level.
func thesisMultiplier(status domain.ThesisStatus) float64 {
	switch status {
	case domain.ThesisConfirmed:
		return 1.15
	case domain.ThesisStrengthening:
		return 1.05
	case domain.ThesisActive:
		return 1.0
	case domain.ThesisWeakening:
		return 0.85
	default:
		return 0.7
	}
}

func (e *Engine) domainMultiplier(domainName string) float64 {
	if domainName == "" {
		return 1.0
	}
	if e.expertiseDomains[domainName] {
		return 1.0 + e.domainBoost
	}
	return 1.0 - e.outOfDomainPenalty
}

// sourceMultiplier applies Bayesian shrinkage to a source's historical
// win rate: (wins+1)/(total+2), scaled onto [0.9, 1.1].
func (e *Engine) sourceMultiplier(ctx context.Context, source domain.SignalSource) float64 {
	var wins, total int
	err := e.store.QueryRow(ctx, `SELECT wins, total FROM source_stats WHERE source = ?`, source).Scan(&wins, &total)
	if err != nil {
		return 1.0
	}
	rate := (float64(wins) + 1) / (float64(total) + 2)
	return 0.9 + 0.2*rate
}

// ScoreConfidence computes a signal's confidence in [0,1] from a base
// estimate plus thesis/domain/principle/source adjustments.
func (e *Engine) ScoreConfidence(ctx context.Context, baseConfidence float64, thesisID *int64, action domain.SignalAction, symbol string, source domain.SignalSource) (float64, error) {
	thesisMult := 1.0
	domainName := ""
	if thesisID != nil {
		t, err := e.thesis.Get(ctx, *thesisID)
		if err != nil && !isNotFound(err) {
			return 0, err
		}
		if err == nil {
			thesisMult = thesisMultiplier(t.Status)
			domainName = t.Domain
		}
	}
	domainMult := e.domainMultiplier(domainName)

	var principleAdj float64
	if e.principles != nil {
		matched, err := e.principles.MatchPrinciples(ctx, principles.SignalContext{Symbol: symbol, Domain: domainName, Action: action})
		if err == nil {
			principleAdj = e.principles.ApplyToScore(matched)
		}
	}

	sourceMult := e.sourceMultiplier(ctx, source)

	score := baseConfidence*thesisMult*domainMult*sourceMult + principleAdj
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return score, nil
}

func isNotFound(err error) bool {
	de, ok := err.(*domain.Error)
	return ok && de.Kind == domain.ErrNotFound
}

// Create inserts a new PENDING signal with a 24h expiry.
func (e *Engine) Create(ctx context.Context, thesisID *int64, symbol string, action domain.SignalAction, sizePct, confidence float64, source domain.SignalSource, reason string) (domain.Signal, error) {
	if sizePct < 0 || sizePct > 1 {
		return domain.Signal{}, domain.NewValidationError("size_pct must be within [0,1]")
	}

	var sig domain.Signal
	err := e.store.WithTx(ctx, func(tx *sql.Tx) error {
		now := time.Now().UTC()
		expires := now.Add(SignalExpiry)
		res, err := tx.Exec(
			`INSERT INTO signals (thesis_id, symbol, action, size_pct, confidence, source, status, reason, funding_plan, created_at, expires_at) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
			thesisID, symbol, action, sizePct, confidence, source, domain.SignalPending, reason, "", now.Format(time.RFC3339), expires.Format(time.RFC3339),
		)
		if err != nil {
			return err
		}
		id, _ := res.LastInsertId()
		sig = domain.Signal{ID: id, ThesisID: thesisID, Symbol: symbol, Action: action, SizePct: sizePct, Confidence: confidence, Source: source, Status: domain.SignalPending, Reason: reason, CreatedAt: now, ExpiresAt: expires}
		return e.audit.WriteTx(tx, domain.ActorEngine, "signal", "signal_created", "signal", id, fmt.Sprintf("%s %s size=%.4f conf=%.2f", action, symbol, sizePct, confidence))
	})
	return sig, err
}

// Get loads a signal by id.
func (e *Engine) Get(ctx context.Context, id int64) (domain.Signal, error) {
	var s domain.Signal
	var thesisID sql.NullInt64
	var createdAt, expiresAt string
	var decidedAt sql.NullString
	err := e.store.QueryRow(ctx,
		`SELECT id, thesis_id, symbol, action, size_pct, confidence, source, status, reason, funding_plan, created_at, decided_at, expires_at FROM signals WHERE id = ?`, id,
	).Scan(&s.ID, &thesisID, &s.Symbol, &s.Action, &s.SizePct, &s.Confidence, &s.Source, &s.Status, &s.Reason, &s.FundingPlan, &createdAt, &decidedAt, &expiresAt)
	if err == sql.ErrNoRows {
		return domain.Signal{}, domain.NewNotFoundError(fmt.Sprintf("signal %d not found", id))
	}
	if err != nil {
		return domain.Signal{}, domain.NewStoreError(err.Error())
	}
	if thesisID.Valid {
		s.ThesisID = &thesisID.Int64
	}
	s.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	s.ExpiresAt, _ = time.Parse(time.RFC3339, expiresAt)
	if decidedAt.Valid {
		t, _ := time.Parse(time.RFC3339, decidedAt.String)
		s.DecidedAt = &t
	}
	return s, nil
}

// Transition moves a signal to newStatus using a WHERE-guarded UPDATE so
// a concurrent processor cannot double-process the same signal: if the
// row's status no longer matches the expected prior status, zero rows
// are affected and this returns a state-conflict error.
func (e *Engine) Transition(ctx context.Context, id int64, from, to domain.SignalStatus, reason string) error {
	allowed := false
	for _, s := range terminalOrApproved[from] {
		if s == to {
			allowed = true
			break
		}
	}
	if !allowed {
		return domain.NewStateConflictError(fmt.Sprintf("cannot transition signal from %s to %s", from, to))
	}

	return e.store.WithTx(ctx, func(tx *sql.Tx) error {
		now := time.Now().UTC()
		res, err := tx.Exec(`UPDATE signals SET status = ?, decided_at = ?, reason = ? WHERE id = ? AND status = ?`,
			to, now.Format(time.RFC3339), reason, id, from)
		if err != nil {
			return err
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return domain.NewStateConflictError(fmt.Sprintf("signal %d already processed (expected status %s)", id, from))
		}
		return e.audit.WriteTx(tx, domain.ActorEngine, "signal", "signal_transitioned", "signal", id, fmt.Sprintf("%s -> %s: %s", from, to, reason))
	})
}

// ExpirePending returns PENDING signals created before cutoff, for the
// scheduler's hourly expiry job to move to IGNORED.
func (e *Engine) ExpirePending(ctx context.Context, cutoff time.Time) ([]domain.Signal, error) {
	rows, err := e.store.Query(ctx, `SELECT id FROM signals WHERE status = ? AND expires_at < ?`, domain.SignalPending, cutoff.Format(time.RFC3339))
	if err != nil {
		return nil, domain.NewStoreError(err.Error())
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, domain.NewStoreError(err.Error())
		}
		ids = append(ids, id)
	}

	var out []domain.Signal
	for _, id := range ids {
		s, err := e.Get(ctx, id)
		if err != nil {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

// RecordSourceOutcome updates the per-source win-rate counters used by
// sourceMultiplier.
func (e *Engine) RecordSourceOutcome(ctx context.Context, source domain.SignalSource, win bool) error {
	winInc := 0
	if win {
		winInc = 1
	}
	_, err := e.store.Exec(ctx,
		`INSERT INTO source_stats (source, wins, total) VALUES (?, ?, 1)
		 ON CONFLICT(source) DO UPDATE SET wins = wins + ?, total = total + 1`,
		source, winInc, winInc,
	)
	if err != nil {
		return domain.NewStoreError(err.Error())
	}
	return nil
}
