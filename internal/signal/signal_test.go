package signal

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moneymoves/engine/internal/audit"
	"github.com/moneymoves/engine/internal/domain"
	"github.com/moneymoves/engine/internal/principles"
	"github.com/moneymoves/engine/internal/store"
	"github.com/moneymoves/engine/internal/thesis"
)

func newTestEngine(t *testing.T) (*Engine, *store.Store, *thesis.Engine) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	auditLog := audit.New(st)
	thesisEng := thesis.New(st, auditLog, zerolog.Nop())
	principlesEng := principles.New(st, zerolog.Nop())
	sigEng := New(st, auditLog, principlesEng, thesisEng, nil, 0.1, 0.1, zerolog.Nop())
	return sigEng, st, thesisEng
}

func TestCreate_StartsPendingWith24hExpiry(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()

	sig, err := e.Create(ctx, nil, "AAPL", domain.ActionBuy, 0.05, 0.75, domain.SourceManual, "test thesis")
	require.NoError(t, err)
	assert.Equal(t, domain.SignalPending, sig.Status)
	assert.WithinDuration(t, sig.CreatedAt.Add(SignalExpiry), sig.ExpiresAt, time.Second)
}

func TestCreate_RejectsOutOfRangeSizePct(t *testing.T) {
	e, _, _ := newTestEngine(t)
	_, err := e.Create(context.Background(), nil, "AAPL", domain.ActionBuy, 1.5, 0.5, domain.SourceManual, "")
	require.Error(t, err)
}

// Invariant 4: only the transitions in the allowed DAG succeed.
func TestTransition_EnforcesAllowedDAG(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()

	sig, err := e.Create(ctx, nil, "AAPL", domain.ActionBuy, 0.05, 0.75, domain.SourceManual, "")
	require.NoError(t, err)

	require.NoError(t, e.Transition(ctx, sig.ID, domain.SignalPending, domain.SignalApproved, "auto approved"))
	require.NoError(t, e.Transition(ctx, sig.ID, domain.SignalApproved, domain.SignalExecuted, "filled"))

	updated, err := e.Get(ctx, sig.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SignalExecuted, updated.Status)

	err = e.Transition(ctx, sig.ID, domain.SignalExecuted, domain.SignalCancelled, "too late")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrStateConflict))
}

// A second processor racing on the same expected prior status loses: the
// WHERE-guarded UPDATE affects zero rows and reports a state conflict.
func TestTransition_GuardsAgainstDoubleProcessing(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()

	sig, err := e.Create(ctx, nil, "AAPL", domain.ActionBuy, 0.05, 0.75, domain.SourceManual, "")
	require.NoError(t, err)

	require.NoError(t, e.Transition(ctx, sig.ID, domain.SignalPending, domain.SignalApproved, "first processor"))
	err = e.Transition(ctx, sig.ID, domain.SignalPending, domain.SignalRejected, "second processor, stale view")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrStateConflict))
}

// Invariant 6 / S6 — a PENDING signal older than 24h is returned by
// ExpirePending for the scheduler to act on.
func TestExpirePending_ReturnsOnlyBackdatedPendingSignals(t *testing.T) {
	e, st, _ := newTestEngine(t)
	ctx := context.Background()

	fresh, err := e.Create(ctx, nil, "AAPL", domain.ActionBuy, 0.05, 0.75, domain.SourceManual, "")
	require.NoError(t, err)

	stale, err := e.Create(ctx, nil, "MSFT", domain.ActionBuy, 0.05, 0.75, domain.SourceManual, "")
	require.NoError(t, err)
	backdated := time.Now().UTC().Add(-25 * time.Hour)
	_, err = st.Exec(ctx, `UPDATE signals SET created_at = ?, expires_at = ? WHERE id = ?`,
		backdated.Format(time.RFC3339), backdated.Add(SignalExpiry).Format(time.RFC3339), stale.ID)
	require.NoError(t, err)

	expired, err := e.ExpirePending(ctx, time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, stale.ID, expired[0].ID)
	assert.NotEqual(t, fresh.ID, expired[0].ID)
}

func TestScoreConfidence_ThesisStatusAdjustsScore(t *testing.T) {
	e, _, th := newTestEngine(t)
	ctx := context.Background()

	confirmed, err := th.Create(ctx, "confirmed thesis", []string{"AAPL"}, domain.ThesisActive, "")
	require.NoError(t, err)
	require.NoError(t, th.Transition(ctx, confirmed.ID, domain.ThesisStrengthening, "good data", ""))
	require.NoError(t, th.Transition(ctx, confirmed.ID, domain.ThesisConfirmed, "validated", ""))

	score, err := e.ScoreConfidence(ctx, 0.5, &confirmed.ID, domain.ActionBuy, "AAPL", domain.SourceManual)
	require.NoError(t, err)
	assert.Greater(t, score, 0.5, "a CONFIRMED thesis should boost confidence above the base estimate")
	assert.LessOrEqual(t, score, 1.0)
}
