package thesis

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moneymoves/engine/internal/audit"
	"github.com/moneymoves/engine/internal/domain"
	"github.com/moneymoves/engine/internal/store"
)

func newEngine(t *testing.T) *Engine {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return New(st, audit.New(st), zerolog.Nop())
}

// S5 — thesis state machine: ACTIVE -> WEAKENING -> INVALIDATED produces
// three ThesisVersion rows (initial, active->weakening, weakening->invalidated).
// The direct ACTIVE->ARCHIVED and the rejected INVALIDATED->ACTIVE cases
// are checked by the two tests below.
func TestTransition_FullLifecycleScenario(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	th, err := e.Create(ctx, "NVDA demand thesis", []string{"NVDA"}, domain.ThesisActive, "semis")
	require.NoError(t, err)

	require.NoError(t, e.Transition(ctx, th.ID, domain.ThesisWeakening, "demand data disappointing", ""))
	require.NoError(t, e.Transition(ctx, th.ID, domain.ThesisInvalidated, "earnings miss", ""))

	versions, err := e.Versions(ctx, th.ID)
	require.NoError(t, err)
	require.Len(t, versions, 3)
	assert.Equal(t, domain.ThesisActive, versions[0].Status)
	assert.Equal(t, "created", versions[0].Reason)
	assert.Equal(t, domain.ThesisWeakening, versions[1].Status)
	assert.Equal(t, "demand data disappointing", versions[1].Reason)
	assert.Equal(t, domain.ThesisInvalidated, versions[2].Status)
	assert.Equal(t, "earnings miss", versions[2].Reason)

	final, err := e.Get(ctx, th.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ThesisInvalidated, final.Status)
}

func TestTransition_DirectActiveToArchivedSucceeds(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	th, err := e.Create(ctx, "test thesis", []string{"AAPL"}, domain.ThesisActive, "")
	require.NoError(t, err)

	assert.NoError(t, e.Transition(ctx, th.ID, domain.ThesisArchived, "closing out", ""))
}

func TestTransition_InvalidatedToActiveRejected(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	th, err := e.Create(ctx, "test thesis", []string{"AAPL"}, domain.ThesisActive, "")
	require.NoError(t, err)
	require.NoError(t, e.Transition(ctx, th.ID, domain.ThesisInvalidated, "thesis broke", ""))

	err = e.Transition(ctx, th.ID, domain.ThesisActive, "reconsidering", "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrStateConflict), "expected a state-conflict error, got %v", err)
}

func TestCreate_RejectsNonDraftNonActiveInitialStatus(t *testing.T) {
	e := newEngine(t)
	_, err := e.Create(context.Background(), "bad", []string{"AAPL"}, domain.ThesisInvalidated, "")
	require.Error(t, err)
}

func TestAddSymbols_DedupesAgainstExisting(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	th, err := e.Create(ctx, "multi-symbol thesis", []string{"AAPL", "MSFT"}, domain.ThesisDraft, "")
	require.NoError(t, err)

	require.NoError(t, e.AddSymbols(ctx, th.ID, []string{"msft", "GOOG"}))

	updated, err := e.Get(ctx, th.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"AAPL", "MSFT", "GOOG"}, updated.Symbols)
}
