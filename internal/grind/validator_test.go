package grind

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "GrinderAI-Chain/internal/errors"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestValidatorAcceptsFirstPassingCandidate(t *testing.T) {
	t.Parallel()

	ledger := newFakeLedger()
	ledger.positions[1] = state(3, 5, 0, 3)
	ledger.sims[simKey{1, OpLongSell}] = true
	ledger.sims[simKey{1, OpLongBuy}] = true

	batch, failures := NewValidator(ledger, ledger, WithValidatorLogger(discardLogger())).Validate(context.Background(), []uint64{1})

	require.Empty(t, failures)
	assert.Equal(t, []uint64{1}, batch.PoolIDs)
	assert.Equal(t, []Operation{OpLongSell}, batch.Ops)
	assert.Equal(t, []simKey{{1, OpLongSell}}, ledger.simulated)
}

func TestValidatorTriesNextCandidateAfterNegativeSimulation(t *testing.T) {
	t.Parallel()

	ledger := newFakeLedger()
	ledger.positions[4] = state(5, 5, 2, 3)
	ledger.sims[simKey{4, OpHedgeSell}] = true

	batch, failures := NewValidator(ledger, ledger, WithValidatorLogger(discardLogger())).Validate(context.Background(), []uint64{4})

	require.Empty(t, failures)
	assert.Equal(t, []Operation{OpHedgeSell}, batch.Ops)
	assert.Equal(t, []simKey{{4, OpHedgeRebuy}, {4, OpHedgeSell}}, ledger.simulated)
}

func TestValidatorDropsPoolWhenEveryCandidateFails(t *testing.T) {
	t.Parallel()

	ledger := newFakeLedger()
	ledger.positions[8] = state(5, 5, 0, 3)

	batch, failures := NewValidator(ledger, ledger, WithValidatorLogger(discardLogger())).Validate(context.Background(), []uint64{8})

	assert.True(t, batch.Empty())
	assert.Empty(t, failures)
	assert.Len(t, batch.Ops, len(batch.PoolIDs))
}

func TestValidatorIsolatesPositionFailure(t *testing.T) {
	t.Parallel()

	ledger := newFakeLedger()
	ledger.positions[1] = state(0, 5, 0, 3)
	ledger.positionErrs[2] = errTransport
	ledger.positions[3] = state(5, 5, 1, 3)
	ledger.sims[simKey{1, OpLongBuy}] = true
	ledger.sims[simKey{3, OpHedgeRebuy}] = true

	batch, failures := NewValidator(ledger, ledger, WithValidatorLogger(discardLogger())).Validate(context.Background(), []uint64{1, 2, 3})

	assert.Equal(t, []uint64{1, 3}, batch.PoolIDs)
	assert.Equal(t, []Operation{OpLongBuy, OpHedgeRebuy}, batch.Ops)
	require.Len(t, failures, 1)
	assert.Equal(t, uint64(2), failures[0].PoolID)
	assert.Equal(t, 1, failures[0].Index)
	assert.Equal(t, StagePositions, failures[0].Stage)
	assert.Equal(t, CodeRemoteRead, xerrors.CodeOf(failures[0].Err))
	assert.ErrorIs(t, failures[0].Err, errTransport)
}

func TestValidatorDropsPoolOnSimulationError(t *testing.T) {
	t.Parallel()

	ledger := newFakeLedger()
	ledger.positions[5] = state(2, 5, 0, 3)
	ledger.simErrs[simKey{5, OpLongSell}] = errTransport
	ledger.sims[simKey{5, OpLongBuy}] = true

	batch, failures := NewValidator(ledger, ledger, WithValidatorLogger(discardLogger())).Validate(context.Background(), []uint64{5})

	assert.True(t, batch.Empty())
	require.Len(t, failures, 1)
	assert.Equal(t, StageSimulate, failures[0].Stage)
	assert.Equal(t, CodeSimulation, xerrors.CodeOf(failures[0].Err))
	assert.Equal(t, []simKey{{5, OpLongSell}}, ledger.simulated)
}

func TestValidatorPreservesOrderAndDuplicatesUnderConcurrencyLimit(t *testing.T) {
	t.Parallel()

	ledger := newFakeLedger()
	poolIDs := []uint64{9, 3, 9, 6, 1}
	for _, id := range poolIDs {
		ledger.positions[id] = state(0, 5, 0, 3)
		ledger.sims[simKey{id, OpLongBuy}] = true
	}

	batch, failures := NewValidator(ledger, ledger,
		WithMaxConcurrency(2),
		WithValidatorLogger(discardLogger()),
	).Validate(context.Background(), poolIDs)

	require.Empty(t, failures)
	assert.Equal(t, poolIDs, batch.PoolIDs)
	assert.Equal(t, "[9:long_buy 3:long_buy 9:long_buy 6:long_buy 1:long_buy]", batch.String())
}
