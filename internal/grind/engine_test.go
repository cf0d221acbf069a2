package grind

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "GrinderAI-Chain/internal/errors"
)

type engineFixture struct {
	ledger   *fakeLedger
	market   *fakeMarket
	recorder *recordingSink
	sink     *recordingSink
	cursors  *memoryCursors
	engine   *Engine
}

func newEngineFixture(t *testing.T, perPoolCap string) *engineFixture {
	t.Helper()

	f := &engineFixture{
		ledger:   newFakeLedger(),
		market:   &fakeMarket{price: decimal.NewFromInt(2700), total: 3, cursor: 2},
		recorder: &recordingSink{},
		sink:     &recordingSink{},
		cursors:  &memoryCursors{},
	}

	rotator, err := NewRotator(DefaultPageSize)
	require.NoError(t, err)
	gate, err := NewCostGate(decimal.RequireFromString(perPoolCap), DefaultUnitDecimals)
	require.NoError(t, err)
	submitter, err := NewSubmitter(f.ledger, DefaultSafetyMargin, discardLogger())
	require.NoError(t, err)
	validator := NewValidator(f.ledger, f.ledger, WithValidatorLogger(discardLogger()))

	f.engine, err = NewEngine(f.market, f.ledger, rotator, validator, gate, submitter,
		WithRecorder(f.recorder),
		WithEventSink(f.sink),
		WithCursorStore(f.cursors),
		WithLogger(discardLogger()),
	)
	require.NoError(t, err)
	return f
}

// seedThreePools 准备意图 2：池子 10 可开多，池子 11 读取失败，池子 12 只能对冲卖出。
func (f *engineFixture) seedThreePools() {
	f.ledger.intents[2] = Intent{ID: 2, PoolIDs: []uint64{10, 11, 12}}
	f.ledger.positions[10] = state(0, 5, 0, 3)
	f.ledger.positionErrs[11] = errTransport
	f.ledger.positions[12] = state(5, 5, 1, 3)
	f.ledger.sims[simKey{10, OpLongBuy}] = true
	f.ledger.sims[simKey{12, OpHedgeSell}] = true
}

func TestRunCycleSubmitsValidatedBatch(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t, "0.05")
	f.seedThreePools()
	f.ledger.unitCost = 1000

	report := f.engine.RunCycle(context.Background())

	require.NoError(t, report.Err)
	assert.Equal(t, OutcomeSubmitted, report.Outcome)
	assert.Equal(t, []uint64{2}, report.IntentIDs)
	assert.Equal(t, 3, report.PoolCount)
	assert.Equal(t, []uint64{10, 12}, report.Batch.PoolIDs)
	assert.Equal(t, []Operation{OpLongBuy, OpHedgeSell}, report.Batch.Ops)
	require.Len(t, report.PoolFailures, 1)
	assert.Equal(t, uint64(11), report.PoolFailures[0].PoolID)
	assert.Equal(t, "0xabc", report.TxHash)
	assert.Equal(t, uint64(1400), report.CostCeiling)
	assert.Equal(t, uint64(1400), f.ledger.appliedWith)
	assert.True(t, report.FiatCost.Equal(decimal.RequireFromString("0.054")), "fiat cost %s", report.FiatCost)
	assert.True(t, report.Budget.Equal(decimal.RequireFromString("0.1")))
	assert.NotEmpty(t, report.ID)

	assert.Equal(t, uint64(0), f.market.Cursor())
	assert.Equal(t, []uint64{0}, f.cursors.saved)
	assert.Len(t, f.recorder.reports, 1)
	assert.Len(t, f.sink.reports, 1)
}

func TestRunCycleEmptyBatchMakesNoFurtherRemoteCalls(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t, "0.05")
	f.ledger.intents[2] = Intent{ID: 2, PoolIDs: []uint64{10, 12}}
	f.ledger.positions[10] = state(0, 5, 0, 3)
	f.ledger.positions[12] = state(5, 5, 1, 3)

	report := f.engine.RunCycle(context.Background())

	assert.Equal(t, OutcomeIdle, report.Outcome)
	assert.NoError(t, report.Err)
	assert.True(t, report.Batch.Empty())
	for _, call := range []string{"estimateBatchCost", "unitPrice", "canApplyBatch", "applyBatch"} {
		assert.Zero(t, f.ledger.callCount(call), call)
	}
	assert.Len(t, f.recorder.reports, 1)
	assert.Empty(t, f.sink.reports)
}

func TestRunCycleAbortsWithoutAdvancingCursorWhenIntentsFail(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t, "0.05")
	f.ledger.intentErr = errTransport

	report := f.engine.RunCycle(context.Background())

	assert.Equal(t, OutcomeAborted, report.Outcome)
	assert.Equal(t, CodeRemoteRead, xerrors.CodeOf(report.Err))
	assert.Equal(t, uint64(2), f.market.Cursor())
	assert.Empty(t, f.cursors.saved)
	assert.Zero(t, f.ledger.callCount("getPositions"))
}

func TestRunCycleSkipsSubmissionWhenCostExceeded(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t, "0.02")
	f.seedThreePools()
	f.ledger.unitCost = 1000

	report := f.engine.RunCycle(context.Background())

	assert.Equal(t, OutcomeCostExceeded, report.Outcome)
	assert.Equal(t, CodeCostExceeded, xerrors.CodeOf(report.Err))
	assert.Zero(t, f.ledger.callCount("canApplyBatch"))
	assert.Zero(t, f.ledger.callCount("applyBatch"))
	assert.Len(t, f.sink.reports, 1)
}

func TestRunCycleReportsBatchRejection(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t, "0.05")
	f.seedThreePools()
	f.ledger.unitCost = 1000
	f.ledger.batchOK = false

	report := f.engine.RunCycle(context.Background())

	assert.Equal(t, OutcomeBatchRejected, report.Outcome)
	assert.ErrorIs(t, report.Err, ErrBatchRejected)
	assert.Zero(t, f.ledger.callCount("applyBatch"))
}

func TestRunCycleReportsSubmissionFailure(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t, "0.05")
	f.seedThreePools()
	f.ledger.unitCost = 1000
	f.ledger.applyErr = errTransport

	report := f.engine.RunCycle(context.Background())

	assert.Equal(t, OutcomeFailed, report.Outcome)
	assert.Equal(t, CodeSubmission, xerrors.CodeOf(report.Err))
	assert.Empty(t, report.TxHash)
}

func TestRunCycleSurvivesRecorderFailure(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t, "0.05")
	f.seedThreePools()
	f.ledger.unitCost = 1000
	f.recorder.err = errTransport

	report := f.engine.RunCycle(context.Background())
	assert.Equal(t, OutcomeSubmitted, report.Outcome)
	assert.Len(t, f.sink.reports, 1)
}

func TestRestoreCursorLoadsPersistedValue(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t, "0.05")
	f.cursors.loaded, f.cursors.found = 1, true

	require.NoError(t, f.engine.RestoreCursor(context.Background()))
	assert.Equal(t, uint64(1), f.market.Cursor())
}
