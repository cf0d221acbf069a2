package grind

import (
	"context"
	"errors"
	"math/big"
	"sync"

	"github.com/shopspring/decimal"
)

var errTransport = errors.New("dial tcp 127.0.0.1:8545: connection refused")

type simKey struct {
	pool uint64
	op   Operation
}

// fakeLedger 按池子预设仓位与模拟结果，并记录全部远端调用。
type fakeLedger struct {
	mu sync.Mutex

	total        uint64
	intents      map[uint64]Intent
	intentErr    error
	positions    map[uint64]PoolPositionState
	positionErrs map[uint64]error
	sims         map[simKey]bool
	simErrs      map[simKey]error

	unitCost    uint64
	estimateErr error
	unitPrice   *big.Int
	batchOK     bool
	batchErr    error
	applyErr    error
	txHash      string

	calls       []string
	simulated   []simKey
	appliedWith uint64
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		total:        1,
		intents:      map[uint64]Intent{},
		positions:    map[uint64]PoolPositionState{},
		positionErrs: map[uint64]error{},
		sims:         map[simKey]bool{},
		simErrs:      map[simKey]error{},
		unitPrice:    big.NewInt(20_000_000_000),
		batchOK:      true,
		txHash:       "0xabc",
	}
}

func (f *fakeLedger) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeLedger) callCount(call string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int
	for _, c := range f.calls {
		if c == call {
			n++
		}
	}
	return n
}

func (f *fakeLedger) TotalIntents(context.Context) (uint64, error) {
	f.record("totalIntents")
	return f.total, nil
}

func (f *fakeLedger) GetIntents(_ context.Context, ids []uint64) ([]Intent, error) {
	f.record("getIntents")
	if f.intentErr != nil {
		return nil, f.intentErr
	}
	out := make([]Intent, 0, len(ids))
	for _, id := range ids {
		out = append(out, f.intents[id])
	}
	return out, nil
}

func (f *fakeLedger) GetPositions(_ context.Context, poolID uint64) (PoolPositionState, error) {
	f.record("getPositions")
	if err := f.positionErrs[poolID]; err != nil {
		return PoolPositionState{}, err
	}
	return f.positions[poolID], nil
}

func (f *fakeLedger) CanApply(_ context.Context, poolID uint64, op Operation) (bool, error) {
	f.record("canApply")
	key := simKey{pool: poolID, op: op}
	f.mu.Lock()
	f.simulated = append(f.simulated, key)
	f.mu.Unlock()
	if err := f.simErrs[key]; err != nil {
		return false, err
	}
	return f.sims[key], nil
}

func (f *fakeLedger) EstimateBatchCost(context.Context, ValidatedBatch) (uint64, error) {
	f.record("estimateBatchCost")
	return f.unitCost, f.estimateErr
}

func (f *fakeLedger) UnitPrice(context.Context) (*big.Int, error) {
	f.record("unitPrice")
	return f.unitPrice, nil
}

func (f *fakeLedger) CanApplyBatch(context.Context, ValidatedBatch) (bool, error) {
	f.record("canApplyBatch")
	return f.batchOK, f.batchErr
}

func (f *fakeLedger) ApplyBatch(_ context.Context, _ ValidatedBatch, ceiling uint64) (string, error) {
	f.record("applyBatch")
	f.mu.Lock()
	f.appliedWith = ceiling
	f.mu.Unlock()
	if f.applyErr != nil {
		return "", f.applyErr
	}
	return f.txHash, nil
}

// fakeMarket 是 MarketView 的内存实现。
type fakeMarket struct {
	mu     sync.Mutex
	price  decimal.Decimal
	total  uint64
	cursor uint64
}

func (m *fakeMarket) PriceEstimate() decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.price
}

func (m *fakeMarket) TotalIntents() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.total
}

func (m *fakeMarket) Cursor() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cursor
}

func (m *fakeMarket) SetCursor(cursor uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cursor = cursor
}

type recordingSink struct {
	reports []CycleReport
	err     error
}

func (s *recordingSink) Record(_ context.Context, report CycleReport) error {
	s.reports = append(s.reports, report)
	return s.err
}

func (s *recordingSink) Notify(_ context.Context, report CycleReport) error {
	s.reports = append(s.reports, report)
	return s.err
}

type memoryCursors struct {
	saved  []uint64
	loaded uint64
	found  bool
}

func (c *memoryCursors) LoadCursor(context.Context) (uint64, bool, error) {
	return c.loaded, c.found, nil
}

func (c *memoryCursors) SaveCursor(_ context.Context, cursor uint64) error {
	c.saved = append(c.saved, cursor)
	return nil
}

func track(count, maxCount uint64) PositionTrack {
	return PositionTrack{Count: count, MaxCount: maxCount}
}

func state(longCount, longMax, hedgeCount, hedgeMax uint64) PoolPositionState {
	return PoolPositionState{Long: track(longCount, longMax), Hedge: track(hedgeCount, hedgeMax)}
}
