package market

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "GrinderAI-Chain/internal/errors"
)

type stubCounter struct {
	total uint64
	err   error
}

func (s stubCounter) TotalIntents(context.Context) (uint64, error) {
	return s.total, s.err
}

type stubPrice decimal.Decimal

func (s stubPrice) Price(context.Context) decimal.Decimal {
	return decimal.Decimal(s)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewStateDefaults(t *testing.T) {
	t.Parallel()

	state := NewState(decimal.NewFromInt(2700))
	snapshot := state.Snapshot()

	assert.True(t, snapshot.PriceEstimate.Equal(decimal.NewFromInt(2700)))
	assert.Equal(t, DefaultTotalIntents, snapshot.TotalIntents)
	assert.Zero(t, snapshot.Cursor)
	assert.Nil(t, snapshot.PriceUpdatedAt)
	assert.Nil(t, snapshot.TotalUpdatedAt)
}

func TestIntentCountRefresherKeepsOldValueOnFailure(t *testing.T) {
	t.Parallel()

	state := NewState(decimal.NewFromInt(2700))
	require.NoError(t, NewIntentCountRefresher(state, stubCounter{total: 8}, quietLogger()).Refresh(context.Background()))
	assert.Equal(t, uint64(8), state.TotalIntents())
	assert.NotNil(t, state.Snapshot().TotalUpdatedAt)

	err := NewIntentCountRefresher(state, stubCounter{err: errors.New("rpc down")}, quietLogger()).Refresh(context.Background())
	assert.Equal(t, CodeRefreshFailed, xerrors.CodeOf(err))
	assert.Equal(t, uint64(8), state.TotalIntents())

	require.NoError(t, NewIntentCountRefresher(state, stubCounter{total: 0}, quietLogger()).Refresh(context.Background()))
	assert.Equal(t, uint64(8), state.TotalIntents())
}

func TestPriceRefresherStoresSourcePrice(t *testing.T) {
	t.Parallel()

	state := NewState(decimal.NewFromInt(2700))
	source := stubPrice(decimal.RequireFromString("3120.55"))

	require.NoError(t, NewPriceRefresher(state, source, quietLogger()).Refresh(context.Background()))
	assert.Equal(t, "3120.55", state.PriceEstimate().String())
}

func TestStateConcurrentWritersAndReaders(t *testing.T) {
	t.Parallel()

	state := NewState(decimal.NewFromInt(1))
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(3)
		go func(i int) {
			defer wg.Done()
			state.SetPrice(decimal.NewFromInt(int64(i)))
		}(i)
		go func(i int) {
			defer wg.Done()
			state.SetTotalIntents(uint64(i + 1))
		}(i)
		go func() {
			defer wg.Done()
			_ = state.Snapshot()
		}()
	}
	wg.Wait()

	assert.GreaterOrEqual(t, state.TotalIntents(), uint64(1))
}
