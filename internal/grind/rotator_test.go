package grind

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "GrinderAI-Chain/internal/errors"
)

func TestRotatorCursorSequenceWraps(t *testing.T) {
	t.Parallel()

	rotator, err := NewRotator(2)
	require.NoError(t, err)

	var (
		cursor  uint64
		visited []uint64
	)
	for i := 0; i < 6; i++ {
		visited = append(visited, cursor)
		cursor, err = rotator.Advance(cursor, 5)
		require.NoError(t, err)
	}
	assert.Equal(t, []uint64{0, 2, 4, 1, 3, 0}, visited)
}

func TestRotatorNextPageWrapsPastTotal(t *testing.T) {
	t.Parallel()

	rotator, err := NewRotator(2)
	require.NoError(t, err)

	ids, err := rotator.Next(4, 5)
	require.NoError(t, err)
	assert.Equal(t, []uint64{4, 0}, ids)

	ids, err = rotator.Next(9, 5)
	require.NoError(t, err)
	assert.Equal(t, []uint64{4, 0}, ids)
}

func TestRotatorArithmeticNearUint64Max(t *testing.T) {
	t.Parallel()

	r, err := NewRotator(3)
	require.NoError(t, err)

	const top = ^uint64(0)
	ids, err := r.Next(top-1, top)
	require.NoError(t, err)
	assert.Equal(t, []uint64{top - 1, 0, 1}, ids)

	next, err := r.Advance(top-1, top)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), next)

	assert.Equal(t, uint64(2), addMod(top, top, top-1))
	assert.Equal(t, uint64(4), addMod(7, 9, 6))
}

func TestRotatorRejectsEmptyCatalog(t *testing.T) {
	t.Parallel()

	rotator, err := NewRotator(DefaultPageSize)
	require.NoError(t, err)

	_, err = rotator.Next(0, 0)
	assert.True(t, errors.Is(err, ErrEmptyCatalog))

	_, err = rotator.Advance(0, 0)
	assert.Equal(t, CodeEmptyCatalog, xerrors.CodeOf(err))
}

func TestNewRotatorValidatesPageSize(t *testing.T) {
	t.Parallel()

	_, err := NewRotator(0)
	require.Error(t, err)
	assert.Equal(t, CodeInvalidCycleArg, xerrors.CodeOf(err))
}
