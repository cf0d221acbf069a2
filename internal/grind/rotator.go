package grind

import (
	"fmt"

	xerrors "GrinderAI-Chain/internal/errors"
)

// DefaultPageSize 是每个周期默认处理的意图数量。
const DefaultPageSize = 1

// Rotator 维护意图目录上的轮换游标计算规则。
type Rotator struct {
	pageSize uint64
}

// NewRotator 创建轮换器，pageSize 必须为正数。
func NewRotator(pageSize int) (*Rotator, error) {
	if pageSize <= 0 {
		return nil, xerrors.New(CodeInvalidCycleArg, fmt.Sprintf("intents per grind must be positive, got %d", pageSize))
	}
	return &Rotator{pageSize: uint64(pageSize)}, nil
}

// PageSize 返回每页意图数量。
func (r *Rotator) PageSize() int {
	return int(r.pageSize)
}

// Next 返回从 cursor 开始的下一页意图 ID：(cursor + i) mod total。
func (r *Rotator) Next(cursor, total uint64) ([]uint64, error) {
	if total == 0 {
		return nil, ErrEmptyCatalog
	}
	ids := make([]uint64, r.pageSize)
	for i := uint64(0); i < r.pageSize; i++ {
		ids[i] = addMod(cursor, i, total)
	}
	return ids, nil
}

// Advance 返回处理完一页后的新游标：(cursor + pageSize) mod total。
func (r *Rotator) Advance(cursor, total uint64) (uint64, error) {
	if total == 0 {
		return 0, ErrEmptyCatalog
	}
	return addMod(cursor, r.pageSize, total), nil
}

// addMod 返回 (a + b) mod m，a + b 超出 uint64 时结果依然正确。m 必须大于 0。
func addMod(a, b, m uint64) uint64 {
	a %= m
	b %= m
	if a >= m-b {
		return a - (m - b)
	}
	return a + b
}
