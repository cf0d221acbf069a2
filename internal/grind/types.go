package grind

import (
	"fmt"
	"math/big"
	"strings"
)

// Operation 是池子上可执行的状态迁移操作，数值与合约中的枚举编码一致。
type Operation uint8

const (
	OpLongBuy Operation = iota
	OpLongSell
	OpHedgeSell
	OpHedgeRebuy
)

// String 返回操作的可读名称。
func (o Operation) String() string {
	switch o {
	case OpLongBuy:
		return "long_buy"
	case OpLongSell:
		return "long_sell"
	case OpHedgeSell:
		return "hedge_sell"
	case OpHedgeRebuy:
		return "hedge_rebuy"
	default:
		return fmt.Sprintf("op(%d)", uint8(o))
	}
}

// Valid 判断操作是否属于已知的四种操作之一。
func (o Operation) Valid() bool {
	return o <= OpHedgeRebuy
}

// PositionTrack 描述 long 或 hedge 仓位梯度的当前状态。
// 只有 Count 与 MaxCount 参与决策，其余字段原样携带。
type PositionTrack struct {
	Count       uint64
	MaxCount    uint64
	MinPrice    *big.Int
	Liquidity   *big.Int
	Quantity    *big.Int
	Price       *big.Int
	FeeQuantity *big.Int
	FeePrice    *big.Int
}

// PoolPositionState 是某个池子在本周期内拉取的仓位快照，不跨周期缓存。
type PoolPositionState struct {
	Long  PositionTrack
	Hedge PositionTrack
}

// Intent 引用一组需要一起评估的池子。
type Intent struct {
	ID      uint64
	PoolIDs []uint64
}

// ValidatedBatch 保存本周期通过模拟的 (池子, 操作) 对。
// PoolIDs 与 Ops 始终等长，Ops[i] 是 PoolIDs[i] 被接受的操作；只能通过 Append 写入。
type ValidatedBatch struct {
	PoolIDs []uint64
	Ops     []Operation
}

// Append 追加一对结果，保证两个序列同步增长。
func (b *ValidatedBatch) Append(poolID uint64, op Operation) {
	b.PoolIDs = append(b.PoolIDs, poolID)
	b.Ops = append(b.Ops, op)
}

// Len 返回批次中的操作数量。
func (b ValidatedBatch) Len() int {
	return len(b.PoolIDs)
}

// Empty 判断批次是否为空。
func (b ValidatedBatch) Empty() bool {
	return len(b.PoolIDs) == 0
}

// OpNames 返回操作名称列表，便于日志与事件输出。
func (b ValidatedBatch) OpNames() []string {
	names := make([]string, len(b.Ops))
	for i, op := range b.Ops {
		names[i] = op.String()
	}
	return names
}

// String 以 "pool:op" 的形式输出批次内容。
func (b ValidatedBatch) String() string {
	parts := make([]string, b.Len())
	for i := range b.PoolIDs {
		parts[i] = fmt.Sprintf("%d:%s", b.PoolIDs[i], b.Ops[i])
	}
	return "[" + strings.Join(parts, " ") + "]"
}

// flattenPoolIDs 按意图顺序展开所有池子，重复的池子会保留。
func flattenPoolIDs(intents []Intent) []uint64 {
	var total int
	for _, intent := range intents {
		total += len(intent.PoolIDs)
	}
	poolIDs := make([]uint64, 0, total)
	for _, intent := range intents {
		poolIDs = append(poolIDs, intent.PoolIDs...)
	}
	return poolIDs
}
