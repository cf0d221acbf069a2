package grind

import (
	"context"
	"math/big"
)

// IntentCatalog 提供意图目录的只读访问。
type IntentCatalog interface {
	TotalIntents(ctx context.Context) (uint64, error)
	GetIntents(ctx context.Context, ids []uint64) ([]Intent, error)
}

// PositionReader 拉取单个池子的仓位快照，必须支持对不同池子并发调用。
type PositionReader interface {
	GetPositions(ctx context.Context, poolID uint64) (PoolPositionState, error)
}

// Simulator 在不改变链上状态的前提下判断操作是否可执行。
// 返回 false 表示正常的否定结论，error 表示调用本身失败。
type Simulator interface {
	CanApply(ctx context.Context, poolID uint64, op Operation) (bool, error)
}

// BatchExecutor 覆盖批量操作的成本估算、整批模拟与真实提交。
type BatchExecutor interface {
	EstimateBatchCost(ctx context.Context, batch ValidatedBatch) (uint64, error)
	UnitPrice(ctx context.Context) (*big.Int, error)
	CanApplyBatch(ctx context.Context, batch ValidatedBatch) (bool, error)
	ApplyBatch(ctx context.Context, batch ValidatedBatch, costCeiling uint64) (string, error)
}

// Ledger 汇总决策周期所需的全部远端能力。
type Ledger interface {
	IntentCatalog
	PositionReader
	Simulator
	BatchExecutor
}

// CycleRecorder 保存每个周期的执行报告。
type CycleRecorder interface {
	Record(ctx context.Context, report CycleReport) error
}

// EventSink 接收周期内产生的关键事件。
type EventSink interface {
	Notify(ctx context.Context, report CycleReport) error
}

// CursorStore 持久化意图轮换游标，进程重启后可以从上次的位置继续。
type CursorStore interface {
	LoadCursor(ctx context.Context) (uint64, bool, error)
	SaveCursor(ctx context.Context, cursor uint64) error
}
