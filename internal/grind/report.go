package grind

import (
	"time"

	"github.com/shopspring/decimal"
)

// Outcome 是一个决策周期的最终结论。
type Outcome string

const (
	// OutcomeAborted 表示意图列表无法获取，本周期提前结束，游标不推进。
	OutcomeAborted Outcome = "aborted"
	// OutcomeIdle 表示没有任何池子通过模拟。
	OutcomeIdle Outcome = "idle"
	// OutcomeCostExceeded 表示成本门控拒绝了本批次。
	OutcomeCostExceeded Outcome = "cost_exceeded"
	// OutcomeBatchRejected 表示整批模拟未通过。
	OutcomeBatchRejected Outcome = "batch_rejected"
	// OutcomeSubmitted 表示交易已经发出。
	OutcomeSubmitted Outcome = "submitted"
	// OutcomeFailed 表示成本估算或提交阶段出现错误。
	OutcomeFailed Outcome = "failed"
)

// Outcomes 按固定顺序列出全部周期结论，用于指标初始化。
var Outcomes = []Outcome{
	OutcomeAborted,
	OutcomeIdle,
	OutcomeCostExceeded,
	OutcomeBatchRejected,
	OutcomeSubmitted,
	OutcomeFailed,
}

// CycleReport 汇总一个周期的输入、决策与结果。
type CycleReport struct {
	ID            string
	StartedAt     time.Time
	FinishedAt    time.Time
	Cursor        uint64
	TotalIntents  uint64
	IntentIDs     []uint64
	PoolCount     int
	Batch         ValidatedBatch
	PoolFailures  []PoolFailure
	UnitCost      uint64
	UnitPrice     string
	CostCeiling   uint64
	PriceEstimate decimal.Decimal
	FiatCost      decimal.Decimal
	Budget        decimal.Decimal
	Outcome       Outcome
	TxHash        string
	Err           error
}

// Duration 返回周期耗时。
func (r CycleReport) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// ErrorMessage 返回错误文本，没有错误时为空字符串。
func (r CycleReport) ErrorMessage() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// FailuresByStage 统计各阶段的池子失败次数。
func (r CycleReport) FailuresByStage() map[string]int {
	if len(r.PoolFailures) == 0 {
		return nil
	}
	counts := make(map[string]int, 2)
	for _, failure := range r.PoolFailures {
		counts[failure.Stage]++
	}
	return counts
}

// Notable 判断报告是否需要作为事件对外发布，空闲与中止周期不发布。
func (r CycleReport) Notable() bool {
	switch r.Outcome {
	case OutcomeCostExceeded, OutcomeBatchRejected, OutcomeSubmitted, OutcomeFailed:
		return true
	default:
		return false
	}
}
