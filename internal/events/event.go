package events

import (
	"time"

	"github.com/google/uuid"

	xerrors "GrinderAI-Chain/internal/errors"
	"GrinderAI-Chain/internal/grind"
)

// Kind 标识事件类型。
type Kind string

const (
	KindBatchSubmitted   Kind = "batch_submitted"
	KindBatchRejected    Kind = "batch_rejected"
	KindCostExceeded     Kind = "cost_exceeded"
	KindSubmissionFailed Kind = "submission_failed"
)

// KindOf 将周期结论映射为事件类型，不需要发布的结论返回 false。
func KindOf(outcome grind.Outcome) (Kind, bool) {
	switch outcome {
	case grind.OutcomeSubmitted:
		return KindBatchSubmitted, true
	case grind.OutcomeBatchRejected:
		return KindBatchRejected, true
	case grind.OutcomeCostExceeded:
		return KindCostExceeded, true
	case grind.OutcomeFailed:
		return KindSubmissionFailed, true
	default:
		return "", false
	}
}

// Operation 是事件中的一对 (池子, 操作)。
type Operation struct {
	PoolID uint64 `json:"pool_id"`
	Op     string `json:"op"`
}

// Event 是对外发布的消息体。
type Event struct {
	ID          string      `json:"id"`
	Kind        Kind        `json:"kind"`
	CycleID     string      `json:"cycle_id"`
	OccurredAt  time.Time   `json:"occurred_at"`
	IntentIDs   []uint64    `json:"intent_ids"`
	Operations  []Operation `json:"operations"`
	UnitCost    uint64      `json:"unit_cost,omitempty"`
	CostCeiling uint64      `json:"cost_ceiling,omitempty"`
	FiatCost    string      `json:"fiat_cost,omitempty"`
	Budget      string      `json:"budget,omitempty"`
	TxHash      string      `json:"tx_hash,omitempty"`
	ErrorCode   string      `json:"error_code,omitempty"`
	Error       string      `json:"error,omitempty"`
}

// FromReport 根据周期报告构造事件。
func FromReport(report grind.CycleReport) (Event, bool) {
	kind, ok := KindOf(report.Outcome)
	if !ok {
		return Event{}, false
	}
	occurred := report.FinishedAt
	if occurred.IsZero() {
		occurred = time.Now()
	}
	evt := Event{
		ID:          uuid.NewString(),
		Kind:        kind,
		CycleID:     report.ID,
		OccurredAt:  occurred.UTC(),
		IntentIDs:   append([]uint64{}, report.IntentIDs...),
		Operations:  make([]Operation, report.Batch.Len()),
		UnitCost:    report.UnitCost,
		CostCeiling: report.CostCeiling,
		TxHash:      report.TxHash,
	}
	for i := range report.Batch.PoolIDs {
		evt.Operations[i] = Operation{PoolID: report.Batch.PoolIDs[i], Op: report.Batch.Ops[i].String()}
	}
	if !report.Budget.IsZero() {
		evt.FiatCost = report.FiatCost.String()
		evt.Budget = report.Budget.String()
	}
	if report.Err != nil {
		evt.ErrorCode = string(xerrors.CodeOf(report.Err))
		evt.Error = report.Err.Error()
	}
	return evt, true
}
