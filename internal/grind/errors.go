package grind

import (
	xerrors "GrinderAI-Chain/internal/errors"
)

const (
	CodeRemoteRead      xerrors.Code = "REMOTE_READ_FAILED"
	CodeSimulation      xerrors.Code = "SIMULATION_FAILED"
	CodeEmptyCatalog    xerrors.Code = "EMPTY_CATALOG"
	CodeCostExceeded    xerrors.Code = "COST_EXCEEDED"
	CodeBatchRejected   xerrors.Code = "BATCH_REJECTED"
	CodeSubmission      xerrors.Code = "SUBMISSION_FAILED"
	CodeInvalidCycleArg xerrors.Code = "INVALID_CYCLE_ARGUMENT"
)

var (
	// ErrEmptyCatalog 表示意图目录为空，本周期没有可轮换的意图。
	ErrEmptyCatalog = xerrors.New(CodeEmptyCatalog, "intent catalog is empty")
	// ErrCostExceeded 表示批次的法币成本达到或超过预算，属于例行跳过。
	ErrCostExceeded = xerrors.New(CodeCostExceeded, "batch cost exceeds budget")
	// ErrBatchRejected 表示整批模拟未通过，链上状态在逐池校验后发生了变化。
	ErrBatchRejected = xerrors.New(CodeBatchRejected, "batch simulation rejected")
)

func init() {
	xerrors.Register(CodeRemoteRead, xerrors.Attributes{
		Message:   "remote read failed",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
	})
	xerrors.Register(CodeSimulation, xerrors.Attributes{
		Message:   "simulation call failed",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
	})
	xerrors.Register(CodeEmptyCatalog, xerrors.Attributes{
		Message:  "intent catalog is empty",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeCostExceeded, xerrors.Attributes{
		Message:  "batch cost exceeds budget",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeBatchRejected, xerrors.Attributes{
		Message:  "batch simulation rejected",
		Severity: xerrors.SeverityWarning,
	})
	xerrors.Register(CodeSubmission, xerrors.Attributes{
		Message:   "batch submission failed",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
	})
	xerrors.Register(CodeInvalidCycleArg, xerrors.Attributes{
		Message:  "invalid cycle argument",
		Severity: xerrors.SeverityCritical,
	})
}
