package grind

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	xerrors "GrinderAI-Chain/internal/errors"
)

// SafetyMargin 是提交时对估算成本上限的放大系数 numerator/denominator。
type SafetyMargin struct {
	Numerator   uint64
	Denominator uint64
}

// DefaultSafetyMargin 对应 ×1.4。
var DefaultSafetyMargin = SafetyMargin{Numerator: 14, Denominator: 10}

// Validate 检查放大系数是否合法。
func (m SafetyMargin) Validate() error {
	if m.Denominator == 0 {
		return xerrors.New(CodeInvalidCycleArg, "safety margin denominator must not be zero")
	}
	if m.Numerator < m.Denominator {
		return xerrors.New(CodeInvalidCycleArg, fmt.Sprintf("safety margin %d/%d shrinks the estimate", m.Numerator, m.Denominator))
	}
	return nil
}

// Ceiling 返回 estimate × numerator ÷ denominator，中间结果使用大整数避免溢出。
func (m SafetyMargin) Ceiling(estimate uint64) uint64 {
	value := new(big.Int).SetUint64(estimate)
	value.Mul(value, new(big.Int).SetUint64(m.Numerator))
	value.Quo(value, new(big.Int).SetUint64(m.Denominator))
	if !value.IsUint64() {
		return ^uint64(0)
	}
	return value.Uint64()
}

// SubmitResult 描述一次成功提交。
type SubmitResult struct {
	TxHash      string
	CostCeiling uint64
}

// Submitter 在整批重新模拟通过后提交真实交易。
type Submitter struct {
	executor BatchExecutor
	margin   SafetyMargin
	logger   *slog.Logger
}

// NewSubmitter 构造 Submitter。
func NewSubmitter(executor BatchExecutor, margin SafetyMargin, logger *slog.Logger) (*Submitter, error) {
	if err := margin.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Submitter{executor: executor, margin: margin, logger: logger}, nil
}

// Submit 重新模拟整批操作，通过后以放大后的成本上限提交。
// 空批次直接返回，不产生任何远端调用。
func (s *Submitter) Submit(ctx context.Context, batch ValidatedBatch, estimatedCost uint64) (*SubmitResult, error) {
	if batch.Empty() {
		return nil, nil
	}

	ok, err := s.executor.CanApplyBatch(ctx, batch)
	if err != nil {
		return nil, xerrors.Wrap(CodeSimulation, err, "整批模拟调用失败")
	}
	if !ok {
		s.logger.Warn("整批模拟未通过，放弃提交", slog.String("batch", batch.String()))
		return nil, ErrBatchRejected
	}

	ceiling := s.margin.Ceiling(estimatedCost)
	txHash, err := s.executor.ApplyBatch(ctx, batch, ceiling)
	if err != nil {
		return nil, xerrors.Wrap(CodeSubmission, err, "提交批量操作失败",
			xerrors.WithMetadata("cost_ceiling", fmt.Sprintf("%d", ceiling)))
	}
	return &SubmitResult{TxHash: txHash, CostCeiling: ceiling}, nil
}
