package grind

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	xerrors "GrinderAI-Chain/internal/errors"
)

// 池子评估失败的阶段。
const (
	StagePositions = "positions"
	StageSimulate  = "simulate"
)

// PoolFailure 记录某个池子在本周期内因远端错误被跳过的原因。
type PoolFailure struct {
	Index  int
	PoolID uint64
	Stage  string
	Err    error
}

// poolResult 是单个池子评估结果在索引槽中的表示。
type poolResult struct {
	op       Operation
	accepted bool
	failure  *PoolFailure
}

// Validator 并发地为每个池子选择第一个模拟通过的候选操作。
type Validator struct {
	positions      PositionReader
	simulator      Simulator
	maxConcurrency int
	logger         *slog.Logger
}

// ValidatorOption 定义可选配置。
type ValidatorOption func(*Validator)

// WithMaxConcurrency 限制同时评估的池子数量，0 表示不限制。
func WithMaxConcurrency(limit int) ValidatorOption {
	return func(v *Validator) {
		if limit > 0 {
			v.maxConcurrency = limit
		}
	}
}

// WithValidatorLogger 指定日志输出。
func WithValidatorLogger(logger *slog.Logger) ValidatorOption {
	return func(v *Validator) {
		v.logger = logger
	}
}

// NewValidator 构造 Validator。
func NewValidator(positions PositionReader, simulator Simulator, opts ...ValidatorOption) *Validator {
	v := &Validator{positions: positions, simulator: simulator}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	if v.logger == nil {
		v.logger = slog.Default()
	}
	return v
}

// Validate 评估全部池子并按输入顺序汇总结果。
// 单个池子的失败只会使该池子在本周期内不贡献操作，不影响其它池子。
func (v *Validator) Validate(ctx context.Context, poolIDs []uint64) (ValidatedBatch, []PoolFailure) {
	slots := make([]poolResult, len(poolIDs))

	var sem chan struct{}
	if v.maxConcurrency > 0 {
		sem = make(chan struct{}, v.maxConcurrency)
	}

	var wg sync.WaitGroup
	for i, poolID := range poolIDs {
		wg.Add(1)
		go func(idx int, poolID uint64) {
			defer wg.Done()
			if sem != nil {
				select {
				case sem <- struct{}{}:
					defer func() { <-sem }()
				case <-ctx.Done():
					slots[idx] = poolResult{failure: &PoolFailure{Index: idx, PoolID: poolID, Stage: StagePositions, Err: ctx.Err()}}
					return
				}
			}
			slots[idx] = v.evaluate(ctx, idx, poolID)
		}(i, poolID)
	}
	wg.Wait()

	var (
		batch    ValidatedBatch
		failures []PoolFailure
	)
	for i, slot := range slots {
		switch {
		case slot.failure != nil:
			failures = append(failures, *slot.failure)
		case slot.accepted:
			batch.Append(poolIDs[i], slot.op)
		}
	}
	return batch, failures
}

func (v *Validator) evaluate(ctx context.Context, idx int, poolID uint64) poolResult {
	state, err := v.positions.GetPositions(ctx, poolID)
	if err != nil {
		wrapped := xerrors.Wrap(CodeRemoteRead, err, "获取池子仓位失败",
			xerrors.WithMetadata("pool_id", strconv.FormatUint(poolID, 10)))
		v.logger.Warn("池子仓位拉取失败，本周期跳过", xerrors.LogAttrs(wrapped)...)
		return poolResult{failure: &PoolFailure{Index: idx, PoolID: poolID, Stage: StagePositions, Err: wrapped}}
	}

	for _, op := range SelectOperations(state) {
		ok, err := v.simulator.CanApply(ctx, poolID, op)
		if err != nil {
			wrapped := xerrors.Wrap(CodeSimulation, err, fmt.Sprintf("模拟 %s 失败", op),
				xerrors.WithMetadata("pool_id", strconv.FormatUint(poolID, 10)),
				xerrors.WithMetadata("op", op.String()))
			v.logger.Warn("池子模拟调用失败，本周期跳过", xerrors.LogAttrs(wrapped)...)
			return poolResult{failure: &PoolFailure{Index: idx, PoolID: poolID, Stage: StageSimulate, Err: wrapped}}
		}
		if ok {
			v.logger.Debug("池子操作模拟通过", slog.Uint64("pool_id", poolID), slog.String("op", op.String()))
			return poolResult{op: op, accepted: true}
		}
		v.logger.Debug("池子操作模拟未通过", slog.Uint64("pool_id", poolID), slog.String("op", op.String()))
	}
	return poolResult{}
}
