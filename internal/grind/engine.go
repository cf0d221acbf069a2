package grind

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	xerrors "GrinderAI-Chain/internal/errors"
)

// persistTimeout 限制周期结束后记录与发布的耗时。
const persistTimeout = 5 * time.Second

// MarketView 是决策周期对共享市场状态的读写视图。
// 周期只读取价格与意图总数，游标由周期自身唯一写入。
type MarketView interface {
	PriceEstimate() decimal.Decimal
	TotalIntents() uint64
	Cursor() uint64
	SetCursor(cursor uint64)
}

// CycleObserver 接收周期结束后的报告，通常用于指标统计。
type CycleObserver interface {
	ObserveCycle(report CycleReport)
}

// Engine 串联轮换、校验、成本门控与提交，执行一个完整的决策周期。
type Engine struct {
	market    MarketView
	ledger    Ledger
	rotator   *Rotator
	validator *Validator
	gate      *CostGate
	submitter *Submitter

	recorder CycleRecorder
	sink     EventSink
	cursors  CursorStore
	observer CycleObserver

	logger *slog.Logger
	audit  *slog.Logger
	now    func() time.Time
}

// EngineOption 定义可选配置。
type EngineOption func(*Engine)

// WithRecorder 设置周期历史记录器。
func WithRecorder(recorder CycleRecorder) EngineOption {
	return func(e *Engine) { e.recorder = recorder }
}

// WithEventSink 设置事件发布目标。
func WithEventSink(sink EventSink) EngineOption {
	return func(e *Engine) { e.sink = sink }
}

// WithCursorStore 设置游标持久化。
func WithCursorStore(store CursorStore) EngineOption {
	return func(e *Engine) { e.cursors = store }
}

// WithObserver 设置周期观察者。
func WithObserver(observer CycleObserver) EngineOption {
	return func(e *Engine) { e.observer = observer }
}

// WithLogger 设置运行日志。
func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) { e.logger = logger }
}

// WithAuditLogger 设置审计日志，成功提交的交易写入审计日志。
func WithAuditLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) { e.audit = logger }
}

// WithClock 替换时间来源，便于测试。
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// NewEngine 构造决策引擎。
func NewEngine(market MarketView, ledger Ledger, rotator *Rotator, validator *Validator, gate *CostGate, submitter *Submitter, opts ...EngineOption) (*Engine, error) {
	switch {
	case market == nil:
		return nil, xerrors.New(CodeInvalidCycleArg, "market state is required")
	case ledger == nil:
		return nil, xerrors.New(CodeInvalidCycleArg, "ledger is required")
	case rotator == nil, validator == nil, gate == nil, submitter == nil:
		return nil, xerrors.New(CodeInvalidCycleArg, "rotator, validator, cost gate and submitter are required")
	}

	e := &Engine{
		market:    market,
		ledger:    ledger,
		rotator:   rotator,
		validator: validator,
		gate:      gate,
		submitter: submitter,
		now:       time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.audit == nil {
		e.audit = e.logger
	}
	return e, nil
}

// RestoreCursor 从持久化存储恢复游标，找不到记录时保持当前值。
func (e *Engine) RestoreCursor(ctx context.Context) error {
	if e.cursors == nil {
		return nil
	}
	cursor, ok, err := e.cursors.LoadCursor(ctx)
	if err != nil {
		return err
	}
	if ok {
		e.market.SetCursor(cursor)
		e.logger.Info("已恢复意图游标", slog.Uint64("cursor", cursor))
	}
	return nil
}

// RunCycle 执行一个决策周期。所有错误都在这里记录并吞掉，
// 保证下一次调度仍然会触发。
func (e *Engine) RunCycle(ctx context.Context) CycleReport {
	report := CycleReport{
		ID:        uuid.NewString(),
		StartedAt: e.now(),
	}
	logger := e.logger.With(slog.String("cycle_id", report.ID))

	e.run(ctx, logger, &report)

	report.FinishedAt = e.now()
	e.finish(ctx, logger, report)
	return report
}

func (e *Engine) run(ctx context.Context, logger *slog.Logger, report *CycleReport) {
	report.Cursor = e.market.Cursor()
	report.TotalIntents = e.market.TotalIntents()

	ids, err := e.rotator.Next(report.Cursor, report.TotalIntents)
	if err != nil {
		report.Outcome, report.Err = OutcomeAborted, err
		return
	}
	report.IntentIDs = ids

	intents, err := e.ledger.GetIntents(ctx, ids)
	if err != nil {
		report.Outcome = OutcomeAborted
		report.Err = xerrors.Wrap(CodeRemoteRead, err, "获取意图列表失败")
		return
	}
	e.advanceCursor(ctx, logger, report.Cursor, report.TotalIntents)

	poolIDs := flattenPoolIDs(intents)
	report.PoolCount = len(poolIDs)
	report.Batch, report.PoolFailures = e.validator.Validate(ctx, poolIDs)
	if report.Batch.Empty() {
		report.Outcome = OutcomeIdle
		return
	}

	unitCost, err := e.ledger.EstimateBatchCost(ctx, report.Batch)
	if err != nil {
		report.Outcome = OutcomeFailed
		report.Err = xerrors.Wrap(CodeRemoteRead, err, "估算批次成本失败", xerrors.WithMetadata("stage", "estimate"))
		return
	}
	report.UnitCost = unitCost

	unitPrice, err := e.ledger.UnitPrice(ctx)
	if err != nil {
		report.Outcome = OutcomeFailed
		report.Err = xerrors.Wrap(CodeRemoteRead, err, "获取单位价格失败", xerrors.WithMetadata("stage", "unit_price"))
		return
	}
	report.UnitPrice = unitPrice.String()
	report.PriceEstimate = e.market.PriceEstimate()

	allowed, fiatCost, budget := e.gate.Allow(unitCost, unitPrice, report.PriceEstimate, report.Batch.Len())
	report.FiatCost, report.Budget = fiatCost, budget
	if !allowed {
		report.Outcome = OutcomeCostExceeded
		report.Err = xerrors.New(CodeCostExceeded, "",
			xerrors.WithMetadata("fiat_cost", fiatCost.String()),
			xerrors.WithMetadata("budget", budget.String()))
		return
	}

	result, err := e.submitter.Submit(ctx, report.Batch, unitCost)
	switch {
	case errors.Is(err, ErrBatchRejected):
		report.Outcome, report.Err = OutcomeBatchRejected, err
	case err != nil:
		report.Outcome, report.Err = OutcomeFailed, err
	default:
		report.Outcome = OutcomeSubmitted
		report.TxHash = result.TxHash
		report.CostCeiling = result.CostCeiling
	}
}

func (e *Engine) advanceCursor(ctx context.Context, logger *slog.Logger, cursor, total uint64) {
	next, err := e.rotator.Advance(cursor, total)
	if err != nil {
		return
	}
	e.market.SetCursor(next)
	if e.cursors == nil {
		return
	}
	if err := e.cursors.SaveCursor(ctx, next); err != nil {
		logger.Warn("保存意图游标失败", xerrors.LogAttrs(err)...)
	}
}

func (e *Engine) finish(ctx context.Context, logger *slog.Logger, report CycleReport) {
	attrs := []any{
		slog.String("outcome", string(report.Outcome)),
		slog.Any("intent_ids", report.IntentIDs),
		slog.Int("pools", report.PoolCount),
		slog.Int("accepted", report.Batch.Len()),
		slog.Int("pool_failures", len(report.PoolFailures)),
		slog.Duration("duration", report.Duration()),
	}
	if !report.FiatCost.IsZero() || !report.Budget.IsZero() {
		attrs = append(attrs, slog.String("fiat_cost", report.FiatCost.String()), slog.String("budget", report.Budget.String()))
	}

	switch {
	case report.Outcome == OutcomeSubmitted:
		logger.Info("批量操作已提交", append(attrs, slog.String("tx_hash", report.TxHash))...)
		e.audit.Info("grind batch submitted",
			slog.String("cycle_id", report.ID),
			slog.String("tx_hash", report.TxHash),
			slog.String("batch", report.Batch.String()),
			slog.Uint64("unit_cost", report.UnitCost),
			slog.Uint64("cost_ceiling", report.CostCeiling),
			slog.String("unit_price", report.UnitPrice),
			slog.String("fiat_cost", report.FiatCost.String()))
	case report.Err != nil:
		logger.Log(ctx, xerrors.LevelOf(report.Err), "决策周期结束", append(attrs, xerrors.LogAttrs(report.Err)...)...)
	default:
		logger.Info("决策周期结束", attrs...)
	}

	// 周期上下文可能已经超时，记录与发布使用独立的期限。
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if e.recorder != nil {
		if err := e.recorder.Record(persistCtx, report); err != nil {
			logger.Warn("保存周期记录失败", xerrors.LogAttrs(err)...)
		}
	}
	if e.sink != nil && report.Notable() {
		if err := e.sink.Notify(persistCtx, report); err != nil {
			logger.Warn("发布周期事件失败", xerrors.LogAttrs(err)...)
		}
	}
	if e.observer != nil {
		e.observer.ObserveCycle(report)
	}
}
