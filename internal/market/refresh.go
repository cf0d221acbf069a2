package market

import (
	"context"
	"log/slog"

	"github.com/shopspring/decimal"

	xerrors "GrinderAI-Chain/internal/errors"
)

// CodeRefreshFailed 表示共享状态刷新失败，保留旧值。
const CodeRefreshFailed xerrors.Code = "MARKET_REFRESH_FAILED"

func init() {
	xerrors.Register(CodeRefreshFailed, xerrors.Attributes{
		Message:   "market state refresh failed",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
	})
}

// IntentCounter 读取意图目录的总数。
type IntentCounter interface {
	TotalIntents(ctx context.Context) (uint64, error)
}

// PriceSource 返回原生资产的法币价格，失败时自行回退，不返回错误。
type PriceSource interface {
	Price(ctx context.Context) decimal.Decimal
}

// IntentCountRefresher 是意图总数的唯一写入方。
type IntentCountRefresher struct {
	state   *State
	counter IntentCounter
	logger  *slog.Logger
}

// NewIntentCountRefresher 构造意图总数刷新任务。
func NewIntentCountRefresher(state *State, counter IntentCounter, logger *slog.Logger) *IntentCountRefresher {
	if logger == nil {
		logger = slog.Default()
	}
	return &IntentCountRefresher{state: state, counter: counter, logger: logger}
}

// Refresh 读取意图总数。读取失败或返回 0 时保留旧值。
func (r *IntentCountRefresher) Refresh(ctx context.Context) error {
	total, err := r.counter.TotalIntents(ctx)
	if err != nil {
		wrapped := xerrors.Wrap(CodeRefreshFailed, err, "读取意图总数失败", xerrors.WithMetadata("field", "total_intents"))
		r.logger.Warn("意图总数刷新失败，保留旧值", xerrors.LogAttrs(wrapped)...)
		return wrapped
	}
	if total == 0 {
		r.logger.Warn("意图目录为空，保留旧的意图总数", slog.Uint64("current", r.state.TotalIntents()))
		return nil
	}
	r.state.SetTotalIntents(total)
	r.logger.Info("意图总数已刷新", slog.Uint64("total_intents", total))
	return nil
}

// PriceRefresher 是价格估计的唯一写入方。
type PriceRefresher struct {
	state  *State
	source PriceSource
	logger *slog.Logger
}

// NewPriceRefresher 构造价格刷新任务。
func NewPriceRefresher(state *State, source PriceSource, logger *slog.Logger) *PriceRefresher {
	if logger == nil {
		logger = slog.Default()
	}
	return &PriceRefresher{state: state, source: source, logger: logger}
}

// Refresh 写入最新价格，价格源负责回退，因此不会失败。
func (r *PriceRefresher) Refresh(ctx context.Context) error {
	price := r.source.Price(ctx)
	r.state.SetPrice(price)
	r.logger.Debug("价格估计已刷新", slog.String("price", price.String()))
	return nil
}
