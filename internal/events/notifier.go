package events

import (
	"context"
	"log/slog"

	"GrinderAI-Chain/internal/grind"
	"GrinderAI-Chain/pkg/logger"
)

// Notifier 将周期报告转换为事件并交给发布器，实现 grind.EventSink。
type Notifier struct {
	publisher Publisher
	logger    *slog.Logger
}

// NewNotifier 创建通知器，logger 为空时使用全局 logger。
func NewNotifier(publisher Publisher, log *slog.Logger) *Notifier {
	if log == nil {
		log = logger.Named("events")
	}
	return &Notifier{publisher: publisher, logger: log}
}

// Notify 发布一条周期事件，不需要发布的结论直接忽略。
func (n *Notifier) Notify(ctx context.Context, report grind.CycleReport) error {
	if n == nil || n.publisher == nil {
		return nil
	}
	evt, ok := FromReport(report)
	if !ok {
		return nil
	}
	if err := n.publisher.Publish(ctx, evt); err != nil {
		return err
	}
	n.logger.Debug("周期事件已发布",
		slog.String("event_id", evt.ID),
		slog.String("kind", string(evt.Kind)),
		slog.String("cycle_id", evt.CycleID))
	return nil
}

var _ grind.EventSink = (*Notifier)(nil)
