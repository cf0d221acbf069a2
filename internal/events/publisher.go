package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	xerrors "GrinderAI-Chain/internal/errors"
)

// CodePublishFailed 表示事件发布失败。
const CodePublishFailed xerrors.Code = "EVENT_PUBLISH_FAILED"

func init() {
	xerrors.Register(CodePublishFailed, xerrors.Attributes{
		Message:   "event publish failed",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
	})
}

// Publisher 负责把事件投递到具体的消息系统。
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
	Close() error
}

// Config 描述发布驱动的选择与连接参数。
type Config struct {
	Driver   string
	Memory   MemoryConfig
	Redis    RedisConfig
	RabbitMQ RabbitMQConfig
}

// NewPublisher 根据驱动名称创建发布器。driver 可以是逗号分隔的多个驱动，
// 此时返回广播发布器；none 或空时返回 nil。
func NewPublisher(ctx context.Context, cfg Config) (Publisher, error) {
	drivers := ParseDrivers(cfg.Driver)
	if len(drivers) == 0 {
		return nil, nil
	}
	if len(drivers) == 1 {
		return newDriver(ctx, drivers[0], cfg)
	}

	opened := make(map[string]Publisher, len(drivers))
	for _, driver := range drivers {
		pub, err := newDriver(ctx, driver, cfg)
		if err != nil {
			_ = NewFanout(opened).Close()
			return nil, err
		}
		opened[driver] = pub
	}
	return NewFanout(opened), nil
}

// ParseDrivers 解析驱动列表，去掉 none、空白与重复项。
func ParseDrivers(raw string) []string {
	seen := make(map[string]struct{})
	var drivers []string
	for _, part := range strings.Split(raw, ",") {
		name := strings.ToLower(strings.TrimSpace(part))
		if name == "" || name == "none" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		drivers = append(drivers, name)
	}
	return drivers
}

func newDriver(ctx context.Context, driver string, cfg Config) (Publisher, error) {
	switch driver {
	case "memory":
		return NewMemoryPublisher(cfg.Memory.Capacity), nil
	case "redis":
		pub, err := NewRedisPublisher(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		return pub, nil
	case "rabbitmq":
		pub, err := NewRabbitMQPublisher(cfg.RabbitMQ)
		if err != nil {
			return nil, err
		}
		return pub, nil
	default:
		return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("未知的事件驱动: %s", driver))
	}
}

func sortedKeys(m map[string]Publisher) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func encode(evt Event) ([]byte, error) {
	body, err := json.Marshal(evt)
	if err != nil {
		return nil, xerrors.Wrap(CodePublishFailed, err, "序列化事件失败",
			xerrors.WithRetryable(false), xerrors.WithMetadata("event_id", evt.ID))
	}
	return body, nil
}
