package events

import (
	"context"
	"errors"
	"fmt"
)

// namedPublisher 记录发布器对应的驱动名称，便于定位失败的渠道。
type namedPublisher struct {
	name string
	Publisher
}

// Fanout 将事件广播给多个发布器，单个渠道失败不影响其他渠道。
type Fanout struct {
	publishers []namedPublisher
}

// NewFanout 创建广播发布器，nil 发布器会被忽略。
func NewFanout(publishers map[string]Publisher) *Fanout {
	f := &Fanout{}
	for _, name := range sortedKeys(publishers) {
		if publishers[name] == nil {
			continue
		}
		f.publishers = append(f.publishers, namedPublisher{name: name, Publisher: publishers[name]})
	}
	return f
}

// Publish 将事件投递到所有渠道，返回合并后的错误。
func (f *Fanout) Publish(ctx context.Context, evt Event) error {
	var errs []error
	for _, p := range f.publishers {
		if err := p.Publish(ctx, evt); err != nil {
			errs = append(errs, fmt.Errorf("driver %s: %w", p.name, err))
		}
	}
	return errors.Join(errs...)
}

// Close 关闭所有渠道。
func (f *Fanout) Close() error {
	var errs []error
	for _, p := range f.publishers {
		if err := p.Close(); err != nil {
			errs = append(errs, fmt.Errorf("driver %s: %w", p.name, err))
		}
	}
	return errors.Join(errs...)
}

// Drivers 返回参与广播的驱动名称。
func (f *Fanout) Drivers() []string {
	names := make([]string, len(f.publishers))
	for i, p := range f.publishers {
		names[i] = p.name
	}
	return names
}
