package events

import (
	"context"
	"errors"
	"sync"
)

// MemoryConfig 控制内存发布器保留的事件数量。
type MemoryConfig struct {
	Capacity int
}

// MemoryPublisher 在内存中保留最近的事件，主要用于测试与单机调试。
type MemoryPublisher struct {
	mu       sync.Mutex
	capacity int
	events   []Event
	closed   bool
}

// NewMemoryPublisher 创建内存发布器，capacity 为保留的最大事件数。
func NewMemoryPublisher(capacity int) *MemoryPublisher {
	if capacity <= 0 {
		capacity = 64
	}
	return &MemoryPublisher{capacity: capacity}
}

// Publish 追加事件，超过容量时丢弃最旧的事件。
func (p *MemoryPublisher) Publish(ctx context.Context, evt Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return errors.New("发布器已关闭")
	}
	p.events = append(p.events, evt)
	if overflow := len(p.events) - p.capacity; overflow > 0 {
		p.events = append([]Event(nil), p.events[overflow:]...)
	}
	return nil
}

// Events 返回当前保留事件的副本，按发布顺序排列。
func (p *MemoryPublisher) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Event(nil), p.events...)
}

// Close 关闭发布器。
func (p *MemoryPublisher) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}
