// Package market 保存决策周期与刷新任务共享的市场状态。
//
// 每个字段只有一个写入方：价格由价格刷新任务写入，意图总数由意图计数刷新任务写入，
// 游标由决策周期写入。读取方可以看到上一轮刷新的旧值，字段之间不保证快照一致。
package market

import (
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultTotalIntents 是首次刷新前使用的意图总数。
const DefaultTotalIntents uint64 = 1

// State 是进程生命周期内的共享市场状态。
type State struct {
	price        atomic.Pointer[decimal.Decimal]
	totalIntents atomic.Uint64
	cursor       atomic.Uint64

	priceUpdatedAt atomic.Int64
	totalUpdatedAt atomic.Int64
}

// NewState 以初始价格创建共享状态，意图总数初始为 DefaultTotalIntents。
func NewState(initialPrice decimal.Decimal) *State {
	s := &State{}
	s.price.Store(&initialPrice)
	s.totalIntents.Store(DefaultTotalIntents)
	return s
}

// PriceEstimate 返回最近一次写入的价格。
func (s *State) PriceEstimate() decimal.Decimal {
	if p := s.price.Load(); p != nil {
		return *p
	}
	return decimal.Zero
}

// SetPrice 替换价格估计。
func (s *State) SetPrice(price decimal.Decimal) {
	s.price.Store(&price)
	s.priceUpdatedAt.Store(time.Now().UnixNano())
}

// TotalIntents 返回最近一次写入的意图总数。
func (s *State) TotalIntents() uint64 {
	return s.totalIntents.Load()
}

// SetTotalIntents 替换意图总数。
func (s *State) SetTotalIntents(total uint64) {
	s.totalIntents.Store(total)
	s.totalUpdatedAt.Store(time.Now().UnixNano())
}

// Cursor 返回当前轮换游标。
func (s *State) Cursor() uint64 {
	return s.cursor.Load()
}

// SetCursor 替换轮换游标。
func (s *State) SetCursor(cursor uint64) {
	s.cursor.Store(cursor)
}

// Snapshot 是共享状态的只读副本，字段分别读取。
type Snapshot struct {
	PriceEstimate  decimal.Decimal `json:"price_estimate"`
	TotalIntents   uint64          `json:"total_intents"`
	Cursor         uint64          `json:"cursor"`
	PriceUpdatedAt *time.Time      `json:"price_updated_at,omitempty"`
	TotalUpdatedAt *time.Time      `json:"total_updated_at,omitempty"`
}

// Snapshot 读取当前各字段的值。
func (s *State) Snapshot() Snapshot {
	return Snapshot{
		PriceEstimate:  s.PriceEstimate(),
		TotalIntents:   s.TotalIntents(),
		Cursor:         s.Cursor(),
		PriceUpdatedAt: unixNanoTime(s.priceUpdatedAt.Load()),
		TotalUpdatedAt: unixNanoTime(s.totalUpdatedAt.Load()),
	}
}

func unixNanoTime(ns int64) *time.Time {
	if ns == 0 {
		return nil
	}
	t := time.Unix(0, ns).UTC()
	return &t
}
