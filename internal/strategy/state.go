package strategy

import (
	"sync"

	"github.com/shopspring/decimal"
)

// PositionSide 持仓方向。
type PositionSide string

const (
	SideNone  PositionSide = ""
	SideLong  PositionSide = "long"
	SideShort PositionSide = "short"
)

// SymbolState 是策略为单个 symbol 维护的可变决策状态。
// 同一策略实例可同时跟踪多个 symbol，状态之间互不共享；
// 仓位完全平掉后重置回初始（空仓）形态。
type SymbolState struct {
	Side       PositionSide
	EntryPrice decimal.Decimal
	Qty        decimal.Decimal
	// InitialQty 首次开仓数量，部分止盈与加仓都不改写它，
	// 加仓规模以它为基数而不是随余仓缩水
	InitialQty      decimal.Decimal
	BarsHeld        int
	FirstTargetDone bool
	AddOnDone       bool
	TrailActive     bool
	TrailExtreme    decimal.Decimal
	Pending         *Signal
}

// Open 是否持仓中。
func (s *SymbolState) Open() bool { return s.Side != SideNone }

// Reset 回到空仓初始形态。
func (s *SymbolState) Reset() { *s = SymbolState{} }

// ApplyFill 按成交回报提交状态迁移，这是唯一的状态提交入口。
func (s *SymbolState) ApplyFill(f Fill) {
	s.Pending = nil
	switch f.Action {
	case ActionOpenLong, ActionOpenShort:
		if f.AddOn && s.Open() {
			// 加仓：数量累加，入场价按成交量加权
			total := s.Qty.Add(f.Qty)
			if total.Sign() > 0 {
				s.EntryPrice = s.EntryPrice.Mul(s.Qty).Add(f.Price.Mul(f.Qty)).Div(total)
			}
			s.Qty = total
			s.AddOnDone = true
			return
		}
		if f.Action == ActionOpenLong {
			s.Side = SideLong
		} else {
			s.Side = SideShort
		}
		s.EntryPrice = f.Price
		s.Qty = f.Qty
		s.InitialQty = f.Qty
		s.BarsHeld = 0
		s.FirstTargetDone = false
		s.AddOnDone = false
		s.TrailActive = false
		s.TrailExtreme = f.Price
	case ActionCloseLong, ActionCloseShort:
		if f.ReduceOnly && f.Qty.LessThan(s.Qty) {
			s.Qty = s.Qty.Sub(f.Qty)
			s.FirstTargetDone = true
			return
		}
		s.Reset()
	}
}

// stateMap 按 symbol 隔离状态；加锁只为实盘多源喂价的场景兜底，
// 单写者纪律由接入方保证。
type stateMap[T any] struct {
	mu sync.RWMutex
	m  map[string]*T
}

func newStateMap[T any]() *stateMap[T] {
	return &stateMap[T]{m: make(map[string]*T)}
}

// get 惰性创建：首次收到某 symbol 的 bar/tick 时建立状态。
func (s *stateMap[T]) get(symbol string) *T {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.m[symbol]
	if !ok {
		st = new(T)
		s.m[symbol] = st
	}
	return st
}

func (s *stateMap[T]) peek(symbol string) (*T, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.m[symbol]
	return st, ok
}

func (s *stateMap[T]) delete(symbol string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, symbol)
}
