package strategy

import (
	"github.com/shopspring/decimal"

	"straton/internal/market"
	"straton/internal/pkg/num"
)

// Regime 是外部分类器给出的粗粒度市场状态标签，只读消费。
type Regime string

const (
	RegimeUnknown      Regime = ""
	RegimeTrendingUp   Regime = "trending_up"
	RegimeTrendingDown Regime = "trending_down"
	RegimeRanging      Regime = "ranging"
	RegimeVolatile     Regime = "volatile"
	RegimeQuiet        Regime = "quiet"
)

// Action 信号动作。
type Action string

const (
	ActionOpenLong   Action = "open_long"
	ActionOpenShort  Action = "open_short"
	ActionCloseLong  Action = "close_long"
	ActionCloseShort Action = "close_short"
)

// Signal 表达一次交易意图。信号是值不是命令：
// 执行层（实盘下单器或回测撮合）自行决定是否、如何执行。
type Signal struct {
	Action     Action            `json:"action"`
	Symbol     string            `json:"symbol"`
	Qty        decimal.Decimal   `json:"qty"`
	Price      decimal.Decimal   `json:"price"`
	Confidence decimal.Decimal   `json:"confidence"`
	ReduceOnly bool              `json:"reduce_only,omitempty"`
	AddOn      bool              `json:"add_on,omitempty"`
	StopLoss   decimal.Decimal   `json:"stop_loss,omitempty"`
	Leverage   int               `json:"leverage,omitempty"`
	Reason     string            `json:"reason"`
	Context    map[string]string `json:"context,omitempty"`
}

// Valid 校验必填字段；非法信号由执行层记录并丢弃，不会中断运行。
func (s *Signal) Valid() bool {
	if s == nil || s.Symbol == "" {
		return false
	}
	switch s.Action {
	case ActionOpenLong, ActionOpenShort, ActionCloseLong, ActionCloseShort:
	default:
		return false
	}
	if s.Confidence.LessThan(num.Zero) || s.Confidence.GreaterThan(num.One) {
		return false
	}
	return true
}

// Entry 是否为开仓方向。
func (a Action) Entry() bool { return a == ActionOpenLong || a == ActionOpenShort }

// CloseFor 返回平掉某方向持仓的动作。
func CloseFor(side PositionSide) Action {
	if side == SideShort {
		return ActionCloseShort
	}
	return ActionCloseLong
}

// Fill 是执行层回报的成交确认。状态迁移只在 OnFill 里提交，
// 信号被拒或未成交时策略状态不会被污染。
type Fill struct {
	Symbol     string          `json:"symbol"`
	Action     Action          `json:"action"`
	Price      decimal.Decimal `json:"price"`
	Qty        decimal.Decimal `json:"qty"`
	ReduceOnly bool            `json:"reduce_only,omitempty"`
	AddOn      bool            `json:"add_on,omitempty"`
	TS         int64           `json:"ts"`
}

// AccountFunc 提供当前可用资金（回测中即模拟现金）。
type AccountFunc func() decimal.Decimal

// Strategy 是决策单元的统一契约，外部只能通过这组方法驱动策略，
// 任何协作方都不得直接触碰 per-symbol 状态。
type Strategy interface {
	Name() string
	WarmUp() int
	Activate(symbol string)
	Deactivate(symbol string)
	SetRegime(r Regime)
	BindAccount(fn AccountFunc)
	OnBar(symbol string, c market.Candle)
	OnTick(t market.Ticker)
	OnFill(f Fill)
	Signal() *Signal
}
