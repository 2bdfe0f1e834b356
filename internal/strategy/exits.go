package strategy

import (
	"github.com/shopspring/decimal"

	"straton/internal/pkg/num"
)

// ExitParams 描述持仓分支一次评估所需的全部目标位。
// 由各策略按当前指标值逐 tick 重算后传入。
type ExitParams struct {
	StopPrice          decimal.Decimal
	MaxHoldBars        int
	TP1Price           decimal.Decimal
	TP1Ratio           decimal.Decimal
	TP2Price           decimal.Decimal
	TrailActivatePrice decimal.Decimal
	TrailDistance      decimal.Decimal
	AddOnPrice         decimal.Decimal
	AddOnQty           decimal.Decimal
}

// EvaluateOpenPosition 是所有策略共用的持仓分支状态机。
// 固定优先级：硬止损 → 持仓时间 → 分段止盈一 → 分段止盈二 →
// 追踪止损（先激活再判破位）→ 逆向加仓。单次评估最多产出一个
// 信号，首个命中的规则短路其余规则——该顺序是刻意的决胜规则：
// 若先查加仓后查止损，可能给本应离场的亏损仓位加仓。
func EvaluateOpenPosition(symbol string, st *SymbolState, price decimal.Decimal, p ExitParams) *Signal {
	if st == nil || !st.Open() || price.Sign() <= 0 {
		return nil
	}
	long := st.Side == SideLong
	closeAction := CloseFor(st.Side)

	// 1. 硬止损
	if p.StopPrice.Sign() > 0 && breached(long, price, p.StopPrice) {
		return &Signal{
			Action: closeAction, Symbol: symbol, Qty: st.Qty, Price: price,
			Confidence: num.One, Reason: "hard_stop",
		}
	}

	// 2. 时间强制离场
	if p.MaxHoldBars > 0 && st.BarsHeld >= p.MaxHoldBars {
		return &Signal{
			Action: closeAction, Symbol: symbol, Qty: st.Qty, Price: price,
			Confidence: num.One, Reason: "max_hold",
		}
	}

	// 3. 分段止盈一：部分减仓
	if !st.FirstTargetDone && p.TP1Price.Sign() > 0 && reached(long, price, p.TP1Price) {
		ratio := p.TP1Ratio
		if ratio.Sign() <= 0 || ratio.GreaterThanOrEqual(num.One) {
			ratio = num.MustParse("0.5")
		}
		return &Signal{
			Action: closeAction, Symbol: symbol, Qty: st.Qty.Mul(ratio), Price: price,
			Confidence: num.One, ReduceOnly: true, Reason: "take_profit_1",
		}
	}

	// 4. 分段止盈二：余仓全平
	if st.FirstTargetDone && p.TP2Price.Sign() > 0 && reached(long, price, p.TP2Price) {
		return &Signal{
			Action: closeAction, Symbol: symbol, Qty: st.Qty, Price: price,
			Confidence: num.One, Reason: "take_profit_2",
		}
	}

	// 5. 追踪止损：浮盈超过激活阈值后启动，仅向有利方向收紧
	if !st.TrailActive && p.TrailActivatePrice.Sign() > 0 && reached(long, price, p.TrailActivatePrice) {
		st.TrailActive = true
		st.TrailExtreme = price
	}
	if st.TrailActive && p.TrailDistance.Sign() > 0 {
		if long && price.GreaterThan(st.TrailExtreme) {
			st.TrailExtreme = price
		}
		if !long && price.LessThan(st.TrailExtreme) {
			st.TrailExtreme = price
		}
		stop := st.TrailExtreme.Sub(p.TrailDistance)
		if !long {
			stop = st.TrailExtreme.Add(p.TrailDistance)
		}
		if breached(long, price, stop) {
			return &Signal{
				Action: closeAction, Symbol: symbol, Qty: st.Qty, Price: price,
				Confidence: num.One, Reason: "trailing_stop",
			}
		}
	}

	// 6. 逆向加仓：仅一次，方向不变，数量为原始仓位的少数比例
	if !st.AddOnDone && p.AddOnPrice.Sign() > 0 && p.AddOnQty.Sign() > 0 && breached(long, price, p.AddOnPrice) {
		action := ActionOpenLong
		if !long {
			action = ActionOpenShort
		}
		return &Signal{
			Action: action, Symbol: symbol, Qty: p.AddOnQty, Price: price,
			Confidence: num.One, AddOn: true, Reason: "add_on",
		}
	}
	return nil
}

// reached 价格达到有利方向目标（多头向上，空头向下）。
func reached(long bool, price, target decimal.Decimal) bool {
	if long {
		return price.GreaterThanOrEqual(target)
	}
	return price.LessThanOrEqual(target)
}

// breached 价格跌破不利方向阈值（多头向下，空头向上）。
func breached(long bool, price, level decimal.Decimal) bool {
	if long {
		return price.LessThanOrEqual(level)
	}
	return price.GreaterThanOrEqual(level)
}
