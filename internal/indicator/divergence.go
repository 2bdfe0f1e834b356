package indicator

import "github.com/shopspring/decimal"

// Divergence 描述价格与 RSI 的背离检测结果。
type Divergence struct {
	Bullish bool `json:"bullish"`
	Bearish bool `json:"bearish"`
}

// DetectDivergence 比较最近两个摆动极值上的价格与 RSI：
// 价格创更低低点而 RSI 抬高 → 看涨背离；
// 价格创更高高点而 RSI 走低 → 看跌背离。
// 历史不足（RSI 未就绪或摆动点不够）返回 (Divergence{}, false)。
func DetectDivergence(closes []decimal.Decimal, rsiPeriod, swingK int) (Divergence, bool) {
	rsi, ok := RSISeries(closes, rsiPeriod)
	if !ok {
		return Divergence{}, false
	}
	var div Divergence

	lows := SwingLows(closes, swingK)
	if idx, ok := lastTwoAfter(lows, rsiPeriod); ok {
		a, b := idx[0], idx[1]
		priceLower := closes[b].LessThan(closes[a])
		rsiHigher := rsi[b-rsiPeriod].GreaterThan(rsi[a-rsiPeriod])
		div.Bullish = priceLower && rsiHigher
	}

	highs := SwingHighs(closes, swingK)
	if idx, ok := lastTwoAfter(highs, rsiPeriod); ok {
		a, b := idx[0], idx[1]
		priceHigher := closes[b].GreaterThan(closes[a])
		rsiLower := rsi[b-rsiPeriod].LessThan(rsi[a-rsiPeriod])
		div.Bearish = priceHigher && rsiLower
	}
	return div, true
}

// lastTwoAfter 取 minIdx 之后（RSI 已就绪区段）的最后两个摆动点。
func lastTwoAfter(indexes []int, minIdx int) ([2]int, bool) {
	var valid []int
	for _, i := range indexes {
		if i >= minIdx {
			valid = append(valid, i)
		}
	}
	if len(valid) < 2 {
		return [2]int{}, false
	}
	return [2]int{valid[len(valid)-2], valid[len(valid)-1]}, true
}
