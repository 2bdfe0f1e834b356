package indicator

import (
	"github.com/shopspring/decimal"

	"straton/internal/market"
	"straton/internal/pkg/num"
)

// VWAP 对整段历史累计：Σ(典型价·量)/Σ量。
// 策略自定义窗口（如每 N 根重置的 session VWAP）应改用
// Cache.History 自行切片计算，不走缓存。
func VWAP(candles []market.Candle) (decimal.Decimal, bool) {
	if len(candles) == 0 {
		return num.Zero, false
	}
	pv := decimal.Zero
	vol := decimal.Zero
	for _, c := range candles {
		pv = pv.Add(c.Typical().Mul(c.Volume))
		vol = vol.Add(c.Volume)
	}
	if vol.IsZero() {
		return num.Zero, false
	}
	return pv.Div(vol), true
}

// VolumeSMA 成交量均线，确认量能是否放大。
func VolumeSMA(volumes []decimal.Decimal, period int) (decimal.Decimal, bool) {
	return SMA(volumes, period)
}
