package indicator

import (
	"github.com/shopspring/decimal"

	"straton/internal/pkg/num"
)

// TrueRanges 返回真实波幅序列，长度与输入一致（首根取 H-L）。
func TrueRanges(highs, lows, closes []decimal.Decimal) []decimal.Decimal {
	n := len(closes)
	if n == 0 || len(highs) != n || len(lows) != n {
		return nil
	}
	out := make([]decimal.Decimal, n)
	out[0] = highs[0].Sub(lows[0])
	for i := 1; i < n; i++ {
		hl := highs[i].Sub(lows[i])
		hc := highs[i].Sub(closes[i-1]).Abs()
		lc := lows[i].Sub(closes[i-1]).Abs()
		out[i] = num.Max(hl, num.Max(hc, lc))
	}
	return out
}

// ATR Wilder 平滑的平均真实波幅，需要 period+1 根 K 线。
func ATR(highs, lows, closes []decimal.Decimal, period int) (decimal.Decimal, bool) {
	n := len(closes)
	if period <= 0 || n < period+1 {
		return num.Zero, false
	}
	tr := TrueRanges(highs, lows, closes)
	if tr == nil {
		return num.Zero, false
	}
	p := decimal.NewFromInt(int64(period))
	pMinus := decimal.NewFromInt(int64(period - 1))
	atr := decimal.Zero
	for i := 1; i <= period; i++ {
		atr = atr.Add(tr[i])
	}
	atr = atr.Div(p)
	for i := period + 1; i < n; i++ {
		atr = atr.Mul(pMinus).Add(tr[i]).Div(p)
	}
	return atr, true
}

// Bands 表示一组上/中/下轨。
type Bands struct {
	Upper  decimal.Decimal `json:"upper"`
	Middle decimal.Decimal `json:"middle"`
	Lower  decimal.Decimal `json:"lower"`
}

// Bollinger 布林带：SMA ± mult·总体标准差。
func Bollinger(closes []decimal.Decimal, period int, mult decimal.Decimal) (Bands, bool) {
	n := len(closes)
	mid, ok := SMA(closes, period)
	if !ok {
		return Bands{}, false
	}
	variance := decimal.Zero
	for i := n - period; i < n; i++ {
		d := closes[i].Sub(mid)
		variance = variance.Add(d.Mul(d))
	}
	variance = variance.Div(decimal.NewFromInt(int64(period)))
	dev := num.Sqrt(variance).Mul(mult)
	return Bands{Upper: mid.Add(dev), Middle: mid, Lower: mid.Sub(dev)}, true
}

// Keltner 肯特纳通道：EMA ± mult·ATR。
func Keltner(highs, lows, closes []decimal.Decimal, period int, mult decimal.Decimal) (Bands, bool) {
	mid, ok := EMA(closes, period)
	if !ok {
		return Bands{}, false
	}
	atr, ok := ATR(highs, lows, closes, period)
	if !ok {
		return Bands{}, false
	}
	span := atr.Mul(mult)
	return Bands{Upper: mid.Add(span), Middle: mid, Lower: mid.Sub(span)}, true
}
