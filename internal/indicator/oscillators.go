package indicator

import (
	"github.com/shopspring/decimal"

	"straton/internal/pkg/num"
)

// RSI Wilder 平滑版，返回最新值；需要至少 period+1 个收盘价。
func RSI(closes []decimal.Decimal, period int) (decimal.Decimal, bool) {
	series, ok := RSISeries(closes, period)
	if !ok {
		return num.Zero, false
	}
	return series[len(series)-1], true
}

// RSISeries 返回 RSI 序列，输出第 j 项对应输入下标 period+j。
func RSISeries(closes []decimal.Decimal, period int) ([]decimal.Decimal, bool) {
	n := len(closes)
	if period <= 0 || n < period+1 {
		return nil, false
	}
	p := decimal.NewFromInt(int64(period))
	pMinus := decimal.NewFromInt(int64(period - 1))

	avgGain := decimal.Zero
	avgLoss := decimal.Zero
	for i := 1; i <= period; i++ {
		diff := closes[i].Sub(closes[i-1])
		if diff.Sign() > 0 {
			avgGain = avgGain.Add(diff)
		} else {
			avgLoss = avgLoss.Sub(diff)
		}
	}
	avgGain = avgGain.Div(p)
	avgLoss = avgLoss.Div(p)

	out := make([]decimal.Decimal, 0, n-period)
	out = append(out, rsiFromAverages(avgGain, avgLoss))
	for i := period + 1; i < n; i++ {
		diff := closes[i].Sub(closes[i-1])
		gain := decimal.Zero
		loss := decimal.Zero
		if diff.Sign() > 0 {
			gain = diff
		} else {
			loss = diff.Neg()
		}
		avgGain = avgGain.Mul(pMinus).Add(gain).Div(p)
		avgLoss = avgLoss.Mul(pMinus).Add(loss).Div(p)
		out = append(out, rsiFromAverages(avgGain, avgLoss))
	}
	return out, true
}

func rsiFromAverages(avgGain, avgLoss decimal.Decimal) decimal.Decimal {
	if avgLoss.IsZero() {
		return num.Hundred
	}
	rs := avgGain.Div(avgLoss)
	return num.Hundred.Sub(num.Hundred.Div(num.One.Add(rs)))
}

// MACDValue 汇总 MACD 三元组。
type MACDValue struct {
	Line   decimal.Decimal `json:"line"`
	Signal decimal.Decimal `json:"signal"`
	Hist   decimal.Decimal `json:"hist"`
}

// MACD 返回最新 (DIF, DEA, 柱)。需要 slow+signal-1 个收盘价。
func MACD(closes []decimal.Decimal, fast, slow, signal int) (MACDValue, bool) {
	n := len(closes)
	if fast <= 0 || slow <= fast || signal <= 0 || n < slow+signal-1 {
		return MACDValue{}, false
	}
	fastSeries, ok := EMASeries(closes, fast)
	if !ok {
		return MACDValue{}, false
	}
	slowSeries, ok := EMASeries(closes, slow)
	if !ok {
		return MACDValue{}, false
	}
	// fastSeries 比 slowSeries 早 slow-fast 个点，对齐尾部
	offset := slow - fast
	line := make([]decimal.Decimal, len(slowSeries))
	for i := range slowSeries {
		line[i] = fastSeries[i+offset].Sub(slowSeries[i])
	}
	sigSeries, ok := EMASeries(line, signal)
	if !ok {
		return MACDValue{}, false
	}
	last := line[len(line)-1]
	sig := sigSeries[len(sigSeries)-1]
	return MACDValue{Line: last, Signal: sig, Hist: last.Sub(sig)}, true
}
