package indicator

import (
	"github.com/shopspring/decimal"

	"straton/internal/pkg/num"
)

// 中文说明：
// 均线族。输入为按时间升序的 decimal 序列，历史不足时返回 (0, false)，
// 调用方必须把 false 当作“尚未就绪”，绝不能当作零值参与决策。

// SMA 简单均线，取末尾 period 个值。
func SMA(values []decimal.Decimal, period int) (decimal.Decimal, bool) {
	n := len(values)
	if period <= 0 || n < period {
		return num.Zero, false
	}
	sum := decimal.Zero
	for i := n - period; i < n; i++ {
		sum = sum.Add(values[i])
	}
	return sum.Div(decimal.NewFromInt(int64(period))), true
}

// EMA 指数均线：SMA 种子 + 逐点递推，返回最新值。
func EMA(values []decimal.Decimal, period int) (decimal.Decimal, bool) {
	series, ok := EMASeries(values, period)
	if !ok {
		return num.Zero, false
	}
	return series[len(series)-1], true
}

// EMASeries 返回完整 EMA 序列。
// 输出第 j 项对应输入下标 period-1+j（前 period-1 个点无定义）。
func EMASeries(values []decimal.Decimal, period int) ([]decimal.Decimal, bool) {
	n := len(values)
	if period <= 0 || n < period {
		return nil, false
	}
	seed := decimal.Zero
	for i := 0; i < period; i++ {
		seed = seed.Add(values[i])
	}
	seed = seed.Div(decimal.NewFromInt(int64(period)))

	k := num.Two.Div(decimal.NewFromInt(int64(period + 1)))
	out := make([]decimal.Decimal, 0, n-period+1)
	out = append(out, seed)
	ema := seed
	for i := period; i < n; i++ {
		ema = values[i].Sub(ema).Mul(k).Add(ema)
		out = append(out, ema)
	}
	return out, true
}

// StepEMA 单步递推：prev 为上一根的 EMA，value 为新值。
// 指标缓存的增量快路径使用，与 EMASeries 全量重算必须逐位一致。
func StepEMA(prev, value decimal.Decimal, period int) decimal.Decimal {
	k := num.Two.Div(decimal.NewFromInt(int64(period + 1)))
	return value.Sub(prev).Mul(k).Add(prev)
}

// CrossUp 判断 a 是否在最近一根上穿 b（需各自至少两个点）。
func CrossUp(a, b []decimal.Decimal) bool {
	if len(a) < 2 || len(b) < 2 {
		return false
	}
	return a[len(a)-2].LessThanOrEqual(b[len(b)-2]) && a[len(a)-1].GreaterThan(b[len(b)-1])
}

// CrossDown 判断 a 是否在最近一根下穿 b。
func CrossDown(a, b []decimal.Decimal) bool {
	if len(a) < 2 || len(b) < 2 {
		return false
	}
	return a[len(a)-2].GreaterThanOrEqual(b[len(b)-2]) && a[len(a)-1].LessThan(b[len(b)-1])
}
