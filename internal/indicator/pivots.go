package indicator

import (
	"github.com/shopspring/decimal"

	"straton/internal/pkg/num"
)

// PivotLevels 经典枢轴点。
type PivotLevels struct {
	P  decimal.Decimal `json:"p"`
	R1 decimal.Decimal `json:"r1"`
	S1 decimal.Decimal `json:"s1"`
	R2 decimal.Decimal `json:"r2"`
	S2 decimal.Decimal `json:"s2"`
}

// PivotPoints 基于上一周期的 H/L/C 计算枢轴位。
func PivotPoints(high, low, closePx decimal.Decimal) PivotLevels {
	p := high.Add(low).Add(closePx).Div(decimal.NewFromInt(3))
	span := high.Sub(low)
	return PivotLevels{
		P:  p,
		R1: num.Two.Mul(p).Sub(low),
		S1: num.Two.Mul(p).Sub(high),
		R2: p.Add(span),
		S2: p.Sub(span),
	}
}

// SwingHighs 返回分形摆动高点下标：两侧各 k 根均严格更低。
func SwingHighs(values []decimal.Decimal, k int) []int {
	return swings(values, k, func(center, neighbor decimal.Decimal) bool {
		return neighbor.LessThan(center)
	})
}

// SwingLows 返回分形摆动低点下标：两侧各 k 根均严格更高。
func SwingLows(values []decimal.Decimal, k int) []int {
	return swings(values, k, func(center, neighbor decimal.Decimal) bool {
		return neighbor.GreaterThan(center)
	})
}

func swings(values []decimal.Decimal, k int, ok func(center, neighbor decimal.Decimal) bool) []int {
	if k <= 0 || len(values) < 2*k+1 {
		return nil
	}
	var out []int
	for i := k; i < len(values)-k; i++ {
		hit := true
		for j := i - k; j <= i+k; j++ {
			if j == i {
				continue
			}
			if !ok(values[i], values[j]) {
				hit = false
				break
			}
		}
		if hit {
			out = append(out, i)
		}
	}
	return out
}
