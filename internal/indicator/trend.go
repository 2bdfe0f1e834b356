package indicator

import (
	"github.com/shopspring/decimal"

	"straton/internal/pkg/num"
)

// ADX Wilder 平均趋向指数，需要 2·period+1 根 K 线。
func ADX(highs, lows, closes []decimal.Decimal, period int) (decimal.Decimal, bool) {
	n := len(closes)
	if period <= 0 || n < 2*period+1 || len(highs) != n || len(lows) != n {
		return num.Zero, false
	}
	tr := TrueRanges(highs, lows, closes)
	plusDM := make([]decimal.Decimal, n)
	minusDM := make([]decimal.Decimal, n)
	for i := 1; i < n; i++ {
		up := highs[i].Sub(highs[i-1])
		down := lows[i-1].Sub(lows[i])
		if up.GreaterThan(down) && up.Sign() > 0 {
			plusDM[i] = up
		} else {
			plusDM[i] = num.Zero
		}
		if down.GreaterThan(up) && down.Sign() > 0 {
			minusDM[i] = down
		} else {
			minusDM[i] = num.Zero
		}
	}

	p := decimal.NewFromInt(int64(period))
	smTR := decimal.Zero
	smPlus := decimal.Zero
	smMinus := decimal.Zero
	for i := 1; i <= period; i++ {
		smTR = smTR.Add(tr[i])
		smPlus = smPlus.Add(plusDM[i])
		smMinus = smMinus.Add(minusDM[i])
	}

	dx := func() (decimal.Decimal, bool) {
		if smTR.IsZero() {
			return num.Zero, false
		}
		diPlus := num.Hundred.Mul(smPlus).Div(smTR)
		diMinus := num.Hundred.Mul(smMinus).Div(smTR)
		sum := diPlus.Add(diMinus)
		if sum.IsZero() {
			return num.Zero, false
		}
		return num.Hundred.Mul(diPlus.Sub(diMinus).Abs()).Div(sum), true
	}

	dxValues := make([]decimal.Decimal, 0, n-period)
	if v, ok := dx(); ok {
		dxValues = append(dxValues, v)
	} else {
		dxValues = append(dxValues, num.Zero)
	}
	for i := period + 1; i < n; i++ {
		// Wilder 平滑：sm = sm - sm/p + 当期值
		smTR = smTR.Sub(smTR.Div(p)).Add(tr[i])
		smPlus = smPlus.Sub(smPlus.Div(p)).Add(plusDM[i])
		smMinus = smMinus.Sub(smMinus.Div(p)).Add(minusDM[i])
		if v, ok := dx(); ok {
			dxValues = append(dxValues, v)
		} else {
			dxValues = append(dxValues, num.Zero)
		}
	}
	if len(dxValues) < period+1 {
		return num.Zero, false
	}

	adx := decimal.Zero
	for i := 0; i < period; i++ {
		adx = adx.Add(dxValues[i])
	}
	adx = adx.Div(p)
	pMinus := decimal.NewFromInt(int64(period - 1))
	for i := period; i < len(dxValues); i++ {
		adx = adx.Mul(pMinus).Add(dxValues[i]).Div(p)
	}
	return adx, true
}
