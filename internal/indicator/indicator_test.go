package indicator

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"straton/internal/pkg/num"
)

func decs(texts ...string) []decimal.Decimal {
	out := make([]decimal.Decimal, len(texts))
	for i, s := range texts {
		out[i] = num.MustParse(s)
	}
	return out
}

func TestSMA(t *testing.T) {
	closes := decs("1", "2", "3", "4", "5")

	v, ok := SMA(closes, 3)
	require.True(t, ok)
	assert.True(t, v.Equal(decimal.NewFromInt(4)))

	v, ok = SMA(closes, 5)
	require.True(t, ok)
	assert.True(t, v.Equal(decimal.NewFromInt(3)))

	_, ok = SMA(closes, 6)
	assert.False(t, ok, "历史不足必须返回未就绪")
	_, ok = SMA(closes, 0)
	assert.False(t, ok)
	_, ok = SMA(nil, 3)
	assert.False(t, ok)
}

func TestEMA(t *testing.T) {
	// period=3 时 k=0.5：种子 SMA(1,2,3)=2，下一步 (4-2)*0.5+2=3
	closes := decs("1", "2", "3", "4")

	v, ok := EMA(closes, 3)
	require.True(t, ok)
	assert.True(t, v.Equal(decimal.NewFromInt(3)))

	series, ok := EMASeries(closes, 3)
	require.True(t, ok)
	require.Len(t, series, 2)
	assert.True(t, series[0].Equal(num.Two))
	assert.True(t, series[1].Equal(decimal.NewFromInt(3)))

	_, ok = EMA(decs("1", "2"), 3)
	assert.False(t, ok)
}

func TestStepEMAMatchesSeries(t *testing.T) {
	closes := decs("10", "11", "9", "12", "13", "8", "10.5")
	series, ok := EMASeries(closes, 3)
	require.True(t, ok)

	// 逐步递推必须与全量序列逐位一致
	prev := series[0]
	for i := 3; i < len(closes); i++ {
		prev = StepEMA(prev, closes[i], 3)
		assert.True(t, prev.Equal(series[i-2]), "step %d", i)
	}
}

func TestCross(t *testing.T) {
	a := decs("1", "3")
	b := decs("2", "2")
	assert.True(t, CrossUp(a, b))
	assert.False(t, CrossDown(a, b))
	assert.True(t, CrossDown(b, a))
	assert.False(t, CrossUp(decs("3"), decs("2")))
}

func TestRSI(t *testing.T) {
	t.Run("all gains saturate at 100", func(t *testing.T) {
		v, ok := RSI(decs("1", "2", "3", "4"), 3)
		require.True(t, ok)
		assert.True(t, v.Equal(num.Hundred))
	})

	t.Run("all losses saturate at 0", func(t *testing.T) {
		v, ok := RSI(decs("4", "3", "2", "1"), 3)
		require.True(t, ok)
		assert.True(t, v.IsZero())
	})

	t.Run("balanced moves sit at 50", func(t *testing.T) {
		v, ok := RSI(decs("10", "11", "10", "11", "10"), 4)
		require.True(t, ok)
		assert.True(t, v.Equal(decimal.NewFromInt(50)))
	})

	t.Run("needs period+1 closes", func(t *testing.T) {
		_, ok := RSI(decs("1", "2", "3"), 3)
		assert.False(t, ok)
	})
}

func TestTrueRanges(t *testing.T) {
	highs := decs("12", "15")
	lows := decs("10", "14")
	closes := decs("11", "14.5")

	tr := TrueRanges(highs, lows, closes)
	require.Len(t, tr, 2)
	assert.True(t, tr[0].Equal(num.Two))
	// 跳空：H-PC = 15-11 = 4 大于当根振幅
	assert.True(t, tr[1].Equal(decimal.NewFromInt(4)))

	assert.Nil(t, TrueRanges(highs, lows, decs("11")))
}

func TestATR(t *testing.T) {
	highs := decs("12", "12", "12")
	lows := decs("10", "10", "10")
	closes := decs("11", "11", "11")

	v, ok := ATR(highs, lows, closes, 2)
	require.True(t, ok)
	assert.True(t, v.Equal(num.Two))

	_, ok = ATR(highs, lows, closes, 3)
	assert.False(t, ok)
}

func TestBollinger(t *testing.T) {
	closes := decs("2", "4", "6")

	bands, ok := Bollinger(closes, 3, num.One)
	require.True(t, ok)
	assert.True(t, bands.Middle.Equal(decimal.NewFromInt(4)))

	// 总体标准差 sqrt(8/3)
	std := num.Sqrt(num.MustParse("8").Div(decimal.NewFromInt(3)))
	assert.True(t, bands.Upper.Sub(bands.Middle).Sub(std).Abs().LessThan(num.Eps))
	assert.True(t, bands.Middle.Sub(bands.Lower).Sub(std).Abs().LessThan(num.Eps))

	_, ok = Bollinger(decs("1", "2"), 3, num.Two)
	assert.False(t, ok)
}

func TestKeltner(t *testing.T) {
	highs := decs("12", "12", "12", "12")
	lows := decs("10", "10", "10", "10")
	closes := decs("11", "11", "11", "11")

	bands, ok := Keltner(highs, lows, closes, 3, num.Two)
	require.True(t, ok)
	assert.True(t, bands.Middle.Equal(decimal.NewFromInt(11)))
	// ATR=2，mult=2 → 上下各 4
	assert.True(t, bands.Upper.Equal(decimal.NewFromInt(15)))
	assert.True(t, bands.Lower.Equal(decimal.NewFromInt(7)))
}

func TestMACDWarmup(t *testing.T) {
	_, ok := MACD(decs("1", "2", "3"), 12, 26, 9)
	assert.False(t, ok)

	closes := make([]decimal.Decimal, 0, 40)
	for i := 1; i <= 40; i++ {
		closes = append(closes, decimal.NewFromInt(int64(i)))
	}
	v, ok := MACD(closes, 12, 26, 9)
	require.True(t, ok)
	assert.True(t, v.Hist.Equal(v.Line.Sub(v.Signal)))
}

func TestPivotPoints(t *testing.T) {
	p := PivotPoints(num.MustParse("110"), num.MustParse("90"), num.MustParse("100"))
	assert.True(t, p.P.Equal(decimal.NewFromInt(100)))
	assert.True(t, p.R1.Equal(decimal.NewFromInt(110)))
	assert.True(t, p.S1.Equal(decimal.NewFromInt(90)))
	assert.True(t, p.R2.Equal(decimal.NewFromInt(120)))
	assert.True(t, p.S2.Equal(decimal.NewFromInt(80)))
}

func TestSwings(t *testing.T) {
	values := decs("1", "2", "5", "2", "1", "0.5", "1.5")

	assert.Equal(t, []int{2}, SwingHighs(values, 2))
	assert.Equal(t, []int{5}, SwingLows(values, 1))
	assert.Nil(t, SwingHighs(decs("1", "2"), 2))
}
