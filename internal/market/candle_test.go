package market

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"straton/internal/pkg/num"
)

func sampleCandle() Candle {
	return Candle{
		OpenTime:  3600000,
		CloseTime: 7199999,
		Open:      num.MustParse("100"),
		High:      num.MustParse("110"),
		Low:       num.MustParse("90"),
		Close:     num.MustParse("105"),
		Volume:    num.MustParse("12.5"),
	}
}

func TestCandleValid(t *testing.T) {
	assert.True(t, sampleCandle().Valid())

	c := sampleCandle()
	c.CloseTime = 0
	assert.False(t, c.Valid(), "缺时间戳")

	c = sampleCandle()
	c.Low = num.Zero
	assert.False(t, c.Valid(), "价格必须为正")

	c = sampleCandle()
	c.High = num.MustParse("80")
	assert.False(t, c.Valid(), "high < low")

	c = sampleCandle()
	c.Volume = num.MustParse("-1")
	assert.False(t, c.Valid())

	c = sampleCandle()
	c.Volume = num.Zero
	assert.True(t, c.Valid(), "零成交量合法")
}

func TestCandleTypical(t *testing.T) {
	c := sampleCandle()
	// (110+90+105)/3
	assert.True(t, c.Typical().Equal(num.MustParse("110").Add(num.MustParse("90")).Add(num.MustParse("105")).Div(num.MustParse("3"))))
}

func TestCandleDirection(t *testing.T) {
	c := sampleCandle()
	assert.True(t, c.Bullish())
	assert.False(t, c.Bearish())

	c.Close = c.Open
	assert.False(t, c.Bullish(), "十字星不算阳线")
	assert.False(t, c.Bearish())
}

func TestTickerValid(t *testing.T) {
	tk := Ticker{Symbol: "BTCUSDT", Price: num.MustParse("100"), TS: 1}
	assert.True(t, tk.Valid())
	assert.False(t, Ticker{Price: num.MustParse("100"), TS: 1}.Valid())
	assert.False(t, Ticker{Symbol: "BTCUSDT", TS: 1}.Valid())
	assert.False(t, Ticker{Symbol: "BTCUSDT", Price: num.MustParse("100")}.Valid())
}

func TestCandleFromStrings(t *testing.T) {
	c, err := CandleFromStrings(1, 2, "100.1", "101.2", "99.9", "100.5", "3.33")
	require.NoError(t, err)
	assert.True(t, c.Close.Equal(num.MustParse("100.5")))
	assert.True(t, c.Volume.Equal(num.MustParse("3.33")))

	_, err = CandleFromStrings(1, 2, "abc", "101", "99", "100", "1")
	assert.Error(t, err)
}
