package strategy

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"straton/internal/indicator"
	"straton/internal/market"
	"straton/internal/pkg/num"
)

const testSymbol = "BTCUSDT"

// 短周期参数让 3 根即可预热，方便手工构造行情。
func meanRevTestOverrides() map[string]any {
	return map[string]any{
		"rsi_period":    2,
		"boll_period":   3,
		"atr_period":    2,
		"vol_period":    2,
		"max_hold_bars": 4,
		"rsi_oversold":  "60",
		"boll_mult":     "0.5",
		"dev_atr_min":   "0",
		"vol_mult":      "0.1",
		"stop_atr":      "1",
	}
}

func testCandle(i int, open, high, low, closePx, volume string) market.Candle {
	return market.Candle{
		OpenTime:  int64(i+1) * 3_600_000,
		CloseTime: int64(i+2)*3_600_000 - 1,
		Open:      num.MustParse(open),
		High:      num.MustParse(high),
		Low:       num.MustParse(low),
		Close:     num.MustParse(closePx),
		Volume:    num.MustParse(volume),
	}
}

// 三根阴跌 + 一根带量反转阳线，收盘跌破下轨且 RSI 处于极值。
func dipCandles() []market.Candle {
	return []market.Candle{
		testCandle(0, "100", "101", "99", "100", "10"),
		testCandle(1, "99", "100", "98", "99", "10"),
		testCandle(2, "98", "99", "97", "98", "10"),
		testCandle(3, "90", "92", "89", "91", "100"),
	}
}

func newTestMeanRev(t *testing.T) (*indicator.Cache, *MeanRev) {
	t.Helper()
	cache := indicator.NewCache(0)
	m, err := NewMeanRev(cache, meanRevTestOverrides())
	require.NoError(t, err)
	m.Activate(testSymbol)
	m.ForceRegime(RegimeRanging)
	m.BindAccount(func() decimal.Decimal { return num.MustParse("1000") })
	return cache, m
}

func feed(cache *indicator.Cache, m *MeanRev, candles []market.Candle) {
	for _, c := range candles {
		cache.Append(testSymbol, c)
		m.OnBar(testSymbol, c)
	}
}

func TestMeanRevEmitsLongOnOversoldDip(t *testing.T) {
	cache, m := newTestMeanRev(t)
	feed(cache, m, dipCandles())

	sig := m.Signal()
	require.NotNil(t, sig)
	assert.Equal(t, ActionOpenLong, sig.Action)
	assert.Equal(t, testSymbol, sig.Symbol)
	assert.Equal(t, "mean_reversion", sig.Reason)
	assert.True(t, sig.Price.Equal(num.MustParse("91")))
	// 1000 * 10% / 91
	assert.True(t, sig.Qty.Equal(num.MustParse("100").Div(num.MustParse("91"))))
	assert.True(t, sig.StopLoss.Sign() > 0)
	assert.True(t, sig.StopLoss.LessThan(sig.Price))
	assert.True(t, sig.Valid())

	assert.Nil(t, m.Signal(), "单根只出一个信号")
}

func TestMeanRevRegimeGateBlocksEntry(t *testing.T) {
	cache, m := newTestMeanRev(t)
	m.ForceRegime(RegimeTrendingUp)
	feed(cache, m, dipCandles())

	assert.Nil(t, m.Signal(), "趋势市中静默，不是错误")
}

func TestMeanRevInactiveSymbolIgnored(t *testing.T) {
	cache, m := newTestMeanRev(t)
	m.Deactivate(testSymbol)
	feed(cache, m, dipCandles())

	assert.Nil(t, m.Signal())
}

func TestMeanRevUnfilledIntentExpires(t *testing.T) {
	cache, m := newTestMeanRev(t)
	feed(cache, m, dipCandles())
	require.NotNil(t, m.Signal())

	// 意图未获成交：下一根开始时作废，持仓分支不被触发
	next := testCandle(4, "91", "92", "90", "91", "10")
	cache.Append(testSymbol, next)
	m.OnBar(testSymbol, next)
	m.OnTick(market.Ticker{Symbol: testSymbol, Price: num.MustParse("10"), TS: next.CloseTime})

	assert.Nil(t, m.Signal())
}

func TestMeanRevFillCommitsStateAndStopFires(t *testing.T) {
	cache, m := newTestMeanRev(t)
	feed(cache, m, dipCandles())

	entry := m.Signal()
	require.NotNil(t, entry)
	m.OnFill(Fill{
		Symbol: testSymbol, Action: entry.Action,
		Price: entry.Price, Qty: entry.Qty, TS: 1,
	})

	// 远低于止损价的 tick 触发硬止损
	m.OnTick(market.Ticker{Symbol: testSymbol, Price: num.MustParse("10"), TS: 2})
	exit := m.Signal()
	require.NotNil(t, exit)
	assert.Equal(t, ActionCloseLong, exit.Action)
	assert.Equal(t, "hard_stop", exit.Reason)
	assert.True(t, exit.Qty.Equal(entry.Qty))

	// 平仓信号在等待成交期间不重复评估
	m.OnTick(market.Ticker{Symbol: testSymbol, Price: num.MustParse("10"), TS: 3})
	assert.Nil(t, m.Signal())

	m.OnFill(Fill{Symbol: testSymbol, Action: exit.Action, Price: num.MustParse("10"), Qty: exit.Qty, TS: 4})
	m.OnTick(market.Ticker{Symbol: testSymbol, Price: num.MustParse("10"), TS: 5})
	assert.Nil(t, m.Signal(), "空仓后持仓分支不再出信号")
}

func TestMeanRevAddOnSizedFromOriginalQty(t *testing.T) {
	cache, m := newTestMeanRev(t)
	feed(cache, m, dipCandles())

	entry := m.Signal()
	require.NotNil(t, entry)
	m.OnFill(Fill{Symbol: testSymbol, Action: entry.Action, Price: entry.Price, Qty: entry.Qty, TS: 1})

	// 先在布林中轨（96）触发 TP1 减半
	m.OnTick(market.Ticker{Symbol: testSymbol, Price: num.MustParse("96"), TS: 2})
	tp1 := m.Signal()
	require.NotNil(t, tp1)
	require.Equal(t, "take_profit_1", tp1.Reason)
	m.OnFill(Fill{Symbol: testSymbol, Action: tp1.Action, Price: num.MustParse("96"), Qty: tp1.Qty, ReduceOnly: true, TS: 3})

	// 回落触发加仓：数量按首仓的 33% 计，而不是减半后余仓的 33%
	m.OnTick(market.Ticker{Symbol: testSymbol, Price: num.MustParse("86"), TS: 4})
	addOn := m.Signal()
	require.NotNil(t, addOn)
	assert.Equal(t, "add_on", addOn.Reason)
	assert.True(t, addOn.AddOn)
	assert.True(t, addOn.Qty.Equal(entry.Qty.Mul(num.MustParse("0.33"))))
}

func TestMeanRevWarmUp(t *testing.T) {
	m, err := NewMeanRev(indicator.NewCache(0), nil)
	require.NoError(t, err)
	// 默认参数下 RSI(14)+1 与 ATR(14)+1 均为 15，布林 20 更长
	assert.Equal(t, 20, m.WarmUp())

	m2, err := NewMeanRev(indicator.NewCache(0), map[string]any{"rsi_period": 30})
	require.NoError(t, err)
	assert.Equal(t, 31, m2.WarmUp())
}

func TestMeanRevRejectsBadOverrides(t *testing.T) {
	_, err := NewMeanRev(indicator.NewCache(0), map[string]any{"rsi_oversold": "not-a-number"})
	assert.Error(t, err)
}
