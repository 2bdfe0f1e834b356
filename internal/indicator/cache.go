package indicator

import (
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"straton/internal/market"
	"straton/internal/pkg/num"
)

// 中文说明：
// 每个 symbol 维护一段滚动 K 线历史 + 指标备忘录。
// 备忘录按“整体清空”失效：新 K 线一到全部作废，宁可重算不留陈值。
// EMA 另有增量快路径，必须与全量重算逐位一致（见 cache_test）。

const defaultMaxLen = 1000

// History 暴露给策略的只读切片视图，调用方不得修改。
type History struct {
	Candles []market.Candle
	Closes  []decimal.Decimal
	Highs   []decimal.Decimal
	Lows    []decimal.Decimal
	Volumes []decimal.Decimal
}

type emaState struct {
	value decimal.Decimal
	count int
}

type symbolEntry struct {
	candles []market.Candle
	closes  []decimal.Decimal
	highs   []decimal.Decimal
	lows    []decimal.Decimal
	volumes []decimal.Decimal

	memo map[string]any
	ema  map[int]emaState
}

// Cache 为同一 symbol 的所有策略共享指标结果，每根 K 线只算一次。
type Cache struct {
	mu      sync.Mutex
	maxLen  int
	symbols map[string]*symbolEntry
}

// NewCache 创建缓存；maxLen<=0 时使用默认上限。
func NewCache(maxLen int) *Cache {
	if maxLen <= 0 {
		maxLen = defaultMaxLen
	}
	return &Cache{maxLen: maxLen, symbols: make(map[string]*symbolEntry)}
}

func (c *Cache) entry(symbol string) *symbolEntry {
	e, ok := c.symbols[symbol]
	if !ok {
		e = &symbolEntry{memo: make(map[string]any), ema: make(map[int]emaState)}
		c.symbols[symbol] = e
	}
	return e
}

// Append 追加一根收盘 K 线并整体清空该 symbol 的备忘录。
// 超出上限时淘汰最旧一根（FIFO），同时作废 EMA 增量状态。
func (c *Cache) Append(symbol string, candle market.Candle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.entry(symbol)
	e.candles = append(e.candles, candle)
	e.closes = append(e.closes, candle.Close)
	e.highs = append(e.highs, candle.High)
	e.lows = append(e.lows, candle.Low)
	e.volumes = append(e.volumes, candle.Volume)
	if len(e.candles) > c.maxLen {
		e.candles = e.candles[1:]
		e.closes = e.closes[1:]
		e.highs = e.highs[1:]
		e.lows = e.lows[1:]
		e.volumes = e.volumes[1:]
		// 历史被截断后增量 EMA 与全量重算不再可比，作废
		e.ema = make(map[int]emaState)
	}
	e.memo = make(map[string]any)
}

// Len 返回某 symbol 当前缓存的 K 线数量。
func (c *Cache) Len(symbol string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.symbols[symbol]; ok {
		return len(e.candles)
	}
	return 0
}

// History 返回只读历史视图。
func (c *Cache) History(symbol string) History {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.symbols[symbol]
	if !ok {
		return History{}
	}
	return History{Candles: e.candles, Closes: e.closes, Highs: e.highs, Lows: e.lows, Volumes: e.volumes}
}

// LastClose 最近收盘价。
func (c *Cache) LastClose(symbol string) (decimal.Decimal, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.symbols[symbol]
	if !ok || len(e.closes) == 0 {
		return num.Zero, false
	}
	return e.closes[len(e.closes)-1], true
}

func memoValue[T any](c *Cache, symbol, key string, compute func(e *symbolEntry) (T, bool)) (T, bool) {
	var zero T
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.symbols[symbol]
	if !ok {
		return zero, false
	}
	if cached, ok := e.memo[key]; ok {
		v, ok := cached.(T)
		return v, ok
	}
	v, ok := compute(e)
	if !ok {
		return zero, false
	}
	e.memo[key] = v
	return v, true
}

// SMA 简单均线（备忘）。
func (c *Cache) SMA(symbol string, period int) (decimal.Decimal, bool) {
	return memoValue(c, symbol, fmt.Sprintf("sma(%d)", period), func(e *symbolEntry) (decimal.Decimal, bool) {
		return SMA(e.closes, period)
	})
}

// EMA 指数均线（备忘 + 增量快路径）。
func (c *Cache) EMA(symbol string, period int) (decimal.Decimal, bool) {
	return memoValue(c, symbol, fmt.Sprintf("ema(%d)", period), func(e *symbolEntry) (decimal.Decimal, bool) {
		n := len(e.closes)
		if period <= 0 || n < period {
			return num.Zero, false
		}
		if st, ok := e.ema[period]; ok && st.count == n-1 && n-1 >= period {
			v := StepEMA(st.value, e.closes[n-1], period)
			e.ema[period] = emaState{value: v, count: n}
			return v, true
		}
		v, ok := EMA(e.closes, period)
		if !ok {
			return num.Zero, false
		}
		e.ema[period] = emaState{value: v, count: n}
		return v, true
	})
}

// RSI Wilder RSI（备忘）。
func (c *Cache) RSI(symbol string, period int) (decimal.Decimal, bool) {
	return memoValue(c, symbol, fmt.Sprintf("rsi(%d)", period), func(e *symbolEntry) (decimal.Decimal, bool) {
		return RSI(e.closes, period)
	})
}

// ATR 平均真实波幅（备忘）。
func (c *Cache) ATR(symbol string, period int) (decimal.Decimal, bool) {
	return memoValue(c, symbol, fmt.Sprintf("atr(%d)", period), func(e *symbolEntry) (decimal.Decimal, bool) {
		return ATR(e.highs, e.lows, e.closes, period)
	})
}

// MACD 三元组（备忘）。
func (c *Cache) MACD(symbol string, fast, slow, signal int) (MACDValue, bool) {
	key := fmt.Sprintf("macd(%d,%d,%d)", fast, slow, signal)
	return memoValue(c, symbol, key, func(e *symbolEntry) (MACDValue, bool) {
		return MACD(e.closes, fast, slow, signal)
	})
}

// Bollinger 布林带（备忘，参数含倍数文本）。
func (c *Cache) Bollinger(symbol string, period int, mult decimal.Decimal) (Bands, bool) {
	key := fmt.Sprintf("boll(%d,%s)", period, mult.String())
	return memoValue(c, symbol, key, func(e *symbolEntry) (Bands, bool) {
		return Bollinger(e.closes, period, mult)
	})
}

// Keltner 肯特纳通道（备忘）。
func (c *Cache) Keltner(symbol string, period int, mult decimal.Decimal) (Bands, bool) {
	key := fmt.Sprintf("keltner(%d,%s)", period, mult.String())
	return memoValue(c, symbol, key, func(e *symbolEntry) (Bands, bool) {
		return Keltner(e.highs, e.lows, e.closes, period, mult)
	})
}

// VWAP 全历史累计 VWAP（备忘）。
func (c *Cache) VWAP(symbol string) (decimal.Decimal, bool) {
	return memoValue(c, symbol, "vwap()", func(e *symbolEntry) (decimal.Decimal, bool) {
		return VWAP(e.candles)
	})
}

// ADX 平均趋向指数（备忘）。
func (c *Cache) ADX(symbol string, period int) (decimal.Decimal, bool) {
	return memoValue(c, symbol, fmt.Sprintf("adx(%d)", period), func(e *symbolEntry) (decimal.Decimal, bool) {
		return ADX(e.highs, e.lows, e.closes, period)
	})
}

// VolumeSMA 成交量均线（备忘）。
func (c *Cache) VolumeSMA(symbol string, period int) (decimal.Decimal, bool) {
	return memoValue(c, symbol, fmt.Sprintf("volsma(%d)", period), func(e *symbolEntry) (decimal.Decimal, bool) {
		return SMA(e.volumes, period)
	})
}

// Divergence 价格-RSI 背离（备忘）。
func (c *Cache) Divergence(symbol string, rsiPeriod, swingK int) (Divergence, bool) {
	key := fmt.Sprintf("div(%d,%d)", rsiPeriod, swingK)
	return memoValue(c, symbol, key, func(e *symbolEntry) (Divergence, bool) {
		return DetectDivergence(e.closes, rsiPeriod, swingK)
	})
}

// Pivots 在最近 lookback 根窗口上取 max(H)/min(L)/最新 C 计算枢轴位（备忘）。
func (c *Cache) Pivots(symbol string, lookback int) (PivotLevels, bool) {
	key := fmt.Sprintf("pivots(%d)", lookback)
	return memoValue(c, symbol, key, func(e *symbolEntry) (PivotLevels, bool) {
		n := len(e.candles)
		if lookback <= 0 || n < lookback {
			return PivotLevels{}, false
		}
		high := e.highs[n-lookback]
		low := e.lows[n-lookback]
		for i := n - lookback + 1; i < n; i++ {
			high = num.Max(high, e.highs[i])
			low = num.Min(low, e.lows[i])
		}
		return PivotPoints(high, low, e.closes[n-1]), true
	})
}
