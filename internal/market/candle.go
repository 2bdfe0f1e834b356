package market

import (
	"github.com/shopspring/decimal"

	"straton/internal/pkg/num"
)

// Candle 表示一根固定周期的 OHLCV K 线。
// 价格与成交量保持 decimal 精确文本；时间戳为毫秒。
// 一经产生不可变，同一 symbol 流内按 CloseTime 严格递增到达。
type Candle struct {
	OpenTime  int64           `json:"open_time"`
	CloseTime int64           `json:"close_time"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
	Trades    int64           `json:"trades,omitempty"`
}

// Valid 校验必填字段：时间戳为正、价格为正、high>=low。
// 非法 K 线只跳过当次处理，不算错误。
func (c Candle) Valid() bool {
	if c.CloseTime <= 0 {
		return false
	}
	if c.Open.Sign() <= 0 || c.High.Sign() <= 0 || c.Low.Sign() <= 0 || c.Close.Sign() <= 0 {
		return false
	}
	if c.High.LessThan(c.Low) {
		return false
	}
	return c.Volume.Sign() >= 0
}

// Typical 返回 (H+L+C)/3，VWAP 等指标使用。
func (c Candle) Typical() decimal.Decimal {
	return c.High.Add(c.Low).Add(c.Close).Div(decimal.NewFromInt(3))
}

// Bullish 收阳。
func (c Candle) Bullish() bool { return c.Close.GreaterThan(c.Open) }

// Bearish 收阴。
func (c Candle) Bearish() bool { return c.Close.LessThan(c.Open) }

// Ticker 是某一时刻的最新成交价快照。
// 回测引擎会用每根 K 线的收盘价合成一个 ticker。
type Ticker struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
	TS     int64           `json:"ts"`
}

// Valid 校验 ticker 必填字段。
func (t Ticker) Valid() bool {
	return t.Symbol != "" && t.TS > 0 && t.Price.GreaterThan(num.Zero)
}

// CandleFromStrings 按交易所返回的十进制文本构造 K 线，保持精确。
func CandleFromStrings(openTime, closeTime int64, open, high, low, closePx, volume string) (Candle, error) {
	o, err := num.Parse(open)
	if err != nil {
		return Candle{}, err
	}
	h, err := num.Parse(high)
	if err != nil {
		return Candle{}, err
	}
	l, err := num.Parse(low)
	if err != nil {
		return Candle{}, err
	}
	c, err := num.Parse(closePx)
	if err != nil {
		return Candle{}, err
	}
	v, err := num.Parse(volume)
	if err != nil {
		return Candle{}, err
	}
	return Candle{OpenTime: openTime, CloseTime: closeTime, Open: o, High: h, Low: l, Close: c, Volume: v}, nil
}
