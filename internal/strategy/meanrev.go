package strategy

import (
	"sync"

	"github.com/shopspring/decimal"

	"straton/internal/indicator"
	"straton/internal/market"
	"straton/internal/pkg/num"
)

// MeanRevConfig 均值回归策略参数。decimal 字段支持字符串精确配置。
type MeanRevConfig struct {
	RSIPeriod   int `mapstructure:"rsi_period"`
	BollPeriod  int `mapstructure:"boll_period"`
	ATRPeriod   int `mapstructure:"atr_period"`
	VolPeriod   int `mapstructure:"vol_period"`
	MaxHoldBars int `mapstructure:"max_hold_bars"`

	Oversold      decimal.Decimal `mapstructure:"rsi_oversold"`
	Overbought    decimal.Decimal `mapstructure:"rsi_overbought"`
	BollMult      decimal.Decimal `mapstructure:"boll_mult"`
	DevATRMin     decimal.Decimal `mapstructure:"dev_atr_min"`
	VolMult       decimal.Decimal `mapstructure:"vol_mult"`
	StopATR       decimal.Decimal `mapstructure:"stop_atr"`
	TP1Ratio      decimal.Decimal `mapstructure:"tp1_ratio"`
	TP2ATR        decimal.Decimal `mapstructure:"tp2_atr"`
	TrailActivate decimal.Decimal `mapstructure:"trail_activate_pct"`
	TrailATR      decimal.Decimal `mapstructure:"trail_atr"`
	AddOnATR      decimal.Decimal `mapstructure:"add_on_atr"`
	AddOnFraction decimal.Decimal `mapstructure:"add_on_fraction"`
	SizePct       decimal.Decimal `mapstructure:"size_pct"`
}

// DefaultMeanRevConfig 默认参数。
func DefaultMeanRevConfig() MeanRevConfig {
	return MeanRevConfig{
		RSIPeriod:     14,
		BollPeriod:    20,
		ATRPeriod:     14,
		VolPeriod:     20,
		MaxHoldBars:   48,
		Oversold:      decimal.NewFromInt(30),
		Overbought:    decimal.NewFromInt(70),
		BollMult:      num.Two,
		DevATRMin:     num.MustParse("0.5"),
		VolMult:       num.MustParse("1.2"),
		StopATR:       num.Two,
		TP1Ratio:      num.MustParse("0.5"),
		TP2ATR:        num.One,
		TrailActivate: num.MustParse("0.01"),
		TrailATR:      num.MustParse("1.5"),
		AddOnATR:      num.MustParse("0.75"),
		AddOnFraction: num.MustParse("0.33"),
		SizePct:       num.MustParse("0.1"),
	}
}

// MeanRev 均值回归：RSI 极值 + 布林带偏离 + 量能确认 + 反转 K 线，
// 四个条件须同一根 K 线同时满足，跨根不记忆部分命中。
type MeanRev struct {
	base
	cfg    MeanRevConfig
	cache  *indicator.Cache
	states *stateMap[SymbolState]

	activeMu sync.Mutex
	active   map[string]bool
}

// NewMeanRev 创建策略，overrides 覆盖默认参数。
func NewMeanRev(cache *indicator.Cache, overrides map[string]any) (*MeanRev, error) {
	cfg := DefaultMeanRevConfig()
	if err := DecodeConfig(overrides, &cfg); err != nil {
		return nil, err
	}
	return &MeanRev{
		base:   base{name: "meanrev"},
		cfg:    cfg,
		cache:  cache,
		states: newStateMap[SymbolState](),
		active: make(map[string]bool),
	}, nil
}

// WarmUp 返回所有依赖指标中最长的预热根数。
func (m *MeanRev) WarmUp() int {
	need := m.cfg.BollPeriod
	if v := m.cfg.RSIPeriod + 1; v > need {
		need = v
	}
	if v := m.cfg.ATRPeriod + 1; v > need {
		need = v
	}
	if v := m.cfg.VolPeriod; v > need {
		need = v
	}
	return need
}

func (m *MeanRev) Activate(symbol string) {
	m.activeMu.Lock()
	m.active[symbol] = true
	m.activeMu.Unlock()
}

func (m *MeanRev) Deactivate(symbol string) {
	m.activeMu.Lock()
	delete(m.active, symbol)
	m.activeMu.Unlock()
	m.states.delete(symbol)
}

func (m *MeanRev) isActive(symbol string) bool {
	m.activeMu.Lock()
	defer m.activeMu.Unlock()
	return m.active[symbol]
}

func (m *MeanRev) OnBar(symbol string, c market.Candle) {
	if !m.isActive(symbol) || !c.Valid() {
		return
	}
	st := m.states.get(symbol)
	// 上一根未获成交确认的意图作废，保持可决策
	st.Pending = nil
	if st.Open() {
		st.BarsHeld++
		return
	}
	if m.cache.Len(symbol) < m.WarmUp() {
		return
	}
	if !regimeAllowed(m.effectiveRegime(), []Regime{RegimeRanging, RegimeQuiet}) {
		return
	}

	rsi, ok := m.cache.RSI(symbol, m.cfg.RSIPeriod)
	if !ok {
		return
	}
	boll, ok := m.cache.Bollinger(symbol, m.cfg.BollPeriod, m.cfg.BollMult)
	if !ok {
		return
	}
	atr, ok := m.cache.ATR(symbol, m.cfg.ATRPeriod)
	if !ok || atr.Sign() <= 0 {
		return
	}
	volSMA, ok := m.cache.VolumeSMA(symbol, m.cfg.VolPeriod)
	if !ok || volSMA.Sign() <= 0 {
		return
	}
	volOK := c.Volume.GreaterThan(volSMA.Mul(m.cfg.VolMult))
	devMin := m.cfg.DevATRMin.Mul(atr)

	if rsi.LessThan(m.cfg.Oversold) && c.Close.LessThan(boll.Lower) && volOK && c.Bullish() {
		dev := boll.Middle.Sub(c.Close)
		if dev.GreaterThanOrEqual(devMin) {
			m.emitEntry(symbol, st, ActionOpenLong, c, rsi, dev, atr, volSMA)
		}
		return
	}
	if rsi.GreaterThan(m.cfg.Overbought) && c.Close.GreaterThan(boll.Upper) && volOK && c.Bearish() {
		dev := c.Close.Sub(boll.Middle)
		if dev.GreaterThanOrEqual(devMin) {
			m.emitEntry(symbol, st, ActionOpenShort, c, rsi, dev, atr, volSMA)
		}
	}
}

func (m *MeanRev) emitEntry(symbol string, st *SymbolState, action Action, c market.Candle, rsi, dev, atr, volSMA decimal.Decimal) {
	price := c.Close
	conf := m.confidence(action, rsi, dev, atr, c.Volume, volSMA)

	qty := num.Zero
	if eq, ok := m.equity(); ok && eq.Sign() > 0 {
		qty = eq.Mul(m.cfg.SizePct).Div(price)
	}
	stop := price.Sub(m.cfg.StopATR.Mul(atr))
	if action == ActionOpenShort {
		stop = price.Add(m.cfg.StopATR.Mul(atr))
	}
	sig := &Signal{
		Action:     action,
		Symbol:     symbol,
		Qty:        qty,
		Price:      price,
		Confidence: conf,
		StopLoss:   stop,
		Reason:     "mean_reversion",
		Context: map[string]string{
			"rsi":       rsi.String(),
			"deviation": dev.String(),
			"atr":       atr.String(),
		},
	}
	st.Pending = sig
	m.emit(sig)
}

// confidence 按各触发值越过阈值的程度打分：独立封顶后加权求和再截断。
// 纯信息性元数据，不作为门控。
func (m *MeanRev) confidence(action Action, rsi, dev, atr, vol, volSMA decimal.Decimal) decimal.Decimal {
	var rsiComp decimal.Decimal
	if action == ActionOpenLong {
		if v, ok := num.SafeDiv(m.cfg.Oversold.Sub(rsi), m.cfg.Oversold); ok {
			rsiComp = num.Clamp01(v)
		}
	} else {
		if v, ok := num.SafeDiv(rsi.Sub(m.cfg.Overbought), num.Hundred.Sub(m.cfg.Overbought)); ok {
			rsiComp = num.Clamp01(v)
		}
	}
	var devComp decimal.Decimal
	if v, ok := num.SafeDiv(dev, m.cfg.DevATRMin.Mul(atr)); ok {
		devComp = num.Clamp01(v.Sub(num.One))
	}
	var volComp decimal.Decimal
	if v, ok := num.SafeDiv(vol, volSMA.Mul(m.cfg.VolMult)); ok {
		volComp = num.Clamp01(v.Sub(num.One))
	}
	conf := rsiComp.Mul(num.MustParse("0.5")).
		Add(devComp.Mul(num.MustParse("0.3"))).
		Add(volComp.Mul(num.MustParse("0.2")))
	return num.Clamp01(conf)
}

func (m *MeanRev) OnTick(t market.Ticker) {
	if !t.Valid() || !m.isActive(t.Symbol) {
		return
	}
	st, ok := m.states.peek(t.Symbol)
	if !ok || !st.Open() || st.Pending != nil {
		return
	}
	atr, ok := m.cache.ATR(t.Symbol, m.cfg.ATRPeriod)
	if !ok || atr.Sign() <= 0 {
		return
	}
	boll, ok := m.cache.Bollinger(t.Symbol, m.cfg.BollPeriod, m.cfg.BollMult)
	if !ok {
		return
	}
	long := st.Side == SideLong
	p := ExitParams{
		MaxHoldBars:   m.cfg.MaxHoldBars,
		TP1Price:      boll.Middle,
		TP1Ratio:      m.cfg.TP1Ratio,
		TrailDistance: m.cfg.TrailATR.Mul(atr),
		AddOnQty:      st.InitialQty.Mul(m.cfg.AddOnFraction),
	}
	stopSpan := m.cfg.StopATR.Mul(atr)
	tp2Span := m.cfg.TP2ATR.Mul(atr)
	addSpan := m.cfg.AddOnATR.Mul(atr)
	if long {
		p.StopPrice = st.EntryPrice.Sub(stopSpan)
		p.TP2Price = boll.Middle.Add(tp2Span)
		p.TrailActivatePrice = st.EntryPrice.Mul(num.One.Add(m.cfg.TrailActivate))
		p.AddOnPrice = st.EntryPrice.Sub(addSpan)
	} else {
		p.StopPrice = st.EntryPrice.Add(stopSpan)
		p.TP2Price = boll.Middle.Sub(tp2Span)
		p.TrailActivatePrice = st.EntryPrice.Mul(num.One.Sub(m.cfg.TrailActivate))
		p.AddOnPrice = st.EntryPrice.Add(addSpan)
	}
	if sig := EvaluateOpenPosition(t.Symbol, st, t.Price, p); sig != nil {
		st.Pending = sig
		m.emit(sig)
	}
}

func (m *MeanRev) OnFill(f Fill) {
	if f.Symbol == "" {
		return
	}
	st := m.states.get(f.Symbol)
	st.ApplyFill(f)
}
