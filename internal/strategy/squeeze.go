package strategy

import (
	"strconv"
	"sync"

	"github.com/shopspring/decimal"

	"straton/internal/indicator"
	"straton/internal/market"
	"straton/internal/pkg/num"
)

// SqueezeConfig 挤压突破策略参数。
type SqueezeConfig struct {
	BollPeriod  int `mapstructure:"boll_period"`
	KeltPeriod  int `mapstructure:"kelt_period"`
	ATRPeriod   int `mapstructure:"atr_period"`
	ADXPeriod   int `mapstructure:"adx_period"`
	VolPeriod   int `mapstructure:"vol_period"`
	MinSqueeze  int `mapstructure:"min_squeeze_bars"`
	MaxHoldBars int `mapstructure:"max_hold_bars"`

	BollMult      decimal.Decimal `mapstructure:"boll_mult"`
	KeltMult      decimal.Decimal `mapstructure:"kelt_mult"`
	ADXMin        decimal.Decimal `mapstructure:"adx_min"`
	VolMult       decimal.Decimal `mapstructure:"vol_mult"`
	StopATR       decimal.Decimal `mapstructure:"stop_atr"`
	TP1ATR        decimal.Decimal `mapstructure:"tp1_atr"`
	TP1Ratio      decimal.Decimal `mapstructure:"tp1_ratio"`
	TP2ATR        decimal.Decimal `mapstructure:"tp2_atr"`
	TrailActivate decimal.Decimal `mapstructure:"trail_activate_pct"`
	TrailATR      decimal.Decimal `mapstructure:"trail_atr"`
	SizePct       decimal.Decimal `mapstructure:"size_pct"`
}

// DefaultSqueezeConfig 默认参数。
func DefaultSqueezeConfig() SqueezeConfig {
	return SqueezeConfig{
		BollPeriod:    20,
		KeltPeriod:    20,
		ATRPeriod:     14,
		ADXPeriod:     14,
		VolPeriod:     20,
		MinSqueeze:    6,
		MaxHoldBars:   96,
		BollMult:      num.Two,
		KeltMult:      num.MustParse("1.5"),
		ADXMin:        decimal.NewFromInt(20),
		VolMult:       num.MustParse("1.5"),
		StopATR:       num.MustParse("1.5"),
		TP1ATR:        num.Two,
		TP1Ratio:      num.MustParse("0.5"),
		TP2ATR:        decimal.NewFromInt(4),
		TrailActivate: num.MustParse("0.015"),
		TrailATR:      num.Two,
		SizePct:       num.MustParse("0.2"),
	}
}

// squeezeState 在通用持仓状态外附带挤压计数。
type squeezeState struct {
	SymbolState
	SqueezeBars int
}

// Squeeze 波动压缩突破：布林带完全收进肯特纳通道视为挤压，
// 挤压持续若干根后带量突破布林带边界、且 ADX 确认趋势强度时顺势进场。
// 方向受 regime 约束：trending_up 只做多，trending_down 只做空。
type Squeeze struct {
	base
	cfg    SqueezeConfig
	cache  *indicator.Cache
	states *stateMap[squeezeState]

	activeMu sync.Mutex
	active   map[string]bool
}

// NewSqueeze 创建策略，overrides 覆盖默认参数。
func NewSqueeze(cache *indicator.Cache, overrides map[string]any) (*Squeeze, error) {
	cfg := DefaultSqueezeConfig()
	if err := DecodeConfig(overrides, &cfg); err != nil {
		return nil, err
	}
	return &Squeeze{
		base:   base{name: "squeeze"},
		cfg:    cfg,
		cache:  cache,
		states: newStateMap[squeezeState](),
		active: make(map[string]bool),
	}, nil
}

func (s *Squeeze) WarmUp() int {
	// ADX 的 Wilder 双重平滑是最长的一条
	need := 2*s.cfg.ADXPeriod + 1
	if v := s.cfg.BollPeriod; v > need {
		need = v
	}
	if v := s.cfg.KeltPeriod + s.cfg.ATRPeriod; v > need {
		need = v
	}
	if v := s.cfg.VolPeriod; v > need {
		need = v
	}
	return need
}

func (s *Squeeze) Activate(symbol string) {
	s.activeMu.Lock()
	s.active[symbol] = true
	s.activeMu.Unlock()
}

func (s *Squeeze) Deactivate(symbol string) {
	s.activeMu.Lock()
	delete(s.active, symbol)
	s.activeMu.Unlock()
	s.states.delete(symbol)
}

func (s *Squeeze) isActive(symbol string) bool {
	s.activeMu.Lock()
	defer s.activeMu.Unlock()
	return s.active[symbol]
}

func (s *Squeeze) OnBar(symbol string, c market.Candle) {
	if !s.isActive(symbol) || !c.Valid() {
		return
	}
	st := s.states.get(symbol)
	st.Pending = nil
	if st.Open() {
		st.BarsHeld++
		return
	}
	if s.cache.Len(symbol) < s.WarmUp() {
		return
	}

	boll, ok := s.cache.Bollinger(symbol, s.cfg.BollPeriod, s.cfg.BollMult)
	if !ok {
		return
	}
	kelt, ok := s.cache.Keltner(symbol, s.cfg.KeltPeriod, s.cfg.KeltMult)
	if !ok {
		return
	}

	// 挤压计数先更新，再判断突破：突破必须发生在离开挤压的当根
	inSqueeze := boll.Upper.LessThan(kelt.Upper) && boll.Lower.GreaterThan(kelt.Lower)
	if inSqueeze {
		st.SqueezeBars++
		return
	}
	prior := st.SqueezeBars
	st.SqueezeBars = 0
	if prior < s.cfg.MinSqueeze {
		return
	}

	regime := s.effectiveRegime()
	if !regimeAllowed(regime, []Regime{RegimeTrendingUp, RegimeTrendingDown, RegimeVolatile}) {
		return
	}

	adx, ok := s.cache.ADX(symbol, s.cfg.ADXPeriod)
	if !ok || adx.LessThan(s.cfg.ADXMin) {
		return
	}
	volSMA, ok := s.cache.VolumeSMA(symbol, s.cfg.VolPeriod)
	if !ok || volSMA.Sign() <= 0 {
		return
	}
	if !c.Volume.GreaterThan(volSMA.Mul(s.cfg.VolMult)) {
		return
	}
	atr, ok := s.cache.ATR(symbol, s.cfg.ATRPeriod)
	if !ok || atr.Sign() <= 0 {
		return
	}

	longOK := regime != RegimeTrendingDown
	shortOK := regime != RegimeTrendingUp
	if longOK && c.Close.GreaterThan(boll.Upper) && c.Bullish() {
		s.emitEntry(symbol, st, ActionOpenLong, c.Close, adx, atr, prior)
		return
	}
	if shortOK && c.Close.LessThan(boll.Lower) && c.Bearish() {
		s.emitEntry(symbol, st, ActionOpenShort, c.Close, adx, atr, prior)
	}
}

func (s *Squeeze) emitEntry(symbol string, st *squeezeState, action Action, price, adx, atr decimal.Decimal, squeezeBars int) {
	qty := num.Zero
	if eq, ok := s.equity(); ok && eq.Sign() > 0 {
		qty = eq.Mul(s.cfg.SizePct).Div(price)
	}
	stop := price.Sub(s.cfg.StopATR.Mul(atr))
	if action == ActionOpenShort {
		stop = price.Add(s.cfg.StopATR.Mul(atr))
	}
	sig := &Signal{
		Action:     action,
		Symbol:     symbol,
		Qty:        qty,
		Price:      price,
		Confidence: s.confidence(adx, squeezeBars),
		StopLoss:   stop,
		Reason:     "squeeze_breakout",
		Context: map[string]string{
			"adx":          adx.String(),
			"squeeze_bars": strconv.Itoa(squeezeBars),
		},
	}
	st.Pending = sig
	s.emit(sig)
}

// confidence 由 ADX 强度与挤压时长加权：压得越久、趋势越强，分越高。
func (s *Squeeze) confidence(adx decimal.Decimal, squeezeBars int) decimal.Decimal {
	var adxComp decimal.Decimal
	if v, ok := num.SafeDiv(adx.Sub(s.cfg.ADXMin), num.Hundred.Sub(s.cfg.ADXMin)); ok {
		adxComp = num.Clamp01(v)
	}
	var lenComp decimal.Decimal
	if s.cfg.MinSqueeze > 0 {
		ratio := decimal.NewFromInt(int64(squeezeBars)).Div(decimal.NewFromInt(int64(2 * s.cfg.MinSqueeze)))
		lenComp = num.Clamp01(ratio)
	}
	conf := adxComp.Mul(num.MustParse("0.6")).Add(lenComp.Mul(num.MustParse("0.4")))
	return num.Clamp01(conf)
}

func (s *Squeeze) OnTick(t market.Ticker) {
	if !t.Valid() || !s.isActive(t.Symbol) {
		return
	}
	st, ok := s.states.peek(t.Symbol)
	if !ok || !st.Open() || st.Pending != nil {
		return
	}
	atr, ok := s.cache.ATR(t.Symbol, s.cfg.ATRPeriod)
	if !ok || atr.Sign() <= 0 {
		return
	}
	long := st.Side == SideLong
	p := ExitParams{
		MaxHoldBars:   s.cfg.MaxHoldBars,
		TP1Ratio:      s.cfg.TP1Ratio,
		TrailDistance: s.cfg.TrailATR.Mul(atr),
	}
	stopSpan := s.cfg.StopATR.Mul(atr)
	tp1Span := s.cfg.TP1ATR.Mul(atr)
	tp2Span := s.cfg.TP2ATR.Mul(atr)
	if long {
		p.StopPrice = st.EntryPrice.Sub(stopSpan)
		p.TP1Price = st.EntryPrice.Add(tp1Span)
		p.TP2Price = st.EntryPrice.Add(tp2Span)
		p.TrailActivatePrice = st.EntryPrice.Mul(num.One.Add(s.cfg.TrailActivate))
	} else {
		p.StopPrice = st.EntryPrice.Add(stopSpan)
		p.TP1Price = st.EntryPrice.Sub(tp1Span)
		p.TP2Price = st.EntryPrice.Sub(tp2Span)
		p.TrailActivatePrice = st.EntryPrice.Mul(num.One.Sub(s.cfg.TrailActivate))
	}
	if sig := EvaluateOpenPosition(t.Symbol, &st.SymbolState, t.Price, p); sig != nil {
		st.Pending = sig
		s.emit(sig)
	}
}

func (s *Squeeze) OnFill(f Fill) {
	if f.Symbol == "" {
		return
	}
	st := s.states.get(f.Symbol)
	st.ApplyFill(f)
}
