package strategy

import (
	"sync"

	"github.com/shopspring/decimal"

	"straton/internal/indicator"
	"straton/internal/market"
	"straton/internal/pkg/num"
)

// GridConfig 枢轴网格策略参数。
type GridConfig struct {
	PivotLookback int `mapstructure:"pivot_lookback"`
	MaxHoldBars   int `mapstructure:"max_hold_bars"`

	BudgetPct decimal.Decimal `mapstructure:"budget_pct"`
	StopPct   decimal.Decimal `mapstructure:"stop_pct"`
}

// DefaultGridConfig 默认参数。
func DefaultGridConfig() GridConfig {
	return GridConfig{
		PivotLookback: 24,
		MaxHoldBars:   72,
		BudgetPct:     num.MustParse("0.3"),
		StopPct:       num.MustParse("0.01"),
	}
}

// gridState 在通用持仓状态外记住上一根收盘价、上一根收盘时的网格位
// 与成交时锚定的目标/止损。网格线取自上一根，穿越才有定义：
// 若用含当根的窗口，收盘价在数学上永远到不了 S1/R1。
type gridState struct {
	SymbolState
	PrevClose decimal.Decimal
	Levels    indicator.PivotLevels
	HasLevels bool
	Target    decimal.Decimal
	Stop      decimal.Decimal
}

// Grid 枢轴网格：用回看窗口的枢轴位 S2/S1/P/R1/R2 作网格线。
// 价格下穿支撑位买入、目标在上一档网格线；上穿阻力位卖空、目标
// 在下一档。出界（S2 下方 / R2 上方一定比例）视为区间失效止损。
// 仅在 ranging regime 运行，单 symbol 同时至多一仓。
type Grid struct {
	base
	cfg    GridConfig
	cache  *indicator.Cache
	states *stateMap[gridState]

	activeMu sync.Mutex
	active   map[string]bool
}

// NewGrid 创建策略，overrides 覆盖默认参数。
func NewGrid(cache *indicator.Cache, overrides map[string]any) (*Grid, error) {
	cfg := DefaultGridConfig()
	if err := DecodeConfig(overrides, &cfg); err != nil {
		return nil, err
	}
	return &Grid{
		base:   base{name: "grid"},
		cfg:    cfg,
		cache:  cache,
		states: newStateMap[gridState](),
		active: make(map[string]bool),
	}, nil
}

// WarmUp 网格线锚定在上一根，首个可交易信号要多等一根。
func (g *Grid) WarmUp() int { return g.cfg.PivotLookback + 1 }

func (g *Grid) Activate(symbol string) {
	g.activeMu.Lock()
	g.active[symbol] = true
	g.activeMu.Unlock()
}

func (g *Grid) Deactivate(symbol string) {
	g.activeMu.Lock()
	delete(g.active, symbol)
	g.activeMu.Unlock()
	g.states.delete(symbol)
}

func (g *Grid) isActive(symbol string) bool {
	g.activeMu.Lock()
	defer g.activeMu.Unlock()
	return g.active[symbol]
}

func (g *Grid) OnBar(symbol string, c market.Candle) {
	if !g.isActive(symbol) || !c.Valid() {
		return
	}
	st := g.states.get(symbol)
	st.Pending = nil
	prev := st.PrevClose
	pv, pvOK := st.Levels, st.HasLevels
	st.PrevClose = c.Close
	if cur, ok := g.cache.Pivots(symbol, g.cfg.PivotLookback); ok {
		st.Levels, st.HasLevels = cur, true
	}
	if st.Open() {
		st.BarsHeld++
		return
	}
	if !regimeAllowed(g.effectiveRegime(), []Regime{RegimeRanging}) {
		return
	}
	if prev.Sign() <= 0 || !pvOK {
		return
	}

	// 自上而下找首个被下穿的支撑网格线
	for i, level := range []decimal.Decimal{pv.S1, pv.S2} {
		if level.Sign() <= 0 {
			continue
		}
		if prev.GreaterThan(level) && c.Close.LessThanOrEqual(level) {
			target := pv.P
			if i == 1 {
				target = pv.S1
			}
			stop := pv.S2.Mul(num.One.Sub(g.cfg.StopPct))
			g.emitEntry(symbol, st, ActionOpenLong, c.Close, level, target, stop)
			return
		}
	}
	// 对称的阻力侧：上穿 R1/R2 卖空
	for i, level := range []decimal.Decimal{pv.R1, pv.R2} {
		if level.Sign() <= 0 {
			continue
		}
		if prev.LessThan(level) && c.Close.GreaterThanOrEqual(level) {
			target := pv.P
			if i == 1 {
				target = pv.R1
			}
			stop := pv.R2.Mul(num.One.Add(g.cfg.StopPct))
			g.emitEntry(symbol, st, ActionOpenShort, c.Close, level, target, stop)
			return
		}
	}
}

func (g *Grid) emitEntry(symbol string, st *gridState, action Action, price, level, target, stop decimal.Decimal) {
	// 预算均摊到支撑/阻力各两档网格线
	qty := num.Zero
	if eq, ok := g.equity(); ok && eq.Sign() > 0 {
		qty = eq.Mul(g.cfg.BudgetPct).Div(decimal.NewFromInt(4)).Div(price)
	}
	sig := &Signal{
		Action:     action,
		Symbol:     symbol,
		Qty:        qty,
		Price:      price,
		Confidence: num.MustParse("0.5"),
		StopLoss:   stop,
		Reason:     "grid_level",
		Context: map[string]string{
			"level":  level.String(),
			"target": target.String(),
		},
	}
	st.Target = target
	st.Stop = stop
	st.Pending = sig
	g.emit(sig)
}

func (g *Grid) OnTick(t market.Ticker) {
	if !t.Valid() || !g.isActive(t.Symbol) {
		return
	}
	st, ok := g.states.peek(t.Symbol)
	if !ok || !st.Open() || st.Pending != nil {
		return
	}
	// 网格不做分段止盈和追踪：目标即下一档网格线，整仓了结
	p := ExitParams{
		StopPrice:   st.Stop,
		MaxHoldBars: g.cfg.MaxHoldBars,
	}
	long := st.Side == SideLong
	if st.Target.Sign() > 0 && reached(long, t.Price, st.Target) {
		sig := &Signal{
			Action: CloseFor(st.Side), Symbol: t.Symbol, Qty: st.Qty, Price: t.Price,
			Confidence: num.One, Reason: "grid_target",
		}
		st.Pending = sig
		g.emit(sig)
		return
	}
	if sig := EvaluateOpenPosition(t.Symbol, &st.SymbolState, t.Price, p); sig != nil {
		st.Pending = sig
		g.emit(sig)
	}
}

func (g *Grid) OnFill(f Fill) {
	if f.Symbol == "" {
		return
	}
	st := g.states.get(f.Symbol)
	st.ApplyFill(f)
}
