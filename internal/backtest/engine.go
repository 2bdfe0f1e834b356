package backtest

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"straton/internal/indicator"
	"straton/internal/logger"
	"straton/internal/market"
	"straton/internal/pkg/num"
	"straton/internal/strategy"
)

// ValidationError 配置校验失败，HTTP 层据此返回 400。
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// position 引擎侧的持仓账本，与策略内部状态相互独立：
// 策略可以骗自己，账本不行。
type position struct {
	side     strategy.PositionSide
	qty      decimal.Decimal
	entry    decimal.Decimal
	entryFee decimal.Decimal // 尚未分摊进已平仓 Trade 的开仓手续费
	openTS   int64
	holdBars int
}

// Engine 单 symbol 逐 K 线重放的模拟撮合引擎。
// 同一 Engine 只供一次 Run 使用，内部不做并发保护；
// 并发回测由上层为每个任务建独立 Engine + 独立指标缓存。
type Engine struct {
	cfg     RunConfig
	tf      Timeframe
	candles []market.Candle
	cache   *indicator.Cache
	strat   strategy.Strategy
	meta    strategy.Meta

	cash     decimal.Decimal
	pos      *position
	trades   []Trade
	equity   []EquityPoint
	peak     decimal.Decimal
	feesPaid decimal.Decimal
}

// validateRunConfig 校验与数据无关的配置项，包括策略参数可解码性。
func validateRunConfig(cfg RunConfig) error {
	if cfg.Symbol == "" {
		return &ValidationError{Field: "symbol", Reason: "不能为空"}
	}
	if _, err := ParseTimeframe(cfg.Timeframe); err != nil {
		return &ValidationError{Field: "timeframe", Reason: err.Error()}
	}
	if cfg.InitialCapital.Sign() <= 0 {
		return &ValidationError{Field: "initial_capital", Reason: "需 > 0"}
	}
	if cfg.FeeRate.Sign() < 0 || cfg.FeeRate.GreaterThanOrEqual(num.One) {
		return &ValidationError{Field: "fee_rate", Reason: "需在 [0,1) 区间"}
	}
	if cfg.SlippageBps.Sign() < 0 {
		return &ValidationError{Field: "slippage_bps", Reason: "不能为负"}
	}
	if cfg.MaxCachedCandles < 0 {
		return &ValidationError{Field: "max_cached_candles", Reason: "不能为负"}
	}
	if _, ok := strategy.Lookup(cfg.Strategy); !ok {
		return &ValidationError{Field: "strategy", Reason: fmt.Sprintf("未注册: %s", cfg.Strategy)}
	}
	if _, err := strategy.New(cfg.Strategy, indicator.NewCache(cfg.MaxCachedCandles), cfg.StrategyConfig); err != nil {
		return &ValidationError{Field: "strategy_config", Reason: err.Error()}
	}
	return nil
}

// NewEngine 校验配置与数据并组装引擎。
// K 线必须按 open_time 严格递增，区间内可以有缺口但不可乱序。
func NewEngine(cfg RunConfig, candles []market.Candle) (*Engine, error) {
	if err := validateRunConfig(cfg); err != nil {
		return nil, err
	}
	tf, _ := ParseTimeframe(cfg.Timeframe)
	if len(candles) == 0 {
		return nil, &ValidationError{Field: "candles", Reason: "数据为空"}
	}
	for i, c := range candles {
		if !c.Valid() {
			return nil, &ValidationError{Field: "candles", Reason: fmt.Sprintf("第 %d 根非法", i)}
		}
		if i > 0 && c.OpenTime <= candles[i-1].OpenTime {
			return nil, &ValidationError{Field: "candles", Reason: fmt.Sprintf("第 %d 根时间未递增", i)}
		}
	}
	meta, _ := strategy.Lookup(cfg.Strategy)

	cache := indicator.NewCache(cfg.MaxCachedCandles)
	strat, err := strategy.New(cfg.Strategy, cache, cfg.StrategyConfig)
	if err != nil {
		return nil, &ValidationError{Field: "strategy_config", Reason: err.Error()}
	}

	e := &Engine{
		cfg:     cfg,
		tf:      tf,
		candles: candles,
		cache:   cache,
		strat:   strat,
		meta:    meta,
		cash:    cfg.InitialCapital,
		peak:    cfg.InitialCapital,
	}
	strat.BindAccount(func() decimal.Decimal {
		price, ok := cache.LastClose(cfg.Symbol)
		if !ok {
			return e.cash
		}
		return e.equityAt(price)
	})
	if cfg.ForcedRegime != "" {
		if f, ok := strat.(interface{ ForceRegime(strategy.Regime) }); ok {
			f.ForceRegime(strategy.Regime(cfg.ForcedRegime))
		}
	}
	return e, nil
}

// Run 逐根重放。单根 K 线内的处理 panic 只丢弃该根，不中断整个回测。
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	symbol := e.cfg.Symbol
	e.strat.Activate(symbol)
	defer e.strat.Deactivate(symbol)

	for _, c := range e.candles {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		e.cache.Append(symbol, c)
		e.stepBar(c)
	}

	// 数据走完强制平仓，盈亏全部落袋后才能对账
	last := e.candles[len(e.candles)-1]
	if e.pos != nil {
		e.closeAt(last.Close, e.pos.qty, "end_of_data", false, last.CloseTime)
	}

	report := ComputeReport(e.cfg, e.tf, e.trades, e.equity, e.equityAt(last.Close), e.feesPaid)
	return &Result{
		Config: e.cfg,
		Trades: e.trades,
		Equity: e.equity,
		Report: report,
	}, nil
}

func (e *Engine) stepBar(c market.Candle) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("[backtest] 策略 %s 在 %d 处 panic，跳过该根: %v", e.strat.Name(), c.CloseTime, r)
		}
	}()
	symbol := e.cfg.Symbol
	e.strat.SetRegime(e.classifyRegime())
	e.strat.OnBar(symbol, c)
	e.drainSignals(c)

	// 收盘价合成一个 tick 驱动持仓分支
	e.strat.OnTick(market.Ticker{Symbol: symbol, Price: c.Close, TS: c.CloseTime})
	e.drainSignals(c)

	if e.pos != nil {
		e.pos.holdBars++
	}
	e.recordEquity(c)
}

// drainSignals 取空策略信号队列并逐个撮合。上限防止策略失控刷单。
func (e *Engine) drainSignals(c market.Candle) {
	for i := 0; i < 16; i++ {
		sig := e.strat.Signal()
		if sig == nil {
			return
		}
		e.executeSignal(sig, c)
	}
	// 超限后必须把队列真正取空，残余信号不得留到下一根按新价格成交
	dropped := 0
	for e.strat.Signal() != nil {
		dropped++
	}
	logger.Warnf("[backtest] %s 单根信号超限，丢弃剩余 %d 条", e.strat.Name(), dropped)
}

func (e *Engine) executeSignal(sig *strategy.Signal, c market.Candle) {
	if !sig.Valid() {
		logger.Warnf("[backtest] 非法信号被丢弃: %+v", sig)
		return
	}
	if sig.Symbol != e.cfg.Symbol {
		logger.Warnf("[backtest] 信号 symbol %s 与回测 %s 不符，丢弃", sig.Symbol, e.cfg.Symbol)
		return
	}
	if sig.Action.Entry() {
		e.executeEntry(sig, c)
		return
	}
	e.executeClose(sig, c)
}

func (e *Engine) executeEntry(sig *strategy.Signal, c market.Candle) {
	if e.pos != nil && !sig.AddOn {
		logger.Warnf("[backtest] 已持仓，拒绝重复开仓信号 %s", sig.Reason)
		return
	}
	if e.pos == nil && sig.AddOn {
		return
	}
	long := sig.Action == strategy.ActionOpenLong
	if e.pos != nil {
		if (long && e.pos.side != strategy.SideLong) || (!long && e.pos.side != strategy.SideShort) {
			logger.Warnf("[backtest] 加仓方向与持仓不符，丢弃")
			return
		}
	}
	// 滑点始终对交易者不利：买入抬价，卖出压价
	px := num.ApplyBps(c.Close, e.cfg.SlippageBps, long)
	qty := sig.Qty
	if qty.Sign() <= 0 {
		qty = e.defaultQty(px)
	}
	if qty.Sign() <= 0 {
		return
	}
	cost := qty.Mul(px)
	fee := cost.Mul(e.cfg.FeeRate)
	if cost.Add(fee).GreaterThan(e.cash) {
		logger.Warnf("[backtest] 资金不足，拒绝开仓 %s qty=%s 需要=%s 现金=%s",
			sig.Reason, qty.String(), cost.Add(fee).String(), e.cash.String())
		return
	}
	e.cash = e.cash.Sub(cost).Sub(fee)
	e.feesPaid = e.feesPaid.Add(fee)

	if e.pos != nil {
		total := e.pos.qty.Add(qty)
		e.pos.entry = e.pos.entry.Mul(e.pos.qty).Add(px.Mul(qty)).Div(total)
		e.pos.qty = total
		e.pos.entryFee = e.pos.entryFee.Add(fee)
	} else {
		side := strategy.SideLong
		if !long {
			side = strategy.SideShort
		}
		e.pos = &position{side: side, qty: qty, entry: px, entryFee: fee, openTS: c.CloseTime}
	}
	e.strat.OnFill(strategy.Fill{
		Symbol: sig.Symbol, Action: sig.Action, Price: px, Qty: qty,
		AddOn: sig.AddOn, TS: c.CloseTime,
	})
	logger.Debugf("[backtest] 成交 %s %s qty=%s px=%s fee=%s", sig.Action, sig.Reason, qty.String(), px.String(), fee.String())
}

func (e *Engine) executeClose(sig *strategy.Signal, c market.Candle) {
	if e.pos == nil {
		return
	}
	if (sig.Action == strategy.ActionCloseLong && e.pos.side != strategy.SideLong) ||
		(sig.Action == strategy.ActionCloseShort && e.pos.side != strategy.SideShort) {
		logger.Warnf("[backtest] 平仓方向与持仓不符，丢弃")
		return
	}
	qty := sig.Qty
	if qty.Sign() <= 0 || qty.GreaterThan(e.pos.qty) {
		qty = e.pos.qty
	}
	fill := e.closeAt(c.Close, qty, sig.Reason, sig.ReduceOnly, c.CloseTime)
	if fill != nil {
		e.strat.OnFill(*fill)
	}
}

// closeAt 按账本结算一次平仓（可部分）。开仓手续费按数量比例分摊进
// Trade 盈亏，最后一笔取剩余值，保证分摊之和与实付严格一致。
func (e *Engine) closeAt(base, qty decimal.Decimal, reason string, reduceOnly bool, ts int64) *strategy.Fill {
	pos := e.pos
	if pos == nil || qty.Sign() <= 0 {
		return nil
	}
	long := pos.side == strategy.SideLong
	px := num.ApplyBps(base, e.cfg.SlippageBps, !long)
	closeFee := qty.Mul(px).Mul(e.cfg.FeeRate)
	full := qty.GreaterThanOrEqual(pos.qty)

	var entryFeeShare decimal.Decimal
	if full {
		qty = pos.qty
		entryFeeShare = pos.entryFee
	} else {
		entryFeeShare = pos.entryFee.Mul(qty).Div(pos.qty)
	}
	pos.entryFee = pos.entryFee.Sub(entryFeeShare)

	var pnl decimal.Decimal
	if long {
		e.cash = e.cash.Add(qty.Mul(px)).Sub(closeFee)
		pnl = px.Sub(pos.entry).Mul(qty).Sub(closeFee).Sub(entryFeeShare)
	} else {
		// 空头现金流：归还开仓时锁定的名义本金，再加上做空价差
		e.cash = e.cash.Add(pos.entry.Mul(qty)).Add(pos.entry.Sub(px).Mul(qty)).Sub(closeFee)
		pnl = pos.entry.Sub(px).Mul(qty).Sub(closeFee).Sub(entryFeeShare)
	}
	e.feesPaid = e.feesPaid.Add(closeFee)

	e.trades = append(e.trades, Trade{
		Symbol:     e.cfg.Symbol,
		Side:       string(pos.side),
		EntryPrice: pos.entry,
		ExitPrice:  px,
		Qty:        qty,
		PnL:        pnl,
		Fees:       closeFee.Add(entryFeeShare),
		Reason:     reason,
		Partial:    !full,
		OpenedTS:   pos.openTS,
		ClosedTS:   ts,
		HoldBars:   pos.holdBars,
	})

	action := strategy.ActionCloseLong
	if !long {
		action = strategy.ActionCloseShort
	}
	fill := &strategy.Fill{
		Symbol: e.cfg.Symbol, Action: action, Price: px, Qty: qty,
		ReduceOnly: reduceOnly && !full, TS: ts,
	}
	if full {
		e.pos = nil
	} else {
		pos.qty = pos.qty.Sub(qty)
	}
	logger.Debugf("[backtest] 平仓 %s qty=%s px=%s pnl=%s", reason, qty.String(), px.String(), pnl.String())
	return fill
}

// defaultQty 信号未给数量时按策略元数据比例推导。
func (e *Engine) defaultQty(px decimal.Decimal) decimal.Decimal {
	pct := e.meta.PositionPct
	if pct.Sign() <= 0 {
		pct = e.meta.BudgetPct
	}
	if pct.Sign() <= 0 {
		pct = e.meta.Risk.DefaultSizePct()
	}
	price, ok := e.cache.LastClose(e.cfg.Symbol)
	if !ok {
		price = px
	}
	eq := e.equityAt(price)
	if eq.Sign() <= 0 || px.Sign() <= 0 {
		return num.Zero
	}
	return eq.Mul(pct).Div(px)
}

// equityAt 按给定标记价计算权益。空仓时权益恒等于现金。
func (e *Engine) equityAt(price decimal.Decimal) decimal.Decimal {
	if e.pos == nil {
		return e.cash
	}
	if e.pos.side == strategy.SideLong {
		return e.cash.Add(e.pos.qty.Mul(price))
	}
	locked := e.pos.entry.Mul(e.pos.qty)
	return e.cash.Add(locked).Add(e.pos.entry.Sub(price).Mul(e.pos.qty))
}

func (e *Engine) recordEquity(c market.Candle) {
	eq := e.equityAt(c.Close)
	if eq.GreaterThan(e.peak) {
		e.peak = eq
	}
	dd := num.Zero
	if e.peak.Sign() > 0 {
		dd = e.peak.Sub(eq).Div(e.peak)
	}
	e.equity = append(e.equity, EquityPoint{TS: c.CloseTime, Equity: eq, Cash: e.cash, Drawdown: dd})
}

var (
	adxTrendMin   = decimal.NewFromInt(25)
	quietWidthMax = num.MustParse("0.02")
	volWidthMin   = num.MustParse("0.06")
)

// classifyRegime 朴素市况分类：ADX 定趋势强弱，均线定方向，
// 布林带宽定波动档。指标不足时返回未知，策略各自决定是否入场。
func (e *Engine) classifyRegime() strategy.Regime {
	symbol := e.cfg.Symbol
	adx, ok := e.cache.ADX(symbol, 14)
	if !ok {
		return strategy.RegimeUnknown
	}
	if adx.GreaterThanOrEqual(adxTrendMin) {
		fast, okF := e.cache.EMA(symbol, 20)
		slow, okS := e.cache.EMA(symbol, 50)
		if okF && okS {
			if fast.GreaterThan(slow) {
				return strategy.RegimeTrendingUp
			}
			return strategy.RegimeTrendingDown
		}
		return strategy.RegimeVolatile
	}
	boll, ok := e.cache.Bollinger(symbol, 20, num.Two)
	if !ok || boll.Middle.Sign() <= 0 {
		return strategy.RegimeUnknown
	}
	width := boll.Upper.Sub(boll.Lower).Div(boll.Middle)
	switch {
	case width.LessThan(quietWidthMax):
		return strategy.RegimeQuiet
	case width.GreaterThan(volWidthMin):
		return strategy.RegimeVolatile
	default:
		return strategy.RegimeRanging
	}
}
