package strategy

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"straton/internal/pkg/num"
)

func TestApplyFillOpen(t *testing.T) {
	st := &SymbolState{Pending: &Signal{Reason: "x"}}
	st.ApplyFill(Fill{Symbol: "BTCUSDT", Action: ActionOpenLong, Price: num.MustParse("100"), Qty: num.Two})

	assert.Equal(t, SideLong, st.Side)
	assert.True(t, st.EntryPrice.Equal(decimal.NewFromInt(100)))
	assert.True(t, st.Qty.Equal(num.Two))
	assert.True(t, st.InitialQty.Equal(num.Two))
	assert.Equal(t, 0, st.BarsHeld)
	assert.Nil(t, st.Pending, "成交确认后意图清空")
	assert.True(t, st.TrailExtreme.Equal(st.EntryPrice))
}

func TestApplyFillAddOnWeightsEntry(t *testing.T) {
	st := &SymbolState{}
	st.ApplyFill(Fill{Action: ActionOpenLong, Price: num.MustParse("100"), Qty: num.Two})
	st.ApplyFill(Fill{Action: ActionOpenLong, Price: num.MustParse("110"), Qty: num.One, AddOn: true})

	// (100*2 + 110*1) / 3
	want := decimal.NewFromInt(310).Div(decimal.NewFromInt(3))
	assert.True(t, st.EntryPrice.Equal(want))
	assert.True(t, st.Qty.Equal(decimal.NewFromInt(3)))
	assert.True(t, st.InitialQty.Equal(num.Two), "加仓不改写首仓数量")
	assert.True(t, st.AddOnDone)
	assert.Equal(t, SideLong, st.Side)
}

func TestApplyFillPartialClose(t *testing.T) {
	st := &SymbolState{}
	st.ApplyFill(Fill{Action: ActionOpenShort, Price: num.MustParse("50"), Qty: decimal.NewFromInt(4)})
	st.ApplyFill(Fill{Action: ActionCloseShort, Price: num.MustParse("48"), Qty: num.One, ReduceOnly: true})

	assert.Equal(t, SideShort, st.Side, "部分减仓不改方向")
	assert.True(t, st.Qty.Equal(decimal.NewFromInt(3)))
	assert.True(t, st.InitialQty.Equal(decimal.NewFromInt(4)), "部分止盈不改写首仓数量")
	assert.True(t, st.FirstTargetDone)

	st.ApplyFill(Fill{Action: ActionCloseShort, Price: num.MustParse("47"), Qty: decimal.NewFromInt(3)})
	assert.False(t, st.Open(), "全平后回到空仓初始形态")
	assert.True(t, st.Qty.IsZero())
	assert.True(t, st.InitialQty.IsZero())
	assert.False(t, st.FirstTargetDone)
}

func TestSignalValid(t *testing.T) {
	sig := &Signal{Action: ActionOpenLong, Symbol: "BTCUSDT", Confidence: num.MustParse("0.7")}
	assert.True(t, sig.Valid())

	assert.False(t, (&Signal{Action: ActionOpenLong}).Valid(), "缺 symbol")
	assert.False(t, (&Signal{Action: "hold", Symbol: "BTCUSDT"}).Valid(), "未知动作")
	bad := &Signal{Action: ActionOpenLong, Symbol: "BTCUSDT", Confidence: num.MustParse("1.2")}
	assert.False(t, bad.Valid(), "置信度越界")
	var nilSig *Signal
	assert.False(t, nilSig.Valid())
}

func longState(entry string, qty int64) *SymbolState {
	return &SymbolState{Side: SideLong, EntryPrice: num.MustParse(entry), Qty: decimal.NewFromInt(qty)}
}

func TestEvaluateOpenPositionPriority(t *testing.T) {
	t.Run("hard stop wins over add-on", func(t *testing.T) {
		st := longState("100", 2)
		p := ExitParams{
			StopPrice:  num.MustParse("96"),
			AddOnPrice: num.MustParse("97"),
			AddOnQty:   num.One,
		}
		sig := EvaluateOpenPosition("BTCUSDT", st, num.MustParse("95"), p)
		require.NotNil(t, sig)
		assert.Equal(t, "hard_stop", sig.Reason)
		assert.Equal(t, ActionCloseLong, sig.Action)
		assert.True(t, sig.Qty.Equal(num.Two), "止损全平")
	})

	t.Run("max hold fires before take profit", func(t *testing.T) {
		st := longState("100", 2)
		st.BarsHeld = 10
		p := ExitParams{MaxHoldBars: 10, TP1Price: num.MustParse("101"), TP1Ratio: num.MustParse("0.5")}
		sig := EvaluateOpenPosition("BTCUSDT", st, num.MustParse("105"), p)
		require.NotNil(t, sig)
		assert.Equal(t, "max_hold", sig.Reason)
	})

	t.Run("tp1 reduces half", func(t *testing.T) {
		st := longState("100", 2)
		p := ExitParams{TP1Price: num.MustParse("104"), TP1Ratio: num.MustParse("0.5")}
		sig := EvaluateOpenPosition("BTCUSDT", st, num.MustParse("105"), p)
		require.NotNil(t, sig)
		assert.Equal(t, "take_profit_1", sig.Reason)
		assert.True(t, sig.ReduceOnly)
		assert.True(t, sig.Qty.Equal(num.One))
	})

	t.Run("tp2 only after tp1 done", func(t *testing.T) {
		st := longState("100", 1)
		p := ExitParams{TP2Price: num.MustParse("108")}
		assert.Nil(t, EvaluateOpenPosition("BTCUSDT", st, num.MustParse("109"), p))

		st.FirstTargetDone = true
		sig := EvaluateOpenPosition("BTCUSDT", st, num.MustParse("109"), p)
		require.NotNil(t, sig)
		assert.Equal(t, "take_profit_2", sig.Reason)
	})

	t.Run("add-on once in the adverse direction", func(t *testing.T) {
		st := longState("100", 2)
		p := ExitParams{
			StopPrice:  num.MustParse("90"),
			AddOnPrice: num.MustParse("98.5"),
			AddOnQty:   num.MustParse("0.5"),
		}
		sig := EvaluateOpenPosition("BTCUSDT", st, num.MustParse("98"), p)
		require.NotNil(t, sig)
		assert.Equal(t, "add_on", sig.Reason)
		assert.Equal(t, ActionOpenLong, sig.Action)
		assert.True(t, sig.AddOn)
		assert.True(t, sig.Qty.Equal(num.MustParse("0.5")))

		st.AddOnDone = true
		assert.Nil(t, EvaluateOpenPosition("BTCUSDT", st, num.MustParse("98"), p), "加仓只许一次")
	})

	t.Run("flat or bad price yields nothing", func(t *testing.T) {
		assert.Nil(t, EvaluateOpenPosition("BTCUSDT", &SymbolState{}, num.MustParse("100"), ExitParams{}))
		assert.Nil(t, EvaluateOpenPosition("BTCUSDT", longState("100", 1), num.Zero, ExitParams{StopPrice: num.One}))
		assert.Nil(t, EvaluateOpenPosition("BTCUSDT", nil, num.MustParse("100"), ExitParams{}))
	})
}

func TestEvaluateOpenPositionTrailing(t *testing.T) {
	st := longState("100", 2)
	p := ExitParams{
		TrailActivatePrice: num.MustParse("102"),
		TrailDistance:      num.Two,
	}

	// 未到激活价：无事发生
	assert.Nil(t, EvaluateOpenPosition("BTCUSDT", st, num.MustParse("101"), p))
	assert.False(t, st.TrailActive)

	// 触达激活价：只改状态不出信号
	assert.Nil(t, EvaluateOpenPosition("BTCUSDT", st, num.MustParse("103"), p))
	assert.True(t, st.TrailActive)
	assert.True(t, st.TrailExtreme.Equal(decimal.NewFromInt(103)))

	// 新高推进极值
	assert.Nil(t, EvaluateOpenPosition("BTCUSDT", st, num.MustParse("105"), p))
	assert.True(t, st.TrailExtreme.Equal(decimal.NewFromInt(105)))

	// 回撤到极值-距离：触发
	sig := EvaluateOpenPosition("BTCUSDT", st, num.MustParse("103"), p)
	require.NotNil(t, sig)
	assert.Equal(t, "trailing_stop", sig.Reason)
	assert.Equal(t, ActionCloseLong, sig.Action)
}

func TestEvaluateOpenPositionShortSide(t *testing.T) {
	st := &SymbolState{Side: SideShort, EntryPrice: num.MustParse("100"), Qty: num.One}
	p := ExitParams{StopPrice: num.MustParse("104")}

	assert.Nil(t, EvaluateOpenPosition("BTCUSDT", st, num.MustParse("103"), p))

	sig := EvaluateOpenPosition("BTCUSDT", st, num.MustParse("104"), p)
	require.NotNil(t, sig)
	assert.Equal(t, ActionCloseShort, sig.Action)
	assert.Equal(t, "hard_stop", sig.Reason)
}

func TestBaseRegimeAndQueue(t *testing.T) {
	b := &base{name: "test"}

	b.SetRegime(RegimeRanging)
	assert.Equal(t, RegimeRanging, b.effectiveRegime())

	// 强制值优先于分类器标签
	b.ForceRegime(RegimeTrendingUp)
	assert.Equal(t, RegimeTrendingUp, b.effectiveRegime())
	b.ForceRegime(RegimeUnknown)
	assert.Equal(t, RegimeRanging, b.effectiveRegime())

	assert.Nil(t, b.Signal())
	first := &Signal{Reason: "first"}
	second := &Signal{Reason: "second"}
	b.emit(first)
	b.emit(second)
	b.emit(nil)
	assert.Same(t, first, b.Signal(), "队列按先进先出弹出")
	assert.Same(t, second, b.Signal())
	assert.Nil(t, b.Signal())
}

func TestRegimeAllowed(t *testing.T) {
	allowed := []Regime{RegimeRanging, RegimeQuiet}
	assert.True(t, regimeAllowed(RegimeQuiet, allowed))
	assert.False(t, regimeAllowed(RegimeTrendingUp, allowed))
	assert.True(t, regimeAllowed(RegimeVolatile, nil), "空列表不做门控")
}

func TestBaseEquity(t *testing.T) {
	b := &base{}
	_, ok := b.equity()
	assert.False(t, ok, "未绑定资金访问器")

	b.BindAccount(func() decimal.Decimal { return num.MustParse("1234.5") })
	eq, ok := b.equity()
	require.True(t, ok)
	assert.True(t, eq.Equal(num.MustParse("1234.5")))
}
