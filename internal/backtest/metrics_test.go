package backtest

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"straton/internal/pkg/num"
)

func tradeWithPnL(pnl string, holdBars int) Trade {
	return Trade{PnL: num.MustParse(pnl), HoldBars: holdBars}
}

func reportConfig() (RunConfig, Timeframe) {
	tf, _ := ParseTimeframe("1h")
	return RunConfig{InitialCapital: num.MustParse("1000")}, tf
}

func TestComputeReportZeroTrades(t *testing.T) {
	cfg, tf := reportConfig()
	r := ComputeReport(cfg, tf, nil, nil, num.MustParse("1000"), num.Zero)

	assert.Equal(t, 0, r.TotalTrades)
	assert.True(t, r.FinalEquity.Equal(num.MustParse("1000")))
	assert.True(t, r.TotalPnL.IsZero())
	assert.True(t, r.WinRate.IsZero())
	assert.True(t, r.ProfitFactor.IsZero())
	assert.Zero(t, r.Sharpe)
	assert.Zero(t, r.Sortino)
}

func TestComputeReportAggregates(t *testing.T) {
	cfg, tf := reportConfig()
	trades := []Trade{
		tradeWithPnL("10", 2),
		tradeWithPnL("5", 4),
		tradeWithPnL("-3", 1),
		tradeWithPnL("-1", 1),
		tradeWithPnL("2", 2),
		tradeWithPnL("-1", 2),
	}
	equity := []EquityPoint{
		{TS: 1, Equity: num.MustParse("1000"), Drawdown: num.Zero},
		{TS: 2, Equity: num.MustParse("1010"), Drawdown: num.Zero},
		{TS: 3, Equity: num.MustParse("909"), Drawdown: num.MustParse("0.1")},
		{TS: 4, Equity: num.MustParse("1012"), Drawdown: num.MustParse("0.05")},
	}

	r := ComputeReport(cfg, tf, trades, equity, num.MustParse("1012"), num.MustParse("1.5"))

	assert.Equal(t, 6, r.TotalTrades)
	assert.Equal(t, 3, r.Wins)
	assert.Equal(t, 3, r.Losses)
	assert.True(t, r.WinRate.Equal(num.MustParse("0.5")))
	assert.True(t, r.GrossProfit.Equal(decimal.NewFromInt(17)))
	assert.True(t, r.GrossLoss.Equal(decimal.NewFromInt(5)))
	assert.True(t, r.TotalPnL.Equal(decimal.NewFromInt(12)))
	assert.True(t, r.ProfitFactor.Equal(num.MustParse("3.4")))
	assert.True(t, r.TotalFees.Equal(num.MustParse("1.5")))
	assert.True(t, r.LargestWin.Equal(decimal.NewFromInt(10)))
	assert.True(t, r.LargestLoss.Equal(decimal.NewFromInt(3)))
	assert.True(t, r.AvgWin.Equal(decimal.NewFromInt(17).Div(decimal.NewFromInt(3))))
	assert.True(t, r.AvgLoss.Equal(decimal.NewFromInt(5).Div(decimal.NewFromInt(3))))

	// 1000 → 1012 即 +1.2%
	assert.True(t, r.ReturnPct.Equal(num.MustParse("1.2")))
	assert.True(t, r.MaxDrawdown.Equal(decimal.NewFromInt(10)))

	assert.Equal(t, 2, r.MaxWinStreak)
	assert.Equal(t, 2, r.MaxLossStreak)
	assert.InDelta(t, 2.0, r.AvgHoldBars, 1e-9)

	assert.NotZero(t, r.Sharpe)
	assert.NotZero(t, r.Sortino, "存在负收益时 Sortino 有定义")
	assert.NotZero(t, r.Calmar)
}

func TestComputeReportProfitFactorCap(t *testing.T) {
	cfg, tf := reportConfig()
	trades := []Trade{tradeWithPnL("10", 1), tradeWithPnL("4", 1)}

	r := ComputeReport(cfg, tf, trades, nil, num.MustParse("1014"), num.Zero)
	// 没有亏损交易时盈亏比无意义，封顶到哨兵值
	assert.True(t, r.ProfitFactor.Equal(decimal.NewFromInt(999)))
	assert.Equal(t, 2, r.MaxWinStreak)
	assert.Equal(t, 0, r.MaxLossStreak)
}

func TestComputeReportBreakEvenTradeResetsStreaks(t *testing.T) {
	cfg, tf := reportConfig()
	trades := []Trade{
		tradeWithPnL("5", 1),
		tradeWithPnL("0", 1),
		tradeWithPnL("6", 1),
	}

	r := ComputeReport(cfg, tf, trades, nil, num.MustParse("1011"), num.Zero)
	assert.Equal(t, 2, r.Wins)
	assert.Equal(t, 0, r.Losses)
	assert.Equal(t, 1, r.MaxWinStreak, "打平的一笔打断连胜")
}

func TestRatioStats(t *testing.T) {
	t.Run("flat curve has no ratios", func(t *testing.T) {
		equity := []EquityPoint{
			{TS: 1, Equity: num.MustParse("1000")},
			{TS: 2, Equity: num.MustParse("1000")},
			{TS: 3, Equity: num.MustParse("1000")},
		}
		sharpe, sortino := ratioStats(equity, 8760)
		assert.Zero(t, sharpe)
		assert.Zero(t, sortino)
	})

	t.Run("upward drift yields positive sharpe", func(t *testing.T) {
		equity := []EquityPoint{
			{TS: 1, Equity: num.MustParse("1000")},
			{TS: 2, Equity: num.MustParse("1010")},
			{TS: 3, Equity: num.MustParse("1005")},
			{TS: 4, Equity: num.MustParse("1025")},
			{TS: 5, Equity: num.MustParse("1030")},
		}
		sharpe, sortino := ratioStats(equity, 8760)
		assert.Greater(t, sharpe, 0.0)
		assert.Greater(t, sortino, 0.0)
	})

	t.Run("too few points", func(t *testing.T) {
		sharpe, sortino := ratioStats([]EquityPoint{{TS: 1, Equity: num.MustParse("1000")}}, 8760)
		assert.Zero(t, sharpe)
		assert.Zero(t, sortino)
	})
}
