package backtest

import (
	"math"

	"github.com/shopspring/decimal"

	"straton/internal/pkg/num"
)

// profitFactorCap 无亏损交易时盈亏比没有意义的真实值，用哨兵封顶。
var profitFactorCap = decimal.NewFromInt(999)

// Report 回测绩效汇总。金额与比例为 decimal 精确值；
// 年化比率（Sharpe 等）本质是统计估计，用 float64 表达。
type Report struct {
	TotalTrades   int             `json:"total_trades"`
	Wins          int             `json:"wins"`
	Losses        int             `json:"losses"`
	WinRate       decimal.Decimal `json:"win_rate"`
	GrossProfit   decimal.Decimal `json:"gross_profit"`
	GrossLoss     decimal.Decimal `json:"gross_loss"`
	AvgWin        decimal.Decimal `json:"avg_win"`
	AvgLoss       decimal.Decimal `json:"avg_loss"`
	LargestWin    decimal.Decimal `json:"largest_win"`
	LargestLoss   decimal.Decimal `json:"largest_loss"`
	TotalPnL      decimal.Decimal `json:"total_pnl"`
	TotalFees     decimal.Decimal `json:"total_fees"`
	FinalEquity   decimal.Decimal `json:"final_equity"`
	ReturnPct     decimal.Decimal `json:"return_pct"`
	ProfitFactor  decimal.Decimal `json:"profit_factor"`
	MaxDrawdown   decimal.Decimal `json:"max_drawdown_pct"`
	Sharpe        float64         `json:"sharpe"`
	Sortino       float64         `json:"sortino"`
	Calmar        float64         `json:"calmar"`
	MaxWinStreak  int             `json:"max_win_streak"`
	MaxLossStreak int             `json:"max_loss_streak"`
	AvgHoldBars   float64         `json:"avg_hold_bars"`
}

// ComputeReport 由成交与资金曲线离线汇总绩效。
// 零成交直接返回零值报表（带最终权益），不产生 NaN。
func ComputeReport(cfg RunConfig, tf Timeframe, trades []Trade, equity []EquityPoint, finalEquity, totalFees decimal.Decimal) Report {
	r := Report{FinalEquity: finalEquity}
	if len(trades) == 0 {
		return r
	}
	r.TotalTrades = len(trades)
	r.TotalFees = totalFees

	var winStreak, lossStreak, holdSum int
	for _, t := range trades {
		r.TotalPnL = r.TotalPnL.Add(t.PnL)
		holdSum += t.HoldBars
		switch {
		case t.PnL.Sign() > 0:
			r.Wins++
			r.GrossProfit = r.GrossProfit.Add(t.PnL)
			r.LargestWin = num.Max(r.LargestWin, t.PnL)
			winStreak++
			lossStreak = 0
		case t.PnL.Sign() < 0:
			r.Losses++
			r.GrossLoss = r.GrossLoss.Add(t.PnL.Neg())
			r.LargestLoss = num.Max(r.LargestLoss, t.PnL.Neg())
			lossStreak++
			winStreak = 0
		default:
			winStreak = 0
			lossStreak = 0
		}
		if winStreak > r.MaxWinStreak {
			r.MaxWinStreak = winStreak
		}
		if lossStreak > r.MaxLossStreak {
			r.MaxLossStreak = lossStreak
		}
	}
	r.WinRate = decimal.NewFromInt(int64(r.Wins)).Div(decimal.NewFromInt(int64(r.TotalTrades)))
	r.AvgHoldBars = float64(holdSum) / float64(r.TotalTrades)
	if r.Wins > 0 {
		r.AvgWin = r.GrossProfit.Div(decimal.NewFromInt(int64(r.Wins)))
	}
	if r.Losses > 0 {
		r.AvgLoss = r.GrossLoss.Div(decimal.NewFromInt(int64(r.Losses)))
	}

	if r.GrossLoss.Sign() > 0 {
		pf := r.GrossProfit.Div(r.GrossLoss)
		r.ProfitFactor = num.Min(pf, profitFactorCap)
	} else if r.GrossProfit.Sign() > 0 {
		r.ProfitFactor = profitFactorCap
	}

	if cfg.InitialCapital.Sign() > 0 {
		r.ReturnPct = finalEquity.Sub(cfg.InitialCapital).Div(cfg.InitialCapital).Mul(num.Hundred)
	}
	for _, p := range equity {
		r.MaxDrawdown = num.Max(r.MaxDrawdown, p.Drawdown)
	}
	r.MaxDrawdown = r.MaxDrawdown.Mul(num.Hundred)

	r.Sharpe, r.Sortino = ratioStats(equity, tf.PeriodsPerYear())
	if dd := num.ToFloat(r.MaxDrawdown); dd > 0 {
		r.Calmar = num.ToFloat(r.ReturnPct) / dd
	}
	return r
}

// ratioStats 用逐根权益收益率估算年化 Sharpe/Sortino。
func ratioStats(equity []EquityPoint, periodsPerYear float64) (sharpe, sortino float64) {
	if len(equity) < 2 || periodsPerYear <= 0 {
		return 0, 0
	}
	returns := make([]float64, 0, len(equity)-1)
	for i := 1; i < len(equity); i++ {
		prev := num.ToFloat(equity[i-1].Equity)
		cur := num.ToFloat(equity[i].Equity)
		if prev <= 0 {
			continue
		}
		returns = append(returns, cur/prev-1)
	}
	if len(returns) < 2 {
		return 0, 0
	}
	var sum float64
	for _, v := range returns {
		sum += v
	}
	mean := sum / float64(len(returns))

	var variance, downVar float64
	downN := 0
	for _, v := range returns {
		d := v - mean
		variance += d * d
		if v < 0 {
			downVar += v * v
			downN++
		}
	}
	variance /= float64(len(returns))
	std := math.Sqrt(variance)
	scale := math.Sqrt(periodsPerYear)
	if std > 0 {
		sharpe = mean / std * scale
	}
	if downN > 0 {
		downStd := math.Sqrt(downVar / float64(len(returns)))
		if downStd > 0 {
			sortino = mean / downStd * scale
		}
	}
	return sharpe, sortino
}
