package backtest

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

const (
	RunStatusPending = "pending"
	RunStatusRunning = "running"
	RunStatusDone    = "done"
	RunStatusFailed  = "failed"
)

// RunConfig 记录本次模拟的参数快照，便于重放。
// 金额类字段全部为 decimal，JSON 序列化为带引号的十进制文本。
type RunConfig struct {
	Strategy       string          `json:"strategy"`
	StrategyConfig map[string]any  `json:"strategy_config,omitempty"`
	Symbol         string          `json:"symbol"`
	Timeframe      string          `json:"timeframe"`
	StartTS        int64           `json:"start_ts"`
	EndTS          int64           `json:"end_ts"`
	InitialCapital decimal.Decimal `json:"initial_capital"`
	FeeRate        decimal.Decimal `json:"fee_rate"`
	SlippageBps    decimal.Decimal `json:"slippage_bps"`
	ForcedRegime   string          `json:"forced_regime,omitempty"`
	// MaxCachedCandles 指标缓存滚动窗口上限，0 取缓存默认值
	MaxCachedCandles int    `json:"max_cached_candles,omitempty"`
	Notes            string `json:"notes,omitempty"`
}

// Trade 记录一次平仓事件的盈亏。部分止盈也会产生一条记录，
// PnL 含手续费分摊，所有 Trade 的 PnL 之和与资金变化严格对账。
type Trade struct {
	ID         int64           `json:"id"`
	RunID      string          `json:"run_id"`
	Symbol     string          `json:"symbol"`
	Side       string          `json:"side"`
	EntryPrice decimal.Decimal `json:"entry_price"`
	ExitPrice  decimal.Decimal `json:"exit_price"`
	Qty        decimal.Decimal `json:"qty"`
	PnL        decimal.Decimal `json:"pnl"`
	Fees       decimal.Decimal `json:"fees"`
	Reason     string          `json:"reason"`
	Partial    bool            `json:"partial,omitempty"`
	OpenedTS   int64           `json:"opened_ts"`
	ClosedTS   int64           `json:"closed_ts"`
	HoldBars   int             `json:"hold_bars"`
}

// EquityPoint 资金曲线采样，每根 K 线一个点。
type EquityPoint struct {
	TS       int64           `json:"ts"`
	Equity   decimal.Decimal `json:"equity"`
	Cash     decimal.Decimal `json:"cash"`
	Drawdown decimal.Decimal `json:"drawdown"`
}

// Result 一次回测的完整产出。
type Result struct {
	RunID  string        `json:"run_id"`
	Config RunConfig     `json:"config"`
	Trades []Trade       `json:"trades"`
	Equity []EquityPoint `json:"equity"`
	Report Report        `json:"report"`
}

// Run 表示一次模拟任务的存档记录。
type Run struct {
	ID             string          `json:"id"`
	Strategy       string          `json:"strategy"`
	Symbol         string          `json:"symbol"`
	Timeframe      string          `json:"timeframe"`
	Status         string          `json:"status"`
	StartTS        int64           `json:"start_ts"`
	EndTS          int64           `json:"end_ts"`
	InitialCapital decimal.Decimal `json:"initial_capital"`
	FinalEquity    decimal.Decimal `json:"final_equity"`
	TotalPnL       decimal.Decimal `json:"total_pnl"`
	ReturnPct      decimal.Decimal `json:"return_pct"`
	Trades         int             `json:"trades"`
	Message        string          `json:"message"`
	Config         RunConfig       `json:"config"`
	Report         Report          `json:"report"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	CompletedAt    time.Time       `json:"completed_at"`
}

// MarshalConfig 返回 config JSON。
func (r Run) MarshalConfig() ([]byte, error) {
	return json.Marshal(r.Config)
}

// MarshalReport 返回 report JSON。
func (r Run) MarshalReport() ([]byte, error) {
	return json.Marshal(r.Report)
}

// RunRequest 为 HTTP 提交使用；金额字段用字符串承载以保持精确。
type RunRequest struct {
	Strategy       string          `json:"strategy" binding:"required"`
	StrategyConfig json.RawMessage `json:"strategy_config,omitempty"`
	Symbol         string          `json:"symbol" binding:"required"`
	Timeframe      string          `json:"timeframe"`
	StartTS        int64           `json:"start_ts" binding:"required"`
	EndTS          int64           `json:"end_ts" binding:"required"`
	InitialCapital string          `json:"initial_capital"`
	FeeRate        string          `json:"fee_rate"`
	SlippageBps    string          `json:"slippage_bps"`
	ForcedRegime   string          `json:"forced_regime"`
}
