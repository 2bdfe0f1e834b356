package backtest

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"straton/internal/pkg/num"
)

// ResultStore 管理 runs/trades/equity 三张表。
// 金额列一律存 decimal 文本，读出后 Parse 还原，不经过浮点。
type ResultStore struct {
	mu   sync.Mutex
	db   *sql.DB
	path string
}

func NewResultStore(root string) (*ResultStore, error) {
	if root == "" {
		return nil, fmt.Errorf("result store root 不能为空")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(root, "runs.db")
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := ensureResultSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &ResultStore{db: db, path: path}, nil
}

func (s *ResultStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func ensureResultSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			strategy TEXT NOT NULL,
			symbol TEXT NOT NULL,
			timeframe TEXT NOT NULL,
			status TEXT NOT NULL,
			start_ts INTEGER NOT NULL,
			end_ts INTEGER NOT NULL,
			initial_capital TEXT NOT NULL,
			final_equity TEXT NOT NULL DEFAULT '0',
			total_pnl TEXT NOT NULL DEFAULT '0',
			return_pct TEXT NOT NULL DEFAULT '0',
			trades INTEGER NOT NULL DEFAULT 0,
			config_json TEXT NOT NULL,
			report_json TEXT,
			message TEXT,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			completed_at INTEGER
		);`,
		`CREATE TABLE IF NOT EXISTS trades (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			entry_price TEXT NOT NULL,
			exit_price TEXT NOT NULL,
			qty TEXT NOT NULL,
			pnl TEXT NOT NULL,
			fees TEXT NOT NULL,
			reason TEXT NOT NULL,
			partial INTEGER NOT NULL DEFAULT 0,
			opened_ts INTEGER NOT NULL,
			closed_ts INTEGER NOT NULL,
			hold_bars INTEGER NOT NULL DEFAULT 0,
			FOREIGN KEY(run_id) REFERENCES runs(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS equity (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			ts INTEGER NOT NULL,
			equity TEXT NOT NULL,
			cash TEXT NOT NULL,
			drawdown TEXT NOT NULL,
			FOREIGN KEY(run_id) REFERENCES runs(id) ON DELETE CASCADE
		);`,
		`CREATE INDEX IF NOT EXISTS idx_trades_run ON trades(run_id);`,
		`CREATE INDEX IF NOT EXISTS idx_equity_run ON equity(run_id, ts);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// CreateRun 插入一条新任务记录。
func (s *ResultStore) CreateRun(ctx context.Context, run Run) error {
	cfgJSON, err := run.MarshalConfig()
	if err != nil {
		return err
	}
	now := time.Now().UnixMilli()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (id, strategy, symbol, timeframe, status, start_ts, end_ts,
			initial_capital, config_json, message, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Strategy, run.Symbol, run.Timeframe, run.Status, run.StartTS, run.EndTS,
		run.InitialCapital.String(), string(cfgJSON), run.Message, now, now)
	return err
}

// SetRunStatus 更新任务状态与提示信息。
func (s *ResultStore) SetRunStatus(ctx context.Context, id, status, message string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE runs SET status=?, message=?, updated_at=? WHERE id=?`,
		status, message, time.Now().UnixMilli(), id)
	return err
}

// CompleteRun 写入最终结果与报表。
func (s *ResultStore) CompleteRun(ctx context.Context, id string, result *Result) error {
	reportJSON, err := json.Marshal(result.Report)
	if err != nil {
		return err
	}
	now := time.Now().UnixMilli()
	_, err = s.db.ExecContext(ctx, `
		UPDATE runs SET status=?, final_equity=?, total_pnl=?, return_pct=?, trades=?,
			report_json=?, message=?, updated_at=?, completed_at=?
		WHERE id=?`,
		RunStatusDone,
		result.Report.FinalEquity.String(),
		result.Report.TotalPnL.String(),
		result.Report.ReturnPct.String(),
		result.Report.TotalTrades,
		string(reportJSON), "", now, now, id)
	return err
}

// InsertTrades 批量写入平仓记录。
func (s *ResultStore) InsertTrades(ctx context.Context, runID string, trades []Trade) error {
	if len(trades) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO trades (run_id, symbol, side, entry_price, exit_price, qty, pnl, fees,
			reason, partial, opened_ts, closed_ts, hold_bars)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()
	for _, t := range trades {
		partial := 0
		if t.Partial {
			partial = 1
		}
		if _, err := stmt.ExecContext(ctx, runID, t.Symbol, t.Side,
			t.EntryPrice.String(), t.ExitPrice.String(), t.Qty.String(), t.PnL.String(), t.Fees.String(),
			t.Reason, partial, t.OpenedTS, t.ClosedTS, t.HoldBars); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// InsertEquity 批量写入资金曲线。
func (s *ResultStore) InsertEquity(ctx context.Context, runID string, points []EquityPoint) error {
	if len(points) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO equity (run_id, ts, equity, cash, drawdown) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()
	for _, p := range points {
		if _, err := stmt.ExecContext(ctx, runID, p.TS,
			p.Equity.String(), p.Cash.String(), p.Drawdown.String()); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func scanRun(row interface{ Scan(dest ...any) error }) (Run, error) {
	var (
		r                                 Run
		initial, final, pnl, retPct       string
		cfgJSON, reportJSON, message      sql.NullString
		createdAt, updatedAt, completedAt sql.NullInt64
	)
	if err := row.Scan(&r.ID, &r.Strategy, &r.Symbol, &r.Timeframe, &r.Status,
		&r.StartTS, &r.EndTS, &initial, &final, &pnl, &retPct, &r.Trades,
		&cfgJSON, &reportJSON, &message, &createdAt, &updatedAt, &completedAt); err != nil {
		return Run{}, err
	}
	var err error
	if r.InitialCapital, err = num.Parse(initial); err != nil {
		return Run{}, err
	}
	if r.FinalEquity, err = num.Parse(final); err != nil {
		return Run{}, err
	}
	if r.TotalPnL, err = num.Parse(pnl); err != nil {
		return Run{}, err
	}
	if r.ReturnPct, err = num.Parse(retPct); err != nil {
		return Run{}, err
	}
	if cfgJSON.Valid && cfgJSON.String != "" {
		_ = json.Unmarshal([]byte(cfgJSON.String), &r.Config)
	}
	if reportJSON.Valid && reportJSON.String != "" {
		_ = json.Unmarshal([]byte(reportJSON.String), &r.Report)
	}
	if message.Valid {
		r.Message = message.String
	}
	if createdAt.Valid {
		r.CreatedAt = time.UnixMilli(createdAt.Int64)
	}
	if updatedAt.Valid {
		r.UpdatedAt = time.UnixMilli(updatedAt.Int64)
	}
	if completedAt.Valid {
		r.CompletedAt = time.UnixMilli(completedAt.Int64)
	}
	return r, nil
}

const runColumns = `id, strategy, symbol, timeframe, status, start_ts, end_ts,
	initial_capital, final_equity, total_pnl, return_pct, trades,
	config_json, report_json, message, created_at, updated_at, completed_at`

// GetRun 读取单条任务。
func (s *ResultStore) GetRun(ctx context.Context, id string) (Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id=?`, id)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return Run{}, fmt.Errorf("run %s 不存在", id)
	}
	return run, err
}

// ListRuns 按创建时间倒序列出任务。
func (s *ResultStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

// ListTrades 列出某次任务的平仓记录（按平仓时间升序）。
func (s *ResultStore) ListTrades(ctx context.Context, runID string, limit int) ([]Trade, error) {
	if limit <= 0 || limit > 2000 {
		limit = 500
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, symbol, side, entry_price, exit_price, qty, pnl, fees,
			reason, partial, opened_ts, closed_ts, hold_bars
		FROM trades WHERE run_id=? ORDER BY closed_ts ASC LIMIT ?`, runID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Trade
	for rows.Next() {
		var (
			t                           Trade
			entry, exit, qty, pnl, fees string
			partial                     int
		)
		if err := rows.Scan(&t.ID, &t.RunID, &t.Symbol, &t.Side, &entry, &exit, &qty, &pnl, &fees,
			&t.Reason, &partial, &t.OpenedTS, &t.ClosedTS, &t.HoldBars); err != nil {
			return nil, err
		}
		if t.EntryPrice, err = num.Parse(entry); err != nil {
			return nil, err
		}
		if t.ExitPrice, err = num.Parse(exit); err != nil {
			return nil, err
		}
		if t.Qty, err = num.Parse(qty); err != nil {
			return nil, err
		}
		if t.PnL, err = num.Parse(pnl); err != nil {
			return nil, err
		}
		if t.Fees, err = num.Parse(fees); err != nil {
			return nil, err
		}
		t.Partial = partial != 0
		out = append(out, t)
	}
	return out, rows.Err()
}

// ListEquity 列出某次任务的资金曲线（按时间升序）。
func (s *ResultStore) ListEquity(ctx context.Context, runID string, limit int) ([]EquityPoint, error) {
	if limit <= 0 || limit > 10000 {
		limit = 2000
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT ts, equity, cash, drawdown FROM equity WHERE run_id=? ORDER BY ts ASC LIMIT ?`, runID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []EquityPoint
	for rows.Next() {
		var (
			p                  EquityPoint
			eq, cash, drawdown string
		)
		if err := rows.Scan(&p.TS, &eq, &cash, &drawdown); err != nil {
			return nil, err
		}
		if p.Equity, err = num.Parse(eq); err != nil {
			return nil, err
		}
		if p.Cash, err = num.Parse(cash); err != nil {
			return nil, err
		}
		if p.Drawdown, err = num.Parse(drawdown); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
