package backtest

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"straton/internal/market"
)

// stubSource 在请求的网格上合成 K 线，替代真实交易所。
type stubSource struct {
	calls atomic.Int64
	fail  atomic.Bool
}

func (s *stubSource) Name() string { return "stub" }

func (s *stubSource) Fetch(_ context.Context, req FetchRequest) ([]market.Candle, error) {
	s.calls.Add(1)
	if s.fail.Load() {
		return nil, fmt.Errorf("stub source down")
	}
	var out []market.Candle
	for ts := req.Start; ts <= req.End && len(out) < req.Limit; ts += hourMillis {
		i := int(ts/hourMillis) - 1
		out = append(out, barAt(i, "100", "101", "99", "100", "10"))
	}
	return out, nil
}

func newTestService(t *testing.T, src CandleSource) (*Service, *Store, *ResultStore) {
	t.Helper()
	store := newTestStore(t)
	results := newTestResultStore(t)
	svc, err := NewService(ServiceConfig{
		Store:           store,
		Results:         results,
		Sources:         map[string]CandleSource{"stub": src},
		DefaultExchange: "stub",
		RateLimitPerMin: 60000,
		MaxBatch:        500,
		MaxConcurrent:   2,
	})
	require.NoError(t, err)
	return svc, store, results
}

func TestServiceSubmitFetchFillsGaps(t *testing.T) {
	src := &stubSource{}
	svc, store, _ := newTestService(t, src)

	job, err := svc.SubmitFetch(FetchParams{
		Symbol:    "btc/usdt",
		Timeframe: "1h",
		Start:     hourMillis,
		End:       4 * hourMillis,
	})
	require.NoError(t, err)
	assert.Equal(t, "BTCUSDT", job.Params.Symbol, "symbol 入库前归一化")
	assert.Equal(t, int64(4), job.Total)

	require.Eventually(t, func() bool {
		snap, ok := svc.JobSnapshot(job.ID)
		return ok && snap.Status == JobStatusDone
	}, 5*time.Second, 20*time.Millisecond)

	tf, _ := ParseTimeframe("1h")
	report, err := store.CheckIntegrity(context.Background(), "BTCUSDT", "1h", tf, hourMillis, 4*hourMillis)
	require.NoError(t, err)
	assert.True(t, report.Complete())
	assert.Greater(t, src.calls.Load(), int64(0))
}

func TestServiceSubmitFetchShortCircuitsWhenComplete(t *testing.T) {
	src := &stubSource{}
	svc, store, _ := newTestService(t, src)

	_, err := store.InsertCandles(context.Background(), "BTCUSDT", "1h", gridCandles(0, 1, 2))
	require.NoError(t, err)

	job, err := svc.SubmitFetch(FetchParams{
		Symbol:    "BTCUSDT",
		Timeframe: "1h",
		Start:     hourMillis,
		End:       3 * hourMillis,
	})
	require.NoError(t, err)
	assert.Equal(t, JobStatusDone, job.Status)
	assert.Equal(t, int64(0), src.calls.Load(), "本地已完整时不触发远端拉取")
}

func TestServiceSubmitFetchValidation(t *testing.T) {
	svc, _, _ := newTestService(t, &stubSource{})

	_, err := svc.SubmitFetch(FetchParams{Timeframe: "1h", Start: 1, End: 2})
	assert.Error(t, err, "缺 symbol")

	_, err = svc.SubmitFetch(FetchParams{Symbol: "BTCUSDT", Timeframe: "9h", Start: 1, End: 2})
	assert.Error(t, err, "非法周期")

	_, err = svc.SubmitFetch(FetchParams{Symbol: "BTCUSDT", Timeframe: "1h", Exchange: "nowhere", Start: hourMillis, End: 2 * hourMillis})
	assert.Error(t, err, "未知数据源")

	_, err = svc.SubmitFetch(FetchParams{Symbol: "BTCUSDT", Timeframe: "1h", Start: hourMillis, End: hourMillis + 1})
	assert.Error(t, err, "对齐后区间退化为点")
}

func TestServiceFetchFailureMarksJob(t *testing.T) {
	src := &stubSource{}
	src.fail.Store(true)
	svc, _, _ := newTestService(t, src)

	job, err := svc.SubmitFetch(FetchParams{
		Symbol:    "BTCUSDT",
		Timeframe: "1h",
		Start:     hourMillis,
		End:       3 * hourMillis,
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		snap, ok := svc.JobSnapshot(job.ID)
		return ok && snap.Status == JobStatusFailed
	}, 5*time.Second, 20*time.Millisecond)
}

func TestServiceStartRunEndToEnd(t *testing.T) {
	src := &stubSource{}
	svc, store, results := newTestService(t, src)
	ctx := context.Background()

	// 预灌入会触发一次做多并止损的行情
	candles := append(entrySetup(),
		barAt(4, "80", "81", "79", "80", "10"),
		barAt(5, "80", "81", "79", "80", "10"),
	)
	_, err := store.InsertCandles(ctx, "BTCUSDT", "1h", candles)
	require.NoError(t, err)

	cfg := baseRunConfig()
	cfg.StartTS = hourMillis
	cfg.EndTS = 6 * hourMillis
	run, err := svc.StartRun(cfg)
	require.NoError(t, err)
	assert.Equal(t, RunStatusPending, run.Status)

	require.NoError(t, svc.Wait())

	got, err := results.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusDone, got.Status)
	assert.Equal(t, 1, got.Trades)

	trades, err := results.ListTrades(ctx, run.ID, 0)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, "hard_stop", trades[0].Reason)

	// 入库的对账关系与引擎一致
	assert.True(t, got.FinalEquity.Equal(cfg.InitialCapital.Add(trades[0].PnL)))

	points, err := results.ListEquity(ctx, run.ID, 0)
	require.NoError(t, err)
	assert.Len(t, points, len(candles))
	assert.Equal(t, int64(0), src.calls.Load(), "数据完整时回测不触发拉取")
}

func TestServiceStartRunRejectsBadConfig(t *testing.T) {
	svc, _, _ := newTestService(t, &stubSource{})

	cfg := baseRunConfig()
	cfg.Strategy = "nope"
	cfg.StartTS = hourMillis
	cfg.EndTS = 6 * hourMillis
	_, err := svc.StartRun(cfg)
	require.Error(t, err)

	runs, err := svc.Results().ListRuns(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, runs, "非法配置不入库")
}
