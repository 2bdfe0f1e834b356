package backtest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"straton/internal/logger"
	"straton/internal/market"
	"straton/internal/pkg/circuit"
	"straton/internal/pkg/symbol"
)

// ServiceConfig 配置 Service。
type ServiceConfig struct {
	Store           *Store
	Results         *ResultStore
	Sources         map[string]CandleSource
	DefaultExchange string
	RateLimitPerMin int
	MaxBatch        int
	MaxConcurrent   int
}

// Service 协调历史数据补齐与回测任务执行。
// 数据拉取受全局限流约束；回测 goroutine 数量由 errgroup 上限控制。
type Service struct {
	store           *Store
	results         *ResultStore
	sources         map[string]CandleSource
	defaultExchange string
	maxBatch        int

	limiter  *rate.Limiter
	group    *errgroup.Group
	breakers map[string]*circuit.Breaker

	mu   sync.RWMutex
	jobs map[string]*FetchJob

	baseCtx context.Context
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store 不能为空")
	}
	if cfg.Results == nil {
		return nil, fmt.Errorf("result store 不能为空")
	}
	if len(cfg.Sources) == 0 {
		return nil, fmt.Errorf("至少需要一个数据源")
	}
	ratePerSec := rate.Limit(float64(cfg.RateLimitPerMin) / 60.0)
	if cfg.RateLimitPerMin <= 0 {
		ratePerSec = 8
	}
	maxBatch := cfg.MaxBatch
	if maxBatch <= 0 {
		maxBatch = 1000
	}
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 2
	}
	group := &errgroup.Group{}
	group.SetLimit(maxConcurrent)
	svc := &Service{
		store:           cfg.Store,
		results:         cfg.Results,
		sources:         make(map[string]CandleSource),
		defaultExchange: strings.ToLower(cfg.DefaultExchange),
		maxBatch:        maxBatch,
		limiter:         rate.NewLimiter(ratePerSec, maxBatch),
		group:           group,
		breakers:        make(map[string]*circuit.Breaker),
		jobs:            make(map[string]*FetchJob),
		baseCtx:         context.Background(),
	}
	for k, v := range cfg.Sources {
		key := strings.ToLower(k)
		svc.sources[key] = v
		svc.breakers[key] = circuit.NewBreaker(key, 5, 30*time.Second)
	}
	if svc.defaultExchange == "" {
		for k := range svc.sources {
			svc.defaultExchange = k
			break
		}
	}
	return svc, nil
}

// SetContext 注入宿主 ctx，用于任务取消。
func (s *Service) SetContext(ctx context.Context) {
	if ctx != nil {
		s.baseCtx = ctx
	}
}

func (s *Service) ctx() context.Context {
	if s.baseCtx == nil {
		return context.Background()
	}
	return s.baseCtx
}

// Wait 阻塞直到所有在途回测结束。
func (s *Service) Wait() error {
	return s.group.Wait()
}

// Results 暴露结果存储给 HTTP 层查询。
func (s *Service) Results() *ResultStore {
	return s.results
}

// SubmitFetch 提交拉取任务；若区间已完整只做一致性检查。
func (s *Service) SubmitFetch(params FetchParams) (FetchJob, error) {
	if params.Symbol == "" {
		return FetchJob{}, fmt.Errorf("symbol 不能为空")
	}
	params.Symbol = symbol.Normalize(params.Symbol)
	tf, err := ParseTimeframe(params.Timeframe)
	if err != nil {
		return FetchJob{}, err
	}
	src, err := s.source(params.Exchange)
	if err != nil {
		return FetchJob{}, err
	}
	start, end := tf.AlignRange(params.Start, params.End)
	if start == end {
		return FetchJob{}, fmt.Errorf("start 与 end 需要构成区间")
	}
	params.Start = start
	params.End = end

	report, err := s.store.CheckIntegrity(s.ctx(), params.Symbol, params.Timeframe, tf, start, end)
	if err != nil {
		return FetchJob{}, err
	}
	job := &FetchJob{
		ID:        uuid.NewString(),
		Status:    JobStatusPending,
		Params:    params,
		Total:     report.Expected,
		Completed: report.Present,
		StartedAt: time.Now(),
		UpdatedAt: time.Now(),
		Missing:   append([]Gap{}, report.Gaps...),
	}
	s.mu.Lock()
	s.jobs[job.ID] = job
	s.mu.Unlock()
	logger.Infof("[backtest] 拉取任务 %s 提交：%s %s [%d,%d] 预计=%d 缺口=%d",
		job.ID, params.Symbol, params.Timeframe, start, end, report.Expected, len(report.Gaps))

	if report.Complete() {
		s.setJobStatus(job.ID, JobStatusDone, "数据已完整，无需重新拉取", report.Gaps)
		return job.copy(), nil
	}

	go s.runFetch(job.ID, tf, report, src)
	return job.copy(), nil
}

func (s *Service) source(exchange string) (CandleSource, error) {
	if exchange == "" {
		exchange = s.defaultExchange
	}
	src := s.sources[strings.ToLower(exchange)]
	if src == nil {
		return nil, fmt.Errorf("未知数据源: %s", exchange)
	}
	return src, nil
}

func (s *Service) runFetch(jobID string, tf Timeframe, report IntegrityReport, source CandleSource) {
	job := s.getJob(jobID)
	if job == nil {
		return
	}
	s.updateJob(jobID, func(j *FetchJob) {
		j.Status = JobStatusRunning
		j.Message = ""
	})

	params := job.Params
	ctx := s.ctx()
	warnings, err := s.fillGaps(ctx, params, tf, report.Gaps, source, jobID)
	if err != nil {
		s.setJobStatus(jobID, JobStatusFailed, err.Error(), nil)
		return
	}

	finalReport, err := s.store.CheckIntegrity(ctx, params.Symbol, params.Timeframe, tf, params.Start, params.End)
	status := JobStatusDone
	message := "拉取完成"
	if err != nil {
		status = JobStatusFailed
		warnings = append(warnings, "完整性检查失败: "+err.Error())
	} else if !finalReport.Complete() {
		status = JobStatusPartial
		message = "已完成，但仍存在缺口"
	}
	s.updateJob(jobID, func(j *FetchJob) {
		j.Status = status
		j.Message = message
		j.Missing = append([]Gap{}, finalReport.Gaps...)
		j.UpdatedAt = time.Now()
		if len(warnings) > 0 {
			j.Warnings = append([]string{}, warnings...)
		}
	})
	logger.Infof("[backtest] 拉取任务 %s 完成，状态=%s，缺口=%d", jobID, status, len(finalReport.Gaps))
}

// fillGaps 逐个缺口分批拉取写库；jobID 为空时不更新任务进度。
func (s *Service) fillGaps(ctx context.Context, params FetchParams, tf Timeframe, gaps []Gap, source CandleSource, jobID string) ([]string, error) {
	step := tf.durationMillis()
	var warnings []string
	for _, gap := range gaps {
		cursor := gap.From
		for cursor <= gap.To {
			if err := ctx.Err(); err != nil {
				return warnings, err
			}
			if err := s.limiter.Wait(ctx); err != nil {
				return warnings, err
			}
			remaining := int((gap.To-cursor)/step) + 1
			if remaining > s.maxBatch {
				remaining = s.maxBatch
			}
			breaker := s.breakers[strings.ToLower(source.Name())]
			if breaker != nil && !breaker.Allow() {
				return warnings, fmt.Errorf("数据源 %s 熔断中，稍后重试", source.Name())
			}
			data, err := source.Fetch(ctx, FetchRequest{
				Symbol:   params.Symbol,
				Interval: tf.SourceInterval,
				Start:    cursor,
				End:      gap.To,
				Limit:    remaining,
			})
			if err != nil {
				if breaker != nil {
					breaker.RecordFailure()
				}
				return warnings, fmt.Errorf("%s 拉取失败: %w", source.Name(), err)
			}
			if breaker != nil {
				breaker.RecordSuccess()
			}
			if len(data) == 0 {
				warnings = append(warnings, fmt.Sprintf("区间 [%d,%d] 拉取为空", cursor, gap.To))
				break
			}
			inserted, err := s.store.InsertCandles(ctx, params.Symbol, params.Timeframe, data)
			if err != nil {
				return warnings, fmt.Errorf("写入失败: %w", err)
			}
			cursor = data[len(data)-1].OpenTime + step
			if jobID != "" {
				s.updateJob(jobID, func(j *FetchJob) {
					j.Completed += int64(inserted)
					j.UpdatedAt = time.Now()
				})
			}
			if inserted == 0 {
				break
			}
		}
	}
	return warnings, nil
}

func (s *Service) setJobStatus(jobID, status, message string, gaps []Gap) {
	s.updateJob(jobID, func(j *FetchJob) {
		j.Status = status
		j.Message = message
		j.Missing = append([]Gap{}, gaps...)
		j.UpdatedAt = time.Now()
	})
}

func (s *Service) getJob(id string) *FetchJob {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.jobs[id]
}

func (s *Service) updateJob(id string, fn func(*FetchJob)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job, ok := s.jobs[id]; ok && fn != nil {
		fn(job)
	}
}

// JobSnapshot 返回任务副本。
func (s *Service) JobSnapshot(id string) (FetchJob, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return FetchJob{}, false
	}
	return job.copy(), true
}

// JobsSnapshot 返回所有任务的拷贝列表。
func (s *Service) JobsSnapshot() []FetchJob {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]FetchJob, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, job.copy())
	}
	return out
}

// ManifestInfo 读取本地 manifest。
func (s *Service) ManifestInfo(ctx context.Context, symbol, timeframe string) (Manifest, error) {
	if symbol == "" || timeframe == "" {
		return Manifest{}, errors.New("symbol/timeframe 不能为空")
	}
	return s.store.Manifest(ctx, symbol, timeframe)
}

// QueryCandles 读取指定区间 K 线。
func (s *Service) QueryCandles(ctx context.Context, symbol, timeframe string, start, end int64, limit int) ([]market.Candle, error) {
	if symbol == "" || timeframe == "" {
		return nil, errors.New("symbol/timeframe 不能为空")
	}
	return s.store.QueryCandles(ctx, symbol, timeframe, start, end, limit)
}

// StartRun 登记并异步执行一次回测。数据缺口会先行补齐。
func (s *Service) StartRun(cfg RunConfig) (Run, error) {
	cfg.Symbol = symbol.Normalize(cfg.Symbol)
	tf, err := ParseTimeframe(cfg.Timeframe)
	if err != nil {
		return Run{}, &ValidationError{Field: "timeframe", Reason: err.Error()}
	}
	cfg.StartTS, cfg.EndTS = tf.AlignRange(cfg.StartTS, cfg.EndTS)
	if cfg.StartTS == cfg.EndTS {
		return Run{}, &ValidationError{Field: "start_ts", Reason: "start 与 end 需要构成区间"}
	}

	run := Run{
		ID:             uuid.NewString(),
		Strategy:       cfg.Strategy,
		Symbol:         cfg.Symbol,
		Timeframe:      cfg.Timeframe,
		Status:         RunStatusPending,
		StartTS:        cfg.StartTS,
		EndTS:          cfg.EndTS,
		InitialCapital: cfg.InitialCapital,
		Config:         cfg,
	}
	// 提交前就完成配置校验，非法配置立即拒绝而不是入库后失败
	if err := validateRunConfig(cfg); err != nil {
		return Run{}, err
	}
	if err := s.results.CreateRun(s.ctx(), run); err != nil {
		return Run{}, err
	}
	logger.Infof("[backtest] 回测 %s 提交：%s %s %s [%d,%d]",
		run.ID, cfg.Strategy, cfg.Symbol, cfg.Timeframe, cfg.StartTS, cfg.EndTS)

	s.group.Go(func() error {
		s.executeRun(run.ID, cfg, tf)
		return nil
	})
	return run, nil
}

func (s *Service) executeRun(runID string, cfg RunConfig, tf Timeframe) {
	ctx := s.ctx()
	fail := func(reason string) {
		logger.Warnf("[backtest] 回测 %s 失败: %s", runID, reason)
		_ = s.results.SetRunStatus(ctx, runID, RunStatusFailed, reason)
	}
	_ = s.results.SetRunStatus(ctx, runID, RunStatusRunning, "")

	report, err := s.store.CheckIntegrity(ctx, cfg.Symbol, cfg.Timeframe, tf, cfg.StartTS, cfg.EndTS)
	if err != nil {
		fail("完整性检查失败: " + err.Error())
		return
	}
	if len(report.Gaps) > 0 {
		src, err := s.source("")
		if err != nil {
			fail(err.Error())
			return
		}
		params := FetchParams{Symbol: cfg.Symbol, Timeframe: cfg.Timeframe, Start: cfg.StartTS, End: cfg.EndTS}
		if _, err := s.fillGaps(ctx, params, tf, report.Gaps, src, ""); err != nil {
			fail("数据补齐失败: " + err.Error())
			return
		}
	}

	candles, err := s.store.RangeCandles(ctx, cfg.Symbol, cfg.Timeframe, cfg.StartTS, cfg.EndTS)
	if err != nil {
		fail("读取 K 线失败: " + err.Error())
		return
	}
	engine, err := NewEngine(cfg, candles)
	if err != nil {
		fail(err.Error())
		return
	}
	result, err := engine.Run(ctx)
	if err != nil {
		fail(err.Error())
		return
	}
	result.RunID = runID

	if err := s.results.InsertTrades(ctx, runID, result.Trades); err != nil {
		fail("写入成交失败: " + err.Error())
		return
	}
	if err := s.results.InsertEquity(ctx, runID, result.Equity); err != nil {
		fail("写入资金曲线失败: " + err.Error())
		return
	}
	if err := s.results.CompleteRun(ctx, runID, result); err != nil {
		fail("写入结果失败: " + err.Error())
		return
	}
	logger.Infof("[backtest] 回测 %s 完成：trades=%d pnl=%s return=%s%%",
		runID, result.Report.TotalTrades, result.Report.TotalPnL.String(), result.Report.ReturnPct.String())
}
