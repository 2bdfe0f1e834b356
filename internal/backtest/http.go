package backtest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"straton/internal/pkg/num"
	"straton/internal/report"
	"straton/internal/strategy"
)

// RunDefaults 请求未显式给出时使用的资金与成本参数。
// StrategyOverrides 为配置文件级的策略参数基线，请求级覆盖优先。
type RunDefaults struct {
	InitialCapital    decimal.Decimal
	FeeRate           decimal.Decimal
	SlippageBps       decimal.Decimal
	Timeframe         string
	ForcedRegime      string
	MaxCachedCandles  int
	StrategyOverrides map[string]map[string]any
}

// HTTPServer 提供 Gin 接口：数据补齐、回测提交与结果查询。
type HTTPServer struct {
	addr     string
	svc      *Service
	defaults RunDefaults
	router   *gin.Engine
}

type HTTPConfig struct {
	Addr     string
	Svc      *Service
	Defaults RunDefaults
}

func NewHTTPServer(cfg HTTPConfig) (*HTTPServer, error) {
	if cfg.Svc == nil {
		return nil, errors.New("service 不能为空")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":9991"
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &HTTPServer{
		addr:     cfg.Addr,
		svc:      cfg.Svc,
		defaults: cfg.Defaults,
		router:   router,
	}
	s.registerRoutes()
	return s, nil
}

func (s *HTTPServer) registerRoutes() {
	s.router.GET("/", s.handleIndex)
	api := s.router.Group("/api/backtest")
	api.GET("/strategies", s.handleStrategies)
	api.POST("/fetch", s.handleFetch)
	api.GET("/fetch/:id", s.handleFetchStatus)
	api.GET("/jobs", s.handleJobs)
	api.GET("/data", s.handleManifest)
	api.GET("/candles", s.handleCandles)
	api.POST("/runs", s.handleRunStart)
	api.GET("/runs", s.handleRunList)
	api.GET("/runs/:id", s.handleRunDetail)
	api.GET("/runs/:id/trades", s.handleRunTrades)
	api.GET("/runs/:id/equity", s.handleRunEquity)
	api.GET("/runs/:id/report", s.handleRunReport)
}

func (s *HTTPServer) handleIndex(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service":    "straton",
		"timeframes": SupportedTimeframes(),
		"strategies": strategy.Names(),
	})
}

func (s *HTTPServer) handleStrategies(c *gin.Context) {
	out := make([]gin.H, 0)
	for _, name := range strategy.Names() {
		meta, _ := strategy.Lookup(name)
		out = append(out, gin.H{
			"name":        meta.Name,
			"description": meta.Description,
			"regimes":     meta.Regimes,
			"risk":        meta.Risk,
		})
	}
	c.JSON(http.StatusOK, gin.H{"strategies": out})
}

func (s *HTTPServer) handleFetch(c *gin.Context) {
	var req struct {
		Exchange  string `json:"exchange"`
		Symbol    string `json:"symbol" binding:"required"`
		Timeframe string `json:"timeframe" binding:"required"`
		StartTS   int64  `json:"start_ts" binding:"required"`
		EndTS     int64  `json:"end_ts" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	job, err := s.svc.SubmitFetch(FetchParams{
		Exchange:  req.Exchange,
		Symbol:    req.Symbol,
		Timeframe: req.Timeframe,
		Start:     req.StartTS,
		End:       req.EndTS,
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"job": job})
}

func (s *HTTPServer) handleFetchStatus(c *gin.Context) {
	job, ok := s.svc.JobSnapshot(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"job": job})
}

func (s *HTTPServer) handleJobs(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"jobs": s.svc.JobsSnapshot()})
}

func (s *HTTPServer) handleManifest(c *gin.Context) {
	symbol := c.Query("symbol")
	tf := c.Query("timeframe")
	if symbol == "" || tf == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol/timeframe 必填"})
		return
	}
	info, err := s.svc.ManifestInfo(c.Request.Context(), symbol, tf)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"manifest": info})
}

func (s *HTTPServer) handleCandles(c *gin.Context) {
	symbol := c.Query("symbol")
	tf := c.Query("timeframe")
	if symbol == "" || tf == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol/timeframe 必填"})
		return
	}
	start, _ := strconv.ParseInt(c.Query("start_ts"), 10, 64)
	end, _ := strconv.ParseInt(c.Query("end_ts"), 10, 64)
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "200"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit 非法"})
		return
	}
	data, err := s.svc.QueryCandles(c.Request.Context(), symbol, tf, start, end, limit)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"candles": data})
}

// parseAmount 解析金额字段文本，空串回退默认值。
func parseAmount(raw string, fallback decimal.Decimal, field string) (decimal.Decimal, error) {
	if raw == "" {
		return fallback, nil
	}
	v, err := num.Parse(raw)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%s 非法: %w", field, err)
	}
	return v, nil
}

func (s *HTTPServer) handleRunStart(c *gin.Context) {
	var req RunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	capital, err := parseAmount(req.InitialCapital, s.defaults.InitialCapital, "initial_capital")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	feeRate, err := parseAmount(req.FeeRate, s.defaults.FeeRate, "fee_rate")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	slippage, err := parseAmount(req.SlippageBps, s.defaults.SlippageBps, "slippage_bps")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	timeframe := req.Timeframe
	if timeframe == "" {
		timeframe = s.defaults.Timeframe
	}
	overrides := make(map[string]any)
	for k, v := range s.defaults.StrategyOverrides[req.Strategy] {
		overrides[k] = v
	}
	if len(req.StrategyConfig) > 0 {
		parsed := gjson.ParseBytes(req.StrategyConfig)
		if !parsed.IsObject() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "strategy_config 需为 JSON 对象"})
			return
		}
		if m, ok := parsed.Value().(map[string]any); ok {
			for k, v := range m {
				overrides[k] = v
			}
		}
	}
	forced := req.ForcedRegime
	if forced == "" {
		forced = s.defaults.ForcedRegime
	}

	run, err := s.svc.StartRun(RunConfig{
		Strategy:         req.Strategy,
		StrategyConfig:   overrides,
		Symbol:           req.Symbol,
		Timeframe:        timeframe,
		StartTS:          req.StartTS,
		EndTS:            req.EndTS,
		InitialCapital:   capital,
		FeeRate:          feeRate,
		SlippageBps:      slippage,
		ForcedRegime:     forced,
		MaxCachedCandles: s.defaults.MaxCachedCandles,
	})
	if err != nil {
		status := http.StatusInternalServerError
		var verr *ValidationError
		if errors.As(err, &verr) {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"run": run})
}

func (s *HTTPServer) handleRunList(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	runs, err := s.svc.Results().ListRuns(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (s *HTTPServer) handleRunDetail(c *gin.Context) {
	run, err := s.svc.Results().GetRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"run": run})
}

func (s *HTTPServer) handleRunTrades(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "500"))
	trades, err := s.svc.Results().ListTrades(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades})
}

func (s *HTTPServer) handleRunEquity(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "2000"))
	points, err := s.svc.Results().ListEquity(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"equity": points})
}

func (s *HTTPServer) handleRunReport(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")
	run, err := s.svc.Results().GetRun(ctx, id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	equity, err := s.svc.Results().ListEquity(ctx, id, 10000)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	times := make([]int64, len(equity))
	eq := make([]float64, len(equity))
	dd := make([]float64, len(equity))
	for i, p := range equity {
		times[i] = p.TS
		eq[i] = num.ToFloat(p.Equity)
		dd[i] = num.ToFloat(p.Drawdown)
	}
	summary := [][2]string{
		{"strategy", run.Strategy},
		{"symbol", run.Symbol},
		{"timeframe", run.Timeframe},
		{"initial_capital", run.InitialCapital.String()},
		{"final_equity", run.FinalEquity.String()},
		{"total_pnl", run.TotalPnL.String()},
		{"return_pct", run.ReturnPct.String()},
		{"trades", strconv.Itoa(run.Report.TotalTrades)},
		{"win_rate", run.Report.WinRate.String()},
		{"profit_factor", run.Report.ProfitFactor.String()},
		{"max_drawdown_pct", run.Report.MaxDrawdown.String()},
		{"sharpe", strconv.FormatFloat(run.Report.Sharpe, 'f', 3, 64)},
		{"sortino", strconv.FormatFloat(run.Report.Sortino, 'f', 3, 64)},
		{"calmar", strconv.FormatFloat(run.Report.Calmar, 'f', 3, 64)},
	}
	c.Header("Content-Type", "text/html; charset=utf-8")
	c.Status(http.StatusOK)
	if err := report.Render(c.Writer, report.Input{
		Title:    fmt.Sprintf("%s %s %s", run.Strategy, run.Symbol, run.Timeframe),
		Times:    times,
		Equity:   eq,
		Drawdown: dd,
		Summary:  summary,
	}); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// Start 启动 HTTP 服务，阻塞直到 ctx 取消或出现错误。
func (s *HTTPServer) Start(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.router}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
