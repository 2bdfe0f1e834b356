package app

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"straton/internal/backtest"
	"straton/internal/config"
	"straton/internal/logger"
)

// App 负责应用级编排：加载配置→初始化依赖→启动回测服务与 HTTP。
type App struct {
	cfg     *config.Config
	store   *backtest.Store
	results *backtest.ResultStore
	svc     *backtest.Service
	server  *backtest.HTTPServer
}

// NewApp 根据配置构建应用对象（不启动）。
func NewApp(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)

	store, err := backtest.NewStore(cfg.Backtest.DataDir)
	if err != nil {
		return nil, fmt.Errorf("初始化 K 线存储失败: %w", err)
	}
	results, err := backtest.NewResultStore(cfg.Backtest.ResultDir)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("初始化结果存储失败: %w", err)
	}
	svc, err := backtest.NewService(backtest.ServiceConfig{
		Store:           store,
		Results:         results,
		Sources:         map[string]backtest.CandleSource{"binance": backtest.NewBinanceSource(cfg.Binance.BaseURL)},
		DefaultExchange: "binance",
		RateLimitPerMin: cfg.Backtest.RateLimitPerMin,
		MaxBatch:        cfg.Backtest.FetchBatch,
		MaxConcurrent:   cfg.Backtest.MaxConcurrentRuns,
	})
	if err != nil {
		results.Close()
		store.Close()
		return nil, fmt.Errorf("初始化回测服务失败: %w", err)
	}
	server, err := backtest.NewHTTPServer(backtest.HTTPConfig{
		Addr: cfg.App.HTTPAddr,
		Svc:  svc,
		Defaults: backtest.RunDefaults{
			InitialCapital:    cfg.Backtest.InitialCapitalDec(),
			FeeRate:           cfg.Backtest.FeeRateDec(),
			SlippageBps:       cfg.Backtest.SlippageBpsDec(),
			Timeframe:         cfg.Backtest.Timeframe,
			ForcedRegime:      cfg.Backtest.ForcedRegime,
			MaxCachedCandles:  cfg.Backtest.MaxCachedCandles,
			StrategyOverrides: cfg.Strategies,
		},
	})
	if err != nil {
		results.Close()
		store.Close()
		return nil, fmt.Errorf("初始化 HTTP 服务失败: %w", err)
	}
	return &App{cfg: cfg, store: store, results: results, svc: svc, server: server}, nil
}

// Run 启动 HTTP 服务并阻塞到 ctx 取消。
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	a.svc.SetContext(ctx)
	logger.Infof("[app] straton 启动，HTTP 监听 %s", a.cfg.App.HTTPAddr)

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := a.server.Start(ctx); err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	})
	err := group.Wait()
	// 等在途回测落库后再释放存储
	_ = a.svc.Wait()
	a.Close()
	return err
}

// Close 释放存储资源。
func (a *App) Close() {
	if a == nil {
		return
	}
	if a.results != nil {
		_ = a.results.Close()
	}
	if a.store != nil {
		_ = a.store.Close()
	}
}
