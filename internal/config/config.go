package config

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"straton/internal/pkg/num"
)

// Config 汇总进程级配置。金额类字段在配置文件里写十进制文本，
// 校验时解析为 decimal，全程不经过浮点。
type Config struct {
	App        AppConfig                 `toml:"app"`
	Backtest   BacktestConfig            `toml:"backtest"`
	Binance    BinanceConfig             `toml:"binance"`
	Strategies map[string]map[string]any `toml:"strategies"`
}

type AppConfig struct {
	LogLevel string `toml:"log_level"`
	LogPath  string `toml:"log_path"`
	HTTPAddr string `toml:"http_addr"`
}

type BacktestConfig struct {
	DataDir           string `toml:"data_dir"`
	ResultDir         string `toml:"result_dir"`
	Timeframe         string `toml:"timeframe"`
	MaxCachedCandles  int    `toml:"max_cached_candles"`
	MaxConcurrentRuns int    `toml:"max_concurrent_runs"`
	RateLimitPerMin   int    `toml:"rate_limit_per_min"`
	FetchBatch        int    `toml:"fetch_batch"`
	InitialCapital    string `toml:"initial_capital"`
	FeeRate           string `toml:"fee_rate"`
	SlippageBps       string `toml:"slippage_bps"`
	ForcedRegime      string `toml:"forced_regime"`

	initialCapital decimal.Decimal
	feeRate        decimal.Decimal
	slippageBps    decimal.Decimal
}

type BinanceConfig struct {
	BaseURL string `toml:"base_url"`
}

// Load 读取 yaml 配置并套用默认值。
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	applyViperDefaults(v)
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file failed (%s): %w", path, err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "toml"
		dc.WeaklyTypedInput = true
	}); err != nil {
		return nil, fmt.Errorf("parsing config failed: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyViperDefaults(v *viper.Viper) {
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.http_addr", ":9991")
	v.SetDefault("backtest.data_dir", "data/candles")
	v.SetDefault("backtest.result_dir", "data/results")
	v.SetDefault("backtest.timeframe", "1h")
	v.SetDefault("backtest.max_cached_candles", 1000)
	v.SetDefault("backtest.max_concurrent_runs", 2)
	v.SetDefault("backtest.rate_limit_per_min", 480)
	v.SetDefault("backtest.fetch_batch", 1000)
	v.SetDefault("backtest.initial_capital", "10000")
	v.SetDefault("backtest.fee_rate", "0.0005")
	v.SetDefault("backtest.slippage_bps", "2")
}

var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

func (c *Config) validate() error {
	if !validLogLevels[c.App.LogLevel] {
		return fmt.Errorf("app.log_level 非法: %s", c.App.LogLevel)
	}
	if c.App.HTTPAddr == "" {
		return fmt.Errorf("app.http_addr 不能为空")
	}
	return c.Backtest.validate()
}

func (b *BacktestConfig) validate() error {
	if b.DataDir == "" || b.ResultDir == "" {
		return fmt.Errorf("backtest.data_dir/result_dir 不能为空")
	}
	if b.MaxCachedCandles < 0 || b.MaxConcurrentRuns < 0 {
		return fmt.Errorf("backtest 并发与缓存上限不能为负")
	}
	var err error
	if b.initialCapital, err = num.Parse(b.InitialCapital); err != nil {
		return fmt.Errorf("backtest.initial_capital 非法: %w", err)
	}
	if b.initialCapital.Sign() <= 0 {
		return fmt.Errorf("backtest.initial_capital 需 > 0")
	}
	if b.feeRate, err = num.Parse(b.FeeRate); err != nil {
		return fmt.Errorf("backtest.fee_rate 非法: %w", err)
	}
	if b.feeRate.Sign() < 0 || b.feeRate.GreaterThanOrEqual(num.One) {
		return fmt.Errorf("backtest.fee_rate 需在 [0,1) 区间")
	}
	if b.slippageBps, err = num.Parse(b.SlippageBps); err != nil {
		return fmt.Errorf("backtest.slippage_bps 非法: %w", err)
	}
	if b.slippageBps.Sign() < 0 {
		return fmt.Errorf("backtest.slippage_bps 不能为负")
	}
	return nil
}

// InitialCapitalDec 校验后解析出的初始资金。
func (b *BacktestConfig) InitialCapitalDec() decimal.Decimal { return b.initialCapital }

// FeeRateDec 校验后解析出的费率。
func (b *BacktestConfig) FeeRateDec() decimal.Decimal { return b.feeRate }

// SlippageBpsDec 校验后解析出的滑点（基点）。
func (b *BacktestConfig) SlippageBpsDec() decimal.Decimal { return b.slippageBps }
