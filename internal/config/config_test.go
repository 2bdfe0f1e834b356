package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"straton/internal/pkg/num"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.App.LogLevel)
	assert.Equal(t, ":9991", cfg.App.HTTPAddr)
	assert.Equal(t, "1h", cfg.Backtest.Timeframe)
	assert.Equal(t, 1000, cfg.Backtest.MaxCachedCandles)
	assert.True(t, cfg.Backtest.InitialCapitalDec().Equal(num.MustParse("10000")))
	assert.True(t, cfg.Backtest.FeeRateDec().Equal(num.MustParse("0.0005")))
	assert.True(t, cfg.Backtest.SlippageBpsDec().Equal(num.MustParse("2")))
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
app:
  log_level: debug
  http_addr: ":8080"
backtest:
  initial_capital: "2500.75"
  fee_rate: "0.001"
  slippage_bps: "5"
strategies:
  meanrev:
    rsi_period: 7
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.App.LogLevel)
	assert.Equal(t, ":8080", cfg.App.HTTPAddr)
	// 金额走 decimal 文本，逐位往返
	assert.True(t, cfg.Backtest.InitialCapitalDec().Equal(num.MustParse("2500.75")))
	assert.True(t, cfg.Backtest.FeeRateDec().Equal(num.MustParse("0.001")))
	require.Contains(t, cfg.Strategies, "meanrev")
	assert.EqualValues(t, 7, cfg.Strategies["meanrev"]["rsi_period"])
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadValidation(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"bad log level", "app:\n  log_level: chatty\n"},
		{"empty http addr", "app:\n  http_addr: \"\"\n"},
		{"non numeric capital", "backtest:\n  initial_capital: \"abc\"\n"},
		{"zero capital", "backtest:\n  initial_capital: \"0\"\n"},
		{"fee rate out of range", "backtest:\n  fee_rate: \"1\"\n"},
		{"negative slippage", "backtest:\n  slippage_bps: \"-1\"\n"},
		{"empty data dir", "backtest:\n  data_dir: \"\"\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.body))
			assert.Error(t, err)
		})
	}
}
