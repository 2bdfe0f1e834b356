package strategy

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"straton/internal/indicator"
	"straton/internal/pkg/num"
)

func TestRegistryNames(t *testing.T) {
	assert.Equal(t, []string{"grid", "meanrev", "squeeze"}, Names())
}

func TestRegistryLookup(t *testing.T) {
	meta, ok := Lookup("meanrev")
	require.True(t, ok)
	assert.Equal(t, "meanrev", meta.Name)
	assert.Equal(t, RiskStandard, meta.Risk)
	assert.Contains(t, meta.Regimes, RegimeRanging)

	_, ok = Lookup("nope")
	assert.False(t, ok)
}

func TestRegistryNew(t *testing.T) {
	cache := indicator.NewCache(0)
	for _, name := range Names() {
		s, err := New(name, cache, nil)
		require.NoError(t, err, name)
		assert.Equal(t, name, s.Name())
		assert.Greater(t, s.WarmUp(), 0, name)
	}
}

func TestRegistryNewUnknown(t *testing.T) {
	_, err := New("martingale", indicator.NewCache(0), nil)
	require.Error(t, err)
	var unknown *ErrUnknownStrategy
	require.True(t, errors.As(err, &unknown))
	assert.Equal(t, "martingale", unknown.Name)
}

func TestRiskTierDefaults(t *testing.T) {
	assert.True(t, RiskConservative.DefaultSizePct().Equal(num.MustParse("0.05")))
	assert.True(t, RiskStandard.DefaultSizePct().Equal(num.MustParse("0.1")))
	assert.True(t, RiskAggressive.DefaultSizePct().Equal(num.MustParse("0.2")))
	assert.True(t, RiskTier("whatever").DefaultSizePct().Equal(num.MustParse("0.1")))
}

func TestDecodeConfigDecimalPaths(t *testing.T) {
	var cfg MeanRevConfig

	err := DecodeConfig(map[string]any{
		"rsi_period":   7,
		"rsi_oversold": "25.5", // 字符串通路保持精确
		"boll_mult":    2.5,
		"stop_atr":     3,
	}, &cfg)
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.RSIPeriod)
	assert.True(t, cfg.Oversold.Equal(num.MustParse("25.5")))
	assert.True(t, cfg.BollMult.Equal(decimal.NewFromFloat(2.5)))
	assert.True(t, cfg.StopATR.Equal(decimal.NewFromInt(3)))
}

func TestDecodeConfigEmptyIsNoop(t *testing.T) {
	cfg := DefaultMeanRevConfig()
	require.NoError(t, DecodeConfig(nil, &cfg))
	assert.True(t, cfg.Oversold.Equal(decimal.NewFromInt(30)))
}
