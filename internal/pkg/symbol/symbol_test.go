package symbol

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParse(t *testing.T) {
	cases := []struct {
		in    string
		base  string
		quote string
	}{
		{"BTC/USDT", "BTC", "USDT"},
		{"btc/usdt", "BTC", "USDT"},
		{"BTC/USDT:USDT", "BTC", "USDT"},
		{"btcusdt", "BTC", "USDT"},
		{"ETHBTC", "ETH", "BTC"},
		{"  sol/usdc ", "SOL", "USDC"},
		{"", "", ""},
		{"USDT", "", ""},
	}
	for _, c := range cases {
		got := Parse(c.in)
		assert.Equal(t, c.base, got.Base, "input %q", c.in)
		assert.Equal(t, c.quote, got.Quote, "input %q", c.in)
	}
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "BTCUSDT", Normalize("btc/usdt"))
	assert.Equal(t, "BTCUSDT", Normalize("BTC/USDT:USDT"))
	assert.Equal(t, "ETHUSDT", Normalize("ethusdt"))
	// 识别不了的写法退回大写原文
	assert.Equal(t, "WEIRDPAIR", Normalize("weirdpair"))
}

func TestIsValid(t *testing.T) {
	assert.True(t, IsValid("BTC/USDT"))
	assert.True(t, IsValid("ethusdt"))
	assert.False(t, IsValid(""))
	assert.False(t, IsValid("USDT"))
}
