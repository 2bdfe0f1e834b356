// Package symbol 统一交易对文本的解析与归一化。
// 输入容忍 "BTC/USDT"、"btcusdt"、"BTC/USDT:USDT" 等写法，
// 存储与数据源统一使用 Binance 连写形式（BTCUSDT）。
package symbol

import (
	"strings"
)

type Symbol struct {
	Base  string
	Quote string
}

// Binance 连写形式，空串表示解析失败。
func (s Symbol) Binance() string {
	if s.Base == "" || s.Quote == "" {
		return ""
	}
	return s.Base + s.Quote
}

var quoteCurrencies = []string{"USDT", "USDC", "BUSD", "TUSD", "BTC", "ETH", "BNB"}

// Parse 尽力拆出 base/quote；无法识别时返回零值。
func Parse(s string) Symbol {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return Symbol{}
	}
	if idx := strings.Index(s, ":"); idx >= 0 {
		s = s[:idx]
	}
	if parts := strings.SplitN(s, "/", 2); len(parts) == 2 {
		return Symbol{
			Base:  strings.TrimSpace(parts[0]),
			Quote: strings.TrimSpace(parts[1]),
		}
	}
	for _, quote := range quoteCurrencies {
		if strings.HasSuffix(s, quote) && len(s) > len(quote) {
			return Symbol{Base: s[:len(s)-len(quote)], Quote: quote}
		}
	}
	return Symbol{}
}

// Normalize 归一化为连写形式；无法识别时退回大写原文。
func Normalize(s string) string {
	if norm := Parse(s).Binance(); norm != "" {
		return norm
	}
	return strings.ToUpper(strings.TrimSpace(s))
}

// IsValid 是否能拆出 base/quote。
func IsValid(s string) bool {
	sym := Parse(s)
	return sym.Base != "" && sym.Quote != ""
}
