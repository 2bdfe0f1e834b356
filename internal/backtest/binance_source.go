package backtest

import (
	"context"
	"fmt"

	"github.com/adshao/go-binance/v2/futures"

	"straton/internal/logger"
	"straton/internal/market"
)

// BinanceSource 基于 Binance USDT 合约 /fapi/v1/klines。
// 价格/成交量直接取交易所返回的十进制文本解析，不经过 float。
type BinanceSource struct {
	client *futures.Client
}

func NewBinanceSource(base string) *BinanceSource {
	client := futures.NewClient("", "")
	if base != "" {
		client.BaseURL = base
	}
	return &BinanceSource{client: client}
}

func (b *BinanceSource) Name() string { return "binance" }

func (b *BinanceSource) Fetch(ctx context.Context, req FetchRequest) ([]market.Candle, error) {
	if req.Symbol == "" || req.Interval == "" {
		return nil, fmt.Errorf("symbol/interval 不能为空")
	}
	limit := req.Limit
	if limit <= 0 || limit > 1500 {
		limit = 1000
	}
	svc := b.client.NewKlinesService().
		Symbol(req.Symbol).
		Interval(req.Interval).
		Limit(limit)
	if req.Start > 0 {
		svc = svc.StartTime(req.Start)
	}
	if req.End > 0 {
		svc = svc.EndTime(req.End)
	}
	klines, err := svc.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("binance 拉取失败: %w", err)
	}
	out := make([]market.Candle, 0, len(klines))
	for _, k := range klines {
		c, err := market.CandleFromStrings(k.OpenTime, k.CloseTime, k.Open, k.High, k.Low, k.Close, k.Volume)
		if err != nil {
			logger.Warnf("[backtest] 丢弃无法解析的 K 线 %s@%d: %v", req.Symbol, k.OpenTime, err)
			continue
		}
		c.Trades = k.TradeNum
		out = append(out, c)
	}
	return out, nil
}
