// Package client 提供外部依赖的 HTTP 适配器：行情、资金费率、量化模型、执行场所与账务系统。
package client

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"github.com/wyfcoding/marginrisk/internal/margin/domain"
	"github.com/wyfcoding/pkg/logging"
)

// ExchangeClient 交易所行情适配器
// 实现 domain.PriceOracle 与 domain.FundingRateSource
type ExchangeClient struct {
	http    *resty.Client
	baseURL string
}

// NewExchangeClient 创建交易所行情客户端
func NewExchangeClient(baseURL string, timeout time.Duration) *ExchangeClient {
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(100 * time.Millisecond)

	return &ExchangeClient{http: httpClient, baseURL: baseURL}
}

type tickerResponse struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

// GetMarkPrice 拉取标记价
func (c *ExchangeClient) GetMarkPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	var out tickerResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("symbol", symbol).
		SetResult(&out).
		Get("/api/v1/ticker/price")
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", domain.ErrPriceUnavailable, err)
	}
	if resp.IsError() {
		return decimal.Zero, fmt.Errorf("%w: status %d", domain.ErrPriceUnavailable, resp.StatusCode())
	}

	price, err := decimal.NewFromString(out.Price)
	if err != nil || price.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, domain.ErrPriceUnavailable
	}
	return price, nil
}

type klineResponse struct {
	Symbol string   `json:"symbol"`
	Closes []string `json:"closes"`
}

// GetReturnHistory 拉取最近 n 根日线收盘价并换算为对数收益率
func (c *ExchangeClient) GetReturnHistory(ctx context.Context, symbol string, n int) ([]float64, error) {
	var out klineResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("symbol", symbol).
		SetQueryParam("interval", "1d").
		SetQueryParam("limit", strconv.Itoa(n+1)).
		SetResult(&out).
		Get("/api/v1/klines")
	if err != nil {
		return nil, fmt.Errorf("failed to fetch klines: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("failed to fetch klines: status %d", resp.StatusCode())
	}

	closes := make([]float64, 0, len(out.Closes))
	for _, s := range out.Closes {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil || v <= 0 {
			continue
		}
		closes = append(closes, v)
	}
	if len(closes) < 2 {
		return nil, fmt.Errorf("insufficient kline history for %s", symbol)
	}

	returns := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		returns = append(returns, math.Log(closes[i]/closes[i-1]))
	}
	return returns, nil
}

// GetVolatility 年化波动率：优先用历史收益率计算，失败时落到截断下限
func (c *ExchangeClient) GetVolatility(ctx context.Context, symbol string) (float64, error) {
	returns, err := c.GetReturnHistory(ctx, symbol, 252)
	if err != nil {
		logging.Warn(ctx, "volatility history unavailable, using floor", "symbol", symbol, "error", err)
		return domain.ClampVolatility(0), nil
	}
	return domain.AnnualizedVolatility(returns), nil
}

type fundingRateResponse struct {
	Symbol          string `json:"symbol"`
	FundingRate     string `json:"funding_rate"`
	NextFundingTime int64  `json:"next_funding_time"`
}

// FetchFundingRate 拉取当前资金费率
func (c *ExchangeClient) FetchFundingRate(ctx context.Context, symbol string) (*domain.FundingRate, error) {
	var out fundingRateResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("symbol", symbol).
		SetResult(&out).
		Get("/api/v1/funding-rate")
	if err != nil {
		return nil, fmt.Errorf("failed to fetch funding rate: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("failed to fetch funding rate: status %d", resp.StatusCode())
	}

	rate, err := decimal.NewFromString(out.FundingRate)
	if err != nil {
		return nil, fmt.Errorf("invalid funding rate %q: %w", out.FundingRate, err)
	}
	return &domain.FundingRate{
		Symbol:          symbol,
		Rate:            rate,
		NextFundingTime: time.UnixMilli(out.NextFundingTime),
		UpdatedAt:       time.Now(),
	}, nil
}
