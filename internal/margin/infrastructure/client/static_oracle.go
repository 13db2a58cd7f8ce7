package client

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/marginrisk/internal/margin/domain"
)

// StaticOracle 固定价格表的行情实现
// 单机部署与演示环境用，没有外部交易所依赖
type StaticOracle struct {
	prices     map[string]decimal.Decimal
	volatility map[string]float64
}

// NewStaticOracle 创建固定价格行情
func NewStaticOracle(prices map[string]decimal.Decimal) *StaticOracle {
	return &StaticOracle{
		prices:     prices,
		volatility: make(map[string]float64),
	}
}

// SetPrice 更新价格
func (o *StaticOracle) SetPrice(symbol string, price decimal.Decimal) {
	o.prices[symbol] = price
}

// SetVolatility 设置年化波动率
func (o *StaticOracle) SetVolatility(symbol string, vol float64) {
	o.volatility[symbol] = vol
}

// GetMarkPrice 实现 domain.PriceOracle.GetMarkPrice
func (o *StaticOracle) GetMarkPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	price, ok := o.prices[symbol]
	if !ok || price.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, domain.ErrPriceUnavailable
	}
	return price, nil
}

// GetVolatility 实现 domain.PriceOracle.GetVolatility
func (o *StaticOracle) GetVolatility(ctx context.Context, symbol string) (float64, error) {
	if vol, ok := o.volatility[symbol]; ok {
		return vol, nil
	}
	return domain.ClampVolatility(0), nil
}

// GetReturnHistory 实现 domain.PriceOracle.GetReturnHistory
// 固定价格表没有历史，调用方退化为参数法
func (o *StaticOracle) GetReturnHistory(ctx context.Context, symbol string, n int) ([]float64, error) {
	return nil, domain.ErrPriceUnavailable
}
