package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// FundingRate 每个交易对的资金费率
type FundingRate struct {
	Symbol          string          `json:"symbol"`
	Rate            decimal.Decimal `json:"rate"`
	NextFundingTime time.Time       `json:"next_funding_time"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// NeutralFundingRate 外部费率源不可用时的 0% 兜底
// 保证资金费组件永远不会阻塞账户操作
func NeutralFundingRate(symbol string, interval time.Duration) *FundingRate {
	return &FundingRate{
		Symbol:          symbol,
		Rate:            decimal.Zero,
		NextFundingTime: time.Now().Add(interval),
		UpdatedAt:       time.Now(),
	}
}
