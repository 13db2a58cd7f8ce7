package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// PriceOracle 行情能力：标记价、年化波动率与历史收益率
type PriceOracle interface {
	GetMarkPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
	GetVolatility(ctx context.Context, symbol string) (float64, error)
	// GetReturnHistory 返回最近 n 期对数收益率，用于历史法 VaR
	GetReturnHistory(ctx context.Context, symbol string, n int) ([]float64, error)
}

// LedgerLeg 复式记账分录的一条腿
type LedgerLeg struct {
	Account string          `json:"account"`
	Debit   decimal.Decimal `json:"debit"`
	Credit  decimal.Decimal `json:"credit"`
}

// Ledger 外部账务能力，资金变动的最终记录系统
// 内存中的账户/持仓状态只是它的派生缓存
type Ledger interface {
	RecordTransaction(ctx context.Context, description string, legs []LedgerLeg, brokerID, asset, txnType string, metadata map[string]string) (string, error)
}

type EventSeverity string

const (
	SeverityInfo     EventSeverity = "INFO"
	SeverityWarning  EventSeverity = "WARNING"
	SeverityCritical EventSeverity = "CRITICAL"
)

const (
	EventAccountCreated      = "margin.account.created"
	EventPositionOpened      = "margin.position.opened"
	EventPositionClosed      = "margin.position.closed"
	EventMarginCall          = "margin.call.triggered"
	EventLiquidationExecuted = "margin.liquidation.executed"
)

// EventSink 事件通知能力
type EventSink interface {
	Emit(ctx context.Context, eventType, source string, severity EventSeverity, payload any) error
}

// FundingRateSource 外部资金费率源（交易所 API）
// 拉取失败时调用方用 0% 中性费率兜底，绝不阻塞账户操作
type FundingRateSource interface {
	FetchFundingRate(ctx context.Context, symbol string) (*FundingRate, error)
}

// ExecutionVenue 外部执行场所，市价开仓时路由
type ExecutionVenue interface {
	SubmitOrder(ctx context.Context, symbol string, side PositionSide, size, price decimal.Decimal) (string, error)
}

// RiskModelRequest 外部量化风险模型的输入
type RiskModelRequest struct {
	UserID        string
	Symbol        string
	Side          PositionSide
	Size          decimal.Decimal
	Price         decimal.Decimal
	Leverage      decimal.Decimal
	PositionValue decimal.Decimal
}

// RiskModel 外部量化风险模型，不可用时调用方降级放行
type RiskModel interface {
	Score(ctx context.Context, req RiskModelRequest) (float64, error)
}
