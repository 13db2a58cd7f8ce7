package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type PositionSide string

const (
	PositionSideLong  PositionSide = "LONG"
	PositionSideShort PositionSide = "SHORT"
)

type PositionStatus string

const (
	PositionStatusOpen       PositionStatus = "OPEN"
	PositionStatusClosing    PositionStatus = "CLOSING"
	PositionStatusClosed     PositionStatus = "CLOSED"
	PositionStatusLiquidated PositionStatus = "LIQUIDATED"
)

type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

// MarginPosition 杠杆持仓
type MarginPosition struct {
	ID                string          `json:"id"`
	AccountID         string          `json:"account_id"`
	UserID            string          `json:"user_id"`
	TenantID          string          `json:"tenant_id"`
	BrokerID          string          `json:"broker_id"`
	Symbol            string          `json:"symbol"`
	Side              PositionSide    `json:"side"`
	Size              decimal.Decimal `json:"size"`
	EntryPrice        decimal.Decimal `json:"entry_price"`
	CurrentPrice      decimal.Decimal `json:"current_price"`
	Leverage          decimal.Decimal `json:"leverage"`
	InitialMargin     decimal.Decimal `json:"initial_margin"`
	MaintenanceMargin decimal.Decimal `json:"maintenance_margin"`
	MarginUsed        decimal.Decimal `json:"margin_used"`
	LiquidationPrice  decimal.Decimal `json:"liquidation_price"`
	UnrealizedPnL     decimal.Decimal `json:"unrealized_pnl"`
	RealizedPnL       decimal.Decimal `json:"realized_pnl"`
	FundingFee        decimal.Decimal `json:"funding_fee"`
	InterestFee       decimal.Decimal `json:"interest_fee"`
	Status            PositionStatus  `json:"status"`
	MarginRatio       decimal.Decimal `json:"margin_ratio"`
	RiskScore         decimal.Decimal `json:"risk_score"`
	Volatility        decimal.Decimal `json:"volatility"`
	MaxDrawdown       decimal.Decimal `json:"max_drawdown"`
	OpenedAt          time.Time       `json:"opened_at"`
	ClosedAt          *time.Time      `json:"closed_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// NewMarginPosition 按成交价开仓
// requiredMargin = size * markPrice / leverage
// liquidationPrice = long: markPrice - requiredMargin/size; short: markPrice + requiredMargin/size
func NewMarginPosition(accountID, userID, tenantID, brokerID, symbol string, side PositionSide,
	size, markPrice, leverage, maintenanceMarginRatio decimal.Decimal) *MarginPosition {

	positionValue := size.Mul(markPrice)
	requiredMargin := positionValue.Div(leverage)
	marginPerUnit := requiredMargin.Div(size)

	var liquidationPrice decimal.Decimal
	if side == PositionSideLong {
		liquidationPrice = markPrice.Sub(marginPerUnit)
	} else {
		liquidationPrice = markPrice.Add(marginPerUnit)
	}

	now := time.Now()
	return &MarginPosition{
		AccountID:         accountID,
		UserID:            userID,
		TenantID:          tenantID,
		BrokerID:          brokerID,
		Symbol:            symbol,
		Side:              side,
		Size:              size,
		EntryPrice:        markPrice,
		CurrentPrice:      markPrice,
		Leverage:          leverage,
		InitialMargin:     requiredMargin,
		MaintenanceMargin: requiredMargin.Mul(maintenanceMarginRatio),
		MarginUsed:        requiredMargin,
		LiquidationPrice:  liquidationPrice,
		UnrealizedPnL:     decimal.Zero,
		RealizedPnL:       decimal.Zero,
		FundingFee:        decimal.Zero,
		InterestFee:       decimal.Zero,
		Status:            PositionStatusOpen,
		MarginRatio:       decimal.Zero,
		RiskScore:         decimal.Zero,
		Volatility:        decimal.Zero,
		MaxDrawdown:       decimal.Zero,
		OpenedAt:          now,
		UpdatedAt:         now,
	}
}

// IsOpen 终态持仓不可再变更
func (mp *MarginPosition) IsOpen() bool {
	return mp.Status == PositionStatusOpen
}

// PositionValue 按标记价计算的仓位价值
func (mp *MarginPosition) PositionValue() decimal.Decimal {
	return mp.Size.Mul(mp.CurrentPrice)
}

// PnLAt 给定价格下的浮动盈亏
func (mp *MarginPosition) PnLAt(price decimal.Decimal) decimal.Decimal {
	if mp.Side == PositionSideLong {
		return price.Sub(mp.EntryPrice).Mul(mp.Size)
	}
	return mp.EntryPrice.Sub(price).Mul(mp.Size)
}

// UpdateMarkPrice 盯市更新当前价与未实现盈亏
func (mp *MarginPosition) UpdateMarkPrice(price decimal.Decimal) {
	mp.CurrentPrice = price
	mp.UnrealizedPnL = mp.PnLAt(price)
	if mp.MarginUsed.GreaterThan(decimal.Zero) {
		mp.MarginRatio = mp.MarginUsed.Add(mp.UnrealizedPnL).Div(mp.MarginUsed)
	}
	drawdown := mp.UnrealizedPnL.Neg()
	if drawdown.GreaterThan(mp.MaxDrawdown) {
		mp.MaxDrawdown = drawdown
	}
	mp.UpdatedAt = time.Now()
}

// ReducePreview 试算平仓结果，不改变持仓
// 返回 (realizedPnl, marginReturned, 实际平仓数量)；closeSize >= Size 视为全平
// 账务过账要在状态变更之前，过账金额由这里试算
func (mp *MarginPosition) ReducePreview(closeSize, closePrice decimal.Decimal) (decimal.Decimal, decimal.Decimal, decimal.Decimal) {
	if closeSize.GreaterThanOrEqual(mp.Size) {
		closeSize = mp.Size
	}

	var realized decimal.Decimal
	if mp.Side == PositionSideLong {
		realized = closePrice.Sub(mp.EntryPrice).Mul(closeSize)
	} else {
		realized = mp.EntryPrice.Sub(closePrice).Mul(closeSize)
	}
	marginReturned := mp.MarginUsed.Mul(closeSize.Div(mp.Size))
	return realized, marginReturned, closeSize
}

// Reduce 部分或全部平仓
// 返回 (realizedPnl, marginReturned)；closeSize >= Size 视为全平
// 部分平仓时按剩余比例重算占用保证金
func (mp *MarginPosition) Reduce(closeSize, closePrice decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	realized, marginReturned, closeSize := mp.ReducePreview(closeSize, closePrice)
	fraction := closeSize.Div(mp.Size)
	mp.CurrentPrice = closePrice
	mp.RealizedPnL = mp.RealizedPnL.Add(realized)

	if closeSize.Equal(mp.Size) {
		now := time.Now()
		mp.Size = decimal.Zero
		mp.MarginUsed = decimal.Zero
		mp.UnrealizedPnL = decimal.Zero
		mp.Status = PositionStatusClosed
		mp.ClosedAt = &now
		mp.UpdatedAt = now
		return realized, marginReturned
	}

	mp.Size = mp.Size.Sub(closeSize)
	mp.MarginUsed = mp.MarginUsed.Sub(marginReturned)
	mp.InitialMargin = mp.InitialMargin.Sub(mp.InitialMargin.Mul(fraction))
	mp.MaintenanceMargin = mp.MaintenanceMargin.Sub(mp.MaintenanceMargin.Mul(fraction))
	mp.UnrealizedPnL = mp.PnLAt(closePrice)
	mp.UpdatedAt = time.Now()
	return realized, marginReturned
}

// Liquidate 强制平仓：状态转为 LIQUIDATED，按强平价重算未实现盈亏
func (mp *MarginPosition) Liquidate(liquidationPrice decimal.Decimal) {
	now := time.Now()
	mp.CurrentPrice = liquidationPrice
	mp.UnrealizedPnL = mp.PnLAt(liquidationPrice)
	mp.Status = PositionStatusLiquidated
	mp.ClosedAt = &now
	mp.UpdatedAt = now
}
