package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type LiquidationReason string

const (
	LiquidationReasonMarginCall LiquidationReason = "MARGIN_CALL"
	LiquidationReasonForced     LiquidationReason = "FORCED_LIQUIDATION"
	LiquidationReasonRiskLimit  LiquidationReason = "RISK_LIMIT_EXCEEDED"
	LiquidationReasonManual     LiquidationReason = "MANUAL"
)

type LiquidationEventStatus string

const (
	LiquidationEventPending  LiquidationEventStatus = "PENDING"
	LiquidationEventExecuted LiquidationEventStatus = "EXECUTED"
	LiquidationEventFailed   LiquidationEventStatus = "FAILED"
)

// LiquidationEvent 强平记录，executed/failed 后不可变
type LiquidationEvent struct {
	ID               string                 `json:"id"`
	PositionID       string                 `json:"position_id"`
	AccountID        string                 `json:"account_id"`
	LiquidationPrice decimal.Decimal        `json:"liquidation_price"`
	LiquidationSize  decimal.Decimal        `json:"liquidation_size"`
	LiquidationValue decimal.Decimal        `json:"liquidation_value"`
	PenaltyFee       decimal.Decimal        `json:"penalty_fee"`
	RemainingMargin  decimal.Decimal        `json:"remaining_margin"`
	Reason           LiquidationReason      `json:"reason"`
	Status           LiquidationEventStatus `json:"status"`
	TriggeredAt      time.Time              `json:"triggered_at"`
	ExecutedAt       *time.Time             `json:"executed_at"`
}

// NewLiquidationEvent 创建强平记录
// penaltyFee = liquidationValue * penaltyFeeRate
// remainingMargin = marginUsed - penaltyFee
func NewLiquidationEvent(positionID, accountID string, price, size, marginUsed, penaltyFeeRate decimal.Decimal, reason LiquidationReason) *LiquidationEvent {
	value := size.Mul(price)
	penalty := value.Mul(penaltyFeeRate)
	return &LiquidationEvent{
		PositionID:       positionID,
		AccountID:        accountID,
		LiquidationPrice: price,
		LiquidationSize:  size,
		LiquidationValue: value,
		PenaltyFee:       penalty,
		RemainingMargin:  marginUsed.Sub(penalty),
		Reason:           reason,
		Status:           LiquidationEventPending,
		TriggeredAt:      time.Now(),
	}
}

// MarkExecuted 执行完成
func (le *LiquidationEvent) MarkExecuted() {
	now := time.Now()
	le.Status = LiquidationEventExecuted
	le.ExecutedAt = &now
}

// MarkFailed 执行失败，待下一轮扫描重试
func (le *LiquidationEvent) MarkFailed() {
	now := time.Now()
	le.Status = LiquidationEventFailed
	le.ExecutedAt = &now
}
