package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type RiskTier string

const (
	RiskTierLow    RiskTier = "LOW"
	RiskTierMedium RiskTier = "MEDIUM"
	RiskTierHigh   RiskTier = "HIGH"
)

// RiskLimits 每个 (userID, tenantID, brokerID) 的风险限额
// 首次创建账户时以档位默认值懒加载
type RiskLimits struct {
	UserID                 string          `json:"user_id"`
	TenantID               string          `json:"tenant_id"`
	BrokerID               string          `json:"broker_id"`
	MaxLeverage            decimal.Decimal `json:"max_leverage"`
	MaxPositionSize        decimal.Decimal `json:"max_position_size"`
	MaxOpenPositions       int             `json:"max_open_positions"`
	MaxAccountRisk         decimal.Decimal `json:"max_account_risk"`
	MaxDrawdown            decimal.Decimal `json:"max_drawdown"`
	MaxVolatility          decimal.Decimal `json:"max_volatility"`
	MarginCallThreshold    decimal.Decimal `json:"margin_call_threshold"`
	LiquidationThreshold   decimal.Decimal `json:"liquidation_threshold"`
	MaintenanceMarginRatio decimal.Decimal `json:"maintenance_margin_ratio"`
	KYCRequired            bool            `json:"kyc_required"`
	AMLRequired            bool            `json:"aml_required"`
	RiskTier               RiskTier        `json:"risk_tier"`
	CreatedAt              time.Time       `json:"created_at"`
	UpdatedAt              time.Time       `json:"updated_at"`
}

// DefaultRiskLimits 中等档位默认限额
func DefaultRiskLimits(userID, tenantID, brokerID string) *RiskLimits {
	now := time.Now()
	return &RiskLimits{
		UserID:                 userID,
		TenantID:               tenantID,
		BrokerID:               brokerID,
		MaxLeverage:            decimal.NewFromInt(10),
		MaxPositionSize:        decimal.NewFromInt(1000000),
		MaxOpenPositions:       50,
		MaxAccountRisk:         decimal.NewFromInt(80),
		MaxDrawdown:            decimal.NewFromFloat(0.5),
		MaxVolatility:          decimal.NewFromInt(2),
		MarginCallThreshold:    decimal.NewFromFloat(0.15),
		LiquidationThreshold:   decimal.NewFromFloat(0.05),
		MaintenanceMarginRatio: decimal.NewFromFloat(0.10),
		KYCRequired:            true,
		AMLRequired:            true,
		RiskTier:               RiskTierMedium,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
}
