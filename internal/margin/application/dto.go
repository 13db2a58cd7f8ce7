// 包 保证金风险核心的用例层：账户、持仓、风控校验与后台风控循环
package application

import "github.com/wyfcoding/marginrisk/internal/margin/domain"

// CreateAccountRequest 创建保证金账户请求
type CreateAccountRequest struct {
	UserID         string `json:"user_id" binding:"required"`
	TenantID       string `json:"tenant_id" binding:"required"`
	BrokerID       string `json:"broker_id" binding:"required"`
	AccountType    string `json:"account_type" binding:"required"`
	Symbol         string `json:"symbol"`
	Asset          string `json:"asset"`
	InitialDeposit string `json:"initial_deposit"`
}

// BalanceRequest 出入金请求
type BalanceRequest struct {
	UserID      string `json:"user_id" binding:"required"`
	TenantID    string `json:"tenant_id" binding:"required"`
	BrokerID    string `json:"broker_id" binding:"required"`
	AccountID   string `json:"account_id" binding:"required"`
	Asset       string `json:"asset" binding:"required"`
	Amount      string `json:"amount" binding:"required"`
}

// OpenPositionRequest 开仓请求
type OpenPositionRequest struct {
	UserID    string `json:"user_id" binding:"required"`
	TenantID  string `json:"tenant_id" binding:"required"`
	BrokerID  string `json:"broker_id" binding:"required"`
	AccountID string `json:"account_id" binding:"required"`
	Symbol    string `json:"symbol" binding:"required"`
	Side      string `json:"side" binding:"required"`
	Size      string `json:"size" binding:"required"`
	Leverage  string `json:"leverage" binding:"required"`
	OrderType string `json:"order_type"`
	Price     string `json:"price"`
}

// ClosePositionRequest 平仓请求，CloseSize 为空表示全平
type ClosePositionRequest struct {
	UserID     string `json:"user_id" binding:"required"`
	TenantID   string `json:"tenant_id" binding:"required"`
	BrokerID   string `json:"broker_id" binding:"required"`
	PositionID string `json:"position_id" binding:"required"`
	CloseSize  string `json:"close_size"`
}

// ClosePositionResult 平仓结果
type ClosePositionResult struct {
	Position      *domain.MarginPosition `json:"position"`
	RealizedPnL   string                 `json:"realized_pnl"`
	TransactionID string                 `json:"transaction_id"`
}

// RiskValidationResult 风控校验结果，错误逐项列出
type RiskValidationResult struct {
	IsValid   bool     `json:"is_valid"`
	Errors    []string `json:"errors"`
	RiskScore string   `json:"risk_score"`
}

// FundSegregationView 单账户三层资金隔离视图
type FundSegregationView struct {
	AccountID string                 `json:"account_id"`
	UserID    string                 `json:"user_id"`
	BrokerID  string                 `json:"broker_id"`
	User      domain.SegregationTier `json:"user"`
	Broker    domain.SegregationTier `json:"broker"`
	Platform  domain.SegregationTier `json:"platform"`
}

// RiskScoreUpdateResult 用户风险评分更新后的层级聚合结果
type RiskScoreUpdateResult struct {
	UserScore     string `json:"user_score"`
	BrokerScore   string `json:"broker_score"`
	PlatformScore string `json:"platform_score"`
}
