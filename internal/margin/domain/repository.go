package domain

import "context"

// MarginAccountRepository 账户仓储
type MarginAccountRepository interface {
	Create(ctx context.Context, account *MarginAccount) error
	Update(ctx context.Context, account *MarginAccount) error
	FindByID(ctx context.Context, id string) (*MarginAccount, error)
	FindByKey(ctx context.Context, userID, tenantID, brokerID string, accountType AccountType, symbol string) (*MarginAccount, error)
	FindByUser(ctx context.Context, userID, tenantID, brokerID string) ([]*MarginAccount, error)
	FindByBroker(ctx context.Context, tenantID, brokerID string) ([]*MarginAccount, error)
	FindByStatus(ctx context.Context, status AccountStatus) ([]*MarginAccount, error)
	FindAll(ctx context.Context) ([]*MarginAccount, error)
}

// MarginPositionRepository 持仓仓储
type MarginPositionRepository interface {
	Create(ctx context.Context, position *MarginPosition) error
	Update(ctx context.Context, position *MarginPosition) error
	FindByID(ctx context.Context, id string) (*MarginPosition, error)
	FindOpenByAccount(ctx context.Context, accountID string) ([]*MarginPosition, error)
	FindByUser(ctx context.Context, userID, tenantID, brokerID string) ([]*MarginPosition, error)
	FindAllOpen(ctx context.Context) ([]*MarginPosition, error)
}

// RiskLimitsRepository 风险限额仓储
type RiskLimitsRepository interface {
	Save(ctx context.Context, limits *RiskLimits) error
	Find(ctx context.Context, userID, tenantID, brokerID string) (*RiskLimits, error)
}

// LiquidationEventRepository 强平记录仓储
type LiquidationEventRepository interface {
	Create(ctx context.Context, event *LiquidationEvent) error
	Update(ctx context.Context, event *LiquidationEvent) error
	FindByAccount(ctx context.Context, accountID string) ([]*LiquidationEvent, error)
}

// FundingRateRepository 资金费率仓储
type FundingRateRepository interface {
	Save(ctx context.Context, rate *FundingRate) error
	Find(ctx context.Context, symbol string) (*FundingRate, error)
	FindAll(ctx context.Context) ([]*FundingRate, error)
}
