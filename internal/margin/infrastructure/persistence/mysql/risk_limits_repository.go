package mysql

import (
	"context"
	"errors"
	"fmt"

	"github.com/wyfcoding/marginrisk/internal/margin/domain"
	"github.com/wyfcoding/pkg/logging"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RiskLimitsModel 风险限额数据库模型
type RiskLimitsModel struct {
	gorm.Model
	UserID                 string `gorm:"column:user_id;type:varchar(32);uniqueIndex:idx_limits_key;not null"`
	TenantID               string `gorm:"column:tenant_id;type:varchar(32);uniqueIndex:idx_limits_key;not null"`
	BrokerID               string `gorm:"column:broker_id;type:varchar(32);uniqueIndex:idx_limits_key;not null"`
	MaxLeverage            string `gorm:"column:max_leverage;type:decimal(32,18);not null"`
	MaxPositionSize        string `gorm:"column:max_position_size;type:decimal(32,18);not null"`
	MaxOpenPositions       int    `gorm:"column:max_open_positions;not null"`
	MaxAccountRisk         string `gorm:"column:max_account_risk;type:decimal(32,18);not null"`
	MaxDrawdown            string `gorm:"column:max_drawdown;type:decimal(32,18);not null"`
	MaxVolatility          string `gorm:"column:max_volatility;type:decimal(32,18);not null"`
	MarginCallThreshold    string `gorm:"column:margin_call_threshold;type:decimal(32,18);not null"`
	LiquidationThreshold   string `gorm:"column:liquidation_threshold;type:decimal(32,18);not null"`
	MaintenanceMarginRatio string `gorm:"column:maintenance_margin_ratio;type:decimal(32,18);not null"`
	KYCRequired            bool   `gorm:"column:kyc_required;not null"`
	AMLRequired            bool   `gorm:"column:aml_required;not null"`
	RiskTier               string `gorm:"column:risk_tier;type:varchar(10);not null"`
}

// TableName 指定表名
func (RiskLimitsModel) TableName() string {
	return "risk_limits"
}

// riskLimitsRepositoryImpl 是 domain.RiskLimitsRepository 接口的 GORM 实现。
type riskLimitsRepositoryImpl struct {
	db *gorm.DB
}

// NewRiskLimitsRepository 创建风险限额仓储实例
func NewRiskLimitsRepository(db *gorm.DB) domain.RiskLimitsRepository {
	return &riskLimitsRepositoryImpl{db: db}
}

// Save 实现 domain.RiskLimitsRepository.Save
func (r *riskLimitsRepositoryImpl) Save(ctx context.Context, limits *domain.RiskLimits) error {
	model := &RiskLimitsModel{
		UserID:                 limits.UserID,
		TenantID:               limits.TenantID,
		BrokerID:               limits.BrokerID,
		MaxLeverage:            limits.MaxLeverage.String(),
		MaxPositionSize:        limits.MaxPositionSize.String(),
		MaxOpenPositions:       limits.MaxOpenPositions,
		MaxAccountRisk:         limits.MaxAccountRisk.String(),
		MaxDrawdown:            limits.MaxDrawdown.String(),
		MaxVolatility:          limits.MaxVolatility.String(),
		MarginCallThreshold:    limits.MarginCallThreshold.String(),
		LiquidationThreshold:   limits.LiquidationThreshold.String(),
		MaintenanceMarginRatio: limits.MaintenanceMarginRatio.String(),
		KYCRequired:            limits.KYCRequired,
		AMLRequired:            limits.AMLRequired,
		RiskTier:               string(limits.RiskTier),
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "tenant_id"}, {Name: "broker_id"}},
		UpdateAll: true,
	}).Create(model).Error
	if err != nil {
		logging.Error(ctx, "risk_limits_repository.Save failed", "user_id", limits.UserID, "error", err)
		return fmt.Errorf("failed to save risk limits: %w", err)
	}
	return nil
}

// Find 实现 domain.RiskLimitsRepository.Find
func (r *riskLimitsRepositoryImpl) Find(ctx context.Context, userID, tenantID, brokerID string) (*domain.RiskLimits, error) {
	var model RiskLimitsModel
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND tenant_id = ? AND broker_id = ?", userID, tenantID, brokerID).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		logging.Error(ctx, "risk_limits_repository.Find failed", "user_id", userID, "error", err)
		return nil, fmt.Errorf("failed to find risk limits: %w", err)
	}

	return &domain.RiskLimits{
		UserID:                 model.UserID,
		TenantID:               model.TenantID,
		BrokerID:               model.BrokerID,
		MaxLeverage:            mustDecimal(model.MaxLeverage),
		MaxPositionSize:        mustDecimal(model.MaxPositionSize),
		MaxOpenPositions:       model.MaxOpenPositions,
		MaxAccountRisk:         mustDecimal(model.MaxAccountRisk),
		MaxDrawdown:            mustDecimal(model.MaxDrawdown),
		MaxVolatility:          mustDecimal(model.MaxVolatility),
		MarginCallThreshold:    mustDecimal(model.MarginCallThreshold),
		LiquidationThreshold:   mustDecimal(model.LiquidationThreshold),
		MaintenanceMarginRatio: mustDecimal(model.MaintenanceMarginRatio),
		KYCRequired:            model.KYCRequired,
		AMLRequired:            model.AMLRequired,
		RiskTier:               domain.RiskTier(model.RiskTier),
		CreatedAt:              model.CreatedAt,
		UpdatedAt:              model.UpdatedAt,
	}, nil
}
