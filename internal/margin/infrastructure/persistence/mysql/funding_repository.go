package mysql

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wyfcoding/marginrisk/internal/margin/domain"
	"github.com/wyfcoding/pkg/logging"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// FundingRateModel 资金费率数据库模型
type FundingRateModel struct {
	gorm.Model
	Symbol          string    `gorm:"column:symbol;type:varchar(20);uniqueIndex;not null"`
	Rate            string    `gorm:"column:rate;type:decimal(32,18);not null"`
	NextFundingTime time.Time `gorm:"column:next_funding_time;type:datetime;not null"`
}

// TableName 指定表名
func (FundingRateModel) TableName() string {
	return "funding_rates"
}

// fundingRepositoryImpl 是 domain.FundingRateRepository 接口的 GORM 实现。
type fundingRepositoryImpl struct {
	db *gorm.DB
}

// NewFundingRateRepository 创建资金费率仓储实例
func NewFundingRateRepository(db *gorm.DB) domain.FundingRateRepository {
	return &fundingRepositoryImpl{db: db}
}

// Save 实现 domain.FundingRateRepository.Save
func (r *fundingRepositoryImpl) Save(ctx context.Context, rate *domain.FundingRate) error {
	model := &FundingRateModel{
		Symbol:          rate.Symbol,
		Rate:            rate.Rate.String(),
		NextFundingTime: rate.NextFundingTime,
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "symbol"}},
		UpdateAll: true,
	}).Create(model).Error
	if err != nil {
		logging.Error(ctx, "funding_repository.Save failed", "symbol", rate.Symbol, "error", err)
		return fmt.Errorf("failed to save funding rate: %w", err)
	}
	return nil
}

// Find 实现 domain.FundingRateRepository.Find
func (r *fundingRepositoryImpl) Find(ctx context.Context, symbol string) (*domain.FundingRate, error) {
	var model FundingRateModel
	if err := r.db.WithContext(ctx).Where("symbol = ?", symbol).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		logging.Error(ctx, "funding_repository.Find failed", "symbol", symbol, "error", err)
		return nil, fmt.Errorf("failed to find funding rate: %w", err)
	}
	return toFundingDomain(&model), nil
}

// FindAll 实现 domain.FundingRateRepository.FindAll
func (r *fundingRepositoryImpl) FindAll(ctx context.Context) ([]*domain.FundingRate, error) {
	var models []FundingRateModel
	if err := r.db.WithContext(ctx).Find(&models).Error; err != nil {
		logging.Error(ctx, "funding_repository.FindAll failed", "error", err)
		return nil, fmt.Errorf("failed to list funding rates: %w", err)
	}

	rates := make([]*domain.FundingRate, len(models))
	for i := range models {
		rates[i] = toFundingDomain(&models[i])
	}
	return rates, nil
}

func toFundingDomain(m *FundingRateModel) *domain.FundingRate {
	return &domain.FundingRate{
		Symbol:          m.Symbol,
		Rate:            mustDecimal(m.Rate),
		NextFundingTime: m.NextFundingTime,
		UpdatedAt:       m.UpdatedAt,
	}
}
