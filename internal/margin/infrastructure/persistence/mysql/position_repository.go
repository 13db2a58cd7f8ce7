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

// PositionModel 杠杆持仓数据库模型
type PositionModel struct {
	gorm.Model
	PositionID        string     `gorm:"column:position_id;type:varchar(32);uniqueIndex;not null"`
	AccountID         string     `gorm:"column:account_id;type:varchar(32);index;not null"`
	UserID            string     `gorm:"column:user_id;type:varchar(32);index;not null"`
	TenantID          string     `gorm:"column:tenant_id;type:varchar(32);not null"`
	BrokerID          string     `gorm:"column:broker_id;type:varchar(32);not null"`
	Symbol            string     `gorm:"column:symbol;type:varchar(20);index;not null"`
	Side              string     `gorm:"column:side;type:varchar(10);not null"`
	Size              string     `gorm:"column:size;type:decimal(32,18);not null"`
	EntryPrice        string     `gorm:"column:entry_price;type:decimal(32,18);not null"`
	CurrentPrice      string     `gorm:"column:current_price;type:decimal(32,18);not null"`
	Leverage          string     `gorm:"column:leverage;type:decimal(32,18);not null"`
	InitialMargin     string     `gorm:"column:initial_margin;type:decimal(32,18);not null"`
	MaintenanceMargin string     `gorm:"column:maintenance_margin;type:decimal(32,18);not null"`
	MarginUsed        string     `gorm:"column:margin_used;type:decimal(32,18);not null"`
	LiquidationPrice  string     `gorm:"column:liquidation_price;type:decimal(32,18);not null"`
	UnrealizedPnL     string     `gorm:"column:unrealized_pnl;type:decimal(32,18);not null"`
	RealizedPnL       string     `gorm:"column:realized_pnl;type:decimal(32,18);not null"`
	FundingFee        string     `gorm:"column:funding_fee;type:decimal(32,18);not null"`
	InterestFee       string     `gorm:"column:interest_fee;type:decimal(32,18);not null"`
	Status            string     `gorm:"column:status;type:varchar(20);index;not null"`
	MarginRatio       string     `gorm:"column:margin_ratio;type:decimal(32,18);not null"`
	RiskScore         string     `gorm:"column:risk_score;type:decimal(32,18);not null"`
	Volatility        string     `gorm:"column:volatility;type:decimal(32,18);not null"`
	MaxDrawdown       string     `gorm:"column:max_drawdown;type:decimal(32,18);not null"`
	OpenedAt          time.Time  `gorm:"column:opened_at;type:datetime;not null"`
	ClosedAt          *time.Time `gorm:"column:closed_at;type:datetime"`
}

// TableName 指定表名
func (PositionModel) TableName() string {
	return "margin_positions"
}

// positionRepositoryImpl 是 domain.MarginPositionRepository 接口的 GORM 实现。
type positionRepositoryImpl struct {
	db *gorm.DB
}

// NewPositionRepository 创建持仓仓储实例
func NewPositionRepository(db *gorm.DB) domain.MarginPositionRepository {
	return &positionRepositoryImpl{db: db}
}

// Create 实现 domain.MarginPositionRepository.Create
func (r *positionRepositoryImpl) Create(ctx context.Context, position *domain.MarginPosition) error {
	if err := r.db.WithContext(ctx).Create(fromPositionDomain(position)).Error; err != nil {
		logging.Error(ctx, "position_repository.Create failed", "position_id", position.ID, "error", err)
		return fmt.Errorf("failed to create margin position: %w", err)
	}
	return nil
}

// Update 实现 domain.MarginPositionRepository.Update
func (r *positionRepositoryImpl) Update(ctx context.Context, position *domain.MarginPosition) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "position_id"}},
		UpdateAll: true,
	}).Create(fromPositionDomain(position)).Error
	if err != nil {
		logging.Error(ctx, "position_repository.Update failed", "position_id", position.ID, "error", err)
		return fmt.Errorf("failed to update margin position: %w", err)
	}
	return nil
}

// FindByID 实现 domain.MarginPositionRepository.FindByID
func (r *positionRepositoryImpl) FindByID(ctx context.Context, id string) (*domain.MarginPosition, error) {
	var model PositionModel
	if err := r.db.WithContext(ctx).Where("position_id = ?", id).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		logging.Error(ctx, "position_repository.FindByID failed", "position_id", id, "error", err)
		return nil, fmt.Errorf("failed to find margin position: %w", err)
	}
	return toPositionDomain(&model), nil
}

// FindOpenByAccount 实现 domain.MarginPositionRepository.FindOpenByAccount
func (r *positionRepositoryImpl) FindOpenByAccount(ctx context.Context, accountID string) ([]*domain.MarginPosition, error) {
	var models []PositionModel
	err := r.db.WithContext(ctx).
		Where("account_id = ? AND status = ?", accountID, string(domain.PositionStatusOpen)).
		Find(&models).Error
	if err != nil {
		logging.Error(ctx, "position_repository.FindOpenByAccount failed", "account_id", accountID, "error", err)
		return nil, fmt.Errorf("failed to find open positions by account: %w", err)
	}
	return toPositionDomains(models), nil
}

// FindByUser 实现 domain.MarginPositionRepository.FindByUser
func (r *positionRepositoryImpl) FindByUser(ctx context.Context, userID, tenantID, brokerID string) ([]*domain.MarginPosition, error) {
	var models []PositionModel
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND tenant_id = ? AND broker_id = ?", userID, tenantID, brokerID).
		Order("opened_at desc").
		Find(&models).Error
	if err != nil {
		logging.Error(ctx, "position_repository.FindByUser failed", "user_id", userID, "error", err)
		return nil, fmt.Errorf("failed to find positions by user: %w", err)
	}
	return toPositionDomains(models), nil
}

// FindAllOpen 实现 domain.MarginPositionRepository.FindAllOpen
func (r *positionRepositoryImpl) FindAllOpen(ctx context.Context) ([]*domain.MarginPosition, error) {
	var models []PositionModel
	err := r.db.WithContext(ctx).
		Where("status = ?", string(domain.PositionStatusOpen)).
		Find(&models).Error
	if err != nil {
		logging.Error(ctx, "position_repository.FindAllOpen failed", "error", err)
		return nil, fmt.Errorf("failed to list open positions: %w", err)
	}
	return toPositionDomains(models), nil
}

func fromPositionDomain(p *domain.MarginPosition) *PositionModel {
	return &PositionModel{
		PositionID:        p.ID,
		AccountID:         p.AccountID,
		UserID:            p.UserID,
		TenantID:          p.TenantID,
		BrokerID:          p.BrokerID,
		Symbol:            p.Symbol,
		Side:              string(p.Side),
		Size:              p.Size.String(),
		EntryPrice:        p.EntryPrice.String(),
		CurrentPrice:      p.CurrentPrice.String(),
		Leverage:          p.Leverage.String(),
		InitialMargin:     p.InitialMargin.String(),
		MaintenanceMargin: p.MaintenanceMargin.String(),
		MarginUsed:        p.MarginUsed.String(),
		LiquidationPrice:  p.LiquidationPrice.String(),
		UnrealizedPnL:     p.UnrealizedPnL.String(),
		RealizedPnL:       p.RealizedPnL.String(),
		FundingFee:        p.FundingFee.String(),
		InterestFee:       p.InterestFee.String(),
		Status:            string(p.Status),
		MarginRatio:       p.MarginRatio.String(),
		RiskScore:         p.RiskScore.String(),
		Volatility:        p.Volatility.String(),
		MaxDrawdown:       p.MaxDrawdown.String(),
		OpenedAt:          p.OpenedAt,
		ClosedAt:          p.ClosedAt,
	}
}

func toPositionDomain(m *PositionModel) *domain.MarginPosition {
	return &domain.MarginPosition{
		ID:                m.PositionID,
		AccountID:         m.AccountID,
		UserID:            m.UserID,
		TenantID:          m.TenantID,
		BrokerID:          m.BrokerID,
		Symbol:            m.Symbol,
		Side:              domain.PositionSide(m.Side),
		Size:              mustDecimal(m.Size),
		EntryPrice:        mustDecimal(m.EntryPrice),
		CurrentPrice:      mustDecimal(m.CurrentPrice),
		Leverage:          mustDecimal(m.Leverage),
		InitialMargin:     mustDecimal(m.InitialMargin),
		MaintenanceMargin: mustDecimal(m.MaintenanceMargin),
		MarginUsed:        mustDecimal(m.MarginUsed),
		LiquidationPrice:  mustDecimal(m.LiquidationPrice),
		UnrealizedPnL:     mustDecimal(m.UnrealizedPnL),
		RealizedPnL:       mustDecimal(m.RealizedPnL),
		FundingFee:        mustDecimal(m.FundingFee),
		InterestFee:       mustDecimal(m.InterestFee),
		Status:            domain.PositionStatus(m.Status),
		MarginRatio:       mustDecimal(m.MarginRatio),
		RiskScore:         mustDecimal(m.RiskScore),
		Volatility:        mustDecimal(m.Volatility),
		MaxDrawdown:       mustDecimal(m.MaxDrawdown),
		OpenedAt:          m.OpenedAt,
		ClosedAt:          m.ClosedAt,
		UpdatedAt:         m.UpdatedAt,
	}
}

func toPositionDomains(models []PositionModel) []*domain.MarginPosition {
	positions := make([]*domain.MarginPosition, len(models))
	for i := range models {
		positions[i] = toPositionDomain(&models[i])
	}
	return positions
}
