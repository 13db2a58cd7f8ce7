package mysql

import (
	"context"
	"fmt"
	"time"

	"github.com/wyfcoding/marginrisk/internal/margin/domain"
	"github.com/wyfcoding/pkg/logging"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// LiquidationEventModel 强平记录数据库模型
type LiquidationEventModel struct {
	gorm.Model
	EventID          string     `gorm:"column:event_id;type:varchar(32);uniqueIndex;not null"`
	PositionID       string     `gorm:"column:position_id;type:varchar(32);index;not null"`
	AccountID        string     `gorm:"column:account_id;type:varchar(32);index;not null"`
	LiquidationPrice string     `gorm:"column:liquidation_price;type:decimal(32,18);not null"`
	LiquidationSize  string     `gorm:"column:liquidation_size;type:decimal(32,18);not null"`
	LiquidationValue string     `gorm:"column:liquidation_value;type:decimal(32,18);not null"`
	PenaltyFee       string     `gorm:"column:penalty_fee;type:decimal(32,18);not null"`
	RemainingMargin  string     `gorm:"column:remaining_margin;type:decimal(32,18);not null"`
	Reason           string     `gorm:"column:reason;type:varchar(30);not null"`
	Status           string     `gorm:"column:status;type:varchar(20);index;not null"`
	TriggeredAt      time.Time  `gorm:"column:triggered_at;type:datetime;not null"`
	ExecutedAt       *time.Time `gorm:"column:executed_at;type:datetime"`
}

// TableName 指定表名
func (LiquidationEventModel) TableName() string {
	return "liquidation_events"
}

// liquidationRepositoryImpl 是 domain.LiquidationEventRepository 接口的 GORM 实现。
type liquidationRepositoryImpl struct {
	db *gorm.DB
}

// NewLiquidationEventRepository 创建强平记录仓储实例
func NewLiquidationEventRepository(db *gorm.DB) domain.LiquidationEventRepository {
	return &liquidationRepositoryImpl{db: db}
}

// Create 实现 domain.LiquidationEventRepository.Create
func (r *liquidationRepositoryImpl) Create(ctx context.Context, event *domain.LiquidationEvent) error {
	if err := r.db.WithContext(ctx).Create(fromLiquidationDomain(event)).Error; err != nil {
		logging.Error(ctx, "liquidation_repository.Create failed", "event_id", event.ID, "error", err)
		return fmt.Errorf("failed to create liquidation event: %w", err)
	}
	return nil
}

// Update 实现 domain.LiquidationEventRepository.Update
func (r *liquidationRepositoryImpl) Update(ctx context.Context, event *domain.LiquidationEvent) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "event_id"}},
		UpdateAll: true,
	}).Create(fromLiquidationDomain(event)).Error
	if err != nil {
		logging.Error(ctx, "liquidation_repository.Update failed", "event_id", event.ID, "error", err)
		return fmt.Errorf("failed to update liquidation event: %w", err)
	}
	return nil
}

// FindByAccount 实现 domain.LiquidationEventRepository.FindByAccount
func (r *liquidationRepositoryImpl) FindByAccount(ctx context.Context, accountID string) ([]*domain.LiquidationEvent, error) {
	var models []LiquidationEventModel
	err := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("triggered_at desc").
		Find(&models).Error
	if err != nil {
		logging.Error(ctx, "liquidation_repository.FindByAccount failed", "account_id", accountID, "error", err)
		return nil, fmt.Errorf("failed to find liquidation events: %w", err)
	}

	events := make([]*domain.LiquidationEvent, len(models))
	for i := range models {
		events[i] = toLiquidationDomain(&models[i])
	}
	return events, nil
}

func fromLiquidationDomain(e *domain.LiquidationEvent) *LiquidationEventModel {
	return &LiquidationEventModel{
		EventID:          e.ID,
		PositionID:       e.PositionID,
		AccountID:        e.AccountID,
		LiquidationPrice: e.LiquidationPrice.String(),
		LiquidationSize:  e.LiquidationSize.String(),
		LiquidationValue: e.LiquidationValue.String(),
		PenaltyFee:       e.PenaltyFee.String(),
		RemainingMargin:  e.RemainingMargin.String(),
		Reason:           string(e.Reason),
		Status:           string(e.Status),
		TriggeredAt:      e.TriggeredAt,
		ExecutedAt:       e.ExecutedAt,
	}
}

func toLiquidationDomain(m *LiquidationEventModel) *domain.LiquidationEvent {
	return &domain.LiquidationEvent{
		ID:               m.EventID,
		PositionID:       m.PositionID,
		AccountID:        m.AccountID,
		LiquidationPrice: mustDecimal(m.LiquidationPrice),
		LiquidationSize:  mustDecimal(m.LiquidationSize),
		LiquidationValue: mustDecimal(m.LiquidationValue),
		PenaltyFee:       mustDecimal(m.PenaltyFee),
		RemainingMargin:  mustDecimal(m.RemainingMargin),
		Reason:           domain.LiquidationReason(m.Reason),
		Status:           domain.LiquidationEventStatus(m.Status),
		TriggeredAt:      m.TriggeredAt,
		ExecutedAt:       m.ExecutedAt,
	}
}
