// Package mysql 提供保证金仓储接口的 MySQL GORM 实现。
package mysql

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/marginrisk/internal/margin/domain"
	"github.com/wyfcoding/pkg/logging"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AccountModel 保证金账户数据库模型
// 三个资金隔离层级以 JSON 列整体存取
type AccountModel struct {
	gorm.Model
	AccountID              string    `gorm:"column:account_id;type:varchar(32);uniqueIndex;not null"`
	UserID                 string    `gorm:"column:user_id;type:varchar(32);index;uniqueIndex:idx_account_key;not null"`
	TenantID               string    `gorm:"column:tenant_id;type:varchar(32);uniqueIndex:idx_account_key;not null"`
	BrokerID               string    `gorm:"column:broker_id;type:varchar(32);index;uniqueIndex:idx_account_key;not null"`
	AccountType            string    `gorm:"column:account_type;type:varchar(10);uniqueIndex:idx_account_key;not null"`
	Symbol                 string    `gorm:"column:symbol;type:varchar(20);uniqueIndex:idx_account_key"`
	Status                 string    `gorm:"column:status;type:varchar(20);index;not null"`
	TotalEquity            string    `gorm:"column:total_equity;type:decimal(32,18);not null"`
	AvailableBalance       string    `gorm:"column:available_balance;type:decimal(32,18);not null"`
	UsedMargin             string    `gorm:"column:used_margin;type:decimal(32,18);not null"`
	FreeMargin             string    `gorm:"column:free_margin;type:decimal(32,18);not null"`
	MarginLevel            string    `gorm:"column:margin_level;type:decimal(32,18);not null"`
	MarginRatio            string    `gorm:"column:margin_ratio;type:decimal(32,18);not null"`
	UnrealizedPnL          string    `gorm:"column:unrealized_pnl;type:decimal(32,18);not null"`
	MaxLeverage            string    `gorm:"column:max_leverage;type:decimal(32,18);not null"`
	MaintenanceMarginRatio string    `gorm:"column:maintenance_margin_ratio;type:decimal(32,18);not null"`
	LiquidationThreshold   string    `gorm:"column:liquidation_threshold;type:decimal(32,18);not null"`
	MarginCallThreshold    string    `gorm:"column:margin_call_threshold;type:decimal(32,18);not null"`
	UserTier               string    `gorm:"column:user_tier;type:json"`
	BrokerTier             string    `gorm:"column:broker_tier;type:json"`
	PlatformTier           string    `gorm:"column:platform_tier;type:json"`
	OpenedAt               time.Time `gorm:"column:opened_at;type:datetime;not null"`
}

// TableName 指定表名
func (AccountModel) TableName() string {
	return "margin_accounts"
}

// accountRepositoryImpl 是 domain.MarginAccountRepository 接口的 GORM 实现。
type accountRepositoryImpl struct {
	db *gorm.DB
}

// NewAccountRepository 创建保证金账户仓储实例
func NewAccountRepository(db *gorm.DB) domain.MarginAccountRepository {
	return &accountRepositoryImpl{db: db}
}

// Create 实现 domain.MarginAccountRepository.Create
func (r *accountRepositoryImpl) Create(ctx context.Context, account *domain.MarginAccount) error {
	model, err := fromAccountDomain(account)
	if err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return domain.ErrAccountExists
		}
		logging.Error(ctx, "account_repository.Create failed", "account_id", account.ID, "error", err)
		return fmt.Errorf("failed to create margin account: %w", err)
	}
	return nil
}

// Update 实现 domain.MarginAccountRepository.Update
func (r *accountRepositoryImpl) Update(ctx context.Context, account *domain.MarginAccount) error {
	model, err := fromAccountDomain(account)
	if err != nil {
		return err
	}
	err = r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "account_id"}},
		UpdateAll: true,
	}).Create(model).Error
	if err != nil {
		logging.Error(ctx, "account_repository.Update failed", "account_id", account.ID, "error", err)
		return fmt.Errorf("failed to update margin account: %w", err)
	}
	return nil
}

// FindByID 实现 domain.MarginAccountRepository.FindByID
func (r *accountRepositoryImpl) FindByID(ctx context.Context, id string) (*domain.MarginAccount, error) {
	var model AccountModel
	if err := r.db.WithContext(ctx).Where("account_id = ?", id).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		logging.Error(ctx, "account_repository.FindByID failed", "account_id", id, "error", err)
		return nil, fmt.Errorf("failed to find margin account: %w", err)
	}
	return toAccountDomain(&model)
}

// FindByKey 实现 domain.MarginAccountRepository.FindByKey
func (r *accountRepositoryImpl) FindByKey(ctx context.Context, userID, tenantID, brokerID string, accountType domain.AccountType, symbol string) (*domain.MarginAccount, error) {
	var model AccountModel
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND tenant_id = ? AND broker_id = ? AND account_type = ? AND symbol = ?",
			userID, tenantID, brokerID, string(accountType), symbol).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		logging.Error(ctx, "account_repository.FindByKey failed", "user_id", userID, "error", err)
		return nil, fmt.Errorf("failed to find margin account by key: %w", err)
	}
	return toAccountDomain(&model)
}

// FindByUser 实现 domain.MarginAccountRepository.FindByUser
func (r *accountRepositoryImpl) FindByUser(ctx context.Context, userID, tenantID, brokerID string) ([]*domain.MarginAccount, error) {
	var models []AccountModel
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND tenant_id = ? AND broker_id = ?", userID, tenantID, brokerID).
		Find(&models).Error
	if err != nil {
		logging.Error(ctx, "account_repository.FindByUser failed", "user_id", userID, "error", err)
		return nil, fmt.Errorf("failed to find margin accounts by user: %w", err)
	}
	return toAccountDomains(models)
}

// FindByBroker 实现 domain.MarginAccountRepository.FindByBroker
func (r *accountRepositoryImpl) FindByBroker(ctx context.Context, tenantID, brokerID string) ([]*domain.MarginAccount, error) {
	var models []AccountModel
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND broker_id = ?", tenantID, brokerID).
		Find(&models).Error
	if err != nil {
		logging.Error(ctx, "account_repository.FindByBroker failed", "broker_id", brokerID, "error", err)
		return nil, fmt.Errorf("failed to find margin accounts by broker: %w", err)
	}
	return toAccountDomains(models)
}

// FindByStatus 实现 domain.MarginAccountRepository.FindByStatus
func (r *accountRepositoryImpl) FindByStatus(ctx context.Context, status domain.AccountStatus) ([]*domain.MarginAccount, error) {
	var models []AccountModel
	err := r.db.WithContext(ctx).Where("status = ?", string(status)).Find(&models).Error
	if err != nil {
		logging.Error(ctx, "account_repository.FindByStatus failed", "status", string(status), "error", err)
		return nil, fmt.Errorf("failed to find margin accounts by status: %w", err)
	}
	return toAccountDomains(models)
}

// FindAll 实现 domain.MarginAccountRepository.FindAll
func (r *accountRepositoryImpl) FindAll(ctx context.Context) ([]*domain.MarginAccount, error) {
	var models []AccountModel
	if err := r.db.WithContext(ctx).Find(&models).Error; err != nil {
		logging.Error(ctx, "account_repository.FindAll failed", "error", err)
		return nil, fmt.Errorf("failed to list margin accounts: %w", err)
	}
	return toAccountDomains(models)
}

func fromAccountDomain(a *domain.MarginAccount) (*AccountModel, error) {
	userTier, err := json.Marshal(a.UserTier)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal user tier: %w", err)
	}
	brokerTier, err := json.Marshal(a.BrokerTier)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal broker tier: %w", err)
	}
	platformTier, err := json.Marshal(a.PlatformTier)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal platform tier: %w", err)
	}

	return &AccountModel{
		AccountID:              a.ID,
		UserID:                 a.UserID,
		TenantID:               a.TenantID,
		BrokerID:               a.BrokerID,
		AccountType:            string(a.AccountType),
		Symbol:                 a.Symbol,
		Status:                 string(a.Status),
		TotalEquity:            a.TotalEquity.String(),
		AvailableBalance:       a.AvailableBalance.String(),
		UsedMargin:             a.UsedMargin.String(),
		FreeMargin:             a.FreeMargin.String(),
		MarginLevel:            a.MarginLevel.String(),
		MarginRatio:            a.MarginRatio.String(),
		UnrealizedPnL:          a.UnrealizedPnL.String(),
		MaxLeverage:            a.MaxLeverage.String(),
		MaintenanceMarginRatio: a.MaintenanceMarginRatio.String(),
		LiquidationThreshold:   a.LiquidationThreshold.String(),
		MarginCallThreshold:    a.MarginCallThreshold.String(),
		UserTier:               string(userTier),
		BrokerTier:             string(brokerTier),
		PlatformTier:           string(platformTier),
		OpenedAt:               a.CreatedAt,
	}, nil
}

func toAccountDomain(m *AccountModel) (*domain.MarginAccount, error) {
	account := &domain.MarginAccount{
		ID:                     m.AccountID,
		UserID:                 m.UserID,
		TenantID:               m.TenantID,
		BrokerID:               m.BrokerID,
		AccountType:            domain.AccountType(m.AccountType),
		Symbol:                 m.Symbol,
		Status:                 domain.AccountStatus(m.Status),
		TotalEquity:            mustDecimal(m.TotalEquity),
		AvailableBalance:       mustDecimal(m.AvailableBalance),
		UsedMargin:             mustDecimal(m.UsedMargin),
		FreeMargin:             mustDecimal(m.FreeMargin),
		MarginLevel:            mustDecimal(m.MarginLevel),
		MarginRatio:            mustDecimal(m.MarginRatio),
		UnrealizedPnL:          mustDecimal(m.UnrealizedPnL),
		MaxLeverage:            mustDecimal(m.MaxLeverage),
		MaintenanceMarginRatio: mustDecimal(m.MaintenanceMarginRatio),
		LiquidationThreshold:   mustDecimal(m.LiquidationThreshold),
		MarginCallThreshold:    mustDecimal(m.MarginCallThreshold),
		CreatedAt:              m.OpenedAt,
		UpdatedAt:              m.UpdatedAt,
	}

	if err := json.Unmarshal([]byte(m.UserTier), &account.UserTier); err != nil {
		return nil, fmt.Errorf("failed to unmarshal user tier: %w", err)
	}
	if err := json.Unmarshal([]byte(m.BrokerTier), &account.BrokerTier); err != nil {
		return nil, fmt.Errorf("failed to unmarshal broker tier: %w", err)
	}
	if err := json.Unmarshal([]byte(m.PlatformTier), &account.PlatformTier); err != nil {
		return nil, fmt.Errorf("failed to unmarshal platform tier: %w", err)
	}
	return account, nil
}

func toAccountDomains(models []AccountModel) ([]*domain.MarginAccount, error) {
	accounts := make([]*domain.MarginAccount, 0, len(models))
	for i := range models {
		account, err := toAccountDomain(&models[i])
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, account)
	}
	return accounts, nil
}

func mustDecimal(s string) decimal.Decimal {
	d, _ := decimal.NewFromString(s)
	return d
}
