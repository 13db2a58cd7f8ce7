package application

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/marginrisk/internal/margin/domain"
	"github.com/wyfcoding/pkg/logging"
)

// RiskMonitor 风险监控循环
// 周期性盯市所有账户的未平仓头寸并重算保证金水平
// 进入追保状态时发出告警事件；进入强平状态的账户交由强平引擎处理
type RiskMonitor struct {
	accounts  domain.MarginAccountRepository
	positions domain.MarginPositionRepository
	oracle    domain.PriceOracle
	events    domain.EventSink
	locker    *AccountLocker
	interval  time.Duration
}

func NewRiskMonitor(
	accounts domain.MarginAccountRepository,
	positions domain.MarginPositionRepository,
	oracle domain.PriceOracle,
	events domain.EventSink,
	locker *AccountLocker,
) *RiskMonitor {
	return &RiskMonitor{
		accounts:  accounts,
		positions: positions,
		oracle:    oracle,
		events:    events,
		locker:    locker,
		interval:  30 * time.Second,
	}
}

// Start 启动监控循环
func (m *RiskMonitor) Start(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	logging.Info(ctx, "risk monitor started", "interval", m.interval.String())

	for {
		select {
		case <-ctx.Done():
			logging.Info(ctx, "risk monitor stopping")
			return nil
		case <-ticker.C:
			if err := m.RunCycle(ctx); err != nil {
				logging.Error(ctx, "risk monitor cycle failed", "error", err)
			}
		}
	}
}

// RunCycle 对所有账户执行一次盯市重算
func (m *RiskMonitor) RunCycle(ctx context.Context) error {
	accounts, err := m.accounts.FindAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to list accounts: %w", err)
	}
	for _, account := range accounts {
		if account.Status == domain.AccountStatusClosed || account.Status == domain.AccountStatusSuspended {
			continue
		}
		if err := m.RefreshAccount(ctx, account.ID); err != nil {
			logging.Error(ctx, "account refresh failed", "account_id", account.ID, "error", err)
		}
	}
	return nil
}

// RefreshAccount 盯市单个账户：更新每个持仓的标记价与未实现盈亏，
// 再用未实现盈亏总额重算账户权益与保证金水平
func (m *RiskMonitor) RefreshAccount(ctx context.Context, accountID string) error {
	account, err := m.accounts.FindByID(ctx, accountID)
	if err != nil {
		return fmt.Errorf("failed to load account: %w", err)
	}
	if account == nil {
		return domain.ErrAccountNotFound
	}

	unlock := m.locker.Lock(account.UserID, account.TenantID, account.BrokerID)
	defer unlock()

	account, err = m.accounts.FindByID(ctx, accountID)
	if err != nil {
		return fmt.Errorf("failed to load account: %w", err)
	}
	if account == nil {
		return domain.ErrAccountNotFound
	}

	open, err := m.positions.FindOpenByAccount(ctx, account.ID)
	if err != nil {
		return fmt.Errorf("failed to load open positions: %w", err)
	}

	totalUnrealized := decimal.Zero
	for _, pos := range open {
		price, err := m.oracle.GetMarkPrice(ctx, pos.Symbol)
		if err != nil || price.LessThanOrEqual(decimal.Zero) {
			// 行情读路径降级：沿用上一次盯市价
			logging.Warn(ctx, "mark price unavailable, keeping last mark", "symbol", pos.Symbol, "error", err)
			totalUnrealized = totalUnrealized.Add(pos.UnrealizedPnL)
			continue
		}
		pos.UpdateMarkPrice(price)
		if err := m.positions.Update(ctx, pos); err != nil {
			return fmt.Errorf("failed to update position: %w", err)
		}
		totalUnrealized = totalUnrealized.Add(pos.UnrealizedPnL)
	}

	prevStatus := account.Status
	account.UpdateUnrealizedPnL(totalUnrealized)
	if err := m.accounts.Update(ctx, account); err != nil {
		return fmt.Errorf("failed to update account: %w", err)
	}

	if prevStatus == domain.AccountStatusActive && account.Status == domain.AccountStatusMarginCall {
		payload := map[string]string{
			"account_id":   account.ID,
			"user_id":      account.UserID,
			"margin_level": account.MarginLevel.String(),
			"threshold":    account.MarginCallThreshold.String(),
		}
		if err := m.events.Emit(ctx, domain.EventMarginCall, "margin", domain.SeverityWarning, payload); err != nil {
			logging.Warn(ctx, "failed to emit margin call event", "account_id", account.ID, "error", err)
		}
		logging.Warn(ctx, "margin call triggered",
			"account_id", account.ID,
			"margin_level", account.MarginLevel.String(),
		)
	}
	return nil
}
