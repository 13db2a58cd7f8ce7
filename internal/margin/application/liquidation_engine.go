package application

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/marginrisk/internal/margin/domain"
	"github.com/wyfcoding/pkg/idgen"
	"github.com/wyfcoding/pkg/logging"
)

// LiquidationEngine 强平引擎
// 周期性扫描处于 LIQUIDATION 状态的账户并强制平掉其全部未平仓头寸
// 扫描周期比风险监控更紧（安全关键路径）
type LiquidationEngine struct {
	accounts     domain.MarginAccountRepository
	positions    domain.MarginPositionRepository
	liquidations domain.LiquidationEventRepository
	oracle       domain.PriceOracle
	ledger       domain.Ledger
	events       domain.EventSink
	locker       *AccountLocker
	interval     time.Duration
	penaltyRate  decimal.Decimal
}

func NewLiquidationEngine(
	accounts domain.MarginAccountRepository,
	positions domain.MarginPositionRepository,
	liquidations domain.LiquidationEventRepository,
	oracle domain.PriceOracle,
	ledger domain.Ledger,
	events domain.EventSink,
	locker *AccountLocker,
) *LiquidationEngine {
	return &LiquidationEngine{
		accounts:     accounts,
		positions:    positions,
		liquidations: liquidations,
		oracle:       oracle,
		ledger:       ledger,
		events:       events,
		locker:       locker,
		interval:     10 * time.Second,
		penaltyRate:  decimal.NewFromFloat(0.03),
	}
}

// Start 启动强平扫描循环
func (e *LiquidationEngine) Start(ctx context.Context) error {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	logging.Info(ctx, "liquidation engine started", "interval", e.interval.String(), "penalty_rate", e.penaltyRate.String())

	for {
		select {
		case <-ctx.Done():
			logging.Info(ctx, "liquidation engine stopping")
			return nil
		case <-ticker.C:
			if err := e.RunCycle(ctx); err != nil {
				logging.Error(ctx, "liquidation cycle failed", "error", err)
			}
		}
	}
}

// RunCycle 执行一次扫描
// 单个账户失败不阻断其余账户；失败的强平等待下一轮重试
func (e *LiquidationEngine) RunCycle(ctx context.Context) error {
	breached, err := e.accounts.FindByStatus(ctx, domain.AccountStatusLiquidation)
	if err != nil {
		return fmt.Errorf("failed to list breached accounts: %w", err)
	}

	for _, account := range breached {
		open, err := e.positions.FindOpenByAccount(ctx, account.ID)
		if err != nil {
			logging.Error(ctx, "failed to load open positions", "account_id", account.ID, "error", err)
			continue
		}
		for _, pos := range open {
			if _, err := e.Liquidate(ctx, pos.ID, domain.LiquidationReasonForced); err != nil {
				logging.Error(ctx, "forced liquidation failed", "position_id", pos.ID, "error", err)
			}
		}
	}
	return nil
}

// Liquidate 强制平仓单个持仓
// 对已终态的持仓幂等：第二次调用返回 ErrPositionNotFound，绝不重复收罚金
// 账务过账先于状态变更，失败时持仓保持 OPEN 等待下一轮，不会卡在中间态
func (e *LiquidationEngine) Liquidate(ctx context.Context, positionID string, reason domain.LiquidationReason) (*domain.LiquidationEvent, error) {
	position, err := e.positions.FindByID(ctx, positionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load position: %w", err)
	}
	if position == nil || !position.IsOpen() {
		return nil, domain.ErrPositionNotFound
	}

	unlock := e.locker.Lock(position.UserID, position.TenantID, position.BrokerID)
	defer unlock()

	// 拿到锁后重读，避免与请求路径的平仓竞争
	position, err = e.positions.FindByID(ctx, positionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load position: %w", err)
	}
	if position == nil || !position.IsOpen() {
		return nil, domain.ErrPositionNotFound
	}

	account, err := e.accounts.FindByID(ctx, position.AccountID)
	if err != nil {
		return nil, fmt.Errorf("failed to load account: %w", err)
	}
	if account == nil {
		return nil, domain.ErrAccountNotFound
	}

	markPrice, err := e.oracle.GetMarkPrice(ctx, position.Symbol)
	if err != nil || markPrice.LessThanOrEqual(decimal.Zero) {
		// 行情不可用时按最近盯市价执行，强平不等待行情恢复
		markPrice = position.CurrentPrice
	}

	marginUsed := position.MarginUsed
	event := domain.NewLiquidationEvent(position.ID, account.ID, markPrice, position.Size, marginUsed, e.penaltyRate, reason)
	event.ID = fmt.Sprintf("LIQ-%d", idgen.GenID())
	if err := e.liquidations.Create(ctx, event); err != nil {
		return nil, fmt.Errorf("failed to persist liquidation event: %w", err)
	}

	// 两条腿：强平价值借记、罚金贷记罚金池
	legs := []domain.LedgerLeg{
		{Account: "platform:liquidation", Debit: event.LiquidationValue, Credit: decimal.Zero},
		{Account: "platform:penalty_pool", Debit: decimal.Zero, Credit: event.PenaltyFee},
	}
	if _, err := e.ledger.RecordTransaction(ctx, "forced liquidation", legs,
		account.BrokerID, quoteAsset(position.Symbol), "LIQUIDATION",
		map[string]string{"position_id": position.ID, "liquidation_id": event.ID}); err != nil {
		event.MarkFailed()
		if uerr := e.liquidations.Update(ctx, event); uerr != nil {
			logging.Error(ctx, "failed to mark liquidation failed", "liquidation_id", event.ID, "error", uerr)
		}
		return nil, fmt.Errorf("ledger posting failed: %w", err)
	}

	pnl := position.PnLAt(markPrice)
	prevUnrealized := position.UnrealizedPnL
	position.Liquidate(markPrice)
	account.ApplyMarginDelta(marginUsed.Neg())
	// 盯市已计入的浮动盈亏先从未实现总额退出，避免与已实现入账重复计提
	account.UpdateUnrealizedPnL(account.UnrealizedPnL.Sub(prevUnrealized))
	account.ApplyRealizedPnL(pnl.Sub(event.PenaltyFee))
	account.DetachPosition(position.ID)

	if err := e.positions.Update(ctx, position); err != nil {
		return nil, fmt.Errorf("failed to update position: %w", err)
	}
	if err := e.accounts.Update(ctx, account); err != nil {
		return nil, fmt.Errorf("failed to update account: %w", err)
	}

	event.MarkExecuted()
	if err := e.liquidations.Update(ctx, event); err != nil {
		return nil, fmt.Errorf("failed to update liquidation event: %w", err)
	}

	if err := e.events.Emit(ctx, domain.EventLiquidationExecuted, "margin", domain.SeverityCritical, event); err != nil {
		logging.Warn(ctx, "failed to emit liquidation event", "liquidation_id", event.ID, "error", err)
	}

	logging.Warn(ctx, "position liquidated",
		"position_id", position.ID,
		"account_id", account.ID,
		"liquidation_value", event.LiquidationValue.String(),
		"penalty_fee", event.PenaltyFee.String(),
		"reason", string(reason),
	)
	return event, nil
}

// History 账户强平历史
func (e *LiquidationEngine) History(ctx context.Context, accountID string) ([]*domain.LiquidationEvent, error) {
	return e.liquidations.FindByAccount(ctx, accountID)
}
