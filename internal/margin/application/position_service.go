package application

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/marginrisk/internal/margin/domain"
	"github.com/wyfcoding/pkg/idgen"
	"github.com/wyfcoding/pkg/logging"
)

// PositionService 杠杆持仓用例：开仓与部分/全部平仓
type PositionService struct {
	accounts  domain.MarginAccountRepository
	positions domain.MarginPositionRepository
	limits    *RiskLimitsRegistry
	oracle    domain.PriceOracle
	ledger    domain.Ledger
	events    domain.EventSink
	venue     domain.ExecutionVenue
	validator *RiskValidator
	locker    *AccountLocker
}

func NewPositionService(
	accounts domain.MarginAccountRepository,
	positions domain.MarginPositionRepository,
	limits *RiskLimitsRegistry,
	oracle domain.PriceOracle,
	ledger domain.Ledger,
	events domain.EventSink,
	venue domain.ExecutionVenue,
	validator *RiskValidator,
	locker *AccountLocker,
) *PositionService {
	return &PositionService{
		accounts:  accounts,
		positions: positions,
		limits:    limits,
		oracle:    oracle,
		ledger:    ledger,
		events:    events,
		venue:     venue,
		validator: validator,
		locker:    locker,
	}
}

// Open 开仓
// 校验顺序：账户存在 → 杠杆区间 → 保证金充足 → 风控校验
// 任何外部依赖失败都原子回滚，不留下部分提交的保证金占用
func (s *PositionService) Open(ctx context.Context, req *OpenPositionRequest) (*domain.MarginPosition, error) {
	unlock := s.locker.Lock(req.UserID, req.TenantID, req.BrokerID)
	defer unlock()

	size, err := decimal.NewFromString(req.Size)
	if err != nil || size.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("%w: bad size", domain.ErrInvalidAmount)
	}
	leverage, err := decimal.NewFromString(req.Leverage)
	if err != nil {
		return nil, fmt.Errorf("%w: bad leverage", domain.ErrInvalidLeverage)
	}
	side := domain.PositionSide(req.Side)
	if side != domain.PositionSideLong && side != domain.PositionSideShort {
		return nil, fmt.Errorf("%w: bad side %q", domain.ErrInvalidAmount, req.Side)
	}
	orderType := domain.OrderType(req.OrderType)
	if orderType == "" {
		orderType = domain.OrderTypeMarket
	}

	account, err := s.accounts.FindByID(ctx, req.AccountID)
	if err != nil {
		return nil, fmt.Errorf("failed to load account: %w", err)
	}
	if account == nil {
		return nil, domain.ErrAccountNotFound
	}

	if leverage.LessThan(decimal.NewFromInt(1)) || leverage.GreaterThan(account.MaxLeverage) {
		return nil, fmt.Errorf("%w: leverage %s outside [1, %s]", domain.ErrInvalidLeverage, leverage, account.MaxLeverage)
	}

	// 标记价：限价单用委托价，否则取预言机
	markPrice, err := s.resolvePrice(ctx, req.Symbol, req.Price)
	if err != nil {
		return nil, err
	}

	requiredMargin := size.Mul(markPrice).Div(leverage)
	if requiredMargin.GreaterThan(account.AvailableBalance) {
		return nil, fmt.Errorf("%w: required %s, available %s", domain.ErrInsufficientMargin, requiredMargin, account.AvailableBalance)
	}

	limits, err := s.limits.Get(ctx, req.UserID, req.TenantID, req.BrokerID)
	if err != nil {
		return nil, err
	}
	validation, err := s.validator.Validate(ctx, account, limits, req.Symbol, side, size, leverage, markPrice)
	if err != nil {
		return nil, err
	}
	if !validation.IsValid {
		return nil, fmt.Errorf("%w: %v", domain.ErrRiskValidationFailed, validation.Errors)
	}

	position := domain.NewMarginPosition(account.ID, req.UserID, req.TenantID, req.BrokerID,
		req.Symbol, side, size, markPrice, leverage, account.MaintenanceMarginRatio)
	position.ID = fmt.Sprintf("POS-%d", idgen.GenID())

	account.ApplyMarginDelta(requiredMargin)
	account.AttachPosition(position.ID)

	legs := []domain.LedgerLeg{
		{Account: "user:" + account.UserID + ":margin", Debit: decimal.Zero, Credit: requiredMargin},
		{Account: "platform:margin_pool", Debit: requiredMargin, Credit: decimal.Zero},
	}
	if _, err := s.ledger.RecordTransaction(ctx, "open margin position", legs,
		account.BrokerID, quoteAsset(req.Symbol), "POSITION_OPEN",
		map[string]string{"position_id": position.ID, "account_id": account.ID}); err != nil {
		// 账务失败原子回滚，不留下已占用的保证金
		account.ApplyMarginDelta(requiredMargin.Neg())
		account.DetachPosition(position.ID)
		logging.Error(ctx, "ledger posting failed on open, rolled back", "position_id", position.ID, "error", err)
		return nil, fmt.Errorf("%w: ledger posting failed", domain.ErrInsufficientMargin)
	}

	if err := s.positions.Create(ctx, position); err != nil {
		account.ApplyMarginDelta(requiredMargin.Neg())
		account.DetachPosition(position.ID)
		return nil, fmt.Errorf("failed to persist position: %w", err)
	}

	if err := s.accounts.Update(ctx, account); err != nil {
		return nil, fmt.Errorf("failed to update account: %w", err)
	}

	if orderType == domain.OrderTypeMarket {
		if _, err := s.venue.SubmitOrder(ctx, req.Symbol, side, size, markPrice); err != nil {
			logging.Warn(ctx, "execution venue rejected market order", "position_id", position.ID, "error", err)
		}
	}

	if err := s.events.Emit(ctx, domain.EventPositionOpened, "margin", domain.SeverityInfo, position); err != nil {
		logging.Warn(ctx, "failed to emit position opened event", "position_id", position.ID, "error", err)
	}

	logging.Info(ctx, "position opened",
		"position_id", position.ID,
		"account_id", account.ID,
		"symbol", position.Symbol,
		"side", string(position.Side),
		"size", position.Size.String(),
		"margin", requiredMargin.String(),
	)
	return position, nil
}

// Close 平仓；closeSize 为空或大于等于当前仓位视为全平
// 按平仓比例释放保证金，已实现盈亏计入账户权益后重算保证金水平
func (s *PositionService) Close(ctx context.Context, req *ClosePositionRequest) (*ClosePositionResult, error) {
	unlock := s.locker.Lock(req.UserID, req.TenantID, req.BrokerID)
	defer unlock()

	position, err := s.positions.FindByID(ctx, req.PositionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load position: %w", err)
	}
	if position == nil {
		return nil, domain.ErrPositionNotFound
	}
	if !position.IsOpen() {
		return nil, domain.ErrPositionNotOpen
	}

	account, err := s.accounts.FindByID(ctx, position.AccountID)
	if err != nil {
		return nil, fmt.Errorf("failed to load account: %w", err)
	}
	if account == nil {
		return nil, domain.ErrAccountNotFound
	}

	closeSize := position.Size
	if req.CloseSize != "" {
		closeSize, err = decimal.NewFromString(req.CloseSize)
		if err != nil || closeSize.LessThanOrEqual(decimal.Zero) {
			return nil, fmt.Errorf("%w: bad close size", domain.ErrInvalidAmount)
		}
	}

	markPrice, err := s.resolvePrice(ctx, position.Symbol, "")
	if err != nil {
		return nil, err
	}

	// 先试算、先过账，账务失败时持仓与账户保持原状
	realized, marginReturned, closeSize := position.ReducePreview(closeSize, markPrice)
	legs := []domain.LedgerLeg{
		{Account: "platform:margin_pool", Debit: decimal.Zero, Credit: marginReturned},
		{Account: "user:" + account.UserID + ":margin", Debit: marginReturned.Add(realized), Credit: decimal.Zero},
		{Account: "platform:pnl", Debit: decimal.Zero, Credit: realized},
	}
	txnID, err := s.ledger.RecordTransaction(ctx, "close margin position", legs,
		account.BrokerID, quoteAsset(position.Symbol), "POSITION_CLOSE",
		map[string]string{"position_id": position.ID, "account_id": account.ID})
	if err != nil {
		return nil, fmt.Errorf("ledger posting failed: %w", err)
	}

	prevUnrealized := position.UnrealizedPnL
	position.Reduce(closeSize, markPrice)
	account.ApplyMarginDelta(marginReturned.Neg())
	// 盯市已把浮动盈亏计入权益，入账已实现盈亏前先退出对应的未实现部分
	account.UpdateUnrealizedPnL(account.UnrealizedPnL.Sub(prevUnrealized).Add(position.UnrealizedPnL))
	account.ApplyRealizedPnL(realized)
	if !position.IsOpen() {
		account.DetachPosition(position.ID)
	}

	if err := s.positions.Update(ctx, position); err != nil {
		return nil, fmt.Errorf("failed to update position: %w", err)
	}
	if err := s.accounts.Update(ctx, account); err != nil {
		return nil, fmt.Errorf("failed to update account: %w", err)
	}

	if err := s.events.Emit(ctx, domain.EventPositionClosed, "margin", domain.SeverityInfo, position); err != nil {
		logging.Warn(ctx, "failed to emit position closed event", "position_id", position.ID, "error", err)
	}

	logging.Info(ctx, "position closed",
		"position_id", position.ID,
		"close_size", closeSize.String(),
		"realized_pnl", realized.String(),
		"full_close", !position.IsOpen(),
	)
	return &ClosePositionResult{
		Position:      position,
		RealizedPnL:   realized.String(),
		TransactionID: txnID,
	}, nil
}

// GetPositions 用户全部持仓
func (s *PositionService) GetPositions(ctx context.Context, userID, tenantID, brokerID string) ([]*domain.MarginPosition, error) {
	return s.positions.FindByUser(ctx, userID, tenantID, brokerID)
}

// ValidateOpen 只做风控校验，不落任何状态变更
// 供交易前询价接口使用，校验逻辑与 Open 完全一致
func (s *PositionService) ValidateOpen(ctx context.Context, req *OpenPositionRequest) (*RiskValidationResult, error) {
	size, err := decimal.NewFromString(req.Size)
	if err != nil || size.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("%w: bad size", domain.ErrInvalidAmount)
	}
	leverage, err := decimal.NewFromString(req.Leverage)
	if err != nil {
		return nil, fmt.Errorf("%w: bad leverage", domain.ErrInvalidLeverage)
	}
	side := domain.PositionSide(req.Side)
	if side != domain.PositionSideLong && side != domain.PositionSideShort {
		return nil, fmt.Errorf("%w: bad side %q", domain.ErrInvalidAmount, req.Side)
	}

	account, err := s.accounts.FindByID(ctx, req.AccountID)
	if err != nil {
		return nil, fmt.Errorf("failed to load account: %w", err)
	}
	if account == nil {
		return nil, domain.ErrAccountNotFound
	}

	markPrice, err := s.resolvePrice(ctx, req.Symbol, req.Price)
	if err != nil {
		return nil, err
	}

	limits, err := s.limits.Get(ctx, req.UserID, req.TenantID, req.BrokerID)
	if err != nil {
		return nil, err
	}
	return s.validator.Validate(ctx, account, limits, req.Symbol, side, size, leverage, markPrice)
}

// resolvePrice 限价单用委托价，否则取预言机标记价
func (s *PositionService) resolvePrice(ctx context.Context, symbol, rawPrice string) (decimal.Decimal, error) {
	if rawPrice != "" {
		price, err := decimal.NewFromString(rawPrice)
		if err != nil || price.LessThanOrEqual(decimal.Zero) {
			return decimal.Zero, fmt.Errorf("%w: bad price", domain.ErrInvalidAmount)
		}
		return price, nil
	}
	price, err := s.oracle.GetMarkPrice(ctx, symbol)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", domain.ErrPriceUnavailable, err)
	}
	if price.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, domain.ErrPriceUnavailable
	}
	return price, nil
}

// quoteAsset 交易对的计价资产，如 BTC/USDT -> USDT
func quoteAsset(symbol string) string {
	for i := len(symbol) - 1; i >= 0; i-- {
		if symbol[i] == '/' {
			return symbol[i+1:]
		}
	}
	return "USDT"
}
