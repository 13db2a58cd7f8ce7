// 包 保证金风险核心的领域模型：账户、持仓、资金隔离、风险限额与强平
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type AccountType string

const (
	AccountTypeIsolated AccountType = "ISOLATED" // 逐仓
	AccountTypeCross    AccountType = "CROSS"    // 全仓
)

type AccountStatus string

const (
	AccountStatusActive      AccountStatus = "ACTIVE"
	AccountStatusMarginCall  AccountStatus = "MARGIN_CALL"
	AccountStatusLiquidation AccountStatus = "LIQUIDATION"
	AccountStatusSuspended   AccountStatus = "SUSPENDED"
	AccountStatusClosed      AccountStatus = "CLOSED"
)

// SegregationTierKind 资金隔离层级
type SegregationTierKind string

const (
	TierUser     SegregationTierKind = "USER"
	TierBroker   SegregationTierKind = "BROKER"
	TierPlatform SegregationTierKind = "PLATFORM"
)

// SegregationTier 单个隔离层级的资金视图
// user/broker/platform 三个层级共用同一个值类型
type SegregationTier struct {
	Kind            SegregationTierKind        `json:"kind"`
	Balance         decimal.Decimal            `json:"balance"`
	MarginUsed      decimal.Decimal            `json:"margin_used"`
	Collateral      map[string]decimal.Decimal `json:"collateral"`
	Borrowed        map[string]decimal.Decimal `json:"borrowed"`
	PositionIDs     []string                   `json:"position_ids"`
	RiskScore       decimal.Decimal            `json:"risk_score"`
	ComplianceFlags []string                   `json:"compliance_flags"`
}

func NewSegregationTier(kind SegregationTierKind) SegregationTier {
	return SegregationTier{
		Kind:            kind,
		Balance:         decimal.Zero,
		MarginUsed:      decimal.Zero,
		Collateral:      make(map[string]decimal.Decimal),
		Borrowed:        make(map[string]decimal.Decimal),
		PositionIDs:     []string{},
		RiskScore:       decimal.Zero,
		ComplianceFlags: []string{},
	}
}

// AddCollateral 增加抵押资产
func (t *SegregationTier) AddCollateral(asset string, amount decimal.Decimal) {
	t.Collateral[asset] = t.Collateral[asset].Add(amount)
}

// AddBorrowed 增加借入资产
func (t *SegregationTier) AddBorrowed(asset string, amount decimal.Decimal) {
	t.Borrowed[asset] = t.Borrowed[asset].Add(amount)
}

// AttachPosition 记录该层级下的持仓 ID
func (t *SegregationTier) AttachPosition(positionID string) {
	for _, id := range t.PositionIDs {
		if id == positionID {
			return
		}
	}
	t.PositionIDs = append(t.PositionIDs, positionID)
}

// DetachPosition 移除该层级下的持仓 ID
func (t *SegregationTier) DetachPosition(positionID string) {
	for i, id := range t.PositionIDs {
		if id == positionID {
			t.PositionIDs = append(t.PositionIDs[:i], t.PositionIDs[i+1:]...)
			return
		}
	}
}

// MarginAccount 保证金账户聚合根
// 每个 (userID, tenantID, brokerID, accountType, symbol) 组合唯一
type MarginAccount struct {
	ID                     string          `json:"id"`
	UserID                 string          `json:"user_id"`
	TenantID               string          `json:"tenant_id"`
	BrokerID               string          `json:"broker_id"`
	AccountType            AccountType     `json:"account_type"`
	Symbol                 string          `json:"symbol"` // 逐仓时绑定交易对，全仓为空
	Status                 AccountStatus   `json:"status"`
	TotalEquity            decimal.Decimal `json:"total_equity"`
	AvailableBalance       decimal.Decimal `json:"available_balance"`
	UsedMargin             decimal.Decimal `json:"used_margin"`
	FreeMargin             decimal.Decimal `json:"free_margin"`
	MarginLevel            decimal.Decimal `json:"margin_level"`
	MarginRatio            decimal.Decimal `json:"margin_ratio"`
	UnrealizedPnL          decimal.Decimal `json:"unrealized_pnl"`
	MaxLeverage            decimal.Decimal `json:"max_leverage"`
	MaintenanceMarginRatio decimal.Decimal `json:"maintenance_margin_ratio"`
	LiquidationThreshold   decimal.Decimal `json:"liquidation_threshold"`
	MarginCallThreshold    decimal.Decimal `json:"margin_call_threshold"`
	UserTier               SegregationTier `json:"user_tier"`
	BrokerTier             SegregationTier `json:"broker_tier"`
	PlatformTier           SegregationTier `json:"platform_tier"`
	CreatedAt              time.Time       `json:"created_at"`
	UpdatedAt              time.Time       `json:"updated_at"`
}

// NewMarginAccount 创建保证金账户，三个隔离层级初始化为零
func NewMarginAccount(userID, tenantID, brokerID string, accountType AccountType, symbol string, limits *RiskLimits) *MarginAccount {
	now := time.Now()
	return &MarginAccount{
		UserID:                 userID,
		TenantID:               tenantID,
		BrokerID:               brokerID,
		AccountType:            accountType,
		Symbol:                 symbol,
		Status:                 AccountStatusActive,
		TotalEquity:            decimal.Zero,
		AvailableBalance:       decimal.Zero,
		UsedMargin:             decimal.Zero,
		FreeMargin:             decimal.Zero,
		MarginLevel:            decimal.Zero,
		MarginRatio:            decimal.Zero,
		UnrealizedPnL:          decimal.Zero,
		MaxLeverage:            limits.MaxLeverage,
		MaintenanceMarginRatio: limits.MaintenanceMarginRatio,
		LiquidationThreshold:   limits.LiquidationThreshold,
		MarginCallThreshold:    limits.MarginCallThreshold,
		UserTier:               NewSegregationTier(TierUser),
		BrokerTier:             NewSegregationTier(TierBroker),
		PlatformTier:           NewSegregationTier(TierPlatform),
		CreatedAt:              now,
		UpdatedAt:              now,
	}
}

// Deposit 入金：增加总权益、可用余额，并同步三个隔离层级的余额和抵押
func (ma *MarginAccount) Deposit(asset string, amount decimal.Decimal) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return ErrInvalidAmount
	}
	ma.TotalEquity = ma.TotalEquity.Add(amount)
	ma.AvailableBalance = ma.AvailableBalance.Add(amount)
	for _, tier := range []*SegregationTier{&ma.UserTier, &ma.BrokerTier, &ma.PlatformTier} {
		tier.Balance = tier.Balance.Add(amount)
		tier.AddCollateral(asset, amount)
	}
	ma.RecalculateMargin()
	ma.UpdatedAt = time.Now()
	return nil
}

// CanWithdraw 出金前置校验：只允许动用可用余额，且不得使自由保证金变为负数
func (ma *MarginAccount) CanWithdraw(amount decimal.Decimal) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return ErrInvalidAmount
	}
	if ma.AvailableBalance.LessThan(amount) {
		return ErrInsufficientMargin
	}
	if ma.TotalEquity.Sub(amount).LessThan(ma.UsedMargin) {
		return ErrInsufficientMargin
	}
	return nil
}

// Withdraw 出金
func (ma *MarginAccount) Withdraw(asset string, amount decimal.Decimal) error {
	if err := ma.CanWithdraw(amount); err != nil {
		return err
	}
	ma.TotalEquity = ma.TotalEquity.Sub(amount)
	ma.AvailableBalance = ma.AvailableBalance.Sub(amount)
	for _, tier := range []*SegregationTier{&ma.UserTier, &ma.BrokerTier, &ma.PlatformTier} {
		tier.Balance = tier.Balance.Sub(amount)
		tier.AddCollateral(asset, amount.Neg())
	}
	ma.RecalculateMargin()
	ma.UpdatedAt = time.Now()
	return nil
}

// ApplyMarginDelta 占用或释放保证金
// delta 为正表示开仓占用，为负表示平仓释放；三个隔离层级同步变更
func (ma *MarginAccount) ApplyMarginDelta(delta decimal.Decimal) {
	ma.UsedMargin = ma.UsedMargin.Add(delta)
	if ma.UsedMargin.LessThan(decimal.Zero) {
		ma.UsedMargin = decimal.Zero
	}
	ma.AvailableBalance = ma.AvailableBalance.Sub(delta)
	for _, tier := range []*SegregationTier{&ma.UserTier, &ma.BrokerTier, &ma.PlatformTier} {
		tier.MarginUsed = tier.MarginUsed.Add(delta)
		if tier.MarginUsed.LessThan(decimal.Zero) {
			tier.MarginUsed = decimal.Zero
		}
	}
	ma.RecalculateMargin()
	ma.UpdatedAt = time.Now()
}

// ApplyRealizedPnL 已实现盈亏入账：同时反映到总权益和可用余额
func (ma *MarginAccount) ApplyRealizedPnL(pnl decimal.Decimal) {
	ma.TotalEquity = ma.TotalEquity.Add(pnl)
	ma.AvailableBalance = ma.AvailableBalance.Add(pnl)
	for _, tier := range []*SegregationTier{&ma.UserTier, &ma.BrokerTier, &ma.PlatformTier} {
		tier.Balance = tier.Balance.Add(pnl)
	}
	ma.RecalculateMargin()
	ma.UpdatedAt = time.Now()
}

// UpdateUnrealizedPnL 盯市：用最新的未实现盈亏总额调整总权益
// 未实现盈亏不进入可用余额
func (ma *MarginAccount) UpdateUnrealizedPnL(total decimal.Decimal) {
	delta := total.Sub(ma.UnrealizedPnL)
	ma.UnrealizedPnL = total
	ma.TotalEquity = ma.TotalEquity.Add(delta)
	ma.RecalculateMargin()
	ma.UpdatedAt = time.Now()
}

// AccrueBorrowInterest 对三个隔离层级的借入资产按期化利率计息
// rate 为单期利率（年化利率 × 期长/一年）
func (ma *MarginAccount) AccrueBorrowInterest(rate decimal.Decimal) {
	if rate.LessThanOrEqual(decimal.Zero) {
		return
	}
	factor := decimal.NewFromInt(1).Add(rate)
	for _, tier := range []*SegregationTier{&ma.UserTier, &ma.BrokerTier, &ma.PlatformTier} {
		for asset, amount := range tier.Borrowed {
			tier.Borrowed[asset] = amount.Mul(factor)
		}
	}
	ma.UpdatedAt = time.Now()
}

// RecalculateMargin 重算保证金水平、保证金率与账户状态
// 强平阈值必须先于追保阈值判断：两者都是下界，强平是更严重（更低）的违约
// SUSPENDED/CLOSED 是运营设置的行政状态，只重算指标，不参与阈值状态机
func (ma *MarginAccount) RecalculateMargin() {
	ma.FreeMargin = ma.TotalEquity.Sub(ma.UsedMargin)
	if ma.UsedMargin.GreaterThan(decimal.Zero) {
		ma.MarginLevel = ma.TotalEquity.Div(ma.UsedMargin)
		if ma.TotalEquity.GreaterThan(decimal.Zero) {
			ma.MarginRatio = ma.UsedMargin.Div(ma.TotalEquity)
		} else {
			ma.MarginRatio = decimal.Zero
		}
	} else {
		ma.MarginLevel = decimal.Zero
		ma.MarginRatio = decimal.Zero
	}

	if ma.Status == AccountStatusSuspended || ma.Status == AccountStatusClosed {
		return
	}
	if ma.UsedMargin.GreaterThan(decimal.Zero) {
		switch {
		case ma.MarginLevel.LessThan(ma.LiquidationThreshold):
			ma.Status = AccountStatusLiquidation
		case ma.MarginLevel.LessThan(ma.MarginCallThreshold):
			ma.Status = AccountStatusMarginCall
		default:
			ma.Status = AccountStatusActive
		}
	} else {
		ma.Status = AccountStatusActive
	}
}

// AttachPosition 将持仓登记到三个隔离层级
func (ma *MarginAccount) AttachPosition(positionID string) {
	ma.UserTier.AttachPosition(positionID)
	ma.BrokerTier.AttachPosition(positionID)
	ma.PlatformTier.AttachPosition(positionID)
	ma.UpdatedAt = time.Now()
}

// DetachPosition 从三个隔离层级移除持仓
func (ma *MarginAccount) DetachPosition(positionID string) {
	ma.UserTier.DetachPosition(positionID)
	ma.BrokerTier.DetachPosition(positionID)
	ma.PlatformTier.DetachPosition(positionID)
	ma.UpdatedAt = time.Now()
}

// SetUserRiskScore 更新用户层级风险评分
// broker/platform 层级评分由应用层按均值重算后写回
func (ma *MarginAccount) SetUserRiskScore(score decimal.Decimal) {
	ma.UserTier.RiskScore = score
	ma.UpdatedAt = time.Now()
}

// AccountKey 账户唯一键
func (ma *MarginAccount) AccountKey() string {
	return AccountKey(ma.UserID, ma.TenantID, ma.BrokerID, ma.AccountType, ma.Symbol)
}

// AccountKey 构造账户唯一键
func AccountKey(userID, tenantID, brokerID string, accountType AccountType, symbol string) string {
	return userID + ":" + tenantID + ":" + brokerID + ":" + string(accountType) + ":" + symbol
}
