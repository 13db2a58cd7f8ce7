package application

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/marginrisk/internal/margin/domain"
	"github.com/wyfcoding/pkg/idgen"
	"github.com/wyfcoding/pkg/logging"
)

// AccountService 保证金账户用例
// 负责账户创建、出入金、保证金占用变更与三层风险评分聚合
type AccountService struct {
	accounts domain.MarginAccountRepository
	limits   *RiskLimitsRegistry
	ledger   domain.Ledger
	events   domain.EventSink
	locker   *AccountLocker
}

func NewAccountService(
	accounts domain.MarginAccountRepository,
	limits *RiskLimitsRegistry,
	ledger domain.Ledger,
	events domain.EventSink,
	locker *AccountLocker,
) *AccountService {
	return &AccountService{
		accounts: accounts,
		limits:   limits,
		ledger:   ledger,
		events:   events,
		locker:   locker,
	}
}

// Create 创建保证金账户
// 同键账户已存在时返回 ErrAccountExists；阈值取自风险限额注册表；
// 可选首笔入金同时进入总权益、可用余额与三个隔离层级
func (s *AccountService) Create(ctx context.Context, req *CreateAccountRequest) (*domain.MarginAccount, error) {
	unlock := s.locker.Lock(req.UserID, req.TenantID, req.BrokerID)
	defer unlock()

	accountType := domain.AccountType(req.AccountType)
	existing, err := s.accounts.FindByKey(ctx, req.UserID, req.TenantID, req.BrokerID, accountType, req.Symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to check existing account: %w", err)
	}
	if existing != nil {
		return nil, domain.ErrAccountExists
	}

	limits, err := s.limits.Get(ctx, req.UserID, req.TenantID, req.BrokerID)
	if err != nil {
		return nil, err
	}

	account := domain.NewMarginAccount(req.UserID, req.TenantID, req.BrokerID, accountType, req.Symbol, limits)
	account.ID = fmt.Sprintf("MA-%d", idgen.GenID())

	asset := req.Asset
	if asset == "" {
		asset = "USDT"
	}
	if req.InitialDeposit != "" {
		deposit, err := decimal.NewFromString(req.InitialDeposit)
		if err != nil {
			return nil, fmt.Errorf("%w: bad initial deposit", domain.ErrInvalidAmount)
		}
		if deposit.GreaterThan(decimal.Zero) {
			if err := account.Deposit(asset, deposit); err != nil {
				return nil, err
			}
		}
	}

	// 外部账务先过账再落库；账务才是资金流水的最终记录系统，
	// 过账失败时账户不落库，重试不会踩到 ErrAccountExists
	if !account.TotalEquity.IsZero() {
		legs := []domain.LedgerLeg{
			{Account: "user:" + account.UserID + ":margin", Debit: account.TotalEquity, Credit: decimal.Zero},
			{Account: "platform:deposits", Debit: decimal.Zero, Credit: account.TotalEquity},
		}
		if _, err := s.ledger.RecordTransaction(ctx, "margin account opening deposit", legs,
			account.BrokerID, asset, "DEPOSIT", map[string]string{"account_id": account.ID}); err != nil {
			logging.Error(ctx, "ledger posting for account creation failed", "account_id", account.ID, "error", err)
			return nil, fmt.Errorf("ledger posting failed: %w", err)
		}
	}

	if err := s.accounts.Create(ctx, account); err != nil {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}

	if err := s.events.Emit(ctx, domain.EventAccountCreated, "margin", domain.SeverityInfo, account); err != nil {
		logging.Warn(ctx, "failed to emit account created event", "account_id", account.ID, "error", err)
	}

	logging.Info(ctx, "margin account created",
		"account_id", account.ID,
		"user_id", account.UserID,
		"broker_id", account.BrokerID,
		"type", string(account.AccountType),
	)
	return account, nil
}

// Deposit 入金
func (s *AccountService) Deposit(ctx context.Context, req *BalanceRequest) (*domain.MarginAccount, error) {
	unlock := s.locker.Lock(req.UserID, req.TenantID, req.BrokerID)
	defer unlock()

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		return nil, fmt.Errorf("%w: bad amount", domain.ErrInvalidAmount)
	}

	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, domain.ErrInvalidAmount
	}

	account, err := s.mustGetAccount(ctx, req.AccountID)
	if err != nil {
		return nil, err
	}

	// 先过账再改账户，过账失败时账户保持原状
	legs := []domain.LedgerLeg{
		{Account: "user:" + account.UserID + ":margin", Debit: amount, Credit: decimal.Zero},
		{Account: "platform:deposits", Debit: decimal.Zero, Credit: amount},
	}
	if _, err := s.ledger.RecordTransaction(ctx, "margin deposit", legs,
		account.BrokerID, req.Asset, "DEPOSIT", map[string]string{"account_id": account.ID}); err != nil {
		return nil, fmt.Errorf("ledger posting failed: %w", err)
	}

	if err := account.Deposit(req.Asset, amount); err != nil {
		return nil, err
	}

	if err := s.accounts.Update(ctx, account); err != nil {
		return nil, fmt.Errorf("failed to update account: %w", err)
	}
	return account, nil
}

// Withdraw 出金，只允许动用可用余额且不得击穿已占用保证金
func (s *AccountService) Withdraw(ctx context.Context, req *BalanceRequest) (*domain.MarginAccount, error) {
	unlock := s.locker.Lock(req.UserID, req.TenantID, req.BrokerID)
	defer unlock()

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		return nil, fmt.Errorf("%w: bad amount", domain.ErrInvalidAmount)
	}

	account, err := s.mustGetAccount(ctx, req.AccountID)
	if err != nil {
		return nil, err
	}
	if err := account.CanWithdraw(amount); err != nil {
		return nil, err
	}

	// 先过账再改账户，过账失败时账户保持原状
	legs := []domain.LedgerLeg{
		{Account: "platform:deposits", Debit: amount, Credit: decimal.Zero},
		{Account: "user:" + account.UserID + ":margin", Debit: decimal.Zero, Credit: amount},
	}
	if _, err := s.ledger.RecordTransaction(ctx, "margin withdrawal", legs,
		account.BrokerID, req.Asset, "WITHDRAWAL", map[string]string{"account_id": account.ID}); err != nil {
		return nil, fmt.Errorf("ledger posting failed: %w", err)
	}

	if err := account.Withdraw(req.Asset, amount); err != nil {
		return nil, err
	}

	if err := s.accounts.Update(ctx, account); err != nil {
		return nil, fmt.Errorf("failed to update account: %w", err)
	}
	return account, nil
}

// Get 读取账户
func (s *AccountService) Get(ctx context.Context, accountID string) (*domain.MarginAccount, error) {
	return s.mustGetAccount(ctx, accountID)
}

// GetFundSegregation 用户账户的三层资金隔离视图
func (s *AccountService) GetFundSegregation(ctx context.Context, userID, tenantID, brokerID string) ([]*FundSegregationView, error) {
	accounts, err := s.accounts.FindByUser(ctx, userID, tenantID, brokerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load accounts: %w", err)
	}
	views := make([]*FundSegregationView, 0, len(accounts))
	for _, acc := range accounts {
		views = append(views, segregationView(acc))
	}
	return views, nil
}

// GetAllFundSegregations 管理端：全量资金隔离视图
func (s *AccountService) GetAllFundSegregations(ctx context.Context) ([]*FundSegregationView, error) {
	accounts, err := s.accounts.FindAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load accounts: %w", err)
	}
	views := make([]*FundSegregationView, 0, len(accounts))
	for _, acc := range accounts {
		views = append(views, segregationView(acc))
	}
	return views, nil
}

// UpdateUserRiskScore 更新用户层级风险评分并向上聚合
// broker 层级评分 = 该 broker 下所有用户评分均值
// platform 层级评分 = 所有 broker 评分均值
func (s *AccountService) UpdateUserRiskScore(ctx context.Context, userID, tenantID, brokerID string, score decimal.Decimal) (*RiskScoreUpdateResult, error) {
	unlock := s.locker.Lock(userID, tenantID, brokerID)
	defer unlock()

	userAccounts, err := s.accounts.FindByUser(ctx, userID, tenantID, brokerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user accounts: %w", err)
	}
	if len(userAccounts) == 0 {
		return nil, domain.ErrAccountNotFound
	}
	for _, acc := range userAccounts {
		acc.SetUserRiskScore(score)
		if err := s.accounts.Update(ctx, acc); err != nil {
			return nil, fmt.Errorf("failed to update account: %w", err)
		}
	}

	brokerScore, platformScore, err := s.recomputeTierScores(ctx, tenantID, brokerID)
	if err != nil {
		return nil, err
	}

	return &RiskScoreUpdateResult{
		UserScore:     score.String(),
		BrokerScore:   brokerScore.String(),
		PlatformScore: platformScore.String(),
	}, nil
}

// recomputeTierScores 重算 broker 与 platform 层级评分并写回受影响账户
func (s *AccountService) recomputeTierScores(ctx context.Context, tenantID, brokerID string) (decimal.Decimal, decimal.Decimal, error) {
	brokerAccounts, err := s.accounts.FindByBroker(ctx, tenantID, brokerID)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("failed to load broker accounts: %w", err)
	}
	brokerScore := meanUserScore(brokerAccounts)
	for _, acc := range brokerAccounts {
		acc.BrokerTier.RiskScore = brokerScore
		if err := s.accounts.Update(ctx, acc); err != nil {
			return decimal.Zero, decimal.Zero, fmt.Errorf("failed to update broker tier score: %w", err)
		}
	}

	all, err := s.accounts.FindAll(ctx)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("failed to load accounts: %w", err)
	}
	perBroker := make(map[string][]*domain.MarginAccount)
	for _, acc := range all {
		key := acc.TenantID + ":" + acc.BrokerID
		perBroker[key] = append(perBroker[key], acc)
	}
	platformScore := decimal.Zero
	if len(perBroker) > 0 {
		sum := decimal.Zero
		for _, accs := range perBroker {
			sum = sum.Add(meanUserScore(accs))
		}
		platformScore = sum.Div(decimal.NewFromInt(int64(len(perBroker))))
	}
	// platform 层级评分对所有 broker 可见，全量写回
	for _, acc := range all {
		acc.PlatformTier.RiskScore = platformScore
		if err := s.accounts.Update(ctx, acc); err != nil {
			return decimal.Zero, decimal.Zero, fmt.Errorf("failed to update platform tier score: %w", err)
		}
	}
	return brokerScore, platformScore, nil
}

// meanUserScore 按用户去重后的用户层级评分均值
func meanUserScore(accounts []*domain.MarginAccount) decimal.Decimal {
	scores := make(map[string]decimal.Decimal)
	for _, acc := range accounts {
		scores[acc.UserID] = acc.UserTier.RiskScore
	}
	if len(scores) == 0 {
		return decimal.Zero
	}
	sum := decimal.Zero
	for _, v := range scores {
		sum = sum.Add(v)
	}
	return sum.Div(decimal.NewFromInt(int64(len(scores))))
}

func (s *AccountService) mustGetAccount(ctx context.Context, accountID string) (*domain.MarginAccount, error) {
	account, err := s.accounts.FindByID(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to load account: %w", err)
	}
	if account == nil {
		return nil, domain.ErrAccountNotFound
	}
	return account, nil
}

func segregationView(acc *domain.MarginAccount) *FundSegregationView {
	return &FundSegregationView{
		AccountID: acc.ID,
		UserID:    acc.UserID,
		BrokerID:  acc.BrokerID,
		User:      acc.UserTier,
		Broker:    acc.BrokerTier,
		Platform:  acc.PlatformTier,
	}
}
