package application

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/marginrisk/internal/margin/domain"
	"github.com/wyfcoding/pkg/logging"
)

// FundingService 资金费与利息计提
// 周期性将每个交易对的资金费率应用到未平仓头寸，并对借入资产按年化利率计息
// 费率刷新失败时退化为 0% 中性费率，保证计提循环永不阻塞账户操作
type FundingService struct {
	accounts   domain.MarginAccountRepository
	positions  domain.MarginPositionRepository
	rates      domain.FundingRateRepository
	source     domain.FundingRateSource
	locker     *AccountLocker
	interval   time.Duration
	annualRate decimal.Decimal // 借入资产年化利率
}

func NewFundingService(
	accounts domain.MarginAccountRepository,
	positions domain.MarginPositionRepository,
	rates domain.FundingRateRepository,
	source domain.FundingRateSource,
	locker *AccountLocker,
	annualInterestRate decimal.Decimal,
) *FundingService {
	return &FundingService{
		accounts:   accounts,
		positions:  positions,
		rates:      rates,
		source:     source,
		locker:     locker,
		interval:   8 * time.Hour,
		annualRate: annualInterestRate,
	}
}

// Start 启动计提循环
func (s *FundingService) Start(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	logging.Info(ctx, "funding accrual started", "interval", s.interval.String(), "annual_interest_rate", s.annualRate.String())

	for {
		select {
		case <-ctx.Done():
			logging.Info(ctx, "funding accrual stopping")
			return nil
		case <-ticker.C:
			if err := s.RefreshRates(ctx); err != nil {
				logging.Error(ctx, "funding rate refresh failed", "error", err)
			}
			if err := s.RunCycle(ctx); err != nil {
				logging.Error(ctx, "funding accrual cycle failed", "error", err)
			}
		}
	}
}

// RefreshRates 刷新所有有持仓交易对的资金费率
// 外部源失败的交易对落到 0% 中性费率
func (s *FundingService) RefreshRates(ctx context.Context) error {
	open, err := s.positions.FindAllOpen(ctx)
	if err != nil {
		return fmt.Errorf("failed to list open positions: %w", err)
	}

	symbols := make(map[string]struct{})
	for _, pos := range open {
		symbols[pos.Symbol] = struct{}{}
	}

	for symbol := range symbols {
		rate, err := s.source.FetchFundingRate(ctx, symbol)
		if err != nil {
			logging.Warn(ctx, "funding rate source unavailable, using neutral rate", "symbol", symbol, "error", err)
			rate = domain.NeutralFundingRate(symbol, s.interval)
		}
		if err := s.rates.Save(ctx, rate); err != nil {
			return fmt.Errorf("failed to save funding rate: %w", err)
		}
	}
	return nil
}

// RunCycle 执行一次计提
// 资金费 = 仓位价值 × 费率（多头付、空头收，符号随方向翻转）
func (s *FundingService) RunCycle(ctx context.Context) error {
	open, err := s.positions.FindAllOpen(ctx)
	if err != nil {
		return fmt.Errorf("failed to list open positions: %w", err)
	}

	// 单期利率 = 年化利率 × 期长 / 一年
	periodRate := s.annualRate.Mul(decimal.NewFromFloat(s.interval.Hours())).Div(decimal.NewFromFloat(365 * 24))

	touched := make(map[string]struct{})
	for _, pos := range open {
		unlock := s.locker.Lock(pos.UserID, pos.TenantID, pos.BrokerID)

		rate, err := s.rates.Find(ctx, pos.Symbol)
		if err != nil || rate == nil {
			rate = domain.NeutralFundingRate(pos.Symbol, s.interval)
		}

		fee := pos.PositionValue().Mul(rate.Rate)
		if pos.Side == domain.PositionSideShort {
			fee = fee.Neg()
		}
		pos.FundingFee = pos.FundingFee.Add(fee)
		pos.UpdatedAt = time.Now()
		if err := s.positions.Update(ctx, pos); err != nil {
			unlock()
			return fmt.Errorf("failed to update position funding fee: %w", err)
		}

		// 借入资产计息按账户执行一次
		if _, done := touched[pos.AccountID]; !done {
			touched[pos.AccountID] = struct{}{}
			account, err := s.accounts.FindByID(ctx, pos.AccountID)
			if err == nil && account != nil {
				account.AccrueBorrowInterest(periodRate)
				if err := s.accounts.Update(ctx, account); err != nil {
					unlock()
					return fmt.Errorf("failed to update account interest: %w", err)
				}
			}
		}
		unlock()
	}
	return nil
}

// GetFundingRates 当前全部资金费率
func (s *FundingService) GetFundingRates(ctx context.Context) ([]*domain.FundingRate, error) {
	return s.rates.FindAll(ctx)
}
