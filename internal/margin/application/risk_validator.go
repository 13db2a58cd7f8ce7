package application

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/marginrisk/internal/margin/domain"
	"github.com/wyfcoding/pkg/logging"
)

// 账户级风险分与量化模型分的拒绝阈值
var (
	accountRiskRejectThreshold = decimal.NewFromInt(80)
	modelScoreRejectThreshold  = 70.0
)

// RiskValidator 交易前风控校验
// 每项检查独立报告并累加风险评分；任一触发即拒绝，与总分无关
type RiskValidator struct {
	positions domain.MarginPositionRepository
	oracle    domain.PriceOracle
	model     domain.RiskModel
	varCalc   *domain.VaRCalculator
}

func NewRiskValidator(
	positions domain.MarginPositionRepository,
	oracle domain.PriceOracle,
	model domain.RiskModel,
) *RiskValidator {
	return &RiskValidator{
		positions: positions,
		oracle:    oracle,
		model:     model,
		varCalc:   domain.NewVaRCalculator(oracle),
	}
}

// Validate 校验一笔拟开仓交易
func (v *RiskValidator) Validate(ctx context.Context, account *domain.MarginAccount, limits *domain.RiskLimits,
	symbol string, side domain.PositionSide, size, leverage, price decimal.Decimal) (*RiskValidationResult, error) {

	var errs []string
	score := decimal.Zero
	positionValue := size.Mul(price)

	// 杠杆上限
	if leverage.GreaterThan(account.MaxLeverage) {
		errs = append(errs, fmt.Sprintf("leverage %s exceeds account limit %s", leverage, account.MaxLeverage))
		score = score.Add(decimal.NewFromInt(50))
	}

	// 单笔仓位价值上限
	if positionValue.GreaterThan(limits.MaxPositionSize) {
		errs = append(errs, fmt.Sprintf("position value %s exceeds limit %s", positionValue, limits.MaxPositionSize))
		score = score.Add(decimal.NewFromInt(30))
	}

	// 账户级风险：对全部未平仓头寸的 VaR 派生评分
	accountRisk, err := v.accountRiskScore(ctx, account, symbol, leverage)
	if err != nil {
		logging.Warn(ctx, "account risk computation degraded", "account_id", account.ID, "error", err)
	} else if accountRisk.GreaterThan(accountRiskRejectThreshold) {
		errs = append(errs, fmt.Sprintf("account risk score %s exceeds %s", accountRisk, accountRiskRejectThreshold))
		score = score.Add(decimal.NewFromInt(40))
	}

	// 外部量化模型，不可用时降级放行
	if v.model != nil {
		modelScore, err := v.model.Score(ctx, domain.RiskModelRequest{
			UserID:        account.UserID,
			Symbol:        symbol,
			Side:          side,
			Size:          size,
			Price:         price,
			Leverage:      leverage,
			PositionValue: positionValue,
		})
		if err != nil {
			logging.Warn(ctx, "quantitative risk model unavailable, continuing", "symbol", symbol, "error", err)
		} else if modelScore > modelScoreRejectThreshold {
			errs = append(errs, fmt.Sprintf("quantitative model score %.2f exceeds %.0f", modelScore, modelScoreRejectThreshold))
		}
	}

	return &RiskValidationResult{
		IsValid:   len(errs) == 0,
		Errors:    errs,
		RiskScore: score.String(),
	}, nil
}

// accountRiskScore 账户所有未平仓头寸的 VaR 派生风险评分
func (v *RiskValidator) accountRiskScore(ctx context.Context, account *domain.MarginAccount, symbol string, leverage decimal.Decimal) (decimal.Decimal, error) {
	open, err := v.positions.FindOpenByAccount(ctx, account.ID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to load open positions: %w", err)
	}
	if len(open) == 0 {
		return decimal.Zero, nil
	}

	var95, err := v.varCalc.AccountVaR95(ctx, open)
	if err != nil {
		return decimal.Zero, err
	}

	totalValue := 0.0
	maxDrawdown := 0.0
	for _, pos := range open {
		value := pos.PositionValue().InexactFloat64()
		totalValue += value
		if value <= 0 {
			continue
		}
		// 回撤按仓位价值归一成比例
		if dd := pos.MaxDrawdown.InexactFloat64() / value; dd > maxDrawdown {
			maxDrawdown = dd
		}
	}

	vol, err := v.oracle.GetVolatility(ctx, symbol)
	if err != nil {
		// 波动率不可用时退化为杠杆兜底公式
		return domain.FallbackRiskScore(leverage.InexactFloat64(), domain.ClampVolatility(0)), nil
	}

	return domain.RiskScore(domain.RiskScoreInput{
		VaR95:         var95,
		PositionValue: totalValue,
		Volatility:    domain.ClampVolatility(vol),
		MaxDrawdown:   maxDrawdown,
		Leverage:      leverage.InexactFloat64(),
	}), nil
}
