package domain

import (
	"context"
	"math"
	"slices"

	"github.com/shopspring/decimal"
)

const (
	// 一年交易日数，用于波动率年化
	tradingDaysPerYear = 252.0
	// 95% 置信度对应的正态分位数，样本不足时参数法兜底
	zScore95 = 1.645
	// 年化波动率截断区间
	minAnnualizedVol = 0.05
	maxAnnualizedVol = 2.0
	// 历史法 VaR 所需的最小样本数
	minHistorySamples = 30
)

// VaRCalculator 账户级风险度量领域服务
// 历史收益率充足时用历史模拟法，否则退化为参数法
type VaRCalculator struct {
	oracle PriceOracle
}

func NewVaRCalculator(oracle PriceOracle) *VaRCalculator {
	return &VaRCalculator{oracle: oracle}
}

// AnnualizedVolatility 年化波动率 = stdev(收益率) * sqrt(252)，截断到 [0.05, 2.0]
func AnnualizedVolatility(returns []float64) float64 {
	if len(returns) < 2 {
		return minAnnualizedVol
	}
	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	variance := 0.0
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	variance /= float64(len(returns) - 1)

	vol := math.Sqrt(variance) * math.Sqrt(tradingDaysPerYear)
	return ClampVolatility(vol)
}

// ClampVolatility 截断年化波动率
func ClampVolatility(vol float64) float64 {
	if vol < minAnnualizedVol {
		return minAnnualizedVol
	}
	if vol > maxAnnualizedVol {
		return maxAnnualizedVol
	}
	return vol
}

// PositionVaR95 单个持仓一期（单日）95% VaR
// 历史法：收益率 5% 分位数的损失；参数法：z * sigma_daily * 仓位价值
func (c *VaRCalculator) PositionVaR95(ctx context.Context, pos *MarginPosition) (float64, error) {
	value := pos.PositionValue().InexactFloat64()
	if value <= 0 {
		return 0, nil
	}

	returns, err := c.oracle.GetReturnHistory(ctx, pos.Symbol, tradingDaysPerYear)
	if err == nil && len(returns) >= minHistorySamples {
		sorted := slices.Clone(returns)
		slices.Sort(sorted)
		idx := int(math.Floor(float64(len(sorted)) * 0.05))
		if idx >= len(sorted) {
			idx = len(sorted) - 1
		}
		loss := -sorted[idx]
		if loss < 0 {
			loss = 0
		}
		return loss * value, nil
	}

	vol, volErr := c.oracle.GetVolatility(ctx, pos.Symbol)
	if volErr != nil {
		return 0, volErr
	}
	dailyVol := ClampVolatility(vol) / math.Sqrt(tradingDaysPerYear)
	return zScore95 * dailyVol * value, nil
}

// AccountVaR95 账户所有未平仓头寸的一期 95% VaR 之和
func (c *VaRCalculator) AccountVaR95(ctx context.Context, positions []*MarginPosition) (float64, error) {
	total := 0.0
	for _, pos := range positions {
		if !pos.IsOpen() {
			continue
		}
		v, err := c.PositionVaR95(ctx, pos)
		if err != nil {
			return 0, err
		}
		total += v
	}
	return total, nil
}

// RiskScoreInput 风险评分归一化输入
type RiskScoreInput struct {
	VaR95         float64
	PositionValue float64
	Volatility    float64
	MaxDrawdown   float64
	Leverage      float64
}

// normalize x 相对 cap 的占比，封顶为 1
func normalize(x, cap float64) float64 {
	if cap <= 0 || x <= 0 {
		return 0
	}
	if x >= cap {
		return 1
	}
	return x / cap
}

// RiskScore 综合风险评分，范围 [0, 100]
// VaR 以仓位价值的 10% 为满分基准，波动率以 100%、回撤以 50% 为基准
func RiskScore(in RiskScoreInput) decimal.Decimal {
	score := normalize(in.VaR95, 0.10*in.PositionValue)*40 +
		normalize(in.Volatility, 1.0)*30 +
		normalize(in.MaxDrawdown, 0.5)*20 +
		in.Leverage*10
	score = math.Min(100, math.Max(0, score))
	return decimal.NewFromFloat(score).Round(4)
}

// FallbackRiskScore 量化模型不可用时的兜底评分
func FallbackRiskScore(leverage, volatility float64) decimal.Decimal {
	score := math.Min(100, leverage*volatility*50)
	return decimal.NewFromFloat(score).Round(4)
}
