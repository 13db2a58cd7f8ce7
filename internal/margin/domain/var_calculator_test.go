package domain_test

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/marginrisk/internal/margin/domain"
)

// stubOracle 可编程的行情桩
type stubOracle struct {
	price      decimal.Decimal
	volatility float64
	returns    []float64
	historyErr error
	volErr     error
}

func (o *stubOracle) GetMarkPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return o.price, nil
}

func (o *stubOracle) GetVolatility(ctx context.Context, symbol string) (float64, error) {
	return o.volatility, o.volErr
}

func (o *stubOracle) GetReturnHistory(ctx context.Context, symbol string, n int) ([]float64, error) {
	return o.returns, o.historyErr
}

// ============================================================================
// Test: Volatility
// ============================================================================

func TestAnnualizedVolatility_ClampsToFloor(t *testing.T) {
	flat := make([]float64, 100)
	if got := domain.AnnualizedVolatility(flat); got != 0.05 {
		t.Errorf("constant returns: got %v, want floor 0.05", got)
	}
	if got := domain.AnnualizedVolatility(nil); got != 0.05 {
		t.Errorf("empty returns: got %v, want floor 0.05", got)
	}
}

func TestAnnualizedVolatility_ClampsToCeiling(t *testing.T) {
	wild := make([]float64, 100)
	for i := range wild {
		if i%2 == 0 {
			wild[i] = 0.5
		} else {
			wild[i] = -0.5
		}
	}
	if got := domain.AnnualizedVolatility(wild); got != 2.0 {
		t.Errorf("wild returns: got %v, want ceiling 2.0", got)
	}
}

// ============================================================================
// Test: VaR
// ============================================================================

func TestPositionVaR95_HistoricalPercentile(t *testing.T) {
	// 100 samples: sorted index 5 (the 5th percentile) is -0.02
	returns := make([]float64, 100)
	worst := []float64{-0.10, -0.09, -0.08, -0.07, -0.06, -0.02}
	copy(returns, worst)
	for i := len(worst); i < len(returns); i++ {
		returns[i] = 0.01
	}

	oracle := &stubOracle{returns: returns}
	calc := domain.NewVaRCalculator(oracle)

	pos := domain.NewMarginPosition("MA-1", "u1", "t1", "b1", "BTC/USDT",
		domain.PositionSideLong, decimal.NewFromInt(1),
		decimal.NewFromInt(100), decimal.NewFromInt(10), decimal.NewFromFloat(0.10))

	got, err := calc.PositionVaR95(context.Background(), pos)
	if err != nil {
		t.Fatalf("PositionVaR95 failed: %v", err)
	}
	// loss 0.02 on a value of 100
	if math.Abs(got-2.0) > 1e-9 {
		t.Errorf("got %v, want 2.0", got)
	}
}

func TestPositionVaR95_ParametricFallback(t *testing.T) {
	oracle := &stubOracle{historyErr: errors.New("no history"), volatility: 0.5}
	calc := domain.NewVaRCalculator(oracle)

	pos := domain.NewMarginPosition("MA-1", "u1", "t1", "b1", "BTC/USDT",
		domain.PositionSideLong, decimal.NewFromInt(1),
		decimal.NewFromInt(100), decimal.NewFromInt(10), decimal.NewFromFloat(0.10))

	got, err := calc.PositionVaR95(context.Background(), pos)
	if err != nil {
		t.Fatalf("PositionVaR95 failed: %v", err)
	}
	want := 1.645 * (0.5 / math.Sqrt(252)) * 100
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestAccountVaR95_SkipsClosedPositions(t *testing.T) {
	oracle := &stubOracle{historyErr: errors.New("no history"), volatility: 0.5}
	calc := domain.NewVaRCalculator(oracle)

	open := domain.NewMarginPosition("MA-1", "u1", "t1", "b1", "BTC/USDT",
		domain.PositionSideLong, decimal.NewFromInt(1),
		decimal.NewFromInt(100), decimal.NewFromInt(10), decimal.NewFromFloat(0.10))
	closed := domain.NewMarginPosition("MA-1", "u1", "t1", "b1", "BTC/USDT",
		domain.PositionSideLong, decimal.NewFromInt(1),
		decimal.NewFromInt(100), decimal.NewFromInt(10), decimal.NewFromFloat(0.10))
	closed.Reduce(decimal.NewFromInt(1), decimal.NewFromInt(100))

	single, _ := calc.PositionVaR95(context.Background(), open)
	total, err := calc.AccountVaR95(context.Background(), []*domain.MarginPosition{open, closed})
	if err != nil {
		t.Fatalf("AccountVaR95 failed: %v", err)
	}
	if math.Abs(total-single) > 1e-9 {
		t.Errorf("closed position leaked into account VaR: got %v, want %v", total, single)
	}
}

// ============================================================================
// Test: Risk scoring
// ============================================================================

func TestRiskScore_CapsAtHundred(t *testing.T) {
	score := domain.RiskScore(domain.RiskScoreInput{
		VaR95:         1e9,
		PositionValue: 100,
		Volatility:    5,
		MaxDrawdown:   3,
		Leverage:      50,
	})
	eq(t, score, "100", "score cap")
}

func TestRiskScore_ZeroExposureScoresZero(t *testing.T) {
	score := domain.RiskScore(domain.RiskScoreInput{})
	eq(t, score, "0", "zero input")
}

func TestFallbackRiskScore(t *testing.T) {
	eq(t, domain.FallbackRiskScore(2, 0.5), "50", "lev 2 x vol 0.5 x 50")
	eq(t, domain.FallbackRiskScore(10, 1.0), "100", "capped at 100")
}
