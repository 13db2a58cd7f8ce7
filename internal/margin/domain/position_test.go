package domain_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/marginrisk/internal/margin/domain"
)

func newLongPosition() *domain.MarginPosition {
	return domain.NewMarginPosition("MA-1", "u1", "t1", "b1", "BTC/USDT",
		domain.PositionSideLong,
		decimal.NewFromFloat(0.1),
		decimal.NewFromInt(45000),
		decimal.NewFromInt(10),
		decimal.NewFromFloat(0.10),
	)
}

// ============================================================================
// Test: Opening math
// ============================================================================

func TestNewMarginPosition_LongMarginAndLiquidationPrice(t *testing.T) {
	pos := newLongPosition()

	eq(t, pos.InitialMargin, "450", "initial margin")
	eq(t, pos.MarginUsed, "450", "margin used")
	eq(t, pos.MaintenanceMargin, "45", "maintenance margin")
	// markPrice - requiredMargin/size = 45000 - 4500
	eq(t, pos.LiquidationPrice, "40500", "liquidation price")
	if pos.Status != domain.PositionStatusOpen {
		t.Errorf("got status %s, want OPEN", pos.Status)
	}
}

func TestNewMarginPosition_ShortLiquidationPriceAboveMark(t *testing.T) {
	pos := domain.NewMarginPosition("MA-1", "u1", "t1", "b1", "BTC/USDT",
		domain.PositionSideShort,
		decimal.NewFromFloat(0.1),
		decimal.NewFromInt(45000),
		decimal.NewFromInt(10),
		decimal.NewFromFloat(0.10),
	)
	eq(t, pos.LiquidationPrice, "49500", "short liquidation price")
}

// ============================================================================
// Test: Mark-to-market
// ============================================================================

func TestPnLAt_LinearInPriceAndSize(t *testing.T) {
	pos := newLongPosition()
	eq(t, pos.PnLAt(decimal.NewFromInt(46000)), "100", "long pnl on rally")
	eq(t, pos.PnLAt(decimal.NewFromInt(44000)), "-100", "long pnl on drop")

	short := domain.NewMarginPosition("MA-1", "u1", "t1", "b1", "BTC/USDT",
		domain.PositionSideShort, decimal.NewFromFloat(0.1),
		decimal.NewFromInt(45000), decimal.NewFromInt(10), decimal.NewFromFloat(0.10))
	eq(t, short.PnLAt(decimal.NewFromInt(44000)), "100", "short pnl on drop")
}

func TestUpdateMarkPrice_TracksPeakDrawdown(t *testing.T) {
	pos := newLongPosition()

	pos.UpdateMarkPrice(decimal.NewFromInt(44000))
	eq(t, pos.MaxDrawdown, "100", "drawdown after drop")

	// recovery must not shrink the recorded peak
	pos.UpdateMarkPrice(decimal.NewFromInt(45000))
	eq(t, pos.MaxDrawdown, "100", "drawdown retained after recovery")

	pos.UpdateMarkPrice(decimal.NewFromInt(42000))
	eq(t, pos.MaxDrawdown, "300", "drawdown extends on deeper drop")
}

// ============================================================================
// Test: Reduce / Liquidate
// ============================================================================

func TestReduce_PartialCloseScalesMargin(t *testing.T) {
	pos := newLongPosition()

	realized, returned := pos.Reduce(decimal.NewFromFloat(0.04), decimal.NewFromInt(46000))
	eq(t, realized, "40", "realized pnl")
	eq(t, returned, "180", "margin returned")
	eq(t, pos.Size, "0.06", "remaining size")
	eq(t, pos.MarginUsed, "270", "remaining margin")
	eq(t, pos.InitialMargin, "270", "remaining initial margin")
	if !pos.IsOpen() {
		t.Error("partial close must leave position open")
	}
}

func TestReduce_FullCloseZeroesAndTerminates(t *testing.T) {
	pos := newLongPosition()

	realized, returned := pos.Reduce(decimal.NewFromFloat(0.1), decimal.NewFromInt(44000))
	eq(t, realized, "-100", "realized pnl")
	eq(t, returned, "450", "margin returned")
	eq(t, pos.Size, "0", "size")
	eq(t, pos.MarginUsed, "0", "margin used")
	if pos.Status != domain.PositionStatusClosed {
		t.Errorf("got status %s, want CLOSED", pos.Status)
	}
	if pos.ClosedAt == nil {
		t.Error("closed position must record close time")
	}
}

func TestReduce_OversizedCloseIsFullClose(t *testing.T) {
	pos := newLongPosition()
	pos.Reduce(decimal.NewFromInt(5), decimal.NewFromInt(45000))
	if pos.Status != domain.PositionStatusClosed {
		t.Errorf("got status %s, want CLOSED", pos.Status)
	}
}

func TestLiquidate_MarksTerminalState(t *testing.T) {
	pos := newLongPosition()
	pos.Liquidate(decimal.NewFromInt(40500))

	if pos.Status != domain.PositionStatusLiquidated {
		t.Errorf("got status %s, want LIQUIDATED", pos.Status)
	}
	eq(t, pos.UnrealizedPnL, "-450", "pnl at liquidation price")
	if pos.ClosedAt == nil {
		t.Error("liquidated position must record close time")
	}
	if pos.IsOpen() {
		t.Error("liquidated position must not report open")
	}
}
