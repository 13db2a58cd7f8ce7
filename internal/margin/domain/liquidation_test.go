package domain_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/marginrisk/internal/margin/domain"
)

func TestNewLiquidationEvent_PenaltyMath(t *testing.T) {
	event := domain.NewLiquidationEvent("POS-1", "MA-1",
		decimal.NewFromInt(40000),
		decimal.NewFromFloat(0.1),
		decimal.NewFromInt(450),
		decimal.NewFromFloat(0.03),
		domain.LiquidationReasonForced,
	)

	eq(t, event.LiquidationValue, "4000", "liquidation value")
	eq(t, event.PenaltyFee, "120", "penalty fee")
	eq(t, event.RemainingMargin, "330", "remaining margin")
	if event.Status != domain.LiquidationEventPending {
		t.Errorf("got status %s, want PENDING", event.Status)
	}
}

func TestLiquidationEvent_Transitions(t *testing.T) {
	event := domain.NewLiquidationEvent("POS-1", "MA-1",
		decimal.NewFromInt(40000), decimal.NewFromFloat(0.1),
		decimal.NewFromInt(450), decimal.NewFromFloat(0.03),
		domain.LiquidationReasonMarginCall)

	event.MarkExecuted()
	if event.Status != domain.LiquidationEventExecuted || event.ExecutedAt == nil {
		t.Errorf("MarkExecuted: status=%s executedAt=%v", event.Status, event.ExecutedAt)
	}

	failed := domain.NewLiquidationEvent("POS-2", "MA-1",
		decimal.NewFromInt(40000), decimal.NewFromFloat(0.1),
		decimal.NewFromInt(450), decimal.NewFromFloat(0.03),
		domain.LiquidationReasonForced)
	failed.MarkFailed()
	if failed.Status != domain.LiquidationEventFailed {
		t.Errorf("MarkFailed: got status %s", failed.Status)
	}
}

func TestNeutralFundingRate_ZeroRate(t *testing.T) {
	rate := domain.NeutralFundingRate("BTC/USDT", 8*time.Hour)
	if !rate.Rate.IsZero() {
		t.Errorf("neutral rate should be zero, got %s", rate.Rate)
	}
	if rate.Symbol != "BTC/USDT" {
		t.Errorf("got symbol %q", rate.Symbol)
	}
	if !rate.NextFundingTime.After(time.Now()) {
		t.Error("next funding time should be in the future")
	}
}
