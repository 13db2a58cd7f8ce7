package domain_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/marginrisk/internal/margin/domain"
)

func newTestAccount() *domain.MarginAccount {
	limits := domain.DefaultRiskLimits("u1", "t1", "b1")
	account := domain.NewMarginAccount("u1", "t1", "b1", domain.AccountTypeCross, "", limits)
	account.ID = "MA-1"
	return account
}

func eq(t *testing.T, got decimal.Decimal, want string, label string) {
	t.Helper()
	if !got.Equal(decimal.RequireFromString(want)) {
		t.Errorf("%s: got %s, want %s", label, got, want)
	}
}

// ============================================================================
// Test: Deposit / Withdraw
// ============================================================================

func TestDeposit_PropagatesToAllTiers(t *testing.T) {
	account := newTestAccount()
	if err := account.Deposit("USDT", decimal.NewFromInt(1000)); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}

	eq(t, account.TotalEquity, "1000", "total equity")
	eq(t, account.AvailableBalance, "1000", "available balance")
	for _, tier := range []domain.SegregationTier{account.UserTier, account.BrokerTier, account.PlatformTier} {
		eq(t, tier.Balance, "1000", string(tier.Kind)+" balance")
		eq(t, tier.Collateral["USDT"], "1000", string(tier.Kind)+" collateral")
	}
}

func TestDeposit_RejectsNonPositive(t *testing.T) {
	account := newTestAccount()
	if err := account.Deposit("USDT", decimal.Zero); err != domain.ErrInvalidAmount {
		t.Errorf("got %v, want ErrInvalidAmount", err)
	}
	if err := account.Deposit("USDT", decimal.NewFromInt(-5)); err != domain.ErrInvalidAmount {
		t.Errorf("got %v, want ErrInvalidAmount", err)
	}
}

func TestWithdraw_LimitedToAvailableBalance(t *testing.T) {
	account := newTestAccount()
	account.Deposit("USDT", decimal.NewFromInt(1000))
	account.ApplyMarginDelta(decimal.NewFromInt(450))

	if err := account.Withdraw("USDT", decimal.NewFromInt(600)); err != domain.ErrInsufficientMargin {
		t.Errorf("withdraw past available balance: got %v, want ErrInsufficientMargin", err)
	}

	if err := account.Withdraw("USDT", decimal.NewFromInt(500)); err != nil {
		t.Fatalf("withdraw within available balance failed: %v", err)
	}
	eq(t, account.TotalEquity, "500", "total equity")
	eq(t, account.AvailableBalance, "50", "available balance")
}

// ============================================================================
// Test: Margin accounting
// ============================================================================

func TestApplyMarginDelta_OpenAndRelease(t *testing.T) {
	account := newTestAccount()
	account.Deposit("USDT", decimal.NewFromInt(1000))

	account.ApplyMarginDelta(decimal.NewFromInt(450))
	eq(t, account.UsedMargin, "450", "used margin")
	eq(t, account.AvailableBalance, "550", "available balance")
	eq(t, account.FreeMargin, "550", "free margin")
	for _, tier := range []domain.SegregationTier{account.UserTier, account.BrokerTier, account.PlatformTier} {
		eq(t, tier.MarginUsed, "450", string(tier.Kind)+" margin used")
	}

	account.ApplyMarginDelta(decimal.NewFromInt(-450))
	eq(t, account.UsedMargin, "0", "used margin after release")
	eq(t, account.AvailableBalance, "1000", "available balance after release")
}

func TestApplyMarginDelta_ClampsAtZero(t *testing.T) {
	account := newTestAccount()
	account.Deposit("USDT", decimal.NewFromInt(100))
	account.ApplyMarginDelta(decimal.NewFromInt(-50))
	eq(t, account.UsedMargin, "0", "used margin never negative")
}

// ============================================================================
// Test: RecalculateMargin status transitions
// ============================================================================

func TestRecalculateMargin_LiquidationCheckedBeforeMarginCall(t *testing.T) {
	account := newTestAccount()
	account.Deposit("USDT", decimal.NewFromInt(1000))
	account.ApplyMarginDelta(decimal.NewFromInt(1000))

	// equity 100 / used 1000 = 0.10, below margin call (0.15), above liquidation (0.05)
	account.UpdateUnrealizedPnL(decimal.NewFromInt(-900))
	if account.Status != domain.AccountStatusMarginCall {
		t.Errorf("got status %s, want MARGIN_CALL", account.Status)
	}
	eq(t, account.MarginLevel, "0.1", "margin level")

	// equity 40 / used 1000 = 0.04, below both thresholds: liquidation wins
	account.UpdateUnrealizedPnL(decimal.NewFromInt(-960))
	if account.Status != domain.AccountStatusLiquidation {
		t.Errorf("got status %s, want LIQUIDATION", account.Status)
	}

	// recovery restores ACTIVE
	account.UpdateUnrealizedPnL(decimal.Zero)
	if account.Status != domain.AccountStatusActive {
		t.Errorf("got status %s, want ACTIVE", account.Status)
	}
}

func TestRecalculateMargin_AdministrativeStatusSticks(t *testing.T) {
	account := newTestAccount()
	account.Deposit("USDT", decimal.NewFromInt(1000))
	account.ApplyMarginDelta(decimal.NewFromInt(400))
	account.Status = domain.AccountStatusSuspended

	// healthy metrics must not lift an operator-set suspension
	account.UpdateUnrealizedPnL(decimal.NewFromInt(50))
	if account.Status != domain.AccountStatusSuspended {
		t.Errorf("got status %s, want SUSPENDED", account.Status)
	}
	if err := account.Deposit("USDT", decimal.NewFromInt(100)); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}
	if account.Status != domain.AccountStatusSuspended {
		t.Errorf("after deposit: got status %s, want SUSPENDED", account.Status)
	}
	// metrics still track while suspended
	eq(t, account.FreeMargin, "750", "free margin recomputed while suspended")
}

func TestUpdateUnrealizedPnL_DeltaAdjustsEquityNotBalance(t *testing.T) {
	account := newTestAccount()
	account.Deposit("USDT", decimal.NewFromInt(1000))
	account.ApplyMarginDelta(decimal.NewFromInt(400))

	account.UpdateUnrealizedPnL(decimal.NewFromInt(-100))
	eq(t, account.TotalEquity, "900", "equity after first mark")
	account.UpdateUnrealizedPnL(decimal.NewFromInt(-250))
	eq(t, account.TotalEquity, "750", "equity after second mark")
	eq(t, account.AvailableBalance, "600", "available balance untouched by unrealized pnl")
}

func TestApplyRealizedPnL_HitsEquityAndBalance(t *testing.T) {
	account := newTestAccount()
	account.Deposit("USDT", decimal.NewFromInt(1000))

	account.ApplyRealizedPnL(decimal.NewFromInt(150))
	eq(t, account.TotalEquity, "1150", "equity")
	eq(t, account.AvailableBalance, "1150", "available balance")
	for _, tier := range []domain.SegregationTier{account.UserTier, account.BrokerTier, account.PlatformTier} {
		eq(t, tier.Balance, "1150", string(tier.Kind)+" balance")
	}
}

// ============================================================================
// Test: Borrow interest / position registry
// ============================================================================

func TestAccrueBorrowInterest_CompoundsBorrowedAssets(t *testing.T) {
	account := newTestAccount()
	account.UserTier.AddBorrowed("USDT", decimal.NewFromInt(100))
	account.BrokerTier.AddBorrowed("USDT", decimal.NewFromInt(100))
	account.PlatformTier.AddBorrowed("USDT", decimal.NewFromInt(100))

	account.AccrueBorrowInterest(decimal.NewFromFloat(0.01))
	eq(t, account.UserTier.Borrowed["USDT"], "101", "user tier borrowed")
	eq(t, account.BrokerTier.Borrowed["USDT"], "101", "broker tier borrowed")

	// non-positive rate is a no-op
	account.AccrueBorrowInterest(decimal.Zero)
	eq(t, account.UserTier.Borrowed["USDT"], "101", "borrowed unchanged on zero rate")
}

func TestAttachDetachPosition_AllTiersAndIdempotent(t *testing.T) {
	account := newTestAccount()
	account.AttachPosition("POS-1")
	account.AttachPosition("POS-1")

	for _, tier := range []domain.SegregationTier{account.UserTier, account.BrokerTier, account.PlatformTier} {
		if len(tier.PositionIDs) != 1 || tier.PositionIDs[0] != "POS-1" {
			t.Errorf("%s tier position ids: got %v, want [POS-1]", tier.Kind, tier.PositionIDs)
		}
	}

	account.DetachPosition("POS-1")
	if len(account.UserTier.PositionIDs) != 0 {
		t.Errorf("detach left %v", account.UserTier.PositionIDs)
	}
}
