package application_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/marginrisk/internal/margin/application"
	"github.com/wyfcoding/marginrisk/internal/margin/domain"
	"github.com/wyfcoding/marginrisk/internal/margin/infrastructure/persistence/memory"
)

// ============================================================================
// Fakes
// ============================================================================

type fakeOracle struct {
	mu     sync.Mutex
	prices map[string]decimal.Decimal
	vol    float64
}

func newFakeOracle() *fakeOracle {
	return &fakeOracle{prices: make(map[string]decimal.Decimal), vol: 0.05}
}

func (o *fakeOracle) setPrice(symbol string, price decimal.Decimal) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.prices[symbol] = price
}

func (o *fakeOracle) GetMarkPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	price, ok := o.prices[symbol]
	if !ok {
		return decimal.Zero, domain.ErrPriceUnavailable
	}
	return price, nil
}

func (o *fakeOracle) GetVolatility(ctx context.Context, symbol string) (float64, error) {
	return o.vol, nil
}

func (o *fakeOracle) GetReturnHistory(ctx context.Context, symbol string, n int) ([]float64, error) {
	return nil, errors.New("no history")
}

type fakeLedger struct {
	mu       sync.Mutex
	failNext bool
	count    int
	types    []string
}

func (l *fakeLedger) RecordTransaction(ctx context.Context, description string, legs []domain.LedgerLeg, brokerID, asset, txnType string, metadata map[string]string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failNext {
		l.failNext = false
		return "", errors.New("ledger unavailable")
	}
	l.count++
	l.types = append(l.types, txnType)
	return fmt.Sprintf("TXN-%d", l.count), nil
}

type fakeSink struct {
	mu     sync.Mutex
	events []string
}

func (s *fakeSink) Emit(ctx context.Context, eventType, source string, severity domain.EventSeverity, payload any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, eventType)
	return nil
}

func (s *fakeSink) has(eventType string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.events {
		if e == eventType {
			return true
		}
	}
	return false
}

type fakeVenue struct{}

func (v *fakeVenue) SubmitOrder(ctx context.Context, symbol string, side domain.PositionSide, size, price decimal.Decimal) (string, error) {
	return "ORD-1", nil
}

type fakeRateSource struct {
	rate *domain.FundingRate
	err  error
}

func (f *fakeRateSource) FetchFundingRate(ctx context.Context, symbol string) (*domain.FundingRate, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.rate, nil
}

// ============================================================================
// Test stack
// ============================================================================

type stack struct {
	oracle       *fakeOracle
	ledger       *fakeLedger
	sink         *fakeSink
	accounts     *memory.AccountRepository
	positions    *memory.PositionRepository
	liquidations *memory.LiquidationEventRepository
	rates        *memory.FundingRateRepository
	accountSvc   *application.AccountService
	positionSvc  *application.PositionService
	engine       *application.LiquidationEngine
	monitor      *application.RiskMonitor
}

func newStack() *stack {
	s := &stack{
		oracle:       newFakeOracle(),
		ledger:       &fakeLedger{},
		sink:         &fakeSink{},
		accounts:     memory.NewAccountRepository(),
		positions:    memory.NewPositionRepository(),
		liquidations: memory.NewLiquidationEventRepository(),
		rates:        memory.NewFundingRateRepository(),
	}
	locker := application.NewAccountLocker()
	limits := application.NewRiskLimitsRegistry(memory.NewRiskLimitsRepository())
	validator := application.NewRiskValidator(s.positions, s.oracle, nil)
	s.accountSvc = application.NewAccountService(s.accounts, limits, s.ledger, s.sink, locker)
	s.positionSvc = application.NewPositionService(s.accounts, s.positions, limits, s.oracle, s.ledger, s.sink, &fakeVenue{}, validator, locker)
	s.engine = application.NewLiquidationEngine(s.accounts, s.positions, s.liquidations, s.oracle, s.ledger, s.sink, locker)
	s.monitor = application.NewRiskMonitor(s.accounts, s.positions, s.oracle, s.sink, locker)
	return s
}

func (s *stack) createAccount(t *testing.T, userID, deposit string) *domain.MarginAccount {
	t.Helper()
	account, err := s.accountSvc.Create(context.Background(), &application.CreateAccountRequest{
		UserID:         userID,
		TenantID:       "t1",
		BrokerID:       "b1",
		AccountType:    "CROSS",
		InitialDeposit: deposit,
	})
	if err != nil {
		t.Fatalf("create account failed: %v", err)
	}
	return account
}

func openReq(userID, accountID, size, leverage string) *application.OpenPositionRequest {
	return &application.OpenPositionRequest{
		UserID:    userID,
		TenantID:  "t1",
		BrokerID:  "b1",
		AccountID: accountID,
		Symbol:    "BTC/USDT",
		Side:      "LONG",
		Size:      size,
		Leverage:  leverage,
	}
}

func eq(t *testing.T, got decimal.Decimal, want string, label string) {
	t.Helper()
	if !got.Equal(decimal.RequireFromString(want)) {
		t.Errorf("%s: got %s, want %s", label, got, want)
	}
}

// ============================================================================
// Test: Accounts
// ============================================================================

func TestCreateAccount_DuplicateKeyRejected(t *testing.T) {
	s := newStack()
	s.createAccount(t, "u1", "1000")

	_, err := s.accountSvc.Create(context.Background(), &application.CreateAccountRequest{
		UserID: "u1", TenantID: "t1", BrokerID: "b1", AccountType: "CROSS",
	})
	if !errors.Is(err, domain.ErrAccountExists) {
		t.Errorf("got %v, want ErrAccountExists", err)
	}
}

func TestCreateAccount_InitialDepositPostsToLedger(t *testing.T) {
	s := newStack()
	account := s.createAccount(t, "u1", "1000")

	eq(t, account.TotalEquity, "1000", "equity")
	if s.ledger.count != 1 || s.ledger.types[0] != "DEPOSIT" {
		t.Errorf("ledger postings: %v", s.ledger.types)
	}
	if !s.sink.has(domain.EventAccountCreated) {
		t.Error("account created event not emitted")
	}
}

func TestCreateAccount_LedgerFailureLeavesNoAccount(t *testing.T) {
	s := newStack()
	ctx := context.Background()
	req := &application.CreateAccountRequest{
		UserID: "u1", TenantID: "t1", BrokerID: "b1", AccountType: "CROSS",
		InitialDeposit: "1000",
	}

	s.ledger.failNext = true
	if _, err := s.accountSvc.Create(ctx, req); err == nil {
		t.Fatal("create should fail when the opening deposit cannot be posted")
	}
	existing, _ := s.accounts.FindByKey(ctx, "u1", "t1", "b1", domain.AccountTypeCross, "")
	if existing != nil {
		t.Errorf("account persisted despite ledger failure: %v", existing.ID)
	}

	// a clean retry must not trip the duplicate key check
	account, err := s.accountSvc.Create(ctx, req)
	if err != nil {
		t.Fatalf("retry create failed: %v", err)
	}
	eq(t, account.TotalEquity, "1000", "equity after retry")
}

func TestDeposit_LedgerFailureLeavesAccountUnchanged(t *testing.T) {
	s := newStack()
	ctx := context.Background()
	account := s.createAccount(t, "u1", "1000")

	s.ledger.failNext = true
	_, err := s.accountSvc.Deposit(ctx, &application.BalanceRequest{
		UserID: "u1", TenantID: "t1", BrokerID: "b1",
		AccountID: account.ID, Asset: "USDT", Amount: "500",
	})
	if err == nil {
		t.Fatal("deposit should fail when ledger posting fails")
	}

	after, _ := s.accountSvc.Get(ctx, account.ID)
	eq(t, after.TotalEquity, "1000", "equity unchanged")
	eq(t, after.AvailableBalance, "1000", "available balance unchanged")
	eq(t, after.UserTier.Balance, "1000", "user tier balance unchanged")
}

func TestWithdraw_LedgerFailureLeavesAccountUnchanged(t *testing.T) {
	s := newStack()
	ctx := context.Background()
	account := s.createAccount(t, "u1", "1000")

	s.ledger.failNext = true
	_, err := s.accountSvc.Withdraw(ctx, &application.BalanceRequest{
		UserID: "u1", TenantID: "t1", BrokerID: "b1",
		AccountID: account.ID, Asset: "USDT", Amount: "400",
	})
	if err == nil {
		t.Fatal("withdraw should fail when ledger posting fails")
	}

	after, _ := s.accountSvc.Get(ctx, account.ID)
	eq(t, after.TotalEquity, "1000", "equity unchanged")
	eq(t, after.AvailableBalance, "1000", "available balance unchanged")
}

func TestWithdraw_CannotBreachUsedMargin(t *testing.T) {
	s := newStack()
	account := s.createAccount(t, "u1", "1000")
	s.oracle.setPrice("BTC/USDT", decimal.NewFromInt(45000))

	if _, err := s.positionSvc.Open(context.Background(), openReq("u1", account.ID, "0.1", "10")); err != nil {
		t.Fatalf("open failed: %v", err)
	}

	_, err := s.accountSvc.Withdraw(context.Background(), &application.BalanceRequest{
		UserID: "u1", TenantID: "t1", BrokerID: "b1",
		AccountID: account.ID, Asset: "USDT", Amount: "600",
	})
	if !errors.Is(err, domain.ErrInsufficientMargin) {
		t.Errorf("got %v, want ErrInsufficientMargin", err)
	}
}

// ============================================================================
// Test: Open / Close
// ============================================================================

func TestOpenPosition_InsufficientMargin(t *testing.T) {
	s := newStack()
	account := s.createAccount(t, "u1", "1000")
	s.oracle.setPrice("BTC/USDT", decimal.NewFromInt(45000))

	// size 1 @ 45000 / 10 = 4500 margin against 1000 available
	_, err := s.positionSvc.Open(context.Background(), openReq("u1", account.ID, "1", "10"))
	if !errors.Is(err, domain.ErrInsufficientMargin) {
		t.Errorf("got %v, want ErrInsufficientMargin", err)
	}
}

func TestOpenPosition_MarginAccounting(t *testing.T) {
	s := newStack()
	account := s.createAccount(t, "u1", "10000")
	s.oracle.setPrice("BTC/USDT", decimal.NewFromInt(45000))

	position, err := s.positionSvc.Open(context.Background(), openReq("u1", account.ID, "0.1", "10"))
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}

	eq(t, position.MarginUsed, "450", "position margin")
	eq(t, position.LiquidationPrice, "40500", "liquidation price")

	updated, _ := s.accountSvc.Get(context.Background(), account.ID)
	eq(t, updated.UsedMargin, "450", "account used margin")
	eq(t, updated.AvailableBalance, "9550", "available balance")
	if updated.Status != domain.AccountStatusActive {
		t.Errorf("got status %s, want ACTIVE", updated.Status)
	}
	if len(updated.UserTier.PositionIDs) != 1 {
		t.Errorf("position not attached to user tier: %v", updated.UserTier.PositionIDs)
	}
	if !s.sink.has(domain.EventPositionOpened) {
		t.Error("position opened event not emitted")
	}
}

func TestOpenPosition_InvalidLeverage(t *testing.T) {
	s := newStack()
	account := s.createAccount(t, "u1", "10000")
	s.oracle.setPrice("BTC/USDT", decimal.NewFromInt(45000))

	for _, leverage := range []string{"0", "11"} {
		_, err := s.positionSvc.Open(context.Background(), openReq("u1", account.ID, "0.1", leverage))
		if !errors.Is(err, domain.ErrInvalidLeverage) {
			t.Errorf("leverage %s: got %v, want ErrInvalidLeverage", leverage, err)
		}
	}
}

func TestOpenPosition_LedgerFailureRollsBack(t *testing.T) {
	s := newStack()
	account := s.createAccount(t, "u1", "10000")
	s.oracle.setPrice("BTC/USDT", decimal.NewFromInt(45000))
	s.ledger.failNext = true

	_, err := s.positionSvc.Open(context.Background(), openReq("u1", account.ID, "0.1", "10"))
	if err == nil {
		t.Fatal("open should fail when ledger posting fails")
	}

	updated, _ := s.accountSvc.Get(context.Background(), account.ID)
	eq(t, updated.UsedMargin, "0", "margin rolled back")
	eq(t, updated.AvailableBalance, "10000", "balance rolled back")
	if len(updated.UserTier.PositionIDs) != 0 {
		t.Errorf("position left attached after rollback: %v", updated.UserTier.PositionIDs)
	}
}

func TestClosePosition_RoundTripAtEntryPrice(t *testing.T) {
	s := newStack()
	account := s.createAccount(t, "u1", "10000")
	s.oracle.setPrice("BTC/USDT", decimal.NewFromInt(100))

	position, err := s.positionSvc.Open(context.Background(), openReq("u1", account.ID, "10", "5"))
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}

	result, err := s.positionSvc.Close(context.Background(), &application.ClosePositionRequest{
		UserID: "u1", TenantID: "t1", BrokerID: "b1", PositionID: position.ID,
	})
	if err != nil {
		t.Fatalf("close failed: %v", err)
	}

	eq(t, decimal.RequireFromString(result.RealizedPnL), "0", "round-trip pnl")
	updated, _ := s.accountSvc.Get(context.Background(), account.ID)
	eq(t, updated.UsedMargin, "0", "used margin restored")
	eq(t, updated.AvailableBalance, "10000", "balance restored")
	if result.Position.Status != domain.PositionStatusClosed {
		t.Errorf("got status %s, want CLOSED", result.Position.Status)
	}
	if result.TransactionID == "" {
		t.Error("close must return the ledger transaction id")
	}
}

func TestClosePosition_ProfitRealized(t *testing.T) {
	s := newStack()
	account := s.createAccount(t, "u1", "10000")
	s.oracle.setPrice("BTC/USDT", decimal.NewFromInt(45000))

	position, err := s.positionSvc.Open(context.Background(), openReq("u1", account.ID, "0.1", "10"))
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}

	s.oracle.setPrice("BTC/USDT", decimal.NewFromInt(46000))
	result, err := s.positionSvc.Close(context.Background(), &application.ClosePositionRequest{
		UserID: "u1", TenantID: "t1", BrokerID: "b1", PositionID: position.ID,
	})
	if err != nil {
		t.Fatalf("close failed: %v", err)
	}

	eq(t, decimal.RequireFromString(result.RealizedPnL), "100", "realized pnl")
	updated, _ := s.accountSvc.Get(context.Background(), account.ID)
	eq(t, updated.TotalEquity, "10100", "equity with profit")
	eq(t, updated.AvailableBalance, "10100", "balance with profit")
}

func TestClosePosition_LedgerFailureLeavesStateUnchanged(t *testing.T) {
	s := newStack()
	ctx := context.Background()
	account := s.createAccount(t, "u1", "10000")
	s.oracle.setPrice("BTC/USDT", decimal.NewFromInt(45000))

	position, err := s.positionSvc.Open(ctx, openReq("u1", account.ID, "0.1", "10"))
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}

	s.ledger.failNext = true
	_, err = s.positionSvc.Close(ctx, &application.ClosePositionRequest{
		UserID: "u1", TenantID: "t1", BrokerID: "b1", PositionID: position.ID,
	})
	if err == nil {
		t.Fatal("close should fail when ledger posting fails")
	}

	still, _ := s.positions.FindByID(ctx, position.ID)
	if !still.IsOpen() {
		t.Errorf("position should stay open, got %s", still.Status)
	}
	eq(t, still.Size, "0.1", "position size unchanged")
	eq(t, still.MarginUsed, "450", "position margin unchanged")

	after, _ := s.accountSvc.Get(ctx, account.ID)
	eq(t, after.UsedMargin, "450", "account margin unchanged")
	eq(t, after.AvailableBalance, "9550", "available balance unchanged")
}

func TestClosePosition_AfterMarkSweepSettlesUnrealized(t *testing.T) {
	s := newStack()
	ctx := context.Background()
	account := s.createAccount(t, "u1", "10000")
	s.oracle.setPrice("BTC/USDT", decimal.NewFromInt(100))

	position, err := s.positionSvc.Open(ctx, openReq("u1", account.ID, "10", "5"))
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}

	// mark to 110 first so the 100 profit is already swept into equity
	s.oracle.setPrice("BTC/USDT", decimal.NewFromInt(110))
	if err := s.monitor.RefreshAccount(ctx, account.ID); err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	swept, _ := s.accountSvc.Get(ctx, account.ID)
	eq(t, swept.TotalEquity, "10100", "equity after sweep")
	eq(t, swept.UnrealizedPnL, "100", "unrealized after sweep")

	result, err := s.positionSvc.Close(ctx, &application.ClosePositionRequest{
		UserID: "u1", TenantID: "t1", BrokerID: "b1", PositionID: position.ID,
	})
	if err != nil {
		t.Fatalf("close failed: %v", err)
	}
	eq(t, decimal.RequireFromString(result.RealizedPnL), "100", "realized pnl")

	// the swept unrealized profit converts to realized; it must not count twice
	after, _ := s.accountSvc.Get(ctx, account.ID)
	eq(t, after.TotalEquity, "10100", "equity after close")
	eq(t, after.UnrealizedPnL, "0", "unrealized retired at close")
	eq(t, after.AvailableBalance, "10100", "available balance after close")
}

func TestClosePosition_TerminalStatesRejected(t *testing.T) {
	s := newStack()
	s.createAccount(t, "u1", "10000")

	_, err := s.positionSvc.Close(context.Background(), &application.ClosePositionRequest{
		UserID: "u1", TenantID: "t1", BrokerID: "b1", PositionID: "POS-missing",
	})
	if !errors.Is(err, domain.ErrPositionNotFound) {
		t.Errorf("got %v, want ErrPositionNotFound", err)
	}
}

// ============================================================================
// Test: Concurrency
// ============================================================================

func TestConcurrentOpens_NoMarginDoubleSpend(t *testing.T) {
	s := newStack()
	account := s.createAccount(t, "u1", "1000")
	s.oracle.setPrice("BTC/USDT", decimal.NewFromInt(45000))

	// each open needs 900 margin; only one can fit into 1000
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.positionSvc.Open(context.Background(), openReq("u1", account.ID, "0.1", "5"))
		}(i)
	}
	wg.Wait()

	var ok, rejected int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, domain.ErrInsufficientMargin):
			rejected++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if ok != 1 || rejected != 1 {
		t.Errorf("got %d successes, %d rejections, want 1/1", ok, rejected)
	}

	updated, _ := s.accountSvc.Get(context.Background(), account.ID)
	eq(t, updated.UsedMargin, "900", "used margin after concurrent opens")
}

// ============================================================================
// Test: Liquidation
// ============================================================================

func TestLiquidation_EndToEnd(t *testing.T) {
	s := newStack()
	ctx := context.Background()
	account := s.createAccount(t, "u1", "500")
	s.oracle.setPrice("BTC/USDT", decimal.NewFromInt(45000))

	position, err := s.positionSvc.Open(ctx, openReq("u1", account.ID, "0.1", "10"))
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}

	// crash the mark price: pnl -500 wipes out the equity
	s.oracle.setPrice("BTC/USDT", decimal.NewFromInt(40000))
	if err := s.monitor.RefreshAccount(ctx, account.ID); err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	breached, _ := s.accountSvc.Get(ctx, account.ID)
	if breached.Status != domain.AccountStatusLiquidation {
		t.Fatalf("got status %s, want LIQUIDATION", breached.Status)
	}

	if err := s.engine.RunCycle(ctx); err != nil {
		t.Fatalf("liquidation cycle failed: %v", err)
	}

	liquidated, _ := s.positions.FindByID(ctx, position.ID)
	if liquidated.Status != domain.PositionStatusLiquidated {
		t.Errorf("got position status %s, want LIQUIDATED", liquidated.Status)
	}

	events, _ := s.engine.History(ctx, account.ID)
	if len(events) != 1 {
		t.Fatalf("got %d liquidation events, want 1", len(events))
	}
	if events[0].Status != domain.LiquidationEventExecuted {
		t.Errorf("got event status %s, want EXECUTED", events[0].Status)
	}
	// 0.1 * 40000 * 0.03
	eq(t, events[0].PenaltyFee, "120", "penalty fee")

	after, _ := s.accountSvc.Get(ctx, account.ID)
	eq(t, after.UsedMargin, "0", "margin released")
	// 500 deposit - 500 realized loss - 120 penalty, nothing left as unrealized
	eq(t, after.TotalEquity, "-120", "equity after liquidation")
	eq(t, after.UnrealizedPnL, "0", "unrealized retired at liquidation")
	if !s.sink.has(domain.EventLiquidationExecuted) {
		t.Error("liquidation event not emitted")
	}
}

func TestLiquidation_IdempotentOnTerminalPosition(t *testing.T) {
	s := newStack()
	ctx := context.Background()
	account := s.createAccount(t, "u1", "500")
	s.oracle.setPrice("BTC/USDT", decimal.NewFromInt(45000))

	position, err := s.positionSvc.Open(ctx, openReq("u1", account.ID, "0.1", "10"))
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}

	if _, err := s.engine.Liquidate(ctx, position.ID, domain.LiquidationReasonForced); err != nil {
		t.Fatalf("first liquidation failed: %v", err)
	}
	if _, err := s.engine.Liquidate(ctx, position.ID, domain.LiquidationReasonForced); !errors.Is(err, domain.ErrPositionNotFound) {
		t.Errorf("second liquidation: got %v, want ErrPositionNotFound", err)
	}

	events, _ := s.engine.History(ctx, account.ID)
	if len(events) != 1 {
		t.Errorf("got %d events, want exactly 1 (no double penalty)", len(events))
	}
}

func TestLiquidation_LedgerFailureLeavesPositionOpen(t *testing.T) {
	s := newStack()
	ctx := context.Background()
	account := s.createAccount(t, "u1", "500")
	s.oracle.setPrice("BTC/USDT", decimal.NewFromInt(45000))

	position, err := s.positionSvc.Open(ctx, openReq("u1", account.ID, "0.1", "10"))
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}

	s.ledger.failNext = true
	if _, err := s.engine.Liquidate(ctx, position.ID, domain.LiquidationReasonForced); err == nil {
		t.Fatal("liquidation should fail when ledger posting fails")
	}

	still, _ := s.positions.FindByID(ctx, position.ID)
	if !still.IsOpen() {
		t.Errorf("position should stay open for retry, got %s", still.Status)
	}
	events, _ := s.engine.History(ctx, account.ID)
	if len(events) != 1 || events[0].Status != domain.LiquidationEventFailed {
		t.Errorf("expected one FAILED event, got %v", events)
	}

	// next sweep succeeds
	if _, err := s.engine.Liquidate(ctx, position.ID, domain.LiquidationReasonForced); err != nil {
		t.Fatalf("retry liquidation failed: %v", err)
	}
}

// ============================================================================
// Test: Risk monitor
// ============================================================================

func TestRiskMonitor_MarginCallEventOnTransition(t *testing.T) {
	s := newStack()
	ctx := context.Background()
	account := s.createAccount(t, "u1", "500")
	s.oracle.setPrice("BTC/USDT", decimal.NewFromInt(45000))

	if _, err := s.positionSvc.Open(ctx, openReq("u1", account.ID, "0.1", "10")); err != nil {
		t.Fatalf("open failed: %v", err)
	}

	// pnl -450: equity 50 / used 450 ≈ 0.111, inside the margin call band
	s.oracle.setPrice("BTC/USDT", decimal.NewFromInt(40500))
	if err := s.monitor.RefreshAccount(ctx, account.ID); err != nil {
		t.Fatalf("refresh failed: %v", err)
	}

	updated, _ := s.accountSvc.Get(ctx, account.ID)
	if updated.Status != domain.AccountStatusMarginCall {
		t.Errorf("got status %s, want MARGIN_CALL", updated.Status)
	}
	if !s.sink.has(domain.EventMarginCall) {
		t.Error("margin call event not emitted")
	}
}

// ============================================================================
// Test: Risk score aggregation
// ============================================================================

func TestUpdateUserRiskScore_TierAggregation(t *testing.T) {
	s := newStack()
	ctx := context.Background()
	a1 := s.createAccount(t, "u1", "1000")
	s.createAccount(t, "u2", "1000")

	if _, err := s.accountSvc.UpdateUserRiskScore(ctx, "u2", "t1", "b1", decimal.NewFromInt(40)); err != nil {
		t.Fatalf("update u2 failed: %v", err)
	}
	result, err := s.accountSvc.UpdateUserRiskScore(ctx, "u1", "t1", "b1", decimal.NewFromInt(80))
	if err != nil {
		t.Fatalf("update u1 failed: %v", err)
	}

	if result.UserScore != "80" {
		t.Errorf("user score: got %s, want 80", result.UserScore)
	}
	// broker score = mean(80, 40)
	if result.BrokerScore != "60" {
		t.Errorf("broker score: got %s, want 60", result.BrokerScore)
	}
	// single broker: platform score equals broker score
	if result.PlatformScore != "60" {
		t.Errorf("platform score: got %s, want 60", result.PlatformScore)
	}

	stored, _ := s.accountSvc.Get(ctx, a1.ID)
	eq(t, stored.BrokerTier.RiskScore, "60", "broker tier score written back")
	eq(t, stored.PlatformTier.RiskScore, "60", "platform tier score written back")
}

func TestUpdateUserRiskScore_PlatformScoreSpansBrokers(t *testing.T) {
	s := newStack()
	ctx := context.Background()
	a1 := s.createAccount(t, "u1", "1000")
	a2, err := s.accountSvc.Create(ctx, &application.CreateAccountRequest{
		UserID: "u3", TenantID: "t1", BrokerID: "b2", AccountType: "CROSS",
		InitialDeposit: "1000",
	})
	if err != nil {
		t.Fatalf("create b2 account failed: %v", err)
	}

	if _, err := s.accountSvc.UpdateUserRiskScore(ctx, "u1", "t1", "b1", decimal.NewFromInt(80)); err != nil {
		t.Fatalf("update u1 failed: %v", err)
	}
	result, err := s.accountSvc.UpdateUserRiskScore(ctx, "u3", "t1", "b2", decimal.NewFromInt(40))
	if err != nil {
		t.Fatalf("update u3 failed: %v", err)
	}
	// platform score = mean of per-broker means: (80 + 40) / 2
	if result.PlatformScore != "60" {
		t.Errorf("platform score: got %s, want 60", result.PlatformScore)
	}

	// every broker's accounts carry the same platform score
	first, _ := s.accountSvc.Get(ctx, a1.ID)
	eq(t, first.BrokerTier.RiskScore, "80", "b1 broker tier score")
	eq(t, first.PlatformTier.RiskScore, "60", "b1 platform tier score")
	second, _ := s.accountSvc.Get(ctx, a2.ID)
	eq(t, second.BrokerTier.RiskScore, "40", "b2 broker tier score")
	eq(t, second.PlatformTier.RiskScore, "60", "b2 platform tier score")
}

func TestUpdateUserRiskScore_UnknownUser(t *testing.T) {
	s := newStack()
	_, err := s.accountSvc.UpdateUserRiskScore(context.Background(), "ghost", "t1", "b1", decimal.NewFromInt(10))
	if !errors.Is(err, domain.ErrAccountNotFound) {
		t.Errorf("got %v, want ErrAccountNotFound", err)
	}
}

// ============================================================================
// Test: Funding / interest accrual
// ============================================================================

func TestRefreshRates_FallsBackToNeutralRate(t *testing.T) {
	s := newStack()
	ctx := context.Background()
	account := s.createAccount(t, "u1", "10000")
	s.oracle.setPrice("BTC/USDT", decimal.NewFromInt(45000))
	if _, err := s.positionSvc.Open(ctx, openReq("u1", account.ID, "0.1", "5")); err != nil {
		t.Fatalf("open failed: %v", err)
	}

	funding := application.NewFundingService(s.accounts, s.positions, s.rates,
		&fakeRateSource{err: errors.New("source down")},
		application.NewAccountLocker(), decimal.NewFromFloat(0.05))

	if err := funding.RefreshRates(ctx); err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	rate, err := s.rates.Find(ctx, "BTC/USDT")
	if err != nil || rate == nil {
		t.Fatalf("rate not saved: %v", err)
	}
	if !rate.Rate.IsZero() {
		t.Errorf("degraded rate should be neutral zero, got %s", rate.Rate)
	}
}

func TestRunCycle_FundingFeeSignFollowsSide(t *testing.T) {
	s := newStack()
	ctx := context.Background()
	account := s.createAccount(t, "u1", "10000")
	s.oracle.setPrice("BTC/USDT", decimal.NewFromInt(45000))
	long, err := s.positionSvc.Open(ctx, openReq("u1", account.ID, "0.1", "5"))
	if err != nil {
		t.Fatalf("open long failed: %v", err)
	}
	shortReq := openReq("u1", account.ID, "0.1", "5")
	shortReq.Side = "SHORT"
	short, err := s.positionSvc.Open(ctx, shortReq)
	if err != nil {
		t.Fatalf("open short failed: %v", err)
	}

	funding := application.NewFundingService(s.accounts, s.positions, s.rates,
		&fakeRateSource{rate: &domain.FundingRate{Symbol: "BTC/USDT", Rate: decimal.NewFromFloat(0.0001)}},
		application.NewAccountLocker(), decimal.Zero)
	if err := funding.RefreshRates(ctx); err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	if err := funding.RunCycle(ctx); err != nil {
		t.Fatalf("cycle failed: %v", err)
	}

	// 0.1 * 45000 * 0.0001: long pays, short receives
	gotLong, _ := s.positions.FindByID(ctx, long.ID)
	eq(t, gotLong.FundingFee, "0.45", "long funding fee")
	gotShort, _ := s.positions.FindByID(ctx, short.ID)
	eq(t, gotShort.FundingFee, "-0.45", "short funding fee")
}

func TestRunCycle_InterestAccruedOncePerAccount(t *testing.T) {
	s := newStack()
	ctx := context.Background()
	account := s.createAccount(t, "u1", "10000")
	s.oracle.setPrice("BTC/USDT", decimal.NewFromInt(45000))
	for i := 0; i < 2; i++ {
		if _, err := s.positionSvc.Open(ctx, openReq("u1", account.ID, "0.1", "5")); err != nil {
			t.Fatalf("open %d failed: %v", i, err)
		}
	}

	stored, _ := s.accountSvc.Get(ctx, account.ID)
	stored.UserTier.AddBorrowed("USDT", decimal.NewFromInt(100))
	if err := s.accounts.Update(ctx, stored); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	// annual 1095% over an 8h period is exactly 100% per period
	funding := application.NewFundingService(s.accounts, s.positions, s.rates,
		&fakeRateSource{err: errors.New("source down")},
		application.NewAccountLocker(), decimal.NewFromInt(1095))
	if err := funding.RunCycle(ctx); err != nil {
		t.Fatalf("cycle failed: %v", err)
	}

	after, _ := s.accountSvc.Get(ctx, account.ID)
	// doubled once, not once per open position
	eq(t, after.UserTier.Borrowed["USDT"], "200", "borrowed after single accrual")
}

// ============================================================================
// Test: Pre-trade validation
// ============================================================================

func TestValidateOpen_ItemizesEachBreach(t *testing.T) {
	s := newStack()
	ctx := context.Background()
	account := s.createAccount(t, "u1", "10000")
	s.oracle.setPrice("BTC/USDT", decimal.NewFromInt(45000))

	// leverage 20 over the 10x cap, 100 BTC over the 1M notional cap
	req := openReq("u1", account.ID, "100", "20")
	result, err := s.positionSvc.ValidateOpen(ctx, req)
	if err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	if result.IsValid {
		t.Fatal("breaching request must be invalid")
	}
	if len(result.Errors) != 2 {
		t.Errorf("got %d errors, want 2: %v", len(result.Errors), result.Errors)
	}
	// 50 for leverage + 30 for position value
	if result.RiskScore != "80" {
		t.Errorf("got risk score %s, want 80", result.RiskScore)
	}
}

func TestValidateOpen_CleanRequestLeavesNoTrace(t *testing.T) {
	s := newStack()
	ctx := context.Background()
	account := s.createAccount(t, "u1", "10000")
	s.oracle.setPrice("BTC/USDT", decimal.NewFromInt(45000))

	result, err := s.positionSvc.ValidateOpen(ctx, openReq("u1", account.ID, "0.1", "5"))
	if err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	if !result.IsValid || result.RiskScore != "0" {
		t.Errorf("got valid=%v score=%s, want valid with score 0", result.IsValid, result.RiskScore)
	}

	open, _ := s.positions.FindOpenByAccount(ctx, account.ID)
	if len(open) != 0 {
		t.Errorf("validation must not create positions, found %d", len(open))
	}
	updated, _ := s.accountSvc.Get(ctx, account.ID)
	eq(t, updated.UsedMargin, "0", "used margin untouched by validation")
}
