package memory

import (
	"context"
	"sync"

	"github.com/wyfcoding/marginrisk/internal/margin/domain"
)

// RiskLimitsRepository domain.RiskLimitsRepository 的内存实现
type RiskLimitsRepository struct {
	mu    sync.RWMutex
	byKey map[string]*domain.RiskLimits
}

func NewRiskLimitsRepository() *RiskLimitsRepository {
	return &RiskLimitsRepository{byKey: make(map[string]*domain.RiskLimits)}
}

func limitsKey(userID, tenantID, brokerID string) string {
	return userID + ":" + tenantID + ":" + brokerID
}

func (r *RiskLimitsRepository) Save(ctx context.Context, limits *domain.RiskLimits) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byKey[limitsKey(limits.UserID, limits.TenantID, limits.BrokerID)] = limits
	return nil
}

func (r *RiskLimitsRepository) Find(ctx context.Context, userID, tenantID, brokerID string) (*domain.RiskLimits, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byKey[limitsKey(userID, tenantID, brokerID)], nil
}

// LiquidationEventRepository domain.LiquidationEventRepository 的内存实现
type LiquidationEventRepository struct {
	mu   sync.RWMutex
	byID map[string]*domain.LiquidationEvent
}

func NewLiquidationEventRepository() *LiquidationEventRepository {
	return &LiquidationEventRepository{byID: make(map[string]*domain.LiquidationEvent)}
}

func (r *LiquidationEventRepository) Create(ctx context.Context, event *domain.LiquidationEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[event.ID] = event
	return nil
}

func (r *LiquidationEventRepository) Update(ctx context.Context, event *domain.LiquidationEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[event.ID] = event
	return nil
}

func (r *LiquidationEventRepository) FindByAccount(ctx context.Context, accountID string) ([]*domain.LiquidationEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*domain.LiquidationEvent
	for _, ev := range r.byID {
		if ev.AccountID == accountID {
			out = append(out, ev)
		}
	}
	return out, nil
}

// FundingRateRepository domain.FundingRateRepository 的内存实现
type FundingRateRepository struct {
	mu       sync.RWMutex
	bySymbol map[string]*domain.FundingRate
}

func NewFundingRateRepository() *FundingRateRepository {
	return &FundingRateRepository{bySymbol: make(map[string]*domain.FundingRate)}
}

func (r *FundingRateRepository) Save(ctx context.Context, rate *domain.FundingRate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bySymbol[rate.Symbol] = rate
	return nil
}

func (r *FundingRateRepository) Find(ctx context.Context, symbol string) (*domain.FundingRate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.bySymbol[symbol], nil
}

func (r *FundingRateRepository) FindAll(ctx context.Context) ([]*domain.FundingRate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*domain.FundingRate, 0, len(r.bySymbol))
	for _, rate := range r.bySymbol {
		out = append(out, rate)
	}
	return out, nil
}
