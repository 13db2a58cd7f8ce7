package application

import (
	"context"
	"fmt"
	"sync"

	"github.com/wyfcoding/marginrisk/internal/margin/domain"
)

// RiskLimitsRegistry 按 (userID, tenantID, brokerID) 缓存风险限额
// 首次访问时以档位默认值懒创建
type RiskLimitsRegistry struct {
	repo  domain.RiskLimitsRepository
	cache sync.Map // key -> *domain.RiskLimits
}

func NewRiskLimitsRegistry(repo domain.RiskLimitsRepository) *RiskLimitsRegistry {
	return &RiskLimitsRegistry{repo: repo}
}

// Get 返回缓存限额，未命中则读库，仍未命中则创建默认值
func (r *RiskLimitsRegistry) Get(ctx context.Context, userID, tenantID, brokerID string) (*domain.RiskLimits, error) {
	key := userID + ":" + tenantID + ":" + brokerID
	if cached, ok := r.cache.Load(key); ok {
		return cached.(*domain.RiskLimits), nil
	}

	limits, err := r.repo.Find(ctx, userID, tenantID, brokerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load risk limits: %w", err)
	}
	if limits == nil {
		limits = domain.DefaultRiskLimits(userID, tenantID, brokerID)
		if err := r.repo.Save(ctx, limits); err != nil {
			return nil, fmt.Errorf("failed to save default risk limits: %w", err)
		}
	}

	r.cache.Store(key, limits)
	return limits, nil
}
