package memory

import (
	"context"
	"sync"

	"github.com/wyfcoding/marginrisk/internal/margin/domain"
)

// PositionRepository domain.MarginPositionRepository 的内存实现
type PositionRepository struct {
	mu   sync.RWMutex
	byID map[string]*domain.MarginPosition
}

func NewPositionRepository() *PositionRepository {
	return &PositionRepository{byID: make(map[string]*domain.MarginPosition)}
}

func (r *PositionRepository) Create(ctx context.Context, position *domain.MarginPosition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[position.ID] = position
	return nil
}

func (r *PositionRepository) Update(ctx context.Context, position *domain.MarginPosition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[position.ID]; !ok {
		return domain.ErrPositionNotFound
	}
	r.byID[position.ID] = position
	return nil
}

func (r *PositionRepository) FindByID(ctx context.Context, id string) (*domain.MarginPosition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byID[id], nil
}

func (r *PositionRepository) FindOpenByAccount(ctx context.Context, accountID string) ([]*domain.MarginPosition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*domain.MarginPosition
	for _, pos := range r.byID {
		if pos.AccountID == accountID && pos.IsOpen() {
			out = append(out, pos)
		}
	}
	return out, nil
}

func (r *PositionRepository) FindByUser(ctx context.Context, userID, tenantID, brokerID string) ([]*domain.MarginPosition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*domain.MarginPosition
	for _, pos := range r.byID {
		if pos.UserID == userID && pos.TenantID == tenantID && pos.BrokerID == brokerID {
			out = append(out, pos)
		}
	}
	return out, nil
}

func (r *PositionRepository) FindAllOpen(ctx context.Context) ([]*domain.MarginPosition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*domain.MarginPosition
	for _, pos := range r.byID {
		if pos.IsOpen() {
			out = append(out, pos)
		}
	}
	return out, nil
}
