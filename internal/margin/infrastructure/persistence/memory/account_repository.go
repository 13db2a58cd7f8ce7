// 包 memory 提供仓储接口的内存实现
// 测试与单机部署使用；并发纪律由应用层的账户锁保证，仓储只负责自身 map 的一致性
package memory

import (
	"context"
	"sync"

	"github.com/wyfcoding/marginrisk/internal/margin/domain"
)

// AccountRepository domain.MarginAccountRepository 的内存实现
type AccountRepository struct {
	mu    sync.RWMutex
	byID  map[string]*domain.MarginAccount
	byKey map[string]*domain.MarginAccount
}

func NewAccountRepository() *AccountRepository {
	return &AccountRepository{
		byID:  make(map[string]*domain.MarginAccount),
		byKey: make(map[string]*domain.MarginAccount),
	}
}

func (r *AccountRepository) Create(ctx context.Context, account *domain.MarginAccount) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byKey[account.AccountKey()]; ok {
		return domain.ErrAccountExists
	}
	r.byID[account.ID] = account
	r.byKey[account.AccountKey()] = account
	return nil
}

func (r *AccountRepository) Update(ctx context.Context, account *domain.MarginAccount) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[account.ID]; !ok {
		return domain.ErrAccountNotFound
	}
	r.byID[account.ID] = account
	r.byKey[account.AccountKey()] = account
	return nil
}

func (r *AccountRepository) FindByID(ctx context.Context, id string) (*domain.MarginAccount, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byID[id], nil
}

func (r *AccountRepository) FindByKey(ctx context.Context, userID, tenantID, brokerID string, accountType domain.AccountType, symbol string) (*domain.MarginAccount, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byKey[domain.AccountKey(userID, tenantID, brokerID, accountType, symbol)], nil
}

func (r *AccountRepository) FindByUser(ctx context.Context, userID, tenantID, brokerID string) ([]*domain.MarginAccount, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*domain.MarginAccount
	for _, acc := range r.byID {
		if acc.UserID == userID && acc.TenantID == tenantID && acc.BrokerID == brokerID {
			out = append(out, acc)
		}
	}
	return out, nil
}

func (r *AccountRepository) FindByBroker(ctx context.Context, tenantID, brokerID string) ([]*domain.MarginAccount, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*domain.MarginAccount
	for _, acc := range r.byID {
		if acc.TenantID == tenantID && acc.BrokerID == brokerID {
			out = append(out, acc)
		}
	}
	return out, nil
}

func (r *AccountRepository) FindByStatus(ctx context.Context, status domain.AccountStatus) ([]*domain.MarginAccount, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*domain.MarginAccount
	for _, acc := range r.byID {
		if acc.Status == status {
			out = append(out, acc)
		}
	}
	return out, nil
}

func (r *AccountRepository) FindAll(ctx context.Context) ([]*domain.MarginAccount, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*domain.MarginAccount, 0, len(r.byID))
	for _, acc := range r.byID {
		out = append(out, acc)
	}
	return out, nil
}
