package application

import "sync"

// AccountLocker 以 (userID, tenantID, brokerID) 为键的互斥锁集合
// 所有账户变更入口（开平仓、出入金、强平、后台循环）串行化同一账户上的
// 读-改-写序列；不同账户的操作并行
type AccountLocker struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewAccountLocker() *AccountLocker {
	return &AccountLocker{locks: make(map[string]*sync.Mutex)}
}

// Lock 锁住账户键，返回解锁函数
func (l *AccountLocker) Lock(userID, tenantID, brokerID string) func() {
	key := userID + ":" + tenantID + ":" + brokerID

	l.mu.Lock()
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
