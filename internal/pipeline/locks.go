package pipeline

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// vaultLocks 按金库地址串行化读取-计算-执行的临界区，
// 避免并发执行针对同一金库得出基于过期余额的分配。
type vaultLocks struct {
	mu    sync.Mutex
	locks map[common.Address]*sync.Mutex
}

func newVaultLocks() *vaultLocks {
	return &vaultLocks{locks: make(map[common.Address]*sync.Mutex)}
}

// Acquire 锁定目标金库，返回对应的解锁函数。
func (v *vaultLocks) Acquire(vault common.Address) func() {
	v.mu.Lock()
	lock, ok := v.locks[vault]
	if !ok {
		lock = &sync.Mutex{}
		v.locks[vault] = lock
	}
	v.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}
