package resource

import (
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/mariadb-corporation/mariadb-columnstore-engine-sub001/pkg/util"
)

// MemManager is the session scope of the accountant. Memory acquired
// through it counts against both its own ceiling and the process limit.
type MemManager struct {
	_name     string
	_rm       *ResourceManager
	_limit    int64
	_acquired atomic.Int64
}

func NewMemManager(name string, rm *ResourceManager, limit int64) *MemManager {
	if limit <= 0 || limit > rm.Limit() {
		limit = rm.Limit()
	}
	return &MemManager{
		_name:  name,
		_rm:    rm,
		_limit: limit,
	}
}

func (mm *MemManager) tryReserve(n int64) bool {
	for {
		cur := mm._acquired.Load()
		if cur+n > mm._limit {
			return false
		}
		if mm._acquired.CompareAndSwap(cur, cur+n) {
			return true
		}
	}
}

func (mm *MemManager) Acquire(n int64, patience bool) bool {
	if n == 0 {
		return true
	}
	if !mm.tryReserve(n) {
		util.Info("session memory refused",
			zap.String("session", mm._name),
			util.Bytes("request", n),
			util.Bytes("acquired", mm._acquired.Load()))
		return false
	}
	if !mm._rm.GetMemory(n, patience) {
		mm._acquired.Add(-n)
		return false
	}
	return true
}

func (mm *MemManager) Release(n int64) {
	if n == 0 {
		return
	}
	left := mm._acquired.Add(-n)
	util.AssertFunc(left >= 0)
	mm._rm.ReturnMemory(n)
}

// ReleaseAll gives back whatever is still held.
func (mm *MemManager) ReleaseAll() {
	n := mm._acquired.Swap(0)
	if n > 0 {
		util.Debug("session memory released",
			zap.String("session", mm._name),
			util.Bytes("bytes", n))
		mm._rm.ReturnMemory(n)
	}
}

func (mm *MemManager) Acquired() int64 {
	return mm._acquired.Load()
}

func (mm *MemManager) Limit() int64 {
	return mm._limit
}

func (mm *MemManager) ResourceManager() *ResourceManager {
	return mm._rm
}

// Account tracks what one component took from a MemManager so it can give
// all of it back on every exit path.
type Account struct {
	_mm   *MemManager
	_used int64
}

func NewAccount(mm *MemManager) *Account {
	return &Account{_mm: mm}
}

func (acc *Account) Grow(n int64, patience bool) bool {
	if !acc._mm.Acquire(n, patience) {
		return false
	}
	acc._used += n
	return true
}

func (acc *Account) Shrink(n int64) {
	util.AssertFunc(n <= acc._used)
	acc._used -= n
	acc._mm.Release(n)
}

// Resize moves the account to exactly n bytes.
func (acc *Account) Resize(n int64, patience bool) bool {
	switch {
	case n > acc._used:
		return acc.Grow(n-acc._used, patience)
	case n < acc._used:
		acc.Shrink(acc._used - n)
	}
	return true
}

func (acc *Account) Used() int64 {
	return acc._used
}

func (acc *Account) Close() {
	if acc._used > 0 {
		acc._mm.Release(acc._used)
		acc._used = 0
	}
}
