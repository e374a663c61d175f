package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
)

// LockManager 帳戶層級的互斥鎖
//
// 每個帳戶一個 weight=1 的 semaphore，需要時建立，沒有持有者也沒有等待者時移除
// 不同帳戶的操作可以完全平行
type LockManager struct {
	mu      sync.Mutex
	locks   map[string]*accountLock
	timeout time.Duration
}

type accountLock struct {
	sem  *semaphore.Weighted
	refs int
}

// NewLockManager 建立 LockManager
//
// 參數:
//
//	timeout: 等待單一帳戶鎖的上限，<= 0 表示只受 ctx 限制
func NewLockManager(timeout time.Duration) *LockManager {
	return &LockManager{
		locks:   make(map[string]*accountLock),
		timeout: timeout,
	}
}

// Acquire 依照全域順序 (帳號字典序) 取得所有帳戶的鎖
//
// 參數:
//
//	ctx: 上下文，取消時放棄等待
//	ids: 帳號，可重複、可無序
//
// 回傳:
//
//	func(): 釋放所有已取得的鎖，必須呼叫一次
//	error: 等待逾時回傳 domain.ErrBusy；ctx 取消回傳 ctx.Err()
func (m *LockManager) Acquire(ctx context.Context, ids ...string) (func(), error) {
	ordered := domain.SortedIDs(ids...)
	held := make([]string, 0, len(ordered))
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			m.unlock(held[i])
		}
	}

	for _, id := range ordered {
		if err := m.lock(ctx, id); err != nil {
			release()
			return nil, err
		}
		held = append(held, id)
	}
	return release, nil
}

func (m *LockManager) lock(ctx context.Context, id string) error {
	l := m.ref(id)

	waitCtx := ctx
	if m.timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	if err := l.sem.Acquire(waitCtx, 1); err != nil {
		m.unref(id)
		// 呼叫端自己取消就回傳原本的錯誤，只有鎖等待逾時才算 Busy
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: account %s locked longer than %s", domain.ErrBusy, id, m.timeout)
		}
		return err
	}
	return nil
}

func (m *LockManager) unlock(id string) {
	m.mu.Lock()
	l, ok := m.locks[id]
	m.mu.Unlock()
	if !ok {
		return
	}
	l.sem.Release(1)
	m.unref(id)
}

func (m *LockManager) ref(id string) *accountLock {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[id]
	if !ok {
		l = &accountLock{sem: semaphore.NewWeighted(1)}
		m.locks[id] = l
	}
	l.refs++
	return l
}

func (m *LockManager) unref(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[id]
	if !ok {
		return
	}
	l.refs--
	if l.refs <= 0 {
		delete(m.locks, id)
	}
}

// size 目前追蹤中的帳戶數，測試用
func (m *LockManager) size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}
