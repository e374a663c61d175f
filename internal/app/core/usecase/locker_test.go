package usecase

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
)

func TestLockManagerMutualExclusion(t *testing.T) {
	m := NewLockManager(time.Second)
	var inside atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := m.Acquire(context.Background(), "A")
			require.NoError(t, err)
			assert.Equal(t, int32(1), inside.Add(1))
			time.Sleep(time.Millisecond)
			inside.Add(-1)
			release()
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, m.size(), "locks are dropped when nobody holds or waits")
}

func TestLockManagerDisjointAccountsRunInParallel(t *testing.T) {
	m := NewLockManager(time.Second)
	releaseA, err := m.Acquire(context.Background(), "A")
	require.NoError(t, err)
	defer releaseA()

	releaseB, err := m.Acquire(context.Background(), "B")
	require.NoError(t, err)
	releaseB()
}

func TestLockManagerTimeoutIsBusy(t *testing.T) {
	m := NewLockManager(20 * time.Millisecond)
	release, err := m.Acquire(context.Background(), "B")
	require.NoError(t, err)

	_, err = m.Acquire(context.Background(), "B", "A")
	assert.ErrorIs(t, err, domain.ErrBusy)

	// 先拿到的 A 在失敗時必須被釋放
	releaseA, err := m.Acquire(context.Background(), "A")
	require.NoError(t, err)
	releaseA()

	release()
	assert.Equal(t, 0, m.size())
}

func TestLockManagerCanceledContext(t *testing.T) {
	m := NewLockManager(time.Second)
	release, err := m.Acquire(context.Background(), "A")
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = m.Acquire(ctx, "A")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, domain.ErrBusy)
}

func TestLockManagerDuplicateIDs(t *testing.T) {
	m := NewLockManager(50 * time.Millisecond)
	release, err := m.Acquire(context.Background(), "A", "A")
	require.NoError(t, err, "same id twice must not self-deadlock")
	assert.Equal(t, 1, m.size())
	release()
	assert.Equal(t, 0, m.size())
}

func TestLockManagerOppositeOrder(t *testing.T) {
	m := NewLockManager(5 * time.Second)
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids := []string{"A", "B"}
			if i%2 == 1 {
				ids = []string{"B", "A"}
			}
			release, err := m.Acquire(context.Background(), ids...)
			require.NoError(t, err)
			release()
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 0, m.size())
}
