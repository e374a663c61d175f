package memory

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-bank-ledger/pkg/wal"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func mustCreate(t *testing.T, s *MutexStore, id, balance string) {
	t.Helper()
	acc := &domain.Account{ID: id, Holder: id, Balance: dec(balance), CreatedAt: time.Now()}
	var opening *domain.Transaction
	if acc.Balance.IsPositive() {
		opening = &domain.Transaction{
			TransactionID: uuid.New(),
			Type:          domain.TransactionTypeDeposit,
			To:            id,
			Amount:        acc.Balance,
			CreatedAt:     acc.CreatedAt,
		}
	}
	require.NoError(t, s.CreateAccount(context.Background(), acc, opening))
}

func deposit(id, amount, expected, next string) (*domain.Transaction, []domain.BalanceUpdate) {
	tran := &domain.Transaction{
		TransactionID: uuid.New(),
		Type:          domain.TransactionTypeDeposit,
		To:            id,
		Amount:        dec(amount),
		CreatedAt:     time.Now(),
	}
	return tran, []domain.BalanceUpdate{{AccountID: id, Expected: dec(expected), New: dec(next)}}
}

func TestCreateAndGet(t *testing.T) {
	s, err := NewMutexStore(nil)
	require.NoError(t, err)
	ctx := context.Background()

	mustCreate(t, s, "A1", "1000")

	acc, err := s.GetAccount(ctx, "A1")
	require.NoError(t, err)
	assert.True(t, acc.Balance.Equal(dec("1000")))

	// 回傳的是拷貝
	acc.Balance = dec("1")
	again, err := s.GetAccount(ctx, "A1")
	require.NoError(t, err)
	assert.True(t, again.Balance.Equal(dec("1000")))

	err = s.CreateAccount(ctx, &domain.Account{ID: "A1"}, nil)
	assert.ErrorIs(t, err, domain.ErrAccountAlreadyExists)

	_, err = s.GetAccount(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)

	trans, err := s.ListTransactions(ctx, "A1", 0)
	require.NoError(t, err)
	require.Len(t, trans, 1, "opening deposit is logged")
	assert.Equal(t, uint64(1), trans[0].Sequence)
}

func TestCommitCompareAndUpdate(t *testing.T) {
	s, err := NewMutexStore(nil)
	require.NoError(t, err)
	ctx := context.Background()
	mustCreate(t, s, "A1", "100")

	tran, updates := deposit("A1", "50", "100", "150")
	require.NoError(t, s.Commit(ctx, tran, updates))

	// 過期的預期餘額
	stale, staleUpdates := deposit("A1", "50", "100", "150")
	err = s.Commit(ctx, stale, staleUpdates)
	assert.ErrorIs(t, err, domain.ErrBalanceConflict)

	acc, err := s.GetAccount(ctx, "A1")
	require.NoError(t, err)
	assert.True(t, acc.Balance.Equal(dec("150")))

	trans, err := s.ListTransactions(ctx, "A1", 0)
	require.NoError(t, err)
	assert.Len(t, trans, 2, "failed commit must not be logged")

	// 失敗的 ref id 可以重新使用
	_, retryUpdates := deposit("A1", "50", "150", "200")
	require.NoError(t, s.Commit(ctx, stale, retryUpdates))
}

func TestCommitDuplicateRef(t *testing.T) {
	s, err := NewMutexStore(nil)
	require.NoError(t, err)
	ctx := context.Background()
	mustCreate(t, s, "A1", "0")

	tran, updates := deposit("A1", "10", "0", "10")
	require.NoError(t, s.Commit(ctx, tran, updates))

	dup := *tran
	err = s.Commit(ctx, &dup, []domain.BalanceUpdate{{AccountID: "A1", Expected: dec("10"), New: dec("20")}})
	assert.ErrorIs(t, err, domain.ErrTransactionAlreadyProcessed)
}

func TestCommitTransferIsAllOrNothing(t *testing.T) {
	s, err := NewMutexStore(nil)
	require.NoError(t, err)
	ctx := context.Background()
	mustCreate(t, s, "A", "100")
	mustCreate(t, s, "B", "0")

	tran := &domain.Transaction{
		TransactionID: uuid.New(),
		Type:          domain.TransactionTypeTransfer,
		From:          "A",
		To:            "B",
		Amount:        dec("40"),
		CreatedAt:     time.Now(),
	}
	// B 的預期餘額錯誤，A 也不能被扣款
	err = s.Commit(ctx, tran, []domain.BalanceUpdate{
		{AccountID: "A", Expected: dec("100"), New: dec("60")},
		{AccountID: "B", Expected: dec("5"), New: dec("45")},
	})
	assert.ErrorIs(t, err, domain.ErrBalanceConflict)

	a, _ := s.GetAccount(ctx, "A")
	b, _ := s.GetAccount(ctx, "B")
	assert.True(t, a.Balance.Equal(dec("100")))
	assert.True(t, b.Balance.IsZero())
}

func TestCommitCanceledContext(t *testing.T) {
	s, err := NewMutexStore(nil)
	require.NoError(t, err)
	mustCreate(t, s, "A1", "0")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	tran, updates := deposit("A1", "10", "0", "10")
	err = s.Commit(ctx, tran, updates)
	assert.ErrorIs(t, err, context.Canceled)

	acc, _ := s.GetAccount(context.Background(), "A1")
	assert.True(t, acc.Balance.IsZero())
}

func TestListTransactionsNewestFirst(t *testing.T) {
	s, err := NewMutexStore(nil)
	require.NoError(t, err)
	ctx := context.Background()
	mustCreate(t, s, "A1", "0")

	balance := decimal.Zero
	for i := 0; i < 5; i++ {
		tran, updates := deposit("A1", "1", balance.String(), balance.Add(dec("1")).String())
		require.NoError(t, s.Commit(ctx, tran, updates))
		balance = balance.Add(dec("1"))
	}

	trans, err := s.ListTransactions(ctx, "A1", 3)
	require.NoError(t, err)
	require.Len(t, trans, 3)
	assert.Greater(t, trans[0].Sequence, trans[1].Sequence)
	assert.Greater(t, trans[1].Sequence, trans[2].Sequence)

	none, err := s.ListTransactions(ctx, "other", 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestRecoverFromWAL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wal.log")
	w, err := wal.NewWAL(path)
	require.NoError(t, err)

	s, err := NewMutexStore(w)
	require.NoError(t, err)
	ctx := context.Background()
	mustCreate(t, s, "A", "100")
	mustCreate(t, s, "B", "0")

	tran := &domain.Transaction{
		TransactionID: uuid.New(),
		Type:          domain.TransactionTypeTransfer,
		From:          "A",
		To:            "B",
		Amount:        dec("30.5"),
		Note:          "rent",
		CreatedAt:     time.Now(),
	}
	require.NoError(t, s.Commit(ctx, tran, []domain.BalanceUpdate{
		{AccountID: "A", Expected: dec("100"), New: dec("69.5")},
		{AccountID: "B", Expected: dec("0"), New: dec("30.5")},
	}))
	require.NoError(t, w.Close())

	w2, err := wal.NewWAL(path)
	require.NoError(t, err)
	defer w2.Close()
	recovered, err := NewMutexStore(w2)
	require.NoError(t, err)

	a, err := recovered.GetAccount(ctx, "A")
	require.NoError(t, err)
	b, err := recovered.GetAccount(ctx, "B")
	require.NoError(t, err)
	assert.True(t, a.Balance.Equal(dec("69.5")))
	assert.True(t, b.Balance.Equal(dec("30.5")))

	trans, err := recovered.ListTransactions(ctx, "B", 0)
	require.NoError(t, err)
	require.Len(t, trans, 1)
	assert.Equal(t, "rent", trans[0].Note)
	assert.Equal(t, domain.TransactionTypeTransfer, trans[0].Type)

	// 重放後 ref id 仍然去重，序號接續
	dup := *tran
	err = recovered.Commit(ctx, &dup, []domain.BalanceUpdate{
		{AccountID: "A", Expected: dec("69.5"), New: dec("39")},
		{AccountID: "B", Expected: dec("30.5"), New: dec("61")},
	})
	assert.ErrorIs(t, err, domain.ErrTransactionAlreadyProcessed)

	next, updates := deposit("B", "1", "30.5", "31.5")
	require.NoError(t, recovered.Commit(ctx, next, updates))
	assert.Equal(t, uint64(3), next.Sequence)
}

func TestConcurrentCommitsOnDisjointAccounts(t *testing.T) {
	s, err := NewMutexStore(nil)
	require.NoError(t, err)
	ctx := context.Background()

	const n = 20
	ids := make([]string, n)
	for i := range ids {
		ids[i] = uuid.NewString()
		mustCreate(t, s, ids[i], "0")
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			tran, updates := deposit(id, "5", "0", "5")
			assert.NoError(t, s.Commit(ctx, tran, updates))
		}(id)
	}
	wg.Wait()

	for _, id := range ids {
		acc, err := s.GetAccount(ctx, id)
		require.NoError(t, err)
		assert.True(t, acc.Balance.Equal(dec("5")))
	}
}

func TestWALFailureLeavesStateUnchanged(t *testing.T) {
	w, err := wal.NewWAL(filepath.Join(t.TempDir(), "wal.log"))
	require.NoError(t, err)
	s, err := NewMutexStore(w)
	require.NoError(t, err)
	ctx := context.Background()
	mustCreate(t, s, "A", "100")

	// 關閉後寫入失敗且無法截斷，WAL 進入 broken
	require.NoError(t, w.Close())

	tran, updates := deposit("A", "5", "100", "105")
	err = s.Commit(ctx, tran, updates)
	require.ErrorIs(t, err, domain.ErrWALWriteFailed)
	assert.Zero(t, tran.Sequence)

	retry, updates := deposit("A", "5", "100", "105")
	err = s.Commit(ctx, retry, updates)
	require.ErrorIs(t, err, domain.ErrWALWriteFailed)
	assert.ErrorIs(t, err, wal.ErrBroken, "later commits are refused")

	acc, err := s.GetAccount(ctx, "A")
	require.NoError(t, err)
	assert.True(t, acc.Balance.Equal(dec("100")))
	trans, err := s.ListTransactions(ctx, "A", 0)
	require.NoError(t, err)
	assert.Len(t, trans, 1)

	err = s.CreateAccount(ctx, &domain.Account{ID: "B", Balance: decimal.Zero}, nil)
	require.ErrorIs(t, err, domain.ErrWALWriteFailed)
	_, err = s.GetAccount(ctx, "B")
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)

	// 失敗的開戶不會佔住帳號
	err = s.CreateAccount(ctx, &domain.Account{ID: "B", Balance: decimal.Zero}, nil)
	assert.ErrorIs(t, err, domain.ErrWALWriteFailed)
	assert.NotErrorIs(t, err, domain.ErrAccountAlreadyExists)
}

func TestConcurrentCreateSameAccount(t *testing.T) {
	w, err := wal.NewWAL(filepath.Join(t.TempDir(), "wal.log"))
	require.NoError(t, err)
	defer w.Close()
	s, err := NewMutexStore(w)
	require.NoError(t, err)
	mustCreate(t, s, "other", "1")

	const n = 16
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.CreateAccount(context.Background(), &domain.Account{ID: "A", Balance: decimal.Zero}, nil)
			// 開戶寫 WAL 期間不擋其他帳戶的讀取
			_, err := s.GetAccount(context.Background(), "other")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	close(errs)

	created := 0
	for err := range errs {
		if err == nil {
			created++
			continue
		}
		assert.ErrorIs(t, err, domain.ErrAccountAlreadyExists)
	}
	assert.Equal(t, 1, created)
}
