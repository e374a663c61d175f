package mysql

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
)

// 測試以 sqlite (純 Go) 跑同一套 GORM 程式碼，不需要 MySQL
func newTestStore(t *testing.T) *GormStore {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)

	// :memory: 每條連線各自一個資料庫，固定只用一條
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	store := NewGormStore(db)
	require.NoError(t, store.Migrate(context.Background()))
	return store
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

var base = time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)

func create(t *testing.T, s *GormStore, id, balance string) {
	t.Helper()
	acc := &domain.Account{ID: id, Holder: "holder " + id, Balance: dec(balance), CreatedAt: base}
	var opening *domain.Transaction
	if acc.Balance.IsPositive() {
		opening = &domain.Transaction{
			TransactionID: uuid.New(),
			Type:          domain.TransactionTypeDeposit,
			To:            id,
			Amount:        acc.Balance,
			Note:          "opening balance",
			CreatedAt:     base,
		}
	}
	require.NoError(t, s.CreateAccount(context.Background(), acc, opening))
}

func TestGormCreateAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	create(t, s, "A1", "1000")

	acc, err := s.GetAccount(ctx, "A1")
	require.NoError(t, err)
	assert.Equal(t, "holder A1", acc.Holder)
	assert.True(t, acc.Balance.Equal(dec("1000")), "balance=%s", acc.Balance)

	err = s.CreateAccount(ctx, &domain.Account{ID: "A1", Holder: "again", CreatedAt: base}, nil)
	assert.ErrorIs(t, err, domain.ErrAccountAlreadyExists)

	_, err = s.GetAccount(ctx, "nope")
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)

	trans, err := s.ListTransactions(ctx, "A1", 0)
	require.NoError(t, err)
	require.Len(t, trans, 1)
	assert.Equal(t, domain.TransactionTypeDeposit, trans[0].Type)
	assert.Equal(t, "A1", trans[0].To)
	assert.Empty(t, trans[0].From)
}

func TestGormCommitTransfer(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	create(t, s, "A", "100")
	create(t, s, "B", "0")

	tran := &domain.Transaction{
		TransactionID: uuid.New(),
		Type:          domain.TransactionTypeTransfer,
		From:          "A",
		To:            "B",
		Amount:        dec("25.25"),
		Note:          "lunch",
		CreatedAt:     base.Add(time.Minute),
	}
	require.NoError(t, s.Commit(ctx, tran, []domain.BalanceUpdate{
		{AccountID: "A", Expected: dec("100"), New: dec("74.75")},
		{AccountID: "B", Expected: dec("0"), New: dec("25.25")},
	}))
	assert.NotZero(t, tran.Sequence)

	a, err := s.GetAccount(ctx, "A")
	require.NoError(t, err)
	b, err := s.GetAccount(ctx, "B")
	require.NoError(t, err)
	assert.True(t, a.Balance.Equal(dec("74.75")), "a=%s", a.Balance)
	assert.True(t, b.Balance.Equal(dec("25.25")), "b=%s", b.Balance)

	trans, err := s.ListTransactions(ctx, "B", 10)
	require.NoError(t, err)
	require.Len(t, trans, 1)
	assert.Equal(t, tran.TransactionID, trans[0].TransactionID)
	assert.Equal(t, "lunch", trans[0].Note)
}

func TestGormCommitConflictRollsBack(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	create(t, s, "A", "100")
	create(t, s, "B", "0")

	tran := &domain.Transaction{
		TransactionID: uuid.New(),
		Type:          domain.TransactionTypeTransfer,
		From:          "A",
		To:            "B",
		Amount:        dec("10"),
		CreatedAt:     base.Add(time.Minute),
	}
	err := s.Commit(ctx, tran, []domain.BalanceUpdate{
		{AccountID: "A", Expected: dec("100"), New: dec("90")},
		{AccountID: "B", Expected: dec("3"), New: dec("13")},
	})
	assert.ErrorIs(t, err, domain.ErrBalanceConflict)

	a, _ := s.GetAccount(ctx, "A")
	assert.True(t, a.Balance.Equal(dec("100")))
	trans, err := s.ListTransactions(ctx, "A", 0)
	require.NoError(t, err)
	assert.Len(t, trans, 1, "only the opening deposit")
}

func TestGormCommitMissingAccountAndDuplicateRef(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	create(t, s, "A", "0")

	missing := &domain.Transaction{
		TransactionID: uuid.New(),
		Type:          domain.TransactionTypeDeposit,
		To:            "ghost",
		Amount:        dec("1"),
		CreatedAt:     base,
	}
	err := s.Commit(ctx, missing, []domain.BalanceUpdate{{AccountID: "ghost", Expected: dec("0"), New: dec("1")}})
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)

	tran := &domain.Transaction{
		TransactionID: uuid.New(),
		Type:          domain.TransactionTypeDeposit,
		To:            "A",
		Amount:        dec("5"),
		CreatedAt:     base,
	}
	require.NoError(t, s.Commit(ctx, tran, []domain.BalanceUpdate{{AccountID: "A", Expected: dec("0"), New: dec("5")}}))

	dup := *tran
	err = s.Commit(ctx, &dup, []domain.BalanceUpdate{{AccountID: "A", Expected: dec("5"), New: dec("10")}})
	assert.ErrorIs(t, err, domain.ErrTransactionAlreadyProcessed)

	acc, _ := s.GetAccount(ctx, "A")
	assert.True(t, acc.Balance.Equal(dec("5")))
}

func TestGormListTransactionsOrderAndLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	create(t, s, "A", "0")

	balance := decimal.Zero
	for i := 1; i <= 4; i++ {
		tran := &domain.Transaction{
			TransactionID: uuid.New(),
			Type:          domain.TransactionTypeDeposit,
			To:            "A",
			Amount:        dec("1"),
			CreatedAt:     base.Add(time.Duration(i) * time.Second),
		}
		next := balance.Add(dec("1"))
		require.NoError(t, s.Commit(ctx, tran, []domain.BalanceUpdate{{AccountID: "A", Expected: balance, New: next}}))
		balance = next
	}

	trans, err := s.ListTransactions(ctx, "A", 2)
	require.NoError(t, err)
	require.Len(t, trans, 2)
	assert.True(t, trans[0].CreatedAt.After(trans[1].CreatedAt))
	assert.Greater(t, trans[0].Sequence, trans[1].Sequence)

	all, err := s.ListTransactions(ctx, "A", 0)
	require.NoError(t, err)
	assert.Len(t, all, 4)
}
