package usecase

import (
	"context"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
)

// AccountStore 是帳戶儲存的介面
//
// 實作必須保證: 同一個帳戶不會有兩個寫入者都根據過期的讀取成功提交
type AccountStore interface {
	// GetAccount 取得帳戶快照，不存在回傳 domain.ErrAccountNotFound
	GetAccount(ctx context.Context, accountID string) (*domain.Account, error)
	// CreateAccount 建立帳戶，opening 不為 nil 時在同一個原子單位內寫入開戶交易
	// 帳號重複回傳 domain.ErrAccountAlreadyExists
	CreateAccount(ctx context.Context, account *domain.Account, opening *domain.Transaction) error
	// Commit 在同一個原子單位內套用所有 compare-and-update 並寫入交易紀錄
	// 任一帳戶餘額不等於 Expected 時全部不寫入，回傳 domain.ErrBalanceConflict
	// 交易 ID 重複回傳 domain.ErrTransactionAlreadyProcessed
	Commit(ctx context.Context, tran *domain.Transaction, updates []domain.BalanceUpdate) error
}

// TransactionLog 是交易紀錄的查詢介面，寫入由 AccountStore.Commit 負責
type TransactionLog interface {
	// ListTransactions 依時間新到舊列出帳戶相關交易，limit <= 0 表示全部
	ListTransactions(ctx context.Context, accountID string, limit int) ([]domain.Transaction, error)
}

// Store 同時提供帳戶與交易紀錄，兩個 adapter 都實作這個介面
type Store interface {
	AccountStore
	TransactionLog
}
