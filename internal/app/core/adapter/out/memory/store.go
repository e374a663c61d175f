package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-bank-ledger/internal/app/core/usecase"
	"github.com/JoeShih716/go-bank-ledger/pkg/wal"
)

const (
	recordCreate = "create"
	recordCommit = "commit"
)

// walRecord WAL 中的一行
type walRecord struct {
	Kind        string                 `json:"kind"`
	Account     *domain.Account        `json:"account,omitempty"`
	Transaction *domain.Transaction    `json:"transaction,omitempty"`
	Updates     []domain.BalanceUpdate `json:"updates,omitempty"`
}

// entry 單一帳戶，mu 保護 account
type entry struct {
	mu      sync.Mutex
	account domain.Account
}

// MutexStore 是一個使用 Mutex 實現的記憶體帳本
//
// 結構:
//
//	accounts: 帳戶資料 Map，每個帳戶有自己的鎖
//	mu: 只保護 Map 結構與交易紀錄，持有時不做 I/O
//	pending: 已保留但 WAL 尚未落盤的帳號
//	transactions: 已提交的交易，依提交順序
//	byAccount: 帳號 -> transactions 的索引
//	refs: 已處理過 (或處理中) 的交易 ID
//	wal: Write-Ahead Log，nil 表示不落盤
type MutexStore struct {
	mu           sync.RWMutex
	accounts     map[string]*entry
	pending      map[string]struct{}
	transactions []domain.Transaction
	byAccount    map[string][]int
	refs         map[uuid.UUID]struct{}
	sequence     atomic.Uint64
	wal          *wal.WAL
}

// NewMutexStore 建立一個新的 MutexStore 實例，並從 WAL 恢復狀態
//
// 參數:
//
//	w: Write-Ahead Log 實例，可為 nil
//
// 回傳:
//
//	*MutexStore: MutexStore 實例
//	error: 初始化錯誤 (如 WAL 恢復失敗)
func NewMutexStore(w *wal.WAL) (*MutexStore, error) {
	store := &MutexStore{
		accounts:  make(map[string]*entry),
		pending:   make(map[string]struct{}),
		byAccount: make(map[string][]int),
		refs:      make(map[uuid.UUID]struct{}),
		wal:       w,
	}
	if w == nil {
		return store, nil
	}
	if err := store.recoverFromWAL(); err != nil {
		return nil, err
	}
	return store, nil
}

// recoverFromWAL 從 WAL 檔案恢復帳本狀態
// 只有 NewMutexStore 呼叫，無需 Lock (單執行緒)
func (m *MutexStore) recoverFromWAL() error {
	err := m.wal.ReadAll(func(jsonRaw []byte) error {
		var rec walRecord
		if err := json.Unmarshal(jsonRaw, &rec); err != nil {
			return err
		}
		return m.applyRecord(&rec)
	})
	if err != nil {
		return fmt.Errorf("recover from wal: %w", err)
	}

	// 不同帳戶的 commit 可能以任意順序寫入 WAL，依序號重建
	sort.SliceStable(m.transactions, func(i, j int) bool {
		return m.transactions[i].Sequence < m.transactions[j].Sequence
	})
	m.byAccount = make(map[string][]int)
	for i := range m.transactions {
		m.index(i)
	}
	return nil
}

// applyRecord 恢復單筆紀錄至記憶體 (不寫入 WAL)
func (m *MutexStore) applyRecord(rec *walRecord) error {
	switch rec.Kind {
	case recordCreate:
		if rec.Account == nil {
			return fmt.Errorf("create record without account")
		}
		m.accounts[rec.Account.ID] = &entry{account: *rec.Account}
		if rec.Transaction != nil {
			m.appendTransaction(*rec.Transaction)
		}
	case recordCommit:
		if rec.Transaction == nil {
			return fmt.Errorf("commit record without transaction")
		}
		for _, u := range rec.Updates {
			e, ok := m.accounts[u.AccountID]
			if !ok {
				return fmt.Errorf("%w: %s", domain.ErrAccountNotFound, u.AccountID)
			}
			e.account.Balance = u.New
		}
		m.appendTransaction(*rec.Transaction)
	default:
		return fmt.Errorf("unknown wal record kind %q", rec.Kind)
	}
	return nil
}

// appendTransaction 呼叫端需持有 m.mu 寫鎖 (或在恢復階段)
func (m *MutexStore) appendTransaction(tran domain.Transaction) {
	m.transactions = append(m.transactions, tran)
	m.refs[tran.TransactionID] = struct{}{}
	if tran.Sequence > m.sequence.Load() {
		m.sequence.Store(tran.Sequence)
	}
	m.index(len(m.transactions) - 1)
}

func (m *MutexStore) index(i int) {
	tran := &m.transactions[i]
	if tran.From != "" {
		m.byAccount[tran.From] = append(m.byAccount[tran.From], i)
	}
	if tran.To != "" && tran.To != tran.From {
		m.byAccount[tran.To] = append(m.byAccount[tran.To], i)
	}
}

// GetAccount 取得帳戶快照
func (m *MutexStore) GetAccount(ctx context.Context, accountID string) (*domain.Account, error) {
	m.mu.RLock()
	e, ok := m.accounts[accountID]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrAccountNotFound, accountID)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.account.Clone(), nil
}

// CreateAccount 建立帳戶，opening 不為 nil 時一併寫入開戶交易
//
// 帳號與開戶交易 ID 先在 m.mu 下保留，寫入 WAL 時不持有 m.mu，落盤後才讓其他人看得到帳戶
func (m *MutexStore) CreateAccount(ctx context.Context, account *domain.Account, opening *domain.Transaction) error {
	rec, err := m.reserveAccount(ctx, account, opening)
	if err != nil {
		return err
	}

	if m.wal != nil {
		if err := m.wal.Write(rec); err != nil {
			m.mu.Lock()
			delete(m.pending, account.ID)
			if rec.Transaction != nil {
				delete(m.refs, rec.Transaction.TransactionID)
			}
			m.mu.Unlock()
			return fmt.Errorf("%w: %w", domain.ErrWALWriteFailed, err)
		}
	}

	m.mu.Lock()
	delete(m.pending, account.ID)
	m.accounts[account.ID] = &entry{account: *rec.Account}
	if rec.Transaction != nil {
		m.appendTransaction(*rec.Transaction)
	}
	m.mu.Unlock()

	if rec.Transaction != nil {
		opening.Sequence = rec.Transaction.Sequence
	}
	return nil
}

// reserveAccount 保留帳號與開戶交易 ID，並產生要寫入 WAL 的紀錄
func (m *MutexStore) reserveAccount(ctx context.Context, account *domain.Account, opening *domain.Transaction) (*walRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, exists := m.accounts[account.ID]
	_, creating := m.pending[account.ID]
	if exists || creating {
		return nil, fmt.Errorf("%w: %s", domain.ErrAccountAlreadyExists, account.ID)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rec := &walRecord{Kind: recordCreate, Account: account.Clone()}
	if opening != nil {
		if _, dup := m.refs[opening.TransactionID]; dup {
			return nil, fmt.Errorf("%w: %s", domain.ErrTransactionAlreadyProcessed, opening.TransactionID)
		}
		tran := *opening
		tran.Sequence = m.sequence.Add(1)
		rec.Transaction = &tran
		m.refs[tran.TransactionID] = struct{}{}
	}
	m.pending[account.ID] = struct{}{}
	return rec, nil
}

// Commit 原子地套用餘額更新並寫入交易紀錄
//
// 流程: 保留 ref id -> 依帳號順序鎖住帳戶 -> 檢查預期餘額 -> 寫入 WAL -> 更新記憶體
//
// 參數:
//
//	ctx: 上下文，寫入 WAL 之前取消則不做任何變更
//	tran: 交易物件，Sequence 由這裡分配
//	updates: compare-and-update 清單
func (m *MutexStore) Commit(ctx context.Context, tran *domain.Transaction, updates []domain.BalanceUpdate) error {
	if err := tran.Validate(); err != nil {
		return err
	}

	// 0. Idempotency Check，先保留 ref id 避免同一筆交易在不同帳戶上併發
	m.mu.Lock()
	if _, ok := m.refs[tran.TransactionID]; ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", domain.ErrTransactionAlreadyProcessed, tran.TransactionID)
	}
	m.refs[tran.TransactionID] = struct{}{}
	entries := make(map[string]*entry, len(updates))
	ids := make([]string, 0, len(updates))
	for _, u := range updates {
		e, ok := m.accounts[u.AccountID]
		if !ok {
			delete(m.refs, tran.TransactionID)
			m.mu.Unlock()
			return fmt.Errorf("%w: %s", domain.ErrAccountNotFound, u.AccountID)
		}
		entries[u.AccountID] = e
		ids = append(ids, u.AccountID)
	}
	m.mu.Unlock()

	committed := false
	defer func() {
		if !committed {
			m.mu.Lock()
			delete(m.refs, tran.TransactionID)
			m.mu.Unlock()
		}
	}()

	// 1. 依全域順序鎖住帳戶
	ordered := domain.SortedIDs(ids...)
	for _, id := range ordered {
		entries[id].mu.Lock()
	}
	defer func() {
		for i := len(ordered) - 1; i >= 0; i-- {
			entries[ordered[i]].mu.Unlock()
		}
	}()

	// 2. Compare
	for _, u := range updates {
		current := entries[u.AccountID].account.Balance
		if !current.Equal(u.Expected) {
			return fmt.Errorf("%w: account %s is %s, expected %s",
				domain.ErrBalanceConflict, u.AccountID, current.String(), u.Expected.String())
		}
		if u.New.IsNegative() {
			return fmt.Errorf("%w: account %s", domain.ErrInsufficientFunds, u.AccountID)
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	// 3. 寫入 WAL (Critical Path)，落盤之後才算提交
	tran.Sequence = m.sequence.Add(1)
	if m.wal != nil {
		rec := &walRecord{Kind: recordCommit, Transaction: tran, Updates: updates}
		if err := m.wal.Write(rec); err != nil {
			// WAL 已截回寫入前的長度 (或進入 broken 拒絕後續寫入)，記憶體不變
			tran.Sequence = 0
			return fmt.Errorf("%w: %w", domain.ErrWALWriteFailed, err)
		}
	}

	// 4. Update
	for _, u := range updates {
		entries[u.AccountID].account.Balance = u.New
	}
	m.mu.Lock()
	m.transactions = append(m.transactions, *tran)
	m.index(len(m.transactions) - 1)
	m.mu.Unlock()

	committed = true
	return nil
}

// ListTransactions 依時間新到舊列出帳戶交易，limit <= 0 表示全部
func (m *MutexStore) ListTransactions(ctx context.Context, accountID string, limit int) ([]domain.Transaction, error) {
	m.mu.RLock()
	idx := m.byAccount[accountID]
	out := make([]domain.Transaction, 0, len(idx))
	for _, i := range idx {
		out = append(out, m.transactions[i])
	}
	m.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].Sequence > out[j].Sequence
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

var _ usecase.Store = (*MutexStore)(nil)
