package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-bank-ledger/pkg/logger"
)

const (
	// DefaultLockTimeout 等待帳戶鎖的預設上限
	DefaultLockTimeout = 2 * time.Second
	// DefaultHistoryLimit 查詢交易紀錄的預設筆數
	DefaultHistoryLimit = 10
	// openingNote 開戶金額寫入交易紀錄時的備註
	openingNote = "opening balance"
)

// Options CoreUseCase 的可調參數，零值使用預設
type Options struct {
	LockTimeout  time.Duration
	HistoryLimit int
	Clock        *Clock
}

// CoreUseCase 是核心業務邏輯層 (Ledger Engine)
//
// 所有改變餘額的操作都在持有相關帳戶鎖的情況下完成 讀取 -> 檢查 -> compare-and-update
type CoreUseCase struct {
	store        Store
	locks        *LockManager
	clock        *Clock
	historyLimit int
}

func NewCoreUseCase(store Store, opts Options) *CoreUseCase {
	if opts.LockTimeout == 0 {
		opts.LockTimeout = DefaultLockTimeout
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = DefaultHistoryLimit
	}
	if opts.Clock == nil {
		opts.Clock = NewClock(nil)
	}
	return &CoreUseCase{
		store:        store,
		locks:        NewLockManager(opts.LockTimeout),
		clock:        opts.Clock,
		historyLimit: opts.HistoryLimit,
	}
}

// CreateAccountCommand 開戶參數
type CreateAccountCommand struct {
	ID             string
	Holder         string
	InitialBalance decimal.Decimal
}

// MoneyCommand 存款或提款參數
type MoneyCommand struct {
	// RefID 外部追蹤號，零值時自動產生
	RefID     uuid.UUID
	AccountID string
	Amount    decimal.Decimal
	Note      string
}

// TransferCommand 轉帳參數
type TransferCommand struct {
	RefID  uuid.UUID
	From   string
	To     string
	Amount decimal.Decimal
	Note   string
}

// TransferResult 轉帳結果與雙方最新餘額
type TransferResult struct {
	Transaction domain.Transaction
	From        *domain.Account
	To          *domain.Account
}

// AuditReport 以交易紀錄重算單一帳戶餘額的結果
type AuditReport struct {
	AccountID    string
	Balance      decimal.Decimal
	Replayed     decimal.Decimal
	Transactions int
	Consistent   bool
}

// CreateAccount 開戶
//
// 參數:
//
//	ctx: 上下文
//	cmd: 帳號、持有人、開戶金額 (>= 0)
//
// 回傳:
//
//	*domain.Account: 新帳戶
//	error: ErrInvalidAccountID, ErrInvalidAmount, ErrAccountAlreadyExists, ErrBusy, ErrStoreUnavailable
func (c *CoreUseCase) CreateAccount(ctx context.Context, cmd CreateAccountCommand) (*domain.Account, error) {
	fields := logger.Fields{"accountId": cmd.ID, "initialBalance": domain.DisplayAmount(cmd.InitialBalance)}

	now := c.clock.Now()
	account, err := domain.NewAccount(cmd.ID, cmd.Holder, cmd.InitialBalance, now)
	if err != nil {
		return nil, c.fail("create account", err, fields)
	}

	var opening *domain.Transaction
	if account.Balance.IsPositive() {
		opening = &domain.Transaction{
			TransactionID: uuid.New(),
			Type:          domain.TransactionTypeDeposit,
			To:            account.ID,
			Amount:        account.Balance,
			Note:          openingNote,
			CreatedAt:     now,
		}
	}

	release, err := c.locks.Acquire(ctx, account.ID)
	if err != nil {
		return nil, c.fail("create account", err, fields)
	}
	defer release()

	if err := ctx.Err(); err != nil {
		return nil, c.fail("create account", err, fields)
	}
	if err := c.store.CreateAccount(ctx, account, opening); err != nil {
		return nil, c.fail("create account", storeError(err), fields)
	}

	logger.Info("account created", fields)
	return account.Clone(), nil
}

// GetAccount 取得帳戶快照
func (c *CoreUseCase) GetAccount(ctx context.Context, accountID string) (*domain.Account, error) {
	account, err := c.store.GetAccount(ctx, normalizeID(accountID))
	if err != nil {
		return nil, storeError(err)
	}
	return account, nil
}

// GetBalance 取得帳戶餘額
func (c *CoreUseCase) GetBalance(ctx context.Context, accountID string) (decimal.Decimal, error) {
	account, err := c.GetAccount(ctx, accountID)
	if err != nil {
		return decimal.Zero, err
	}
	return account.Balance, nil
}

// Deposit 存款
//
// 回傳:
//
//	*domain.Account: 存款後的帳戶
//	error: ErrInvalidAmount, ErrAccountNotFound, ErrTransactionAlreadyProcessed, ErrBusy, ErrStoreUnavailable
func (c *CoreUseCase) Deposit(ctx context.Context, cmd MoneyCommand) (*domain.Account, error) {
	cmd.AccountID = normalizeID(cmd.AccountID)
	fields := logger.Fields{"op": "deposit", "accountId": cmd.AccountID, "amount": domain.DisplayAmount(cmd.Amount)}
	if err := domain.ValidatePositive(cmd.Amount); err != nil {
		return nil, c.fail("deposit", err, fields)
	}

	tran := &domain.Transaction{
		TransactionID: refOrNew(cmd.RefID),
		Type:          domain.TransactionTypeDeposit,
		To:            cmd.AccountID,
		Amount:        cmd.Amount,
		Note:          cmd.Note,
	}
	account, err := c.applySingle(ctx, tran, cmd.AccountID, (*domain.Account).Deposit)
	if err != nil {
		return nil, c.fail("deposit", err, fields)
	}

	fields["balance"] = account.Balance.String()
	fields["refId"] = tran.TransactionID.String()
	logger.Info("deposit applied", fields)
	return account, nil
}

// Withdraw 提款，餘額檢查與扣款在同一個臨界區內完成
//
// 回傳:
//
//	*domain.Account: 提款後的帳戶
//	error: ErrInvalidAmount, ErrAccountNotFound, ErrInsufficientFunds, ErrTransactionAlreadyProcessed, ErrBusy, ErrStoreUnavailable
func (c *CoreUseCase) Withdraw(ctx context.Context, cmd MoneyCommand) (*domain.Account, error) {
	cmd.AccountID = normalizeID(cmd.AccountID)
	fields := logger.Fields{"op": "withdraw", "accountId": cmd.AccountID, "amount": domain.DisplayAmount(cmd.Amount)}
	if err := domain.ValidatePositive(cmd.Amount); err != nil {
		return nil, c.fail("withdraw", err, fields)
	}

	tran := &domain.Transaction{
		TransactionID: refOrNew(cmd.RefID),
		Type:          domain.TransactionTypeWithdraw,
		From:          cmd.AccountID,
		Amount:        cmd.Amount,
		Note:          cmd.Note,
	}
	account, err := c.applySingle(ctx, tran, cmd.AccountID, (*domain.Account).Withdraw)
	if err != nil {
		return nil, c.fail("withdraw", err, fields)
	}

	fields["balance"] = account.Balance.String()
	fields["refId"] = tran.TransactionID.String()
	logger.Info("withdraw applied", fields)
	return account, nil
}

// applySingle 單一帳戶的 讀取 -> 計算 -> compare-and-update
func (c *CoreUseCase) applySingle(
	ctx context.Context,
	tran *domain.Transaction,
	accountID string,
	apply func(*domain.Account, decimal.Decimal) (decimal.Decimal, error),
) (*domain.Account, error) {
	release, err := c.locks.Acquire(ctx, tran.GetLockIDs()...)
	if err != nil {
		return nil, err
	}
	defer release()

	account, err := c.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, storeError(err)
	}
	newBalance, err := apply(account, tran.Amount)
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tran.CreatedAt = c.clock.Now()
	updates := []domain.BalanceUpdate{{AccountID: account.ID, Expected: account.Balance, New: newBalance}}
	if err := c.store.Commit(ctx, tran, updates); err != nil {
		return nil, storeError(err)
	}

	account.Balance = newBalance
	return account, nil
}

// Transfer 轉帳，扣款、入帳與交易紀錄為同一個原子單位
//
// 兩個帳戶的鎖依帳號順序取得，A->B 與 B->A 同時進行不會死鎖
//
// 回傳:
//
//	*TransferResult: 交易與雙方最新餘額
//	error: ErrSameAccount, ErrInvalidAmount, ErrAccountNotFound, ErrInsufficientFunds, ErrTransactionAlreadyProcessed, ErrBusy, ErrStoreUnavailable
func (c *CoreUseCase) Transfer(ctx context.Context, cmd TransferCommand) (*TransferResult, error) {
	cmd.From, cmd.To = normalizeID(cmd.From), normalizeID(cmd.To)
	fields := logger.Fields{"op": "transfer", "from": cmd.From, "to": cmd.To, "amount": domain.DisplayAmount(cmd.Amount)}
	if cmd.From == cmd.To {
		return nil, c.fail("transfer", fmt.Errorf("%w: %s", domain.ErrSameAccount, cmd.From), fields)
	}
	if err := domain.ValidatePositive(cmd.Amount); err != nil {
		return nil, c.fail("transfer", err, fields)
	}

	tran := &domain.Transaction{
		TransactionID: refOrNew(cmd.RefID),
		Type:          domain.TransactionTypeTransfer,
		From:          cmd.From,
		To:            cmd.To,
		Amount:        cmd.Amount,
		Note:          cmd.Note,
	}
	result, err := c.transfer(ctx, tran)
	if err != nil {
		return nil, c.fail("transfer", err, fields)
	}

	fields["fromBalance"] = result.From.Balance.String()
	fields["toBalance"] = result.To.Balance.String()
	fields["refId"] = tran.TransactionID.String()
	logger.Info("transfer applied", fields)
	return result, nil
}

func (c *CoreUseCase) transfer(ctx context.Context, tran *domain.Transaction) (*TransferResult, error) {
	release, err := c.locks.Acquire(ctx, tran.GetLockIDs()...)
	if err != nil {
		return nil, err
	}
	defer release()

	from, err := c.store.GetAccount(ctx, tran.From)
	if err != nil {
		return nil, fmt.Errorf("from account: %w", storeError(err))
	}
	to, err := c.store.GetAccount(ctx, tran.To)
	if err != nil {
		return nil, fmt.Errorf("to account: %w", storeError(err))
	}

	fromBalance, err := from.Withdraw(tran.Amount)
	if err != nil {
		return nil, err
	}
	toBalance, err := to.Deposit(tran.Amount)
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tran.CreatedAt = c.clock.Now()
	updates := []domain.BalanceUpdate{
		{AccountID: from.ID, Expected: from.Balance, New: fromBalance},
		{AccountID: to.ID, Expected: to.Balance, New: toBalance},
	}
	if err := c.store.Commit(ctx, tran, updates); err != nil {
		return nil, storeError(err)
	}

	from.Balance = fromBalance
	to.Balance = toBalance
	return &TransferResult{Transaction: *tran, From: from, To: to}, nil
}

// ListTransactions 依時間新到舊列出帳戶交易紀錄
//
// 參數:
//
//	limit: <= 0 時使用預設筆數
func (c *CoreUseCase) ListTransactions(ctx context.Context, accountID string, limit int) ([]domain.Transaction, error) {
	accountID = normalizeID(accountID)
	if _, err := c.store.GetAccount(ctx, accountID); err != nil {
		return nil, storeError(err)
	}
	if limit <= 0 {
		limit = c.historyLimit
	}
	trans, err := c.store.ListTransactions(ctx, accountID, limit)
	if err != nil {
		return nil, storeError(err)
	}
	return trans, nil
}

// Audit 以完整交易紀錄重算帳戶餘額並與目前餘額比對
func (c *CoreUseCase) Audit(ctx context.Context, accountID string) (*AuditReport, error) {
	accountID = normalizeID(accountID)
	release, err := c.locks.Acquire(ctx, accountID)
	if err != nil {
		return nil, err
	}
	defer release()

	account, err := c.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, storeError(err)
	}
	trans, err := c.store.ListTransactions(ctx, accountID, 0)
	if err != nil {
		return nil, storeError(err)
	}

	replayed := decimal.Zero
	for i := range trans {
		replayed = replayed.Add(trans[i].Effect(accountID))
	}
	report := &AuditReport{
		AccountID:    accountID,
		Balance:      account.Balance,
		Replayed:     replayed,
		Transactions: len(trans),
		Consistent:   replayed.Equal(account.Balance),
	}
	if !report.Consistent {
		logger.Warn("audit mismatch", nil, logger.Fields{
			"accountId": accountID,
			"balance":   account.Balance.String(),
			"replayed":  replayed.String(),
		})
	}
	return report, nil
}

// fail 記錄一次錯誤並原封不動回傳
func (c *CoreUseCase) fail(op string, err error, fields logger.Fields) error {
	if errors.Is(err, domain.ErrStoreUnavailable) {
		logger.Error(op+" failed", err, fields)
	} else {
		logger.Warn(op+" rejected", err, fields)
	}
	return err
}

// storeError 保留 domain 錯誤與 ctx 錯誤，其他一律視為 store 失敗
func storeError(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, domain.ErrAccountNotFound),
		errors.Is(err, domain.ErrAccountAlreadyExists),
		errors.Is(err, domain.ErrBalanceConflict),
		errors.Is(err, domain.ErrTransactionAlreadyProcessed),
		errors.Is(err, domain.ErrStoreUnavailable),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
}

func refOrNew(ref uuid.UUID) uuid.UUID {
	if ref == uuid.Nil {
		return uuid.New()
	}
	return ref
}

// normalizeID 帳號前後空白不算
func normalizeID(id string) string {
	return strings.TrimSpace(id)
}
