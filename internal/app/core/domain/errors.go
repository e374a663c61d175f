package domain

import "errors"

var (
	// ErrInvalidAmount 金額非法 (<= 0、非數字、或超過小數位數)
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInvalidAccountID 帳號不可為空
	ErrInvalidAccountID = errors.New("invalid account id")

	// ErrInsufficientFunds 餘額不足
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrAccountNotFound 找不到帳戶
	ErrAccountNotFound = errors.New("account not found")

	// ErrAccountAlreadyExists 帳戶已存在
	ErrAccountAlreadyExists = errors.New("account already exists")

	// ErrSameAccount 轉出與轉入帳戶相同
	ErrSameAccount = errors.New("cannot transfer to the same account")

	// ErrTransactionAlreadyProcessed 交易已處理 (ref id 重複)
	ErrTransactionAlreadyProcessed = errors.New("transaction already processed")

	// ErrBusy 在時限內拿不到帳戶鎖
	ErrBusy = errors.New("account busy")

	// ErrBalanceConflict 餘額與預期不符 (compare-and-update 失敗)
	ErrBalanceConflict = errors.New("balance changed concurrently")

	// ErrStoreUnavailable 底層儲存失敗
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrWALWriteFailed 寫入 WAL 失敗
	ErrWALWriteFailed = errors.New("wal write failed")
)

// IsRetryable 回傳呼叫端是否可以重試這個錯誤
// 業務規則錯誤不可重試，只有暫時性錯誤可以
func IsRetryable(err error) bool {
	return errors.Is(err, ErrBusy) ||
		errors.Is(err, ErrBalanceConflict) ||
		errors.Is(err, ErrStoreUnavailable)
}
