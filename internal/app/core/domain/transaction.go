package domain

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransactionType 交易類型
type TransactionType uint8

const (
	// 存款
	TransactionTypeDeposit TransactionType = 1
	// 提款
	TransactionTypeWithdraw TransactionType = 2
	// 轉帳
	TransactionTypeTransfer TransactionType = 3
)

func (t TransactionType) String() string {
	switch t {
	case TransactionTypeDeposit:
		return "DEPOSIT"
	case TransactionTypeWithdraw:
		return "WITHDRAW"
	case TransactionTypeTransfer:
		return "TRANSFER"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(t))
	}
}

// ParseTransactionType 將 "DEPOSIT" / "WITHDRAW" / "TRANSFER" 轉回 TransactionType
func ParseTransactionType(s string) (TransactionType, error) {
	switch s {
	case "DEPOSIT":
		return TransactionTypeDeposit, nil
	case "WITHDRAW":
		return TransactionTypeWithdraw, nil
	case "TRANSFER":
		return TransactionTypeTransfer, nil
	}
	return 0, fmt.Errorf("unknown transaction type %q", s)
}

// MarshalText WAL 以文字保存類型，方便人工檢查
func (t TransactionType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *TransactionType) UnmarshalText(b []byte) error {
	parsed, err := ParseTransactionType(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Transaction 交易紀錄，寫入後不可變
type Transaction struct {
	// Sequence: 由 store 分配的遞增序號 (1, 2, 3...)
	// 同一時間戳的紀錄以此排序
	Sequence uint64
	// From, To: 帳號，未使用的一方為空字串
	// DEPOSIT 只有 To，WITHDRAW 只有 From，TRANSFER 兩者皆有
	From string
	To   string
	// Amount: 金額，永遠 > 0，方向由 Type 決定
	Amount decimal.Decimal
	Note   string
	// CreatedAt: 寫入時間，同一個 process 內單調不遞減
	CreatedAt time.Time
	// TransactionID: 外部追蹤號 (UUID)，用於冪等
	TransactionID uuid.UUID
	Type          TransactionType
}

// Validate 檢查交易的形狀是否符合類型
func (t *Transaction) Validate() error {
	if err := ValidatePositive(t.Amount); err != nil {
		return err
	}
	switch t.Type {
	case TransactionTypeDeposit:
		if t.To == "" || t.From != "" {
			return fmt.Errorf("deposit must set only to account")
		}
	case TransactionTypeWithdraw:
		if t.From == "" || t.To != "" {
			return fmt.Errorf("withdraw must set only from account")
		}
	case TransactionTypeTransfer:
		if t.From == "" || t.To == "" {
			return fmt.Errorf("transfer must set both accounts")
		}
		if t.From == t.To {
			return ErrSameAccount
		}
	default:
		return fmt.Errorf("unknown transaction type %d", t.Type)
	}
	return nil
}

// GetLockIDs 回傳需要鎖定的帳號 ID，並確保順序以避免死鎖
func (t *Transaction) GetLockIDs() []string {
	ids := make([]string, 0, 2)
	switch t.Type {
	case TransactionTypeTransfer:
		ids = append(ids, t.From, t.To)
	case TransactionTypeDeposit:
		ids = append(ids, t.To)
	case TransactionTypeWithdraw:
		ids = append(ids, t.From)
	}
	return SortedIDs(ids...)
}

// Involves 這筆交易是否影響指定帳戶
func (t *Transaction) Involves(accountID string) bool {
	return t.From == accountID || t.To == accountID
}

// Effect 這筆交易對指定帳戶餘額的變化量 (轉出為負)
func (t *Transaction) Effect(accountID string) decimal.Decimal {
	delta := decimal.Zero
	if t.To == accountID {
		delta = delta.Add(t.Amount)
	}
	if t.From == accountID {
		delta = delta.Sub(t.Amount)
	}
	return delta
}

// SortedIDs 排序並去重，所有鎖都依照這個全域順序取得
func SortedIDs(ids ...string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
