package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Account 帳戶
//
// ID 與 Holder 建立後不可變，Balance 只能透過存款、提款、轉帳改變，且永遠 >= 0
type Account struct {
	ID        string
	Holder    string
	Balance   decimal.Decimal
	CreatedAt time.Time
}

// NewAccount 建立帳戶並檢查帳號與開戶金額
func NewAccount(id, holder string, balance decimal.Decimal, createdAt time.Time) (*Account, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, ErrInvalidAccountID
	}
	if err := ValidateOpening(balance); err != nil {
		return nil, err
	}
	return &Account{
		ID:        id,
		Holder:    strings.TrimSpace(holder),
		Balance:   balance,
		CreatedAt: createdAt,
	}, nil
}

// Deposit 計算存款後餘額，不修改帳戶本身
func (a *Account) Deposit(amount decimal.Decimal) (decimal.Decimal, error) {
	if err := ValidatePositive(amount); err != nil {
		return decimal.Zero, err
	}
	next := a.Balance.Add(amount)
	if next.GreaterThan(MaxAmount) {
		return decimal.Zero, fmt.Errorf("%w: balance of account %s would exceed %s",
			ErrInvalidAmount, a.ID, MaxAmount.String())
	}
	return next, nil
}

// Withdraw 計算提款後餘額，不修改帳戶本身
func (a *Account) Withdraw(amount decimal.Decimal) (decimal.Decimal, error) {
	if err := ValidatePositive(amount); err != nil {
		return decimal.Zero, err
	}
	if a.Balance.LessThan(amount) {
		return decimal.Zero, fmt.Errorf("%w: account %s has %s, needs %s",
			ErrInsufficientFunds, a.ID, a.Balance.String(), amount.String())
	}
	return a.Balance.Sub(amount), nil
}

// Clone 回傳值拷貝，避免外部改到 store 內部的指標
func (a *Account) Clone() *Account {
	cp := *a
	return &cp
}

// BalanceUpdate 一次 compare-and-update 的單位
//
// store 只有在目前餘額等於 Expected 時才寫入 New
type BalanceUpdate struct {
	AccountID string
	Expected  decimal.Decimal
	New       decimal.Decimal
}
