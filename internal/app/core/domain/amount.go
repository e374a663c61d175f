package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// AmountScale 金額精度：小數點後 4 位
const AmountScale int32 = 4

const (
	// maxAmountInput 金額字串的長度上限
	maxAmountInput = 64
	// maxExponent 十進位指數的絕對值上限，超過就不做任何運算
	maxExponent int32 = 64
	// maxCoefficientBits 係數的位元數上限 (約 77 位數)
	maxCoefficientBits = 256
)

// MaxAmount 單筆金額與帳戶餘額的上限，對應 DECIMAL(20,4)
var MaxAmount = decimal.New(1, 20-AmountScale).Sub(decimal.New(1, -AmountScale))

// ParseAmount 將字串轉為金額，只檢查格式、範圍與精度，不檢查正負
//
// 參數:
//
//	raw: 金額字串 (e.g. "100", "12.5")
//
// 回傳:
//
//	decimal.Decimal: 金額
//	error: ErrInvalidAmount
func ParseAmount(raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, fmt.Errorf("%w: empty", ErrInvalidAmount)
	}
	if len(raw) > maxAmountInput {
		return decimal.Zero, fmt.Errorf("%w: longer than %d characters", ErrInvalidAmount, maxAmountInput)
	}
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q is not a number", ErrInvalidAmount, raw)
	}
	if err := checkRange(amount); err != nil {
		return decimal.Zero, err
	}
	if amount.Abs().GreaterThan(MaxAmount) {
		return decimal.Zero, fmt.Errorf("%w: exceeds %s", ErrInvalidAmount, MaxAmount.String())
	}
	if err := checkScale(amount); err != nil {
		return decimal.Zero, err
	}
	return amount, nil
}

// ValidatePositive 存款、提款、轉帳共用的金額規則: 0 < amount <= MaxAmount 且不超過精度
func ValidatePositive(amount decimal.Decimal) error {
	if err := checkRange(amount); err != nil {
		return err
	}
	if !amount.IsPositive() {
		return fmt.Errorf("%w: %s must be greater than zero", ErrInvalidAmount, amount.String())
	}
	if amount.GreaterThan(MaxAmount) {
		return fmt.Errorf("%w: %s exceeds %s", ErrInvalidAmount, amount.String(), MaxAmount.String())
	}
	return checkScale(amount)
}

// ValidateOpening 開戶金額規則: 0 <= amount <= MaxAmount 且不超過精度
func ValidateOpening(amount decimal.Decimal) error {
	if err := checkRange(amount); err != nil {
		return err
	}
	if amount.IsNegative() {
		return fmt.Errorf("%w: initial balance %s is negative", ErrInvalidAmount, amount.String())
	}
	if amount.GreaterThan(MaxAmount) {
		return fmt.Errorf("%w: initial balance %s exceeds %s", ErrInvalidAmount, amount.String(), MaxAmount.String())
	}
	return checkScale(amount)
}

// DisplayAmount 給 log 用的字串，超出範圍的值不展開
func DisplayAmount(amount decimal.Decimal) string {
	if checkRange(amount) != nil {
		return "out-of-range"
	}
	return amount.String()
}

// checkRange 只看指數與係數大小，不做會隨指數放大的運算，也不呼叫 String()
func checkRange(amount decimal.Decimal) error {
	exp := amount.Exponent()
	if exp > maxExponent || exp < -maxExponent {
		return fmt.Errorf("%w: exponent %d out of range", ErrInvalidAmount, exp)
	}
	if amount.Coefficient().BitLen() > maxCoefficientBits {
		return fmt.Errorf("%w: too many digits", ErrInvalidAmount)
	}
	return nil
}

func checkScale(amount decimal.Decimal) error {
	if !amount.Equal(amount.Truncate(AmountScale)) {
		return fmt.Errorf("%w: %s has more than %d decimal places", ErrInvalidAmount, amount.String(), AmountScale)
	}
	return nil
}
