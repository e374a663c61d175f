package mysql

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-bank-ledger/internal/app/core/usecase"
)

// sqlAccount 對應資料庫的 accounts 表
type sqlAccount struct {
	ID        string          `gorm:"primaryKey;size:64"`
	Holder    string          `gorm:"size:128;not null"`
	Balance   decimal.Decimal `gorm:"type:decimal(20,4);not null"`
	CreatedAt time.Time       `gorm:"not null"`
}

func (*sqlAccount) TableName() string {
	return "accounts"
}

// sqlTransaction 對應資料庫的 transactions 表
type sqlTransaction struct {
	Sequence    uint64          `gorm:"primaryKey;autoIncrement"`
	RefID       []byte          `gorm:"column:ref_id;type:binary(16);uniqueIndex;not null"` // 對應 domain.TransactionID
	Type        string          `gorm:"size:16;not null"`
	Amount      decimal.Decimal `gorm:"type:decimal(20,4);not null"`
	FromAccount *string         `gorm:"size:64;index"`
	ToAccount   *string         `gorm:"size:64;index"`
	Note        string          `gorm:"size:255"`
	CreatedAt   time.Time       `gorm:"index;not null"`
}

func (*sqlTransaction) TableName() string {
	return "transactions"
}

// GormStore 以關聯式資料庫實作帳戶與交易紀錄
//
// 每次 Commit 是一個 DB transaction，帳戶列以 SELECT ... FOR UPDATE 依帳號順序鎖定
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Migrate 建立或更新 accounts 與 transactions 表
func (s *GormStore) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&sqlAccount{}, &sqlTransaction{})
}

// GetAccount 取得帳戶
func (s *GormStore) GetAccount(ctx context.Context, accountID string) (*domain.Account, error) {
	var row sqlAccount
	err := s.db.WithContext(ctx).Where("id = ?", accountID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", domain.ErrAccountNotFound, accountID)
	}
	if err != nil {
		return nil, fmt.Errorf("select account: %w", err)
	}
	return row.toDomain(), nil
}

// CreateAccount 建立帳戶，opening 不為 nil 時在同一個 DB transaction 寫入開戶交易
func (s *GormStore) CreateAccount(ctx context.Context, account *domain.Account, opening *domain.Transaction) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&sqlAccount{}).Where("id = ?", account.ID).Count(&count).Error; err != nil {
			return fmt.Errorf("select account: %w", err)
		}
		if count > 0 {
			return fmt.Errorf("%w: %s", domain.ErrAccountAlreadyExists, account.ID)
		}

		row := sqlAccount{
			ID:        account.ID,
			Holder:    account.Holder,
			Balance:   account.Balance,
			CreatedAt: account.CreatedAt,
		}
		if err := tx.Create(&row).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return fmt.Errorf("%w: %s", domain.ErrAccountAlreadyExists, account.ID)
			}
			return fmt.Errorf("insert account: %w", err)
		}

		if opening == nil {
			return nil
		}
		return insertTransaction(tx, opening)
	})
}

// Commit 在同一個 DB transaction 內鎖定帳戶、比對預期餘額、更新並寫入交易紀錄
func (s *GormStore) Commit(ctx context.Context, tran *domain.Transaction, updates []domain.BalanceUpdate) error {
	if err := tran.Validate(); err != nil {
		return err
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 先檢查是否有這筆交易記錄
		var count int64
		if err := tx.Model(&sqlTransaction{}).Where("ref_id = ?", tran.TransactionID[:]).Count(&count).Error; err != nil {
			return fmt.Errorf("select transaction: %w", err)
		}
		if count > 0 {
			return fmt.Errorf("%w: %s", domain.ErrTransactionAlreadyProcessed, tran.TransactionID)
		}

		// 取得鎖定帳號 悲觀鎖，依帳號順序避免死鎖
		ids := make([]string, 0, len(updates))
		for _, u := range updates {
			ids = append(ids, u.AccountID)
		}
		var rows []sqlAccount
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id IN ?", domain.SortedIDs(ids...)).
			Order("id").
			Find(&rows).Error; err != nil {
			return fmt.Errorf("lock accounts: %w", err)
		}
		byID := make(map[string]*sqlAccount, len(rows))
		for i := range rows {
			byID[rows[i].ID] = &rows[i]
		}

		// 安全檢查：帳號存在且餘額與預期相同
		for _, u := range updates {
			row, ok := byID[u.AccountID]
			if !ok {
				return fmt.Errorf("%w: %s", domain.ErrAccountNotFound, u.AccountID)
			}
			if !row.Balance.Equal(u.Expected) {
				return fmt.Errorf("%w: account %s is %s, expected %s",
					domain.ErrBalanceConflict, u.AccountID, row.Balance.String(), u.Expected.String())
			}
			if u.New.IsNegative() {
				return fmt.Errorf("%w: account %s", domain.ErrInsufficientFunds, u.AccountID)
			}
		}

		// 更新資料庫
		for _, u := range updates {
			if err := tx.Model(&sqlAccount{}).Where("id = ?", u.AccountID).Update("balance", u.New).Error; err != nil {
				return fmt.Errorf("update balance: %w", err)
			}
		}
		return insertTransaction(tx, tran)
	})
}

// ListTransactions 依時間新到舊列出帳戶交易，limit <= 0 表示全部
func (s *GormStore) ListTransactions(ctx context.Context, accountID string, limit int) ([]domain.Transaction, error) {
	query := s.db.WithContext(ctx).
		Where("from_account = ? OR to_account = ?", accountID, accountID).
		Order("created_at DESC").
		Order("sequence DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var rows []sqlTransaction
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("select transactions: %w", err)
	}

	out := make([]domain.Transaction, 0, len(rows))
	for i := range rows {
		tran, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, tran)
	}
	return out, nil
}

// insertTransaction 寫入交易紀錄並回填 Sequence
func insertTransaction(tx *gorm.DB, tran *domain.Transaction) error {
	row := sqlTransaction{
		RefID:       tran.TransactionID[:],
		Type:        tran.Type.String(),
		Amount:      tran.Amount,
		FromAccount: nullable(tran.From),
		ToAccount:   nullable(tran.To),
		Note:        tran.Note,
		CreatedAt:   tran.CreatedAt,
	}
	if err := tx.Create(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("%w: %s", domain.ErrTransactionAlreadyProcessed, tran.TransactionID)
		}
		return fmt.Errorf("insert transaction: %w", err)
	}
	tran.Sequence = row.Sequence
	return nil
}

func (r *sqlAccount) toDomain() *domain.Account {
	return &domain.Account{
		ID:        r.ID,
		Holder:    r.Holder,
		Balance:   r.Balance,
		CreatedAt: r.CreatedAt,
	}
}

func (r *sqlTransaction) toDomain() (domain.Transaction, error) {
	ref, err := uuid.FromBytes(r.RefID)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("transaction %d has bad ref_id: %w", r.Sequence, err)
	}
	typ, err := domain.ParseTransactionType(r.Type)
	if err != nil {
		return domain.Transaction{}, err
	}
	tran := domain.Transaction{
		Sequence:      r.Sequence,
		TransactionID: ref,
		Type:          typ,
		Amount:        r.Amount,
		Note:          r.Note,
		CreatedAt:     r.CreatedAt,
	}
	if r.FromAccount != nil {
		tran.From = *r.FromAccount
	}
	if r.ToAccount != nil {
		tran.To = *r.ToAccount
	}
	return tran, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

var _ usecase.Store = (*GormStore)(nil)
