package repository

import (
	"context"

	"bankledger/internal/model"

	"gorm.io/gorm"
)

type TransactionRepository struct {
	db *gorm.DB
}

func NewTransactionRepository(db *gorm.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

func (r *TransactionRepository) Create(ctx context.Context, tx *gorm.DB, trans *model.Transaction) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(trans).Error
}

// ListRecent 按 applied_at 倒序返回账户最近 n 条流水
// applied_at 在同一账户内严格递增，id 只作为兜底排序
func (r *TransactionRepository) ListRecent(ctx context.Context, accountID int64, n int) ([]*model.Transaction, error) {
	var transactions []*model.Transaction
	err := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("applied_at DESC").
		Order("id DESC").
		Limit(n).
		Find(&transactions).Error
	return transactions, err
}

type accountDelta struct {
	AccountID int64
	Total     int64
}

// SumDeltas 按账户汇总全部流水的带符号合计，没有流水的账户不出现在结果中
func (r *TransactionRepository) SumDeltas(ctx context.Context, accountIDs []int64) (map[int64]int64, error) {
	sums := make(map[int64]int64, len(accountIDs))
	if len(accountIDs) == 0 {
		return sums, nil
	}

	var rows []accountDelta
	err := r.db.WithContext(ctx).
		Model(&model.Transaction{}).
		Select("account_id, SUM(CASE WHEN kind = ? THEN amount ELSE -amount END) AS total", model.TransactionKindCredit).
		Where("account_id IN ?", accountIDs).
		Group("account_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		sums[row.AccountID] = row.Total
	}
	return sums, nil
}
