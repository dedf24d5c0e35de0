package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bankledger/internal/ledger"
	"bankledger/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrAccountNotFound = fmt.Errorf("账户不存在: %w", ledger.ErrNotFound)
	ErrOptimisticLock  = errors.New("乐观锁冲突，请重试")
)

type AccountRepository struct {
	db *gorm.DB
}

func NewAccountRepository(db *gorm.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

func (r *AccountRepository) conn(tx *gorm.DB) *gorm.DB {
	if tx == nil {
		return r.db
	}
	return tx
}

func (r *AccountRepository) GetByID(ctx context.Context, tx *gorm.DB, id int64) (*model.Account, error) {
	var account model.Account
	err := r.conn(tx).WithContext(ctx).Where("id = ?", id).First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

// GetByIDForUpdate 行锁读取，必须在事务中调用
// SQLite 不支持 FOR UPDATE，驱动会忽略该子句，由单连接串行化保证
func (r *AccountRepository) GetByIDForUpdate(ctx context.Context, tx *gorm.DB, id int64) (*model.Account, error) {
	var account model.Account
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

// CompareAndSetBalance 仅当版本号未变时写入新余额
//
// 【关键点】行锁已经保证同一账户串行，版本号条件是第二道防线：
// 在不支持行锁的存储上，两个并发事务只有一个能提交。
func (r *AccountRepository) CompareAndSetBalance(ctx context.Context, tx *gorm.DB, account *model.Account, newBalance int64, appliedAt time.Time) error {
	result := tx.WithContext(ctx).
		Model(&model.Account{}).
		Where("id = ? AND version = ?", account.ID, account.Version).
		Updates(map[string]interface{}{
			"balance":         newBalance,
			"last_applied_at": appliedAt,
			"version":         gorm.Expr("version + 1"),
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrOptimisticLock
	}
	return nil
}

// Provision 幂等创建账户，已存在时保持原样
func (r *AccountRepository) Provision(ctx context.Context, account *model.Account) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoNothing: true,
		}).
		Create(account).Error
}

// ListAfter 按 ID 顺序分批读取账户，供巡检任务翻页
func (r *AccountRepository) ListAfter(ctx context.Context, afterID int64, limit int) ([]*model.Account, error) {
	var accounts []*model.Account
	err := r.db.WithContext(ctx).
		Where("id > ?", afterID).
		Order("id ASC").
		Limit(limit).
		Find(&accounts).Error
	return accounts, err
}
