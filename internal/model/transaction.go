package model

import (
	"time"
)

const (
	TransactionKindCredit = "c"
	TransactionKindDebit  = "d"
)

// Transaction 账户流水表
//
// 【重要】流水表设计原则：
// 1. 只追加，不修改，不删除
// 2. 与余额更新在同一个事务里提交
// 3. (account_id, applied_at) 索引支撑“最近 N 条”查询
type Transaction struct {
	ID            int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	TransactionNo string    `gorm:"type:varchar(32);uniqueIndex;not null" json:"transaction_no"`
	AccountID     int64     `gorm:"index:idx_account_applied,priority:1;not null" json:"account_id"`
	Amount        int64     `gorm:"not null" json:"amount"` // 非负金额
	Kind          string    `gorm:"type:char(1);not null" json:"kind"`
	Description   string    `gorm:"type:varchar(10);not null" json:"description"`
	BalanceAfter  int64     `gorm:"not null" json:"balance_after"`
	AppliedAt     time.Time `gorm:"index:idx_account_applied,priority:2;precision:6;not null" json:"applied_at"`
}

func (Transaction) TableName() string {
	return "transactions"
}
