package model

import (
	"time"
)

// Account 账户表
// 额度在账户生命周期内不变，余额只由记账事务修改
type Account struct {
	ID             int64     `gorm:"primaryKey;autoIncrement:false" json:"id"` // 外部分配
	Limit          int64     `gorm:"column:credit_limit;not null;default:0" json:"limit"`
	Balance        int64     `gorm:"not null;default:0" json:"balance"`
	OpeningBalance int64     `gorm:"not null;default:0" json:"opening_balance"`   // 开户余额，对账时 balance = opening_balance + 流水合计
	LastAppliedAt  time.Time `gorm:"precision:6;not null" json:"last_applied_at"` // 最近一笔流水的 applied_at，用于保证单调递增
	Version        int64     `gorm:"not null;default:0" json:"version"`           // 乐观锁版本号
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Account) TableName() string {
	return "accounts"
}
