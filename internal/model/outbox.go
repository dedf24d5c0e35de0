package model

import (
	"time"
)

const (
	OutboxStatusPending = "PENDING"
	OutboxStatusSent    = "SENT"
	OutboxStatusFailed  = "FAILED"
)

const EventTransactionApplied = "transaction.applied"

// OutboxMessage 事务发件箱
// 与记账在同一事务中写入，由 OutboxSender 异步投递到 Kafka
type OutboxMessage struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	MessageKey string    `gorm:"type:varchar(64);not null" json:"message_key"` // 账户ID，保证同一账户的事件落到同一分区
	EventType  string    `gorm:"type:varchar(32);not null" json:"event_type"`
	Topic      string    `gorm:"type:varchar(64);not null" json:"topic"`
	Payload    string    `gorm:"type:text;not null" json:"payload"`
	Status     string    `gorm:"type:varchar(20);index;not null;default:PENDING" json:"status"`
	RetryCount int       `gorm:"not null;default:0" json:"retry_count"`
	CreatedAt  time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (OutboxMessage) TableName() string {
	return "outbox_message"
}

// TransactionAppliedEvent 记账成功事件的消息体
type TransactionAppliedEvent struct {
	TransactionNo string    `json:"transaction_no"`
	AccountID     int64     `json:"account_id"`
	Amount        int64     `json:"amount"`
	Kind          string    `json:"kind"`
	Description   string    `json:"description"`
	Balance       int64     `json:"balance"`
	Limit         int64     `json:"limit"`
	AppliedAt     time.Time `json:"applied_at"`
}
