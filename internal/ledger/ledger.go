// Package ledger 定义账本核心的领域类型与端口（Store / ExtractCache）。
//
// 写路径只有一条：Store.AtomicApply。读路径：ExtractCache 命中，或 Store 读取账户与最近流水。
package ledger

import (
	"fmt"
	"math"
	"time"
	"unicode/utf8"
)

// ExtractSize 对账单中返回的最近流水条数
const ExtractSize = 10

// MaxDescriptionLength 流水描述的最大字符数
const MaxDescriptionLength = 10

// MaxAmount 单笔金额与贷记后余额的上限 2^53-1，Redis 脚本中的双精度运算在此范围内是精确的
const MaxAmount int64 = 1<<53 - 1

// Kind 交易类型
type Kind string

const (
	KindCredit Kind = "credit"
	KindDebit  Kind = "debit"
)

// Code 返回交易类型的单字符编码（存储与对外协议都使用 c / d）
func (k Kind) Code() string {
	switch k {
	case KindCredit:
		return "c"
	case KindDebit:
		return "d"
	}
	return ""
}

func (k Kind) Valid() bool {
	return k == KindCredit || k == KindDebit
}

// ParseKind 解析单字符编码或完整名称
func ParseKind(s string) (Kind, error) {
	switch s {
	case "c", string(KindCredit):
		return KindCredit, nil
	case "d", string(KindDebit):
		return KindDebit, nil
	}
	return "", fmt.Errorf("%w: unknown kind %q", ErrInvalidCommand, s)
}

// Account 账户：额度不可变，余额只由 Store.AtomicApply 修改
type Account struct {
	ID      int64
	Limit   int64
	Balance int64
}

// Healthy 报告账户是否满足 balance >= -limit
func (a Account) Healthy() bool {
	return a.Balance >= -a.Limit
}

// Record 已提交的一笔流水，AppliedAt 由存储在提交时分配
type Record struct {
	Amount      int64     `json:"amount"`
	Kind        Kind      `json:"kind"`
	Description string    `json:"description"`
	AppliedAt   time.Time `json:"applied_at"`
}

// Command 一次记账请求
type Command struct {
	AccountID   int64
	Kind        Kind
	Amount      int64
	Description string
}

// Validate 重新校验前置条件，上游校验层出错时也不会破坏余额不变式
func (c Command) Validate() error {
	if c.AccountID <= 0 {
		return fmt.Errorf("%w: account id must be positive", ErrInvalidCommand)
	}
	if !c.Kind.Valid() {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidCommand, c.Kind)
	}
	if c.Amount < 0 || c.Amount > MaxAmount {
		return fmt.Errorf("%w: amount must be between 0 and %d", ErrInvalidCommand, MaxAmount)
	}
	n := utf8.RuneCountInString(c.Description)
	if n < 1 || n > MaxDescriptionLength {
		return fmt.Errorf("%w: description must have 1 to %d characters", ErrInvalidCommand, MaxDescriptionLength)
	}
	return nil
}

// NextBalance 计算记账后的余额，存储在临界区内调用。
//
// 【关键点】运算先检查溢出再落库：借记低于 -limit（包括下溢）返回 ErrLimitExceeded，
// 贷记超过 MaxAmount 返回 ErrInvalidCommand。调用方绕过 Validate 时也不会写入非法余额。
func NextBalance(a Account, c Command) (int64, error) {
	if !c.Kind.Valid() {
		return 0, fmt.Errorf("%w: unknown kind %q", ErrInvalidCommand, c.Kind)
	}
	if c.Amount < 0 || c.Amount > MaxAmount {
		return 0, fmt.Errorf("%w: amount must be between 0 and %d", ErrInvalidCommand, MaxAmount)
	}

	if c.Kind == KindDebit {
		if a.Balance < math.MinInt64+c.Amount {
			return 0, ErrLimitExceeded
		}
		next := a.Balance - c.Amount
		if next < -a.Limit {
			return 0, ErrLimitExceeded
		}
		return next, nil
	}

	if a.Balance > MaxAmount-c.Amount {
		return 0, fmt.Errorf("%w: balance would exceed %d", ErrInvalidCommand, MaxAmount)
	}
	return a.Balance + c.Amount, nil
}

// Applied 记账成功的结果
type Applied struct {
	Balance int64
	Limit   int64
	Record  Record
}

// Snapshot 可缓存的对账单内容
type Snapshot struct {
	Balance int64    `json:"balance"`
	Limit   int64    `json:"limit"`
	Last    []Record `json:"last"`
}

// Extract 对账单：Snapshot 加上生成时间
type Extract struct {
	Snapshot
	GeneratedAt time.Time
}
