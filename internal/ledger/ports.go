package ledger

import "context"

// Store 账户与流水的存储能力。
//
// AtomicApply 必须对同一账户串行化：读取余额、检查额度、写入新余额与追加流水
// 要么一起提交，要么都不提交。不存在的账户返回 ErrNotFound，
// 超额借记返回 ErrLimitExceeded，金额或贷记后余额超过 MaxAmount 返回 ErrInvalidCommand，
// 其它失败返回的错误会被视为存储故障。
// AppliedAt 在临界区内分配，同一账户严格递增。
type Store interface {
	AtomicApply(ctx context.Context, cmd Command) (Applied, error)
	Account(ctx context.Context, accountID int64) (Account, error)
	// RecentTransactions 按 AppliedAt 倒序返回最多 n 条流水
	RecentTransactions(ctx context.Context, accountID int64, n int) ([]Record, error)
	// Provision 幂等创建账户，已存在时不做修改
	Provision(ctx context.Context, account Account) error
}

// Invalidator 消费“账户已变更”信号
type Invalidator interface {
	Invalidate(ctx context.Context, accountID int64) error
}

// Token 缓存代际标记，Lookup 时取得，Fill 时校验
type Token string

// ExtractCache 对账单缓存，失效即删除（invalidate-on-write）。
//
// Fill 只有在 Lookup 之后没有发生过 Invalidate 时才会写入，
// 保证并发的旧读不会把过期快照重新写回缓存。
type ExtractCache interface {
	Invalidator
	// Lookup 未命中时返回 nil 快照与当前代际标记
	Lookup(ctx context.Context, accountID int64) (*Snapshot, Token, error)
	Fill(ctx context.Context, accountID int64, token Token, snap Snapshot) (bool, error)
}
