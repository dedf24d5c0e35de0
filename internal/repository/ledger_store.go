package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"bankledger/internal/ledger"
	"bankledger/internal/model"
	"bankledger/pkg/idgen"

	"gorm.io/gorm"
)

// LedgerStore 基于关系型数据库的 ledger.Store 实现
//
// 【关键点】一次记账在同一个数据库事务内完成：
// 1. SELECT ... FOR UPDATE 锁住账户行（同一账户串行，不同账户互不阻塞）
// 2. 检查额度与溢出（ledger.NextBalance）
// 3. 按版本号条件更新余额
// 4. 追加流水
// 5. 配置了 topic 时写入发件箱消息
// 任一步失败整个事务回滚，余额与流水不会出现只提交一半的情况。
type LedgerStore struct {
	db              *gorm.DB
	accountRepo     *AccountRepository
	transactionRepo *TransactionRepository
	outboxRepo      *OutboxRepository
	ids             *idgen.Snowflake
	topic           string
	retries         int
	now             func() time.Time
}

type StoreOption func(*LedgerStore)

// WithOutboxTopic 记账成功时在同一事务内写入发件箱消息
func WithOutboxTopic(topic string) StoreOption {
	return func(s *LedgerStore) { s.topic = topic }
}

// WithApplyRetries 乐观锁冲突时的最大尝试次数
func WithApplyRetries(n int) StoreOption {
	return func(s *LedgerStore) {
		if n > 0 {
			s.retries = n
		}
	}
}

func WithClock(now func() time.Time) StoreOption {
	return func(s *LedgerStore) { s.now = now }
}

func NewLedgerStore(db *gorm.DB, ids *idgen.Snowflake, opts ...StoreOption) *LedgerStore {
	s := &LedgerStore{
		db:              db,
		accountRepo:     NewAccountRepository(db),
		transactionRepo: NewTransactionRepository(db),
		outboxRepo:      NewOutboxRepository(db),
		ids:             ids,
		retries:         3,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *LedgerStore) AtomicApply(ctx context.Context, cmd ledger.Command) (ledger.Applied, error) {
	var (
		applied ledger.Applied
		err     error
	)
	for attempt := 0; attempt < s.retries; attempt++ {
		applied, err = s.applyOnce(ctx, cmd)
		if !errors.Is(err, ErrOptimisticLock) {
			return applied, err
		}
	}
	return ledger.Applied{}, fmt.Errorf("重试 %d 次后仍然冲突: %w", s.retries, err)
}

func (s *LedgerStore) applyOnce(ctx context.Context, cmd ledger.Command) (ledger.Applied, error) {
	var applied ledger.Applied

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		account, err := s.accountRepo.GetByIDForUpdate(ctx, tx, cmd.AccountID)
		if err != nil {
			return err
		}
		if account.Balance < -account.Limit {
			return fmt.Errorf("%w: account=%d balance=%d limit=%d",
				ledger.ErrInvariantViolation, account.ID, account.Balance, account.Limit)
		}

		newBalance, err := ledger.NextBalance(ledger.Account{ID: account.ID, Limit: account.Limit, Balance: account.Balance}, cmd)
		if err != nil {
			return err
		}

		appliedAt := nextAppliedAt(s.now(), account.LastAppliedAt)
		if err := s.accountRepo.CompareAndSetBalance(ctx, tx, account, newBalance, appliedAt); err != nil {
			return err
		}

		trans := &model.Transaction{
			TransactionNo: s.ids.TransactionNo(),
			AccountID:     account.ID,
			Amount:        cmd.Amount,
			Kind:          cmd.Kind.Code(),
			Description:   cmd.Description,
			BalanceAfter:  newBalance,
			AppliedAt:     appliedAt,
		}
		if err := s.transactionRepo.Create(ctx, tx, trans); err != nil {
			return fmt.Errorf("记录流水失败: %w", err)
		}

		if s.topic != "" {
			if err := s.writeOutbox(ctx, tx, trans, account.Limit); err != nil {
				return err
			}
		}

		applied = ledger.Applied{
			Balance: newBalance,
			Limit:   account.Limit,
			Record:  toRecord(trans),
		}
		return nil
	})
	if err != nil {
		return ledger.Applied{}, err
	}
	return applied, nil
}

func (s *LedgerStore) writeOutbox(ctx context.Context, tx *gorm.DB, trans *model.Transaction, limit int64) error {
	payload, err := json.Marshal(model.TransactionAppliedEvent{
		TransactionNo: trans.TransactionNo,
		AccountID:     trans.AccountID,
		Amount:        trans.Amount,
		Kind:          trans.Kind,
		Description:   trans.Description,
		Balance:       trans.BalanceAfter,
		Limit:         limit,
		AppliedAt:     trans.AppliedAt,
	})
	if err != nil {
		return fmt.Errorf("序列化事件失败: %w", err)
	}

	msg := &model.OutboxMessage{
		MessageKey: strconv.FormatInt(trans.AccountID, 10),
		EventType:  model.EventTransactionApplied,
		Topic:      s.topic,
		Payload:    string(payload),
		Status:     model.OutboxStatusPending,
	}
	if err := s.outboxRepo.Create(ctx, tx, msg); err != nil {
		return fmt.Errorf("写入消息失败: %w", err)
	}
	return nil
}

func (s *LedgerStore) Account(ctx context.Context, accountID int64) (ledger.Account, error) {
	account, err := s.accountRepo.GetByID(ctx, nil, accountID)
	if err != nil {
		return ledger.Account{}, err
	}
	return ledger.Account{ID: account.ID, Limit: account.Limit, Balance: account.Balance}, nil
}

func (s *LedgerStore) RecentTransactions(ctx context.Context, accountID int64, n int) ([]ledger.Record, error) {
	transactions, err := s.transactionRepo.ListRecent(ctx, accountID, n)
	if err != nil {
		return nil, err
	}
	records := make([]ledger.Record, 0, len(transactions))
	for _, trans := range transactions {
		records = append(records, toRecord(trans))
	}
	return records, nil
}

func (s *LedgerStore) Provision(ctx context.Context, account ledger.Account) error {
	return s.accountRepo.Provision(ctx, &model.Account{
		ID:             account.ID,
		Limit:          account.Limit,
		Balance:        account.Balance,
		OpeningBalance: account.Balance,
		LastAppliedAt:  s.now().UTC().Truncate(time.Microsecond),
	})
}

// nextAppliedAt 取当前时间（微秒精度），不晚于上一笔时顺延 1 微秒，保证同一账户严格递增
func nextAppliedAt(now, last time.Time) time.Time {
	t := now.UTC().Truncate(time.Microsecond)
	if !t.After(last) {
		t = last.UTC().Truncate(time.Microsecond).Add(time.Microsecond)
	}
	return t
}

func toRecord(trans *model.Transaction) ledger.Record {
	kind, _ := ledger.ParseKind(trans.Kind)
	return ledger.Record{
		Amount:      trans.Amount,
		Kind:        kind,
		Description: trans.Description,
		AppliedAt:   trans.AppliedAt.UTC(),
	}
}

var _ ledger.Store = (*LedgerStore)(nil)
