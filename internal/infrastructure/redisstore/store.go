// Package redisstore 在 Redis 上实现 ledger.Store
//
// Redis 单线程执行脚本，一次 EVAL 内的读取、检查、写入、追加天然是原子的，
// 不需要额外的锁。同一账户的两个 key 使用相同的 hash tag，集群模式下落在同一个 slot。
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"bankledger/internal/ledger"

	"github.com/go-redis/redis/v8"
)

// 脚本返回值第一个元素
const (
	codeApplied   = 0
	codeNotFound  = -1
	codeLimit     = -2
	codeInvariant = -3
	codeOverflow  = -4
)

const (
	fieldLimit   = "limit"
	fieldBalance = "balance"
)

// KEYS[1] 账户 hash，KEYS[2] 流水 list（新的在前）
// ARGV: kind(c/d) amount description now_ms max_amount
// applied_at 以毫秒保存，不晚于上一笔时顺延 1 毫秒
// 数值写回前用 %d 格式化，默认的数字转字符串只保留 14 位有效数字
var applyScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return {-1}
end
local vals = redis.call('HMGET', KEYS[1], 'limit', 'balance', 'applied_at')
local limit = tonumber(vals[1])
local balance = tonumber(vals[2])
local last = tonumber(vals[3]) or 0
if balance < -limit then
	return {-3, balance, limit}
end
local amount = tonumber(ARGV[2])
local nb = balance + amount
if ARGV[1] == 'd' then
	nb = balance - amount
	if nb < -limit then
		return {-2, balance, limit}
	end
elseif nb > tonumber(ARGV[5]) then
	return {-4, balance, limit}
end
local ts = tonumber(ARGV[4])
if ts <= last then
	ts = last + 1
end
redis.call('HSET', KEYS[1], 'balance', string.format('%d', nb), 'applied_at', string.format('%d', ts))
redis.call('LPUSH', KEYS[2], string.format('%d', ts) .. ':' .. ARGV[1] .. ':' .. ARGV[2] .. ':' .. ARGV[3])
return {0, nb, limit, ts}
`)

// KEYS[1] 账户 hash；已存在时不做任何修改
var provisionScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return 0
end
redis.call('HSET', KEYS[1], 'limit', ARGV[1], 'balance', ARGV[2], 'applied_at', 0)
return 1
`)

type Store struct {
	client *redis.Client
	now    func() time.Time
}

func NewStore(client *redis.Client) *Store {
	return &Store{client: client, now: time.Now}
}

func AccountKey(accountID int64) string {
	return fmt.Sprintf("ledger:account:{%d}", accountID)
}

func LogKey(accountID int64) string {
	return fmt.Sprintf("ledger:txlog:{%d}", accountID)
}

func (s *Store) AtomicApply(ctx context.Context, cmd ledger.Command) (ledger.Applied, error) {
	// 超出范围的金额在脚本里会丢精度，进入脚本前拒绝
	if !cmd.Kind.Valid() || cmd.Amount < 0 || cmd.Amount > ledger.MaxAmount {
		return ledger.Applied{}, fmt.Errorf("%w: kind=%q amount=%d", ledger.ErrInvalidCommand, cmd.Kind, cmd.Amount)
	}

	keys := []string{AccountKey(cmd.AccountID), LogKey(cmd.AccountID)}
	res, err := applyScript.Run(ctx, s.client, keys,
		cmd.Kind.Code(), cmd.Amount, cmd.Description, s.now().UnixMilli(), ledger.MaxAmount).Result()
	if err != nil {
		return ledger.Applied{}, fmt.Errorf("执行记账脚本失败: %w", err)
	}

	vals, err := int64s(res)
	if err != nil {
		return ledger.Applied{}, err
	}
	switch vals[0] {
	case codeNotFound:
		return ledger.Applied{}, ledger.ErrNotFound
	case codeLimit:
		return ledger.Applied{}, ledger.ErrLimitExceeded
	case codeOverflow:
		return ledger.Applied{}, fmt.Errorf("%w: balance would exceed %d", ledger.ErrInvalidCommand, ledger.MaxAmount)
	case codeInvariant:
		return ledger.Applied{}, fmt.Errorf("%w: account=%d balance=%d limit=%d",
			ledger.ErrInvariantViolation, cmd.AccountID, vals[1], vals[2])
	case codeApplied:
		if len(vals) != 4 {
			return ledger.Applied{}, fmt.Errorf("记账脚本返回值异常: %v", vals)
		}
	default:
		return ledger.Applied{}, fmt.Errorf("未知的脚本返回码: %d", vals[0])
	}

	return ledger.Applied{
		Balance: vals[1],
		Limit:   vals[2],
		Record: ledger.Record{
			Amount:      cmd.Amount,
			Kind:        cmd.Kind,
			Description: cmd.Description,
			AppliedAt:   time.UnixMilli(vals[3]).UTC(),
		},
	}, nil
}

func (s *Store) Account(ctx context.Context, accountID int64) (ledger.Account, error) {
	vals, err := s.client.HMGet(ctx, AccountKey(accountID), fieldLimit, fieldBalance).Result()
	if err != nil {
		return ledger.Account{}, err
	}
	if vals[0] == nil || vals[1] == nil {
		return ledger.Account{}, ledger.ErrNotFound
	}

	limit, err := parseField(vals[0])
	if err != nil {
		return ledger.Account{}, err
	}
	balance, err := parseField(vals[1])
	if err != nil {
		return ledger.Account{}, err
	}
	return ledger.Account{ID: accountID, Limit: limit, Balance: balance}, nil
}

func (s *Store) RecentTransactions(ctx context.Context, accountID int64, n int) ([]ledger.Record, error) {
	if n <= 0 {
		return []ledger.Record{}, nil
	}
	entries, err := s.client.LRange(ctx, LogKey(accountID), 0, int64(n-1)).Result()
	if err != nil {
		return nil, err
	}
	records := make([]ledger.Record, 0, len(entries))
	for _, entry := range entries {
		rec, err := parseEntry(entry)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

func (s *Store) Provision(ctx context.Context, account ledger.Account) error {
	if !inRange(account.Limit) || !inRange(account.Balance) {
		return fmt.Errorf("%w: account=%d limit and balance must be within ±%d",
			ledger.ErrInvalidCommand, account.ID, ledger.MaxAmount)
	}
	return provisionScript.Run(ctx, s.client, []string{AccountKey(account.ID)},
		account.Limit, account.Balance).Err()
}

// parseEntry 解析 "ts:kind:amount:description"，描述本身可以包含冒号
func parseEntry(entry string) (ledger.Record, error) {
	parts := strings.SplitN(entry, ":", 4)
	if len(parts) != 4 {
		return ledger.Record{}, fmt.Errorf("流水格式错误: %q", entry)
	}
	ts, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return ledger.Record{}, fmt.Errorf("流水时间格式错误: %q", entry)
	}
	kind, err := ledger.ParseKind(parts[1])
	if err != nil {
		return ledger.Record{}, fmt.Errorf("流水类型错误: %q", entry)
	}
	amount, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return ledger.Record{}, fmt.Errorf("流水金额格式错误: %q", entry)
	}
	return ledger.Record{
		Amount:      amount,
		Kind:        kind,
		Description: parts[3],
		AppliedAt:   time.UnixMilli(ts).UTC(),
	}, nil
}

func inRange(v int64) bool {
	return v >= -ledger.MaxAmount && v <= ledger.MaxAmount
}

func parseField(v interface{}) (int64, error) {
	s, ok := v.(string)
	if !ok {
		return 0, fmt.Errorf("账户字段类型错误: %T", v)
	}
	return strconv.ParseInt(s, 10, 64)
}

func int64s(res interface{}) ([]int64, error) {
	raw, ok := res.([]interface{})
	if !ok || len(raw) == 0 {
		return nil, errors.New("记账脚本返回值为空")
	}
	vals := make([]int64, len(raw))
	for i, v := range raw {
		n, ok := v.(int64)
		if !ok {
			return nil, fmt.Errorf("记账脚本返回值类型错误: %T", v)
		}
		vals[i] = n
	}
	return vals, nil
}

var _ ledger.Store = (*Store)(nil)
