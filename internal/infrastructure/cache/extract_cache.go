package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"bankledger/internal/ledger"

	"github.com/go-redis/redis/v8"
)

// ============================================================================
// 对账单缓存
// ============================================================================
//
// 【失效即删除 + 代际标记】
//
//	entry  ledger:extract:{id}      JSON 快照，带兜底 TTL
//	gen    ledger:extract:gen:{id}  每次失效 +1
//
// 读未命中时先拿到当前 gen，回源后只有 gen 没变才写回：
//
//	reader: Lookup(gen=3) -> 读库(旧余额) ----------------> Fill(3) 被拒绝
//	writer:                     AtomicApply -> Invalidate(gen=4)
//
// 这样慢的旧读永远不会把过期快照写回缓存。
//
// ============================================================================

// KEYS[1] entry，KEYS[2] gen；ARGV: token payload ttl_ms
var fillScript = redis.NewScript(`
local gen = redis.call('GET', KEYS[2]) or '0'
if gen ~= ARGV[1] then
	return 0
end
if tonumber(ARGV[3]) > 0 then
	redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
else
	redis.call('SET', KEYS[1], ARGV[2])
end
return 1
`)

const initialGeneration = "0"

type ExtractCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewExtractCache ttl 为 0 表示条目不过期，只靠失效删除
func NewExtractCache(client *redis.Client, ttl time.Duration) *ExtractCache {
	return &ExtractCache{client: client, ttl: ttl}
}

func EntryKey(accountID int64) string {
	return fmt.Sprintf("ledger:extract:%d", accountID)
}

func GenerationKey(accountID int64) string {
	return fmt.Sprintf("ledger:extract:gen:%d", accountID)
}

func (c *ExtractCache) Lookup(ctx context.Context, accountID int64) (*ledger.Snapshot, ledger.Token, error) {
	vals, err := c.client.MGet(ctx, EntryKey(accountID), GenerationKey(accountID)).Result()
	if err != nil {
		return nil, "", err
	}

	token := ledger.Token(initialGeneration)
	if gen, ok := vals[1].(string); ok {
		token = ledger.Token(gen)
	}

	payload, ok := vals[0].(string)
	if !ok {
		return nil, token, nil
	}
	var snap ledger.Snapshot
	if err := json.Unmarshal([]byte(payload), &snap); err != nil {
		return nil, token, fmt.Errorf("解析缓存快照失败: %w", err)
	}
	return &snap, token, nil
}

// Fill 代际未变时写入快照，返回是否写入
func (c *ExtractCache) Fill(ctx context.Context, accountID int64, token ledger.Token, snap ledger.Snapshot) (bool, error) {
	payload, err := json.Marshal(snap)
	if err != nil {
		return false, fmt.Errorf("序列化缓存快照失败: %w", err)
	}
	n, err := fillScript.Run(ctx, c.client,
		[]string{EntryKey(accountID), GenerationKey(accountID)},
		string(token), payload, c.ttl.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Invalidate 递增代际并删除条目，两步在同一个 MULTI 中执行
func (c *ExtractCache) Invalidate(ctx context.Context, accountID int64) error {
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, GenerationKey(accountID))
		pipe.Del(ctx, EntryKey(accountID))
		return nil
	})
	return err
}

var _ ledger.ExtractCache = (*ExtractCache)(nil)
