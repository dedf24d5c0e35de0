package lock

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// ============================================================================
// 分布式锁
// ============================================================================
//
// 【Redis 分布式锁原理】
//
// 加锁：SET key value NX PX timeout
//   - NX: 只有 key 不存在时才设置（保证互斥）
//   - PX: 设置过期时间（持有者崩溃时锁自动释放）
//   - value: 持有者标识（释放时验证，防止误删别人的锁）
//
// 释放锁：Lua 脚本保证"检查+删除"的原子性
//
//	A 获取锁 -> A 处理超时，锁自动过期 -> B 获取锁 -> A 执行完毕，调用 Unlock
//	不检查 value 的话，A 会把 B 的锁删掉
//
// 账本的余额串行化不依赖这把锁（由存储自身的行锁 / 脚本保证），
// 这里只用来保证多实例部署时同一时刻只有一个实例在投递发件箱。
//
// ============================================================================

var ErrLockNotHeld = errors.New("锁已过期或被其他持有者占用")

var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

var refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// DistributedLock 分布式锁
type DistributedLock struct {
	client     *redis.Client
	key        string        // 锁的 key
	value      string        // 锁的 value（用于验证锁的持有者）
	expiration time.Duration // 锁的过期时间
}

// NewDistributedLock 创建分布式锁，value 为空时生成随机持有者标识
func NewDistributedLock(client *redis.Client, key, value string, expiration time.Duration) *DistributedLock {
	if value == "" {
		value = uuid.NewString()
	}
	return &DistributedLock{
		client:     client,
		key:        key,
		value:      value,
		expiration: expiration,
	}
}

// NewOutboxLock 发件箱投递锁，所有实例共用一个 key
func NewOutboxLock(client *redis.Client, expiration time.Duration) *DistributedLock {
	return NewDistributedLock(client, "ledger:lock:outbox", "", expiration)
}

// Owner 锁持有者标识
func (l *DistributedLock) Owner() string { return l.value }

// TryLock 尝试获取锁（非阻塞）
func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	return l.client.SetNX(ctx, l.key, l.value, l.expiration).Result()
}

// Refresh 续期，锁已不属于自己时返回 ErrLockNotHeld
func (l *DistributedLock) Refresh(ctx context.Context) error {
	n, err := refreshScript.Run(ctx, l.client, []string{l.key}, l.value, l.expiration.Milliseconds()).Int()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrLockNotHeld
	}
	return nil
}

// Unlock 释放锁，锁已不属于自己时返回 ErrLockNotHeld
func (l *DistributedLock) Unlock(ctx context.Context) error {
	n, err := unlockScript.Run(ctx, l.client, []string{l.key}, l.value).Int()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrLockNotHeld
	}
	return nil
}
