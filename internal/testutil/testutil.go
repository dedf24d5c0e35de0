// Package testutil 提供测试用的 SQLite 与 miniredis 环境
package testutil

import (
	"fmt"
	"sync/atomic"
	"testing"

	"bankledger/internal/config"
	"bankledger/internal/infrastructure/database"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

var dbSeq atomic.Int64

// NewDB 返回一个已迁移的独立内存数据库
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()
	cfg := &config.DatabaseConfig{
		Driver:      "sqlite",
		DSN:         fmt.Sprintf("file:ledger_test_%d?mode=memory&cache=shared", dbSeq.Add(1)),
		AutoMigrate: true,
	}
	db, err := database.Open(cfg, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { _ = database.Close(db) })
	return db
}

// NewRedis 启动 miniredis 并返回连接它的客户端
func NewRedis(t testing.TB) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}
