package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bankledger/internal/config"
	"bankledger/internal/handler"
	"bankledger/internal/infrastructure/cache"
	"bankledger/internal/infrastructure/database"
	"bankledger/internal/infrastructure/lock"
	"bankledger/internal/infrastructure/logging"
	"bankledger/internal/infrastructure/mq"
	"bankledger/internal/infrastructure/redisstore"
	"bankledger/internal/job"
	"bankledger/internal/ledger"
	"bankledger/internal/repository"
	"bankledger/internal/service"
	"bankledger/pkg/idgen"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "配置文件路径")
	flag.Parse()

	// 加载配置
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewLogger(&cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("服务异常退出", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := service.NewMetrics(reg)

	// Redis：redis 后端、对账单缓存、发件箱投递锁都需要
	var rdb *redis.Client
	if cfg.Ledger.Backend == "redis" || cfg.Ledger.CacheEnabled || cfg.Kafka.Enabled {
		client, err := cache.NewRedisClient(&cfg.Redis, logger)
		if err != nil {
			return err
		}
		defer client.Close()
		rdb = client
	}

	var (
		store ledger.Store
		db    *gorm.DB
	)
	switch cfg.Ledger.Backend {
	case "redis":
		store = redisstore.NewStore(rdb)
		if cfg.Kafka.Enabled {
			logger.Warn("redis 后端不写发件箱，kafka 配置被忽略")
		}
	default:
		conn, err := database.Open(&cfg.Database, logger)
		if err != nil {
			return err
		}
		defer func() { _ = database.Close(conn) }()
		db = conn

		ids, err := idgen.NewSnowflake(cfg.Ledger.WorkerID)
		if err != nil {
			return err
		}
		opts := []repository.StoreOption{repository.WithApplyRetries(cfg.Ledger.ApplyRetries)}
		if cfg.Kafka.Enabled {
			opts = append(opts, repository.WithOutboxTopic(cfg.Kafka.Topic.TransactionApplied))
		}
		store = repository.NewLedgerStore(db, ids, opts...)
	}

	if err := provision(store, cfg.Ledger.Accounts, logger); err != nil {
		return err
	}

	var (
		extractCache ledger.ExtractCache
		invalidator  ledger.Invalidator
	)
	if cfg.Ledger.CacheEnabled {
		c := cache.NewExtractCache(rdb, cfg.Ledger.CacheTTL)
		extractCache, invalidator = c, c
	}

	ledgerService := service.NewLedgerService(store, invalidator, metrics, logger)
	extractService := service.NewExtractService(store, extractCache, metrics, logger)

	// 创建上下文（用于优雅关闭）
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 启动后台任务
	if db != nil {
		auditJob := job.NewInvariantAuditJob(repository.NewAccountRepository(db), repository.NewTransactionRepository(db),
			job.AuditCounters{Violations: metrics.InvariantViolation, Mismatches: metrics.ConservationMismatch}, &cfg.Jobs, logger)
		go auditJob.Start(ctx)

		if cfg.Kafka.Enabled {
			publisher, err := mq.NewPublisher(&cfg.Kafka, logger)
			if err != nil {
				return err
			}
			defer func() { _ = publisher.Close() }()

			outboxLock := lock.NewOutboxLock(rdb, 30*time.Second)
			outboxSender := job.NewOutboxSender(repository.NewOutboxRepository(db), publisher, outboxLock, &cfg.Jobs, logger)
			go outboxSender.Start(ctx)
			logger.Info("发件箱投递已启用", zap.String("topic", cfg.Kafka.Topic.TransactionApplied), zap.String("lock_owner", outboxLock.Owner()))
		}
	}

	h := handler.NewHandler(ledgerService, extractService, logger)
	router := handler.SetupRouter(h, reg, logger)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("服务启动", zap.Int("port", cfg.Server.Port), zap.String("backend", cfg.Ledger.Backend))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serverErr:
		return fmt.Errorf("服务启动失败: %w", err)
	}

	logger.Info("正在关闭服务...")

	// 取消上下文，停止后台任务
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("服务关闭异常", zap.Error(err))
	}

	logger.Info("服务已关闭")
	return nil
}

// provision 幂等创建配置中的账户
func provision(store ledger.Store, accounts []config.AccountConfig, logger *zap.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, a := range accounts {
		account := ledger.Account{ID: a.ID, Limit: a.Limit, Balance: a.Balance}
		if err := store.Provision(ctx, account); err != nil {
			return fmt.Errorf("初始化账户失败: id=%d: %w", a.ID, err)
		}
	}
	logger.Info("账户初始化完成", zap.Int("count", len(accounts)))
	return nil
}
