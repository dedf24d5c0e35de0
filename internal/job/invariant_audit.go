package job

import (
	"context"
	"time"

	"bankledger/internal/config"
	"bankledger/internal/repository"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// AuditCounters 巡检指标，字段可以为 nil
type AuditCounters struct {
	Violations prometheus.Counter
	Mismatches prometheus.Counter
}

// AuditReport 一次巡检的结果
type AuditReport struct {
	Scanned    int
	Violations int // balance < -limit
	Mismatches int // balance != opening_balance + 流水合计
}

// InvariantAuditJob 定期巡检全部账户
//
// 【关键点】两项检查：
// 1. 余额不变式 balance >= -limit
// 2. 守恒：balance = opening_balance + 全部流水的带符号合计
// 正常情况下都不可能失败（记账在临界区内检查额度，余额与流水同事务提交），
// 出现即说明有绕过账本的写入或程序错误。只报告，不修正：修正余额需要人工确认。
type InvariantAuditJob struct {
	accountRepo     *repository.AccountRepository
	transactionRepo *repository.TransactionRepository
	counters        AuditCounters
	log             *zap.Logger
	stopCh          chan struct{}
	interval        time.Duration
	batchSize       int
}

func NewInvariantAuditJob(accountRepo *repository.AccountRepository, transactionRepo *repository.TransactionRepository, counters AuditCounters, cfg *config.JobsConfig, log *zap.Logger) *InvariantAuditJob {
	batchSize := cfg.AuditBatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	return &InvariantAuditJob{
		accountRepo:     accountRepo,
		transactionRepo: transactionRepo,
		counters:        counters,
		log:             log.Named("invariant_audit"),
		stopCh:          make(chan struct{}),
		interval:        cfg.AuditInterval,
		batchSize:       batchSize,
	}
}

func (j *InvariantAuditJob) Start(ctx context.Context) {
	j.log.Info("账户巡检任务启动", zap.Duration("interval", j.interval))

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.log.Info("收到停止信号，任务退出")
			return
		case <-j.stopCh:
			j.log.Info("任务停止")
			return
		case <-ticker.C:
			j.audit(ctx)
		}
	}
}

func (j *InvariantAuditJob) Stop() {
	close(j.stopCh)
}

// audit 按 ID 分批扫描全部账户
func (j *InvariantAuditJob) audit(ctx context.Context) AuditReport {
	var (
		report  AuditReport
		afterID int64
	)
	for {
		accounts, err := j.accountRepo.ListAfter(ctx, afterID, j.batchSize)
		if err != nil {
			j.log.Error("扫描账户失败", zap.Int64("after_id", afterID), zap.Error(err))
			return report
		}
		if len(accounts) == 0 {
			break
		}

		ids := make([]int64, 0, len(accounts))
		for _, account := range accounts {
			ids = append(ids, account.ID)
		}
		sums, err := j.transactionRepo.SumDeltas(ctx, ids)
		if err != nil {
			j.log.Error("汇总流水失败", zap.Int64("after_id", afterID), zap.Error(err))
			return report
		}

		for _, account := range accounts {
			report.Scanned++
			if account.Balance < -account.Limit {
				report.Violations++
				inc(j.counters.Violations)
				j.log.Error("InvariantViolationDetected",
					zap.Int64("account_id", account.ID),
					zap.Int64("balance", account.Balance),
					zap.Int64("limit", account.Limit))
			}
			if expected := account.OpeningBalance + sums[account.ID]; expected != account.Balance {
				report.Mismatches++
				inc(j.counters.Mismatches)
				j.log.Error("ConservationMismatchDetected",
					zap.Int64("account_id", account.ID),
					zap.Int64("balance", account.Balance),
					zap.Int64("expected", expected))
			}
		}

		afterID = accounts[len(accounts)-1].ID
		if len(accounts) < j.batchSize {
			break
		}
	}

	if report.Violations > 0 || report.Mismatches > 0 {
		j.log.Error("本次巡检发现异常账户",
			zap.Int("scanned", report.Scanned),
			zap.Int("violations", report.Violations),
			zap.Int("mismatches", report.Mismatches))
	}
	return report
}

func inc(c prometheus.Counter) {
	if c != nil {
		c.Inc()
	}
}
