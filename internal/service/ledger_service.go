package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bankledger/internal/ledger"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// invalidateTimeout 提交后删除缓存的超时时间，与请求本身的取消无关
const invalidateTimeout = 2 * time.Second

// LedgerService 记账引擎：余额与流水的唯一写入者
type LedgerService struct {
	store   ledger.Store
	cache   ledger.Invalidator
	metrics *Metrics
	log     *zap.Logger
}

// NewLedgerService cache 为 nil 表示不使用缓存，metrics 为 nil 时指标不对外暴露
func NewLedgerService(store ledger.Store, cache ledger.Invalidator, metrics *Metrics, log *zap.Logger) *LedgerService {
	if metrics == nil {
		metrics = NewMetrics(prometheus.NewRegistry())
	}
	return &LedgerService{
		store:   store,
		cache:   cache,
		metrics: metrics,
		log:     log.Named("ledger"),
	}
}

// Apply 原子地检查额度并记账
//
// 返回 ledger.ErrNotFound / ledger.ErrLimitExceeded / ledger.ErrInvalidCommand 表示业务结果，
// ledger.ErrStorageUnavailable 表示存储故障，ledger.ErrInvariantViolation 表示观察到了非法余额。
// 成功时在返回之前删除该账户的缓存对账单。
func (s *LedgerService) Apply(ctx context.Context, cmd ledger.Command) (ledger.Applied, error) {
	start := time.Now()
	applied, err := s.apply(ctx, cmd)
	s.metrics.observeApply(cmd.Kind, err, start)
	return applied, err
}

func (s *LedgerService) apply(ctx context.Context, cmd ledger.Command) (ledger.Applied, error) {
	if err := cmd.Validate(); err != nil {
		return ledger.Applied{}, err
	}

	applied, err := s.store.AtomicApply(ctx, cmd)
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrNotFound), errors.Is(err, ledger.ErrLimitExceeded):
			return ledger.Applied{}, err
		case errors.Is(err, ledger.ErrInvariantViolation):
			s.reportViolation(cmd.AccountID, err)
			return ledger.Applied{}, err
		default:
			s.log.Error("记账失败", zap.Int64("account_id", cmd.AccountID), zap.Error(err))
			return ledger.Applied{}, ledger.StorageError("apply", err)
		}
	}

	// 已经提交，无论结果如何都要让缓存失效
	s.invalidate(ctx, cmd.AccountID)

	if applied.Balance < -applied.Limit {
		err := fmt.Errorf("%w: account=%d balance=%d limit=%d",
			ledger.ErrInvariantViolation, cmd.AccountID, applied.Balance, applied.Limit)
		s.reportViolation(cmd.AccountID, err)
		return ledger.Applied{}, err
	}

	s.log.Debug("记账成功",
		zap.Int64("account_id", cmd.AccountID),
		zap.String("kind", string(cmd.Kind)),
		zap.Int64("amount", cmd.Amount),
		zap.Int64("balance", applied.Balance))
	return applied, nil
}

func (s *LedgerService) invalidate(ctx context.Context, accountID int64) {
	if s.cache == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), invalidateTimeout)
	defer cancel()

	if err := s.cache.Invalidate(ctx, accountID); err != nil {
		s.metrics.CacheTotal.WithLabelValues("invalidate_error").Inc()
		s.log.Warn("删除对账单缓存失败，依赖 TTL 兜底", zap.Int64("account_id", accountID), zap.Error(err))
		return
	}
	s.metrics.CacheTotal.WithLabelValues("invalidate").Inc()
}

func (s *LedgerService) reportViolation(accountID int64, err error) {
	s.metrics.InvariantViolation.Inc()
	s.log.Error("InvariantViolationDetected", zap.Int64("account_id", accountID), zap.Error(err))
}
