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

// ExtractService 对账单查询，先查缓存，未命中时回源并回填
type ExtractService struct {
	store   ledger.Store
	cache   ledger.ExtractCache
	metrics *Metrics
	log     *zap.Logger
	now     func() time.Time
}

type ExtractOption func(*ExtractService)

func WithExtractClock(now func() time.Time) ExtractOption {
	return func(s *ExtractService) { s.now = now }
}

// NewExtractService cache 为 nil 表示每次都回源
func NewExtractService(store ledger.Store, cache ledger.ExtractCache, metrics *Metrics, log *zap.Logger, opts ...ExtractOption) *ExtractService {
	if metrics == nil {
		metrics = NewMetrics(prometheus.NewRegistry())
	}
	s := &ExtractService{
		store:   store,
		cache:   cache,
		metrics: metrics,
		log:     log.Named("extract"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *ExtractService) GetExtract(ctx context.Context, accountID int64) (ledger.Extract, error) {
	extract, err := s.getExtract(ctx, accountID)
	s.metrics.ExtractTotal.WithLabelValues(outcome(err)).Inc()
	return extract, err
}

func (s *ExtractService) getExtract(ctx context.Context, accountID int64) (ledger.Extract, error) {
	if accountID <= 0 {
		return ledger.Extract{}, ledger.ErrNotFound
	}

	// 缓存故障时退化为直接读存储，且不回填
	var (
		token    ledger.Token
		fillable bool
	)
	if s.cache != nil {
		snap, tok, err := s.cache.Lookup(ctx, accountID)
		switch {
		case err != nil:
			s.metrics.CacheTotal.WithLabelValues("lookup_error").Inc()
			s.log.Warn("读取对账单缓存失败，直接读取存储", zap.Int64("account_id", accountID), zap.Error(err))
		case snap != nil:
			s.metrics.CacheTotal.WithLabelValues("hit").Inc()
			return s.stamp(*snap), nil
		default:
			s.metrics.CacheTotal.WithLabelValues("miss").Inc()
			token, fillable = tok, true
		}
	}

	snap, err := s.load(ctx, accountID)
	if err != nil {
		return ledger.Extract{}, err
	}

	if fillable {
		s.fill(ctx, accountID, token, snap)
	}
	return s.stamp(snap), nil
}

func (s *ExtractService) load(ctx context.Context, accountID int64) (ledger.Snapshot, error) {
	account, err := s.store.Account(ctx, accountID)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return ledger.Snapshot{}, err
		}
		s.log.Error("读取账户失败", zap.Int64("account_id", accountID), zap.Error(err))
		return ledger.Snapshot{}, ledger.StorageError("read account", err)
	}
	if !account.Healthy() {
		err := fmt.Errorf("%w: account=%d balance=%d limit=%d",
			ledger.ErrInvariantViolation, account.ID, account.Balance, account.Limit)
		s.metrics.InvariantViolation.Inc()
		s.log.Error("InvariantViolationDetected", zap.Int64("account_id", accountID), zap.Error(err))
		return ledger.Snapshot{}, err
	}

	records, err := s.store.RecentTransactions(ctx, accountID, ledger.ExtractSize)
	if err != nil {
		s.log.Error("读取流水失败", zap.Int64("account_id", accountID), zap.Error(err))
		return ledger.Snapshot{}, ledger.StorageError("read transactions", err)
	}
	if records == nil {
		records = []ledger.Record{}
	}

	return ledger.Snapshot{Balance: account.Balance, Limit: account.Limit, Last: records}, nil
}

func (s *ExtractService) fill(ctx context.Context, accountID int64, token ledger.Token, snap ledger.Snapshot) {
	ok, err := s.cache.Fill(ctx, accountID, token, snap)
	switch {
	case err != nil:
		s.metrics.CacheTotal.WithLabelValues("fill_error").Inc()
		s.log.Warn("回填对账单缓存失败", zap.Int64("account_id", accountID), zap.Error(err))
	case !ok:
		// 读的过程中发生了记账，旧快照不能写回
		s.metrics.CacheTotal.WithLabelValues("fill_rejected").Inc()
	default:
		s.metrics.CacheTotal.WithLabelValues("fill").Inc()
	}
}

// stamp 缓存命中时复用快照，只刷新生成时间
func (s *ExtractService) stamp(snap ledger.Snapshot) ledger.Extract {
	return ledger.Extract{Snapshot: snap, GeneratedAt: s.now().UTC()}
}
