package job

import (
	"context"
	"errors"
	"time"

	"bankledger/internal/config"
	"bankledger/internal/infrastructure/lock"
	"bankledger/internal/model"
	"bankledger/internal/repository"

	"go.uber.org/zap"
)

// Publisher 发件箱消息的投递目标
type Publisher interface {
	Publish(topic, key, value string) error
}

// Locker 多实例部署时保证同一批消息只有一个实例在投递
type Locker interface {
	TryLock(ctx context.Context) (bool, error)
	// Refresh 续期，锁已丢失时返回错误
	Refresh(ctx context.Context) error
	Unlock(ctx context.Context) error
}

// OutboxSender 轮询发件箱，把记账事件投递到 Kafka
//
// 【关键点】消息与余额在同一个事务里写入，只要事务提交了，事件最终一定会被投递（至少一次）。
// 同一账户的事件按写入顺序（id 升序）投递，且使用账户 ID 作为分区 key。
// 某个 key 的消息发送失败时只跳过该 key 剩余的消息，其它账户的事件照常投递。
type OutboxSender struct {
	outboxRepo *repository.OutboxRepository
	publisher  Publisher
	locker     Locker
	log        *zap.Logger
	stopCh     chan struct{}
	interval   time.Duration
	batchSize  int
	maxRetry   int
}

// NewOutboxSender locker 为 nil 时不做实例间互斥
func NewOutboxSender(outboxRepo *repository.OutboxRepository, publisher Publisher, locker Locker, cfg *config.JobsConfig, log *zap.Logger) *OutboxSender {
	return &OutboxSender{
		outboxRepo: outboxRepo,
		publisher:  publisher,
		locker:     locker,
		log:        log.Named("outbox_sender"),
		stopCh:     make(chan struct{}),
		interval:   cfg.OutboxInterval,
		batchSize:  cfg.OutboxBatchSize,
		maxRetry:   cfg.MaxRetryCount,
	}
}

func (s *OutboxSender) Start(ctx context.Context) {
	s.log.Info("消息发送任务启动", zap.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("收到停止信号，任务退出")
			return
		case <-s.stopCh:
			s.log.Info("任务停止")
			return
		case <-ticker.C:
			s.processPendingMessages(ctx)
		}
	}
}

func (s *OutboxSender) Stop() {
	close(s.stopCh)
}

// processPendingMessages 处理一批待发送消息，返回成功发送的条数
func (s *OutboxSender) processPendingMessages(ctx context.Context) int {
	if s.locker != nil {
		ok, err := s.locker.TryLock(ctx)
		if err != nil {
			s.log.Warn("获取投递锁失败", zap.Error(err))
			return 0
		}
		if !ok {
			return 0
		}
		defer func() {
			if err := s.locker.Unlock(ctx); err != nil && !errors.Is(err, lock.ErrLockNotHeld) {
				s.log.Warn("释放投递锁失败", zap.Error(err))
			}
		}()
	}

	messages, err := s.outboxRepo.GetPendingMessages(ctx, s.batchSize)
	if err != nil {
		s.log.Error("查询消息失败", zap.Error(err))
		return 0
	}

	sent := 0
	blocked := make(map[string]bool)
	for i, msg := range messages {
		// 每条消息之间续期，批次耗时超过锁的有效期时由其它实例接手
		if i > 0 && s.locker != nil {
			if err := s.locker.Refresh(ctx); err != nil {
				s.log.Warn("投递锁续期失败，剩余消息留到下一轮", zap.Int("sent", sent), zap.Error(err))
				return sent
			}
		}
		if blocked[msg.MessageKey] {
			continue
		}
		if !s.sendMessage(ctx, msg) {
			// 保持同一账户事件的顺序，该 key 剩余消息留到下一轮
			blocked[msg.MessageKey] = true
			continue
		}
		sent++
	}
	return sent
}

func (s *OutboxSender) sendMessage(ctx context.Context, msg *model.OutboxMessage) bool {
	err := s.publisher.Publish(msg.Topic, msg.MessageKey, msg.Payload)
	if err == nil {
		if updateErr := s.outboxRepo.MarkAsSent(ctx, msg.ID); updateErr != nil {
			s.log.Error("更新消息状态失败", zap.Int64("id", msg.ID), zap.Error(updateErr))
			return false
		}
		s.log.Debug("消息发送成功", zap.Int64("id", msg.ID), zap.String("topic", msg.Topic), zap.String("key", msg.MessageKey))
		return true
	}

	s.log.Warn("消息发送失败", zap.Int64("id", msg.ID), zap.Int("retry_count", msg.RetryCount), zap.Error(err))

	if err := s.outboxRepo.RecordFailure(ctx, msg, s.maxRetry); err != nil {
		s.log.Error("记录发送失败次数失败", zap.Int64("id", msg.ID), zap.Error(err))
	} else if msg.RetryCount+1 >= s.maxRetry {
		s.log.Error("消息超过最大重试次数，标记为失败", zap.Int64("id", msg.ID), zap.String("key", msg.MessageKey))
	}
	return false
}
