package ledger

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound 账户不存在
	ErrNotFound = errors.New("account not found")

	// ErrLimitExceeded 借记会使余额低于 -limit，未做任何修改
	ErrLimitExceeded = errors.New("limit exceeded")

	// ErrStorageUnavailable 存储不可用或出错，本次操作失败，不在内部重试
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrInvariantViolation 观察到 balance < -limit，属于程序错误
	ErrInvariantViolation = errors.New("ledger invariant violated")

	// ErrInvalidCommand 请求不满足前置条件
	ErrInvalidCommand = errors.New("invalid command")
)

// StorageError 把底层错误包装成 ErrStorageUnavailable，同时保留原始错误
func StorageError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStorageUnavailable, err)
}

// IsOutcome 报告 err 是否属于调用方需要区分的业务结果（而非故障）
func IsOutcome(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrLimitExceeded) || errors.Is(err, ErrInvalidCommand)
}
