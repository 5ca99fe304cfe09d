package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
)

// fileLock 是建议性排它锁：锁文件存在即视为占用。文件内嵌获取时间，
// 超过 stale 时长的锁视为持有者已崩溃，允许强制回收。
type fileLock struct {
	path    string
	stale   time.Duration
	retries int
	delay   time.Duration
	logger  *zap.Logger
}

type lockArtifact struct {
	PID        int       `json:"pid"`
	AcquiredAt time.Time `json:"acquired_at"`
}

func newFileLock(path string, stale time.Duration, retries int, delay time.Duration, logger *zap.Logger) *fileLock {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &fileLock{
		path:    path,
		stale:   stale,
		retries: retries,
		delay:   delay,
		logger:  logger,
	}
}

// Acquire 以有限次数重试获取锁，失败返回 ErrDurability。
func (l *fileLock) Acquire() error {
	for attempt := 1; attempt <= l.retries; attempt++ {
		ok, err := l.tryAcquire()
		if err != nil {
			return fmt.Errorf("%w: 获取账本锁失败: %v", ErrDurability, err)
		}
		if ok {
			return nil
		}

		if l.reclaimIfStale() {
			continue
		}

		if attempt < l.retries {
			time.Sleep(l.delay)
		}
	}

	return fmt.Errorf("%w: 账本锁被占用，重试 %d 次后放弃", ErrDurability, l.retries)
}

// Release 删除锁文件。失败只记录日志，不影响主操作结果。
func (l *fileLock) Release() {
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		l.logger.Warn("释放账本锁失败", zap.String("path", l.path), zap.Error(err))
	}
}

func (l *fileLock) tryAcquire() (bool, error) {
	f, err := os.OpenFile(l.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return false, nil
		}
		return false, err
	}
	defer f.Close()

	artifact := lockArtifact{
		PID:        os.Getpid(),
		AcquiredAt: time.Now(),
	}
	if err := json.NewEncoder(f).Encode(artifact); err != nil {
		_ = os.Remove(l.path)
		return false, err
	}

	return true, nil
}

// reclaimIfStale 检查现有锁文件是否过期，过期则强制删除。
// 内容损坏的锁文件同样视为过期。
func (l *fileLock) reclaimIfStale() bool {
	data, err := os.ReadFile(l.path)
	if err != nil {
		// 锁刚被持有者释放，下一轮尝试即可。
		return errors.Is(err, os.ErrNotExist)
	}

	var artifact lockArtifact
	if err := json.Unmarshal(data, &artifact); err != nil || artifact.AcquiredAt.IsZero() {
		l.logger.Warn("账本锁内容损坏，强制回收", zap.String("path", l.path))
		return os.Remove(l.path) == nil
	}

	if time.Since(artifact.AcquiredAt) < l.stale {
		return false
	}

	l.logger.Warn("账本锁已过期，强制回收",
		zap.String("path", l.path),
		zap.Int("holder_pid", artifact.PID),
		zap.Time("acquired_at", artifact.AcquiredAt),
	)
	return os.Remove(l.path) == nil
}
