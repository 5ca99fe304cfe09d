// Package recorder 负责把成交上报给远端执行记录服务。上报是尽力而为：
// 有界退避重试，最终失败只记日志，绝不回滚已落账的交易。
package recorder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"sim-trader/internal/config"
	"sim-trader/internal/remote"
	"sim-trader/internal/trade"
)

// ErrReporting 表示重试耗尽后上报仍未成功。
var ErrReporting = errors.New("recorder: 执行记录上报失败")

type executionAPI interface {
	PostExecution(ctx context.Context, rec remote.ExecutionRecord) error
	UpdateInstructionStatus(ctx context.Context, id int64, status string) error
}

// Recorder 实现 trade.Reporter。
type Recorder struct {
	api    executionAPI
	retry  config.RetryConfig
	logger *zap.Logger
}

// NewRecorder 创建执行记录器。
func NewRecorder(api executionAPI, retry config.RetryConfig, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{
		api:    api,
		retry:  retry,
		logger: logger,
	}
}

var _ trade.Reporter = (*Recorder)(nil)

// Report 上报一笔成交并回写指令状态。两步各自重试，互不影响；
// 任何一步最终失败都只记日志。
func (r *Recorder) Report(ctx context.Context, fill trade.Fill) {
	rec := remote.ExecutionRecord{
		StrategyID:     fill.InstructionID,
		StockCode:      fill.Symbol,
		Action:         string(fill.Action),
		ExecutionPrice: fill.Price,
		Volume:         fill.Volume,
		StrategyStatus: string(fill.Status),
		ExecutedAt:     fill.ExecutedAt,
		Remarks:        fill.Remark,
	}

	if err := r.callWithRetry(ctx, "post_execution", func() error {
		return r.api.PostExecution(ctx, rec)
	}); err != nil {
		r.logger.Error("执行记录上报最终失败，放弃",
			zap.String("symbol", fill.Symbol),
			zap.Int64("instruction_id", fill.InstructionID),
			zap.Error(err),
		)
	}

	if err := r.callWithRetry(ctx, "update_status", func() error {
		return r.api.UpdateInstructionStatus(ctx, fill.InstructionID, string(fill.Status))
	}); err != nil {
		r.logger.Error("指令状态回写最终失败，放弃",
			zap.Int64("instruction_id", fill.InstructionID),
			zap.String("status", string(fill.Status)),
			zap.Error(err),
		)
	}
}

// callWithRetry 以指数退避重试远端调用，次数有上限。
func (r *Recorder) callWithRetry(ctx context.Context, operation string, fn func() error) error {
	maxAttempts := r.retry.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	delay := r.retry.MinDelay
	if delay <= 0 {
		delay = time.Second
	}
	maxDelay := r.retry.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 8 * time.Second
	}

	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%w: %v", ErrReporting, ctxErr)
		}

		err = fn()
		if err == nil {
			if attempt > 1 {
				r.logger.Info("上报重试后成功",
					zap.String("operation", operation),
					zap.Int("attempts", attempt),
				)
			}
			return nil
		}

		if !remote.IsRetryable(err) || attempt == maxAttempts {
			break
		}

		wait := delay
		if wait > maxDelay {
			wait = maxDelay
		}

		r.logger.Warn("上报失败，等待重试",
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%w: %v", ErrReporting, ctx.Err())
		case <-timer.C:
		}

		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}

	return fmt.Errorf("%w: %v", ErrReporting, err)
}
