package service

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"equihire-go/internal/config"
	"equihire-go/pkg/errs"
	"equihire-go/pkg/log"
)

// RetryPolicy 是依赖调用的有界指数退避策略。
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// RetryPolicyFromConfig 从配置构造 RetryPolicy。
func RetryPolicyFromConfig(cfg config.RetryConfig) RetryPolicy {
	return RetryPolicy{MaxAttempts: cfg.MaxAttempts, BaseDelay: cfg.BaseDelay, MaxDelay: cfg.MaxDelay}
}

// sleep 在测试中被替换以避免真实等待。
var sleep = func(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// backoff 返回第 attempt 次重试前的等待时间（attempt 从 1 开始），带 ±12.5% 的抖动。
func (p RetryPolicy) backoff(attempt int) time.Duration {
	delay := p.BaseDelay * time.Duration(math.Pow(2, float64(attempt-1)))
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	jitter := float64(delay) * 0.25
	return delay - time.Duration(jitter/2) + time.Duration(rand.Float64()*jitter)
}

// withRetry 执行 fn，只有可重试的依赖错误才会退避重试。每次尝试都有独立的超时。
func withRetry(ctx context.Context, policy RetryPolicy, op string, timeout time.Duration, fn func(ctx context.Context) error) error {
	attempts := policy.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			delay := policy.backoff(attempt - 1)
			log.Warnf("[Retry] %s 第 %d/%d 次重试, 等待 %v, 上次错误: %v", op, attempt, attempts, delay, lastErr)
			if err := sleep(ctx, delay); err != nil {
				return fmt.Errorf("%s: %w", op, err)
			}
		}

		callCtx, cancel := ctx, context.CancelFunc(func() {})
		if timeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, timeout)
		}
		err := fn(callCtx)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		// 外层 ctx 已结束时不再重试
		if ctx.Err() != nil || !errs.IsRetryable(err) {
			return err
		}
	}
	return errs.Unavailable(op, fmt.Errorf("%d 次尝试后仍失败: %w", attempts, lastErr))
}
