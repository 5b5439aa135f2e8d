package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// Strategy 重试间隔策略
type Strategy string

const (
	StrategyFixed       Strategy = "fixed"
	StrategyLinear      Strategy = "linear"
	StrategyExponential Strategy = "exponential"
)

// Config 重试配置
type Config struct {
	Operation       string // 日志和指标中的操作名
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Strategy        Strategy
	Timeout         time.Duration // 所有尝试的总时限, 0 表示不限制
	Logger          *logrus.Logger

	// OnRetry 每次失败且即将重试时调用
	OnRetry func(operation string, attempt int, err error)
}

// DefaultConfig 默认配置
func DefaultConfig(operation string, logger *logrus.Logger) *Config {
	return &Config{
		Operation:       operation,
		MaxAttempts:     3,
		InitialInterval: time.Second,
		MaxInterval:     30 * time.Second,
		Strategy:        StrategyExponential,
		Logger:          logger,
	}
}

// retryableError 标记错误是否可重试
type retryableError struct {
	err       error
	retryable bool
}

func (e *retryableError) Error() string     { return e.err.Error() }
func (e *retryableError) Unwrap() error     { return e.err }
func (e *retryableError) IsRetryable() bool { return e.retryable }

// Retryable 标记为可重试
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &retryableError{err: err, retryable: true}
}

// Permanent 标记为不可重试
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &retryableError{err: err, retryable: false}
}

// IsRetryable 未标记的错误默认可重试, 取消和超时除外
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var marked interface{ IsRetryable() bool }
	if errors.As(err, &marked) {
		return marked.IsRetryable()
	}

	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	default:
		return true
	}
}

// Func 可重试的操作
type Func func(ctx context.Context) error

// Do 执行操作, 失败时按策略重试
func Do(ctx context.Context, cfg *Config, fn Func) error {
	if cfg == nil {
		cfg = DefaultConfig("operation", logrus.StandardLogger())
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	log := cfg.Logger.WithField("operation", cfg.Operation)
	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("retry canceled: %w", err)
		}

		start := time.Now()
		err := fn(ctx)
		if err == nil {
			if attempt > 1 {
				log.WithField("attempt", attempt).Info("Operation succeeded after retry")
			}
			return nil
		}
		lastErr = err

		log.WithFields(logrus.Fields{
			"attempt":  attempt,
			"max":      attempts,
			"duration": time.Since(start),
		}).WithError(err).Warn("Operation failed")

		if !IsRetryable(err) {
			return fmt.Errorf("non-retryable error: %w", err)
		}
		if attempt == attempts {
			break
		}

		if cfg.OnRetry != nil {
			cfg.OnRetry(cfg.Operation, attempt, err)
		}

		wait := Backoff(cfg.Strategy, cfg.InitialInterval, cfg.MaxInterval, attempt)
		log.WithFields(logrus.Fields{
			"next_attempt": attempt + 1,
			"wait":         wait,
		}).Debug("Waiting before retry")

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry canceled during wait: %w", ctx.Err())
		case <-timer.C:
		}
	}

	return fmt.Errorf("max attempts (%d) reached: %w", attempts, lastErr)
}

// Backoff 第 attempt 次失败后的等待时间
func Backoff(strategy Strategy, initial, max time.Duration, attempt int) time.Duration {
	var next time.Duration

	switch strategy {
	case StrategyLinear:
		next = initial * time.Duration(attempt)
	case StrategyExponential:
		next = initial * time.Duration(1<<(attempt-1))
	default:
		next = initial
	}

	if max > 0 && next > max {
		next = max
	}
	return next
}

// DoWithResult 带返回值的 Do
func DoWithResult[T any](ctx context.Context, cfg *Config, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := Do(ctx, cfg, func(ctx context.Context) error {
		res, err := fn(ctx)
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	return result, err
}
