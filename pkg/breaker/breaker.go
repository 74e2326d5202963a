// Package breaker 为下游模型调用提供熔断保护。
package breaker

import (
	"errors"
	"fmt"
	"rag-tenant-go/internal/config"
	"rag-tenant-go/pkg/log"
	"rag-tenant-go/pkg/monitoring"

	"github.com/sony/gobreaker"
)

// ErrOpen 熔断器拒绝调用时返回的错误，半开状态下超出试探配额同样归入此错误。
var ErrOpen = gobreaker.ErrOpenState

// New 按配置创建熔断器，状态变化会记录日志并上报指标。
func New(name string, cfg config.BreakerConfig) *gobreaker.CircuitBreaker {
	threshold := cfg.FailureThreshold
	if threshold == 0 {
		threshold = 5
	}
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warnf("[Breaker] %s 状态变化: %s -> %s", name, from, to)
			monitoring.BreakerState.WithLabelValues(name).Set(float64(to))
		},
	})
}

// Do 在熔断器保护下执行 fn 并返回其类型化结果。
func Do[T any](cb *gobreaker.CircuitBreaker, fn func() (T, error)) (T, error) {
	out, err := cb.Execute(func() (interface{}, error) {
		return fn()
	})
	if err != nil {
		var zero T
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return zero, fmt.Errorf("%s: %w", cb.Name(), ErrOpen)
		}
		return zero, err
	}
	return out.(T), nil
}
