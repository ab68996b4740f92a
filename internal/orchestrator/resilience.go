package orchestrator

import (
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// BreakerRegistry keeps one circuit breaker per executor type. Repeated
// crashes point at the executor binary itself (missing, broken auth,
// OOM host), not at individual tasks, so spawning is suspended until
// the breaker half-opens.
type BreakerRegistry struct {
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

func NewBreakerRegistry() *BreakerRegistry {
	return &BreakerRegistry{breakers: make(map[string]*gobreaker.CircuitBreaker)}
}

func (br *BreakerRegistry) breaker(executorType string) *gobreaker.CircuitBreaker {
	br.mu.Lock()
	defer br.mu.Unlock()
	cb, ok := br.breakers[executorType]
	if !ok {
		cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    executorType,
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		})
		br.breakers[executorType] = cb
	}
	return cb
}

// Allow reports whether the executor may spawn another worker.
func (br *BreakerRegistry) Allow(executorType string) error {
	cb := br.breaker(executorType)
	if cb.State() == gobreaker.StateOpen {
		return fmt.Errorf("executor %q suspended after repeated crashes", executorType)
	}
	return nil
}

// Record feeds one spawn outcome into the breaker. A nil err counts as
// success; worker lifetimes are asynchronous so outcomes are recorded
// after the fact rather than wrapped in Execute.
func (br *BreakerRegistry) Record(executorType string, err error) {
	cb := br.breaker(executorType)
	_, _ = cb.Execute(func() (interface{}, error) {
		return nil, err
	})
}
