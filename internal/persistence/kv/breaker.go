package kv

import (
	"errors"
	"time"

	"github.com/sony/gobreaker/v2"
)

// BreakerConfig controls when a failing backend stops receiving writes.
type BreakerConfig struct {
	Name             string
	FailureThreshold uint32
	OpenTimeout      time.Duration
	OnStateChange    func(name string, from, to gobreaker.State)
}

// Breaker wraps a surface so a backend that keeps failing is not hammered on
// every flush. Oversize payloads are caller errors and do not count as
// backend failures. Reads pass straight through.
type Breaker struct {
	inner Surface
	cb    *gobreaker.CircuitBreaker[struct{}]
}

func WithBreaker(inner Surface, cfg BreakerConfig) *Breaker {
	if cfg.Name == "" {
		cfg.Name = "kv"
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	threshold := cfg.FailureThreshold
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrValueTooLarge)
		},
		OnStateChange: cfg.OnStateChange,
	}
	return &Breaker{inner: inner, cb: gobreaker.NewCircuitBreaker[struct{}](settings)}
}

func (b *Breaker) Get(key string) ([]byte, bool, error) { return b.inner.Get(key) }

func (b *Breaker) Set(key string, val []byte) error {
	_, err := b.cb.Execute(func() (struct{}, error) {
		return struct{}{}, b.inner.Set(key, val)
	})
	return err
}

func (b *Breaker) MaxValueSize() int { return b.inner.MaxValueSize() }

func (b *Breaker) State() gobreaker.State { return b.cb.State() }

func (b *Breaker) Close() error {
	if c, ok := b.inner.(Closer); ok {
		return c.Close()
	}
	return nil
}
