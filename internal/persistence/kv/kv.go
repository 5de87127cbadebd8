// Package kv provides the persisted key/value surface the engine stores its
// records in: byte-string get/set with a fixed maximum payload size per key.
package kv

import (
	"errors"
	"fmt"
	"sync"
)

// DefaultMaxValueSize mirrors the per-key limit of the host property store.
const DefaultMaxValueSize = 32 * 1024

var (
	ErrValueTooLarge = errors.New("kv: value exceeds max size")
	ErrClosed        = errors.New("kv: surface closed")
)

// Surface is the minimal contract of a persisted key/value backend.
// Get reports absence with ok=false and a nil error.
type Surface interface {
	Get(key string) (val []byte, ok bool, err error)
	Set(key string, val []byte) error
	MaxValueSize() int
}

// Closer is implemented by backends holding OS resources.
type Closer interface {
	Close() error
}

func checkSize(key string, val []byte, max int) error {
	if max > 0 && len(val) > max {
		return fmt.Errorf("%w: key=%s size=%d max=%d", ErrValueTooLarge, key, len(val), max)
	}
	return nil
}

// Memory is a process-local surface. It is the binding used when no
// persistent backend is configured and in tests.
type Memory struct {
	mu   sync.Mutex
	max  int
	data map[string][]byte

	// FailSet makes every Set fail; used to exercise degraded paths.
	FailSet error
}

func NewMemory(maxValueSize int) *Memory {
	if maxValueSize <= 0 {
		maxValueSize = DefaultMaxValueSize
	}
	return &Memory{max: maxValueSize, data: map[string][]byte{}}
}

func (m *Memory) Get(key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, true, nil
}

func (m *Memory) Set(key string, val []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailSet != nil {
		return m.FailSet
	}
	if err := checkSize(key, val, m.max); err != nil {
		return err
	}
	cp := make([]byte, len(val))
	copy(cp, val)
	m.data[key] = cp
	return nil
}

func (m *Memory) MaxValueSize() int { return m.max }

// Keys returns the stored keys (unordered).
func (m *Memory) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.data))
	for k := range m.data {
		out = append(out, k)
	}
	return out
}
