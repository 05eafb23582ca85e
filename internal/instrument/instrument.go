// Package instrument provides the driver capability used by acquisition
// sessions: read the current value of a set of channels, or fail.
package instrument

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// ErrorKind classifies instrument failures
type ErrorKind string

const (
	KindConnectionLost ErrorKind = "connection_lost"
	KindTimeout        ErrorKind = "timeout"
	KindInvalidChannel ErrorKind = "invalid_channel"
)

// Error is the failure type produced by drivers
type Error struct {
	Kind      ErrorKind
	Equipment string
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("instrument %s: %s: %v", e.Equipment, e.Kind, e.Err)
	}
	return fmt.Sprintf("instrument %s: %s", e.Equipment, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Reader is the capability an acquisition session polls.
// ReadChannels returns one current value per requested channel or fails
// with an *Error. Implementations must be safe for concurrent use.
type Reader interface {
	ReadChannels(ctx context.Context, channels []string) (map[string]float64, error)
	Close() error
}

// Registry maps equipment ids to their drivers
type Registry struct {
	mu      sync.RWMutex
	readers map[string]Reader
}

func NewRegistry() *Registry {
	return &Registry{readers: make(map[string]Reader)}
}

func (r *Registry) Register(equipmentID string, reader Reader) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.readers[equipmentID] = reader
}

func (r *Registry) Get(equipmentID string) (Reader, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reader, ok := r.readers[equipmentID]
	if !ok {
		return nil, fmt.Errorf("no driver registered for equipment %q", equipmentID)
	}
	return reader, nil
}

func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.readers))
	for id := range r.readers {
		ids = append(ids, id)
	}
	return ids
}

// CloseAll closes every registered driver
func (r *Registry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, reader := range r.readers {
		reader.Close()
	}
}

// timedReader wraps a Reader and reports read latency to an observer
type timedReader struct {
	inner   Reader
	observe func(seconds float64)
}

// NewTimedReader returns a Reader that reports the duration of each
// ReadChannels call to observe.
func NewTimedReader(inner Reader, observe func(seconds float64)) Reader {
	if observe == nil {
		return inner
	}
	return &timedReader{inner: inner, observe: observe}
}

func (t *timedReader) ReadChannels(ctx context.Context, channels []string) (map[string]float64, error) {
	start := time.Now()
	values, err := t.inner.ReadChannels(ctx, channels)
	t.observe(time.Since(start).Seconds())
	return values, err
}

func (t *timedReader) Close() error { return t.inner.Close() }
