package store

import (
	"context"
	"sync"
)

// Memory is an in-process Store. It is shared only between goroutines of one
// process, so it suits tests and single-worker deployments.
type Memory struct {
	mu      sync.Mutex
	records map[string]Record
	closed  bool
}

func NewMemory() *Memory {
	return &Memory{records: make(map[string]Record)}
}

func (m *Memory) Get(_ context.Context, key string) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return Record{}, ErrClosed
	}
	rec, ok := m.records[key]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

func (m *Memory) Put(_ context.Context, key, value string, version int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrClosed
	}
	if m.records[key].Version != version {
		return 0, ErrConflict
	}
	next := version + 1
	m.records[key] = Record{Key: key, Value: value, Version: next}
	return next, nil
}

func (m *Memory) Set(_ context.Context, key, value string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrClosed
	}
	next := m.records[key].Version + 1
	m.records[key] = Record{Key: key, Value: value, Version: next}
	return next, nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
