// Package cachetest provides an in-process cache.Cache for tests that do not need
// a Redis container.
package cachetest

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/kiranshivaraju/alttext/internal/cache"
	"github.com/kiranshivaraju/alttext/pkg/models"
)

type entry struct {
	value   []byte
	expires time.Time
}

func (e entry) expired(now time.Time) bool {
	return !e.expires.IsZero() && now.After(e.expires)
}

// Memory implements cache.Cache with a mutex-guarded map. Set Err to make every
// call fail.
type Memory struct {
	mu       sync.Mutex
	entries  map[string]entry
	progress map[string]models.Progress
	Err      error
}

func NewMemory() *Memory {
	return &Memory{
		entries:  make(map[string]entry),
		progress: make(map[string]models.Progress),
	}
}

func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.entries[key] = entry{value: value, expires: expiry(ttl)}
	return nil
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, false, m.Err
	}
	e, ok := m.entries[key]
	if !ok || e.expired(time.Now()) {
		return nil, false, nil
	}
	return e.value, true, nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	delete(m.entries, key)
	for id := range m.progress {
		if cache.ProgressKey(id) == key {
			delete(m.progress, id)
		}
	}
	return nil
}

func (m *Memory) Ping(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Err
}

func (m *Memory) SetProgress(_ context.Context, p models.Progress, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.progress[p.BatchID] = p
	return nil
}

func (m *Memory) GetProgress(_ context.Context, batchID string) (models.Progress, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return models.Progress{}, false, m.Err
	}
	p, ok := m.progress[batchID]
	return p, ok, nil
}

func (m *Memory) AcquireLock(_ context.Context, key, token string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return false, m.Err
	}
	if e, ok := m.entries[key]; ok && !e.expired(time.Now()) {
		return false, nil
	}
	m.entries[key] = entry{value: []byte(token), expires: expiry(ttl)}
	return true, nil
}

func (m *Memory) RenewLock(_ context.Context, key, token string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return false, m.Err
	}
	e, ok := m.entries[key]
	if !ok || e.expired(time.Now()) || string(e.value) != token {
		return false, nil
	}
	e.expires = expiry(ttl)
	m.entries[key] = e
	return true, nil
}

func (m *Memory) ReleaseLock(_ context.Context, key, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	if e, ok := m.entries[key]; ok && string(e.value) == token {
		delete(m.entries, key)
	}
	return nil
}

func (m *Memory) IncrWithExpiry(_ context.Context, key string, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return 0, m.Err
	}
	e, ok := m.entries[key]
	var n int64
	if ok && !e.expired(time.Now()) {
		n, _ = strconv.ParseInt(string(e.value), 10, 64)
	} else {
		e = entry{expires: expiry(ttl)}
	}
	n++
	e.value = []byte(strconv.FormatInt(n, 10))
	m.entries[key] = e
	return n, nil
}

// Locked reports whether key currently holds a lock.
func (m *Memory) Locked(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	return ok && !e.expired(time.Now())
}

func expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return time.Now().Add(ttl)
}

var _ cache.Cache = (*Memory)(nil)
