// Package cache provides a small key/value cache with per-entry TTL.
// MemoryCache is driven by an injected clock; RedisCache shares state across replicas.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/parkflow/parking-booking-backend/pkg/clock"
)

// Cache is a string key/value store with expiry
type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// SetNX stores value only when key is absent and reports whether it was stored
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, key string) error
}

type entry struct {
	value     string
	expiresAt time.Time
}

// MemoryCache is an in-process Cache. Entries with a zero TTL never expire.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]entry
	clock   clock.Clock
}

// NewMemoryCache creates an empty in-process cache
func NewMemoryCache(clk clock.Clock) *MemoryCache {
	if clk == nil {
		clk = clock.New()
	}
	return &MemoryCache{
		entries: make(map[string]entry),
		clock:   clk,
	}
}

func (m *MemoryCache) live(key string, now time.Time) (entry, bool) {
	e, ok := m.entries[key]
	if !ok {
		return entry{}, false
	}
	if !e.expiresAt.IsZero() && !now.Before(e.expiresAt) {
		delete(m.entries, key)
		return entry{}, false
	}
	return e, true
}

func (m *MemoryCache) expiry(now time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}

// Get returns the value stored under key
func (m *MemoryCache) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.live(key, m.clock.Now())
	return e.value, ok, nil
}

// Set stores value under key
func (m *MemoryCache) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock.Now()
	m.entries[key] = entry{value: value, expiresAt: m.expiry(now, ttl)}
	return nil
}

// SetNX stores value only if key is absent or expired
func (m *MemoryCache) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock.Now()
	if _, ok := m.live(key, now); ok {
		return false, nil
	}
	m.entries[key] = entry{value: value, expiresAt: m.expiry(now, ttl)}
	return true, nil
}

// Delete removes key
func (m *MemoryCache) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

// Purge drops every expired entry and returns how many were removed
func (m *MemoryCache) Purge() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock.Now()
	removed := 0
	for k, e := range m.entries {
		if !e.expiresAt.IsZero() && !now.Before(e.expiresAt) {
			delete(m.entries, k)
			removed++
		}
	}
	return removed
}
