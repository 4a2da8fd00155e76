package cache

import (
	"sync"
	"time"
)

// MemCache holds in-memory counters keyed by string. Counters can have an
// optional TTL. A background cleanup goroutine runs when NewMemCache is
// given a positive cleanupInterval.
type MemCache struct {
	items sync.Map
	stop  chan struct{}
	once  sync.Once
	wg    sync.WaitGroup
}

type item struct {
	mu         sync.Mutex
	value      int64
	expiration int64 // unix nano; 0 means no expiration
}

func NewMemCache(cleanupInterval time.Duration) *MemCache {
	m := &MemCache{
		stop: make(chan struct{}),
	}
	if cleanupInterval > 0 {
		m.wg.Add(1)
		go func() {
			ticker := time.NewTicker(cleanupInterval)
			defer ticker.Stop()
			defer m.wg.Done()
			for {
				select {
				case <-ticker.C:
					m.cleanup()
				case <-m.stop:
					return
				}
			}
		}()
	}
	return m
}

// Increment adds delta to the counter at key, creating it when missing or
// expired. A positive ttl (re)arms the expiration.
func (m *MemCache) Increment(key string, delta int64, ttl time.Duration) int64 {
	for {
		actual, _ := m.items.LoadOrStore(key, &item{})
		it := actual.(*item)

		it.mu.Lock()
		// Decrement may have removed the item between LoadOrStore and Lock.
		if current, ok := m.items.Load(key); !ok || current != it {
			it.mu.Unlock()
			continue
		}

		if it.isExpired() {
			it.value = 0
			it.expiration = 0
		}
		it.value += delta
		if ttl > 0 {
			it.expiration = expirationFor(ttl)
		}
		n := it.value
		it.mu.Unlock()
		return n
	}
}

// Decrement subtracts delta and removes the key once it reaches zero.
func (m *MemCache) Decrement(key string, delta int64) int64 {
	v, ok := m.items.Load(key)
	if !ok {
		return 0
	}
	it := v.(*item)

	it.mu.Lock()
	defer it.mu.Unlock()

	it.value -= delta
	if it.value <= 0 || it.isExpired() {
		m.items.CompareAndDelete(key, it)
		return 0
	}
	return it.value
}

// Len reports the number of live counters.
func (m *MemCache) Len() int {
	n := 0
	m.items.Range(func(_, v any) bool {
		it := v.(*item)
		it.mu.Lock()
		if !it.isExpired() {
			n++
		}
		it.mu.Unlock()
		return true
	})
	return n
}

func (m *MemCache) Close() {
	m.once.Do(func() {
		close(m.stop)
	})
	m.wg.Wait()
}

func (it *item) isExpired() bool {
	if it.expiration == 0 {
		return false
	}
	return time.Now().UnixNano() > it.expiration
}

func (m *MemCache) cleanup() {
	m.items.Range(func(k, v any) bool {
		it := v.(*item)
		it.mu.Lock()
		expired := it.isExpired()
		it.mu.Unlock()
		if expired {
			m.items.CompareAndDelete(k, it)
		}
		return true
	})
}

func expirationFor(ttl time.Duration) int64 {
	if ttl <= 0 {
		return 0
	}
	return time.Now().Add(ttl).UnixNano()
}
