package engine

import (
	"sync"
	"sync/atomic"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// memoryTier 在 go-cache 之上增加字节预算；超出预算的条目不进入内存。
type memoryTier struct {
	items  *gocache.Cache
	budget int64
	used   atomic.Int64
	// mu 串行化写入，OnEvicted 只使用原子计数。
	mu sync.Mutex
}

func newMemoryTier(ttl time.Duration, budget int64) *memoryTier {
	expiration := gocache.NoExpiration
	cleanup := time.Duration(0)
	if ttl > 0 {
		expiration = ttl
		cleanup = ttl / 2
		if cleanup < time.Second {
			cleanup = time.Second
		}
	}
	m := &memoryTier{items: gocache.New(expiration, cleanup), budget: budget}
	m.items.OnEvicted(func(_ string, value interface{}) {
		if data, ok := value.([]byte); ok {
			m.used.Add(-int64(len(data)))
		}
	})
	return m
}

func (m *memoryTier) fits(size int64) bool {
	return m.budget > 0 && size <= m.budget
}

func (m *memoryTier) get(key string) ([]byte, bool) {
	value, ok := m.items.Get(key)
	if !ok {
		return nil, false
	}
	data, ok := value.([]byte)
	return data, ok
}

func (m *memoryTier) set(key string, data []byte) {
	size := int64(len(data))
	if !m.fits(size) {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	// Delete 会触发 OnEvicted，保证替换旧值时字节数不重复计算。
	m.items.Delete(key)
	if m.used.Load()+size > m.budget {
		m.items.DeleteExpired()
	}
	if m.used.Load()+size > m.budget {
		for k := range m.items.Items() {
			m.items.Delete(k)
			if m.used.Load()+size <= m.budget {
				break
			}
		}
	}
	m.items.SetDefault(key, data)
	m.used.Add(size)
}

// flush 不会触发 OnEvicted，因此直接清零计数。
func (m *memoryTier) flush() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items.Flush()
	m.used.Store(0)
}

func (m *memoryTier) usage() (int, int64) {
	return m.items.ItemCount(), m.used.Load()
}
