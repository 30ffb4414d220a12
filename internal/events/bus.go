// Package events 提供预加载进度的 fire-and-forget 通知通道：无订阅者或订阅者缓冲已满时直接丢弃。
package events

import (
	"sync"
	"sync/atomic"
	"time"
)

// Type 区分进度事件与批次完成事件。
type Type string

const (
	TypeProgress Type = "progress"
	TypeComplete Type = "complete"
)

// Event 描述某个预加载批次的进度。
type Event struct {
	Type     Type      `json:"type"`
	BatchID  int       `json:"id"`
	Finished int       `json:"finished"`
	Skipped  int       `json:"skipped"`
	Total    int       `json:"total"`
	At       time.Time `json:"at"`
}

// Emitter 是聚合器依赖的最小接口，测试中可替换为记录器。
type Emitter interface {
	Emit(Event)
}

// Bus 进程内的发布/订阅总线。
type Bus struct {
	mu      sync.RWMutex
	nextID  int
	subs    map[int]chan Event
	dropped atomic.Int64
}

// NewBus 返回空总线。
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe 注册订阅者，返回只读通道与取消函数；取消后通道会被关闭。
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 1
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Emit 非阻塞投递；订阅者处理不过来时该订阅者丢失此事件。
func (b *Bus) Emit(evt Event) {
	if evt.At.IsZero() {
		evt.At = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- evt:
		default:
			b.dropped.Add(1)
		}
	}
}

// Subscribers 返回当前订阅者数量。
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dropped 返回因订阅者缓冲已满而丢弃的事件数。
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}
