package preload

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/preload-hub/preload-hub/internal/events"
	"github.com/preload-hub/preload-hub/internal/logging"
)

// Registry 是进程级批次注册表，启动时为空；批次完成后自动移除，没有显式销毁接口。
type Registry struct {
	mu      sync.Mutex
	next    int
	batches map[int]*Batch
	emitter events.Emitter
	logger  *logrus.Entry
	now     func() time.Time
}

// NewRegistry 构建注册表，emitter 可为 nil（事件直接丢弃）。
func NewRegistry(emitter events.Emitter, logger *logrus.Logger) *Registry {
	return &Registry{
		batches: make(map[int]*Batch),
		emitter: emitter,
		logger:  logging.Component(logger, "preload"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// CreateBatch 分配单调递增的批次 ID（从 0 开始）并登记一个空计数器。
func (r *Registry) CreateBatch() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.next
	r.next++
	r.batches[id] = newBatch(id, r.emitter, r.prune)
	return id
}

// Begin 为 id 设置来源总数并开始计数。未登记的 id 会被补登记；
// 仍在进行中的同 id 批次会被新批次替换，旧批次的后续回调不再影响新计数。
func (r *Registry) Begin(id, total int) *Batch {
	r.mu.Lock()
	batch, ok := r.batches[id]
	switch {
	case !ok:
		entry := r.logger.WithField("batch_id", id)
		if id >= r.next {
			// 从未分配过的 ID：推进 next 保证后续分配不重复，MaxInt 处不推进以免溢出。
			entry.Warn("preload_unknown_batch")
			if id < math.MaxInt {
				r.next = id + 1
			}
		} else {
			entry.Debug("preload_batch_reopened")
		}
		batch = newBatch(id, r.emitter, r.prune)
		r.batches[id] = batch
	case batch.Snapshot().State != StateCreated:
		r.logger.WithField("batch_id", id).Warn("preload_batch_restarted")
		batch = newBatch(id, r.emitter, r.prune)
		r.batches[id] = batch
	}
	r.mu.Unlock()

	batch.arm(total, r.now())
	return batch
}

// prune 在批次完成后移除它；若同 id 已被新批次替换则保留新批次。
func (r *Registry) prune(b *Batch) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.batches[b.ID]; ok && current == b {
		delete(r.batches, b.ID)
	}
}

// Lookup 返回仍在跟踪中的批次。
func (r *Registry) Lookup(id int) (*Batch, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	batch, ok := r.batches[id]
	return batch, ok
}

// Snapshot 按 ID 排序返回所有仍在跟踪的批次。
func (r *Registry) Snapshot() []Snapshot {
	r.mu.Lock()
	batches := make([]*Batch, 0, len(r.batches))
	for _, batch := range r.batches {
		batches = append(batches, batch)
	}
	r.mu.Unlock()

	result := make([]Snapshot, 0, len(batches))
	for _, batch := range batches {
		result = append(result, batch.Snapshot())
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}
