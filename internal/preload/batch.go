// Package preload 维护预加载批次：分配批次 ID、统计每个来源的完成情况，
// 并在全部来源完成后发出唯一一次 complete 事件。
package preload

import (
	"sync"
	"time"

	"github.com/preload-hub/preload-hub/internal/events"
)

// State 是批次状态机：Created → Dispatching → Finished，不可回退。
type State string

const (
	StateCreated     State = "created"
	StateDispatching State = "dispatching"
	StateFinished    State = "finished"
)

// Batch 跟踪一次 preload 调用中所有来源的完成情况。
type Batch struct {
	ID int

	mu         sync.Mutex
	state      State
	total      int
	completed  int
	failed     int
	seen       []bool
	startedAt  time.Time
	finishedAt time.Time
	done       chan struct{}

	emitter  events.Emitter
	onFinish func(*Batch)
}

// Snapshot 是 Batch 的只读副本。
type Snapshot struct {
	ID         int       `json:"id"`
	State      State     `json:"state"`
	Total      int       `json:"total"`
	Completed  int       `json:"completed"`
	Failed     int       `json:"failed"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

func newBatch(id int, emitter events.Emitter, onFinish func(*Batch)) *Batch {
	return &Batch{
		ID:       id,
		state:    StateCreated,
		done:     make(chan struct{}),
		emitter:  emitter,
		onFinish: onFinish,
	}
}

// arm 设置来源总数并进入 Dispatching；total 为 0 时直接完成。
func (b *Batch) arm(total int, now time.Time) {
	b.mu.Lock()
	b.total = total
	b.seen = make([]bool, total)
	b.startedAt = now
	b.state = StateDispatching
	finished := total == 0
	if finished {
		b.finishLocked(now)
	}
	b.mu.Unlock()

	if finished && b.onFinish != nil {
		b.onFinish(b)
	}
}

// Complete 记录第 index 个来源完成（err 非空表示失败）。同一 index 重复完成、越界或批次已结束时返回 false。
func (b *Batch) Complete(index int, err error) bool {
	b.mu.Lock()
	if b.state != StateDispatching || index < 0 || index >= b.total || b.seen[index] {
		b.mu.Unlock()
		return false
	}
	b.seen[index] = true
	b.completed++
	if err != nil {
		b.failed++
	}
	b.emitLocked(events.TypeProgress)

	finished := b.completed == b.total
	if finished {
		b.finishLocked(time.Now().UTC())
	}
	b.mu.Unlock()

	if finished && b.onFinish != nil {
		b.onFinish(b)
	}
	return true
}

// finishLocked 切换到 Finished 并发出唯一的 complete 事件；事件在锁内发出，保证它排在本批次所有 progress 之后。
func (b *Batch) finishLocked(now time.Time) {
	b.state = StateFinished
	b.finishedAt = now
	b.emitLocked(events.TypeComplete)
	close(b.done)
}

func (b *Batch) emitLocked(kind events.Type) {
	if b.emitter == nil {
		return
	}
	b.emitter.Emit(events.Event{
		Type:     kind,
		BatchID:  b.ID,
		Finished: b.completed,
		Skipped:  b.failed,
		Total:    b.total,
	})
}

// Done 在批次进入 Finished 时关闭。
func (b *Batch) Done() <-chan struct{} {
	return b.done
}

// Snapshot 返回当前计数。
func (b *Batch) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	snap := Snapshot{
		ID:        b.ID,
		State:     b.state,
		Total:     b.total,
		Completed: b.completed,
		Failed:    b.failed,
		StartedAt: b.startedAt,
	}
	if b.state == StateFinished {
		finishedAt := b.finishedAt
		snap.FinishedAt = &finishedAt
	}
	return snap
}
