package engine

import (
	"context"
	"sync"

	"github.com/preload-hub/preload-hub/internal/source"
)

type job struct {
	req      Request
	listener Listener
}

// pool 是三条优先级通道组成的 worker pool：worker 总是先取 high，再 normal，最后 low。
type pool struct {
	lanes   [3]chan job
	workers int
	run     func(context.Context, job)
	drop    func(job, error)

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func newPool(workers, queueSize int, run func(context.Context, job), drop func(job, error)) *pool {
	p := &pool{workers: workers, run: run, drop: drop}
	for i := range p.lanes {
		p.lanes[i] = make(chan job, queueSize)
	}
	return p
}

func laneOf(priority source.Priority) int {
	switch priority {
	case source.PriorityHigh:
		return 0
	case source.PriorityLow:
		return 2
	default:
		return 1
	}
}

func (p *pool) start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
	go func() {
		<-ctx.Done()
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()
	}()
}

// submit 非阻塞入队。
func (p *pool) submit(j job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	select {
	case p.lanes[laneOf(j.req.Source.Descriptor.Priority)] <- j:
		return nil
	default:
		return ErrQueueFull
	}
}

func (p *pool) worker(ctx context.Context) {
	defer p.wg.Done()
	for {
		j, ok := p.next(ctx)
		if !ok {
			p.drain()
			return
		}
		p.run(ctx, j)
	}
}

func (p *pool) next(ctx context.Context) (job, bool) {
	for _, lane := range p.lanes {
		select {
		case j := <-lane:
			return j, true
		default:
		}
	}
	select {
	case j := <-p.lanes[0]:
		return j, true
	case j := <-p.lanes[1]:
		return j, true
	case j := <-p.lanes[2]:
		return j, true
	case <-ctx.Done():
		return job{}, false
	}
}

// drain 让关闭时仍在队列中的请求以 ErrClosed 结束。
func (p *pool) drain() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	for _, lane := range p.lanes {
		for {
			select {
			case j := <-lane:
				p.drop(j, ErrClosed)
				continue
			default:
			}
			break
		}
	}
}

func (p *pool) queued() int {
	total := 0
	for _, lane := range p.lanes {
		total += len(lane)
	}
	return total
}

func (p *pool) wait() {
	p.wg.Wait()
}
