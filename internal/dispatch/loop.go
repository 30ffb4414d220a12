// Package dispatch 提供单 goroutine 执行上下文：引擎请求构建等对线程敏感的操作都投递到这里串行执行，
// 调用方可以来自任意 goroutine，通过 Run/Call 等待结果。
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/preload-hub/preload-hub/internal/logging"
)

// ErrClosed 表示执行上下文已关闭，不再接受任务。
var ErrClosed = errors.New("dispatch loop closed")

type loopKey struct{}

type task struct {
	ctx    context.Context
	fn     func(context.Context) error
	result chan error
}

// Loop 串行执行投递的任务。
type Loop struct {
	tasks  chan task
	quit   chan struct{}
	done   chan struct{}
	once   sync.Once
	logger *logrus.Entry
}

// New 启动执行上下文；queue 为待执行任务的缓冲长度。
func New(logger *logrus.Logger, queue int) *Loop {
	if queue <= 0 {
		queue = 64
	}
	l := &Loop{
		tasks:  make(chan task, queue),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
		logger: logging.Component(logger, "dispatch"),
	}
	go l.run()
	return l
}

func (l *Loop) run() {
	defer close(l.done)
	for {
		select {
		case t := <-l.tasks:
			l.execute(t)
		case <-l.quit:
			for {
				select {
				case t := <-l.tasks:
					l.execute(t)
				default:
					return
				}
			}
		}
	}
}

func (l *Loop) execute(t task) {
	err := l.invoke(t)
	if t.result != nil {
		t.result <- err
	}
}

// invoke 捕获任务 panic，避免单个任务拖垮整个执行上下文。
func (l *Loop) invoke(t task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("dispatch task panic: %v", r)
			l.logger.WithField("action", "dispatch").Error(err.Error())
		}
	}()
	if ctxErr := t.ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return t.fn(context.WithValue(t.ctx, loopKey{}, l))
}

// OnLoop 判断 ctx 是否来自当前执行上下文内部。
func (l *Loop) OnLoop(ctx context.Context) bool {
	owner, _ := ctx.Value(loopKey{}).(*Loop)
	return owner == l
}

// Run 在执行上下文中运行 fn 并等待结束；已在上下文内部时直接内联执行，避免自我死锁。
func (l *Loop) Run(ctx context.Context, fn func(context.Context) error) error {
	if l.OnLoop(ctx) {
		return fn(ctx)
	}

	result := make(chan error, 1)
	if err := l.enqueue(task{ctx: ctx, fn: fn, result: result}); err != nil {
		return err
	}

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		select {
		case err := <-result:
			return err
		default:
			return ErrClosed
		}
	}
}

// Call 是带返回值的 Run。
func Call[T any](ctx context.Context, l *Loop, fn func(context.Context) (T, error)) (T, error) {
	out := make(chan T, 1)
	err := l.Run(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		out <- v
		return err
	})
	select {
	case v := <-out:
		return v, err
	default:
		var zero T
		return zero, err
	}
}

func (l *Loop) enqueue(t task) error {
	select {
	case <-l.quit:
		return ErrClosed
	default:
	}
	select {
	case <-l.quit:
		return ErrClosed
	case <-t.ctx.Done():
		return t.ctx.Err()
	case l.tasks <- t:
		return nil
	}
}

// Close 停止接收新任务，执行完已排队的任务后返回。
func (l *Loop) Close() {
	l.once.Do(func() { close(l.quit) })
	<-l.done
}
