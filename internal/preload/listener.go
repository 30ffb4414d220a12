package preload

import "github.com/preload-hub/preload-hub/internal/engine"

// Listener 把引擎回调绑定到 (batch, index)，成功与失败都推进计数。
type Listener struct {
	batch *Batch
	index int
}

// NewListener 返回绑定到批次第 index 个来源的引擎回调。
func NewListener(batch *Batch, index int) *Listener {
	return &Listener{batch: batch, index: index}
}

func (l *Listener) OnResourceReady(engine.Request, engine.Result) {
	l.batch.Complete(l.index, nil)
}

func (l *Listener) OnLoadFailed(_ engine.Request, err error) {
	if err == nil {
		err = engine.ErrLoadFailed
	}
	l.batch.Complete(l.index, err)
}
