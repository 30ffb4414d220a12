// Package bridge 是面向脚本层调用方的预加载模块（对外名称 FastImagePreloaderManager）。
// 参数解析与引擎请求的构建都在 dispatch.Loop 上执行；每个调用恰好返回一次结果。
package bridge

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/preload-hub/preload-hub/internal/dispatch"
	"github.com/preload-hub/preload-hub/internal/engine"
	"github.com/preload-hub/preload-hub/internal/logging"
	"github.com/preload-hub/preload-hub/internal/preload"
	"github.com/preload-hub/preload-hub/internal/source"
)

// Name 是模块暴露给调用方的名称。
const Name = "FastImagePreloaderManager"

// Options 汇总模块依赖。
type Options struct {
	Loop     *dispatch.Loop
	Engine   engine.Engine
	Registry *preload.Registry
	Resolver *source.Resolver
	Logger   *logrus.Logger
}

// Module 实现 createPreloader / preload / clearMemoryCache / clearDiskCache / getCachePath。
type Module struct {
	loop     *dispatch.Loop
	engine   engine.Engine
	registry *preload.Registry
	resolver *source.Resolver
	logger   *logrus.Entry
}

// Diagnostics 是 /-/preloaders 的输出。
type Diagnostics struct {
	Module  string             `json:"module"`
	Batches []preload.Snapshot `json:"batches"`
	Engine  engine.Stats       `json:"engine"`
}

// New 校验依赖并构建模块。
func New(opts Options) (*Module, error) {
	switch {
	case opts.Loop == nil:
		return nil, errors.New("dispatch loop is required")
	case opts.Engine == nil:
		return nil, errors.New("engine is required")
	case opts.Registry == nil:
		return nil, errors.New("preload registry is required")
	case opts.Resolver == nil:
		return nil, errors.New("source resolver is required")
	}
	return &Module{
		loop:     opts.Loop,
		engine:   opts.Engine,
		registry: opts.Registry,
		resolver: opts.Resolver,
		logger:   logging.Component(opts.Logger, "bridge"),
	}, nil
}

// CreatePreloader 分配新的批次 ID，可在任意 goroutine 调用。
func (m *Module) CreatePreloader(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	id := m.registry.CreateBatch()
	m.logger.WithField("batch_id", id).Debug("preloader_created")
	return id, nil
}

// Preload 在执行上下文中解析并分发每个来源，分发完成即返回来源总数。
// 单个来源的失败只体现在批次计数与事件中，不会作为错误返回。
func (m *Module) Preload(ctx context.Context, id int, sources []map[string]any) (int, error) {
	return dispatch.Call(ctx, m.loop, func(context.Context) (int, error) {
		batch := m.registry.Begin(id, len(sources))
		for index, raw := range sources {
			src, err := m.resolver.ResolveRaw(raw)
			if err != nil {
				m.logger.WithFields(logging.SourceFields("", src.Descriptor.URI, string(src.Descriptor.Priority), string(src.Descriptor.CacheControl))).
					WithField("batch_id", id).
					WithField("index", index).
					WithError(err).
					Warn("preload_source_skipped")
				batch.Complete(index, err)
				continue
			}
			m.engine.Preload(engine.Request{Source: src}, preload.NewListener(batch, index))
		}
		m.logger.WithFields(logging.BatchFields(id, 0, 0, len(sources))).Info("preload_dispatched")
		return len(sources), nil
	})
}

// ClearMemoryCache 在执行上下文中清空内存缓存。
func (m *Module) ClearMemoryCache(ctx context.Context) error {
	return m.loop.Run(ctx, func(context.Context) error {
		m.engine.ClearMemory()
		return nil
	})
}

// ClearDiskCache 在后台清空磁盘缓存；引擎错误只记录日志，调用方总是收到成功。
func (m *Module) ClearDiskCache(ctx context.Context) error {
	if err := m.engine.ClearDisk(ctx); err != nil {
		m.logger.WithError(err).Warn("clear_disk_cache_failed")
	}
	return nil
}

// GetCachePath 返回远程来源在磁盘缓存中的绝对路径；本地、内联与打包资源返回 nil 且不会触发引擎。
func (m *Module) GetCachePath(ctx context.Context, raw map[string]any) (*string, error) {
	src, err := dispatch.Call(ctx, m.loop, func(context.Context) (source.Source, error) {
		return m.resolver.ResolveRaw(raw)
	})
	if err != nil {
		return nil, err
	}
	if _, ok := src.Resolved.(source.RemoteURL); !ok {
		return nil, nil
	}

	path, err := m.engine.DownloadOnly(ctx, engine.Request{Source: src})
	if err != nil {
		m.logger.WithField("uri", src.Descriptor.URI).WithError(err).Warn("cache_path_failed")
		if !errors.Is(err, engine.ErrLoadFailed) {
			err = &engine.LoadError{URI: src.Descriptor.URI, Cause: err}
		}
		return nil, err
	}
	if path == "" {
		return nil, &engine.LoadError{URI: src.Descriptor.URI, Cause: fmt.Errorf("engine returned empty path")}
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, &engine.LoadError{URI: src.Descriptor.URI, Cause: err}
	}
	return &abs, nil
}

// Diagnostics 汇总仍在跟踪的批次与引擎状态。
func (m *Module) Diagnostics() Diagnostics {
	return Diagnostics{
		Module:  Name,
		Batches: m.registry.Snapshot(),
		Engine:  m.engine.Stats(),
	}
}
