package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"golang.org/x/sync/singleflight"

	"github.com/preload-hub/preload-hub/internal/cache"
	"github.com/preload-hub/preload-hub/internal/logging"
	"github.com/preload-hub/preload-hub/internal/source"
)

// remoteNamespace 是远程图片在磁盘缓存中的命名空间。
const remoteNamespace = "remote"

var (
	// ErrClosed 表示引擎已关闭。
	ErrClosed = errors.New("engine closed")
	// ErrCacheMiss 表示 cacheOnly 请求未命中任何缓存。
	ErrCacheMiss = errors.New("cache miss")
	// ErrNotRemote 表示 DownloadOnly 收到了非远程来源。
	ErrNotRemote = errors.New("source is not a remote url")
	// ErrUnsupportedSource 表示引擎无法读取该来源（例如 content:// provider）。
	ErrUnsupportedSource = errors.New("unsupported source")
)

// Options 描述 Loader 的依赖与调优参数。
type Options struct {
	Store     cache.Store
	Client    *http.Client
	Resources *source.ResourceTable
	// LocalFs 用于读取 file:// 来源，默认操作系统文件系统。
	LocalFs afero.Fs
	Logger  *logrus.Logger

	Workers        int
	QueueSize      int
	MaxRetries     int
	InitialBackoff time.Duration
	DiskCacheTTL   time.Duration
	MemoryTTL      time.Duration
	MaxMemoryBytes int64
	UserAgent      string
	VerifyImages   bool
}

// Loader 是 Engine 的默认实现。
type Loader struct {
	opts   Options
	logger *logrus.Entry

	memory *memoryTier
	pool   *pool
	group  singleflight.Group
	etags  sync.Map

	inFlight  atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
}

var _ Engine = (*Loader)(nil)

// New 构建 Loader 并启动 worker pool。Store 与 Client 必填。
func New(opts Options) (*Loader, error) {
	if opts.Store == nil {
		return nil, errors.New("cache store is required")
	}
	if opts.Client == nil {
		return nil, errors.New("http client is required")
	}
	if opts.LocalFs == nil {
		opts.LocalFs = afero.NewOsFs()
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}

	ctx, cancel := context.WithCancel(context.Background())
	l := &Loader{
		opts:   opts,
		logger: logging.Component(opts.Logger, "engine"),
		memory: newMemoryTier(opts.MemoryTTL, opts.MaxMemoryBytes),
		ctx:    ctx,
		cancel: cancel,
	}
	l.pool = newPool(opts.Workers, opts.QueueSize, l.process, l.reject)
	l.pool.start(ctx)
	return l, nil
}

// Preload 将请求放入对应优先级队列；队列已满或引擎关闭时立即回调 OnLoadFailed。
func (l *Loader) Preload(req Request, listener Listener) {
	if listener == nil {
		listener = ListenerFuncs{}
	}
	if err := l.pool.submit(job{req: req, listener: listener}); err != nil {
		l.reject(job{req: req, listener: listener}, err)
	}
}

// DownloadOnly 在调用方 goroutine 中把远程来源落盘，返回缓存文件绝对路径。
func (l *Loader) DownloadOnly(ctx context.Context, req Request) (string, error) {
	remote, ok := req.Source.Resolved.(source.RemoteURL)
	if !ok {
		return "", loadError(req, ErrNotRemote)
	}
	if err := l.ctx.Err(); err != nil {
		return "", loadError(req, ErrClosed)
	}
	entry, _, err := l.materialize(ctx, req, remote)
	if err != nil {
		return "", loadError(req, err)
	}
	return entry.FilePath, nil
}

// ClearMemory 清空内存层。
func (l *Loader) ClearMemory() {
	l.memory.flush()
	l.logger.Info("engine_memory_cleared")
}

// ClearDisk 删除远程命名空间下的全部缓存文件并遗忘已记录的 ETag。
func (l *Loader) ClearDisk(ctx context.Context) error {
	removed, err := l.opts.Store.Clear(ctx, remoteNamespace)
	l.etags.Range(func(key, _ any) bool {
		l.etags.Delete(key)
		return true
	})
	if err != nil {
		return fmt.Errorf("clear disk cache: %w", err)
	}
	l.logger.WithField("removed", removed).Info("engine_disk_cleared")
	return nil
}

// Stats 返回运行计数。
func (l *Loader) Stats() Stats {
	entries, bytes := l.memory.usage()
	return Stats{
		Queued:        l.pool.queued(),
		InFlight:      l.inFlight.Load(),
		Completed:     l.completed.Load(),
		Failed:        l.failed.Load(),
		MemoryEntries: entries,
		MemoryBytes:   bytes,
	}
}

// Close 停止 worker；队列中剩余的请求以 ErrClosed 失败。
func (l *Loader) Close() {
	l.cancel()
	l.pool.wait()
}

// process 在 worker goroutine 中执行单个请求，保证 listener 恰好被回调一次。
func (l *Loader) process(ctx context.Context, j job) {
	start := time.Now()
	l.inFlight.Add(1)
	defer l.inFlight.Add(-1)

	notified := false
	defer func() {
		if r := recover(); r != nil {
			l.logger.WithField("panic", r).Error("engine_job_panic")
			if !notified {
				l.failed.Add(1)
				j.listener.OnLoadFailed(j.req, loadError(j.req, fmt.Errorf("panic: %v", r)))
			}
		}
	}()

	result, err := l.load(ctx, j.req)
	fields := l.sourceFields(j.req)
	if err != nil {
		err = loadError(j.req, err)
		l.failed.Add(1)
		l.logger.WithFields(fields).WithError(err).Warn("engine_load_failed")
		notified = true
		j.listener.OnLoadFailed(j.req, err)
		return
	}

	result.Elapsed = time.Since(start)
	l.completed.Add(1)
	l.logger.WithFields(fields).
		WithField("data_source", result.DataSource).
		WithField("elapsed_ms", result.Elapsed.Milliseconds()).
		Debug("engine_resource_ready")
	notified = true
	j.listener.OnResourceReady(j.req, result)
}

func (l *Loader) reject(j job, cause error) {
	l.failed.Add(1)
	err := loadError(j.req, cause)
	l.logger.WithFields(l.sourceFields(j.req)).WithError(err).Warn("engine_request_rejected")
	j.listener.OnLoadFailed(j.req, err)
}

func (l *Loader) load(ctx context.Context, req Request) (Result, error) {
	if req.Source.Resolved == nil {
		return Result{}, errors.New("source not resolved")
	}
	key := req.Source.Resolved.CacheKey()
	if req.Source.Descriptor.CacheControl != source.CacheWeb {
		if data, ok := l.memory.get(key); ok {
			return Result{SizeBytes: int64(len(data)), DataSource: DataSourceMemory}, nil
		}
	}

	switch resolved := req.Source.Resolved.(type) {
	case source.RemoteURL:
		entry, from, err := l.materialize(ctx, req, resolved)
		if err != nil {
			return Result{}, err
		}
		l.promote(ctx, key, entry)
		return Result{FilePath: entry.FilePath, SizeBytes: entry.SizeBytes, DataSource: from}, nil
	default:
		data, err := l.readLocal(resolved)
		if err != nil {
			return Result{}, err
		}
		if l.opts.VerifyImages {
			if err := verifyBytes(data); err != nil {
				return Result{}, err
			}
		}
		l.memory.set(key, data)
		return Result{SizeBytes: int64(len(data)), DataSource: DataSourceLocal}, nil
	}
}

// promote 把磁盘条目读入内存层，超出预算的条目只留在磁盘。
func (l *Loader) promote(ctx context.Context, key string, entry *cache.Entry) {
	if !l.memory.fits(entry.SizeBytes) {
		return
	}
	result, err := l.opts.Store.Get(ctx, entry.Locator)
	if err != nil {
		l.logger.WithError(err).WithField("file", entry.FilePath).Debug("engine_promote_failed")
		return
	}
	defer result.Reader.Close()

	data, err := io.ReadAll(result.Reader)
	if err != nil {
		l.logger.WithError(err).WithField("file", entry.FilePath).Debug("engine_promote_failed")
		return
	}
	l.memory.set(key, data)
}

func (l *Loader) sourceFields(req Request) logrus.Fields {
	desc := req.Source.Descriptor
	return logging.SourceFields(string(req.Kind()), desc.URI, string(desc.Priority), string(desc.CacheControl))
}
