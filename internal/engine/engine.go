// Package engine 是图片加载/缓存引擎：按优先级排队的 worker pool 负责网络与磁盘工作，
// 内存层使用 go-cache，磁盘层复用 internal/cache.Store。上层只通过 Engine 接口访问。
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/preload-hub/preload-hub/internal/source"
)

// Request 是一次引擎请求：解析后的来源加上调用方选项。
type Request struct {
	Source source.Source
}

// Kind 返回来源类型，未解析时为空。
func (r Request) Kind() source.Kind {
	if r.Source.Resolved == nil {
		return ""
	}
	return r.Source.Resolved.Kind()
}

// Result 描述一次成功加载。
type Result struct {
	// FilePath 仅远程来源有值，指向磁盘缓存文件。
	FilePath  string
	SizeBytes int64
	// DataSource 标识数据来自 memory/disk/remote/local。
	DataSource DataSource
	Elapsed    time.Duration
}

// DataSource 标识数据来源层级。
type DataSource string

const (
	DataSourceMemory DataSource = "memory"
	DataSourceDisk   DataSource = "disk"
	DataSourceRemote DataSource = "remote"
	DataSourceLocal  DataSource = "local"
)

// Listener 接收单个请求的完成回调，OnResourceReady 与 OnLoadFailed 恰好调用其一且仅一次。
type Listener interface {
	OnResourceReady(req Request, result Result)
	OnLoadFailed(req Request, err error)
}

// ListenerFuncs 让调用方用闭包实现 Listener。
type ListenerFuncs struct {
	Ready  func(Request, Result)
	Failed func(Request, error)
}

func (f ListenerFuncs) OnResourceReady(req Request, result Result) {
	if f.Ready != nil {
		f.Ready(req, result)
	}
}

func (f ListenerFuncs) OnLoadFailed(req Request, err error) {
	if f.Failed != nil {
		f.Failed(req, err)
	}
}

// Stats 是引擎运行状态快照，供诊断端点输出。
type Stats struct {
	Queued        int   `json:"queued"`
	InFlight      int64 `json:"in_flight"`
	Completed     int64 `json:"completed"`
	Failed        int64 `json:"failed"`
	MemoryEntries int   `json:"memory_entries"`
	MemoryBytes   int64 `json:"memory_bytes"`
}

// Engine 是聚合器与桥接层依赖的引擎能力。
type Engine interface {
	// Preload 异步把来源载入缓存（不做显示解码），完成后回调 listener。
	Preload(req Request, listener Listener)
	// DownloadOnly 把远程来源落盘并返回缓存文件的绝对路径。
	DownloadOnly(ctx context.Context, req Request) (string, error)
	// ClearMemory 清空内存缓存。
	ClearMemory()
	// ClearDisk 清空磁盘缓存。
	ClearDisk(ctx context.Context) error
	Stats() Stats
}

// ErrLoadFailed 是所有引擎加载失败的哨兵错误。
var ErrLoadFailed = errors.New("ERROR_LOAD_FAILED")

// ErrQueueFull 表示 worker pool 队列已满，请求被拒绝。
var ErrQueueFull = errors.New("engine queue is full")

// LoadError 携带失败的来源与底层原因。
type LoadError struct {
	URI   string
	Cause error
}

func (e *LoadError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("load %s failed", e.URI)
	}
	return fmt.Sprintf("load %s failed: %v", e.URI, e.Cause)
}

func (e *LoadError) Is(target error) bool {
	return target == ErrLoadFailed
}

func (e *LoadError) Unwrap() error {
	return e.Cause
}

func loadError(req Request, cause error) error {
	var existing *LoadError
	if errors.As(cause, &existing) {
		return cause
	}
	return &LoadError{URI: req.Source.Descriptor.URI, Cause: cause}
}
