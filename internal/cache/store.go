package cache

import (
	"context"
	"errors"
	"io"
	"time"
)

// Store 负责管理磁盘缓存的读写。磁盘布局遵循：
//
//	<StoragePath>/<Namespace>/<hh>/<sha256(Key)>
//
// 每个条目仅由正文文件组成，文件的 ModTime/Size 由文件系统提供。
type Store interface {
	// Get 返回一个可流式读取的缓存条目。若不存在则返回 ErrNotFound。
	Get(ctx context.Context, locator Locator) (*ReadResult, error)

	// Stat 仅返回条目信息而不打开文件，getCachePath 只需要绝对路径。
	Stat(ctx context.Context, locator Locator) (*Entry, error)

	// Put 将下载内容写入缓存，并产出新的 Entry 描述。实现需通过临时文件 + rename
	// 保证写入原子性，并在失败时清理临时文件。可选地根据 opts.ModTime 设置文件时间戳。
	Put(ctx context.Context, locator Locator, body io.Reader, opts PutOptions) (*Entry, error)

	// Touch 在再验证成功（304）后刷新条目时间戳，使 TTL 重新计时。
	Touch(ctx context.Context, locator Locator, modTime time.Time) error

	// Remove 删除正文文件，通常用于上游 404 或校验失败后的清理。
	Remove(ctx context.Context, locator Locator) error

	// Clear 删除某个 Namespace 下的全部条目，返回删除的文件数。
	Clear(ctx context.Context, namespace string) (int, error)
}

// PutOptions 控制写入过程中的可选属性。
type PutOptions struct {
	ModTime time.Time
}

// Locator 唯一定位一个缓存条目（Namespace + 原始 Key，通常为图片 URL）。
type Locator struct {
	Namespace string
	Key       string
}

// Entry 表示一次缓存命中结果，包含绝对文件路径及文件信息。
type Entry struct {
	Locator   Locator   `json:"locator"`
	FilePath  string    `json:"file_path"`
	SizeBytes int64     `json:"size_bytes"`
	ModTime   time.Time `json:"mod_time"`
}

// ReadResult 组合 Entry 与正文 Reader，便于调用方按需读取。
type ReadResult struct {
	Entry  Entry
	Reader io.ReadSeekCloser
}

// ErrNotFound 表示缓存不存在。
var ErrNotFound = errors.New("cache entry not found")
