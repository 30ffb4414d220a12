package source

import (
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/spf13/afero"
)

// ResourceTable 将打包资源标识符映射到资源目录下的文件，文件访问统一经过 afero。
type ResourceTable struct {
	fs      afero.Fs
	entries map[string]string
}

// NewResourceTable 以 root 为根目录构建资源表；root 为空时资源表为空，所有查找均失败。
func NewResourceTable(root string, entries map[string]string) *ResourceTable {
	var base afero.Fs
	if root != "" {
		base = afero.NewReadOnlyFs(afero.NewBasePathFs(afero.NewOsFs(), root))
	}
	return NewResourceTableFs(base, entries)
}

// NewResourceTableFs 允许注入任意 afero.Fs（测试中通常为 MemMapFs）。
func NewResourceTableFs(fsys afero.Fs, entries map[string]string) *ResourceTable {
	copied := make(map[string]string, len(entries))
	for name, path := range entries {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		copied[name] = strings.TrimPrefix(strings.TrimSpace(path), "/")
	}
	return &ResourceTable{fs: fsys, entries: copied}
}

// Lookup 仅查表，不访问磁盘。
func (t *ResourceTable) Lookup(identifier string) (string, bool) {
	if t == nil || t.fs == nil {
		return "", false
	}
	path, ok := t.entries[identifier]
	return path, ok
}

// Open 打开资源文件供引擎读取。
func (t *ResourceTable) Open(identifier string) (afero.File, error) {
	path, ok := t.Lookup(identifier)
	if !ok {
		return nil, fmt.Errorf("resource %s: %w", identifier, fs.ErrNotExist)
	}
	return t.fs.Open(path)
}

// Names 返回排序后的资源名。
func (t *ResourceTable) Names() []string {
	if t == nil || len(t.entries) == 0 {
		return nil
	}
	names := make([]string, 0, len(t.entries))
	for name := range t.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Missing 返回资源表中登记但文件不存在的资源名，供 --check-config 提示。
func (t *ResourceTable) Missing() []string {
	var missing []string
	for _, name := range t.Names() {
		info, err := t.fs.Stat(t.entries[name])
		if err != nil || info.IsDir() {
			missing = append(missing, name)
		}
	}
	return missing
}
