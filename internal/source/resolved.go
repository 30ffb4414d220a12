package source

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
)

// Kind 标识 Resolved 当前生效的变体。
type Kind string

const (
	KindRemote   Kind = "remote"
	KindFile     Kind = "file"
	KindEmbedded Kind = "data"
	KindBundled  Kind = "resource"
)

// Resolved 是描述符分类后的结果，只有以下四种实现。
type Resolved interface {
	Kind() Kind
	// CacheKey 在同一进程内唯一标识该来源，内存缓存与去重都以它为键。
	CacheKey() string
	resolved()
}

// RemoteURL 需要经网络获取的图片。
type RemoteURL struct {
	URL     *url.URL
	Headers map[string]string
}

// LocalFile 本地文件；content:// 来源的 Provider 记录 authority，Path 为其路径部分。
type LocalFile struct {
	Path     string
	Provider string
}

// EmbeddedData 由 data: URI 内联的图片字节。
type EmbeddedData struct {
	MediaType string
	Data      []byte
}

// BundledResource 资源表中登记的打包资源。
type BundledResource struct {
	Identifier string
	Path       string
}

func (RemoteURL) Kind() Kind       { return KindRemote }
func (LocalFile) Kind() Kind       { return KindFile }
func (EmbeddedData) Kind() Kind    { return KindEmbedded }
func (BundledResource) Kind() Kind { return KindBundled }

func (r RemoteURL) CacheKey() string {
	if r.URL == nil {
		return ""
	}
	return r.URL.String()
}

func (f LocalFile) CacheKey() string {
	if f.Provider != "" {
		return "content://" + f.Provider + f.Path
	}
	return "file://" + f.Path
}

func (d EmbeddedData) CacheKey() string {
	sum := sha256.Sum256(d.Data)
	return "data:" + hex.EncodeToString(sum[:])
}

func (b BundledResource) CacheKey() string {
	return "res:" + b.Identifier
}

func (RemoteURL) resolved()       {}
func (LocalFile) resolved()       {}
func (EmbeddedData) resolved()    {}
func (BundledResource) resolved() {}

// Source 组合描述符与其解析结果，是引擎请求的输入。
type Source struct {
	Descriptor Descriptor
	Resolved   Resolved
}
