package source

import (
	"encoding/base64"
	"net/url"
	"path"
	"strings"
)

// Resolver 按固定顺序对描述符分类：data: → 打包资源 → 本地文件 → 远程 URL。
type Resolver struct {
	resources *ResourceTable
}

// NewResolver 构建分类器；resources 可为 nil，此时所有打包资源查找都会失败。
func NewResolver(resources *ResourceTable) *Resolver {
	return &Resolver{resources: resources}
}

// Resources 暴露资源表，引擎需要通过它读取打包资源。
func (r *Resolver) Resources() *ResourceTable {
	return r.resources
}

// ResolveRaw 解析原始参数并分类。
func (r *Resolver) ResolveRaw(raw map[string]any) (Source, error) {
	desc, err := ParseDescriptor(raw)
	if err != nil {
		return Source{}, err
	}
	resolved, err := r.Resolve(desc)
	if err != nil {
		return Source{Descriptor: desc}, err
	}
	return Source{Descriptor: desc, Resolved: resolved}, nil
}

// Resolve 对已解析的描述符分类，失败时返回 InvalidSourceError。
func (r *Resolver) Resolve(desc Descriptor) (Resolved, error) {
	uri := strings.TrimSpace(desc.URI)
	if uri == "" {
		return nil, invalid("", "uri is required", nil)
	}

	scheme := uriScheme(uri)
	switch {
	case scheme == "data":
		return decodeDataURI(uri)
	case scheme == "res" || (scheme == "" && isBareIdentifier(uri)):
		return r.resolveBundled(uri, scheme)
	case scheme == "file" || scheme == "content" || (scheme == "" && strings.HasPrefix(uri, "/")):
		return resolveLocal(uri, scheme)
	case scheme == "http" || scheme == "https":
		return resolveRemote(uri, desc.Headers)
	case scheme == "":
		return nil, invalid(uri, "relative paths are not supported", nil)
	default:
		return nil, invalid(uri, "unsupported scheme "+scheme, nil)
	}
}

// uriScheme 只识别 RFC 3986 合法的 scheme 前缀，避免把 "a:b" 之外的字符串误判。
func uriScheme(uri string) string {
	idx := strings.Index(uri, ":")
	if idx <= 0 {
		return ""
	}
	candidate := uri[:idx]
	for i, ch := range candidate {
		switch {
		case ch >= 'a' && ch <= 'z', ch >= 'A' && ch <= 'Z':
		case i > 0 && (ch >= '0' && ch <= '9' || ch == '+' || ch == '-' || ch == '.'):
		default:
			return ""
		}
	}
	return strings.ToLower(candidate)
}

func isBareIdentifier(uri string) bool {
	if strings.HasPrefix(uri, "/") || strings.HasPrefix(uri, ".") {
		return false
	}
	return !strings.ContainsAny(uri, "/\\?#")
}

func decodeDataURI(uri string) (Resolved, error) {
	comma := strings.Index(uri, ",")
	if comma < 0 {
		return nil, invalid(uri, "data uri missing payload separator", nil)
	}
	meta := uri[len("data:"):comma]
	payload := uri[comma+1:]

	mediaType := "text/plain"
	isBase64 := false
	for i, part := range strings.Split(meta, ";") {
		part = strings.TrimSpace(part)
		switch {
		case i == 0 && part != "":
			mediaType = strings.ToLower(part)
		case strings.EqualFold(part, "base64"):
			isBase64 = true
		}
	}

	var data []byte
	if isBase64 {
		decoded, err := decodeBase64(payload)
		if err != nil {
			return nil, invalid(truncate(uri), "base64 payload", err)
		}
		data = decoded
	} else {
		unescaped, err := url.PathUnescape(payload)
		if err != nil {
			return nil, invalid(truncate(uri), "percent-encoded payload", err)
		}
		data = []byte(unescaped)
	}
	if len(data) == 0 {
		return nil, invalid(truncate(uri), "data uri payload is empty", nil)
	}
	return EmbeddedData{MediaType: mediaType, Data: data}, nil
}

func decodeBase64(payload string) ([]byte, error) {
	payload = strings.Map(func(r rune) rune {
		switch r {
		case '\n', '\r', ' ', '\t':
			return -1
		}
		return r
	}, payload)
	if decoded, err := base64.StdEncoding.DecodeString(payload); err == nil {
		return decoded, nil
	}
	return base64.RawStdEncoding.DecodeString(payload)
}

func (r *Resolver) resolveBundled(uri, scheme string) (Resolved, error) {
	identifier := uri
	if scheme == "res" {
		identifier = strings.TrimLeft(uri[len("res:"):], "/")
	}
	if identifier == "" {
		return nil, invalid(uri, "resource identifier is empty", nil)
	}
	filePath, ok := r.resources.Lookup(identifier)
	if !ok {
		return nil, invalid(uri, "resource "+identifier+" not found", nil)
	}
	return BundledResource{Identifier: identifier, Path: filePath}, nil
}

func resolveLocal(uri, scheme string) (Resolved, error) {
	if scheme == "" {
		return LocalFile{Path: path.Clean(uri)}, nil
	}
	parsed, err := url.Parse(uri)
	if err != nil {
		return nil, invalid(uri, "malformed uri", err)
	}
	if parsed.Path == "" {
		return nil, invalid(uri, "path is empty", nil)
	}
	if scheme == "content" {
		if parsed.Host == "" {
			return nil, invalid(uri, "content uri requires an authority", nil)
		}
		return LocalFile{Path: path.Clean(parsed.Path), Provider: parsed.Host}, nil
	}
	if parsed.Host != "" && parsed.Host != "localhost" {
		return nil, invalid(uri, "file uri must not name a remote host", nil)
	}
	return LocalFile{Path: path.Clean(parsed.Path)}, nil
}

func resolveRemote(uri string, headers map[string]string) (Resolved, error) {
	parsed, err := url.Parse(uri)
	if err != nil {
		return nil, invalid(uri, "malformed uri", err)
	}
	if parsed.Host == "" {
		return nil, invalid(uri, "remote uri requires a host", nil)
	}
	return RemoteURL{URL: parsed, Headers: copyHeaders(headers)}, nil
}

func truncate(uri string) string {
	const limit = 64
	if len(uri) <= limit {
		return uri
	}
	return uri[:limit] + "..."
}
