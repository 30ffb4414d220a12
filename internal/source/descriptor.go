package source

import (
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"
)

// Priority 对应调用方传入的 priority 字段。
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// CacheControl 对应调用方传入的 cache 字段。
type CacheControl string

const (
	// CacheImmutable 命中磁盘缓存即直接使用，永不再验证。
	CacheImmutable CacheControl = "immutable"
	// CacheWeb 遵循 HTTP 语义，通过 ETag/Last-Modified 条件请求再验证。
	CacheWeb CacheControl = "web"
	// CacheOnly 只读缓存，未命中即失败，不访问网络。
	CacheOnly CacheControl = "cacheOnly"
)

// Descriptor 是解析后的图片描述符，创建后不再修改。
type Descriptor struct {
	URI          string
	Headers      map[string]string
	Priority     Priority
	CacheControl CacheControl
}

// rawDescriptor 映射跨语言调用传入的原始字段。
type rawDescriptor struct {
	URI      string            `mapstructure:"uri"`
	Headers  map[string]string `mapstructure:"headers"`
	Priority string            `mapstructure:"priority"`
	Cache    string            `mapstructure:"cache"`
}

// ParseDescriptor 使用 mapstructure 弱类型解码调用方参数；缺少 uri 或枚举值非法时返回 InvalidSourceError。
func ParseDescriptor(raw map[string]any) (Descriptor, error) {
	if raw == nil {
		return Descriptor{}, invalid("", "descriptor is empty", nil)
	}

	var decoded rawDescriptor
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &decoded,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
	})
	if err != nil {
		return Descriptor{}, fmt.Errorf("build descriptor decoder: %w", err)
	}
	if err := decoder.Decode(raw); err != nil {
		return Descriptor{}, invalid("", "malformed descriptor", err)
	}

	uri := strings.TrimSpace(decoded.URI)
	if uri == "" {
		return Descriptor{}, invalid("", "uri is required", nil)
	}

	priority, err := ParsePriority(decoded.Priority)
	if err != nil {
		return Descriptor{}, invalid(uri, err.Error(), nil)
	}
	cacheControl, err := ParseCacheControl(decoded.Cache)
	if err != nil {
		return Descriptor{}, invalid(uri, err.Error(), nil)
	}

	return Descriptor{
		URI:          uri,
		Headers:      copyHeaders(decoded.Headers),
		Priority:     priority,
		CacheControl: cacheControl,
	}, nil
}

// ParsePriority 大小写不敏感，空值回退 normal。
func ParsePriority(raw string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return PriorityNormal, nil
	case string(PriorityLow):
		return PriorityLow, nil
	case string(PriorityNormal):
		return PriorityNormal, nil
	case string(PriorityHigh):
		return PriorityHigh, nil
	default:
		return "", fmt.Errorf("unsupported priority %q", raw)
	}
}

// ParseCacheControl 大小写不敏感，空值回退 immutable；cacheonly 与 cacheOnly 等价。
func ParseCacheControl(raw string) (CacheControl, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return CacheImmutable, nil
	case strings.ToLower(string(CacheImmutable)):
		return CacheImmutable, nil
	case strings.ToLower(string(CacheWeb)):
		return CacheWeb, nil
	case strings.ToLower(string(CacheOnly)):
		return CacheOnly, nil
	default:
		return "", fmt.Errorf("unsupported cache control %q", raw)
	}
}

func copyHeaders(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	dst := make(map[string]string, len(src))
	for key, value := range src {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		dst[key] = value
	}
	return dst
}
