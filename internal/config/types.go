package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// GlobalConfig 描述全局运行时行为：监听端口、日志、缓存目录以及图片引擎参数。
type GlobalConfig struct {
	ListenPort      int      `mapstructure:"ListenPort"`
	LogLevel        string   `mapstructure:"LogLevel"`
	LogFilePath     string   `mapstructure:"LogFilePath"`
	LogMaxSize      int      `mapstructure:"LogMaxSize"`
	LogMaxBackups   int      `mapstructure:"LogMaxBackups"`
	LogCompress     bool     `mapstructure:"LogCompress"`
	StoragePath     string   `mapstructure:"StoragePath"`
	DiskCacheTTL    Duration `mapstructure:"DiskCacheTTL"`
	MemoryCacheTTL  Duration `mapstructure:"MemoryCacheTTL"`
	MaxMemoryCache  int64    `mapstructure:"MaxMemoryCacheSize"`
	MaxRetries      int      `mapstructure:"MaxRetries"`
	InitialBackoff  Duration `mapstructure:"InitialBackoff"`
	UpstreamTimeout Duration `mapstructure:"UpstreamTimeout"`
	Workers         int      `mapstructure:"Workers"`
	QueueSize       int      `mapstructure:"QueueSize"`
	UserAgent       string   `mapstructure:"UserAgent"`
	VerifyImages    bool     `mapstructure:"VerifyImages"`
	ResourceRoot    string   `mapstructure:"ResourceRoot"`
}

// ResourceConfig 声明一个打包资源：调用方使用 Name 引用，Path 相对 ResourceRoot。
type ResourceConfig struct {
	Name string `mapstructure:"Name"`
	Path string `mapstructure:"Path"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global    GlobalConfig     `mapstructure:",squash"`
	Resources []ResourceConfig `mapstructure:"Resource"`
}

// ResourceMap 将资源列表转换为 Name → Path 的映射，供 source.ResourceTable 使用。
func (c *Config) ResourceMap() map[string]string {
	if c == nil || len(c.Resources) == 0 {
		return map[string]string{}
	}
	result := make(map[string]string, len(c.Resources))
	for _, res := range c.Resources {
		result[res.Name] = res.Path
	}
	return result
}

// ResourceNames 返回所有资源名称，供启动日志输出。
func ResourceNames(resources []ResourceConfig) []string {
	if len(resources) == 0 {
		return nil
	}
	result := make([]string, len(resources))
	for i, res := range resources {
		result[i] = res.Name
	}
	return result
}
