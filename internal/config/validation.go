package config

import (
	"errors"
	"path/filepath"
	"strings"
)

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if g.StoragePath == "" {
		return newFieldError("Global.StoragePath", "不能为空")
	}
	if g.DiskCacheTTL.DurationValue() < 0 {
		return newFieldError("Global.DiskCacheTTL", "不能为负数")
	}
	if g.MemoryCacheTTL.DurationValue() <= 0 {
		return newFieldError("Global.MemoryCacheTTL", "必须大于 0")
	}
	if g.MaxMemoryCache <= 0 {
		return newFieldError("Global.MaxMemoryCacheSize", "必须大于 0")
	}
	if g.MaxRetries < 0 {
		return newFieldError("Global.MaxRetries", "不能为负数")
	}
	if g.InitialBackoff.DurationValue() <= 0 {
		return newFieldError("Global.InitialBackoff", "必须大于 0")
	}
	if g.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("Global.UpstreamTimeout", "必须大于 0")
	}
	if g.Workers <= 0 {
		return newFieldError("Global.Workers", "必须大于 0")
	}
	if g.QueueSize <= 0 {
		return newFieldError("Global.QueueSize", "必须大于 0")
	}

	if len(c.Resources) > 0 && strings.TrimSpace(g.ResourceRoot) == "" {
		return newFieldError("Global.ResourceRoot", "声明 Resource 时不能为空")
	}

	seenNames := map[string]struct{}{}
	for i := range c.Resources {
		res := &c.Resources[i]
		if err := validateResourceName(res.Name); err != nil {
			return newFieldError(resourceField(res.Name, "Name"), err.Error())
		}
		if _, exists := seenNames[res.Name]; exists {
			return newFieldError(resourceField(res.Name, "Name"), "重复")
		}
		seenNames[res.Name] = struct{}{}

		if err := validateResourcePath(res.Path); err != nil {
			return newFieldError(resourceField(res.Name, "Path"), err.Error())
		}
	}

	return nil
}

// validateResourceName 保证资源名可以作为裸标识符或 res:/ 路径被引用。
func validateResourceName(name string) error {
	if name == "" {
		return errors.New("不能为空")
	}
	if strings.ContainsAny(name, ":/\\ ") {
		return errors.New("不允许包含冒号、斜杠或空格")
	}
	if strings.HasPrefix(name, ".") {
		return errors.New("不允许以 . 开头")
	}
	return nil
}

func validateResourcePath(raw string) error {
	if raw == "" {
		return errors.New("缺少资源路径")
	}
	if filepath.IsAbs(raw) {
		return errors.New("必须是相对 ResourceRoot 的路径")
	}
	clean := filepath.ToSlash(filepath.Clean(raw))
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return errors.New("不允许跳出 ResourceRoot")
	}
	return nil
}
