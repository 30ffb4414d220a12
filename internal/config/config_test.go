package config

import (
	"testing"
	"time"
)

func TestLoadWithDefaults(t *testing.T) {
	cfgPath := testConfigPath(t, "valid.toml")

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	if cfg.Global.DiskCacheTTL.DurationValue() != 24*time.Hour {
		t.Fatalf("DiskCacheTTL 解析错误: %s", cfg.Global.DiskCacheTTL.DurationValue())
	}
	if cfg.Global.MemoryCacheTTL.DurationValue() != 10*time.Minute {
		t.Fatalf("纯数字 MemoryCacheTTL 应按秒解析，得到 %s", cfg.Global.MemoryCacheTTL.DurationValue())
	}
	if cfg.Global.InitialBackoff.DurationValue() == 0 {
		t.Fatalf("InitialBackoff 应该自动填充默认值")
	}
	if cfg.Global.UserAgent == "" {
		t.Fatalf("UserAgent 应该自动填充默认值")
	}
	if cfg.Global.StoragePath == "" {
		t.Fatalf("StoragePath 应该被保留")
	}
	if cfg.Global.ListenPort != 5100 {
		t.Fatalf("ListenPort 应当被解析")
	}
	if got := cfg.ResourceMap()["logo"]; got != "images/logo.png" {
		t.Fatalf("资源映射错误: %q", got)
	}
}

func TestValidateRejectsResourceWithoutPath(t *testing.T) {
	cfgPath := testConfigPath(t, "missing.toml")

	if _, err := Load(cfgPath); err == nil {
		t.Fatalf("不合法的配置应返回错误")
	}
}

func TestValidateEnforcesListenPortRange(t *testing.T) {
	cfg := validConfig()
	cfg.Global.ListenPort = 70000
	if err := cfg.Validate(); err == nil {
		t.Fatalf("ListenPort 超出范围应当报错")
	}
}

func TestValidateRequiresWorkers(t *testing.T) {
	cfg := validConfig()
	cfg.Global.Workers = 0
	if err := cfg.Validate(); err == nil {
		t.Fatalf("Workers 为 0 时应报错")
	}
}

func TestResourceNameValidation(t *testing.T) {
	testCases := []struct {
		name      string
		resName   string
		shouldErr bool
	}{
		{"plain ok", "logo", false},
		{"dotted ok", "logo.png", false},
		{"missing name", "", true},
		{"scheme", "res:logo", true},
		{"slash", "icons/logo", true},
		{"leading dot", ".hidden", true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.Resources[0].Name = tc.resName
			err := cfg.Validate()
			if tc.shouldErr && err == nil {
				t.Fatalf("expected error for name %q", tc.resName)
			}
			if !tc.shouldErr && err != nil {
				t.Fatalf("unexpected error for name %q: %v", tc.resName, err)
			}
		})
	}
}

func TestValidateRejectsEscapingResourcePath(t *testing.T) {
	cfg := validConfig()
	cfg.Resources[0].Path = "../secret.png"
	err := cfg.Validate()
	if err == nil {
		t.Fatalf("跳出 ResourceRoot 的路径应报错")
	}
	var fieldErr FieldError
	if fe, ok := err.(FieldError); ok {
		fieldErr = fe
	}
	if fieldErr.Field != "Resource[logo].Path" {
		t.Fatalf("字段路径错误: %q", fieldErr.Field)
	}
}

func TestValidateRejectsDuplicateResources(t *testing.T) {
	cfg := validConfig()
	cfg.Resources = append(cfg.Resources, ResourceConfig{Name: "logo", Path: "other.png"})
	if err := cfg.Validate(); err == nil {
		t.Fatalf("重复资源名应报错")
	}
}

func TestValidateRequiresResourceRoot(t *testing.T) {
	cfg := validConfig()
	cfg.Global.ResourceRoot = ""
	if err := cfg.Validate(); err == nil {
		t.Fatalf("声明资源但缺少 ResourceRoot 时应报错")
	}
}

func validConfig() *Config {
	return &Config{
		Global: GlobalConfig{
			ListenPort:      5100,
			StoragePath:     "./data",
			MemoryCacheTTL:  Duration(time.Minute),
			MaxMemoryCache:  1024,
			MaxRetries:      1,
			InitialBackoff:  Duration(time.Second),
			UpstreamTimeout: Duration(time.Second),
			Workers:         1,
			QueueSize:       1,
			ResourceRoot:    "./assets",
		},
		Resources: []ResourceConfig{
			{Name: "logo", Path: "images/logo.png"},
		},
	}
}
