package config

import (
	"testing"
	"time"
)

func TestLoadRejectsInvalidDuration(t *testing.T) {
	clearEnv(t)
	cfg := `
LogLevel = "info"
CacheDir = "./data"
SweepInterval = "boom"
`
	path := writeTempConfig(t, cfg)
	if _, err := Load(path); err == nil {
		t.Fatalf("无效 Duration 应失败")
	}
}

func TestLoadMissingFileFails(t *testing.T) {
	clearEnv(t)
	if _, err := Load(testConfigPath(t, "does-not-exist.toml")); err == nil {
		t.Fatalf("指定的配置文件不存在时应返回错误")
	}
}

func TestUnparsableCacheLimitsFallBackToDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("CACHE_DIR", t.TempDir())
	t.Setenv("MAX_CACHE_SIZE", "abc")
	t.Setenv("CACHE_MAX_AGE_HOURS", "12h")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("非数字的缓存上限不应导致加载失败: %v", err)
	}
	if cfg.Global.MaxCacheSize != 100 {
		t.Fatalf("MAX_CACHE_SIZE 无法解析时应回退为 100，得到 %d", cfg.Global.MaxCacheSize)
	}
	if cfg.Global.CacheMaxAgeHours != 12 {
		t.Fatalf("CACHE_MAX_AGE_HOURS 应取开头的整数 12，得到 %d", cfg.Global.CacheMaxAgeHours)
	}
}

func TestLeadingInt(t *testing.T) {
	cases := map[string]int{
		"42":    42,
		" 7 ":   7,
		"12abc": 12,
		"-3":    -3,
		"abc":   0,
		"":      0,
		"+":     0,
	}
	for in, want := range cases {
		if got := leadingInt(in); got != want {
			t.Fatalf("leadingInt(%q) = %d, 期望 %d", in, got, want)
		}
	}
}

func TestEnvironmentOverridesFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	t.Setenv("PORT", "8088")
	t.Setenv("CACHE_DIR", dir)
	t.Setenv("MAX_CACHE_SIZE", "7")
	t.Setenv("CACHE_MAX_AGE_HOURS", "2")
	t.Setenv("YTDLP_PATH", "/opt/yt-dlp")
	t.Setenv("COOKIES_PATH", "/secrets/cookies.txt")
	t.Setenv("FETCH_TIMEOUT", "90s")

	cfg, err := Load(testConfigPath(t, "valid.toml"))
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	g := cfg.Global
	if g.ListenPort != 8088 {
		t.Fatalf("PORT 应覆盖配置文件，得到 %d", g.ListenPort)
	}
	if g.CacheDir != dir {
		t.Fatalf("CACHE_DIR 应覆盖配置文件，得到 %s", g.CacheDir)
	}
	if g.MaxCacheSize != 7 {
		t.Fatalf("MAX_CACHE_SIZE 应覆盖配置文件，得到 %d", g.MaxCacheSize)
	}
	if g.CacheMaxAge() != 2*time.Hour {
		t.Fatalf("CACHE_MAX_AGE_HOURS 应覆盖配置文件，得到 %s", g.CacheMaxAge())
	}
	if g.YtdlpPath != "/opt/yt-dlp" || g.CookiesPath != "/secrets/cookies.txt" {
		t.Fatalf("yt-dlp 相关环境变量未生效: %s %s", g.YtdlpPath, g.CookiesPath)
	}
	if g.FetchTimeout.DurationValue() != 90*time.Second {
		t.Fatalf("FETCH_TIMEOUT 未生效: %s", g.FetchTimeout.DurationValue())
	}
}

func TestZeroCacheLimitsFallBackToDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("MAX_CACHE_SIZE", "0")
	t.Setenv("CACHE_MAX_AGE_HOURS", "0")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	if cfg.Global.MaxCacheSize != 100 || cfg.Global.CacheMaxAgeHours != 24 {
		t.Fatalf("0 值应回退默认，得到 %d/%d", cfg.Global.MaxCacheSize, cfg.Global.CacheMaxAgeHours)
	}
}
