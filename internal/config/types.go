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

// GlobalConfig 描述服务运行时行为，所有路由共享同一份参数。
type GlobalConfig struct {
	ListenPort    int    `mapstructure:"ListenPort"`
	LogLevel      string `mapstructure:"LogLevel"`
	LogFilePath   string `mapstructure:"LogFilePath"`
	LogMaxSize    int    `mapstructure:"LogMaxSize"`
	LogMaxBackups int    `mapstructure:"LogMaxBackups"`
	LogCompress   bool   `mapstructure:"LogCompress"`

	// CacheDir 为音频缓存目录，目录列表即唯一真相，不维护索引文件。
	CacheDir         string   `mapstructure:"CacheDir"`
	MaxCacheSize     int      `mapstructure:"MaxCacheSize"`
	CacheMaxAgeHours int      `mapstructure:"CacheMaxAgeHours"`
	SweepInterval    Duration `mapstructure:"SweepInterval"`

	YtdlpPath    string   `mapstructure:"YtdlpPath"`
	CookiesPath  string   `mapstructure:"CookiesPath"`
	FetchTimeout Duration `mapstructure:"FetchTimeout"`

	SearchCacheTTL  Duration `mapstructure:"SearchCacheTTL"`
	SearchTimeout   Duration `mapstructure:"SearchTimeout"`
	SearchAPIURL    string   `mapstructure:"SearchAPIURL"`
	UpstreamTimeout Duration `mapstructure:"UpstreamTimeout"`
}

// Config 是 TOML 文件与环境变量合并后的整体结构。
type Config struct {
	Global GlobalConfig `mapstructure:",squash"`
}

// CacheMaxAge 将小时配置换算为 time.Duration；<=0 表示不按时间淘汰。
func (g GlobalConfig) CacheMaxAge() time.Duration {
	if g.CacheMaxAgeHours <= 0 {
		return 0
	}
	return time.Duration(g.CacheMaxAgeHours) * time.Hour
}

// HasCookies 表示是否为 yt-dlp 配置了 cookies 文件。
func (g GlobalConfig) HasCookies() bool {
	return strings.TrimSpace(g.CookiesPath) != ""
}

// AuthMode 输出 `cookies` 或 `anonymous`，供启动日志使用。
func (g GlobalConfig) AuthMode() string {
	if g.HasCookies() {
		return "cookies"
	}
	return "anonymous"
}

// SearchMode 描述搜索主策略是否启用，供日志字段使用。
func (g GlobalConfig) SearchMode() string {
	if strings.TrimSpace(g.SearchAPIURL) != "" {
		return "api+ytdlp"
	}
	return "ytdlp"
}
