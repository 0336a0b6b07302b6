package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// envBindings 将配置键映射到历史沿用的环境变量名，环境变量优先级高于配置文件。
var envBindings = map[string][]string{
	"ListenPort":       {"PORT", "LISTEN_PORT"},
	"LogLevel":         {"LOG_LEVEL"},
	"LogFilePath":      {"LOG_FILE_PATH"},
	"CacheDir":         {"CACHE_DIR"},
	"MaxCacheSize":     {"MAX_CACHE_SIZE"},
	"CacheMaxAgeHours": {"CACHE_MAX_AGE_HOURS"},
	"SweepInterval":    {"SWEEP_INTERVAL"},
	"YtdlpPath":        {"YTDLP_PATH"},
	"CookiesPath":      {"COOKIES_PATH"},
	"FetchTimeout":     {"FETCH_TIMEOUT"},
	"SearchCacheTTL":   {"SEARCH_CACHE_TTL"},
	"SearchTimeout":    {"SEARCH_TIMEOUT"},
	"SearchAPIURL":     {"SEARCH_API_URL"},
	"UpstreamTimeout":  {"UPSTREAM_TIMEOUT"},
}

// Load 读取可选的 TOML 配置文件并叠加环境变量，同时注入默认值与校验逻辑。
// path 为空时只使用默认值与环境变量。
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	if err := bindEnv(v); err != nil {
		return nil, err
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("读取配置失败: %w", err)
		}
	}

	coerceLenientInts(v)

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyGlobalDefaults(&cfg.Global)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	absCache, err := filepath.Abs(cfg.Global.CacheDir)
	if err != nil {
		return nil, fmt.Errorf("无法解析缓存目录: %w", err)
	}
	cfg.Global.CacheDir = absCache

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", 3000)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("CacheDir", "./mp3-cache")
	v.SetDefault("MaxCacheSize", 100)
	v.SetDefault("CacheMaxAgeHours", 24)
	v.SetDefault("SweepInterval", "30m")
	v.SetDefault("YtdlpPath", "yt-dlp")
	v.SetDefault("CookiesPath", "")
	v.SetDefault("FetchTimeout", "0s")
	v.SetDefault("SearchCacheTTL", "5m")
	v.SetDefault("SearchTimeout", "60s")
	v.SetDefault("SearchAPIURL", "")
	v.SetDefault("UpstreamTimeout", "15s")
}

func bindEnv(v *viper.Viper) error {
	for key, names := range envBindings {
		args := append([]string{key}, names...)
		if err := v.BindEnv(args...); err != nil {
			return fmt.Errorf("绑定环境变量失败 %s: %w", key, err)
		}
	}
	return nil
}

// lenientIntKeys 沿用历史解析方式：取字符串开头的整数，解析不出时为 0 并随后回退默认值。
var lenientIntKeys = []string{"MaxCacheSize", "CacheMaxAgeHours"}

func coerceLenientInts(v *viper.Viper) {
	for _, key := range lenientIntKeys {
		raw, ok := v.Get(key).(string)
		if !ok {
			continue
		}
		v.Set(key, leadingInt(raw))
	}
}

// leadingInt 解析 s 开头的可选符号与十进制数字，例如 "12abc" 为 12，"abc" 为 0。
func leadingInt(s string) int {
	s = strings.TrimSpace(s)
	end := 0
	if end < len(s) && (s[end] == '+' || s[end] == '-') {
		end++
	}
	digits := end
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == digits {
		return 0
	}
	n, err := strconv.Atoi(s[:end])
	if err != nil {
		return 0
	}
	return n
}

// applyGlobalDefaults 修正零值字段；MaxCacheSize/CacheMaxAgeHours 的 0 值按历史行为回退默认。
func applyGlobalDefaults(g *GlobalConfig) {
	if g.ListenPort == 0 {
		g.ListenPort = 3000
	}
	if g.MaxCacheSize == 0 {
		g.MaxCacheSize = 100
	}
	if g.CacheMaxAgeHours == 0 {
		g.CacheMaxAgeHours = 24
	}
	if g.SweepInterval.DurationValue() == 0 {
		g.SweepInterval = Duration(30 * time.Minute)
	}
	if strings.TrimSpace(g.YtdlpPath) == "" {
		g.YtdlpPath = "yt-dlp"
	}
	if g.SearchCacheTTL.DurationValue() == 0 {
		g.SearchCacheTTL = Duration(5 * time.Minute)
	}
	if g.SearchTimeout.DurationValue() == 0 {
		g.SearchTimeout = Duration(time.Minute)
	}
	if g.UpstreamTimeout.DurationValue() == 0 {
		g.UpstreamTimeout = Duration(15 * time.Second)
	}
	g.SearchAPIURL = strings.TrimRight(strings.TrimSpace(g.SearchAPIURL), "/")
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}
