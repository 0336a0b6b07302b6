package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var supportedLogLevels = map[string]struct{}{
	"trace": {},
	"debug": {},
	"info":  {},
	"warn":  {},
	"error": {},
	"fatal": {},
	"panic": {},
}

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if _, ok := supportedLogLevels[strings.ToLower(strings.TrimSpace(g.LogLevel))]; !ok {
		return newFieldError("Global.LogLevel", "仅支持 trace|debug|info|warn|error|fatal|panic")
	}
	if strings.TrimSpace(g.CacheDir) == "" {
		return newFieldError("Global.CacheDir", "不能为空")
	}
	if g.MaxCacheSize < 0 {
		return newFieldError("Global.MaxCacheSize", "不能为负数")
	}
	if g.CacheMaxAgeHours < 0 {
		return newFieldError("Global.CacheMaxAgeHours", "不能为负数")
	}
	if g.SweepInterval.DurationValue() <= 0 {
		return newFieldError("Global.SweepInterval", "必须大于 0")
	}
	if strings.TrimSpace(g.YtdlpPath) == "" {
		return newFieldError("Global.YtdlpPath", "不能为空")
	}
	if g.FetchTimeout.DurationValue() < 0 {
		return newFieldError("Global.FetchTimeout", "不能为负数")
	}
	if g.SearchCacheTTL.DurationValue() <= 0 {
		return newFieldError("Global.SearchCacheTTL", "必须大于 0")
	}
	if g.SearchTimeout.DurationValue() <= 0 {
		return newFieldError("Global.SearchTimeout", "必须大于 0")
	}
	if g.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("Global.UpstreamTimeout", "必须大于 0")
	}
	if g.SearchAPIURL != "" {
		if err := validateUpstream(g.SearchAPIURL); err != nil {
			return fmt.Errorf("Global.SearchAPIURL: %w", err)
		}
	}

	return nil
}

func validateUpstream(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https，上游: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("上游缺少 Host: %s", raw)
	}
	return nil
}
