package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// MediaFields 提供音频 ID 与命中状态字段，供 /play 请求日志复用。
func MediaFields(id string, cacheHit bool) logrus.Fields {
	return logrus.Fields{
		"media_id":  id,
		"cache_hit": cacheHit,
	}
}

// SearchFields 提供查询词、数量与策略字段，供 /search 请求日志复用。
func SearchFields(query string, limit int, strategy string) logrus.Fields {
	return logrus.Fields{
		"query":    query,
		"limit":    limit,
		"strategy": strategy,
	}
}
