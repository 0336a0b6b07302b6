// Package search answers free-text lookups with short-lived caching. Results
// come from a primary strategy (an HTTP search API) with yt-dlp as fallback,
// and identical concurrent misses share a single strategy run.
package search

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	perrors "github.com/jmgilman/go/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/any-hub/any-media/internal/logging"
)

// limit 取值范围。
const (
	DefaultLimit = 5
	MaxLimit     = 20
)

// 对外可见的错误消息。
const (
	MsgQueryRequired = "Parameter 'src' is required"
	MsgSearchFailed  = "Failed to search songs"
)

// Options 汇总 Service 依赖。Primary 为空时直接使用 Fallback。
type Options struct {
	Primary  Strategy
	Fallback Strategy
	TTL      time.Duration
	Logger   *logrus.Logger
}

type cacheEntry struct {
	results []Result
	stored  time.Time
}

// Service 是带 TTL 缓存的搜索入口。
type Service struct {
	primary  Strategy
	fallback Strategy
	ttl      time.Duration
	logger   *logrus.Logger
	now      func() time.Time

	mu      sync.Mutex
	entries map[string]cacheEntry
	group   singleflight.Group
}

// NewService 校验依赖并返回 Service。
func NewService(opts Options) (*Service, error) {
	if opts.Fallback == nil {
		return nil, errors.New("fallback strategy required")
	}
	if opts.Logger == nil {
		return nil, errors.New("logger required")
	}
	if opts.TTL <= 0 {
		return nil, errors.New("search cache ttl must be positive")
	}
	return &Service{
		primary:  opts.Primary,
		fallback: opts.Fallback,
		ttl:      opts.TTL,
		logger:   opts.Logger,
		now:      time.Now,
		entries:  make(map[string]cacheEntry),
	}, nil
}

// ClampLimit 将非正数映射为默认值，并限制上限。
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

// CacheKey 返回 query 与 limit 组成的缓存键，query 不区分大小写。
func CacheKey(query string, limit int) string {
	return strings.ToLower(query) + "_" + strconv.Itoa(limit)
}

// Search 返回 query 的搜索结果。缓存命中直接返回；否则 forceFallback 时只用 yt-dlp，
// 其余情况先走主策略，失败再回退。仅成功结果写入缓存。
func (s *Service) Search(ctx context.Context, query string, limit int, forceFallback bool) ([]Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, perrors.New(perrors.CodeInvalidInput, MsgQueryRequired)
	}
	limit = ClampLimit(limit)
	key := CacheKey(query, limit)

	if results, ok := s.lookup(key); ok {
		s.logger.WithFields(logging.SearchFields(query, limit, "cache")).
			WithField("results", len(results)).Debug("search_cache_hit")
		return results, nil
	}

	flightKey := key
	if forceFallback {
		flightKey += "|" + s.fallback.Name()
	}
	value, err, _ := s.group.Do(flightKey, func() (interface{}, error) {
		results, err := s.run(context.WithoutCancel(ctx), query, limit, forceFallback)
		if err != nil {
			return nil, err
		}
		s.store(key, results)
		return results, nil
	})
	if err != nil {
		s.logger.WithFields(logging.SearchFields(query, limit, "")).
			WithError(err).Error("search_failed")
		return nil, perrors.Wrap(err, perrors.CodeExecutionFailed, MsgSearchFailed)
	}
	return value.([]Result), nil
}

// Prune 删除所有过期条目，返回删除数量。由调度器周期调用。
func (s *Service) Prune() int {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for key, entry := range s.entries {
		if now.Sub(entry.stored) >= s.ttl {
			delete(s.entries, key)
			removed++
		}
	}
	return removed
}

// Len 返回当前缓存条目数（含尚未清理的过期条目）。
func (s *Service) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *Service) run(ctx context.Context, query string, limit int, forceFallback bool) ([]Result, error) {
	if !forceFallback && s.primary != nil {
		results, err := s.primary.Search(ctx, query, limit)
		if err == nil {
			s.logger.WithFields(logging.SearchFields(query, limit, s.primary.Name())).
				WithField("results", len(results)).Info("search_complete")
			return results, nil
		}
		s.logger.WithFields(logging.SearchFields(query, limit, s.primary.Name())).
			WithError(err).Warn("search_primary_failed")
	}

	results, err := s.fallback.Search(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	s.logger.WithFields(logging.SearchFields(query, limit, s.fallback.Name())).
		WithField("results", len(results)).Info("search_complete")
	return results, nil
}

func (s *Service) lookup(key string) ([]Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[key]
	if !ok || s.now().Sub(entry.stored) >= s.ttl {
		return nil, false
	}
	return entry.results, true
}

func (s *Service) store(key string, results []Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = cacheEntry{results: results, stored: s.now()}
}
