// Package eviction removes cached artifacts that violate the max-age or
// max-count bound. Sweeps are best-effort: a file that cannot be removed is
// logged and skipped, never surfaced to request handlers.
package eviction

import (
	"errors"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/any-media/internal/cache"
)

// Policy 描述淘汰边界；MaxAge<=0 关闭按时间淘汰，MaxCount<=0 关闭按数量淘汰。
type Policy struct {
	MaxAge   time.Duration
	MaxCount int
}

// Report 汇总一次清理的结果，便于日志与测试断言。
type Report struct {
	Scanned int
	Removed []string
	Failed  []string
}

// Sweeper 在共享的 Store 上执行淘汰。
type Sweeper struct {
	store  cache.Store
	policy Policy
	logger *logrus.Logger
	now    func() time.Time
}

// NewSweeper 构造淘汰器，默认使用 time.Now 作为时钟。
func NewSweeper(store cache.Store, policy Policy, logger *logrus.Logger) (*Sweeper, error) {
	if store == nil {
		return nil, errors.New("cache store required")
	}
	if logger == nil {
		return nil, errors.New("logger required")
	}
	return &Sweeper{
		store:  store,
		policy: policy,
		logger: logger,
		now:    time.Now,
	}, nil
}

// Policy 返回当前淘汰边界。
func (s *Sweeper) Policy() Policy {
	return s.policy
}

// Sweep 按修改时间倒序遍历缓存：第 i 个条目若超过 MaxAge 或 i >= MaxCount 即被删除。
func (s *Sweeper) Sweep() Report {
	var report Report

	entries, err := s.store.List()
	if err != nil {
		s.logger.WithError(err).WithField("action", "cache_sweep").Error("cache_list_failed")
		return report
	}
	report.Scanned = len(entries)

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].ModTime.After(entries[j].ModTime)
	})

	now := s.now()
	for i, entry := range entries {
		if !s.expired(i, entry, now) {
			continue
		}
		if err := s.store.Remove(entry.ID); err != nil {
			s.logger.WithError(err).WithFields(logrus.Fields{
				"action":   "cache_sweep",
				"media_id": entry.ID,
			}).Warn("cache_remove_failed")
			report.Failed = append(report.Failed, entry.ID)
			continue
		}
		s.logger.WithFields(logrus.Fields{
			"action":   "cache_sweep",
			"media_id": entry.ID,
			"age_ms":   now.Sub(entry.ModTime).Milliseconds(),
			"position": i,
		}).Info("cache_removed")
		report.Removed = append(report.Removed, entry.ID)
	}

	s.logger.WithFields(logrus.Fields{
		"action":  "cache_sweep",
		"scanned": report.Scanned,
		"removed": len(report.Removed),
		"failed":  len(report.Failed),
	}).Debug("cache_sweep_complete")
	return report
}

func (s *Sweeper) expired(position int, entry cache.Entry, now time.Time) bool {
	if s.policy.MaxAge > 0 && now.Sub(entry.ModTime) > s.policy.MaxAge {
		return true
	}
	return s.policy.MaxCount > 0 && position >= s.policy.MaxCount
}
