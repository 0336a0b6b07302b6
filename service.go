package main

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/any-media/internal/cache"
	"github.com/any-hub/any-media/internal/config"
	"github.com/any-hub/any-media/internal/eviction"
	"github.com/any-hub/any-media/internal/fetch"
	"github.com/any-hub/any-media/internal/media"
	"github.com/any-hub/any-media/internal/scheduler"
	"github.com/any-hub/any-media/internal/search"
	"github.com/any-hub/any-media/internal/server"
	"github.com/any-hub/any-media/internal/server/routes"
	"github.com/any-hub/any-media/internal/ytdlp"
)

// searchPruneInterval 是搜索缓存过期条目的清理周期。
const searchPruneInterval = time.Minute

// service 持有进程生命周期内共享的全部组件。
type service struct {
	app         *fiber.App
	store       cache.Store
	coordinator *fetch.Coordinator
	facade      *media.Facade
	search      *search.Service
	sweeper     *eviction.Sweeper
	scheduler   *scheduler.Scheduler
}

// buildService 按“缓存目录 → yt-dlp → 下载协调 → 门面 → 搜索 → 调度 → Fiber”顺序装配，
// 不启动监听也不执行任何任务。
func buildService(cfg *config.Config, logger *logrus.Logger, startedAt time.Time) (*service, error) {
	g := cfg.Global

	store, err := cache.NewStore(g.CacheDir)
	if err != nil {
		return nil, fmt.Errorf("初始化缓存目录失败: %w", err)
	}

	ytdlpClient, err := ytdlp.New(ytdlp.Options{
		Path:        g.YtdlpPath,
		CookiesPath: g.CookiesPath,
		Logger:      logger,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化 yt-dlp 失败: %w", err)
	}

	coordinator, err := fetch.NewCoordinator(fetch.Options{
		Store:   store,
		Fetcher: ytdlpClient,
		Logger:  logger,
		Timeout: g.FetchTimeout.DurationValue(),
	})
	if err != nil {
		return nil, err
	}

	facade, err := media.NewFacade(store, coordinator, logger)
	if err != nil {
		return nil, err
	}

	var primary search.Strategy
	if g.SearchAPIURL != "" {
		primary = search.NewAPIStrategy(server.NewUpstreamClient(cfg), g.SearchAPIURL)
	}
	searchService, err := search.NewService(search.Options{
		Primary:  primary,
		Fallback: search.NewYtdlpStrategy(ytdlpClient, g.SearchTimeout.DurationValue()),
		TTL:      g.SearchCacheTTL.DurationValue(),
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}

	sweeper, err := eviction.NewSweeper(store, eviction.Policy{
		MaxAge:   g.CacheMaxAge(),
		MaxCount: g.MaxCacheSize,
	}, logger)
	if err != nil {
		return nil, err
	}

	sched := scheduler.New(logger)
	if err := sched.Add(scheduler.Job{
		Name:       "cache_sweep",
		Every:      g.SweepInterval.DurationValue(),
		RunAtStart: true,
		Run:        func() { sweeper.Sweep() },
	}); err != nil {
		return nil, err
	}
	if err := sched.Add(scheduler.Job{
		Name:  "search_cache_prune",
		Every: searchPruneInterval,
		Run:   func() { searchService.Prune() },
	}); err != nil {
		return nil, err
	}

	app, err := server.NewApp(server.AppOptions{Logger: logger})
	if err != nil {
		return nil, err
	}
	if err := routes.Register(app, routes.Dependencies{
		Logger:    logger,
		Media:     facade,
		Search:    searchService,
		StartedAt: startedAt,
	}); err != nil {
		return nil, err
	}

	return &service{
		app:         app,
		store:       store,
		coordinator: coordinator,
		facade:      facade,
		search:      searchService,
		sweeper:     sweeper,
		scheduler:   sched,
	}, nil
}
