// Package fetch coordinates downloads so that at most one external fetch runs
// per media identifier. Concurrent requesters attach to the running call and
// all observe its single outcome; the call record is dropped as soon as the
// fetch finishes, so a failure never blocks a later retry.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/any-media/internal/cache"
)

// Fetcher 是外部下载能力：将 id 对应的完整内容写入 destPath，失败时返回错误。
type Fetcher interface {
	Fetch(ctx context.Context, id, destPath string) error
}

// FetcherFunc 让普通函数满足 Fetcher，便于测试注入。
type FetcherFunc func(ctx context.Context, id, destPath string) error

// Fetch makes FetcherFunc satisfy Fetcher.
func (f FetcherFunc) Fetch(ctx context.Context, id, destPath string) error {
	return f(ctx, id, destPath)
}

// Options 汇总 Coordinator 依赖。Timeout 为 0 时下载不设上限，依赖外部进程自行退出。
type Options struct {
	Store   cache.Store
	Fetcher Fetcher
	Logger  *logrus.Logger
	Timeout time.Duration
}

// Result 描述一次 Fetch 的结果；Shared 表示调用方复用了其他请求发起的下载。
type Result struct {
	Entry  cache.Entry
	Shared bool
}

// call 是进行中的下载记录，done 关闭前 entry/err 只由执行下载的 goroutine 写入。
type call struct {
	done    chan struct{}
	entry   *cache.Entry
	err     error
	waiters int
}

// Coordinator 维护 id → 进行中下载的表，登记动作在同一把锁内完成“查找或插入”。
type Coordinator struct {
	store   cache.Store
	fetcher Fetcher
	logger  *logrus.Logger
	timeout time.Duration

	mu    sync.Mutex
	calls map[string]*call
}

// NewCoordinator 校验依赖并返回可在多个请求间共享的实例。
func NewCoordinator(opts Options) (*Coordinator, error) {
	if opts.Store == nil {
		return nil, errors.New("cache store required")
	}
	if opts.Fetcher == nil {
		return nil, errors.New("fetcher required")
	}
	if opts.Logger == nil {
		return nil, errors.New("logger required")
	}
	if opts.Timeout < 0 {
		return nil, fmt.Errorf("invalid fetch timeout: %s", opts.Timeout)
	}
	return &Coordinator{
		store:   opts.Store,
		fetcher: opts.Fetcher,
		logger:  opts.Logger,
		timeout: opts.Timeout,
		calls:   make(map[string]*call),
	}, nil
}

// Fetch 等待 id 的下载完成：已有进行中的下载则直接挂载，否则登记并启动新的下载。
// 下载运行在与调用方解耦的 context 上；调用方 ctx 结束只会让本次等待返回 ctx.Err()，
// 下载本身继续为其他等待者服务。
// 下载失败时仍返回只带 Shared 的 Result，供调用方区分发起者与挂载者。
func (c *Coordinator) Fetch(ctx context.Context, id string) (*Result, error) {
	c.mu.Lock()
	cl, shared := c.calls[id]
	if !shared {
		cl = &call{done: make(chan struct{})}
		c.calls[id] = cl
		go c.run(context.WithoutCancel(ctx), id, cl)
	}
	cl.waiters++
	c.mu.Unlock()

	if shared {
		c.logger.WithFields(logrus.Fields{
			"action":   "fetch",
			"media_id": id,
		}).Info("fetch_attached")
	}

	select {
	case <-cl.done:
		if cl.err != nil {
			return &Result{Shared: shared}, cl.err
		}
		return &Result{Entry: *cl.entry, Shared: shared}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// InFlight 返回 id 当前是否存在进行中的下载，不产生任何副作用。
func (c *Coordinator) InFlight(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.calls[id]
	return ok
}

// Active 返回进行中的下载数量。
func (c *Coordinator) Active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

func (c *Coordinator) run(ctx context.Context, id string, cl *call) {
	started := time.Now()
	defer func() {
		if r := recover(); r != nil {
			cl.entry = nil
			cl.err = fmt.Errorf("fetch %s panicked: %v", id, r)
		}
		c.mu.Lock()
		delete(c.calls, id)
		waiters := cl.waiters
		c.mu.Unlock()
		close(cl.done)
		c.logOutcome(id, waiters, started, cl.err)
	}()

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	// 调用方的存在性检查不在登记锁内；先前的下载在移除记录前已完成落盘，
	// 因此登记成功后再查一次即可避免重复下载。
	if entry, ok := c.present(ctx, id); ok {
		cl.entry = entry
		c.logger.WithFields(logrus.Fields{
			"action":   "fetch",
			"media_id": id,
		}).Info("fetch_skipped_present")
		return
	}

	c.logger.WithFields(logrus.Fields{
		"action":   "fetch",
		"media_id": id,
	}).Info("fetch_started")

	cl.entry, cl.err = c.store.Write(ctx, id, func(ctx context.Context, destPath string) error {
		return c.fetcher.Fetch(ctx, id, destPath)
	})
}

// present 返回已落盘的条目；文件在检查与打开之间消失时按不存在处理。
func (c *Coordinator) present(ctx context.Context, id string) (*cache.Entry, bool) {
	if !c.store.Exists(id) {
		return nil, false
	}
	read, err := c.store.Open(ctx, id)
	if err != nil {
		return nil, false
	}
	_ = read.Reader.Close()
	return &read.Entry, true
}

func (c *Coordinator) logOutcome(id string, waiters int, started time.Time, err error) {
	fields := logrus.Fields{
		"action":     "fetch",
		"media_id":   id,
		"waiters":    waiters,
		"elapsed_ms": time.Since(started).Milliseconds(),
	}
	if err != nil {
		fields["error"] = err.Error()
		c.logger.WithFields(fields).Error("fetch_failed")
		return
	}
	c.logger.WithFields(fields).Info("fetch_complete")
}
