// Package media is the entry point the HTTP layer uses to obtain audio
// artifacts. It validates identifiers, serves cache hits directly and routes
// misses through the fetch coordinator, translating every failure into a
// coded error whose message is safe to return to clients.
package media

import (
	"context"
	"errors"
	"io"

	perrors "github.com/jmgilman/go/errors"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/any-media/internal/cache"
	"github.com/any-hub/any-media/internal/fetch"
	"github.com/any-hub/any-media/internal/logging"
)

// 对外可见的错误消息，详细原因只写日志。
const (
	MsgInvalidID       = "Invalid YouTube ID"
	MsgFetchFailed     = "Failed to download song"
	MsgArtifactMissing = "File not found after download"
	MsgDownloadFailed  = "Download failed"
)

// 状态取值。
const (
	StatusReady       = "ready"
	StatusDownloading = "downloading"
	StatusNotCached   = "not_cached"
)

// Coordinator 抽象 fetch.Coordinator，便于测试替换。
type Coordinator interface {
	Fetch(ctx context.Context, id string) (*fetch.Result, error)
	InFlight(id string) bool
}

// Artifact 是一次成功获取的结果，Reader 由调用方负责关闭。
type Artifact struct {
	cache.Entry
	Reader   io.ReadSeekCloser
	CacheHit bool
	Shared   bool
}

// Close 释放底层文件句柄。
func (a *Artifact) Close() error {
	if a == nil || a.Reader == nil {
		return nil
	}
	return a.Reader.Close()
}

// StatusReport 描述某个 id 的缓存状态，字段顺序与 JSON 输出一致。
type StatusReport struct {
	ID          string `json:"id"`
	Cached      bool   `json:"cached"`
	Downloading bool   `json:"downloading"`
	Status      string `json:"status"`
}

// Facade 组合 Store 与 Coordinator。
type Facade struct {
	store       cache.Store
	coordinator Coordinator
	logger      *logrus.Logger
}

// NewFacade 校验依赖并返回 Facade。
func NewFacade(store cache.Store, coordinator Coordinator, logger *logrus.Logger) (*Facade, error) {
	if store == nil {
		return nil, errors.New("cache store required")
	}
	if coordinator == nil {
		return nil, errors.New("fetch coordinator required")
	}
	if logger == nil {
		return nil, errors.New("logger required")
	}
	return &Facade{store: store, coordinator: coordinator, logger: logger}, nil
}

// GetOrFetch 返回 id 对应的已打开缓存文件。命中时刷新访问时间；未命中时交给
// Coordinator 下载，成功后重新打开文件，打不开视为存储不一致。
func (f *Facade) GetOrFetch(ctx context.Context, id string) (*Artifact, error) {
	if !ValidID(id) {
		return nil, perrors.New(perrors.CodeInvalidInput, MsgInvalidID)
	}

	if f.store.Exists(id) {
		if err := f.store.Touch(id); err != nil {
			f.logger.WithFields(logging.MediaFields(id, true)).
				WithError(err).Warn("cache_touch_failed")
		}
		artifact, err := f.open(ctx, id)
		if err == nil {
			artifact.CacheHit = true
			f.logger.WithFields(logging.MediaFields(id, true)).Info("cache_hit")
			return artifact, nil
		}
		// 命中与打开之间被淘汰，按未命中处理。
		if !errors.Is(err, cache.ErrNotFound) {
			f.logger.WithFields(logging.MediaFields(id, true)).
				WithError(err).Warn("cache_open_failed")
		}
	}

	f.logger.WithFields(logging.MediaFields(id, false)).Info("cache_miss")
	result, err := f.coordinator.Fetch(ctx, id)
	shared := result != nil && result.Shared
	if err != nil {
		if errors.Is(err, cache.ErrArtifactMissing) {
			f.logInconsistency(id, err)
			return nil, missingArtifact(err, shared)
		}
		f.logger.WithFields(logging.MediaFields(id, false)).
			WithError(err).Error("media_fetch_failed")
		return nil, perrors.Wrap(err, perrors.CodeExecutionFailed, MsgFetchFailed)
	}

	artifact, err := f.open(ctx, id)
	if err != nil {
		f.logInconsistency(id, err)
		return nil, missingArtifact(err, shared)
	}
	artifact.Shared = shared
	return artifact, nil
}

// Status 报告 id 是否已缓存、是否正在下载。已缓存优先于下载中。
func (f *Facade) Status(id string) (StatusReport, error) {
	if !ValidID(id) {
		return StatusReport{}, perrors.New(perrors.CodeInvalidInput, "Invalid ID")
	}
	report := StatusReport{
		ID:          id,
		Cached:      f.store.Exists(id),
		Downloading: f.coordinator.InFlight(id),
	}
	switch {
	case report.Cached:
		report.Status = StatusReady
	case report.Downloading:
		report.Status = StatusDownloading
	default:
		report.Status = StatusNotCached
	}
	return report, nil
}

func (f *Facade) open(ctx context.Context, id string) (*Artifact, error) {
	read, err := f.store.Open(ctx, id)
	if err != nil {
		return nil, err
	}
	return &Artifact{Entry: read.Entry, Reader: read.Reader}, nil
}

// missingArtifact 区分发起下载的请求与挂载等待的请求，两者消息不同。
func missingArtifact(err error, shared bool) error {
	if shared {
		return perrors.Wrap(err, perrors.CodeInternal, MsgDownloadFailed)
	}
	return perrors.Wrap(err, perrors.CodeInternal, MsgArtifactMissing)
}

func (f *Facade) logInconsistency(id string, err error) {
	f.logger.WithFields(logging.MediaFields(id, false)).
		WithError(err).Error("storage_inconsistency")
}
