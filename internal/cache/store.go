package cache

import (
	"context"
	"errors"
	"io"
	"time"
)

// ArtifactExt 是缓存文件的固定扩展名。
const ArtifactExt = ".mp3"

// Store 负责管理磁盘上的音频缓存。磁盘布局遵循：
//
//	<CacheDir>/<id>.mp3              # 完整的缓存文件
//	<CacheDir>/.fetch-<id>-<uuid>*   # 下载过程中的临时文件，不会被 List 返回
//
// 文件的 ModTime 即最近访问时间，由 Touch 在命中时刷新。
type Store interface {
	// Path 返回 id 对应的最终文件路径。
	Path(id string) (string, error)

	// Exists 判断 id 对应的缓存文件是否存在。
	Exists(id string) bool

	// Touch 将缓存文件的访问/修改时间更新为当前时间，避免热门条目被按时间淘汰。
	Touch(id string) error

	// Open 返回一个可流式读取的缓存条目。若不存在则返回 ErrNotFound。
	Open(ctx context.Context, id string) (*ReadResult, error)

	// List 枚举所有缓存文件，供淘汰任务使用。
	List() ([]Entry, error)

	// Remove 删除缓存文件，文件不存在不视为错误。
	Remove(id string) error

	// Write 调用 producer 将内容写入临时路径，校验文件存在后原子地 rename 到最终路径。
	// producer 失败时清理临时文件；producer 成功但未产出文件时返回 ErrArtifactMissing。
	Write(ctx context.Context, id string, producer Producer) (*Entry, error)
}

// Producer 由外部下载器实现，需将完整内容写入 destPath。
type Producer func(ctx context.Context, destPath string) error

// Entry 描述一个缓存文件。
type Entry struct {
	ID        string    `json:"id"`
	FilePath  string    `json:"file_path"`
	SizeBytes int64     `json:"size_bytes"`
	ModTime   time.Time `json:"mod_time"`
}

// ReadResult 组合 Entry 与正文 Reader，便于 HTTP 层直接将 Body 流式返回。
type ReadResult struct {
	Entry  Entry
	Reader io.ReadSeekCloser
}

var (
	// ErrNotFound 表示缓存不存在。
	ErrNotFound = errors.New("cache entry not found")
	// ErrArtifactMissing 表示 producer 报告成功但没有留下可用文件。
	ErrArtifactMissing = errors.New("producer finished without artifact")
	// ErrInvalidID 表示 id 无法映射为安全的文件名。
	ErrInvalidID = errors.New("invalid artifact id")
)
