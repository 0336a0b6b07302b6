package cache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const tempPrefix = ".fetch-"

// NewStore 以 basePath 为根目录构建磁盘缓存，整个进程复用一份实例。
// 目录不存在时自动创建，并清理上次进程遗留的临时下载文件。
func NewStore(basePath string) (Store, error) {
	if basePath == "" {
		return nil, errors.New("cache dir required")
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve cache dir: %w", err)
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}

	store := &fileStore{
		basePath: abs,
		locks:    make(map[string]*entryLock),
		now:      time.Now,
	}
	store.purgeTemp()
	return store, nil
}

// fileStore 通过 entryLock 串行化同一 id 的 rename 与删除，同时复用 basePath。
type fileStore struct {
	basePath string
	now      func() time.Time

	mu    sync.Mutex
	locks map[string]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

func (s *fileStore) Path(id string) (string, error) {
	return s.entryPath(id)
}

func (s *fileStore) Exists(id string) bool {
	filePath, err := s.entryPath(id)
	if err != nil {
		return false
	}
	info, err := os.Stat(filePath)
	return err == nil && !info.IsDir()
}

func (s *fileStore) Touch(id string) error {
	filePath, err := s.entryPath(id)
	if err != nil {
		return err
	}
	now := s.now()
	if err := os.Chtimes(filePath, now, now); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrNotFound
		}
		return err
	}
	return nil
}

func (s *fileStore) Open(ctx context.Context, id string) (*ReadResult, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	filePath, err := s.entryPath(id)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if info.IsDir() {
		f.Close()
		return nil, ErrNotFound
	}

	return &ReadResult{
		Entry: Entry{
			ID:        id,
			FilePath:  filePath,
			SizeBytes: info.Size(),
			ModTime:   info.ModTime(),
		},
		Reader: f,
	}, nil
}

func (s *fileStore) List() ([]Entry, error) {
	dirEntries, err := os.ReadDir(s.basePath)
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(dirEntries))
	for _, de := range dirEntries {
		name := de.Name()
		if de.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ArtifactExt) {
			continue
		}
		info, err := de.Info()
		if err != nil {
			// 枚举与删除并发时文件可能已消失。
			continue
		}
		entries = append(entries, Entry{
			ID:        strings.TrimSuffix(name, ArtifactExt),
			FilePath:  filepath.Join(s.basePath, name),
			SizeBytes: info.Size(),
			ModTime:   info.ModTime(),
		})
	}
	return entries, nil
}

func (s *fileStore) Remove(id string) error {
	filePath, err := s.entryPath(id)
	if err != nil {
		return err
	}

	unlock := s.lockEntry(id)
	defer unlock()

	if err := os.Remove(filePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (s *fileStore) Write(ctx context.Context, id string, producer Producer) (*Entry, error) {
	if producer == nil {
		return nil, errors.New("producer required")
	}
	filePath, err := s.entryPath(id)
	if err != nil {
		return nil, err
	}

	stem := filepath.Join(s.basePath, tempPrefix+id+"-"+uuid.NewString())
	tempPath := stem + ArtifactExt
	defer removeMatching(stem + "*")

	if err := producer(ctx, tempPath); err != nil {
		return nil, err
	}

	info, err := os.Stat(tempPath)
	if err != nil || info.IsDir() || info.Size() == 0 {
		return nil, ErrArtifactMissing
	}

	unlock := s.lockEntry(id)
	defer unlock()

	if err := os.Rename(tempPath, filePath); err != nil {
		return nil, fmt.Errorf("commit artifact: %w", err)
	}

	modTime := s.now()
	if err := os.Chtimes(filePath, modTime, modTime); err != nil {
		return nil, err
	}

	return &Entry{
		ID:        id,
		FilePath:  filePath,
		SizeBytes: info.Size(),
		ModTime:   modTime,
	}, nil
}

func (s *fileStore) lockEntry(id string) func() {
	s.mu.Lock()
	lock := s.locks[id]
	if lock == nil {
		lock = &entryLock{}
		s.locks[id] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		s.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.locks, id)
		}
		s.mu.Unlock()
	}
}

func (s *fileStore) entryPath(id string) (string, error) {
	if id == "" || strings.HasPrefix(id, ".") || strings.ContainsAny(id, `/\`) {
		return "", ErrInvalidID
	}
	return filepath.Join(s.basePath, id+ArtifactExt), nil
}

// purgeTemp 删除进程崩溃后残留的临时下载文件。
func (s *fileStore) purgeTemp() {
	removeMatching(filepath.Join(s.basePath, tempPrefix+"*"))
}

func removeMatching(pattern string) {
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return
	}
	for _, match := range matches {
		_ = os.RemoveAll(match)
	}
}
