package media

import (
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	perrors "github.com/jmgilman/go/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/any-hub/any-media/internal/cache"
	"github.com/any-hub/any-media/internal/fetch"
	"github.com/any-hub/any-media/internal/logging"
)

const testID = "AbCdEfGhIjK"

func TestValidID(t *testing.T) {
	cases := map[string]bool{
		"AbCdEfGhIjK":  true,
		"a_b-c_d-e_f":  true,
		"01234567890":  true,
		"short":        false,
		"AbCdEfGhIjKL": false,
		"AbCdEfGhIj!":  false,
		"../../etc/pa": false,
		"":             false,
		"AbCdEf GhIj":  false,
	}
	for id, want := range cases {
		assert.Equal(t, want, ValidID(id), "id %q", id)
	}
}

func TestConcurrentMissesShareOneFetch(t *testing.T) {
	env := newTestEnv(t, 150*time.Millisecond, nil)

	const n = 8
	artifacts := make([]*Artifact, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			artifacts[i], errs[i] = env.facade.GetOrFetch(context.Background(), testID)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), env.calls.Load())
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, artifacts[0].FilePath, artifacts[i].FilePath)
		assert.Equal(t, "mp3:"+testID, readAll(t, artifacts[i]))
	}
}

func TestHitNeverFetchesAndRefreshesMTime(t *testing.T) {
	env := newTestEnv(t, 0, nil)
	seedArtifact(t, env.store, testID)
	path, err := env.store.Path(testID)
	require.NoError(t, err)
	old := time.Now().Add(-10 * time.Hour)
	require.NoError(t, os.Chtimes(path, old, old))

	artifact, err := env.facade.GetOrFetch(context.Background(), testID)
	require.NoError(t, err)
	defer artifact.Close()

	assert.True(t, artifact.CacheHit)
	assert.Zero(t, env.calls.Load())
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), info.ModTime(), 5*time.Second)
}

func TestFailureReachesAllWaitersAndRetryFetchesAgain(t *testing.T) {
	failing := atomic.Bool{}
	failing.Store(true)
	env := newTestEnv(t, 100*time.Millisecond, &failing)

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.facade.GetOrFetch(context.Background(), testID)
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.Error(t, err)
		assert.Equal(t, perrors.CodeExecutionFailed, perrors.GetCode(err))
		assert.Equal(t, MsgFetchFailed, messageOf(err))
	}
	assert.Equal(t, int32(1), env.calls.Load())

	failing.Store(false)
	artifact, err := env.facade.GetOrFetch(context.Background(), testID)
	require.NoError(t, err)
	defer artifact.Close()
	assert.False(t, artifact.CacheHit)
	assert.Equal(t, int32(2), env.calls.Load())
}

func TestEndToEndLateJoinerAndWarmRead(t *testing.T) {
	env := newTestEnv(t, 400*time.Millisecond, nil)

	type outcome struct {
		artifact *Artifact
		err      error
		elapsed  time.Duration
	}
	first := make(chan outcome, 1)
	second := make(chan outcome, 1)

	start := time.Now()
	go func() {
		a, err := env.facade.GetOrFetch(context.Background(), testID)
		first <- outcome{a, err, time.Since(start)}
	}()
	time.Sleep(100 * time.Millisecond)
	go func() {
		a, err := env.facade.GetOrFetch(context.Background(), testID)
		second <- outcome{a, err, time.Since(start)}
	}()

	o1, o2 := <-first, <-second
	require.NoError(t, o1.err)
	require.NoError(t, o2.err)
	defer o1.artifact.Close()
	defer o2.artifact.Close()
	assert.GreaterOrEqual(t, o1.elapsed, 400*time.Millisecond)
	assert.True(t, o2.artifact.Shared)
	assert.Equal(t, o1.artifact.FilePath, o2.artifact.FilePath)
	assert.Equal(t, int32(1), env.calls.Load())

	warmStart := time.Now()
	third, err := env.facade.GetOrFetch(context.Background(), testID)
	require.NoError(t, err)
	defer third.Close()
	assert.True(t, third.CacheHit)
	assert.Less(t, time.Since(warmStart), 200*time.Millisecond)
	assert.Equal(t, int32(1), env.calls.Load())
}

func TestInvalidIDNeverTouchesStorage(t *testing.T) {
	store := &spyStore{}
	coord := &stubCoordinator{}
	facade, err := NewFacade(store, coord, logging.Discard())
	require.NoError(t, err)

	for _, id := range []string{"", "bad", "AbCdEfGhIj$", "../../../../x"} {
		_, err := facade.GetOrFetch(context.Background(), id)
		assert.Equal(t, perrors.CodeInvalidInput, perrors.GetCode(err))
		_, err = facade.Status(id)
		assert.Equal(t, perrors.CodeInvalidInput, perrors.GetCode(err))
	}
	assert.Zero(t, store.calls.Load())
	assert.Zero(t, coord.calls.Load())
}

func TestSuccessWithoutFileIsInternalError(t *testing.T) {
	store, err := cache.NewStore(t.TempDir())
	require.NoError(t, err)
	coord := &stubCoordinator{result: &fetch.Result{}}
	facade, err := NewFacade(store, coord, logging.Discard())
	require.NoError(t, err)

	_, err = facade.GetOrFetch(context.Background(), testID)
	require.Error(t, err)
	assert.Equal(t, perrors.CodeInternal, perrors.GetCode(err))
	assert.Equal(t, MsgArtifactMissing, messageOf(err))

	coord.result = nil
	coord.err = cache.ErrArtifactMissing
	_, err = facade.GetOrFetch(context.Background(), testID)
	assert.Equal(t, perrors.CodeInternal, perrors.GetCode(err))
}

func TestSharedWaiterWithoutFileReportsDownloadFailed(t *testing.T) {
	store, err := cache.NewStore(t.TempDir())
	require.NoError(t, err)
	coord := &stubCoordinator{result: &fetch.Result{Shared: true}}
	facade, err := NewFacade(store, coord, logging.Discard())
	require.NoError(t, err)

	_, err = facade.GetOrFetch(context.Background(), testID)
	require.Error(t, err)
	assert.Equal(t, perrors.CodeInternal, perrors.GetCode(err))
	assert.Equal(t, MsgDownloadFailed, messageOf(err))

	coord.err = cache.ErrArtifactMissing
	_, err = facade.GetOrFetch(context.Background(), testID)
	assert.Equal(t, MsgDownloadFailed, messageOf(err))
}

func TestMissCheckRacingCompletedFetchServesExistingArtifact(t *testing.T) {
	store := &gatedExistsStore{checked: make(chan struct{}), gate: make(chan struct{})}
	inner, err := cache.NewStore(t.TempDir())
	require.NoError(t, err)
	store.Store = inner

	var calls atomic.Int32
	fetcher := fetch.FetcherFunc(func(_ context.Context, id, dest string) error {
		calls.Add(1)
		return os.WriteFile(dest, []byte("mp3:"+id), 0o644)
	})
	coord, err := fetch.NewCoordinator(fetch.Options{Store: store, Fetcher: fetcher, Logger: logging.Discard()})
	require.NoError(t, err)
	facade, err := NewFacade(store, coord, logging.Discard())
	require.NoError(t, err)

	type outcome struct {
		artifact *Artifact
		err      error
	}
	late := make(chan outcome, 1)
	go func() {
		artifact, err := facade.GetOrFetch(context.Background(), testID)
		late <- outcome{artifact, err}
	}()
	<-store.checked

	first, err := facade.GetOrFetch(context.Background(), testID)
	require.NoError(t, err)
	assert.Equal(t, "mp3:"+testID, readAll(t, first))

	close(store.gate)
	got := <-late
	require.NoError(t, got.err)
	assert.Equal(t, "mp3:"+testID, readAll(t, got.artifact))
	assert.Equal(t, int32(1), calls.Load(), "an artifact already on disk must not be fetched again")
}

func TestStatusStates(t *testing.T) {
	store, err := cache.NewStore(t.TempDir())
	require.NoError(t, err)
	coord := &stubCoordinator{}
	facade, err := NewFacade(store, coord, logging.Discard())
	require.NoError(t, err)

	report, err := facade.Status(testID)
	require.NoError(t, err)
	assert.Equal(t, StatusReport{ID: testID, Status: StatusNotCached}, report)

	coord.inFlight.Store(true)
	report, err = facade.Status(testID)
	require.NoError(t, err)
	assert.Equal(t, StatusReport{ID: testID, Downloading: true, Status: StatusDownloading}, report)

	seedArtifact(t, store, testID)
	report, err = facade.Status(testID)
	require.NoError(t, err)
	assert.Equal(t, StatusReport{ID: testID, Cached: true, Downloading: true, Status: StatusReady}, report)
}

func TestNewFacadeRequiresDependencies(t *testing.T) {
	_, err := NewFacade(nil, &stubCoordinator{}, logging.Discard())
	assert.Error(t, err)
	_, err = NewFacade(&spyStore{}, nil, logging.Discard())
	assert.Error(t, err)
	_, err = NewFacade(&spyStore{}, &stubCoordinator{}, nil)
	assert.Error(t, err)
}

type testEnv struct {
	store  cache.Store
	facade *Facade
	calls  *atomic.Int32
}

// newTestEnv 使用真实 Store 与 Coordinator，fetcher 在 delay 后写入文件或按 failing 返回错误。
func newTestEnv(t *testing.T, delay time.Duration, failing *atomic.Bool) *testEnv {
	t.Helper()
	store, err := cache.NewStore(t.TempDir())
	require.NoError(t, err)

	calls := &atomic.Int32{}
	fetcher := fetch.FetcherFunc(func(ctx context.Context, id, dest string) error {
		calls.Add(1)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if failing != nil && failing.Load() {
			return errors.New("yt-dlp exited with code 1")
		}
		return os.WriteFile(dest, []byte("mp3:"+id), 0o644)
	})
	coord, err := fetch.NewCoordinator(fetch.Options{Store: store, Fetcher: fetcher, Logger: logging.Discard()})
	require.NoError(t, err)
	facade, err := NewFacade(store, coord, logging.Discard())
	require.NoError(t, err)
	return &testEnv{store: store, facade: facade, calls: calls}
}

func seedArtifact(t *testing.T, store cache.Store, id string) {
	t.Helper()
	_, err := store.Write(context.Background(), id, func(_ context.Context, dest string) error {
		return os.WriteFile(dest, []byte("mp3:"+id), 0o644)
	})
	require.NoError(t, err)
}

func readAll(t *testing.T, artifact *Artifact) string {
	t.Helper()
	defer artifact.Close()
	data, err := io.ReadAll(artifact.Reader)
	require.NoError(t, err)
	return string(data)
}

func messageOf(err error) string {
	var platformErr perrors.PlatformError
	if perrors.As(err, &platformErr) {
		return platformErr.Message()
	}
	return ""
}

// spyStore 统计任何方法调用次数，用于断言无效 id 不会触达存储。
type spyStore struct {
	cache.Store
	calls atomic.Int32
}

func (s *spyStore) Path(string) (string, error) { s.calls.Add(1); return "", cache.ErrNotFound }
func (s *spyStore) Exists(string) bool          { s.calls.Add(1); return false }
func (s *spyStore) Touch(string) error          { s.calls.Add(1); return nil }
func (s *spyStore) Open(context.Context, string) (*cache.ReadResult, error) {
	s.calls.Add(1)
	return nil, cache.ErrNotFound
}

// gatedExistsStore 让第一次 Exists 在得出结果后阻塞到 gate 关闭。
type gatedExistsStore struct {
	cache.Store
	once    sync.Once
	checked chan struct{}
	gate    chan struct{}
}

func (s *gatedExistsStore) Exists(id string) bool {
	ok := s.Store.Exists(id)
	first := false
	s.once.Do(func() { first = true })
	if first {
		close(s.checked)
		<-s.gate
	}
	return ok
}

type stubCoordinator struct {
	result   *fetch.Result
	err      error
	inFlight atomic.Bool
	calls    atomic.Int32
}

func (c *stubCoordinator) Fetch(context.Context, string) (*fetch.Result, error) {
	c.calls.Add(1)
	return c.result, c.err
}

func (c *stubCoordinator) InFlight(string) bool { return c.inFlight.Load() }
