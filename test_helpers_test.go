package main

import (
	"bytes"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

var repoRoot string

func init() {
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		return
	}
	dir := filepath.Dir(file)
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			repoRoot = dir
			return
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return
		}
		dir = parent
	}
}

func projectRoot(t *testing.T) string {
	t.Helper()
	if repoRoot == "" {
		t.Fatal("无法定位项目根目录")
	}
	return repoRoot
}

func configFixture(t *testing.T, name string) string {
	t.Helper()
	return filepath.Join(projectRoot(t), "internal", "config", "testdata", name)
}

// isolateEnv 清空 any-media 读取的环境变量，避免宿主环境影响配置加载。
// viper 默认忽略空值环境变量，因此置空即可回落到文件或默认值。
func isolateEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"PORT", "LISTEN_PORT", "LOG_LEVEL", "LOG_FILE_PATH", "CACHE_DIR",
		"MAX_CACHE_SIZE", "CACHE_MAX_AGE_HOURS", "SWEEP_INTERVAL", "YTDLP_PATH",
		"COOKIES_PATH", "FETCH_TIMEOUT", "SEARCH_CACHE_TTL", "SEARCH_TIMEOUT",
		"SEARCH_API_URL", "UPSTREAM_TIMEOUT",
	} {
		t.Setenv(key, "")
	}
}

// useBufferWriters swaps stdOut/stdErr with in-memory buffers for the duration
// of a test, allowing assertions on CLI output without polluting test logs.
func useBufferWriters(t *testing.T) {
	t.Helper()

	outBuf := &bytes.Buffer{}
	errBuf := &bytes.Buffer{}

	prevOut := stdOut
	prevErr := stdErr

	stdOut = outBuf
	stdErr = errBuf

	t.Cleanup(func() {
		stdOut = prevOut
		stdErr = prevErr
	})
}

// stdOutBuffer returns the in-use stdout buffer when useBufferWriters is active.
func stdOutBuffer() *bytes.Buffer {
	buf, _ := stdOut.(*bytes.Buffer)
	return buf
}

// stdErrBuffer returns the in-use stderr buffer when useBufferWriters is active.
func stdErrBuffer() *bytes.Buffer {
	buf, _ := stdErr.(*bytes.Buffer)
	return buf
}
