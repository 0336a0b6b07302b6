// Package ytdlp drives the yt-dlp binary: audio downloads for the fetch
// coordinator and `ytsearchN:` lookups for the search fallback strategy.
// Process handling goes through the jmgilman/go/exec Executor so tests can
// substitute a fake without spawning processes.
package ytdlp

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jmgilman/go/exec"
	"github.com/sirupsen/logrus"
)

const watchURLPrefix = "https://www.youtube.com/watch?v="

// ErrSearchTimeout 表示搜索进程在限定时间内没有退出。
var ErrSearchTimeout = errors.New("search timeout")

// Options 描述 yt-dlp 调用参数。Executor 为空时使用继承环境变量、关闭彩色输出的默认实现。
type Options struct {
	Path        string
	CookiesPath string
	Logger      *logrus.Logger
	Executor    exec.Executor
}

// Client 是线程安全的 yt-dlp 调用器，每次执行都会 Clone 一份 Executor。
type Client struct {
	base    exec.Executor
	path    string
	cookies string
	logger  *logrus.Logger
}

// New 创建 Client。
func New(opts Options) (*Client, error) {
	path := strings.TrimSpace(opts.Path)
	if path == "" {
		return nil, errors.New("yt-dlp path required")
	}
	if opts.Logger == nil {
		return nil, errors.New("logger required")
	}
	base := opts.Executor
	if base == nil {
		base = exec.New(exec.WithInheritEnv(), exec.WithDisableColors())
	}
	return &Client{
		base:    exec.NewWrapper(base, path),
		path:    path,
		cookies: strings.TrimSpace(opts.CookiesPath),
		logger:  opts.Logger,
	}, nil
}

// Fetch 将 id 对应的音频以 mp3 写入 destPath，满足 fetch.Fetcher。
// 非零退出码、进程启动失败或 ctx 结束都会返回错误，stderr 只写入服务端日志。
func (c *Client) Fetch(ctx context.Context, id, destPath string) error {
	started := time.Now()
	fields := logrus.Fields{
		"action":   "ytdlp_download",
		"media_id": id,
		"binary":   c.path,
	}
	c.logger.WithFields(fields).Info("ytdlp_download_started")

	result, err := c.run(ctx, c.downloadArgs(id, destPath))
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if err != nil {
		fields["exit_code"] = exitCode(result, err)
		fields["stderr"] = stderrOf(result, err)
		c.logger.WithFields(fields).Error("ytdlp_download_failed")
		return fmt.Errorf("yt-dlp download %s: %w", id, err)
	}
	c.logger.WithFields(fields).Info("ytdlp_download_complete")
	return nil
}

// Search 执行 `ytsearch<limit>:<query>` 并解析 --dump-json 输出。
// 非零退出且无任何输出视为失败；timeout>0 时超时返回 ErrSearchTimeout。
func (c *Client) Search(ctx context.Context, query string, limit int, timeout time.Duration) ([]Video, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	result, err := c.run(ctx, c.searchArgs(query, limit))
	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return nil, ErrSearchTimeout
		}
		return nil, ctxErr
	}

	stdout := ""
	if result != nil {
		stdout = result.Stdout
	}
	if err != nil && strings.TrimSpace(stdout) == "" {
		c.logger.WithFields(logrus.Fields{
			"action":    "ytdlp_search",
			"exit_code": exitCode(result, err),
			"stderr":    stderrOf(result, err),
		}).Warn("ytdlp_search_failed")
		return nil, fmt.Errorf("yt-dlp search: %w", err)
	}
	return ParseSearchOutput(stdout), nil
}

func (c *Client) run(ctx context.Context, args []string) (*exec.Result, error) {
	return c.base.Clone().WithContext(ctx).Run(args...)
}

func (c *Client) downloadArgs(id, destPath string) []string {
	args := c.commonArgs()
	args = append(args,
		"-x",
		"--audio-format", "mp3",
		"--audio-quality", "0",
		"--no-playlist",
		"--no-write-thumbnail",
		"--concurrent-fragments", "4",
		"--buffer-size", "16K",
		"-o", destPath,
		watchURLPrefix+id,
	)
	return args
}

func (c *Client) searchArgs(query string, limit int) []string {
	args := c.commonArgs()
	args = append(args,
		"--no-warnings",
		"--ignore-errors",
		"--dump-json",
		"ytsearch"+strconv.Itoa(limit)+":"+query,
	)
	return args
}

func (c *Client) commonArgs() []string {
	var args []string
	if c.cookies != "" {
		args = append(args, "--cookies", c.cookies)
	}
	return append(args, "--age-limit", "99", "--no-check-certificates")
}

func exitCode(result *exec.Result, err error) int {
	var execErr *exec.ExecError
	if errors.As(err, &execErr) {
		return execErr.ExitCode
	}
	if result != nil {
		return result.ExitCode
	}
	return -1
}

func stderrOf(result *exec.Result, err error) string {
	var execErr *exec.ExecError
	if errors.As(err, &execErr) && execErr.Stderr != "" {
		return truncate(execErr.Stderr, 2048)
	}
	if result != nil {
		return truncate(result.Stderr, 2048)
	}
	return ""
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n]
}
