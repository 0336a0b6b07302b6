package search

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/any-hub/any-media/internal/ytdlp"
)

// Result 是返回给客户端的单条搜索结果。
type Result struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Author    string `json:"author"`
	Duration  int    `json:"duration"`
	Thumbnail string `json:"thumbnail"`
}

// Strategy 是一种搜索实现。
type Strategy interface {
	Name() string
	Search(ctx context.Context, query string, limit int) ([]Result, error)
}

// ErrAPIDisabled 表示未配置搜索 API 地址。
var ErrAPIDisabled = errors.New("search api not configured")

// maxAPIBody 限制搜索 API 响应体大小。
const maxAPIBody = 4 << 20

// APIStrategy 调用兼容 Invidious 的 /api/v1/search 接口。
type APIStrategy struct {
	client  *http.Client
	baseURL string
}

// NewAPIStrategy 创建 API 策略；baseURL 为空时每次调用都返回 ErrAPIDisabled。
func NewAPIStrategy(client *http.Client, baseURL string) *APIStrategy {
	if client == nil {
		client = http.DefaultClient
	}
	return &APIStrategy{client: client, baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/")}
}

// Name implements Strategy.
func (s *APIStrategy) Name() string { return "api" }

// Search implements Strategy.
func (s *APIStrategy) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	if s.baseURL == "" {
		return nil, ErrAPIDisabled
	}
	endpoint := s.baseURL + "/api/v1/search?" + url.Values{
		"q":    {query},
		"type": {"video"},
	}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search api request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search api status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxAPIBody))
	if err != nil {
		return nil, fmt.Errorf("search api read: %w", err)
	}
	if !gjson.ValidBytes(body) {
		return nil, errors.New("search api returned invalid json")
	}
	return parseAPIResults(gjson.ParseBytes(body), limit), nil
}

func parseAPIResults(doc gjson.Result, limit int) []Result {
	results := make([]Result, 0, limit)
	doc.ForEach(func(_, item gjson.Result) bool {
		if t := item.Get("type"); t.Exists() && t.String() != "video" {
			return true
		}
		id := item.Get("videoId").String()
		if len(id) != 11 {
			return true
		}
		title := item.Get("title").String()
		if title == "" {
			title = "Unknown"
		}
		author := item.Get("author").String()
		if author == "" {
			author = "Unknown"
		}
		results = append(results, Result{
			ID:        id,
			Title:     title,
			Author:    author,
			Duration:  int(item.Get("lengthSeconds").Int()),
			Thumbnail: widestThumbnail(item.Get("videoThumbnails"), id),
		})
		return len(results) < limit
	})
	return results
}

func widestThumbnail(thumbs gjson.Result, id string) string {
	items := thumbs.Array()
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Get("width").Int() > items[j].Get("width").Int()
	})
	for _, item := range items {
		if u := item.Get("url").String(); strings.HasPrefix(u, "http") {
			return u
		}
	}
	return ytdlp.DefaultThumbnail(id)
}

// YtdlpStrategy 通过 yt-dlp 的 ytsearch 完成搜索。
type YtdlpStrategy struct {
	client  *ytdlp.Client
	timeout time.Duration
}

// NewYtdlpStrategy 创建 yt-dlp 策略，timeout 为单次搜索进程的最长运行时间。
func NewYtdlpStrategy(client *ytdlp.Client, timeout time.Duration) *YtdlpStrategy {
	return &YtdlpStrategy{client: client, timeout: timeout}
}

// Name implements Strategy.
func (s *YtdlpStrategy) Name() string { return "ytdlp" }

// Search implements Strategy.
func (s *YtdlpStrategy) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	videos, err := s.client.Search(ctx, query, limit, s.timeout)
	if err != nil {
		return nil, err
	}
	results := make([]Result, 0, len(videos))
	for _, v := range videos {
		results = append(results, Result{
			ID:        v.ID,
			Title:     v.Title,
			Author:    v.Author,
			Duration:  v.Duration,
			Thumbnail: v.Thumbnail,
		})
	}
	return results, nil
}
