package ytdlp

import (
	"math"
	"sort"
	"strings"

	"github.com/tidwall/gjson"
)

// Video 是从 --dump-json 中提取的最小字段集合。
type Video struct {
	ID        string
	Title     string
	Author    string
	Duration  int
	Thumbnail string
}

// DefaultThumbnail 返回 id 对应的 hqdefault 缩略图地址。
func DefaultThumbnail(id string) string {
	return "https://i.ytimg.com/vi/" + id + "/hqdefault.jpg"
}

// ParseSearchOutput 逐行解析 yt-dlp 输出：仅处理以 { 开头的合法 JSON 行，
// 丢弃 id 长度不为 11 的条目。
func ParseSearchOutput(output string) []Video {
	lines := strings.Split(strings.TrimSpace(output), "\n")
	videos := make([]Video, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "{") || !gjson.Valid(line) {
			continue
		}
		doc := gjson.Parse(line)
		id := doc.Get("id").String()
		if len(id) != 11 {
			continue
		}
		videos = append(videos, Video{
			ID:        id,
			Title:     firstNonEmpty(doc, "Unknown", "title", "fulltitle"),
			Author:    firstNonEmpty(doc, "Unknown", "channel", "uploader", "uploader_id"),
			Duration:  durationSeconds(doc.Get("duration")),
			Thumbnail: pickThumbnail(doc, id),
		})
	}
	return videos
}

func firstNonEmpty(doc gjson.Result, fallback string, paths ...string) string {
	for _, path := range paths {
		if v := doc.Get(path); v.Type == gjson.String && v.String() != "" {
			return v.String()
		}
	}
	return fallback
}

// durationSeconds 取最接近的整秒；yt-dlp 对部分来源会给出小数时长。
func durationSeconds(v gjson.Result) int {
	if v.Type != gjson.Number {
		return 0
	}
	return int(math.Round(v.Float()))
}

// pickThumbnail 优先选择最宽的 thumbnails 项，其次是 http 开头的 thumbnail 字段。
func pickThumbnail(doc gjson.Result, id string) string {
	thumbs := doc.Get("thumbnails")
	if thumbs.IsArray() {
		items := thumbs.Array()
		if len(items) > 0 {
			sort.SliceStable(items, func(i, j int) bool {
				return items[i].Get("width").Int() > items[j].Get("width").Int()
			})
			return items[0].Get("url").String()
		}
	}
	if thumb := doc.Get("thumbnail"); thumb.Type == gjson.String && strings.HasPrefix(thumb.String(), "http") {
		return thumb.String()
	}
	return DefaultThumbnail(id)
}
