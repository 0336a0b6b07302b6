package routes

import (
	"fmt"
	"time"
)

// FormatUptime 将运行时长格式化为 "42s"、"3h 5m"、"3h"、"5m" 或 "2d 4h"。
func FormatUptime(d time.Duration) string {
	seconds := int64(d / time.Second)
	if seconds < 0 {
		seconds = 0
	}
	days := seconds / 86400
	hours := (seconds % 86400) / 3600
	minutes := (seconds % 3600) / 60

	switch {
	case seconds < 60:
		return fmt.Sprintf("%ds", seconds)
	case seconds < 86400:
		if hours > 0 && minutes > 0 {
			return fmt.Sprintf("%dh %dm", hours, minutes)
		}
		if hours > 0 {
			return fmt.Sprintf("%dh", hours)
		}
		return fmt.Sprintf("%dm", minutes)
	default:
		return fmt.Sprintf("%dd %dh", days, hours)
	}
}
