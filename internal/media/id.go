package media

import "regexp"

var idPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{11}$`)

// ValidID 判断 id 是否为 11 位的字母、数字、下划线或连字符组合。
func ValidID(id string) bool {
	return idPattern.MatchString(id)
}
