package utils

import (
	"strconv"
)

// StringToInt converts string to int, returns 0 if error
func StringToInt(s string) int {
	i, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return i
}

// FormatUint converts uint to string
func FormatUint(n uint) string {
	return strconv.FormatUint(uint64(n), 10)
}

// IsNumeric 判断字符串是否为纯数字
// 瓶子标题不允许纯数字，否则无法与按 ID 捞取区分
func IsNumeric(s string) bool {
	if s == "" {
		return false
	}
	_, err := strconv.ParseUint(s, 10, 64)
	return err == nil
}
