package utils

import "time"

// DayStamp 返回天级时间戳（自 Unix 纪元以来的天数）
// 瓶子和评论的时间只精确到天，过期判断也按天比较
func DayStamp(t time.Time) int64 {
	return t.Unix() / 86400
}

// Today 返回今天的天级时间戳
func Today() int64 {
	return DayStamp(time.Now())
}

// FormatDay 将天级时间戳格式化为 2006-01-02
func FormatDay(day int64) string {
	return time.Unix(day*86400, 0).UTC().Format("2006-01-02")
}
