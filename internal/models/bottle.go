package models

// CommentCountUnknown 表示评论数尚未统计过（历史数据），启动时会回填
const CommentCountUnknown = -1

type Bottle struct {
	ID           uint   `gorm:"primaryKey" json:"id"`
	Name         string `gorm:"index" json:"name"` // 可选标题，纯数字标题会被拒绝（避免与 ID 混淆）
	AuthorID     string `gorm:"not null;index" json:"author_id"`
	GuildID      string `json:"guild_id"`   // 投掷时所在群组
	ChannelID    string `json:"channel_id"` // 投掷时所在频道
	AuthorName   string `json:"author_name"`
	Content      string `gorm:"type:text;not null" json:"content"`
	IsFeatured   bool   `gorm:"default:false;index" json:"is_featured"`
	CommentCount int    `json:"comment_count"` // 评论数缓存，负值表示未统计
	CreatedDay   int64  `gorm:"index" json:"created_day"`        // 天级时间戳（Unix 天数）
}
