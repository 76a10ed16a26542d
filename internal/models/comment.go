package models

type Comment struct {
	ID         uint   `gorm:"primaryKey" json:"id"`
	Cid        int    `gorm:"not null;index:idx_bottle_cid" json:"cid"` // 瓶内 1 起始的楼层号，与全局 ID 无关
	Bid        uint   `gorm:"not null;index:idx_bottle_cid" json:"bid"` // 所属瓶子
	AuthorID   string `gorm:"not null;index" json:"author_id"`
	GuildID    string `json:"guild_id"`
	ChannelID  string `json:"channel_id"`
	AuthorName string `json:"author_name"`
	Content    string `gorm:"type:text;not null" json:"content"`
	CreatedDay int64  `gorm:"index" json:"created_day"`
}
