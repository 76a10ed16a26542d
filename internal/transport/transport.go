// Package transport 定义聊天平台消息通道的边界。
// 具体平台适配器（Discord、OneBot 等）在服务外部实现该接口。
package transport

import (
	"context"

	"driftbottle/internal/richtext"
)

// ChannelType 频道类型，广播和兜底投递只选文本频道
type ChannelType int

const (
	ChannelText ChannelType = iota
	ChannelVoice
	ChannelCategory
)

type Guild struct {
	ID   string
	Name string
}

type Channel struct {
	ID      string
	GuildID string
	Name    string
	Type    ChannelType
}

type User struct {
	ID   string
	Name string
}

// Session 一条已连接的平台会话
type Session interface {
	// Platform 平台标识，如 "discord"
	Platform() string
	// SelfID 机器人自身账号 ID
	SelfID() string

	// SendMessage 向频道发送一条消息，返回消息句柄
	SendMessage(ctx context.Context, channelID string, content richtext.Content) (string, error)
	// SendPrivateMessage 向用户私聊发送一条消息
	SendPrivateMessage(ctx context.Context, userID string, content richtext.Content) (string, error)
	// DeleteMessage 撤回已发送的消息
	DeleteMessage(ctx context.Context, channelID, messageID string) error

	GuildList(ctx context.Context) ([]Guild, error)
	ChannelList(ctx context.Context, guildID string) ([]Channel, error)
	FriendList(ctx context.Context) ([]User, error)
}
