// Package transporttest 提供测试用的脚本化会话实现
package transporttest

import (
	"context"
	"fmt"
	"sync"

	"driftbottle/internal/richtext"
	"driftbottle/internal/transport"
)

// Sent 一条被捕获的出站消息
type Sent struct {
	ChannelID string // 私聊时为空
	UserID    string // 私聊对象，频道消息为空
	Content   richtext.Content
}

// Fake 可编程的假会话。
// FailChannel 指定某频道接下来失败的次数；FailAll 为 true 时所有发送都失败。
type Fake struct {
	mu sync.Mutex

	PlatformName string
	BotID        string

	Guilds   []transport.Guild
	Channels map[string][]transport.Channel
	Friends  []transport.User

	FailAll     bool
	FailChannel map[string]int
	FailDM      bool

	Sent    []Sent
	Deleted []string

	nextID int
}

func New(platform string) *Fake {
	return &Fake{
		PlatformName: platform,
		BotID:        "bot",
		Channels:     map[string][]transport.Channel{},
		FailChannel:  map[string]int{},
	}
}

func (f *Fake) Platform() string { return f.PlatformName }
func (f *Fake) SelfID() string   { return f.BotID }

func (f *Fake) SendMessage(ctx context.Context, channelID string, content richtext.Content) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailAll {
		return "", fmt.Errorf("send to %s refused", channelID)
	}
	if n := f.FailChannel[channelID]; n > 0 {
		f.FailChannel[channelID] = n - 1
		return "", fmt.Errorf("send to %s refused", channelID)
	}
	f.Sent = append(f.Sent, Sent{ChannelID: channelID, Content: content})
	f.nextID++
	return fmt.Sprintf("msg-%d", f.nextID), nil
}

func (f *Fake) SendPrivateMessage(ctx context.Context, userID string, content richtext.Content) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailAll || f.FailDM {
		return "", fmt.Errorf("dm to %s refused", userID)
	}
	f.Sent = append(f.Sent, Sent{UserID: userID, Content: content})
	f.nextID++
	return fmt.Sprintf("msg-%d", f.nextID), nil
}

func (f *Fake) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Deleted = append(f.Deleted, messageID)
	return nil
}

func (f *Fake) GuildList(ctx context.Context) ([]transport.Guild, error) {
	return f.Guilds, nil
}

func (f *Fake) ChannelList(ctx context.Context, guildID string) ([]transport.Channel, error) {
	return f.Channels[guildID], nil
}

func (f *Fake) FriendList(ctx context.Context) ([]transport.User, error) {
	return f.Friends, nil
}

// SentTo 返回发到指定频道的消息
func (f *Fake) SentTo(channelID string) []Sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Sent
	for _, s := range f.Sent {
		if s.ChannelID == channelID {
			out = append(out, s)
		}
	}
	return out
}

// SentCount 已捕获的消息总数
func (f *Fake) SentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Sent)
}
