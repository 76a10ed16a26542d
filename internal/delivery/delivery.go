// Package delivery 实现可靠投递引擎：
// 按序尝试一串目标解析策略，失败时在固定间隔下重试，直到耗尽重试预算。
package delivery

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"driftbottle/internal/config"
	"driftbottle/internal/metrics"
	"driftbottle/internal/richtext"
	"driftbottle/internal/transport"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

// Target 一种目标解析策略：解析出实际收件地址并发送全部信封。
// 解析或发送失败都会让引擎推进到链上的下一个策略。
type Target interface {
	Name() string
	Send(ctx context.Context, sess transport.Session, envelopes []richtext.Content) ([]string, error)
}

// Failure 重试预算耗尽
type Failure struct {
	Attempts int
	Max      int
	Err      error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("投递失败（尝试 %d/%d 次）: %v", f.Attempts, f.Max, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

type Engine struct {
	log      zerolog.Logger
	max      int
	interval time.Duration
}

func New(cfg *config.Config, log zerolog.Logger) *Engine {
	return &Engine{
		log:      log.With().Str("component", "delivery").Logger(),
		max:      cfg.Retry.Count,
		interval: cfg.Retry.Interval,
	}
}

// Deliver 发送内容到目标链。音视频内容会拆成说明 + 载荷两条消息。
// 每轮失败计入重试预算，轮与轮之间等待固定间隔；
// 预算耗尽返回 *Failure。
func (e *Engine) Deliver(ctx context.Context, sess transport.Session, content richtext.Content, targets ...Target) ([]string, error) {
	envelopes := content.Envelopes()
	attempts := 0
	var lastErr error

	op := func() ([]string, error) {
		attempts++
		ids, err := e.tryChain(ctx, sess, envelopes, targets)
		if err != nil {
			lastErr = err
			metrics.DeliveryAttempts.WithLabelValues("fail").Inc()
			return nil, err
		}
		metrics.DeliveryAttempts.WithLabelValues("ok").Inc()
		return ids, nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(e.interval), uint64(e.max-1)), ctx)
	ids, err := backoff.RetryWithData(op, policy)
	if err != nil {
		metrics.DeliveryExhausted.Inc()
		ev := e.log.Warn().Int("attempts", attempts).Int("max", e.max)
		if lastErr != nil {
			ev = ev.Str("error", lastErr.Error())
		}
		ev.Msg("投递重试预算耗尽")
		e.log.Debug().Err(lastErr).Msg("投递失败详情")
		return nil, &Failure{Attempts: attempts, Max: e.max, Err: lastErr}
	}
	return ids, nil
}

// DeliverOnce 只走一遍目标链，不做重试。
// 广播调度器用它实现“重抽一只瓶子再试”的外层重试。
func (e *Engine) DeliverOnce(ctx context.Context, sess transport.Session, content richtext.Content, targets ...Target) ([]string, error) {
	return e.tryChain(ctx, sess, content.Envelopes(), targets)
}

// tryChain 按序尝试每个策略，第一个成功的即返回
func (e *Engine) tryChain(ctx context.Context, sess transport.Session, envelopes []richtext.Content, targets []Target) ([]string, error) {
	if len(targets) == 0 {
		return nil, fmt.Errorf("没有可用的投递目标")
	}
	var lastErr error
	for _, t := range targets {
		ids, err := t.Send(ctx, sess, envelopes)
		if err == nil {
			return ids, nil
		}
		lastErr = err
		e.log.Debug().Str("target", t.Name()).Err(err).Msg("目标发送失败，尝试下一个")
	}
	return nil, lastErr
}

// sendEnvelopes 向同一频道顺序发送全部信封
func sendEnvelopes(ctx context.Context, sess transport.Session, channelID string, envelopes []richtext.Content) ([]string, error) {
	ids := make([]string, 0, len(envelopes))
	for _, env := range envelopes {
		id, err := sess.SendMessage(ctx, channelID, env)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// ---- 策略实现 ----

type channelTarget struct {
	id string
}

// Channel 直接发送到指定频道，无解析步骤
func Channel(id string) Target {
	return channelTarget{id: id}
}

func (t channelTarget) Name() string {
	return fmt.Sprintf("channel(%s)", t.id)
}

func (t channelTarget) Send(ctx context.Context, sess transport.Session, envelopes []richtext.Content) ([]string, error) {
	if t.id == "" {
		return nil, fmt.Errorf("频道定位符为空")
	}
	return sendEnvelopes(ctx, sess, t.id, envelopes)
}

type guildChannelTarget struct {
	guildID string
	prefer  string
}

// GuildChannel 枚举群组频道，优先匹配 prefer，否则取第一个文本频道
func GuildChannel(guildID, prefer string) Target {
	return guildChannelTarget{guildID: guildID, prefer: prefer}
}

func (t guildChannelTarget) Name() string {
	return fmt.Sprintf("guild(%s)", t.guildID)
}

func (t guildChannelTarget) Send(ctx context.Context, sess transport.Session, envelopes []richtext.Content) ([]string, error) {
	if t.guildID == "" {
		return nil, fmt.Errorf("群组定位符为空")
	}
	channels, err := sess.ChannelList(ctx, t.guildID)
	if err != nil {
		return nil, fmt.Errorf("枚举群组 %s 频道失败: %w", t.guildID, err)
	}
	var pick *transport.Channel
	for i, ch := range channels {
		if ch.Type != transport.ChannelText {
			continue
		}
		if ch.ID == t.prefer {
			pick = &channels[i]
			break
		}
		if pick == nil {
			pick = &channels[i]
		}
	}
	if pick == nil {
		return nil, fmt.Errorf("群组 %s 没有可用的文本频道", t.guildID)
	}
	return sendEnvelopes(ctx, sess, pick.ID, envelopes)
}

type randomGuildChannelTarget struct {
	guildID string
}

// RandomGuildChannel 在群组内随机挑一个文本频道（广播兜底）
func RandomGuildChannel(guildID string) Target {
	return randomGuildChannelTarget{guildID: guildID}
}

func (t randomGuildChannelTarget) Name() string {
	return fmt.Sprintf("random-guild(%s)", t.guildID)
}

func (t randomGuildChannelTarget) Send(ctx context.Context, sess transport.Session, envelopes []richtext.Content) ([]string, error) {
	channels, err := sess.ChannelList(ctx, t.guildID)
	if err != nil {
		return nil, fmt.Errorf("枚举群组 %s 频道失败: %w", t.guildID, err)
	}
	var texts []transport.Channel
	for _, ch := range channels {
		if ch.Type == transport.ChannelText {
			texts = append(texts, ch)
		}
	}
	if len(texts) == 0 {
		return nil, fmt.Errorf("群组 %s 没有可用的文本频道", t.guildID)
	}
	pick := texts[rand.Intn(len(texts))]
	return sendEnvelopes(ctx, sess, pick.ID, envelopes)
}

type friendDMTarget struct {
	userID string
}

// FriendDM 枚举好友列表按 ID 匹配后发私聊（无群组上下文时的兜底）
func FriendDM(userID string) Target {
	return friendDMTarget{userID: userID}
}

func (t friendDMTarget) Name() string {
	return fmt.Sprintf("friend-dm(%s)", t.userID)
}

func (t friendDMTarget) Send(ctx context.Context, sess transport.Session, envelopes []richtext.Content) ([]string, error) {
	friends, err := sess.FriendList(ctx)
	if err != nil {
		return nil, fmt.Errorf("枚举好友列表失败: %w", err)
	}
	for _, fr := range friends {
		if fr.ID != t.userID {
			continue
		}
		ids := make([]string, 0, len(envelopes))
		for _, env := range envelopes {
			id, err := sess.SendPrivateMessage(ctx, t.userID, env)
			if err != nil {
				return nil, err
			}
			ids = append(ids, id)
		}
		return ids, nil
	}
	return nil, fmt.Errorf("用户 %s 不在好友列表中", t.userID)
}

// NotifyChain 通知瓶子/评论作者的兜底链：
// 存储的频道 -> 所在群组的频道枚举 -> （无群组时）好友私聊
func NotifyChain(channelID, guildID, userID string) []Target {
	var chain []Target
	if channelID != "" {
		chain = append(chain, Channel(channelID))
	}
	if guildID != "" {
		chain = append(chain, GuildChannel(guildID, channelID))
	} else {
		chain = append(chain, FriendDM(userID))
	}
	return chain
}
