// Package scheduler 实现无人值守的随机广播循环：
// 随机等待一段时间，然后对每条会话、每个目标群组随机抽一只瓶子投递出去。
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"driftbottle/internal/config"
	"driftbottle/internal/delivery"
	"driftbottle/internal/metrics"
	"driftbottle/internal/models"
	"driftbottle/internal/richtext"
	"driftbottle/internal/store"
	"driftbottle/internal/transport"
	"driftbottle/internal/utils"

	"github.com/rs/zerolog"
)

// State 调度器状态机：空闲 -> 倒计时 -> 派发 -> 空闲
type State int32

const (
	StateIdle State = iota
	StateCounting
	StateDispatching
)

func (s State) String() string {
	switch s {
	case StateCounting:
		return "counting-down"
	case StateDispatching:
		return "dispatching"
	default:
		return "idle"
	}
}

type Scheduler struct {
	st     *store.Store
	engine *delivery.Engine
	cache  *utils.SentCache
	cfg    *config.Config
	log    zerolog.Logger

	mu       sync.Mutex
	sessions []transport.Session

	state     atomic.Int32
	remaining atomic.Int64
}

func New(st *store.Store, engine *delivery.Engine, cache *utils.SentCache, cfg *config.Config, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		st:     st,
		engine: engine,
		cache:  cache,
		cfg:    cfg,
		log:    log.With().Str("component", "scheduler").Logger(),
	}
}

// Register 登记一条已连接的平台会话
func (s *Scheduler) Register(sess transport.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = append(s.sessions, sess)
}

// Status 当前状态与倒计时剩余秒数（观测用）
func (s *Scheduler) Status() (State, int64) {
	return State(s.state.Load()), s.remaining.Load()
}

// Run 循环执行：随机等待、倒计时、派发。
// ctx 取消会立刻打断任何等待并退出循环，不再完成进行中的派发。
func (s *Scheduler) Run(ctx context.Context) {
	s.log.Info().
		Int("min_interval", s.cfg.Broadcast.MinInterval).
		Int("max_interval", s.cfg.Broadcast.MaxInterval).
		Msg("广播调度器已启动")
	defer s.state.Store(int32(StateIdle))

	for {
		wait := s.cfg.Broadcast.MinInterval
		if span := s.cfg.Broadcast.MaxInterval - s.cfg.Broadcast.MinInterval; span > 0 {
			wait += rand.Intn(span + 1)
		}
		if err := s.countdown(ctx, wait); err != nil {
			s.log.Info().Msg("广播调度器已停止")
			return
		}

		s.state.Store(int32(StateDispatching))
		s.dispatch(ctx)
		metrics.BroadcastDispatches.Inc()
		s.state.Store(int32(StateIdle))

		if ctx.Err() != nil {
			s.log.Info().Msg("广播调度器已停止")
			return
		}
	}
}

// countdown 按秒递减，每秒刷新一次可观测的剩余时间
func (s *Scheduler) countdown(ctx context.Context, seconds int) error {
	s.state.Store(int32(StateCounting))
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for remain := seconds; remain > 0; remain-- {
		s.remaining.Store(int64(remain))
		metrics.BroadcastCountdown.Set(float64(remain))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	s.remaining.Store(0)
	metrics.BroadcastCountdown.Set(0)
	return nil
}

// dispatch 对每条会话、每个目标群组各投出一只随机瓶子
func (s *Scheduler) dispatch(ctx context.Context) {
	s.mu.Lock()
	sessions := make([]transport.Session, len(s.sessions))
	copy(sessions, s.sessions)
	s.mu.Unlock()

	for _, sess := range sessions {
		if ctx.Err() != nil {
			return
		}
		guilds, all, skip := s.cfg.BroadcastTargets(sess.Platform())
		if skip {
			continue
		}
		if all {
			list, err := sess.GuildList(ctx)
			if err != nil {
				s.log.Warn().Str("platform", sess.Platform()).Err(err).Msg("枚举群组失败，跳过该平台")
				continue
			}
			guilds = guilds[:0]
			for _, g := range list {
				guilds = append(guilds, g.ID)
			}
		}
		for _, gid := range guilds {
			if ctx.Err() != nil {
				return
			}
			s.broadcastTo(ctx, sess, gid)
		}
	}
}

// broadcastTo 向单个群组投递。发送失败时放弃当前瓶子，
// 重新随机抽一只再试，直到耗尽共享的重试预算。
func (s *Scheduler) broadcastTo(ctx context.Context, sess transport.Session, guildID string) {
	max := s.cfg.Retry.Count
	for attempt := 1; attempt <= max; attempt++ {
		b, err := s.st.RandomBottle(ctx)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				// 海里没有瓶子，这一轮静默跳过
				return
			}
			s.log.Warn().Err(err).Msg("抽取随机瓶子失败")
			return
		}

		ids, err := s.engine.DeliverOnce(ctx, sess, renderBottle(b), delivery.RandomGuildChannel(guildID))
		if err == nil {
			if s.cache != nil {
				for _, id := range ids {
					s.cache.Record(sess.Platform(), id, b.ID)
				}
			}
			s.log.Info().Uint("bottle", b.ID).Str("guild", guildID).Msg("广播投递成功")
			return
		}

		s.log.Debug().Uint("bottle", b.ID).Int("attempt", attempt).Err(err).Msg("广播发送失败，重抽一只瓶子")
		if attempt < max {
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.cfg.Retry.Interval):
			}
		}
	}
	s.log.Warn().Int("attempts", max).Int("max", max).
		Str("guild", guildID).Msg("广播重试预算耗尽，放弃本轮投递")
}

// renderBottle 广播消息的展示形式：一行提示 + 瓶子正文
func renderBottle(b *models.Bottle) richtext.Content {
	header := fmt.Sprintf("一只漂流瓶被冲上了岸～ No.%d", b.ID)
	if b.Name != "" {
		header += fmt.Sprintf("「%s」", b.Name)
	}
	header += fmt.Sprintf("\n来自 %s（%s）\n\n", b.AuthorName, utils.FormatDay(b.CreatedDay))
	return richtext.Text(header).Append(richtext.Parse(b.Content)...)
}
