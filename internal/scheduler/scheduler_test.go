package scheduler

import (
	"context"
	"testing"
	"time"

	"driftbottle/internal/config"
	"driftbottle/internal/db"
	"driftbottle/internal/delivery"
	"driftbottle/internal/models"
	"driftbottle/internal/store"
	"driftbottle/internal/transport"
	"driftbottle/internal/transport/transporttest"
	"driftbottle/internal/utils"

	"github.com/rs/zerolog"
)

func newScheduler(t *testing.T, cfg *config.Config) (*Scheduler, *store.Store) {
	t.Helper()
	gdb, err := db.Open(config.DatabaseConfig{Driver: "sqlite", DSN: ":memory:"})
	if err != nil {
		t.Fatal(err)
	}
	st := store.New(gdb)
	engine := delivery.New(cfg, zerolog.Nop())
	return New(st, engine, utils.NewSentCache(16), cfg, zerolog.Nop()), st
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Retry.Count = 2
	cfg.Retry.Interval = time.Millisecond
	cfg.Broadcast.MinInterval = 1
	cfg.Broadcast.MaxInterval = 1
	return cfg
}

func seaWith(t *testing.T, st *store.Store, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if err := st.CreateBottle(context.Background(), &models.Bottle{
			AuthorID: "u1", AuthorName: "小明", Content: "海上来信", CreatedDay: 100,
		}); err != nil {
			t.Fatal(err)
		}
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	s, _ := newScheduler(t, testConfig())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	// 倒计时期间取消应立刻退出，不等剩余秒数走完
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("取消后调度器未退出")
	}
	if state, _ := s.Status(); state != StateIdle {
		t.Errorf("退出后状态应为 idle，得到 %s", state)
	}
}

func TestDispatchBroadcasts(t *testing.T) {
	cfg := testConfig()
	s, st := newScheduler(t, cfg)
	seaWith(t, st, 1)

	sess := transporttest.New("qq")
	sess.Guilds = []transport.Guild{{ID: "g1"}}
	sess.Channels["g1"] = []transport.Channel{{ID: "c1", Type: transport.ChannelText}}
	s.Register(sess)

	s.dispatch(context.Background())

	got := sess.SentTo("c1")
	if len(got) != 1 {
		t.Fatalf("群组应收到 1 条广播，得到 %d", len(got))
	}
	if got[0].Content.Plain() == "" {
		t.Error("广播内容为空")
	}
	// 广播出去的消息要能被引用回复评论
	if s.cache.Len() != 1 {
		t.Errorf("已发送缓存应有 1 条，得到 %d", s.cache.Len())
	}
}

func TestDispatchSkipsEmptyTargetList(t *testing.T) {
	cfg := testConfig()
	cfg.Broadcast.Targets = map[string][]string{"qq": {}}
	s, st := newScheduler(t, cfg)
	seaWith(t, st, 1)

	sess := transporttest.New("qq")
	sess.Guilds = []transport.Guild{{ID: "g1"}}
	sess.Channels["g1"] = []transport.Channel{{ID: "c1", Type: transport.ChannelText}}
	s.Register(sess)

	s.dispatch(context.Background())
	if sess.SentCount() != 0 {
		t.Errorf("显式空列表的平台应被跳过，发出了 %d 条", sess.SentCount())
	}
}

func TestDispatchHonorsExplicitTargets(t *testing.T) {
	cfg := testConfig()
	cfg.Broadcast.Targets = map[string][]string{"qq": {"g2"}}
	s, st := newScheduler(t, cfg)
	seaWith(t, st, 1)

	sess := transporttest.New("qq")
	sess.Guilds = []transport.Guild{{ID: "g1"}, {ID: "g2"}}
	sess.Channels["g1"] = []transport.Channel{{ID: "c1", Type: transport.ChannelText}}
	sess.Channels["g2"] = []transport.Channel{{ID: "c2", Type: transport.ChannelText}}
	s.Register(sess)

	s.dispatch(context.Background())
	if len(sess.SentTo("c1")) != 0 {
		t.Error("未配置的群组不应收到广播")
	}
	if len(sess.SentTo("c2")) != 1 {
		t.Error("配置的群组应收到广播")
	}
}

func TestBroadcastEmptySeaIsSilent(t *testing.T) {
	s, _ := newScheduler(t, testConfig())

	sess := transporttest.New("qq")
	sess.Guilds = []transport.Guild{{ID: "g1"}}
	sess.Channels["g1"] = []transport.Channel{{ID: "c1", Type: transport.ChannelText}}
	s.Register(sess)

	// 海里没瓶子：静默跳过，不发任何消息
	s.dispatch(context.Background())
	if sess.SentCount() != 0 {
		t.Errorf("空海不应广播，发出了 %d 条", sess.SentCount())
	}
}

func TestBroadcastResamplesOnFailure(t *testing.T) {
	cfg := testConfig()
	cfg.Retry.Count = 3
	s, st := newScheduler(t, cfg)
	seaWith(t, st, 5)

	sess := transporttest.New("qq")
	sess.Channels["g1"] = []transport.Channel{{ID: "c1", Type: transport.ChannelText}}
	sess.FailChannel["c1"] = 2 // 前两只瓶子发不出去

	s.broadcastTo(context.Background(), sess, "g1")
	if len(sess.SentTo("c1")) != 1 {
		t.Fatalf("重抽后应成功发出 1 条，得到 %d", len(sess.SentTo("c1")))
	}
}

func TestBroadcastGivesUpAfterBudget(t *testing.T) {
	cfg := testConfig()
	s, st := newScheduler(t, cfg)
	seaWith(t, st, 3)

	sess := transporttest.New("qq")
	sess.FailAll = true
	sess.Channels["g1"] = []transport.Channel{{ID: "c1", Type: transport.ChannelText}}

	s.broadcastTo(context.Background(), sess, "g1")
	if sess.SentCount() != 0 {
		t.Errorf("预算耗尽后不应有消息，得到 %d", sess.SentCount())
	}
}
