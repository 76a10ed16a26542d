package bulletin

import (
	"context"
	"strings"
	"testing"
	"time"

	"driftbottle/internal/assets"
	"driftbottle/internal/config"
	"driftbottle/internal/db"
	"driftbottle/internal/delivery"
	"driftbottle/internal/models"
	"driftbottle/internal/store"
	"driftbottle/internal/transport/transporttest"
	"driftbottle/internal/utils"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type fakePrompter struct {
	answer string
	err    error
}

func (p fakePrompter) Prompt(ctx context.Context, channelID, userID string, timeout time.Duration) (string, error) {
	return p.answer, p.err
}

type fixture struct {
	svc  *Service
	st   *store.Store
	sess *transporttest.Fake
	cfg  *config.Config
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gdb, err := db.Open(config.DatabaseConfig{Driver: "sqlite", DSN: ":memory:"})
	require.NoError(t, err)
	st := store.New(gdb)

	cfg := &config.Config{Operators: []string{"op"}, Preview: true}
	cfg.Content.MaxLength = 50
	cfg.Content.AllowMedia = true
	cfg.Retry.Count = 1
	cfg.Retry.Interval = time.Millisecond
	cfg.Page.Comments = 10
	cfg.Page.Directory = 20
	cfg.Page.Mine = 20
	cfg.Featured.Threshold = 3
	cfg.Assets.Mode = "remote"
	cfg.Assets.Dir = t.TempDir()

	log := zerolog.Nop()
	as := assets.New(cfg, log)
	engine := delivery.New(cfg, log)
	cache := utils.NewSentCache(64)
	svc := NewService(st, as, engine, cache, cfg, fakePrompter{answer: "确认"}, log)
	return &fixture{svc: svc, st: st, sess: transporttest.New("qq"), cfg: cfg}
}

func (f *fixture) request(userID string) Request {
	return Request{
		Session:   f.sess,
		GuildID:   "g1",
		ChannelID: "cmd-ch",
		UserID:    userID,
		Username:  "测试用户",
	}
}

// lastReply 最后一条发到指令频道的消息文本
func (f *fixture) lastReply(t *testing.T) string {
	t.Helper()
	got := f.sess.SentTo("cmd-ch")
	require.NotEmpty(t, got, "指令频道没有收到回复")
	return got[len(got)-1].Content.Plain()
}

func TestPostCreatesBottle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.svc.Post(ctx, f.request("u1"), "海上来信", "第一封"))

	total, err := f.st.CountBottles(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, total)

	b, err := f.st.BottleByID(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, "第一封", b.Name)
	require.Equal(t, "u1", b.AuthorID)
	require.Equal(t, 0, b.CommentCount)

	reply := f.lastReply(t)
	require.Contains(t, reply, "No.1")
	require.Contains(t, reply, "海上来信") // 预览开启时回显正文
}

func TestPostRejectsEmptyAndNumericTitle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var ve *ValidationError
	require.ErrorAs(t, f.svc.Post(ctx, f.request("u1"), "   ", ""), &ve)
	require.ErrorAs(t, f.svc.Post(ctx, f.request("u1"), "内容", "42"), &ve)

	total, _ := f.st.CountBottles(ctx)
	require.EqualValues(t, 0, total, "被拒绝的投掷不应留下任何行")
}

func TestPostLengthBoundary(t *testing.T) {
	f := newFixture(t)
	f.cfg.Content.MaxLength = 4
	ctx := context.Background()

	// 正好到上限：允许
	require.NoError(t, f.svc.Post(ctx, f.request("u1"), "四个字呀", ""))
	// 超出一个字符：拒绝，且不残留半成品行
	var ve *ValidationError
	require.ErrorAs(t, f.svc.Post(ctx, f.request("u1"), "超过五个字", ""), &ve)

	total, _ := f.st.CountBottles(ctx)
	require.EqualValues(t, 1, total)
}

func TestPostRollsBackWhenPreviewUndeliverable(t *testing.T) {
	f := newFixture(t)
	f.sess.FailAll = true
	ctx := context.Background()

	var df *delivery.Failure
	require.ErrorAs(t, f.svc.Post(ctx, f.request("u1"), "发不出去", ""), &df)

	// 本人都收不到说明多半捞不出来，行要补偿删除
	total, _ := f.st.CountBottles(ctx)
	require.EqualValues(t, 0, total)
}

func TestDrawByID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.svc.Post(ctx, f.request("u1"), "深海来信", "信"))

	require.NoError(t, f.svc.Draw(ctx, f.request("u2"), "1", 1))
	reply := f.lastReply(t)
	require.Contains(t, reply, "No.1")
	require.Contains(t, reply, "深海来信")

	var ne *NotFoundError
	require.ErrorAs(t, f.svc.Draw(ctx, f.request("u2"), "999", 1), &ne)
}

func TestDrawRandomEmptySea(t *testing.T) {
	f := newFixture(t)
	var ne *NotFoundError
	require.ErrorAs(t, f.svc.Draw(context.Background(), f.request("u1"), "", 1), &ne)
}

func TestDrawByNameDisambiguation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.svc.Post(ctx, f.request("u1"), "a", "深海一号"))
	require.NoError(t, f.svc.Post(ctx, f.request("u1"), "b", "深海二号"))
	require.NoError(t, f.svc.Post(ctx, f.request("u1"), "c", "晨光"))

	// 多只命中：列候选编号，不展开内容
	require.NoError(t, f.svc.Draw(ctx, f.request("u2"), "深海", 1))
	reply := f.lastReply(t)
	require.Contains(t, reply, "匹配到 2 只")
	require.Contains(t, reply, "深海一号")
	require.NotContains(t, reply, "a")

	// 唯一命中：完整展示
	require.NoError(t, f.svc.Draw(ctx, f.request("u2"), "晨光", 1))
	require.Contains(t, f.lastReply(t), "c")
}

func TestDrawDisambiguationPaging(t *testing.T) {
	f := newFixture(t)
	f.cfg.Page.Directory = 2
	ctx := context.Background()
	for _, name := range []string{"深海1号", "深海2号", "深海3号", "深海4号", "深海5号"} {
		require.NoError(t, f.svc.Post(ctx, f.request("u1"), "x", name))
	}

	// 第 2 页给出第 3、4 只，页脚与内容一致
	require.NoError(t, f.svc.Draw(ctx, f.request("u2"), "深海", 2))
	reply := f.lastReply(t)
	require.Contains(t, reply, "深海3号")
	require.Contains(t, reply, "深海4号")
	require.NotContains(t, reply, "深海1号")
	require.Contains(t, reply, "第 2/3 页")

	// 超出末页的页码回落到末页
	require.NoError(t, f.svc.Draw(ctx, f.request("u2"), "深海", 99))
	reply = f.lastReply(t)
	require.Contains(t, reply, "深海5号")
	require.Contains(t, reply, "第 3/3 页")
}

func TestCommentFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.svc.Post(ctx, f.request("u1"), "瓶子正文", ""))

	// 评论者与瓶主不同，瓶主要收到通知
	req := f.request("u2")
	req.ChannelID = "u2-ch"
	require.NoError(t, f.svc.PostComment(ctx, req, 1, 0, "第一条评论"))

	c, err := f.st.CommentByCid(ctx, 1, 1)
	require.NoError(t, err)
	require.Equal(t, "u2", c.AuthorID)

	b, _ := f.st.BottleByID(ctx, 1)
	require.Equal(t, 1, b.CommentCount)

	// 通知发到瓶主投掷时所在的频道
	notices := f.sess.SentTo("cmd-ch")
	var found bool
	for _, n := range notices {
		if strings.Contains(n.Content.Plain(), "收到了新评论") {
			found = true
		}
	}
	require.True(t, found, "瓶主未收到通知")

	// 楼层号递增
	require.NoError(t, f.svc.PostComment(ctx, req, 1, 0, "第二条"))
	if _, err := f.st.CommentByCid(ctx, 1, 2); err != nil {
		t.Errorf("第二条评论楼层应为 2: %v", err)
	}
}

func TestCommentOnOwnBottleSkipsNotice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.svc.Post(ctx, f.request("u1"), "自言自语", ""))
	before := f.sess.SentCount()

	require.NoError(t, f.svc.PostComment(ctx, f.request("u1"), 1, 0, "自己顶一下"))

	// 只多一条确认回复，没有通知
	require.Equal(t, before+1, f.sess.SentCount())
}

func TestCommentRejectsAudioVideo(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.svc.Post(ctx, f.request("u1"), "瓶子", ""))

	var ve *ValidationError
	err := f.svc.PostComment(ctx, f.request("u2"), 1, 0, `听<audio src="https://a/x.mp3"/>`)
	require.ErrorAs(t, err, &ve)

	b, _ := f.st.BottleByID(ctx, 1)
	require.Equal(t, 0, b.CommentCount)
}

func TestCommentViaQuotedReply(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.svc.Post(ctx, f.request("u1"), "瓶子", ""))

	// 捞出瓶子，消息句柄进缓存
	require.NoError(t, f.svc.Draw(ctx, f.request("u2"), "1", 1))

	// 引用那条消息评论，不带瓶子编号
	req := f.request("u2")
	req.Quote = &Quote{MessageID: lastMessageID(f)}
	require.NoError(t, f.svc.PostComment(ctx, req, 0, 0, "引用评论"))

	if _, err := f.st.CommentByCid(ctx, 1, 1); err != nil {
		t.Errorf("引用回复应转成对瓶子的评论: %v", err)
	}

	// 引用不在缓存里的消息：要求显式编号
	req.Quote = &Quote{MessageID: "unknown-msg"}
	var ve *ValidationError
	require.ErrorAs(t, f.svc.PostComment(ctx, req, 0, 0, "悬空引用"), &ve)
}

// lastMessageID 推断最后一条消息的句柄（假会话按 msg-N 递增）
func lastMessageID(f *fixture) string {
	return "msg-" + utils.FormatUint(uint(f.sess.SentCount()))
}

func TestCommentNotifyFailureDoesNotBlock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// 瓶主的频道和群组都联系不上，但评论频道正常
	req1 := f.request("u1")
	req1.ChannelID = "owner-ch"
	req1.GuildID = "dead-guild"
	require.NoError(t, f.svc.Post(ctx, req1, "失联瓶主", ""))
	f.sess.FailChannel["owner-ch"] = 100

	req2 := f.request("u2")
	require.NoError(t, f.svc.PostComment(ctx, req2, 1, 0, "还在吗"))

	// 评论照常保存，确认里说明通知没送达
	b, _ := f.st.BottleByID(ctx, 1)
	require.Equal(t, 1, b.CommentCount)
	require.Contains(t, f.lastReply(t), "通知瓶主失败")
}

func TestReplyToComment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.svc.Post(ctx, f.request("u1"), "瓶子", ""))
	require.NoError(t, f.svc.PostComment(ctx, f.request("u2"), 1, 0, "一楼"))

	// 回复某层评论：通知对象换成那层的作者
	require.NoError(t, f.svc.PostComment(ctx, f.request("u3"), 1, 1, "回一楼"))
	if _, err := f.st.CommentByCid(ctx, 1, 2); err != nil {
		t.Errorf("楼层应为 2: %v", err)
	}

	// 回复不存在的楼层
	var ne *NotFoundError
	require.ErrorAs(t, f.svc.PostComment(ctx, f.request("u3"), 1, 99, "x"), &ne)
}

func TestDeleteBottlePermissions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.svc.Post(ctx, f.request("u1"), "瓶子", ""))
	require.NoError(t, f.svc.PostComment(ctx, f.request("u2"), 1, 0, "评论"))

	// 路人不能删
	var ve *ValidationError
	require.ErrorAs(t, f.svc.DeleteBottle(ctx, f.request("u3"), 1), &ve)

	// 瓶主可以删，评论级联
	require.NoError(t, f.svc.DeleteBottle(ctx, f.request("u1"), 1))
	_, err := f.st.BottleByID(ctx, 1)
	require.ErrorIs(t, err, store.ErrNotFound)
	n, _ := f.st.CountComments(ctx, 1)
	require.EqualValues(t, 0, n)
}

func TestDeleteBottleByOperator(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.svc.Post(ctx, f.request("u1"), "瓶子", ""))
	require.NoError(t, f.svc.DeleteBottle(ctx, f.request("op"), 1))
	_, err := f.st.BottleByID(ctx, 1)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestDeleteCommentAdjustsCount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.svc.Post(ctx, f.request("u1"), "瓶子", ""))
	require.NoError(t, f.svc.PostComment(ctx, f.request("u2"), 1, 0, "评论"))

	var ve *ValidationError
	require.ErrorAs(t, f.svc.DeleteComment(ctx, f.request("u3"), 1, 1), &ve)

	require.NoError(t, f.svc.DeleteComment(ctx, f.request("u2"), 1, 1))
	b, _ := f.st.BottleByID(ctx, 1)
	require.Equal(t, 0, b.CommentCount)
}

func TestExpireKeepsBoundaryDay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	today := utils.Today()
	old := &models.Bottle{AuthorID: "u1", Content: "老瓶子", CreatedDay: today - 8}
	boundary := &models.Bottle{AuthorID: "u1", Content: "边界瓶子", CreatedDay: today - 7}
	require.NoError(t, f.st.CreateBottle(ctx, old))
	require.NoError(t, f.st.CreateBottle(ctx, boundary))

	// 非管理员拒绝
	var ve *ValidationError
	require.ErrorAs(t, f.svc.Expire(ctx, f.request("u1"), 7), &ve)

	require.NoError(t, f.svc.Expire(ctx, f.request("op"), 7))

	// 正好 7 天的瓶子保留，超过才删
	_, err := f.st.BottleByID(ctx, old.ID)
	require.ErrorIs(t, err, store.ErrNotFound)
	_, err = f.st.BottleByID(ctx, boundary.ID)
	require.NoError(t, err)
}

func TestAuditPurgesUnsendable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.svc.Post(ctx, f.request("u1"), "坏瓶子", ""))
	require.NoError(t, f.svc.Post(ctx, f.request("u1"), "好瓶子", ""))

	req := f.request("op")
	req.ChannelID = "audit-ch"
	f.sess.FailChannel["audit-ch"] = 1 // 第一只瓶子发不出去

	require.NoError(t, f.svc.AuditBottles(ctx, req, 0, 0, 0))

	// 确认口令正确：只删记录在案的失败项
	_, err := f.st.BottleByID(ctx, 1)
	require.ErrorIs(t, err, store.ErrNotFound)
	_, err = f.st.BottleByID(ctx, 2)
	require.NoError(t, err)
}

func TestAuditCancelledWithoutConfirm(t *testing.T) {
	f := newFixture(t)
	f.svc.prompter = fakePrompter{answer: "不要"}
	ctx := context.Background()
	require.NoError(t, f.svc.Post(ctx, f.request("u1"), "坏瓶子", ""))

	req := f.request("op")
	req.ChannelID = "audit-ch"
	f.sess.FailChannel["audit-ch"] = 1

	require.NoError(t, f.svc.AuditBottles(ctx, req, 0, 0, 0))

	// 口令不对：什么都不删
	_, err := f.st.BottleByID(ctx, 1)
	require.NoError(t, err)
}

func TestAuditRequiresOperator(t *testing.T) {
	f := newFixture(t)
	var ve *ValidationError
	require.ErrorAs(t, f.svc.AuditBottles(context.Background(), f.request("u1"), 0, 0, 0), &ve)
}

func TestRename(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.svc.Post(ctx, f.request("u1"), "瓶子", "旧名"))

	var ve *ValidationError
	require.ErrorAs(t, f.svc.Rename(ctx, f.request("u1"), 1, "123"), &ve)
	require.ErrorAs(t, f.svc.Rename(ctx, f.request("u2"), 1, "别人改的"), &ve)

	require.NoError(t, f.svc.Rename(ctx, f.request("u1"), 1, "新名"))
	b, _ := f.st.BottleByID(ctx, 1)
	require.Equal(t, "新名", b.Name)
}

func TestFeaturedByThresholdOrMark(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.svc.Post(ctx, f.request("u1"), "热门瓶", "热门"))
	require.NoError(t, f.svc.Post(ctx, f.request("u1"), "冷门瓶", "冷门"))
	require.NoError(t, f.svc.Post(ctx, f.request("u1"), "钦点瓶", "钦点"))

	// 评论数达到阈值（3）
	for i := 0; i < 3; i++ {
		require.NoError(t, f.svc.PostComment(ctx, f.request("u2"), 1, 0, "顶"))
	}
	// 管理员标记
	require.NoError(t, f.svc.SetFeatured(ctx, f.request("op"), 3))

	require.NoError(t, f.svc.Featured(ctx, f.request("u2"), 1))
	reply := f.lastReply(t)
	require.Contains(t, reply, "热门")
	require.Contains(t, reply, "钦点")
	require.NotContains(t, reply, "冷门")
}

func TestListMineAndDirectory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.svc.Post(ctx, f.request("u1"), "a", "我的一号"))
	require.NoError(t, f.svc.Post(ctx, f.request("u2"), "b", "别人的"))

	require.NoError(t, f.svc.ListMine(ctx, f.request("u1"), 1, false))
	reply := f.lastReply(t)
	require.Contains(t, reply, "我的一号")
	require.NotContains(t, reply, "别人的")

	require.NoError(t, f.svc.Directory(ctx, f.request("u1"), 1))
	reply = f.lastReply(t)
	require.Contains(t, reply, "我的一号")
	require.Contains(t, reply, "别人的")

	var ne *NotFoundError
	require.ErrorAs(t, f.svc.ListMine(ctx, f.request("u3"), 1, false), &ne)
}

func TestListingsTreatZeroPageAsFirst(t *testing.T) {
	f := newFixture(t)
	f.cfg.Page.Mine = 2
	f.cfg.Page.Directory = 2
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, f.svc.Post(ctx, f.request("u1"), "x", ""))
	}
	for id := uint(1); id <= 3; id++ {
		require.NoError(t, f.svc.SetFeatured(ctx, f.request("op"), id))
	}

	// 省略页码参数（0）时按第一页展示，页脚不出现第 0 页
	require.NoError(t, f.svc.ListMine(ctx, f.request("u1"), 0, false))
	require.Contains(t, f.lastReply(t), "第 1/2 页")

	require.NoError(t, f.svc.Featured(ctx, f.request("u2"), 0))
	require.Contains(t, f.lastReply(t), "第 1/2 页")
}

func TestMigrateToLocal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// 内联资产迁移到本地不需要网络
	content := `图<image src="data:image/png;base64,QUJD"/>`
	require.NoError(t, f.svc.Post(ctx, f.request("u1"), content, ""))

	var ve *ValidationError
	require.ErrorAs(t, f.svc.Migrate(ctx, f.request("u1"), assets.ModeLocal), &ve)

	require.NoError(t, f.svc.Migrate(ctx, f.request("op"), assets.ModeLocal))
	b, _ := f.st.BottleByID(ctx, 1)
	require.Contains(t, b.Content, "file://", "迁移后引用应指向本地文件")
}

func TestDispatchRendersValidationError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// 校验失败转成给用户的回复，而不是错误返回
	require.NoError(t, f.svc.Dispatch(ctx, f.request("u1"), Command{Name: "post-bottle", Args: []string{""}}))
	require.Contains(t, f.lastReply(t), "不能为空")

	require.NoError(t, f.svc.Dispatch(ctx, f.request("u1"), Command{Name: "no-such-verb"}))
	require.Contains(t, f.lastReply(t), "未知指令")
}

func TestDispatchRoutesVerbs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.svc.Dispatch(ctx, f.request("u1"), Command{
		Name:  "post-bottle",
		Args:  []string{"漂流的信"},
		Flags: map[string]string{"title": "信"},
	}))
	b, err := f.st.BottleByID(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, "信", b.Name)

	require.NoError(t, f.svc.Dispatch(ctx, f.request("u2"), Command{
		Name: "comment",
		Args: []string{"1", "好棒的信"},
	}))
	if _, err := f.st.CommentByCid(ctx, 1, 1); err != nil {
		t.Errorf("dispatch 的评论未落库: %v", err)
	}

	require.NoError(t, f.svc.Dispatch(ctx, f.request("u2"), Command{
		Name: "draw-bottle",
		Args: []string{"1"},
	}))
	require.Contains(t, f.lastReply(t), "漂流的信")
}
