package bulletin

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"driftbottle/internal/assets"
	"driftbottle/internal/delivery"
	"driftbottle/internal/utils"
)

// Command 前端分词后的指令：动词、位置参数和旗标
type Command struct {
	Name  string
	Args  []string
	Flags map[string]string
}

func (c Command) arg(i int) string {
	if i < len(c.Args) {
		return c.Args[i]
	}
	return ""
}

func (c Command) argInt(i int) int {
	return utils.StringToInt(c.arg(i))
}

func (c Command) argUint(i int) uint {
	n, _ := strconv.ParseUint(c.arg(i), 10, 64)
	return uint(n)
}

// Dispatch 把指令路由到对应操作，并把失败统一回报给请求者。
// 这是一个常驻服务：任何结果都以消息形式回给用户，不存在进程退出码。
func (s *Service) Dispatch(ctx context.Context, req Request, cmd Command) error {
	err := s.route(ctx, req, cmd)
	if err == nil {
		return nil
	}
	msg, expected := userMessage(err)
	if expected {
		s.log.Debug().Str("cmd", cmd.Name).Err(err).Msg("指令被拒绝")
	} else {
		s.log.Error().Str("cmd", cmd.Name).Err(err).Msg("指令执行失败")
	}
	if _, rerr := s.replyText(ctx, req, "%s", msg); rerr != nil {
		// 连失败消息都发不出去，只能记日志
		s.log.Warn().Str("cmd", cmd.Name).Err(rerr).Msg("回报失败消息未送达")
		return rerr
	}
	return nil
}

func (s *Service) route(ctx context.Context, req Request, cmd Command) error {
	switch cmd.Name {
	case "post-bottle":
		return s.Post(ctx, req, strings.Join(cmd.Args, " "), cmd.Flags["title"])
	case "draw-bottle":
		idOrName := cmd.arg(0)
		page := cmd.argInt(1)
		return s.Draw(ctx, req, idOrName, page)
	case "comment":
		bid := cmd.argUint(0)
		text := strings.Join(cmd.Args[min(1, len(cmd.Args)):], " ")
		if bid == 0 && req.Quote != nil {
			// 引用回复瓶子消息时，全部参数都是评论正文
			text = strings.Join(cmd.Args, " ")
		}
		replyCid := utils.StringToInt(cmd.Flags["reply-to"])
		return s.PostComment(ctx, req, bid, replyCid, text)
	case "delete-bottle":
		return s.DeleteBottle(ctx, req, cmd.argUint(0))
	case "delete-comment":
		return s.DeleteComment(ctx, req, cmd.argUint(0), cmd.argInt(1))
	case "list-mine":
		_, idsOnly := cmd.Flags["ids-only"]
		return s.ListMine(ctx, req, cmd.argInt(0), idsOnly)
	case "list-user":
		_, idsOnly := cmd.Flags["ids-only"]
		return s.ListUser(ctx, req, cmd.arg(0), cmd.argInt(1), idsOnly)
	case "expire-older-than":
		if cmd.arg(0) == "" || !utils.IsNumeric(cmd.arg(0)) {
			return validationf("请指定天数，如：expire-older-than 365")
		}
		return s.Expire(ctx, req, cmd.argInt(0))
	case "audit-bottles":
		return s.AuditBottles(ctx, req, cmd.argUint(0), cmd.argUint(1), flagDelay(cmd))
	case "audit-comments":
		return s.AuditComments(ctx, req, cmd.argUint(0), cmd.argUint(1), flagDelay(cmd))
	case "rename-bottle":
		return s.Rename(ctx, req, cmd.argUint(0), strings.Join(cmd.Args[min(1, len(cmd.Args)):], " "))
	case "directory":
		return s.Directory(ctx, req, cmd.argInt(0))
	case "featured":
		return s.Featured(ctx, req, cmd.argInt(0))
	case "set-featured":
		return s.SetFeatured(ctx, req, cmd.argUint(0))
	case "migrate-assets-to-local":
		return s.Migrate(ctx, req, assets.ModeLocal)
	case "migrate-assets-to-inline":
		return s.Migrate(ctx, req, assets.ModeInline)
	default:
		return validationf("未知指令：%s", cmd.Name)
	}
}

func flagDelay(cmd Command) time.Duration {
	ms := utils.StringToInt(cmd.Flags["delay"])
	if ms <= 0 {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}

// userMessage 把内部错误翻译成给用户看的文案。
// expected 为 true 表示业务上可预期的拒绝（校验失败、目标不存在）。
func userMessage(err error) (msg string, expected bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Msg, true
	}
	var ne *NotFoundError
	if errors.As(err, &ne) {
		return ne.Msg, true
	}
	var df *delivery.Failure
	if errors.As(err, &df) {
		return "发送失败（已尝试 " + strconv.Itoa(df.Attempts) + "/" + strconv.Itoa(df.Max) +
			" 次）。可以稍后重试、缩短内容，或移除媒体后再发一次。", true
	}
	var fe *assets.FetchError
	if errors.As(err, &fe) {
		return "媒体抓取失败（已尝试 " + strconv.Itoa(fe.Attempts) + "/" + strconv.Itoa(fe.Max) +
			" 次）。可以先把媒体保存到本地再发、缩短内容，或稍后重试。", true
	}
	return "操作失败了，请稍后再试。", false
}
