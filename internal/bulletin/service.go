// Package bulletin 实现漂流瓶公告板的全部用例：
// 投掷、捞取、评论、删除、过期清理、审计、列表和资产迁移。
// 指令分词由外部前端完成，这里接收已切好的动词与参数。
package bulletin

import (
	"context"
	"fmt"
	"time"

	"driftbottle/internal/assets"
	"driftbottle/internal/config"
	"driftbottle/internal/delivery"
	"driftbottle/internal/richtext"
	"driftbottle/internal/store"
	"driftbottle/internal/transport"
	"driftbottle/internal/utils"

	"github.com/rs/zerolog"
)

// confirmTimeout 破坏性批量操作的确认等待时长
const confirmTimeout = 30 * time.Second

// Prompter 在频道里等待用户的下一条消息（确认提示用）。
// 超时或取消返回错误，由前端适配层实现。
type Prompter interface {
	Prompt(ctx context.Context, channelID, userID string, timeout time.Duration) (string, error)
}

// ValidationError 内容或参数不合法，直接回报请求者，不产生任何状态变更
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func validationf(format string, args ...interface{}) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// NotFoundError 目标瓶子/评论/用户不存在
type NotFoundError struct {
	Msg string
}

func (e *NotFoundError) Error() string { return e.Msg }

func notFoundf(format string, args ...interface{}) error {
	return &NotFoundError{Msg: fmt.Sprintf(format, args...)}
}

// Quote 用户引用回复的那条消息
type Quote struct {
	MessageID string
}

// Request 一次指令调用的上下文，身份由外部传输层提供
type Request struct {
	Session   transport.Session
	GuildID   string
	ChannelID string
	UserID    string
	Username  string
	Quote     *Quote
}

type Service struct {
	st       *store.Store
	assets   *assets.Service
	engine   *delivery.Engine
	cache    *utils.SentCache
	cfg      *config.Config
	prompter Prompter
	log      zerolog.Logger
}

func NewService(st *store.Store, as *assets.Service, engine *delivery.Engine,
	cache *utils.SentCache, cfg *config.Config, prompter Prompter, log zerolog.Logger) *Service {
	return &Service{
		st:       st,
		assets:   as,
		engine:   engine,
		cache:    cache,
		cfg:      cfg,
		prompter: prompter,
		log:      log.With().Str("component", "bulletin").Logger(),
	}
}

// reply 回复当前会话频道。没有兜底链，失败即终止。
func (s *Service) reply(ctx context.Context, req Request, content richtext.Content) ([]string, error) {
	return s.engine.Deliver(ctx, req.Session, content, delivery.Channel(req.ChannelID))
}

func (s *Service) replyText(ctx context.Context, req Request, format string, args ...interface{}) ([]string, error) {
	return s.reply(ctx, req, richtext.Text(fmt.Sprintf(format, args...)))
}

// isOwnerOrOperator 瓶子/评论作者本人，或管理员白名单内的用户
func (s *Service) isOwnerOrOperator(authorID, userID string) bool {
	return authorID == userID || s.cfg.IsOperator(userID)
}

// paginate 计算分页窗口；size 为 0 表示不分页
func paginate(total int64, size, page int) (limit, offset, totalPages int) {
	if size <= 0 {
		return 0, 0, 1
	}
	totalPages = int((total + int64(size) - 1) / int64(size))
	if totalPages == 0 {
		totalPages = 1
	}
	if page < 1 {
		page = 1
	}
	if page > totalPages {
		page = totalPages
	}
	return size, (page - 1) * size, totalPages
}
