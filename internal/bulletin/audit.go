package bulletin

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"driftbottle/internal/delivery"
	"driftbottle/internal/richtext"

	"github.com/google/uuid"
)

// confirmWord 审计后批量删除的确认口令
const confirmWord = "确认"

// AuditBottles 把 ID 区间内的每只瓶子重新发到当前频道，
// 记下重试后仍发不出去的瓶子，经确认后只删除这批记录在案的失败项。
func (s *Service) AuditBottles(ctx context.Context, req Request, start, end uint, delay time.Duration) error {
	if !s.cfg.IsOperator(req.UserID) {
		return validationf("只有管理员才能执行审计")
	}

	run := uuid.NewString()[:8]
	bottles, err := s.st.BottlesInRange(ctx, start, end)
	if err != nil {
		return err
	}
	s.log.Info().Str("run", run).Int("total", len(bottles)).Msg("开始瓶子审计")

	var failed []uint
	for i, b := range bottles {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		content := richtext.Text(fmt.Sprintf("No.%d ", b.ID)).Append(richtext.Parse(b.Content)...)
		if _, err := s.reply(ctx, req, content); err != nil {
			var f *delivery.Failure
			if errors.As(err, &f) {
				s.log.Warn().Str("run", run).Uint("bottle", b.ID).Err(err).Msg("瓶子无法发送")
				failed = append(failed, b.ID)
			} else {
				return err
			}
		}
		if delay > 0 && i < len(bottles)-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	if len(failed) == 0 {
		_, err := s.replyText(ctx, req, "审计完成：共检查 %d 只瓶子，全部可以正常发送。", len(bottles))
		return err
	}

	ok, err := s.confirmPurge(ctx, req, fmt.Sprintf(
		"审计完成：共检查 %d 只瓶子，其中 %d 只发送失败：%s\n回复「%s」删除这些瓶子（%d 秒内有效）。",
		len(bottles), len(failed), joinIDs(failed), confirmWord, int(confirmTimeout.Seconds())))
	if err != nil || !ok {
		return err
	}

	for _, id := range failed {
		comments, _, err := s.st.ListComments(ctx, id, 0, 0)
		if err != nil {
			return err
		}
		for _, c := range comments {
			s.assets.Unlink("comment", c.ID)
		}
		s.assets.Unlink("bottle", id)
		if err := s.st.DeleteBottle(ctx, id); err != nil {
			return err
		}
	}
	s.log.Info().Str("run", run).Int("purged", len(failed)).Msg("审计删除完成")
	_, err = s.replyText(ctx, req, "已删除 %d 只无法发送的瓶子。", len(failed))
	return err
}

// AuditComments 逐瓶逐层重发评论，确认后删除发不出去的评论并回退评论数
func (s *Service) AuditComments(ctx context.Context, req Request, start, end uint, delay time.Duration) error {
	if !s.cfg.IsOperator(req.UserID) {
		return validationf("只有管理员才能执行审计")
	}

	run := uuid.NewString()[:8]
	bottles, err := s.st.BottlesInRange(ctx, start, end)
	if err != nil {
		return err
	}

	type failedComment struct {
		id  uint
		bid uint
		cid int
	}
	var failed []failedComment
	checked := 0
	for _, b := range bottles {
		comments, _, err := s.st.ListComments(ctx, b.ID, 0, 0)
		if err != nil {
			return err
		}
		for _, c := range comments {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			checked++
			content := richtext.Text(fmt.Sprintf("No.%d #%d ", c.Bid, c.Cid)).Append(richtext.Parse(c.Content)...)
			if _, err := s.reply(ctx, req, content); err != nil {
				var f *delivery.Failure
				if errors.As(err, &f) {
					s.log.Warn().Str("run", run).Uint("comment", c.ID).Err(err).Msg("评论无法发送")
					failed = append(failed, failedComment{id: c.ID, bid: c.Bid, cid: c.Cid})
				} else {
					return err
				}
			}
			if delay > 0 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(delay):
				}
			}
		}
	}

	if len(failed) == 0 {
		_, err := s.replyText(ctx, req, "审计完成：共检查 %d 条评论，全部可以正常发送。", checked)
		return err
	}

	var desc []string
	for _, f := range failed {
		desc = append(desc, fmt.Sprintf("No.%d#%d", f.bid, f.cid))
	}
	ok, err := s.confirmPurge(ctx, req, fmt.Sprintf(
		"审计完成：共检查 %d 条评论，其中 %d 条发送失败：%s\n回复「%s」删除这些评论（%d 秒内有效）。",
		checked, len(failed), strings.Join(desc, "、"), confirmWord, int(confirmTimeout.Seconds())))
	if err != nil || !ok {
		return err
	}

	for _, f := range failed {
		s.assets.Unlink("comment", f.id)
		if err := s.st.DeleteComment(ctx, f.id); err != nil {
			return err
		}
		if err := s.st.BumpCommentCount(ctx, f.bid, -1); err != nil {
			return err
		}
	}
	s.log.Info().Str("run", run).Int("purged", len(failed)).Msg("评论审计删除完成")
	_, err = s.replyText(ctx, req, "已删除 %d 条无法发送的评论。", len(failed))
	return err
}

// confirmPurge 发出确认提示并等待回复。
// 超时、取消或回复不匹配都按取消处理；返回 true 才执行删除。
func (s *Service) confirmPurge(ctx context.Context, req Request, prompt string) (bool, error) {
	if _, err := s.replyText(ctx, req, "%s", prompt); err != nil {
		return false, err
	}
	if s.prompter == nil {
		_, err := s.replyText(ctx, req, "当前环境不支持确认操作，已跳过删除。")
		return false, err
	}
	answer, err := s.prompter.Prompt(ctx, req.ChannelID, req.UserID, confirmTimeout)
	if err != nil || strings.TrimSpace(answer) != confirmWord {
		_, rerr := s.replyText(ctx, req, "已取消，不会删除任何内容。")
		return false, rerr
	}
	return true, nil
}

func joinIDs(ids []uint) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprintf("No.%d", id)
	}
	return strings.Join(parts, "、")
}
