package bulletin

import (
	"context"

	"driftbottle/internal/utils"
)

// Expire 清理投掷时间超过 days 天的瓶子（管理员专用）。
// 按天级时间戳严格比较：正好 days 天的瓶子保留，超过才删，
// 同样级联删除评论与本地资产。
func (s *Service) Expire(ctx context.Context, req Request, days int) error {
	if !s.cfg.IsOperator(req.UserID) {
		return validationf("只有管理员才能执行过期清理")
	}
	if days < 0 {
		return validationf("天数不能为负")
	}

	cutoff := utils.Today() - int64(days)
	bottles, err := s.st.BottlesCreatedBefore(ctx, cutoff)
	if err != nil {
		return err
	}

	removed := 0
	for _, b := range bottles {
		comments, _, err := s.st.ListComments(ctx, b.ID, 0, 0)
		if err != nil {
			return err
		}
		for _, c := range comments {
			s.assets.Unlink("comment", c.ID)
		}
		s.assets.Unlink("bottle", b.ID)
		if err := s.st.DeleteBottle(ctx, b.ID); err != nil {
			return err
		}
		removed++
	}

	s.log.Info().Int("removed", removed).Int("days", days).Str("by", req.UserID).Msg("过期清理完成")
	_, err = s.replyText(ctx, req, "清理完成：共 %d 只超过 %d 天的瓶子沉入了海底。", removed, days)
	return err
}
