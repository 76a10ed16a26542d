package bulletin

import (
	"context"

	"driftbottle/internal/models"
	"driftbottle/internal/richtext"
	"driftbottle/internal/utils"
)

// Post 投掷一只瓶子。
// 长度校验发生在资产转存之后：内联/落盘引起的体积变化不会重复挤占配额，
// 这是有意的策略顺序。转存或预览发送失败都会删除刚建好的行（补偿删除）。
func (s *Service) Post(ctx context.Context, req Request, text, title string) error {
	content := richtext.Parse(text)
	if content.IsEmpty() {
		return validationf("瓶子内容不能为空")
	}
	if title != "" && utils.IsNumeric(title) {
		return validationf("标题不能是纯数字，会和瓶子编号混淆")
	}
	if !s.cfg.Content.AllowMedia && content.HasMedia() {
		return validationf("当前不允许在瓶子里放图片、音频或视频")
	}

	b := &models.Bottle{
		Name:         title,
		AuthorID:     req.UserID,
		GuildID:      req.GuildID,
		ChannelID:    req.ChannelID,
		AuthorName:   req.Username,
		Content:      content.String(),
		CommentCount: 0,
		CreatedDay:   utils.Today(),
	}
	if err := s.st.CreateBottle(ctx, b); err != nil {
		return err
	}

	rollback := func() {
		s.assets.Unlink("bottle", b.ID)
		if err := s.st.DeleteBottle(ctx, b.ID); err != nil {
			s.log.Warn().Uint("bottle", b.ID).Err(err).Msg("补偿删除瓶子失败")
		}
	}

	converted, err := s.assets.Externalize(ctx, "bottle", b.ID, content)
	if err != nil {
		rollback()
		return err
	}
	if max := s.cfg.Content.MaxLength; max > 0 && converted.Len() > max {
		rollback()
		return validationf("瓶子内容过长（%d/%d），请精简后再投", converted.Len(), max)
	}
	if serialized := converted.String(); serialized != b.Content {
		if err := s.st.UpdateBottle(ctx, b.ID, map[string]interface{}{"content": serialized}); err != nil {
			rollback()
			return err
		}
		b.Content = serialized
	}

	confirm := richtext.Text(fmtBottleTossed(b))
	if s.cfg.Preview {
		confirm = confirm.Append(richtext.Parse(b.Content)...)
	}
	ids, err := s.reply(ctx, req, confirm)
	if err != nil {
		// 内容连本人都收不到，说明多半无法正常捞出，删掉并提示补救办法
		rollback()
		return err
	}
	for _, id := range ids {
		s.cache.Record(req.Session.Platform(), id, b.ID)
	}
	s.log.Info().Uint("bottle", b.ID).Str("author", req.UserID).Msg("瓶子已投掷")
	return nil
}

func fmtBottleTossed(b *models.Bottle) string {
	if b.Name != "" {
		return "瓶子已经丢进海里啦～ No." + utils.FormatUint(b.ID) + "「" + b.Name + "」\n"
	}
	return "瓶子已经丢进海里啦～ No." + utils.FormatUint(b.ID) + "\n"
}
