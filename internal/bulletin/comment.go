package bulletin

import (
	"context"
	"fmt"

	"driftbottle/internal/delivery"
	"driftbottle/internal/models"
	"driftbottle/internal/richtext"
	"driftbottle/internal/utils"
)

// PostComment 给瓶子（或瓶内某层评论）追加评论。
// bid 为 0 且带引用时，从已发送消息缓存里找回瓶子编号。
// 通知瓶主在入库之前发出，通知失败只回报评论者，不阻塞评论保存。
func (s *Service) PostComment(ctx context.Context, req Request, bid uint, replyCid int, text string) error {
	if bid == 0 && req.Quote != nil {
		if id, ok := s.cache.Lookup(req.Session.Platform(), req.Quote.MessageID); ok {
			bid = id
		}
	}
	if bid == 0 {
		return validationf("请指定要评论的瓶子编号，或引用回复一条瓶子消息")
	}

	b, err := s.st.BottleByID(ctx, bid)
	if err != nil {
		return notFoundf("没有找到 No.%d 号瓶子", bid)
	}

	content := richtext.Parse(text)
	if content.IsEmpty() {
		return validationf("评论内容不能为空")
	}
	if content.HasAudioVideo() {
		return validationf("评论里不能放音频或视频")
	}
	if !s.cfg.Content.AllowMedia && content.HasMedia() {
		return validationf("当前不允许在评论里放图片")
	}

	// 通知对象：瓶主，或被回复那层评论的作者
	notifyID, notifyGuild, notifyChannel := b.AuthorID, b.GuildID, b.ChannelID
	notifyLabel := "瓶子"
	if replyCid > 0 {
		parent, err := s.st.CommentByCid(ctx, bid, replyCid)
		if err != nil {
			return notFoundf("No.%d 号瓶子没有第 %d 层评论", bid, replyCid)
		}
		notifyID, notifyGuild, notifyChannel = parent.AuthorID, parent.GuildID, parent.ChannelID
		notifyLabel = "评论"
	}

	var notifyErr error
	if notifyID != req.UserID {
		notice := richtext.Text(fmt.Sprintf("你的%s（No.%d）收到了新评论～\n%s：", notifyLabel, bid, req.Username)).
			Append(content...)
		_, notifyErr = s.engine.Deliver(ctx, req.Session, notice,
			delivery.NotifyChain(notifyChannel, notifyGuild, notifyID)...)
		if notifyErr != nil {
			s.log.Warn().Uint("bottle", bid).Str("owner", notifyID).Err(notifyErr).Msg("通知瓶主失败")
		}
	}

	cid, err := s.st.NextCid(ctx, bid)
	if err != nil {
		return err
	}
	c := &models.Comment{
		Cid:        cid,
		Bid:        bid,
		AuthorID:   req.UserID,
		GuildID:    req.GuildID,
		ChannelID:  req.ChannelID,
		AuthorName: req.Username,
		Content:    content.String(),
		CreatedDay: utils.Today(),
	}
	if err := s.st.CreateComment(ctx, c); err != nil {
		return err
	}
	if err := s.st.BumpCommentCount(ctx, bid, 1); err != nil {
		return err
	}

	rollback := func() {
		s.assets.Unlink("comment", c.ID)
		if err := s.st.DeleteComment(ctx, c.ID); err != nil {
			s.log.Warn().Uint("comment", c.ID).Err(err).Msg("补偿删除评论失败")
			return
		}
		if err := s.st.BumpCommentCount(ctx, bid, -1); err != nil {
			s.log.Warn().Uint("bottle", bid).Err(err).Msg("回退评论数失败")
		}
	}

	converted, err := s.assets.Externalize(ctx, "comment", c.ID, content)
	if err != nil {
		rollback()
		return err
	}
	if max := s.cfg.Content.MaxLength; max > 0 && converted.Len() > max {
		rollback()
		return validationf("评论内容过长（%d/%d），请精简后再发", converted.Len(), max)
	}
	if serialized := converted.String(); serialized != c.Content {
		if err := s.st.UpdateComment(ctx, c.ID, map[string]interface{}{"content": serialized}); err != nil {
			rollback()
			return err
		}
		c.Content = serialized
	}

	confirm := fmt.Sprintf("评论成功～ No.%d 第 %d 层", bid, cid)
	if notifyErr != nil {
		confirm += "（通知瓶主失败，对方可能看不到这条评论）"
	}
	reply := richtext.Text(confirm)
	if s.cfg.Preview {
		reply = reply.Append(richtext.Text("\n")...).Append(richtext.Parse(c.Content)...)
	}
	if _, err := s.reply(ctx, req, reply); err != nil {
		rollback()
		return err
	}
	return nil
}
