package bulletin

import (
	"context"
)

// DeleteBottle 删除瓶子：只有瓶主或管理员可以执行。
// 级联删除全部评论，并清理瓶子和评论落盘的资产文件。
func (s *Service) DeleteBottle(ctx context.Context, req Request, id uint) error {
	b, err := s.st.BottleByID(ctx, id)
	if err != nil {
		return notFoundf("没有找到 No.%d 号瓶子", id)
	}
	if !s.isOwnerOrOperator(b.AuthorID, req.UserID) {
		return validationf("只有瓶主或管理员才能删除这只瓶子")
	}

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
	s.log.Info().Uint("bottle", id).Str("by", req.UserID).Msg("瓶子已删除")
	_, err = s.replyText(ctx, req, "No.%d 号瓶子和它的 %d 条评论已经沉入海底。", id, len(comments))
	return err
}

// DeleteComment 删除瓶内某层评论：评论作者或管理员可以执行
func (s *Service) DeleteComment(ctx context.Context, req Request, bid uint, cid int) error {
	c, err := s.st.CommentByCid(ctx, bid, cid)
	if err != nil {
		return notFoundf("No.%d 号瓶子没有第 %d 层评论", bid, cid)
	}
	if !s.isOwnerOrOperator(c.AuthorID, req.UserID) {
		return validationf("只有评论作者或管理员才能删除这条评论")
	}

	s.assets.Unlink("comment", c.ID)
	if err := s.st.DeleteComment(ctx, c.ID); err != nil {
		return err
	}
	if err := s.st.BumpCommentCount(ctx, bid, -1); err != nil {
		return err
	}
	_, err = s.replyText(ctx, req, "No.%d 第 %d 层评论已删除。", bid, cid)
	return err
}
