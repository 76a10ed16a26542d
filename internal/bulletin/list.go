package bulletin

import (
	"context"
	"fmt"
	"strings"

	"driftbottle/internal/assets"
	"driftbottle/internal/models"
	"driftbottle/internal/utils"
)

// ListMine 列出自己的瓶子
func (s *Service) ListMine(ctx context.Context, req Request, page int, idsOnly bool) error {
	return s.listUser(ctx, req, req.UserID, "你", page, idsOnly)
}

// ListUser 列出指定用户的瓶子
func (s *Service) ListUser(ctx context.Context, req Request, userID string, page int, idsOnly bool) error {
	if userID == "" {
		return validationf("请指定要查询的用户")
	}
	return s.listUser(ctx, req, userID, userID, page, idsOnly)
}

func (s *Service) listUser(ctx context.Context, req Request, userID, label string, page int, idsOnly bool) error {
	var total int64
	var err error
	if _, total, err = s.st.ListBottles(ctx, userID, 1, 0); err != nil {
		return err
	}
	if total == 0 {
		return notFoundf("%s还没有投过瓶子", label)
	}
	limit, offset, totalPages := paginate(total, s.cfg.Page.Mine, page)
	if page > totalPages {
		page = totalPages
	}
	if page < 1 {
		page = 1
	}
	bottles, _, err := s.st.ListBottles(ctx, userID, limit, offset)
	if err != nil {
		return err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s共投了 %d 只瓶子：\n", label, total)
	writeBottleLines(&sb, bottles, idsOnly)
	if totalPages > 1 {
		fmt.Fprintf(&sb, "—— 第 %d/%d 页 ——", page, totalPages)
	}
	_, err = s.replyText(ctx, req, "%s", strings.TrimRight(sb.String(), "\n"))
	return err
}

// Directory 全量瓶子目录（分页）
func (s *Service) Directory(ctx context.Context, req Request, page int) error {
	total, err := s.st.CountBottles(ctx)
	if err != nil {
		return err
	}
	if total == 0 {
		return notFoundf("海里一只瓶子都没有")
	}
	limit, offset, totalPages := paginate(total, s.cfg.Page.Directory, page)
	if page > totalPages {
		page = totalPages
	}
	if page < 1 {
		page = 1
	}
	bottles, _, err := s.st.ListBottles(ctx, "", limit, offset)
	if err != nil {
		return err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "漂流瓶目录（共 %d 只）：\n", total)
	writeBottleLines(&sb, bottles, false)
	if totalPages > 1 {
		fmt.Fprintf(&sb, "—— 第 %d/%d 页 ——", page, totalPages)
	}
	_, err = s.replyText(ctx, req, "%s", strings.TrimRight(sb.String(), "\n"))
	return err
}

// Featured 精选列表：被管理员标记的，或评论数达到阈值的瓶子
func (s *Service) Featured(ctx context.Context, req Request, page int) error {
	threshold := s.cfg.Featured.Threshold
	_, total, err := s.st.FeaturedBottles(ctx, threshold, 1, 0)
	if err != nil {
		return err
	}
	if total == 0 {
		return notFoundf("还没有精选瓶子")
	}
	limit, offset, totalPages := paginate(total, s.cfg.Page.Directory, page)
	if page > totalPages {
		page = totalPages
	}
	if page < 1 {
		page = 1
	}
	bottles, _, err := s.st.FeaturedBottles(ctx, threshold, limit, offset)
	if err != nil {
		return err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "精选漂流瓶（共 %d 只）：\n", total)
	for _, b := range bottles {
		mark := ""
		if b.IsFeatured {
			mark = " ⭐"
		}
		fmt.Fprintf(&sb, "No.%d 「%s」 %s（%d 条评论）%s\n", b.ID, b.Name, b.AuthorName, b.CommentCount, mark)
	}
	if totalPages > 1 {
		fmt.Fprintf(&sb, "—— 第 %d/%d 页 ——", page, totalPages)
	}
	_, err = s.replyText(ctx, req, "%s", strings.TrimRight(sb.String(), "\n"))
	return err
}

// Rename 给瓶子改名：瓶主或管理员；纯数字名字同样被拒绝
func (s *Service) Rename(ctx context.Context, req Request, id uint, name string) error {
	if name == "" {
		return validationf("新名字不能为空")
	}
	if utils.IsNumeric(name) {
		return validationf("名字不能是纯数字，会和瓶子编号混淆")
	}
	b, err := s.st.BottleByID(ctx, id)
	if err != nil {
		return notFoundf("没有找到 No.%d 号瓶子", id)
	}
	if !s.isOwnerOrOperator(b.AuthorID, req.UserID) {
		return validationf("只有瓶主或管理员才能给瓶子改名")
	}
	if err := s.st.UpdateBottle(ctx, id, map[string]interface{}{"name": name}); err != nil {
		return err
	}
	_, err = s.replyText(ctx, req, "No.%d 号瓶子已改名为「%s」。", id, name)
	return err
}

// SetFeatured 管理员把瓶子标记为精选
func (s *Service) SetFeatured(ctx context.Context, req Request, id uint) error {
	if !s.cfg.IsOperator(req.UserID) {
		return validationf("只有管理员才能设置精选")
	}
	if _, err := s.st.BottleByID(ctx, id); err != nil {
		return notFoundf("没有找到 No.%d 号瓶子", id)
	}
	if err := s.st.UpdateBottle(ctx, id, map[string]interface{}{"is_featured": true}); err != nil {
		return err
	}
	_, err := s.replyText(ctx, req, "No.%d 号瓶子已设为精选 ⭐", id)
	return err
}

// Migrate 批量迁移媒体资产到指定表示（管理员专用）
func (s *Service) Migrate(ctx context.Context, req Request, mode assets.Mode) error {
	if !s.cfg.IsOperator(req.UserID) {
		return validationf("只有管理员才能执行资产迁移")
	}
	report, err := s.assets.MigrateAll(ctx, s.st, mode)
	if err != nil {
		return err
	}
	msg := fmt.Sprintf("迁移完成：瓶子成功 %d 只、失败 %d 只；评论成功 %d 条、失败 %d 条。",
		report.BottlesMigrated, len(report.FailedBottles),
		report.CommentsMigrated, len(report.FailedComments))
	if len(report.FailedBottles) > 0 {
		msg += "\n失败的瓶子：" + joinIDs(report.FailedBottles)
	}
	if len(report.FailedComments) > 0 {
		msg += "\n失败的评论：" + joinIDs(report.FailedComments)
	}
	_, err = s.replyText(ctx, req, "%s", msg)
	return err
}

func writeBottleLines(sb *strings.Builder, bottles []models.Bottle, idsOnly bool) {
	if idsOnly {
		parts := make([]string, len(bottles))
		for i, b := range bottles {
			parts[i] = fmt.Sprintf("No.%d", b.ID)
		}
		sb.WriteString(strings.Join(parts, "、") + "\n")
		return
	}
	for _, b := range bottles {
		name := b.Name
		if name == "" {
			name = "（未命名）"
		}
		fmt.Fprintf(sb, "No.%d 「%s」 %s（%s）\n", b.ID, name, b.AuthorName, utils.FormatDay(b.CreatedDay))
	}
}
