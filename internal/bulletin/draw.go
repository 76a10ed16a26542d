package bulletin

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"driftbottle/internal/models"
	"driftbottle/internal/richtext"
	"driftbottle/internal/utils"
)

// drawHint 捞出瓶子后附带的操作说明
const drawHint = "\n引用回复这条消息即可直接评论；也可以发送「评论 <编号> <内容>」。"

// Draw 捞瓶子。
// 不带参数随机捞一只；纯数字按编号取；其他文本按名称模糊匹配，
// 命中多只时列出候选让用户挑，只有唯一命中才完整展示。
func (s *Service) Draw(ctx context.Context, req Request, idOrName string, page int) error {
	if page < 1 {
		page = 1
	}

	var b *models.Bottle
	switch {
	case idOrName == "":
		got, err := s.st.RandomBottle(ctx)
		if err != nil {
			return notFoundf("海里一只瓶子都没有，快投一只吧～")
		}
		b = got
	case utils.IsNumeric(idOrName):
		id, _ := strconv.ParseUint(idOrName, 10, 64)
		got, err := s.st.BottleByID(ctx, uint(id))
		if err != nil {
			return notFoundf("没有找到 No.%d 号瓶子", id)
		}
		b = got
	default:
		// 先拿总数，再决定是展示还是出候选列表
		_, total, err := s.st.BottlesByName(ctx, idOrName, 1, 0)
		if err != nil {
			return err
		}
		if total == 0 {
			return notFoundf("没有找到名字含「%s」的瓶子", idOrName)
		}
		if total > 1 {
			limit, offset, totalPages := paginate(total, s.cfg.Page.Directory, page)
			if page > totalPages {
				page = totalPages
			}
			if page < 1 {
				page = 1
			}
			matches, _, err := s.st.BottlesByName(ctx, idOrName, limit, offset)
			if err != nil {
				return err
			}
			return s.replyDisambiguation(ctx, req, idOrName, matches, total, page)
		}
		matches, _, err := s.st.BottlesByName(ctx, idOrName, 0, 0)
		if err != nil {
			return err
		}
		if len(matches) == 0 {
			return notFoundf("没有找到名字含「%s」的瓶子", idOrName)
		}
		b = &matches[0]
	}

	content, err := s.renderBottle(ctx, b, page)
	if err != nil {
		return err
	}
	ids, err := s.reply(ctx, req, content)
	if err != nil {
		return err
	}
	// 记住已发送的消息，之后对它的引用回复会被转成评论
	for _, id := range ids {
		s.cache.Record(req.Session.Platform(), id, b.ID)
	}
	return nil
}

// replyDisambiguation 命中多只瓶子时只列编号和名字，不展开内容
func (s *Service) replyDisambiguation(ctx context.Context, req Request, pattern string, matches []models.Bottle, total int64, page int) error {
	_, _, totalPages := paginate(total, s.cfg.Page.Directory, page)
	var sb strings.Builder
	fmt.Fprintf(&sb, "「%s」匹配到 %d 只瓶子，发送「捞 <编号>」查看具体某只：\n", pattern, total)
	for _, m := range matches {
		fmt.Fprintf(&sb, "No.%d 「%s」\n", m.ID, m.Name)
	}
	if totalPages > 1 {
		fmt.Fprintf(&sb, "—— 第 %d/%d 页 ——", page, totalPages)
	}
	_, err := s.replyText(ctx, req, "%s", strings.TrimRight(sb.String(), "\n"))
	return err
}

// renderBottle 完整展示一只瓶子：正文 + 分页评论 + 操作说明。
// 含音视频时引擎会自动拆成说明与载荷两条消息。
func (s *Service) renderBottle(ctx context.Context, b *models.Bottle, page int) (richtext.Content, error) {
	var head strings.Builder
	fmt.Fprintf(&head, "漂流瓶 No.%d", b.ID)
	if b.Name != "" {
		fmt.Fprintf(&head, "「%s」", b.Name)
	}
	fmt.Fprintf(&head, "\n来自 %s（%s）\n\n", b.AuthorName, utils.FormatDay(b.CreatedDay))

	content := richtext.Text(head.String()).Append(richtext.Parse(b.Content)...)

	size := s.cfg.Page.Comments
	total, err := s.st.CountComments(ctx, b.ID)
	if err != nil {
		return nil, err
	}
	if total > 0 {
		limit, offset, totalPages := paginate(total, size, page)
		comments, _, err := s.st.ListComments(ctx, b.ID, limit, offset)
		if err != nil {
			return nil, err
		}
		var sb strings.Builder
		sb.WriteString("\n\n—— 评论 ——\n")
		for _, c := range comments {
			fmt.Fprintf(&sb, "#%d %s：", c.Cid, c.AuthorName)
			content = content.Append(richtext.Text(sb.String())...)
			content = content.Append(richtext.Parse(c.Content)...)
			sb.Reset()
			sb.WriteString("\n")
		}
		if totalPages > 1 {
			content = content.Append(richtext.Text(fmt.Sprintf("\n—— 评论第 %d/%d 页，发送「捞 %d <页码>」翻页 ——", page, totalPages, b.ID))...)
		}
	}

	content = content.Append(richtext.Text(drawHint)...)
	return content, nil
}
