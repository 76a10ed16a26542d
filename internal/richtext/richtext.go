// Package richtext 提供瓶子内容的富文本模型。
// 存储形式是平台无关的元素文本，如 `捡到一只猫 <image src="https://..."/>`，
// 解析成片段序列后再做媒体改写、长度计算和分段发送。
package richtext

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// MediaKind 媒体元素类型
type MediaKind string

const (
	KindImage MediaKind = "image"
	KindAudio MediaKind = "audio"
	KindVideo MediaKind = "video"
)

// Span 内容片段：纯文本或一个媒体引用
type Span struct {
	Kind MediaKind // 空串表示纯文本
	Text string    // Kind 为空时有效
	Src  string    // 媒体定位符：http(s)、data: 或 file:
}

// IsMedia 是否为媒体片段
func (s Span) IsMedia() bool {
	return s.Kind != ""
}

// Content 富文本内容，片段有序
type Content []Span

// Text 构造纯文本内容
func Text(s string) Content {
	if s == "" {
		return Content{}
	}
	return Content{{Text: s}}
}

// Media 构造单个媒体片段
func Media(kind MediaKind, src string) Span {
	return Span{Kind: kind, Src: src}
}

var elementRe = regexp.MustCompile(`<(image|audio|video)\s+src="([^"]*)"\s*/>`)

// Parse 将存储形式解析为片段序列
// Parse 与 String 互为逆运算（对合法输出字节级一致）
func Parse(s string) Content {
	var c Content
	last := 0
	for _, m := range elementRe.FindAllStringSubmatchIndex(s, -1) {
		if m[0] > last {
			c = append(c, Span{Text: unescapeText(s[last:m[0]])})
		}
		kind := MediaKind(s[m[2]:m[3]])
		src := unescapeAttr(s[m[4]:m[5]])
		c = append(c, Span{Kind: kind, Src: src})
		last = m[1]
	}
	if last < len(s) {
		c = append(c, Span{Text: unescapeText(s[last:])})
	}
	return c
}

// String 序列化为存储形式
func (c Content) String() string {
	var b strings.Builder
	for _, sp := range c {
		if sp.IsMedia() {
			fmt.Fprintf(&b, `<%s src="%s"/>`, sp.Kind, escapeAttr(sp.Src))
		} else {
			b.WriteString(escapeText(sp.Text))
		}
	}
	return b.String()
}

// Plain 拼接所有文本片段
func (c Content) Plain() string {
	var b strings.Builder
	for _, sp := range c {
		if !sp.IsMedia() {
			b.WriteString(sp.Text)
		}
	}
	return b.String()
}

// Len 内容长度：文本按字符计，每个媒体元素记 1
// 媒体定位符不计入，内联转存后的膨胀不会挤占长度配额
func (c Content) Len() int {
	n := 0
	for _, sp := range c {
		if sp.IsMedia() {
			n++
		} else {
			n += utf8.RuneCountInString(sp.Text)
		}
	}
	return n
}

// IsEmpty 没有任何文本字符也没有任何媒体
func (c Content) IsEmpty() bool {
	for _, sp := range c {
		if sp.IsMedia() || strings.TrimSpace(sp.Text) != "" {
			return false
		}
	}
	return true
}

// HasMedia 是否包含媒体元素
func (c Content) HasMedia() bool {
	for _, sp := range c {
		if sp.IsMedia() {
			return true
		}
	}
	return false
}

// HasAudioVideo 是否包含音频或视频
func (c Content) HasAudioVideo() bool {
	for _, sp := range c {
		if sp.Kind == KindAudio || sp.Kind == KindVideo {
			return true
		}
	}
	return false
}

// Split 拆分为文字说明（含图片）与音视频载荷两部分。
// 部分平台拒绝文本与音视频混在一个消息里，发送时需要拆成两条。
func (c Content) Split() (caption Content, media Content) {
	for _, sp := range c {
		if sp.Kind == KindAudio || sp.Kind == KindVideo {
			media = append(media, sp)
		} else {
			caption = append(caption, sp)
		}
	}
	return caption, media
}

// Envelopes 返回实际要发送的消息序列：
// 含音视频时拆成说明 + 载荷两条，否则单条
func (c Content) Envelopes() []Content {
	if !c.HasAudioVideo() {
		return []Content{c}
	}
	caption, media := c.Split()
	if caption.IsEmpty() {
		return []Content{media}
	}
	return []Content{caption, media}
}

// Append 连接内容
func (c Content) Append(other ...Span) Content {
	return append(c, other...)
}

func escapeText(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	return s
}

func unescapeText(s string) string {
	s = strings.ReplaceAll(s, "&lt;", "<")
	s = strings.ReplaceAll(s, "&amp;", "&")
	return s
}

func escapeAttr(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, `"`, "&quot;")
	return s
}

func unescapeAttr(s string) string {
	s = strings.ReplaceAll(s, "&quot;", `"`)
	s = strings.ReplaceAll(s, "&amp;", "&")
	return s
}
