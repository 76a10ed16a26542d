// Package assets 负责瓶子内容里远程媒体的转存：
// 保持远程引用（remote）、base64 内联（inline）或落盘为本地文件（local），
// 以及三种表示之间的批量迁移。
package assets

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"driftbottle/internal/config"
	"driftbottle/internal/metrics"
	"driftbottle/internal/richtext"
	"driftbottle/internal/store"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

// Mode 媒体存储表示
type Mode string

const (
	ModeRemote Mode = "remote"
	ModeInline Mode = "inline"
	ModeLocal  Mode = "local"
)

// FetchError 抓取重试预算耗尽
type FetchError struct {
	Src      string
	Attempts int
	Max      int
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("抓取媒体失败（尝试 %d/%d 次）: %s: %v", e.Attempts, e.Max, e.Src, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

type Service struct {
	mode     Mode
	dir      string
	client   *http.Client
	max      int
	interval time.Duration
	log      zerolog.Logger
}

func New(cfg *config.Config, log zerolog.Logger) *Service {
	return &Service{
		mode: Mode(cfg.Assets.Mode),
		dir:  cfg.Assets.Dir,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		max:      cfg.Retry.Count,
		interval: cfg.Retry.Interval,
		log:      log.With().Str("component", "assets").Logger(),
	}
}

// Mode 当前配置的存储表示
func (s *Service) Mode() Mode { return s.mode }

// Externalize 按配置的表示转存内容内的媒体引用。
// kind + id + 序号决定本地文件名，因此对同一实体重复执行是幂等的。
func (s *Service) Externalize(ctx context.Context, kind string, id uint, c richtext.Content) (richtext.Content, error) {
	return s.externalize(ctx, s.mode, kind, id, c)
}

func (s *Service) externalize(ctx context.Context, mode Mode, kind string, id uint, c richtext.Content) (richtext.Content, error) {
	if mode == ModeRemote {
		// 最省事的表示：原样保留网络定位符
		return c, nil
	}
	out := make(richtext.Content, len(c))
	copy(out, c)
	mediaIdx := 0
	for i, sp := range out {
		if !sp.IsMedia() {
			continue
		}
		idx := mediaIdx
		mediaIdx++
		if conforming(mode, sp.Src) {
			continue
		}
		data, mimeType, err := s.load(ctx, sp.Src)
		if err != nil {
			return nil, err
		}
		switch mode {
		case ModeInline:
			out[i].Src = fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(data))
		case ModeLocal:
			name := fmt.Sprintf("%s_%d_%d%s", kind, id, idx, extFromMime(mimeType))
			path := filepath.Join(s.dir, name)
			if err := os.MkdirAll(s.dir, 0o755); err != nil {
				return nil, fmt.Errorf("创建资产目录失败: %w", err)
			}
			if err := os.WriteFile(path, data, 0o644); err != nil {
				return nil, fmt.Errorf("写入资产文件失败: %w", err)
			}
			out[i].Src = "file://" + filepath.ToSlash(path)
		}
	}
	return out, nil
}

// conforming 引用是否已经是目标表示（迁移时跳过，不再抓取）
func conforming(mode Mode, src string) bool {
	switch mode {
	case ModeInline:
		return strings.HasPrefix(src, "data:")
	case ModeLocal:
		return strings.HasPrefix(src, "file://")
	default:
		return true
	}
}

// load 取回媒体字节和媒体类型，支持 http(s)、data: 与 file: 三种定位符。
// 网络抓取在共享重试预算内重试。
func (s *Service) load(ctx context.Context, src string) ([]byte, string, error) {
	switch {
	case strings.HasPrefix(src, "data:"):
		return decodeDataURI(src)
	case strings.HasPrefix(src, "file://"):
		path := strings.TrimPrefix(src, "file://")
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, "", fmt.Errorf("读取本地资产失败: %w", err)
		}
		return data, mimeFromExt(filepath.Ext(path)), nil
	default:
		return s.fetch(ctx, src)
	}
}

func (s *Service) fetch(ctx context.Context, src string) ([]byte, string, error) {
	attempts := 0
	var lastErr error
	type result struct {
		data     []byte
		mimeType string
	}
	op := func() (result, error) {
		attempts++
		data, mimeType, err := s.fetchOnce(ctx, src)
		if err != nil {
			lastErr = err
			metrics.AssetFetches.WithLabelValues("fail").Inc()
			return result{}, err
		}
		metrics.AssetFetches.WithLabelValues("ok").Inc()
		return result{data: data, mimeType: mimeType}, nil
	}
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(s.interval), uint64(s.max-1)), ctx)
	r, err := backoff.RetryWithData(op, policy)
	if err != nil {
		s.log.Warn().Int("attempts", attempts).Int("max", s.max).
			Str("src", src).Str("error", lastErr.Error()).Msg("媒体抓取重试预算耗尽")
		s.log.Debug().Err(lastErr).Str("src", src).Msg("媒体抓取失败详情")
		return nil, "", &FetchError{Src: src, Attempts: attempts, Max: s.max, Err: lastErr}
	}
	return r.data, r.mimeType, nil
}

func (s *Service) fetchOnce(ctx context.Context, src string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return nil, "", fmt.Errorf("创建请求失败: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; driftbottle/1.0)")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("请求失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("HTTP 状态码: %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("读取响应失败: %w", err)
	}
	mimeType := resp.Header.Get("Content-Type")
	if i := strings.Index(mimeType, ";"); i >= 0 {
		mimeType = mimeType[:i]
	}
	mimeType = strings.TrimSpace(mimeType)
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	return data, mimeType, nil
}

func decodeDataURI(src string) ([]byte, string, error) {
	rest := strings.TrimPrefix(src, "data:")
	comma := strings.Index(rest, ",")
	if comma < 0 {
		return nil, "", fmt.Errorf("非法的 data 定位符")
	}
	meta, payload := rest[:comma], rest[comma+1:]
	if !strings.HasSuffix(meta, ";base64") {
		return nil, "", fmt.Errorf("不支持的 data 编码: %s", meta)
	}
	mimeType := strings.TrimSuffix(meta, ";base64")
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", fmt.Errorf("解码内联资产失败: %w", err)
	}
	return data, mimeType, nil
}

// Unlink 删除某实体落盘的全部资产文件（删除瓶子/评论时级联）
func (s *Service) Unlink(kind string, id uint) {
	pattern := filepath.Join(s.dir, fmt.Sprintf("%s_%d_*", kind, id))
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return
	}
	for _, m := range matches {
		if err := os.Remove(m); err != nil && !os.IsNotExist(err) {
			s.log.Warn().Str("file", m).Err(err).Msg("删除资产文件失败")
		}
	}
}

// Report 批量迁移的逐实体统计
type Report struct {
	BottlesMigrated  int
	CommentsMigrated int
	FailedBottles    []uint
	FailedComments   []uint
}

// MigrateAll 扫描全部瓶子和评论，把不符合目标表示的引用逐个转存。
// 单个实体失败只记入报告，不中断批次。
func (s *Service) MigrateAll(ctx context.Context, st *store.Store, mode Mode) (*Report, error) {
	report := &Report{}

	bottles, err := st.AllBottles(ctx)
	if err != nil {
		return nil, err
	}
	for _, b := range bottles {
		content := richtext.Parse(b.Content)
		if !content.HasMedia() {
			continue
		}
		converted, err := s.externalize(ctx, mode, "bottle", b.ID, content)
		if err != nil {
			s.log.Warn().Uint("bottle", b.ID).Err(err).Msg("瓶子资产迁移失败")
			report.FailedBottles = append(report.FailedBottles, b.ID)
			continue
		}
		if serialized := converted.String(); serialized != b.Content {
			if err := st.UpdateBottle(ctx, b.ID, map[string]interface{}{"content": serialized}); err != nil {
				report.FailedBottles = append(report.FailedBottles, b.ID)
				continue
			}
		}
		report.BottlesMigrated++
	}

	comments, err := st.AllComments(ctx)
	if err != nil {
		return nil, err
	}
	for _, c := range comments {
		content := richtext.Parse(c.Content)
		if !content.HasMedia() {
			continue
		}
		converted, err := s.externalize(ctx, mode, "comment", c.ID, content)
		if err != nil {
			s.log.Warn().Uint("comment", c.ID).Err(err).Msg("评论资产迁移失败")
			report.FailedComments = append(report.FailedComments, c.ID)
			continue
		}
		if serialized := converted.String(); serialized != c.Content {
			if err := st.UpdateComment(ctx, c.ID, map[string]interface{}{"content": serialized}); err != nil {
				report.FailedComments = append(report.FailedComments, c.ID)
				continue
			}
		}
		report.CommentsMigrated++
	}
	return report, nil
}

func extFromMime(mimeType string) string {
	switch mimeType {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	case "audio/mpeg":
		return ".mp3"
	case "audio/ogg":
		return ".ogg"
	case "audio/wav", "audio/x-wav":
		return ".wav"
	case "audio/silk":
		return ".silk"
	case "video/mp4":
		return ".mp4"
	case "video/webm":
		return ".webm"
	default:
		if exts, err := mime.ExtensionsByType(mimeType); err == nil && len(exts) > 0 {
			return exts[0]
		}
		return ".bin"
	}
}

func mimeFromExt(ext string) string {
	switch strings.ToLower(ext) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	case ".mp3":
		return "audio/mpeg"
	case ".ogg":
		return "audio/ogg"
	case ".wav":
		return "audio/wav"
	case ".silk":
		return "audio/silk"
	case ".mp4":
		return "video/mp4"
	case ".webm":
		return "video/webm"
	default:
		if t := mime.TypeByExtension(ext); t != "" {
			return t
		}
		return "application/octet-stream"
	}
}
