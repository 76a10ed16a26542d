// Package store 提供瓶子与评论的类型化持久层。
// 只做持久化契约，不含业务规则；调用方需要容忍读改写竞争（无事务隔离保证）。
package store

import (
	"context"
	"errors"
	"fmt"

	"driftbottle/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNotFound 查询目标不存在
var ErrNotFound = errors.New("record not found")

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// ---- 瓶子 ----

func (s *Store) CreateBottle(ctx context.Context, b *models.Bottle) error {
	if err := s.db.WithContext(ctx).Create(b).Error; err != nil {
		return fmt.Errorf("创建瓶子失败: %w", err)
	}
	return nil
}

func (s *Store) BottleByID(ctx context.Context, id uint) (*models.Bottle, error) {
	var b models.Bottle
	if err := s.db.WithContext(ctx).First(&b, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &b, nil
}

// RandomBottle 均匀随机抽取一只瓶子，没有瓶子时返回 ErrNotFound
func (s *Store) RandomBottle(ctx context.Context) (*models.Bottle, error) {
	var b models.Bottle
	if err := s.db.WithContext(ctx).Order("random()").First(&b).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &b, nil
}

// BottlesByName 按名称模糊匹配，分页
func (s *Store) BottlesByName(ctx context.Context, pattern string, limit, offset int) ([]models.Bottle, int64, error) {
	like := "%" + pattern + "%"
	var total int64
	if err := s.db.WithContext(ctx).Model(&models.Bottle{}).Where("name LIKE ?", like).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var bottles []models.Bottle
	q := s.db.WithContext(ctx).Where("name LIKE ?", like).Order("id ASC")
	if limit > 0 {
		q = q.Limit(limit).Offset(offset)
	}
	if err := q.Find(&bottles).Error; err != nil {
		return nil, 0, err
	}
	return bottles, total, nil
}

// ListBottles 分页目录；authorID 非空时只列该用户的瓶子
func (s *Store) ListBottles(ctx context.Context, authorID string, limit, offset int) ([]models.Bottle, int64, error) {
	q := s.db.WithContext(ctx).Model(&models.Bottle{})
	if authorID != "" {
		q = q.Where("author_id = ?", authorID)
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var bottles []models.Bottle
	q = q.Order("id ASC")
	if limit > 0 {
		q = q.Limit(limit).Offset(offset)
	}
	if err := q.Find(&bottles).Error; err != nil {
		return nil, 0, err
	}
	return bottles, total, nil
}

// FeaturedBottles 管理员标记的瓶子，或评论数达到阈值的瓶子
func (s *Store) FeaturedBottles(ctx context.Context, threshold, limit, offset int) ([]models.Bottle, int64, error) {
	q := s.db.WithContext(ctx).Model(&models.Bottle{}).
		Where("is_featured = ? OR comment_count >= ?", true, threshold)
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var bottles []models.Bottle
	q = q.Order("id ASC")
	if limit > 0 {
		q = q.Limit(limit).Offset(offset)
	}
	if err := q.Find(&bottles).Error; err != nil {
		return nil, 0, err
	}
	return bottles, total, nil
}

// BottlesCreatedBefore 天级时间戳严格早于 day 的瓶子（过期清理用）
func (s *Store) BottlesCreatedBefore(ctx context.Context, day int64) ([]models.Bottle, error) {
	var bottles []models.Bottle
	if err := s.db.WithContext(ctx).Where("created_day < ?", day).Find(&bottles).Error; err != nil {
		return nil, err
	}
	return bottles, nil
}

// BottlesInRange 审计用的 ID 闭区间扫描；start/end 为 0 表示不设界
func (s *Store) BottlesInRange(ctx context.Context, start, end uint) ([]models.Bottle, error) {
	q := s.db.WithContext(ctx).Order("id ASC")
	if start > 0 {
		q = q.Where("id >= ?", start)
	}
	if end > 0 {
		q = q.Where("id <= ?", end)
	}
	var bottles []models.Bottle
	if err := q.Find(&bottles).Error; err != nil {
		return nil, err
	}
	return bottles, nil
}

func (s *Store) CountBottles(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.Bottle{}).Count(&n).Error
	return n, err
}

// UpdateBottle 按补丁更新字段
func (s *Store) UpdateBottle(ctx context.Context, id uint, patch map[string]interface{}) error {
	return s.db.WithContext(ctx).Model(&models.Bottle{}).Where("id = ?", id).Updates(patch).Error
}

// DeleteBottle 删除瓶子并级联删除其全部评论
func (s *Store) DeleteBottle(ctx context.Context, id uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("bid = ?", id).Delete(&models.Comment{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.Bottle{}, id).Error
	})
}

// ---- 评论 ----

func (s *Store) CreateComment(ctx context.Context, c *models.Comment) error {
	if err := s.db.WithContext(ctx).Create(c).Error; err != nil {
		return fmt.Errorf("创建评论失败: %w", err)
	}
	return nil
}

// NextCid 计算瓶内下一个楼层号：max(cid)+1，无评论时为 1。
// 读后写序列，没有隔离保证；并发评论同一只瓶子可能拿到相同 cid（已知限制）。
func (s *Store) NextCid(ctx context.Context, bid uint) (int, error) {
	var max *int
	err := s.db.WithContext(ctx).Model(&models.Comment{}).
		Where("bid = ?", bid).
		Select("MAX(cid)").
		Scan(&max).Error
	if err != nil {
		return 0, err
	}
	if max == nil {
		return 1, nil
	}
	return *max + 1, nil
}

// CommentByCid 按瓶子 ID + 楼层号查评论
func (s *Store) CommentByCid(ctx context.Context, bid uint, cid int) (*models.Comment, error) {
	var c models.Comment
	err := s.db.WithContext(ctx).Where("bid = ? AND cid = ?", bid, cid).First(&c).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

// ListComments 瓶内评论分页，按楼层号升序；limit 为 0 表示全部
func (s *Store) ListComments(ctx context.Context, bid uint, limit, offset int) ([]models.Comment, int64, error) {
	var total int64
	if err := s.db.WithContext(ctx).Model(&models.Comment{}).Where("bid = ?", bid).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	q := s.db.WithContext(ctx).Where("bid = ?", bid).Order("cid ASC")
	if limit > 0 {
		q = q.Limit(limit).Offset(offset)
	}
	var comments []models.Comment
	if err := q.Find(&comments).Error; err != nil {
		return nil, 0, err
	}
	return comments, total, nil
}

func (s *Store) CountComments(ctx context.Context, bid uint) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.Comment{}).Where("bid = ?", bid).Count(&n).Error
	return n, err
}

func (s *Store) CountAllComments(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.Comment{}).Count(&n).Error
	return n, err
}

// AllComments 全表扫描，批量资产迁移用
func (s *Store) AllComments(ctx context.Context) ([]models.Comment, error) {
	var comments []models.Comment
	if err := s.db.WithContext(ctx).Order("id ASC").Find(&comments).Error; err != nil {
		return nil, err
	}
	return comments, nil
}

// AllBottles 全表扫描，批量资产迁移用
func (s *Store) AllBottles(ctx context.Context) ([]models.Bottle, error) {
	var bottles []models.Bottle
	if err := s.db.WithContext(ctx).Order("id ASC").Find(&bottles).Error; err != nil {
		return nil, err
	}
	return bottles, nil
}

func (s *Store) DeleteComment(ctx context.Context, id uint) error {
	return s.db.WithContext(ctx).Delete(&models.Comment{}, id).Error
}

// UpdateComment 按补丁更新字段（资产迁移会重写 content）
func (s *Store) UpdateComment(ctx context.Context, id uint, patch map[string]interface{}) error {
	return s.db.WithContext(ctx).Model(&models.Comment{}).Where("id = ?", id).Updates(patch).Error
}

// ---- 评论数缓存 ----

// BumpCommentCount 原子增减瓶子的评论数缓存
func (s *Store) BumpCommentCount(ctx context.Context, bid uint, delta int) error {
	return s.db.WithContext(ctx).Model(&models.Bottle{}).
		Where("id = ?", bid).
		UpdateColumn("comment_count", gorm.Expr("comment_count + ?", delta)).Error
}

// BackfillCommentCounts 启动时回填历史数据：
// comment_count 为哨兵值（未统计）的瓶子，按实际评论行数重算后批量写回
func (s *Store) BackfillCommentCounts(ctx context.Context) (int, error) {
	var stale []models.Bottle
	if err := s.db.WithContext(ctx).Where("comment_count < 0").Find(&stale).Error; err != nil {
		return 0, err
	}
	if len(stale) == 0 {
		return 0, nil
	}
	for i := range stale {
		n, err := s.CountComments(ctx, stale[i].ID)
		if err != nil {
			return 0, err
		}
		stale[i].CommentCount = int(n)
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"comment_count"}),
	}).Create(&stale).Error
	if err != nil {
		return 0, fmt.Errorf("回填评论数失败: %w", err)
	}
	return len(stale), nil
}
