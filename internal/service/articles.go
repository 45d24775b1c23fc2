package service

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	"ai-news/internal/model"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// ArticleQuery 可展示文章列表的查询条件
type ArticleQuery struct {
	Category string
	Limit    int
	Offset   int
}

func (q ArticleQuery) normalized() ArticleQuery {
	q.Category = strings.ToLower(strings.TrimSpace(q.Category))
	if q.Limit <= 0 {
		q.Limit = defaultPageSize
	}
	if q.Limit > maxPageSize {
		q.Limit = maxPageSize
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	return q
}

// CategoryCount 每个分类下可展示文章数
type CategoryCount struct {
	Category string `json:"category"`
	Count    int64  `json:"count"`
}

type ArticleService struct {
	db *gorm.DB
}

func NewArticleService(db *gorm.DB) *ArticleService {
	return &ArticleService{db: db}
}

// ListDisplayable 读取 displayable_articles 视图,按发布时间倒序
func (s *ArticleService) ListDisplayable(ctx context.Context, q ArticleQuery) ([]model.DisplayArticle, int64, error) {
	q = q.normalized()
	query := s.db.WithContext(ctx).Model(&model.DisplayArticle{})
	if q.Category != "" {
		query = query.Where("category = ?", q.Category)
	}
	query = query.Session(&gorm.Session{})

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	articles := make([]model.DisplayArticle, 0, q.Limit)
	err := query.
		Order(effectiveTimeExpr + " DESC").
		Order("id").
		Limit(q.Limit).
		Offset(q.Offset).
		Find(&articles).Error
	return articles, total, err
}

// GetDisplayable 按ID读取一篇可展示文章
func (s *ArticleService) GetDisplayable(ctx context.Context, id string) (*model.DisplayArticle, error) {
	var article model.DisplayArticle
	if err := s.db.WithContext(ctx).Where("id = ?", id).Take(&article).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrArticleNotFound
		}
		return nil, err
	}
	return &article, nil
}

// Categories 可展示文章的分类统计
func (s *ArticleService) Categories(ctx context.Context) ([]CategoryCount, error) {
	var counts []CategoryCount
	err := s.db.WithContext(ctx).Model(&model.DisplayArticle{}).
		Select("category, COUNT(*) AS count").
		Group("category").
		Order("count DESC").
		Scan(&counts).Error
	return counts, err
}

// ListByStage 运维视图: 按生命周期阶段列出完整文章
func (s *ArticleService) ListByStage(ctx context.Context, stage model.Stage, limit, offset int) ([]model.Article, int64, error) {
	q := ArticleQuery{Limit: limit, Offset: offset}.normalized()
	query := s.db.WithContext(ctx).Model(&model.Article{}).Scopes(model.InStage(stage)).Session(&gorm.Session{})

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var articles []model.Article
	err := query.Preload("Source").
		Order("fetched_at DESC").
		Limit(q.Limit).
		Offset(q.Offset).
		Find(&articles).Error
	return articles, total, err
}

// SoftDelete 隐藏文章,不再出现在可展示视图中。重复调用无副作用
func (s *ArticleService) SoftDelete(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Model(&model.Article{}).
		Where("id = ? AND is_deleted = ?", id, false).
		Update("is_deleted", true)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&model.Article{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return ErrArticleNotFound
	}
	return nil
}
