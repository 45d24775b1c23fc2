package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"ai-news/config"
)

// ArticleSearcher 按关键词检索的文章来源,结果和订阅源条目走同一个入库流程
type ArticleSearcher interface {
	Name() string
	Search(ctx context.Context) ([]*gofeed.Item, error)
}

// NewsAPISearcher 调用 NewsAPI.org /v2/everything
type NewsAPISearcher struct {
	client    *http.Client
	cfg       config.NewsAPIConfig
	userAgent string
}

func NewNewsAPISearcher(cfg config.FetchConfig) *NewsAPISearcher {
	return &NewsAPISearcher{
		client:    &http.Client{Timeout: cfg.Timeout},
		cfg:       cfg.NewsAPI,
		userAgent: cfg.UserAgent,
	}
}

func (n *NewsAPISearcher) Name() string {
	return "newsapi"
}

type newsAPIResponse struct {
	Status   string           `json:"status"`
	Code     string           `json:"code"`
	Message  string           `json:"message"`
	Articles []newsAPIArticle `json:"articles"`
}

type newsAPIArticle struct {
	Author      string `json:"author"`
	Title       string `json:"title"`
	Description string `json:"description"`
	URL         string `json:"url"`
	URLToImage  string `json:"urlToImage"`
	PublishedAt string `json:"publishedAt"`
	Content     string `json:"content"`
}

// Search 返回最新的英文结果。401/403 视为配置错误
func (n *NewsAPISearcher) Search(ctx context.Context) ([]*gofeed.Item, error) {
	endpoint, err := url.Parse(n.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: newsapi url: %v", config.ErrInvalidConfig, err)
	}
	q := endpoint.Query()
	q.Set("q", n.cfg.Query)
	q.Set("language", n.cfg.Language)
	q.Set("sortBy", "publishedAt")
	q.Set("pageSize", strconv.Itoa(n.cfg.PageSize))
	endpoint.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("X-Api-Key", n.cfg.APIKey)
	if n.userAgent != "" {
		req.Header.Set("User-Agent", n.userAgent)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("newsapi request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var payload newsAPIResponse
	decodeErr := json.Unmarshal(body, &payload)

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, fmt.Errorf("%w: newsapi rejected the api key: %s", config.ErrInvalidConfig, payload.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("newsapi returned %s: %s", resp.Status, payload.Message)
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("%w: newsapi: %v", ErrMalformedResponse, decodeErr)
	}
	if payload.Status != "ok" {
		return nil, fmt.Errorf("newsapi status %q: %s", payload.Status, payload.Message)
	}

	items := make([]*gofeed.Item, 0, len(payload.Articles))
	for _, a := range payload.Articles {
		if item := a.item(); item != nil {
			items = append(items, item)
		}
	}
	return items, nil
}

// item 转为 gofeed 条目。已下架的文章标题为 "[Removed]"
func (a newsAPIArticle) item() *gofeed.Item {
	title := strings.TrimSpace(a.Title)
	link := strings.TrimSpace(a.URL)
	if title == "" || title == "[Removed]" || link == "" {
		return nil
	}

	item := &gofeed.Item{
		Title:       title,
		Link:        link,
		Description: a.Description,
		Content:     a.Content,
	}
	if author := strings.TrimSpace(a.Author); author != "" {
		item.Authors = []*gofeed.Person{{Name: author}}
	}
	if img := strings.TrimSpace(a.URLToImage); img != "" {
		item.Image = &gofeed.Image{URL: img}
	}
	if t, err := time.Parse(time.RFC3339, a.PublishedAt); err == nil {
		item.PublishedParsed = &t
	}
	return item
}
