package service

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"

	"ai-news/config"
)

// cleanHTML 去掉HTML标签并合并空白
func cleanHTML(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		return collapseSpace(raw)
	}
	doc.Find("script, style, noscript").Remove()
	return collapseSpace(doc.Text())
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// truncateWords 按字符数截断,尽量停在词边界
func truncateWords(s string, max int) string {
	r := []rune(s)
	if max <= 0 || len(r) <= max {
		return s
	}
	cut := string(r[:max])
	if i := strings.LastIndexByte(cut, ' '); i > len(cut)/2 {
		cut = cut[:i]
	}
	return strings.TrimSpace(cut) + "..."
}

// truncateRunes 送给AI前的硬截断
func truncateRunes(s string, max int) string {
	r := []rune(s)
	if max <= 0 || len(r) <= max {
		return s
	}
	return string(r[:max])
}

// categorize 按规则顺序匹配关键词,都不匹配时返回默认分类。分类名统一小写,与列表查询的口径一致
func categorize(text string, rules []config.CategoryRule, fallback string) string {
	lower := strings.ToLower(text)
	for _, rule := range rules {
		for _, kw := range rule.Keywords {
			if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
				return strings.ToLower(strings.TrimSpace(rule.Name))
			}
		}
	}
	return strings.ToLower(strings.TrimSpace(fallback))
}

// extractImage 依次尝试 item.Image、media 扩展、图片附件、正文里的第一张图
func extractImage(item *gofeed.Item) string {
	if item.Image != nil && item.Image.URL != "" {
		return item.Image.URL
	}

	if media, ok := item.Extensions["media"]; ok {
		for _, name := range []string{"thumbnail", "content"} {
			for _, e := range media[name] {
				if u := e.Attrs["url"]; u != "" {
					return u
				}
			}
		}
	}

	for _, enc := range item.Enclosures {
		if enc != nil && strings.HasPrefix(enc.Type, "image/") && enc.URL != "" {
			return enc.URL
		}
	}

	for _, html := range []string{item.Content, item.Description} {
		if src := firstImageSrc(html); src != "" {
			return src
		}
	}
	return ""
}

func firstImageSrc(html string) string {
	if !strings.Contains(html, "<img") {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}
	src, _ := doc.Find("img[src]").First().Attr("src")
	return strings.TrimSpace(src)
}

func itemAuthor(item *gofeed.Item) string {
	if item.Author != nil && item.Author.Name != "" {
		return item.Author.Name
	}
	for _, p := range item.Authors {
		if p != nil && p.Name != "" {
			return p.Name
		}
	}
	return ""
}
