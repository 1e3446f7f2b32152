package fetcher

import (
	"errors"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ErrNotTopicMap 页面不是 pyLDAvis 主题地图
var ErrNotTopicMap = errors.New("page is not a topic map")

// VisParser pyLDAvis 主题地图页面解析器
type VisParser struct{}

// NewVisParser 创建解析器
func NewVisParser() *VisParser {
	return &VisParser{}
}

// VisPage 解析后的主题地图页面
type VisPage struct {
	Title     string   `json:"title,omitempty"`
	ElementID string   `json:"elementId"`
	Scripts   []string `json:"scripts,omitempty"` // 外部脚本（d3、LDAvis.js）
	HTML      string   `json:"-"`
}

// Parse 解析并校验 pyLDAvis 导出的 HTML
func (p *VisParser) Parse(html string) (*VisPage, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}

	page := &VisPage{HTML: html}
	page.Title = strings.TrimSpace(doc.Find("title").First().Text())

	// pyLDAvis 的容器 id 形如 ldavis_el123456789
	doc.Find("div[id]").EachWithBreak(func(i int, s *goquery.Selection) bool {
		id, _ := s.Attr("id")
		if strings.HasPrefix(id, "ldavis") {
			page.ElementID = id
			return false
		}
		return true
	})

	doc.Find("script[src]").Each(func(i int, s *goquery.Selection) {
		if src, ok := s.Attr("src"); ok && strings.TrimSpace(src) != "" {
			page.Scripts = append(page.Scripts, strings.TrimSpace(src))
		}
	})

	if page.ElementID == "" && !strings.Contains(html, "LDAvis") {
		return nil, ErrNotTopicMap
	}
	return page, nil
}
