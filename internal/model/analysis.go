package model

import (
	"errors"
	"fmt"
	"strings"
)

// Category 分析类型，决定使用哪个提示词模板
type Category string

const (
	CategoryTopics  Category = "topics"  // 主题概览
	CategoryTrends  Category = "trends"  // 趋势概览
	CategoryMap     Category = "map"     // 主题地图概览
	CategoryGeneral Category = "general" // 通用
)

// AllCategories 所有分析类型
var AllCategories = []Category{CategoryTopics, CategoryTrends, CategoryMap, CategoryGeneral}

// ErrEmptyContent 分析内容为空
var ErrEmptyContent = errors.New("content is required")

// ParseCategory 解析分析类型，空字符串视为 general
func ParseCategory(s string) (Category, error) {
	if strings.TrimSpace(s) == "" {
		return CategoryGeneral, nil
	}
	for _, c := range AllCategories {
		if string(c) == s {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown analysis type %q", s)
}

// AnalysisRequest AI分析请求
// POST /api/ai-analysis
// Body: {"content": "...", "type": "topics|trends|map|general"}
type AnalysisRequest struct {
	Content string   `json:"content"`
	Type    Category `json:"type"`
}

// Validate 校验请求并规范化类型
func (r *AnalysisRequest) Validate() error {
	if strings.TrimSpace(r.Content) == "" {
		return ErrEmptyContent
	}
	c, err := ParseCategory(string(r.Type))
	if err != nil {
		return err
	}
	r.Type = c
	return nil
}

// RelayEvent 发给浏览器的标准化事件，content 与 error 二选一
type RelayEvent struct {
	Content *string `json:"content,omitempty"`
	Error   *string `json:"error,omitempty"`
}

// ContentEvent 内容片段事件
func ContentEvent(fragment string) RelayEvent {
	return RelayEvent{Content: &fragment}
}

// ErrorEvent 错误事件
func ErrorEvent(msg string) RelayEvent {
	return RelayEvent{Error: &msg}
}

// ErrorResponse 非流式错误响应体
type ErrorResponse struct {
	Error string `json:"error"`
}
