package model

// TermWeight 主题关键词及权重
type TermWeight struct {
	Term   string  `json:"term"`
	Weight float64 `json:"weight"`
}

// Topic 主题：对外 id 从 1 开始
type Topic struct {
	ID          int          `json:"id"`
	Label       string       `json:"label"`
	TopTerms    []TermWeight `json:"topTerms"`
	Authors     []string     `json:"authors,omitempty"`
	Description string       `json:"description,omitempty"`
}

// TrendSeries 单个主题的年度强度序列，与 Trends.Years 对齐
type TrendSeries struct {
	ID     int       `json:"id"`
	Label  string    `json:"label"`
	Series []float64 `json:"series"`
}

// Trends 主题年度趋势
type Trends struct {
	Years  []int         `json:"years"`
	Topics []TrendSeries `json:"topics"`
}

// TermShare 某主题某年的词汇占比
type TermShare struct {
	Term    string  `json:"term"`
	Weight  float64 `json:"weight"`
	Percent float64 `json:"percent"`
}

// TopicYearDetail 主题年度详情
type TopicYearDetail struct {
	ID       int         `json:"id"`
	Year     int         `json:"year"`
	Label    string      `json:"label"`
	DocCount int         `json:"docCount"`
	Terms    []TermShare `json:"terms"`
}

// DocCounts 文献数量统计
type DocCounts struct {
	Total       int                 `json:"total"`
	ByTopic     map[int]int         `json:"byTopic"`
	ByYear      map[int]int         `json:"byYear"`
	ByTopicYear map[int]map[int]int `json:"byTopicYear"`
}
