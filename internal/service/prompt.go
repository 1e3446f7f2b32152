package service

import (
	"fmt"

	"topictrend-go/internal/fetcher"
	"topictrend-go/internal/model"
)

const systemPrompt = `你是一名科技情报分析师，擅长解读主题模型（LDA）的结果。
请基于用户提供的数据进行分析，使用中文，结构清晰，适当使用 Markdown 小标题和列表。
不要编造数据中没有的数字。`

// promptTemplates 各类别的用户提示词模板，%s 为前端传入的数据摘要
var promptTemplates = map[model.Category]string{
	model.CategoryTopics: `以下是各研究主题及其高权重关键词：

%s

请概括每个主题的研究内容，指出主题之间的关联与差异，并总结整体研究格局。`,

	model.CategoryTrends: `以下是各主题按年份的强度变化数据：

%s

请分析哪些主题在上升、哪些在下降、哪些保持稳定，指出关键转折年份，并推测可能的原因与未来走向。`,

	model.CategoryMap: `以下是主题地图（主题间距离与主题规模）的描述：

%s

请解读主题在地图上的聚集与分离情况，说明哪些主题相近、哪些主题独立，以及这对研究方向布局意味着什么。`,

	model.CategoryGeneral: `%s

请结合主题建模的背景对以上内容进行分析解读。`,
}

// BuildMessages 按类别生成 system + user 消息
func BuildMessages(req model.AnalysisRequest) []fetcher.Message {
	tmpl, ok := promptTemplates[req.Type]
	if !ok {
		tmpl = promptTemplates[model.CategoryGeneral]
	}
	return []fetcher.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: fmt.Sprintf(tmpl, req.Content)},
	}
}
