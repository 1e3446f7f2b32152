package relay

// Extractor 尝试从上游 JSON 负载中取出文本片段
type Extractor func(payload any) (string, bool)

// PathExtractor 按路径取字符串字段，路径元素为 string（对象键）或 int（数组下标）
func PathExtractor(path ...any) Extractor {
	return func(payload any) (string, bool) {
		cur := payload
		for _, step := range path {
			switch key := step.(type) {
			case string:
				obj, ok := cur.(map[string]any)
				if !ok {
					return "", false
				}
				if cur, ok = obj[key]; !ok {
					return "", false
				}
			case int:
				arr, ok := cur.([]any)
				if !ok || key < 0 || key >= len(arr) {
					return "", false
				}
				cur = arr[key]
			default:
				return "", false
			}
		}
		s, ok := cur.(string)
		return s, ok
	}
}

// DefaultExtractors 已知的上游增量格式，按优先级排列：
//   - output.choices[0].message.content （DashScope 原生接口）
//   - choices[0].delta.content           （OpenAI 兼容流式增量）
//   - choices[0].message.content         （部分网关一次性返回完整消息）
var DefaultExtractors = []Extractor{
	PathExtractor("output", "choices", 0, "message", "content"),
	PathExtractor("choices", 0, "delta", "content"),
	PathExtractor("choices", 0, "message", "content"),
}

// ExtractFragment 返回第一个非空的匹配
func ExtractFragment(payload any, extractors []Extractor) (string, bool) {
	for _, extract := range extractors {
		if s, ok := extract(payload); ok && s != "" {
			return s, true
		}
	}
	return "", false
}
