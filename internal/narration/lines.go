package narration

import "strings"

// lineSplitter 把任意切分的文本块重新拼成完整行，最后一段留到下次
type lineSplitter struct {
	carry string
}

// push 返回本次能确定的完整行（不含换行符）
func (s *lineSplitter) push(chunk string) []string {
	data := s.carry + chunk
	parts := strings.Split(data, "\n")
	s.carry = parts[len(parts)-1]
	return parts[:len(parts)-1]
}

// flush 流结束时取出剩余内容
func (s *lineSplitter) flush() string {
	tail := s.carry
	s.carry = ""
	return tail
}
