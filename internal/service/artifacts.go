package service

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"topictrend-go/internal/model"
)

// 离线计算产物文件名
const (
	topicTermsFile   = "topic_terms.csv"
	yearlyTrendsFile = "yearly_trends.csv"
	docTopicsFile    = "doc_topics.csv"
	labelsJSONFile   = "topic_labels.json"
	labelsYAMLFile   = "topic_labels.yaml"
)

// defaultLabels 前 15 个主题的人工标签（中文为主 / 英文为辅）
var defaultLabels = map[int]string{
	0:  "人工智能基础 / AI Fundamentals",
	1:  "计算机视觉 / Computer Vision",
	2:  "自然语言处理 / Natural Language Processing",
	3:  "语音与多模态 / Speech & Multimodal",
	4:  "机器学习算法与优化 / ML Algorithms & Optimization",
	5:  "深度学习架构 / Deep Learning Architectures",
	6:  "数据挖掘与知识图谱 / Data Mining & Knowledge Graph",
	7:  "推荐系统 / Recommender Systems",
	8:  "强化学习与规划 / Reinforcement Learning & Planning",
	9:  "医疗智能 / Healthcare AI",
	10: "金融科技智能 / FinTech AI",
	11: "智能制造与机器人 / Robotics & Smart Manufacturing",
	12: "网络与安全 / Networking & Security",
	13: "大模型与AIGC / Foundation Models & AIGC",
	14: "云计算与大数据 / Cloud & Big Data",
}

// TopicOverride topic_labels.yaml 中单个主题的人工标注
type TopicOverride struct {
	Label       string   `yaml:"label"`
	Description string   `yaml:"description"`
	Authors     []string `yaml:"authors"`
}

type labelOverrides struct {
	Topics map[int]TopicOverride `yaml:"topics"`
}

// docRow 单篇文献：年份与概率最大的主题（0 起始）
type docRow struct {
	year  int
	topic int
}

// artifacts 内存中的全部产物，加载后只读
type artifacts struct {
	terms     map[int][]model.TermWeight // 0 起始主题 -> 按权重降序
	topicIDs  []int
	labels    map[int]string
	overrides map[int]TopicOverride
	years     []int
	trendCols []int             // yearly_trends.csv 中主题列的顺序
	trends    map[int][]float64 // 与 years 对齐
	docs      []docRow          // doc_topics.csv 缺失时为 nil
	hasTrends bool
}

func loadArtifacts(dir string) (*artifacts, error) {
	a := &artifacts{
		labels:    map[int]string{},
		overrides: map[int]TopicOverride{},
		trends:    map[int][]float64{},
	}

	if err := a.loadTopicTerms(filepath.Join(dir, topicTermsFile)); err != nil {
		return nil, err
	}
	if err := a.loadTrends(filepath.Join(dir, yearlyTrendsFile)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	if err := a.loadDocTopics(filepath.Join(dir, docTopicsFile)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	if err := a.loadLabelsJSON(filepath.Join(dir, labelsJSONFile)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	if err := a.loadOverrides(filepath.Join(dir, labelsYAMLFile)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	return a, nil
}

// readCSV 读取带表头的 CSV，返回表头列索引和数据行
func readCSV(path string) (map[string]int, [][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err == io.EOF {
		return nil, nil, fmt.Errorf("%s: empty file", filepath.Base(path))
	}
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}

	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))] = i
	}

	rows, err := r.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return cols, rows, nil
}

// parseIntish 兼容 pandas 导出的 "2019.0"
func parseIntish(s string) (int, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	return int(math.Round(f)), nil
}

// topicColumns 找出 topic_0..topic_n 列，按主题编号排序
func topicColumns(cols map[string]int) []struct{ topic, col int } {
	var out []struct{ topic, col int }
	for name, idx := range cols {
		if !strings.HasPrefix(name, "topic_") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimPrefix(name, "topic_"))
		if err != nil {
			continue
		}
		out = append(out, struct{ topic, col int }{n, idx})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].topic < out[j].topic })
	return out
}

func (a *artifacts) loadTopicTerms(path string) error {
	cols, rows, err := readCSV(path)
	if err != nil {
		return fmt.Errorf("failed to load topic terms: %w", err)
	}
	topicCol, ok1 := cols["topic_id"]
	termCol, ok2 := cols["term"]
	weightCol, ok3 := cols["weight"]
	if !ok1 || !ok2 || !ok3 {
		return fmt.Errorf("failed to load topic terms: %s needs topic_id, term, weight columns", topicTermsFile)
	}

	a.terms = map[int][]model.TermWeight{}
	for i, row := range rows {
		if len(row) <= topicCol || len(row) <= termCol || len(row) <= weightCol {
			continue
		}
		topic, err := parseIntish(row[topicCol])
		if err != nil {
			return fmt.Errorf("%s row %d: bad topic_id: %w", topicTermsFile, i+2, err)
		}
		weight, err := strconv.ParseFloat(strings.TrimSpace(row[weightCol]), 64)
		if err != nil {
			return fmt.Errorf("%s row %d: bad weight: %w", topicTermsFile, i+2, err)
		}
		a.terms[topic] = append(a.terms[topic], model.TermWeight{Term: strings.TrimSpace(row[termCol]), Weight: weight})
	}

	for topic, terms := range a.terms {
		sortTerms(terms)
		a.topicIDs = append(a.topicIDs, topic)
	}
	sort.Ints(a.topicIDs)
	return nil
}

func sortTerms(terms []model.TermWeight) {
	sort.SliceStable(terms, func(i, j int) bool {
		if terms[i].Weight != terms[j].Weight {
			return terms[i].Weight > terms[j].Weight
		}
		return terms[i].Term < terms[j].Term
	})
}

func (a *artifacts) loadTrends(path string) error {
	cols, rows, err := readCSV(path)
	if err != nil {
		return err
	}
	yearCol, ok := cols["year"]
	if !ok {
		return fmt.Errorf("%s: missing year column", yearlyTrendsFile)
	}

	topics := topicColumns(cols)
	for _, tc := range topics {
		a.trendCols = append(a.trendCols, tc.topic)
	}

	for i, row := range rows {
		if yearCol >= len(row) {
			continue
		}
		year, err := parseIntish(row[yearCol])
		if err != nil {
			return fmt.Errorf("%s row %d: bad year: %w", yearlyTrendsFile, i+2, err)
		}
		a.years = append(a.years, year)
		for _, tc := range topics {
			v := 0.0
			if tc.col < len(row) {
				v, _ = strconv.ParseFloat(strings.TrimSpace(row[tc.col]), 64)
			}
			a.trends[tc.topic] = append(a.trends[tc.topic], v)
		}
	}
	a.hasTrends = true
	return nil
}

func (a *artifacts) loadDocTopics(path string) error {
	cols, rows, err := readCSV(path)
	if err != nil {
		return err
	}
	yearCol, ok := cols["year"]
	if !ok {
		return fmt.Errorf("%s: missing year column", docTopicsFile)
	}
	topics := topicColumns(cols)
	if len(topics) == 0 {
		return nil
	}

	a.docs = make([]docRow, 0, len(rows))
	for _, row := range rows {
		if yearCol >= len(row) {
			continue
		}
		year, err := parseIntish(row[yearCol])
		if err != nil {
			continue
		}
		best, bestP := -1, math.Inf(-1)
		for _, tc := range topics {
			if tc.col >= len(row) {
				continue
			}
			p, err := strconv.ParseFloat(strings.TrimSpace(row[tc.col]), 64)
			if err != nil {
				continue
			}
			if p > bestP {
				best, bestP = tc.topic, p
			}
		}
		if best >= 0 {
			a.docs = append(a.docs, docRow{year: year, topic: best})
		}
	}
	return nil
}

func (a *artifacts) loadLabelsJSON(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%s: %w", labelsJSONFile, err)
	}
	for k, v := range raw {
		if n, err := strconv.Atoi(k); err == nil {
			a.labels[n] = v
		}
	}
	return nil
}

func (a *artifacts) loadOverrides(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var o labelOverrides
	if err := yaml.Unmarshal(data, &o); err != nil {
		return fmt.Errorf("%s: %w", labelsYAMLFile, err)
	}
	for k, v := range o.Topics {
		a.overrides[k] = v
	}
	return nil
}

// label 优先级：YAML 人工标注 > 内置标签 > topic_labels.json > 前三个关键词
func (a *artifacts) label(topic int) string {
	if o, ok := a.overrides[topic]; ok && o.Label != "" {
		return o.Label
	}
	if l, ok := defaultLabels[topic]; ok {
		return l
	}
	if l, ok := a.labels[topic]; ok && l != "" {
		return l
	}
	if terms := a.terms[topic]; len(terms) > 0 {
		n := min(3, len(terms))
		parts := make([]string, 0, n)
		for _, t := range terms[:n] {
			parts = append(parts, t.Term)
		}
		return strings.Join(parts, " / ")
	}
	return fmt.Sprintf("Topic %d", topic+1)
}

// trendValue 某主题某年的强度
func (a *artifacts) trendValue(topic, year int) (float64, bool) {
	series, ok := a.trends[topic]
	if !ok {
		return 0, false
	}
	for i, y := range a.years {
		if y == year && i < len(series) {
			return series[i], true
		}
	}
	return 0, false
}
