package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"topictrend-go/internal/cache"
	"topictrend-go/internal/fetcher"
	"topictrend-go/internal/model"
)

const (
	maxTopics       = 15 // 对外只展示前 15 个主题
	topTermsPerList = 10
	topTermsDetail  = 30
	defaultKeywords = 50
)

var (
	// ErrTopicNotFound 主题不存在
	ErrTopicNotFound = errors.New("topic not found")
	// ErrVisNotFound 主题地图页面不存在或不是 pyLDAvis 页面
	ErrVisNotFound = errors.New("topic map not available")
)

// TopicService 主题数据服务：懒加载离线产物，对外提供只读查询
type TopicService struct {
	dataDir string
	visPath string
	cache   cache.Cache
	ttl     time.Duration
	parser  *fetcher.VisParser
	logger  *log.Logger

	mu   sync.Mutex
	data *artifacts
}

// NewTopicService 创建主题服务，visPath 为空时使用 dataDir/pyldavis.html
func NewTopicService(dataDir, visPath string, c cache.Cache, ttl time.Duration, logger *log.Logger) *TopicService {
	if visPath == "" {
		visPath = filepath.Join(dataDir, "pyldavis.html")
	}
	if c == nil {
		c = cache.NewMemoryCache()
	}
	if logger == nil {
		logger = log.Default()
	}
	return &TopicService{
		dataDir: dataDir,
		visPath: visPath,
		cache:   c,
		ttl:     ttl,
		parser:  fetcher.NewVisParser(),
		logger:  logger,
	}
}

// load 首次访问时加载，加载失败不缓存，下次请求重试
func (s *TopicService) load() (*artifacts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.data != nil {
		return s.data, nil
	}
	data, err := loadArtifacts(s.dataDir)
	if err != nil {
		return nil, err
	}
	s.logger.Info("topic artifacts loaded", "dir", s.dataDir, "topics", len(data.topicIDs),
		"years", len(data.years), "docs", len(data.docs))
	s.data = data
	return data, nil
}

// visibleTopics 前 15 个主题（0 起始）
func (a *artifacts) visibleTopics() []int {
	if len(a.topicIDs) > maxTopics {
		return a.topicIDs[:maxTopics]
	}
	return a.topicIDs
}

func (a *artifacts) isVisible(topic int) bool {
	for _, t := range a.visibleTopics() {
		if t == topic {
			return true
		}
	}
	return false
}

// GetTopics 返回所有主题（id 从 1 开始，每个主题 Top 10 关键词）
func (s *TopicService) GetTopics(ctx context.Context) ([]model.Topic, error) {
	data, err := s.load()
	if err != nil {
		return nil, err
	}

	topics := make([]model.Topic, 0, maxTopics)
	for _, idx := range data.visibleTopics() {
		topics = append(topics, data.topic(idx))
	}
	return topics, nil
}

func (a *artifacts) topic(idx int) model.Topic {
	terms := a.terms[idx]
	n := min(topTermsPerList, len(terms))
	t := model.Topic{
		ID:       idx + 1,
		Label:    a.label(idx),
		TopTerms: append([]model.TermWeight(nil), terms[:n]...),
	}
	if o, ok := a.overrides[idx]; ok {
		t.Description = o.Description
		t.Authors = o.Authors
	}
	return t
}

// GetTopic 返回单个主题，id 从 1 开始
func (s *TopicService) GetTopic(ctx context.Context, id int) (*model.Topic, error) {
	data, err := s.load()
	if err != nil {
		return nil, err
	}
	if !data.isVisible(id - 1) {
		return nil, fmt.Errorf("%w: %d", ErrTopicNotFound, id)
	}
	t := data.topic(id - 1)
	return &t, nil
}

// GetTrends 返回年份数组与各主题年度强度序列
func (s *TopicService) GetTrends(ctx context.Context) (*model.Trends, error) {
	data, err := s.load()
	if err != nil {
		return nil, err
	}

	trends := &model.Trends{Years: append([]int{}, data.years...), Topics: []model.TrendSeries{}}
	cols := data.trendCols
	if len(cols) > maxTopics {
		cols = cols[:maxTopics]
	}
	for _, idx := range cols {
		trends.Topics = append(trends.Topics, model.TrendSeries{
			ID:     idx + 1,
			Label:  data.label(idx),
			Series: append([]float64{}, data.trends[idx]...),
		})
	}
	return trends, nil
}

// GetTopicYearDetail 某主题某年的详情：文献数与 Top 30 词汇占比
func (s *TopicService) GetTopicYearDetail(ctx context.Context, id, year int) (*model.TopicYearDetail, error) {
	key := fmt.Sprintf("topic-year:%d:%d", id, year)
	var cached model.TopicYearDetail
	if hit, err := cache.GetJSON(ctx, s.cache, key, &cached); err != nil {
		s.logger.Warn("cache read failed", "key", key, "err", err)
	} else if hit {
		return &cached, nil
	}

	data, err := s.load()
	if err != nil {
		return nil, err
	}

	idx := id - 1
	if !data.isVisible(idx) {
		return nil, fmt.Errorf("%w: %d", ErrTopicNotFound, id)
	}

	detail := &model.TopicYearDetail{
		ID:       id,
		Year:     year,
		Label:    data.label(idx),
		DocCount: data.docCount(idx, year),
		Terms:    termShares(data.terms[idx], topTermsDetail),
	}

	if err := s.cache.Set(ctx, key, detail, s.ttl); err != nil {
		s.logger.Warn("cache write failed", "key", key, "err", err)
	}
	return detail, nil
}

// termShares 取前 n 个词并按权重归一化为占比
func termShares(terms []model.TermWeight, n int) []model.TermShare {
	n = min(n, len(terms))
	total := 0.0
	for _, t := range terms[:n] {
		total += t.Weight
	}
	if total == 0 {
		total = 1
	}
	out := make([]model.TermShare, 0, n)
	for _, t := range terms[:n] {
		out = append(out, model.TermShare{Term: t.Term, Weight: t.Weight, Percent: t.Weight / total})
	}
	return out
}

// docCount 按逐文档最大主题计数；没有文档数据或计数为 0 时用趋势值近似
func (a *artifacts) docCount(topic, year int) int {
	count := 0
	for _, d := range a.docs {
		if d.topic == topic && d.year == year {
			count++
		}
	}
	if count > 0 {
		return count
	}
	if v, ok := a.trendValue(topic, year); ok {
		return int(math.Round(math.Max(v, 0)))
	}
	return 0
}

// GetDocCounts 按主题、年份、主题×年份统计文献数
func (s *TopicService) GetDocCounts(ctx context.Context) (*model.DocCounts, error) {
	data, err := s.load()
	if err != nil {
		return nil, err
	}

	counts := &model.DocCounts{
		ByTopic:     map[int]int{},
		ByYear:      map[int]int{},
		ByTopicYear: map[int]map[int]int{},
	}
	add := func(topic, year, n int) {
		id := topic + 1
		counts.Total += n
		counts.ByTopic[id] += n
		counts.ByYear[year] += n
		if counts.ByTopicYear[id] == nil {
			counts.ByTopicYear[id] = map[int]int{}
		}
		counts.ByTopicYear[id][year] += n
	}

	if len(data.docs) > 0 {
		for _, d := range data.docs {
			add(d.topic, d.year, 1)
		}
		return counts, nil
	}

	for _, topic := range data.trendCols {
		for _, year := range data.years {
			if n := data.docCount(topic, year); n > 0 {
				add(topic, year, n)
			}
		}
	}
	return counts, nil
}

// KeywordQuery 关键词筛选条件，主题 id 从 1 开始，空表示全部
type KeywordQuery struct {
	Topics []int
	Years  []int
	Limit  int
}

func (q KeywordQuery) cacheKey() string {
	join := func(xs []int) string {
		sorted := append([]int(nil), xs...)
		sort.Ints(sorted)
		parts := make([]string, len(sorted))
		for i, x := range sorted {
			parts[i] = strconv.Itoa(x)
		}
		return strings.Join(parts, ",")
	}
	return fmt.Sprintf("keywords:t=%s:y=%s:n=%d", join(q.Topics), join(q.Years), q.Limit)
}

// GetKeywords 按主题/年份组合聚合关键词
// weight(term) = Σ_topic termWeight(topic, term) × Σ_year strength(topic, year)
func (s *TopicService) GetKeywords(ctx context.Context, q KeywordQuery) ([]model.TermWeight, error) {
	if q.Limit <= 0 {
		q.Limit = defaultKeywords
	}

	key := q.cacheKey()
	var cached []model.TermWeight
	if hit, err := cache.GetJSON(ctx, s.cache, key, &cached); err != nil {
		s.logger.Warn("cache read failed", "key", key, "err", err)
	} else if hit {
		return cached, nil
	}

	data, err := s.load()
	if err != nil {
		return nil, err
	}

	topics := make([]int, 0, len(q.Topics))
	for _, id := range q.Topics {
		if !data.isVisible(id - 1) {
			return nil, fmt.Errorf("%w: %d", ErrTopicNotFound, id)
		}
		topics = append(topics, id-1)
	}
	if len(topics) == 0 {
		topics = data.visibleTopics()
	}

	scores := map[string]float64{}
	for _, topic := range topics {
		factor := 1.0
		if len(q.Years) > 0 {
			factor = 0
			for _, year := range q.Years {
				if v, ok := data.trendValue(topic, year); ok {
					factor += v
				}
			}
		}
		if factor == 0 {
			continue
		}
		for _, t := range data.terms[topic] {
			scores[t.Term] += t.Weight * factor
		}
	}

	keywords := make([]model.TermWeight, 0, len(scores))
	for term, w := range scores {
		keywords = append(keywords, model.TermWeight{Term: term, Weight: w})
	}
	sortTerms(keywords)
	if len(keywords) > q.Limit {
		keywords = keywords[:q.Limit]
	}

	if err := s.cache.Set(ctx, key, keywords, s.ttl); err != nil {
		s.logger.Warn("cache write failed", "key", key, "err", err)
	}
	return keywords, nil
}

// VisPage 读取并校验 pyLDAvis 主题地图页面
func (s *TopicService) VisPage(ctx context.Context) (*fetcher.VisPage, error) {
	raw, err := os.ReadFile(s.visPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrVisNotFound
		}
		return nil, err
	}
	page, err := s.parser.Parse(string(raw))
	if err != nil {
		s.logger.Warn("topic map rejected", "path", s.visPath, "err", err)
		return nil, ErrVisNotFound
	}
	return page, nil
}
