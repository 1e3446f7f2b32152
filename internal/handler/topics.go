package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/charmbracelet/log"

	"topictrend-go/internal/service"
)

// TopicHandler 主题数据只读接口
type TopicHandler struct {
	service *service.TopicService
	logger  *log.Logger
}

// NewTopicHandler 创建处理器
func NewTopicHandler(svc *service.TopicService, logger *log.Logger) *TopicHandler {
	if logger == nil {
		logger = log.Default()
	}
	return &TopicHandler{service: svc, logger: logger}
}

// Health 健康检查
func (h *TopicHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// fail 把服务层错误映射为HTTP状态
func (h *TopicHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrTopicNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrVisNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		h.logger.Error("topic query failed", "path", r.URL.Path, "request_id", RequestIDFrom(r.Context()), "err", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func pathInt(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	n, err := strconv.Atoi(r.PathValue(name))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return n, true
}

// Topics GET /api/topics
func (h *TopicHandler) Topics(w http.ResponseWriter, r *http.Request) {
	topics, err := h.service.GetTopics(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, topics)
}

// Topic GET /api/topics/{id}
func (h *TopicHandler) Topic(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt(w, r, "id")
	if !ok {
		return
	}
	topic, err := h.service.GetTopic(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, topic)
}

// Trends GET /api/trends
func (h *TopicHandler) Trends(w http.ResponseWriter, r *http.Request) {
	trends, err := h.service.GetTrends(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, trends)
}

// TopicYearDetail GET /api/topic-year-detail/{id}/{year}
func (h *TopicHandler) TopicYearDetail(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt(w, r, "id")
	if !ok {
		return
	}
	year, ok := pathInt(w, r, "year")
	if !ok {
		return
	}
	detail, err := h.service.GetTopicYearDetail(r.Context(), id, year)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// DocCounts GET /api/doc-counts
func (h *TopicHandler) DocCounts(w http.ResponseWriter, r *http.Request) {
	counts, err := h.service.GetDocCounts(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

// Keywords GET /api/keywords?topics=1,2&years=2020,2021&limit=50
func (h *TopicHandler) Keywords(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	topics, err := parseIntList(q.Get("topics"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid topics")
		return
	}
	years, err := parseIntList(q.Get("years"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid years")
		return
	}
	limit := 0
	if s := q.Get("limit"); s != "" {
		if limit, err = strconv.Atoi(s); err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
	}

	keywords, err := h.service.GetKeywords(r.Context(), service.KeywordQuery{Topics: topics, Years: years, Limit: limit})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, keywords)
}

// Vis GET /api/vis/pyldavis，原样返回预生成的主题地图页面
func (h *TopicHandler) Vis(w http.ResponseWriter, r *http.Request) {
	page, err := h.service.VisPage(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(page.HTML))
}
