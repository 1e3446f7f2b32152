package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/time/rate"

	"topictrend-go/internal/model"
	"topictrend-go/internal/service"
	"topictrend-go/internal/sse"
)

// Analyzer AI解读服务接口
type Analyzer interface {
	Analyze(ctx context.Context, req model.AnalysisRequest, writer service.EventWriter) error
}

// AnalysisHandler AI解读HTTP处理器
type AnalysisHandler struct {
	service   Analyzer
	limiter   *rate.Limiter
	heartbeat time.Duration
	logger    *log.Logger
}

// NewAnalysisHandler 创建处理器，limiter 为 nil 时不限流
func NewAnalysisHandler(svc Analyzer, limiter *rate.Limiter, heartbeat time.Duration, logger *log.Logger) *AnalysisHandler {
	if logger == nil {
		logger = log.Default()
	}
	return &AnalysisHandler{service: svc, limiter: limiter, heartbeat: heartbeat, logger: logger}
}

// AnalyzeSSE 处理流式AI解读请求
// POST /api/ai-analysis
// Body: {"content": "...", "type": "topics|trends|map|general"}
func (h *AnalysisHandler) AnalyzeSSE(w http.ResponseWriter, r *http.Request) {
	logger := h.logger.With("request_id", RequestIDFrom(r.Context()))

	if h.limiter != nil && !h.limiter.Allow() {
		writeError(w, http.StatusTooManyRequests, "too many analysis requests, please retry later")
		return
	}

	var req model.AnalysisRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	// 创建SSE writer，之后只能以事件形式报告错误
	writer, err := sse.NewWriter(w, h.heartbeat)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	defer writer.Close()

	start := time.Now()
	logger.Info("analysis started", "type", req.Type, "content_len", len(req.Content))

	if err := h.service.Analyze(r.Context(), req, writer); err != nil {
		logger.Warn("analysis ended with error", "type", req.Type, "err", err, "elapsed", time.Since(start))
		return
	}
	logger.Info("analysis completed", "type", req.Type, "elapsed", time.Since(start))
}
