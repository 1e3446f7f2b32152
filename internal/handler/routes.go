package handler

import "net/http"

// NewRouter 注册全部路由，并套上 CORS 与请求ID中间件
func NewRouter(topics *TopicHandler, analysis *AnalysisHandler) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", topics.Health)
	mux.HandleFunc("GET /api/topics", topics.Topics)
	mux.HandleFunc("GET /api/topics/{id}", topics.Topic)
	mux.HandleFunc("GET /api/trends", topics.Trends)
	mux.HandleFunc("GET /api/topic-year-detail/{id}/{year}", topics.TopicYearDetail)
	mux.HandleFunc("GET /api/doc-counts", topics.DocCounts)
	mux.HandleFunc("GET /api/keywords", topics.Keywords)
	mux.HandleFunc("GET /api/vis/pyldavis", topics.Vis)
	mux.HandleFunc("POST /api/ai-analysis", analysis.AnalyzeSSE)

	return CORS(RequestID(mux))
}
