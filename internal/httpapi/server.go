// Package httpapi 透過 HTTP 提供受保護讀取路徑、支付隊列與分析事件批處理。
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"goflare.io/surge/internal/batch"
	"goflare.io/surge/internal/guard"
	"goflare.io/surge/internal/queue"
)

// ResourceFetcher 從資料存取層載入資源
type ResourceFetcher func(ctx context.Context, query url.Values) (any, error)

// Resource 一個可快取的讀取端點
type Resource struct {
	Guard       *guard.Guard
	Fetch       ResourceFetcher
	FreshTTL    time.Duration
	StaleWindow time.Duration
}

// Deps API 使用的組件
type Deps struct {
	Resources  map[string]Resource
	Payments   *queue.Queue
	Analytics  *batch.Batcher
	LoadStatus func(ctx context.Context) any
}

// Option 定義 Server 的選項
type Option func(*Server)

// WithRateLimit 每秒超過 r 的請求以 429 拒絕
func WithRateLimit(r float64, burst int) Option {
	return func(s *Server) {
		if r <= 0 {
			return
		}
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(r), burst)
	}
}

// Server 持有 HTTP 處理函數
type Server struct {
	deps    Deps
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewServer 創建一個新的 Server 實例
func NewServer(deps Deps, logger *zap.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{deps: deps, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Routes 返回套用中間件後的 API handler
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/load", s.handleLoad)
	mux.HandleFunc("GET /api/resources/{name}", s.handleGetResource)
	mux.HandleFunc("DELETE /api/resources/{name}", s.handleInvalidateResource)
	mux.HandleFunc("POST /api/payments", s.handleCreatePayment)
	mux.HandleFunc("GET /api/payments", s.handlePaymentStatus)
	mux.HandleFunc("GET /api/payments/{taskId}", s.handlePaymentStatus)
	mux.HandleFunc("POST /api/analytics", s.handleTrack)

	var h http.Handler = mux
	h = s.rateLimit(h)
	h = s.accessLog(h)
	h = requestID(h)
	return h
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleLoad(w http.ResponseWriter, r *http.Request) {
	if s.deps.LoadStatus == nil {
		writeError(w, http.StatusNotFound, "Load status unavailable")
		return
	}
	writeJSON(w, http.StatusOK, s.deps.LoadStatus(r.Context()))
}

type errorBody struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

func writeOverloaded(w http.ResponseWriter) {
	writeJSON(w, http.StatusServiceUnavailable, errorBody{
		Error:   "Service temporarily unavailable",
		Code:    "SERVICE_OVERLOADED",
		Message: "The system is experiencing high load. Please try again in a moment.",
	})
}
