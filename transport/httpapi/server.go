// Package httpapi 是推荐服务的 HTTP 入口：查询当天推荐结果、管理员触发计算、指标与健康检查。
package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/rushteam/matchkit/core"
	"github.com/rushteam/matchkit/pkg/metrics"
	"github.com/rushteam/matchkit/service"
)

// Recommendations 是 HTTP 层依赖的查询与触发能力，service.QueryService 实现了它。
type Recommendations interface {
	Get(ctx context.Context, userID string) ([]core.RecommendationResult, error)
	TriggerUser(ctx context.Context, userID string) error
	TriggerBatch(ctx context.Context, batchDate string) (string, error)
}

// HealthCheck 检查一个依赖是否可用。
type HealthCheck func(ctx context.Context) error

// Response 是统一的响应包裹。
type Response struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data"`
}

// Item 是对外返回的一条推荐。
type Item struct {
	UserID          string   `json:"userId"`
	Score           float64  `json:"score"`
	IsPriority      bool     `json:"isPriority"`
	Tags            []string `json:"tags"`
	Reason          string   `json:"reason"`
	ReasonGenerated bool     `json:"reasonGenerated"`
}

type batchRequest struct {
	TargetDate string `json:"targetDate"`
}

// Server 组装路由。
type Server struct {
	recs    Recommendations
	checks  map[string]HealthCheck
	log     *zap.Logger
	timeout time.Duration
}

// NewServer 创建 HTTP 服务。checks 为健康检查项，可为空。
func NewServer(recs Recommendations, checks map[string]HealthCheck, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{recs: recs, checks: checks, log: log.Named("http"), timeout: 10 * time.Second}
}

// Routes 返回挂好中间件的 chi 路由。
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(s.recoverer)
	r.Use(metrics.Middleware())

	r.Get("/healthz", s.health)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v3/recommendations", func(r chi.Router) {
		r.Post("/batch", s.triggerBatch)
		r.Post("/trigger/{userId}", s.triggerUser)
		r.Get("/{userId}", s.getRecommendations)
	})
	return r
}

func (s *Server) getRecommendations(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")
	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	results, err := s.recs.Get(ctx, userID)
	switch {
	case errors.Is(err, service.ErrComputing):
		writeJSON(w, http.StatusAccepted, Response{Code: http.StatusAccepted, Message: "推荐正在计算中，请稍后重试", Data: []Item{}})
		return
	case err != nil:
		s.writeError(w, r, err, "获取推荐列表失败")
		return
	}

	items := make([]Item, 0, len(results))
	for _, res := range results {
		tags := res.Tags
		if tags == nil {
			tags = []string{}
		}
		items = append(items, Item{
			UserID:          res.TargetUserID,
			Score:           res.Score,
			IsPriority:      res.IsPriority,
			Tags:            tags,
			Reason:          res.Reason,
			ReasonGenerated: res.Status == core.ReasonGenerated,
		})
	}
	writeJSON(w, http.StatusOK, Response{Code: http.StatusOK, Message: "获取推荐列表成功", Data: items})
}

func (s *Server) triggerUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")
	if err := s.recs.TriggerUser(r.Context(), userID); err != nil {
		s.writeError(w, r, err, "触发推荐任务失败")
		return
	}
	s.log.Info("user compute triggered", zap.String("user_id", userID))
	writeJSON(w, http.StatusOK, Response{Code: http.StatusOK, Message: "推荐任务已触发", Data: map[string]string{"userId": userID}})
}

func (s *Server) triggerBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, Response{Code: http.StatusBadRequest, Message: "请求体格式错误"})
		return
	}
	date, err := s.recs.TriggerBatch(r.Context(), req.TargetDate)
	if err != nil {
		s.writeError(w, r, err, "触发全量推荐任务失败")
		return
	}
	s.log.Info("batch dispatch triggered", zap.String("batch_date", date))
	writeJSON(w, http.StatusOK, Response{Code: http.StatusOK, Message: "全量推荐任务已触发", Data: map[string]string{"targetDate": date}})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	status := make(map[string]string, len(s.checks))
	healthy := true
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			status[name] = err.Error()
			healthy = false
			continue
		}
		status[name] = "ok"
	}
	if !healthy {
		writeJSON(w, http.StatusServiceUnavailable, Response{Code: http.StatusServiceUnavailable, Message: "unhealthy", Data: status})
		return
	}
	writeJSON(w, http.StatusOK, Response{Code: http.StatusOK, Message: "ok", Data: status})
}

// writeError 把领域错误映射为 HTTP 状态码。
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	status := http.StatusInternalServerError
	switch {
	case core.IsNotFound(err):
		status, msg = http.StatusNotFound, "用户不存在"
	case core.IsInvalidInput(err):
		status = http.StatusBadRequest
	case core.IsUnavailable(err):
		status = http.StatusServiceUnavailable
	}
	if status >= http.StatusInternalServerError {
		s.log.Error(msg, zap.String("path", r.URL.Path),
			zap.String("request_id", chiMiddleware.GetReqID(r.Context())), zap.Error(err))
	}
	writeJSON(w, status, Response{Code: status, Message: msg})
}

func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				s.log.Error("panic in handler", zap.Any("panic", rec), zap.String("path", r.URL.Path), zap.Stack("stack"))
				writeJSON(w, http.StatusInternalServerError, Response{Code: http.StatusInternalServerError, Message: "internal error"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, body Response) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
