package internal

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/koopa0/system-design/trivia-rooms/internal/ledger"
)

// HealthCheck 外部依賴的健康檢查（資料庫、快取）
type HealthCheck func(ctx context.Context) error

// Handler HTTP 請求處理器
//
// 即時功能都在 WebSocket 上，這裡只提供唯讀查詢與健康檢查。
type Handler struct {
	manager *Manager
	logger  *slog.Logger
	checks  map[string]HealthCheck
}

// NewHandler 創建 HTTP 處理器
func NewHandler(manager *Manager, logger *slog.Logger) *Handler {
	return &Handler{
		manager: manager,
		logger:  logger,
		checks:  make(map[string]HealthCheck),
	}
}

// AddHealthCheck 註冊依賴的健康檢查，任一失敗時 /health 回 503
func (h *Handler) AddHealthCheck(name string, check HealthCheck) {
	h.checks[name] = check
}

// Routes 設定路由
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	// 中間件鏈
	wrap := func(handler http.HandlerFunc) http.HandlerFunc {
		return h.recoverer(h.loggerMiddleware(handler))
	}

	mux.HandleFunc("GET /api/v1/rooms", wrap(h.listRooms))
	mux.HandleFunc("GET /api/v1/rooms/{room_id}", wrap(h.getRoomDetail))
	mux.HandleFunc("GET /api/v1/scores", wrap(h.topScores))

	mux.HandleFunc("GET /health", wrap(h.health))
	mux.HandleFunc("GET /stats", wrap(h.stats))

	return mux
}

// listRooms 列出房間（依人數遞減）
func (h *Handler) listRooms(w http.ResponseWriter, r *http.Request) {
	rooms := h.manager.ListRooms()
	h.jsonResponse(w, map[string]any{
		"rooms": rooms,
		"total": len(rooms),
	}, http.StatusOK)
}

// getRoomDetail 房間詳情，附帶遊戲階段
func (h *Handler) getRoomDetail(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("room_id")

	room, ok := h.manager.GetRoom(roomID)
	if !ok {
		h.errorResponse(w, "room not found", http.StatusNotFound)
		return
	}

	h.jsonResponse(w, map[string]any{
		"room":  room,
		"phase": h.manager.GamePhase(roomID),
	}, http.StatusOK)
}

// topScores 排行榜，limit 預設 10、上限 100
func (h *Handler) topScores(w http.ResponseWriter, r *http.Request) {
	limit := ledger.DefaultTopLimit
	if l := r.URL.Query().Get("limit"); l != "" {
		val, err := strconv.Atoi(l)
		if err != nil || val <= 0 {
			h.errorResponse(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = ledger.NormalizeLimit(val)
	}

	scores, err := h.manager.TopScores(r.Context(), limit)
	if err != nil {
		h.logger.Error("讀取排行榜失敗", "error", err)
		h.errorResponse(w, "failed to fetch scores", http.StatusServiceUnavailable)
		return
	}

	h.jsonResponse(w, map[string]any{
		"scores": scores,
		"limit":  limit,
	}, http.StatusOK)
}

// health 健康檢查
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := "healthy"
	code := http.StatusOK
	deps := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			deps[name] = err.Error()
			status = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		deps[name] = "ok"
	}

	h.jsonResponse(w, map[string]any{
		"status":       status,
		"time":         time.Now().Unix(),
		"dependencies": deps,
	}, code)
}

// stats 統計資訊
func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	h.jsonResponse(w, h.manager.Stats(), http.StatusOK)
}

// jsonResponse 返回 JSON 響應
func (h *Handler) jsonResponse(w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("編碼 JSON 失敗", "error", err)
	}
}

// errorResponse 返回錯誤響應
func (h *Handler) errorResponse(w http.ResponseWriter, message string, status int) {
	h.jsonResponse(w, map[string]any{
		"error": message,
	}, status)
}

// loggerMiddleware 日誌中間件
func (h *Handler) loggerMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next(ww, r)

		h.logger.Info("HTTP 請求",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.statusCode,
			"duration", time.Since(start))
	}
}

// recoverer panic 恢復中間件
func (h *Handler) recoverer(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				h.logger.Error("處理請求時發生 panic",
					"error", err,
					"method", r.Method,
					"path", r.URL.Path)
				h.errorResponse(w, "internal server error", http.StatusInternalServerError)
			}
		}()
		next(w, r)
	}
}

// responseWriter 包裝 ResponseWriter 以獲取狀態碼
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}
