package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/hitoshi/chatfront/internal/history"
	"github.com/hitoshi/chatfront/internal/middleware"
	"github.com/hitoshi/chatfront/internal/model"
)

const (
	// defaultHistoryPageSize はpage_size未指定時の取得件数。
	defaultHistoryPageSize = 50
	// maxHistoryPageSize はpage_sizeの上限。
	maxHistoryPageSize = 200
)

// HistoryHandler はチャット履歴のHTTPハンドラー。
type HistoryHandler struct {
	loader history.Loader
}

// NewHistoryHandler はHistoryHandlerを生成する。
func NewHistoryHandler(loader history.Loader) *HistoryHandler {
	return &HistoryHandler{loader: loader}
}

// LoadHistory はチャット履歴を1ページ返す。
// GET /api/history?page_token=xxx&page_size=50
func (h *HistoryHandler) LoadHistory(w http.ResponseWriter, r *http.Request) {
	pageToken := r.URL.Query().Get("page_token")

	pageSize := defaultHistoryPageSize
	if raw := r.URL.Query().Get("page_size"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxHistoryPageSize {
			middleware.WriteError(w, model.NewInvalidInputError("page_sizeは1から200の整数で指定してください"))
			return
		}
		pageSize = n
	}

	page, err := h.loader.LoadHistory(r.Context(), pageToken, pageSize)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(page)
}
