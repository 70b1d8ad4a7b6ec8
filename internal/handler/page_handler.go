package handler

import (
	"encoding/json"
	"net/http"

	"github.com/hitoshi/chatfront/internal/model"
	"github.com/hitoshi/chatfront/internal/navigation"
)

// viewResponse は画面ルートのレスポンス。
// 描画はフロントエンドが担うため、表示すべき画面名だけを返す。
type viewResponse struct {
	View    string           `json:"view"`
	Path    string           `json:"path,omitempty"`
	Session *sessionResponse `json:"session,omitempty"`
}

// PageHandler はガード通過後の画面ルートを処理する。
type PageHandler struct {
	sessions SessionReader
}

// SessionReader はセッションストアの読み取りインターフェース。
type SessionReader interface {
	Get() (*model.Session, bool)
}

// NewPageHandler はPageHandlerを生成する。
func NewPageHandler(sessions SessionReader) *PageHandler {
	return &PageHandler{sessions: sessions}
}

// View は指定ルートの画面を返すハンドラーを生成する。
func (h *PageHandler) View(route navigation.RouteName) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := viewResponse{
			View: string(route),
			Path: navigation.Path(route),
		}
		if route == navigation.RouteChat {
			if sess, ok := h.sessions.Get(); ok {
				sr := toSessionResponse(sess)
				resp.Session = &sr
			}
		}
		writeView(w, http.StatusOK, resp)
	}
}

// NotFound は未定義ルートの画面を返す。
func (h *PageHandler) NotFound(w http.ResponseWriter, r *http.Request) {
	writeView(w, http.StatusNotFound, viewResponse{View: string(navigation.RouteNotFound)})
}

func writeView(w http.ResponseWriter, status int, resp viewResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}
