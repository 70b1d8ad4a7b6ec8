// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"mime"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/hitoshi/chatfront/internal/middleware"
	"github.com/hitoshi/chatfront/internal/model"
	"github.com/hitoshi/chatfront/internal/navigation"
)

// maxFormBodySize はサインイン・サインアップのリクエストボディの上限（64KB）。
const maxFormBodySize = 64 << 10

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	Login(ctx context.Context, identifier, password string) (*model.Session, error)
	Register(ctx context.Context, data model.RegistrationData) (*model.RegistrationResult, error)
	Logout(ctx context.Context) error
	CurrentSession() (*model.Session, bool)
}

// AuthHandler はサインイン・サインアップ・ログアウトのHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface) *AuthHandler {
	return &AuthHandler{service: service}
}

// signInRequest はサインインリクエストのボディ。
type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// signUpRequest はサインアップリクエストのボディ。
type signUpRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// sessionResponse は保持中のセッションのAPIレスポンス。
type sessionResponse struct {
	ID         string  `json:"id"`
	IdentityID string  `json:"identity_id"`
	Email      string  `json:"email,omitempty"`
	FirstName  string  `json:"first_name,omitempty"`
	LastName   string  `json:"last_name,omitempty"`
	ExpiresAt  *string `json:"expires_at,omitempty"`
}

// SignIn はログインフローを実行する。
// POST /signin
// 成功時はチャット画面へ303でリダイレクトする。
func (h *AuthHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if err := decodeRequest(r, &req, func(get func(string) string) {
		req.Email = get("email")
		req.Password = get("password")
	}); err != nil {
		middleware.WriteError(w, model.NewInvalidInputError("リクエストボディを解析できません"))
		return
	}

	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || req.Password == "" {
		middleware.WriteError(w, model.NewInvalidInputError("メールアドレスとパスワードは必須です"))
		return
	}

	if _, err := h.service.Login(r.Context(), req.Email, req.Password); err != nil {
		middleware.WriteError(w, err)
		return
	}

	http.Redirect(w, r, navigation.Path(navigation.RouteChat), http.StatusSeeOther)
}

// SignUp はユーザー登録フローを実行する。
// POST /signup
// 成功時はセッションを保存せず、サインイン画面へ303でリダイレクトする。
func (h *AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	var req signUpRequest
	if err := decodeRequest(r, &req, func(get func(string) string) {
		req.Email = get("email")
		req.Password = get("password")
		req.FirstName = get("first_name")
		req.LastName = get("last_name")
	}); err != nil {
		middleware.WriteError(w, model.NewInvalidInputError("リクエストボディを解析できません"))
		return
	}

	data := model.RegistrationData{
		Email:     strings.TrimSpace(req.Email),
		Password:  req.Password,
		FirstName: strings.TrimSpace(req.FirstName),
		LastName:  strings.TrimSpace(req.LastName),
	}
	if reason := validateRegistration(data); reason != "" {
		middleware.WriteError(w, model.NewInvalidInputError(reason))
		return
	}

	if _, err := h.service.Register(r.Context(), data); err != nil {
		middleware.WriteError(w, err)
		return
	}

	http.Redirect(w, r, navigation.Path(navigation.RouteSignIn), http.StatusSeeOther)
}

// Logout はIdPからログアウトし、保持中のセッションを破棄する。
// POST /logout
// IdP側の失敗に関わらずサインイン画面へ303でリダイレクトする。
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Logout(r.Context()); err != nil {
		slog.Error("failed to clear session on logout", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	http.Redirect(w, r, navigation.Path(navigation.RouteSignIn), http.StatusSeeOther)
}

// Session は保持中のセッションを返す。
// GET /api/session
// セッションがない場合は204を返す。
func (h *AuthHandler) Session(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.service.CurrentSession()
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toSessionResponse(sess))
}

func toSessionResponse(sess *model.Session) sessionResponse {
	resp := sessionResponse{
		ID:         sess.ID,
		IdentityID: sess.IdentityID().String(),
	}
	if sess.ExpiresAt != nil {
		v := sess.ExpiresAt.UTC().Format(time.RFC3339)
		resp.ExpiresAt = &v
	}
	if traits, err := sess.Identity.DecodeTraits(); err == nil {
		resp.Email = traits.Email
		resp.FirstName = traits.Name.First
		resp.LastName = traits.Name.Last
	}
	return resp
}

// validateRegistration は登録フォームの入力を検証し、問題があれば理由を返す。
func validateRegistration(data model.RegistrationData) string {
	switch {
	case data.Email == "":
		return "メールアドレスは必須です"
	case data.Password == "":
		return "パスワードは必須です"
	case data.FirstName == "" || data.LastName == "":
		return "氏名は必須です"
	}
	if _, err := mail.ParseAddress(data.Email); err != nil {
		return "メールアドレスの形式が正しくありません"
	}
	return ""
}

// decodeRequest はJSONまたはフォーム形式のリクエストボディを読み取る。
// フォーム形式の場合はfromFormにフィールド取得関数を渡す。
func decodeRequest(r *http.Request, dst any, fromForm func(get func(string) string)) error {
	r.Body = http.MaxBytesReader(nil, r.Body, maxFormBodySize)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/x-www-form-urlencoded":
		if err := r.ParseForm(); err != nil {
			return err
		}
		fromForm(r.PostForm.Get)
		return nil
	default:
		return json.NewDecoder(r.Body).Decode(dst)
	}
}
