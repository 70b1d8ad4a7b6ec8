package middleware

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"mime"
	"net/http"

	"github.com/hitoshi/chatfront/internal/model"
)

const (
	// csrfCookieName はCSRFトークンを保持するCookieの名前。
	// 画面のスクリプトから読み取れるよう、HttpOnlyではない。
	csrfCookieName = "csrf_token"

	// csrfHeaderName はCSRFトークンを送るリクエストヘッダー名。
	csrfHeaderName = "X-CSRF-Token"

	// csrfFormField はサインイン・サインアップのフォーム送信でCSRFトークンを送るフィールド名。
	csrfFormField = "csrf_token"

	// csrfCookieMaxAge はCSRFトークンCookieの有効期間（秒）。
	csrfCookieMaxAge = 24 * 60 * 60

	// ErrCodeCSRFInvalid はCSRFトークン検証失敗のエラーコード。
	ErrCodeCSRFInvalid = "CSRF_INVALID"
)

// CSRFConfig はCSRFミドルウェアの設定。
type CSRFConfig struct {
	CookieSecure bool
	CookieDomain string
}

// NewCSRFMiddleware はダブルサブミットCookie方式のCSRFミドルウェアを返す。
// 安全なメソッド（GET, HEAD, OPTIONS）は検証せず、Cookieが未設定なら発行する。
// それ以外のメソッドはCookieのトークンと、X-CSRF-Tokenヘッダーまたは
// フォームのcsrf_tokenフィールドの一致を要求する。
func NewCSRFMiddleware(config CSRFConfig) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isSafeMethod(r.Method) {
				ensureCSRFCookie(w, r, config)
				next.ServeHTTP(w, r)
				return
			}

			if reason := verifyCSRF(r); reason != "" {
				slog.Warn("CSRF validation failed",
					slog.String("reason", reason),
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
				)
				WriteErrorResponse(w, http.StatusForbidden, &model.APIError{
					Code:     ErrCodeCSRFInvalid,
					Message:  "リクエストの検証に失敗しました。",
					Category: "auth",
					Action:   "ページを再読み込みしてから再度お試しください。",
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// verifyCSRF はトークンを検証し、失敗した場合はその理由を返す。
func verifyCSRF(r *http.Request) string {
	cookie, err := r.Cookie(csrfCookieName)
	if err != nil || cookie.Value == "" {
		return "missing cookie token"
	}

	submitted := r.Header.Get(csrfHeaderName)
	if submitted == "" && isFormRequest(r) {
		submitted = r.PostFormValue(csrfFormField)
	}
	if submitted == "" {
		return "missing submitted token"
	}

	if subtle.ConstantTimeCompare([]byte(cookie.Value), []byte(submitted)) != 1 {
		return "token mismatch"
	}
	return ""
}

func isFormRequest(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mediaType == "application/x-www-form-urlencoded"
}

// NewCSRFTokenHandler はCSRFトークン取得エンドポイントのハンドラーを返す。
// GET /api/csrf-token
// 既存のCSRFトークンCookieがある場合はそれを返し、なければ新規発行する。
func NewCSRFTokenHandler(config CSRFConfig) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := ensureCSRFCookie(w, r, config)
		if token == "" {
			WriteInternalServerError(w)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"token": token,
		})
	})
}

// isSafeMethod はHTTPメソッドが安全（読み取り専用）かどうかを判定する。
func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	default:
		return false
	}
}

// ensureCSRFCookie はリクエストのCSRFトークンを返す。
// Cookieが未設定の場合は新しいトークンを発行してCookieに設定する。
// 発行に失敗した場合は空文字列を返す。
func ensureCSRFCookie(w http.ResponseWriter, r *http.Request, config CSRFConfig) string {
	if cookie, err := r.Cookie(csrfCookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}

	token, err := generateCSRFToken()
	if err != nil {
		slog.Error("failed to generate CSRF token", slog.String("error", err.Error()))
		return ""
	}

	http.SetCookie(w, &http.Cookie{
		Name:     csrfCookieName,
		Value:    token,
		Path:     "/",
		Domain:   config.CookieDomain,
		MaxAge:   csrfCookieMaxAge,
		HttpOnly: false,
		Secure:   config.CookieSecure,
		SameSite: http.SameSiteStrictMode,
	})
	return token
}

// generateCSRFToken は暗号的に安全なCSRFトークンを生成する。
func generateCSRFToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
