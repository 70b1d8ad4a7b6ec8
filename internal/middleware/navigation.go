// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/hitoshi/chatfront/internal/model"
	"github.com/hitoshi/chatfront/internal/navigation"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// identityIDContextKey はリクエストコンテキストにアイデンティティIDを格納するためのキー。
var identityIDContextKey = contextKey("identity_id")

// RouteGuard はルート遷移を判定するインターフェース。
// navigation.Guardが実装する。
type RouteGuard interface {
	Evaluate(route navigation.RouteName) navigation.Decision
}

// SessionReader はセッションストアの読み取りインターフェース。
type SessionReader interface {
	Get() (*model.Session, bool)
}

// NewNavigationGuardMiddleware はページルートの前段でナビゲーションガードを評価するミドルウェアを返す。
// 許可の場合のみ次のハンドラーを呼び出し、リダイレクトの場合は303で遷移先パスへ誘導する。
func NewNavigationGuardMiddleware(guard RouteGuard, route navigation.RouteName) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d := guard.Evaluate(route)
			if d.Allow {
				next.ServeHTTP(w, r)
				return
			}

			target := navigation.Path(d.RedirectTo)
			if target == "" {
				target = "/"
			}
			http.Redirect(w, r, target, http.StatusSeeOther)
		})
	}
}

// NewAPIGuardMiddleware はAPIルート向けにナビゲーションガードを評価するミドルウェアを返す。
// 拒否された場合はリダイレクトせず、統一フォーマットの401を返す。
func NewAPIGuardMiddleware(guard RouteGuard, route navigation.RouteName) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d := guard.Evaluate(route)
			if !d.Allow {
				slog.Debug("api request rejected by navigation guard",
					slog.String("path", r.URL.Path),
					slog.String("decision", d.String()),
				)
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// NewSessionContextMiddleware は保持中のセッションのアイデンティティIDをリクエストコンテキストに注入する。
// セッションがない場合は何もしない。アクセスログの識別に使用する。
func NewSessionContextMiddleware(sessions SessionReader) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if sess, ok := sessions.Get(); ok {
				r = r.WithContext(ContextWithIdentityID(r.Context(), sess.IdentityID().String()))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// IdentityIDFromContext はリクエストコンテキストからアイデンティティIDを取得する。
func IdentityIDFromContext(ctx context.Context) (string, error) {
	id, ok := ctx.Value(identityIDContextKey).(string)
	if !ok || id == "" {
		return "", fmt.Errorf("identity ID not found in context")
	}
	return id, nil
}

// ContextWithIdentityID はコンテキストにアイデンティティIDを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithIdentityID(ctx context.Context, identityID string) context.Context {
	return context.WithValue(ctx, identityIDContextKey, identityID)
}
