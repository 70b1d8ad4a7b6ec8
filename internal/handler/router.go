package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/chatfront/internal/history"
	"github.com/hitoshi/chatfront/internal/middleware"
	"github.com/hitoshi/chatfront/internal/navigation"
)

// HealthCheckFunc はセッションストアのバックエンドへの疎通を確認する関数。
type HealthCheckFunc func(ctx context.Context) error

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Guard             middleware.RouteGuard
	Sessions          SessionReader
	CORSAllowedOrigin string
	CSRFConfig        middleware.CSRFConfig
	RateLimiter       *middleware.RateLimiter
	Logger            *slog.Logger

	// 認証
	AuthService AuthServiceInterface

	// チャット履歴
	HistoryLoader history.Loader

	// 運用
	HealthCheck    HealthCheckFunc
	MetricsHandler http.Handler
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → RealIP → SecurityHeaders → CORS → SessionContext → Logging → CSRF
//
// 画面ルートとキャッチオールはすべてナビゲーションガードを通過してからハンドラーに到達する。
// /health と /metrics はCSRFとガードの外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.NewSecurityHeadersMiddleware(deps.CSRFConfig.CookieSecure))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewSessionContextMiddleware(deps.Sessions))
	r.Use(middleware.NewLoggingMiddleware(logger))

	authHandler := NewAuthHandler(deps.AuthService)
	pageHandler := NewPageHandler(deps.Sessions)
	historyHandler := NewHistoryHandler(deps.HistoryLoader)

	guard := func(route navigation.RouteName) func(http.Handler) http.Handler {
		return middleware.NewNavigationGuardMiddleware(deps.Guard, route)
	}

	// --- 運用エンドポイント ---
	r.Get("/health", healthHandler(deps.HealthCheck))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))

		// --- 画面ルート ---
		r.With(guard(navigation.RouteChat)).Get("/", pageHandler.View(navigation.RouteChat))
		r.With(guard(navigation.RouteSignIn)).Get("/signin", pageHandler.View(navigation.RouteSignIn))
		r.With(guard(navigation.RouteSignUp)).Get("/signup", pageHandler.View(navigation.RouteSignUp))

		// --- アイデンティティ操作 ---
		// 送信はIdPへ中継する前にクライアント単位でレート制限する
		r.Group(func(r chi.Router) {
			if deps.RateLimiter != nil {
				r.Use(deps.RateLimiter.AuthMiddleware())
			}
			r.With(guard(navigation.RouteSignIn)).Post("/signin", authHandler.SignIn)
			r.With(guard(navigation.RouteSignUp)).Post("/signup", authHandler.SignUp)
			r.Post("/logout", authHandler.Logout)
		})

		// --- API ---
		r.Route("/api", func(r chi.Router) {
			r.Get("/session", authHandler.Session)
			r.Get("/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig).ServeHTTP)
			r.With(middleware.NewAPIGuardMiddleware(deps.Guard, navigation.RouteChat)).Get("/history", historyHandler.LoadHistory)
		})
	})

	// 未定義パスはキャッチオールルートとしてガードを通す
	r.NotFound(chi.Chain(
		middleware.NewCSRFMiddleware(deps.CSRFConfig),
		guard(navigation.RouteNotFound),
	).HandlerFunc(pageHandler.NotFound).ServeHTTP)

	return r
}

// healthHandler はプロセスとセッションストアの疎通を返すハンドラーを生成する。
// GET /health
func healthHandler(check HealthCheckFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			if err := check(r.Context()); err != nil {
				slog.Error("health check failed", slog.String("error", err.Error()))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusServiceUnavailable)
				w.Write([]byte(`{"status":"unavailable"}`))
				return
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	}
}
