// Package navigation はルート遷移ごとにセッション状態から許可/リダイレクトを判定する
// ナビゲーションガードを提供する。
package navigation

import (
	"log/slog"
	"time"

	"github.com/hitoshi/chatfront/internal/model"
)

// RouteName はナビゲーション対象のルート名。
type RouteName string

const (
	// RouteChat はチャット画面。認証済みユーザーのデフォルトルート。
	RouteChat RouteName = "chat"
	// RouteSignIn はログイン画面。
	RouteSignIn RouteName = "signin"
	// RouteSignUp はユーザー登録画面。
	RouteSignUp RouteName = "signup"
	// RouteNotFound は未定義パスを受けるキャッチオールルート。
	RouteNotFound RouteName = "not-found"
)

// RouteClass はルートの分類。
type RouteClass int

const (
	// ClassProtected は有効なセッションを必要とするルート。
	ClassProtected RouteClass = iota
	// ClassPublicUnauthenticated はセッションなしで到達でき、認証済みでは到達させないルート。
	ClassPublicUnauthenticated
)

// String はメトリクスラベルやログ用の名前を返す。
func (c RouteClass) String() string {
	if c == ClassPublicUnauthenticated {
		return "public-unauthenticated"
	}
	return "protected"
}

// Classify はルート名を分類する。
// signin/signup以外は、キャッチオールを含めてすべてprotectedとして扱う。
func Classify(name RouteName) RouteClass {
	switch name {
	case RouteSignIn, RouteSignUp:
		return ClassPublicUnauthenticated
	default:
		return ClassProtected
	}
}

// Decision はガードの判定結果。
// Allowがfalseの場合、RedirectToに遷移先ルートが入る。
type Decision struct {
	Allow      bool
	RedirectTo RouteName
}

// Allowed は遷移を許可する判定。
func Allowed() Decision {
	return Decision{Allow: true}
}

// RedirectTo は指定ルートへのリダイレクト判定。
func RedirectTo(route RouteName) Decision {
	return Decision{RedirectTo: route}
}

// String はログ用の表現を返す。
func (d Decision) String() string {
	if d.Allow {
		return "allow"
	}
	return "redirect:" + string(d.RedirectTo)
}

// Decide はセッション状態とルート分類から判定を行う純粋関数。
//
//	認証済み   + public-unauthenticated → chatへリダイレクト
//	認証済み   + protected              → 許可
//	未認証     + public-unauthenticated → 許可
//	未認証     + protected              → signinへリダイレクト
func Decide(authenticated bool, class RouteClass) Decision {
	switch {
	case authenticated && class == ClassPublicUnauthenticated:
		return RedirectTo(RouteChat)
	case authenticated:
		return Allowed()
	case class == ClassPublicUnauthenticated:
		return Allowed()
	default:
		return RedirectTo(RouteSignIn)
	}
}

// SessionReader はガードが参照するセッションストアの読み取りインターフェース。
type SessionReader interface {
	Get() (*model.Session, bool)
}

// DecisionRecorder はガード判定をメトリクスに記録するインターフェース。
type DecisionRecorder interface {
	RecordGuardDecision(route string, decision string)
}

// Guard はセッションストアを入力とするナビゲーションガード。
type Guard struct {
	sessions SessionReader
	recorder DecisionRecorder
	logger   *slog.Logger
	now      func() time.Time
}

// Option はGuardの設定を変更する。
type Option func(*Guard)

// WithClock は有効期限判定に使用する時計を差し替える。
func WithClock(now func() time.Time) Option {
	return func(g *Guard) { g.now = now }
}

// WithRecorder は判定結果の記録先を設定する。
func WithRecorder(r DecisionRecorder) Option {
	return func(g *Guard) { g.recorder = r }
}

// WithLogger は判定のトレース出力先を設定する。
func WithLogger(l *slog.Logger) Option {
	return func(g *Guard) { g.logger = l }
}

// NewGuard はGuardを生成する。
func NewGuard(sessions SessionReader, opts ...Option) *Guard {
	g := &Guard{
		sessions: sessions,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Authenticated は現在のセッションが認証済みとして扱えるかを返す。
func (g *Guard) Authenticated() bool {
	sess, ok := g.sessions.Get()
	if !ok {
		return false
	}
	return sess.IsAuthenticated(g.now())
}

// Evaluate は指定ルートへの遷移を判定する。エラーは返さない。
// トレースとメトリクスは判定結果に影響しない。
func (g *Guard) Evaluate(route RouteName) Decision {
	authenticated := g.Authenticated()
	d := Decide(authenticated, Classify(route))

	g.logger.Debug("navigation guard decision",
		slog.String("route", string(route)),
		slog.Bool("authenticated", authenticated),
		slog.String("decision", d.String()),
	)
	if g.recorder != nil {
		g.recorder.RecordGuardDecision(string(route), d.String())
	}
	return d
}
