// Package sweep は期限切れセッションのバックグラウンド掃除を提供する。
package sweep

import (
	"context"
	"log/slog"
	"time"

	"github.com/hitoshi/chatfront/internal/model"
)

// SessionStore は掃除対象のセッションストア。
// ResetIf は条件の評価と破棄をストアの書き込みと同じ順序付けの中で行う。
type SessionStore interface {
	ResetIf(ctx context.Context, pred func(*model.Session) bool) (bool, error)
}

// Option はSweeperの設定を変更する関数。
type Option func(*Sweeper)

// WithClock は現在時刻の取得関数を差し替える。
func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) { s.now = now }
}

// Sweeper は一定間隔でセッションストアを確認し、
// 期限切れまたは非アクティブのセッションを破棄する。
type Sweeper struct {
	store  SessionStore
	logger *slog.Logger
	now    func() time.Time
}

// NewSweeper はSweeperの新しいインスタンスを生成する。
func NewSweeper(store SessionStore, logger *slog.Logger, opts ...Option) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Sweeper{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start は指定間隔のティッカーでSweeperを起動する。
// コンテキストがキャンセルされるまで実行を継続する。
func (s *Sweeper) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("セッション掃除を開始しました",
		slog.Duration("interval", interval),
	)

	// 起動直後に1回実行
	s.runAndLog(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("セッション掃除を停止しました")
			return
		case <-ticker.C:
			s.runAndLog(ctx)
		}
	}
}

func (s *Sweeper) runAndLog(ctx context.Context) {
	if _, err := s.RunOnce(ctx); err != nil {
		s.logger.Error("期限切れセッションの破棄に失敗しました",
			slog.String("error", err.Error()),
		)
	}
}

// RunOnce はセッションを1回確認し、認証済みとして扱えない場合は破棄する。
// 破棄した場合はtrueを返す。
func (s *Sweeper) RunOnce(ctx context.Context) (bool, error) {
	now := s.now()
	var stale *model.Session
	removed, err := s.store.ResetIf(ctx, func(sess *model.Session) bool {
		if sess.IsAuthenticated(now) {
			return false
		}
		stale = sess
		return true
	})
	if err != nil || !removed {
		return false, err
	}

	attrs := []any{slog.String("session_id", stale.ID)}
	if stale.ExpiresAt != nil {
		attrs = append(attrs, slog.Time("expires_at", *stale.ExpiresAt))
	}
	s.logger.Info("期限切れのセッションを破棄しました", attrs...)
	return true, nil
}
