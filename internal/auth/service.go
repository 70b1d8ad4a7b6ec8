// Package auth はIdP（Ory Kratos）とのセルフサービスフローと、
// その結果をセッションストアへ反映するアカウント操作を提供する。
package auth

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hitoshi/chatfront/internal/model"
)

// SessionStore はアカウント操作が利用するセッションストアのインターフェース。
type SessionStore interface {
	Get() (*model.Session, bool)
	Set(ctx context.Context, sess *model.Session) error
	Reset(ctx context.Context) error
}

// Service はログイン・登録・ログアウトを実行し、セッションストアを更新する。
// アイデンティティ操作は同時に1つだけ実行する。
type Service struct {
	flows  FlowClient
	store  SessionStore
	logger *slog.Logger

	mu sync.Mutex
}

// NewService はServiceを生成する。
func NewService(flows FlowClient, store SessionStore, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		flows:  flows,
		store:  store,
		logger: logger,
	}
}

// Login はログインフローを実行し、得られたセッションをストアに保存する。
// フローが失敗した場合はストアを変更しない。
func (s *Service) Login(ctx context.Context, identifier, password string) (*model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.flows.Login(ctx, identifier, password)
	if err != nil {
		s.logger.Warn("login failed", slog.String("error", err.Error()))
		return nil, err
	}

	if err := s.store.Set(ctx, sess); err != nil {
		s.logger.Error("failed to persist session",
			slog.String("identity_id", sess.IdentityID().String()),
			slog.String("error", err.Error()),
		)
		return nil, model.NewSessionPersistError()
	}

	s.logger.Info("user logged in", slog.String("identity_id", sess.IdentityID().String()))
	return sess.Clone(), nil
}

// Register はユーザー登録フローを実行する。
// IdPがセッションを返してもストアには保存せず、改めてログインさせる。
func (s *Service) Register(ctx context.Context, data model.RegistrationData) (*model.RegistrationResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.flows.Register(ctx, data)
	if err != nil {
		s.logger.Warn("registration failed", slog.String("error", err.Error()))
		return nil, err
	}

	s.logger.Info("user registered", slog.String("identity_id", result.Identity.ID.String()))
	return result, nil
}

// Logout はIdPのログアウトを試み、その結果に関わらずストアを空にする。
// IdP側の失敗はログに記録するのみで呼び出し元には返さない。
func (s *Service) Logout(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	identityID := ""
	if sess, ok := s.store.Get(); ok {
		identityID = sess.IdentityID().String()
	}

	if err := s.flows.Logout(ctx); err != nil {
		s.logger.Warn("remote logout failed, clearing local session anyway",
			slog.String("identity_id", identityID),
			slog.String("error", err.Error()),
		)
	}

	// 呼び出し元がキャンセルされてもローカルの破棄は完了させる
	if err := s.store.Reset(context.WithoutCancel(ctx)); err != nil {
		return fmt.Errorf("failed to reset session: %w", err)
	}

	s.logger.Info("user logged out", slog.String("identity_id", identityID))
	return nil
}

// CurrentSession はストアが保持するセッションを返す。
func (s *Service) CurrentSession() (*model.Session, bool) {
	return s.store.Get()
}
