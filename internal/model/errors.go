// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
	"net/http"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, chat, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInvalidCredentials  = "INVALID_CREDENTIALS"
	ErrCodeRegistrationFailed  = "REGISTRATION_FAILED"
	ErrCodeProviderRejected    = "PROVIDER_REJECTED"
	ErrCodeProviderUnavailable = "PROVIDER_UNAVAILABLE"
	ErrCodeFlowExpired         = "FLOW_EXPIRED"
	ErrCodeHistoryUnavailable  = "HISTORY_UNAVAILABLE"
	ErrCodeUnauthorized        = "UNAUTHORIZED"
	ErrCodeInvalidInput        = "INVALID_INPUT"
	ErrCodeSessionPersist      = "SESSION_PERSIST_FAILED"
)

// ProviderError はIdPのフロー処理（作成または送信）が失敗したことを表す。
// IdPが返したステータスとメッセージを可能な範囲で保持し、
// 元のエラーはUnwrapでそのまま取り出せる。
type ProviderError struct {
	Op         FlowKind // 対象の操作
	Step       string   // "create" または "submit"
	StatusCode int      // HTTPステータス。通信自体が失敗した場合は0
	Reason     string   // IdPのエラー理由（error.reason）
	Message    string   // 正規化済みメッセージ
	Body       []byte   // IdPのレスポンスボディ（加工しない）
	Err        error    // 下位のエラー
}

// Error はerrorインターフェースを実装する。
func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("identity provider %s %s failed with status %d: %s", e.Op, e.Step, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("identity provider %s %s failed: %s", e.Op, e.Step, e.Message)
}

// Unwrap は下位のエラーを返す。
func (e *ProviderError) Unwrap() error {
	return e.Err
}

// TransportError はチャット履歴APIなどIdP以外への通信失敗を表す。
type TransportError struct {
	Status  int    // HTTPステータス。レスポンスがない場合は0
	Message string // 正規化済みメッセージ
	Err     error
}

// Error はerrorインターフェースを実装する。
func (e *TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("transport error (status %d): %s", e.Status, e.Message)
	}
	return fmt.Sprintf("transport error: %s", e.Message)
}

// Unwrap は下位のエラーを返す。
func (e *TransportError) Unwrap() error {
	return e.Err
}

// ToAPIError は境界エラーをUI表示用のAPIErrorに変換する。
// 変換できないエラーはnilを返す。
func ToAPIError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	var provErr *ProviderError
	if errors.As(err, &provErr) {
		return providerAPIError(provErr)
	}

	var trErr *TransportError
	if errors.As(err, &trErr) {
		if trErr.Status == http.StatusUnauthorized || trErr.Status == http.StatusForbidden {
			return NewUnauthorizedError()
		}
		return &APIError{
			Code:     ErrCodeHistoryUnavailable,
			Message:  fmt.Sprintf("チャット履歴の取得に失敗しました: %s", trErr.Message),
			Category: "chat",
			Action:   "しばらく待ってから再度お試しください。",
		}
	}

	return nil
}

func providerAPIError(e *ProviderError) *APIError {
	switch {
	case e.StatusCode == 0 || e.StatusCode >= 500:
		return &APIError{
			Code:     ErrCodeProviderUnavailable,
			Message:  "認証サーバーに接続できませんでした。",
			Category: "system",
			Action:   "しばらく待ってから再度お試しください。",
		}
	case e.StatusCode == http.StatusGone:
		return &APIError{
			Code:     ErrCodeFlowExpired,
			Message:  "認証フローの有効期限が切れました。",
			Category: "auth",
			Action:   "もう一度操作をやり直してください。",
		}
	case e.Op == FlowLogin && e.Step == "submit":
		return &APIError{
			Code:     ErrCodeInvalidCredentials,
			Message:  nonEmpty(e.Message, "メールアドレスまたはパスワードが正しくありません。"),
			Category: "auth",
			Action:   "入力内容を確認して再度ログインしてください。",
		}
	case e.Op == FlowRegistration && e.Step == "submit":
		return &APIError{
			Code:     ErrCodeRegistrationFailed,
			Message:  nonEmpty(e.Message, "ユーザー登録に失敗しました。"),
			Category: "validation",
			Action:   "入力内容を確認して再度お試しください。",
		}
	default:
		return &APIError{
			Code:     ErrCodeProviderRejected,
			Message:  nonEmpty(e.Message, "認証サーバーがリクエストを拒否しました。"),
			Category: "auth",
			Action:   "もう一度操作をやり直してください。",
		}
	}
}

func nonEmpty(s, fallback string) string {
	if s != "" {
		return s
	}
	return fallback
}

// NewUnauthorizedError は未認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewInvalidInputError は入力値エラーを生成する。
func NewInvalidInputError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidInput,
		Message:  fmt.Sprintf("入力内容が正しくありません: %s", reason),
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

// NewSessionPersistError はセッションの保存に失敗した場合のエラーを生成する。
func NewSessionPersistError() *APIError {
	return &APIError{
		Code:     ErrCodeSessionPersist,
		Message:  "セッションの保存に失敗しました。",
		Category: "system",
		Action:   "しばらく待ってから再度ログインしてください。",
	}
}
