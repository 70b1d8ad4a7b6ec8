// Package security はアプリケーションのセキュリティ機能を提供する。
//
// MessageSanitizer はチャット履歴APIから受け取ったメッセージ本文をサニタイズし、
// UIへ渡す前にスクリプトやイベント属性を取り除く。
// bluemondayの許可リストベースのポリシーで、簡単な装飾タグとリンクのみを通過させる。
package security

import (
	"github.com/microcosm-cc/bluemonday"
)

// MessageSanitizer はメッセージ本文のサニタイズ機能のインターフェースを定義する。
type MessageSanitizer interface {
	// Sanitize はメッセージ本文をサニタイズして安全な文字列を返す。
	// 許可タグ（br, strong, em, code, pre, a）以外は除去し、
	// aタグのhrefはhttp/httpsのみ許可する。
	// 同一入力に対して常に同一出力を返す（冪等）。
	Sanitize(text string) string
}

// messageSanitizer はMessageSanitizerの実装。
// bluemondayのポリシーはスレッドセーフに利用できる。
type messageSanitizer struct {
	policy *bluemonday.Policy
}

// NewMessageSanitizer はMessageSanitizerの新しいインスタンスを生成する。
// ポリシーの内容:
//   - 許可タグ: br, strong, em, code, pre, a
//   - aタグ: http/httpsのみ、target="_blank" と rel="nofollow noreferrer noopener" を付与
//   - それ以外のタグと全てのon*イベント属性は除去
func NewMessageSanitizer() *messageSanitizer {
	p := bluemonday.NewPolicy()

	p.AllowElements("br", "strong", "em", "code", "pre")

	p.AllowAttrs("href").OnElements("a")
	p.AllowURLSchemes("http", "https")
	p.AllowRelativeURLs(false)
	p.RequireParseableURLs(true)
	p.RequireNoFollowOnLinks(true)
	p.RequireNoReferrerOnLinks(true)
	p.AddTargetBlankToFullyQualifiedLinks(true)

	return &messageSanitizer{
		policy: p,
	}
}

// Sanitize はメッセージ本文をサニタイズする。
func (s *messageSanitizer) Sanitize(text string) string {
	if text == "" {
		return ""
	}
	return s.policy.Sanitize(text)
}

// compile-time interface check
var _ MessageSanitizer = (*messageSanitizer)(nil)
