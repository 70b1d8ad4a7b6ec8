// Package model はドメインモデルを定義する。
package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Session はIdP（Kratos）が発行した認証済みセッションを表す。
// セッションストアのみが保持し、それ以外の場所で変更してはならない。
type Session struct {
	ID                          string                 `json:"id"`
	Active                      bool                   `json:"active"`
	ExpiresAt                   *time.Time             `json:"expires_at,omitempty"`
	AuthenticatedAt             *time.Time             `json:"authenticated_at,omitempty"`
	IssuedAt                    *time.Time             `json:"issued_at,omitempty"`
	AuthenticatorAssuranceLevel string                 `json:"authenticator_assurance_level,omitempty"`
	AuthenticationMethods       []AuthenticationMethod `json:"authentication_methods,omitempty"`
	Devices                     []Device               `json:"devices,omitempty"`
	Identity                    Identity               `json:"identity"`
}

// AuthenticationMethod はセッション確立に使用された認証方式。
type AuthenticationMethod struct {
	Method      string     `json:"method"`
	AAL         string     `json:"aal,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Device はセッションに紐づく端末情報。
type Device struct {
	ID        string `json:"id"`
	IPAddress string `json:"ip_address,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	Location  string `json:"location,omitempty"`
}

// Identity はIdP上のアイデンティティを表す。
// Traitsはスキーマ依存のため生のJSONとして保持する。
type Identity struct {
	ID        uuid.UUID       `json:"id"`
	SchemaID  string          `json:"schema_id,omitempty"`
	State     string          `json:"state,omitempty"`
	Traits    json.RawMessage `json:"traits,omitempty"`
	CreatedAt *time.Time      `json:"created_at,omitempty"`
	UpdatedAt *time.Time      `json:"updated_at,omitempty"`
}

// Traits はチャットのアイデンティティスキーマで定義された属性。
type Traits struct {
	Email string `json:"email"`
	Name  Name   `json:"name"`
}

// Name は氏名。
type Name struct {
	First string `json:"first"`
	Last  string `json:"last"`
}

// IdentityID はセッションのアイデンティティIDを返す。
func (s *Session) IdentityID() uuid.UUID {
	if s == nil {
		return uuid.Nil
	}
	return s.Identity.ID
}

// IsAuthenticated はセッションが認証済みとして扱えるかを判定する。
// active=trueかつ有効期限（設定されている場合）を過ぎていないことが条件。
func (s *Session) IsAuthenticated(now time.Time) bool {
	if s == nil || !s.Active {
		return false
	}
	if s.ExpiresAt != nil && !now.Before(*s.ExpiresAt) {
		return false
	}
	return true
}

// DecodeTraits はTraitsをチャットのスキーマとしてデコードする。
// 未知のフィールドは無視する。
func (i Identity) DecodeTraits() (Traits, error) {
	var t Traits
	if len(i.Traits) == 0 {
		return t, nil
	}
	err := json.Unmarshal(i.Traits, &t)
	return t, err
}

// Clone はセッションのディープコピーを返す。
// ストア外にセッションを渡す際に使用し、内部状態の変更を防ぐ。
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.ExpiresAt = cloneTime(s.ExpiresAt)
	c.AuthenticatedAt = cloneTime(s.AuthenticatedAt)
	c.IssuedAt = cloneTime(s.IssuedAt)
	if s.AuthenticationMethods != nil {
		c.AuthenticationMethods = make([]AuthenticationMethod, len(s.AuthenticationMethods))
		for i, m := range s.AuthenticationMethods {
			m.CompletedAt = cloneTime(m.CompletedAt)
			c.AuthenticationMethods[i] = m
		}
	}
	if s.Devices != nil {
		c.Devices = append([]Device(nil), s.Devices...)
	}
	if s.Identity.Traits != nil {
		c.Identity.Traits = append(json.RawMessage(nil), s.Identity.Traits...)
	}
	c.Identity.CreatedAt = cloneTime(s.Identity.CreatedAt)
	c.Identity.UpdatedAt = cloneTime(s.Identity.UpdatedAt)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// RegistrationData はユーザー登録フォームの入力値。
type RegistrationData struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
}

// RegistrationResult は登録フロー完了時にIdPが返すデータ。
// IdPの設定によってはSessionも含まれる。
type RegistrationResult struct {
	Identity Identity `json:"identity"`
	Session  *Session `json:"session,omitempty"`
}
