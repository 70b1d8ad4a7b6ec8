// Package session はIdPから得た認証済みセッションを1件だけ保持するストアを提供する。
// 値は永続化レコードへ先に書き込み、書き込みが成功した場合のみメモリ上の値を差し替える。
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"

	"github.com/hitoshi/chatfront/internal/model"
	"github.com/hitoshi/chatfront/internal/repository"
)

// 書き込み操作の種別（メトリクスのラベル）
const (
	OpLoad  = "load"
	OpSet   = "set"
	OpReset = "reset"
)

// 書き込み結果（メトリクスのラベル）
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// WriteRecorder はストア操作の結果を記録するインターフェース。
type WriteRecorder interface {
	RecordSessionWrite(op, outcome string)
}

// Credential はIdPがセッションに紐づけて発行したCookie。
// 再起動後も同じIdPセッションで通信できるよう、セッションと一緒に保存する。
type Credential struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// record は永続化レコードの形式。
// {"session": {...}, "credentials": [...]} の1ドキュメントをストアキーに対して保存する。
type record struct {
	Session     *model.Session `json:"session"`
	Credentials []Credential   `json:"credentials,omitempty"`
}

// Store はプロセス全体で1つのセッションスロットを持つストア。
// Get はガードから並行に呼ばれるため、Set/Reset とはRWMutexで排他する。
type Store struct {
	repo     repository.SessionRecordRepository
	key      string
	recorder WriteRecorder

	// jar と providerURL が設定されている場合、IdPのCookieをレコードと同期する。
	jar         http.CookieJar
	providerURL *url.URL

	// writeMu は永続化と差し替えを1つの操作として直列化する。
	writeMu sync.Mutex
	mu      sync.RWMutex
	current *model.Session
}

// Option はStoreの生成オプション。
type Option func(*Store)

// WithRecorder は操作結果の記録先を設定する。
func WithRecorder(r WriteRecorder) Option {
	return func(s *Store) {
		s.recorder = r
	}
}

// WithCredentialJar はIdPのCookieを保持するJarを設定する。
// Set はJar内のproviderURL向けCookieをレコードに保存し、Load はそれをJarへ戻す。
// Reset と ResetIf はJar内の該当Cookieを失効させる。
func WithCredentialJar(jar http.CookieJar, providerURL *url.URL) Option {
	return func(s *Store) {
		if jar == nil || providerURL == nil {
			return
		}
		u := *providerURL
		u.Path = "/"
		u.RawQuery = ""
		s.jar = jar
		s.providerURL = &u
	}
}

// New はStoreを生成する。永続化レコードの読み込みは行わない。
func New(repo repository.SessionRecordRepository, key string, opts ...Option) *Store {
	s := &Store{
		repo: repo,
		key:  key,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open はStoreを生成し、永続化済みのセッションを読み込む。
// 起動時に1回だけ呼び出す。
func Open(ctx context.Context, repo repository.SessionRecordRepository, key string, opts ...Option) (*Store, error) {
	s := New(repo, key, opts...)
	if err := s.Load(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Load は永続化レコードからセッションを読み込み、メモリ上の値を置き換える。
// レコードが存在しない場合は空の状態になる。
// Jarが設定されている場合、保存済みのCookieをJarへ戻す。
// Jarが設定されていてCookieを持たないレコードは、空の状態として読み込む。
func (s *Store) Load(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	payload, err := s.repo.Load(ctx, s.key)
	if err != nil {
		s.record(OpLoad, OutcomeError)
		return fmt.Errorf("failed to load session: %w", err)
	}

	var loaded *model.Session
	if len(payload) > 0 {
		var rec record
		if err := json.Unmarshal(payload, &rec); err != nil {
			s.record(OpLoad, OutcomeError)
			return fmt.Errorf("failed to decode session record: %w", err)
		}
		loaded = rec.Session

		if loaded != nil && s.jar != nil {
			if len(rec.Credentials) == 0 {
				slog.Warn("persisted session has no provider credential, treating as signed out",
					slog.String("session_id", loaded.ID),
				)
				loaded = nil
			} else {
				s.restoreCredentials(rec.Credentials)
			}
		}
	}

	s.mu.Lock()
	s.current = loaded
	s.mu.Unlock()

	s.record(OpLoad, OutcomeOK)
	slog.Debug("session loaded", slog.Bool("present", loaded != nil))
	return nil
}

// Get は現在のセッションのコピーを返す。保持していない場合はfalseを返す。
func (s *Store) Get() (*model.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.current == nil {
		return nil, false
	}
	return s.current.Clone(), true
}

// Set はセッションを保存する。
// 永続化に失敗した場合はエラーを返し、以前の状態をそのまま残す。
func (s *Store) Set(ctx context.Context, sess *model.Session) error {
	if sess == nil {
		return s.Reset(ctx)
	}

	value := sess.Clone()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	payload, err := json.Marshal(record{Session: value, Credentials: s.credentials()})
	if err != nil {
		s.record(OpSet, OutcomeError)
		return fmt.Errorf("failed to encode session: %w", err)
	}

	if err := s.repo.Save(ctx, s.key, payload); err != nil {
		s.record(OpSet, OutcomeError)
		return fmt.Errorf("failed to persist session: %w", err)
	}

	s.mu.Lock()
	s.current = value
	s.mu.Unlock()

	s.record(OpSet, OutcomeOK)
	return nil
}

// Reset はセッションを破棄し、永続化レコードを削除する。
// 削除に失敗した場合はエラーを返し、以前の状態をそのまま残す。
func (s *Store) Reset(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return s.resetLocked(ctx)
}

// ResetIf は現在のセッションがpredを満たす場合だけ破棄する。
// predの評価と破棄は書き込みロックを保持したまま行うため、
// 評価後に完了したSetの値を消すことはない。
// セッションを保持していない場合はpredを呼ばずにfalseを返す。
func (s *Store) ResetIf(ctx context.Context, pred func(*model.Session) bool) (bool, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.RLock()
	current := s.current
	s.mu.RUnlock()

	if current == nil || !pred(current.Clone()) {
		return false, nil
	}
	if err := s.resetLocked(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// resetLocked はwriteMuを保持した状態で呼び出す。
func (s *Store) resetLocked(ctx context.Context) error {
	if err := s.repo.Delete(ctx, s.key); err != nil {
		s.record(OpReset, OutcomeError)
		return fmt.Errorf("failed to clear session: %w", err)
	}

	s.mu.Lock()
	s.current = nil
	s.mu.Unlock()

	s.expireCredentials()
	s.record(OpReset, OutcomeOK)
	return nil
}

// credentials はJarが保持するIdP向けCookieを返す。
func (s *Store) credentials() []Credential {
	if s.jar == nil {
		return nil
	}
	cookies := s.jar.Cookies(s.providerURL)
	if len(cookies) == 0 {
		return nil
	}
	creds := make([]Credential, 0, len(cookies))
	for _, c := range cookies {
		creds = append(creds, Credential{Name: c.Name, Value: c.Value})
	}
	return creds
}

func (s *Store) restoreCredentials(creds []Credential) {
	cookies := make([]*http.Cookie, 0, len(creds))
	for _, c := range creds {
		cookies = append(cookies, &http.Cookie{Name: c.Name, Value: c.Value, Path: "/"})
	}
	s.jar.SetCookies(s.providerURL, cookies)
}

func (s *Store) expireCredentials() {
	if s.jar == nil {
		return
	}
	var expired []*http.Cookie
	for _, c := range s.jar.Cookies(s.providerURL) {
		expired = append(expired, &http.Cookie{Name: c.Name, Path: "/", MaxAge: -1})
	}
	if len(expired) > 0 {
		s.jar.SetCookies(s.providerURL, expired)
	}
}

func (s *Store) record(op, outcome string) {
	if s.recorder != nil {
		s.recorder.RecordSessionWrite(op, outcome)
	}
}
