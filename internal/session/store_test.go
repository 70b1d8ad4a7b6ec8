package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/chatfront/internal/model"
	"github.com/hitoshi/chatfront/internal/repository"
)

// --- モック定義 ---

// mockRecordRepo はSessionRecordRepositoryのインメモリ実装。
// saveErr/deleteErr/loadErrを設定すると該当操作が失敗する。
type mockRecordRepo struct {
	mu        sync.Mutex
	records   map[string][]byte
	loadErr   error
	saveErr   error
	deleteErr error
}

func newMockRecordRepo() *mockRecordRepo {
	return &mockRecordRepo{records: make(map[string][]byte)}
}

func (m *mockRecordRepo) Load(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	data, ok := m.records[key]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), data...), nil
}

func (m *mockRecordRepo) Save(ctx context.Context, key string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.records[key] = append([]byte(nil), payload...)
	return nil
}

func (m *mockRecordRepo) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return m.deleteErr
	}
	delete(m.records, key)
	return nil
}

type writeCall struct {
	op      string
	outcome string
}

type mockRecorder struct {
	mu    sync.Mutex
	calls []writeCall
}

func (m *mockRecorder) RecordSessionWrite(op, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, writeCall{op: op, outcome: outcome})
}

func newTestSession(t *testing.T) *model.Session {
	t.Helper()
	expires := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	return &model.Session{
		ID:        "sess-1",
		Active:    true,
		ExpiresAt: &expires,
		Identity: model.Identity{
			ID:     uuid.MustParse("9f425a8d-7efc-4768-8f23-7647a74fdf13"),
			Traits: json.RawMessage(`{"email":"alice@example.com","name":{"first":"Alice","last":"Liddell"}}`),
		},
	}
}

func newTestJar(t *testing.T) (http.CookieJar, *url.URL) {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookiejar.New returned error: %v", err)
	}
	u, err := url.Parse("http://kratos.example.test:4433")
	if err != nil {
		t.Fatalf("url.Parse returned error: %v", err)
	}
	return jar, u
}

func cookieValue(jar http.CookieJar, u *url.URL, name string) string {
	for _, c := range jar.Cookies(u) {
		if c.Name == name {
			return c.Value
		}
	}
	return ""
}

// --- テスト ---

func TestStore_GetOnEmpty_ReturnsFalse(t *testing.T) {
	s := New(newMockRecordRepo(), "user")

	sess, ok := s.Get()
	if ok || sess != nil {
		t.Fatalf("expected empty store, got %+v", sess)
	}
}

func TestStore_SetThenGet_RoundTrip(t *testing.T) {
	repo := newMockRecordRepo()
	s := New(repo, "user")
	want := newTestSession(t)

	if err := s.Set(context.Background(), want); err != nil {
		t.Fatalf("Set returned error: %v", err)
	}

	got, ok := s.Get()
	if !ok {
		t.Fatal("expected session after Set")
	}
	if got.ID != want.ID || !got.Active || got.IdentityID() != want.IdentityID() {
		t.Errorf("got %+v, want %+v", got, want)
	}
	if !got.ExpiresAt.Equal(*want.ExpiresAt) {
		t.Errorf("ExpiresAt = %v, want %v", got.ExpiresAt, want.ExpiresAt)
	}
}

func TestStore_PersistedRecordLayout(t *testing.T) {
	repo := newMockRecordRepo()
	s := New(repo, "user")

	if err := s.Set(context.Background(), newTestSession(t)); err != nil {
		t.Fatalf("Set returned error: %v", err)
	}

	raw, ok := repo.records["user"]
	if !ok {
		t.Fatal("record should be stored under the store key")
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("record is not a JSON object: %v", err)
	}
	if _, ok := doc["session"]; !ok {
		t.Errorf("record should contain a session field, got %s", raw)
	}
}

func TestStore_SurvivesReload(t *testing.T) {
	repo := repository.NewFileSessionRecordRepo(t.TempDir())
	ctx := context.Background()

	first := New(repo, "user")
	if err := first.Set(ctx, newTestSession(t)); err != nil {
		t.Fatalf("Set returned error: %v", err)
	}

	// 再起動を模擬: 新しいストアを同じレコードから開く
	reloaded, err := Open(ctx, repo, "user")
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	got, ok := reloaded.Get()
	if !ok {
		t.Fatal("expected session after reload")
	}
	if got.ID != "sess-1" || !got.Active {
		t.Errorf("reloaded session = %+v", got)
	}
	traits, err := got.Identity.DecodeTraits()
	if err != nil {
		t.Fatalf("DecodeTraits returned error: %v", err)
	}
	if traits.Email != "alice@example.com" {
		t.Errorf("Email = %q, want %q", traits.Email, "alice@example.com")
	}
}

func TestStore_SetFailure_KeepsPriorState(t *testing.T) {
	repo := newMockRecordRepo()
	s := New(repo, "user")
	ctx := context.Background()

	prior := newTestSession(t)
	if err := s.Set(ctx, prior); err != nil {
		t.Fatalf("Set returned error: %v", err)
	}

	repo.saveErr = errors.New("disk full")
	next := newTestSession(t)
	next.ID = "sess-2"
	if err := s.Set(ctx, next); err == nil {
		t.Fatal("expected error when persistence fails")
	}

	got, ok := s.Get()
	if !ok || got.ID != "sess-1" {
		t.Errorf("prior session should remain readable, got %+v", got)
	}
}

func TestStore_Reset_ClearsMemoryAndRecord(t *testing.T) {
	repo := newMockRecordRepo()
	s := New(repo, "user")
	ctx := context.Background()

	if err := s.Set(ctx, newTestSession(t)); err != nil {
		t.Fatalf("Set returned error: %v", err)
	}
	if err := s.Reset(ctx); err != nil {
		t.Fatalf("Reset returned error: %v", err)
	}

	if _, ok := s.Get(); ok {
		t.Error("store should be empty after Reset")
	}
	if _, ok := repo.records["user"]; ok {
		t.Error("record should be deleted after Reset")
	}

	reloaded, err := Open(ctx, repo, "user")
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	if _, ok := reloaded.Get(); ok {
		t.Error("store should stay empty after reload")
	}
}

func TestStore_ResetFailure_KeepsPriorState(t *testing.T) {
	repo := newMockRecordRepo()
	s := New(repo, "user")
	ctx := context.Background()

	if err := s.Set(ctx, newTestSession(t)); err != nil {
		t.Fatalf("Set returned error: %v", err)
	}
	repo.deleteErr = errors.New("connection refused")

	if err := s.Reset(ctx); err == nil {
		t.Fatal("expected error when delete fails")
	}
	if _, ok := s.Get(); !ok {
		t.Error("prior session should remain readable after failed Reset")
	}
}

func TestStore_SetNil_ActsAsReset(t *testing.T) {
	repo := newMockRecordRepo()
	s := New(repo, "user")
	ctx := context.Background()

	if err := s.Set(ctx, newTestSession(t)); err != nil {
		t.Fatalf("Set returned error: %v", err)
	}
	if err := s.Set(ctx, nil); err != nil {
		t.Fatalf("Set(nil) returned error: %v", err)
	}
	if _, ok := s.Get(); ok {
		t.Error("store should be empty after Set(nil)")
	}
}

func TestStore_GetReturnsCopy(t *testing.T) {
	s := New(newMockRecordRepo(), "user")
	if err := s.Set(context.Background(), newTestSession(t)); err != nil {
		t.Fatalf("Set returned error: %v", err)
	}

	got, _ := s.Get()
	got.Active = false
	*got.ExpiresAt = time.Time{}

	again, _ := s.Get()
	if !again.Active {
		t.Error("mutating a returned session must not change the store")
	}
	if again.ExpiresAt.IsZero() {
		t.Error("mutating ExpiresAt of a returned session must not change the store")
	}
}

func TestStore_SetCopiesInput(t *testing.T) {
	s := New(newMockRecordRepo(), "user")
	in := newTestSession(t)
	if err := s.Set(context.Background(), in); err != nil {
		t.Fatalf("Set returned error: %v", err)
	}

	in.Active = false

	got, _ := s.Get()
	if !got.Active {
		t.Error("mutating the caller's session must not change the store")
	}
}

func TestOpen_LoadError_ReturnsError(t *testing.T) {
	repo := newMockRecordRepo()
	repo.loadErr = errors.New("redis: connection refused")

	if _, err := Open(context.Background(), repo, "user"); err == nil {
		t.Fatal("expected error when load fails")
	}
}

func TestOpen_CorruptRecord_ReturnsError(t *testing.T) {
	repo := newMockRecordRepo()
	repo.records["user"] = []byte("{not json")

	if _, err := Open(context.Background(), repo, "user"); err == nil {
		t.Fatal("expected error for a corrupt record")
	}
}

func TestOpen_EmptySessionRecord_IsEmpty(t *testing.T) {
	repo := newMockRecordRepo()
	repo.records["user"] = []byte(`{"session":null}`)

	s, err := Open(context.Background(), repo, "user")
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	if _, ok := s.Get(); ok {
		t.Error("store should be empty for a null session record")
	}
}

func TestStore_RecordsWrites(t *testing.T) {
	repo := newMockRecordRepo()
	rec := &mockRecorder{}
	s := New(repo, "user", WithRecorder(rec))
	ctx := context.Background()

	_ = s.Set(ctx, newTestSession(t))
	repo.saveErr = errors.New("boom")
	_ = s.Set(ctx, newTestSession(t))
	_ = s.Reset(ctx)

	want := []writeCall{
		{OpSet, OutcomeOK},
		{OpSet, OutcomeError},
		{OpReset, OutcomeOK},
	}
	if len(rec.calls) != len(want) {
		t.Fatalf("recorded %d calls, want %d: %+v", len(rec.calls), len(want), rec.calls)
	}
	for i, c := range want {
		if rec.calls[i] != c {
			t.Errorf("call[%d] = %+v, want %+v", i, rec.calls[i], c)
		}
	}
}

func TestStore_ConcurrentGetDuringSet(t *testing.T) {
	s := New(newMockRecordRepo(), "user")
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = s.Set(ctx, newTestSession(t))
		}()
		go func() {
			defer wg.Done()
			if sess, ok := s.Get(); ok && !sess.Active {
				t.Error("observed a partially written session")
			}
		}()
	}
	wg.Wait()
}

func TestStore_ResetIf_PredicateFalse_KeepsSession(t *testing.T) {
	repo := newMockRecordRepo()
	s := New(repo, "user")
	ctx := context.Background()
	if err := s.Set(ctx, newTestSession(t)); err != nil {
		t.Fatalf("Set returned error: %v", err)
	}

	removed, err := s.ResetIf(ctx, func(*model.Session) bool { return false })
	if err != nil || removed {
		t.Fatalf("ResetIf = (%v, %v), want (false, nil)", removed, err)
	}
	if _, ok := s.Get(); !ok {
		t.Error("条件を満たさない場合はセッションが残るべき")
	}
	if _, ok := repo.records["user"]; !ok {
		t.Error("条件を満たさない場合はレコードが残るべき")
	}
}

func TestStore_ResetIf_EmptyStore_DoesNotCallPredicate(t *testing.T) {
	s := New(newMockRecordRepo(), "user")

	called := false
	removed, err := s.ResetIf(context.Background(), func(*model.Session) bool {
		called = true
		return true
	})
	if err != nil || removed {
		t.Fatalf("ResetIf = (%v, %v), want (false, nil)", removed, err)
	}
	if called {
		t.Error("空のストアでは条件を評価しない")
	}
}

func TestStore_ResetIf_DeleteFailure_KeepsPriorState(t *testing.T) {
	repo := newMockRecordRepo()
	s := New(repo, "user")
	ctx := context.Background()
	if err := s.Set(ctx, newTestSession(t)); err != nil {
		t.Fatalf("Set returned error: %v", err)
	}
	repo.deleteErr = errors.New("disk full")

	removed, err := s.ResetIf(ctx, func(*model.Session) bool { return true })
	if err == nil || removed {
		t.Fatalf("ResetIf = (%v, %v), want (false, error)", removed, err)
	}
	if _, ok := s.Get(); !ok {
		t.Error("削除失敗時はセッションが残るべき")
	}
}

// 条件の評価中に始まったSetは破棄の後に反映され、消されない。
func TestStore_ResetIf_SetDuringEvaluation_IsNotWiped(t *testing.T) {
	s := New(newMockRecordRepo(), "user")
	ctx := context.Background()

	stale := newTestSession(t)
	stale.Active = false
	if err := s.Set(ctx, stale); err != nil {
		t.Fatalf("Set returned error: %v", err)
	}

	fresh := newTestSession(t)
	fresh.ID = "sess-fresh"

	setDone := make(chan error, 1)
	removed, err := s.ResetIf(ctx, func(sess *model.Session) bool {
		go func() { setDone <- s.Set(ctx, fresh) }()
		// Setは書き込みロックの解放を待つ
		select {
		case err := <-setDone:
			t.Errorf("Set completed while ResetIf held the lock: %v", err)
		case <-time.After(50 * time.Millisecond):
		}
		return !sess.Active
	})
	if err != nil || !removed {
		t.Fatalf("ResetIf = (%v, %v), want (true, nil)", removed, err)
	}

	select {
	case err := <-setDone:
		if err != nil {
			t.Fatalf("Set returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Set did not complete after ResetIf")
	}

	got, ok := s.Get()
	if !ok || got.ID != "sess-fresh" {
		t.Errorf("破棄の後に完了したログインが消えている: %+v", got)
	}
}

func TestStore_Credentials_PersistedAndRestored(t *testing.T) {
	repo := repository.NewFileSessionRecordRepo(t.TempDir())
	ctx := context.Background()

	jar, u := newTestJar(t)
	jar.SetCookies(u, []*http.Cookie{{Name: "ory_kratos_session", Value: "kratos-secret", Path: "/"}})

	s := New(repo, "user", WithCredentialJar(jar, u))
	if err := s.Set(ctx, newTestSession(t)); err != nil {
		t.Fatalf("Set returned error: %v", err)
	}

	restartedJar, _ := newTestJar(t)
	reloaded, err := Open(ctx, repo, "user", WithCredentialJar(restartedJar, u))
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	if _, ok := reloaded.Get(); !ok {
		t.Fatal("再起動後もセッションが復元されるべき")
	}
	if got := cookieValue(restartedJar, u, "ory_kratos_session"); got != "kratos-secret" {
		t.Errorf("restored cookie = %q, want %q", got, "kratos-secret")
	}
}

func TestStore_Credentials_RecordWithoutCredential_IsSignedOut(t *testing.T) {
	repo := newMockRecordRepo()
	ctx := context.Background()

	// Jarなしで保存されたレコード
	if err := New(repo, "user").Set(ctx, newTestSession(t)); err != nil {
		t.Fatalf("Set returned error: %v", err)
	}

	jar, u := newTestJar(t)
	s, err := Open(ctx, repo, "user", WithCredentialJar(jar, u))
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	if _, ok := s.Get(); ok {
		t.Error("IdPのCookieを持たないセッションは未ログインとして扱うべき")
	}
}

func TestStore_Credentials_ResetExpiresCookies(t *testing.T) {
	ctx := context.Background()
	jar, u := newTestJar(t)
	jar.SetCookies(u, []*http.Cookie{{Name: "ory_kratos_session", Value: "kratos-secret", Path: "/"}})

	s := New(newMockRecordRepo(), "user", WithCredentialJar(jar, u))
	if err := s.Set(ctx, newTestSession(t)); err != nil {
		t.Fatalf("Set returned error: %v", err)
	}
	if err := s.Reset(ctx); err != nil {
		t.Fatalf("Reset returned error: %v", err)
	}
	if got := cookieValue(jar, u, "ory_kratos_session"); got != "" {
		t.Errorf("Reset後もCookieが残っている: %q", got)
	}
}
