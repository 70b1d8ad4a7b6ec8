package history

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/chatfront/internal/model"
	"github.com/hitoshi/chatfront/internal/security"
)

const testRoomID = "2f3025ab-9cf7-48a8-9f61-e0f5924ec6d4"

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

// --- モック定義 ---

type mockLatencyRecorder struct {
	mu       sync.Mutex
	statuses []int
}

func (m *mockLatencyRecorder) RecordHistoryLatency(status int, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses = append(m.statuses, status)
}

func newTestClient(t *testing.T, server *httptest.Server, buf *bytes.Buffer, recorder LatencyRecorder) *Client {
	t.Helper()
	return NewClient(server.Client(), Config{
		BaseURL: server.URL + "/",
		RoomID:  testRoomID,
		Timeout: time.Second,
	}, security.NewMessageSanitizer(), recorder, newTestLogger(buf))
}

// --- テスト ---

func TestClient_LoadHistory_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("HTTPメソッド = %s, want GET", r.Method)
		}
		if r.URL.Path != "/history/"+testRoomID {
			t.Errorf("パス = %s, want /history/%s", r.URL.Path, testRoomID)
		}
		if got := r.URL.Query().Get("page_token"); got != "tok-1" {
			t.Errorf("page_token = %q, want tok-1", got)
		}
		if got := r.URL.Query().Get("page_size"); got != "20" {
			t.Errorf("page_size = %q, want 20", got)
		}

		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{
			"page": [
				{"id": "m1", "pending_id": "p1", "msg": "こんにちは", "user": {"id": "u1", "email": "alice@example.com", "first_name": "Alice", "last_name": "Liddell"}, "created_at": "2024-05-01T10:00:00Z"},
				{"id": "m2", "msg": "やあ<script>alert(1)</script>", "user": {"id": "u2"}, "created_at": "2024-05-01T10:01:00Z"}
			],
			"next_page_token": "tok-2"
		}`)
	}))
	defer server.Close()

	var buf bytes.Buffer
	rec := &mockLatencyRecorder{}
	c := newTestClient(t, server, &buf, rec)

	page, err := c.LoadHistory(context.Background(), "tok-1", 20)
	if err != nil {
		t.Fatalf("LoadHistory returned error: %v", err)
	}

	if len(page.Page) != 2 {
		t.Fatalf("メッセージ数 = %d, want 2", len(page.Page))
	}
	if page.NextPageToken != "tok-2" {
		t.Errorf("NextPageToken = %q, want tok-2", page.NextPageToken)
	}
	first := page.Page[0]
	if first.User.FirstName != "Alice" || first.PendingID != "p1" {
		t.Errorf("1件目のメッセージが不正: %+v", first)
	}
	if strings.Contains(page.Page[1].Msg, "<script") {
		t.Errorf("メッセージ本文がサニタイズされていない: %q", page.Page[1].Msg)
	}
	if len(rec.statuses) != 1 || rec.statuses[0] != http.StatusOK {
		t.Errorf("記録されたステータス = %v, want [200]", rec.statuses)
	}
}

func TestClient_LoadHistory_FirstPage_OmitsEmptyParams(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.RawQuery != "" {
			t.Errorf("クエリ = %q, want empty", r.URL.RawQuery)
		}
		io.WriteString(w, `{"page": null}`)
	}))
	defer server.Close()

	var buf bytes.Buffer
	c := newTestClient(t, server, &buf, nil)

	page, err := c.LoadHistory(context.Background(), "", 0)
	if err != nil {
		t.Fatalf("LoadHistory returned error: %v", err)
	}
	if page.Page == nil || len(page.Page) != 0 {
		t.Errorf("空ページは空スライスであるべき: %#v", page.Page)
	}
}

func TestClient_LoadHistory_ErrorStatus_ReturnsTransportError(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		wantMessage string
	}{
		{"JSONのmessageを採用", http.StatusUnauthorized, `{"message":"session is not valid"}`, "session is not valid"},
		{"messageがない場合はステータス文言", http.StatusServiceUnavailable, `oops`, "Service Unavailable"},
		{"空のmessage", http.StatusInternalServerError, `{"message":""}`, "Internal Server Error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			}))
			defer server.Close()

			var buf bytes.Buffer
			c := newTestClient(t, server, &buf, nil)

			_, err := c.LoadHistory(context.Background(), "", 10)

			var trErr *model.TransportError
			if !errors.As(err, &trErr) {
				t.Fatalf("TransportError が返るべき: %v", err)
			}
			if trErr.Status != tt.status {
				t.Errorf("Status = %d, want %d", trErr.Status, tt.status)
			}
			if trErr.Message != tt.wantMessage {
				t.Errorf("Message = %q, want %q", trErr.Message, tt.wantMessage)
			}
			if !strings.Contains(buf.String(), "http_status") {
				t.Errorf("ログにhttp_statusが含まれていない: %s", buf.String())
			}
		})
	}
}

func TestClient_LoadHistory_NetworkError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	var buf bytes.Buffer
	rec := &mockLatencyRecorder{}
	c := newTestClient(t, server, &buf, rec)

	_, err := c.LoadHistory(context.Background(), "", 10)

	var trErr *model.TransportError
	if !errors.As(err, &trErr) {
		t.Fatalf("TransportError が返るべき: %v", err)
	}
	if trErr.Status != 0 {
		t.Errorf("Status = %d, want 0", trErr.Status)
	}
	if trErr.Message == "" || trErr.Unwrap() == nil {
		t.Errorf("通信エラーのメッセージと原因が保持されるべき: %+v", trErr)
	}
	if len(rec.statuses) != 1 || rec.statuses[0] != 0 {
		t.Errorf("記録されたステータス = %v, want [0]", rec.statuses)
	}
}

func TestClient_LoadHistory_InvalidJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"page": [`)
	}))
	defer server.Close()

	var buf bytes.Buffer
	c := newTestClient(t, server, &buf, nil)

	_, err := c.LoadHistory(context.Background(), "", 10)

	var trErr *model.TransportError
	if !errors.As(err, &trErr) {
		t.Fatalf("TransportError が返るべき: %v", err)
	}
	if trErr.Status != http.StatusOK {
		t.Errorf("Status = %d, want 200", trErr.Status)
	}
}

func TestClient_LoadHistory_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	var buf bytes.Buffer
	c := NewClient(server.Client(), Config{BaseURL: server.URL, RoomID: testRoomID, Timeout: 50 * time.Millisecond}, nil, nil, newTestLogger(&buf))

	_, err := c.LoadHistory(context.Background(), "", 10)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("タイムアウトエラーが返るべき: %v", err)
	}
}

func TestClient_ToAPIError_Unauthorized(t *testing.T) {
	err := &model.TransportError{Status: http.StatusUnauthorized, Message: "no session"}
	apiErr := model.ToAPIError(err)
	if apiErr == nil || apiErr.Code != model.ErrCodeUnauthorized {
		t.Errorf("ToAPIError = %+v, want UNAUTHORIZED", apiErr)
	}
}
