// Package history はチャット履歴APIのクライアントを提供する。
// IdPと同じCookie Jarを共有し、ログイン中のセッションCookieで認証する。
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hitoshi/chatfront/internal/model"
	"github.com/hitoshi/chatfront/internal/security"
)

const (
	// DefaultTimeout は履歴取得1回あたりのタイムアウト。
	DefaultTimeout = 10 * time.Second

	// maxResponseSize は履歴レスポンスの最大読み取りサイズ（4MB）。
	maxResponseSize = 4 << 20
)

// LatencyRecorder は履歴取得のレイテンシを記録するインターフェース。
type LatencyRecorder interface {
	RecordHistoryLatency(status int, duration time.Duration)
}

// Loader はチャット履歴を1ページ取得するインターフェース。
type Loader interface {
	LoadHistory(ctx context.Context, pageToken string, pageSize int) (*model.HistoryPage, error)
}

// Config はClientの設定。
type Config struct {
	BaseURL string
	RoomID  string
	Timeout time.Duration
}

// Client はチャット履歴APIのクライアント。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	sanitizer  security.MessageSanitizer
	recorder   LatencyRecorder
	baseURL    string
	roomID     string
	timeout    time.Duration
}

// NewClient はClientの新しいインスタンスを生成する。
// sanitizerがnilの場合はメッセージ本文をそのまま返す。
func NewClient(httpClient *http.Client, cfg Config, sanitizer security.MessageSanitizer, recorder LatencyRecorder, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		sanitizer:  sanitizer,
		recorder:   recorder,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		roomID:     cfg.RoomID,
		timeout:    timeout,
	}
}

// errorBody はチャット履歴APIのエラーレスポンス。
type errorBody struct {
	Message string `json:"message"`
}

// LoadHistory はチャットルームの履歴を1ページ取得する。
// pageTokenが空の場合は最新のページを返す。pageSizeが0以下の場合はサーバーの既定値を使う。
// 失敗時は *model.TransportError を返す。
func (c *Client) LoadHistory(ctx context.Context, pageToken string, pageSize int) (*model.HistoryPage, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	reqURL, err := url.Parse(c.baseURL + "/history/" + url.PathEscape(c.roomID))
	if err != nil {
		return nil, &model.TransportError{Message: "invalid history endpoint", Err: err}
	}
	q := reqURL.Query()
	if pageToken != "" {
		q.Set("page_token", pageToken)
	}
	if pageSize > 0 {
		q.Set("page_size", strconv.Itoa(pageSize))
	}
	reqURL.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL.String(), nil)
	if err != nil {
		return nil, &model.TransportError{Message: "failed to create request", Err: err}
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.observe(0, start)
		c.logger.Error("チャット履歴APIの呼び出しに失敗しました",
			slog.String("error", err.Error()),
		)
		return nil, &model.TransportError{Message: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	c.observe(resp.StatusCode, start)
	if err != nil {
		return nil, &model.TransportError{Status: resp.StatusCode, Message: "failed to read response", Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		c.logger.Error("チャット履歴APIがエラーステータスを返しました",
			slog.Int("http_status", resp.StatusCode),
		)
		return nil, &model.TransportError{
			Status:  resp.StatusCode,
			Message: errorMessage(resp.StatusCode, body),
		}
	}

	var page model.HistoryPage
	if err := json.Unmarshal(body, &page); err != nil {
		c.logger.Error("チャット履歴APIのレスポンスのパースに失敗しました",
			slog.String("error", err.Error()),
		)
		return nil, &model.TransportError{
			Status:  resp.StatusCode,
			Message: fmt.Sprintf("invalid response: %v", err),
			Err:     err,
		}
	}

	if c.sanitizer != nil {
		for i := range page.Page {
			page.Page[i].Msg = c.sanitizer.Sanitize(page.Page[i].Msg)
		}
	}
	if page.Page == nil {
		page.Page = []model.Message{}
	}

	return &page, nil
}

func (c *Client) observe(status int, start time.Time) {
	if c.recorder != nil {
		c.recorder.RecordHistoryLatency(status, time.Since(start))
	}
}

// errorMessage はレスポンスボディのmessageを優先し、なければステータス文言を返す。
func errorMessage(status int, body []byte) string {
	var eb errorBody
	if json.Unmarshal(body, &eb) == nil && eb.Message != "" {
		return eb.Message
	}
	if text := http.StatusText(status); text != "" {
		return text
	}
	return fmt.Sprintf("unexpected status %d", status)
}

// compile-time interface check
var _ Loader = (*Client)(nil)
