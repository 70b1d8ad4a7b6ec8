package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/publicsuffix"

	"github.com/hitoshi/chatfront/internal/model"
)

const (
	// DefaultProviderTimeout はIdPへの1リクエストあたりのタイムアウト。
	DefaultProviderTimeout = 5 * time.Second

	// maxProviderBodySize はIdPレスポンスの最大読み取りサイズ（1MB）。
	maxProviderBodySize = 1 << 20

	stepCreate = "create"
	stepSubmit = "submit"

	methodPassword = "password"
)

// フロー結果（メトリクスのラベル）
const (
	OutcomeSuccess  = "success"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
)

// FlowRecorder はフロー操作の結果を記録するインターフェース。
type FlowRecorder interface {
	RecordFlow(op, outcome string)
}

// FlowClient はIdPのセルフサービスフローを実行するインターフェース。
// 各操作はフロー作成とフロー送信の2往復で完結し、リトライしない。
type FlowClient interface {
	// Register はユーザー登録フローを実行する。
	Register(ctx context.Context, data model.RegistrationData) (*model.RegistrationResult, error)
	// Login はパスワードによるログインフローを実行し、確立したセッションを返す。
	Login(ctx context.Context, identifier, password string) (*model.Session, error)
	// Logout はログアウトフローを実行する。ローカルのセッションには触れない。
	Logout(ctx context.Context) error
}

// KratosClient はOry Kratosのpublic APIに対してブラウザフローを実行するFlowClient。
// Cookie（CSRF Cookieとセッション Cookie）はhttpClientのJarで保持する。
type KratosClient struct {
	httpClient *http.Client
	baseURL    string
	timeout    time.Duration
	logger     *slog.Logger
	recorder   FlowRecorder
}

// KratosOption はKratosClientの生成オプション。
type KratosOption func(*KratosClient)

// WithTimeout は1リクエストあたりのタイムアウトを設定する。
func WithTimeout(d time.Duration) KratosOption {
	return func(c *KratosClient) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithFlowRecorder はフロー結果の記録先を設定する。
func WithFlowRecorder(r FlowRecorder) KratosOption {
	return func(c *KratosClient) {
		c.recorder = r
	}
}

// WithLogger はロガーを設定する。
func WithLogger(l *slog.Logger) KratosOption {
	return func(c *KratosClient) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewKratosClient はKratosClientを生成する。
// httpClientにはNewCookieJarで作成したJarを設定しておくこと。
func NewKratosClient(httpClient *http.Client, baseURL string, opts ...KratosOption) *KratosClient {
	c := &KratosClient{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		timeout:    DefaultProviderTimeout,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewCookieJar はIdPとチャット履歴APIで共有するCookie Jarを生成する。
// ドメインの判定にはPublic Suffix Listを使用する。
func NewCookieJar() (http.CookieJar, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}
	return jar, nil
}

// flowResponse はフロー作成APIのレスポンス。
type flowResponse struct {
	ID string            `json:"id"`
	UI model.UIContainer `json:"ui"`
}

// logoutFlowResponse はログアウトフロー作成APIのレスポンス。
type logoutFlowResponse struct {
	LogoutURL   string `json:"logout_url"`
	LogoutToken string `json:"logout_token"`
}

// loginResponse はログインフロー送信APIの成功レスポンス。
type loginResponse struct {
	Session *model.Session `json:"session"`
}

// errorResponse はIdPのエラーレスポンス。
// 汎用エラーは error、フォーム検証エラーはフロー本体（ui.messages）として返る。
type errorResponse struct {
	Error *struct {
		Code    int    `json:"code"`
		Status  string `json:"status"`
		Reason  string `json:"reason"`
		Message string `json:"message"`
	} `json:"error"`
	UI *model.UIContainer `json:"ui"`
}

type registrationBody struct {
	Method    string             `json:"method"`
	Password  string             `json:"password"`
	Traits    registrationTraits `json:"traits"`
	CSRFToken string             `json:"csrf_token,omitempty"`
}

type registrationTraits struct {
	Email string     `json:"email"`
	Name  model.Name `json:"name"`
}

type loginBody struct {
	Method     string `json:"method"`
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
	CSRFToken  string `json:"csrf_token,omitempty"`
}

// Register はユーザー登録フローを実行する。
// 登録の成否に関わらずセッションストアは変更しない。
func (c *KratosClient) Register(ctx context.Context, data model.RegistrationData) (*model.RegistrationResult, error) {
	flow, err := c.createFlow(ctx, model.FlowRegistration)
	if err != nil {
		c.record(model.FlowRegistration, err)
		return nil, err
	}

	body := registrationBody{
		Method:   methodPassword,
		Password: data.Password,
		Traits: registrationTraits{
			Email: data.Email,
			Name:  model.Name{First: data.FirstName, Last: data.LastName},
		},
		CSRFToken: flow.CSRFToken,
	}

	var result model.RegistrationResult
	if err := c.submitFlow(ctx, flow, body, &result); err != nil {
		c.record(model.FlowRegistration, err)
		return nil, err
	}

	c.record(model.FlowRegistration, nil)
	c.logger.Info("registration flow completed",
		slog.String("flow_id", flow.ID),
		slog.String("identity_id", result.Identity.ID.String()),
	)
	return &result, nil
}

// Login はパスワードによるログインフローを実行する。
// 成功時はIdPが確立したセッションを返す。
func (c *KratosClient) Login(ctx context.Context, identifier, password string) (*model.Session, error) {
	flow, err := c.createFlow(ctx, model.FlowLogin)
	if err != nil {
		c.record(model.FlowLogin, err)
		return nil, err
	}

	body := loginBody{
		Method:     methodPassword,
		Identifier: identifier,
		Password:   password,
		CSRFToken:  flow.CSRFToken,
	}

	var resp loginResponse
	if err := c.submitFlow(ctx, flow, body, &resp); err != nil {
		c.record(model.FlowLogin, err)
		return nil, err
	}
	if resp.Session == nil {
		err := &model.ProviderError{
			Op:      model.FlowLogin,
			Step:    stepSubmit,
			Message: "response did not contain a session",
		}
		c.record(model.FlowLogin, err)
		return nil, err
	}

	c.record(model.FlowLogin, nil)
	c.logger.Info("login flow completed",
		slog.String("flow_id", flow.ID),
		slog.String("identity_id", resp.Session.IdentityID().String()),
	)
	return resp.Session, nil
}

// Logout はログアウトフローを実行する。
// ログアウトトークンを取得し、そのトークンでフローを送信する。
func (c *KratosClient) Logout(ctx context.Context) error {
	flow, err := c.createLogoutFlow(ctx)
	if err != nil {
		c.record(model.FlowLogout, err)
		return err
	}

	flow.Advance(model.FlowStateSubmitted)
	query := url.Values{"token": {flow.LogoutToken}}
	status, raw, err := c.do(ctx, http.MethodGet, "/self-service/logout", query, nil)
	switch {
	case err != nil:
		err = newProviderError(model.FlowLogout, stepSubmit, 0, nil, err)
	case status < 200 || status >= 300:
		err = newProviderError(model.FlowLogout, stepSubmit, status, raw, nil)
	}
	if err != nil {
		flow.Advance(model.FlowStateRejected)
		c.record(model.FlowLogout, err)
		return err
	}

	flow.Advance(model.FlowStateCompleted)
	c.record(model.FlowLogout, nil)
	c.logger.Info("logout flow completed")
	return nil
}

// createLogoutFlow はログアウトフローを作成し、ログアウトトークンを取り出す。
func (c *KratosClient) createLogoutFlow(ctx context.Context) (*model.Flow, error) {
	status, raw, err := c.do(ctx, http.MethodGet, "/self-service/logout/browser", nil, nil)
	if err != nil {
		return nil, newProviderError(model.FlowLogout, stepCreate, 0, nil, err)
	}
	if status != http.StatusOK {
		return nil, newProviderError(model.FlowLogout, stepCreate, status, raw, nil)
	}

	var resp logoutFlowResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, newProviderError(model.FlowLogout, stepCreate, status, raw, fmt.Errorf("failed to decode logout flow: %w", err))
	}
	if resp.LogoutToken == "" {
		return nil, &model.ProviderError{
			Op:         model.FlowLogout,
			Step:       stepCreate,
			StatusCode: status,
			Message:    "logout token is missing",
			Body:       raw,
		}
	}

	return &model.Flow{
		Kind:        model.FlowLogout,
		LogoutToken: resp.LogoutToken,
		State:       model.FlowStateCreated,
	}, nil
}

// createFlow はブラウザフローを作成し、フローIDとCSRFトークンを取り出す。
// CSRFトークンのノードがない場合は空のまま続行する。
func (c *KratosClient) createFlow(ctx context.Context, kind model.FlowKind) (*model.Flow, error) {
	path := "/self-service/" + string(kind) + "/browser"

	status, raw, err := c.do(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return nil, newProviderError(kind, stepCreate, 0, nil, err)
	}
	if status != http.StatusOK {
		return nil, newProviderError(kind, stepCreate, status, raw, nil)
	}

	var resp flowResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, newProviderError(kind, stepCreate, status, raw, fmt.Errorf("failed to decode flow: %w", err))
	}
	if resp.ID == "" {
		return nil, &model.ProviderError{
			Op:         kind,
			Step:       stepCreate,
			StatusCode: status,
			Message:    "flow id is missing",
			Body:       raw,
		}
	}

	flow := &model.Flow{
		ID:        resp.ID,
		Kind:      kind,
		Method:    methodPassword,
		CSRFToken: model.FindCSRFToken(resp.UI.Nodes),
		State:     model.FlowStateCreated,
	}
	if flow.CSRFToken == "" {
		c.logger.Warn("flow has no csrf token node",
			slog.String("flow", string(kind)),
			slog.String("flow_id", flow.ID),
		)
	}
	return flow, nil
}

// submitFlow はフローを送信し、成功レスポンスをoutにデコードする。
// フローの状態はsubmittedを経てcompletedまたはrejectedになる。
func (c *KratosClient) submitFlow(ctx context.Context, flow *model.Flow, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return newProviderError(flow.Kind, stepSubmit, 0, nil, fmt.Errorf("failed to encode flow body: %w", err))
	}

	flow.Advance(model.FlowStateSubmitted)
	path := "/self-service/" + string(flow.Kind)
	query := url.Values{"flow": {flow.ID}}

	status, raw, err := c.do(ctx, http.MethodPost, path, query, payload)
	if err != nil {
		flow.Advance(model.FlowStateRejected)
		return newProviderError(flow.Kind, stepSubmit, 0, nil, err)
	}
	if status != http.StatusOK {
		flow.Advance(model.FlowStateRejected)
		return newProviderError(flow.Kind, stepSubmit, status, raw, nil)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		flow.Advance(model.FlowStateRejected)
		return newProviderError(flow.Kind, stepSubmit, status, raw, fmt.Errorf("failed to decode flow result: %w", err))
	}

	flow.Advance(model.FlowStateCompleted)
	return nil
}

// do はIdPへリクエストを1回だけ送信し、ステータスとボディを返す。
// 通信自体が失敗した場合のみerrを返す。
func (c *KratosClient) do(ctx context.Context, method, path string, query url.Values, body []byte) (int, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	reqURL := c.baseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxProviderBodySize))
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read response: %w", err)
	}
	return resp.StatusCode, raw, nil
}

// record はフロー結果をメトリクスに記録する。
func (c *KratosClient) record(kind model.FlowKind, err error) {
	if c.recorder == nil {
		return
	}
	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeError
		var pe *model.ProviderError
		if errors.As(err, &pe) && pe.StatusCode >= 400 && pe.StatusCode < 500 {
			outcome = OutcomeRejected
		}
	}
	c.recorder.RecordFlow(string(kind), outcome)
}

// newProviderError はIdPの応答からProviderErrorを組み立てる。
// メッセージは error.message、error.reason、ui.messages、ノードのメッセージの順に採用する。
func newProviderError(kind model.FlowKind, step string, status int, raw []byte, cause error) *model.ProviderError {
	pe := &model.ProviderError{
		Op:         kind,
		Step:       step,
		StatusCode: status,
		Body:       raw,
		Err:        cause,
	}

	var er errorResponse
	if len(raw) > 0 && json.Unmarshal(raw, &er) == nil {
		if er.Error != nil {
			pe.Reason = er.Error.Reason
			pe.Message = er.Error.Message
			if pe.Message == "" {
				pe.Message = er.Error.Reason
			}
		}
		if pe.Message == "" && er.UI != nil {
			pe.Message = firstUIMessage(er.UI)
		}
	}

	if pe.Message == "" {
		switch {
		case cause != nil:
			pe.Message = cause.Error()
		case status != 0:
			pe.Message = http.StatusText(status)
		default:
			pe.Message = "unknown error"
		}
	}
	return pe
}

func firstUIMessage(ui *model.UIContainer) string {
	for _, m := range ui.Messages {
		if m.Text != "" {
			return m.Text
		}
	}
	for _, n := range ui.Nodes {
		for _, m := range n.Messages {
			if m.Text != "" {
				return m.Text
			}
		}
	}
	return ""
}

// compile-time interface check
var _ FlowClient = (*KratosClient)(nil)
