package model

// FlowKind はセルフサービスフローの種類を表す。
type FlowKind string

const (
	// FlowRegistration はユーザー登録フロー。
	FlowRegistration FlowKind = "registration"
	// FlowLogin はログインフロー。
	FlowLogin FlowKind = "login"
	// FlowLogout はログアウトフロー。
	FlowLogout FlowKind = "logout"
)

// FlowState はフローの進行状態を表す。
// created → submitted → completed|rejected の順にのみ遷移する。
type FlowState string

const (
	FlowStateCreated   FlowState = "created"
	FlowStateSubmitted FlowState = "submitted"
	FlowStateCompleted FlowState = "completed"
	FlowStateRejected  FlowState = "rejected"
)

// CSRFTokenNodeName はフローのUIノードのうちCSRFトークンを保持するノード名。
const CSRFTokenNodeName = "csrf_token"

// Flow はIdPが発行する1回限りのトランザクションを表す。
// 1つの操作の間だけ存在し、永続化しない。
type Flow struct {
	ID          string
	Kind        FlowKind
	Method      string
	CSRFToken   string
	LogoutToken string
	State       FlowState
}

// Advance はフローを次の状態へ遷移させる。
// 許可されない遷移の場合はfalseを返し、状態を変更しない。
func (f *Flow) Advance(next FlowState) bool {
	switch {
	case f.State == FlowStateCreated && next == FlowStateSubmitted:
	case f.State == FlowStateSubmitted && (next == FlowStateCompleted || next == FlowStateRejected):
	default:
		return false
	}
	f.State = next
	return true
}

// UINode はフローに含まれるフォームノード。
type UINode struct {
	Type       string          `json:"type"`
	Group      string          `json:"group"`
	Attributes UINodeAttribute `json:"attributes"`
	Messages   []UIMessage     `json:"messages,omitempty"`
}

// UINodeAttribute はUIノードの属性。inputノード以外では多くのフィールドが空となる。
type UINodeAttribute struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Value    any    `json:"value,omitempty"`
	Required bool   `json:"required,omitempty"`
	Disabled bool   `json:"disabled,omitempty"`
}

// UIMessage はIdPがフォームやノードに付与するメッセージ。
type UIMessage struct {
	ID   int64  `json:"id"`
	Text string `json:"text"`
	Type string `json:"type"`
}

// UIContainer はフローのUI定義。
type UIContainer struct {
	Action   string      `json:"action"`
	Method   string      `json:"method"`
	Nodes    []UINode    `json:"nodes"`
	Messages []UIMessage `json:"messages,omitempty"`
}

// FindCSRFToken はノード一覧からCSRFトークンを探す。
// 見つからない場合や値が文字列でない場合は空文字列を返す。
func FindCSRFToken(nodes []UINode) string {
	for _, n := range nodes {
		if n.Attributes.Name != CSRFTokenNodeName {
			continue
		}
		v, _ := n.Attributes.Value.(string)
		return v
	}
	return ""
}
