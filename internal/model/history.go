package model

import "time"

// Message はチャット履歴の1メッセージを表す。
type Message struct {
	ID        string      `json:"id"`
	PendingID string      `json:"pending_id"`
	Msg       string      `json:"msg"`
	User      MessageUser `json:"user"`
	CreatedAt time.Time   `json:"created_at"`
}

// MessageUser はメッセージの送信者。
type MessageUser struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// HistoryPage はチャット履歴の1ページ。
// NextPageTokenが空の場合は最後のページ。
type HistoryPage struct {
	Page          []Message `json:"page"`
	NextPageToken string    `json:"next_page_token"`
}
