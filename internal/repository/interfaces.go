// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
)

// SessionRecordRepository はセッションストアの永続化レコードを保存するインターフェース。
// レコードは固定のストアキーに対して1件のみ存在し、ペイロードはシリアライズ済みのセッション。
type SessionRecordRepository interface {
	// Load は指定キーのレコードを取得する。存在しない場合はnil, nilを返す。
	Load(ctx context.Context, key string) ([]byte, error)

	// Save は指定キーのレコードを置き換える。
	// 書き込みは全体が反映されるか、まったく反映されないかのいずれかとする。
	Save(ctx context.Context, key string, payload []byte) error

	// Delete は指定キーのレコードを削除する。存在しない場合もエラーとしない。
	Delete(ctx context.Context, key string) error
}
