package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// セッションストアは1レコードを読み書きするだけなので、接続プールは小さく保つ。
const (
	maxOpenConns    = 4
	maxIdleConns    = 2
	connMaxIdleTime = 5 * time.Minute
)

// Open はセッションストア用のPostgreSQL接続プールを開く。
// sql.Openは接続を試行しないため、疎通確認が必要な場合はConnectを使う。
func Open(databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxIdleTime(connMaxIdleTime)

	return db, nil
}

// Connect は接続プールを開き、Pingで疎通を確認する。
// 疎通できない場合はプールを閉じてエラーを返す。
func Connect(ctx context.Context, databaseURL string) (*sql.DB, error) {
	db, err := Open(databaseURL)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}
