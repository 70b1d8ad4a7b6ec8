package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// PostgresSessionRecordRepo はPostgreSQLを使用したセッションレコードリポジトリ。
type PostgresSessionRecordRepo struct {
	db *sql.DB
}

// NewPostgresSessionRecordRepo はPostgresSessionRecordRepoを生成する。
func NewPostgresSessionRecordRepo(db *sql.DB) *PostgresSessionRecordRepo {
	return &PostgresSessionRecordRepo{db: db}
}

// Load は指定キーのレコードを取得する。存在しない場合はnilを返す。
func (r *PostgresSessionRecordRepo) Load(ctx context.Context, key string) ([]byte, error) {
	var payload []byte
	err := r.db.QueryRowContext(ctx,
		`SELECT payload FROM session_records WHERE store_key = $1`,
		key,
	).Scan(&payload)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session record: %w", err)
	}
	return payload, nil
}

// Save はUPSERTでレコードを置き換える。
func (r *PostgresSessionRecordRepo) Save(ctx context.Context, key string, payload []byte) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO session_records (store_key, payload, updated_at)
		 VALUES ($1, $2, now())
		 ON CONFLICT (store_key) DO UPDATE
		 SET payload = EXCLUDED.payload, updated_at = EXCLUDED.updated_at`,
		key, payload,
	)
	if err != nil {
		return fmt.Errorf("failed to save session record: %w", err)
	}
	return nil
}

// Delete は指定キーのレコードを削除する。
func (r *PostgresSessionRecordRepo) Delete(ctx context.Context, key string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM session_records WHERE store_key = $1`,
		key,
	)
	if err != nil {
		return fmt.Errorf("failed to delete session record: %w", err)
	}
	return nil
}

// compile-time interface check
var _ SessionRecordRepository = (*PostgresSessionRecordRepo)(nil)
