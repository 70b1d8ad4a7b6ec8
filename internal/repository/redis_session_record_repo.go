package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// redisKeyPrefix はセッションレコードのRedisキー接頭辞。
const redisKeyPrefix = "chatfront:session:"

// RedisSessionRecordRepo はRedisにセッションレコードを保存するリポジトリ。
// SET/DELは単一コマンドのため、書き込みは部分的に反映されない。
type RedisSessionRecordRepo struct {
	client redis.UniversalClient
}

// NewRedisSessionRecordRepo はRedisSessionRecordRepoを生成する。
func NewRedisSessionRecordRepo(client redis.UniversalClient) *RedisSessionRecordRepo {
	return &RedisSessionRecordRepo{client: client}
}

// Load は指定キーのレコードを取得する。
func (r *RedisSessionRecordRepo) Load(ctx context.Context, key string) ([]byte, error) {
	data, err := r.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session record: %w", err)
	}
	return data, nil
}

// Save は指定キーのレコードを置き換える。有効期限は設定しない。
func (r *RedisSessionRecordRepo) Save(ctx context.Context, key string, payload []byte) error {
	if err := r.client.Set(ctx, redisKeyPrefix+key, payload, 0).Err(); err != nil {
		return fmt.Errorf("failed to save session record: %w", err)
	}
	return nil
}

// Delete は指定キーのレコードを削除する。
func (r *RedisSessionRecordRepo) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, redisKeyPrefix+key).Err(); err != nil {
		return fmt.Errorf("failed to delete session record: %w", err)
	}
	return nil
}

// compile-time interface check
var _ SessionRecordRepository = (*RedisSessionRecordRepo)(nil)
