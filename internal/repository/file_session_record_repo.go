package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// FileSessionRecordRepo はローカルファイルにセッションレコードを保存するリポジトリ。
// ブラウザのlocalStorageに相当し、プロセス再起動後もレコードが残る。
type FileSessionRecordRepo struct {
	dir string
}

// NewFileSessionRecordRepo はFileSessionRecordRepoを生成する。
// dirは存在しない場合、最初の保存時に作成される。
func NewFileSessionRecordRepo(dir string) *FileSessionRecordRepo {
	return &FileSessionRecordRepo{dir: dir}
}

// Load は指定キーのレコードを読み込む。
func (r *FileSessionRecordRepo) Load(ctx context.Context, key string) ([]byte, error) {
	path, err := r.path(key)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session record: %w", err)
	}
	return data, nil
}

// Save は一時ファイルへの書き込みとrenameでレコードをアトミックに置き換える。
func (r *FileSessionRecordRepo) Save(ctx context.Context, key string, payload []byte) error {
	path, err := r.path(key)
	if err != nil {
		return err
	}
	if err := atomicWriteFile(path, payload, 0o600); err != nil {
		return fmt.Errorf("failed to save session record: %w", err)
	}
	return nil
}

// Delete は指定キーのレコードを削除する。
func (r *FileSessionRecordRepo) Delete(ctx context.Context, key string) error {
	path, err := r.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete session record: %w", err)
	}
	return nil
}

// path はキーからファイルパスを生成する。
// パス区切りを含むキーはディレクトリ外への書き込みを防ぐため拒否する。
func (r *FileSessionRecordRepo) path(key string) (string, error) {
	if key == "" || key == "." || key == ".." || strings.ContainsAny(key, `/\`) {
		return "", fmt.Errorf("invalid session store key: %q", key)
	}
	return filepath.Join(r.dir, key+".json"), nil
}

// atomicWriteFile は同一ディレクトリの一時ファイルに書き込み、fsync後にrenameする。
// 途中で失敗した場合は一時ファイルを削除し、既存ファイルはそのまま残る。
func atomicWriteFile(filename string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-session-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	var success bool
	defer func() {
		if success {
			return
		}
		if err := os.Remove(tmp.Name()); err != nil && !errors.Is(err, os.ErrNotExist) {
			slog.Warn("failed to remove temporary file",
				slog.String("path", tmp.Name()),
				slog.String("error", err.Error()),
			)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), perm); err != nil {
		return fmt.Errorf("failed to chmod temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), filename); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return nil
}

// compile-time interface check
var _ SessionRecordRepository = (*FileSessionRecordRepo)(nil)
