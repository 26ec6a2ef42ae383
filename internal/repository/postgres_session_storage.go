package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hitoshi/appauth/internal/backend"
)

// PostgresSessionStorage はPostgreSQLを使用したセッションストレージ。
type PostgresSessionStorage struct {
	db DBTX
}

// NewPostgresSessionStorage はPostgresSessionStorageを生成する。
func NewPostgresSessionStorage(db DBTX) *PostgresSessionStorage {
	return &PostgresSessionStorage{db: db}
}

// Load は指定キーのセッションを取得する。見つからない場合はnilを返す。
func (r *PostgresSessionStorage) Load(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := r.db.QueryRowContext(ctx,
		`SELECT data FROM auth_sessions WHERE storage_key = $1`,
		key,
	).Scan(&data)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	return data, nil
}

// Save は指定キーにセッションを保存する。
// user_idは運用時の調査用に保存データから抽出する。
func (r *PostgresSessionStorage) Save(ctx context.Context, key string, value []byte) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO auth_sessions (storage_key, user_id, data, updated_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (storage_key)
		 DO UPDATE SET user_id = EXCLUDED.user_id, data = EXCLUDED.data, updated_at = now()`,
		key, userIDOf(value), value,
	)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// Remove は指定キーのセッションを削除する。
func (r *PostgresSessionStorage) Remove(ctx context.Context, key string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM auth_sessions WHERE storage_key = $1`,
		key,
	)
	if err != nil {
		return fmt.Errorf("failed to remove session: %w", err)
	}
	return nil
}

// userIDOf はシリアライズ済みセッションからユーザーIDを取り出す。
// 解釈できない場合は空文字を返す。
func userIDOf(value []byte) string {
	var v struct {
		User struct {
			ID string `json:"id"`
		} `json:"user"`
	}
	if err := json.Unmarshal(value, &v); err != nil {
		return ""
	}
	return v.User.ID
}

// compile-time interface check
var _ SessionStorageRepository = (*PostgresSessionStorage)(nil)
var _ backend.Storage = (*PostgresSessionStorage)(nil)
