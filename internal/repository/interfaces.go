// Package repository はデータ永続化のインターフェースと実装を提供する。
package repository

import (
	"context"
	"database/sql"
)

// SessionStorageRepository は認証セッションの永続化インターフェース。
// backend.Storageを満たし、認証バックエンドクライアントのトークン保存先として使う。
type SessionStorageRepository interface {
	// Load は指定キーのシリアライズ済みセッションを取得する。見つからない場合はnilを返す。
	Load(ctx context.Context, key string) ([]byte, error)
	// Save は指定キーにシリアライズ済みセッションを保存する。既存の値は上書きする。
	Save(ctx context.Context, key string, value []byte) error
	// Remove は指定キーのセッションを削除する。存在しない場合もエラーにしない。
	Remove(ctx context.Context, key string) error
}

// DBTX は*sql.DBと*sql.Txの共通インターフェース。
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}
