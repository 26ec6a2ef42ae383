// Package model はドメインモデルを定義する。
package model

import "time"

// User はセッション所有者のプロフィール射影を表す。
// 常に現在のSessionから導出され、単独で生成されることはない。
type User struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
}

// Session はバックエンドが発行した認証情報の束を表す。
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
	User         User      `json:"user"`
}

// UserID はセッション所有者のユーザーIDを返す。
func (s *Session) UserID() string {
	if s == nil {
		return ""
	}
	return s.User.ID
}

// ExpiresWithin はセッションが指定時間内に期限切れとなるかを返す。
// 有効期限が未設定の場合はfalseを返す。
func (s *Session) ExpiresWithin(now time.Time, margin time.Duration) bool {
	if s == nil || s.ExpiresAt.IsZero() {
		return false
	}
	return !now.Add(margin).Before(s.ExpiresAt)
}

// Snapshot は認証状態のスナップショット。
// ルーティング判断の唯一の情報源として、常に丸ごと置き換えられる。
type Snapshot struct {
	Session         *Session `json:"session"`
	User            *User    `json:"user"`
	IsLoading       bool     `json:"is_loading"`
	IsAuthenticated bool     `json:"is_authenticated"`
}

// LoadingSnapshot は初回セッション確認前の初期スナップショットを返す。
func LoadingSnapshot() Snapshot {
	return Snapshot{IsLoading: true}
}

// SnapshotFromSession はセッションから未ロード状態のスナップショットを導出する。
// セッションがnilの場合は未認証のスナップショットになる。
func SnapshotFromSession(session *Session) Snapshot {
	if session == nil {
		return Snapshot{}
	}
	user := session.User
	return Snapshot{
		Session:         session,
		User:            &user,
		IsAuthenticated: true,
	}
}
