package backend

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/hitoshi/appauth/internal/model"
)

// sessionResponse はトークンエンドポイントのレスポンス。
type sessionResponse struct {
	AccessToken  string       `json:"access_token"`
	TokenType    string       `json:"token_type"`
	ExpiresIn    int64        `json:"expires_in"`
	ExpiresAt    int64        `json:"expires_at"`
	RefreshToken string       `json:"refresh_token"`
	User         userResponse `json:"user"`
}

func (r sessionResponse) toSession(now time.Time) *model.Session {
	var expiresAt time.Time
	switch {
	case r.ExpiresAt > 0:
		expiresAt = time.Unix(r.ExpiresAt, 0)
	case r.ExpiresIn > 0:
		expiresAt = now.Add(time.Duration(r.ExpiresIn) * time.Second)
	}
	return &model.Session{
		AccessToken:  r.AccessToken,
		RefreshToken: r.RefreshToken,
		TokenType:    r.TokenType,
		ExpiresAt:    expiresAt,
		User:         r.User.toUser(),
	}
}

// userResponse はユーザーエンドポイントのレスポンス。
type userResponse struct {
	ID           string         `json:"id"`
	Email        string         `json:"email"`
	UserMetadata map[string]any `json:"user_metadata"`
}

func (r userResponse) toUser() model.User {
	u := model.User{ID: r.ID, Email: r.Email}
	for _, key := range []string{"full_name", "name"} {
		if v, ok := r.UserMetadata[key].(string); ok && v != "" {
			u.Name = v
			break
		}
	}
	return u
}

// accessClaims はアクセストークンから読み取るクレーム。
type accessClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// parseAccessClaims はアクセストークンのクレームを署名検証なしで読み取る。
// 署名の検証はバックエンドが行うため、ここでは有効期限の判定にのみ使う。
func parseAccessClaims(token string) (*accessClaims, error) {
	claims := &accessClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
