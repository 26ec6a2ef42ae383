package backend

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrNoSession は操作に必要なセッションが存在しない場合のエラー。
var ErrNoSession = errors.New("auth session missing")

// ErrInvalidToken はアクセストークンを解釈できない場合のエラー。
var ErrInvalidToken = errors.New("invalid access token")

// ErrUnreachable は認証バックエンドへのリクエスト自体が失敗した場合のエラー。
var ErrUnreachable = errors.New("request to auth backend failed")

// APIError は認証バックエンドが返したエラーを表す。
// Messageはサーバーのメッセージをそのまま保持し、利用者向けに表示される。
type APIError struct {
	Status  int
	Code    string
	Message string
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return e.Message
}

// IsRejectedStatus はステータスコードがバックエンドによる恒久的な拒否かを返す。
// 429と408は一時的な失敗であり、拒否には含めない。
func IsRejectedStatus(status int) bool {
	switch status {
	case http.StatusTooManyRequests, http.StatusRequestTimeout:
		return false
	}
	return status >= 400 && status < 500
}

// IsRejected はerrがバックエンドによる恒久的な拒否かを返す。
func IsRejected(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && IsRejectedStatus(apiErr.Status)
}

// errorBody は認証バックエンドのエラーレスポンス。
// エンドポイントによりフィールド名が異なるため全て受け付ける。
type errorBody struct {
	Code             any    `json:"code"`
	ErrorCode        string `json:"error_code"`
	Msg              string `json:"msg"`
	Message          string `json:"message"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func (b errorBody) toAPIError(status int) *APIError {
	msg := firstNonEmpty(b.Msg, b.ErrorDescription, b.Message, b.Error)
	if msg == "" {
		msg = fmt.Sprintf("request failed with status %d", status)
	}
	code := firstNonEmpty(b.ErrorCode, b.Error)
	return &APIError{Status: status, Code: code, Message: msg}
}

// Message はエラーから利用者向けメッセージを取り出す。
// APIErrorの場合はサーバーメッセージをそのまま返す。
func Message(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	return err.Error()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
