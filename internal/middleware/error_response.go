package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/hitoshi/appauth/internal/model"
)

// ErrorResponseBody は制御APIエラーレスポンスの統一フォーマット。
// 原因カテゴリと対処方法、キャンセルかどうかを含む。
type ErrorResponseBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Category  string `json:"category"`
	Action    string `json:"action"`
	Cancelled bool   `json:"cancelled"`
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, authErr *model.AuthError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponseBody{
		Code:      authErr.Code,
		Message:   authErr.Message,
		Category:  authErr.Category,
		Action:    authErr.Action,
		Cancelled: authErr.Cancelled,
	})
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, &model.AuthError{
		Code:     model.ErrCodeUnknown,
		Message:  model.MsgUnexpected,
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	})
}
