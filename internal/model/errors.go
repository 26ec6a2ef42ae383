package model

import "fmt"

// 利用者向けメッセージ。フローの外部契約として文言を固定する。
const (
	MsgAppleUnavailable = "Apple Sign-In is not available on this device"
	MsgNoIdentityToken  = "No identity token received from Apple"
	MsgCancelled        = "Sign-in was cancelled"
	MsgNoOAuthURL       = "No OAuth URL returned from Supabase"
	MsgNoTokens         = "No authentication tokens received"
	MsgAuthFailed       = "Authentication failed"
	MsgUnexpected       = "An unexpected error occurred"
	MsgNonceMismatch    = "Identity token nonce does not match this sign-in attempt"
	MsgMissingIDToken   = "ID token is required"
)

// AuthError は制御APIの統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type AuthError struct {
	Code      string // エラーコード
	Message   string // エラーメッセージ
	Category  string // カテゴリ: unavailable, credential, backend, validation, cancelled, system
	Action    string // ユーザー向け対処方法
	Cancelled bool
}

// Error はerrorインターフェースを実装する。
func (e *AuthError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUnavailable       = "CAPABILITY_UNAVAILABLE"
	ErrCodeMissingCredential = "MISSING_CREDENTIAL"
	ErrCodeBackendRejected   = "BACKEND_REJECTED"
	ErrCodeBackendDown       = "BACKEND_UNAVAILABLE"
	ErrCodeCancelled         = "SIGN_IN_CANCELLED"
	ErrCodeUnknown           = "UNKNOWN"
	ErrCodeRateLimited       = "RATE_LIMITED"
	ErrCodeInvalidRequest    = "INVALID_REQUEST"
)

// NewAuthErrorFromResult は失敗したAuthResultをエラー分類に対応づける。
// 成功結果に対してはnilを返す。
func NewAuthErrorFromResult(r AuthResult) *AuthError {
	if r.Success {
		return nil
	}
	if r.Cancelled {
		return &AuthError{
			Code:      ErrCodeCancelled,
			Message:   r.Error,
			Category:  "cancelled",
			Action:    "必要であればもう一度サインインしてください。",
			Cancelled: true,
		}
	}

	switch r.Kind {
	case FailureUnavailable:
		return &AuthError{
			Code:     ErrCodeUnavailable,
			Message:  r.Error,
			Category: "unavailable",
			Action:   "別のサインイン方法を利用してください。",
		}
	case FailureMissingCredential:
		return &AuthError{
			Code:     ErrCodeMissingCredential,
			Message:  r.Error,
			Category: "credential",
			Action:   "時間をおいて再度お試しください。",
		}
	case FailureRejected:
		return &AuthError{
			Code:     ErrCodeBackendRejected,
			Message:  r.Error,
			Category: "backend",
			Action:   "入力内容やアカウントの状態を確認してください。",
		}
	case FailureBackendUnavailable:
		return &AuthError{
			Code:     ErrCodeBackendDown,
			Message:  r.Error,
			Category: "backend",
			Action:   "時間をおいて再度お試しください。",
		}
	case FailureInvalidRequest:
		return &AuthError{
			Code:     ErrCodeInvalidRequest,
			Message:  r.Error,
			Category: "validation",
			Action:   "リクエスト内容を確認してください。",
		}
	default:
		return &AuthError{
			Code:     ErrCodeUnknown,
			Message:  r.Error,
			Category: "system",
			Action:   "時間をおいて再度お試しください。",
		}
	}
}

// NewRateLimitedError はサインイン試行のレート超過エラーを生成する。
func NewRateLimitedError() *AuthError {
	return &AuthError{
		Code:     ErrCodeRateLimited,
		Message:  "サインインの試行回数が上限に達しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewInvalidRequestError はリクエスト不正エラーを生成する。
func NewInvalidRequestError(reason string) *AuthError {
	return &AuthError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("無効なリクエストです: %s", reason),
		Category: "validation",
		Action:   "リクエスト内容を確認してください。",
	}
}
