package model

// Provider はサインインに使用するIDプロバイダー名。
type Provider string

const (
	ProviderApple  Provider = "apple"
	ProviderGoogle Provider = "google"
)

// FailureKind は失敗結果の分類。制御APIのエラーコードはこの値から決まる。
// 成功とキャンセルの結果では空になる。
type FailureKind string

const (
	// FailureUnavailable は端末でサインイン方法が利用できないことを示す。
	FailureUnavailable FailureKind = "unavailable"
	// FailureMissingCredential は成功したはずのフローで資格情報が欠けていることを示す。
	FailureMissingCredential FailureKind = "missing_credential"
	// FailureRejected はバックエンドまたはIDプロバイダーが要求を拒否したことを示す。
	FailureRejected FailureKind = "rejected"
	// FailureBackendUnavailable はバックエンドに到達できない、または一時的に応答できないことを示す。
	FailureBackendUnavailable FailureKind = "backend_unavailable"
	// FailureInvalidRequest は呼び出し元の入力が不正であることを示す。
	FailureInvalidRequest FailureKind = "invalid_request"
	// FailureInternal はブラウザやセッション保存などローカルの障害を示す。
	FailureInternal FailureKind = "internal"
)

// AuthResult はサインイン・サインアウト試行の結果を表す。
// 永続化されず、呼び出し元で一度だけ消費される。
type AuthResult struct {
	Success bool
	// Error は失敗時の利用者向けメッセージ。
	Error string
	// Cancelled はユーザー操作によるキャンセルであることを示す。
	// キャンセルは正常な結果として扱い、UIはアラートを表示しない。
	Cancelled bool
	// Kind は失敗の分類。
	Kind FailureKind
}

// OK は成功結果を返す。
func OK() AuthResult {
	return AuthResult{Success: true}
}

// Failed は分類とエラーメッセージ付きの失敗結果を返す。
func Failed(kind FailureKind, message string) AuthResult {
	return AuthResult{Error: message, Kind: kind}
}

// CancelledResult はキャンセル結果を返す。
// メッセージは両プロバイダーで統一する。
func CancelledResult() AuthResult {
	return AuthResult{Error: MsgCancelled, Cancelled: true}
}

// ShouldAlert は呼び出し元がブロッキングアラートを表示すべきかを返す。
func (r AuthResult) ShouldAlert() bool {
	return !r.Success && !r.Cancelled
}

// Outcome はメトリクスとログ用の結果ラベルを返す。
func (r AuthResult) Outcome() string {
	switch {
	case r.Success:
		return "success"
	case r.Cancelled:
		return "cancelled"
	default:
		return "failure"
	}
}
