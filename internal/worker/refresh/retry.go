package refresh

import (
	"errors"
	"time"

	"github.com/hitoshi/appauth/internal/backend"
)

// FailureAction はリフレッシュ失敗時の対応の分類。
type FailureAction int

const (
	// FailureBackoff は一時的な失敗（429/5xx/通信エラー）。バックオフして再試行する。
	FailureBackoff FailureAction = iota
	// FailureStop はセッションが無効になった失敗（4xx/セッションなし）。再試行しない。
	FailureStop
)

const (
	// initialBackoff は指数バックオフの初回遅延（30秒）。
	initialBackoff = 30 * time.Second
	// maxBackoff は指数バックオフの最大遅延（10分）。
	maxBackoff = 10 * time.Minute
)

// ClassifyHTTPStatus は認証バックエンドのHTTPステータスコードを失敗の対応に分類する。
func ClassifyHTTPStatus(statusCode int) FailureAction {
	if backend.IsRejectedStatus(statusCode) {
		return FailureStop
	}
	return FailureBackoff
}

// ClassifyFailure はRefreshSessionのエラーを失敗の対応に分類する。
func ClassifyFailure(err error) FailureAction {
	if errors.Is(err, backend.ErrNoSession) {
		return FailureStop
	}
	var apiErr *backend.APIError
	if errors.As(err, &apiErr) {
		return ClassifyHTTPStatus(apiErr.Status)
	}
	return FailureBackoff
}

// CalculateBackoff は連続エラー回数に基づいて指数バックオフ遅延を計算する。
// 初回30秒、2倍ずつ増加、最大10分。
func CalculateBackoff(consecutiveErrors int) time.Duration {
	delay := initialBackoff
	for i := 0; i < consecutiveErrors; i++ {
		delay *= 2
		if delay > maxBackoff {
			return maxBackoff
		}
	}
	return delay
}
