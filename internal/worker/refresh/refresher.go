// Package refresh は保存済みセッションの自動リフレッシュジョブを提供する。
// 有効期限が近づいたセッションをバックグラウンドで更新し、
// トークンの更新はTOKEN_REFRESHEDイベントとして認証状態に反映される。
package refresh

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/appauth/internal/model"
)

// SessionSource はリフレッシュ対象のセッションを提供するインターフェース。
// backend.Clientが実装する。
type SessionSource interface {
	StoredSession(ctx context.Context) (*model.Session, error)
	RefreshSession(ctx context.Context) (*model.Session, error)
}

// Recorder はリフレッシュ結果を記録する。
type Recorder interface {
	RecordRefresh(success bool, duration time.Duration)
}

// Refresher は有効期限が近いセッションを定期的にリフレッシュする。
type Refresher struct {
	source   SessionSource
	recorder Recorder
	logger   *slog.Logger
	now      func() time.Time

	// Margin は有効期限の何分前からリフレッシュするか（デフォルト: 5分）。
	Margin time.Duration

	mu                sync.Mutex
	consecutiveErrors int
	nextAttemptAt     time.Time
}

// NewRefresher は新しいRefresherを生成する。recorderはnilでもよい。
func NewRefresher(source SessionSource, recorder Recorder, logger *slog.Logger) *Refresher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Refresher{
		source:   source,
		recorder: recorder,
		logger:   logger,
		now:      time.Now,
		Margin:   5 * time.Minute,
	}
}

// Start はintervalごとにRunOnceを実行する。
// コンテキストがキャンセルされるまで実行を継続する。
func (r *Refresher) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.logger.Info("セッションリフレッシュジョブを開始しました",
		slog.Duration("interval", interval),
		slog.Duration("margin", r.Margin),
	)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("セッションリフレッシュジョブを停止しました")
			return
		case <-ticker.C:
			r.RunOnce(ctx)
		}
	}
}

// RunOnce は保存済みセッションの有効期限を確認し、必要であればリフレッシュする。
// 一時的な失敗の後はバックオフ期間が過ぎるまでリフレッシュを見送る。
// リフレッシュを実行した場合にtrueを返す。
func (r *Refresher) RunOnce(ctx context.Context) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if now.Before(r.nextAttemptAt) {
		return false
	}

	session, err := r.source.StoredSession(ctx)
	if err != nil {
		r.logger.Error("保存済みセッションの取得に失敗しました",
			slog.String("error", err.Error()),
		)
		return false
	}
	if session == nil || !session.ExpiresWithin(now, r.Margin) {
		return false
	}

	start := time.Now()
	_, err = r.source.RefreshSession(ctx)
	duration := time.Since(start)
	if r.recorder != nil {
		r.recorder.RecordRefresh(err == nil, duration)
	}

	if err != nil {
		r.applyFailure(now, session.UserID(), err)
		return true
	}

	r.consecutiveErrors = 0
	r.nextAttemptAt = time.Time{}
	r.logger.Info("セッションをリフレッシュしました",
		slog.String("user_id", session.UserID()),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)
	return true
}

// applyFailure は失敗の分類に応じてバックオフを設定する。
func (r *Refresher) applyFailure(now time.Time, userID string, err error) {
	if ClassifyFailure(err) == FailureStop {
		// セッションはバックエンド側で破棄済みのため再試行しない
		r.consecutiveErrors = 0
		r.nextAttemptAt = time.Time{}
		r.logger.Warn("セッションが無効になったためリフレッシュを停止しました",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return
	}

	r.consecutiveErrors++
	delay := CalculateBackoff(r.consecutiveErrors - 1)
	r.nextAttemptAt = now.Add(delay)
	r.logger.Warn("セッションのリフレッシュに失敗しました",
		slog.String("user_id", userID),
		slog.Int("consecutive_errors", r.consecutiveErrors),
		slog.Duration("retry_in", delay),
		slog.String("error", err.Error()),
	)
}
