// Package cleanup は永続化されたセッションの自動削除ジョブを提供する。
// 保持期間（デフォルト30日）を超えて更新されていないセッションを
// 日次バッチで削除する。現在のホストが使用中のセッションは対象外とする。
package cleanup

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// Executor はSQLのExecContextを抽象化するインターフェース。
// *sql.DB や *sql.Tx を受け付けることができる。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// SessionCleanupJob は保持期間を超過したセッションの自動削除ジョブ。
// 冪等な削除処理を保証する。
type SessionCleanupJob struct {
	db            Executor
	logger        *slog.Logger
	activeKey     string
	RetentionDays int // セッションの保持日数（デフォルト: 30）
}

// NewSessionCleanupJob は新しいSessionCleanupJobを生成する。
// activeKeyは現在のホストが使用するストレージキーで、削除対象から除外する。
func NewSessionCleanupJob(db Executor, activeKey string, logger *slog.Logger) *SessionCleanupJob {
	return &SessionCleanupJob{
		db:            db,
		logger:        logger,
		activeKey:     activeKey,
		RetentionDays: 30,
	}
}

// Start はintervalごとにRunを実行する。起動直後にも1回実行する。
// コンテキストがキャンセルされるまで実行を継続する。
func (j *SessionCleanupJob) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	_ = j.Run(ctx)

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("セッションクリーンアップジョブを停止しました")
			return
		case <-ticker.C:
			_ = j.Run(ctx)
		}
	}
}

// Run は保持期間を超過したセッションを削除する。
// updated_atがRetentionDays日前より古いセッションをDELETEする。
// 冪等: 削除対象がない場合でもエラーにならない。
func (j *SessionCleanupJob) Run(ctx context.Context) error {
	start := time.Now()

	interval := fmt.Sprintf("%d days", j.RetentionDays)

	query := `DELETE FROM auth_sessions WHERE updated_at < now() - $1::interval AND storage_key <> $2`
	result, err := j.db.ExecContext(ctx, query, interval, j.activeKey)
	if err != nil {
		j.logger.Error("セッションクリーンアップジョブの実行に失敗しました",
			slog.String("error", err.Error()),
			slog.Int("retention_days", j.RetentionDays),
		)
		return fmt.Errorf("セッションクリーンアップの実行に失敗: %w", err)
	}

	deletedCount, err := result.RowsAffected()
	if err != nil {
		j.logger.Error("削除件数の取得に失敗しました",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("削除件数の取得に失敗: %w", err)
	}

	duration := time.Since(start)
	j.logger.Info("セッションクリーンアップジョブが完了しました",
		slog.Int64("deleted_count", deletedCount),
		slog.Int("retention_days", j.RetentionDays),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}
