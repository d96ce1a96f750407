// Package cleanup は期限切れの認証セッションを削除するジョブを提供する。
// 期限切れのセッションはSessionMiddlewareで拒否されるため、削除は容量管理のみが目的。
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

// Recorder は削除件数を記録する。metrics.Collectorが実装する。
type Recorder interface {
	RecordSessionsCleaned(count int64)
}

// CleanupJob は期限切れセッションの削除ジョブ。冪等。
type CleanupJob struct {
	db       Executor
	logger   *slog.Logger
	recorder Recorder
	now      func() time.Time

	// Grace は期限切れからこの時間が経過したセッションのみ削除する。
	Grace time.Duration
}

// NewCleanupJob は新しいCleanupJobを生成する。recorderはnilでもよい。
func NewCleanupJob(db Executor, logger *slog.Logger, recorder Recorder) *CleanupJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &CleanupJob{
		db:       db,
		logger:   logger,
		recorder: recorder,
		now:      time.Now,
	}
}

// Run は期限切れのセッションを削除し、削除件数を返す。
// 削除対象がない場合でもエラーにならない。
func (j *CleanupJob) Run(ctx context.Context) (int64, error) {
	start := time.Now()
	cutoff := j.now().Add(-j.Grace)

	result, err := j.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at < $1`, cutoff)
	if err != nil {
		j.logger.Error("session cleanup failed", slog.String("error", err.Error()))
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		j.logger.Error("failed to read deleted session count", slog.String("error", err.Error()))
		return 0, fmt.Errorf("failed to read deleted session count: %w", err)
	}

	if j.recorder != nil {
		j.recorder.RecordSessionsCleaned(deleted)
	}
	j.logger.Info("session cleanup completed",
		slog.Int64("deleted_count", deleted),
		slog.Time("cutoff", cutoff),
		slog.Float64("duration_ms", float64(time.Since(start).Microseconds())/1000),
	)
	return deleted, nil
}

// Loop は起動直後に1回、以降intervalごとにRunを実行する。
// 個々の実行の失敗はログに記録して継続する。ctxがキャンセルされるとnilを返す。
func (j *CleanupJob) Loop(ctx context.Context, interval time.Duration) error {
	if _, err := j.Run(ctx); err != nil && ctx.Err() != nil {
		return nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			// 失敗はRun内でログ済み
			_, _ = j.Run(ctx)
		}
	}
}
