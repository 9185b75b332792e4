// Package cleanup は失効済みデータの自動削除ジョブを提供する。
// 有効期限を過ぎたセッションレコードと、TTLを超過した統合待ち認証情報を
// 定期バッチで回収する。
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

// PendingSweeper は統合待ち認証情報の失効エントリ回収インターフェース。
// merge.PendingStoreが実装する。
type PendingSweeper interface {
	Sweep() int
}

// CleanupJob は失効済みセッションと統合待ち情報の自動削除ジョブ。
// 定期実行のバッチジョブとして設計されており、冪等な削除処理を保証する。
type CleanupJob struct {
	db      Executor
	pending PendingSweeper
	logger  *slog.Logger
}

// NewCleanupJob は新しいCleanupJobを生成する。
func NewCleanupJob(db Executor, pending PendingSweeper, logger *slog.Logger) *CleanupJob {
	return &CleanupJob{
		db:      db,
		pending: pending,
		logger:  logger,
	}
}

// Run は失効済みセッションをDELETEし、統合待ちストアの失効エントリを回収する。
// 冪等: 削除対象がない場合でもエラーにならない。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()

	query := `DELETE FROM sessions WHERE expires_at < now()`
	result, err := j.db.ExecContext(ctx, query)
	if err != nil {
		j.logger.Error("セッションクリーンアップジョブの実行に失敗しました",
			slog.String("error", err.Error()),
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

	sweptCount := j.pending.Sweep()

	duration := time.Since(start)
	j.logger.Info("クリーンアップジョブが完了しました",
		slog.Int64("deleted_sessions", deletedCount),
		slog.Int("swept_pending", sweptCount),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}
