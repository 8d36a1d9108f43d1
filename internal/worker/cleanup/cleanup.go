// Package cleanup は期限切れセッションの自動削除ジョブを提供する。
// ログイン前の匿名セッションも含め、有効期限を過ぎたセッションを
// 定期バッチで削除する。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/dashboard/internal/metrics"
)

// SessionPurger は期限切れセッションを削除するインターフェース。
// repository.SessionRepositoryが実装する。
type SessionPurger interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

// CleanupJob は期限切れセッションの自動削除ジョブ。
// 冪等な削除処理で、削除対象がなくてもエラーにならない。
type CleanupJob struct {
	store   SessionPurger
	logger  *slog.Logger
	metrics metrics.MetricsCollector
}

// NewCleanupJob は新しいCleanupJobを生成する。
func NewCleanupJob(store SessionPurger, logger *slog.Logger, collector metrics.MetricsCollector) *CleanupJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &CleanupJob{
		store:   store,
		logger:  logger,
		metrics: metrics.OrNop(collector),
	}
}

// Run は期限切れセッションを1回削除する。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()

	deletedCount, err := j.store.DeleteExpired(ctx)
	if err != nil {
		j.logger.Error("セッションクリーンアップジョブの実行に失敗しました",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("セッションクリーンアップの実行に失敗: %w", err)
	}

	j.metrics.RecordSessionsPurged(deletedCount)

	duration := time.Since(start)
	j.logger.Info("セッションクリーンアップジョブが完了しました",
		slog.Int64("deleted_count", deletedCount),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}

// DefaultInterval はStartに0以下の間隔が渡された場合に使う実行間隔。
const DefaultInterval = time.Hour

// Start は指定間隔でRunを繰り返す。起動直後に1回実行し、
// コンテキストがキャンセルされるまで実行を継続する。
// intervalが0以下の場合はDefaultIntervalを使う。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		j.logger.Warn("クリーンアップ間隔が不正なためデフォルト値を使用します",
			slog.Duration("interval", interval),
			slog.Duration("default", DefaultInterval),
		)
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	j.logger.Info("セッションクリーンアップを開始しました",
		slog.Duration("interval", interval),
	)

	// 失敗はRun内でログ済みのため、ループは継続する
	_ = j.Run(ctx)

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("セッションクリーンアップを停止しました")
			return
		case <-ticker.C:
			_ = j.Run(ctx)
		}
	}
}
