// Package cleanup はメモリ上のキャッシュを定期的に掃除するジョブを提供する。
// 期限切れのエントリはアクセスされない限り残り続けるため、
// 一定間隔で明示的に削除する。
package cleanup

import (
	"context"
	"log/slog"
	"time"
)

// DefaultInterval は掃除ジョブの既定の実行間隔。
const DefaultInterval = 5 * time.Minute

// Evictor は期限切れエントリを削除し、削除件数を返す。
type Evictor interface {
	EvictExpired() int
}

// EvictorFunc は関数をEvictorとして扱うアダプタ。
type EvictorFunc func() int

// EvictExpired はf()を呼び出す。
func (f EvictorFunc) EvictExpired() int { return f() }

// Job は登録された掃除対象を順に実行するジョブ。
type Job struct {
	targets map[string]Evictor
	names   []string
	logger  *slog.Logger
}

// NewJob は新しいJobを生成する。
func NewJob(logger *slog.Logger) *Job {
	return &Job{
		targets: make(map[string]Evictor),
		logger:  logger,
	}
}

// Register は掃除対象を名前付きで登録する。同名の登録は上書きする。
func (j *Job) Register(name string, e Evictor) {
	if _, exists := j.targets[name]; !exists {
		j.names = append(j.names, name)
	}
	j.targets[name] = e
}

// Run は全ての掃除対象を1回実行し、対象ごとの削除件数を返す。
func (j *Job) Run(ctx context.Context) map[string]int {
	start := time.Now()
	evicted := make(map[string]int, len(j.names))
	total := 0

	for _, name := range j.names {
		if ctx.Err() != nil {
			break
		}
		n := j.targets[name].EvictExpired()
		evicted[name] = n
		total += n
	}

	j.logger.Debug("キャッシュ掃除ジョブが完了しました",
		slog.Int("target_count", len(j.names)),
		slog.Int("evicted_count", total),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return evicted
}

// Start はinterval間隔でRunを実行する。
// コンテキストがキャンセルされるまで実行を継続する。
func (j *Job) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	j.logger.Info("キャッシュ掃除ジョブを開始しました",
		slog.Duration("interval", interval),
		slog.Int("target_count", len(j.names)),
	)

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("キャッシュ掃除ジョブを停止しました")
			return
		case <-ticker.C:
			j.Run(ctx)
		}
	}
}
