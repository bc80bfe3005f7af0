package reconcile

import (
	"context"
	"log/slog"
	"slices"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/pixivpush/internal/metrics"
	"github.com/hitoshi/pixivpush/internal/model"
	"github.com/hitoshi/pixivpush/internal/pixiv"
)

// Deliverer は検出した新着作品の配信先インターフェース。
// deliver.Pacerが実装する。
type Deliverer interface {
	Deliver(ctx context.Context, artistName string, works []model.Work, groupIDs []string)
}

// SnapshotSource はポリシースナップショット取得のインターフェース。
// store.SubscriptionStoreが実装する。
type SnapshotSource interface {
	Snapshot() map[string]model.GroupPolicy
}

// Config はEngineの動作設定。
type Config struct {
	// CheckInterval はチェックサイクルの実行間隔。
	CheckInterval time.Duration
	// CreatorDelay は絵師1件の処理後に挟む待機時間。
	CreatorDelay time.Duration
	// EnableFollowFeed はフォロー新着フィード経路を使うかどうか。
	EnableFollowFeed bool
}

// Engine は新着検出サイクルを実行するエンジン。
//
// サイクルは同時に1つしか走らない。実行中に次のトリガーが来た場合、
// そのサイクルはスキップされる（遅延実行はしない）。
type Engine struct {
	api       pixiv.API
	snapshots SnapshotSource
	deliverer Deliverer
	metrics   metrics.MetricsCollector
	logger    *slog.Logger
	limiter   *rate.Limiter
	config    Config

	running atomic.Bool
	// lastCheck は前回サイクルの窓の終端。runningガードにより
	// 同時アクセスは発生しない。
	lastCheck time.Time
}

// NewEngine はEngineの新しいインスタンスを生成する。
// 起動直後の手動実行やcheckサブコマンドでもチェック間隔いっぱいの窓を
// 走査できるよう、窓の起点は現在時刻からチェック間隔を引いた時刻で
// 初期化する。
func NewEngine(
	api pixiv.API,
	snapshots SnapshotSource,
	deliverer Deliverer,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	config Config,
) *Engine {
	delay := config.CreatorDelay
	if delay <= 0 {
		delay = time.Second
	}
	interval := config.CheckInterval
	if interval < 0 {
		interval = 0
	}
	return &Engine{
		api:       api,
		snapshots: snapshots,
		deliverer: deliverer,
		metrics:   collector,
		logger:    logger,
		limiter:   rate.NewLimiter(rate.Every(delay), 1),
		config:    config,
		lastCheck: time.Now().Add(-interval),
	}
}

// Start は定期チェックサイクルを開始する。
// コンテキストがキャンセルされるまでブロックする。
func (e *Engine) Start(ctx context.Context) {
	e.logger.Info("チェックサイクルを開始します",
		slog.Duration("interval", e.config.CheckInterval),
	)

	ticker := time.NewTicker(e.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("チェックサイクルを停止します")
			return
		case <-ticker.C:
			if err := e.RunCycle(ctx); err != nil {
				e.logger.Error("チェックサイクルに失敗しました",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// RunCycle は1回のチェックサイクルを実行する。
// 前のサイクルが実行中の場合は何もせずエラーを返す。
func (e *Engine) RunCycle(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		e.logger.Warn("前回のサイクルが実行中のためスキップします")
		e.metrics.RecordCycleSkipped()
		return model.NewCycleInProgressError()
	}
	defer e.running.Store(false)

	started := time.Now()
	window := Window{Start: e.lastCheck, End: started}

	idx := NewCreatorIndex(e.snapshots.Snapshot())

	if e.config.EnableFollowFeed {
		e.runFollowFeed(ctx, window, idx)
	}
	e.runPerCreator(ctx, window, idx)

	// 絵師単位のエラーがあっても窓は前進する。失敗した絵師の
	// 取りこぼしを次サイクルで再走査することはしない。
	e.lastCheck = window.End

	duration := time.Since(started)
	e.metrics.RecordCycle(duration)
	e.logger.Info("チェックサイクルが完了しました",
		slog.Duration("duration", duration),
	)
	return nil
}

// runFollowFeed はフォロー新着フィードから窓内の作品を検出して配信する。
// 配信した絵師はインデックスから取り除き、絵師ごとの走査で
// 再取得されないようにする。フィード取得の失敗は致命的ではなく、
// 全絵師は絵師ごとの走査で引き続きカバーされる。
func (e *Engine) runFollowFeed(ctx context.Context, window Window, idx *CreatorIndex) {
	feed, err := e.api.FollowFeed(ctx)
	if err != nil {
		e.logger.Error("フォロー新着の取得に失敗しました",
			slog.String("error", err.Error()),
		)
		return
	}

	// フィードの並び順は保証されないため、早期打ち切りはせず
	// 全件を窓で判定する
	byCreator := make(map[int64][]model.Work)
	for _, work := range feed {
		if work.CreatedAt.IsZero() {
			e.logger.Warn("投稿時刻が不明な作品をスキップします",
				slog.Int64("work_id", work.ID),
			)
			continue
		}
		if !window.Contains(work.CreatedAt) {
			continue
		}
		byCreator[work.User.ID] = append(byCreator[work.User.ID], work)
	}
	if len(byCreator) == 0 {
		return
	}

	creatorIDs := make([]int64, 0, len(byCreator))
	for id := range byCreator {
		creatorIDs = append(creatorIDs, id)
	}
	slices.Sort(creatorIDs)

	for _, creatorID := range creatorIDs {
		works := byCreator[creatorID]
		targets := idx.Targets(creatorID)
		if len(targets) > 0 {
			e.deliverer.Deliver(ctx, works[0].User.DisplayName(), works, targets)
		}
		idx.Remove(creatorID)

		if err := e.limiter.Wait(ctx); err != nil {
			return
		}
	}
}

// runPerCreator はインデックスに残った絵師を1件ずつ走査する。
// 作品一覧は新しい順のため、窓の起点以前の作品に達した時点で
// 打ち切る。絵師単位のエラーは記録した上で次の絵師へ進む。
func (e *Engine) runPerCreator(ctx context.Context, window Window, idx *CreatorIndex) {
	for _, creatorID := range idx.Creators() {
		e.metrics.RecordCreatorChecked()

		result, err := e.api.UserWorks(ctx, creatorID)
		if err != nil {
			e.logger.Error("絵師の作品一覧の取得に失敗しました",
				slog.Int64("creator_id", creatorID),
				slog.String("error", err.Error()),
			)
			e.metrics.RecordCreatorError()
		} else if result != nil {
			if fresh := e.collectFresh(window, result.Works); len(fresh) > 0 {
				e.deliverer.Deliver(ctx, result.User.DisplayName(), fresh, idx.Groups(creatorID))
			}
		}

		if err := e.limiter.Wait(ctx); err != nil {
			return
		}
	}
}

// collectFresh は新しい順の作品列から窓内の作品を集める。
// 窓の起点以前の作品に達したら残りは全て古いので打ち切る。
// 投稿時刻が不明な作品は判定できないためスキップする。
func (e *Engine) collectFresh(window Window, works []model.Work) []model.Work {
	var fresh []model.Work
	for _, work := range works {
		if work.CreatedAt.IsZero() {
			e.logger.Warn("投稿時刻が不明な作品をスキップします",
				slog.Int64("work_id", work.ID),
			)
			continue
		}
		if !work.CreatedAt.After(window.Start) {
			break
		}
		if window.Contains(work.CreatedAt) {
			fresh = append(fresh, work)
		}
	}
	return fresh
}
