// Package query は対話型クエリ（作品プレビュー、作品検索、ランキング）を提供する。
package query

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/pixivpush/internal/model"
	"github.com/hitoshi/pixivpush/internal/pixiv"
)

// DirectDeliverer は単一グループへの直接配信インターフェース。
// deliver.Pacerが実装する。
type DirectDeliverer interface {
	DeliverDirect(ctx context.Context, groupID, artistName string, works []model.Work) error
}

// Service は対話型クエリを処理するサービス。
// 取得した作品は配信層の通常経路（ポリシーフィルタとペース制御）で送信する。
type Service struct {
	api    pixiv.API
	pacer  DirectDeliverer
	logger *slog.Logger

	// previewLimit はプレビューで表示する最大作品数。
	previewLimit int
	// rankLimit はランキングで表示する最大作品数。
	rankLimit int
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(api pixiv.API, pacer DirectDeliverer, logger *slog.Logger, previewLimit, rankLimit int) *Service {
	if previewLimit <= 0 {
		previewLimit = 3
	}
	if rankLimit <= 0 {
		rankLimit = 5
	}
	return &Service{
		api:          api,
		pacer:        pacer,
		logger:       logger,
		previewLimit: previewLimit,
		rankLimit:    rankLimit,
	}
}

// PreviewCreator は絵師の最新作品をグループへ送信する。
func (s *Service) PreviewCreator(ctx context.Context, groupID string, creatorID int64) error {
	result, err := s.api.UserWorks(ctx, creatorID)
	if err != nil {
		return fmt.Errorf("絵師の作品一覧の取得に失敗しました: %w", err)
	}
	if result == nil || len(result.Works) == 0 {
		return model.NewCreatorNotFoundError(creatorID)
	}

	works := result.Works
	if len(works) > s.previewLimit {
		works = works[:s.previewLimit]
	}
	return s.pacer.DeliverDirect(ctx, groupID, result.User.DisplayName(), works)
}

// ShowWork は作品を1件取得してグループへ送信する。
func (s *Service) ShowWork(ctx context.Context, groupID string, workID int64) error {
	work, err := s.api.WorkDetail(ctx, workID)
	if err != nil {
		return fmt.Errorf("作品の取得に失敗しました: %w", err)
	}
	if work == nil {
		return model.NewWorkNotFoundError(workID)
	}
	return s.pacer.DeliverDirect(ctx, groupID, work.User.DisplayName(), []model.Work{*work})
}

// Ranking は指定モードのランキング作品をグループへ送信する。
func (s *Service) Ranking(ctx context.Context, groupID string, mode model.RankingMode) error {
	if !mode.Valid() {
		return model.NewInvalidRankingModeError(string(mode))
	}

	works, err := s.api.Ranking(ctx, mode)
	if err != nil {
		return fmt.Errorf("ランキングの取得に失敗しました: %w", err)
	}
	if len(works) == 0 {
		s.logger.Warn("ランキングが空でした", slog.String("mode", string(mode)))
	}
	if len(works) > s.rankLimit {
		works = works[:s.rankLimit]
	}

	// ランキングは絵師が作品ごとに異なるため、絵師名は作品ごとに解決させる
	return s.pacer.DeliverDirect(ctx, groupID, "", works)
}
