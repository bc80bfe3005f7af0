// Package subscription は購読管理のドメインロジックを提供する。
package subscription

import (
	"context"
	"fmt"
	"strconv"

	"github.com/hitoshi/pixivpush/internal/model"
	"github.com/hitoshi/pixivpush/internal/pixiv"
	"github.com/hitoshi/pixivpush/internal/store"
)

// CreatorInfo は購読一覧で返す絵師の表示情報。
// プロフィール取得に失敗した絵師はIDのみで返す。
type CreatorInfo struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Service は購読管理のサービス層。
// 購読の追加・解除、ポリシー設定更新のビジネスロジックを提供する。
type Service struct {
	store *store.SubscriptionStore
	api   pixiv.API
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(store *store.SubscriptionStore, api pixiv.API) *Service {
	return &Service{
		store: store,
		api:   api,
	}
}

// ParseCreatorID は絵師ID文字列を検証して数値へ変換する。
func ParseCreatorID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, model.NewInvalidCreatorIDError(raw)
	}
	return id, nil
}

// Subscribe はグループに絵師の購読を追加する。
// 絵師の存在をpixivで確認してから登録する。
// 戻り値は絵師の表示名と、新規追加だったかどうか。
func (s *Service) Subscribe(ctx context.Context, groupID string, creatorID int64) (string, bool, error) {
	creator, err := s.api.UserDetail(ctx, creatorID)
	if err != nil {
		return "", false, fmt.Errorf("絵師の確認に失敗しました: %w", err)
	}
	if creator == nil {
		return "", false, model.NewCreatorNotFoundError(creatorID)
	}

	added, err := s.store.Subscribe(groupID, creatorID)
	if err != nil {
		return "", false, fmt.Errorf("購読の保存に失敗しました: %w", err)
	}
	return creator.DisplayName(), added, nil
}

// Unsubscribe はグループから絵師の購読を削除する。
// 戻り値は購読が実際に存在したかどうか。
func (s *Service) Unsubscribe(groupID string, creatorID int64) (bool, error) {
	removed, err := s.store.Unsubscribe(groupID, creatorID)
	if err != nil {
		return false, fmt.Errorf("購読の削除に失敗しました: %w", err)
	}
	return removed, nil
}

// ListSubscriptions はグループの購読絵師一覧を表示名付きで返す。
// プロフィール取得に失敗した絵師はID表記のフォールバック名で返す
// （一覧表示は1件の取得失敗で壊れない）。
func (s *Service) ListSubscriptions(ctx context.Context, groupID string) []CreatorInfo {
	ids := s.store.ListArtists(groupID)
	infos := make([]CreatorInfo, 0, len(ids))
	for _, id := range ids {
		name := (&model.Creator{ID: id}).DisplayName()
		if creator, err := s.api.UserDetail(ctx, id); err == nil && creator != nil {
			name = creator.DisplayName()
		}
		infos = append(infos, CreatorInfo{ID: id, Name: name})
	}
	return infos
}

// SetR18Enabled はグループのR18推送許可を設定する。
func (s *Service) SetR18Enabled(groupID string, enabled bool) error {
	if err := s.store.SetR18Enabled(groupID, enabled); err != nil {
		return fmt.Errorf("設定の保存に失敗しました: %w", err)
	}
	return nil
}

// BlockTag はグループの屏蔽タグを追加する。
// 戻り値は新規追加だったかどうか。
func (s *Service) BlockTag(groupID, tag string) (bool, error) {
	if tag == "" {
		return false, model.NewInvalidTagError()
	}
	added, err := s.store.BlockTag(groupID, tag)
	if err != nil {
		return false, fmt.Errorf("設定の保存に失敗しました: %w", err)
	}
	return added, nil
}

// UnblockTag はグループの屏蔽タグを削除する。
// 戻り値はタグが実際に登録されていたかどうか。
func (s *Service) UnblockTag(groupID, tag string) (bool, error) {
	if tag == "" {
		return false, model.NewInvalidTagError()
	}
	removed, err := s.store.UnblockTag(groupID, tag)
	if err != nil {
		return false, fmt.Errorf("設定の保存に失敗しました: %w", err)
	}
	return removed, nil
}

// SetFollowFeedEnabled はグループのフォロー新着受信を設定する。
func (s *Service) SetFollowFeedEnabled(groupID string, enabled bool) error {
	if err := s.store.SetFollowFeedEnabled(groupID, enabled); err != nil {
		return fmt.Errorf("設定の保存に失敗しました: %w", err)
	}
	return nil
}

// Policy はグループの現在のポリシー設定を返す。
func (s *Service) Policy(groupID string) model.GroupPolicy {
	return s.store.Policy(groupID)
}
