package model

import (
	"slices"
	"strings"
)

// GroupPolicy はグループごとの購読設定とコンテンツポリシーを表す。
// JSONドキュメントとして永続化される（グループID文字列をキーとするマップ）。
type GroupPolicy struct {
	// Artists は購読中の絵師IDリスト。
	Artists []int64 `json:"artists"`
	// R18Enabled はR18/R18G作品の推送を許可するかどうか。
	R18Enabled bool `json:"r18_enabled"`
	// BlockedTags は屏蔽タグのリスト。大文字小文字を区別せず比較する。
	BlockedTags []string `json:"blocked_tags"`
	// PushFollowingEnabled はBotアカウント自身のフォロー新着も受け取るかどうか。
	PushFollowingEnabled bool `json:"push_following_enabled"`
}

// DefaultGroupPolicy はデフォルト設定のGroupPolicyを返す。
// グループは初回アクセス時に暗黙的にこの設定で作成される。
func DefaultGroupPolicy() *GroupPolicy {
	return &GroupPolicy{
		Artists:     []int64{},
		BlockedTags: []string{},
	}
}

// Watches は指定絵師を購読中かどうかを返す。
func (p *GroupPolicy) Watches(creatorID int64) bool {
	return slices.Contains(p.Artists, creatorID)
}

// Allows は作品がこのグループのポリシーで推送可能かどうかを判定する。
// R18制限とタグ屏蔽の両方を通過した場合のみtrueを返す。
// 同一の作品に対して何度適用しても結果は変わらない（冪等）。
func (p *GroupPolicy) Allows(w *Work) bool {
	if !p.R18Enabled && w.IsAdult() {
		return false
	}
	return !p.hasBlockedTag(w)
}

// hasBlockedTag は作品のタグ（原名と翻訳名の両方）に
// 屏蔽タグが含まれるかどうかを大文字小文字を区別せず判定する。
func (p *GroupPolicy) hasBlockedTag(w *Work) bool {
	if len(p.BlockedTags) == 0 {
		return false
	}

	names := make(map[string]struct{}, len(w.Tags)*2)
	for _, tag := range w.Tags {
		if tag.Name != "" {
			names[strings.ToLower(tag.Name)] = struct{}{}
		}
		if tag.TranslatedName != "" {
			names[strings.ToLower(tag.TranslatedName)] = struct{}{}
		}
	}

	for _, blocked := range p.BlockedTags {
		if _, ok := names[strings.ToLower(blocked)]; ok {
			return true
		}
	}
	return false
}

// Clone はGroupPolicyの深いコピーを返す。
// ストアのスナップショット取得で使用する。
func (p *GroupPolicy) Clone() *GroupPolicy {
	return &GroupPolicy{
		Artists:              slices.Clone(p.Artists),
		R18Enabled:           p.R18Enabled,
		BlockedTags:          slices.Clone(p.BlockedTags),
		PushFollowingEnabled: p.PushFollowingEnabled,
	}
}
