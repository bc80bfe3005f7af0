package reconcile

import (
	"slices"

	"github.com/hitoshi/pixivpush/internal/model"
)

// CreatorIndex はポリシースナップショットから作った
// 絵師ID→購読グループの逆引きインデックス。
//
// フォロー新着フィードで処理済みの絵師はRemoveで取り除き、
// 絵師ごとの走査で同じ絵師を二重に取得・配信しないようにする
// （クレーム・アンド・リムーブ方式）。
type CreatorIndex struct {
	groups       map[int64][]string
	followGroups []string
}

// NewCreatorIndex はスナップショットからインデックスを構築する。
// グループリストはIDの昇順にソートし、走査順を決定的にする。
func NewCreatorIndex(snapshot map[string]model.GroupPolicy) *CreatorIndex {
	idx := &CreatorIndex{
		groups: make(map[int64][]string),
	}
	for groupID, policy := range snapshot {
		for _, creatorID := range policy.Artists {
			idx.groups[creatorID] = append(idx.groups[creatorID], groupID)
		}
		if policy.PushFollowingEnabled {
			idx.followGroups = append(idx.followGroups, groupID)
		}
	}
	for _, groupIDs := range idx.groups {
		slices.Sort(groupIDs)
	}
	slices.Sort(idx.followGroups)
	return idx
}

// Creators は未処理の絵師IDを昇順で返す。
func (idx *CreatorIndex) Creators() []int64 {
	ids := make([]int64, 0, len(idx.groups))
	for id := range idx.groups {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Groups は絵師を購読しているグループIDをソート済みで返す。
func (idx *CreatorIndex) Groups(creatorID int64) []string {
	return idx.groups[creatorID]
}

// FollowGroups はフォロー新着の受信を有効にしているグループIDを返す。
func (idx *CreatorIndex) FollowGroups() []string {
	return idx.followGroups
}

// Remove は絵師をインデックスから取り除く。
// 以降のCreators/Groupsはこの絵師を返さない。
func (idx *CreatorIndex) Remove(creatorID int64) {
	delete(idx.groups, creatorID)
}

// Targets は絵師の配信先を返す: 購読グループとフォロー新着受信
// グループの和集合（重複なし、ソート済み）。
func (idx *CreatorIndex) Targets(creatorID int64) []string {
	merged := append(slices.Clone(idx.groups[creatorID]), idx.followGroups...)
	slices.Sort(merged)
	return slices.Compact(merged)
}
