// Package store は購読設定と認証情報のJSONファイル永続化を提供する。
//
// 永続化は1ドキュメント全体の書き換え方式で、書き込みは一時ファイルへの
// 書き出しとリネームによるアトミック置換で行う（クラッシュ時の欠損防止）。
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/hitoshi/pixivpush/internal/model"
)

// SubscriptionStore はグループごとの購読設定を保持するストア。
// グループは任意の操作の初回アクセス時にデフォルト設定で暗黙的に作成される。
// チェックサイクルはSnapshotで取得したコピーに対して走査するため、
// 並行する設定変更がイテレーションを壊すことはない。
type SubscriptionStore struct {
	mu     sync.Mutex
	path   string
	groups map[string]*model.GroupPolicy
}

// NewSubscriptionStore は指定パスのJSONドキュメントを読み込んでストアを生成する。
// ファイルが存在しない場合は空のストアから開始する。
func NewSubscriptionStore(path string) (*SubscriptionStore, error) {
	s := &SubscriptionStore{
		path:   path,
		groups: make(map[string]*model.GroupPolicy),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return s, nil
		}
		return nil, fmt.Errorf("購読ファイルの読み込みに失敗しました: %w", err)
	}

	if err := json.Unmarshal(data, &s.groups); err != nil {
		return nil, fmt.Errorf("購読ファイルのパースに失敗しました: %w", err)
	}

	// 欠損フィールドをデフォルトで補完する
	for _, policy := range s.groups {
		if policy.Artists == nil {
			policy.Artists = []int64{}
		}
		if policy.BlockedTags == nil {
			policy.BlockedTags = []string{}
		}
	}

	return s, nil
}

// ensureGroup は指定グループの設定レコードを返す。存在しない場合は作成する。
// 呼び出し側でmuを保持していること。
func (s *SubscriptionStore) ensureGroup(groupID string) *model.GroupPolicy {
	policy, ok := s.groups[groupID]
	if !ok {
		policy = model.DefaultGroupPolicy()
		s.groups[groupID] = policy
	}
	return policy
}

// Subscribe はグループに絵師の購読を追加する。
// 既に購読済みの場合はfalseを返し、永続化は行わない。
func (s *SubscriptionStore) Subscribe(groupID string, creatorID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	policy := s.ensureGroup(groupID)
	if policy.Watches(creatorID) {
		return false, nil
	}
	policy.Artists = append(policy.Artists, creatorID)
	return true, s.save()
}

// Unsubscribe はグループから絵師の購読を削除する。
// 購読していない場合はfalseを返す。
func (s *SubscriptionStore) Unsubscribe(groupID string, creatorID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	policy, ok := s.groups[groupID]
	if !ok || !policy.Watches(creatorID) {
		return false, nil
	}
	policy.Artists = slices.DeleteFunc(policy.Artists, func(id int64) bool {
		return id == creatorID
	})
	return true, s.save()
}

// ListArtists はグループの購読絵師IDリストを登録順で返す。
func (s *SubscriptionStore) ListArtists(groupID string) []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	policy, ok := s.groups[groupID]
	if !ok {
		return []int64{}
	}
	return slices.Clone(policy.Artists)
}

// SetR18Enabled はグループのR18推送許可を設定する。
func (s *SubscriptionStore) SetR18Enabled(groupID string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ensureGroup(groupID).R18Enabled = enabled
	return s.save()
}

// BlockTag はグループの屏蔽タグを追加する。
// 既に登録済みの場合（大文字小文字を区別しない）はfalseを返す。
func (s *SubscriptionStore) BlockTag(groupID, tag string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	policy := s.ensureGroup(groupID)
	if slices.ContainsFunc(policy.BlockedTags, func(t string) bool {
		return equalFoldTag(t, tag)
	}) {
		return false, nil
	}
	policy.BlockedTags = append(policy.BlockedTags, tag)
	return true, s.save()
}

// UnblockTag はグループの屏蔽タグを削除する。
// 登録されていない場合はfalseを返す。
func (s *SubscriptionStore) UnblockTag(groupID, tag string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	policy, ok := s.groups[groupID]
	if !ok {
		return false, nil
	}
	before := len(policy.BlockedTags)
	policy.BlockedTags = slices.DeleteFunc(policy.BlockedTags, func(t string) bool {
		return equalFoldTag(t, tag)
	})
	if len(policy.BlockedTags) == before {
		return false, nil
	}
	return true, s.save()
}

// SetFollowFeedEnabled はグループのフォロー新着受信を設定する。
func (s *SubscriptionStore) SetFollowFeedEnabled(groupID string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ensureGroup(groupID).PushFollowingEnabled = enabled
	return s.save()
}

// Policy はグループのポリシーのコピーを返す。
// 未登録グループにはデフォルト設定を返す（ストアへの登録は行わない）。
func (s *SubscriptionStore) Policy(groupID string) model.GroupPolicy {
	s.mu.Lock()
	defer s.mu.Unlock()

	policy, ok := s.groups[groupID]
	if !ok {
		return *model.DefaultGroupPolicy()
	}
	return *policy.Clone()
}

// Snapshot は全グループのポリシーの深いコピーを返す。
// チェックサイクルはこのスナップショットに対して走査する。
func (s *SubscriptionStore) Snapshot() map[string]model.GroupPolicy {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := make(map[string]model.GroupPolicy, len(s.groups))
	for groupID, policy := range s.groups {
		snapshot[groupID] = *policy.Clone()
	}
	return snapshot
}

// save は全ドキュメントをJSONとして書き出す。
// 一時ファイルへ書いてからリネームすることでアトミックに置換する。
// 呼び出し側でmuを保持していること。
func (s *SubscriptionStore) save() error {
	data, err := json.MarshalIndent(s.groups, "", "  ")
	if err != nil {
		return fmt.Errorf("購読データのエンコードに失敗しました: %w", err)
	}
	return atomicWrite(s.path, data)
}

// atomicWrite はデータを一時ファイルへ書き出し、リネームで置換する。
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("データディレクトリの作成に失敗しました: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("一時ファイルの作成に失敗しました: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("一時ファイルへの書き込みに失敗しました: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("一時ファイルのクローズに失敗しました: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ファイルの置換に失敗しました: %w", err)
	}
	return nil
}

// equalFoldTag はタグ同士を大文字小文字を区別せず比較する。
func equalFoldTag(a, b string) bool {
	return strings.EqualFold(a, b)
}
