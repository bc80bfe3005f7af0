// Package reconcile は購読絵師の新着検出サイクルを実装する。
//
// サイクルごとに前回チェック時刻から現在までの時間窓を作り、
// フォロー新着フィードと絵師ごとの作品一覧を窓で絞り込んで
// 配信層へ渡す。
package reconcile

import "time"

// Window はチェックサイクルの時間窓を表す。
// 窓は左開右閉: Start < t <= End の作品が新着と判定される。
// 連続するサイクルの窓は端点を共有するため、境界上の作品が
// 二重に拾われたり取りこぼされたりすることはない。
type Window struct {
	Start time.Time
	End   time.Time
}

// Contains は作品の投稿時刻が窓内かどうかを判定する。
func (w Window) Contains(t time.Time) bool {
	return t.After(w.Start) && !t.After(w.End)
}
