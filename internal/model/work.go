// Package model はドメインモデルを定義する。
package model

import "time"

// Restrict は作品の年齢制限区分を表す。
// pixiv APIのx_restrictフィールドに対応する。
type Restrict int

const (
	// RestrictAllAges は全年齢対象の作品。
	RestrictAllAges Restrict = 0
	// RestrictR18 はR18作品。
	RestrictR18 Restrict = 1
	// RestrictR18G はR18G作品。
	RestrictR18G Restrict = 2
)

// MediaKind は作品のメディア種別を表す。
type MediaKind string

const (
	// MediaKindSingle は単一ページの静止画作品。
	MediaKindSingle MediaKind = "single"
	// MediaKindMultiPage は複数ページの静止画作品。
	MediaKindMultiPage MediaKind = "multi_page"
	// MediaKindUgoira はフレーム列から合成するうごイラ作品。
	MediaKindUgoira MediaKind = "ugoira"
)

// Tag は作品に付与されたタグを表す。
// 翻訳名は存在しない場合は空文字列。
type Tag struct {
	Name           string
	TranslatedName string
}

// ImageURLs は1ページ分の画質別画像URLを保持する。
type ImageURLs struct {
	SquareMedium string
	Medium       string
	Large        string
	Original     string
}

// Page は作品の1ページ（1フレーム）を表す。
type Page struct {
	URLs ImageURLs
}

// Work はpixivの作品1件を表す。
// 1回のチェックサイクルの間だけ存在し、永続化されない。
// CreatedAtはUTCに正規化済み。作成日時のパースに失敗した作品は
// ゼロ値のCreatedAtを持ち、サイクル側でスキップされる。
type Work struct {
	ID        int64
	Title     string
	Caption   string // 未サニタイズのHTML
	CreatedAt time.Time
	Restrict  Restrict
	Tags      []Tag
	Kind      MediaKind
	Pages     []Page
	User      Creator
}

// IsAdult は作品が全年齢対象でない（R18/R18G）かどうかを返す。
func (w *Work) IsAdult() bool {
	return w.Restrict != RestrictAllAges
}

// RankingMode はランキング取得のモードを表す。
type RankingMode string

const (
	// RankingModeDay は日間ランキング。
	RankingModeDay RankingMode = "day"
	// RankingModeDayMale は男性向け日間ランキング。
	RankingModeDayMale RankingMode = "day_male"
	// RankingModeDayFemale は女性向け日間ランキング。
	RankingModeDayFemale RankingMode = "day_female"
	// RankingModeWeek は週間ランキング。
	RankingModeWeek RankingMode = "week"
	// RankingModeMonth は月間ランキング。
	RankingModeMonth RankingMode = "month"
	// RankingModeWeekOriginal はオリジナル週間ランキング。
	RankingModeWeekOriginal RankingMode = "week_original"
)

// Valid はランキングモードがサポート対象かどうかを返す。
func (m RankingMode) Valid() bool {
	switch m {
	case RankingModeDay, RankingModeDayMale, RankingModeDayFemale,
		RankingModeWeek, RankingModeMonth, RankingModeWeekOriginal:
		return true
	}
	return false
}
