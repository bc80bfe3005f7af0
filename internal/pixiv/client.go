// Package pixiv はpixiv app-APIのクライアントを提供する。
// HTTPクライアント実装と、認証エラー時の再ログイン・リトライを行う
// ラッパーを含む。
package pixiv

import (
	"context"
	"strings"

	"github.com/hitoshi/pixivpush/internal/model"
)

// UserWorks は絵師の最新作品一覧の取得結果。
// Worksは新しい順に並んでいる。
type UserWorks struct {
	User  model.Creator
	Works []model.Work
}

// UgoiraFrame はうごイラの1フレームを表す。
type UgoiraFrame struct {
	File    string // アーカイブ内のファイル名
	DelayMS int    // 表示時間（ミリ秒）
}

// UgoiraMetadata はうごイラのフレーム情報とアーカイブURLを保持する。
type UgoiraMetadata struct {
	ZipURL string
	Frames []UgoiraFrame
}

// API はpixiv app-APIの呼び出しインターフェース。
// 各呼び出しは認証エラーを返すことがあり、AuthClientが再ログインと
// リトライを担当する。「対象が存在しない」結果はエラーではなく
// nil/空の結果として返す。
type API interface {
	// UserDetail は絵師のプロフィールを取得する。存在しない場合はnilを返す。
	UserDetail(ctx context.Context, userID int64) (*model.Creator, error)
	// UserWorks は絵師の最新作品一覧を新しい順で取得する。
	UserWorks(ctx context.Context, userID int64) (*UserWorks, error)
	// FollowFeed はBotアカウントのフォロー新着作品を取得する。
	// 並び順は保証されない。
	FollowFeed(ctx context.Context) ([]model.Work, error)
	// WorkDetail は作品を1件取得する。存在しない場合はnilを返す。
	WorkDetail(ctx context.Context, workID int64) (*model.Work, error)
	// Ranking は指定モードのランキング作品一覧を取得する。
	Ranking(ctx context.Context, mode model.RankingMode) ([]model.Work, error)
	// UgoiraMetadata はうごイラのフレーム情報を取得する。
	UgoiraMetadata(ctx context.Context, workID int64) (*UgoiraMetadata, error)
}

// Authenticator はrefresh_tokenによるログイン処理のインターフェース。
// 成功時はローテーションされた可能性のあるrefresh_tokenを返す。
type Authenticator interface {
	Authenticate(ctx context.Context, refreshToken string) (string, error)
}

// authErrorKeywords は認証エラーと判定するキーワード。
// app-APIは型付きの認証エラーを返さないため、エラーテキストの
// キーワード照合で判定する（上流のエラーテキストは安定した契約ではない）。
var authErrorKeywords = []string{
	"invalid_grant",
	"invalid_token",
	"unauthorized",
	"oauth",
	"access token",
}

// IsAuthError はエラーが認証失効によるものかどうかを判定する。
func IsAuthError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, keyword := range authErrorKeywords {
		if strings.Contains(msg, keyword) {
			return true
		}
	}
	return false
}
