package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// 利用者に提示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, pixiv, system
	Action   string // 利用者向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInvalidCreatorID   = "INVALID_CREATOR_ID"
	ErrCodeCreatorNotFound    = "CREATOR_NOT_FOUND"
	ErrCodeWorkNotFound       = "WORK_NOT_FOUND"
	ErrCodeInvalidRankingMode = "INVALID_RANKING_MODE"
	ErrCodeInvalidTag         = "INVALID_TAG"
	ErrCodeTokenNotSet        = "TOKEN_NOT_SET"
	ErrCodeCycleInProgress    = "CYCLE_IN_PROGRESS"
)

// NewInvalidCreatorIDError は無効な絵師IDエラーを生成する。
func NewInvalidCreatorIDError(raw string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCreatorID,
		Message:  fmt.Sprintf("無効な絵師IDです: %s", raw),
		Category: "validation",
		Action:   "絵師IDは数字で指定してください。",
	}
}

// NewCreatorNotFoundError は絵師未検出エラーを生成する。
func NewCreatorNotFoundError(creatorID int64) *APIError {
	return &APIError{
		Code:     ErrCodeCreatorNotFound,
		Message:  fmt.Sprintf("絵師が見つかりません: %d", creatorID),
		Category: "pixiv",
		Action:   "絵師IDが正しいか、アカウントが公開されているか確認してください。",
	}
}

// NewWorkNotFoundError は作品未検出エラーを生成する。
func NewWorkNotFoundError(workID int64) *APIError {
	return &APIError{
		Code:     ErrCodeWorkNotFound,
		Message:  fmt.Sprintf("作品が見つかりません: %d", workID),
		Category: "pixiv",
		Action:   "作品IDが正しいか、作品が削除されていないか確認してください。",
	}
}

// NewInvalidRankingModeError は無効なランキングモードエラーを生成する。
func NewInvalidRankingModeError(mode string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRankingMode,
		Message:  fmt.Sprintf("無効なランキングモードです: %s", mode),
		Category: "validation",
		Action:   "day、day_male、day_female、week、month、week_original のいずれかを指定してください。",
	}
}

// NewInvalidTagError は無効なタグエラーを生成する。
func NewInvalidTagError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidTag,
		Message:  "タグが指定されていません。",
		Category: "validation",
		Action:   "屏蔽するタグ名を指定してください。",
	}
}

// NewTokenNotSetError はrefresh_token未設定エラーを生成する。
func NewTokenNotSetError() *APIError {
	return &APIError{
		Code:     ErrCodeTokenNotSet,
		Message:  "refresh_tokenが設定されていません。",
		Category: "auth",
		Action:   "管理APIからrefresh_tokenを設定してください。",
	}
}

// NewCycleInProgressError はチェックサイクル実行中エラーを生成する。
func NewCycleInProgressError() *APIError {
	return &APIError{
		Code:     ErrCodeCycleInProgress,
		Message:  "更新チェックは既に実行中です。",
		Category: "system",
		Action:   "実行中のサイクルが完了してから再度お試しください。",
	}
}
