// Package handler は管理APIのHTTPハンドラーを提供する。
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/hitoshi/pixivpush/internal/middleware"
	"github.com/hitoshi/pixivpush/internal/model"
)

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(body)
}

// writeInvalidRequestBody はリクエストボディ解析失敗のレスポンスを書き込む。
func writeInvalidRequestBody(w http.ResponseWriter) {
	middleware.WriteErrorResponse(w, http.StatusBadRequest, &model.APIError{
		Code:     "INVALID_REQUEST",
		Message:  "リクエストボディの解析に失敗しました。",
		Category: "validation",
		Action:   "正しいJSON形式でリクエストしてください。",
	})
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		middleware.WriteErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	middleware.WriteInternalServerError(w)
}

// creatorNotSubscribedError は未購読絵師の解除要求に対するエラーを生成する。
func creatorNotSubscribedError(creatorID int64) *model.APIError {
	return &model.APIError{
		Code:     "CREATOR_NOT_SUBSCRIBED",
		Message:  fmt.Sprintf("このグループは絵師を購読していません: %d", creatorID),
		Category: "validation",
		Action:   "購読一覧を確認してください。",
	}
}

// tagNotBlockedError は未登録タグの解除要求に対するエラーを生成する。
func tagNotBlockedError(tag string) *model.APIError {
	return &model.APIError{
		Code:     "TAG_NOT_BLOCKED",
		Message:  fmt.Sprintf("このタグは屏蔽されていません: %s", tag),
		Category: "validation",
		Action:   "屏蔽タグ一覧を確認してください。",
	}
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeInvalidCreatorID, model.ErrCodeInvalidRankingMode, model.ErrCodeInvalidTag:
		return http.StatusBadRequest
	case model.ErrCodeCreatorNotFound, model.ErrCodeWorkNotFound:
		return http.StatusNotFound
	case model.ErrCodeTokenNotSet:
		return http.StatusPreconditionFailed
	case model.ErrCodeCycleInProgress:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
