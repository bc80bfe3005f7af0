package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/pixivpush/internal/model"
	"github.com/hitoshi/pixivpush/internal/subscription"
)

// QueryServiceInterface はクエリハンドラーが必要とするサービスインターフェース。
// 各操作は取得結果をグループのチャットへ直接送信する。
type QueryServiceInterface interface {
	// PreviewCreator は絵師の最新作品をグループへ送信する。
	PreviewCreator(ctx context.Context, groupID string, creatorID int64) error
	// ShowWork は作品を1件取得してグループへ送信する。
	ShowWork(ctx context.Context, groupID string, workID int64) error
	// Ranking は指定モードのランキング作品をグループへ送信する。
	Ranking(ctx context.Context, groupID string, mode model.RankingMode) error
}

// QueryHandler は対話型クエリのHTTPハンドラー。
type QueryHandler struct {
	service QueryServiceInterface
}

// NewQueryHandler はQueryHandlerを生成する。
func NewQueryHandler(service QueryServiceInterface) *QueryHandler {
	return &QueryHandler{
		service: service,
	}
}

// previewRequest は絵師プレビューリクエストのボディ。
type previewRequest struct {
	CreatorID string `json:"creator_id"`
}

// showWorkRequest は作品表示リクエストのボディ。
type showWorkRequest struct {
	WorkID string `json:"work_id"`
}

// rankingRequest はランキング取得リクエストのボディ。
type rankingRequest struct {
	Mode string `json:"mode"`
}

// queryAcceptedResponse はクエリ受理のAPIレスポンス。
type queryAcceptedResponse struct {
	Delivered bool `json:"delivered"`
}

// PreviewCreator は絵師の最新作品をグループへ送信する。
// POST /api/groups/:groupID/preview
func (h *QueryHandler) PreviewCreator(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "groupID")

	var req previewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequestBody(w)
		return
	}

	creatorID, err := subscription.ParseCreatorID(req.CreatorID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	if err := h.service.PreviewCreator(r.Context(), groupID, creatorID); err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, queryAcceptedResponse{Delivered: true})
}

// ShowWork は作品を1件取得してグループへ送信する。
// POST /api/groups/:groupID/work
func (h *QueryHandler) ShowWork(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "groupID")

	var req showWorkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequestBody(w)
		return
	}

	// 作品IDの形式は絵師IDと同じ（正の整数）
	workID, err := subscription.ParseCreatorID(req.WorkID)
	if err != nil {
		handleServiceError(w, model.NewWorkNotFoundError(0))
		return
	}

	if err := h.service.ShowWork(r.Context(), groupID, workID); err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, queryAcceptedResponse{Delivered: true})
}

// Ranking は指定モードのランキング作品をグループへ送信する。
// POST /api/groups/:groupID/ranking
func (h *QueryHandler) Ranking(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "groupID")

	var req rankingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequestBody(w)
		return
	}

	mode := model.RankingMode(req.Mode)
	if req.Mode == "" {
		mode = model.RankingModeDay
	}

	if err := h.service.Ranking(r.Context(), groupID, mode); err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, queryAcceptedResponse{Delivered: true})
}
