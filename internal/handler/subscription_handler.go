package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/pixivpush/internal/middleware"
	"github.com/hitoshi/pixivpush/internal/subscription"
)

// SubscriptionServiceInterface は購読ハンドラーが必要とするサービスインターフェース。
type SubscriptionServiceInterface interface {
	// Subscribe はグループに絵師の購読を追加する。
	Subscribe(ctx context.Context, groupID string, creatorID int64) (string, bool, error)
	// Unsubscribe はグループから絵師の購読を削除する。
	Unsubscribe(groupID string, creatorID int64) (bool, error)
	// ListSubscriptions はグループの購読絵師一覧を返す。
	ListSubscriptions(ctx context.Context, groupID string) []subscription.CreatorInfo
}

// SubscriptionHandler は購読管理のHTTPハンドラー。
type SubscriptionHandler struct {
	service SubscriptionServiceInterface
}

// NewSubscriptionHandler はSubscriptionHandlerを生成する。
func NewSubscriptionHandler(service SubscriptionServiceInterface) *SubscriptionHandler {
	return &SubscriptionHandler{
		service: service,
	}
}

// subscribeRequest は購読追加リクエストのボディ。
type subscribeRequest struct {
	CreatorID string `json:"creator_id"`
}

// subscribeResponse は購読追加のAPIレスポンス。
type subscribeResponse struct {
	CreatorName string `json:"creator_name"`
	Added       bool   `json:"added"`
}

// ListSubscriptions はグループの購読一覧を取得する。
// GET /api/groups/:groupID/subscriptions
func (h *SubscriptionHandler) ListSubscriptions(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "groupID")
	writeJSON(w, http.StatusOK, h.service.ListSubscriptions(r.Context(), groupID))
}

// Subscribe はグループに絵師の購読を追加する。
// POST /api/groups/:groupID/subscriptions
func (h *SubscriptionHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "groupID")

	var req subscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequestBody(w)
		return
	}

	creatorID, err := subscription.ParseCreatorID(req.CreatorID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	name, added, err := h.service.Subscribe(r.Context(), groupID, creatorID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	status := http.StatusCreated
	if !added {
		status = http.StatusOK
	}
	writeJSON(w, status, subscribeResponse{CreatorName: name, Added: added})
}

// Unsubscribe はグループから絵師の購読を削除する。
// DELETE /api/groups/:groupID/subscriptions/:creatorID
func (h *SubscriptionHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "groupID")

	creatorID, err := subscription.ParseCreatorID(chi.URLParam(r, "creatorID"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	removed, err := h.service.Unsubscribe(groupID, creatorID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if !removed {
		middleware.WriteErrorResponse(w, http.StatusNotFound, creatorNotSubscribedError(creatorID))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
