package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/pixivpush/internal/middleware"
	"github.com/hitoshi/pixivpush/internal/model"
)

// PolicyServiceInterface はポリシーハンドラーが必要とするサービスインターフェース。
type PolicyServiceInterface interface {
	// Policy はグループの現在のポリシー設定を返す。
	Policy(groupID string) model.GroupPolicy
	// SetR18Enabled はグループのR18推送許可を設定する。
	SetR18Enabled(groupID string, enabled bool) error
	// BlockTag はグループの屏蔽タグを追加する。
	BlockTag(groupID, tag string) (bool, error)
	// UnblockTag はグループの屏蔽タグを削除する。
	UnblockTag(groupID, tag string) (bool, error)
	// SetFollowFeedEnabled はグループのフォロー新着受信を設定する。
	SetFollowFeedEnabled(groupID string, enabled bool) error
}

// PolicyHandler はグループポリシー管理のHTTPハンドラー。
type PolicyHandler struct {
	service PolicyServiceInterface
}

// NewPolicyHandler はPolicyHandlerを生成する。
func NewPolicyHandler(service PolicyServiceInterface) *PolicyHandler {
	return &PolicyHandler{
		service: service,
	}
}

// enabledRequest はフラグ設定リクエストのボディ。
type enabledRequest struct {
	Enabled bool `json:"enabled"`
}

// blockTagRequest は屏蔽タグ追加リクエストのボディ。
type blockTagRequest struct {
	Tag string `json:"tag"`
}

// GetPolicy はグループの現在のポリシー設定を取得する。
// GET /api/groups/:groupID/policy
func (h *PolicyHandler) GetPolicy(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "groupID")
	writeJSON(w, http.StatusOK, h.service.Policy(groupID))
}

// SetR18 はグループのR18推送許可を設定する。
// PUT /api/groups/:groupID/policy/r18
func (h *PolicyHandler) SetR18(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "groupID")

	var req enabledRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequestBody(w)
		return
	}

	if err := h.service.SetR18Enabled(groupID, req.Enabled); err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.service.Policy(groupID))
}

// SetFollowFeed はグループのフォロー新着受信を設定する。
// PUT /api/groups/:groupID/policy/follow
func (h *PolicyHandler) SetFollowFeed(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "groupID")

	var req enabledRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequestBody(w)
		return
	}

	if err := h.service.SetFollowFeedEnabled(groupID, req.Enabled); err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.service.Policy(groupID))
}

// BlockTag はグループの屏蔽タグを追加する。
// POST /api/groups/:groupID/policy/blocked-tags
func (h *PolicyHandler) BlockTag(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "groupID")

	var req blockTagRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequestBody(w)
		return
	}

	added, err := h.service.BlockTag(groupID, req.Tag)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	status := http.StatusCreated
	if !added {
		status = http.StatusOK
	}
	writeJSON(w, status, h.service.Policy(groupID))
}

// UnblockTag はグループの屏蔽タグを削除する。
// DELETE /api/groups/:groupID/policy/blocked-tags/:tag
func (h *PolicyHandler) UnblockTag(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "groupID")
	tag := chi.URLParam(r, "tag")

	removed, err := h.service.UnblockTag(groupID, tag)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if !removed {
		middleware.WriteErrorResponse(w, http.StatusNotFound, tagNotBlockedError(tag))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
