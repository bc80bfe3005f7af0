package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/hitoshi/pixivpush/internal/middleware"
	"github.com/hitoshi/pixivpush/internal/model"
)

// CycleRunner はチェックサイクルの手動実行インターフェース。
// reconcile.Engineが実装する。
type CycleRunner interface {
	RunCycle(ctx context.Context) error
}

// TokenSetter はrefresh_tokenの設定インターフェース。
// pixiv.AuthClientが実装する。
type TokenSetter interface {
	SetToken(ctx context.Context, refreshToken string) error
}

// SystemHandler はシステム操作のHTTPハンドラー。
type SystemHandler struct {
	runner CycleRunner
	tokens TokenSetter
	logger *slog.Logger
}

// NewSystemHandler はSystemHandlerを生成する。
func NewSystemHandler(runner CycleRunner, tokens TokenSetter, logger *slog.Logger) *SystemHandler {
	return &SystemHandler{
		runner: runner,
		tokens: tokens,
		logger: logger,
	}
}

// tokenRequest はrefresh_token設定リクエストのボディ。
type tokenRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// ForceCheck はチェックサイクルを即時実行する。
// サイクルは非同期で走らせ、受理した時点で202を返す。
// 実行中のサイクルがある場合は409を返す。
// POST /api/system/check
func (h *SystemHandler) ForceCheck(w http.ResponseWriter, r *http.Request) {
	// リクエストのコンテキストはレスポンス後にキャンセルされるため使わない
	go func() {
		if err := h.runner.RunCycle(context.Background()); err != nil {
			h.logger.Error("手動チェックサイクルに失敗しました",
				slog.String("error", err.Error()),
			)
		}
	}()
	w.WriteHeader(http.StatusAccepted)
}

// SetToken はrefresh_tokenを設定し、即時ログインで検証する。
// PUT /api/system/token
func (h *SystemHandler) SetToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequestBody(w)
		return
	}
	if req.RefreshToken == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewTokenNotSetError())
		return
	}

	if err := h.tokens.SetToken(r.Context(), req.RefreshToken); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Healthz はヘルスチェックに応答する。
// GET /healthz
func (h *SystemHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
