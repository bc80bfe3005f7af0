package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/pixivpush/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger *slog.Logger

	// 購読・ポリシー
	SubscriptionService SubscriptionServiceInterface
	PolicyService       PolicyServiceInterface

	// クエリ
	QueryService QueryServiceInterface

	// システム
	CycleRunner CycleRunner
	TokenSetter TokenSetter

	// メトリクス公開用ハンドラー
	MetricsHandler http.Handler
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RecoveryMiddleware → LoggingMiddleware
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware(deps.Logger))
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))

	subHandler := NewSubscriptionHandler(deps.SubscriptionService)
	policyHandler := NewPolicyHandler(deps.PolicyService)
	queryHandler := NewQueryHandler(deps.QueryService)
	systemHandler := NewSystemHandler(deps.CycleRunner, deps.TokenSetter, deps.Logger)

	r.Get("/healthz", systemHandler.Healthz)

	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	r.Route("/api/groups/{groupID}", func(r chi.Router) {
		// 購読管理
		r.Route("/subscriptions", func(r chi.Router) {
			r.Get("/", subHandler.ListSubscriptions)
			r.Post("/", subHandler.Subscribe)
			r.Delete("/{creatorID}", subHandler.Unsubscribe)
		})

		// ポリシー管理
		r.Route("/policy", func(r chi.Router) {
			r.Get("/", policyHandler.GetPolicy)
			r.Put("/r18", policyHandler.SetR18)
			r.Put("/follow", policyHandler.SetFollowFeed)
			r.Post("/blocked-tags", policyHandler.BlockTag)
			r.Delete("/blocked-tags/{tag}", policyHandler.UnblockTag)
		})

		// 対話型クエリ
		r.Post("/preview", queryHandler.PreviewCreator)
		r.Post("/work", queryHandler.ShowWork)
		r.Post("/ranking", queryHandler.Ranking)
	})

	// システム操作
	r.Route("/api/system", func(r chi.Router) {
		r.Post("/check", systemHandler.ForceCheck)
		r.Put("/token", systemHandler.SetToken)
	})

	return r
}
