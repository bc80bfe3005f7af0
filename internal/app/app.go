// Package app はアプリケーションの起動と依存関係のワイヤリングを行う。
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/pixivpush/internal/chat"
	"github.com/hitoshi/pixivpush/internal/config"
	"github.com/hitoshi/pixivpush/internal/deliver"
	"github.com/hitoshi/pixivpush/internal/handler"
	"github.com/hitoshi/pixivpush/internal/logger"
	"github.com/hitoshi/pixivpush/internal/media"
	"github.com/hitoshi/pixivpush/internal/metrics"
	"github.com/hitoshi/pixivpush/internal/pixiv"
	"github.com/hitoshi/pixivpush/internal/query"
	"github.com/hitoshi/pixivpush/internal/reconcile"
	"github.com/hitoshi/pixivpush/internal/security"
	"github.com/hitoshi/pixivpush/internal/store"
	"github.com/hitoshi/pixivpush/internal/subscription"
)

// Init はアプリケーションの初期化を行う。
// .envがあれば読み込み、JSON構造化ログをセットアップし、
// 環境変数からConfigを読み込む。
func Init(w io.Writer) (*config.Config, error) {
	// .envはローカル開発用。存在しなくてもエラーにしない
	_ = godotenv.Load()

	logger.SetupDefault(w)

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("data_dir", cfg.DataDir),
	)

	switch cmd {
	case CommandCheck:
		return runCheck(cfg)
	default:
		return runServe(cfg)
	}
}

// components はワイヤリング済みのアプリケーション構成要素。
type components struct {
	subStore *store.SubscriptionStore
	auth     *pixiv.AuthClient
	engine   *reconcile.Engine
	router   http.Handler
}

// build は全依存関係をワイヤリングする。
func build(cfg *config.Config) (*components, error) {
	log := slog.Default()

	// 1. 永続化ストア
	subStore, err := store.NewSubscriptionStore(filepath.Join(cfg.DataDir, "subscriptions.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to open subscription store: %w", err)
	}
	credStore, err := store.NewCredentialStore(filepath.Join(cfg.DataDir, "credentials.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to open credential store: %w", err)
	}

	// 2. pixivクライアント（認証リトライ付き）
	apiHTTPClient, err := security.NewAPIClient(cfg.ProxyURL, cfg.FetchTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to build api client: %w", err)
	}
	appClient := pixiv.NewAppClient(apiHTTPClient, log)
	authClient := pixiv.NewAuthClient(appClient, appClient, credStore, log)

	// 3. メディア解決
	fetcher, err := security.NewImageFetcher(cfg.ProxyURL, cfg.FetchTimeout, cfg.FetchMaxSize, log)
	if err != nil {
		return nil, fmt.Errorf("failed to build image fetcher: %w", err)
	}
	resolver := media.NewImageResolver(fetcher, authClient, log, media.Config{
		ImageQuality:    cfg.ImageQuality,
		MaxPagesPerWork: cfg.MaxPagesPerWork,
		ByteNoise:       cfg.ByteNoise,
		UgoiraSizeLimit: cfg.UgoiraSizeLimit,
	})

	// 4. メトリクス
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// 5. チャット送信と配信ペーサー
	sender := chat.NewOneBotClient(
		&http.Client{Timeout: cfg.FetchTimeout}, log,
		cfg.OneBotAPIURL, cfg.OneBotAccessToken,
	)
	pacer := deliver.NewPacer(
		sender, resolver, subStore, security.NewCaptionSanitizer(),
		collector, log, deliver.Config{
			MaxDisplayWorks: cfg.MaxDisplayWorks,
			BundleThreshold: cfg.BundleThreshold,
			MessageDelay:    cfg.MessageDelay,
			ChainReply:      cfg.ChainReply,
		},
	)

	// 6. チェックサイクルエンジン
	engine := reconcile.NewEngine(authClient, subStore, pacer, collector, log, reconcile.Config{
		CheckInterval:    cfg.CheckInterval,
		CreatorDelay:     cfg.CreatorDelay,
		EnableFollowFeed: cfg.EnableFollowFeed,
	})

	// 7. ドメインサービスとルーター
	subService := subscription.NewService(subStore, authClient)
	queryService := query.NewService(authClient, pacer, log, cfg.MaxDisplayWorks, cfg.RankLimit)

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:              log,
		SubscriptionService: subService,
		PolicyService:       subService,
		QueryService:        queryService,
		CycleRunner:         engine,
		TokenSetter:         authClient,
		MetricsHandler:      metrics.Handler(registry),
	})

	return &components{
		subStore: subStore,
		auth:     authClient,
		engine:   engine,
		router:   router,
	}, nil
}

// runServe はサーバーモードで起動する。
// チェックサイクルをバックグラウンドで開始し、管理APIサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	c, err := build(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 起動時ログイン。失敗してもサーバーは起動する
	// （トークンは管理APIから後で設定できる）
	if err := c.auth.Login(ctx); err != nil {
		slog.Warn("startup login failed; waiting for token via admin API",
			slog.String("error", err.Error()),
		)
	}

	// チェックサイクルをバックグラウンドで開始
	go c.engine.Start(ctx)

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      c.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("admin API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("stopped gracefully")
	return nil
}

// runCheck はチェックサイクルを1回だけ実行して終了する。
// cronからの起動やデバッグ用。
func runCheck(cfg *config.Config) error {
	c, err := build(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := c.auth.Login(ctx); err != nil {
		return fmt.Errorf("login failed: %w", err)
	}

	return c.engine.RunCycle(ctx)
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /healthz エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/healthz", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}
