package pixiv

import (
	"context"
	"log/slog"

	"github.com/hitoshi/pixivpush/internal/model"
)

// TokenSource はrefresh_tokenの読み書きインターフェース。
// store.CredentialStoreが実装する。
type TokenSource interface {
	RefreshToken() string
	SetRefreshToken(token string) error
}

// AuthClient は認証付き呼び出しラッパー。APIインターフェースを実装する。
//
// 内側のAPI呼び出しが認証エラーを返した場合、保存済みrefresh_tokenで
// 1回だけ再ログインし、成功すれば元の呼び出しを1回だけ再実行する。
// 再ログインに失敗した場合は元のエラーをそのまま返す。
// 1回の呼び出しに対するリトライは最大1回まで。
type AuthClient struct {
	api    API
	auth   Authenticator
	tokens TokenSource
	logger *slog.Logger
}

// NewAuthClient はAuthClientの新しいインスタンスを生成する。
func NewAuthClient(api API, auth Authenticator, tokens TokenSource, logger *slog.Logger) *AuthClient {
	return &AuthClient{
		api:    api,
		auth:   auth,
		tokens: tokens,
		logger: logger,
	}
}

// Login は保存済みrefresh_tokenでログインする。
// ローテーションされたrefresh_tokenは永続化する。
func (c *AuthClient) Login(ctx context.Context) error {
	token := c.tokens.RefreshToken()
	if token == "" {
		return model.NewTokenNotSetError()
	}

	newToken, err := c.auth.Authenticate(ctx, token)
	if err != nil {
		return err
	}

	if newToken != token {
		if err := c.tokens.SetRefreshToken(newToken); err != nil {
			c.logger.Error("ローテーションされたrefresh_tokenの保存に失敗しました",
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

// SetToken は新しいrefresh_tokenを永続化してログインを試みる。
// 管理APIのトークン再設定で使用する。
func (c *AuthClient) SetToken(ctx context.Context, token string) error {
	if err := c.tokens.SetRefreshToken(token); err != nil {
		return err
	}
	return c.Login(ctx)
}

// withRetry は呼び出しを実行し、認証エラーの場合のみ再ログイン後に
// 1回だけ再実行する。
func (c *AuthClient) withRetry(ctx context.Context, call func(ctx context.Context) error) error {
	err := call(ctx)
	if err == nil || !IsAuthError(err) {
		return err
	}

	c.logger.Warn("認証エラーを検出したため再ログインします",
		slog.String("error", err.Error()),
	)

	if loginErr := c.Login(ctx); loginErr != nil {
		c.logger.Error("再ログインに失敗しました",
			slog.String("error", loginErr.Error()),
		)
		return err // 元のエラーをそのまま返す
	}

	return call(ctx)
}

// UserDetail はAPIインターフェースを実装する。
func (c *AuthClient) UserDetail(ctx context.Context, userID int64) (*model.Creator, error) {
	var result *model.Creator
	err := c.withRetry(ctx, func(ctx context.Context) error {
		var callErr error
		result, callErr = c.api.UserDetail(ctx, userID)
		return callErr
	})
	return result, err
}

// UserWorks はAPIインターフェースを実装する。
func (c *AuthClient) UserWorks(ctx context.Context, userID int64) (*UserWorks, error) {
	var result *UserWorks
	err := c.withRetry(ctx, func(ctx context.Context) error {
		var callErr error
		result, callErr = c.api.UserWorks(ctx, userID)
		return callErr
	})
	return result, err
}

// FollowFeed はAPIインターフェースを実装する。
func (c *AuthClient) FollowFeed(ctx context.Context) ([]model.Work, error) {
	var result []model.Work
	err := c.withRetry(ctx, func(ctx context.Context) error {
		var callErr error
		result, callErr = c.api.FollowFeed(ctx)
		return callErr
	})
	return result, err
}

// WorkDetail はAPIインターフェースを実装する。
func (c *AuthClient) WorkDetail(ctx context.Context, workID int64) (*model.Work, error) {
	var result *model.Work
	err := c.withRetry(ctx, func(ctx context.Context) error {
		var callErr error
		result, callErr = c.api.WorkDetail(ctx, workID)
		return callErr
	})
	return result, err
}

// Ranking はAPIインターフェースを実装する。
func (c *AuthClient) Ranking(ctx context.Context, mode model.RankingMode) ([]model.Work, error) {
	var result []model.Work
	err := c.withRetry(ctx, func(ctx context.Context) error {
		var callErr error
		result, callErr = c.api.Ranking(ctx, mode)
		return callErr
	})
	return result, err
}

// UgoiraMetadata はAPIインターフェースを実装する。
func (c *AuthClient) UgoiraMetadata(ctx context.Context, workID int64) (*UgoiraMetadata, error) {
	var result *UgoiraMetadata
	err := c.withRetry(ctx, func(ctx context.Context) error {
		var callErr error
		result, callErr = c.api.UgoiraMetadata(ctx, workID)
		return callErr
	})
	return result, err
}
