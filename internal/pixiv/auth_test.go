package pixiv

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/hitoshi/pixivpush/internal/model"
)

// --- モック定義 ---

// mockAPI はAPIのテスト用モック。
type mockAPI struct {
	userDetailFunc     func(ctx context.Context, userID int64) (*model.Creator, error)
	userWorksFunc      func(ctx context.Context, userID int64) (*UserWorks, error)
	followFeedFunc     func(ctx context.Context) ([]model.Work, error)
	workDetailFunc     func(ctx context.Context, workID int64) (*model.Work, error)
	rankingFunc        func(ctx context.Context, mode model.RankingMode) ([]model.Work, error)
	ugoiraMetadataFunc func(ctx context.Context, workID int64) (*UgoiraMetadata, error)
}

func (m *mockAPI) UserDetail(ctx context.Context, userID int64) (*model.Creator, error) {
	if m.userDetailFunc != nil {
		return m.userDetailFunc(ctx, userID)
	}
	return nil, nil
}

func (m *mockAPI) UserWorks(ctx context.Context, userID int64) (*UserWorks, error) {
	if m.userWorksFunc != nil {
		return m.userWorksFunc(ctx, userID)
	}
	return nil, nil
}

func (m *mockAPI) FollowFeed(ctx context.Context) ([]model.Work, error) {
	if m.followFeedFunc != nil {
		return m.followFeedFunc(ctx)
	}
	return nil, nil
}

func (m *mockAPI) WorkDetail(ctx context.Context, workID int64) (*model.Work, error) {
	if m.workDetailFunc != nil {
		return m.workDetailFunc(ctx, workID)
	}
	return nil, nil
}

func (m *mockAPI) Ranking(ctx context.Context, mode model.RankingMode) ([]model.Work, error) {
	if m.rankingFunc != nil {
		return m.rankingFunc(ctx, mode)
	}
	return nil, nil
}

func (m *mockAPI) UgoiraMetadata(ctx context.Context, workID int64) (*UgoiraMetadata, error) {
	if m.ugoiraMetadataFunc != nil {
		return m.ugoiraMetadataFunc(ctx, workID)
	}
	return nil, nil
}

// mockAuthenticator はAuthenticatorのテスト用モック。
type mockAuthenticator struct {
	authenticateFunc func(ctx context.Context, refreshToken string) (string, error)
}

func (m *mockAuthenticator) Authenticate(ctx context.Context, refreshToken string) (string, error) {
	if m.authenticateFunc != nil {
		return m.authenticateFunc(ctx, refreshToken)
	}
	return refreshToken, nil
}

// mockTokenSource はTokenSourceのテスト用モック。
type mockTokenSource struct {
	token   string
	saveErr error
}

func (m *mockTokenSource) RefreshToken() string {
	return m.token
}

func (m *mockTokenSource) SetRefreshToken(token string) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.token = token
	return nil
}

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

// --- IsAuthErrorのテスト ---

func TestIsAuthError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nilは認証エラーではない", nil, false},
		{"invalid_grant", errors.New(`pixiv api returned status 400: {"error":"invalid_grant"}`), true},
		{"invalid_token", errors.New("invalid_token detected"), true},
		{"unauthorized", errors.New("401 Unauthorized"), true},
		{"oauth", errors.New("OAuth procedure failed"), true},
		{"access token", errors.New("Error occurred at the OAuth process. Access Token expired"), true},
		{"ネットワークエラーは対象外", errors.New("connection refused"), false},
		{"404は対象外", errors.New("pixiv api returned status 404"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsAuthError(tt.err); got != tt.want {
				t.Errorf("IsAuthError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

// --- Loginのテスト ---

func TestAuthClient_Login_TokenNotSet(t *testing.T) {
	var buf bytes.Buffer
	c := NewAuthClient(&mockAPI{}, &mockAuthenticator{}, &mockTokenSource{}, newTestLogger(&buf))

	err := c.Login(context.Background())

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeTokenNotSet {
		t.Errorf("Login() = %v, want TOKEN_NOT_SET", err)
	}
}

func TestAuthClient_Login_PersistsRotatedToken(t *testing.T) {
	var buf bytes.Buffer
	tokens := &mockTokenSource{token: "old-token"}
	auth := &mockAuthenticator{
		authenticateFunc: func(ctx context.Context, refreshToken string) (string, error) {
			return "rotated-token", nil
		},
	}
	c := NewAuthClient(&mockAPI{}, auth, tokens, newTestLogger(&buf))

	if err := c.Login(context.Background()); err != nil {
		t.Fatalf("Login() がエラーを返した: %v", err)
	}
	if tokens.token != "rotated-token" {
		t.Errorf("ローテーション後のトークン = %q, want %q", tokens.token, "rotated-token")
	}
}

// --- リトライセマンティクスのテスト ---

func TestAuthClient_Retry_SuccessWithoutRetry(t *testing.T) {
	// 成功した呼び出しではログインもリトライも発生しない
	var buf bytes.Buffer
	calls := 0
	logins := 0

	api := &mockAPI{
		userDetailFunc: func(ctx context.Context, userID int64) (*model.Creator, error) {
			calls++
			return &model.Creator{ID: userID, Name: "絵師A"}, nil
		},
	}
	auth := &mockAuthenticator{
		authenticateFunc: func(ctx context.Context, refreshToken string) (string, error) {
			logins++
			return refreshToken, nil
		},
	}

	c := NewAuthClient(api, auth, &mockTokenSource{token: "tok"}, newTestLogger(&buf))

	creator, err := c.UserDetail(context.Background(), 100)
	if err != nil {
		t.Fatalf("UserDetail() がエラーを返した: %v", err)
	}
	if creator == nil || creator.Name != "絵師A" {
		t.Errorf("creator = %+v, want 絵師A", creator)
	}
	if calls != 1 {
		t.Errorf("API呼び出し回数 = %d, want 1", calls)
	}
	if logins != 0 {
		t.Errorf("ログイン回数 = %d, want 0", logins)
	}
}

func TestAuthClient_Retry_AuthErrorTriggersReloginAndRetry(t *testing.T) {
	// 認証エラー → 再ログイン → 元の呼び出しを1回だけ再実行
	var buf bytes.Buffer
	calls := 0
	logins := 0

	api := &mockAPI{
		userWorksFunc: func(ctx context.Context, userID int64) (*UserWorks, error) {
			calls++
			if calls == 1 {
				return nil, errors.New("invalid_grant")
			}
			return &UserWorks{User: model.Creator{ID: userID}}, nil
		},
	}
	auth := &mockAuthenticator{
		authenticateFunc: func(ctx context.Context, refreshToken string) (string, error) {
			logins++
			return refreshToken, nil
		},
	}

	c := NewAuthClient(api, auth, &mockTokenSource{token: "tok"}, newTestLogger(&buf))

	result, err := c.UserWorks(context.Background(), 100)
	if err != nil {
		t.Fatalf("UserWorks() がエラーを返した: %v", err)
	}
	if result == nil {
		t.Fatal("リトライ成功後の結果がnil")
	}
	if calls != 2 {
		t.Errorf("API呼び出し回数 = %d, want 2", calls)
	}
	if logins != 1 {
		t.Errorf("ログイン回数 = %d, want 1", logins)
	}
}

func TestAuthClient_Retry_MaxOneRetry(t *testing.T) {
	// リトライ後も認証エラーの場合、それ以上のリトライはしない
	var buf bytes.Buffer
	calls := 0

	api := &mockAPI{
		followFeedFunc: func(ctx context.Context) ([]model.Work, error) {
			calls++
			return nil, errors.New("invalid_grant")
		},
	}

	c := NewAuthClient(api, &mockAuthenticator{}, &mockTokenSource{token: "tok"}, newTestLogger(&buf))

	_, err := c.FollowFeed(context.Background())
	if err == nil {
		t.Fatal("エラーが返らなかった")
	}
	if calls != 2 {
		t.Errorf("API呼び出し回数 = %d, want 2（リトライは最大1回）", calls)
	}
}

func TestAuthClient_Retry_ReloginFailureReturnsOriginalError(t *testing.T) {
	// 再ログインに失敗した場合は元の呼び出しエラーを返す
	var buf bytes.Buffer
	original := errors.New("unauthorized: access token expired")

	api := &mockAPI{
		rankingFunc: func(ctx context.Context, mode model.RankingMode) ([]model.Work, error) {
			return nil, original
		},
	}
	auth := &mockAuthenticator{
		authenticateFunc: func(ctx context.Context, refreshToken string) (string, error) {
			return "", errors.New("login rejected")
		},
	}

	c := NewAuthClient(api, auth, &mockTokenSource{token: "tok"}, newTestLogger(&buf))

	_, err := c.Ranking(context.Background(), model.RankingModeDay)
	if !errors.Is(err, original) {
		t.Errorf("err = %v, want 元のエラー %v", err, original)
	}
}

func TestAuthClient_Retry_NonAuthErrorPassesThrough(t *testing.T) {
	// 認証エラー以外はリトライせずそのまま返す
	var buf bytes.Buffer
	calls := 0
	netErr := errors.New("connection refused")

	api := &mockAPI{
		workDetailFunc: func(ctx context.Context, workID int64) (*model.Work, error) {
			calls++
			return nil, netErr
		},
	}

	c := NewAuthClient(api, &mockAuthenticator{}, &mockTokenSource{token: "tok"}, newTestLogger(&buf))

	_, err := c.WorkDetail(context.Background(), 100)
	if !errors.Is(err, netErr) {
		t.Errorf("err = %v, want %v", err, netErr)
	}
	if calls != 1 {
		t.Errorf("API呼び出し回数 = %d, want 1", calls)
	}
}

func TestAuthClient_SetToken_LoginsWithNewToken(t *testing.T) {
	var buf bytes.Buffer
	var usedToken string

	tokens := &mockTokenSource{}
	auth := &mockAuthenticator{
		authenticateFunc: func(ctx context.Context, refreshToken string) (string, error) {
			usedToken = refreshToken
			return refreshToken, nil
		},
	}

	c := NewAuthClient(&mockAPI{}, auth, tokens, newTestLogger(&buf))

	if err := c.SetToken(context.Background(), "new-token"); err != nil {
		t.Fatalf("SetToken() がエラーを返した: %v", err)
	}
	if usedToken != "new-token" {
		t.Errorf("ログインに使われたトークン = %q, want %q", usedToken, "new-token")
	}
	if tokens.token != "new-token" {
		t.Errorf("永続化されたトークン = %q, want %q", tokens.token, "new-token")
	}
}
