package pixiv

import (
	"context"
	"crypto/md5"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/pixivpush/internal/model"
)

const (
	defaultAppAPIBase = "https://app-api.pixiv.net"
	defaultOAuthURL   = "https://oauth.secure.pixiv.net/auth/token"

	// pixiv公式iOSアプリのクライアント識別子。app-APIの認証に必要。
	clientID     = "MOBrBDS8blbauoSck0ZfDbtuzpyT"
	clientSecret = "lsACyCD94FhDUtGTXi3QzcFE2uU1hqtDaKeqrdwj"
	// X-Client-Hash計算用のソルト。
	hashSecret = "28c1fdd170a5204386cb1313c7077b34f83e4aaf4aa829ce78c231e05b0bae2c"

	userAgent = "PixivAndroidApp/5.0.234 (Android 11; Pixel 5)"
)

// AppClient はpixiv app-APIのHTTPクライアント実装。
// アクセストークンを内部に保持し、Authenticateで更新する。
type AppClient struct {
	httpClient *http.Client
	logger     *slog.Logger
	baseURL    string // テスト用に差し替え可能
	oauthURL   string // テスト用に差し替え可能

	mu          sync.RWMutex
	accessToken string
}

// NewAppClient はAppClientの新しいインスタンスを生成する。
func NewAppClient(httpClient *http.Client, logger *slog.Logger) *AppClient {
	return &AppClient{
		httpClient: httpClient,
		logger:     logger,
		baseURL:    defaultAppAPIBase,
		oauthURL:   defaultOAuthURL,
	}
}

// --- 認証 ---

// authResponse はOAuthトークンエンドポイントのレスポンス。
type authResponse struct {
	Response struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int    `json:"expires_in"`
	} `json:"response"`
}

// Authenticate はrefresh_tokenでログインし、アクセストークンを更新する。
// 成功時はローテーション後のrefresh_tokenを返す。
func (c *AppClient) Authenticate(ctx context.Context, refreshToken string) (string, error) {
	if refreshToken == "" {
		return "", model.NewTokenNotSetError()
	}

	form := url.Values{}
	form.Set("client_id", clientID)
	form.Set("client_secret", clientSecret)
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	form.Set("get_secure_url", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.oauthURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("認証リクエストの作成に失敗しました: %w", err)
	}

	// X-Client-Time/X-Client-Hash はapp-APIの必須ヘッダー
	clientTime := time.Now().UTC().Format("2006-01-02T15:04:05+00:00")
	hash := md5.Sum([]byte(clientTime + hashSecret))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("X-Client-Time", clientTime)
	req.Header.Set("X-Client-Hash", fmt.Sprintf("%x", hash))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("認証リクエストに失敗しました: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("認証レスポンスの読み取りに失敗しました: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		// エラーボディをそのまま含める（invalid_grant等のキーワード判定に使う）
		return "", fmt.Errorf("認証に失敗しました（ステータス %d）: %s", resp.StatusCode, string(body))
	}

	var ar authResponse
	if err := json.Unmarshal(body, &ar); err != nil {
		return "", fmt.Errorf("認証レスポンスのパースに失敗しました: %w", err)
	}
	if ar.Response.AccessToken == "" {
		return "", fmt.Errorf("認証レスポンスにaccess_tokenが含まれていません")
	}

	c.mu.Lock()
	c.accessToken = ar.Response.AccessToken
	c.mu.Unlock()

	c.logger.Info("pixivへのログインに成功しました",
		slog.Int("expires_in", ar.Response.ExpiresIn),
	)

	newToken := ar.Response.RefreshToken
	if newToken == "" {
		newToken = refreshToken
	}
	return newToken, nil
}

// --- ワイヤーフォーマット ---

// wireTag は作品タグのワイヤーフォーマット。
type wireTag struct {
	Name           string `json:"name"`
	TranslatedName string `json:"translated_name"`
}

// wireImageURLs は画質別画像URLのワイヤーフォーマット。
type wireImageURLs struct {
	SquareMedium string `json:"square_medium"`
	Medium       string `json:"medium"`
	Large        string `json:"large"`
	Original     string `json:"original"`
}

// wireUser は絵師プロフィールのワイヤーフォーマット。
type wireUser struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Account string `json:"account"`
}

// wireIllust は作品のワイヤーフォーマット。
// 必須フィールドが欠けている場合はその作品だけをパース失敗として
// スキップし、バッチ全体は処理を継続する。
type wireIllust struct {
	ID             int64         `json:"id"`
	Title          string        `json:"title"`
	Type           string        `json:"type"`
	Caption        string        `json:"caption"`
	CreateDate     string        `json:"create_date"`
	XRestrict      int           `json:"x_restrict"`
	Tags           []wireTag     `json:"tags"`
	PageCount      int           `json:"page_count"`
	User           wireUser      `json:"user"`
	ImageURLs      wireImageURLs `json:"image_urls"`
	MetaSinglePage struct {
		OriginalImageURL string `json:"original_image_url"`
	} `json:"meta_single_page"`
	MetaPages []struct {
		ImageURLs wireImageURLs `json:"image_urls"`
	} `json:"meta_pages"`
}

// toWork はワイヤーフォーマットをドメインモデルへ変換する。
// IDまたは画像URLを欠く作品はパース失敗としてエラーを返す。
// 作成日時のパース失敗はエラーにせず、ゼロ値のCreatedAtのまま返す
// （サイクル側がログを出してスキップする）。
func (w *wireIllust) toWork() (model.Work, error) {
	if w.ID == 0 {
		return model.Work{}, fmt.Errorf("作品IDがありません")
	}
	if w.ImageURLs.Large == "" && w.ImageURLs.Medium == "" && len(w.MetaPages) == 0 {
		return model.Work{}, fmt.Errorf("作品 %d に画像URLがありません", w.ID)
	}

	work := model.Work{
		ID:       w.ID,
		Title:    w.Title,
		Caption:  w.Caption,
		Restrict: model.Restrict(w.XRestrict),
		User: model.Creator{
			ID:      w.User.ID,
			Name:    w.User.Name,
			Account: w.User.Account,
		},
	}

	// 作成日時はオフセット付きISO 8601。UTCへ正規化する。
	if t, err := time.Parse(time.RFC3339, w.CreateDate); err == nil {
		work.CreatedAt = t.UTC()
	}

	for _, tag := range w.Tags {
		work.Tags = append(work.Tags, model.Tag{
			Name:           tag.Name,
			TranslatedName: tag.TranslatedName,
		})
	}

	switch {
	case w.Type == "ugoira":
		work.Kind = model.MediaKindUgoira
	case w.PageCount > 1:
		work.Kind = model.MediaKindMultiPage
	default:
		work.Kind = model.MediaKindSingle
	}

	// 単ページ作品はimage_urls + meta_single_page、
	// 複数ページ作品はmeta_pagesに画質別URLが入る。
	if len(w.MetaPages) > 0 {
		for _, mp := range w.MetaPages {
			work.Pages = append(work.Pages, model.Page{URLs: model.ImageURLs{
				SquareMedium: mp.ImageURLs.SquareMedium,
				Medium:       mp.ImageURLs.Medium,
				Large:        mp.ImageURLs.Large,
				Original:     mp.ImageURLs.Original,
			}})
		}
	} else {
		work.Pages = []model.Page{{URLs: model.ImageURLs{
			SquareMedium: w.ImageURLs.SquareMedium,
			Medium:       w.ImageURLs.Medium,
			Large:        w.ImageURLs.Large,
			Original:     w.MetaSinglePage.OriginalImageURL,
		}}}
	}

	return work, nil
}

// toWorks はワイヤーフォーマットの作品リストをドメインモデルへ変換する。
// パース失敗した作品はログを出してスキップする。
func (c *AppClient) toWorks(illusts []wireIllust) []model.Work {
	works := make([]model.Work, 0, len(illusts))
	for i := range illusts {
		work, err := illusts[i].toWork()
		if err != nil {
			c.logger.Warn("作品のパースに失敗したためスキップします",
				slog.Int64("illust_id", illusts[i].ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		works = append(works, work)
	}
	return works
}

// --- APIエンドポイント ---

// get は認証付きGETを実行し、レスポンスボディを返す。
// ステータス404は「対象なし」としてnilボディを返す。
// 認証エラー系のステータスはボディのテキストを含むエラーを返す
// （AuthClientのキーワード判定に使う）。
func (c *AppClient) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	reqURL := c.baseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("リクエストの作成に失敗しました: %w", err)
	}

	c.mu.RLock()
	token := c.accessToken
	c.mu.RUnlock()

	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept-Language", "ja")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストに失敗しました: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return body, nil
	case resp.StatusCode == http.StatusNotFound:
		return nil, nil
	default:
		return nil, fmt.Errorf("pixiv APIがステータス %d を返しました: %s", resp.StatusCode, string(body))
	}
}

// UserDetail は絵師のプロフィールを取得する。APIインターフェースを実装する。
func (c *AppClient) UserDetail(ctx context.Context, userID int64) (*model.Creator, error) {
	q := url.Values{}
	q.Set("user_id", strconv.FormatInt(userID, 10))

	body, err := c.get(ctx, "/v1/user/detail", q)
	if err != nil {
		return nil, err
	}
	if body == nil {
		return nil, nil
	}

	var result struct {
		User wireUser `json:"user"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("プロフィールのパースに失敗しました: %w", err)
	}
	if result.User.ID == 0 {
		return nil, nil
	}

	return &model.Creator{
		ID:      result.User.ID,
		Name:    result.User.Name,
		Account: result.User.Account,
	}, nil
}

// UserWorks は絵師の最新作品一覧を取得する。APIインターフェースを実装する。
// app-APIは新しい順で最大30件を返す。
func (c *AppClient) UserWorks(ctx context.Context, userID int64) (*UserWorks, error) {
	q := url.Values{}
	q.Set("user_id", strconv.FormatInt(userID, 10))
	q.Set("filter", "for_ios")

	body, err := c.get(ctx, "/v1/user/illusts", q)
	if err != nil {
		return nil, err
	}
	if body == nil {
		return &UserWorks{}, nil
	}

	var result struct {
		User    wireUser     `json:"user"`
		Illusts []wireIllust `json:"illusts"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("作品一覧のパースに失敗しました: %w", err)
	}

	works := c.toWorks(result.Illusts)
	user := model.Creator{ID: result.User.ID, Name: result.User.Name, Account: result.User.Account}
	if user.ID == 0 && len(works) > 0 {
		user = works[0].User
	}

	return &UserWorks{User: user, Works: works}, nil
}

// FollowFeed はフォロー新着作品を取得する。APIインターフェースを実装する。
func (c *AppClient) FollowFeed(ctx context.Context) ([]model.Work, error) {
	q := url.Values{}
	q.Set("restrict", "public")

	body, err := c.get(ctx, "/v2/illust/follow", q)
	if err != nil {
		return nil, err
	}
	if body == nil {
		return nil, nil
	}

	var result struct {
		Illusts []wireIllust `json:"illusts"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("フォロー新着のパースに失敗しました: %w", err)
	}

	return c.toWorks(result.Illusts), nil
}

// WorkDetail は作品を1件取得する。APIインターフェースを実装する。
func (c *AppClient) WorkDetail(ctx context.Context, workID int64) (*model.Work, error) {
	q := url.Values{}
	q.Set("illust_id", strconv.FormatInt(workID, 10))

	body, err := c.get(ctx, "/v1/illust/detail", q)
	if err != nil {
		return nil, err
	}
	if body == nil {
		return nil, nil
	}

	var result struct {
		Illust wireIllust `json:"illust"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("作品詳細のパースに失敗しました: %w", err)
	}

	work, err := result.Illust.toWork()
	if err != nil {
		// 必須フィールド欠落は「対象なし」として扱う
		c.logger.Warn("作品詳細のパースに失敗しました",
			slog.Int64("work_id", workID),
			slog.String("error", err.Error()),
		)
		return nil, nil
	}
	return &work, nil
}

// Ranking は指定モードのランキングを取得する。APIインターフェースを実装する。
func (c *AppClient) Ranking(ctx context.Context, mode model.RankingMode) ([]model.Work, error) {
	q := url.Values{}
	q.Set("mode", string(mode))
	q.Set("filter", "for_ios")

	body, err := c.get(ctx, "/v1/illust/ranking", q)
	if err != nil {
		return nil, err
	}
	if body == nil {
		return nil, nil
	}

	var result struct {
		Illusts []wireIllust `json:"illusts"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("ランキングのパースに失敗しました: %w", err)
	}

	return c.toWorks(result.Illusts), nil
}

// UgoiraMetadata はうごイラのフレーム情報を取得する。APIインターフェースを実装する。
func (c *AppClient) UgoiraMetadata(ctx context.Context, workID int64) (*UgoiraMetadata, error) {
	q := url.Values{}
	q.Set("illust_id", strconv.FormatInt(workID, 10))

	body, err := c.get(ctx, "/v1/ugoira/metadata", q)
	if err != nil {
		return nil, err
	}
	if body == nil {
		return nil, nil
	}

	var result struct {
		UgoiraMetadata struct {
			ZipURLs struct {
				Medium string `json:"medium"`
			} `json:"zip_urls"`
			Frames []struct {
				File  string `json:"file"`
				Delay int    `json:"delay"`
			} `json:"frames"`
		} `json:"ugoira_metadata"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("うごイラ情報のパースに失敗しました: %w", err)
	}

	meta := &UgoiraMetadata{ZipURL: result.UgoiraMetadata.ZipURLs.Medium}
	for _, f := range result.UgoiraMetadata.Frames {
		meta.Frames = append(meta.Frames, UgoiraFrame{File: f.File, DelayMS: f.Delay})
	}
	return meta, nil
}
