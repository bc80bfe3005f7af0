// Package security は外部リソース取得まわりの安全機構を提供する。
//
// 画像URLはpixiv APIのレスポンスに由来する外部入力であるため、
// ダウンロードにはSSRF防止機能付きのHTTPクライアントを使用する。
package security

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
	"golang.org/x/net/proxy"
)

const (
	// pximgRefererはpixivの画像CDNが要求するRefererヘッダー。
	pximgReferer = "https://www.pixiv.net/"
	userAgent    = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"
)

// ImageFetcher は画像ダウンロードのインターフェース。
type ImageFetcher interface {
	// Fetch は指定URLの画像バイト列を取得する。
	Fetch(ctx context.Context, rawURL string) ([]byte, error)
}

// imageClient はImageFetcherの実装。
// プロキシ未使用時はsafeurlのSSRF防止クライアントを使用する。
type imageClient struct {
	httpClient *http.Client
	logger     *slog.Logger
	maxSize    int64
}

// NewImageFetcher は画像ダウンロード用のImageFetcherを生成する。
//
// proxyURLが空の場合、safeurlによりプライベートIP・ループバック・
// リンクローカル・メタデータIPへのリクエストがDialerレベルで
// ブロックされる（DNS再バインディング対策を含む）。
// プロキシ使用時は宛先IPの判定がプロキシ側に移るため、
// safeurlを介さない通常のクライアントを使用する。
func NewImageFetcher(proxyURL string, timeout time.Duration, maxSize int64, logger *slog.Logger) (ImageFetcher, error) {
	var client *http.Client
	if proxyURL == "" {
		config := safeurl.GetConfigBuilder().
			SetTimeout(timeout).
			SetAllowedSchemes("http", "https").
			SetAllowedPorts(80, 443).
			Build()
		client = safeurl.Client(config).Client
	} else {
		var err error
		client, err = NewProxyClient(proxyURL, timeout)
		if err != nil {
			return nil, err
		}
	}

	return &imageClient{
		httpClient: client,
		logger:     logger,
		maxSize:    maxSize,
	}, nil
}

// Fetch は指定URLの画像を取得する。
// pximg CDNに必要なRefererヘッダーを付与する。
func (c *imageClient) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("画像リクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Referer", pximgReferer)
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("画像のダウンロードに失敗しました: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("画像サーバーがステータス %d を返しました", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("画像の読み取りに失敗しました: %w", err)
	}
	if int64(len(data)) > c.maxSize {
		return nil, fmt.Errorf("画像サイズが上限 %d バイトを超えています", c.maxSize)
	}

	return data, nil
}

// NewProxyClient はプロキシ経由のHTTPクライアントを生成する。
// http/httpsプロキシに加え、socks5スキームをサポートする。
func NewProxyClient(proxyURL string, timeout time.Duration) (*http.Client, error) {
	parsed, err := url.Parse(proxyURL)
	if err != nil {
		return nil, fmt.Errorf("プロキシURLのパースに失敗しました: %w", err)
	}

	transport := &http.Transport{}
	switch strings.ToLower(parsed.Scheme) {
	case "http", "https":
		transport.Proxy = http.ProxyURL(parsed)
	case "socks5":
		var auth *proxy.Auth
		if parsed.User != nil {
			password, _ := parsed.User.Password()
			auth = &proxy.Auth{User: parsed.User.Username(), Password: password}
		}
		dialer, err := proxy.SOCKS5("tcp", parsed.Host, auth, &net.Dialer{Timeout: timeout})
		if err != nil {
			return nil, fmt.Errorf("SOCKS5ダイヤラーの作成に失敗しました: %w", err)
		}
		transport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			if cd, ok := dialer.(proxy.ContextDialer); ok {
				return cd.DialContext(ctx, network, addr)
			}
			return dialer.Dial(network, addr)
		}
	default:
		return nil, fmt.Errorf("サポート外のプロキシスキームです: %s", parsed.Scheme)
	}

	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}, nil
}

// NewAPIClient はpixiv API呼び出し用のHTTPクライアントを生成する。
// プロキシ設定がある場合はプロキシ経由のクライアントを返す。
func NewAPIClient(proxyURL string, timeout time.Duration) (*http.Client, error) {
	if proxyURL == "" {
		return &http.Client{Timeout: timeout}, nil
	}
	return NewProxyClient(proxyURL, timeout)
}
