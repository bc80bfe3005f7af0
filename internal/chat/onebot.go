package chat

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

// OneBotClient はOneBot互換HTTP APIのチャット送信クライアント。
// Senderインターフェースを実装する。
type OneBotClient struct {
	httpClient  *http.Client
	logger      *slog.Logger
	apiURL      string
	accessToken string
	botName     string
}

// NewOneBotClient はOneBotClientの新しいインスタンスを生成する。
func NewOneBotClient(httpClient *http.Client, logger *slog.Logger, apiURL, accessToken string) *OneBotClient {
	return &OneBotClient{
		httpClient:  httpClient,
		logger:      logger,
		apiURL:      strings.TrimRight(apiURL, "/"),
		accessToken: accessToken,
		botName:     "pixivpush",
	}
}

// encodeMessage はメッセージをCQコード形式の文字列へ変換する。
// メディアはbase64埋め込みの画像セグメントとして付加する。
func encodeMessage(msg Message) string {
	var sb strings.Builder
	sb.WriteString(msg.Text)
	for _, blob := range msg.Media {
		sb.WriteString(fmt.Sprintf("[CQ:image,file=base64://%s]",
			base64.StdEncoding.EncodeToString(blob.Data)))
	}
	return sb.String()
}

// onebotResponse はOneBot APIの共通レスポンス。
type onebotResponse struct {
	Status  string `json:"status"`
	RetCode int    `json:"retcode"`
	Message string `json:"message"`
}

// call はOneBot APIのアクションを呼び出す。
func (c *OneBotClient) call(ctx context.Context, action string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("リクエストのエンコードに失敗しました: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL+"/"+action, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("リクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("チャットAPIの呼び出しに失敗しました: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("チャットAPIレスポンスの読み取りに失敗しました: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("チャットAPIがステータス %d を返しました: %s", resp.StatusCode, string(respBody))
	}

	var or onebotResponse
	if err := json.Unmarshal(respBody, &or); err != nil {
		return fmt.Errorf("チャットAPIレスポンスのパースに失敗しました: %w", err)
	}
	if or.Status == "failed" {
		return fmt.Errorf("チャットAPIがエラーを返しました（retcode %d）: %s", or.RetCode, or.Message)
	}

	return nil
}

// Send は1メッセージをグループへ送信する。Senderインターフェースを実装する。
func (c *OneBotClient) Send(ctx context.Context, groupID string, msg Message) error {
	return c.call(ctx, "send_group_msg", map[string]any{
		"group_id": groupID,
		"message":  encodeMessage(msg),
	})
}

// SendBundle は複数メッセージを合併転送として1回で送信する。
// Senderインターフェースを実装する。
func (c *OneBotClient) SendBundle(ctx context.Context, groupID string, msgs []Message) error {
	nodes := make([]map[string]any, 0, len(msgs))
	for _, msg := range msgs {
		nodes = append(nodes, map[string]any{
			"type": "node",
			"data": map[string]any{
				"name":    c.botName,
				"content": encodeMessage(msg),
			},
		})
	}
	return c.call(ctx, "send_group_forward_msg", map[string]any{
		"group_id": groupID,
		"messages": nodes,
	})
}
