// Package chat はグループチャットへのメッセージ送信を提供する。
// 送信プリミティブ（単発送信と合併転送送信）のインターフェースと
// OneBot互換HTTP API実装を含む。
package chat

import (
	"context"

	"github.com/hitoshi/pixivpush/internal/media"
)

// Message は送信する1メッセージユニットを表す。
// テキスト部と、その後に続く送信順のメディアブロブからなる。
type Message struct {
	Text  string
	Media []media.Blob
}

// Sender はチャット送信プリミティブのインターフェース。
type Sender interface {
	// Send は1メッセージをグループへ送信する。
	Send(ctx context.Context, groupID string, msg Message) error
	// SendBundle は複数メッセージを1回の呼び出しで合併転送として送信する。
	// チャットクライアント側では折りたたまれた1ユニットとして表示される。
	SendBundle(ctx context.Context, groupID string, msgs []Message) error
}
