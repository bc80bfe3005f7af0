// Package deliver はフィルタ済み作品からチャットメッセージを組み立て、
// 送信ペースを制御しながら配信する。
package deliver

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hitoshi/pixivpush/internal/chat"
	"github.com/hitoshi/pixivpush/internal/media"
	"github.com/hitoshi/pixivpush/internal/metrics"
	"github.com/hitoshi/pixivpush/internal/model"
	"github.com/hitoshi/pixivpush/internal/security"
)

// maxTagsPerMessage は1メッセージに表示する最大タグ数。
const maxTagsPerMessage = 3

// maxCaptionRunes はキャプション表示の最大文字数。
const maxCaptionRunes = 120

// PolicySource はグループポリシー取得のインターフェース。
// store.SubscriptionStoreが実装する。
type PolicySource interface {
	Policy(groupID string) model.GroupPolicy
}

// Config はPacerの動作設定。
type Config struct {
	// MaxDisplayWorks は1回の推送で表示する最大作品数。
	// 超過分は「ほかにN件」の注記で示す。
	MaxDisplayWorks int
	// BundleThreshold はメッセージユニット数がこの値を超えた場合に
	// 合併転送へ切り替える閾値。
	BundleThreshold int
	// MessageDelay は逐次送信時のメッセージ間ディレイ。
	MessageDelay time.Duration
	// ChainReply は対話型クエリの送信で合併転送を使うかどうか。
	ChainReply bool
}

// Pacer はメッセージの組み立てと送信ペース制御を行う。
type Pacer struct {
	sender    chat.Sender
	resolver  media.Resolver
	policies  PolicySource
	sanitizer *security.CaptionSanitizer
	metrics   metrics.MetricsCollector
	logger    *slog.Logger
	config    Config
}

// NewPacer はPacerの新しいインスタンスを生成する。
func NewPacer(
	sender chat.Sender,
	resolver media.Resolver,
	policies PolicySource,
	sanitizer *security.CaptionSanitizer,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	config Config,
) *Pacer {
	if config.MaxDisplayWorks <= 0 {
		config.MaxDisplayWorks = 3
	}
	if config.BundleThreshold <= 0 {
		config.BundleThreshold = 3
	}
	return &Pacer{
		sender:    sender,
		resolver:  resolver,
		policies:  policies,
		sanitizer: sanitizer,
		metrics:   collector,
		logger:    logger,
		config:    config,
	}
}

// Deliver はフィルタ前の作品リストを各グループのポリシーで絞り込み、
// メッセージを組み立てて配信する。
//
// ポリシーはグループごとに異なるため、フィルタはグループ単位で適用する。
// フィルタ後に作品が残らないグループはスキップする（エラーなし）。
// 1グループへの送信失敗は記録した上で他グループへの配信を継続する。
func (p *Pacer) Deliver(ctx context.Context, artistName string, works []model.Work, groupIDs []string) {
	// 同一作品のメディアをグループ間で再取得しないためのキャッシュ
	mediaCache := make(map[int64][]media.Blob)

	for _, groupID := range groupIDs {
		policy := p.policies.Policy(groupID)

		var filtered []model.Work
		for i := range works {
			if policy.Allows(&works[i]) {
				filtered = append(filtered, works[i])
			}
		}
		if len(filtered) == 0 {
			continue
		}

		msgs := p.assemble(ctx, artistName, filtered, mediaCache)

		if err := p.sendPaced(ctx, groupID, msgs); err != nil {
			p.logger.Error("グループへの配信に失敗しました",
				slog.String("group_id", groupID),
				slog.String("artist", artistName),
				slog.String("error", err.Error()),
			)
			p.metrics.RecordDeliveryFailure()
			continue
		}

		delivered := min(len(filtered), p.config.MaxDisplayWorks)
		p.metrics.RecordWorksDelivered(delivered)
		p.logger.Info("グループへ配信しました",
			slog.String("group_id", groupID),
			slog.String("artist", artistName),
			slog.Int("works", delivered),
		)
	}
}

// DeliverDirect は対話型クエリの結果を単一の宛先へ配信する。
// 宛先グループのポリシーで絞り込み、合併転送か逐次送信かは
// ChainReply設定で決まる。合併転送の失敗時は逐次送信へフォールバックする。
func (p *Pacer) DeliverDirect(ctx context.Context, groupID, artistName string, works []model.Work) error {
	policy := p.policies.Policy(groupID)

	var filtered []model.Work
	for i := range works {
		if policy.Allows(&works[i]) {
			filtered = append(filtered, works[i])
		}
	}
	if len(filtered) == 0 {
		return p.sender.Send(ctx, groupID, chat.Message{
			Text: "条件に合う作品が見つかりませんでした。",
		})
	}

	mediaCache := make(map[int64][]media.Blob)
	msgs := p.assembleUnits(ctx, artistName, filtered, mediaCache)

	if p.config.ChainReply {
		if err := p.sender.SendBundle(ctx, groupID, msgs); err == nil {
			p.metrics.RecordBundledSend()
			return nil
		}
		p.logger.Warn("合併転送に失敗したため逐次送信へフォールバックします",
			slog.String("group_id", groupID),
		)
	}
	return p.sendSequential(ctx, groupID, msgs)
}

// assemble はフィルタ済み作品からメッセージユニット列を組み立てる。
// MaxDisplayWorksを超える作品は省略し、省略数の注記ユニットを末尾に付ける。
func (p *Pacer) assemble(ctx context.Context, artistName string, works []model.Work, mediaCache map[int64][]media.Blob) []chat.Message {
	shown := works
	omitted := 0
	if len(works) > p.config.MaxDisplayWorks {
		shown = works[:p.config.MaxDisplayWorks]
		omitted = len(works) - p.config.MaxDisplayWorks
	}

	msgs := p.assembleUnits(ctx, artistName, shown, mediaCache)

	if omitted > 0 {
		msgs = append(msgs, chat.Message{
			Text: fmt.Sprintf("…ほかに %d 件の新着作品があります", omitted),
		})
	}
	return msgs
}

// assembleUnits は作品1件につき1メッセージユニットを組み立てる。
// メディア解決が空を返した場合でもテキスト情報は失わず、
// 取得失敗の注記を付けて送信対象に残す。
func (p *Pacer) assembleUnits(ctx context.Context, artistName string, works []model.Work, mediaCache map[int64][]media.Blob) []chat.Message {
	msgs := make([]chat.Message, 0, len(works))
	for i := range works {
		work := &works[i]

		name := artistName
		if name == "" {
			name = work.User.DisplayName()
		}

		var sb strings.Builder
		fmt.Fprintf(&sb, "🎨 %s の新着作品\n📖 %s", name, work.Title)

		if tags := formatTags(work.Tags); tags != "" {
			sb.WriteString("\n🏷️ " + tags)
		}

		if p.sanitizer != nil && work.Caption != "" {
			if caption := p.sanitizer.Sanitize(work.Caption, maxCaptionRunes); caption != "" {
				sb.WriteString("\n" + caption)
			}
		}

		blobs, ok := mediaCache[work.ID]
		if !ok {
			blobs = p.resolver.Resolve(ctx, work)
			mediaCache[work.ID] = blobs
		}
		if len(blobs) == 0 {
			sb.WriteString("\n(画像の取得に失敗しました)")
		}

		msgs = append(msgs, chat.Message{Text: sb.String(), Media: blobs})
	}
	return msgs
}

// sendPaced はメッセージユニット数に応じて送信戦略を選択する。
// 閾値を超える場合は1回の合併転送、以下の場合はディレイ付き逐次送信。
// 選択はユニット数のみで決まる（決定的）。
func (p *Pacer) sendPaced(ctx context.Context, groupID string, msgs []chat.Message) error {
	if len(msgs) > p.config.BundleThreshold {
		if err := p.sender.SendBundle(ctx, groupID, msgs); err != nil {
			return err
		}
		p.metrics.RecordBundledSend()
		return nil
	}
	return p.sendSequential(ctx, groupID, msgs)
}

// sendSequential はメッセージを1件ずつ送信し、各送信後にディレイを挟む。
func (p *Pacer) sendSequential(ctx context.Context, groupID string, msgs []chat.Message) error {
	for _, msg := range msgs {
		if err := p.sender.Send(ctx, groupID, msg); err != nil {
			return err
		}
		p.metrics.RecordSequentialSend()
		if err := p.wait(ctx); err != nil {
			return err
		}
	}
	return nil
}

// wait はメッセージ間の送信ディレイを適用する。
func (p *Pacer) wait(ctx context.Context) error {
	if p.config.MessageDelay <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(p.config.MessageDelay):
		return nil
	}
}

// formatTags は先頭3件のタグを「、」区切りで整形する。
func formatTags(tags []model.Tag) string {
	var names []string
	for _, tag := range tags {
		if tag.Name == "" {
			continue
		}
		names = append(names, tag.Name)
		if len(names) >= maxTagsPerMessage {
			break
		}
	}
	return strings.Join(names, "、")
}
