// Package media は作品記述子から送信可能なメディアブロブへの解決を提供する。
//
// 静止画はページごとにダウンロードし、うごイラはフレームアーカイブから
// GIFを合成する。解決に失敗した場合は空のリストを返し、エラーは
// 返さない（呼び出し側がテキストのみで送信を継続する）。
package media

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"image"
	"image/draw"
	"image/gif"
	"log/slog"
	"net/http"

	// うごイラフレームのデコードに必要
	_ "image/jpeg"
	_ "image/png"

	"image/color/palette"

	"github.com/google/uuid"

	"github.com/hitoshi/pixivpush/internal/model"
	"github.com/hitoshi/pixivpush/internal/pixiv"
	"github.com/hitoshi/pixivpush/internal/security"
)

// Blob は送信可能なエンコード済みメディア1件を表す。
type Blob struct {
	Data []byte
	MIME string
}

// Resolver は作品記述子をメディアブロブへ解決するインターフェース。
type Resolver interface {
	// Resolve は作品のメディアを送信順で返す。失敗時は空リストを返す。
	Resolve(ctx context.Context, work *model.Work) []Blob
}

// Config はResolverの動作設定。
type Config struct {
	// ImageQuality は取得する画質（square_medium / medium / large / original）。
	ImageQuality string
	// MaxPagesPerWork は1作品あたりの最大取得ページ数。
	MaxPagesPerWork int
	// ByteNoise は送信ごとのバイト列一意化を有効にするかどうか。
	ByteNoise bool
	// UgoiraSizeLimit は合成GIFのサイズ上限（バイト）。
	// 超過時は静止画のカバー画像へフォールバックする。
	UgoiraSizeLimit int64
}

// ImageResolver はResolverの実装。
type ImageResolver struct {
	fetcher security.ImageFetcher
	api     pixiv.API
	logger  *slog.Logger
	config  Config
}

// NewImageResolver はImageResolverの新しいインスタンスを生成する。
func NewImageResolver(fetcher security.ImageFetcher, api pixiv.API, logger *slog.Logger, config Config) *ImageResolver {
	if config.MaxPagesPerWork <= 0 {
		config.MaxPagesPerWork = 3
	}
	return &ImageResolver{
		fetcher: fetcher,
		api:     api,
		logger:  logger,
		config:  config,
	}
}

// Resolve は作品のメディアブロブを返す。Resolverインターフェースを実装する。
func (r *ImageResolver) Resolve(ctx context.Context, work *model.Work) []Blob {
	if work.Kind == model.MediaKindUgoira {
		if blob, err := r.resolveUgoira(ctx, work); err == nil {
			return []Blob{r.finalize(blob)}
		} else {
			r.logger.Warn("うごイラの合成に失敗したためカバー画像へフォールバックします",
				slog.Int64("work_id", work.ID),
				slog.String("error", err.Error()),
			)
		}
		// フォールバック: 先頭ページの静止画
		return r.resolvePages(ctx, work, 1)
	}

	return r.resolvePages(ctx, work, r.config.MaxPagesPerWork)
}

// resolvePages は作品の静止画ページを最大maxPages件ダウンロードする。
// ページ単位の失敗はログを出してスキップする。
func (r *ImageResolver) resolvePages(ctx context.Context, work *model.Work, maxPages int) []Blob {
	var blobs []Blob
	for i, page := range work.Pages {
		if i >= maxPages {
			break
		}

		imageURL := pickURL(page.URLs, r.config.ImageQuality)
		if imageURL == "" {
			r.logger.Warn("画像URLが見つかりません",
				slog.Int64("work_id", work.ID),
				slog.Int("page", i),
			)
			continue
		}

		data, err := r.fetcher.Fetch(ctx, imageURL)
		if err != nil {
			r.logger.Warn("画像の取得に失敗しました",
				slog.Int64("work_id", work.ID),
				slog.Int("page", i),
				slog.String("error", err.Error()),
			)
			continue
		}

		blobs = append(blobs, r.finalize(Blob{
			Data: data,
			MIME: http.DetectContentType(data),
		}))
	}
	return blobs
}

// resolveUgoira はうごイラのフレームアーカイブからGIFを合成する。
func (r *ImageResolver) resolveUgoira(ctx context.Context, work *model.Work) (Blob, error) {
	meta, err := r.api.UgoiraMetadata(ctx, work.ID)
	if err != nil {
		return Blob{}, fmt.Errorf("うごイラ情報の取得に失敗しました: %w", err)
	}
	if meta == nil || meta.ZipURL == "" || len(meta.Frames) == 0 {
		return Blob{}, fmt.Errorf("うごイラ情報が不完全です")
	}

	archive, err := r.fetcher.Fetch(ctx, meta.ZipURL)
	if err != nil {
		return Blob{}, fmt.Errorf("フレームアーカイブの取得に失敗しました: %w", err)
	}

	zr, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	if err != nil {
		return Blob{}, fmt.Errorf("フレームアーカイブの展開に失敗しました: %w", err)
	}

	files := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		files[f.Name] = f
	}

	anim := &gif.GIF{}
	for _, frame := range meta.Frames {
		zf, ok := files[frame.File]
		if !ok {
			return Blob{}, fmt.Errorf("フレーム %s がアーカイブにありません", frame.File)
		}

		rc, err := zf.Open()
		if err != nil {
			return Blob{}, fmt.Errorf("フレーム %s のオープンに失敗しました: %w", frame.File, err)
		}
		img, _, err := image.Decode(rc)
		rc.Close()
		if err != nil {
			return Blob{}, fmt.Errorf("フレーム %s のデコードに失敗しました: %w", frame.File, err)
		}

		paletted := image.NewPaletted(img.Bounds(), palette.Plan9)
		draw.FloydSteinberg.Draw(paletted, img.Bounds(), img, image.Point{})

		anim.Image = append(anim.Image, paletted)
		// GIFのディレイは1/100秒単位
		anim.Delay = append(anim.Delay, frame.DelayMS/10)
	}

	var buf bytes.Buffer
	if err := gif.EncodeAll(&buf, anim); err != nil {
		return Blob{}, fmt.Errorf("GIFのエンコードに失敗しました: %w", err)
	}

	if r.config.UgoiraSizeLimit > 0 && int64(buf.Len()) > r.config.UgoiraSizeLimit {
		return Blob{}, fmt.Errorf("合成GIFがサイズ上限を超えました: %d > %d", buf.Len(), r.config.UgoiraSizeLimit)
	}

	return Blob{Data: buf.Bytes(), MIME: "image/gif"}, nil
}

// finalize はバイト列一意化が有効な場合、ブロブ末尾にランダムな
// ソルトを付加する。JPEG/PNG/GIFのデコーダーは末尾の余剰バイトを
// 無視するため、表示内容は変わらない。
func (r *ImageResolver) finalize(blob Blob) Blob {
	if !r.config.ByteNoise {
		return blob
	}
	salt := uuid.New()
	blob.Data = append(blob.Data, salt[:]...)
	return blob
}

// pickURL は設定画質に対応する画像URLを返す。
// 指定画質のURLがない場合はより取得可能性の高い画質へフォールバックする。
func pickURL(urls model.ImageURLs, quality string) string {
	var candidates []string
	switch quality {
	case "original":
		candidates = []string{urls.Original, urls.Large, urls.Medium}
	case "medium":
		candidates = []string{urls.Medium, urls.Large}
	case "square_medium":
		candidates = []string{urls.SquareMedium, urls.Medium, urls.Large}
	default: // large
		candidates = []string{urls.Large, urls.Medium, urls.Original}
	}
	for _, u := range candidates {
		if u != "" {
			return u
		}
	}
	return ""
}
