package generator

import (
	"context"

	"github.com/shouni/go-http-kit/pkg/httpkit"
	"google.golang.org/genai"
)

// Transformer は 1 枚の画像を強度パラメータに従って変換する生成クライアントの窓口です。
// どのバックエンドのプロトコル（URL 取得型・base64 インライン型など）が使われているかは
// 呼び出し側からは見えません。
type Transformer interface {
	Transform(ctx context.Context, image []byte, intensity float64) ([]byte, error)
}

// Backend は Transformer に加えて、バックエンド名と API が要求する正方形の一辺を公開します。
type Backend interface {
	Transformer
	Name() string
	ImageSize() int
}

// HTTPClient は httpkit.ClientInterface のうち、リトライを伴わない実行と SSRF 検証だけを抜き出したものです。
// *httpkit.Client がそのまま満たします。
type HTTPClient interface {
	httpkit.Doer
	IsSafeURL(urlStr string) (bool, error)
}

// ContentGenerator は genai の Models サービスのうち、画像生成に使うメソッドだけを抜き出したものです。
type ContentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}
