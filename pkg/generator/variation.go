package generator

import (
	"bytes"
	"context"
	"fmt"
	stdimage "image"
	"image/color"
	"net/http"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/shouni/psychedelic-image-kit/pkg/domain"
	"github.com/tidwall/gjson"
)

// VariationClient は生成画像の URL を返すバックエンド（OpenAI Images API 形式）用のクライアントです。
// 応答の URL に対して 2 回目の GET を行い、画像バイト列を取得します。
// 既定の /v1/images/variations はプロンプトを受け付けないため、強度は送信する画像の系列にだけ反映されます。
// Endpoint に /v1/images/edits を指定した場合は、プロンプトと全面透過のマスクを添えて送信します。
type VariationClient struct {
	httpClient HTTPClient
	cfg        Config
	urlGuard   URLGuard
}

// VariationOption は VariationClient の任意設定です。
type VariationOption func(*VariationClient)

// WithURLGuard は生成画像 URL の検証関数を差し替えます。既定は SafeURLGuard です。
func WithURLGuard(guard URLGuard) VariationOption {
	return func(c *VariationClient) {
		c.urlGuard = guard
	}
}

// NewVariationClient は VariationClient を初期化します。
func NewVariationClient(httpClient HTTPClient, cfg Config, opts ...VariationOption) (*VariationClient, error) {
	if httpClient == nil {
		return nil, fmt.Errorf("httpClient is required")
	}
	cfg.Backend = BackendVariation
	cfg, err := cfg.WithDefaults()
	if err != nil {
		return nil, err
	}

	c := &VariationClient{
		httpClient: httpClient,
		cfg:        cfg,
		urlGuard:   SafeURLGuard(httpClient),
	}
	if cfg.AllowPrivateNetwork {
		c.urlGuard = schemeGuard
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *VariationClient) Name() string   { return BackendVariation }
func (c *VariationClient) ImageSize() int { return c.cfg.ImageSize }

func (c *VariationClient) isEdit() bool {
	return strings.HasSuffix(strings.TrimRight(c.cfg.Endpoint, "/"), "/edits")
}

// Transform は画像を送信し、返された URL から生成画像を取得します。
func (c *VariationClient) Transform(ctx context.Context, image []byte, intensity float64) ([]byte, error) {
	size := strconv.Itoa(c.cfg.ImageSize)
	files := []filePart{{field: "image", fileName: "image.png", data: image}}
	fields := []formField{
		{"model", c.cfg.Model},
		{"n", "1"},
		{"size", size + "x" + size},
		{"response_format", "url"},
	}
	if c.isEdit() {
		mask, err := transparentMask(image)
		if err != nil {
			return nil, &domain.GenerationError{Backend: BackendVariation, Cause: "build mask", Err: err}
		}
		files = append(files, filePart{field: "mask", fileName: "mask.png", data: mask})
		fields = append(fields, formField{"prompt", BuildPrompt(c.cfg.PromptTemplate, intensity)})
	}

	body, contentType, err := buildMultipart(files, fields)
	if err != nil {
		return nil, &domain.GenerationError{Backend: BackendVariation, Cause: "build request body", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.cfg.BaseURL, "/")+c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &domain.GenerationError{Backend: BackendVariation, Cause: "build request", Err: err}
	}
	req.Header.Set("Content-Type", contentType)
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	respBody, status, err := send(c.httpClient, BackendVariation, req)
	if err != nil {
		return nil, err
	}

	ref := gjson.GetBytes(respBody, c.cfg.ResponseField)
	if !ref.Exists() || ref.String() == "" {
		return nil, &domain.GenerationError{
			Backend: BackendVariation,
			Status:  status,
			Cause:   fmt.Sprintf("response missing image reference %q", c.cfg.ResponseField),
		}
	}

	return c.fetch(ctx, ref.String())
}

// fetch は生成画像の URL を検証してからダウンロードします。
func (c *VariationClient) fetch(ctx context.Context, imageURL string) ([]byte, error) {
	if safe, err := c.urlGuard(imageURL); err != nil || !safe {
		return nil, &domain.GenerationError{Backend: BackendVariation, Cause: "refused to fetch unsafe image url", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, &domain.GenerationError{Backend: BackendVariation, Cause: "build image request", Err: err}
	}

	data, status, err := send(c.httpClient, BackendVariation, req)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, &domain.GenerationError{Backend: BackendVariation, Status: status, Cause: "image download returned empty body"}
	}
	return data, nil
}

// transparentMask は image と同じ大きさの全面透過 PNG を作ります。edits では透過部分が描き直しの対象になります。
func transparentMask(image []byte) ([]byte, error) {
	cfg, _, err := stdimage.DecodeConfig(bytes.NewReader(image))
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, imaging.New(cfg.Width, cfg.Height, color.NRGBA{}), imaging.PNG); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
