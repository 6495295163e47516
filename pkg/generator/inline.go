package generator

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/shouni/psychedelic-image-kit/pkg/domain"
	"github.com/shouni/psychedelic-image-kit/pkg/utils"
	"github.com/tidwall/gjson"
)

// InlineClient は画像を base64 で応答本文に埋め込むバックエンド（Stability image-to-image 形式）用のクライアントです。
type InlineClient struct {
	httpClient HTTPClient
	cfg        Config
}

// NewInlineClient は InlineClient を初期化します。
func NewInlineClient(httpClient HTTPClient, cfg Config) (*InlineClient, error) {
	if httpClient == nil {
		return nil, fmt.Errorf("httpClient is required")
	}
	cfg.Backend = BackendInline
	cfg, err := cfg.WithDefaults()
	if err != nil {
		return nil, err
	}
	return &InlineClient{httpClient: httpClient, cfg: cfg}, nil
}

func (c *InlineClient) Name() string   { return BackendInline }
func (c *InlineClient) ImageSize() int { return c.cfg.ImageSize }

// imageStrength は元画像をどれだけ残すかです。強度が上がるほど元画像から離れます。
func imageStrength(intensity float64) float64 {
	return clamp(1.0-0.7*intensity, 0.0, 1.0)
}

// Transform は init_image とプロンプトを送信し、応答の base64 画像をデコードして返します。
func (c *InlineClient) Transform(ctx context.Context, image []byte, intensity float64) ([]byte, error) {
	body, contentType, err := buildMultipart([]filePart{{field: "init_image", fileName: "init.png", data: image}}, []formField{
		{"text_prompts[0][text]", BuildPrompt(c.cfg.PromptTemplate, intensity)},
		{"text_prompts[0][weight]", "1"},
		{"init_image_mode", "IMAGE_STRENGTH"},
		{"image_strength", strconv.FormatFloat(imageStrength(intensity), 'f', 2, 64)},
		{"cfg_scale", "7"},
		{"samples", "1"},
		{"steps", "30"},
		{"seed", strconv.FormatInt(utils.DereferenceSeed(c.cfg.Seed), 10)},
	})
	if err != nil {
		return nil, &domain.GenerationError{Backend: BackendInline, Cause: "build request body", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.cfg.BaseURL, "/")+c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &domain.GenerationError{Backend: BackendInline, Cause: "build request", Err: err}
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	respBody, status, err := send(c.httpClient, BackendInline, req)
	if err != nil {
		return nil, err
	}

	encoded := gjson.GetBytes(respBody, c.cfg.ResponseField)
	if !encoded.Exists() || encoded.String() == "" {
		return nil, &domain.GenerationError{
			Backend: BackendInline,
			Status:  status,
			Cause:   fmt.Sprintf("response missing image payload %q", c.cfg.ResponseField),
		}
	}

	data, err := base64.StdEncoding.DecodeString(encoded.String())
	if err != nil {
		return nil, &domain.GenerationError{Backend: BackendInline, Status: status, Cause: "malformed base64 payload", Err: err}
	}
	if len(data) == 0 {
		return nil, &domain.GenerationError{Backend: BackendInline, Status: status, Cause: "empty image payload"}
	}
	return data, nil
}
