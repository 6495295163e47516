package generator

import (
	"fmt"
	"time"
)

const (
	BackendVariation = "variation"
	BackendInline    = "inline"
	BackendGemini    = "gemini"
	BackendLocal     = "local"
)

const (
	// DefaultPromptTemplate の {intensity} は小数1桁の強度に置き換えられます。
	DefaultPromptTemplate = "transform into a vibrant, surreal psychedelic artwork, intensity {intensity}"

	defaultTimeout = 60 * time.Second
)

// Config は生成バックエンドの選択と接続設定です。
// 空のフィールドにはバックエンドごとの既定値が入ります。
type Config struct {
	Backend        string
	BaseURL        string
	APIKey         string
	Model          string
	Endpoint       string
	ImageSize      int
	PromptTemplate string
	// ResponseField は応答 JSON 内の画像参照（URL または base64）の gjson パスです。
	ResponseField string
	Timeout       time.Duration
	// RateLimit は 1 秒あたりの呼び出し上限です。0 以下で無制限になります。
	RateLimit float64
	RateBurst int
	// Seed は inline と gemini で使う固定シードです。nil ならバックエンド任せになります。
	Seed *int64
	// AllowPrivateNetwork はプライベートネットワーク上の互換サーバーへの接続を許可します。
	// 有効にすると SSRF 検証はスキームの確認だけになります。
	AllowPrivateNetwork bool
}

type backendDefaults struct {
	baseURL  string
	model    string
	endpoint string
	size     int
	field    string
}

var defaults = map[string]backendDefaults{
	BackendVariation: {
		baseURL:  "https://api.openai.com",
		model:    "dall-e-2",
		endpoint: "/v1/images/variations",
		size:     1024,
		field:    "data.0.url",
	},
	BackendInline: {
		baseURL: "https://api.stability.ai",
		model:   "stable-diffusion-xl-1024-v1-0",
		size:    1024,
		field:   "artifacts.0.base64",
	},
	BackendGemini: {
		model: "gemini-2.5-flash-image",
		size:  1024,
	},
	BackendLocal: {
		size: 512,
	},
}

// WithDefaults はバックエンドに応じた既定値を埋めた Config を返します。
func (c Config) WithDefaults() (Config, error) {
	d, ok := defaults[c.Backend]
	if !ok {
		return c, fmt.Errorf("unknown generation backend: %q", c.Backend)
	}
	if c.BaseURL == "" {
		c.BaseURL = d.baseURL
	}
	if c.Model == "" {
		c.Model = d.model
	}
	if c.Endpoint == "" {
		c.Endpoint = d.endpoint
		if c.Backend == BackendInline {
			c.Endpoint = "/v1/generation/" + c.Model + "/image-to-image"
		}
	}
	if c.ImageSize <= 0 {
		c.ImageSize = d.size
	}
	if c.ResponseField == "" {
		c.ResponseField = d.field
	}
	if c.PromptTemplate == "" {
		c.PromptTemplate = DefaultPromptTemplate
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	return c, nil
}
