package generator

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"golang.org/x/time/rate"
	"google.golang.org/genai"
)

// New は cfg.Backend に応じたバックエンドを組み立て、レート制限と計測のデコレータを被せて返します。
// variation と inline は NewHTTPClient の httpkit クライアントで通信します。
func New(ctx context.Context, cfg Config, observer CallObserver) (Backend, error) {
	cfg, err := cfg.WithDefaults()
	if err != nil {
		return nil, err
	}

	var backend Backend
	switch cfg.Backend {
	case BackendVariation:
		backend, err = NewVariationClient(NewHTTPClient(cfg), cfg)
	case BackendInline:
		backend, err = NewInlineClient(NewHTTPClient(cfg), cfg)
	case BackendGemini:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("api key is required for backend %q", cfg.Backend)
		}
		var client *genai.Client
		client, err = genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:     cfg.APIKey,
			Backend:    genai.BackendGeminiAPI,
			HTTPClient: &http.Client{Timeout: cfg.Timeout},
		})
		if err != nil {
			return nil, fmt.Errorf("create genai client: %w", err)
		}
		backend, err = NewGeminiClient(client.Models, cfg)
	case BackendLocal:
		backend, err = NewLocalClient(cfg)
	}
	if err != nil {
		return nil, err
	}

	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		backend = RateLimited(backend, rate.NewLimiter(rate.Limit(cfg.RateLimit), burst))
	}
	backend = Instrumented(backend, observer)

	slog.InfoContext(ctx, "生成バックエンドを初期化しました", "backend", cfg.Backend, "model", cfg.Model, "image_size", cfg.ImageSize)
	return backend, nil
}
