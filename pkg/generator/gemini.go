package generator

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/shouni/psychedelic-image-kit/pkg/domain"
	"github.com/shouni/psychedelic-image-kit/pkg/utils"
	"google.golang.org/genai"
)

// GeminiClient は Gemini の画像生成モデルに元画像とプロンプトを渡して変換するクライアントなのだ。
type GeminiClient struct {
	models ContentGenerator
	cfg    Config
}

// NewGeminiClient は GeminiClient を初期化するのだ。
// models には通常 genai.Client の Models を渡すのだ。
func NewGeminiClient(models ContentGenerator, cfg Config) (*GeminiClient, error) {
	if models == nil {
		return nil, fmt.Errorf("models (ContentGenerator) is required")
	}
	cfg.Backend = BackendGemini
	cfg, err := cfg.WithDefaults()
	if err != nil {
		return nil, err
	}
	return &GeminiClient{models: models, cfg: cfg}, nil
}

func (c *GeminiClient) Name() string   { return BackendGemini }
func (c *GeminiClient) ImageSize() int { return c.cfg.ImageSize }

// Transform はプロンプトと画像を 1 つの Content にまとめて送信し、最初の候補の画像を返すのだ。
func (c *GeminiClient) Transform(ctx context.Context, image []byte, intensity float64) ([]byte, error) {
	imgPart := toPart(image)
	if imgPart == nil {
		return nil, &domain.GenerationError{Backend: BackendGemini, Cause: "input is not an image"}
	}

	parts := []*genai.Part{
		genai.NewPartFromText(BuildPrompt(c.cfg.PromptTemplate, intensity)),
		imgPart,
	}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}
	config := &genai.GenerateContentConfig{
		ResponseModalities: []string{string(genai.ModalityImage), string(genai.ModalityText)},
		Seed:               utils.SeedToPtrInt32(c.cfg.Seed),
	}

	slog.DebugContext(ctx, "Gemini変換リクエスト送信", "model", c.cfg.Model, "intensity", intensity)

	resp, err := c.models.GenerateContent(ctx, c.cfg.Model, contents, config)
	if err != nil {
		return nil, &domain.GenerationError{Backend: BackendGemini, Cause: "generate content", Err: err}
	}
	return parseToResponse(resp)
}

// toPart は画像バイト列を InlineData の Part に変換するのだ。画像でなければ nil を返すのだ。
func toPart(data []byte) *genai.Part {
	mimeType := http.DetectContentType(data)
	if !strings.HasPrefix(mimeType, "image/") {
		return nil
	}
	return genai.NewPartFromBytes(data, mimeType)
}

// parseToResponse は最初の候補から画像データを取り出すのだ。
// 安全フィルタなどで生成が止まった場合は FinishReason を原因として返すのだ。
func parseToResponse(resp *genai.GenerateContentResponse) ([]byte, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0] == nil {
		return nil, &domain.GenerationError{Backend: BackendGemini, Cause: "empty candidate list"}
	}
	candidate := resp.Candidates[0]

	if candidate.Content != nil {
		for _, part := range candidate.Content.Parts {
			if part != nil && part.InlineData != nil && len(part.InlineData.Data) > 0 {
				return part.InlineData.Data, nil
			}
		}
	}

	if r := candidate.FinishReason; r != "" && r != genai.FinishReasonStop && r != genai.FinishReasonUnspecified {
		return nil, &domain.GenerationError{Backend: BackendGemini, Cause: "generation stopped: " + string(r)}
	}
	return nil, &domain.GenerationError{Backend: BackendGemini, Cause: "no image data in candidate"}
}
