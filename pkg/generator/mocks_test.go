package generator

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"sync"
	"testing"
	"time"

	"github.com/shouni/go-http-kit/pkg/httpkit"
	"google.golang.org/genai"
)

// --- Mocks ---

type mockContentGenerator struct {
	generateFunc func(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)

	lastModel    string
	lastContents []*genai.Content
	lastConfig   *genai.GenerateContentConfig
}

func (m *mockContentGenerator) GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	m.lastModel = model
	m.lastContents = contents
	m.lastConfig = config
	if m.generateFunc != nil {
		return m.generateFunc(ctx, model, contents, config)
	}
	return nil, nil
}

type mockBackend struct {
	calls int
	out   []byte
	err   error
}

func (m *mockBackend) Transform(ctx context.Context, image []byte, intensity float64) ([]byte, error) {
	m.calls++
	return m.out, m.err
}

func (m *mockBackend) Name() string   { return "mock" }
func (m *mockBackend) ImageSize() int { return 64 }

type observation struct {
	backend string
	err     error
}

type recordingObserver struct {
	mu   sync.Mutex
	seen []observation
}

func (r *recordingObserver) ObserveGeneration(backend string, d time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, observation{backend: backend, err: err})
}

// --- Helpers ---

// pngBytes はグラデーションの PNG を作ります。
func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x * 255 / w), G: uint8(y * 255 / h), B: 96, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("failed to encode png: %v", err)
	}
	return buf.Bytes()
}

func allowAll(string) (bool, error) { return true, nil }

// testHTTPClient は httptest のループバックへ接続できる httpkit クライアントです。
// SSRF 検証（IsSafeURL）自体は有効なままです。
func testHTTPClient() *httpkit.Client {
	return httpkit.New(5*time.Second, httpkit.WithSkipNetworkValidation(true))
}
