package service

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"image"
	"image/color"
	"image/png"
	"sync"
	"testing"

	"github.com/shouni/psychedelic-image-kit/pkg/domain"
	"github.com/shouni/psychedelic-image-kit/pkg/pipeline"
	"github.com/shouni/psychedelic-image-kit/pkg/worker"
)

// --- Mocks ---

type fakeRunner struct {
	runFunc func(ctx context.Context, src []byte, n int, sink pipeline.ProgressSink) (*domain.CompositeImage, error)
	gotN    int
	gotRun  string
}

func (f *fakeRunner) Run(ctx context.Context, src []byte, n int, sink pipeline.ProgressSink) (*domain.CompositeImage, error) {
	f.gotN = n
	f.gotRun = pipeline.RunIDFromContext(ctx)
	if f.runFunc != nil {
		return f.runFunc(ctx, src, n, sink)
	}
	for i := 1; i <= n; i++ {
		sink.Emit(ctx, domain.ProgressEvent{Kind: domain.EventProgress, Iteration: i, ImageData: []byte("tile")})
	}
	c := &domain.CompositeImage{Data: []byte("grid"), Width: 3, Height: 3, Tiles: n}
	sink.Emit(ctx, domain.ProgressEvent{Kind: domain.EventFinal, ImageData: c.Data})
	return c, nil
}

// inlinePool は投入されたタスクをその場で実行します。
type inlinePool struct {
	err error
}

func (p *inlinePool) Submit(task worker.Task) error {
	if p.err != nil {
		return p.err
	}
	task(context.Background())
	return nil
}

type fakeRecorder struct {
	mu         sync.Mutex
	outcomes   []string
	iterations int
	persist    int
}

func (r *fakeRecorder) RunStarted() func(string) {
	return func(outcome string) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.outcomes = append(r.outcomes, outcome)
	}
}

func (r *fakeRecorder) IterationCompleted() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.iterations++
}

func (r *fakeRecorder) PersistFailed() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.persist++
}

type recordingPublisher struct {
	mu     sync.Mutex
	keys   []string
	events []domain.ProgressEvent
}

func (r *recordingPublisher) Publish(ctx context.Context, key string, ev domain.ProgressEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys = append(r.keys, key)
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingPublisher) last() domain.ProgressEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

type brokenStore struct{}

func (brokenStore) Save(context.Context, string, *domain.CompositeImage, int) (*domain.ProcessedImage, error) {
	return nil, errors.New("disk full")
}

func (brokenStore) ListByUser(context.Context, string, int) ([]domain.ProcessedImage, error) {
	return nil, nil
}

func (brokenStore) Get(context.Context, string, string) (*domain.ProcessedImage, error) {
	return nil, nil
}

// --- Helpers ---

func samplePNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	img.SetNRGBA(1, 1, color.NRGBA{R: 255, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf.Bytes()
}

// oversizedPNG は samplePNG の IHDR を書き換え、画素数の上限を超える寸法を宣言させます。
func oversizedPNG(t *testing.T) []byte {
	t.Helper()
	data := samplePNG(t)
	// シグネチャ 8 バイト、長さ 4 バイト、"IHDR" 4 バイトの後に幅と高さが続く
	binary.BigEndian.PutUint32(data[16:20], 60000)
	binary.BigEndian.PutUint32(data[20:24], 60000)
	binary.BigEndian.PutUint32(data[29:33], crc32.ChecksumIEEE(data[12:29]))
	return data
}

func iterations(n int) *int { return &n }
