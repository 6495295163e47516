// Package pipeline は画像を生成 API に繰り返し通し、結果をグリッドに合成する処理を担います。
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shouni/psychedelic-image-kit/pkg/compositor"
	"github.com/shouni/psychedelic-image-kit/pkg/domain"
	"github.com/shouni/psychedelic-image-kit/pkg/generator"
	"github.com/shouni/psychedelic-image-kit/pkg/imgutil"
)

// ProgressSink は実行中の進捗イベントの受け取り手です。
// 配信の成否は実行結果に影響しません。
type ProgressSink interface {
	Emit(ctx context.Context, ev domain.ProgressEvent)
}

// SinkFunc は関数を ProgressSink として使うためのアダプタです。
type SinkFunc func(ctx context.Context, ev domain.ProgressEvent)

func (f SinkFunc) Emit(ctx context.Context, ev domain.ProgressEvent) { f(ctx, ev) }

type discardSink struct{}

func (discardSink) Emit(context.Context, domain.ProgressEvent) {}

// Options は正規化と進捗表示の設定です。
type Options struct {
	// TargetSize は生成 API に渡す正方形の一辺です。
	TargetSize int
	ColorMode  imgutil.ColorMode
	// DisplaySize は進捗イベントに載せるプレビューの一辺です。0 の場合は TargetSize を使います。
	DisplaySize int
	// DisplayQuality が 1 以上ならプレビューを JPEG に圧縮します。
	DisplayQuality int
}

// Orchestrator は 1 回の実行を逐次処理します。状態を持たないので複数の実行で共有できます。
type Orchestrator struct {
	transformer generator.Transformer
	opts        Options
	logger      *slog.Logger
}

// NewOrchestrator は Orchestrator を初期化します。
func NewOrchestrator(transformer generator.Transformer, opts Options, logger *slog.Logger) (*Orchestrator, error) {
	if transformer == nil {
		return nil, fmt.Errorf("transformer is required")
	}
	if opts.TargetSize <= 0 {
		return nil, fmt.Errorf("target size must be positive: %d", opts.TargetSize)
	}
	if opts.DisplaySize <= 0 {
		opts.DisplaySize = opts.TargetSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{transformer: transformer, opts: opts, logger: logger}, nil
}

// Run は src を n 回変換し、全結果を合成した画像を返します。
// 途中で1回でも失敗した場合は以降の変換を行わず、合成画像も作りません。
func (o *Orchestrator) Run(ctx context.Context, src []byte, n int, sink ProgressSink) (*domain.CompositeImage, error) {
	if sink == nil {
		sink = discardSink{}
	}
	n = ClampIterations(n)
	runID := RunIDFromContext(ctx)

	current, err := imgutil.Normalize(src, o.opts.TargetSize, o.opts.ColorMode)
	if err != nil {
		return nil, o.fail(ctx, stageOf(err, domain.StageDecode), -1, err)
	}

	results := make([]domain.IterationResult, 0, n)
	for i := 0; i < n; i++ {
		intensity := Intensity(i)
		o.logger.InfoContext(ctx, "イテレーション開始", "run_id", runID, "iteration", i+1, "of", n, "intensity", intensity)

		out, err := o.transformer.Transform(ctx, current, intensity)
		if err != nil {
			return nil, o.fail(ctx, domain.StageGeneration, i, err)
		}

		// 生成結果を正規化したものが次の入力になる
		normalized, err := imgutil.Normalize(out, o.opts.TargetSize, o.opts.ColorMode)
		if err != nil {
			return nil, o.fail(ctx, stageOf(err, domain.StageGeneration), i, err)
		}
		results = append(results, domain.IterationResult{Index: i, Image: normalized})
		current = normalized

		o.emitProgress(ctx, sink, runID, i, normalized)
	}

	tiles := make([][]byte, len(results))
	for i, r := range results {
		tiles[i] = r.Image
	}
	data, err := compositor.Compose(tiles)
	if err != nil {
		return nil, o.fail(ctx, domain.StageComposite, -1, err)
	}

	side := compositor.GridSide(len(tiles))
	composite := &domain.CompositeImage{
		Data:   data,
		Width:  side * o.opts.TargetSize,
		Height: side * o.opts.TargetSize,
		Tiles:  len(tiles),
	}

	sink.Emit(ctx, domain.ProgressEvent{Kind: domain.EventFinal, RunID: runID, ImageData: data})
	o.logger.InfoContext(ctx, "合成完了", "run_id", runID, "tiles", composite.Tiles, "width", composite.Width, "bytes", len(data))
	return composite, nil
}

func (o *Orchestrator) emitProgress(ctx context.Context, sink ProgressSink, runID string, i int, img []byte) {
	display, err := imgutil.Preview(img, o.opts.DisplaySize, o.opts.DisplayQuality)
	if err != nil {
		// プレビューが作れなくても実行は続ける
		o.logger.WarnContext(ctx, "プレビュー作成に失敗", "run_id", runID, "iteration", i+1, "error", err)
		display = img
	}
	sink.Emit(ctx, domain.ProgressEvent{
		Kind:      domain.EventProgress,
		RunID:     runID,
		Iteration: i + 1,
		ImageData: display,
	})
}

func (o *Orchestrator) fail(ctx context.Context, stage domain.Stage, iteration int, err error) error {
	o.logger.ErrorContext(ctx, "パイプライン失敗", "run_id", RunIDFromContext(ctx), "stage", stage, "iteration", iteration, "error", err)
	return &domain.PipelineError{Stage: stage, Iteration: iteration, Err: err}
}

// stageOf は DecodeError なら decode 段階、それ以外は fallback を返します。
func stageOf(err error, fallback domain.Stage) domain.Stage {
	var decErr *domain.DecodeError
	if errors.As(err, &decErr) {
		return domain.StageDecode
	}
	return fallback
}
