// Package service はアップロードを受け付けてから保存・通知までの 1 回の実行をまとめます。
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/google/uuid"
	"github.com/shouni/psychedelic-image-kit/pkg/domain"
	"github.com/shouni/psychedelic-image-kit/pkg/imgutil"
	"github.com/shouni/psychedelic-image-kit/pkg/metrics"
	"github.com/shouni/psychedelic-image-kit/pkg/pipeline"
	"github.com/shouni/psychedelic-image-kit/pkg/progress"
	"github.com/shouni/psychedelic-image-kit/pkg/store"
	"github.com/shouni/psychedelic-image-kit/pkg/worker"
)

// ErrUserRequired はユーザー ID のない依頼を拒否したことを示します。
var ErrUserRequired = errors.New("user id is required")

// Runner は 1 回分のパイプラインを実行します。*pipeline.Orchestrator が満たします。
type Runner interface {
	Run(ctx context.Context, src []byte, n int, sink pipeline.ProgressSink) (*domain.CompositeImage, error)
}

// Submitter はタスクをバックグラウンドに渡します。*worker.Pool が満たします。
type Submitter interface {
	Submit(task worker.Task) error
}

// Recorder は実行単位の計測値を受け取ります。*metrics.Metrics が満たします。
type Recorder interface {
	RunStarted() func(outcome string)
	IterationCompleted()
	PersistFailed()
}

// Request は 1 回の変換依頼です。
// Iterations が nil なら既定の回数を使い、指定があれば 0 や負数も含めて [1, MaxIterations] に丸めます。
type Request struct {
	UserID     string
	Image      []byte
	Iterations *int
}

// Ticket は受け付けた実行の識別子です。
type Ticket struct {
	RunID      string `json:"run_id"`
	Iterations int    `json:"iterations"`
}

type Processor struct {
	runner    Runner
	pool      Submitter
	store     store.Store
	publisher progress.Publisher
	recorder  Recorder
	logger    *slog.Logger

	defaultIterations int
}

// Dependencies は Processor の組み立てに必要な部品です。Recorder と Logger は省略できます。
type Dependencies struct {
	Runner    Runner
	Pool      Submitter
	Store     store.Store
	Publisher progress.Publisher
	Recorder  Recorder
	Logger    *slog.Logger
	// DefaultIterations は依頼に回数がない場合に使います。
	DefaultIterations int
}

func NewProcessor(deps Dependencies) (*Processor, error) {
	if deps.Runner == nil {
		return nil, fmt.Errorf("runner is required")
	}
	if deps.Pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if deps.Publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if deps.Recorder == nil {
		deps.Recorder = nopRecorder{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.DefaultIterations <= 0 {
		deps.DefaultIterations = domain.MaxIterations
	}
	return &Processor{
		runner:            deps.Runner,
		pool:              deps.Pool,
		store:             deps.Store,
		publisher:         deps.Publisher,
		recorder:          deps.Recorder,
		logger:            deps.Logger,
		defaultIterations: pipeline.ClampIterations(deps.DefaultIterations),
	}, nil
}

// Submit は画像を検証して実行をキューに積み、すぐに戻ります。
// 画像でない入力は *domain.DecodeError、キューが満杯なら worker.ErrQueueFull を返します。
func (p *Processor) Submit(ctx context.Context, req Request) (Ticket, error) {
	if req.UserID == "" {
		return Ticket{}, ErrUserRequired
	}
	if _, _, err := imgutil.DecodeConfig(req.Image); err != nil {
		return Ticket{}, err
	}

	n := p.defaultIterations
	if req.Iterations != nil {
		n = *req.Iterations
	}
	ticket := Ticket{RunID: uuid.NewString(), Iterations: pipeline.ClampIterations(n)}

	err := p.pool.Submit(func(ctx context.Context) {
		_, _ = p.Process(ctx, ticket.RunID, req.UserID, req.Image, ticket.Iterations)
	})
	if err != nil {
		return Ticket{}, err
	}

	p.logger.InfoContext(ctx, "実行を受け付けました", "run_id", ticket.RunID, "user_id", req.UserID, "iterations", ticket.Iterations, "bytes", len(req.Image))
	return ticket, nil
}

// Process は 1 回の実行を同期的に行います。失敗はすべて error イベントとしても通知します。
func (p *Processor) Process(ctx context.Context, runID, userID string, image []byte, n int) (rec *domain.ProcessedImage, err error) {
	ctx = pipeline.WithRunID(ctx, runID)
	done := p.recorder.RunStarted()
	outcome := metrics.OutcomeFailed

	defer func() {
		if r := recover(); r != nil {
			p.logger.ErrorContext(ctx, "実行中に panic が発生しました", "run_id", runID, "panic", r, "stack", string(debug.Stack()))
			p.notifyError(ctx, userID, runID, domain.StageInternal, 0, "internal error")
			rec, err = nil, &domain.PipelineError{Stage: domain.StageInternal, Iteration: -1, Err: fmt.Errorf("panic: %v", r)}
			outcome = metrics.OutcomePanic
		}
		done(outcome)
	}()

	sink := pipeline.SinkFunc(func(ctx context.Context, ev domain.ProgressEvent) {
		if ev.Kind == domain.EventProgress {
			p.recorder.IterationCompleted()
		}
		progress.NewSessionSink(p.publisher, userID, runID, p.logger).Emit(ctx, ev)
	})

	composite, err := p.runner.Run(ctx, image, n, sink)
	if err != nil {
		stage, iteration := describe(err)
		p.notifyError(ctx, userID, runID, stage, iteration, err.Error())
		return nil, err
	}

	rec, err = p.store.Save(ctx, userID, composite, n)
	if err != nil {
		p.recorder.PersistFailed()
		p.logger.ErrorContext(ctx, "合成画像の保存に失敗しました", "run_id", runID, "user_id", userID, "bytes", len(composite.Data), "error", err)
		p.notifyError(ctx, userID, runID, domain.StagePersist, 0, "failed to save the composite image")
		return nil, &domain.PipelineError{Stage: domain.StagePersist, Iteration: -1, Err: err}
	}

	outcome = metrics.OutcomeSuccess
	p.logger.InfoContext(ctx, "実行が完了しました", "run_id", runID, "user_id", userID, "image_id", rec.ID)
	return rec, nil
}

func (p *Processor) notifyError(ctx context.Context, userID, runID string, stage domain.Stage, iteration int, msg string) {
	progress.NewSessionSink(p.publisher, userID, runID, p.logger).Emit(ctx, domain.ProgressEvent{
		Kind:      domain.EventError,
		RunID:     runID,
		Stage:     stage,
		Iteration: iteration,
		Message:   msg,
	})
}

// describe はエラーから段階と 1 始まりのイテレーション番号を取り出します。
func describe(err error) (domain.Stage, int) {
	var pErr *domain.PipelineError
	if errors.As(err, &pErr) {
		iteration := 0
		if pErr.Iteration >= 0 {
			iteration = pErr.Iteration + 1
		}
		return pErr.Stage, iteration
	}
	return domain.StageInternal, 0
}

type nopRecorder struct{}

func (nopRecorder) RunStarted() func(string) { return func(string) {} }
func (nopRecorder) IterationCompleted()      {}
func (nopRecorder) PersistFailed()           {}
