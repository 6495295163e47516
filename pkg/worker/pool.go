// Package worker は固定数のワーカーでタスクをバックグラウンド実行します。
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
)

var (
	// ErrQueueFull はキューが埋まっていてタスクを受け付けられないことを示します。
	ErrQueueFull = errors.New("worker queue is full")
	// ErrPoolStopped は停止済みのプールにタスクを投入したことを示します。
	ErrPoolStopped = errors.New("worker pool is stopped")
)

// Task はワーカーで実行される処理です。ctx はプールの停止時にキャンセルされません。
type Task func(ctx context.Context)

// Pool は Workers 本のゴルーチンで有界キューのタスクを処理します。
type Pool struct {
	tasks   chan Task
	workers int
	logger  *slog.Logger

	mu       sync.RWMutex
	stopped  bool
	started  bool
	wg       sync.WaitGroup
	stopOnce sync.Once
}

func NewPool(workers, queueSize int, logger *slog.Logger) (*Pool, error) {
	if workers <= 0 {
		return nil, fmt.Errorf("workers must be positive: %d", workers)
	}
	if queueSize < 0 {
		return nil, fmt.Errorf("queue size must not be negative: %d", queueSize)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		tasks:   make(chan Task, queueSize),
		workers: workers,
		logger:  logger,
	}, nil
}

// Start はワーカーを起動します。2 回目以降の呼び出しは何もしません。
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.stopped {
		return
	}
	p.started = true

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.loop(context.WithoutCancel(ctx), i)
	}
	p.logger.InfoContext(ctx, "worker pool started", "workers", p.workers, "queue", cap(p.tasks))
}

// Submit はタスクをブロックせずにキューへ入れます。
func (p *Pool) Submit(task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrPoolStopped
	}

	select {
	case p.tasks <- task:
		return nil
	default:
		return ErrQueueFull
	}
}

// Stop は新規受付を止め、キューに残ったタスクと実行中のタスクの完了を待ちます。
// ctx が先に終わった場合は待機を打ち切ってそのエラーを返します。
func (p *Pool) Stop(ctx context.Context) error {
	p.stopOnce.Do(func() {
		p.mu.Lock()
		p.stopped = true
		close(p.tasks)
		p.mu.Unlock()
	})

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.InfoContext(ctx, "worker pool stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pending はキューで待っているタスク数です。
func (p *Pool) Pending() int {
	return len(p.tasks)
}

func (p *Pool) loop(ctx context.Context, id int) {
	defer p.wg.Done()
	for task := range p.tasks {
		p.run(ctx, id, task)
	}
}

// run はタスクの panic を回収し、ワーカーを生かしたままにします。
func (p *Pool) run(ctx context.Context, id int, task Task) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.ErrorContext(ctx, "task panicked", "worker", id, "panic", r, "stack", string(debug.Stack()))
		}
	}()
	task(ctx)
}
