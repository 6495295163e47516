package generator

import (
	"context"
	"time"

	"github.com/shouni/psychedelic-image-kit/pkg/domain"
	"golang.org/x/time/rate"
)

// rateLimited は全実行で共有するトークンバケットで呼び出し頻度を抑えます。
type rateLimited struct {
	Backend
	limiter *rate.Limiter
}

// RateLimited は backend の Transform を limiter の許可が出るまで待たせます。
// limiter が nil の場合は backend をそのまま返します。
func RateLimited(backend Backend, limiter *rate.Limiter) Backend {
	if limiter == nil {
		return backend
	}
	return &rateLimited{Backend: backend, limiter: limiter}
}

func (r *rateLimited) Transform(ctx context.Context, image []byte, intensity float64) ([]byte, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, &domain.GenerationError{Backend: r.Name(), Cause: "rate limit wait", Err: err}
	}
	return r.Backend.Transform(ctx, image, intensity)
}

// CallObserver は 1 回の生成呼び出しの結果を受け取ります。
type CallObserver interface {
	ObserveGeneration(backend string, d time.Duration, err error)
}

type instrumented struct {
	Backend
	observer CallObserver
}

// Instrumented は backend の呼び出しごとに所要時間と成否を observer へ通知します。
func Instrumented(backend Backend, observer CallObserver) Backend {
	if observer == nil {
		return backend
	}
	return &instrumented{Backend: backend, observer: observer}
}

func (i *instrumented) Transform(ctx context.Context, image []byte, intensity float64) ([]byte, error) {
	start := time.Now()
	out, err := i.Backend.Transform(ctx, image, intensity)
	i.observer.ObserveGeneration(i.Name(), time.Since(start), err)
	return out, err
}
