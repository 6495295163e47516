package store

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/shouni/psychedelic-image-kit/pkg/domain"
)

// DefaultSaveRetries は Save を再試行する回数です（初回を含まない）。
const DefaultSaveRetries = 3

// Retrying は Save だけを指数バックオフで再試行する Store のデコレータです。
// 参照系はそのまま内側の Store に渡します。
type Retrying struct {
	Store
	retries    uint64
	newBackOff func() backoff.BackOff
	logger     *slog.Logger
}

// RetryOption は Retrying の任意設定です。
type RetryOption func(*Retrying)

// WithRetries は再試行回数を変更します。
func WithRetries(n uint64) RetryOption {
	return func(r *Retrying) { r.retries = n }
}

// WithBackOff は待ち時間の生成方法を差し替えます。
func WithBackOff(fn func() backoff.BackOff) RetryOption {
	return func(r *Retrying) { r.newBackOff = fn }
}

func WithLogger(logger *slog.Logger) RetryOption {
	return func(r *Retrying) { r.logger = logger }
}

func NewRetrying(inner Store, opts ...RetryOption) *Retrying {
	r := &Retrying{
		Store:   inner,
		retries: DefaultSaveRetries,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxElapsedTime = 30 * time.Second
			return b
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Save は入力を検証してから内側の Save を再試行します。
// 入力の不備とキャンセルは再試行しません。
func (r *Retrying) Save(ctx context.Context, userID string, composite *domain.CompositeImage, iterations int) (*domain.ProcessedImage, error) {
	if err := validateSave(userID, composite); err != nil {
		return nil, err
	}

	var rec *domain.ProcessedImage
	attempt := 0

	op := func() error {
		attempt++
		saved, err := r.Store.Save(ctx, userID, composite, iterations)
		if err != nil {
			if errors.Is(err, ErrInvalidRecord) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return backoff.Permanent(err)
			}
			return err
		}
		rec = saved
		return nil
	}
	notify := func(err error, wait time.Duration) {
		r.logger.WarnContext(ctx, "保存に失敗したため再試行します", "user_id", userID, "attempt", attempt, "wait", wait, "error", err)
	}

	b := backoff.WithContext(backoff.WithMaxRetries(r.newBackOff(), r.retries), ctx)
	if err := backoff.RetryNotify(op, b, notify); err != nil {
		return nil, err
	}
	return rec, nil
}
