// Package store は合成画像の永続化を扱います。
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shouni/psychedelic-image-kit/pkg/domain"
)

// ErrNotFound は指定したユーザーの画像が存在しないことを示します。
var ErrNotFound = errors.New("image not found")

// DefaultListLimit は一覧取得の件数の既定値です。
const DefaultListLimit = 50

// Store は 1 回の実行で生成された合成画像を保存・参照します。
type Store interface {
	Save(ctx context.Context, userID string, composite *domain.CompositeImage, iterations int) (*domain.ProcessedImage, error)
	// ListByUser は新しい順にメタデータのみを返します（ImageData は空）。
	ListByUser(ctx context.Context, userID string, limit int) ([]domain.ProcessedImage, error)
	Get(ctx context.Context, userID, id string) (*domain.ProcessedImage, error)
}

// newRecord は保存前のレコードを組み立てます。
func newRecord(userID string, composite *domain.CompositeImage, iterations int, now time.Time) domain.ProcessedImage {
	return domain.ProcessedImage{
		ID:         uuid.NewString(),
		UserID:     userID,
		ImageData:  composite.Data,
		Width:      composite.Width,
		Height:     composite.Height,
		Iterations: iterations,
		CreatedAt:  now.UTC(),
	}
}

// ErrInvalidRecord は保存できない入力に対して返されます。再試行しても結果は変わりません。
var ErrInvalidRecord = errors.New("invalid record")

func validateSave(userID string, composite *domain.CompositeImage) error {
	if userID == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidRecord)
	}
	if composite == nil || len(composite.Data) == 0 {
		return fmt.Errorf("%w: composite is required", ErrInvalidRecord)
	}
	return nil
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	return limit
}
