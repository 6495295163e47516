package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shouni/psychedelic-image-kit/pkg/domain"
)

// Memory はプロセス内に保持するだけの Store です。開発用と CLI 用に使います。
type Memory struct {
	mu      sync.RWMutex
	records map[string]domain.ProcessedImage
	now     func() time.Time
}

func NewMemory() *Memory {
	return &Memory{records: make(map[string]domain.ProcessedImage), now: time.Now}
}

func (m *Memory) Save(ctx context.Context, userID string, composite *domain.CompositeImage, iterations int) (*domain.ProcessedImage, error) {
	if err := validateSave(userID, composite); err != nil {
		return nil, err
	}
	rec := newRecord(userID, composite, iterations, m.now())

	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.ID] = rec
	return &rec, nil
}

func (m *Memory) ListByUser(ctx context.Context, userID string, limit int) ([]domain.ProcessedImage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]domain.ProcessedImage, 0)
	for _, rec := range m.records {
		if rec.UserID != userID {
			continue
		}
		rec.ImageData = nil
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit = normalizeLimit(limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) Get(ctx context.Context, userID, id string) (*domain.ProcessedImage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[id]
	if !ok || rec.UserID != userID {
		return nil, ErrNotFound
	}
	return &rec, nil
}
