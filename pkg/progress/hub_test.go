package progress

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/shouni/psychedelic-image-kit/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHub(t *testing.T) {
	ctx := context.Background()

	t.Run("同じキーの購読者全員に届き、他のキーには届かない", func(t *testing.T) {
		h := NewHub()
		a := h.Subscribe("alice")
		a2 := h.Subscribe("alice")
		b := h.Subscribe("bob")
		defer a.Close()
		defer a2.Close()
		defer b.Close()

		require.NoError(t, h.Publish(ctx, "alice", domain.ProgressEvent{Kind: domain.EventProgress, Iteration: 1}))

		assert.Equal(t, 1, (<-a.C).Iteration)
		assert.Equal(t, 1, (<-a2.C).Iteration)
		assert.Len(t, b.C, 0)
	})

	t.Run("バッファが埋まったら捨ててブロックしない", func(t *testing.T) {
		var dropped atomic.Int32
		h := NewHub(WithBuffer(2), WithDropHook(func() { dropped.Add(1) }))
		sub := h.Subscribe("alice")
		defer sub.Close()

		for i := 1; i <= 5; i++ {
			require.NoError(t, h.Publish(ctx, "alice", domain.ProgressEvent{Iteration: i}))
		}
		assert.Equal(t, int32(3), dropped.Load())
		assert.Equal(t, 1, (<-sub.C).Iteration)
		assert.Equal(t, 2, (<-sub.C).Iteration)
	})

	t.Run("購読者がいなければ何もしない", func(t *testing.T) {
		h := NewHub()
		assert.NoError(t, h.Publish(ctx, "nobody", domain.ProgressEvent{}))
	})

	t.Run("Close はチャネルを閉じ、何度呼んでもよい", func(t *testing.T) {
		h := NewHub()
		sub := h.Subscribe("alice")
		assert.Equal(t, 1, h.Subscribers("alice"))

		sub.Close()
		sub.Close()

		_, ok := <-sub.C
		assert.False(t, ok)
		assert.Equal(t, 0, h.Subscribers("alice"))
		assert.NoError(t, h.Publish(ctx, "alice", domain.ProgressEvent{}))
	})

	t.Run("並行に publish と close をしても壊れない", func(t *testing.T) {
		h := NewHub()
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(2)
			go func() {
				defer wg.Done()
				for j := 0; j < 100; j++ {
					_ = h.Publish(ctx, "k", domain.ProgressEvent{Iteration: j})
				}
			}()
			go func() {
				defer wg.Done()
				sub := h.Subscribe("k")
				sub.Close()
			}()
		}
		wg.Wait()
		assert.Equal(t, 0, h.Subscribers("k"))
	})
}

type failingPublisher struct {
	calls int
	last  domain.ProgressEvent
	key   string
}

func (f *failingPublisher) Publish(ctx context.Context, key string, ev domain.ProgressEvent) error {
	f.calls++
	f.key = key
	f.last = ev
	return errors.New("redis down")
}

func TestSessionSink(t *testing.T) {
	ctx := context.Background()

	t.Run("実行 ID を補って送る", func(t *testing.T) {
		h := NewHub()
		sub := h.Subscribe("alice")
		defer sub.Close()

		NewSessionSink(h, "alice", "run-9", nil).Emit(ctx, domain.ProgressEvent{Kind: domain.EventFinal})
		ev := <-sub.C
		assert.Equal(t, "run-9", ev.RunID)
		assert.Equal(t, domain.EventFinal, ev.Kind)
	})

	t.Run("送信エラーは呼び出し元に返らない", func(t *testing.T) {
		pub := &failingPublisher{}
		NewSessionSink(pub, "bob", "run-1", nil).Emit(ctx, domain.ProgressEvent{Kind: domain.EventProgress, RunID: "other"})
		assert.Equal(t, 1, pub.calls)
		assert.Equal(t, "bob", pub.key)
		assert.Equal(t, "other", pub.last.RunID)
	})

	t.Run("publisher が nil でも panic しない", func(t *testing.T) {
		assert.NotPanics(t, func() {
			NewSessionSink(nil, "x", "y", nil).Emit(ctx, domain.ProgressEvent{})
		})
	})
}
