// Package progress は実行中の進捗イベントを購読中のクライアントへ配信します。
// 配信は一度きりで、再送も履歴の保持も行いません。
package progress

import (
	"context"
	"sync"

	"github.com/shouni/psychedelic-image-kit/pkg/domain"
)

// DefaultBuffer は購読者ごとのイベントバッファ数です。
const DefaultBuffer = 16

// Publisher はセッションキー（ユーザー ID）宛てにイベントを送ります。
type Publisher interface {
	Publish(ctx context.Context, key string, ev domain.ProgressEvent) error
}

// Hub はプロセス内のブロードキャスタです。
// 書き込み側は何本でもよく、購読者のバッファが埋まっている場合そのイベントは捨てられます。
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[*Subscription]struct{}
	buffer int
	onDrop func()
}

// HubOption は Hub の任意設定です。
type HubOption func(*Hub)

// WithBuffer は購読者ごとのバッファ数を変更します。
func WithBuffer(n int) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.buffer = n
		}
	}
}

// WithDropHook はイベントが捨てられるたびに呼ばれる関数を設定します。
func WithDropHook(fn func()) HubOption {
	return func(h *Hub) {
		h.onDrop = fn
	}
}

func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		subs:   make(map[string]map[*Subscription]struct{}),
		buffer: DefaultBuffer,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Subscription は 1 つの購読です。使い終わったら Close を呼んでください。
type Subscription struct {
	C <-chan domain.ProgressEvent

	ch   chan domain.ProgressEvent
	key  string
	hub  *Hub
	once sync.Once
}

// Subscribe は key 宛てのイベントを受け取る購読を作ります。
func (h *Hub) Subscribe(key string) *Subscription {
	ch := make(chan domain.ProgressEvent, h.buffer)
	sub := &Subscription{C: ch, ch: ch, key: key, hub: h}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs[key] == nil {
		h.subs[key] = make(map[*Subscription]struct{})
	}
	h.subs[key][sub] = struct{}{}
	return sub
}

// Close は購読を解除してチャネルを閉じます。複数回呼んでも安全です。
func (s *Subscription) Close() {
	s.once.Do(func() {
		h := s.hub
		h.mu.Lock()
		defer h.mu.Unlock()
		if set, ok := h.subs[s.key]; ok {
			delete(set, s)
			if len(set) == 0 {
				delete(h.subs, s.key)
			}
		}
		close(s.ch)
	})
}

// Publish は key の全購読者へブロックせずに ev を渡します。常に nil を返します。
func (h *Hub) Publish(ctx context.Context, key string, ev domain.ProgressEvent) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for sub := range h.subs[key] {
		select {
		case sub.ch <- ev:
		default:
			if h.onDrop != nil {
				h.onDrop()
			}
		}
	}
	return nil
}

// Subscribers は key の現在の購読者数を返します。
func (h *Hub) Subscribers(key string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[key])
}
