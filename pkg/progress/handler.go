package progress

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	defaultPongTTL = 60 * time.Second
)

// UserIDHeader はセッションキーを運ぶヘッダです。ブラウザからはクエリ user_id でも渡せます。
const UserIDHeader = "X-User-ID"

// HandlerConfig は websocket エンドポイントの設定です。
type HandlerConfig struct {
	// AllowedOrigins が空なら Origin を検査しません。
	AllowedOrigins []string
	// PongWait を過ぎても pong が返らなければ接続を切ります。ping はその 9 割の間隔で送ります。
	PongWait time.Duration
	Logger   *slog.Logger
}

// Handler は Hub の購読を websocket で流す http.Handler です。
type Handler struct {
	hub      *Hub
	upgrader websocket.Upgrader
	pongWait time.Duration
	logger   *slog.Logger
}

func NewHandler(hub *Hub, cfg HandlerConfig) *Handler {
	if cfg.PongWait <= 0 {
		cfg.PongWait = defaultPongTTL
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	h := &Handler{hub: hub, pongWait: cfg.PongWait, logger: cfg.Logger}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 64 * 1024,
		CheckOrigin:     originChecker(cfg.AllowedOrigins),
	}
	return h
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

// SessionKey はリクエストからセッションキーを取り出します。
func SessionKey(r *http.Request) string {
	if id := r.Header.Get(UserIDHeader); id != "" {
		return id
	}
	return r.URL.Query().Get("user_id")
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	key := SessionKey(r)
	if key == "" {
		http.Error(w, "user id is required", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade がエラー応答を書き込み済み
		h.logger.WarnContext(r.Context(), "websocket upgrade failed", "error", err)
		return
	}

	sub := h.hub.Subscribe(key)
	h.logger.InfoContext(r.Context(), "progress subscriber connected", "user_id", key)

	done := make(chan struct{})
	go h.readPump(conn, done)
	h.writePump(conn, sub, done)

	sub.Close()
	conn.Close()
	h.logger.InfoContext(r.Context(), "progress subscriber disconnected", "user_id", key)
}

// readPump はクライアントからのメッセージを読み捨て、切断と pong を検知します。
func (h *Handler) readPump(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	conn.SetReadLimit(4096)
	_ = conn.SetReadDeadline(time.Now().Add(h.pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Handler) writePump(conn *websocket.Conn, sub *Subscription, done <-chan struct{}) {
	ticker := time.NewTicker(h.pongWait * 9 / 10)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case ev, ok := <-sub.C:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
				return
			}
			payload, err := Encode(ev)
			if err != nil {
				h.logger.Warn("skip unencodable progress event", "event", ev.Kind, "error", err)
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
