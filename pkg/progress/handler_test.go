package progress

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shouni/psychedelic-image-kit/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func wsURL(srv *httptest.Server, query string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
}

// waitSubscribers は接続が Hub に登録されるまで待ちます。
func waitSubscribers(t *testing.T, h *Hub, key string, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return h.Subscribers(key) == n }, 2*time.Second, 10*time.Millisecond)
}

func TestHandler(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(NewHandler(hub, HandlerConfig{PongWait: time.Second}))
	defer srv.Close()

	t.Run("ユーザー ID がなければ 401", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/ws")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("ヘッダのユーザー宛てのイベントだけが届く", func(t *testing.T) {
		header := http.Header{}
		header.Set(UserIDHeader, "alice")
		conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, ""), header)
		require.NoError(t, err)
		defer conn.Close()
		waitSubscribers(t, hub, "alice", 1)

		ctx := context.Background()
		require.NoError(t, hub.Publish(ctx, "bob", domain.ProgressEvent{Kind: domain.EventProgress, Iteration: 7}))
		require.NoError(t, hub.Publish(ctx, "alice", domain.ProgressEvent{Kind: domain.EventProgress, Iteration: 1, ImageData: []byte("x")}))
		require.NoError(t, hub.Publish(ctx, "alice", domain.ProgressEvent{Kind: domain.EventFinal, ImageData: []byte("grid")}))

		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, msg, err := conn.ReadMessage()
		require.NoError(t, err)
		assert.Equal(t, "progress_update", gjson.GetBytes(msg, "event").String())
		assert.Equal(t, int64(1), gjson.GetBytes(msg, "data.iteration").Int())

		_, msg, err = conn.ReadMessage()
		require.NoError(t, err)
		assert.Equal(t, "final_image", gjson.GetBytes(msg, "event").String())
	})

	t.Run("クエリの user_id でも購読できる", func(t *testing.T) {
		conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "?user_id=carol"), nil)
		require.NoError(t, err)
		waitSubscribers(t, hub, "carol", 1)

		conn.Close()
		waitSubscribers(t, hub, "carol", 0)
	})
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"https://app.example"})

	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	assert.True(t, check(r))

	r.Header.Set("Origin", "https://app.example")
	assert.True(t, check(r))

	r.Header.Set("Origin", "https://evil.example")
	assert.False(t, check(r))

	assert.True(t, originChecker(nil)(r))
}
