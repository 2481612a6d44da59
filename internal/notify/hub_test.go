package notify_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/podcast-service/internal/core"
	"github.com/book-expert/podcast-service/internal/notify"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHub(t *testing.T) (*notify.Hub, *httptest.Server) {
	t.Helper()

	log, err := logger.New(t.TempDir(), "notify-test.log")
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Close() })

	hub := notify.NewHub(nil, log)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.ServeWS(w, r, r.URL.Query().Get("session"))
	}))
	t.Cleanup(server.Close)

	return hub, server
}

func dial(t *testing.T, server *httptest.Server, sessionID string) *websocket.Conn {
	t.Helper()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/?session=" + sessionID

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	t.Cleanup(func() { _ = conn.Close() })

	return conn
}

func TestHub_DeliversToSession(t *testing.T) {
	t.Parallel()

	hub, server := newTestHub(t)
	conn := dial(t, server, "alice")
	other := dial(t, server, "bob")

	require.Eventually(t, func() bool {
		return hub.SubscriberCount("alice") == 1 && hub.SubscriberCount("bob") == 1
	}, time.Second, 10*time.Millisecond)

	hub.Notify("alice", core.Toast{Title: "Podcast generated successfully", Variant: core.ToastDefault})

	var received core.Toast

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	require.NoError(t, conn.ReadJSON(&received))
	assert.Equal(t, "Podcast generated successfully", received.Title)
	assert.Equal(t, core.ToastDefault, received.Variant)

	require.NoError(t, other.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	_, _, err := other.ReadMessage()
	require.Error(t, err)
}

func TestHub_UnregistersOnClose(t *testing.T) {
	t.Parallel()

	hub, server := newTestHub(t)
	conn := dial(t, server, "carol")

	require.Eventually(t, func() bool {
		return hub.SubscriberCount("carol") == 1
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool {
		return hub.SubscriberCount("carol") == 0
	}, time.Second, 10*time.Millisecond)
}

func TestHub_NotifyWithoutSubscribers(t *testing.T) {
	t.Parallel()

	hub, _ := newTestHub(t)

	assert.NotPanics(t, func() {
		hub.Notify("nobody", core.Toast{Title: "x", Variant: core.ToastDestructive})
	})
}
