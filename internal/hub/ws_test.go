package hub

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hollowgrid/reverb/internal/config"
	"github.com/hollowgrid/reverb/internal/domain"
)

// Full round trip over a real WebSocket: upgrade, join voice, receive the
// broadcast, then verify disconnect cleanup reaches the gateway.
func TestServeWSRoundTrip(t *testing.T) {
	gw := newFakeGateway()
	h := newTestHub(t, config.HubConfig{}, gw)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.ServeWS(w, r, domain.UserID(r.URL.Query().Get("uid")))
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?uid=u1"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)

	require.NoError(t, conn.WriteJSON(map[string]any{
		"op": OpVoiceStateUpdate,
		"d":  map[string]any{"channel_id": "general"},
	}))

	call := gw.waitCall(t, "join")
	assert.Equal(t, domain.ChannelID("general"), call.channel)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	sawState, sawJoinResp := false, false
	for i := 0; i < 4 && !(sawState && sawJoinResp); i++ {
		var evt struct {
			T string         `json:"t"`
			D map[string]any `json:"d"`
		}
		require.NoError(t, conn.ReadJSON(&evt))
		switch evt.T {
		case string(EventVoiceStateUpdate):
			sawState = true
			assert.Equal(t, "u1", evt.D["user_id"])
		case string(EventVoiceSignal):
			sawJoinResp = true
			assert.Equal(t, "join_response", evt.D["type"])
		}
	}
	assert.True(t, sawState)
	assert.True(t, sawJoinResp)

	// Dropping the socket is enough: the read pump unregisters the client
	// and voice cleanup notifies the SFU.
	conn.Close()
	gw.waitCall(t, "leave")
	require.Eventually(t, func() bool {
		_, ok := h.Voice().ChannelOf("u1")
		return !ok
	}, 2*time.Second, 10*time.Millisecond)
}

func TestCheckOrigin(t *testing.T) {
	req := func(origin string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/ws", nil)
		if origin != "" {
			r.Header.Set("Origin", origin)
		}
		return r
	}

	t.Run("no domain configured allows everything", func(t *testing.T) {
		check := makeCheckOrigin("")
		assert.True(t, check(req("https://evil.example")))
	})

	t.Run("configured domain", func(t *testing.T) {
		check := makeCheckOrigin("chat.example.com")
		assert.True(t, check(req("https://chat.example.com")))
		assert.True(t, check(req("https://chat.example.com:8443")))
		assert.True(t, check(req("")), "non-browser clients send no Origin")
		assert.True(t, check(req("null")))
		assert.True(t, check(req("http://localhost:1420")))
		assert.True(t, check(req("https://tauri.localhost")))
		assert.False(t, check(req("https://evil.example")))
		assert.False(t, check(req("://not a url")))
	})

	t.Run("domain with scheme and port", func(t *testing.T) {
		check := makeCheckOrigin("https://Chat.Example.com:443")
		assert.True(t, check(req("https://chat.example.com")))
		assert.False(t, check(req("https://other.example.com")))
	})
}

func TestHubRunStopsOnContextCancel(t *testing.T) {
	h := NewHub(config.HubConfig{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
