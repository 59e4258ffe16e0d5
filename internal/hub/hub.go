package hub

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/hollowgrid/reverb/internal/config"
	"github.com/hollowgrid/reverb/internal/domain"
)

// VoiceGateway is the hub's view of the SFU process internal API.
// Calls are best-effort: errors are logged and the triggering client
// simply receives no relayed response.
type VoiceGateway interface {
	Join(ctx context.Context, channel domain.ChannelID, user domain.UserID) (json.RawMessage, error)
	Signal(ctx context.Context, channel domain.ChannelID, user domain.UserID, payload json.RawMessage) (json.RawMessage, error)
	Leave(ctx context.Context, channel domain.ChannelID, user domain.UserID) error
}

// Hub maintains the set of active WebSocket clients and routes broadcasts.
//
// Client registration/unregistration and event fan-out happen on the
// single Run() goroutine, so the connection set and user index need no
// locks. Voice membership lives in its own VoiceState because it is hit
// from many readPump goroutines concurrently.
type Hub struct {
	upgrader websocket.Upgrader

	// Event-loop fields, only touched inside Run().
	clients    map[*Client]struct{}
	userIndex  map[domain.UserID][]*Client
	broadcast  chan Envelope
	directed   chan directedEvent
	register   chan *Client
	unregister chan *Client

	voice   *VoiceState
	limiter *SignalRateLimiter

	// gateway may be nil when no media node is configured.
	gateway      VoiceGateway
	mediaTimeout time.Duration

	sendBuffer int
	readLimit  int64
	pingPeriod time.Duration
	pongWait   time.Duration
}

func NewHub(cfg config.HubConfig, gateway VoiceGateway) *Hub {
	pingPeriod := cfg.PingPeriod
	if pingPeriod <= 0 {
		pingPeriod = 54 * time.Second
	}
	readLimit := cfg.ReadLimit
	if readLimit <= 0 {
		readLimit = 4096
	}
	sendBuffer := cfg.SendBuffer
	if sendBuffer <= 0 {
		sendBuffer = 256
	}
	mediaTimeout := cfg.MediaTimeout
	if mediaTimeout <= 0 {
		mediaTimeout = 10 * time.Second
	}

	h := &Hub{
		clients:      make(map[*Client]struct{}),
		userIndex:    make(map[domain.UserID][]*Client),
		broadcast:    make(chan Envelope, 256),
		directed:     make(chan directedEvent, 256),
		register:     make(chan *Client),
		unregister:   make(chan *Client),
		voice:        NewVoiceState(),
		limiter:      NewSignalRateLimiter(60, time.Second),
		gateway:      gateway,
		mediaTimeout: mediaTimeout,
		sendBuffer:   sendBuffer,
		readLimit:    readLimit,
		pingPeriod:   pingPeriod,
		pongWait:     pingPeriod * 10 / 9,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     makeCheckOrigin(cfg.Domain),
	}
	return h
}

// Voice exposes the membership store (for operator APIs and tests).
func (h *Hub) Voice() *VoiceState { return h.voice }

// Run is the hub's event loop. Call once in a goroutine; returns when ctx
// is cancelled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return

		case c := <-h.register:
			h.clients[c] = struct{}{}
			h.userIndex[c.UserID] = append(h.userIndex[c.UserID], c)
			log.Info().Str("module", "hub").Str("user_id", string(c.UserID)).Int("total", len(h.clients)).Msg("ws connected")

		case c := <-h.unregister:
			h.removeClient(c)

		case evt := <-h.broadcast:
			for c := range h.clients {
				c.sendEvent(evt)
			}

		case d := <-h.directed:
			for _, c := range h.userIndex[d.user] {
				c.sendEvent(d.evt)
			}
		}
	}
}

// removeClient is the idempotent teardown path. Runs on the event loop.
//
// The voice-leave broadcast fans out directly over the current client set
// instead of going back through h.broadcast: resubmitting to our own
// queue could deadlock when the queue is saturated.
func (h *Hub) removeClient(c *Client) {
	if _, ok := h.clients[c]; !ok {
		c.setState(StateClosed)
		return
	}
	delete(h.clients, c)
	h.removeFromUserIndex(c)
	c.beginClose()
	c.closeSend()
	log.Info().Str("module", "hub").Str("user_id", string(c.UserID)).Int("total", len(h.clients)).Msg("ws disconnected")

	// Voice cleanup only once the user's last connection is gone: another
	// device may still be in the call.
	if len(h.userIndex[c.UserID]) == 0 {
		h.limiter.Forget(c.UserID)
		if channel, was := h.voice.Leave(c.UserID); was {
			h.gatewayLeave(channel, c.UserID, "disconnect")
			evt := Envelope{
				Type:    EventVoiceStateUpdate,
				Payload: map[string]any{"user_id": c.UserID, "channel_id": nil},
			}
			for client := range h.clients {
				client.sendEvent(evt)
			}
		}
	}
	c.setState(StateClosed)
}

// gatewayLeave notifies the SFU in the background. Disconnect cleanup
// must complete even if this call ultimately fails.
func (h *Hub) gatewayLeave(channel domain.ChannelID, user domain.UserID, reason string) {
	if h.gateway == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), h.mediaTimeout)
		defer cancel()
		if err := h.gateway.Leave(ctx, channel, user); err != nil {
			log.Warn().Str("module", "hub").
				Str("user_id", string(user)).
				Str("channel_id", string(channel)).
				Str("reason", reason).
				Err(err).Msg("media leave failed")
		}
	}()
}

// Broadcast sends an event to every connected client.
func (h *Hub) Broadcast(evt Envelope) {
	h.broadcast <- evt
}

type directedEvent struct {
	user domain.UserID
	evt  Envelope
}

// SendToUser sends an event to all connections belonging to a user.
// No-op if the user has none.
func (h *Hub) SendToUser(userID domain.UserID, evt Envelope) {
	h.directed <- directedEvent{user: userID, evt: evt}
}

// ServeWS upgrades an HTTP connection and registers the client.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, userID domain.UserID) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Str("module", "hub").Err(err).Msg("ws upgrade failed")
		return
	}
	c := newClient(h, conn, userID)
	// Open before registration: the read pump may dispatch a frame the
	// instant it starts, and only Open connections accept inbound frames.
	c.setState(StateOpen)
	h.register <- c
	go c.writePump()
	go c.readPump()
}

func (h *Hub) removeFromUserIndex(target *Client) {
	conns := h.userIndex[target.UserID]
	filtered := conns[:0]
	for _, c := range conns {
		if c != target {
			filtered = append(filtered, c)
		}
	}
	if len(filtered) == 0 {
		delete(h.userIndex, target.UserID)
	} else {
		h.userIndex[target.UserID] = filtered
	}
}

// makeCheckOrigin returns a gorilla/websocket CheckOrigin function that
// allows upgrades only from origins whose hostname matches the configured
// domain. Localhost variants are always allowed so the desktop app and
// local dev tooling work regardless of domain config; a missing or "null"
// Origin header means a non-browser client and is allowed too.
func makeCheckOrigin(domain string) func(*http.Request) bool {
	if domain == "" {
		log.Warn().Str("module", "hub").Msg("hub.domain is not set, WebSocket origin check is disabled; set it in production")
		return func(r *http.Request) bool { return true }
	}

	allowed := normaliseHost(domain)

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || origin == "null" {
			return true
		}

		u, err := url.Parse(origin)
		if err != nil {
			log.Warn().Str("module", "hub").Str("origin", origin).Msg("ws upgrade rejected: malformed Origin header")
			return false
		}

		host := normaliseHost(u.Hostname())
		if host == allowed {
			return true
		}
		if host == "localhost" || host == "127.0.0.1" || host == "tauri.localhost" {
			return true
		}

		log.Warn().Str("module", "hub").
			Str("origin", origin).
			Str("allowed_domain", allowed).
			Msg("ws upgrade rejected: origin not allowed")
		return false
	}
}

// normaliseHost strips an optional scheme and port and lowercases the
// result, so comparisons work regardless of how the operator wrote the
// domain.
func normaliseHost(h string) string {
	h = strings.TrimPrefix(strings.TrimPrefix(strings.ToLower(h), "https://"), "http://")
	if host, _, err := net.SplitHostPort(h); err == nil {
		return host
	}
	return h
}
