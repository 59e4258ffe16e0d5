package hub

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/hollowgrid/reverb/internal/domain"
)

const writeWait = 10 * time.Second

// Connection lifecycle. A client moves strictly forward through these and
// reaches StateClosed exactly once.
type ConnState int32

const (
	StateConnecting ConnState = iota
	StateOpen
	StateClosing
	StateClosed
)

// Client is a single live WebSocket connection. It is owned by the Hub
// from registration until unregistration; the read and write pumps are
// the only goroutines touching conn.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	UserID domain.UserID

	state atomic.Int32

	mu     sync.RWMutex // guards closed + send-channel close
	closed bool
	send   chan []byte
}

func newClient(hub *Hub, conn *websocket.Conn, userID domain.UserID) *Client {
	return &Client{
		hub:    hub,
		conn:   conn,
		UserID: userID,
		send:   make(chan []byte, hub.sendBuffer),
	}
}

func (c *Client) State() ConnState { return ConnState(c.state.Load()) }

func (c *Client) setState(s ConnState) { c.state.Store(int32(s)) }

// beginClose moves the client out of Open. Returns true for the caller
// that performed the transition, false if teardown already started.
func (c *Client) beginClose() bool {
	for {
		cur := c.state.Load()
		if ConnState(cur) == StateClosing || ConnState(cur) == StateClosed {
			return false
		}
		if c.state.CompareAndSwap(cur, int32(StateClosing)) {
			return true
		}
	}
}

// closeSend closes the outbound queue exactly once.
func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// sendEvent marshals an Envelope and queues it for delivery. Only Open
// clients receive events. A full queue means the consumer is too slow to
// keep: the queue is closed and the client is scheduled for
// unregistration (eviction, not an error for the sender).
func (c *Client) sendEvent(evt Envelope) {
	if c.State() != StateOpen {
		return
	}
	data, err := json.Marshal(evt)
	if err != nil {
		log.Error().Str("module", "hub").Err(err).Msg("marshal event")
		return
	}

	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return
	}
	select {
	case c.send <- data:
		c.mu.RUnlock()
	default:
		c.mu.RUnlock()
		c.evict()
	}
}

// evict tears down a slow or dead consumer without blocking the caller.
// The unregister submission runs on its own goroutine because evict may
// be reached from inside the hub's own event loop during a broadcast
// fan-out, and sending to the unregister channel there would deadlock.
func (c *Client) evict() {
	if !c.beginClose() {
		return
	}
	log.Warn().Str("module", "hub").Str("user_id", string(c.UserID)).Msg("slow consumer, evicting")
	c.closeSend()
	go func() { c.hub.unregister <- c }()
}

// readPump pumps frames from the connection into the dispatcher. Each
// client runs exactly one readPump goroutine; inbound operations are
// therefore processed one at a time in receipt order.
func (c *Client) readPump() {
	defer func() {
		c.beginClose()
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(c.hub.readLimit)
	c.conn.SetReadDeadline(time.Now().Add(c.hub.pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.hub.pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Warn().Str("module", "hub").Str("user_id", string(c.UserID)).Err(err).Msg("ws read error")
			}
			return
		}
		c.handleMessage(message)
	}
}

// writePump pumps queued events to the connection and keeps the
// connection alive with pings. Each client runs exactly one writePump
// goroutine.
func (c *Client) writePump() {
	ticker := time.NewTicker(c.hub.pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.beginClose()
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.beginClose()
				return
			}
		}
	}
}
