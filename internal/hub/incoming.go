package hub

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/hollowgrid/reverb/internal/domain"
)

// IncomingEnvelope is the wire format for client → server messages.
type IncomingEnvelope struct {
	Op      string          `json:"op"`
	Payload json.RawMessage `json:"d"`
}

// Incoming op-codes sent by the client.
const (
	OpVoiceStateUpdate = "VOICE_STATE_UPDATE"
	OpVoiceSignal      = "VOICE_SIGNAL"
	OpPluginEvent      = "PLUGIN_EVENT"
	OpTypingStart      = "TYPING_START"
)

type incomingVoiceState struct {
	ChannelID *domain.ChannelID `json:"channel_id"` // null = leave voice
}

type incomingVoiceSignal struct {
	ChannelID domain.ChannelID `json:"channel_id"`
	Type      string           `json:"type"`
	Data      json.RawMessage  `json:"data"`
}

type incomingTypingStart struct {
	ChannelID domain.ChannelID `json:"channel_id"`
	Username  string           `json:"username"`
}

type incomingPluginEvent struct {
	PluginID string          `json:"plugin_id"`
	Payload  json.RawMessage `json:"payload"`
}

// handleMessage parses a raw frame and dispatches it. Called synchronously
// from readPump, so a connection's operations are handled one at a time in
// receipt order; gateway round trips are pushed onto goroutines so they
// never stall the read loop.
func (c *Client) handleMessage(raw []byte) {
	// Only Open connections accept inbound frames. Eviction can move a
	// client to Closing while its read pump still has frames buffered;
	// those must not mutate voice state.
	if c.State() != StateOpen {
		return
	}

	var msg IncomingEnvelope
	if err := json.Unmarshal(raw, &msg); err != nil {
		log.Warn().Str("module", "hub").Str("user_id", string(c.UserID)).Err(err).Msg("ws bad message")
		return
	}

	switch msg.Op {
	case OpVoiceStateUpdate:
		c.handleVoiceStateUpdate(msg.Payload)
	case OpVoiceSignal:
		c.handleVoiceSignal(msg.Payload)
	case OpTypingStart:
		c.handleTypingStart(msg.Payload)
	case OpPluginEvent:
		c.handlePluginEvent(msg.Payload)
	default:
		log.Debug().Str("module", "hub").Str("op", msg.Op).Str("user_id", string(c.UserID)).Msg("ws unknown op")
	}
}

// handleVoiceStateUpdate processes a client joining or leaving a voice
// channel.
//
//	Join:  {"op":"VOICE_STATE_UPDATE","d":{"channel_id":"<id>"}}
//	Leave: {"op":"VOICE_STATE_UPDATE","d":{"channel_id":null}}
func (c *Client) handleVoiceStateUpdate(raw json.RawMessage) {
	var payload incomingVoiceState
	if err := json.Unmarshal(raw, &payload); err != nil {
		return
	}

	h := c.hub

	if payload.ChannelID == nil || *payload.ChannelID == "" {
		channel, was := h.voice.Leave(c.UserID)
		if !was {
			return
		}
		h.gatewayLeave(channel, c.UserID, "explicit leave")
		h.Broadcast(Envelope{
			Type:    EventVoiceStateUpdate,
			Payload: map[string]any{"user_id": c.UserID, "channel_id": nil},
		})
		return
	}

	newChannel := *payload.ChannelID
	prevChannel := h.voice.Join(c.UserID, newChannel)

	// Switching channels: the SFU drops the old peer in the background.
	if prevChannel != "" && prevChannel != newChannel {
		h.gatewayLeave(prevChannel, c.UserID, "channel switch")
	}

	// Tell the SFU about the join and relay its answer (router caps,
	// transport parameters) back to this connection only. If the
	// connection closes mid-flight the response is dropped by sendEvent.
	if h.gateway != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), h.mediaTimeout)
			defer cancel()

			resp, err := h.gateway.Join(ctx, newChannel, c.UserID)
			if err != nil {
				log.Warn().Str("module", "hub").
					Str("user_id", string(c.UserID)).
					Str("channel_id", string(newChannel)).
					Err(err).Msg("media join failed")
				return
			}
			if resp != nil {
				c.sendEvent(Envelope{
					Type: EventVoiceSignal,
					Payload: map[string]any{
						"type":       "join_response",
						"channel_id": newChannel,
						"data":       resp,
					},
				})
			}
		}()
	}

	h.Broadcast(Envelope{
		Type:    EventVoiceStateUpdate,
		Payload: map[string]any{"user_id": c.UserID, "channel_id": newChannel},
	})
}

// handleVoiceSignal forwards a negotiation payload to the SFU and relays
// the response back to the same connection, tagged "<type>_response".
//
// The sender must actually be in the claimed channel. Signaling payloads
// carry SDP/ICE material that could hijack another peer's media session,
// and VoiceState is the single source of truth for who is where, so the
// membership lookup is the whole gate. Rejection is silent: no response
// leaks whether the room exists.
func (c *Client) handleVoiceSignal(raw json.RawMessage) {
	var payload incomingVoiceSignal
	if err := json.Unmarshal(raw, &payload); err != nil {
		return
	}
	if payload.ChannelID == "" || payload.Type == "" {
		return
	}

	h := c.hub
	if h.gateway == nil {
		return
	}

	if !h.limiter.Allow(c.UserID) {
		log.Debug().Str("module", "hub").Str("user_id", string(c.UserID)).Msg("voice signal rate limited")
		return
	}

	if ch, ok := h.voice.ChannelOf(c.UserID); !ok || ch != payload.ChannelID {
		log.Warn().Str("module", "hub").
			Str("user_id", string(c.UserID)).
			Str("claimed_channel", string(payload.ChannelID)).
			Msg("voice signal rejected: user not in channel")
		return
	}

	signalJSON, err := json.Marshal(map[string]any{
		"type": payload.Type,
		"data": payload.Data,
	})
	if err != nil {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), h.mediaTimeout)
		defer cancel()

		resp, err := h.gateway.Signal(ctx, payload.ChannelID, c.UserID, signalJSON)
		if err != nil {
			log.Warn().Str("module", "hub").
				Str("user_id", string(c.UserID)).
				Str("type", payload.Type).
				Err(err).Msg("media signal failed")
			return
		}
		if resp != nil {
			c.sendEvent(Envelope{
				Type: EventVoiceSignal,
				Payload: map[string]any{
					"type":       payload.Type + "_response",
					"channel_id": payload.ChannelID,
					"data":       resp,
				},
			})
		}
	}()
}

// handleTypingStart fans out a typing indicator. No state changes.
//
//	{"op":"TYPING_START","d":{"channel_id":"<id>","username":"alice"}}
func (c *Client) handleTypingStart(raw json.RawMessage) {
	var payload incomingTypingStart
	if err := json.Unmarshal(raw, &payload); err != nil || payload.ChannelID == "" {
		return
	}
	c.hub.Broadcast(Envelope{
		Type: EventTypingStart,
		Payload: map[string]any{
			"user_id":    c.UserID,
			"channel_id": payload.ChannelID,
			"username":   payload.Username,
		},
	})
}

// handlePluginEvent fans out a plugin event to all connected clients.
// Actual plugin execution lives outside the session layer.
func (c *Client) handlePluginEvent(raw json.RawMessage) {
	var event incomingPluginEvent
	if err := json.Unmarshal(raw, &event); err != nil || event.PluginID == "" {
		return
	}
	c.hub.Broadcast(Envelope{
		Type: EventPluginEvent,
		Payload: map[string]any{
			"plugin_id": event.PluginID,
			"payload":   event.Payload,
		},
	})
}
