// Package sfu holds the session model of the media node: rooms, peers and
// the ownership tree of transports, producers and consumers. The actual
// ICE/DTLS/RTP machinery lives behind the Engine interface.
package sfu

import "encoding/json"

// Direction of a transport relative to the client.
type Direction int

const (
	DirectionSend Direction = iota // client → SFU
	DirectionRecv                  // SFU → client
)

func (d Direction) String() string {
	if d == DirectionSend {
		return "send"
	}
	return "recv"
}

// TransportInfo is what the client needs to negotiate a transport.
type TransportInfo struct {
	ID             string          `json:"id"`
	ICEParameters  json.RawMessage `json:"iceParameters"`
	ICECandidates  json.RawMessage `json:"iceCandidates"`
	DTLSParameters json.RawMessage `json:"dtlsParameters"`
}

// Engine is the media stack the session model drives. The session model
// only tracks ownership and never looks inside parameter payloads.
type Engine interface {
	// NewRouter creates the shared routing context for one room.
	NewRouter() (Router, error)
}

// Router is a room's shared media context: every peer in the room
// negotiates against the same capabilities.
type Router interface {
	// Capabilities is the JSON routing-capability blob advertised to
	// clients at join time.
	Capabilities() json.RawMessage

	NewTransport(dir Direction) (Transport, error)

	// CanConsume reports whether a producer's media fits the receive
	// capabilities a client declared.
	CanConsume(p Producer, rtpCapabilities json.RawMessage) bool

	Close()
}

// Transport is one negotiated network path. Closing a transport closes
// every producer and consumer created on it.
//
// OnClose callbacks fire only for engine-initiated shutdowns (ICE/DTLS
// failure, read errors), on the engine's own goroutine, and never
// re-entrantly from Close. The session model relies on that to hold its
// room lock inside the callback.
type Transport interface {
	ID() string
	Info() TransportInfo

	// Connect completes the handshake with client-supplied parameters.
	Connect(params json.RawMessage) error

	Produce(kind string, rtpParameters json.RawMessage) (Producer, error)

	// Consume creates a consumer for p, initially paused so the remote
	// side can prepare playback before packets flow.
	Consume(p Producer, rtpCapabilities json.RawMessage) (Consumer, error)

	OnClose(fn func())
	Close()
}

// Producer is one outbound media stream a peer publishes.
type Producer interface {
	ID() string
	Kind() string
	Close()
}

// Consumer is one inbound media stream, sourced from exactly one remote
// producer.
type Consumer interface {
	ID() string
	ProducerID() string
	Kind() string
	RTPParameters() json.RawMessage
	Resume() error
	Close()
}
