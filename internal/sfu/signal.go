package sfu

import (
	"encoding/json"

	"github.com/hollowgrid/reverb/internal/domain"
)

// Signal payload types a peer may send through the hub.
type SignalType string

const (
	SignalConnectSendTransport SignalType = "connect-send-transport"
	SignalConnectRecvTransport SignalType = "connect-recv-transport"
	SignalProduce              SignalType = "produce"
	SignalConsume              SignalType = "consume"
	SignalResumeConsumer       SignalType = "resume-consumer"
)

// Signal is the relayed negotiation envelope. Data is decoded per Type in
// Room.Signal; adding a new SignalType means adding a case there.
type Signal struct {
	Type SignalType      `json:"type"`
	Data json.RawMessage `json:"data"`
}

type produceRequest struct {
	Kind          string          `json:"kind"`
	RTPParameters json.RawMessage `json:"rtpParameters"`
}

type produceResponse struct {
	ProducerID string `json:"producerId"`
}

type consumeRequest struct {
	RTPCapabilities json.RawMessage `json:"rtpCapabilities"`
}

type consumeResponse struct {
	Consumers []ConsumerInfo `json:"consumers"`
}

type resumeConsumerRequest struct {
	ConsumerID string `json:"consumerId"`
}

// ConsumerInfo describes one newly created consumer to the client.
type ConsumerInfo struct {
	ID             string          `json:"id"`
	ProducerID     string          `json:"producerId"`
	ProducerUserID domain.UserID   `json:"producerUserId"`
	Kind           string          `json:"kind"`
	RTPParameters  json.RawMessage `json:"rtpParameters"`
}

// JoinInfo is Room.Join's answer: the room's shared routing capabilities
// plus negotiation parameters for the fresh transport pair.
type JoinInfo struct {
	RTPCapabilities json.RawMessage `json:"rtpCapabilities"`
	SendTransport   TransportInfo   `json:"sendTransport"`
	RecvTransport   TransportInfo   `json:"recvTransport"`
}
