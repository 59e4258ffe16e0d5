package rtc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/hollowgrid/reverb/internal/sfu"
)

// transport is one ICE gatherer + ICE transport + DTLS transport triple.
// Local parameters are gathered eagerly at creation so Info() never
// blocks a caller.
type transport struct {
	id  string
	dir sfu.Direction
	api *webrtc.API

	gatherer *webrtc.ICEGatherer
	ice      *webrtc.ICETransport
	dtls     *webrtc.DTLSTransport

	info sfu.TransportInfo

	mu        sync.Mutex
	closed    bool
	onClose   []func()
	producers []*producer
	consumers []*consumer
}

func newTransport(api *webrtc.API, dir sfu.Direction) (*transport, error) {
	gatherer, err := api.NewICEGatherer(webrtc.ICEGatherOptions{})
	if err != nil {
		return nil, fmt.Errorf("ice gatherer: %w", err)
	}
	ice := api.NewICETransport(gatherer)
	dtls, err := api.NewDTLSTransport(ice, nil)
	if err != nil {
		return nil, fmt.Errorf("dtls transport: %w", err)
	}

	gatherDone := make(chan struct{})
	gatherer.OnLocalCandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			close(gatherDone)
		}
	})
	if err := gatherer.Gather(); err != nil {
		return nil, fmt.Errorf("ice gather: %w", err)
	}
	<-gatherDone

	iceParams, err := gatherer.GetLocalParameters()
	if err != nil {
		return nil, fmt.Errorf("ice parameters: %w", err)
	}
	candidates, err := gatherer.GetLocalCandidates()
	if err != nil {
		return nil, fmt.Errorf("ice candidates: %w", err)
	}
	dtlsParams, err := dtls.GetLocalParameters()
	if err != nil {
		return nil, fmt.Errorf("dtls parameters: %w", err)
	}

	iceJSON, _ := json.Marshal(iceParams)
	candJSON, _ := json.Marshal(candidates)
	dtlsJSON, _ := json.Marshal(dtlsParams)

	t := &transport{
		id:       uuid.NewString(),
		dir:      dir,
		api:      api,
		gatherer: gatherer,
		ice:      ice,
		dtls:     dtls,
	}
	t.info = sfu.TransportInfo{
		ID:             t.id,
		ICEParameters:  iceJSON,
		ICECandidates:  candJSON,
		DTLSParameters: dtlsJSON,
	}

	ice.OnConnectionStateChange(func(state webrtc.ICETransportState) {
		switch state {
		case webrtc.ICETransportStateFailed, webrtc.ICETransportStateClosed:
			// pion invokes this on its own goroutine; shutdown(true)
			// runs the session model's OnClose callbacks from here.
			t.shutdown(true)
		default:
		}
	})

	return t, nil
}

func (t *transport) ID() string              { return t.id }
func (t *transport) Info() sfu.TransportInfo { return t.info }

// connectParams carries the client's DTLS parameters plus its ICE
// parameters. pion is not an ICE-lite agent, so unlike a lite SFU it
// needs the remote ufrag/pwd before it can answer connectivity checks.
type connectParams struct {
	DTLSParameters webrtc.DTLSParameters `json:"dtlsParameters"`
	ICEParameters  webrtc.ICEParameters  `json:"iceParameters"`
}

func (t *transport) Connect(params json.RawMessage) error {
	var p connectParams
	if err := json.Unmarshal(params, &p); err != nil {
		return fmt.Errorf("connect params: %w", err)
	}

	role := webrtc.ICERoleControlled
	if err := t.ice.Start(t.gatherer, p.ICEParameters, &role); err != nil {
		return fmt.Errorf("ice start: %w", err)
	}
	if err := t.dtls.Start(p.DTLSParameters); err != nil {
		return fmt.Errorf("dtls start: %w", err)
	}
	return nil
}

// rtpParameters is the subset of the client's produce parameters the
// engine needs: which SSRC to receive and under which payload type.
type rtpParameters struct {
	Codecs []struct {
		MimeType    string `json:"mimeType"`
		PayloadType uint8  `json:"payloadType"`
		ClockRate   uint32 `json:"clockRate"`
		Channels    uint16 `json:"channels"`
	} `json:"codecs"`
	Encodings []struct {
		SSRC uint32 `json:"ssrc"`
	} `json:"encodings"`
}

func (t *transport) Produce(kind string, raw json.RawMessage) (sfu.Producer, error) {
	if t.dir != sfu.DirectionSend {
		return nil, errors.New("produce on recv transport")
	}
	if kind != "audio" {
		return nil, fmt.Errorf("unsupported kind %q", kind)
	}

	var params rtpParameters
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, fmt.Errorf("rtp parameters: %w", err)
	}
	if len(params.Encodings) == 0 {
		return nil, errors.New("rtp parameters: no encodings")
	}
	pt := webrtc.PayloadType(opusPayloadType)
	if len(params.Codecs) > 0 && params.Codecs[0].PayloadType != 0 {
		pt = webrtc.PayloadType(params.Codecs[0].PayloadType)
	}

	receiver, err := t.api.NewRTPReceiver(webrtc.RTPCodecTypeAudio, t.dtls)
	if err != nil {
		return nil, fmt.Errorf("rtp receiver: %w", err)
	}
	if err := receiver.Receive(webrtc.RTPReceiveParameters{
		Encodings: []webrtc.RTPDecodingParameters{{
			RTPCodingParameters: webrtc.RTPCodingParameters{
				SSRC:        webrtc.SSRC(params.Encodings[0].SSRC),
				PayloadType: pt,
			},
		}},
	}); err != nil {
		return nil, fmt.Errorf("rtp receive: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	rel := newRelay(receiver.Track(), cancel)
	p := &producer{
		id:       uuid.NewString(),
		kind:     kind,
		receiver: receiver,
		relay:    rel,
	}

	logger := log.With().
		Str("module", "sfu.rtc").
		Str("transport_id", t.id).
		Str("producer_id", p.id).
		Logger()
	go rel.loop(ctx, &logger)

	t.mu.Lock()
	t.producers = append(t.producers, p)
	t.mu.Unlock()
	return p, nil
}

func (t *transport) Consume(src sfu.Producer, rtpCapabilities json.RawMessage) (sfu.Consumer, error) {
	if t.dir != sfu.DirectionRecv {
		return nil, errors.New("consume on send transport")
	}
	prod, ok := src.(*producer)
	if !ok {
		return nil, errors.New("producer belongs to a different engine")
	}

	id := uuid.NewString()
	local, err := webrtc.NewTrackLocalStaticRTP(opusCapability, "audio", "reverb-"+id)
	if err != nil {
		return nil, fmt.Errorf("local track: %w", err)
	}
	sender, err := t.api.NewRTPSender(local, t.dtls)
	if err != nil {
		return nil, fmt.Errorf("rtp sender: %w", err)
	}
	sendParams := sender.GetParameters()
	if err := sender.Send(sendParams); err != nil {
		return nil, fmt.Errorf("rtp send: %w", err)
	}

	rtpJSON, err := consumerRTPParameters(sendParams)
	if err != nil {
		_ = sender.Stop()
		return nil, err
	}

	snk := &sink{track: local} // starts paused
	prod.relay.addSink(id, snk)

	c := &consumer{
		id:         id,
		producerID: prod.id,
		kind:       prod.kind,
		rtpParams:  rtpJSON,
		sender:     sender,
		snk:        snk,
		rel:        prod.relay,
	}
	t.mu.Lock()
	t.consumers = append(t.consumers, c)
	t.mu.Unlock()
	return c, nil
}

// consumerRTPParameters renders the sender's negotiated parameters in the
// shape clients expect (codecs + encodings).
func consumerRTPParameters(params webrtc.RTPSendParameters) (json.RawMessage, error) {
	type codec struct {
		MimeType    string `json:"mimeType"`
		PayloadType uint8  `json:"payloadType"`
		ClockRate   uint32 `json:"clockRate"`
		Channels    uint16 `json:"channels,omitempty"`
	}
	type encoding struct {
		SSRC uint32 `json:"ssrc"`
	}
	out := struct {
		Codecs    []codec    `json:"codecs"`
		Encodings []encoding `json:"encodings"`
	}{}

	for _, c := range params.Codecs {
		out.Codecs = append(out.Codecs, codec{
			MimeType:    c.MimeType,
			PayloadType: uint8(c.PayloadType),
			ClockRate:   c.ClockRate,
			Channels:    c.Channels,
		})
	}
	for _, e := range params.Encodings {
		out.Encodings = append(out.Encodings, encoding{SSRC: uint32(e.SSRC)})
	}
	return json.Marshal(out)
}

func (t *transport) OnClose(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.onClose = append(t.onClose, fn)
}

func (t *transport) Close() { t.shutdown(false) }

// shutdown closes children then the ICE/DTLS stack, exactly once.
// OnClose callbacks run only for engine-initiated shutdowns, per the
// sfu.Transport contract.
func (t *transport) shutdown(engineInitiated bool) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	producers := t.producers
	consumers := t.consumers
	callbacks := t.onClose
	t.producers, t.consumers, t.onClose = nil, nil, nil
	t.mu.Unlock()

	for _, c := range consumers {
		c.Close()
	}
	for _, p := range producers {
		p.Close()
	}
	_ = t.dtls.Stop()
	_ = t.ice.Stop()
	_ = t.gatherer.Close()

	if engineInitiated {
		for _, fn := range callbacks {
			fn()
		}
	}
}

// producer wraps an RTP receiver and the relay pumping its packets out.
type producer struct {
	id       string
	kind     string
	receiver *webrtc.RTPReceiver
	relay    *relay

	closeOnce sync.Once
}

func (p *producer) ID() string   { return p.id }
func (p *producer) Kind() string { return p.kind }

func (p *producer) Close() {
	p.closeOnce.Do(func() {
		p.relay.cancel()
		p.relay.markAllDead()
		_ = p.receiver.Stop()
	})
}

// consumer wraps an RTP sender and its sink in the source relay.
type consumer struct {
	id         string
	producerID string
	kind       string
	rtpParams  json.RawMessage
	sender     *webrtc.RTPSender
	snk        *sink
	rel        *relay

	closeOnce sync.Once
}

func (c *consumer) ID() string                    { return c.id }
func (c *consumer) ProducerID() string            { return c.producerID }
func (c *consumer) Kind() string                  { return c.kind }
func (c *consumer) RTPParameters() json.RawMessage { return c.rtpParams }

// Resume unpauses the sink so the relay starts writing packets. Consumers
// are created paused to give the remote side time to prepare playback.
func (c *consumer) Resume() error {
	if c.snk.getState() == sinkDead {
		return errors.New("consumer already closed")
	}
	c.snk.markLive()
	return nil
}

func (c *consumer) Close() {
	c.closeOnce.Do(func() {
		c.rel.removeSink(c.id)
		_ = c.sender.Stop()
	})
}
