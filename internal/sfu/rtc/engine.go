// Package rtc implements the sfu.Engine contract on pion/webrtc's ORTC
// API: one ICE/DTLS transport pair per sfu.Transport, RTP receivers for
// producers, local static tracks plus RTP senders for consumers, and a
// per-producer relay goroutine fanning packets out.
package rtc

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pion/webrtc/v4"

	"github.com/hollowgrid/reverb/internal/sfu"
)

const opusPayloadType = 111

var opusCapability = webrtc.RTPCodecCapability{
	MimeType:    webrtc.MimeTypeOpus,
	ClockRate:   48000,
	Channels:    2,
	SDPFmtpLine: "minptime=10;useinbandfec=1",
}

// Engine holds the shared pion API object. Voice-only: Opus is the single
// registered codec.
type Engine struct {
	api  *webrtc.API
	caps json.RawMessage
}

// capabilitySet is the routing-capability blob advertised to clients and
// the shape we expect back in consume requests.
type capabilitySet struct {
	Codecs []codecCapability `json:"codecs"`
}

type codecCapability struct {
	Kind                 string `json:"kind"`
	MimeType             string `json:"mimeType"`
	PreferredPayloadType uint8  `json:"preferredPayloadType,omitempty"`
	ClockRate            uint32 `json:"clockRate"`
	Channels             uint16 `json:"channels,omitempty"`
}

func NewEngine() (*Engine, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: opusCapability,
		PayloadType:        opusPayloadType,
	}, webrtc.RTPCodecTypeAudio); err != nil {
		return nil, fmt.Errorf("register opus: %w", err)
	}

	settingEngine := webrtc.SettingEngine{}
	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithSettingEngine(settingEngine),
	)

	caps, err := json.Marshal(capabilitySet{Codecs: []codecCapability{{
		Kind:                 "audio",
		MimeType:             webrtc.MimeTypeOpus,
		PreferredPayloadType: opusPayloadType,
		ClockRate:            48000,
		Channels:             2,
	}}})
	if err != nil {
		return nil, err
	}

	return &Engine{api: api, caps: caps}, nil
}

func (e *Engine) NewRouter() (sfu.Router, error) {
	return &router{api: e.api, caps: e.caps}, nil
}

// router shares the engine-wide capabilities. All media state is owned by
// the transports riding on it, so there is nothing router-scoped to
// release on Close.
type router struct {
	api  *webrtc.API
	caps json.RawMessage
}

func (r *router) Capabilities() json.RawMessage { return r.caps }

func (r *router) NewTransport(dir sfu.Direction) (sfu.Transport, error) {
	return newTransport(r.api, dir)
}

// CanConsume accepts a producer when the client declared a codec matching
// the producer's kind. With Opus as the only registered codec this boils
// down to "did the client say it can receive opus audio".
func (r *router) CanConsume(p sfu.Producer, rtpCapabilities json.RawMessage) bool {
	var caps capabilitySet
	if err := json.Unmarshal(rtpCapabilities, &caps); err != nil {
		return false
	}
	for _, c := range caps.Codecs {
		if strings.EqualFold(c.MimeType, webrtc.MimeTypeOpus) && p.Kind() == "audio" {
			return true
		}
	}
	return false
}

func (r *router) Close() {}
