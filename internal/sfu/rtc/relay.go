package rtc

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

type sinkState int32

const (
	sinkPaused sinkState = iota // zero value: consumers start paused
	sinkLive
	sinkDead
)

// sink is one consumer's outgoing track, fed by a producer's relay.
type sink struct {
	track *webrtc.TrackLocalStaticRTP
	state atomic.Int32
}

func (s *sink) getState() sinkState { return sinkState(s.state.Load()) }
func (s *sink) markLive() { s.state.Store(int32(sinkLive)) }
func (s *sink) markDead() { s.state.Store(int32(sinkDead)) }

// relay reads RTP packets from one producer's remote track and fans them
// out to every subscribed sink.
type relay struct {
	src *webrtc.TrackRemote

	mu    sync.RWMutex
	sinks map[string]*sink // consumerID → sink

	cancel context.CancelFunc
}

func newRelay(src *webrtc.TrackRemote, cancel context.CancelFunc) *relay {
	return &relay{
		src:    src,
		sinks:  make(map[string]*sink),
		cancel: cancel,
	}
}

func (r *relay) addSink(consumerID string, s *sink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sinks[consumerID] = s
}

func (r *relay) removeSink(consumerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sinks[consumerID]; ok {
		s.markDead()
		delete(r.sinks, consumerID)
	}
}

// loop pumps RTP from the source track into the sinks until the context
// is cancelled or the track errors out.
func (r *relay) loop(ctx context.Context, logger *zerolog.Logger) {
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("relay ctx done, marking all sinks dead")
			r.markAllDead()
			return
		default:
		}
		pkt, _, err := r.src.ReadRTP()
		if err != nil {
			logger.Warn().Err(err).Msg("relay read RTP error, stopping")
			r.markAllDead()
			return
		}
		r.forward(pkt, logger)
	}
}

func (r *relay) forward(pkt *rtp.Packet, logger *zerolog.Logger) {
	r.mu.RLock()
	dirty := false
	for cid, s := range r.sinks {
		switch s.getState() {
		case sinkDead:
			dirty = true
			continue
		case sinkPaused:
			continue
		}
		if err := s.track.WriteRTP(pkt); err != nil {
			logger.Warn().Err(err).Str("consumer_id", cid).Msg("relay write RTP error, marking sink dead")
			s.markDead()
			dirty = true
		}
	}
	r.mu.RUnlock()

	// Cleanup needs the write lock, so it runs outside the fan-out pass.
	if dirty {
		r.cleanupDead()
	}
}

func (r *relay) cleanupDead() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for cid, s := range r.sinks {
		if s.getState() == sinkDead {
			delete(r.sinks, cid)
		}
	}
}

func (r *relay) markAllDead() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sinks {
		s.markDead()
	}
}
