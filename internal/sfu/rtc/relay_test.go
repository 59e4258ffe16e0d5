package rtc

import (
	"testing"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rs/zerolog"
)

func newTestSink(t *testing.T) *sink {
	t.Helper()
	track, err := webrtc.NewTrackLocalStaticRTP(opusCapability, "test-track", "test-stream")
	require.NoError(t, err)
	return &sink{track: track}
}

func TestSinkStartsPaused(t *testing.T) {
	s := newTestSink(t)
	assert.Equal(t, sinkPaused, s.getState())

	s.markLive()
	assert.Equal(t, sinkLive, s.getState())

	s.markDead()
	assert.Equal(t, sinkDead, s.getState())
}

func TestRelayRemoveSinkMarksDead(t *testing.T) {
	r := newRelay(nil, func() {})
	s := newTestSink(t)
	r.addSink("c1", s)

	r.removeSink("c1")
	assert.Equal(t, sinkDead, s.getState())
	r.mu.RLock()
	assert.Empty(t, r.sinks)
	r.mu.RUnlock()

	// Removing again is harmless.
	r.removeSink("c1")
}

func TestRelayForwardSkipsPausedSinks(t *testing.T) {
	logger := zerolog.Nop()
	r := newRelay(nil, func() {})
	paused := newTestSink(t)
	live := newTestSink(t)
	live.markLive()
	r.addSink("paused", paused)
	r.addSink("live", live)

	// An unbound local track accepts writes, so forwarding to the live
	// sink succeeds while the paused one is skipped; both survive.
	r.forward(&rtp.Packet{}, &logger)

	assert.Equal(t, sinkPaused, paused.getState())
	assert.Equal(t, sinkLive, live.getState())
	r.mu.RLock()
	assert.Len(t, r.sinks, 2)
	r.mu.RUnlock()
}

func TestRelayForwardPrunesDeadSinks(t *testing.T) {
	logger := zerolog.Nop()
	r := newRelay(nil, func() {})
	dead := newTestSink(t)
	dead.markDead()
	live := newTestSink(t)
	live.markLive()
	r.addSink("dead", dead)
	r.addSink("live", live)

	r.forward(&rtp.Packet{}, &logger)

	r.mu.RLock()
	_, hasDead := r.sinks["dead"]
	_, hasLive := r.sinks["live"]
	r.mu.RUnlock()
	assert.False(t, hasDead)
	assert.True(t, hasLive)
}

func TestRelayMarkAllDead(t *testing.T) {
	r := newRelay(nil, func() {})
	a := newTestSink(t)
	b := newTestSink(t)
	b.markLive()
	r.addSink("a", a)
	r.addSink("b", b)

	r.markAllDead()
	assert.Equal(t, sinkDead, a.getState())
	assert.Equal(t, sinkDead, b.getState())
}
