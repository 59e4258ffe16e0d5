package sfu

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/hollowgrid/reverb/internal/domain"
)

// Room is one voice channel's active media session. All mutations (join,
// signal, removePeer) are serialized on r.mu; rooms for different
// channels proceed fully in parallel.
type Room struct {
	channel domain.ChannelID

	mu     sync.Mutex
	closed bool
	router Router
	peers  map[domain.UserID]*Peer
}

func newRoom(channel domain.ChannelID, router Router) *Room {
	return &Room{
		channel: channel,
		router:  router,
		peers:   make(map[domain.UserID]*Peer),
	}
}

func (r *Room) Channel() domain.ChannelID { return r.channel }

func (r *Room) MemberCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.peers)
}

// Join finds or creates the peer for user and equips it with a fresh
// send/receive transport pair. A re-join closes the stale pair first,
// cascading through its producers and consumers.
func (r *Room) Join(user domain.UserID) (*JoinInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrRoomClosed
	}

	peer, ok := r.peers[user]
	if ok {
		log.Info().Str("module", "sfu.room").
			Str("channel_id", string(r.channel)).
			Str("user_id", string(user)).
			Msg("re-join, replacing transports")
		for pid := range peer.producers {
			r.closeProducerLocked(peer, pid)
		}
		peer.closeTransports()
	} else {
		peer = newPeer(user)
		r.peers[user] = peer
	}

	send, err := r.router.NewTransport(DirectionSend)
	if err != nil {
		r.dropIfEmptyHandedLocked(peer)
		return nil, fmt.Errorf("create send transport: %w", err)
	}
	recv, err := r.router.NewTransport(DirectionRecv)
	if err != nil {
		send.Close()
		r.dropIfEmptyHandedLocked(peer)
		return nil, fmt.Errorf("create recv transport: %w", err)
	}

	peer.send = send
	peer.recv = recv
	send.OnClose(func() { r.onTransportClosed(user, send, DirectionSend) })
	recv.OnClose(func() { r.onTransportClosed(user, recv, DirectionRecv) })

	log.Info().Str("module", "sfu.room").
		Str("channel_id", string(r.channel)).
		Str("user_id", string(user)).
		Int("peers", len(r.peers)).
		Msg("peer joined")

	return &JoinInfo{
		RTPCapabilities: r.router.Capabilities(),
		SendTransport:   send.Info(),
		RecvTransport:   recv.Info(),
	}, nil
}

// dropIfEmptyHandedLocked removes a peer that ended up with no
// transports after a failed join, so it does not linger as a ghost.
func (r *Room) dropIfEmptyHandedLocked(peer *Peer) {
	if peer.send == nil && peer.recv == nil {
		delete(r.peers, peer.UserID)
	}
}

// Signal dispatches one negotiation payload for user. Unknown types and
// references to absent peers/transports/consumers fail with a not-found
// error; the caller logs and drops rather than crashing the room.
func (r *Room) Signal(user domain.UserID, sig Signal) (any, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrRoomClosed
	}
	peer, ok := r.peers[user]
	if !ok {
		return nil, ErrPeerNotFound
	}

	switch sig.Type {
	case SignalConnectSendTransport:
		return r.connect(peer, DirectionSend, sig.Data)
	case SignalConnectRecvTransport:
		return r.connect(peer, DirectionRecv, sig.Data)
	case SignalProduce:
		return r.produce(peer, sig.Data)
	case SignalConsume:
		return r.consume(peer, sig.Data)
	case SignalResumeConsumer:
		return r.resumeConsumer(peer, sig.Data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownSignal, sig.Type)
	}
}

func (r *Room) connect(peer *Peer, dir Direction, data json.RawMessage) (any, error) {
	tr := peer.transport(dir)
	if tr == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoTransport, dir)
	}
	if err := tr.Connect(data); err != nil {
		return nil, fmt.Errorf("connect %s transport: %w", dir, err)
	}
	return struct{}{}, nil
}

func (r *Room) produce(peer *Peer, data json.RawMessage) (any, error) {
	var req produceRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("produce payload: %w", err)
	}
	if peer.send == nil {
		return nil, fmt.Errorf("%w: send", ErrNoTransport)
	}
	p, err := peer.send.Produce(req.Kind, req.RTPParameters)
	if err != nil {
		return nil, fmt.Errorf("produce: %w", err)
	}
	peer.producers[p.ID()] = p
	log.Info().Str("module", "sfu.room").
		Str("channel_id", string(r.channel)).
		Str("user_id", string(peer.UserID)).
		Str("producer_id", p.ID()).
		Str("kind", p.Kind()).
		Msg("producer created")
	return produceResponse{ProducerID: p.ID()}, nil
}

// consume is the catch-up pass: every producer of every other peer that
// this peer is not yet consuming, and that the router permits for the
// declared capabilities, gets a new paused consumer. Clients re-invoke it
// whenever room membership grows, so late joiners and existing members
// both end up fully wired.
func (r *Room) consume(peer *Peer, data json.RawMessage) (any, error) {
	var req consumeRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("consume payload: %w", err)
	}
	if peer.recv == nil {
		return nil, fmt.Errorf("%w: recv", ErrNoTransport)
	}

	created := make([]ConsumerInfo, 0)
	for _, other := range r.peers {
		if other.UserID == peer.UserID {
			continue
		}
		for pid, producer := range other.producers {
			if _, already := peer.consumed[pid]; already {
				continue
			}
			if !r.router.CanConsume(producer, req.RTPCapabilities) {
				continue
			}
			consumer, err := peer.recv.Consume(producer, req.RTPCapabilities)
			if err != nil {
				log.Warn().Str("module", "sfu.room").
					Str("channel_id", string(r.channel)).
					Str("user_id", string(peer.UserID)).
					Str("producer_id", pid).
					Err(err).Msg("consume failed, skipping producer")
				continue
			}
			peer.consumers[consumer.ID()] = consumer
			peer.consumed[pid] = consumer.ID()
			created = append(created, ConsumerInfo{
				ID:             consumer.ID(),
				ProducerID:     pid,
				ProducerUserID: other.UserID,
				Kind:           consumer.Kind(),
				RTPParameters:  consumer.RTPParameters(),
			})
		}
	}

	log.Debug().Str("module", "sfu.room").
		Str("channel_id", string(r.channel)).
		Str("user_id", string(peer.UserID)).
		Int("created", len(created)).
		Msg("consume catch-up")
	return consumeResponse{Consumers: created}, nil
}

func (r *Room) resumeConsumer(peer *Peer, data json.RawMessage) (any, error) {
	var req resumeConsumerRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("resume payload: %w", err)
	}
	c, ok := peer.consumers[req.ConsumerID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrConsumerNotFound, req.ConsumerID)
	}
	if err := c.Resume(); err != nil {
		return nil, fmt.Errorf("resume consumer: %w", err)
	}
	return struct{}{}, nil
}

// RemovePeer closes the peer, cascading through its transports, producers
// and consumers, and reports whether the room is now empty so the caller
// can destroy it. An emptied room is marked closed on the spot: the
// manager drops it from its map before calling Close, and a Join racing
// through a stale room pointer in that window must see ErrRoomClosed and
// retry on a fresh room rather than equip transports the destroy is
// about to tear down.
func (r *Room) RemovePeer(user domain.UserID) (empty bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	peer, ok := r.peers[user]
	if !ok {
		return r.markClosedIfEmptyLocked()
	}
	for pid := range peer.producers {
		r.closeProducerLocked(peer, pid)
	}
	peer.closeTransports()
	delete(r.peers, user)

	log.Info().Str("module", "sfu.room").
		Str("channel_id", string(r.channel)).
		Str("user_id", string(user)).
		Int("peers", len(r.peers)).
		Msg("peer removed")
	return r.markClosedIfEmptyLocked()
}

func (r *Room) markClosedIfEmptyLocked() bool {
	if len(r.peers) > 0 {
		return false
	}
	if !r.closed {
		r.closed = true
		r.router.Close()
	}
	return true
}

// closeProducerLocked closes one producer and every consumer any other
// peer holds on it, so nothing dangles once the source is gone.
func (r *Room) closeProducerLocked(owner *Peer, producerID string) {
	p, ok := owner.producers[producerID]
	if !ok {
		return
	}
	delete(owner.producers, producerID)
	p.Close()
	for _, other := range r.peers {
		if other == owner {
			continue
		}
		other.dropConsumersOf(producerID)
	}
}

// onTransportClosed handles an engine-initiated transport shutdown.
// Stale callbacks from transports already replaced by a re-join are
// ignored.
func (r *Room) onTransportClosed(user domain.UserID, tr Transport, dir Direction) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	peer, ok := r.peers[user]
	if !ok || peer.transport(dir) != tr {
		return
	}

	log.Warn().Str("module", "sfu.room").
		Str("channel_id", string(r.channel)).
		Str("user_id", string(user)).
		Str("direction", dir.String()).
		Msg("transport closed by engine")

	if dir == DirectionSend {
		for pid := range peer.producers {
			r.closeProducerLocked(peer, pid)
		}
		peer.send = nil
		return
	}

	for cid, c := range peer.consumers {
		c.Close()
		delete(peer.consumers, cid)
	}
	peer.consumed = make(map[string]string)
	peer.recv = nil
}

// Close tears down every peer and the router. Called by the manager once
// the room is empty, or at shutdown.
func (r *Room) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	for _, peer := range r.peers {
		for pid := range peer.producers {
			r.closeProducerLocked(peer, pid)
		}
		peer.closeTransports()
	}
	r.peers = make(map[domain.UserID]*Peer)
	r.router.Close()
}
