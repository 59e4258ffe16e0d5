package sfu

import (
	"github.com/rs/zerolog/log"

	"github.com/hollowgrid/reverb/internal/domain"
)

// Peer is one user's membership in one room. It owns at most one send and
// one receive transport at a time; closing the peer cascades through the
// transports into every producer and consumer they carry.
//
// A peer is only ever touched under its room's lock.
type Peer struct {
	UserID domain.UserID

	send Transport
	recv Transport

	producers map[string]Producer
	consumers map[string]Consumer
	consumed  map[string]string // producerID → consumerID, blocks duplicates
}

func newPeer(user domain.UserID) *Peer {
	return &Peer{
		UserID:    user,
		producers: make(map[string]Producer),
		consumers: make(map[string]Consumer),
		consumed:  make(map[string]string),
	}
}

// transport returns the peer's transport for the given direction.
func (p *Peer) transport(dir Direction) Transport {
	if dir == DirectionSend {
		return p.send
	}
	return p.recv
}

// dropConsumersOf closes and forgets every consumer sourced from
// producerID. Returns how many were dropped.
func (p *Peer) dropConsumersOf(producerID string) int {
	cid, ok := p.consumed[producerID]
	if !ok {
		return 0
	}
	delete(p.consumed, producerID)
	if c, ok := p.consumers[cid]; ok {
		delete(p.consumers, cid)
		c.Close()
	}
	return 1
}

// closeTransports tears down the transport pair. Engine-level transport
// close already closes the producers/consumers riding on it; the maps
// are cleared so the peer can be re-equipped on re-join.
func (p *Peer) closeTransports() {
	if p.send != nil {
		p.send.Close()
		p.send = nil
	}
	if p.recv != nil {
		p.recv.Close()
		p.recv = nil
	}
	if len(p.producers) > 0 || len(p.consumers) > 0 {
		log.Debug().Str("module", "sfu").
			Str("user_id", string(p.UserID)).
			Int("producers", len(p.producers)).
			Int("consumers", len(p.consumers)).
			Msg("clearing media state with transports")
	}
	p.producers = make(map[string]Producer)
	p.consumers = make(map[string]Consumer)
	p.consumed = make(map[string]string)
}
