package sfu

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/hollowgrid/reverb/internal/domain"
)

// Manager owns the channel → Room registry. Rooms are created lazily on
// the first join and destroyed as soon as their last peer leaves.
type Manager struct {
	engine Engine

	mu    sync.RWMutex
	rooms map[domain.ChannelID]*Room
}

func NewManager(engine Engine) *Manager {
	return &Manager{
		engine: engine,
		rooms:  make(map[domain.ChannelID]*Room),
	}
}

// Join adds user to the room for channel, creating the room if needed.
func (m *Manager) Join(channel domain.ChannelID, user domain.UserID) (*JoinInfo, error) {
	// A concurrent leave can destroy the room between lookup and use;
	// Join then reports ErrRoomClosed and we start over with a fresh one.
	for {
		room, err := m.getOrCreate(channel)
		if err != nil {
			return nil, err
		}
		info, err := room.Join(user)
		if err == ErrRoomClosed {
			continue
		}
		return info, err
	}
}

// Signal dispatches a negotiation payload to the room for channel.
func (m *Manager) Signal(channel domain.ChannelID, user domain.UserID, sig Signal) (any, error) {
	m.mu.RLock()
	room, ok := m.rooms[channel]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrRoomNotFound
	}
	return room.Signal(user, sig)
}

// Leave removes user from the room for channel and destroys the room if
// it is now empty. Idempotent: unknown rooms and peers are no-ops.
func (m *Manager) Leave(channel domain.ChannelID, user domain.UserID) {
	m.mu.Lock()
	room, ok := m.rooms[channel]
	if !ok {
		m.mu.Unlock()
		return
	}
	empty := room.RemovePeer(user)
	if empty {
		delete(m.rooms, channel)
	}
	m.mu.Unlock()

	if empty {
		room.Close()
		log.Info().Str("module", "sfu").Str("channel_id", string(channel)).Msg("room destroyed")
	}
}

// RoomCount reports the number of active rooms (for ops/health output).
func (m *Manager) RoomCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rooms)
}

func (m *Manager) getOrCreate(channel domain.ChannelID) (*Room, error) {
	m.mu.RLock()
	room, ok := m.rooms[channel]
	m.mu.RUnlock()
	if ok {
		return room, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if room, ok = m.rooms[channel]; ok {
		return room, nil
	}
	router, err := m.engine.NewRouter()
	if err != nil {
		return nil, err
	}
	room = newRoom(channel, router)
	m.rooms[channel] = room
	log.Info().Str("module", "sfu").Str("channel_id", string(channel)).Msg("room created")
	return room, nil
}
