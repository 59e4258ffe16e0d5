package hub

import (
	"sync"

	"github.com/hollowgrid/reverb/internal/domain"
)

// VoiceState tracks who occupies which voice channel. It is read and
// written from many readPump goroutines concurrently, unlike the hub's
// connection set, so it carries its own lock.
//
// The two maps are kept mutually consistent under a single mutex: a user
// appears in a channel's member set iff that channel is the user's
// recorded channel. Empty member sets are pruned immediately.
type VoiceState struct {
	mu        sync.RWMutex
	byChannel map[domain.ChannelID]map[domain.UserID]struct{}
	byUser    map[domain.UserID]domain.ChannelID
}

func NewVoiceState() *VoiceState {
	return &VoiceState{
		byChannel: make(map[domain.ChannelID]map[domain.UserID]struct{}),
		byUser:    make(map[domain.UserID]domain.ChannelID),
	}
}

// Join moves user into channel, removing them from their previous channel
// first. A user occupies at most one voice channel at a time.
// Returns the previous channel ("" if they were not in any).
func (s *VoiceState) Join(user domain.UserID, channel domain.ChannelID) (prev domain.ChannelID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev = s.byUser[user]
	if prev != "" && prev != channel {
		delete(s.byChannel[prev], user)
		if len(s.byChannel[prev]) == 0 {
			delete(s.byChannel, prev)
		}
	}

	if s.byChannel[channel] == nil {
		s.byChannel[channel] = make(map[domain.UserID]struct{})
	}
	s.byChannel[channel][user] = struct{}{}
	s.byUser[user] = channel
	return prev
}

// Leave removes user from whichever channel they occupy.
// Returns the channel they left and whether they were in one.
func (s *VoiceState) Leave(user domain.UserID) (channel domain.ChannelID, was bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	channel, was = s.byUser[user]
	if !was {
		return "", false
	}

	delete(s.byUser, user)
	delete(s.byChannel[channel], user)
	if len(s.byChannel[channel]) == 0 {
		delete(s.byChannel, channel)
	}
	return channel, true
}

// ChannelOf returns the channel the user is currently in, if any.
func (s *VoiceState) ChannelOf(user domain.UserID) (channel domain.ChannelID, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	channel, ok = s.byUser[user]
	return
}

// Members returns a snapshot of the users currently in channel.
func (s *VoiceState) Members(channel domain.ChannelID) []domain.UserID {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := s.byChannel[channel]
	if len(users) == 0 {
		return nil
	}
	out := make([]domain.UserID, 0, len(users))
	for uid := range users {
		out = append(out, uid)
	}
	return out
}
