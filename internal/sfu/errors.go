package sfu

import "errors"

var (
	// ErrRoomNotFound: no active room for the channel.
	ErrRoomNotFound = errors.New("room not found")
	// ErrPeerNotFound: the user never joined (or already left) the room.
	ErrPeerNotFound = errors.New("peer not found")
	// ErrRoomClosed: the room was destroyed between lookup and use.
	ErrRoomClosed = errors.New("room closed")
	// ErrNoTransport: the peer has no transport for the requested direction.
	ErrNoTransport = errors.New("transport not found")
	// ErrConsumerNotFound: resume named a consumer the peer does not own.
	ErrConsumerNotFound = errors.New("consumer not found")
	// ErrUnknownSignal: unrecognized signal payload type.
	ErrUnknownSignal = errors.New("unknown signal type")
)

// IsNotFound reports whether err maps to a 404 on the internal API.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrRoomNotFound) ||
		errors.Is(err, ErrPeerNotFound) ||
		errors.Is(err, ErrNoTransport) ||
		errors.Is(err, ErrConsumerNotFound) ||
		errors.Is(err, ErrUnknownSignal)
}
