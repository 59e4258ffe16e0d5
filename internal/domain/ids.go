// Package domain contains shared identity types, no logic.
package domain

type (
	// UserID identifies an authenticated user. A user may hold several
	// live connections at once (multi-device).
	UserID string

	// ChannelID identifies a channel. Voice membership and SFU rooms are
	// keyed by it.
	ChannelID string
)
