package braccio

import "context"

// Transport is the link to the arm. The driver is its only user and calls it
// from a single goroutine, except for the notification callback which the
// transport may invoke from any goroutine.
type Transport interface {
	// Connect opens the link and subscribes to status notifications.
	// onStatus receives each notification payload.
	Connect(ctx context.Context, onStatus func([]byte)) error

	// Write sends one chunk of at most MaxChunkSize bytes.
	Write(ctx context.Context, chunk []byte) error

	// Connected reports whether the link is currently up.
	Connected() bool

	// Disconnect closes the link. It is safe to call on a closed link.
	Disconnect() error
}
