// Package hub fans messages out to websocket clients over channels.
package hub

// Message is one broadcast payload. Every message goes out as a websocket
// text frame.
type Message struct {
	Data []byte
}

// NewMessage wraps pre-encoded data, usually JSON.
func NewMessage(data []byte) Message {
	return Message{Data: data}
}
