// Package hub fans JSON messages out to websocket clients.
//
// A single goroutine (Run) owns the client set; clients own their
// connection writes. Slow clients are dropped rather than blocking others.
package hub

import "encoding/json"

// Message is one pre-encoded JSON text frame.
type Message []byte

// Encode marshals v into a Message.
func Encode(v any) (Message, error) {
	return json.Marshal(v)
}
