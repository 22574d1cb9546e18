// Package hub fans pose results out to watcher websockets using a single
// goroutine that owns the client set.
package hub

import "encoding/json"

// Message is a pre-encoded JSON frame queued for delivery
type Message struct {
	Data []byte
}

// NewJSONMessage encodes v into a message
func NewJSONMessage(v interface{}) (Message, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Message{}, err
	}
	return Message{Data: data}, nil
}
