// Package push maintains the real-time channel to the notification backend.
//
// A Client owns one logical connection: it dials through a Transport,
// reconnects with jittered backoff, tracks channel health and dispatches
// events to registered handlers. A Registry shares one Client per user
// between any number of consumers through reference counting.
package push

import (
	"context"
	"encoding/json"
	"errors"
)

// Reserved event names dispatched by the client itself on state transitions.
const (
	EventConnected    = "connected"
	EventDisconnected = "disconnected"
)

// Event names sent by the backend.
const (
	EventNotification = "notification"
	EventStatusChange = "status_change"
)

// DefaultRefetchEvents are the backend events that make a consumer refetch.
var DefaultRefetchEvents = []string{EventNotification, EventStatusChange}

// ErrDisabled is returned by a Transport that never connects.
var ErrDisabled = errors.New("push: transport disabled")

// Event is one message received over the channel.
type Event struct {
	Name string          `json:"event"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Handler receives events. Handlers run on the client's reader goroutine in
// arrival order and must not block.
type Handler func(Event)

// Stream is an established connection.
type Stream interface {
	// Next blocks until the next event, a transport failure, or ctx is done.
	Next(ctx context.Context) (Event, error)
	Close() error
}

// Transport opens streams for a user.
type Transport interface {
	Dial(ctx context.Context, userID string) (Stream, error)
}

// State is the connection state of a Client.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Reserved reports whether name is dispatched only by the client itself.
func Reserved(name string) bool {
	return name == EventConnected || name == EventDisconnected
}
