package events

import "github.com/gxo-labs/livecache/pkg/livecache/v1/events"

// NoOpEventBus is the default events.Bus: caches created without an event
// bus emit into it, so emitting code never has to check for nil.
type NoOpEventBus struct{}

// NewNoOpEventBus creates a new instance of the NoOpEventBus.
func NewNoOpEventBus() events.Bus {
	return &NoOpEventBus{}
}

// Emit does nothing.
func (n *NoOpEventBus) Emit(event events.Event) {}

var _ events.Bus = (*NoOpEventBus)(nil)
