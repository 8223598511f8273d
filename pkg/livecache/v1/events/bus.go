package events

import "time"

// EventType represents the type of a cache lifecycle event.
type EventType string

// Standard livecache event types.
const (
	CacheCreated      EventType = "CacheCreated"
	CacheWriteApplied EventType = "CacheWriteApplied" // A write produced a non-empty change-set
	SubscriberAdded   EventType = "SubscriberAdded"
	SubscriberRemoved EventType = "SubscriberRemoved" // Completed or closed normally
	SubscriberFaulted EventType = "SubscriberFaulted" // Terminated with its own error
	WriterFaulted     EventType = "WriterFaulted"     // Cache torn down by a writer fault
	CacheDisposed     EventType = "CacheDisposed"
)

// Payload keys used by the standard events.
const (
	PayloadAdds      = "adds"
	PayloadUpdates   = "updates"
	PayloadRemoves   = "removes"
	PayloadRefreshes = "refreshes"
	PayloadMoves     = "moves"
	PayloadError     = "error"
)

// Event represents a significant occurrence in a cache's lifecycle.
type Event struct {
	// Type categorizes the event.
	Type EventType `json:"type"`
	// Timestamp marks when the event occurred.
	Timestamp time.Time `json:"timestamp"`
	// CacheName identifies the cache the event belongs to.
	CacheName string `json:"cache_name,omitempty"`
	// CacheID is the unique instance id of the cache.
	CacheID string `json:"cache_id,omitempty"`
	// SubscriptionID identifies the subscription for subscriber events.
	SubscriptionID string `json:"subscription_id,omitempty"`
	// Payload contains event-specific data. Cached values are never included.
	Payload map[string]interface{} `json:"payload,omitempty"`
}

// Bus defines the interface for publishing cache events.
// Implementations must not block: Emit is called while the cache's write
// lock is held.
type Bus interface {
	// Emit publishes an event to the bus.
	Emit(event Event)
}
