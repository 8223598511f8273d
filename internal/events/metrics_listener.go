package events

import (
	"context"

	"github.com/gxo-labs/livecache/pkg/livecache/v1/events"
	lclog "github.com/gxo-labs/livecache/pkg/livecache/v1/log"
)

// EventRecorder consumes cache events. internal/metrics.CacheCollectors is
// the production implementation.
type EventRecorder interface {
	Record(event events.Event)
}

// MetricsEventListener drains a ChannelEventBus and feeds every event to a
// recorder, keeping metric updates off the caches' write path.
type MetricsEventListener struct {
	bus      *ChannelEventBus
	log      lclog.Logger
	recorder EventRecorder
}

// NewMetricsEventListener creates a new listener. Panics if any dependency is nil.
func NewMetricsEventListener(bus *ChannelEventBus, recorder EventRecorder, log lclog.Logger) *MetricsEventListener {
	if bus == nil || recorder == nil || log == nil {
		panic("MetricsEventListener requires a non-nil ChannelEventBus, EventRecorder, and Logger")
	}
	return &MetricsEventListener{
		bus:      bus,
		log:      log.With("component", "MetricsEventListener"),
		recorder: recorder,
	}
}

// Start processes events until the bus is closed or ctx is done. It blocks;
// run it in its own goroutine.
func (l *MetricsEventListener) Start(ctx context.Context) {
	l.log.Debugf("Starting metrics event listener...")
	for {
		select {
		case event, ok := <-l.bus.GetChannel():
			if !ok {
				l.log.Debugf("Event bus channel closed, stopping listener.")
				return
			}
			l.handleEvent(event)
		case <-ctx.Done():
			l.log.Debugf("Context cancelled, stopping metrics event listener.")
			return
		}
	}
}

func (l *MetricsEventListener) handleEvent(event events.Event) {
	switch event.Type {
	case events.WriterFaulted, events.SubscriberFaulted:
		l.log.Warnf("Cache '%s' reported %s: %v", event.CacheName, event.Type, event.Payload[events.PayloadError])
	}
	l.recorder.Record(event)
}
