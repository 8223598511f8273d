package metrics

import (
	"errors"

	"github.com/gxo-labs/livecache/pkg/livecache/v1/events"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "livecache"

// CacheCollectors holds the cache metrics. Every series is labelled with the
// cache name, so many caches can share one registry.
type CacheCollectors struct {
	writes           *prometheus.CounterVec
	changes          *prometheus.CounterVec
	subscribers      *prometheus.GaugeVec
	subscriberFaults *prometheus.CounterVec
	writerFaults     *prometheus.CounterVec
}

// NewCacheCollectors registers the cache metrics with reg. If they are
// already registered (another cache on the same registry got there first),
// the existing collectors are reused.
func NewCacheCollectors(reg prometheus.Registerer) (*CacheCollectors, error) {
	c := &CacheCollectors{
		writes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "writes_total",
			Help:      "Number of writes that produced a non-empty change-set.",
		}, []string{"cache"}),
		changes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "changes_total",
			Help:      "Number of changes published, by reason.",
		}, []string{"cache", "reason"}),
		subscribers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "subscribers",
			Help:      "Number of live subscriptions.",
		}, []string{"cache"}),
		subscriberFaults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscriber_faults_total",
			Help:      "Number of subscriptions terminated by their own failure or a queue overflow.",
		}, []string{"cache"}),
		writerFaults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "writer_faults_total",
			Help:      "Number of caches torn down by a writer fault.",
		}, []string{"cache"}),
	}

	var err error
	if c.writes, err = registerCounterVec(reg, c.writes); err != nil {
		return nil, err
	}
	if c.changes, err = registerCounterVec(reg, c.changes); err != nil {
		return nil, err
	}
	if c.subscriberFaults, err = registerCounterVec(reg, c.subscriberFaults); err != nil {
		return nil, err
	}
	if c.writerFaults, err = registerCounterVec(reg, c.writerFaults); err != nil {
		return nil, err
	}
	if err := reg.Register(c.subscribers); err != nil {
		var are prometheus.AlreadyRegisteredError
		if !errors.As(err, &are) {
			return nil, err
		}
		existing, ok := are.ExistingCollector.(*prometheus.GaugeVec)
		if !ok {
			return nil, err
		}
		c.subscribers = existing
	}
	return c, nil
}

func registerCounterVec(reg prometheus.Registerer, cv *prometheus.CounterVec) (*prometheus.CounterVec, error) {
	if err := reg.Register(cv); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
		}
		return nil, err
	}
	return cv, nil
}

// Record updates the metrics for one cache event.
func (c *CacheCollectors) Record(event events.Event) {
	name := event.CacheName
	switch event.Type {
	case events.CacheWriteApplied:
		c.writes.WithLabelValues(name).Inc()
		for _, reason := range []string{events.PayloadAdds, events.PayloadUpdates, events.PayloadRemoves, events.PayloadRefreshes, events.PayloadMoves} {
			if n := payloadCount(event.Payload, reason); n > 0 {
				c.changes.WithLabelValues(name, reason).Add(float64(n))
			}
		}
	case events.SubscriberAdded:
		c.subscribers.WithLabelValues(name).Inc()
	case events.SubscriberRemoved:
		c.subscribers.WithLabelValues(name).Dec()
	case events.SubscriberFaulted:
		c.subscribers.WithLabelValues(name).Dec()
		c.subscriberFaults.WithLabelValues(name).Inc()
	case events.WriterFaulted:
		c.writerFaults.WithLabelValues(name).Inc()
	}
}

func payloadCount(payload map[string]interface{}, key string) int {
	switch v := payload[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}
