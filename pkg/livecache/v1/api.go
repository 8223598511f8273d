package v1

import (
	"context"

	"github.com/gxo-labs/livecache/internal/config"
	"github.com/gxo-labs/livecache/pkg/livecache/v1/changeset"
	lcerrors "github.com/gxo-labs/livecache/pkg/livecache/v1/errors"
	"github.com/gxo-labs/livecache/pkg/livecache/v1/events"
	"github.com/gxo-labs/livecache/pkg/livecache/v1/log"
	"github.com/gxo-labs/livecache/pkg/livecache/v1/metrics"
	"github.com/gxo-labs/livecache/pkg/livecache/v1/stream"
	"github.com/gxo-labs/livecache/pkg/livecache/v1/tracing"
)

// ObservableCache is the read side of a cache: point reads plus change-set
// subscriptions that start with a snapshot of the current state.
type ObservableCache[K comparable, V any] interface {
	// Name returns the cache name used in logs, events and metrics.
	Name() string

	// Connect subscribes to all changes. The first item is the current
	// state framed as Add changes (omitted when the cache is empty); every
	// later write follows with no gap and no duplicate.
	Connect() (stream.Stream[changeset.ChangeSet[K, V]], error)
	// ConnectFiltered is Connect narrowed to values matching predicate.
	// Changes are reclassified as values start or stop matching.
	ConnectFiltered(predicate func(V) bool, opts ParallelisationOptions) (stream.Stream[changeset.ChangeSet[K, V]], error)
	// Watch subscribes to the changes of a single key.
	Watch(key K) (stream.Stream[changeset.Change[K, V]], error)

	Lookup(key K) changeset.Optional[V]
	Keys() []K
	Items() []V
	KeyValues() []changeset.KeyValue[K, V]
	Count() int

	// Dispose completes all subscribers and releases the cache's state. It
	// is idempotent.
	Dispose()
}

// SourceCache is an ObservableCache that accepts writes.
type SourceCache[K comparable, V any] interface {
	ObservableCache[K, V]

	// Edit applies mutations as one write: subscribers receive at most one
	// change-set for it, and readers never observe it half-applied.
	Edit(ctx context.Context, mutations ...changeset.Mutation[K, V]) error

	AddOrUpdate(key K, value V) error
	// AddOrUpdateItems keys each item with the cache's key selector.
	AddOrUpdateItems(items ...V) error
	Remove(keys ...K) error
	Refresh(keys ...K) error
	Clear() error
	Replace(items []changeset.KeyValue[K, V]) error
}

// Configurable holds the setters CacheOptions use to configure a cache at
// creation.
type Configurable interface {
	SetName(name string) error
	SetLogger(logger log.Logger) error
	SetEventBus(bus events.Bus) error
	SetMetricsRegistryProvider(provider metrics.RegistryProvider) error
	SetTracerProvider(provider tracing.TracerProvider) error
	SetSubscriberPolicy(policy SubscriberPolicy) error
	SetAccessMode(mode config.StateAccessMode) error
	SetParallelisationOptions(opts ParallelisationOptions) error
	// SetInitialItems seeds the cache. items must be a []changeset.KeyValue
	// matching the cache's key and value types.
	SetInitialItems(items interface{}) error
}

// CacheOption is a function type used to configure a cache at creation.
type CacheOption func(Configurable) error

// SubscriberPolicy defines the public configuration for subscriber queues.
type SubscriberPolicy struct {
	BufferSize       *int   `yaml:"buffer_size,omitempty" json:"buffer_size,omitempty"`
	OverflowStrategy string `yaml:"overflow_strategy,omitempty" json:"overflow_strategy,omitempty"`
}

// ParallelisationOptions controls when a filtered subscription evaluates its
// predicate across several goroutines. A zero Threshold never partitions.
type ParallelisationOptions struct {
	Threshold              int `yaml:"parallelisation_threshold,omitempty" json:"parallelisation_threshold,omitempty"`
	MaxDegreeOfParallelism int `yaml:"max_degree_of_parallelism,omitempty" json:"max_degree_of_parallelism,omitempty"`
}

// WithName sets the cache name.
func WithName(name string) CacheOption {
	return func(c Configurable) error {
		if name == "" {
			return lcerrors.NewConfigError("cache name cannot be empty", nil)
		}
		return c.SetName(name)
	}
}

// WithLogger is a cache option to provide a custom logger.
func WithLogger(logger log.Logger) CacheOption {
	return func(c Configurable) error {
		if logger == nil {
			return lcerrors.NewConfigError("logger cannot be nil", nil)
		}
		return c.SetLogger(logger)
	}
}

// WithEventBus is a cache option to provide a custom event bus.
func WithEventBus(bus events.Bus) CacheOption {
	return func(c Configurable) error {
		if bus == nil {
			return lcerrors.NewConfigError("event bus cannot be nil", nil)
		}
		return c.SetEventBus(bus)
	}
}

// WithMetricsRegistryProvider is a cache option to record cache metrics in
// the provider's registry.
func WithMetricsRegistryProvider(provider metrics.RegistryProvider) CacheOption {
	return func(c Configurable) error {
		if provider == nil {
			return lcerrors.NewConfigError("metrics registry provider cannot be nil", nil)
		}
		return c.SetMetricsRegistryProvider(provider)
	}
}

// WithTracerProvider is a cache option to provide a custom tracing provider.
func WithTracerProvider(provider tracing.TracerProvider) CacheOption {
	return func(c Configurable) error {
		if provider == nil {
			return lcerrors.NewConfigError("tracer provider cannot be nil", nil)
		}
		return c.SetTracerProvider(provider)
	}
}

// WithSubscriberPolicy sets the queueing policy for every subscription of the cache.
func WithSubscriberPolicy(policy SubscriberPolicy) CacheOption {
	return func(c Configurable) error {
		if err := config.ValidateSubscriberPolicy(policy.toConfig()); err != nil {
			return lcerrors.NewConfigError("invalid subscriber policy", err)
		}
		return c.SetSubscriberPolicy(policy)
	}
}

// WithAccessMode selects whether readers get clones of stored values.
func WithAccessMode(mode config.StateAccessMode) CacheOption {
	return func(c Configurable) error {
		switch mode {
		case config.StateAccessDeepCopy, config.StateAccessUnsafeDirectReference:
			return c.SetAccessMode(mode)
		default:
			return lcerrors.NewConfigError("invalid state access mode '"+string(mode)+"'", nil)
		}
	}
}

// WithParallelisationOptions sets the defaults used by filtered subscriptions
// that pass zero-valued options.
func WithParallelisationOptions(opts ParallelisationOptions) CacheOption {
	return func(c Configurable) error {
		if opts.Threshold < 0 || opts.MaxDegreeOfParallelism < 0 {
			return lcerrors.NewConfigError("parallelisation options cannot be negative", nil)
		}
		return c.SetParallelisationOptions(opts)
	}
}

// WithInitialItems seeds the cache through its first write.
func WithInitialItems[K comparable, V any](items ...changeset.KeyValue[K, V]) CacheOption {
	return func(c Configurable) error {
		return c.SetInitialItems(items)
	}
}

// WithConfig applies a loaded cache configuration.
func WithConfig(cfg *config.CacheConfig) CacheOption {
	return func(c Configurable) error {
		if cfg == nil {
			return lcerrors.NewConfigError("cache config cannot be nil", nil)
		}
		if cfg.Name != "" {
			if err := c.SetName(cfg.Name); err != nil {
				return err
			}
		}
		bufferSize := cfg.GetSubscriberBufferSize()
		if err := c.SetSubscriberPolicy(SubscriberPolicy{
			BufferSize:       &bufferSize,
			OverflowStrategy: cfg.GetOverflowStrategy(),
		}); err != nil {
			return err
		}
		if err := c.SetAccessMode(cfg.GetAccessMode()); err != nil {
			return err
		}
		return c.SetParallelisationOptions(ParallelisationOptions{
			Threshold:              cfg.GetParallelisationThreshold(),
			MaxDegreeOfParallelism: cfg.GetMaxDegreeOfParallelism(),
		})
	}
}

func (p SubscriberPolicy) toConfig() *config.SubscriberPolicy {
	return &config.SubscriberPolicy{BufferSize: p.BufferSize, OverflowStrategy: p.OverflowStrategy}
}
