// Package cache implements the observable keyed cache: a store whose every
// write is broadcast as a change-set to subscribers that joined with a
// snapshot of the state at the moment they subscribed.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/gxo-labs/livecache/internal/broadcast"
	"github.com/gxo-labs/livecache/internal/config"
	intevents "github.com/gxo-labs/livecache/internal/events"
	"github.com/gxo-labs/livecache/internal/filter"
	"github.com/gxo-labs/livecache/internal/logger"
	"github.com/gxo-labs/livecache/internal/metrics"
	"github.com/gxo-labs/livecache/internal/store"
	"github.com/gxo-labs/livecache/internal/tracing"
	v1 "github.com/gxo-labs/livecache/pkg/livecache/v1"
	"github.com/gxo-labs/livecache/pkg/livecache/v1/changeset"
	lcerrors "github.com/gxo-labs/livecache/pkg/livecache/v1/errors"
	"github.com/gxo-labs/livecache/pkg/livecache/v1/events"
	lclog "github.com/gxo-labs/livecache/pkg/livecache/v1/log"
	lcmetrics "github.com/gxo-labs/livecache/pkg/livecache/v1/metrics"
	"github.com/gxo-labs/livecache/pkg/livecache/v1/stream"
	lctracing "github.com/gxo-labs/livecache/pkg/livecache/v1/tracing"
)

type lifecycle int

const (
	stateLive lifecycle = iota
	// stateSealed: the upstream source completed; reads work, writes fail.
	stateSealed
	stateFaulted
	stateDisposed
)

// Cache is the Broadcast Cache. All writes go through one mutex that covers
// applying the batch to the store, computing its change-set and publishing
// it, and subscribers register under the same mutex. A subscriber therefore
// sees exactly the state as of its registration followed by every later
// change-set, with no gap and no duplicate.
type Cache[K comparable, V any] struct {
	id          string
	name        string
	log         lclog.Logger
	bus         events.Bus
	collectors  *metrics.CacheCollectors
	tracer      trace.Tracer
	policy      broadcast.Policy
	filterOpts  filter.Options
	accessMode  config.StateAccessMode
	keySelector store.KeySelector[K, V]
	initial     []changeset.KeyValue[K, V]

	metricsProvider lcmetrics.RegistryProvider
	tracerProvider  lctracing.TracerProvider

	writeMu   sync.Mutex
	state     lifecycle
	fault     error
	store     *store.ReaderWriter[K, V]
	hub       *broadcast.Hub[changeset.ChangeSet[K, V]]
	onDispose []func()
}

// Compile-time checks.
var (
	_ v1.SourceCache[string, int] = (*Cache[string, int])(nil)
	_ v1.Configurable             = (*Cache[string, int])(nil)
)

// New creates an empty cache. keySelector is only needed by AddOrUpdateItems
// and may be nil.
func New[K comparable, V any](keySelector store.KeySelector[K, V], opts ...v1.CacheOption) (*Cache[K, V], error) {
	c := &Cache[K, V]{
		id:          uuid.NewString(),
		policy:      broadcast.DefaultPolicy(),
		accessMode:  config.StateAccessDeepCopy,
		keySelector: keySelector,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	if c.name == "" {
		c.name = "cache-" + c.id[:8]
	}
	if c.log == nil {
		c.log = logger.NewDiscardLogger()
	}
	c.log = c.log.With("component", "Cache", "cache", c.name)
	if c.bus == nil {
		c.bus = intevents.NewNoOpEventBus()
	}
	if c.tracerProvider == nil {
		c.tracerProvider = tracing.NewNoOpProvider()
	}
	c.tracer = c.tracerProvider.GetTracer(tracing.TracerName)
	if c.metricsProvider != nil {
		collectors, err := metrics.NewCacheCollectors(c.metricsProvider.Registry())
		if err != nil {
			return nil, lcerrors.NewConfigError("registering cache metrics", err)
		}
		c.collectors = collectors
	}

	c.store = store.New(store.Options[K, V]{
		KeySelector: keySelector,
		AccessMode:  c.accessMode,
		Capacity:    len(c.initial),
	})
	c.hub = broadcast.NewHub[changeset.ChangeSet[K, V]](c.subscriberDetached)

	c.emit(events.Event{Type: events.CacheCreated})
	c.log.Debugf("Cache created (buffer_size=%d, overflow=%s, access_mode=%s)", c.policy.BufferSize, c.policy.OverflowStrategy, c.accessMode)

	if len(c.initial) > 0 {
		muts := make([]changeset.Mutation[K, V], 0, len(c.initial))
		for _, kv := range c.initial {
			muts = append(muts, changeset.AddOrUpdate(kv.Key, kv.Value))
		}
		c.initial = nil
		if err := c.Edit(context.Background(), muts...); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// --- Configurable ---

func (c *Cache[K, V]) SetName(name string) error {
	c.name = name
	return nil
}

func (c *Cache[K, V]) SetLogger(l lclog.Logger) error {
	c.log = l
	return nil
}

func (c *Cache[K, V]) SetEventBus(bus events.Bus) error {
	c.bus = bus
	return nil
}

func (c *Cache[K, V]) SetMetricsRegistryProvider(provider lcmetrics.RegistryProvider) error {
	c.metricsProvider = provider
	return nil
}

func (c *Cache[K, V]) SetTracerProvider(provider lctracing.TracerProvider) error {
	c.tracerProvider = provider
	return nil
}

func (c *Cache[K, V]) SetSubscriberPolicy(policy v1.SubscriberPolicy) error {
	if policy.BufferSize != nil {
		c.policy.BufferSize = *policy.BufferSize
	}
	if policy.OverflowStrategy != "" {
		c.policy.OverflowStrategy = policy.OverflowStrategy
	}
	return nil
}

func (c *Cache[K, V]) SetAccessMode(mode config.StateAccessMode) error {
	c.accessMode = mode
	return nil
}

func (c *Cache[K, V]) SetParallelisationOptions(opts v1.ParallelisationOptions) error {
	c.filterOpts = filter.Options{Threshold: opts.Threshold, MaxDegreeOfParallelism: opts.MaxDegreeOfParallelism}
	return nil
}

func (c *Cache[K, V]) SetInitialItems(items interface{}) error {
	kvs, ok := items.([]changeset.KeyValue[K, V])
	if !ok {
		return lcerrors.NewConfigError(fmt.Sprintf("initial items have type %T, want %T", items, kvs), nil)
	}
	c.initial = append(c.initial, kvs...)
	return nil
}

// --- Reads ---

// Name returns the cache name.
func (c *Cache[K, V]) Name() string { return c.name }

// ID returns the unique instance id carried by the cache's events.
func (c *Cache[K, V]) ID() string { return c.id }

func (c *Cache[K, V]) Lookup(key K) changeset.Optional[V] { return c.store.Lookup(key) }

func (c *Cache[K, V]) Keys() []K { return c.store.Keys() }

func (c *Cache[K, V]) Items() []V { return c.store.Items() }

func (c *Cache[K, V]) KeyValues() []changeset.KeyValue[K, V] { return c.store.KeyValues() }

func (c *Cache[K, V]) Count() int { return c.store.Count() }

// SubscriberCount returns the number of live subscriptions.
func (c *Cache[K, V]) SubscriberCount() int { return c.hub.Count() }

// --- Subscriptions ---

// Connect subscribes to every change-set. See v1.ObservableCache.
func (c *Cache[K, V]) Connect() (stream.Stream[changeset.ChangeSet[K, V]], error) {
	sub := broadcast.NewSubscription[changeset.ChangeSet[K, V]](c.policy)
	return subscribe(c, sub, broadcast.Identity[changeset.ChangeSet[K, V]])
}

// ConnectFiltered subscribes to the change-sets of the entries matching
// predicate. Each subscription owns its own filter. Zero-valued opts fall
// back to the cache's configured parallelisation options.
func (c *Cache[K, V]) ConnectFiltered(predicate func(V) bool, opts v1.ParallelisationOptions) (stream.Stream[changeset.ChangeSet[K, V]], error) {
	if predicate == nil {
		return nil, lcerrors.NewValidationError("filter predicate cannot be nil", nil)
	}
	fopts := c.filterOpts
	if opts != (v1.ParallelisationOptions{}) {
		fopts = filter.Options{Threshold: opts.Threshold, MaxDegreeOfParallelism: opts.MaxDegreeOfParallelism}
	}
	f := filter.NewStatic[K](predicate, fopts)
	sub := broadcast.NewSubscription[changeset.ChangeSet[K, V]](c.policy)
	return subscribe(c, sub, func(cs changeset.ChangeSet[K, V], emit func(changeset.ChangeSet[K, V]) error) error {
		out, err := f.Filter(cs)
		if err != nil {
			return err
		}
		if len(out) == 0 {
			return nil
		}
		return emit(out)
	})
}

// Watch subscribes to the changes of one key: an Add for the current value
// if present, then every change to that key.
func (c *Cache[K, V]) Watch(key K) (stream.Stream[changeset.Change[K, V]], error) {
	sub := broadcast.NewSubscription[changeset.Change[K, V]](c.policy)
	return subscribe(c, sub, func(cs changeset.ChangeSet[K, V], emit func(changeset.Change[K, V]) error) error {
		for _, ch := range cs {
			if ch.Key != key {
				continue
			}
			if err := emit(ch); err != nil {
				return err
			}
		}
		return nil
	})
}

// subscribe runs the snapshot-then-live protocol for any subscription type.
// The snapshot is passed through the same mapper as live change-sets and is
// primed into the subscription's reserved slot before it is attached.
func subscribe[K comparable, V any, U any](c *Cache[K, V], sub *broadcast.Subscription[U], mapper broadcast.Mapper[changeset.ChangeSet[K, V], U]) (stream.Stream[U], error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	switch c.state {
	case stateDisposed:
		sub.Terminate(nil)
		return sub, nil
	case stateFaulted:
		sub.Terminate(c.fault)
		return sub, nil
	}

	if snapshot := c.store.Snapshot(nil); len(snapshot) > 0 {
		var primed []U
		if err := mapper(snapshot, func(u U) error {
			primed = append(primed, u)
			return nil
		}); err != nil {
			fault := lcerrors.NewSubscriberFaultError(sub.ID(), err)
			sub.Terminate(fault)
			return nil, fault
		}
		if len(primed) > 1 {
			// Several initial items (Watch never produces more than one).
			return nil, fmt.Errorf("subscription %s: snapshot mapped to %d items", sub.ID(), len(primed))
		}
		if len(primed) == 1 {
			sub.Prime(primed[0])
		}
	}

	if c.state == stateSealed {
		// The source is done: deliver the snapshot, then complete.
		sub.Terminate(nil)
		return sub, nil
	}

	c.emit(events.Event{Type: events.SubscriberAdded, SubscriptionID: sub.ID()})
	broadcast.Attach(c.hub, sub, mapper)
	c.log.Debugf("Subscriber '%s' added (%d live)", sub.ID(), c.hub.Count())
	return sub, nil
}

func (c *Cache[K, V]) subscriberDetached(id string, err error) {
	switch {
	case err == nil || lcerrors.IsWriterFault(err):
		c.emit(events.Event{Type: events.SubscriberRemoved, SubscriptionID: id})
		c.log.Debugf("Subscriber '%s' removed", id)
	default:
		c.emit(events.Event{Type: events.SubscriberFaulted, SubscriptionID: id, Payload: map[string]interface{}{events.PayloadError: err.Error()}})
		c.log.Warnf("Subscriber '%s' terminated: %v", id, err)
	}
}

// --- Writes ---

// Edit applies mutations as a single write.
func (c *Cache[K, V]) Edit(ctx context.Context, mutations ...changeset.Mutation[K, V]) error {
	if len(mutations) == 0 {
		return nil
	}
	return c.write(ctx, "edit", len(mutations), func() (changeset.ChangeSet[K, V], error) {
		return c.store.Write(mutations)
	})
}

func (c *Cache[K, V]) AddOrUpdate(key K, value V) error {
	return c.Edit(context.Background(), changeset.AddOrUpdate(key, value))
}

func (c *Cache[K, V]) AddOrUpdateItems(items ...V) error {
	muts := make([]changeset.Mutation[K, V], 0, len(items))
	for _, item := range items {
		muts = append(muts, changeset.AddOrUpdateItem[K](item))
	}
	return c.Edit(context.Background(), muts...)
}

func (c *Cache[K, V]) Remove(keys ...K) error {
	muts := make([]changeset.Mutation[K, V], 0, len(keys))
	for _, k := range keys {
		muts = append(muts, changeset.RemoveKey[K, V](k))
	}
	return c.Edit(context.Background(), muts...)
}

func (c *Cache[K, V]) Refresh(keys ...K) error {
	muts := make([]changeset.Mutation[K, V], 0, len(keys))
	for _, k := range keys {
		muts = append(muts, changeset.RefreshKey[K, V](k))
	}
	return c.Edit(context.Background(), muts...)
}

func (c *Cache[K, V]) Clear() error {
	return c.Edit(context.Background(), changeset.Clear[K, V]())
}

func (c *Cache[K, V]) Replace(items []changeset.KeyValue[K, V]) error {
	return c.Edit(context.Background(), changeset.Replace(items))
}

// Apply writes an upstream change-set into the cache, re-deriving reasons
// from local state. Operators use it to maintain their destination caches.
func (c *Cache[K, V]) Apply(ctx context.Context, changes changeset.ChangeSet[K, V]) error {
	if len(changes) == 0 {
		return nil
	}
	return c.write(ctx, "apply", len(changes), func() (changeset.ChangeSet[K, V], error) {
		return c.store.Apply(changes)
	})
}

func (c *Cache[K, V]) write(ctx context.Context, source string, count int, apply func() (changeset.ChangeSet[K, V], error)) error {
	ctx, span := c.tracer.Start(ctx, tracing.SpanWrite, trace.WithAttributes(
		tracing.AttrCacheName.String(c.name),
		tracing.AttrWriteSource.String(source),
		tracing.AttrMutationCount.Int(count),
	))
	defer span.End()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	switch c.state {
	case stateDisposed:
		return lcerrors.ErrCacheDisposed
	case stateSealed:
		return lcerrors.ErrCacheSealed
	case stateFaulted:
		return c.fault
	}

	changes, err := safeApply(apply)
	if err != nil {
		var invalid *lcerrors.InvalidMutationError
		if errors.As(err, &invalid) {
			tracing.RecordError(span, err)
			c.log.LogCtx(ctx, slog.LevelDebug, "Rejected invalid mutation batch", "error", err.Error())
			return err
		}
		fault := lcerrors.NewWriterFaultError(c.name, err)
		tracing.RecordError(span, fault)
		c.failLocked(fault)
		return fault
	}

	span.SetAttributes(tracing.AttrChangeCount.Int(len(changes)))
	if len(changes) == 0 {
		return nil
	}
	c.hub.Publish(changes)
	c.emit(events.Event{Type: events.CacheWriteApplied, Payload: changePayload(changes)})
	if c.log.IsEnabled(slog.LevelDebug) {
		c.log.LogCtx(ctx, slog.LevelDebug, "Write applied",
			"source", source,
			"mutations", count,
			"changes", len(changes),
		)
	}
	return nil
}

func safeApply[K comparable, V any](apply func() (changeset.ChangeSet[K, V], error)) (changes changeset.ChangeSet[K, V], err error) {
	defer func() {
		if r := recover(); r != nil {
			err = lcerrors.FromPanic(r)
		}
	}()
	return apply()
}

func changePayload[K comparable, V any](changes changeset.ChangeSet[K, V]) map[string]interface{} {
	return map[string]interface{}{
		events.PayloadAdds:      changes.Adds(),
		events.PayloadUpdates:   changes.Updates(),
		events.PayloadRemoves:   changes.Removes(),
		events.PayloadRefreshes: changes.Refreshes(),
		events.PayloadMoves:     changes.Moves(),
	}
}

// --- Lifecycle ---

// Fail tears the cache down with a writer fault: every subscriber terminates
// with it and later writes return it. Operators call Fail when an input
// stream errors.
func (c *Cache[K, V]) Fail(cause error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.state != stateLive && c.state != stateSealed {
		return
	}
	c.failLocked(lcerrors.NewWriterFaultError(c.name, cause))
}

func (c *Cache[K, V]) failLocked(fault error) {
	c.state = stateFaulted
	c.fault = fault
	c.hub.Fail(fault)
	c.emit(events.Event{Type: events.WriterFaulted, Payload: map[string]interface{}{events.PayloadError: fault.Error()}})
	c.log.Errorf("Cache torn down: %v", fault)
	c.runDisposeHooksLocked()
}

// Seal completes every subscriber and makes the cache read-only. Later
// edits fail with errors.ErrCacheSealed; reads keep working.
func (c *Cache[K, V]) Seal() {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.state != stateLive {
		return
	}
	c.state = stateSealed
	c.hub.Complete()
	c.log.Debugf("Cache sealed, source completed.")
}

// OnDispose registers fn to run once when the cache is disposed or faulted.
// Operators use it to stop consuming their inputs.
func (c *Cache[K, V]) OnDispose(fn func()) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.state == stateDisposed || c.state == stateFaulted {
		go fn()
		return
	}
	c.onDispose = append(c.onDispose, fn)
}

// Dispose completes all subscribers and drops the cache's state. Later
// writes fail with errors.ErrCacheDisposed and reads return empty results.
func (c *Cache[K, V]) Dispose() {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.state == stateDisposed {
		return
	}
	c.state = stateDisposed
	c.hub.Complete()
	c.store.Close()
	c.runDisposeHooksLocked()
	c.emit(events.Event{Type: events.CacheDisposed})
	c.log.Debugf("Cache disposed.")
}

// runDisposeHooksLocked runs the hooks asynchronously: a hook may wait on a
// goroutine that is itself blocked on writeMu.
func (c *Cache[K, V]) runDisposeHooksLocked() {
	hooks := c.onDispose
	c.onDispose = nil
	for _, fn := range hooks {
		go fn()
	}
}

func (c *Cache[K, V]) emit(e events.Event) {
	e.Timestamp = time.Now()
	e.CacheName = c.name
	e.CacheID = c.id
	c.bus.Emit(e)
	if c.collectors != nil {
		c.collectors.Record(e)
	}
}
