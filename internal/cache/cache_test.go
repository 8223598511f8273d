package cache_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/gxo-labs/livecache/internal/cache"
	"github.com/gxo-labs/livecache/internal/config"
	intevents "github.com/gxo-labs/livecache/internal/events"
	"github.com/gxo-labs/livecache/internal/logger"
	"github.com/gxo-labs/livecache/internal/metrics"
	"github.com/gxo-labs/livecache/internal/tracing"
	v1 "github.com/gxo-labs/livecache/pkg/livecache/v1"
	cs "github.com/gxo-labs/livecache/pkg/livecache/v1/changeset"
	lcerrors "github.com/gxo-labs/livecache/pkg/livecache/v1/errors"
	"github.com/gxo-labs/livecache/pkg/livecache/v1/events"
	"github.com/gxo-labs/livecache/pkg/livecache/v1/stream"
)

type order struct {
	ID     string
	Amount int
}

func orderID(o order) string { return o.ID }

func newOrders(t *testing.T, opts ...v1.CacheOption) *cache.Cache[string, order] {
	t.Helper()
	c, err := cache.New[string, order](orderID, append([]v1.CacheOption{v1.WithName("orders")}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(c.Dispose)
	return c
}

func next[T any](t *testing.T, s stream.Stream[T]) T {
	t.Helper()
	select {
	case v, ok := <-s.C():
		require.True(t, ok, "stream terminated early: %v", s.Err())
		return v
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for item")
	}
	var zero T
	return zero
}

func assertNoItem[T any](t *testing.T, s stream.Stream[T]) {
	t.Helper()
	select {
	case v, ok := <-s.C():
		if ok {
			t.Fatalf("unexpected item %v", v)
		}
	case <-time.After(20 * time.Millisecond):
	}
}

func waitDone[T any](t *testing.T, s stream.Stream[T]) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not terminate")
	}
}

func TestConnect_SnapshotThenLive(t *testing.T) {
	c := newOrders(t)
	require.NoError(t, c.AddOrUpdateItems(order{"a", 1}, order{"b", 2}))

	sub, err := c.Connect()
	require.NoError(t, err)
	defer sub.Close()

	snapshot := next(t, sub)
	require.Len(t, snapshot, 2)
	assert.Equal(t, 2, snapshot.Adds())
	assert.Equal(t, "a", snapshot[0].Key)
	assert.Equal(t, "b", snapshot[1].Key)

	require.NoError(t, c.AddOrUpdate("a", order{"a", 10}))
	live := next(t, sub)
	require.Len(t, live, 1)
	assert.Equal(t, cs.Update, live[0].Reason)
	assert.Equal(t, 1, live[0].Previous.Value().Amount)
}

func TestConnect_EmptyCacheHasNoSnapshot(t *testing.T) {
	c := newOrders(t)
	sub, err := c.Connect()
	require.NoError(t, err)
	assertNoItem(t, sub)

	require.NoError(t, c.AddOrUpdate("a", order{"a", 1}))
	first := next(t, sub)
	assert.Equal(t, cs.Add, first[0].Reason)
}

func TestEdit_NoOpWritesPublishNothing(t *testing.T) {
	c := newOrders(t)
	sub, err := c.Connect()
	require.NoError(t, err)

	require.NoError(t, c.Remove("missing"))
	require.NoError(t, c.Refresh("missing"))
	require.NoError(t, c.Edit(context.Background()))
	assertNoItem(t, sub)
}

func TestEdit_InvalidBatchIsNotAFault(t *testing.T) {
	c, err := cache.New[string, order](nil)
	require.NoError(t, err)
	defer c.Dispose()

	err = c.AddOrUpdateItems(order{"a", 1})
	var invalid *lcerrors.InvalidMutationError
	require.True(t, errors.As(err, &invalid))
	require.NoError(t, c.AddOrUpdate("a", order{"a", 1}), "the cache stays writable")
}

func TestConnect_NoGapNoDuplicateUnderConcurrency(t *testing.T) {
	block := 4
	c := newOrders(t, v1.WithSubscriberPolicy(v1.SubscriberPolicy{BufferSize: &block, OverflowStrategy: config.OverflowBlock}))

	const (
		writers = 4
		rounds  = 200
		keys    = 16
	)

	type result struct {
		state map[string]order
		err   error
	}
	results := make(chan result, 8)
	var subs sync.WaitGroup
	startSubscriber := func() {
		sub, err := c.Connect()
		require.NoError(t, err)
		subs.Add(1)
		go func() {
			defer subs.Done()
			state := make(map[string]order)
			var foldErr error
			err := sub.Observe(context.Background(), func(changes cs.ChangeSet[string, order]) error {
				for _, ch := range changes {
					_, present := state[ch.Key]
					switch ch.Reason {
					case cs.Add:
						if present {
							foldErr = fmt.Errorf("duplicate add %s", ch.Key)
						}
						state[ch.Key] = ch.Current
					case cs.Update:
						if !present || state[ch.Key] != ch.Previous.Value() {
							foldErr = fmt.Errorf("gap before update of %s", ch.Key)
						}
						state[ch.Key] = ch.Current
					case cs.Remove:
						if !present {
							foldErr = fmt.Errorf("remove of unseen %s", ch.Key)
						}
						delete(state, ch.Key)
					}
				}
				return foldErr
			})
			if err == nil {
				err = foldErr
			}
			results <- result{state: state, err: err}
		}()
	}

	startSubscriber()
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < rounds; i++ {
				key := fmt.Sprintf("k%d", (w*rounds+i)%keys)
				if i%9 == 0 {
					_ = c.Remove(key)
					continue
				}
				_ = c.AddOrUpdate(key, order{key, w*rounds + i})
			}
		}(w)
		startSubscriber()
	}
	wg.Wait()
	startSubscriber()

	final := make(map[string]order)
	for _, kv := range c.KeyValues() {
		final[kv.Key] = kv.Value
	}
	c.Dispose()
	subs.Wait()
	close(results)

	n := 0
	for r := range results {
		require.NoError(t, r.err)
		assert.Equal(t, final, r.state)
		n++
	}
	assert.Equal(t, writers+2, n)
}

func TestConnectFiltered_Reclassifies(t *testing.T) {
	c := newOrders(t)
	require.NoError(t, c.AddOrUpdateItems(order{"a", 5}, order{"b", 50}))

	big, err := c.ConnectFiltered(func(o order) bool { return o.Amount >= 10 }, v1.ParallelisationOptions{})
	require.NoError(t, err)

	snapshot := next(t, big)
	require.Len(t, snapshot, 1)
	assert.Equal(t, "b", snapshot[0].Key)

	require.NoError(t, c.AddOrUpdate("a", order{"a", 20}))
	got := next(t, big)
	require.Len(t, got, 1)
	assert.Equal(t, cs.Add, got[0].Reason)

	require.NoError(t, c.AddOrUpdate("b", order{"b", 1}))
	got = next(t, big)
	require.Len(t, got, 1)
	assert.Equal(t, cs.Remove, got[0].Reason)
	assert.Equal(t, 50, got[0].Current.Amount)

	require.NoError(t, c.AddOrUpdate("b", order{"b", 2}))
	assertNoItem(t, big)
}

func TestConnectFiltered_PredicatePanicFaultsOnlyThatSubscriber(t *testing.T) {
	c := newOrders(t)
	plain, err := c.Connect()
	require.NoError(t, err)
	bad, err := c.ConnectFiltered(func(o order) bool {
		if o.Amount < 0 {
			panic("negative amount")
		}
		return true
	}, v1.ParallelisationOptions{})
	require.NoError(t, err)

	require.NoError(t, c.AddOrUpdate("x", order{"x", -1}))
	waitDone(t, bad)
	assert.True(t, lcerrors.IsSubscriberFault(bad.Err()))

	got := next(t, plain)
	assert.Equal(t, "x", got[0].Key)
	assert.Equal(t, 1, c.SubscriberCount())
}

func TestWatch(t *testing.T) {
	c := newOrders(t)
	require.NoError(t, c.AddOrUpdate("a", order{"a", 1}))

	w, err := c.Watch("a")
	require.NoError(t, err)
	first := next(t, w)
	assert.Equal(t, cs.Add, first.Reason)

	require.NoError(t, c.Edit(context.Background(),
		cs.AddOrUpdate("b", order{"b", 1}),
		cs.AddOrUpdate("a", order{"a", 2}),
		cs.AddOrUpdate("a", order{"a", 3}),
	))
	assert.Equal(t, 2, next(t, w).Current.Amount)
	assert.Equal(t, 3, next(t, w).Current.Amount)

	require.NoError(t, c.Remove("a"))
	assert.Equal(t, cs.Remove, next(t, w).Reason)

	absent, err := c.Watch("nope")
	require.NoError(t, err)
	assertNoItem(t, absent)
}

func TestOverflowError_TerminatesSlowSubscriberOnly(t *testing.T) {
	one := 1
	c := newOrders(t, v1.WithSubscriberPolicy(v1.SubscriberPolicy{BufferSize: &one, OverflowStrategy: config.OverflowError}))
	slow, err := c.Connect()
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, c.AddOrUpdate("k", order{"k", i}), "overflow must not fail the writer")
	}
	waitDone(t, slow)
	var pv *lcerrors.PolicyViolationError
	assert.True(t, errors.As(slow.Err(), &pv))

	fresh, err := c.Connect()
	require.NoError(t, err)
	assert.Equal(t, 2, next(t, fresh)[0].Current.Amount)
}

func TestDispose(t *testing.T) {
	c := newOrders(t)
	require.NoError(t, c.AddOrUpdate("a", order{"a", 1}))
	sub, err := c.Connect()
	require.NoError(t, err)
	next(t, sub)

	c.Dispose()
	c.Dispose()
	waitDone(t, sub)
	assert.NoError(t, sub.Err())

	assert.ErrorIs(t, c.AddOrUpdate("b", order{"b", 1}), lcerrors.ErrCacheDisposed)
	assert.Zero(t, c.Count())
	assert.False(t, c.Lookup("a").HasValue())

	late, err := c.Connect()
	require.NoError(t, err)
	waitDone(t, late)
	assert.NoError(t, late.Err())
}

func TestWriterFault_TearsDownAllSubscribers(t *testing.T) {
	bus := intevents.NewChannelEventBus(64, logger.NewDiscardLogger())
	c := newOrders(t, v1.WithEventBus(bus))
	a, err := c.Connect()
	require.NoError(t, err)
	b, err := c.ConnectFiltered(func(order) bool { return true }, v1.ParallelisationOptions{})
	require.NoError(t, err)

	err = c.Apply(context.Background(), cs.ChangeSet[string, order]{{Reason: cs.Reason(42), Key: "x"}})
	require.Error(t, err)
	assert.True(t, lcerrors.IsWriterFault(err))

	for _, s := range []stream.Stream[cs.ChangeSet[string, order]]{a, b} {
		waitDone(t, s)
		assert.True(t, lcerrors.IsWriterFault(s.Err()))
	}
	assert.True(t, lcerrors.IsWriterFault(c.AddOrUpdate("y", order{"y", 1})))

	late, err := c.Connect()
	require.NoError(t, err)
	waitDone(t, late)
	assert.True(t, lcerrors.IsWriterFault(late.Err()))

	seen := map[events.EventType]int{}
	bus.Close()
	for e := range bus.GetChannel() {
		assert.Equal(t, "orders", e.CacheName)
		seen[e.Type]++
	}
	assert.Equal(t, 1, seen[events.CacheCreated])
	assert.Equal(t, 2, seen[events.SubscriberAdded])
	assert.Equal(t, 2, seen[events.SubscriberRemoved])
	assert.Equal(t, 1, seen[events.WriterFaulted])
}

func TestOptions_InitialItemsConfigAndMetrics(t *testing.T) {
	provider := metrics.NewPrometheusRegistryProvider()
	size := 8
	cfg := &config.CacheConfig{
		Name:             "configured",
		SubscriberPolicy: &config.SubscriberPolicy{BufferSize: &size},
		StatePolicy:      &config.StatePolicy{AccessMode: config.StateAccessUnsafeDirectReference},
	}
	c, err := cache.New[string, order](orderID,
		v1.WithConfig(cfg),
		v1.WithMetricsRegistryProvider(provider),
		v1.WithInitialItems(cs.KeyValue[string, order]{Key: "a", Value: order{"a", 1}}),
	)
	require.NoError(t, err)
	defer c.Dispose()

	assert.Equal(t, "configured", c.Name())
	assert.Equal(t, 1, c.Count())

	sub, err := c.Connect()
	require.NoError(t, err)
	next(t, sub)
	require.NoError(t, c.AddOrUpdate("b", order{"b", 2}))
	next(t, sub)

	families, err := provider.Registry().Gather()
	require.NoError(t, err)
	found := map[string]float64{}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			if m.GetCounter() != nil {
				found[mf.GetName()] += m.GetCounter().GetValue()
			} else if m.GetGauge() != nil {
				found[mf.GetName()] += m.GetGauge().GetValue()
			}
		}
	}
	assert.Equal(t, 2.0, found["livecache_writes_total"])
	assert.Equal(t, 1.0, found["livecache_subscribers"])

	_, err = cache.New[string, order](orderID, v1.WithInitialItems(cs.KeyValue[int, int]{Key: 1, Value: 1}))
	assert.Error(t, err, "initial items of the wrong type are rejected")
}

func TestWrite_RecordsSpan(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	c := newOrders(t, v1.WithTracerProvider(tracing.NewProviderWithExporter(exporter)))

	require.NoError(t, c.Edit(context.Background(), cs.AddOrUpdate("a", order{"a", 1}), cs.AddOrUpdate("b", order{"b", 1})))

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, tracing.SpanWrite, spans[0].Name)
	attrs := map[string]interface{}{}
	for _, kv := range spans[0].Attributes {
		attrs[string(kv.Key)] = kv.Value.AsInterface()
	}
	assert.Equal(t, "orders", attrs[string(tracing.AttrCacheName)])
	assert.Equal(t, int64(2), attrs[string(tracing.AttrMutationCount)])
	assert.Equal(t, int64(2), attrs[string(tracing.AttrChangeCount)])
}
