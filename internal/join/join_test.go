package join_test

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gxo-labs/livecache/internal/cache"
	"github.com/gxo-labs/livecache/internal/config"
	"github.com/gxo-labs/livecache/internal/join"
	v1 "github.com/gxo-labs/livecache/pkg/livecache/v1"
	cs "github.com/gxo-labs/livecache/pkg/livecache/v1/changeset"
	lcerrors "github.com/gxo-labs/livecache/pkg/livecache/v1/errors"
	"github.com/gxo-labs/livecache/pkg/livecache/v1/stream"
)

type line struct {
	ID    int
	Order int
	Item  string
}

type summary struct {
	Left  string
	HasL  bool
	Items string
}

func describe(left cs.Optional[string], g *cs.Grouping[line, int, int]) summary {
	items := make([]string, 0, g.Count())
	for _, l := range g.Values() {
		items = append(items, fmt.Sprintf("%d:%s", l.ID, l.Item))
	}
	return summary{Left: left.Value(), HasL: left.HasValue(), Items: strings.Join(items, ",")}
}

type fixture struct {
	orders *cache.Cache[int, string]
	lines  *cache.Cache[int, line]
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	size := 16
	block := v1.WithSubscriberPolicy(v1.SubscriberPolicy{BufferSize: &size, OverflowStrategy: config.OverflowBlock})
	orders, err := cache.New[int, string](nil, block)
	require.NoError(t, err)
	lines, err := cache.New[int, line](func(l line) int { return l.ID }, block)
	require.NoError(t, err)
	t.Cleanup(orders.Dispose)
	t.Cleanup(lines.Dispose)
	return &fixture{orders: orders, lines: lines}
}

func (f *fixture) streams(t *testing.T) (stream.Stream[cs.ChangeSet[int, string]], stream.Stream[cs.ChangeSet[int, line]]) {
	t.Helper()
	l, err := f.orders.Connect()
	require.NoError(t, err)
	r, err := f.lines.Connect()
	require.NoError(t, err)
	return l, r
}

func lineOrder(l line) int { return l.Order }

func next[D any](t *testing.T, s stream.Stream[cs.ChangeSet[int, D]]) cs.ChangeSet[int, D] {
	t.Helper()
	select {
	case v, ok := <-s.C():
		require.True(t, ok, "stream terminated early: %v", s.Err())
		return v
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for change-set")
	}
	return nil
}

func settle[D any](t *testing.T, f *fixture, dest *cache.Cache[int, D]) map[int]D {
	t.Helper()
	// Watching an unused key observes completion without buffering results.
	done, err := dest.Watch(-1)
	require.NoError(t, err)
	f.orders.Dispose()
	f.lines.Dispose()
	select {
	case <-done.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("join did not complete after both inputs completed")
	}
	require.NoError(t, done.Err())
	out := make(map[int]D)
	for _, kv := range dest.KeyValues() {
		out[kv.Key] = kv.Value
	}
	return out
}

func TestRightJoinMany_Scenario(t *testing.T) {
	f := newFixture(t)
	l, r := f.streams(t)
	dest, err := join.RightJoinMany(l, r, lineOrder, func(k int, left cs.Optional[string], g *cs.Grouping[line, int, int]) summary {
		return describe(left, g)
	})
	require.NoError(t, err)
	defer dest.Dispose()
	out, err := dest.Connect()
	require.NoError(t, err)

	require.NoError(t, f.orders.AddOrUpdate(1, "L1"))
	require.NoError(t, f.lines.AddOrUpdateItems(line{ID: 10, Order: 1, Item: "R1"}))
	want := summary{Left: "L1", HasL: true, Items: "10:R1"}
	require.Eventually(t, func() bool { return dest.Lookup(1).Value() == want }, 5*time.Second, 5*time.Millisecond)

	require.NoError(t, f.lines.Remove(10))
	for {
		got := next(t, out)
		if got.Removes() == 0 {
			continue
		}
		require.Len(t, got, 1)
		assert.Equal(t, 1, got[0].Key)
		assert.Equal(t, want, got[0].Current)
		break
	}
	assert.Zero(t, dest.Count())
}

func TestLeftAndInnerJoinMany_RightRemoval(t *testing.T) {
	f := newFixture(t)
	l, r := f.streams(t)
	l2, err := f.orders.Connect()
	require.NoError(t, err)
	r2, err := f.lines.Connect()
	require.NoError(t, err)

	leftDest, err := join.LeftJoinMany(l, r, lineOrder, func(k int, left string, g *cs.Grouping[line, int, int]) summary {
		return describe(cs.Some(left), g)
	})
	require.NoError(t, err)
	defer leftDest.Dispose()
	innerDest, err := join.InnerJoinMany(l2, r2, lineOrder, func(k int, left string, g *cs.Grouping[line, int, int]) summary {
		return describe(cs.Some(left), g)
	})
	require.NoError(t, err)
	defer innerDest.Dispose()

	require.NoError(t, f.orders.AddOrUpdate(1, "L1"))
	require.NoError(t, f.lines.AddOrUpdateItems(line{ID: 10, Order: 1, Item: "R1"}))
	require.Eventually(t, func() bool {
		return leftDest.Lookup(1).Value().Items == "10:R1" && innerDest.Count() == 1
	}, 5*time.Second, 5*time.Millisecond)

	require.NoError(t, f.lines.Remove(10))
	require.Eventually(t, func() bool {
		v := leftDest.Lookup(1)
		return v.HasValue() && v.Value().Items == "" && innerDest.Count() == 0
	}, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, summary{Left: "L1", HasL: true}, leftDest.Lookup(1).Value())
}

func TestLeftJoin_MostRecentRightWins(t *testing.T) {
	f := newFixture(t)
	l, r := f.streams(t)
	dest, err := join.LeftJoin(l, r, lineOrder, func(k int, left string, right cs.Optional[line]) string {
		return left + "/" + right.ValueOr(line{Item: "-"}).Item
	})
	require.NoError(t, err)
	defer dest.Dispose()

	require.NoError(t, f.orders.AddOrUpdate(1, "o1"))
	require.Eventually(t, func() bool { return dest.Lookup(1).Value() == "o1/-" }, 5*time.Second, 5*time.Millisecond)

	require.NoError(t, f.lines.AddOrUpdateItems(line{ID: 10, Order: 1, Item: "a"}, line{ID: 11, Order: 1, Item: "b"}))
	require.Eventually(t, func() bool { return dest.Lookup(1).Value() == "o1/b" }, 5*time.Second, 5*time.Millisecond)

	require.NoError(t, f.lines.AddOrUpdate(10, line{ID: 10, Order: 1, Item: "c"}))
	require.Eventually(t, func() bool { return dest.Lookup(1).Value() == "o1/c" }, 5*time.Second, 5*time.Millisecond)

	require.NoError(t, f.lines.AddOrUpdate(10, line{ID: 10, Order: 2, Item: "c"}))
	require.Eventually(t, func() bool { return dest.Lookup(1).Value() == "o1/b" }, 5*time.Second, 5*time.Millisecond)
	assert.False(t, dest.Lookup(2).HasValue(), "a left join has no entry without a left value")
}

func TestRightAndFullJoin(t *testing.T) {
	f := newFixture(t)
	l, r := f.streams(t)
	l2, err := f.orders.Connect()
	require.NoError(t, err)
	r2, err := f.lines.Connect()
	require.NoError(t, err)

	right, err := join.RightJoin(l, r, lineOrder, func(k int, left cs.Optional[string], rl line) string {
		return left.ValueOr("?") + "/" + rl.Item
	})
	require.NoError(t, err)
	defer right.Dispose()
	full, err := join.FullJoin(l2, r2, lineOrder, func(k int, left cs.Optional[string], rl cs.Optional[line]) string {
		return left.ValueOr("?") + "/" + rl.ValueOr(line{Item: "?"}).Item
	})
	require.NoError(t, err)
	defer full.Dispose()

	require.NoError(t, f.orders.AddOrUpdate(1, "o1"))
	require.NoError(t, f.lines.AddOrUpdateItems(line{ID: 20, Order: 2, Item: "x"}))

	got := settle(t, f, full)
	assert.Equal(t, map[int]string{1: "o1/?", 2: "?/x"}, got)
	require.Eventually(t, func() bool {
		kvs := right.KeyValues()
		return len(kvs) == 1 && kvs[0].Key == 2 && kvs[0].Value == "?/x"
	}, 5*time.Second, 5*time.Millisecond)
}

type op struct {
	left  bool
	kind  int
	key   int
	order int
}

func history(seed int64, n int) []op {
	rnd := rand.New(rand.NewSource(seed))
	ops := make([]op, n)
	for i := range ops {
		ops[i] = op{left: rnd.Intn(2) == 0, kind: rnd.Intn(4), key: rnd.Intn(12), order: rnd.Intn(6)}
	}
	return ops
}

func replay(t *testing.T, ops []op, kind join.Kind) (map[int]summary, []int) {
	f := newFixture(t)
	l, r := f.streams(t)
	dest, err := join.Run(l, r, join.Definition[int, string, int, line, summary]{
		Kind:     kind,
		RightKey: lineOrder,
		Result: func(s join.Side[int, string, int, line]) summary {
			return describe(s.Left, s.Group)
		},
	})
	require.NoError(t, err)
	defer dest.Dispose()

	for i, o := range ops {
		switch {
		case o.left && o.kind == 0:
			require.NoError(t, f.orders.Remove(o.key%6))
		case o.left && o.kind == 1:
			require.NoError(t, f.orders.Refresh(o.key%6))
		case o.left:
			require.NoError(t, f.orders.AddOrUpdate(o.key%6, fmt.Sprintf("o%d", i)))
		case o.kind == 0:
			require.NoError(t, f.lines.Remove(o.key))
		default:
			require.NoError(t, f.lines.AddOrUpdateItems(line{ID: o.key, Order: o.order, Item: fmt.Sprintf("i%d", i)}))
		}
	}
	leftKeys := f.orders.Keys()
	sort.Ints(leftKeys)
	return settle(t, f, dest), leftKeys
}

func TestFullJoin_Deterministic(t *testing.T) {
	ops := history(7, 400)
	first, _ := replay(t, ops, join.Full)
	second, _ := replay(t, ops, join.Full)
	assert.Equal(t, first, second)
	assert.NotEmpty(t, first)
}

func TestInnerJoin_KeysAreContainedInLeft(t *testing.T) {
	for seed := int64(1); seed <= 5; seed++ {
		got, leftKeys := replay(t, history(seed, 200), join.Inner)
		for k, v := range got {
			assert.Contains(t, leftKeys, k)
			assert.True(t, v.HasL)
			assert.NotEmpty(t, v.Items)
		}
	}
}

func TestJoin_InputErrorFaultsDestination(t *testing.T) {
	f := newFixture(t)
	l, r := f.streams(t)
	dest, err := join.InnerJoin(l, r, lineOrder, func(k int, left string, rl line) string { return left + rl.Item })
	require.NoError(t, err)
	defer dest.Dispose()
	out, err := dest.Connect()
	require.NoError(t, err)

	f.lines.Fail(errors.New("line feed lost"))
	select {
	case <-out.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("join was not torn down")
	}
	assert.True(t, lcerrors.IsWriterFault(out.Err()))
	require.Eventually(t, func() bool { return f.orders.SubscriberCount() == 0 }, 5*time.Second, 5*time.Millisecond)
}

func TestJoin_DisposeClosesInputs(t *testing.T) {
	f := newFixture(t)
	l, r := f.streams(t)
	dest, err := join.FullJoinMany(l, r, lineOrder, func(k int, left cs.Optional[string], g *cs.Grouping[line, int, int]) summary {
		return describe(left, g)
	})
	require.NoError(t, err)
	require.Equal(t, 1, f.orders.SubscriberCount())

	dest.Dispose()
	require.Eventually(t, func() bool {
		return f.orders.SubscriberCount() == 0 && f.lines.SubscriberCount() == 0
	}, 5*time.Second, 5*time.Millisecond)
}

func TestJoin_Validation(t *testing.T) {
	f := newFixture(t)
	l, r := f.streams(t)
	_, err := join.InnerJoin[int, string, int, line, string](nil, r, lineOrder, func(int, string, line) string { return "" })
	assert.Error(t, err)
	_, err = join.Run(l, r, join.Definition[int, string, int, line, string]{Kind: join.Left})
	assert.Error(t, err)
	assert.Equal(t, "left", join.Left.String())
}

func TestLeftJoinMany_DefaultPolicySurvivesBurst(t *testing.T) {
	orders, err := cache.New[int, string](nil)
	require.NoError(t, err)
	defer orders.Dispose()
	lines, err := cache.New[int, line](func(l line) int { return l.ID })
	require.NoError(t, err)
	defer lines.Dispose()
	l, err := orders.Connect()
	require.NoError(t, err)
	r, err := lines.Connect()
	require.NoError(t, err)

	dest, err := join.LeftJoinMany(l, r, lineOrder, func(k int, left string, g *cs.Grouping[line, int, int]) string {
		return fmt.Sprintf("%s/%d", left, g.Count())
	})
	require.NoError(t, err)
	defer dest.Dispose()

	for i := 0; i < 5000; i++ {
		require.NoError(t, orders.AddOrUpdate(i%50, fmt.Sprintf("v%d", i)))
	}
	require.NoError(t, lines.AddOrUpdateItems(line{ID: 1, Order: 49, Item: "a"}))

	require.Eventually(t, func() bool { return dest.Lookup(49).ValueOr("") == "v4999/1" }, 10*time.Second, 5*time.Millisecond)
	assert.Equal(t, 50, dest.Count())
	sub, err := dest.Connect()
	require.NoError(t, err)
	defer sub.Close()
	assert.Len(t, next(t, sub), 50)
	assert.NoError(t, sub.Err())
}
