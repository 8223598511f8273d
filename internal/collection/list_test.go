package collection_test

import (
	"cmp"
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gxo-labs/livecache/internal/cache"
	"github.com/gxo-labs/livecache/internal/collection"
	cs "github.com/gxo-labs/livecache/pkg/livecache/v1/changeset"
	lcerrors "github.com/gxo-labs/livecache/pkg/livecache/v1/errors"
	"github.com/gxo-labs/livecache/pkg/livecache/v1/stream"
)

type task struct {
	ID       string
	Priority int
	Done     bool
}

func nextList(t *testing.T, s stream.Stream[[]task]) []task {
	t.Helper()
	select {
	case v, ok := <-s.C():
		require.True(t, ok, "list terminated early: %v", s.Err())
		return v
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for list")
	}
	return nil
}

func ids(tasks []task) []string {
	out := make([]string, len(tasks))
	for i, tk := range tasks {
		out[i] = tk.ID
	}
	return out
}

func TestToList_FilterAndSort(t *testing.T) {
	tasks, err := cache.New[string, task](func(tk task) string { return tk.ID })
	require.NoError(t, err)
	defer tasks.Dispose()
	require.NoError(t, tasks.AddOrUpdateItems(task{"a", 3, false}, task{"b", 1, false}, task{"c", 2, true}))

	src, err := tasks.Connect()
	require.NoError(t, err)
	open, err := collection.ToList(src, collection.Options[task]{
		Filter:   func(tk task) bool { return !tk.Done },
		Comparer: func(x, y task) int { return cmp.Compare(x.Priority, y.Priority) },
	})
	require.NoError(t, err)
	defer open.Close()

	assert.Equal(t, []string{"b", "a"}, ids(nextList(t, open)))

	require.NoError(t, tasks.AddOrUpdate("c", task{"c", 2, false}))
	assert.Equal(t, []string{"b", "c", "a"}, ids(nextList(t, open)))

	require.NoError(t, tasks.AddOrUpdate("b", task{"b", 1, true}))
	assert.Equal(t, []string{"c", "a"}, ids(nextList(t, open)))

	require.NoError(t, tasks.Remove("a"))
	got := nextList(t, open)
	assert.Equal(t, []string{"c"}, ids(got))

	got[0].ID = "mutated"
	require.NoError(t, tasks.AddOrUpdate("d", task{"d", 0, false}))
	assert.Equal(t, []string{"d", "c"}, ids(nextList(t, open)))
}

func TestToList_ArrivalOrderAndCompletion(t *testing.T) {
	tasks, err := cache.New[string, task](nil)
	require.NoError(t, err)
	src, err := tasks.Connect()
	require.NoError(t, err)
	all, err := collection.ToList(src, collection.Options[task]{})
	require.NoError(t, err)

	require.NoError(t, tasks.Edit(context.Background(), cs.AddOrUpdate("z", task{ID: "z"}), cs.AddOrUpdate("y", task{ID: "y"})))
	assert.Equal(t, []string{"z", "y"}, ids(nextList(t, all)))

	tasks.Dispose()
	select {
	case <-all.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("list did not complete")
	}
	assert.NoError(t, all.Err())
}

func TestToList_CloseStopsFold(t *testing.T) {
	tasks, err := cache.New[string, task](nil)
	require.NoError(t, err)
	defer tasks.Dispose()
	src, err := tasks.Connect()
	require.NoError(t, err)
	all, err := collection.ToList(src, collection.Options[task]{})
	require.NoError(t, err)

	all.Close()
	require.Eventually(t, func() bool { return tasks.SubscriberCount() == 0 }, 5*time.Second, 5*time.Millisecond)
}

func TestToList_FilterPanicFaults(t *testing.T) {
	tasks, err := cache.New[string, task](nil)
	require.NoError(t, err)
	defer tasks.Dispose()
	src, err := tasks.Connect()
	require.NoError(t, err)
	all, err := collection.ToList(src, collection.Options[task]{Filter: func(task) bool { panic("bad filter") }})
	require.NoError(t, err)

	require.NoError(t, tasks.AddOrUpdate("a", task{ID: "a"}))
	select {
	case <-all.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("list was not faulted")
	}
	assert.True(t, lcerrors.IsSubscriberFault(all.Err()))
}

func TestToList_DefaultInputPolicySurvivesBurst(t *testing.T) {
	tasks, err := cache.New[string, task](func(tk task) string { return tk.ID })
	require.NoError(t, err)
	defer tasks.Dispose()
	src, err := tasks.Connect()
	require.NoError(t, err)
	all, err := collection.ToList(src, collection.Options[task]{
		Comparer:   func(x, y task) int { return cmp.Compare(x.ID, y.ID) },
		BufferSize: 6000,
	})
	require.NoError(t, err)
	defer all.Close()

	for i := 0; i < 5000; i++ {
		require.NoError(t, tasks.AddOrUpdate(fmt.Sprintf("t%02d", i%50), task{ID: fmt.Sprintf("t%02d", i%50), Priority: i}))
	}

	for {
		got := nextList(t, all)
		if len(got) == 50 && got[49].Priority == 4999 {
			assert.Equal(t, "t00", got[0].ID)
			break
		}
	}
	assert.NoError(t, all.Err())
}
