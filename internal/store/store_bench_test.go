package store

import (
	"fmt"
	"testing"

	"github.com/gxo-labs/livecache/internal/config"
	"github.com/gxo-labs/livecache/pkg/livecache/v1/changeset"
)

// benchmarkResult keeps the compiler from optimizing away benchmarked calls.
var benchmarkResult interface{}

func createNestedMap(depth, width int) map[string]interface{} {
	if depth <= 0 {
		return map[string]interface{}{"leaf_key": "leaf_value"}
	}
	m := make(map[string]interface{}, width)
	for i := 0; i < width; i++ {
		m[fmt.Sprintf("key_d%d_w%d", depth, i)] = createNestedMap(depth-1, width)
	}
	return m
}

var largeNestedMap = createNestedMap(3, 8)

// BenchmarkLookup_UnsafeDirectReference is the baseline: no copying on read.
func BenchmarkLookup_UnsafeDirectReference(b *testing.B) {
	rw := New(Options[string, map[string]interface{}]{AccessMode: config.StateAccessUnsafeDirectReference})
	_, _ = rw.Write([]changeset.Mutation[string, map[string]interface{}]{changeset.AddOrUpdate("k", largeNestedMap)})

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		benchmarkResult = rw.Lookup("k")
	}
}

// BenchmarkLookup_DeepCopy measures the default, clone-on-read access mode.
func BenchmarkLookup_DeepCopy(b *testing.B) {
	rw := New(Options[string, map[string]interface{}]{})
	_, _ = rw.Write([]changeset.Mutation[string, map[string]interface{}]{changeset.AddOrUpdate("k", largeNestedMap)})

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		benchmarkResult = rw.Lookup("k")
	}
}

// BenchmarkWrite_Churn measures a mixed add/remove workload, which exercises
// arena compaction.
func BenchmarkWrite_Churn(b *testing.B) {
	rw := New(Options[int, int]{AccessMode: config.StateAccessUnsafeDirectReference})
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		benchmarkResult, _ = rw.Write([]changeset.Mutation[int, int]{
			changeset.AddOrUpdate(i, i),
			changeset.RemoveKey[int, int](i - 64),
		})
	}
}

func TestArenaCompactionKeepsOrder(t *testing.T) {
	a := newArena[int, string](0)
	for i := 0; i < 10; i++ {
		a.set(i, fmt.Sprint(i))
	}
	for i := 0; i < 8; i++ {
		a.remove(i)
	}
	a.set(3, "3")
	a.set(8, "eight")

	var keys []int
	a.each(func(k int, _ string) bool {
		keys = append(keys, k)
		return true
	})
	if fmt.Sprint(keys) != "[8 9 3]" {
		t.Fatalf("unexpected order after compaction: %v", keys)
	}
	if v, _ := a.get(8); v != "eight" {
		t.Fatalf("update lost after compaction: %q", v)
	}
	if a.len() != 3 || len(a.slots) > 5 {
		t.Fatalf("expected compacted arena, got len=%d slots=%d", a.len(), len(a.slots))
	}
}
