package changeset_test

import (
	"testing"

	"github.com/gxo-labs/livecache/pkg/livecache/v1/changeset"
	"github.com/stretchr/testify/assert"
)

func TestChangeConstructorsCarryPrevious(t *testing.T) {
	add := changeset.NewAdd("a", 1)
	assert.Equal(t, changeset.Add, add.Reason)
	assert.False(t, add.Previous.HasValue(), "Add must not carry a previous value")

	upd := changeset.NewUpdate("a", 2, 1)
	assert.Equal(t, changeset.Update, upd.Reason)
	assert.Equal(t, 1, upd.Previous.Value())

	rem := changeset.NewRemove("a", 2)
	assert.Equal(t, 2, rem.Current, "Remove carries the removed value as Current")
	assert.Equal(t, 2, rem.Previous.Value())

	ref := changeset.NewRefresh("a", 2)
	assert.False(t, ref.Previous.HasValue(), "Refresh carries no previous value")
}

func TestChangeSetCounts(t *testing.T) {
	cs := changeset.ChangeSet[string, int]{
		changeset.NewAdd("a", 1),
		changeset.NewAdd("b", 1),
		changeset.NewUpdate("a", 2, 1),
		changeset.NewRemove("b", 1),
		changeset.NewRefresh("a", 2),
		changeset.NewMoved("a", 2),
	}
	assert.Equal(t, 6, cs.Len())
	assert.Equal(t, 2, cs.Adds())
	assert.Equal(t, 1, cs.Updates())
	assert.Equal(t, 1, cs.Removes())
	assert.Equal(t, 1, cs.Refreshes())
	assert.Equal(t, 1, cs.Moves())
}

func TestOptional(t *testing.T) {
	none := changeset.None[string]()
	assert.False(t, none.HasValue())
	assert.Equal(t, "fallback", none.ValueOr("fallback"))

	some := changeset.Some("x")
	v, ok := some.Get()
	assert.True(t, ok)
	assert.Equal(t, "x", v)
	assert.Equal(t, "x", some.ValueOr("fallback"))
}

func TestReasonString(t *testing.T) {
	assert.Equal(t, "Refresh", changeset.Refresh.String())
	assert.Equal(t, "Reason(42)", changeset.Reason(42).String())
	assert.Equal(t, "Update(k: 1 -> 2)", changeset.NewUpdate("k", 2, 1).String())
}
