package livecache_test

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gxo-labs/livecache"
	v1 "github.com/gxo-labs/livecache/pkg/livecache/v1"
	cs "github.com/gxo-labs/livecache/pkg/livecache/v1/changeset"
)

type customer struct {
	ID   string
	Name string
}

type invoice struct {
	ID       string
	Customer string
	Total    int
}

func TestPublicAPI_JoinGroupAndList(t *testing.T) {
	customers, err := livecache.New(func(c customer) string { return c.ID }, v1.WithName("customers"))
	require.NoError(t, err)
	defer customers.Dispose()
	invoices, err := livecache.New(func(i invoice) string { return i.ID }, v1.WithName("invoices"))
	require.NoError(t, err)
	defer invoices.Dispose()

	left, err := customers.Connect()
	require.NoError(t, err)
	right, err := invoices.Connect()
	require.NoError(t, err)
	totals, err := livecache.LeftJoinMany(left, right,
		func(i invoice) string { return i.Customer },
		func(id string, c customer, g *cs.Grouping[invoice, string, string]) int {
			sum := 0
			for _, inv := range g.Values() {
				sum += inv.Total
			}
			return sum
		}, v1.WithName("customer-totals"))
	require.NoError(t, err)
	defer totals.Dispose()

	byCustomerSrc, err := invoices.Connect()
	require.NoError(t, err)
	byCustomer, err := livecache.Group(byCustomerSrc, func(i invoice) string { return i.Customer })
	require.NoError(t, err)
	defer byCustomer.Dispose()

	listSrc, err := customers.Connect()
	require.NoError(t, err)
	names, err := livecache.ToList(listSrc, livecache.ListOptions[customer]{
		Comparer: func(a, b customer) int { return strings.Compare(a.Name, b.Name) },
	})
	require.NoError(t, err)
	defer names.Close()

	require.NoError(t, customers.AddOrUpdateItems(customer{"c1", "Zed"}, customer{"c2", "Amy"}))
	require.NoError(t, invoices.AddOrUpdateItems(invoice{"i1", "c1", 10}, invoice{"i2", "c1", 5}, invoice{"i3", "c2", 7}))

	require.Eventually(t, func() bool {
		return totals.Lookup("c1").Value() == 15 && totals.Lookup("c2").Value() == 7
	}, 5*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return byCustomer.Count() == 2 }, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"i1", "i2"}, byCustomer.Lookup("c1").Value().Keys())

	select {
	case list := <-names.C():
		require.Len(t, list, 2)
		assert.Equal(t, "Amy", list[0].Name)
	case <-time.After(5 * time.Second):
		t.Fatal("no list emitted")
	}
}

func TestPublicAPI_NewFromSource(t *testing.T) {
	upstream, err := livecache.New[string, int](nil)
	require.NoError(t, err)
	require.NoError(t, upstream.AddOrUpdate("a", 1))

	src, err := upstream.Connect()
	require.NoError(t, err)
	mirror, err := livecache.NewFromSource(src)
	require.NoError(t, err)
	defer mirror.Dispose()

	require.Eventually(t, func() bool { return mirror.Lookup("a").ValueOr(0) == 1 }, 5*time.Second, 5*time.Millisecond)
	upstream.Dispose()
	sub, err := mirror.Connect()
	require.NoError(t, err)
	assert.Len(t, (<-sub.C()), 1)
}
