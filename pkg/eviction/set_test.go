package eviction_test

import (
	"sort"
	"testing"

	"github.com/buildbarn/bb-dispatch/pkg/eviction"
	"github.com/buildbarn/bb-dispatch/pkg/testutil"
	"github.com/stretchr/testify/require"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func drain(t *testing.T, set eviction.Set[string], n int) []string {
	var removed []string
	for i := 0; i < n; i++ {
		// Peeking should not alter the set.
		value := set.Peek()
		require.Equal(t, value, set.Peek())
		removed = append(removed, value)
		set.Remove()
	}
	return removed
}

func TestLRUSet(t *testing.T) {
	set := eviction.NewLRUSet[string]()
	for _, s := range []string{"storage-1", "storage-2", "storage-3", "storage-4"} {
		set.Insert(s)
	}
	set.Touch("storage-2")
	set.Touch("storage-1")

	require.Equal(t, []string{"storage-3", "storage-4", "storage-2", "storage-1"}, drain(t, set, 4))

	t.Run("DoubleInsert", func(t *testing.T) {
		set.Insert("storage-1")
		require.Panics(t, func() { set.Insert("storage-1") })
	})
}

func TestFIFOSet(t *testing.T) {
	set := eviction.NewFIFOSet[string]()
	for _, s := range []string{"storage-1", "storage-2", "storage-3"} {
		set.Insert(s)
	}
	set.Touch("storage-1")

	require.Equal(t, []string{"storage-1", "storage-2", "storage-3"}, drain(t, set, 3))
}

func TestRRSet(t *testing.T) {
	set := eviction.NewRRSet[string]()
	values := []string{"storage-1", "storage-2", "storage-3", "storage-4", "storage-5"}
	for _, s := range values {
		set.Insert(s)
	}
	set.Touch("storage-3")

	removed := drain(t, set, len(values))
	sort.Strings(removed)
	require.Equal(t, values, removed)
}

func TestMetricsSet(t *testing.T) {
	set := eviction.NewMetricsSet(eviction.NewFIFOSet[string](), "Test")
	set.Insert("storage-1")
	set.Insert("storage-2")
	require.Equal(t, []string{"storage-1", "storage-2"}, drain(t, set, 2))
}

func TestNewSet(t *testing.T) {
	for name, policy := range map[string]eviction.CacheReplacementPolicy{
		"":                    eviction.LeastRecentlyUsed,
		"LEAST_RECENTLY_USED": eviction.LeastRecentlyUsed,
		"FIRST_IN_FIRST_OUT":  eviction.FirstInFirstOut,
		"RANDOM_REPLACEMENT":  eviction.RandomReplacement,
	} {
		parsed, err := eviction.NewCacheReplacementPolicyFromConfiguration(name)
		require.NoError(t, err)
		require.Equal(t, policy, parsed)

		set := eviction.NewSet[string](parsed)
		set.Insert("storage-1")
		require.Equal(t, "storage-1", set.Peek())
	}

	_, err := eviction.NewCacheReplacementPolicyFromConfiguration("MOST_RECENTLY_USED")
	testutil.RequireEqualStatus(t, status.Error(codes.InvalidArgument, "Unknown cache replacement policy \"MOST_RECENTLY_USED\""), err)
}
