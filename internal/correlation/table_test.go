package correlation_test

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zdex/evcpms/internal/correlation"
)

func TestIssueIsMonotonicPerStation(t *testing.T) {
	t.Parallel()

	tbl := correlation.New()

	assert.Equal(t, 1, tbl.Issue("CP-1", "s-a"))
	assert.Equal(t, 2, tbl.Issue("CP-1", "s-b"))
	assert.Equal(t, 1, tbl.Issue("CP-2", "s-c"))

	tbl.Release("CP-1", 1)
	assert.Equal(t, 3, tbl.Issue("CP-1", "s-d"))

	id, ok := tbl.Lookup("CP-1", 2)
	require.True(t, ok)
	assert.Equal(t, "s-b", id)

	_, ok = tbl.Lookup("CP-1", 1)
	assert.False(t, ok)
	_, ok = tbl.Lookup("CP-9", 1)
	assert.False(t, ok)
}

func TestReleaseRemovesEntry(t *testing.T) {
	t.Parallel()

	tbl := correlation.New()
	tx := tbl.Issue("CP-1", "s-a")
	require.Equal(t, 1, tbl.Live("CP-1"))

	tbl.Release("CP-1", tx)
	assert.Equal(t, 0, tbl.Live("CP-1"))
}

func TestBindKeys(t *testing.T) {
	t.Parallel()

	tbl := correlation.New()

	assert.True(t, tbl.Bind("CP-1", "tx-abc", "s-a"))
	assert.True(t, tbl.Bind("CP-1", "tx-abc", "s-a"))
	assert.False(t, tbl.Bind("CP-1", "tx-abc", "s-b"))
	assert.True(t, tbl.Bind("CP-2", "tx-abc", "s-b"))

	id, ok := tbl.LookupKey("CP-1", "tx-abc")
	require.True(t, ok)
	assert.Equal(t, "s-a", id)

	_, key, ok := tbl.TransactionFor("CP-1", "s-a")
	require.True(t, ok)
	assert.Equal(t, "tx-abc", key)

	tbl.ReleaseKey("CP-1", "tx-abc")
	_, ok = tbl.LookupKey("CP-1", "tx-abc")
	assert.False(t, ok)
}

func TestConcurrentIssueYieldsUniqueIDs(t *testing.T) {
	t.Parallel()

	tbl := correlation.New()
	const n = 200

	var wg sync.WaitGroup
	ids := make([]int, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids[i] = tbl.Issue("CP-1", fmt.Sprintf("s-%d", i))
		}(i)
	}
	wg.Wait()

	seen := make(map[int]bool, n)
	for _, id := range ids {
		assert.False(t, seen[id], "duplicate id %d", id)
		seen[id] = true
	}
	assert.Equal(t, n, tbl.Live("CP-1"))
}
