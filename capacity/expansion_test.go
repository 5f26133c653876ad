package capacity

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/capacity-engine/generic"
)

func expansionFixture(t *testing.T) (*Cache, *ExpansionQueue) {
	t.Helper()
	cache := NewCache()
	primeCache(t, cache, []Rule{
		rule("r1", "10", "c1,c2", "t1"),
		rule("r2", "10", "c2", "t2"),
		rule("r3", "20", "c1", "t1"),
		rule("r4", "30", "c3", "t3"),
	}, responsibleQuery(), nil)
	return cache, NewExpansionQueue(cache, discardLogger(), nil)
}

func TestExpansionQueue_ExpandsAndMarksLoaded(t *testing.T) {
	// GIVEN: Responsible 10 with two rules over five weekdays
	// WHEN: Expanding the card
	// THEN: Ten day records, grouped by bucket, card agrees with summary

	cache, queue := expansionFixture(t)
	before, _ := cache.Card("10")

	exp, err := queue.Expand(context.Background(), "10")
	require.NoError(t, err)

	assert.Len(t, exp.Records, 10)
	assert.Len(t, exp.Buckets, 2)
	assert.Len(t, exp.Buckets["bucket-r1"], 5)
	assert.True(t, exp.DetailsLoaded)
	assert.Equal(t, before.Estimated, exp.Card.Estimated)

	after, _ := cache.Card("10")
	assert.True(t, after.DetailsLoaded)
	assert.Equal(t, before.Estimated, after.Estimated)
}

func TestExpansionQueue_CachedExpansionReturnedAsIs(t *testing.T) {
	_, queue := expansionFixture(t)

	first, err := queue.Expand(context.Background(), "10")
	require.NoError(t, err)
	second, err := queue.Expand(context.Background(), "10")
	require.NoError(t, err)

	assert.Same(t, first, second)
}

func TestExpansionQueue_UnknownCard(t *testing.T) {
	_, queue := expansionFixture(t)

	_, err := queue.Expand(context.Background(), "404")
	assert.ErrorIs(t, err, generic.ErrEntityNotFound)
}

func TestExpansionQueue_CoalescesQueuedRequests(t *testing.T) {
	// GIVEN: A pass blocked on its first card
	// WHEN: Three more requests arrive (one duplicate) while it runs
	// THEN: They are handled together in exactly one more pass

	cache, queue := expansionFixture(t)

	release := make(chan struct{})
	var (
		mu     sync.Mutex
		passes [][]string
	)
	first := true
	queue.passDone = func(ids []string) {
		mu.Lock()
		passes = append(passes, ids)
		mu.Unlock()
		if first {
			first = false
			<-release
		}
	}

	var wg sync.WaitGroup
	expand := func(id string) {
		defer wg.Done()
		_, err := queue.Expand(context.Background(), id)
		assert.NoError(t, err)
	}

	wg.Add(1)
	go expand("10")
	require.Eventually(t, func() bool {
		_, ok := cache.Expansion("10")
		return ok
	}, time.Second, 5*time.Millisecond)

	wg.Add(3)
	go expand("20")
	go expand("30")
	go expand("20")
	require.Eventually(t, func() bool {
		queue.mu.Lock()
		defer queue.mu.Unlock()
		return len(queue.waiters["20"]) == 2 && len(queue.waiters["30"]) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, queue.Pending())

	close(release)
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, passes, 2)
	assert.Equal(t, []string{"10"}, passes[0])
	assert.ElementsMatch(t, []string{"20", "30"}, passes[1])
}

func TestExpansionQueue_InvalidatedDuringPassFails(t *testing.T) {
	cache, queue := expansionFixture(t)
	cache.Invalidate()

	_, err := queue.Expand(context.Background(), "10")
	assert.ErrorIs(t, err, generic.ErrEntityNotFound)
}
