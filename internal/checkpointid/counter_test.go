package checkpointid

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGetCurrentStartsAtZero(t *testing.T) {
	c := New(time.Second, nil)
	assert.Equal(t, int64(0), c.GetCurrent())
}

func TestAdvanceIsMonotonic(t *testing.T) {
	c := New(time.Second, nil)
	assert.Equal(t, int64(1), c.Advance())
	assert.Equal(t, int64(2), c.Advance())
	assert.Equal(t, int64(2), c.GetCurrent())
}

func TestAdvanceConcurrentCallsNeverDuplicate(t *testing.T) {
	c := New(time.Second, nil)
	const n = 100

	seen := make(chan int64, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			seen <- c.Advance()
		}()
	}
	wg.Wait()
	close(seen)

	unique := make(map[int64]struct{}, n)
	for v := range seen {
		unique[v] = struct{}{}
	}
	assert.Len(t, unique, n, "every concurrent Advance must return a distinct value")
	assert.Equal(t, int64(n), c.GetCurrent())
}

func TestRunAdvancesOnTicker(t *testing.T) {
	c := New(5*time.Millisecond, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c.Run(ctx)
	defer c.Stop()

	assert.Eventually(t, func() bool {
		return c.GetCurrent() > 0
	}, 200*time.Millisecond, 5*time.Millisecond)
}

func TestRunTwiceWithoutStopPanics(t *testing.T) {
	c := New(time.Second, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c.Run(ctx)
	defer c.Stop()

	assert.Panics(t, func() { c.Run(ctx) })
}

func TestStopIsNoopBeforeRun(t *testing.T) {
	c := New(time.Second, nil)
	assert.NotPanics(t, c.Stop)
}

func TestNewRejectsNonPositiveInterval(t *testing.T) {
	c := New(0, nil)
	assert.NotNil(t, c)
}
