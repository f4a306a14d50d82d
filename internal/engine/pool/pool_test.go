package pool

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquire_RespectsCapacity(t *testing.T) {
	p := New(1, 1)

	release1, err := p.Acquire(context.Background(), []string{Standard})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = p.Acquire(ctx, []string{Standard})
	assert.Error(t, err, "a second acquire of a size-1 pool should block until the deadline")

	release1()

	release2, err := p.Acquire(context.Background(), []string{Standard})
	require.NoError(t, err)
	release2()
}

func TestAcquire_UnknownTagIsANoOp(t *testing.T) {
	p := New(1, 1)
	release, err := p.Acquire(context.Background(), []string{"not-a-real-pool"})
	require.NoError(t, err)
	release()
}

func TestAcquire_DedupsRepeatedTags(t *testing.T) {
	p := New(1, 5)
	release, err := p.Acquire(context.Background(), []string{Standard, Standard})
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = p.Acquire(ctx, []string{Standard})
	assert.Error(t, err, "standard capacity of 1 should already be held once, not twice")
}

func TestAcquire_MultiTagNeverDeadlocks(t *testing.T) {
	p := New(1, 1)
	var successes int64

	run := func(tags []string) {
		release, err := p.Acquire(context.Background(), tags)
		if err == nil {
			atomic.AddInt64(&successes, 1)
			time.Sleep(5 * time.Millisecond)
			release()
		}
	}

	done := make(chan struct{})
	go func() { run([]string{AI, Standard}); done <- struct{}{} }()
	go func() { run([]string{Standard, AI}); done <- struct{}{} }()
	<-done
	<-done

	assert.Equal(t, int64(2), atomic.LoadInt64(&successes), "both orderings must eventually succeed without deadlock")
}
