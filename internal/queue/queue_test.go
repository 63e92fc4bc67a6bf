package queue

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_FIFO(t *testing.T) {
	q := New()
	q.Submit("a")
	q.Submit("b")
	q.Submit("c")

	ctx := context.Background()
	for _, want := range []string{"a", "b", "c"} {
		got, err := q.Next(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	assert.Equal(t, 0, q.Len())
}

func TestQueue_DuplicatesAreKept(t *testing.T) {
	q := New()
	q.Submit("j1")
	q.Submit("j1")
	assert.Equal(t, 2, q.Len())
}

func TestQueue_NextBlocksUntilSubmit(t *testing.T) {
	q := New()
	got := make(chan string, 1)

	go func() {
		id, err := q.Next(context.Background())
		if err == nil {
			got <- id
		}
	}()

	select {
	case <-got:
		t.Fatal("Next returned before anything was submitted")
	case <-time.After(50 * time.Millisecond):
	}

	q.Submit("late")
	select {
	case id := <-got:
		assert.Equal(t, "late", id)
	case <-time.After(time.Second):
		t.Fatal("Next did not wake up after Submit")
	}
}

func TestQueue_NextHonorsContext(t *testing.T) {
	q := New()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.Next(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestQueue_ConcurrentProducers(t *testing.T) {
	q := New()
	const producers, perProducer = 8, 50

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.Submit(fmt.Sprintf("%d-%d", p, i))
			}
		}(p)
	}

	seen := make(map[string]bool)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for len(seen) < producers*perProducer {
		id, err := q.Next(ctx)
		require.NoError(t, err)
		seen[id] = true
	}
	wg.Wait()
	assert.Equal(t, 0, q.Len())
}
