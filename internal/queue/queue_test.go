package queue

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestQueue_FIFOOrder(t *testing.T) {
	t.Parallel()

	q := New[int]()
	for i := 0; i < 5; i++ {
		q.Push(i)
	}

	done := make(chan struct{})
	for i := 0; i < 5; i++ {
		v, ok := q.Pop(done)
		require.True(t, ok)
		require.Equal(t, i, v)
	}
}

func TestQueue_PopBlocksUntilPush(t *testing.T) {
	t.Parallel()

	q := New[string]()
	done := make(chan struct{})

	resultCh := make(chan string, 1)
	go func() {
		v, ok := q.Pop(done)
		require.True(t, ok)
		resultCh <- v
	}()

	select {
	case <-resultCh:
		t.Fatalf("Pop returned before Push")
	case <-time.After(50 * time.Millisecond):
	}

	q.Push("hello")

	select {
	case v := <-resultCh:
		require.Equal(t, "hello", v)
	case <-time.After(time.Second):
		t.Fatalf("Pop did not return after Push")
	}
}

func TestQueue_ConcurrentConsumersAllWake(t *testing.T) {
	t.Parallel()

	q := New[int]()
	const n = 8
	done := make(chan struct{})

	var wg sync.WaitGroup
	results := make(chan int, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, ok := q.Pop(done)
			if ok {
				results <- v
			}
		}()
	}

	// give goroutines a moment to park in Pop
	time.Sleep(20 * time.Millisecond)
	for i := 0; i < n; i++ {
		q.Push(i)
	}

	wg.Wait()
	close(results)

	seen := make(map[int]bool)
	for v := range results {
		seen[v] = true
	}
	require.Len(t, seen, n)
}

func TestQueue_DoneUnblocksPop(t *testing.T) {
	t.Parallel()

	q := New[int]()
	done := make(chan struct{})
	close(done)

	_, ok := q.Pop(done)
	require.False(t, ok)
}

func TestQueue_CloseDrainsBufferedThenStops(t *testing.T) {
	t.Parallel()

	q := New[int]()
	q.Push(1)
	q.Push(2)
	q.Close()

	done := make(chan struct{})
	v, ok := q.Pop(done)
	require.True(t, ok)
	require.Equal(t, 1, v)

	v, ok = q.Pop(done)
	require.True(t, ok)
	require.Equal(t, 2, v)

	_, ok = q.Pop(done)
	require.False(t, ok)
}

func TestQueue_PushAfterCloseIsNoop(t *testing.T) {
	t.Parallel()

	q := New[int]()
	q.Close()
	q.Push(1)
	require.Equal(t, 0, q.Len())
}
