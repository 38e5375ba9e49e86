package tasks

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/zonit/eventmessage/clock"
	"github.com/zonit/eventmessage/metrics"
	"github.com/zonit/eventmessage/tasks/state"
)

type ResizeImage struct{ Path string }

func newTestEngine() *Engine {
	return New(clock.System{}, zerolog.Nop(), metrics.NoopProvider{}, state.DefaultOptions())
}

func TestPublish_HappyPathCompletes(t *testing.T) {
	t.Parallel()

	e := newTestEngine()
	invoked := make(chan string, 1)

	_, err := Subscribe[ResizeImage](e, func(_ context.Context, p Payload[ResizeImage]) error {
		invoked <- p.TaskID
		return nil
	}, WithWorkerCount(1), WithTimeout(time.Second))
	require.NoError(t, err)

	e.Start(context.Background())
	defer e.Close()

	taskID := Publish(e, ResizeImage{Path: "a.png"}, "")

	select {
	case got := <-invoked:
		require.Equal(t, taskID, got)
	case <-time.After(time.Second):
		t.Fatal("handler never invoked")
	}

	require.Eventually(t, func() bool {
		st, ok := e.GetTaskState(taskID)
		return ok && st.Status == state.Completed && st.Progress != nil && *st.Progress == 100
	}, time.Second, 10*time.Millisecond)
}

func TestPublish_RetryThenSucceed(t *testing.T) {
	t.Parallel()

	e := newTestEngine()
	var attempts atomic.Int64

	_, err := Subscribe[ResizeImage](e, func(_ context.Context, _ Payload[ResizeImage]) error {
		n := attempts.Add(1)
		if n < 3 {
			return errors.New("transient failure")
		}
		return nil
	}, WithWorkerCount(1), WithTimeout(time.Second), WithMaxRetries(3), WithRetryDelay(5*time.Millisecond))
	require.NoError(t, err)

	e.Start(context.Background())
	defer e.Close()

	taskID := Publish(e, ResizeImage{Path: "a.png"}, "")

	require.Eventually(t, func() bool {
		st, ok := e.GetTaskState(taskID)
		return ok && st.Status == state.Completed
	}, 2*time.Second, 10*time.Millisecond)

	require.EqualValues(t, 3, attempts.Load())
}

func TestPublish_TimeoutExhaustsRetriesThenFails(t *testing.T) {
	t.Parallel()

	e := newTestEngine()

	_, err := Subscribe[ResizeImage](e, func(ctx context.Context, _ Payload[ResizeImage]) error {
		<-ctx.Done()
		return ctx.Err()
	}, WithWorkerCount(1), WithTimeout(20*time.Millisecond), WithMaxRetries(0))
	require.NoError(t, err)

	e.Start(context.Background())
	defer e.Close()

	taskID := Publish(e, ResizeImage{Path: "a.png"}, "")

	require.Eventually(t, func() bool {
		st, ok := e.GetTaskState(taskID)
		return ok && st.Status == state.Failed
	}, time.Second, 10*time.Millisecond)
}

// TestEngineClose_ShutdownNeverMisreportsAsFailed reproduces the
// multi-subscription shutdown race: Close must close every
// subscription's done channel before cancelling the shared context, or
// a subscription whose turn in Close's teardown loop comes later could
// observe its context already cancelled while its own done channel is
// still open, misclassifying the shutdown as a retryable failure and
// (with MaxRetries exhausted) ending the task Failed instead of
// Cancelled.
func TestEngineClose_ShutdownNeverMisreportsAsFailed(t *testing.T) {
	t.Parallel()

	e := newTestEngine()
	blockingHandler := func(ctx context.Context, _ Payload[ResizeImage]) error {
		<-ctx.Done()
		return ctx.Err()
	}

	ids := make([]string, 0, 3)
	for _, key := range []string{"a", "b", "c"} {
		_, err := SubscribeKey[ResizeImage](e, key, Handler[ResizeImage](blockingHandler),
			WithWorkerCount(1), WithTimeout(time.Minute), WithMaxRetries(0))
		require.NoError(t, err)
	}

	e.Start(context.Background())

	for _, key := range []string{"a", "b", "c"} {
		ids = append(ids, PublishKey(e, key, ResizeImage{Path: key}, ""))
	}

	// Give each worker time to pick up its task and block on ctx.Done()
	// before shutdown begins.
	require.Eventually(t, func() bool {
		for _, id := range ids {
			st, ok := e.GetTaskState(id)
			if !ok || st.Status != state.Processing {
				return false
			}
		}
		return true
	}, time.Second, 5*time.Millisecond)

	e.Close()

	for _, id := range ids {
		st, ok := e.GetTaskState(id)
		require.True(t, ok)
		require.Equal(t, state.Cancelled, st.Status)
	}
}

func TestPublish_SmoothProgressReachesCompletion(t *testing.T) {
	t.Parallel()

	e := newTestEngine()
	var mu sync.Mutex
	var percents []int
	done := make(chan struct{})

	_, err := Subscribe[ResizeImage](e, func(_ context.Context, p Payload[ResizeImage]) error {
		p.Progress.Next(nil)
		time.Sleep(30 * time.Millisecond)
		p.Progress.Next(nil)
		time.Sleep(30 * time.Millisecond)
		close(done)
		return nil
	}, WithWorkerCount(1), WithTimeout(time.Second),
		WithProgressSteps(
			ProgressStep{EstimatedDuration: 30 * time.Millisecond, Message: "a"},
			ProgressStep{EstimatedDuration: 30 * time.Millisecond, Message: "b"},
		))
	require.NoError(t, err)

	extSub := e.Store().OnChange(func(st state.TaskState) {
		if st.Progress == nil {
			return
		}
		mu.Lock()
		percents = append(percents, *st.Progress)
		mu.Unlock()
	})
	defer extSub.Cancel()

	e.Start(context.Background())
	defer e.Close()

	taskID := Publish(e, ResizeImage{Path: "a.png"}, "")
	<-done

	require.Eventually(t, func() bool {
		st, ok := e.GetTaskState(taskID)
		return ok && st.Status == state.Completed && st.Progress != nil && *st.Progress == 100
	}, time.Second, 10*time.Millisecond)

	finalState, ok := e.GetTaskState(taskID)
	require.True(t, ok)
	require.NotNil(t, finalState.TotalSteps)
	require.NotNil(t, finalState.CurrentStep)
	require.Equal(t, *finalState.TotalSteps, *finalState.CurrentStep)
	require.Equal(t, 2, *finalState.TotalSteps)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, percents)
	for i := 1; i < len(percents); i++ {
		require.GreaterOrEqual(t, percents[i], percents[i-1])
	}
	require.Equal(t, 100, percents[len(percents)-1])
}

func TestPublish_TypeMismatchDroppedNotDelivered(t *testing.T) {
	t.Parallel()

	e := newTestEngine()
	invoked := make(chan struct{}, 1)

	_, err := Subscribe[ResizeImage](e, func(context.Context, Payload[ResizeImage]) error {
		invoked <- struct{}{}
		return nil
	}, WithWorkerCount(1), WithTimeout(time.Second))
	require.NoError(t, err)

	e.Start(context.Background())
	defer e.Close()

	PublishKey(e, typeKeyOf[ResizeImage](), "not-a-resize-image", "")

	select {
	case <-invoked:
		t.Fatal("handler should not run for a mismatched payload")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestGetActiveTasks_ExcludesTerminal(t *testing.T) {
	t.Parallel()

	e := newTestEngine()
	blockUntil := make(chan struct{})

	_, err := Subscribe[ResizeImage](e, func(_ context.Context, _ Payload[ResizeImage]) error {
		<-blockUntil
		return nil
	}, WithWorkerCount(2), WithTimeout(time.Second))
	require.NoError(t, err)

	e.Start(context.Background())
	defer e.Close()

	Publish(e, ResizeImage{Path: "a.png"}, "")

	require.Eventually(t, func() bool {
		return len(e.GetActiveTasks("")) == 1
	}, time.Second, 10*time.Millisecond)

	close(blockUntil)

	require.Eventually(t, func() bool {
		return len(e.GetActiveTasks("")) == 0
	}, time.Second, 10*time.Millisecond)
}
