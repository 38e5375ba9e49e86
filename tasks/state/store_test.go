package state

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/zonit/eventmessage/clock"
)

type fileUpload struct{ Name string }

func newTestStore(t *testing.T) (*Store, *clock.Fake) {
	t.Helper()
	fc := clock.NewFake(time.Unix(0, 0))
	s := New(fc, zerolog.Nop(), DefaultOptions())
	return s, fc
}

func TestStore_CreateNotifiesGlobal(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t)
	var got TaskState
	done := make(chan struct{})
	sub := s.OnChange(func(st TaskState) {
		got = st
		close(done)
	})
	defer sub.Cancel()

	s.Create("t1", "upload", "", fileUpload{Name: "a"})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("no notification")
	}
	require.Equal(t, "t1", got.TaskID)
	require.Equal(t, Pending, got.Status)
}

func TestStore_ExtensionFilterOnlySeesMatchingTasks(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t)
	var mu sync.Mutex
	var seenX, seenAll int

	subX := s.OnChangeExtension("X", func(TaskState) {
		mu.Lock()
		seenX++
		mu.Unlock()
	})
	defer subX.Cancel()
	subAll := s.OnChange(func(TaskState) {
		mu.Lock()
		seenAll++
		mu.Unlock()
	})
	defer subAll.Cancel()

	for i := 0; i < 5; i++ {
		ext := ""
		if i < 3 {
			ext = "X"
		}
		s.Create("t"+string(rune('a'+i)), "upload", ext, nil)
	}

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 3, seenX)
	require.Equal(t, 5, seenAll)
}

func TestStore_TypedObserverIgnoresMismatchedPayload(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t)
	var mu sync.Mutex
	var seen []fileUpload

	sub := OnChangeType[fileUpload](s, func(_ TaskState, data fileUpload) {
		mu.Lock()
		seen = append(seen, data)
		mu.Unlock()
	})
	defer sub.Cancel()

	s.Create("t1", typeKeyOf[fileUpload](), "", fileUpload{Name: "a"})
	s.Create("t2", typeKeyOf[fileUpload](), "", "not-a-file-upload")

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 1)
	require.Equal(t, "a", seen[0].Name)
}

func TestStore_UpdateProgressSkipsNotifyWhenUnchanged(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t)
	s.Create("t1", "upload", "", nil)

	var mu sync.Mutex
	count := 0
	sub := s.OnChange(func(TaskState) {
		mu.Lock()
		count++
		mu.Unlock()
	})
	defer sub.Cancel()

	s.UpdateProgress("t1", 10, nil, nil)
	s.UpdateProgress("t1", 10, nil, nil) // unchanged, no notify
	s.UpdateProgress("t1", 20, nil, nil)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 2, count)
}

func TestStore_GetActiveTasksExcludesTerminal(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t)
	s.Create("t1", "upload", "", nil)
	s.Create("t2", "upload", "", nil)
	s.StartTask("t1", nil)
	s.CompleteTask("t2")

	active := s.GetActiveTasks("")
	require.Len(t, active, 1)
	require.Equal(t, "t1", active[0].TaskID)
}

func TestStore_CompleteTaskSetsCurrentStepEqualToTotalSteps(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t)
	s.Create("t1", "upload", "", nil)

	n := 3
	s.StartTask("t1", &n)
	s.CompleteTask("t1")

	st, ok := s.GetTaskState("t1")
	require.True(t, ok)
	require.NotNil(t, st.TotalSteps)
	require.NotNil(t, st.CurrentStep)
	require.Equal(t, 3, *st.TotalSteps)
	require.Equal(t, 3, *st.CurrentStep)
}

func TestStore_CompleteTaskWithoutPlanLeavesStepsNil(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t)
	s.Create("t1", "upload", "", nil)

	s.StartTask("t1", nil)
	s.CompleteTask("t1")

	st, ok := s.GetTaskState("t1")
	require.True(t, ok)
	require.Nil(t, st.TotalSteps)
	require.Nil(t, st.CurrentStep)
}

func TestStore_GCRemovesOldTerminalEntries(t *testing.T) {
	t.Parallel()

	fc := clock.NewFake(time.Unix(0, 0))
	s := New(fc, zerolog.Nop(), Options{Retention: time.Minute, GCInterval: time.Second})
	s.Create("t1", "upload", "", nil)
	s.CompleteTask("t1")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Close()

	fc.Advance(2 * time.Minute)
	time.Sleep(50 * time.Millisecond) // let the GC goroutine observe the ticker fire

	_, ok := s.GetTaskState("t1")
	require.False(t, ok)
}
