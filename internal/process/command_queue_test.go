package process

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewCommandQueue(t *testing.T) {
	cq := NewCommandQueue()
	if cq == nil {
		t.Fatal("expected non-nil CommandQueue")
	}
	if size := cq.GetQueueSize(); size != 0 {
		t.Errorf("expected empty queue, got size %d", size)
	}
}

func TestEnqueue_BasicExecution(t *testing.T) {
	cq := NewCommandQueue()

	result, err := Enqueue(cq, func(ctx context.Context) (int, error) {
		return 42, nil
	}, nil)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != 42 {
		t.Errorf("expected 42, got %d", result)
	}
}

func TestEnqueue_ReturnsError(t *testing.T) {
	cq := NewCommandQueue()

	_, err := Enqueue(cq, func(ctx context.Context) (int, error) {
		return 0, context.DeadlineExceeded
	}, nil)

	if err != context.DeadlineExceeded {
		t.Errorf("expected DeadlineExceeded error, got %v", err)
	}
}

func TestOnlyOneTaskActiveAtATime(t *testing.T) {
	cq := NewCommandQueue()

	started := make(chan struct{})
	canFinish := make(chan struct{})

	go func() {
		_, _ = Enqueue(cq, func(ctx context.Context) (int, error) {
			close(started)
			<-canFinish
			return 1, nil
		}, nil)
	}()

	<-started
	if active := cq.GetActiveTasks(); active != 1 {
		t.Errorf("expected 1 active task, got %d", active)
	}

	secondStarted := make(chan struct{})
	go func() {
		_, _ = Enqueue(cq, func(ctx context.Context) (int, error) {
			close(secondStarted)
			return 2, nil
		}, nil)
	}()

	select {
	case <-secondStarted:
		t.Error("second task ran while the first was still active")
	case <-time.After(50 * time.Millisecond):
	}

	close(canFinish)

	select {
	case <-secondStarted:
	case <-time.After(time.Second):
		t.Error("second task never ran after the first finished")
	}
}

func TestFIFOOrdering(t *testing.T) {
	cq := NewCommandQueue()

	var executionOrder []int
	var mu sync.Mutex
	var wg sync.WaitGroup

	taskCount := 5
	allEnqueued := make(chan struct{})

	for i := 0; i < taskCount; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			time.Sleep(time.Duration(idx) * 10 * time.Millisecond)

			_, _ = Enqueue(cq, func(ctx context.Context) (int, error) {
				<-allEnqueued
				mu.Lock()
				executionOrder = append(executionOrder, idx)
				mu.Unlock()
				return idx, nil
			}, nil)
		}(i)
	}

	time.Sleep(100 * time.Millisecond)
	close(allEnqueued)

	wg.Wait()

	mu.Lock()
	defer mu.Unlock()

	if len(executionOrder) != taskCount {
		t.Fatalf("expected %d tasks executed, got %d", taskCount, len(executionOrder))
	}
	for i := 0; i < taskCount; i++ {
		if executionOrder[i] != i {
			t.Errorf("FIFO order violated: position %d has task %d, expected %d", i, executionOrder[i], i)
		}
	}
}

func TestWaitTimeWarningCallback(t *testing.T) {
	cq := NewCommandQueue()

	blockingStarted := make(chan struct{})
	blockingCanFinish := make(chan struct{})
	warningCalled := make(chan struct{})

	go func() {
		_, _ = Enqueue(cq, func(ctx context.Context) (int, error) {
			close(blockingStarted)
			<-blockingCanFinish
			return 1, nil
		}, nil)
	}()

	<-blockingStarted

	go func() {
		_, _ = Enqueue(cq, func(ctx context.Context) (int, error) {
			return 2, nil
		}, &EnqueueOptions{
			WarnAfterMs: 50,
			OnWait: func(waitMs int, queuedAhead int) {
				close(warningCalled)
			},
		})
	}()

	time.Sleep(100 * time.Millisecond)
	close(blockingCanFinish)

	select {
	case <-warningCalled:
	case <-time.After(500 * time.Millisecond):
		t.Error("OnWait callback was not called")
	}
}

func TestGetQueueSize(t *testing.T) {
	cq := NewCommandQueue()

	if size := cq.GetQueueSize(); size != 0 {
		t.Errorf("expected initial size 0, got %d", size)
	}

	blockingStarted := make(chan struct{})
	blockingCanFinish := make(chan struct{})

	go func() {
		_, _ = Enqueue(cq, func(ctx context.Context) (int, error) {
			close(blockingStarted)
			<-blockingCanFinish
			return 1, nil
		}, nil)
	}()

	<-blockingStarted

	for i := 0; i < 3; i++ {
		go func() {
			_, _ = Enqueue(cq, func(ctx context.Context) (int, error) {
				return 0, nil
			}, nil)
		}()
	}

	time.Sleep(50 * time.Millisecond)

	if size := cq.GetQueueSize(); size != 4 { // 1 active + 3 queued
		t.Errorf("expected size 4 (1 active + 3 queued), got %d", size)
	}

	close(blockingCanFinish)
}

func TestClear(t *testing.T) {
	cq := NewCommandQueue()

	blockingStarted := make(chan struct{})
	blockingCanFinish := make(chan struct{})

	go func() {
		_, _ = Enqueue(cq, func(ctx context.Context) (int, error) {
			close(blockingStarted)
			<-blockingCanFinish
			return 1, nil
		}, nil)
	}()

	<-blockingStarted

	errChan := make(chan error, 3)
	for i := 0; i < 3; i++ {
		go func() {
			_, err := Enqueue(cq, func(ctx context.Context) (int, error) {
				return 0, nil
			}, nil)
			errChan <- err
		}()
	}

	time.Sleep(50 * time.Millisecond)

	removed := cq.Clear()
	if removed != 3 {
		t.Errorf("expected 3 removed, got %d", removed)
	}

	if size := cq.GetQueueSize(); size != 1 {
		t.Errorf("expected size 1 (active task), got %d", size)
	}

	close(blockingCanFinish)

	for i := 0; i < 3; i++ {
		select {
		case err := <-errChan:
			if err != context.Canceled {
				t.Errorf("expected context.Canceled, got %v", err)
			}
		case <-time.After(time.Second):
			t.Error("timed out waiting for error")
		}
	}
}

func TestGetPendingTasks(t *testing.T) {
	cq := NewCommandQueue()

	started := make(chan struct{})
	canFinish := make(chan struct{})

	go func() {
		_, _ = Enqueue(cq, func(ctx context.Context) (int, error) {
			close(started)
			<-canFinish
			return 0, nil
		}, nil)
	}()

	<-started

	for i := 0; i < 3; i++ {
		go func() {
			_, _ = Enqueue(cq, func(ctx context.Context) (int, error) {
				return 0, nil
			}, nil)
		}()
	}

	time.Sleep(50 * time.Millisecond)

	if pending := cq.GetPendingTasks(); pending != 3 {
		t.Errorf("expected 3 pending tasks, got %d", pending)
	}

	close(canFinish)
}

func TestContextCancellationCutsShortAQueuedWait(t *testing.T) {
	cq := NewCommandQueue()

	blockingStarted := make(chan struct{})
	blockingCanFinish := make(chan struct{})

	go func() {
		_, _ = Enqueue(cq, func(ctx context.Context) (int, error) {
			close(blockingStarted)
			<-blockingCanFinish
			return 1, nil
		}, nil)
	}()

	<-blockingStarted

	ctx, cancel := context.WithCancel(context.Background())
	errChan := make(chan error, 1)
	go func() {
		_, err := Enqueue(cq, func(ctx context.Context) (int, error) {
			return 0, nil
		}, &EnqueueOptions{Context: ctx})
		errChan <- err
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errChan:
		if err != context.Canceled {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Error("expected context cancellation to return error")
	}

	close(blockingCanFinish)
}

func TestNilResult(t *testing.T) {
	cq := NewCommandQueue()

	result, err := Enqueue(cq, func(ctx context.Context) (*string, error) {
		return nil, nil
	}, nil)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != nil {
		t.Errorf("expected nil result, got %v", result)
	}
}

func TestEnqueue_StructResult(t *testing.T) {
	type Response struct {
		ID   int
		Name string
	}

	cq := NewCommandQueue()

	result, err := Enqueue(cq, func(ctx context.Context) (Response, error) {
		return Response{ID: 123, Name: "test"}, nil
	}, nil)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.ID != 123 || result.Name != "test" {
		t.Errorf("unexpected result: %+v", result)
	}
}

func TestDefaultWarnAfterMs(t *testing.T) {
	if DefaultWarnAfterMs != 2000 {
		t.Errorf("expected DefaultWarnAfterMs to be 2000, got %d", DefaultWarnAfterMs)
	}
}

func TestHighConcurrency_StressTest(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping stress test in short mode")
	}

	cq := NewCommandQueue()

	var completed int32
	var wg sync.WaitGroup
	taskCount := 100

	for i := 0; i < taskCount; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			result, err := Enqueue(cq, func(ctx context.Context) (int, error) {
				time.Sleep(time.Duration(idx%10) * time.Millisecond)
				return idx, nil
			}, nil)
			if err != nil {
				t.Errorf("task %d: unexpected error: %v", idx, err)
				return
			}
			if result != idx {
				t.Errorf("task %d: expected result %d, got %d", idx, idx, result)
				return
			}
			atomic.AddInt32(&completed, 1)
		}(i)
	}

	wg.Wait()

	if completed != int32(taskCount) {
		t.Errorf("expected %d completed tasks, got %d", taskCount, completed)
	}
	if size := cq.GetQueueSize(); size != 0 {
		t.Errorf("expected queue size 0, got %d", size)
	}
}
